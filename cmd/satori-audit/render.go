package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/SatoriAU/site-audit/satori"
	"github.com/SatoriAU/site-audit/satori/report"
	"github.com/SatoriAU/site-audit/satori/scoring"
)

const (
	colorPrimary = lipgloss.Color("#7C3AED")
	colorMuted   = lipgloss.Color("#6B7280")
	colorSuccess = lipgloss.Color("#10B981")
	colorError   = lipgloss.Color("#EF4444")
	colorWarning = lipgloss.Color("#F59E0B")
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(colorPrimary)
	labelStyle = lipgloss.NewStyle().Foreground(colorMuted).Width(14)
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorPrimary).
			Padding(0, 1)
)

// scoreStyle colours a sub-score: green from 8, amber from 5, red below.
func scoreStyle(n, max int) lipgloss.Style {
	s := lipgloss.NewStyle().Bold(true)
	switch {
	case n*10 >= max*8:
		return s.Foreground(colorSuccess)
	case n*10 >= max*5:
		return s.Foreground(colorWarning)
	default:
		return s.Foreground(colorError)
	}
}

func scoreRow(label string, n, max int) string {
	return lipgloss.JoinHorizontal(lipgloss.Top,
		labelStyle.Render(label),
		scoreStyle(n, max).Render(fmt.Sprintf("%d/%d", n, max)),
	)
}

// renderScores draws the score summary box.
func renderScores(r *report.Report) string {
	s := r.Scores
	rows := []string{
		titleStyle.Render(r.ServiceDetails.SiteName + " – " + r.ServiceDetails.ServiceDate),
		scoreRow("Security", s.Security, scoring.MaxSubScore),
		scoreRow("Optimization", s.Optimization, scoring.MaxSubScore),
		scoreRow("Speed", s.Speed, scoring.MaxSubScore),
		scoreRow("Stability", s.Stability, scoring.MaxSubScore),
		scoreRow("Total", s.Total, scoring.MaxTotal),
	}
	if n := len(r.Bottlenecks); n > 0 {
		high := 0
		for _, b := range r.Bottlenecks {
			if b.Severity == satori.SeverityHigh {
				high++
			}
		}
		rows = append(rows, labelStyle.Render("Bottlenecks")+fmt.Sprintf("%d (%d high)", n, high))
	}
	return boxStyle.Render(strings.Join(rows, "\n"))
}

// renderMarkdown formats markdown for the terminal, falling back to the raw
// text when no renderer can be built.
func renderMarkdown(md string, width int) string {
	opts := []glamour.TermRendererOption{glamour.WithAutoStyle()}
	if width > 0 {
		opts = append(opts, glamour.WithWordWrap(width))
	}
	r, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return out
}
