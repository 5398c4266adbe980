// Package weekly compacts an asset's version history into "weekly lines":
// one narrative line per ISO week that saw a version change in the trailing
// lookback window.
package weekly

import (
	"fmt"
	"sort"
	"time"

	"github.com/SatoriAU/site-audit/satori"
	"github.com/SatoriAU/site-audit/satori/ledger"
	"github.com/SatoriAU/site-audit/satori/version"
)

const (
	LookbackDays    = 35
	DefaultMaxLines = 5
)

// Line is one rendered week.
type Line struct {
	WeekStart time.Time
	Version   string
	Delta     string
	Observed  time.Time
}

// String renders e.g. "Wk of 15 Jan: v1.2.4 (+1) (20/01)".
func (l Line) String() string {
	return fmt.Sprintf("Wk of %s: %s%s (%s)",
		l.WeekStart.Format("02 Jan"),
		version.Normalize(l.Version),
		l.Delta,
		l.Observed.Format("02/01"))
}

type change struct {
	date    time.Time
	version string
	prev    string
	hasPrev bool
}

// Compactor turns ledger history into weekly lines relative to its clock.
type Compactor struct {
	clock satori.Clock
	loc   *time.Location
}

// NewCompactor returns a Compactor; "today" is the clock's date in loc.
func NewCompactor(clock satori.Clock, loc *time.Location) *Compactor {
	if clock == nil {
		clock = satori.SystemClock{}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Compactor{clock: clock, loc: loc}
}

// Compact returns up to max lines, most recent week first. It returns nil
// when fewer than two distinct weeks changed inside the lookback window.
func (c *Compactor) Compact(history []ledger.Point, max int) []Line {
	if max <= 0 {
		max = DefaultMaxLines
	}

	var changes []change
	for _, p := range history {
		n := len(changes)
		if n == 0 {
			changes = append(changes, change{date: p.Date, version: p.Version})
			continue
		}
		if last := changes[n-1].version; p.Version != last {
			changes = append(changes, change{date: p.Date, version: p.Version, prev: last, hasPrev: true})
		}
	}
	if len(changes) == 0 {
		return nil
	}

	now := c.clock.Now().In(c.loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	since := today.AddDate(0, 0, -LookbackDays)

	byWeek := make(map[time.Time]change)
	for _, ch := range changes {
		if ch.date.Before(since) {
			continue
		}
		ws := ledger.WeekStart(ch.date)
		if cur, ok := byWeek[ws]; !ok || cur.date.Before(ch.date) {
			byWeek[ws] = ch
		}
	}
	if len(byWeek) < 2 {
		return nil
	}

	weeks := make([]time.Time, 0, len(byWeek))
	for ws := range byWeek {
		weeks = append(weeks, ws)
	}
	sort.Slice(weeks, func(i, j int) bool { return weeks[i].After(weeks[j]) })

	lines := make([]Line, 0, max)
	for _, ws := range weeks {
		ch := byWeek[ws]
		delta := ""
		if ch.hasPrev {
			delta = version.DeltaLabel(ch.prev, ch.version)
		}
		lines = append(lines, Line{WeekStart: ws, Version: ch.version, Delta: delta, Observed: ch.date})
		if len(lines) >= max {
			break
		}
	}
	return lines
}

// Lines is Compact rendered to strings.
func (c *Compactor) Lines(history []ledger.Point, max int) []string {
	compact := c.Compact(history, max)
	if len(compact) == 0 {
		return nil
	}
	out := make([]string, len(compact))
	for i, l := range compact {
		out[i] = l.String()
	}
	return out
}

// ForAsset reads the asset's history from log and renders its lines.
func (c *Compactor) ForAsset(log *ledger.AssetLog, cat ledger.Category, slug string, max int) []string {
	return c.Lines(log.HistoryFor(cat, slug), max)
}
