// Package scoring maps snapshot facts and detected issues onto four bounded
// sub-scores.
package scoring

import (
	"strings"

	"github.com/SatoriAU/site-audit/satori"
)

const (
	MaxSubScore = 10
	MaxTotal    = 4 * MaxSubScore
)

// Score computes the ScoreSet. Each sub-score is clamped to [0,10]; the
// total is their sum.
func Score(s satori.SiteSnapshot, issues []satori.BottleneckIssue) satori.ScoreSet {
	set := satori.ScoreSet{
		Security:     clamp(security(s)),
		Optimization: clamp(optimization(s.Cache)),
		Speed:        clamp(speed(s)),
		Stability:    clamp(stability(s.Updates, issues)),
	}
	set.Total = set.Security + set.Optimization + set.Speed + set.Stability
	return set
}

func security(s satori.SiteSnapshot) int {
	pts := 2 // baseline
	switch {
	case s.AdminCount <= 3:
		pts += 2
	case s.AdminCount <= 5:
		pts++
	}
	if s.FileEditDisallowed {
		pts += 2
	}
	if !s.RemoteEndpointEnabled {
		pts += 2
	}
	return pts
}

func optimization(c satori.CacheLayer) int {
	pts := 0
	if c.Active {
		pts += 2
	}
	if c.ObjectCache {
		pts += 2
	}
	if c.CSSMinify {
		pts++
	}
	if c.JSMinify {
		pts++
	}
	if c.CriticalCSS {
		pts += 2
	}
	if c.JSDefer || c.JSDelay {
		pts += 2
	}
	return pts
}

func speed(s satori.SiteSnapshot) int {
	pts := 0
	switch status := strings.TrimSpace(s.CacheStatus); {
	case status == "hit":
		pts += 4
	case status != "":
		pts += 2
	}
	if s.Cache.WebP {
		pts += 2
	}
	if s.Cache.ImageOptimize {
		pts += 2
	}
	if s.Cache.CriticalCSS {
		pts += 2
	}
	return pts
}

func stability(u satori.PendingUpdates, issues []satori.BottleneckIssue) int {
	pts := MaxSubScore
	if u.Extensions > 0 {
		pts -= 2
	}
	if u.Themes > 0 {
		pts--
	}
	for _, i := range issues {
		switch i.Severity {
		case satori.SeverityHigh:
			pts -= 3
		case satori.SeverityMedium:
			pts--
		}
	}
	return pts
}

func clamp(n int) int {
	if n < 0 {
		return 0
	}
	if n > MaxSubScore {
		return MaxSubScore
	}
	return n
}
