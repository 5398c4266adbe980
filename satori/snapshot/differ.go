package snapshot

import (
	"sort"

	"github.com/SatoriAU/site-audit/satori"
)

// Diff classifies every extension against the previous month's slug→version
// map. NEW and UPDATED entries follow the current list (first occurrence of
// a slug, carrying its last version); DELETED entries follow in slug order.
// Versions compare as plain strings, so downgrades also report UPDATED.
func Diff(previous map[string]string, current []satori.Extension) []satori.PluginDiff {
	currentMap := make(map[string]string, len(current))
	order := make([]string, 0, len(current))
	for _, ext := range current {
		if _, seen := currentMap[ext.Slug]; !seen {
			order = append(order, ext.Slug)
		}
		currentMap[ext.Slug] = ext.Version
	}

	var diffs []satori.PluginDiff
	for _, slug := range order {
		to := currentMap[slug]
		from, existed := previous[slug]
		switch {
		case !existed:
			diffs = append(diffs, satori.PluginDiff{Slug: slug, Change: satori.ChangeNew, To: strPtr(to)})
		case from != to:
			diffs = append(diffs, satori.PluginDiff{Slug: slug, Change: satori.ChangeUpdated, From: strPtr(from), To: strPtr(to)})
		}
	}

	var removed []string
	for slug := range previous {
		if _, ok := currentMap[slug]; !ok {
			removed = append(removed, slug)
		}
	}
	sort.Strings(removed)
	for _, slug := range removed {
		diffs = append(diffs, satori.PluginDiff{Slug: slug, Change: satori.ChangeDeleted, From: strPtr(previous[slug])})
	}
	return diffs
}

// ByChange indexes diffs by slug.
func ByChange(diffs []satori.PluginDiff) map[string]satori.PluginDiff {
	m := make(map[string]satori.PluginDiff, len(diffs))
	for _, d := range diffs {
		m[d.Slug] = d
	}
	return m
}

func strPtr(s string) *string { return &s }
