package weekly

import (
	"testing"
	"time"

	"github.com/SatoriAU/site-audit/satori"
	"github.com/SatoriAU/site-audit/satori/ledger"
)

func pt(date, v string) ledger.Point {
	d, err := time.Parse("2006-01-02", date)
	if err != nil {
		panic(err)
	}
	return ledger.Point{Date: d, Version: v}
}

func compactorAt(date string) *Compactor {
	d, _ := time.Parse("2006-01-02", date)
	return NewCompactor(satori.FixedClock(d.Add(10*time.Hour)), time.UTC)
}

func TestCompactEndToEndFixture(t *testing.T) {
	t.Log("\n🔍 Testing weekly lines for the acme-seo fixture...")

	history := []ledger.Point{
		pt("2024-01-01", "1.0"),
		pt("2024-01-02", "1.0"),
		pt("2024-01-10", "1.1"),
		pt("2024-01-20", "1.2"),
	}
	lines := compactorAt("2024-01-25").Lines(history, 5)

	want := []string{
		"Wk of 15 Jan: v1.2 (20/01)",
		"Wk of 08 Jan: v1.1 (10/01)",
		"Wk of 01 Jan: v1.0 (01/01)",
	}
	if len(lines) != len(want) {
		t.Fatalf("❌ Expected %d lines, got %d: %v", len(want), len(lines), lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("❌ Line %d = %q, want %q", i, lines[i], want[i])
		}
	}

	t.Log("✅ Fixture renders most recent week first")
}

func TestCompactSuppressesSingleWeek(t *testing.T) {
	t.Log("\n🔍 Testing single-week suppression...")

	history := []ledger.Point{
		pt("2024-01-15", "2.0.0"),
		pt("2024-01-16", "2.0.1"),
		pt("2024-01-18", "2.0.2"),
	}
	if lines := compactorAt("2024-01-25").Lines(history, 5); len(lines) != 0 {
		t.Errorf("❌ Expected no lines for one week of changes, got %v", lines)
	}

	t.Log("✅ One active week yields no narrative")
}

func TestCompactTwoWeeks(t *testing.T) {
	t.Log("\n🔍 Testing exactly two weeks with a patch delta...")

	history := []ledger.Point{
		pt("2024-01-09", "3.4.1"),
		pt("2024-01-17", "3.4.2"),
		pt("2024-01-18", "3.4.4"),
	}
	lines := compactorAt("2024-01-25").Lines(history, 5)
	want := []string{
		"Wk of 15 Jan: v3.4.4 (+2) (18/01)",
		"Wk of 08 Jan: v3.4.1 (09/01)",
	}
	if len(lines) != 2 {
		t.Fatalf("❌ Expected 2 lines, got %v", lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("❌ Line %d = %q, want %q", i, lines[i], want[i])
		}
	}

	t.Log("✅ Latest change per week wins and deltas render")
}

func TestCompactLookbackWindow(t *testing.T) {
	t.Log("\n🔍 Testing the 35-day lookback...")

	history := []ledger.Point{
		pt("2023-11-01", "1.0"),
		pt("2023-11-20", "1.1"),
		pt("2024-01-22", "1.2"),
	}
	if lines := compactorAt("2024-01-25").Lines(history, 5); len(lines) != 0 {
		t.Errorf("❌ Old changes should fall out of the window, got %v", lines)
	}

	t.Log("✅ Changes older than 35 days are ignored")
}

func TestCompactCollapsesRepeatsAndCaps(t *testing.T) {
	t.Log("\n🔍 Testing duplicate collapse and max lines...")

	history := []ledger.Point{
		pt("2024-02-05", "1.0"),
		pt("2024-02-12", "1.0"),
		pt("2024-02-13", "1.1"),
		pt("2024-02-20", "1.2"),
		pt("2024-02-27", "1.3"),
		pt("2024-03-05", "1.3"),
	}
	c := compactorAt("2024-03-06")

	all := c.Compact(history, 0)
	if len(all) != 4 {
		t.Fatalf("❌ Expected 4 change weeks, got %d", len(all))
	}
	if all[0].Version != "1.3" || all[3].Version != "1.0" {
		t.Errorf("❌ Unexpected order: %+v", all)
	}

	capped := c.Lines(history, 2)
	if len(capped) != 2 {
		t.Errorf("❌ Expected max 2 lines, got %d", len(capped))
	}

	t.Log("✅ Repeats collapse into one change and output is capped")
}

func TestCompactEmptyHistory(t *testing.T) {
	if lines := compactorAt("2024-01-25").Lines(nil, 5); lines != nil {
		t.Errorf("❌ Expected nil for empty history, got %v", lines)
	}
}
