package runlog

import (
	"context"
	"testing"
	"time"

	"github.com/SatoriAU/site-audit/satori"
	"github.com/SatoriAU/site-audit/satori/postgres/models"
)

type manualClock struct{ now time.Time }

func (c *manualClock) Now() time.Time { return c.now }

func TestLatestHonoursPreference(t *testing.T) {
	t.Log("\n🔍 Testing summary preference...")

	ctx := context.Background()
	clock := &manualClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	log := NewMemoryLog(clock)

	for _, step := range []struct{ typ, user string }{
		{models.RunScheduled, ""},
		{models.RunFull, "alice"},
		{models.RunTest, "bob"},
	} {
		if _, err := log.Record(ctx, step.typ, step.user); err != nil {
			t.Fatalf("❌ Record failed: %v", err)
		}
		clock.now = clock.now.Add(time.Hour)
	}

	tests := []struct {
		pref Preference
		want string
	}{
		{PreferAny, models.RunTest},
		{PreferFull, models.RunFull},
		{PreferScheduled, models.RunScheduled},
		{ParsePreference("bogus"), models.RunTest},
	}
	for _, tt := range tests {
		got, err := log.Latest(ctx, tt.pref)
		if err != nil || got == nil {
			t.Fatalf("❌ Latest(%s) = %v, %v", tt.pref, got, err)
		}
		if got.Type != tt.want {
			t.Errorf("❌ Latest(%s) = %s, want %s", tt.pref, got.Type, tt.want)
		}
	}

	scheduled, _ := log.Latest(ctx, PreferScheduled)
	if scheduled.User != "System" {
		t.Errorf("❌ Unattended runs should be by System, got %q", scheduled.User)
	}

	t.Log("✅ Summary preference works")
}

func TestLatestEmpty(t *testing.T) {
	got, err := NewMemoryLog(nil).Latest(context.Background(), PreferAny)
	if err != nil || got != nil {
		t.Errorf("❌ Empty log should return nil, got %v %v", got, err)
	}
}

func TestRecordPrunesByAgeAndCount(t *testing.T) {
	t.Log("\n🔍 Testing run log retention...")

	ctx := context.Background()
	clock := &manualClock{now: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)}
	log := NewMemoryLog(clock)

	if _, err := log.Record(ctx, models.RunFull, "old"); err != nil {
		t.Fatalf("❌ Record failed: %v", err)
	}
	clock.now = clock.now.Add(MaxAge + time.Hour)
	for i := 0; i < MaxRuns+10; i++ {
		if _, err := log.Record(ctx, models.RunDailyWatch, ""); err != nil {
			t.Fatalf("❌ Record failed: %v", err)
		}
		clock.now = clock.now.Add(time.Minute)
	}

	runs, total, err := log.List(ctx, Filters{Limit: MaxLimit})
	if err != nil {
		t.Fatalf("❌ List failed: %v", err)
	}
	if total != MaxRuns || len(runs) != MaxRuns {
		t.Errorf("❌ Expected %d runs, got total=%d len=%d", MaxRuns, total, len(runs))
	}
	if full, _ := log.Latest(ctx, PreferFull); full != nil {
		t.Error("❌ Run older than a year should be pruned")
	}

	t.Log("✅ Retention applied")
}

func TestListFiltersAndPaging(t *testing.T) {
	ctx := context.Background()
	clock := &manualClock{now: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}
	log := NewMemoryLog(clock)
	for i := 0; i < 5; i++ {
		typ := models.RunFull
		if i%2 == 1 {
			typ = models.RunTest
		}
		_, _ = log.Record(ctx, typ, "u")
		clock.now = clock.now.Add(24 * time.Hour)
	}

	runs, total, _ := log.List(ctx, Filters{Type: models.RunFull, Limit: 2})
	if total != 3 || len(runs) != 2 {
		t.Errorf("❌ Type filter: total=%d len=%d", total, len(runs))
	}
	if !runs[0].At.After(runs[1].At) {
		t.Error("❌ Runs should be newest first")
	}

	since := time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC)
	if _, total, _ := log.List(ctx, Filters{Since: &since}); total != 3 {
		t.Errorf("❌ Since filter total = %d, want 3", total)
	}
	if runs, total, _ := log.List(ctx, Filters{Offset: 10}); len(runs) != 0 || total != 5 {
		t.Errorf("❌ Offset past end: len=%d total=%d", len(runs), total)
	}
}

func TestFiltersNormalized(t *testing.T) {
	if f := (Filters{}).normalized(); f.Limit != DefaultLimit {
		t.Errorf("❌ Default limit = %d", f.Limit)
	}
	if f := (Filters{Limit: 9000, Offset: -1}).normalized(); f.Limit != MaxLimit || f.Offset != 0 {
		t.Errorf("❌ Clamped filters = %+v", f)
	}
}

func TestRecordUpdateKeepsNewest(t *testing.T) {
	t.Log("\n🔍 Testing update event log...")

	ctx := context.Background()
	clock := &manualClock{now: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}
	log := NewMemoryLog(clock)

	for i := 0; i < MaxUpdates+5; i++ {
		ev := satori.UpdateEvent{
			Action: satori.ActionUpdate,
			Type:   "plugin",
			Items:  []satori.UpdatedAsset{{Path: "akismet/akismet.php", Version: "5.3"}},
		}
		if err := log.RecordUpdate(ctx, ev); err != nil {
			t.Fatalf("❌ RecordUpdate failed: %v", err)
		}
		clock.now = clock.now.Add(time.Minute)
	}

	evs, err := log.Updates(ctx, 0)
	if err != nil {
		t.Fatalf("❌ Updates failed: %v", err)
	}
	if len(evs) != MaxUpdates {
		t.Fatalf("❌ Expected %d events, got %d", MaxUpdates, len(evs))
	}
	first := evs[0]
	if first.ID == "" || first.Action != satori.ActionUpdate || len(first.Items) != 1 || first.Items[0].Path != "akismet/akismet.php" {
		t.Errorf("❌ Event not preserved: %+v", first)
	}
	if !first.At.After(evs[1].At) {
		t.Error("❌ Events should be newest first")
	}

	t.Log("✅ Update log capped")
}

func TestRunString(t *testing.T) {
	r := Run{Type: models.RunFull, User: "alice", At: time.Date(2024, 3, 1, 14, 5, 0, 0, time.UTC)}
	if got := r.String(); got != "Full Audit – 1 March 2024 @ 14:05 – by alice" {
		t.Errorf("❌ String = %q", got)
	}
}
