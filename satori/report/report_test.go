package report

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/SatoriAU/site-audit/satori"
	"github.com/SatoriAU/site-audit/satori/bottleneck"
	"github.com/SatoriAU/site-audit/satori/config"
	"github.com/SatoriAU/site-audit/satori/ledger"
	"github.com/SatoriAU/site-audit/satori/snapshot"
	"github.com/SatoriAU/site-audit/satori/store"
)

type staticCollector satori.SiteSnapshot

func (c staticCollector) Collect(context.Context) satori.SiteSnapshot { return satori.SiteSnapshot(c) }

func testSnapshot() satori.SiteSnapshot {
	return satori.SiteSnapshot{
		PlatformVersion: "6.4.3",
		RuntimeVersion:  "8.2.12",
		ServerSoftware:  "LiteSpeed",
		HTTPS:           true,
		Permalink:       "/%postname%/",
		Theme:           satori.ThemeInfo{Name: "Astra Child", Slug: "astra-child", Version: "1.0.1"},
		ParentTheme:     &satori.ThemeInfo{Name: "Astra", Slug: "astra", Version: "4.6.4"},
		Cache:           satori.CacheLayer{Active: true},
		AdminCount:      2,
		Extensions: []satori.Extension{
			{Slug: "akismet", Name: "Akismet", Version: "5.3", Description: "<p>Spam  protection</p>"},
			{Slug: "wp-rocket", Name: "WP Rocket", Version: "3.15"},
			{Slug: "litespeed-cache", Name: "LiteSpeed Cache", Version: "6.1"},
		},
	}
}

func newTestService(t *testing.T, kv store.KVStore, snap satori.SiteSnapshot) *Service {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Service.SiteName = "Acme"
	cfg.Service.SiteURL = "https://acme.example"
	return NewService(cfg, Deps{
		Collector: staticCollector(snap),
		Ledger:    ledger.New(kv, 12, time.UTC),
		Snapshots: snapshot.NewManager(kv),
		Store:     kv,
		Clock:     satori.FixedClock(time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)),
	})
}

func TestBuildAssemblesReport(t *testing.T) {
	t.Log("\n🔍 Testing report assembly...")

	ctx := context.Background()
	kv := store.NewMemoryStore()
	manager := snapshot.NewManager(kv)
	if err := manager.SaveMonth(ctx, &store.MonthlySnapshot{
		Month:   "2024-01",
		Plugins: map[string]string{"akismet": "5.2", "classic-editor": "1.6"},
	}); err != nil {
		t.Fatalf("❌ Failed to seed history: %v", err)
	}
	l := ledger.New(kv, 12, time.UTC)
	if err := l.RecordChange(ctx, ledger.Theme, "astra", time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), "4.6.4"); err != nil {
		t.Fatalf("❌ Failed to seed ledger: %v", err)
	}

	svc := newTestService(t, kv, testSnapshot())
	r, err := svc.Build(ctx, false)
	if err != nil {
		t.Fatalf("❌ Build failed: %v", err)
	}

	if r.ServiceDetails.ServiceDate != "March 2024" || r.Meta.Month != "2024-03" {
		t.Errorf("❌ Dates wrong: %+v %+v", r.ServiceDetails, r.Meta)
	}
	if r.Versions.Parent == nil || r.Versions.Parent.UpdatedOn != "02/03/2024" {
		t.Errorf("❌ Parent theme versions wrong: %+v", r.Versions.Parent)
	}
	if !r.HasIssue(bottleneck.TypeDupCache) {
		t.Errorf("❌ Expected dup_cache with two cache plugins: %+v", r.Bottlenecks)
	}
	if r.Stability.ActivePlugins[0].DescriptionShort != "Spam protection" {
		t.Errorf("❌ Short description = %q", r.Stability.ActivePlugins[0].DescriptionShort)
	}

	diffs := snapshot.ByChange(r.PluginDiffs)
	if diffs["akismet"].Change != satori.ChangeUpdated || diffs["wp-rocket"].Change != satori.ChangeNew || diffs["classic-editor"].Change != satori.ChangeDeleted {
		t.Errorf("❌ Diffs against 2024-01 wrong: %+v", r.PluginDiffs)
	}

	if months, _ := manager.ListMonths(ctx); len(months) != 1 {
		t.Errorf("❌ Build without persist wrote history: %v", months)
	}

	t.Log("✅ Report composes facts, ledger and history")
}

func TestBuildPersistOverwritesMonth(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryStore()
	svc := newTestService(t, kv, testSnapshot())

	for i := 0; i < 2; i++ {
		if _, err := svc.Build(ctx, true); err != nil {
			t.Fatalf("❌ Build %d failed: %v", i, err)
		}
	}
	manager := snapshot.NewManager(kv)
	months, _ := manager.ListMonths(ctx)
	if len(months) != 1 || months[0] != "2024-03" {
		t.Fatalf("❌ Expected a single 2024-03 entry, got %v", months)
	}
	snap, err := manager.GetMonth(ctx, "2024-03")
	if err != nil || snap.Plugins["wp-rocket"] != "3.15" || snap.Overview.Platform != "6.4.3" {
		t.Errorf("❌ Persisted snapshot wrong: %+v %v", snap, err)
	}
}

type failingStore struct{ store.KVStore }

func (failingStore) GetValue(context.Context, string) (string, error) {
	return "", errors.New("connection refused")
}

func (failingStore) ListKeys(context.Context, string) ([]string, error) {
	return nil, errors.New("connection refused")
}

func TestBuildDegradesOnStoreFailure(t *testing.T) {
	kv := failingStore{store.NewMemoryStore()}
	r, err := newTestService(t, kv, testSnapshot()).Build(context.Background(), false)
	if err != nil {
		t.Fatalf("❌ Read failures must not fail the build: %v", err)
	}
	if !r.AssetLog.Empty() {
		t.Errorf("❌ Expected empty ledger fallback")
	}
	if len(r.PluginDiffs) != 3 {
		t.Errorf("❌ Expected every plugin NEW without a baseline, got %+v", r.PluginDiffs)
	}
}

func TestLegacyLogOnlyWhenLedgerEmpty(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryStore()
	if err := kv.SetValue(ctx, ledger.KeyLegacyPluginLog, `{"akismet":{"last_updated":"2023-11-05"}}`); err != nil {
		t.Fatalf("❌ Failed to seed legacy log: %v", err)
	}

	r, _ := newTestService(t, kv, testSnapshot()).Build(ctx, false)
	if r.LegacyPluginLog["akismet"].LastUpdated != "2023-11-05" {
		t.Errorf("❌ Legacy log not embedded: %+v", r.LegacyPluginLog)
	}

	if err := ledger.New(kv, 12, time.UTC).RecordChange(ctx, ledger.Theme, "astra", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), "4.6.4"); err != nil {
		t.Fatalf("❌ Failed to record theme change: %v", err)
	}
	r, _ = newTestService(t, kv, testSnapshot()).Build(ctx, false)
	if r.LegacyPluginLog != nil {
		t.Errorf("❌ Legacy log embedded next to a populated ledger: %+v", r.LegacyPluginLog)
	}
	if got := r.AssetLog.LastUpdatedLabel(ledger.Plugin, "akismet", r.LegacyLog()); got != "05/11/2023" {
		t.Errorf("❌ Plugin fallback label = %q, want 05/11/2023", got)
	}
}

func TestRefreshJSONCachesExport(t *testing.T) {
	t.Log("\n🔍 Testing cached JSON refresh...")

	ctx := context.Background()
	kv := store.NewMemoryStore()
	svc := newTestService(t, kv, testSnapshot())

	if _, err := svc.RefreshJSON(ctx); err != nil {
		t.Fatalf("❌ RefreshJSON failed: %v", err)
	}
	data, at, err := svc.CachedJSON(ctx)
	if err != nil {
		t.Fatalf("❌ CachedJSON failed: %v", err)
	}
	if !at.Equal(time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("❌ Timestamp = %s", at)
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		t.Fatalf("❌ Cached JSON invalid: %v", err)
	}
	for _, key := range []string{"meta", "service_details", "scores", "asset_log", "plugin_diffs"} {
		if _, ok := doc[key]; !ok {
			t.Errorf("❌ Missing %q in cached JSON", key)
		}
	}
	if !strings.Contains(data, "https://acme.example") {
		t.Error("❌ Slashes should not be escaped")
	}

	t.Log("✅ JSON export and timestamp are cached")
}

func TestShortDesc(t *testing.T) {
	long := strings.Repeat("a", 200)
	got := ShortDesc(long, 140)
	if n := len([]rune(got)); n != 140 || !strings.HasSuffix(got, "…") {
		t.Errorf("❌ ShortDesc length %d, got %q", n, got)
	}
	if ShortDesc("short", 140) != "short" {
		t.Error("❌ Short text should pass through")
	}
}
