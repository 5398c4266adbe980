package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/SatoriAU/site-audit/satori"
	"github.com/SatoriAU/site-audit/satori/access"
	"github.com/SatoriAU/site-audit/satori/config"
	"github.com/SatoriAU/site-audit/satori/ledger"
	"github.com/SatoriAU/site-audit/satori/postgres/models"
	"github.com/SatoriAU/site-audit/satori/report"
	"github.com/SatoriAU/site-audit/satori/runlog"
	"github.com/SatoriAU/site-audit/satori/scheduler"
	"github.com/SatoriAU/site-audit/satori/snapshot"
	"github.com/SatoriAU/site-audit/satori/store"
)

type staticCollector satori.SiteSnapshot

func (c staticCollector) Collect(context.Context) satori.SiteSnapshot { return satori.SiteSnapshot(c) }

type fakeMailer struct{ to string }

func (f *fakeMailer) SendTest(_ context.Context, me string) ([]string, error) {
	f.to = me
	return []string{"client@example.com"}, nil
}

type testEnv struct {
	handler http.Handler
	kv      *store.MemoryStore
	mailer  *fakeMailer
	keys    map[string]string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	cfg := config.DefaultConfig()
	cfg.Service.SiteName = "Acme"
	cfg.Access = config.AccessConfig{
		RestrictSettings:  true,
		RestrictDashboard: true,
		PrimaryAdminEmail: "owner@example.com",
		AllowedAdmins:     "jane",
	}

	kv := store.NewMemoryStore()
	clock := satori.FixedClock(time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC))
	snap := satori.SiteSnapshot{
		PlatformVersion: "6.4.3",
		Permalink:       "/%postname%/",
		Extensions:      []satori.Extension{{Slug: "akismet", Name: "Akismet", Version: "5.3"}},
	}
	lg := ledger.New(kv, 12, time.UTC)
	snaps := snapshot.NewManager(kv)
	svc := report.NewService(cfg, report.Deps{
		Collector: staticCollector(snap),
		Ledger:    lg,
		Snapshots: snaps,
		Store:     kv,
		Clock:     clock,
	})
	runs := runlog.NewMemoryLog(clock)
	runner := scheduler.NewRunner(cfg, scheduler.Deps{
		Reports:   svc,
		Ledger:    lg,
		Snapshots: snaps,
		Runs:      runs,
		Store:     kv,
		Clock:     clock,
	})

	env := &testEnv{kv: kv, mailer: &fakeMailer{}, keys: map[string]string{}}
	for _, owner := range []string{"owner@example.com", "jane", "mallory"} {
		raw, err := store.GenerateAPIKey()
		if err != nil {
			t.Fatalf("❌ GenerateAPIKey failed: %v", err)
		}
		if _, err := store.StoreAPIKey(ctx, kv, raw, "test", owner); err != nil {
			t.Fatalf("❌ StoreAPIKey failed: %v", err)
		}
		env.keys[owner] = raw
	}

	h := &Handlers{
		Config:    cfg,
		Reports:   svc,
		Runner:    runner,
		Runs:      runs,
		Snapshots: snaps,
		Mailer:    env.mailer,
		Keys:      kv,
		Policy:    access.NewPolicy(cfg.Access),
		Clock:     clock,
	}
	env.handler = NewServer(":0", h).Handler()
	return env
}

func (e *testEnv) do(t *testing.T, method, path, key, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if key != "" {
		req.Header.Set(APIKeyHeader, key)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "healthy") {
		t.Errorf("❌ Health = %d %s", rec.Code, rec.Body.String())
	}
}

func TestAuthentication(t *testing.T) {
	t.Log("\n🔍 Testing API authentication...")

	env := newTestEnv(t)
	tests := []struct {
		name string
		key  string
		want int
	}{
		{"missing key", "", http.StatusUnauthorized},
		{"unknown key", "sat_nope", http.StatusUnauthorized},
		{"denied admin", env.keys["mallory"], http.StatusForbidden},
		{"allowed login", env.keys["jane"], http.StatusOK},
		{"primary admin", env.keys["owner@example.com"], http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, "/api/v1/history", tt.key, "")
			if rec.Code != tt.want {
				t.Errorf("❌ Status = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}

	t.Log("✅ Authentication enforced")
}

func TestReportFormats(t *testing.T) {
	t.Log("\n🔍 Testing report downloads...")

	env := newTestEnv(t)
	key := env.keys["jane"]

	rec := env.do(t, http.MethodGet, "/api/v1/report/csv_plugins", key, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("❌ CSV status = %d: %s", rec.Code, rec.Body.String())
	}
	if cd := rec.Header().Get("Content-Disposition"); cd != `attachment; filename="satori-plugins-20240310.csv"` {
		t.Errorf("❌ Content-Disposition = %q", cd)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/report/html_preview", key, "")
	if !strings.HasPrefix(rec.Header().Get("Content-Disposition"), "inline;") {
		t.Errorf("❌ HTML preview should be inline, got %q", rec.Header().Get("Content-Disposition"))
	}

	rec = env.do(t, http.MethodGet, "/api/v1/report/pdf", key, "")
	if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/html") {
		t.Errorf("❌ PDF without renderer should fall back to HTML, got %d %q", rec.Code, rec.Header().Get("Content-Type"))
	}

	rec = env.do(t, http.MethodGet, "/api/v1/report/xlsx", key, "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("❌ Unknown format status = %d", rec.Code)
	}

	if months, _ := snapshot.NewManager(env.kv).ListMonths(context.Background()); len(months) != 0 {
		t.Errorf("❌ Downloads must not persist snapshots, got %v", months)
	}

	t.Log("✅ Report downloads served")
}

func TestCachedJSON(t *testing.T) {
	env := newTestEnv(t)
	key := env.keys["jane"]
	if err := env.kv.SetValue(context.Background(), report.KeyJSONExport, `{"cached":true}`); err != nil {
		t.Fatal(err)
	}
	rec := env.do(t, http.MethodGet, "/api/v1/report/json?cached=1", key, "")
	if rec.Body.String() != `{"cached":true}` {
		t.Errorf("❌ Cached JSON not served: %s", rec.Body.String())
	}
}

func TestRunsEndpoints(t *testing.T) {
	t.Log("\n🔍 Testing manual runs...")

	env := newTestEnv(t)
	key := env.keys["jane"]

	rec := env.do(t, http.MethodPost, "/api/v1/runs?test=1", key, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("❌ Run status = %d: %s", rec.Code, rec.Body.String())
	}
	var run RunResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &run); err != nil {
		t.Fatalf("❌ Bad run response: %v", err)
	}
	if run.Run.Type != models.RunTest || run.Run.User != "jane" {
		t.Errorf("❌ Run = %+v", run.Run)
	}

	env.do(t, http.MethodPost, "/api/v1/runs", key, "")

	rec = env.do(t, http.MethodGet, "/api/v1/runs?pref=test", key, "")
	var list RunListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("❌ Bad list response: %v", err)
	}
	if list.Total != 2 || list.Latest == nil || list.Latest.Type != models.RunTest {
		t.Errorf("❌ Run list = %+v", list)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/history", key, "")
	var hist HistoryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &hist); err != nil {
		t.Fatalf("❌ Bad history response: %v", err)
	}
	if len(hist.Months) != 1 || hist.Months[0].Month != "2024-03" {
		t.Errorf("❌ Full run should persist the month, got %+v", hist.Months)
	}

	t.Log("✅ Manual runs logged")
}

func TestNotifyTest(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/notify/test", env.keys["owner@example.com"], "")
	if rec.Code != http.StatusOK {
		t.Fatalf("❌ Status = %d: %s", rec.Code, rec.Body.String())
	}
	if env.mailer.to != "owner@example.com" {
		t.Errorf("❌ Test email sent to %q", env.mailer.to)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/notify/test", env.keys["jane"], `{"email":"jane@agency.example"}`)
	var resp NotifyTestResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.SentTo != "jane@agency.example" || len(resp.Recipients) != 1 {
		t.Errorf("❌ Response = %+v", resp)
	}

	if rec := env.do(t, http.MethodPost, "/api/v1/notify/test", env.keys["jane"], `{bad`); rec.Code != http.StatusBadRequest {
		t.Errorf("❌ Bad body status = %d", rec.Code)
	}
}
