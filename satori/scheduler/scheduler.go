// Package scheduler runs the unattended audits: the monthly report, the
// daily watch and the post-update check.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/SatoriAU/site-audit/satori"
	"github.com/SatoriAU/site-audit/satori/bottleneck"
	"github.com/SatoriAU/site-audit/satori/config"
	"github.com/SatoriAU/site-audit/satori/ledger"
	"github.com/SatoriAU/site-audit/satori/postgres/models"
	"github.com/SatoriAU/site-audit/satori/queue"
	"github.com/SatoriAU/site-audit/satori/report"
	"github.com/SatoriAU/site-audit/satori/runlog"
	"github.com/SatoriAU/site-audit/satori/snapshot"
	"github.com/SatoriAU/site-audit/satori/store"
)

// KV markers of the last completed scheduled runs.
const (
	KeyCronMonthly = "satori:cron:monthly"
	KeyCronDaily   = "satori:cron:daily"
)

// Email reasons.
const (
	ReasonMonthly    = "monthly"
	ReasonAlert      = "alert"
	ReasonPostUpdate = "post-update"
)

// Reporter builds reports.
type Reporter interface {
	Build(ctx context.Context, persist bool) (*report.Report, error)
	RefreshJSON(ctx context.Context) (*report.Report, error)
}

// Mailer sends a report email.
type Mailer interface {
	SendReport(ctx context.Context, r *report.Report, reason string) (bool, error)
}

// EventSource delivers queued messages; queue.Broker implements it.
type EventSource interface {
	ListenWithRetry(ctx context.Context, qName string, process queue.MessageProcessor)
}

// Deps are the collaborators of a Runner.
type Deps struct {
	Reports   Reporter
	Collector report.SiteCollector
	Ledger    *ledger.Ledger
	Snapshots *snapshot.Manager
	Runs      runlog.RunLog
	Mailer    Mailer
	Store     store.KVStore
	Clock     satori.Clock
}

// Runner executes audit runs one at a time.
type Runner struct {
	cfg  *config.Config
	deps Deps
	mu   sync.Mutex
}

// NewRunner wires a Runner.
func NewRunner(cfg *config.Config, deps Deps) *Runner {
	if deps.Clock == nil {
		deps.Clock = satori.SystemClock{}
	}
	return &Runner{cfg: cfg, deps: deps}
}

// Result summarises one run.
type Result struct {
	Run    runlog.Run
	Report *report.Report
	Mailed bool
}

func (r *Runner) build(ctx context.Context, persist bool) (*report.Report, error) {
	rep, err := r.deps.Reports.Build(ctx, persist)
	if rep == nil {
		return nil, err
	}
	if err != nil {
		slog.Warn("Report built but snapshot not saved", "error", err)
	}
	return rep, nil
}

func (r *Runner) mail(ctx context.Context, rep *report.Report, reason string) bool {
	if r.deps.Mailer == nil {
		return false
	}
	sent, err := r.deps.Mailer.SendReport(ctx, rep, reason)
	if err != nil {
		slog.Error("Failed to send report email", "reason", reason, "error", err)
		return false
	}
	return sent
}

func (r *Runner) record(ctx context.Context, runType, user string) runlog.Run {
	if r.deps.Runs == nil {
		return runlog.Run{Type: runType, User: user, At: r.deps.Clock.Now().UTC()}
	}
	run, err := r.deps.Runs.Record(ctx, runType, user)
	if err != nil {
		slog.Warn("Failed to record audit run", "type", runType, "error", err)
	}
	return run
}

// RunMonthly builds and stores this month's report, emails it and trims
// the snapshot history.
func (r *Runner) RunMonthly(ctx context.Context) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rep, err := r.build(ctx, true)
	if err != nil {
		return Result{}, fmt.Errorf("monthly audit failed: %w", err)
	}
	res := Result{Report: rep, Mailed: r.mail(ctx, rep, ReasonMonthly)}

	if removed, err := r.deps.Snapshots.Cleanup(ctx, r.cfg.History.KeepMonths); err != nil {
		slog.Warn("Failed to trim snapshot history", "error", err)
	} else if removed > 0 {
		slog.Info("Trimmed snapshot history", "removed", removed, "keep_months", r.cfg.History.KeepMonths)
	}

	res.Run = r.record(ctx, models.RunScheduled, "")
	return res, nil
}

// RunDailyWatch builds a report and emails an alert only when a HIGH
// bottleneck is present.
func (r *Runner) RunDailyWatch(ctx context.Context) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rep, err := r.build(ctx, true)
	if err != nil {
		return Result{}, fmt.Errorf("daily watch failed: %w", err)
	}
	res := Result{Report: rep}
	if rep.HasHigh() {
		res.Mailed = r.mail(ctx, rep, ReasonAlert)
	}
	res.Run = r.record(ctx, models.RunDailyWatch, "")
	return res, nil
}

// AfterUpdate records the assets an update touched in the ledger. For
// upgrades (not fresh installs) it also logs the event, rebuilds the report
// and emails it when a duplicate cache, a file manager or any HIGH issue
// is found.
func (r *Runner) AfterUpdate(ctx context.Context, ev satori.UpdateEvent) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.deps.Clock.Now()
	if n, err := r.deps.Ledger.RecordUpdateEvent(ctx, ev, now); err != nil {
		slog.Warn("Failed to record update in asset ledger", "type", ev.Type, "error", err)
	} else {
		slog.Info("Recorded update in asset ledger", "type", ev.Type, "assets", n)
	}

	if ev.Action != satori.ActionUpdate {
		return Result{}, nil
	}
	if r.deps.Runs != nil {
		if err := r.deps.Runs.RecordUpdate(ctx, ev); err != nil {
			slog.Warn("Failed to log update event", "error", err)
		}
	}

	rep, err := r.build(ctx, true)
	if err != nil {
		return Result{}, fmt.Errorf("post-update audit failed: %w", err)
	}
	res := Result{Report: rep}
	if rep.HasIssue(bottleneck.TypeDupCache) || rep.HasIssue(bottleneck.TypeFileManager) || rep.HasHigh() {
		res.Mailed = r.mail(ctx, rep, ReasonPostUpdate)
	}
	res.Run = r.record(ctx, models.RunPostUpdate, "")
	return res, nil
}

// RunNow is a manual run. A test run does not persist anything but the run
// log entry; a full run stores the month snapshot and, when enabled,
// refreshes the cached JSON.
func (r *Runner) RunNow(ctx context.Context, test bool, user string) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		rep     *report.Report
		err     error
		runType = models.RunFull
	)
	switch {
	case test:
		runType = models.RunTest
		rep, err = r.build(ctx, false)
	case r.cfg.Automation.RefreshJSON:
		rep, err = r.deps.Reports.RefreshJSON(ctx)
		if rep != nil && err != nil {
			slog.Warn("Report built but JSON cache not refreshed", "error", err)
			err = nil
		}
	default:
		rep, err = r.build(ctx, true)
	}
	if err != nil {
		return Result{}, fmt.Errorf("audit run failed: %w", err)
	}
	return Result{Report: rep, Run: r.record(ctx, runType, user)}, nil
}

// Backfill seeds weekly history for the live assets when enabled. It is a
// no-op after the first successful call.
func (r *Runner) Backfill(ctx context.Context) (bool, error) {
	if !r.cfg.Automation.BackfillOnFirstRun || r.deps.Collector == nil {
		return false, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := r.deps.Collector.Collect(ctx)
	return r.deps.Ledger.Backfill(ctx, AssetRefs(snap), r.deps.Clock.Now())
}

// AssetRefs lists the assets of a snapshot for backfilling.
func AssetRefs(s satori.SiteSnapshot) []ledger.AssetRef {
	refs := []ledger.AssetRef{{Category: ledger.Core, Slug: ledger.CoreKey, Version: s.PlatformVersion}}
	if s.Theme.Slug != "" {
		refs = append(refs, ledger.AssetRef{Category: ledger.Theme, Slug: s.Theme.Slug, Version: s.Theme.Version})
	}
	if s.ParentTheme != nil && s.ParentTheme.Slug != "" {
		refs = append(refs, ledger.AssetRef{Category: ledger.Theme, Slug: s.ParentTheme.Slug, Version: s.ParentTheme.Version})
	}
	for _, e := range s.Extensions {
		refs = append(refs, ledger.AssetRef{Category: ledger.Plugin, Slug: e.Slug, Version: e.Version})
	}
	return refs
}

// Tick runs whatever is due: the daily watch once per local day and the
// monthly report once per local month. Markers in the KV store keep
// restarts from repeating a run.
func (r *Runner) Tick(ctx context.Context) {
	now := r.deps.Clock.Now().In(r.cfg.Location())

	if r.cfg.Automation.EnableMonthly {
		r.runIfDue(ctx, KeyCronMonthly, store.MonthKey(now), "monthly", r.RunMonthly)
	}
	if r.cfg.Automation.EnableWatch {
		r.runIfDue(ctx, KeyCronDaily, now.Format("2006-01-02"), "daily watch", r.RunDailyWatch)
	}
}

func (r *Runner) runIfDue(ctx context.Context, key, period, name string, run func(context.Context) (Result, error)) {
	last, err := r.deps.Store.GetValue(ctx, key)
	if err != nil && !store.IsNotFound(err) {
		slog.Warn("Failed to read schedule marker", "key", key, "error", err)
		return
	}
	if last == period {
		return
	}
	res, err := run(ctx)
	if err != nil {
		slog.Error("Scheduled run failed", "run", name, "error", err)
		return
	}
	if err := r.deps.Store.SetValue(ctx, key, period); err != nil {
		slog.Warn("Failed to store schedule marker", "key", key, "error", err)
	}
	slog.Info("Scheduled run completed", "run", name, "total", res.Report.Scores.Total, "mailed", res.Mailed)
}

// HandleMessage decodes a queued update event and processes it.
func (r *Runner) HandleMessage(ctx context.Context, msg string) {
	var ev satori.UpdateEvent
	if err := json.Unmarshal([]byte(msg), &ev); err != nil {
		slog.Warn("Dropping malformed update event", "error", err)
		return
	}
	if _, err := r.AfterUpdate(ctx, ev); err != nil {
		slog.Error("Post-update audit failed", "error", err)
	}
}

// Loop backfills once, then ticks on the configured interval and consumes
// update events from events (when not nil) until ctx is cancelled.
func (r *Runner) Loop(ctx context.Context, events EventSource, qName string) {
	if _, err := r.Backfill(ctx); err != nil {
		slog.Warn("Backfill failed", "error", err)
	}

	var wg sync.WaitGroup
	if events != nil {
		if qName == "" {
			qName = queue.UpdateEventsQueue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			events.ListenWithRetry(ctx, qName, func(msg string) { r.HandleMessage(ctx, msg) })
		}()
	}

	interval := r.cfg.Automation.TickInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			slog.Info("Scheduler stopped")
			return
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}
