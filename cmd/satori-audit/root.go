package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/SatoriAU/site-audit/satori"
	"github.com/SatoriAU/site-audit/satori/collector"
	"github.com/SatoriAU/site-audit/satori/config"
	"github.com/SatoriAU/site-audit/satori/export"
	"github.com/SatoriAU/site-audit/satori/ledger"
	"github.com/SatoriAU/site-audit/satori/notify"
	"github.com/SatoriAU/site-audit/satori/postgres"
	"github.com/SatoriAU/site-audit/satori/queue"
	"github.com/SatoriAU/site-audit/satori/report"
	"github.com/SatoriAU/site-audit/satori/runlog"
	"github.com/SatoriAU/site-audit/satori/scheduler"
	"github.com/SatoriAU/site-audit/satori/slogger"
	"github.com/SatoriAU/site-audit/satori/snapshot"
	"github.com/SatoriAU/site-audit/satori/store"
)

var (
	configPath string
	memoryMode bool
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "satori-audit",
	Short: "Website maintenance audits and client reports",
	Long: `satori-audit inspects one managed site, scores it, tracks extension
updates over time and produces client-facing service reports.

Examples:
  satori-audit run --test                 # Build a report without saving it
  satori-audit export --format pdf        # Write today's PDF report
  satori-audit serve                      # HTTP API plus scheduler
  satori-audit ledger show plugin akismet # Weekly update lines for one plugin`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			slogger.SetLevel(slog.LevelDebug)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "satori.yaml", "Path to the YAML config file")
	rootCmd.PersistentFlags().BoolVar(&memoryMode, "memory", false, "Use in-process stores instead of Valkey, PostgreSQL and RabbitMQ")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

// app holds the wired services for one command invocation.
type app struct {
	cfg       *config.Config
	clock     satori.Clock
	kv        store.KVStore
	ledger    *ledger.Ledger
	snapshots *snapshot.Manager
	collector *collector.Collector
	reports   *report.Service
	runs      runlog.RunLog
	broker    *queue.Broker
	renderer  export.Renderer
	notifier  *notify.Notifier
	runner    *scheduler.Runner
	closers   []func() error
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if notify.HardenRecipients(cfg) {
		slog.Warn("Notify emails matched the site admin address and were cleared")
	}

	a := &app{cfg: cfg, clock: satori.SystemClock{}}

	if memoryMode {
		a.kv = store.NewMemoryStore()
		a.runs = runlog.NewMemoryLog(a.clock)
	} else {
		kv, err := store.NewValkeyStore(cfg.Backends.ValkeyAddr)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Valkey: %w", err)
		}
		a.kv = kv
		a.closers = append(a.closers, kv.Close)
		a.broker = queue.NewBroker(cfg.Backends.RabbitMQURL)
		a.runs = openRunLog(ctx, cfg, a.clock)
	}

	loc := cfg.Location()
	a.ledger = ledger.New(a.kv, cfg.History.KeepMonths, loc)
	a.snapshots = snapshot.NewManager(a.kv)
	registry := collector.NewFileRegistry(cfg.Host.FactsFile, cfg.Host.HtaccessPath)
	a.collector = collector.New(registry, collector.NewHTTPClient(), cfg.Service.SiteURL, a.clock)
	a.reports = report.NewService(cfg, report.Deps{
		Collector: a.collector,
		Ledger:    a.ledger,
		Snapshots: a.snapshots,
		Store:     a.kv,
		Clock:     a.clock,
	})

	if cfg.PDF.RendererPath != "" {
		a.renderer = export.NewCommandRenderer(cfg.PDF.RendererPath, cfg.PDF.Timeout)
	}

	var transport notify.Transport = notify.LogTransport{}
	if a.broker != nil {
		transport = notify.NewQueueTransport(a.broker, cfg.Backends.MailQueue)
	}
	a.notifier = notify.New(cfg, transport, a.renderer, a.clock)

	a.runner = scheduler.NewRunner(cfg, scheduler.Deps{
		Reports:   a.reports,
		Collector: a.collector,
		Ledger:    a.ledger,
		Snapshots: a.snapshots,
		Runs:      a.runs,
		Mailer:    a.notifier,
		Store:     a.kv,
		Clock:     a.clock,
	})
	return a, nil
}

// openRunLog falls back to an in-process log when PostgreSQL is down; the
// run log is not needed to produce reports.
func openRunLog(ctx context.Context, cfg *config.Config, clock satori.Clock) runlog.RunLog {
	db, err := postgres.Open(cfg.Backends.PostgresDSN)
	if err == nil {
		err = postgres.Ping(ctx, db)
	}
	if err != nil {
		slog.Warn("Run log database unavailable, using in-memory run log", "error", err)
		return runlog.NewMemoryLog(clock)
	}
	return runlog.NewRepository(db, clock)
}

func (a *app) Close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			slog.Warn("Error during shutdown", "error", err)
		}
	}
}
