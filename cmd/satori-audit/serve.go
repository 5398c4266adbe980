package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/SatoriAU/site-audit/satori/access"
	"github.com/SatoriAU/site-audit/satori/api"
	"github.com/SatoriAU/site-audit/satori/scheduler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and run the scheduler",
	Long: `Start the audit API on backends.listen_addr. Unless --no-scheduler is
given, the monthly report, the daily watch and post-update checks run in the
same process.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the scheduler without the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runWatch,
}

var serveNoScheduler bool

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(watchCmd)

	serveCmd.Flags().BoolVar(&serveNoScheduler, "no-scheduler", false, "Only serve the API")
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func (a *app) eventSource() scheduler.EventSource {
	if a.broker == nil {
		return nil
	}
	return a.broker
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	h := &api.Handlers{
		Config:    a.cfg,
		Reports:   a.reports,
		Runner:    a.runner,
		Runs:      a.runs,
		Snapshots: a.snapshots,
		Mailer:    a.notifier,
		Keys:      a.kv,
		Policy:    access.NewPolicy(a.cfg.Access),
		Renderer:  a.renderer,
		Clock:     a.clock,
	}
	srv := api.NewServer(a.cfg.Backends.ListenAddr, h)

	if !serveNoScheduler {
		go a.runner.Loop(ctx, a.eventSource(), a.cfg.Backends.UpdateQueue)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("API server shutdown error", "error", err)
	}
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	a.runner.Loop(ctx, a.eventSource(), a.cfg.Backends.UpdateQueue)
	return nil
}
