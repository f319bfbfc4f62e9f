// File: cmd/serve.go
package cmd

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/mailpilot/internal/automation"
	"github.com/xkilldash9x/mailpilot/internal/config"
	"github.com/xkilldash9x/mailpilot/internal/conversation"
	"github.com/xkilldash9x/mailpilot/internal/drafter"
	"github.com/xkilldash9x/mailpilot/internal/observability"
	"github.com/xkilldash9x/mailpilot/internal/realtime"
	"github.com/xkilldash9x/mailpilot/internal/server"
)

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat API, the websocket hub and the send runner",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.ServerCfg.Address = addr
			}
			return runServe(cmd.Context(), cfg, observability.GetLogger())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.address)")
	return cmd
}

// runServe wires every component and blocks until ctx is cancelled or a
// component fails. An in-flight send is aborted and awaited before returning.
func runServe(ctx context.Context, cfg config.Interface, logger *zap.Logger) error {
	logger.Info("mailpilot starting.", zap.String("version", Version), zap.String("address", cfg.Server().Address))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(reg)

	sessions, err := openSessionStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer sessions.close()

	hist, closeHistory, err := openHistory(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeHistory()

	g, gctx := errgroup.WithContext(ctx)

	hub := realtime.NewHub(logger, cfg.Server().AllowedOrigins)
	opts := automation.RunnerOptions{
		Timeout: cfg.Automation().RunTimeout,
		Metrics: metrics,
		Logger:  logger,
	}
	deps := server.Dependencies{
		Engine:   conversation.NewEngine(sessions.store, logger),
		Drafter:  drafter.New(newGenerationClient(ctx, cfg.LLM(), logger), cfg.Drafter(), logger, metrics),
		Hub:      hub,
		Metrics:  metrics,
		Gatherer: reg,
	}
	// Interfaces stay nil rather than holding a nil *history.Store.
	if hist != nil {
		opts.History = hist
		deps.History = hist
	}
	runner := automation.NewRunner(gctx, newSender(cfg, logger), realtime.NewReporter(hub), opts)
	deps.Runner = runner
	defer runner.Wait()

	handlers := server.NewHandlers(logger, cfg.Server(), deps)
	srv := server.New(cfg.Server(), server.NewRouter(handlers, logger), logger)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return srv.Run(gctx)
	})
	if sessions.janitor != nil {
		g.Go(func() error {
			return sessions.janitor(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server stopped: %w", err)
	}
	logger.Info("mailpilot stopped.")
	return nil
}
