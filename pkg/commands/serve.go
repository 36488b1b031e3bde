package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"InferenceGovernor/pkg/serving"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"s"},
		Short:   "Run the HTTP API",
		Long: `Run the governor's HTTP API. Every route is also served under /v1.

Endpoints:
  POST   /sessions           Admit a session (503 with reason when refused)
  DELETE /sessions/{id}      Release a session
  GET    /sessions           List active sessions
  POST   /chat               Run one request on a session
  GET    /telemetry          Latest device readings and derived state
  GET    /telemetry/stream   Websocket feed of every telemetry poll
  GET    /health             Liveness and capacity
  GET    /config             Effective admission settings
  GET    /metrics            Prometheus metrics

Example:
  infgov serve --addr :8080 --max-sessions 16
  infgov serve --telemetry host --backend openai --backend-url http://localhost:8000/v1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runServe(cmd.Context())
		},
	}

	a.cfg.AddServerFlags(cmd)
	a.cfg.AddPoolFlags(cmd)
	a.cfg.AddTelemetryFlags(cmd)
	a.cfg.AddBackendFlags(cmd)
	return cmd
}

func (a *app) runServe(ctx context.Context) error {
	if err := a.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	st, err := buildStack(a.cfg, a.logger)
	if err != nil {
		return err
	}
	defer st.Close()

	srv := serving.New(serving.Deps{
		Config:     a.cfg,
		Pool:       st.pool,
		Dispatcher: st.dispatcher,
		Poller:     st.poller,
		Metrics:    st.metrics,
		Logger:     a.logger,
	})

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.logger.Info("governor starting",
		zap.String("addr", a.cfg.Server.Addr),
		zap.Int("max_sessions", a.cfg.Pool.MaxSessions),
		zap.String("backend", a.cfg.Backend.Kind),
		zap.Bool("telemetry", st.poller != nil),
	)

	g, ctx := errgroup.WithContext(ctx)
	if st.poller != nil {
		g.Go(func() error { return st.poller.Run(ctx) })
	}
	g.Go(func() error { return st.pool.Janitor(ctx, a.cfg.Pool.SweepInterval, a.cfg.Pool.MaxIdle) })
	g.Go(func() error { return srv.Run(ctx) })
	return g.Wait()
}
