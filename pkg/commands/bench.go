package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"InferenceGovernor/pkg/benchmarking"
	"InferenceGovernor/pkg/client"
	"InferenceGovernor/pkg/exporting"
	"InferenceGovernor/pkg/graphing"
)

func newBenchCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "bench",
		Aliases: []string{"b"},
		Short:   "Measure latency and throughput across concurrency levels",
		Long: `Drive N concurrent virtual clients per level, each opening a session,
sending its requests and releasing the session. Levels run one after
another and each level's result is written to the output file as soon as
it completes.

Without --endpoint the governor runs in-process with the configured pool,
telemetry and backend. With --endpoint a running server is benchmarked
over HTTP after a health check.

Examples:
  infgov bench -c 1,2,4,8 -n 10 -o results.csv
  infgov bench --endpoint http://localhost:8080 -o run.jsonl --report run.html
  infgov bench --backend fixed --telemetry none -c 1,2 -n 3`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runBench(cmd.Context(), cmd.OutOrStdout())
		},
	}

	a.cfg.AddBenchFlags(cmd)
	a.cfg.AddPoolFlags(cmd)
	a.cfg.AddTelemetryFlags(cmd)
	a.cfg.AddBackendFlags(cmd)
	return cmd
}

func (a *app) runBench(ctx context.Context, w io.Writer) error {
	if err := a.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	bc := a.cfg.Bench

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	target, cleanup, err := a.benchTarget(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	exp, err := exporting.NewExporter(bc.Output)
	if err != nil {
		return err
	}

	var writeErr error
	engine := benchmarking.NewEngine(target, benchmarking.Options{
		LevelTimeout: bc.LevelTimeout,
		Logger:       a.logger.Named("bench"),
		OnLevel: func(r benchmarking.Result) {
			a.logger.Info("level complete",
				zap.Int("concurrency", r.Concurrency),
				zap.Int("successful", r.SuccessfulRequests),
				zap.Int("failed", r.FailedRequests),
				zap.Int("rejected_clients", r.RejectedClients),
				zap.Float64("ttft_p50_ms", r.TTFTP50Ms),
				zap.Float64("total_throughput", r.TotalThroughput),
			)
			if err := exp.WriteResult(r); err != nil && writeErr == nil {
				writeErr = err
			}
		},
	})

	results, runErr := engine.Run(ctx, bc.Levels, bc.RequestsPerClient,
		benchmarking.PromptCycle(nil, bc.MaxTokens, bc.Temperature))

	// Parquet refuses to close an empty file; that is only an error once
	// results exist.
	if err := exp.Close(); err != nil && writeErr == nil && len(results) > 0 {
		writeErr = err
	}
	if writeErr != nil {
		return fmt.Errorf("writing results: %w", writeErr)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	if len(results) == 0 {
		return fmt.Errorf("no levels completed")
	}

	printSummary(w, results)
	fmt.Fprintf(w, "\nResults: %s\n", exp.Path())

	if bc.Report != "" {
		if err := graphing.WriteFile(bc.Report, graphing.DefaultTitle, results); err != nil {
			return err
		}
		fmt.Fprintf(w, "Report:  %s\n", bc.Report)
	}
	return nil
}

// benchTarget returns the remote client when an endpoint is configured, or
// an in-process governor otherwise.
func (a *app) benchTarget(ctx context.Context) (benchmarking.Target, func(), error) {
	if ep := a.cfg.Bench.Endpoint; ep != "" {
		c := client.New(ep, a.cfg.Backend.Timeout)
		if _, err := c.Health(ctx); err != nil {
			return nil, nil, fmt.Errorf("%s: %w", ep, err)
		}
		a.logger.Info("benchmarking remote governor", zap.String("endpoint", ep))
		return c, func() {}, nil
	}

	st, err := buildStack(a.cfg, a.logger)
	if err != nil {
		return nil, nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	if st.poller != nil {
		st.poller.Poll()
		go func() {
			defer close(done)
			_ = st.poller.Run(ctx)
		}()
	} else {
		close(done)
	}

	a.logger.Info("benchmarking in-process governor",
		zap.String("backend", a.cfg.Backend.Kind),
		zap.Int("max_sessions", a.cfg.Pool.MaxSessions),
	)
	target := &benchmarking.LocalTarget{Pool: st.pool, Dispatcher: st.dispatcher}
	return target, func() {
		cancel()
		<-done
		st.Close()
	}, nil
}

func printSummary(w io.Writer, results []benchmarking.Result) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{
		"Clients", "OK", "Failed", "Rejected",
		"TTFT p50", "TTFT p99", "Latency p50", "Latency p99",
		"Tok/s", "Throughput",
	})
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	for _, r := range results {
		table.Append([]string{
			strconv.Itoa(r.Concurrency),
			strconv.Itoa(r.SuccessfulRequests),
			strconv.Itoa(r.FailedRequests),
			strconv.Itoa(r.RejectedClients),
			ms(r.TTFTP50Ms),
			ms(r.TTFTP99Ms),
			ms(r.LatencyP50Ms),
			ms(r.LatencyP99Ms),
			fmt.Sprintf("%.1f", r.TokensPerSecondMean),
			fmt.Sprintf("%.1f", r.TotalThroughput),
		})
	}
	table.Render()
}

func ms(v float64) string {
	return fmt.Sprintf("%.1fms", v)
}
