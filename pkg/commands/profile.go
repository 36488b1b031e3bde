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
	"InferenceGovernor/pkg/telemetry"
)

type profileFlags struct {
	endpoint string
	output   string
	opts     benchmarking.ProfileOptions
}

func newProfileCmd(a *app) *cobra.Command {
	pf := profileFlags{opts: benchmarking.ProfileOptions{
		MaxSessions: benchmarking.DefaultProfileSessions,
		MemoryLimit: benchmarking.DefaultMemoryLimit,
		Settle:      benchmarking.DefaultSettle,
	}}
	cmd := &cobra.Command{
		Use:     "profile",
		Aliases: []string{"p"},
		Short:   "Measure device memory per open session",
		Long: `Open sessions one at a time, warm each with a single request and record
device memory after every admission. The run stops at --sessions, when the
pool refuses a session, or once memory passes --memory-limit percent. All
sessions are released afterwards and the per-session overhead is used to
estimate how many sessions fit.

Without --endpoint the governor runs in-process and needs a telemetry
source that reports memory. With --endpoint the server's /telemetry is read.

Examples:
  infgov profile --telemetry nvml --backend openai --backend-url http://localhost:8000/v1
  infgov profile --endpoint http://localhost:8080 --sessions 20 -o memory.csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runProfile(cmd.Context(), cmd.OutOrStdout(), pf)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&pf.endpoint, "endpoint", "", "Governor URL to profile (in-process if empty)")
	flags.IntVar(&pf.opts.MaxSessions, "sessions", pf.opts.MaxSessions, "Maximum sessions to open")
	flags.Float64Var(&pf.opts.MemoryLimit, "memory-limit", pf.opts.MemoryLimit, "Stop once device memory exceeds this percentage")
	flags.DurationVar(&pf.opts.Settle, "settle", pf.opts.Settle, "Pause after warming a session before measuring")
	flags.StringVarP(&pf.output, "output", "o", "", "Write steps to this file (.json, .jsonl, .csv, .tsv, .parquet)")
	a.cfg.AddPoolFlags(cmd)
	a.cfg.AddTelemetryFlags(cmd)
	a.cfg.AddBackendFlags(cmd)
	return cmd
}

func (a *app) runProfile(ctx context.Context, w io.Writer, pf profileFlags) error {
	if err := a.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	target, snapshots, cleanup, err := a.profileTarget(ctx, pf.endpoint)
	if err != nil {
		return err
	}
	defer cleanup()

	opts := pf.opts
	opts.Logger = a.logger.Named("profile")
	opts.OnStep = func(s benchmarking.MemoryStep) {
		a.logger.Info("memory step",
			zap.Int("sessions", s.Sessions),
			zap.Uint64("used_bytes", s.UsedBytes),
			zap.Float64("percent", s.Percent),
		)
	}

	profile, err := benchmarking.ProfileMemory(ctx, target, snapshots, opts)
	if err != nil {
		return err
	}

	printProfile(w, profile)

	if pf.output != "" {
		records := make([]exporting.Record, 0, len(profile.Steps))
		for _, s := range profile.Steps {
			records = append(records, s.ToRecord())
		}
		if err := exporting.SaveRecords(pf.output, records); err != nil {
			return fmt.Errorf("writing profile: %w", err)
		}
		fmt.Fprintf(w, "\nResults: %s\n", pf.output)
	}
	return nil
}

// profileTarget pairs a session target with the telemetry that measures it.
func (a *app) profileTarget(ctx context.Context, endpoint string) (benchmarking.Target, benchmarking.SnapshotFunc, func(), error) {
	if endpoint != "" {
		c := client.New(endpoint, a.cfg.Backend.Timeout)
		if _, err := c.Health(ctx); err != nil {
			return nil, nil, nil, fmt.Errorf("%s: %w", endpoint, err)
		}
		snapshots := func(ctx context.Context) (telemetry.Snapshot, error) {
			resp, err := c.Telemetry(ctx)
			if err != nil {
				return telemetry.Snapshot{}, err
			}
			if !resp.Available {
				return telemetry.Snapshot{}, fmt.Errorf("%s: %w", endpoint, telemetry.ErrSourceUnavailable)
			}
			return resp.Snapshot, nil
		}
		return c, snapshots, func() {}, nil
	}

	st, err := buildStack(a.cfg, a.logger)
	if err != nil {
		return nil, nil, nil, err
	}
	if st.poller == nil {
		st.Close()
		return nil, nil, nil, errors.New("memory profiling needs a telemetry source")
	}
	target := &benchmarking.LocalTarget{Pool: st.pool, Dispatcher: st.dispatcher}
	return target, benchmarking.PollerSnapshots(st.poller), st.Close, nil
}

func printProfile(w io.Writer, p benchmarking.MemoryProfile) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Sessions", "Used MB", "Total MB", "Memory", "Delta MB"})
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	for _, s := range p.Steps {
		r := s.ToRecord()
		table.Append([]string{
			strconv.Itoa(s.Sessions),
			fmt.Sprintf("%.1f", r["memory_used_mb"]),
			fmt.Sprintf("%.1f", r["memory_total_mb"]),
			fmt.Sprintf("%.1f%%", s.Percent),
			fmt.Sprintf("%+.1f", r["memory_delta_mb"]),
		})
	}
	table.Render()

	fmt.Fprintf(w, "\nStopped: %s\n", p.StopReason)
	per := p.PerSessionBytes()
	if per <= 0 {
		fmt.Fprintln(w, "No per-session memory growth measured.")
		return
	}
	fmt.Fprintf(w, "Per-session overhead: %.1f MB\n", per/(1<<20))
	if last := p.Steps[len(p.Steps)-1]; last.TotalBytes > 0 {
		fmt.Fprintf(w, "Estimated capacity at %.0f%% of device memory: %d sessions\n",
			benchmarking.EstimateHeadroom*100, p.EstimateSessions(last.TotalBytes))
	}
}
