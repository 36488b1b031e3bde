package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"InferenceGovernor/pkg/exporting"
	"InferenceGovernor/pkg/telemetry"
)

func newTelemetryCmd(a *app) *cobra.Command {
	var (
		watch  bool
		output string
	)
	cmd := &cobra.Command{
		Use:     "telemetry",
		Aliases: []string{"t"},
		Short:   "Print device telemetry and the derived state",
		Long: `Poll the telemetry source once and print the snapshot as JSON, or with
--watch keep polling and print a line whenever the effective state changes.
With --output every snapshot is also appended to a file, one row per device.

Examples:
  infgov telemetry
  infgov telemetry --telemetry host --watch --poll-interval 1s
  infgov telemetry --watch --output telemetry.jsonl`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runTelemetry(cmd.Context(), cmd.OutOrStdout(), watch, output)
		},
	}
	a.cfg.AddTelemetryFlags(cmd)
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Print state transitions until interrupted")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Also record snapshots to this file ("+strings.Join(exporting.Extensions(), ", ")+")")
	return cmd
}

func (a *app) runTelemetry(ctx context.Context, w io.Writer, watch bool, output string) (err error) {
	if err := a.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	poller, err := openPoller(a.cfg, a.logger)
	if err != nil {
		return err
	}
	defer poller.Close()

	if output != "" {
		var exp *exporting.Exporter
		if exp, err = exporting.NewExporter(output); err != nil {
			return err
		}
		defer func() {
			if cerr := exp.Close(); cerr != nil && err == nil {
				err = fmt.Errorf("writing telemetry: %w", cerr)
			}
		}()
		poller.OnSnapshot(func(s telemetry.Snapshot) {
			if err := recordSnapshot(exp, s); err != nil {
				a.logger.Warn("telemetry export failed", zap.String("path", exp.Path()), zap.Error(err))
			}
		})
	}

	snap := poller.Poll()
	if !watch {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	printState(w, snap)
	last := snap.Effective
	poller.OnSnapshot(func(s telemetry.Snapshot) {
		if s.Effective == last {
			return
		}
		fmt.Fprintf(w, "%s  %s -> %s  %s\n", s.CollectedAt.Format(time.TimeOnly), last, s.Effective, s.Recommendation)
		last = s.Effective
	})
	return poller.Run(ctx)
}

// recordSnapshot appends one row per device and flushes so a watch stopped
// by a signal keeps everything seen so far.
func recordSnapshot(exp *exporting.Exporter, s telemetry.Snapshot) error {
	for _, row := range s.ToRecords() {
		if err := exp.Write(row); err != nil {
			return err
		}
	}
	return exp.Flush()
}

func printState(w io.Writer, s telemetry.Snapshot) {
	fmt.Fprintf(w, "%s  state=%s thermal=%s memory=%s  %s\n",
		s.CollectedAt.Format(time.TimeOnly), s.Effective, s.Thermal, s.Memory, s.Recommendation)
	for _, r := range s.Readings {
		fmt.Fprintf(w, "  [%d] %s  %.0f°C  mem %.1f%%  util %.0f%%  %.0fW\n",
			r.Device, r.Name, r.TemperatureC, r.MemoryPercent(), r.UtilizationPercent, r.PowerW)
	}
}
