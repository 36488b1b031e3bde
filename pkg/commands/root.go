// Package commands provides the infgov CLI.
package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"InferenceGovernor/pkg/config"
	"InferenceGovernor/pkg/logging"
)

// app carries what every subcommand shares.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewRootCmd creates the root command with all subcommands. Flag defaults
// come from cfg, so values loaded from file or environment show up in help
// and are overridden only by flags given explicitly.
func NewRootCmd(cfg *config.Config) *cobra.Command {
	a := &app{cfg: cfg, logger: zap.NewNop()}

	var configPath string
	root := &cobra.Command{
		Use:   "infgov",
		Short: "Session admission governor for inference workloads",
		Long: `infgov admits inference sessions under a concurrency ceiling that
tightens when device telemetry reports thermal or memory pressure, and
measures latency and throughput under load.

Commands:
  serve       Run the HTTP API (sessions, chat, telemetry, metrics)
  bench       Drive concurrent clients and record per-level results
  telemetry   Print the current device state, or watch it change
  graph       Render an HTML report from a results file
  config      Print the effective configuration`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}
			a.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = a.logger.Sync()
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (or $"+config.ConfigEnvVar+")")
	cfg.AddLogFlags(root)

	root.AddCommand(
		newServeCmd(a),
		newBenchCmd(a),
		newTelemetryCmd(a),
		newProfileCmd(a),
		newGraphCmd(a),
		newConfigCmd(a),
	)
	return root
}

// Execute loads configuration and runs the root command.
func Execute() {
	cfg, err := config.Load(ConfigPath(os.Args[1:]))
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	if err := NewRootCmd(cfg).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// ConfigPath returns the --config value from args, or $INFGOV_CONFIG when
// the flag is absent. Scanning stops at "--".
func ConfigPath(args []string) string {
	for i, arg := range args {
		switch {
		case arg == "--":
			return os.Getenv(config.ConfigEnvVar)
		case arg == "--config" && i+1 < len(args):
			return args[i+1]
		case strings.HasPrefix(arg, "--config="):
			return strings.TrimPrefix(arg, "--config=")
		}
	}
	return os.Getenv(config.ConfigEnvVar)
}
