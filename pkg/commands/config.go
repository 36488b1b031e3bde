package commands

import (
	"github.com/spf13/cobra"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Long: `Print the configuration after defaults, the config file, INFGOV_*
environment variables and flags are applied. The output is a valid config
file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a.cfg.ApplyDefaults()
			data, err := a.cfg.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	a.cfg.AddServerFlags(cmd)
	a.cfg.AddPoolFlags(cmd)
	a.cfg.AddTelemetryFlags(cmd)
	a.cfg.AddBackendFlags(cmd)
	a.cfg.AddBenchFlags(cmd)
	return cmd
}
