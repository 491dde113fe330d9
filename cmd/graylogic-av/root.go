package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// options holds flags shared by every subcommand.
type options struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "graylogic-av",
		Short: "Gray Logic bridge for Samsung MDC displays and Philips TVs",
		Long: `graylogic-av polls commercial displays and TVs, publishes their state to
the Gray Logic MQTT bus and executes commands received over MQTT or the
REST API. Without a subcommand it runs the bridge service.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts.configPath)
		},
	}
	root.SetVersionTemplate(fmt.Sprintf("graylogic-av %s (commit %s, built %s)\n", version, commit, date))
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", getConfigPath(),
		"Config file path (env: GRAYLOGIC_AV_CONFIG)")

	root.AddCommand(
		newRunCmd(opts),
		newDiscoverCmd(opts),
		newProbeCmd(),
		newMigrateCmd(opts),
		newTokenCmd(opts),
	)
	return root
}

func newRunCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the bridge service (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts.configPath)
		},
	}
}

// getConfigPath returns the configuration file path.
// Uses GRAYLOGIC_AV_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_AV_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
