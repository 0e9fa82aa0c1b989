package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"stagewright/internal/config"
	"stagewright/internal/daemonrun"
)

// newRootCommand runs the daemon in the foreground. It is equivalent to
// `stagewright daemon run` for service managers that expect a dedicated binary.
func newRootCommand() *cobra.Command {
	var configPath, logLevel string
	var development bool

	cmd := &cobra.Command{
		Use:           "stagewrightd",
		Short:         "stagewright transition daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{LogLevel: logLevel, Development: development})
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Configuration file path")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
	cmd.Flags().BoolVar(&development, "development", false, "Include source locations in log output")
	return cmd
}

func loadConfig(path string) (*config.Config, error) {
	cfg, _, _, err := config.Load(strings.TrimSpace(path))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
