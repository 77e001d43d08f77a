package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sekia-ai/primbus/internal/logging"
	"github.com/sekia-ai/primbus/internal/robotagent"
)

var version = "dev"

func main() {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "prim-robot",
		Short: "prim-robot: receives primitives for one robot and executes them",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := robotagent.LoadConfig(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			logger, err := logging.New(cfg.Log)
			if err != nil {
				return fmt.Errorf("init logging: %w", err)
			}
			logger = logger.With().Uint32("robot_id", cfg.Robot.ID).Logger()

			ra := robotagent.NewAgent(cfg, nil, logger)
			if cfgFile != "" {
				ra.WatchConfig(cfgFile)
			}
			return ra.Run()
		},
	}

	rootCmd.Version = version
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
