package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sekia-ai/primbus/internal/logging"
	"github.com/sekia-ai/primbus/internal/server"
)

var version = "dev"

func main() {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "primd",
		Short: "primd: embedded NATS bus and primitive dispatcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := server.LoadConfig(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			logger, err := logging.New(cfg.Log)
			if err != nil {
				return fmt.Errorf("init logging: %w", err)
			}

			d := server.NewDaemon(cfg, logger)
			d.SetConfigFile(cfgFile)
			return d.Run()
		},
	}

	rootCmd.Version = version
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
