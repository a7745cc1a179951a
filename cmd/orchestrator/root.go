package main

import (
	"fmt"
	"github.com/spf13/cobra"
	"go-supervisor/internal/config"
	"go-supervisor/pkg/logger"
)

var (
	configPath string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:          "orchestrator",
	Short:        "Supervisor-driven multi-agent orchestration",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if err := loaded.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		if err := logger.NewGlobal(loaded.Log.Level, loaded.Log.Pretty); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ./orchestrator.yaml)")
	rootCmd.AddCommand(serveCmd, runCmd, inspectCmd)
}

func Execute() error {
	return rootCmd.Execute()
}
