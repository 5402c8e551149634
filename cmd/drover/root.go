package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/drover-ai/drover/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "drover",
	Short: "Agent coordination layer",
	Long: `Drover drives a decomposed task plan to completion with autonomous agents.

It tracks which sub-tasks are ready to run given their dependencies, routes
messages between agents, checkpoints execution state for crash recovery,
and wraps model calls in layered resilience policies: classification-driven
retry, iterative self-critique, and ordered failover across providers.`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: XDG config, then .drover.yaml)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkpointsCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(versionCmd)
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromPath(configPath)
	}
	return config.Load()
}
