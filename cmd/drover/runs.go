package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/drover-ai/drover/internal/state"
)

var runsStatus string

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded runs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		dbPath := cfg.State.DBPath
		if dbPath == "" {
			dbPath = state.DefaultDBPath()
		}
		db, err := state.Open(dbPath)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.Migrate(); err != nil {
			return err
		}

		var filter *state.RunStatus
		if runsStatus != "" {
			s := state.RunStatus(runsStatus)
			filter = &s
		}

		runs, err := db.ListRuns(filter)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			color.Yellow("No runs recorded")
			return nil
		}

		for _, r := range runs {
			line := fmt.Sprintf("%-30s %-10s %s", r.ID, r.Status, r.StartedAt.Format("2006-01-02 15:04:05"))
			switch r.Status {
			case state.RunCompleted:
				color.Green(line)
			case state.RunFailed:
				color.Red(line)
			default:
				fmt.Println(line)
			}
			if r.LastCheckpoint != "" {
				fmt.Printf("  last checkpoint: %s\n", r.LastCheckpoint)
			}
		}
		return nil
	},
}

func init() {
	runsCmd.Flags().StringVar(&runsStatus, "status", "", "Filter by status: active, completed, failed, canceled")
}
