package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/drover-ai/drover/internal/checkpoint"
)

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "Inspect and manage saved checkpoints",
}

var checkpointsListCmd = &cobra.Command{
	Use:   "list <task-id>",
	Short: "List checkpoints for a task, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openCheckpointStore()
		if err != nil {
			return err
		}

		ids, err := store.List(args[0])
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			color.Yellow("No checkpoints for %s", args[0])
			return nil
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	},
}

var checkpointsDeleteCmd = &cobra.Command{
	Use:   "delete <checkpoint-id>",
	Short: "Delete a checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openCheckpointStore()
		if err != nil {
			return err
		}

		removed, err := store.Delete(args[0])
		if err != nil {
			return err
		}
		if !removed {
			color.Yellow("Checkpoint %s not found", args[0])
			return nil
		}
		color.Green("Deleted %s", args[0])
		return nil
	},
}

func openCheckpointStore() (*checkpoint.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return checkpoint.NewStore(cfg.Checkpoint.Dir)
}

func init() {
	checkpointsCmd.AddCommand(checkpointsListCmd)
	checkpointsCmd.AddCommand(checkpointsDeleteCmd)
}
