package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"github.com/spf13/cobra"
	"go-supervisor/internal/checkpoint"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <run_id>",
	Short: "Print the last checkpoint of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cfg.Checkpoint)
		if err != nil {
			return err
		}
		defer store.Close()

		cp, err := store.Get(cmd.Context(), args[0])
		if errors.Is(err, checkpoint.ErrNotFound) {
			return fmt.Errorf("run %q not found in the %s store", args[0], cfg.Checkpoint.Driver)
		}
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(cp, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}
