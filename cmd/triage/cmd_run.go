package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mailtriage/internal/pipeline"
)

var runUserID int

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run triage once for a user and print the run record",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if runUserID <= 0 {
			return errors.New("--user is required")
		}
		a, err := newApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.close()

		run, err := a.orchestrator.RunNow(cmd.Context(), runUserID, pipeline.TriggerCLI)
		if errors.Is(err, pipeline.ErrRunInProgress) && run != nil {
			return fmt.Errorf("run %s is still in progress", run.ID)
		}
		if run != nil {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			_ = enc.Encode(run)
		}
		return err
	},
}

func init() {
	runCmd.Flags().IntVar(&runUserID, "user", 0, "user id")
}
