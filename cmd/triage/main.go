package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configEnv string
	configDir string
)

var rootCmd = &cobra.Command{
	Use:   "triage",
	Short: "Mail triage engine",
	Long: `triage syncs mailboxes, classifies new mail with an LLM and keeps a
priority-ordered inbox.

Commands:
  serve    - HTTP API plus the run-request consumer
  cron     - periodic runs for every user with active accounts
  run      - one synchronous run for a user
  migrate  - apply the database schema
  token    - issue an API token
  account  - manage mail accounts`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configEnv, "env", "", "config environment (defaults to CONFIG_ENV or local)")
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "config directory (defaults to CONFIG_DIR or ./config)")

	rootCmd.AddCommand(serveCmd, cronCmd, runCmd, migrateCmd, tokenCmd, accountCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
