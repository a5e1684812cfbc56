package main

import (
	"github.com/spf13/cobra"

	"mailtriage/pkg/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newBase(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		if err := db.Migrate(cmd.Context(), a.pool); err != nil {
			return err
		}
		a.logger.Info("Schema applied")
		return nil
	},
}
