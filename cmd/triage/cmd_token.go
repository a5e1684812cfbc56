package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	tokenEmail string
	tokenTTL   time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an API token for a user, creating the user if needed",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newBase(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()
		if a.cfg.JWT.Secret == "" {
			return errors.New("jwt.secret is not configured")
		}

		token, userID, err := a.authService(tokenTTL).IssueToken(cmd.Context(), tokenEmail)
		if err != nil {
			return err
		}
		fmt.Printf("user_id: %d\ntoken: %s\n", userID, token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenEmail, "email", "", "user email")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("email")
}
