package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mailtriage/internal/model"
)

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage mail accounts",
}

var acct struct {
	owner        string
	provider     string
	email        string
	host         string
	port         int
	username     string
	password     string
	noTLS        bool
	refreshToken string
}

var accountAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Attach an IMAP or Gmail account to a user",
	Long: `Attach a mailbox to a user. Secrets are sealed with mail.credential_key when set.

  triage account add --owner me@acme.io --provider imap --email me@acme.io \
      --host imap.acme.io --username me --password app-password
  triage account add --owner me@acme.io --provider gmail --email me@gmail.com \
      --refresh-token 1//0g...`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newBase(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		account := &model.Account{
			Provider:     acct.provider,
			Email:        acct.email,
			Host:         acct.host,
			Port:         acct.port,
			Username:     acct.username,
			Password:     acct.password,
			UseTLS:       !acct.noTLS,
			RefreshToken: acct.refreshToken,
		}
		if err := a.authService(0).AddAccount(cmd.Context(), acct.owner, account); err != nil {
			return err
		}
		fmt.Printf("account %d added for user %d\n", account.ID, account.UserID)
		return nil
	},
}

func init() {
	f := accountAddCmd.Flags()
	f.StringVar(&acct.owner, "owner", "", "owner email (the API user)")
	f.StringVar(&acct.provider, "provider", model.ProviderIMAP, "imap or gmail")
	f.StringVar(&acct.email, "email", "", "mailbox address")
	f.StringVar(&acct.host, "host", "", "IMAP host")
	f.IntVar(&acct.port, "port", 0, "IMAP port (default 993)")
	f.StringVar(&acct.username, "username", "", "IMAP username")
	f.StringVar(&acct.password, "password", "", "IMAP password")
	f.BoolVar(&acct.noTLS, "no-tls", false, "disable implicit TLS")
	f.StringVar(&acct.refreshToken, "refresh-token", "", "Gmail OAuth refresh token")
	_ = accountAddCmd.MarkFlagRequired("owner")

	accountCmd.AddCommand(accountAddCmd)
}
