package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/entrhq/sessionpilot/pkg/mail"
)

var mailAccount string

var mailCmd = &cobra.Command{
	Use:   "mail",
	Short: "Verification mailbox tools",
}

var mailCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Print the code in the latest message from the sender without recording it",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp("mail")
		if err != nil {
			return err
		}
		defer a.Close()

		dir, err := a.mailDirectory()
		if err != nil {
			return err
		}
		if dir == nil {
			return errors.New("no mailbox configured (email.imap_host and email.username)")
		}
		account := mailAccount
		if account == "" {
			account = a.cfg.Account.Email
		}
		resolver, ok := dir.For(account)
		if !ok {
			return fmt.Errorf("no mailbox configured for %s", account)
		}

		code, msg, err := resolver.Peek(cmd.Context())
		switch {
		case errors.Is(err, mail.ErrNoMessage):
			fmt.Fprintf(cmd.OutOrStdout(), "No message from %s.\n", a.cfg.Email.Sender)
			return nil
		case errors.Is(err, mail.ErrNoCode):
			fmt.Fprintf(cmd.OutOrStdout(), "Latest message %s has no code.\n", msg.Key())
			return nil
		case err != nil:
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Code:     %s\n", code)
		fmt.Fprintf(out, "Message:  %s\n", msg.Key())
		fmt.Fprintf(out, "Received: %s\n", msg.Date.Local().Format(time.RFC1123))
		return nil
	},
}

func init() {
	mailCheckCmd.Flags().StringVar(&mailAccount, "account", "", "account whose mailbox to check, defaults to the configured account")
	mailCmd.AddCommand(mailCheckCmd)
	rootCmd.AddCommand(mailCmd)
}
