package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/entrhq/sessionpilot/pkg/auth"
)

var (
	runEmail    string
	runPassword string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Restore or acquire an authenticated session",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp("run")
		if err != nil {
			return err
		}
		defer a.Close()

		if runEmail != "" {
			a.cfg.Account.Email = runEmail
		}
		if runPassword != "" {
			a.cfg.Account.Password = runPassword
		}
		creds, err := a.cfg.Credentials()
		if err != nil {
			return err
		}
		if creds.Email == "" || creds.Password == "" {
			return errors.New("account email and password are required (config, environment or --email/--password)")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		launcher := a.launcher()
		if err := launcher.Initialize(); err != nil {
			return err
		}
		defer func() {
			if err := launcher.Shutdown(); err != nil {
				a.log.Warnf("failed to shut down browser: %v", err)
			}
		}()

		authenticator, err := a.authenticator(launcher)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		res, err := authenticator.Run(ctx, creds)
		if err != nil {
			var sf *auth.StepFailure
			if errors.As(err, &sf) {
				fmt.Fprintf(cmd.ErrOrStderr(), "Step:   %s\nReason: %s\n", sf.Step, sf.Reason)
				if sf.Screenshot != "" {
					fmt.Fprintf(cmd.ErrOrStderr(), "Screenshot: %s\n", sf.Screenshot)
				}
			}
			if path := a.log.LogPath(); path != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "Log: %s\n", path)
			}
			return err
		}

		sess := res.Session
		fmt.Fprintf(out, "Session:  %s\n", sess.ID)
		fmt.Fprintf(out, "Account:  %s\n", sess.AccountIdentity)
		fmt.Fprintf(out, "Restored: %t\n", res.Restored)
		fmt.Fprintf(out, "Expires:  %s\n", sess.ExpiresAt.Local().Format(time.RFC1123))
		fmt.Fprintf(out, "Stored:   %s\n", sess.StoragePath)
		if len(sess.APIConfigIDs) > 0 {
			fmt.Fprintf(out, "API configs: %v\n", sess.APIConfigIDs)
		}
		for _, f := range res.Recovered {
			fmt.Fprintf(out, "Warning: %v\n", f)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runEmail, "email", "", "account email, overrides the configuration")
	runCmd.Flags().StringVar(&runPassword, "password", "", "account password, overrides the configuration")
	rootCmd.AddCommand(runCmd)
}
