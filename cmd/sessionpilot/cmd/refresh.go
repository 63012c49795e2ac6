package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/entrhq/sessionpilot/pkg/auth"
)

var (
	refreshEvery time.Duration
	refreshOnce  bool
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Re-authenticate whenever no captured API configuration is fresh",
	Long: `refresh checks whether an active API configuration was captured within its
update frequency. If none was, it re-runs the authenticator for the most
recently used session, or logs the configured account in from scratch.
The check repeats every --every until interrupted unless --once is set.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp("refresh")
		if err != nil {
			return err
		}
		defer a.Close()

		fallback, err := a.cfg.Credentials()
		if err != nil {
			return err
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
		refresher, err := auth.NewRefresher(a.repo, a.sessions, authenticator, a.credentialsFor, fallback, a.log.With("refresh"))
		if err != nil {
			return err
		}

		if !refreshOnce {
			every := a.cfg.Refresh.Every
			if cmd.Flags().Changed("every") {
				every = refreshEvery
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Checking every %s, interrupt to stop.\n", every)
			if err := refresher.Loop(ctx, every); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		}

		out, err := refresher.Check(ctx)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if !out.Refreshed() {
			fmt.Fprintf(w, "API config %d is fresh, nothing to do.\n", out.Fresh.ID)
			return nil
		}
		fmt.Fprintf(w, "Refreshed: %s\n", out.Account)
		if out.Result != nil && out.Result.Session != nil {
			fmt.Fprintf(w, "Session:   %s (restored: %t)\n", out.Result.Session.ID, out.Result.Restored)
		}
		return nil
	},
}

func init() {
	refreshCmd.Flags().DurationVar(&refreshEvery, "every", auth.DefaultRefreshInterval, "interval between freshness checks, overrides refresh.every")
	refreshCmd.Flags().BoolVar(&refreshOnce, "once", false, "run a single check and exit")
	rootCmd.AddCommand(refreshCmd)
}
