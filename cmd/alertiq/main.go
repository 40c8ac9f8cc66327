package main

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/aniiisha-23/alertiq/internal/app"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var dryRun bool

	root := &cobra.Command{
		Use:           "alertiq",
		Short:         "AI-assisted alert email triage",
		Long:          "alertiq polls an inbox for alert emails, classifies each one with an LLM and routes a summary to the matching team, recording every outcome in a flat-file ledger.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New()
			if err != nil {
				return err
			}
			stats, err := a.RunOnce(cmd.Context(), dryRun)
			if err != nil {
				return err
			}
			fmt.Println(stats.String())
			return nil
		},
	}
	root.Flags().BoolVar(&dryRun, "dry-run", false, "classify without sending mail or writing the ledger")

	root.AddCommand(newDaemonCmd(), newTestCmd(), newStatsCmd(), newCleanupCmd())
	return root
}

func newDaemonCmd() *cobra.Command {
	var intervalMinutes int

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run continuously on the configured interval",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New()
			if err != nil {
				return err
			}
			return a.RunDaemon(cmd.Context(), intervalMinutes)
		},
	}
	cmd.Flags().IntVar(&intervalMinutes, "interval", 0, "minutes between passes (0 uses the configured interval)")
	return cmd
}

func newTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Probe Gmail, Gemini, SMTP and ledger connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New()
			if err != nil {
				return err
			}
			fmt.Println("Testing connections:")
			return a.TestConnections(cmd.Context())
		},
	}
}

func newStatsCmd() *cobra.Command {
	var sinceStr string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print ledger statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New()
			if err != nil {
				return err
			}

			var since time.Time
			if sinceStr != "" {
				d, err := time.ParseDuration(sinceStr)
				if err != nil {
					return fmt.Errorf("invalid --since value %q: %w", sinceStr, err)
				}
				since = time.Now().Add(-d)
			}

			summary, err := a.Stats(since)
			if err != nil {
				return err
			}

			fmt.Printf("Total processed: %d\n", summary.Total)
			fmt.Printf("  succeeded: %d\n", summary.Succeeded)
			fmt.Printf("  failed:    %d\n", summary.Failed)
			fmt.Printf("  skipped:   %d\n", summary.Skipped)
			if len(summary.ByAction) > 0 {
				fmt.Println("By action:")
				for action, n := range summary.ByAction {
					fmt.Printf("  %-8s %d\n", action, n)
				}
			}
			if len(summary.ByTeam) > 0 {
				fmt.Println("By team:")
				for team, n := range summary.ByTeam {
					fmt.Printf("  %-30s %d\n", team, n)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sinceStr, "since", "", "only count records processed within this window, e.g. 24h or 168h")
	return cmd
}

func newCleanupCmd() *cobra.Command {
	var keepDays int

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Prune old ledger records",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New()
			if err != nil {
				return err
			}
			removed, err := a.Cleanup(keepDays)
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d records\n", removed)
			return nil
		},
	}
	cmd.Flags().IntVar(&keepDays, "keep-days", 0, "retention window in days (0 uses the configured retention)")
	return cmd
}
