package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kdimtricp/vproctor/internal/api"
	"github.com/kdimtricp/vproctor/internal/models"
	"github.com/kdimtricp/vproctor/internal/poller"
)

type candidateFlags struct {
	assessmentID string
	userID       string
	jsonOutput   bool
}

func (f *candidateFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.assessmentID, "assessment", "", "assessment id")
	cmd.Flags().StringVar(&f.userID, "user", "", "candidate user id")
	cmd.Flags().BoolVar(&f.jsonOutput, "json", false, "output as JSON")
	cmd.MarkFlagRequired("assessment")
	cmd.MarkFlagRequired("user")
}

func newSummaryCmd() *cobra.Command {
	var flags candidateFlags

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show violation counts for a candidate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			summary, err := newClient().Summary(cmd.Context(), flags.assessmentID, flags.userID)
			if err != nil {
				return fmt.Errorf("failed to fetch summary: %w", err)
			}
			if flags.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), summary)
			}
			printSummary(cmd.OutOrStdout(), summary)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newLogsCmd() *cobra.Command {
	var flags candidateFlags
	var limit int

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "List a candidate's violations, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logs, err := newClient().Logs(cmd.Context(), flags.assessmentID, flags.userID)
			if err != nil {
				return fmt.Errorf("failed to fetch logs: %w", err)
			}
			if flags.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), logs)
			}
			printLogs(cmd.OutOrStdout(), logs, limit)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().IntVar(&limit, "limit", 0, "show at most this many entries (0 for all)")
	return cmd
}

func newAssessmentCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "assessment <assessment-id>",
		Short: "Show violation totals for every candidate in an assessment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			all, err := newClient().AssessmentViolations(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to fetch assessment: %w", err)
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), all)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "USER\tTOTAL")
			for user, v := range all.Users {
				fmt.Fprintf(w, "%s\t%d\n", user, v.TotalViolations)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func newWatchCmd() *cobra.Command {
	var flags candidateFlags
	var interval time.Duration
	var debug bool
	var duration time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll a candidate and print whenever the violation total changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}

			out := cmd.OutOrStdout()
			var mu sync.Mutex
			p := poller.New(newClient(), poller.Config{
				AssessmentID: flags.assessmentID,
				UserID:       flags.userID,
				Interval:     interval,
				Debug:        debug,
			}, func(u poller.Update) {
				mu.Lock()
				defer mu.Unlock()
				if flags.jsonOutput {
					writeJSON(out, u)
					return
				}
				fmt.Fprintf(out, "[%s] total violations: %d\n", time.Now().Format(time.TimeOnly), u.Summary.TotalViolations)
				printLogs(out, u.Logs, 1)
			})

			p.Start(ctx)
			<-ctx.Done()
			p.Stop()

			if err := p.LastError(); err != nil && p.Last() == nil {
				return fmt.Errorf("watch never received data: %w", err)
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().DurationVar(&interval, "interval", 0, "poll interval (default 5s, 1s with --debug)")
	cmd.Flags().BoolVar(&debug, "debug", false, "poll at the debug interval")
	cmd.Flags().DurationVar(&duration, "for", 0, "stop after this long (0 runs until interrupted)")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var subject string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an HS256 session token signed with PROCTOR_JWT_SECRET",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := os.Getenv("PROCTOR_JWT_SECRET")
			if secret == "" {
				return fmt.Errorf("PROCTOR_JWT_SECRET is not set")
			}
			token, err := api.IssueToken([]byte(secret), subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "user id the token is issued to")
	cmd.Flags().DurationVar(&ttl, "ttl", 4*time.Hour, "token lifetime")
	cmd.MarkFlagRequired("subject")
	return cmd
}

func printSummary(w io.Writer, summary *models.Summary) {
	fmt.Fprintf(w, "Total violations: %d\n", summary.TotalViolations)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for eventType, count := range summary.Summary {
		fmt.Fprintf(tw, "  %s\t%d\n", models.EventType(eventType).Label(), count)
	}
	tw.Flush()
}

func printLogs(w io.Writer, logs *models.Logs, limit int) {
	entries := logs.Logs
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, v := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", v.Timestamp, v.EventType, v.EventType.Label())
	}
	tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
