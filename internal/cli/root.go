// Package cli is the proctorctl command tree: operator reads against the
// collector plus local photo verification.
package cli

import (
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kdimtricp/vproctor/internal/collector"
)

type GlobalOpts struct {
	Server  string
	Token   string
	Timeout time.Duration
}

var globalOpts GlobalOpts

func GetGlobalOpts() GlobalOpts {
	return globalOpts
}

func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "proctorctl",
		Short: "Inspect exam-integrity violations",
		Long: `proctorctl - operator tool for the proctoring collector

Reads violation summaries and logs for a candidate, watches a candidate live,
issues session tokens, and checks whether a photo passes face verification.`,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	server := os.Getenv("PROCTOR_BACKEND_URL")
	if server == "" {
		server = "http://localhost:8080"
	}

	rootCmd.PersistentFlags().StringVar(&globalOpts.Server, "server", server, "collector base URL (PROCTOR_BACKEND_URL)")
	rootCmd.PersistentFlags().StringVar(&globalOpts.Token, "token", os.Getenv("PROCTOR_TOKEN"), "bearer session token (PROCTOR_TOKEN)")
	rootCmd.PersistentFlags().DurationVar(&globalOpts.Timeout, "timeout", 10*time.Second, "per-request timeout")

	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(
		newSummaryCmd(),
		newLogsCmd(),
		newAssessmentCmd(),
		newWatchCmd(),
		newTokenCmd(),
		newVerifyPhotoCmd(),
	)

	return rootCmd
}

func Execute(stdout, stderr io.Writer) error {
	rootCmd := NewRootCmd()
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	return rootCmd.Execute()
}

func newClient() *collector.Client {
	config := collector.NewConfig(globalOpts.Server, globalOpts.Token)
	config.Timeout = globalOpts.Timeout
	return collector.NewClient(config)
}
