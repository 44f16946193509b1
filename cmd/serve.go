package cmd

import (
	"github.com/spf13/cobra"
)

// newServeCmd creates the 'serve' subcommand, which exposes the
// inspection API over HTTP until interrupted.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serves the read-only inspection API",
		Long: `Runs the HTTP inspection API: health and readiness probes,
Prometheus metrics, the live pass status board, and per-portal crawl
state and pass history. Crawl passes are started with 'glossarize', not
over HTTP.`,

		RunE: runServeCommand,
	}
}

func runServeCommand(cmd *cobra.Command, _ []string) error {
	r, err := resolveRunner(cmd.Context())
	if err != nil {
		return err
	}
	defer closeRunner(r)
	return r.Run(cmd.Context())
}
