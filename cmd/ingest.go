package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newIngestCmd() *cobra.Command {
	var flags crawlFlags
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Run the crawl-clean-chunk-index pipeline",
		Long: `Feeds the seeds into the message-bus pipeline. Pages are fetched,
cleaned to their main content, chunked, embedded and upserted into the
vector store; discovered links loop back through the frontier stage until
the bus is idle.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWithApp(cmd, func(ctx context.Context, a App) error {
				stats, err := a.Ingest(ctx, flags.params())
				if err != nil {
					return fmt.Errorf("run pipeline: %w", err)
				}
				return writeJSON(cmd.OutOrStdout(), stats)
			})
		},
	}
	flags.register(cmd)
	return cmd
}
