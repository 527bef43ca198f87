package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the crawl jobs and search API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWithApp(cmd, func(ctx context.Context, a App) error {
				if err := a.Serve(ctx); err != nil {
					return fmt.Errorf("serve: %w", err)
				}
				return nil
			})
		},
	}
}
