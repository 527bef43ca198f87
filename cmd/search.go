package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/realtime-search-crawler/internal/ranker"
)

var errNoQuery = errors.New("a search query is required")

type searchOutput struct {
	Query   string          `json:"query"`
	Mode    string          `json:"mode"`
	Results []ranker.Result `json:"results"`
}

func newSearchCmd() *cobra.Command {
	var k int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Rank stored chunks against a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, func(ctx context.Context, a App) error {
				query := strings.TrimSpace(strings.Join(args, " "))
				if query == "" {
					return errNoQuery
				}
				results, mode, err := a.Search(ctx, query, k)
				if err != nil {
					return fmt.Errorf("search: %w", err)
				}
				return writeJSON(cmd.OutOrStdout(), searchOutput{Query: query, Mode: mode, Results: results})
			})
		},
	}
	cmd.Flags().IntVarP(&k, "k", "k", 5, "number of results")
	return cmd
}
