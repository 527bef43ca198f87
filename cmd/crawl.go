package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/realtime-search-crawler/internal/crawler"
)

// crawlFlags override the crawler configuration section for one run.
type crawlFlags struct {
	seeds          []string
	allowedDomains []string
	maxPages       int
	workers        int
}

func (f *crawlFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&f.seeds, "seed", nil, "seed URL (repeatable); defaults to crawler.seeds")
	cmd.Flags().StringSliceVar(&f.allowedDomains, "allowed-domain", nil, "restrict the crawl to this domain and its subdomains (repeatable)")
	cmd.Flags().IntVar(&f.maxPages, "max-pages", 0, "stop admitting URLs after this many pages (0 uses crawler.max_pages)")
	cmd.Flags().IntVar(&f.workers, "workers", 0, "number of concurrent workers (0 uses crawler.workers)")
}

func (f *crawlFlags) params() crawler.JobParameters {
	return crawler.JobParameters{
		Seeds:          f.seeds,
		AllowedDomains: f.allowedDomains,
		MaxPages:       f.maxPages,
		Workers:        f.workers,
	}
}

func newCrawlCmd() *cobra.Command {
	var flags crawlFlags
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run one worker-pool crawl",
		Long: `Crawls from the seeds with a pool of workers until every reachable,
in-scope URL has been fetched or the page budget is spent. Pages are
persisted, near-duplicates are skipped, and the rest are indexed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWithApp(cmd, func(ctx context.Context, a App) error {
				res, err := a.Crawl(ctx, flags.params())
				if err != nil {
					return fmt.Errorf("run crawl: %w", err)
				}
				return writeJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
