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
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-search-crawler/internal/app"
	"github.com/JakeFAU/realtime-search-crawler/internal/config"
	"github.com/JakeFAU/realtime-search-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-search-crawler/internal/dispatcher"
	"github.com/JakeFAU/realtime-search-crawler/internal/logging"
	"github.com/JakeFAU/realtime-search-crawler/internal/pipeline"
	"github.com/JakeFAU/realtime-search-crawler/internal/ranker"
)

const closeTimeout = 15 * time.Second

// appKeyType is the key for storing the App in the command context.
type appKeyType string

const appKey appKeyType = "app"

// App is the part of *app.App the commands use.
type App interface {
	Crawl(ctx context.Context, p crawler.JobParameters) (dispatcher.Result, error)
	Ingest(ctx context.Context, p crawler.JobParameters) (pipeline.Stats, error)
	Search(ctx context.Context, query string, k int) ([]ranker.Result, string, error)
	Serve(ctx context.Context) error
	Close(ctx context.Context) error
	Logger() *zap.Logger
}

// newApp loads configuration and builds the services. Tests replace it.
var newApp = func(ctx context.Context, cfgPath string) (App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(logging.Config{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return a, nil
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "crawler",
		Short: "Polite web crawler with an ingestion pipeline and hybrid search.",
		Long: `crawler fetches pages politely, drops near-duplicates, and feeds a
chunk/embed/index pipeline whose vector store backs a hybrid
(semantic + BM25) search API.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); CRAWLER_* env vars override it")

	cmd.AddCommand(newCrawlCmd(), newIngestCmd(), newServeCmd(), newSearchCmd())
	return cmd
}

// runWithApp runs fn with the App built by the root command and closes the
// App whatever fn returns.
func runWithApp(cmd *cobra.Command, fn func(ctx context.Context, a App) error) (err error) {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), closeTimeout)
		defer cancel()
		cerr := a.Close(ctx)
		_ = a.Logger().Sync()
		if cerr != nil {
			err = errors.Join(err, fmt.Errorf("close application services: %w", cerr))
		}
	}()
	return fn(cmd.Context(), a)
}

func resolveApp(ctx context.Context) (App, error) {
	a, ok := ctx.Value(appKey).(App)
	if !ok || a == nil {
		return nil, errors.New("application services not initialized")
	}
	return a, nil
}

// Execute runs the CLI until it finishes or the process is signaled.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
