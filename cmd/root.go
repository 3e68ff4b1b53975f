// Package cmd defines and implements the CLI commands for the docfetcher executable.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/docfetcher/internal/app"
	"github.com/JakeFAU/docfetcher/internal/config"
	"github.com/JakeFAU/docfetcher/internal/crawler"
	"github.com/JakeFAU/docfetcher/internal/logging"
)

// Runner is the part of app.App the commands use. Tests swap in a fake.
type Runner interface {
	Execute(ctx context.Context, mode string) ([]crawler.PhaseSummary, error)
	Serve(ctx context.Context) error
	Close(ctx context.Context) error
}

// newRunner is the application factory. It's a variable so tests can replace it.
var newRunner = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (Runner, error) {
	return app.Build(ctx, cfg, logger)
}

type options struct {
	configPath  string
	overwrite   bool
	workers     int
	maxPages    int
	maxArticles int
}

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "docfetcher",
		Short: "Incrementally discover and extract documents from paginated web sources.",
		Long: `docfetcher walks paginated listing pages, collects the links it has not
seen before and extracts the linked documents, falling back to OCR for
scanned PDFs. Results are kept in append-only JSONL snapshots so every run
only fetches what is missing.`,
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "config file (YAML, TOML or JSON)")
	flags.BoolVar(&opts.overwrite, "overwrite", false, "re-extract articles that already exist")
	flags.IntVar(&opts.workers, "workers", 0, "worker pool size per phase")
	flags.IntVar(&opts.maxPages, "max-pages", 0, "listing pages to walk per target (0 = until the end)")
	flags.IntVar(&opts.maxArticles, "max-articles", 0, "articles to extract per run (0 = unlimited)")

	cmd.AddCommand(
		newModeCmd(opts, app.ModeFetch, "Discover links, then extract articles"),
		newModeCmd(opts, app.ModeLinks, "Discover links only"),
		newModeCmd(opts, app.ModeArticles, "Extract articles for the stored links"),
		newServeCmd(opts),
	)
	return cmd
}

// loadConfig reads the config file and applies the flags that were set.
func loadConfig(cmd *cobra.Command, opts *options) (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	flags := cmd.Flags()
	if flags.Changed("overwrite") {
		cfg.Fetcher.OverwriteExisting = opts.overwrite
	}
	if flags.Changed("workers") {
		cfg.Fetcher.Workers = opts.workers
	}
	if flags.Changed("max-pages") {
		cfg.Fetcher.MaxPages = opts.maxPages
	}
	if flags.Changed("max-articles") {
		cfg.Fetcher.MaxArticles = opts.maxArticles
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, nil
}

// buildRunner loads config, builds the logger and the application.
func buildRunner(cmd *cobra.Command, opts *options) (Runner, *zap.Logger, error) {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.NewWithLevel(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("logger init failed: %w", err)
	}
	runner, err := newRunner(cmd.Context(), cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize application services: %w", err)
	}
	return runner, logger, nil
}

// Execute is the main entry point.
func Execute() {
	logger, err := logging.New(false)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		logger.Fatal("command execution failed", zap.Error(err))
	}
}
