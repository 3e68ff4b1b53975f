package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/docfetcher/internal/crawler"
)

// newModeCmd creates a subcommand that runs one pipeline mode to completion.
func newModeCmd(opts *options, mode, short string) *cobra.Command {
	return &cobra.Command{
		Use:   mode,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMode(cmd, opts, mode)
		},
	}
}

func runMode(cmd *cobra.Command, opts *options, mode string) error {
	runner, logger, err := buildRunner(cmd, opts)
	if err != nil {
		return err
	}
	defer closeRunner(runner, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summaries, err := runner.Execute(ctx, mode)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run %s: %w", mode, err)
	}
	printSummaries(cmd.OutOrStdout(), summaries)
	if ctx.Err() != nil {
		logger.Warn("run interrupted", zap.String("mode", mode))
	}
	return nil
}

// newServeCmd creates the `serve` subcommand.
func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve health, metrics and run status, and accept run requests over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			runner, logger, err := buildRunner(cmd, opts)
			if err != nil {
				return err
			}
			defer closeRunner(runner, logger)
			if err := runner.Serve(cmd.Context()); err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			return nil
		},
	}
}

func closeRunner(runner Runner, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := runner.Close(ctx); err != nil {
		logger.Warn("failed to close application", zap.Error(err))
	}
}

func printSummaries(w io.Writer, summaries []crawler.PhaseSummary) {
	for _, s := range summaries {
		fmt.Fprintf(w, "%-8s run=%s site=%s discovered=%d total=%d duplicates=%d duration=%s\n",
			s.Phase, s.RunID, s.Site, s.Discovered, s.Total, s.Duplicates, s.Duration.Round(time.Millisecond))
	}
}
