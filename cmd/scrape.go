package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-scraper/internal/report"
)

type scrapeOptions struct {
	timeout time.Duration
	quiet   bool
}

func newScrapeCmd() *cobra.Command {
	opts := &scrapeOptions{}
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Runs one full catalog scrape and persists the datasets",
		Long: `Runs the study program, curriculum, course detail, and merge stages once.
Any transport failure after retries, lock timeout, or storage failure aborts the run
with a non-zero exit status.`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{needsApp: "true"},
		RunE: withApp(func(cmd *cobra.Command, a App) error {
			return runScrape(cmd, a, opts)
		}),
	}
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "abort the run after this long (0 disables)")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "do not print the run summary table")
	return cmd
}

func runScrape(cmd *cobra.Command, appInstance App, opts *scrapeOptions) error {
	runner, err := appInstance.Runner()
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}

	ctx := cmd.Context()
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	res, err := runner.Run(ctx)
	if err != nil {
		return fmt.Errorf("scrape: %w", err)
	}
	if !opts.quiet {
		report.Write(cmd.OutOrStdout(), res)
	}
	appInstance.Logger().Info("scrape command finished", zap.String("run_id", res.RunID))
	return nil
}
