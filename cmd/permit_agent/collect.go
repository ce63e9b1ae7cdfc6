package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jonathan/permit-collector/internal/browser"
	"github.com/jonathan/permit-collector/internal/collector"
	"github.com/jonathan/permit-collector/internal/db"
	"github.com/jonathan/permit-collector/internal/observability"
	"github.com/jonathan/permit-collector/internal/types"
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Collect document links from a year-paginated listing",
	Long:  "Loads the listing page in a headless browser, reads every document link of each year page, and advances the year selector until the page limit is reached or no year is left.",
	RunE:  runCollect,
}

var (
	collectRootURL  string
	collectMaxPages int
	collectOut      string
	collectHeadless bool
)

func init() {
	collectCmd.Flags().StringVarP(&collectRootURL, "root-url", "u", "", "Listing page URL (overrides config)")
	collectCmd.Flags().IntVar(&collectMaxPages, "max-pages", 3, "Maximum number of year pages to scan (max: 50)")
	collectCmd.Flags().StringVarP(&collectOut, "out", "o", "", "Output JSON file for document references (required)")
	collectCmd.Flags().BoolVar(&collectHeadless, "headless", true, "Run the browser without a window")

	if err := collectCmd.MarkFlagRequired("out"); err != nil {
		panic(fmt.Sprintf("failed to mark out flag as required: %v", err))
	}

	rootCmd.AddCommand(collectCmd)
}

func runCollect(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// CLI overrides (command-line args take priority)
	if cmd.Flags().Changed("root-url") {
		cfg.Collect.RootURL = collectRootURL
	}
	if cmd.Flags().Changed("max-pages") {
		if collectMaxPages < 0 {
			return fmt.Errorf("--max-pages must be non-negative")
		}
		n := min(collectMaxPages, collector.MaxPagesLimit)
		cfg.Collect.MaxPages = &n
	}
	if cmd.Flags().Changed("headless") {
		cfg.Browser.Headless = &collectHeadless
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, err := newSession(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer sess.Close()

	return withMetrics(ctx, cfg.MetricsAddr, sess.log, func(ctx context.Context) error {
		return sess.collect(ctx)
	})
}

func (s *session) collect(ctx context.Context) error {
	runID := s.startRun(ctx, db.RunKindCollect, s.cfg.Collect.RootURL)

	cc := s.cfg.ToCollector()
	if cc.MaxPages == 0 {
		s.log.Info("max pages is 0, nothing to scan")
		return s.reportCollect(ctx, runID, &collector.Result{Reason: collector.ReasonMaxPages}, nil)
	}

	chromeOpts := s.cfg.ChromeOptions()
	chromeOpts.Logger = s.log
	driver, err := browser.NewChrome(ctx, chromeOpts)
	if err != nil {
		s.finishRun(ctx, runID, nil, "", err)
		return fmt.Errorf("failed to start browser: %w", err)
	}
	defer func() { _ = driver.Close() }()

	c, err := collector.New(driver, cc, s.log)
	if err != nil {
		s.finishRun(ctx, runID, nil, "", err)
		return err
	}

	result, runErr := c.Run(ctx)
	return s.reportCollect(ctx, runID, result, runErr)
}

// reportCollect writes and persists whatever the run produced, including partial
// results of a failed run.
func (s *session) reportCollect(ctx context.Context, runID uuid.UUID, result *collector.Result, runErr error) error {
	if result == nil {
		result = &collector.Result{}
	}
	docs := result.Documents
	if docs == nil {
		docs = []types.DocumentReference{}
	}

	if err := writeJSON(collectOut, docs); err != nil {
		return errors.Join(runErr, err)
	}

	if s.store != nil && runID != uuid.Nil {
		if err := s.store.SaveDocumentReferences(context.WithoutCancel(ctx), runID, docs); err != nil {
			s.log.Warn("failed to save document references", "run_id", runID, "error", err)
		}
	}
	s.finishRun(ctx, runID, result.Failures, string(result.Reason), runErr)

	if s.cfg.Verbose {
		s.printer.PrintCollectSummary(observability.CollectSummary{
			Documents:    docs,
			Failures:     result.Failures,
			PagesVisited: result.PagesVisited,
			Reason:       string(result.Reason),
		})
	}

	_, _ = fmt.Fprintf(os.Stdout, "Collected %d document references from %d year pages\n", len(docs), result.PagesVisited)
	if len(result.Failures) > 0 {
		_, _ = fmt.Fprintf(os.Stdout, "Elements not found: %d\n", len(result.Failures))
	}
	_, _ = fmt.Fprintf(os.Stdout, "References: %s\n", collectOut)

	if runErr != nil {
		return fmt.Errorf("collection stopped early: %w", runErr)
	}
	return nil
}
