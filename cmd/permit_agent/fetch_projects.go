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
	"github.com/jonathan/permit-collector/internal/bulk"
	"github.com/jonathan/permit-collector/internal/db"
	"github.com/jonathan/permit-collector/internal/fetch"
	"github.com/jonathan/permit-collector/internal/identifiers"
	"github.com/jonathan/permit-collector/internal/observability"
	"github.com/jonathan/permit-collector/internal/types"
)

var fetchProjectsCmd = &cobra.Command{
	Use:   "fetch-projects",
	Short: "Download and combine the CSV export of every project in an identifier list",
	Long:  "Reads project identifiers (SCH Numbers) from a CSV file, visits each project's detail page, downloads its CSV export and writes all rows to one combined CSV. Identifiers that fail are reported and skipped.",
	RunE:  runFetchProjects,
}

var (
	fetchIDsPath      string
	fetchColumn       string
	fetchOut          string
	fetchFailuresPath string
	fetchStatic       bool
)

func init() {
	fetchProjectsCmd.Flags().StringVarP(&fetchIDsPath, "ids", "i", "", "CSV file containing project identifiers (required)")
	fetchProjectsCmd.Flags().StringVar(&fetchColumn, "column", "", "Identifier column name (default from config: SCH Number)")
	fetchProjectsCmd.Flags().StringVarP(&fetchOut, "out", "o", "", "Output CSV file for the combined table (required)")
	fetchProjectsCmd.Flags().StringVar(&fetchFailuresPath, "failures", "", "Optional JSON file for per-identifier failures")
	fetchProjectsCmd.Flags().BoolVar(&fetchStatic, "static", false, "Use plain HTTP instead of a browser for detail pages")

	if err := fetchProjectsCmd.MarkFlagRequired("ids"); err != nil {
		panic(fmt.Sprintf("failed to mark ids flag as required: %v", err))
	}
	if err := fetchProjectsCmd.MarkFlagRequired("out"); err != nil {
		panic(fmt.Sprintf("failed to mark out flag as required: %v", err))
	}

	rootCmd.AddCommand(fetchProjectsCmd)
}

func runFetchProjects(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("column") {
		cfg.Fetch.IDColumn = fetchColumn
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ids, err := identifiers.ReadFile(fetchIDsPath, cfg.Fetch.IDColumn)
	if err != nil {
		return fmt.Errorf("failed to read identifiers: %w", err)
	}
	unique := identifiers.Unique(ids)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, err := newSession(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer sess.Close()

	sess.log.Info("identifiers loaded", "path", fetchIDsPath, "rows", len(ids), "unique", len(unique))

	return withMetrics(ctx, cfg.MetricsAddr, sess.log, func(ctx context.Context) error {
		return sess.fetchProjects(ctx, unique)
	})
}

func (s *session) fetchProjects(ctx context.Context, ids []types.ProjectIdentifier) error {
	runID := s.startRun(ctx, db.RunKindFetch, fetchIDsPath)

	client := fetch.NewClient(s.cfg.FetchOptions())

	var driver browser.Driver
	if fetchStatic {
		driver = browser.NewStatic(client)
	} else {
		chromeOpts := s.cfg.ChromeOptions()
		chromeOpts.Logger = s.log
		chrome, err := browser.NewChrome(ctx, chromeOpts)
		if err != nil {
			s.finishRun(ctx, runID, nil, "", err)
			return fmt.Errorf("failed to start browser: %w", err)
		}
		driver = chrome
	}
	defer func() { _ = driver.Close() }()

	f, err := bulk.New(driver, client, s.cfg.ToBulk(fetchStatic), s.log)
	if err != nil {
		s.finishRun(ctx, runID, nil, "", err)
		return err
	}

	result, runErr := f.Run(ctx, ids)
	return s.reportFetch(ctx, runID, result, runErr)
}

func (s *session) reportFetch(ctx context.Context, runID uuid.UUID, result *bulk.Result, runErr error) error {
	if result == nil {
		result = &bulk.Result{Table: types.NewTable()}
	}

	if err := writeTable(fetchOut, result.Table); err != nil {
		return errors.Join(runErr, err)
	}
	if fetchFailuresPath != "" {
		failures := result.Failures
		if failures == nil {
			failures = []types.ItemFailure{}
		}
		if err := writeJSON(fetchFailuresPath, failures); err != nil {
			return errors.Join(runErr, err)
		}
	}

	if s.store != nil && runID != uuid.Nil {
		for i := range result.Documents {
			if err := s.store.SaveFetchedDocument(context.WithoutCancel(ctx), runID, &result.Documents[i]); err != nil {
				s.log.Warn("failed to save fetched document", "run_id", runID, "identifier", result.Documents[i].Identifier, "error", err)
			}
		}
	}
	s.finishRun(ctx, runID, result.Failures, "", runErr)

	if s.cfg.Verbose {
		s.printer.PrintFetchSummary(observability.FetchSummary{
			Table:     result.Table,
			Documents: result.Documents,
			Failures:  result.Failures,
		})
	}

	_, _ = fmt.Fprintf(os.Stdout, "Fetched %d projects (%d rows), %d failed\n",
		len(result.Documents), result.Table.Len(), len(result.Failures))
	_, _ = fmt.Fprintf(os.Stdout, "Combined table: %s\n", fetchOut)
	if fetchFailuresPath != "" {
		_, _ = fmt.Fprintf(os.Stdout, "Failures: %s\n", fetchFailuresPath)
	}

	if runErr != nil {
		return fmt.Errorf("bulk fetch stopped early: %w", runErr)
	}
	return nil
}
