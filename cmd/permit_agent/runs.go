package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/jonathan/permit-collector/internal/db"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent collection runs",
	Long:  "Lists runs recorded in the database, or the references and failures of one run when --id is given.",
	RunE:  runRuns,
}

var (
	runsLimit int
	runsID    string
)

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "Number of runs to list")
	runsCmd.Flags().StringVar(&runsID, "id", "", "Show one run in detail")

	rootCmd.AddCommand(runsCmd)
}

func runRuns(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx := context.Background()
	sess, err := newSession(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer sess.Close()

	if runsID != "" {
		id, err := uuid.Parse(runsID)
		if err != nil {
			return fmt.Errorf("invalid run id %q: %w", runsID, err)
		}
		return showRun(ctx, sess, id)
	}

	runs, err := sess.store.ListRuns(ctx, runsLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		_, _ = fmt.Fprintln(os.Stdout, "No runs recorded")
		return nil
	}

	tw := newTable("RUNS")
	tw.AppendHeader(table.Row{"ID", "Kind", "Status", "Target", "Started", "Duration"})
	for _, r := range runs {
		tw.AppendRow(table.Row{r.ID, r.Kind, r.Status, r.Target, r.CreatedAt.Format(time.DateTime), runDuration(r)})
	}
	tw.Render()
	return nil
}

func showRun(ctx context.Context, sess *session, id uuid.UUID) error {
	run, err := sess.store.GetRun(ctx, id)
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("run %s not found", id)
	}

	reason := ""
	if run.Reason != nil {
		reason = *run.Reason
	}
	_, _ = fmt.Fprintf(os.Stdout, "Run %s (%s) %s\n", run.ID, run.Kind, run.Status)
	_, _ = fmt.Fprintf(os.Stdout, "Target: %s\n", run.Target)
	if reason != "" {
		_, _ = fmt.Fprintf(os.Stdout, "Reason: %s\n", reason)
	}

	switch run.Kind {
	case db.RunKindCollect:
		refs, err := sess.store.ListDocumentReferences(ctx, id)
		if err != nil {
			return err
		}
		tw := newTable("DOCUMENTS")
		tw.AppendHeader(table.Row{"#", "Year", "URL"})
		for i, ref := range refs {
			tw.AppendRow(table.Row{i + 1, ref.Year, ref.URL})
		}
		tw.Render()
	case db.RunKindFetch:
		docs, err := sess.store.ListFetchedDocuments(ctx, id)
		if err != nil {
			return err
		}
		tw := newTable("FETCHED")
		tw.AppendHeader(table.Row{"Identifier", "Rows", "Source"})
		for _, d := range docs {
			tw.AppendRow(table.Row{d.Identifier, d.RowCount, d.SourceURL})
		}
		tw.Render()
	}

	failures, err := sess.store.ListFailures(ctx, id)
	if err != nil {
		return err
	}
	sess.printer.PrintFailures(failures)
	return nil
}

func newTable(title string) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	tw.SetTitle(title)
	return tw
}

func runDuration(r db.Run) string {
	if r.CompletedAt == nil {
		return "-"
	}
	return r.CompletedAt.Sub(r.CreatedAt).Round(time.Second).String()
}
