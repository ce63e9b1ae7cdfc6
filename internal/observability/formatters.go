// Package observability provides logging, metrics and formatted output for the CLI.
package observability

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/jonathan/permit-collector/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
)

// Printer handles formatted output for verbose mode
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	for _, line := range strings.Split(content, "\n") {
		if len(line) > boxWidth-4 {
			line = line[:boxWidth-7] + "..."
		}
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, line)
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// CollectSummary describes a finished collector run.
type CollectSummary struct {
	Documents    []types.DocumentReference
	Failures     []types.ItemFailure
	PagesVisited int
	Reason       string
}

// PrintCollectSummary outputs documents per year and the first few links.
func (p *Printer) PrintCollectSummary(s CollectSummary) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Pages visited: %d\n", s.PagesVisited))
	sb.WriteString(fmt.Sprintf("Stopped:       %s\n", s.Reason))
	sb.WriteString(fmt.Sprintf("Documents:     %d\n", len(s.Documents)))

	perYear := make(map[int]int)
	for _, d := range s.Documents {
		perYear[d.Year]++
	}
	years := make([]int, 0, len(perYear))
	for y := range perYear {
		years = append(years, y)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(years)))
	for _, y := range years {
		sb.WriteString(fmt.Sprintf("  • %d: %d\n", y, perYear[y]))
	}

	if len(s.Documents) > 0 {
		sb.WriteString("\n")
		count := min(len(s.Documents), maxItemsToShow)
		for i := 0; i < count; i++ {
			sb.WriteString(fmt.Sprintf("%s\n", s.Documents[i].URL))
		}
		if len(s.Documents) > maxItemsToShow {
			sb.WriteString(fmt.Sprintf("... and %d more\n", len(s.Documents)-maxItemsToShow))
		}
	}

	p.printBox("COLLECTED DOCUMENTS", strings.TrimSuffix(sb.String(), "\n"))
	p.PrintFailures(s.Failures)
}

// FetchSummary describes a finished bulk fetch run.
type FetchSummary struct {
	Table     *types.Table
	Documents []types.FetchedDocument
	Failures  []types.ItemFailure
}

// PrintFetchSummary outputs per-identifier row counts and any failures.
func (p *Printer) PrintFetchSummary(s FetchSummary) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Identifiers fetched: %d\n", len(s.Documents)))
	sb.WriteString(fmt.Sprintf("Identifiers failed:  %d\n", len(s.Failures)))
	sb.WriteString(fmt.Sprintf("Combined rows:       %d\n", s.Table.Len()))
	if s.Table != nil {
		sb.WriteString(fmt.Sprintf("Columns:             %d", len(s.Table.Columns)))
	}
	p.printBox("BULK FETCH", sb.String())

	if len(s.Documents) > 0 {
		tw := p.newTable("FETCHED")
		tw.AppendHeader(table.Row{"Identifier", "Rows", "Bytes"})
		for _, d := range s.Documents {
			tw.AppendRow(table.Row{d.Identifier, d.RowCount(), len(d.RawContent)})
		}
		tw.Render()
	}
	p.PrintFailures(s.Failures)
}

// PrintFailures renders failures as a table. Nothing is printed for an empty list.
func (p *Printer) PrintFailures(failures []types.ItemFailure) {
	if len(failures) == 0 {
		return
	}
	tw := p.newTable("FAILURES")
	tw.AppendHeader(table.Row{"Item", "Kind", "Message"})
	for _, f := range failures {
		tw.AppendRow(table.Row{f.Item, f.Kind, f.Message})
	}
	tw.Render()
}

func (p *Printer) newTable(title string) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(p.out)
	tw.SetStyle(table.StyleLight)
	tw.SetTitle(title)
	return tw
}
