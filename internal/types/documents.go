// Package types provides type definitions for the records produced by the collector and bulk fetcher pipelines.
package types

import "fmt"

// DocumentReference is a link to a published document together with the year
// page it was listed under.
type DocumentReference struct {
	URL  string `json:"url"`
	Year int    `json:"year"`
}

// ProjectIdentifier is an opaque key (an SCH Number) naming one project record.
type ProjectIdentifier string

// FetchedDocument is the result of processing one project identifier.
type FetchedDocument struct {
	Identifier ProjectIdentifier `json:"identifier"`
	SourceURL  string            `json:"source_url"`
	RawContent []byte            `json:"-"`
	Table      *Table            `json:"-"`
}

// RowCount returns the number of parsed rows, or 0 when nothing was parsed.
func (d *FetchedDocument) RowCount() int {
	if d == nil || d.Table == nil {
		return 0
	}
	return len(d.Table.Rows)
}

// FailureKind classifies why a single item could not be processed.
type FailureKind string

const (
	// KindElementNotFound means a locator did not resolve within its wait bound
	KindElementNotFound FailureKind = "element_not_found"
	// KindNavigationFailure means the driver could not load a page
	KindNavigationFailure FailureKind = "navigation_failure"
	// KindFetchFailure means an HTTP GET failed or returned undecodable content
	KindFetchFailure FailureKind = "fetch_failure"
	// KindExhaustedPagination means no further year option exists
	KindExhaustedPagination FailureKind = "exhausted_pagination"
)

// FailureKinds lists every kind in a stable order.
var FailureKinds = []FailureKind{
	KindElementNotFound,
	KindNavigationFailure,
	KindFetchFailure,
	KindExhaustedPagination,
}

// ItemFailure records a failure for one row or one identifier. The pipeline that
// produced it keeps going.
type ItemFailure struct {
	Item    string      `json:"item"`
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
}

func (f ItemFailure) String() string {
	return fmt.Sprintf("%s: %s: %s", f.Item, f.Kind, f.Message)
}

// PaginationState is the collector's position within one run. It is advanced
// only by returning a new value from a pagination step.
type PaginationState struct {
	PageIndex    int
	YearsVisited map[int]struct{}
	RowCursor    int
}

// NewPaginationState returns the state for the first year page.
func NewPaginationState() PaginationState {
	return PaginationState{YearsVisited: make(map[int]struct{})}
}

// Visited reports whether year has already been scanned in this run.
func (s PaginationState) Visited(year int) bool {
	_, ok := s.YearsVisited[year]
	return ok
}

// WithYear returns a copy of the state with year marked as visited.
func (s PaginationState) WithYear(year int) PaginationState {
	years := make(map[int]struct{}, len(s.YearsVisited)+1)
	for y := range s.YearsVisited {
		years[y] = struct{}{}
	}
	years[year] = struct{}{}
	s.YearsVisited = years
	return s
}
