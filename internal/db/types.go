package db

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// RunKind constants
const (
	RunKindCollect = "collect"
	RunKindFetch   = "fetch"
)

// RunStatus constants
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusPartial   = "partial"
	RunStatusFailed    = "failed"
)

// Run represents a collection run record
type Run struct {
	ID          uuid.UUID  `json:"id"`
	Kind        string     `json:"kind"`
	Target      string     `json:"target"`
	Status      string     `json:"status"`
	Reason      *string    `json:"reason,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// StoredDocument is a fetched document as persisted, without its raw content
type StoredDocument struct {
	Identifier string    `json:"identifier"`
	SourceURL  string    `json:"source_url"`
	RowCount   int       `json:"row_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// StatusFor maps the outcome of a pipeline run to a run status. A run stopped
// by cancellation or a deadline kept what it had gathered and is partial.
func StatusFor(err error, failures int) string {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return RunStatusPartial
	case err != nil:
		return RunStatusFailed
	case failures > 0:
		return RunStatusPartial
	default:
		return RunStatusCompleted
	}
}

// ValidKind reports whether kind is a known run kind.
func ValidKind(kind string) bool {
	return kind == RunKindCollect || kind == RunKindFetch
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
