package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusFor(t *testing.T) {
	assert.Equal(t, RunStatusCompleted, StatusFor(nil, 0))
	assert.Equal(t, RunStatusPartial, StatusFor(nil, 3))
	assert.Equal(t, RunStatusFailed, StatusFor(errors.New("boom"), 0))
	assert.Equal(t, RunStatusFailed, StatusFor(errors.New("boom"), 2))
	assert.Equal(t, RunStatusPartial, StatusFor(context.Canceled, 0))
	assert.Equal(t, RunStatusPartial, StatusFor(fmt.Errorf("collection stopped early: %w", context.Canceled), 1))
	assert.Equal(t, RunStatusPartial, StatusFor(fmt.Errorf("wait: %w", context.DeadlineExceeded), 0))
}

func TestValidKind(t *testing.T) {
	assert.True(t, ValidKind(RunKindCollect))
	assert.True(t, ValidKind(RunKindFetch))
	assert.False(t, ValidKind("crawl"))
	assert.False(t, ValidKind(""))
}

func TestSchemaEmbedded(t *testing.T) {
	for _, table := range []string{"collection_runs", "document_references", "fetched_documents", "item_failures"} {
		assert.True(t, strings.Contains(Schema, "CREATE TABLE IF NOT EXISTS "+table), table)
	}
	for _, status := range []string{RunStatusRunning, RunStatusCompleted, RunStatusPartial, RunStatusFailed} {
		assert.Contains(t, Schema, "'"+status+"'")
	}
}

func TestNullIfEmpty(t *testing.T) {
	assert.Nil(t, nullIfEmpty(""))
	if got := nullIfEmpty("max_pages_reached"); assert.NotNil(t, got) {
		assert.Equal(t, "max_pages_reached", *got)
	}
}

func TestRunType(t *testing.T) {
	run := Run{Kind: RunKindCollect, Target: "https://example.com", Status: RunStatusRunning}

	assert.Equal(t, RunKindCollect, run.Kind)
	assert.Nil(t, run.Reason)
	assert.Nil(t, run.CompletedAt)
}
