package observability

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"DEBUG", slog.LevelDebug, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewLogger_Stderr(t *testing.T) {
	var buf bytes.Buffer
	logger, closeFn, err := NewLogger(LogOptions{Level: "debug", Stderr: &buf})
	require.NoError(t, err)
	defer func() { _ = closeFn() }()

	logger.Debug("scanning page", "page", 1)
	assert.Contains(t, buf.String(), "scanning page")
	assert.Contains(t, buf.String(), "page=1")
}

func TestNewLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.log")
	logger, closeFn, err := NewLogger(LogOptions{File: path})
	require.NoError(t, err)

	logger.Info("run finished", "documents", 3)
	require.NoError(t, closeFn())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"run finished"`)
	assert.Contains(t, string(data), `"documents":3`)
}

func TestNewLogger_BadLevel(t *testing.T) {
	_, _, err := NewLogger(LogOptions{Level: "verbose"})
	assert.Error(t, err)
}

func TestOrDiscard(t *testing.T) {
	assert.NotNil(t, OrDiscard(nil))
	l := slog.Default()
	assert.Same(t, l, OrDiscard(l))
}

func TestMetricsHandler(t *testing.T) {
	before := testutil.ToFloat64(DocumentsCollected)
	DocumentsCollected.Add(2)
	assert.Equal(t, before+2, testutil.ToFloat64(DocumentsCollected))

	ItemFailures.WithLabelValues(PipelineFetch, "fetch_failure").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "permit_documents_collected_total")
	assert.Contains(t, rec.Body.String(), `permit_item_failures_total{kind="fetch_failure",pipeline="fetch"}`)
}
