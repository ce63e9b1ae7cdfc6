package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pipeline label values.
const (
	PipelineCollect = "collect"
	PipelineFetch   = "fetch"
)

var (
	PagesVisited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "permit_pages_visited_total",
			Help: "Total number of year pages scanned by the collector.",
		},
	)
	DocumentsCollected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "permit_documents_collected_total",
			Help: "Total number of document references collected.",
		},
	)
	IdentifiersProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "permit_identifiers_processed_total",
			Help: "Total number of project identifiers processed by the bulk fetcher, labeled by outcome.",
		},
		[]string{"outcome"},
	)
	ItemFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "permit_item_failures_total",
			Help: "Total number of per-item failures, labeled by pipeline and failure kind.",
		},
		[]string{"pipeline", "kind"},
	)
	HTTPFetchSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "permit_http_fetch_seconds",
			Help:    "Duration of HTTP GET requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)
	HTTPThrottleSeconds = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "permit_http_throttle_seconds_total",
			Help: "Total time spent waiting on the per-host request throttle.",
		},
	)
)

func init() {
	prometheus.MustRegister(PagesVisited)
	prometheus.MustRegister(DocumentsCollected)
	prometheus.MustRegister(IdentifiersProcessed)
	prometheus.MustRegister(ItemFailures)
	prometheus.MustRegister(HTTPFetchSeconds)
	prometheus.MustRegister(HTTPThrottleSeconds)
}

// Handler returns the /metrics handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
