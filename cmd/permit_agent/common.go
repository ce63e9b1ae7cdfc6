package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/permit-collector/internal/config"
	"github.com/jonathan/permit-collector/internal/db"
	"github.com/jonathan/permit-collector/internal/observability"
	"github.com/jonathan/permit-collector/internal/types"
)

// loadConfig merges the config file, defaults, environment and persistent flags, in
// increasing order of priority.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	var cfg config.Config
	if configPath != "" {
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			return cfg, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = *loaded
	}
	cfg = cfg.MergeWithDefaults(config.Default())
	cfg.ApplyEnv()

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("log-file") {
		cfg.LogFile = logFile
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = metricsAddr
	}
	if flags.Changed("database-url") {
		cfg.DatabaseURL = databaseURL
	}
	if flags.Changed("verbose") {
		cfg.Verbose = verbose
	}
	return cfg, nil
}

// session holds what every pipeline command needs once its config is final.
type session struct {
	cfg      config.Config
	log      *slog.Logger
	printer  *observability.Printer
	store    *db.DB
	closeLog func() error
}

func newSession(ctx context.Context, cfg config.Config, needStore bool) (*session, error) {
	logger, closeLog, err := observability.NewLogger(observability.LogOptions{
		Level: cfg.LogLevel,
		File:  cfg.LogFile,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	s := &session{
		cfg:      cfg,
		log:      logger,
		printer:  observability.NewPrinter(os.Stdout),
		closeLog: closeLog,
	}

	if cfg.DatabaseURL == "" {
		if needStore {
			_ = closeLog()
			return nil, fmt.Errorf("a database is required: set --database-url or %s", config.EnvDatabaseURL)
		}
		return s, nil
	}

	store, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		_ = closeLog()
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		_ = closeLog()
		return nil, err
	}
	s.store = store
	return s, nil
}

func (s *session) Close() {
	if s.store != nil {
		s.store.Close()
	}
	_ = s.closeLog()
}

// startRun records a run when a database is configured. Persistence problems are
// logged and never stop the pipeline.
func (s *session) startRun(ctx context.Context, kind, target string) uuid.UUID {
	if s.store == nil {
		return uuid.Nil
	}
	id, err := s.store.CreateRun(ctx, kind, target)
	if err != nil {
		s.log.Warn("failed to record run", "kind", kind, "error", err)
		return uuid.Nil
	}
	s.log.Info("run started", "run_id", id, "kind", kind)
	return id
}

func (s *session) finishRun(ctx context.Context, id uuid.UUID, failures []types.ItemFailure, reason string, runErr error) {
	if s.store == nil || id == uuid.Nil {
		return
	}
	// The run context may already be cancelled; the bookkeeping still has to land.
	ctx = context.WithoutCancel(ctx)

	if err := s.store.SaveFailures(ctx, id, failures); err != nil {
		s.log.Warn("failed to save failures", "run_id", id, "error", err)
	}
	if runErr != nil {
		reason = runErr.Error()
	}
	status := db.StatusFor(runErr, len(failures))
	if err := s.store.CompleteRun(ctx, id, status, reason); err != nil {
		s.log.Warn("failed to complete run", "run_id", id, "error", err)
	}
}

// withMetrics runs fn, serving /metrics on addr alongside it when addr is set.
func withMetrics(ctx context.Context, addr string, log *slog.Logger, fn func(ctx context.Context) error) error {
	if addr == "" {
		return fn(ctx)
	}

	g, gctx := errgroup.WithContext(ctx)
	serveCtx, stopServe := context.WithCancel(gctx)
	defer stopServe()

	g.Go(func() error {
		log.Info("serving metrics", "addr", addr)
		if err := observability.Serve(serveCtx, addr); err != nil {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		defer stopServe()
		return fn(gctx)
	})
	return g.Wait()
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	if err := ensureDir(path); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write output file %s: %w", path, err)
	}
	return nil
}

// writeTable writes t as CSV. A table without columns produces an empty file.
func writeTable(path string, t *types.Table) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file %s: %w", path, err)
	}
	defer f.Close()

	if t == nil || len(t.Columns) == 0 {
		return nil
	}
	w := csv.NewWriter(f)
	if err := w.WriteAll(t.Records()); err != nil {
		return fmt.Errorf("failed to write CSV %s: %w", path, err)
	}
	return f.Close()
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}
	return nil
}
