package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jonathan/permit-collector/internal/types"
)

// SaveDocumentReferences stores refs for a run, keeping their order
func (db *DB) SaveDocumentReferences(ctx context.Context, runID uuid.UUID, refs []types.DocumentReference) error {
	if len(refs) == 0 {
		return nil
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for i, ref := range refs {
		_, err = tx.Exec(ctx,
			`INSERT INTO document_references (run_id, position, url, year)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (run_id, position) DO UPDATE SET url = $3, year = $4`,
			runID, i, ref.URL, ref.Year,
		)
		if err != nil {
			return fmt.Errorf("failed to insert document reference %d: %w", i, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit document references: %w", err)
	}
	return nil
}

// ListDocumentReferences retrieves the references of a run in collection order
func (db *DB) ListDocumentReferences(ctx context.Context, runID uuid.UUID) ([]types.DocumentReference, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT url, year FROM document_references WHERE run_id = $1 ORDER BY position`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list document references: %w", err)
	}
	defer rows.Close()

	var refs []types.DocumentReference
	for rows.Next() {
		var ref types.DocumentReference
		if err := rows.Scan(&ref.URL, &ref.Year); err != nil {
			return nil, fmt.Errorf("failed to scan document reference: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// SaveFetchedDocument stores the raw export of one identifier
func (db *DB) SaveFetchedDocument(ctx context.Context, runID uuid.UUID, doc *types.FetchedDocument) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO fetched_documents (run_id, identifier, source_url, raw_content, row_count)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (run_id, identifier) DO UPDATE SET
		     source_url = $3, raw_content = $4, row_count = $5, created_at = NOW()`,
		runID, string(doc.Identifier), doc.SourceURL, doc.RawContent, doc.RowCount(),
	)
	if err != nil {
		return fmt.Errorf("failed to save fetched document %s: %w", doc.Identifier, err)
	}
	return nil
}

// ListFetchedDocuments retrieves the documents of a run without their content
func (db *DB) ListFetchedDocuments(ctx context.Context, runID uuid.UUID) ([]StoredDocument, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT identifier, source_url, row_count, created_at
		 FROM fetched_documents WHERE run_id = $1 ORDER BY created_at, identifier`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list fetched documents: %w", err)
	}
	defer rows.Close()

	var docs []StoredDocument
	for rows.Next() {
		var d StoredDocument
		if err := rows.Scan(&d.Identifier, &d.SourceURL, &d.RowCount, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan fetched document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// SaveFailures stores the item failures of a run
func (db *DB) SaveFailures(ctx context.Context, runID uuid.UUID, failures []types.ItemFailure) error {
	if len(failures) == 0 {
		return nil
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, f := range failures {
		_, err = tx.Exec(ctx,
			`INSERT INTO item_failures (run_id, item, kind, message) VALUES ($1, $2, $3, $4)`,
			runID, f.Item, string(f.Kind), f.Message,
		)
		if err != nil {
			return fmt.Errorf("failed to insert failure for %s: %w", f.Item, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit failures: %w", err)
	}
	return nil
}

// ListFailures retrieves the failures of a run in the order they were recorded
func (db *DB) ListFailures(ctx context.Context, runID uuid.UUID) ([]types.ItemFailure, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT item, kind, message FROM item_failures WHERE run_id = $1 ORDER BY id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list failures: %w", err)
	}
	defer rows.Close()

	var failures []types.ItemFailure
	for rows.Next() {
		var f types.ItemFailure
		var kind string
		if err := rows.Scan(&f.Item, &kind, &f.Message); err != nil {
			return nil, fmt.Errorf("failed to scan failure: %w", err)
		}
		f.Kind = types.FailureKind(kind)
		failures = append(failures, f)
	}
	return failures, rows.Err()
}
