// Package repository keeps the system of record for documents in
// PostgreSQL: their content, a content hash used to skip no-op writes, and
// the indexing status the consumer reports back.
package repository

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/kvsearch/internal/ingestion"
	apperrors "github.com/Adithya-Monish-Kumar-K/kvsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/kvsearch/pkg/postgres"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id           TEXT PRIMARY KEY,
	content      TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'PENDING',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	indexed_at   TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS documents_status_idx ON documents (status);`

type Repository struct {
	db     *postgres.Client
	logger *slog.Logger
}

func New(db *postgres.Client) *Repository {
	return &Repository{
		db:     db,
		logger: slog.Default().With("component", "document-repository"),
	}
}

// EnsureSchema creates the documents table if it does not exist.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.DB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating documents schema: %w", err)
	}
	return nil
}

// Upsert stores content for docID and marks it PENDING. It reports false,
// and changes nothing, when the document is already INDEXED with identical
// content.
func (r *Repository) Upsert(ctx context.Context, docID, content string) (bool, error) {
	hash := ContentHash(content)
	changed := true
	err := r.db.InTx(ctx, func(tx *sql.Tx) error {
		var existingHash, status string
		err := tx.QueryRowContext(ctx,
			`SELECT content_hash, status FROM documents WHERE id = $1 FOR UPDATE`, docID,
		).Scan(&existingHash, &status)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("reading document %s: %w", docID, err)
		case existingHash == hash && status == ingestion.StatusIndexed:
			changed = false
			return nil
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO documents (id, content, content_hash, status)
			VALUES ($1, $2, $3, 'PENDING')
			ON CONFLICT (id) DO UPDATE
			SET content = EXCLUDED.content,
				content_hash = EXCLUDED.content_hash,
				status = 'PENDING',
				updated_at = NOW()`,
			docID, content, hash)
		if err != nil {
			return fmt.Errorf("upserting document %s: %w", docID, err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

// MarkRemoving flags docID for removal. Unknown or already removed
// documents yield ErrDocumentNotFound.
func (r *Repository) MarkRemoving(ctx context.Context, docID string) error {
	res, err := r.db.DB.ExecContext(ctx,
		`UPDATE documents SET status = 'REMOVING', updated_at = NOW()
		WHERE id = $1 AND status <> 'REMOVED'`, docID)
	if err != nil {
		return fmt.Errorf("marking document %s for removal: %w", docID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("marking document %s for removal: %w", docID, err)
	}
	if n == 0 {
		return apperrors.Newf(apperrors.ErrDocumentNotFound, 404, "document %s not found", docID)
	}
	return nil
}

// SetStatus records the outcome of applying an event.
func (r *Repository) SetStatus(ctx context.Context, docID, status string) error {
	query := `UPDATE documents SET status = $1, updated_at = NOW() WHERE id = $2`
	if status == ingestion.StatusIndexed {
		query = `UPDATE documents SET status = $1, updated_at = NOW(), indexed_at = NOW() WHERE id = $2`
	}
	if _, err := r.db.DB.ExecContext(ctx, query, status, docID); err != nil {
		return fmt.Errorf("setting status of document %s to %s: %w", docID, status, err)
	}
	return nil
}

// Status returns the stored status of docID.
func (r *Repository) Status(ctx context.Context, docID string) (string, error) {
	var status string
	err := r.db.DB.QueryRowContext(ctx, `SELECT status FROM documents WHERE id = $1`, docID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", apperrors.Newf(apperrors.ErrDocumentNotFound, 404, "document %s not found", docID)
	}
	if err != nil {
		return "", fmt.Errorf("reading status of document %s: %w", docID, err)
	}
	return status, nil
}

// ScanLive streams every document that has not been removed to fn, in id
// order. It stops at the first error fn returns.
func (r *Repository) ScanLive(ctx context.Context, fn func(docID, content string) error) error {
	rows, err := r.db.DB.QueryContext(ctx,
		`SELECT id, content FROM documents WHERE status <> 'REMOVED' ORDER BY id`)
	if err != nil {
		return fmt.Errorf("scanning documents: %w", err)
	}
	defer rows.Close()
	var n int
	for rows.Next() {
		var docID, content string
		if err := rows.Scan(&docID, &content); err != nil {
			return fmt.Errorf("reading document row: %w", err)
		}
		if err := fn(docID, content); err != nil {
			return err
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("scanning documents: %w", err)
	}
	r.logger.Debug("document scan finished", "rows", n)
	return nil
}

func ContentHash(content string) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(content)))
}
