package backend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/sirco-team/talky/internal/errs"
)

// SQLite is a local ContentBackend for development and self-hosted
// deployments: one table, one row per path, compare-and-swap enforced
// by matching the stored version in the UPDATE's WHERE clause.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (and migrates) the database at dsn.
func NewSQLite(dsn string) (*SQLite, error) {
	// The caller's DSN may already carry query parameters.
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite3", dsn+sep+"_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	migration := `
	CREATE TABLE IF NOT EXISTS documents (
		path TEXT PRIMARY KEY,
		content BLOB NOT NULL,
		version TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);`
	if _, err := db.Exec(migration); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Read returns the blob stored at path.
func (s *SQLite) Read(ctx context.Context, path string) (Content, error) {
	var c Content
	row := s.db.QueryRowContext(ctx, `SELECT content, version FROM documents WHERE path = ?`, path)
	if err := row.Scan(&c.Data, &c.Version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Content{}, errs.ErrNotFound
		}
		return Content{}, fmt.Errorf("%w: %v", errs.ErrUnavailable, err)
	}
	return c, nil
}

// Write replaces the blob at path if the stored version still matches
// expectedVersion. A fresh UUID becomes the new version token.
func (s *SQLite) Write(ctx context.Context, path string, data []byte, expectedVersion string) (string, error) {
	next := uuid.NewString()
	now := time.Now().UTC()

	if expectedVersion == "" {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO documents (path, content, version, updated_at) VALUES (?, ?, ?, ?)`,
			path, data, next, now)
		if err != nil {
			// A duplicate path means someone created the document first.
			var current string
			if scanErr := s.db.QueryRowContext(ctx, `SELECT version FROM documents WHERE path = ?`, path).Scan(&current); scanErr == nil {
				return "", errs.ErrConflict
			}
			return "", fmt.Errorf("%w: %v", errs.ErrUnavailable, err)
		}
		return next, nil
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET content = ?, version = ?, updated_at = ? WHERE path = ? AND version = ?`,
		data, next, now, path, expectedVersion)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errs.ErrUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("%w: %v", errs.ErrUnavailable, err)
	}
	if n == 0 {
		return "", errs.ErrConflict
	}
	return next, nil
}
