package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alistaircroll/pagelove/adapters/memory"
	"github.com/alistaircroll/pagelove/domain/doc"
	"github.com/alistaircroll/pagelove/ports"
)

// DocStore implements ports.DocumentStore using SQLite. Documents are parsed
// into an in-memory cache on open; every committed mutation is written through
// to the documents table before the cache publishes it.
type DocStore struct {
	db    *DB
	cache *memory.DocStore
}

// NewDocStore creates a SQLite document store and loads every stored document
// into the cache.
func NewDocStore(db *DB) (*DocStore, error) {
	s := &DocStore{db: db, cache: memory.NewDocStore()}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *DocStore) load() error {
	rows, err := s.db.Query(`SELECT path, html FROM documents`)
	if err != nil {
		return fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var path, markup string
		if err := rows.Scan(&path, &markup); err != nil {
			return fmt.Errorf("scan document: %w", err)
		}
		d, err := doc.ParseString(path, markup)
		if err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		if err := s.cache.Put(context.Background(), d); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Get returns the published document for a path.
func (s *DocStore) Get(ctx context.Context, path string) (*doc.Document, error) {
	return s.cache.Get(ctx, path)
}

// Snapshot returns a consistent read-only view of the whole store.
func (s *DocStore) Snapshot(ctx context.Context) (ports.Snapshot, error) {
	return s.cache.Snapshot(ctx)
}

// Update runs fn against a private clone, writes the result to the database,
// and publishes it. A write failure discards the clone.
func (s *DocStore) Update(ctx context.Context, path string, fn func(*doc.Document) error) error {
	return s.cache.Update(ctx, path, func(d *doc.Document) error {
		if err := fn(d); err != nil {
			return err
		}
		return s.upsert(ctx, d)
	})
}

// Create stores a new document.
func (s *DocStore) Create(ctx context.Context, d *doc.Document) error {
	if err := s.cache.Create(ctx, d); err != nil {
		return err
	}
	if err := s.upsert(ctx, d); err != nil {
		_ = s.cache.Delete(ctx, d.Path)
		return err
	}
	return nil
}

// Put stores a document, replacing any existing one at its path.
func (s *DocStore) Put(ctx context.Context, d *doc.Document) error {
	if err := s.upsert(ctx, d); err != nil {
		return err
	}
	return s.cache.Put(ctx, d)
}

// Delete removes a document.
func (s *DocStore) Delete(ctx context.Context, path string) error {
	if err := s.cache.Delete(ctx, path); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE path = ?`, path)
	if err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ports.ErrDocumentNotFound
	}
	return nil
}

// Revision increments on every committed mutation.
func (s *DocStore) Revision() int64 {
	return s.cache.Revision()
}

// Close releases the database connection.
func (s *DocStore) Close() error {
	return s.db.Close()
}

func (s *DocStore) upsert(ctx context.Context, d *doc.Document) error {
	markup, err := d.RenderString()
	if err != nil {
		return fmt.Errorf("render %s: %w", d.Path, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (path, html, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET html = excluded.html, updated_at = excluded.updated_at
	`, d.Path, markup, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store %s: %w", d.Path, err)
	}
	return nil
}

// Exists reports whether a row exists for the path, bypassing the cache.
func (s *DocStore) Exists(ctx context.Context, path string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM documents WHERE path = ?`, path).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

var _ ports.DocumentStore = (*DocStore)(nil)
