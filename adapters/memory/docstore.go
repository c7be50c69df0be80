// Package memory provides in-memory store implementations.
package memory

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/alistaircroll/pagelove/domain/doc"
	"github.com/alistaircroll/pagelove/ports"
)

// DocStore implements ports.DocumentStore in memory. Published documents are
// immutable: Update builds a private clone under the document's write lock
// and swaps the published pointer, so GET traffic never blocks on writers.
// Mutual exclusion is per document; writes to different documents proceed
// concurrently.
type DocStore struct {
	mu    sync.RWMutex
	docs  map[string]*doc.Document
	locks map[string]*sync.Mutex
	rev   atomic.Int64
}

// NewDocStore creates an empty in-memory document store.
func NewDocStore() *DocStore {
	return &DocStore{
		docs:  make(map[string]*doc.Document),
		locks: make(map[string]*sync.Mutex),
	}
}

// Get returns the published document for a path.
func (s *DocStore) Get(ctx context.Context, path string) (*doc.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[path]
	if !ok {
		return nil, ports.ErrDocumentNotFound
	}
	return d, nil
}

// Snapshot returns a consistent read-only view of the whole store.
func (s *DocStore) Snapshot(ctx context.Context) (ports.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := make(map[string]*doc.Document, len(s.docs))
	paths := make([]string, 0, len(s.docs))
	for p, d := range s.docs {
		docs[p] = d
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return &snapshot{docs: docs, paths: paths, rev: s.rev.Load()}, nil
}

// Update runs fn against a private clone under the document's write lock and
// publishes the clone if fn succeeds. An error from fn discards the clone.
func (s *DocStore) Update(ctx context.Context, path string, fn func(*doc.Document) error) error {
	lock := s.docLock(path)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	cur, ok := s.docs[path]
	s.mu.RUnlock()
	if !ok {
		return ports.ErrDocumentNotFound
	}

	clone := cur.Clone()
	if err := fn(clone); err != nil {
		return err
	}

	s.mu.Lock()
	s.docs[path] = clone
	s.mu.Unlock()
	s.rev.Add(1)
	return nil
}

// Create stores a new document at its path. Like every mutation it holds the
// document's write lock, so it serializes with an in-flight Update.
func (s *DocStore) Create(ctx context.Context, d *doc.Document) error {
	lock := s.docLock(d.Path)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.docs[d.Path]; exists {
		return ports.ErrDocumentExists
	}
	s.docs[d.Path] = d
	s.rev.Add(1)
	return nil
}

// Put stores a document, replacing any existing one at its path.
func (s *DocStore) Put(ctx context.Context, d *doc.Document) error {
	lock := s.docLock(d.Path)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	s.docs[d.Path] = d
	s.mu.Unlock()
	s.rev.Add(1)
	return nil
}

// Delete removes a document.
func (s *DocStore) Delete(ctx context.Context, path string) error {
	lock := s.docLock(path)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[path]; !ok {
		return ports.ErrDocumentNotFound
	}
	delete(s.docs, path)
	s.rev.Add(1)
	return nil
}

// Revision increments on every committed mutation.
func (s *DocStore) Revision() int64 {
	return s.rev.Load()
}

// Close is a no-op for the in-memory store.
func (s *DocStore) Close() error {
	return nil
}

func (s *DocStore) docLock(path string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[path]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[path] = lock
	}
	return lock
}

// snapshot is an immutable view over published documents.
type snapshot struct {
	docs  map[string]*doc.Document
	paths []string
	rev   int64
}

func (s *snapshot) Paths() []string {
	return s.paths
}

func (s *snapshot) Document(path string) (*doc.Document, bool) {
	d, ok := s.docs[path]
	return d, ok
}

func (s *snapshot) Revision() int64 {
	return s.rev
}

// Ensure interface compliance.
var _ ports.DocumentStore = (*DocStore)(nil)
var _ ports.Snapshot = (*snapshot)(nil)
