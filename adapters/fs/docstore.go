// Package fs provides a filesystem-backed document store. Documents live as
// .html files under a docroot; the store keeps a parsed in-memory cache and
// writes through on every committed mutation.
package fs

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/alistaircroll/pagelove/adapters/memory"
	"github.com/alistaircroll/pagelove/domain/doc"
	"github.com/alistaircroll/pagelove/ports"
)

// DocStore implements ports.DocumentStore over a docroot directory. Reads are
// served from the in-memory cache; writes persist to disk (atomic rename)
// before the cache publishes the new value, so a crash never leaves the cache
// ahead of the filesystem.
type DocStore struct {
	root    string
	cache   *memory.DocStore
	logger  zerolog.Logger
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
}

// Open loads every .html file under root into the cache.
func Open(root string, logger zerolog.Logger) (*DocStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve docroot: %w", err)
	}
	s := &DocStore{
		root:   abs,
		cache:  memory.NewDocStore(),
		logger: logger.With().Str("component", "fsstore").Logger(),
		stopCh: make(chan struct{}),
	}

	count := 0
	err = filepath.WalkDir(abs, func(file string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() || !strings.HasSuffix(file, ".html") {
			return nil
		}
		if err := s.loadFile(file); err != nil {
			return fmt.Errorf("load %s: %w", file, err)
		}
		count++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan docroot: %w", err)
	}

	s.logger.Info().Str("root", abs).Int("documents", count).Msg("docroot loaded")
	return s, nil
}

// Get returns the published document for a path.
func (s *DocStore) Get(ctx context.Context, path string) (*doc.Document, error) {
	return s.cache.Get(ctx, path)
}

// Snapshot returns a consistent read-only view of the whole store.
func (s *DocStore) Snapshot(ctx context.Context) (ports.Snapshot, error) {
	return s.cache.Snapshot(ctx)
}

// Update runs fn against a private clone, persists the result to disk, and
// publishes it. A persist failure discards the clone.
func (s *DocStore) Update(ctx context.Context, path string, fn func(*doc.Document) error) error {
	return s.cache.Update(ctx, path, func(d *doc.Document) error {
		if err := fn(d); err != nil {
			return err
		}
		return s.persist(d)
	})
}

// Create stores a new document and writes its file. The duplicate check runs
// before anything touches the filesystem so an existing file is never
// clobbered.
func (s *DocStore) Create(ctx context.Context, d *doc.Document) error {
	if err := s.cache.Create(ctx, d); err != nil {
		return err
	}
	if err := s.persist(d); err != nil {
		_ = s.cache.Delete(ctx, d.Path)
		return err
	}
	return nil
}

// Put stores a document, replacing any existing one at its path.
func (s *DocStore) Put(ctx context.Context, d *doc.Document) error {
	if err := s.persist(d); err != nil {
		return err
	}
	return s.cache.Put(ctx, d)
}

// Delete removes a document and its file.
func (s *DocStore) Delete(ctx context.Context, path string) error {
	if err := s.cache.Delete(ctx, path); err != nil {
		return err
	}
	if err := os.Remove(s.filePath(path)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

// Revision increments on every committed mutation.
func (s *DocStore) Revision() int64 {
	return s.cache.Revision()
}

// Close stops the watcher, if any.
func (s *DocStore) Close() error {
	close(s.stopCh)
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

// Watch starts watching the docroot for external edits. Changed .html files
// are reloaded into the cache; removed files are evicted.
func (s *DocStore) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	s.watcher = watcher

	// Watch every directory under the docroot (fsnotify is not recursive).
	err = filepath.WalkDir(s.root, func(dir string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return watcher.Add(dir)
		}
		return nil
	})
	if err != nil {
		watcher.Close()
		return fmt.Errorf("watch docroot: %w", err)
	}

	go s.watchLoop()

	s.logger.Info().Str("root", s.root).Msg("watching docroot for changes")
	return nil
}

func (s *DocStore) watchLoop() {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handleEvent(event)

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Error().Err(err).Msg("docroot watcher error")

		case <-s.stopCh:
			return
		}
	}
}

func (s *DocStore) handleEvent(event fsnotify.Event) {
	// New directories must be added to the watch set.
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = s.watcher.Add(event.Name)
			return
		}
	}

	if !strings.HasSuffix(event.Name, ".html") {
		return
	}

	switch {
	case event.Op&(fsnotify.Write|fsnotify.Create) != 0:
		if err := s.loadFile(event.Name); err != nil {
			s.logger.Error().Err(err).Str("file", event.Name).Msg("reload failed, keeping cached copy")
			return
		}
		s.logger.Debug().Str("file", event.Name).Msg("document reloaded")

	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		path := s.storePath(event.Name)
		if err := s.cache.Delete(context.Background(), path); err == nil {
			s.logger.Debug().Str("path", path).Msg("document evicted")
		}
	}
}

func (s *DocStore) loadFile(file string) error {
	raw, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	path := s.storePath(file)

	// The store's own writes echo back as watcher events. Reparsing would
	// mint a fresh generation and reset every version tag, so an ETag just
	// handed to a client would stop matching; skip files whose content is
	// exactly what the cache already renders.
	if cur, err := s.cache.Get(context.Background(), path); err == nil {
		if rendered, err := cur.RenderString(); err == nil && rendered == string(raw) {
			return nil
		}
	}

	d, err := doc.ParseString(path, string(raw))
	if err != nil {
		return err
	}
	return s.cache.Put(context.Background(), d)
}

// persist writes the document to its file via a temp file and rename, so a
// crash mid-write never leaves a truncated document on disk.
func (s *DocStore) persist(d *doc.Document) error {
	markup, err := d.RenderString()
	if err != nil {
		return fmt.Errorf("render %s: %w", d.Path, err)
	}

	file := s.filePath(d.Path)
	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(file), ".pagelove-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.WriteString(markup); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", d.Path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), file); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename %s: %w", d.Path, err)
	}
	return nil
}

// filePath maps a store path like /notes/a.html onto the docroot.
func (s *DocStore) filePath(path string) string {
	return filepath.Join(s.root, filepath.FromSlash(strings.TrimPrefix(path, "/")))
}

// storePath maps an absolute file name back to a store path.
func (s *DocStore) storePath(file string) string {
	rel, err := filepath.Rel(s.root, file)
	if err != nil {
		return "/" + filepath.ToSlash(file)
	}
	return "/" + filepath.ToSlash(rel)
}

var _ ports.DocumentStore = (*DocStore)(nil)
