// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"errors"
	"time"

	"github.com/alistaircroll/pagelove/domain/doc"
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// -----------------------------------------------------------------------------
// Document Store Ports
// -----------------------------------------------------------------------------

// ErrDocumentNotFound is returned when no document exists at a path.
var ErrDocumentNotFound = errors.New("document not found")

// ErrDocumentExists is returned when creating over an existing path.
var ErrDocumentExists = errors.New("document already exists")

// Snapshot is a read-only view of every document, taken per request.
// Documents reached through a snapshot must be treated as immutable.
type Snapshot interface {
	// Paths returns every document path in sorted order.
	Paths() []string

	// Document returns the stored document for a path.
	Document(path string) (*doc.Document, bool)

	// Revision is the store revision the snapshot was taken at.
	Revision() int64
}

// DocumentStore holds the named collection of documents. Published documents
// are immutable values: mutations build a private clone under the document's
// write lock and swap the published pointer on success, so readers never
// block writers or each other.
type DocumentStore interface {
	// Get returns the published document for a path.
	Get(ctx context.Context, path string) (*doc.Document, error)

	// Snapshot returns a consistent read-only view of the whole store.
	Snapshot(ctx context.Context) (Snapshot, error)

	// Update runs fn against a private clone of the document under its
	// write lock. If fn returns nil the clone is persisted and published
	// atomically; any error discards the clone entirely (no partial write).
	Update(ctx context.Context, path string, fn func(*doc.Document) error) error

	// Create stores a new document at its path.
	Create(ctx context.Context, d *doc.Document) error

	// Put stores a document, replacing any existing one at its path.
	Put(ctx context.Context, d *doc.Document) error

	// Delete removes a document.
	Delete(ctx context.Context, path string) error

	// Revision increments on every committed mutation. Consumers use it to
	// decide when compiled policy state is stale.
	Revision() int64

	// Close releases store resources.
	Close() error
}

// -----------------------------------------------------------------------------
// Actor Ports
// -----------------------------------------------------------------------------

// ErrActorNotFound is returned when no actor carries the given name.
var ErrActorNotFound = errors.New("actor not found")

// Actor is an authenticated identity.
type Actor struct {
	Name         string
	PasswordHash []byte // bcrypt hash
	Admin        bool
}

// ActorStore resolves actor credentials.
type ActorStore interface {
	// Get retrieves an actor by name.
	Get(ctx context.Context, name string) (Actor, error)
}

// Hasher provides credential hashing.
type Hasher interface {
	// Hash generates a hash from a plaintext value.
	Hash(plaintext string) ([]byte, error)

	// Compare checks if plaintext matches hash.
	Compare(hash []byte, plaintext string) bool
}
