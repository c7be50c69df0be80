package memory

import (
	"context"

	"github.com/alistaircroll/pagelove/ports"
)

// ActorStore implements ports.ActorStore over a fixed actor table, typically
// loaded from configuration at startup.
type ActorStore struct {
	actors map[string]ports.Actor
}

// NewActorStore creates an actor store from a list of actors.
func NewActorStore(actors []ports.Actor) *ActorStore {
	m := make(map[string]ports.Actor, len(actors))
	for _, a := range actors {
		m[a.Name] = a
	}
	return &ActorStore{actors: m}
}

// Get retrieves an actor by name.
func (s *ActorStore) Get(ctx context.Context, name string) (ports.Actor, error) {
	a, ok := s.actors[name]
	if !ok {
		return ports.Actor{}, ports.ErrActorNotFound
	}
	return a, nil
}

var _ ports.ActorStore = (*ActorStore)(nil)
