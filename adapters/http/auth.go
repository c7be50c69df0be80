package http

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/alistaircroll/pagelove/domain/request"
	"github.com/alistaircroll/pagelove/ports"
)

// AnonymousActor is the identity unauthenticated requests run as. Rules may
// still grant it access via the wildcard actor.
const AnonymousActor = "anonymous"

type actorKey struct{}

// Actor is the authenticated identity attached to a request context.
type Actor struct {
	Name  string
	Admin bool
}

// WithActor attaches an actor to a context.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFrom returns the request's actor, defaulting to anonymous.
func ActorFrom(ctx context.Context) Actor {
	if a, ok := ctx.Value(actorKey{}).(Actor); ok {
		return a
	}
	return Actor{Name: AnonymousActor}
}

// BasicAuth resolves HTTP Basic credentials to an actor. Requests without
// credentials proceed as the anonymous actor; wrong credentials are rejected
// outright rather than downgraded.
type BasicAuth struct {
	actors ports.ActorStore
	hasher ports.Hasher
	logger zerolog.Logger
}

// NewBasicAuth creates the authentication middleware.
func NewBasicAuth(actors ports.ActorStore, hasher ports.Hasher, logger zerolog.Logger) *BasicAuth {
	return &BasicAuth{
		actors: actors,
		hasher: hasher,
		logger: logger.With().Str("component", "auth").Logger(),
	}
}

// Middleware is the chi middleware resolving the request actor.
func (b *BasicAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name, pass, ok := r.BasicAuth()
		if !ok {
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), Actor{Name: AnonymousActor})))
			return
		}

		actor, err := b.actors.Get(r.Context(), name)
		if err != nil || !b.hasher.Compare(actor.PasswordHash, pass) {
			b.logger.Debug().Str("actor", name).Msg("authentication failed")
			w.Header().Set("WWW-Authenticate", `Basic realm="pagelove"`)
			writeError(w, &request.ErrorResponse{
				Status:  401,
				Code:    "invalid_credentials",
				Message: "Credentials do not match any actor",
			})
			return
		}

		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), Actor{Name: actor.Name, Admin: actor.Admin})))
	})
}
