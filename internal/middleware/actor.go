package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/dukerupert/chandlery/internal/domain"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey string

const (
	// ActorKindHeader and ActorIDHeader are set by the authenticating gateway
	// in front of the API.
	ActorKindHeader = "X-Actor-Kind"
	ActorIDHeader   = "X-Actor-ID"

	// ActorContextKey is the context key for the calling actor
	ActorContextKey contextKey = "actor"
)

// WithActor reads the gateway identity headers and stores the actor in the
// context. Requests without headers pass through anonymously; malformed
// headers are rejected with 400.
func WithActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		kindHeader := r.Header.Get(ActorKindHeader)
		idHeader := r.Header.Get(ActorIDHeader)
		if kindHeader == "" && idHeader == "" {
			next.ServeHTTP(w, r)
			return
		}

		kind, err := domain.ParseActorKind(kindHeader)
		if err != nil {
			respondWithError(w, r, err)
			return
		}
		id, err := uuid.Parse(idHeader)
		if err != nil || id == uuid.Nil {
			respondBadRequest(w, r, "Invalid "+ActorIDHeader+" header")
			return
		}

		a := domain.Actor{Kind: kind, ID: id}
		ctx := context.WithValue(r.Context(), ActorContextKey, a)
		next.ServeHTTP(w, r.WithContext(withActorLogger(ctx, a)))
	})
}

// RequireActor rejects anonymous requests with 401.
func RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := GetActor(r.Context()); !ok {
			respondUnauthorized(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetActor retrieves the calling actor from the context.
func GetActor(ctx context.Context) (domain.Actor, bool) {
	a, ok := ctx.Value(ActorContextKey).(domain.Actor)
	return a, ok
}

// ContextWithActor returns ctx carrying actor. Used by tests and by handlers
// that act on behalf of the system.
func ContextWithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, ActorContextKey, actor)
}
