package store

import (
	"context"

	"cartsync/internal/domain"
)

// Store is the cart state store. State of an unknown session is an empty
// cart. Commit applies one mutation atomically per session and returns the
// resulting state; when the mutation fails the stored state is unchanged and
// the current state is returned with the error.
type Store interface {
	State(ctx context.Context, sessionID string) (domain.CartState, error)
	Commit(ctx context.Context, sessionID string, mutation domain.Mutation) (domain.CartState, error)

	AppendEvent(eventType domain.EventType, sessionID string, payload map[string]interface{}) domain.Event
	ListEvents(sessionID string, limit int) []domain.Event
}
