package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"cartsync/internal/domain"
)

const maxEvents = 1024

type Store struct {
	mu sync.RWMutex

	carts  map[string]domain.CartState
	events []domain.Event
}

func NewStore() *Store {
	return &Store{
		carts:  make(map[string]domain.CartState),
		events: make([]domain.Event, 0, 256),
	}
}

func (s *Store) State(_ context.Context, sessionID string) (domain.CartState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.load(sessionID), nil
}

func (s *Store) Commit(_ context.Context, sessionID string, mutation domain.Mutation) (domain.CartState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.load(sessionID)
	next := current.Clone()
	if err := mutation.Apply(&next); err != nil {
		return current, err
	}
	next.UpdatedAt = time.Now().UTC()
	s.carts[sessionID] = next
	return next.Clone(), nil
}

// load must be called with s.mu held.
func (s *Store) load(sessionID string) domain.CartState {
	state, ok := s.carts[sessionID]
	if !ok {
		return domain.CartState{SessionID: sessionID, Items: []domain.CartItem{}}
	}
	return state.Clone()
}

func (s *Store) AppendEvent(eventType domain.EventType, sessionID string, payload map[string]interface{}) domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	event := domain.Event{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Type:      eventType,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	s.events = append(s.events, event)
	if len(s.events) > maxEvents {
		s.events = slices.Clone(s.events[len(s.events)-maxEvents:])
	}
	return event
}

// ListEvents returns the newest events first. An empty sessionID lists all
// sessions.
func (s *Store) ListEvents(sessionID string, limit int) []domain.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 20
	}
	out := make([]domain.Event, 0, limit)
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		if sessionID != "" && s.events[i].SessionID != sessionID {
			continue
		}
		out = append(out, s.events[i])
	}
	return out
}
