package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"cartsync/internal/domain"
	"cartsync/internal/security/secretbox"
)

const schema = `
create table if not exists cart_sessions (
	session_id       text primary key,
	state            jsonb not null,
	server_token_enc text not null default '',
	updated_at       timestamptz not null default now()
);
create table if not exists cart_events (
	id         uuid primary key,
	session_id text not null,
	event_type text not null,
	payload    jsonb not null,
	created_at timestamptz not null
);
create index if not exists cart_events_session_created_idx on cart_events (session_id, created_at desc);
`

// Store persists one row per session. Server cart tokens are sealed with a
// secretbox and never written in clear text.
type Store struct {
	db  *sql.DB
	box *secretbox.Box
}

func NewStore(databaseURL, tokenKey string) (*Store, error) {
	box, err := secretbox.New(tokenKey)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, errors.Wrap(err, "ping postgres")
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, errors.Wrap(err, "migrate cart schema")
	}
	return New(db, box), nil
}

func New(db *sql.DB, box *secretbox.Box) *Store {
	return &Store{db: db, box: box}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) State(ctx context.Context, sessionID string) (domain.CartState, error) {
	var raw []byte
	var sealed string
	err := s.db.QueryRowContext(ctx,
		`select state, server_token_enc from cart_sessions where session_id = $1`,
		sessionID,
	).Scan(&raw, &sealed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return emptyState(sessionID), nil
		}
		return domain.CartState{}, errors.Wrap(err, "load cart state")
	}
	return s.decode(sessionID, raw, sealed)
}

func (s *Store) Commit(ctx context.Context, sessionID string, mutation domain.Mutation) (domain.CartState, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.CartState{}, errors.Wrap(err, "begin cart commit")
	}
	defer func() { _ = tx.Rollback() }()

	// make sure there is a row to lock for a brand new session
	if _, err := tx.ExecContext(ctx,
		`insert into cart_sessions(session_id, state, server_token_enc, updated_at)
		 values ($1, '{}'::jsonb, '', now())
		 on conflict (session_id) do nothing`,
		sessionID,
	); err != nil {
		return domain.CartState{}, errors.Wrap(err, "ensure cart row")
	}

	var raw []byte
	var sealed string
	if err := tx.QueryRowContext(ctx,
		`select state, server_token_enc from cart_sessions where session_id = $1 for update`,
		sessionID,
	).Scan(&raw, &sealed); err != nil {
		return domain.CartState{}, errors.Wrap(err, "lock cart row")
	}
	current, err := s.decode(sessionID, raw, sealed)
	if err != nil {
		return domain.CartState{}, err
	}

	next := current.Clone()
	if err := mutation.Apply(&next); err != nil {
		return current, err
	}
	next.UpdatedAt = time.Now().UTC()

	encoded, err := json.Marshal(next)
	if err != nil {
		return current, errors.Wrap(err, "encode cart state")
	}
	sealedToken, err := s.box.Seal(next.ServerToken, sessionID)
	if err != nil {
		return current, errors.Wrap(err, "seal server token")
	}
	if _, err := tx.ExecContext(ctx,
		`update cart_sessions
		 set state = $2::jsonb, server_token_enc = $3, updated_at = $4
		 where session_id = $1`,
		sessionID, string(encoded), sealedToken, next.UpdatedAt,
	); err != nil {
		return current, errors.Wrapf(err, "store cart state (%s)", mutation.Type())
	}
	if err := tx.Commit(); err != nil {
		return current, errors.Wrap(err, "commit cart state")
	}
	return next, nil
}

func (s *Store) decode(sessionID string, raw []byte, sealed string) (domain.CartState, error) {
	state := emptyState(sessionID)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &state); err != nil {
			return domain.CartState{}, errors.Wrap(err, "decode cart state")
		}
	}
	state.SessionID = sessionID
	if state.Items == nil {
		state.Items = []domain.CartItem{}
	}
	token, err := s.box.Open(sealed, sessionID)
	if err != nil {
		return domain.CartState{}, errors.Wrap(err, "open server token")
	}
	state.ServerToken = token
	return state, nil
}

func emptyState(sessionID string) domain.CartState {
	return domain.CartState{SessionID: sessionID, Items: []domain.CartItem{}}
}

func (s *Store) AppendEvent(eventType domain.EventType, sessionID string, payload map[string]interface{}) domain.Event {
	event := domain.Event{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Type:      eventType,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return event
	}
	_, _ = s.db.Exec(
		`insert into cart_events(id, session_id, event_type, payload, created_at)
		 values ($1, $2, $3, $4::jsonb, $5)`,
		event.ID, sessionID, string(eventType), string(raw), event.CreatedAt,
	)
	return event
}

func (s *Store) ListEvents(sessionID string, limit int) []domain.Event {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`select id, session_id, event_type, payload, created_at
		 from cart_events
		 where ($1 = '' or session_id = $1)
		 order by created_at desc
		 limit $2`,
		sessionID, limit,
	)
	if err != nil {
		return []domain.Event{}
	}
	defer rows.Close()

	out := make([]domain.Event, 0, limit)
	for rows.Next() {
		var ev domain.Event
		var eventType string
		var raw []byte
		if err := rows.Scan(&ev.ID, &ev.SessionID, &eventType, &raw, &ev.CreatedAt); err != nil {
			continue
		}
		ev.Type = domain.EventType(eventType)
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &ev.Payload)
		}
		out = append(out, ev)
	}
	return out
}
