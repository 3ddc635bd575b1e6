// Package cart reconciles the local cart of a session with the remote cart
// backend: it connects server carts, pushes item changes, pulls registered
// carts and recalculates totals.
package cart

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"cartsync/internal/config"
	"cartsync/internal/domain"
	"cartsync/internal/metrics"
	storepkg "cartsync/internal/store"
)

var (
	ErrConnectFailed = errors.New("cart connect failed")
	ErrPushFailed    = errors.New("cart push failed")
	ErrPullFailed    = errors.New("cart pull failed")
	ErrTotalsFailed  = errors.New("cart totals sync failed")
)

// Dispatcher executes network tasks with bounded retries.
type Dispatcher interface {
	Execute(ctx context.Context, task domain.Task) (domain.TaskResult, error)
}

// Publisher receives every recorded sync event.
type Publisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

type ConnectOptions struct {
	GuestCart bool
}

// Result reports what an operation did. Network failures end up in Failure;
// the error return of an operation is reserved for state store failures.
type Result struct {
	Connected    bool             `json:"connected"`
	Pulled       bool             `json:"pulled"`
	Pushed       bool             `json:"pushed"`
	Stale        bool             `json:"stale"`
	TotalsSynced bool             `json:"totals_synced"`
	Skipped      string           `json:"skipped,omitempty"`
	Failure      error            `json:"-"`
	State        domain.CartState `json:"state"`
}

// eventQueueSize bounds the events waiting for publication. Events emitted
// while the queue is full are kept in the store but not published.
const eventQueueSize = 256

type Service struct {
	cfg            config.Config
	store          storepkg.Store
	dispatcher     Dispatcher
	publisher      Publisher
	publishTimeout time.Duration
	logger         *zap.SugaredLogger
	pulls          singleflight.Group
	now            func() time.Time

	publishMu   sync.RWMutex
	closed      bool
	events      chan domain.Event
	publishDone chan struct{}
}

func NewService(cfg config.Config, store storepkg.Store, dispatcher Dispatcher, publisher Publisher, logger *zap.SugaredLogger) *Service {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	timeout := cfg.EventsWebhookTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	s := &Service{
		cfg:            cfg,
		store:          store,
		dispatcher:     dispatcher,
		publisher:      publisher,
		publishTimeout: timeout,
		logger:         logger,
		now:            func() time.Time { return time.Now().UTC() },
	}
	if publisher != nil {
		s.events = make(chan domain.Event, eventQueueSize)
		s.publishDone = make(chan struct{})
		go s.publishLoop()
	}
	return s
}

// Close stops accepting events for publication and waits until the queued
// ones are delivered or ctx is done.
func (s *Service) Close(ctx context.Context) error {
	if s.publisher == nil {
		return nil
	}
	s.publishMu.Lock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	s.publishMu.Unlock()

	select {
	case <-s.publishDone:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "drain cart events")
	}
}

func (s *Service) State(ctx context.Context, session Session) (domain.CartState, domain.SyncDecision, error) {
	state, err := s.store.State(ctx, session.ID)
	if err != nil {
		return domain.CartState{}, domain.SyncDecision{}, err
	}
	return state, s.Decide(state, session), nil
}

func (s *Service) Events(sessionID string, limit int) []domain.Event {
	return s.store.ListEvents(sessionID, limit)
}

// Disconnect forgets the server cart. Items are kept.
func (s *Service) Disconnect(ctx context.Context, session Session) (Result, error) {
	state, err := s.store.Commit(ctx, session.ID, domain.LoadServerToken{Token: ""})
	if err != nil {
		return Result{State: state}, errors.Wrap(err, "disconnect cart")
	}
	s.emit(domain.EventCartDisconnected, session.ID, map[string]interface{}{
		"items": len(state.Items),
	})
	metrics.CartOperations.WithLabelValues("disconnect", metrics.OutcomeSuccess).Inc()
	return Result{State: state}, nil
}

// Clear empties the cart and, when synchronization is enabled, connects a
// fresh server cart. It is a registered cart only with direct backend sync.
func (s *Service) Clear(ctx context.Context, session Session) (Result, error) {
	state, err := s.store.Commit(ctx, session.ID, domain.ResetCart{})
	if err != nil {
		return Result{State: state}, errors.Wrap(err, "clear cart")
	}
	s.emit(domain.EventCartCleared, session.ID, map[string]interface{}{})
	metrics.CartOperations.WithLabelValues("clear", metrics.OutcomeSuccess).Inc()

	if reason := s.syncDisabledReason(session.Env); reason != "" {
		return Result{State: state, Skipped: reason}, nil
	}
	return s.connect(ctx, session, !s.cfg.Orders.DirectBackendSync)
}

func (s *Service) AddItem(ctx context.Context, session Session, item domain.CartItem) (Result, error) {
	if _, err := s.store.Commit(ctx, session.ID, domain.AddItem{Item: item}); err != nil {
		return Result{}, errors.Wrapf(err, "add %q", item.SKU)
	}
	return s.Sync(ctx, session)
}

// UpdateQuantity sets the quantity of a line; zero removes it.
func (s *Service) UpdateQuantity(ctx context.Context, session Session, sku string, options []domain.ItemOption, qty int) (Result, error) {
	mutation := domain.UpdateItemQty{SKU: sku, Options: options, Qty: qty}
	if _, err := s.store.Commit(ctx, session.ID, mutation); err != nil {
		return Result{}, errors.Wrapf(err, "update %q", sku)
	}
	return s.Sync(ctx, session)
}

func (s *Service) RemoveItem(ctx context.Context, session Session, sku string, options []domain.ItemOption) (Result, error) {
	return s.UpdateQuantity(ctx, session, sku, options, 0)
}

// SetShipping changes the totals destination and recalculates totals.
func (s *Service) SetShipping(ctx context.Context, session Session, details domain.ShippingDetails) (Result, error) {
	if _, err := s.store.Commit(ctx, session.ID, domain.SetShipping{Details: details}); err != nil {
		return Result{}, errors.Wrap(err, "set shipping")
	}
	return s.SyncTotals(ctx, session)
}

func (s *Service) attempts() int {
	if s.cfg.Queues.MaxNetworkTaskAttempts < 1 {
		return 1
	}
	return s.cfg.Queues.MaxNetworkTaskAttempts
}

// endpointURL fills {{token}} and {{cartId}} placeholders. Empty values
// remove the placeholder.
func endpointURL(template, userToken, cartID string) string {
	return strings.NewReplacer("{{token}}", userToken, "{{cartId}}", cartID).Replace(template)
}

func (s *Service) emit(eventType domain.EventType, sessionID string, payload map[string]interface{}) domain.Event {
	event := s.store.AppendEvent(eventType, sessionID, payload)
	if s.publisher == nil {
		return event
	}
	s.publishMu.RLock()
	defer s.publishMu.RUnlock()
	if s.closed {
		s.logger.Warnw("cart event not published, service closed", "event_id", event.ID, "event_type", event.Type)
		return event
	}
	select {
	case s.events <- event:
	default:
		s.logger.Warnw("cart event not published, queue full", "event_id", event.ID, "event_type", event.Type)
	}
	return event
}

func (s *Service) publishLoop() {
	defer close(s.publishDone)
	for evt := range s.events {
		ctx, cancel := context.WithTimeout(context.Background(), s.publishTimeout)
		if err := s.publisher.Publish(ctx, evt); err != nil {
			s.logger.Warnw("publish cart event", "event_id", evt.ID, "event_type", evt.Type, "error", err)
		}
		cancel()
	}
}
