package cart

import (
	"context"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/goccy/go-json"

	"cartsync/internal/domain"
	"cartsync/internal/metrics"
)

// Sync reconciles the local cart with the server cart. It connects a server
// cart if needed, merges a registered server cart once per connection, pushes
// changed items and then recalculates totals, whether or not the push
// succeeded.
func (s *Service) Sync(ctx context.Context, session Session) (Result, error) {
	state, err := s.store.State(ctx, session.ID)
	if err != nil {
		return Result{}, errors.Wrap(err, "load cart state")
	}
	if reason := s.syncDisabledReason(session.Env); reason != "" {
		return Result{State: state, Skipped: reason}, nil
	}
	if !IsSyncRequired(state) {
		return Result{State: state, Skipped: SkipUpToDate}, nil
	}

	var result Result
	if !IsCartConnected(state) {
		connected, err := s.connect(ctx, session, session.UserToken == "")
		if err != nil {
			return connected, err
		}
		if connected.Failure != nil {
			return connected, nil
		}
		if !connected.Connected {
			connected.Skipped = SkipNotConnected
			return connected, nil
		}
		result.Connected = true
		state = connected.State
	}

	if shouldPull(state, session) {
		pulled, ok, err := s.pull(ctx, session)
		if err != nil {
			return Result{State: state}, err
		}
		if ok {
			result.Pulled = true
			state = pulled
		}
	}

	hash := domain.ComputeHash(state.Items)
	if hash != state.ItemsHash {
		pushed, err := s.push(ctx, session, &result)
		if err != nil {
			return Result{State: pushed}, err
		}
		state = pushed
	}

	// Totals do not depend on the push outcome. UpdateTotals drops totals
	// computed for items that changed in the meantime.
	if IsCartConnected(state) && IsTotalsSyncRequired(state) && s.IsTotalsSyncEnabled(session.Env) {
		totals, err := s.syncTotals(ctx, session, state)
		if err != nil {
			return Result{State: state}, err
		}
		result.TotalsSynced = totals.TotalsSynced
		result.Stale = result.Stale || totals.Stale
		result.Failure = errors.CombineErrors(result.Failure, totals.Failure)
		state = totals.State
	}
	result.State = state
	return result, nil
}

// push sends the full item list and commits its hash when it is still the
// latest push and the items did not change meanwhile.
func (s *Service) push(ctx context.Context, session Session, result *Result) (domain.CartState, error) {
	reserved, err := s.store.Commit(ctx, session.ID, domain.ReservePush{})
	if errors.Is(err, domain.ErrNotConnected) {
		result.Stale = true
		return reserved, nil
	}
	if err != nil {
		return reserved, errors.Wrap(err, "reserve cart push")
	}
	seq := reserved.PushSeq
	hash := domain.ComputeHash(reserved.Items)

	_, err = s.dispatcher.Execute(ctx, domain.Task{
		URL:      endpointURL(s.cfg.Cart.UpdateEndpoint, session.UserToken, reserved.ServerToken),
		Method:   http.MethodPost,
		Payload:  map[string]interface{}{"cartItems": reserved.Items},
		Attempts: s.attempts(),
	})
	if err != nil {
		result.Failure = errors.Mark(errors.Wrap(err, "push cart items"), ErrPushFailed)
		s.logger.Warnw("cart push failed", "session_id", session.ID, "seq", seq, "error", err)
		s.emit(domain.EventCartPushFailed, session.ID, map[string]interface{}{
			"seq":   seq,
			"error": err.Error(),
		})
		metrics.CartOperations.WithLabelValues("push", metrics.OutcomeFailure).Inc()
		return reserved, nil
	}

	committed, err := s.store.Commit(ctx, session.ID, domain.CompletePush{Seq: seq, Hash: hash})
	if errors.Is(err, domain.ErrStaleResult) {
		s.logger.Debugw("stale cart push discarded", "session_id", session.ID, "seq", seq, "current_seq", committed.PushSeq)
		metrics.CartOperations.WithLabelValues("push", metrics.OutcomeStale).Inc()
		result.Stale = true
		return committed, nil
	}
	if err != nil {
		return committed, errors.Wrap(err, "commit cart push")
	}
	result.Pushed = true
	s.emit(domain.EventCartPushed, session.ID, map[string]interface{}{
		"seq":   seq,
		"items": len(committed.Items),
	})
	metrics.CartOperations.WithLabelValues("push", metrics.OutcomeSuccess).Inc()
	return committed, nil
}

// pull merges the server cart into the local one. Concurrent pulls of the
// same session share one request. A failed pull is logged and does not stop
// the sync.
func (s *Service) pull(ctx context.Context, session Session) (domain.CartState, bool, error) {
	v, err, _ := s.pulls.Do(session.ID, func() (interface{}, error) {
		state, err := s.store.State(ctx, session.ID)
		if err != nil {
			return nil, err
		}
		res, err := s.dispatcher.Execute(ctx, domain.Task{
			URL:      endpointURL(s.cfg.Cart.PullEndpoint, session.UserToken, state.ServerToken),
			Method:   http.MethodGet,
			Attempts: s.attempts(),
		})
		if err != nil {
			return nil, errors.Mark(errors.Wrap(err, "pull server cart"), ErrPullFailed)
		}
		var items []domain.CartItem
		if len(res.Result) > 0 {
			if err := json.Unmarshal(res.Result, &items); err != nil {
				return nil, errors.Mark(errors.Wrap(err, "decode server cart"), ErrPullFailed)
			}
		}
		return items, nil
	})
	if err != nil {
		if !errors.Is(err, ErrPullFailed) {
			return domain.CartState{}, false, err
		}
		s.logger.Warnw("cart pull failed", "session_id", session.ID, "error", err)
		s.emit(domain.EventCartPullFailed, session.ID, map[string]interface{}{"error": err.Error()})
		metrics.CartOperations.WithLabelValues("pull", metrics.OutcomeFailure).Inc()
		state, serr := s.store.State(ctx, session.ID)
		return state, false, serr
	}

	items, _ := v.([]domain.CartItem)
	state, err := s.store.Commit(ctx, session.ID, domain.MergeServerItems{Items: items, At: s.now()})
	if errors.Is(err, domain.ErrNotConnected) {
		metrics.CartOperations.WithLabelValues("pull", metrics.OutcomeStale).Inc()
		return state, false, nil
	}
	if err != nil {
		return state, false, errors.Wrap(err, "merge server cart")
	}
	s.emit(domain.EventCartPulled, session.ID, map[string]interface{}{
		"server_items": len(items),
		"items":        len(state.Items),
	})
	metrics.CartOperations.WithLabelValues("pull", metrics.OutcomeSuccess).Inc()
	return state, true, nil
}

// SyncTotals recalculates totals and shipping methods for the current items.
func (s *Service) SyncTotals(ctx context.Context, session Session) (Result, error) {
	if reason := s.totalsDisabledReason(session.Env); reason != "" {
		return Result{Skipped: reason}, nil
	}
	state, err := s.store.State(ctx, session.ID)
	if err != nil {
		return Result{}, errors.Wrap(err, "load cart state")
	}
	if !IsCartConnected(state) {
		return Result{State: state, Skipped: SkipNotConnected}, nil
	}
	if !IsTotalsSyncRequired(state) {
		return Result{State: state, Skipped: SkipUpToDate}, nil
	}
	return s.syncTotals(ctx, session, state)
}

type totalsResponse struct {
	Totals          domain.Totals           `json:"totals"`
	ShippingMethods []domain.ShippingMethod `json:"shipping_methods"`
}

func (s *Service) syncTotals(ctx context.Context, session Session, state domain.CartState) (Result, error) {
	hash := domain.ComputeHash(state.Items)
	res, err := s.dispatcher.Execute(ctx, domain.Task{
		URL:    endpointURL(s.cfg.Cart.TotalsEndpoint, session.UserToken, state.ServerToken),
		Method: http.MethodPost,
		Payload: map[string]interface{}{
			"addressInformation": state.Shipping,
		},
		Attempts: s.attempts(),
	})
	var totals totalsResponse
	if err == nil {
		err = json.Unmarshal(res.Result, &totals)
	}
	if err != nil {
		s.logger.Warnw("cart totals sync failed", "session_id", session.ID, "error", err)
		s.emit(domain.EventTotalsSyncFailed, session.ID, map[string]interface{}{"error": err.Error()})
		metrics.CartOperations.WithLabelValues("totals", metrics.OutcomeFailure).Inc()
		return Result{
			State:   state,
			Failure: errors.Mark(errors.Wrap(err, "sync cart totals"), ErrTotalsFailed),
		}, nil
	}

	updated, err := s.store.Commit(ctx, session.ID, domain.UpdateTotals{
		Hash:            hash,
		Totals:          totals.Totals,
		ShippingMethods: totals.ShippingMethods,
	})
	if errors.Is(err, domain.ErrStaleResult) {
		metrics.CartOperations.WithLabelValues("totals", metrics.OutcomeStale).Inc()
		return Result{State: updated, Stale: true}, nil
	}
	if err != nil {
		return Result{State: updated}, errors.Wrap(err, "commit cart totals")
	}
	s.emit(domain.EventTotalsSynced, session.ID, map[string]interface{}{
		"grand_total": totals.Totals.GrandTotal,
	})
	metrics.CartOperations.WithLabelValues("totals", metrics.OutcomeSuccess).Inc()
	return Result{State: updated, TotalsSynced: true}, nil
}
