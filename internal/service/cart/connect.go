package cart

import (
	"context"
	"net/http"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/goccy/go-json"

	"cartsync/internal/domain"
	"cartsync/internal/metrics"
)

// Connect creates a server cart for the session. Attempts within the minimum
// connect interval of a previous one are no-ops.
func (s *Service) Connect(ctx context.Context, session Session, opts ConnectOptions) (Result, error) {
	if reason := s.syncDisabledReason(session.Env); reason != "" {
		state, err := s.store.State(ctx, session.ID)
		return Result{State: state, Skipped: reason}, err
	}
	return s.connect(ctx, session, opts.GuestCart)
}

func (s *Service) connect(ctx context.Context, session Session, guest bool) (Result, error) {
	state, err := s.store.Commit(ctx, session.ID, domain.ReserveConnect{
		At:          s.now(),
		MinInterval: s.cfg.Cart.ConnectMinInterval,
	})
	if errors.Is(err, domain.ErrConnectThrottled) {
		s.logger.Debugw("cart connect throttled", "session_id", session.ID, "last_attempt", state.ConnectAttemptAt)
		metrics.CartOperations.WithLabelValues("connect", metrics.OutcomeSkipped).Inc()
		return Result{State: state, Skipped: SkipThrottled}, nil
	}
	if err != nil {
		return Result{State: state}, errors.Wrap(err, "reserve cart connect")
	}

	userToken := session.UserToken
	if guest {
		userToken = ""
	}
	task := domain.Task{
		URL:      endpointURL(s.cfg.Cart.CreateEndpoint, userToken, ""),
		Method:   http.MethodPost,
		Attempts: s.attempts(),
	}
	res, err := s.dispatcher.Execute(ctx, task)
	var token string
	if err == nil {
		token, err = decodeCartToken(res.Result)
	}
	if err != nil {
		if !guest && domain.IsUnauthorized(err) {
			bypassed, berr := s.store.Commit(ctx, session.ID, domain.IncrementBypass{Max: s.cfg.Queues.MaxCartBypassAttempts})
			if berr == nil {
				s.logger.Infow("registered cart rejected, falling back to guest cart",
					"session_id", session.ID,
					"bypass_count", bypassed.BypassCount)
				s.emit(domain.EventCartBypassed, session.ID, map[string]interface{}{
					"bypass_count": bypassed.BypassCount,
				})
				return s.connect(ctx, session, true)
			}
			if !errors.Is(berr, domain.ErrBypassExhausted) {
				return Result{State: bypassed}, errors.Wrap(berr, "count cart bypass")
			}
			state = bypassed
		}

		failure := errors.Mark(errors.Wrap(err, "create server cart"), ErrConnectFailed)
		s.logger.Warnw("cart connect failed", "session_id", session.ID, "guest", guest, "error", err)
		s.emit(domain.EventCartConnectFailed, session.ID, map[string]interface{}{
			"guest": guest,
			"error": err.Error(),
		})
		metrics.CartOperations.WithLabelValues("connect", metrics.OutcomeFailure).Inc()
		return Result{State: state, Failure: failure}, nil
	}

	state, err = s.store.Commit(ctx, session.ID, domain.Connected{Token: token, At: s.now()})
	if err != nil {
		return Result{State: state}, errors.Wrap(err, "store server cart token")
	}
	s.logger.Infow("server cart connected", "session_id", session.ID, "guest", guest)
	s.emit(domain.EventCartConnected, session.ID, map[string]interface{}{
		"guest": guest,
	})
	metrics.CartOperations.WithLabelValues("connect", metrics.OutcomeSuccess).Inc()
	return Result{State: state, Connected: true}, nil
}

// decodeCartToken accepts the cart id as a JSON string or number.
func decodeCartToken(raw []byte) (string, error) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", errors.Wrap(err, "decode cart token")
	}
	switch t := v.(type) {
	case string:
		if t != "" {
			return t, nil
		}
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	}
	return "", errors.Newf("unexpected cart token %s", string(raw))
}
