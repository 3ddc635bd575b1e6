package http

import (
	"io"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"

	"cartsync/internal/domain"
	"cartsync/internal/service/cart"
)

type resultResponse struct {
	cart.Result
	Error string `json:"error,omitempty"`
}

func (s *Server) writeResult(w http.ResponseWriter, session cart.Session, res cart.Result, err error) {
	if err != nil {
		if errors.Is(err, domain.ErrInvalidItem) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Errorw("cart operation failed", "session_id", session.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "cart state unavailable")
		return
	}
	out := resultResponse{Result: res}
	if res.Failure != nil {
		out.Error = res.Failure.Error()
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetCart(w http.ResponseWriter, r *http.Request) {
	session, err := sessionFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing cart session")
		return
	}
	state, decision, err := s.cart.State(r.Context(), session)
	if err != nil {
		s.writeResult(w, session, cart.Result{}, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"state":     state,
		"connected": cart.IsCartConnected(state),
		"decision":  decision,
	})
}

func (s *Server) handleAddItem(w http.ResponseWriter, r *http.Request) {
	session, err := sessionFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing cart session")
		return
	}
	var item domain.CartItem
	if err := decodeJSON(r, &item); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.cart.AddItem(r.Context(), session, item)
	s.writeResult(w, session, res, err)
}

func (s *Server) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	session, err := sessionFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing cart session")
		return
	}
	var req struct {
		Qty     int                 `json:"qty"`
		Options []domain.ItemOption `json:"options"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.cart.UpdateQuantity(r.Context(), session, chi.URLParam(r, "sku"), req.Options, req.Qty)
	s.writeResult(w, session, res, err)
}

// handleRemoveItem takes the line options as repeated ?option=code=value.
func (s *Server) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	session, err := sessionFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing cart session")
		return
	}
	var options []domain.ItemOption
	for _, raw := range r.URL.Query()["option"] {
		code, value, ok := strings.Cut(raw, "=")
		if !ok || code == "" {
			writeError(w, http.StatusBadRequest, "option must be code=value")
			return
		}
		options = append(options, domain.ItemOption{Code: code, Value: value})
	}
	res, err := s.cart.RemoveItem(r.Context(), session, chi.URLParam(r, "sku"), options)
	s.writeResult(w, session, res, err)
}

func (s *Server) handleSetShipping(w http.ResponseWriter, r *http.Request) {
	session, err := sessionFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing cart session")
		return
	}
	var details domain.ShippingDetails
	if err := decodeJSON(r, &details); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.cart.SetShipping(r.Context(), session, details)
	s.writeResult(w, session, res, err)
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	session, err := sessionFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing cart session")
		return
	}
	req := struct {
		GuestCart *bool `json:"guest_cart"`
	}{}
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts := cart.ConnectOptions{GuestCart: session.UserToken == ""}
	if req.GuestCart != nil {
		opts.GuestCart = *req.GuestCart
	}
	res, err := s.cart.Connect(r.Context(), session, opts)
	s.writeResult(w, session, res, err)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	session, err := sessionFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing cart session")
		return
	}
	res, err := s.cart.Sync(r.Context(), session)
	s.writeResult(w, session, res, err)
}

func (s *Server) handleSyncTotals(w http.ResponseWriter, r *http.Request) {
	session, err := sessionFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing cart session")
		return
	}
	res, err := s.cart.SyncTotals(r.Context(), session)
	s.writeResult(w, session, res, err)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	session, err := sessionFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing cart session")
		return
	}
	res, err := s.cart.Clear(r.Context(), session)
	s.writeResult(w, session, res, err)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	session, err := sessionFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing cart session")
		return
	}
	res, err := s.cart.Disconnect(r.Context(), session)
	s.writeResult(w, session, res, err)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	session, err := sessionFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing cart session")
		return
	}
	limit := parseInt(r.URL.Query().Get("limit"), 20)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": s.cart.Events(session.ID, limit),
	})
}
