package http

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"cartsync/internal/config"
	"cartsync/internal/service/cart"
	"cartsync/internal/service/urls"
)

type contextKey string

const contextKeySession contextKey = "cart_session"

// RenderModeHeader marks requests made while rendering on the server. Cart
// synchronization is skipped for them.
const RenderModeHeader = "X-Render-Mode"

type Server struct {
	cfg    config.Config
	cart   *cart.Service
	urls   *urls.Helpers
	online func() bool
	logger *zap.SugaredLogger
}

// NewServer wires the HTTP surface. online reports whether the cart backend
// is reachable; nil means always online.
func NewServer(cfg config.Config, cartService *cart.Service, helpers *urls.Helpers, online func() bool, logger *zap.SugaredLogger) *Server {
	if online == nil {
		online = func() bool { return true }
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Server{
		cfg:    cfg,
		cart:   cartService,
		urls:   helpers,
		online: online,
		logger: logger,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Post("/sessions", s.handleCreateSession)

	r.Group(func(protected chi.Router) {
		protected.Use(s.requireSession)
		protected.Get("/cart", s.handleGetCart)
		protected.Post("/cart/items", s.handleAddItem)
		protected.Patch("/cart/items/{sku}", s.handleUpdateItem)
		protected.Delete("/cart/items/{sku}", s.handleRemoveItem)
		protected.Put("/cart/shipping", s.handleSetShipping)
		protected.Post("/cart/connect", s.handleConnect)
		protected.Post("/cart/sync", s.handleSync)
		protected.Post("/cart/totals", s.handleSyncTotals)
		protected.Post("/cart/clear", s.handleClear)
		protected.Post("/cart/disconnect", s.handleDisconnect)
		protected.Get("/cart/events", s.handleListEvents)
	})

	r.Route("/urls", func(u chi.Router) {
		u.Post("/normalize", s.handleNormalizeURL)
		u.Post("/parametrize", s.handleParametrizeRoute)
		u.Post("/category-link", s.handleCategoryLink)
		u.Post("/product-link", s.handleProductLink)
		u.Post("/dynamic-routes", s.handleDynamicRoutes)
		u.Get("/routes", s.handleRoutes)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"online": s.online(),
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserToken string `json:"user_token"`
	}
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sessionID := uuid.NewString()
	token, expiresAt, err := s.signSessionToken(sessionID, req.UserToken)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create session token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"token":      token,
		"expires_at": expiresAt.Format(time.RFC3339),
		"type":       "Bearer",
	})
}

func (s *Server) signSessionToken(sessionID, userToken string) (string, time.Time, error) {
	now := time.Now().UTC()
	ttl := s.cfg.SessionTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	expiresAt := now.Add(ttl)
	claims := jwt.MapClaims{
		"sid": sessionID,
		"exp": expiresAt.Unix(),
		"iat": now.Unix(),
	}
	if userToken != "" {
		claims["user_token"] = userToken
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		parsed, err := jwt.Parse(token, func(token *jwt.Token) (interface{}, error) {
			return []byte(s.cfg.JWTSecret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !parsed.Valid {
			writeError(w, http.StatusUnauthorized, "invalid session token")
			return
		}
		claims, ok := parsed.Claims.(jwt.MapClaims)
		if !ok {
			writeError(w, http.StatusUnauthorized, "invalid session claims")
			return
		}
		sid, _ := claims["sid"].(string)
		if sid == "" {
			writeError(w, http.StatusUnauthorized, "invalid session claims")
			return
		}
		userToken, _ := claims["user_token"].(string)
		session := cart.Session{
			ID:        sid,
			UserToken: userToken,
			Env: cart.Environment{
				Server: strings.EqualFold(r.Header.Get(RenderModeHeader), "server"),
				Online: s.online(),
			},
		}
		ctx := context.WithValue(r.Context(), contextKeySession, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFromContext(ctx context.Context) (cart.Session, error) {
	session, ok := ctx.Value(contextKeySession).(cart.Session)
	if !ok {
		return cart.Session{}, errors.New("cart session not found")
	}
	return session, nil
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func parseInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func decodeJSON(r *http.Request, target interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
