package cart

import (
	"cartsync/internal/domain"
)

// Skip reasons reported in Result.Skipped.
const (
	SkipSyncDisabled   = "sync_disabled"
	SkipTotalsDisabled = "totals_sync_disabled"
	SkipServerRender   = "server_render"
	SkipOffline        = "offline"
	SkipUpToDate       = "up_to_date"
	SkipThrottled      = "connect_throttled"
	SkipNotConnected   = "not_connected"
)

// Environment describes where an operation was triggered from.
type Environment struct {
	// Server is true for non-interactive, server-rendered requests.
	Server bool
	Online bool
}

type Session struct {
	ID string
	// UserToken is the storefront customer token. Empty for guests.
	UserToken string
	Env       Environment
}

func (s *Service) IsCartSyncEnabled(env Environment) bool {
	return s.syncDisabledReason(env) == ""
}

func (s *Service) IsTotalsSyncEnabled(env Environment) bool {
	return s.totalsDisabledReason(env) == ""
}

func (s *Service) syncDisabledReason(env Environment) string {
	if !s.cfg.Cart.Synchronize {
		return SkipSyncDisabled
	}
	return envReason(env)
}

func (s *Service) totalsDisabledReason(env Environment) string {
	if !s.cfg.Cart.SynchronizeTotals {
		return SkipTotalsDisabled
	}
	return envReason(env)
}

func envReason(env Environment) string {
	if env.Server {
		return SkipServerRender
	}
	if !env.Online {
		return SkipOffline
	}
	return ""
}

func IsCartConnected(state domain.CartState) bool {
	return state.ServerToken != ""
}

// IsSyncRequired is true until the current items have been pushed once.
func IsSyncRequired(state domain.CartState) bool {
	return state.ItemsHash == "" || state.ItemsHash != domain.ComputeHash(state.Items)
}

// IsTotalsSyncRequired is never true for an empty cart.
func IsTotalsSyncRequired(state domain.CartState) bool {
	if len(state.Items) == 0 {
		return false
	}
	return state.TotalsHash != domain.ComputeHash(state.Items)
}

func shouldPull(state domain.CartState, session Session) bool {
	return session.UserToken != "" && IsCartConnected(state) && state.ServerPulledAt.IsZero()
}

// Decide derives what a sync of the given state would do.
func (s *Service) Decide(state domain.CartState, session Session) domain.SyncDecision {
	syncEnabled := s.IsCartSyncEnabled(session.Env)
	required := IsSyncRequired(state)
	connected := IsCartConnected(state)
	return domain.SyncDecision{
		ShouldConnect:        syncEnabled && required && !connected,
		ShouldPushItems:      syncEnabled && required,
		ShouldPullServerCart: syncEnabled && required && session.UserToken != "" && (!connected || state.ServerPulledAt.IsZero()),
		ShouldSyncTotals:     s.IsTotalsSyncEnabled(session.Env) && IsTotalsSyncRequired(state),
	}
}
