package domain

import (
	"time"

	"github.com/cockroachdb/errors"
)

var (
	ErrConnectThrottled = errors.New("cart connect attempted within minimum interval")
	ErrBypassExhausted  = errors.New("cart bypass attempts exhausted")
	ErrNotConnected     = errors.New("cart is not connected")
	ErrStaleResult      = errors.New("stale cart sync result")
	ErrInvalidItem      = errors.New("invalid cart item")
)

type MutationType string

const (
	MutationLoadCart         MutationType = "CART_LOAD_CART"
	MutationAddItem          MutationType = "CART_ADD_ITEM"
	MutationUpdateItemQty    MutationType = "CART_UPD_ITEM"
	MutationLoadServerToken  MutationType = "CART_LOAD_CART_SERVER_TOKEN"
	MutationReserveConnect   MutationType = "CART_RESERVE_CONNECT"
	MutationConnected        MutationType = "CART_CONNECTED"
	MutationBypassCounter    MutationType = "CART_UPDATE_BYPASS_COUNTER"
	MutationReservePush      MutationType = "CART_RESERVE_PUSH"
	MutationItemsHash        MutationType = "CART_SET_ITEMS_HASH"
	MutationServerItemsMerge MutationType = "CART_MERGE_SERVER_ITEMS"
	MutationTotals           MutationType = "CART_UPD_TOTALS"
	MutationShipping         MutationType = "CART_UPD_SHIPPING"
	MutationReset            MutationType = "CART_RESET"
)

// Mutation is the only way to change a CartState. Apply runs under the
// store's per-session atomicity guarantee; when it returns an error the state
// is left untouched.
type Mutation interface {
	Type() MutationType
	Apply(state *CartState) error
}

// LoadCart replaces the item list.
type LoadCart struct {
	Items []CartItem
}

func (LoadCart) Type() MutationType { return MutationLoadCart }

func (m LoadCart) Apply(state *CartState) error {
	state.Items = cloneItems(m.Items)
	if state.Items == nil {
		state.Items = []CartItem{}
	}
	return nil
}

// AddItem increases the quantity of a matching line or appends a new one.
type AddItem struct {
	Item CartItem
}

func (AddItem) Type() MutationType { return MutationAddItem }

func (m AddItem) Apply(state *CartState) error {
	if m.Item.SKU == "" || m.Item.Qty <= 0 {
		return ErrInvalidItem
	}
	key := m.Item.Key()
	for i := range state.Items {
		if state.Items[i].Key() == key {
			state.Items[i].Qty += m.Item.Qty
			return nil
		}
	}
	state.Items = append(state.Items, m.Item.clone())
	return nil
}

// UpdateItemQty sets the quantity of a line. A quantity <= 0 removes it.
type UpdateItemQty struct {
	SKU     string
	Options []ItemOption
	Qty     int
}

func (UpdateItemQty) Type() MutationType { return MutationUpdateItemQty }

func (m UpdateItemQty) Apply(state *CartState) error {
	if m.SKU == "" {
		return ErrInvalidItem
	}
	key := CartItem{SKU: m.SKU, Options: m.Options}.Key()
	for i := range state.Items {
		if state.Items[i].Key() != key {
			continue
		}
		if m.Qty <= 0 {
			state.Items = append(state.Items[:i], state.Items[i+1:]...)
		} else {
			state.Items[i].Qty = m.Qty
		}
		return nil
	}
	return errors.Wrapf(ErrInvalidItem, "sku %q not in cart", m.SKU)
}

// LoadServerToken sets the server cart token. An empty token disconnects.
type LoadServerToken struct {
	Token string
}

func (LoadServerToken) Type() MutationType { return MutationLoadServerToken }

func (m LoadServerToken) Apply(state *CartState) error {
	state.ServerToken = m.Token
	return nil
}

// ReserveConnect records a connect attempt unless another attempt happened
// within MinInterval.
type ReserveConnect struct {
	At          time.Time
	MinInterval time.Duration
}

func (ReserveConnect) Type() MutationType { return MutationReserveConnect }

func (m ReserveConnect) Apply(state *CartState) error {
	if !state.ConnectAttemptAt.IsZero() && m.At.Sub(state.ConnectAttemptAt) < m.MinInterval {
		return ErrConnectThrottled
	}
	state.ConnectAttemptAt = m.At
	return nil
}

// Connected stores the token of a freshly created server cart. The bypass
// counter survives reconnects and is only cleared by ResetCart.
type Connected struct {
	Token string
	At    time.Time
}

func (Connected) Type() MutationType { return MutationConnected }

func (m Connected) Apply(state *CartState) error {
	state.ServerToken = m.Token
	state.ConnectedAt = m.At
	state.ServerPulledAt = time.Time{}
	return nil
}

// IncrementBypass counts a registered-to-guest fallback. The connect
// reservation is released so the guest attempt can run immediately.
type IncrementBypass struct {
	Max int
}

func (IncrementBypass) Type() MutationType { return MutationBypassCounter }

func (m IncrementBypass) Apply(state *CartState) error {
	if state.BypassCount >= m.Max {
		return ErrBypassExhausted
	}
	state.BypassCount++
	state.ConnectAttemptAt = time.Time{}
	return nil
}

// ReservePush claims the next push sequence number. Only the holder of the
// latest number may commit an items hash.
type ReservePush struct{}

func (ReservePush) Type() MutationType { return MutationReservePush }

func (ReservePush) Apply(state *CartState) error {
	if state.ServerToken == "" {
		return ErrNotConnected
	}
	state.PushSeq++
	return nil
}

// CompletePush commits the hash of a pushed item list.
type CompletePush struct {
	Seq  uint64
	Hash string
}

func (CompletePush) Type() MutationType { return MutationItemsHash }

func (m CompletePush) Apply(state *CartState) error {
	if state.PushSeq != m.Seq || ComputeHash(state.Items) != m.Hash {
		return ErrStaleResult
	}
	state.ItemsHash = m.Hash
	return nil
}

// MergeServerItems adds lines that only exist on the server cart. Local lines
// win on conflict.
type MergeServerItems struct {
	Items []CartItem
	At    time.Time
}

func (MergeServerItems) Type() MutationType { return MutationServerItemsMerge }

func (m MergeServerItems) Apply(state *CartState) error {
	if state.ServerToken == "" {
		return ErrNotConnected
	}
	seen := make(map[string]struct{}, len(state.Items))
	for _, it := range state.Items {
		seen[it.Key()] = struct{}{}
	}
	for _, it := range m.Items {
		if it.SKU == "" || it.Qty <= 0 {
			continue
		}
		if _, ok := seen[it.Key()]; ok {
			continue
		}
		seen[it.Key()] = struct{}{}
		state.Items = append(state.Items, it.clone())
	}
	state.ServerPulledAt = m.At
	return nil
}

// UpdateTotals stores recalculated totals for the item list identified by Hash.
type UpdateTotals struct {
	Hash            string
	Totals          Totals
	ShippingMethods []ShippingMethod
}

func (UpdateTotals) Type() MutationType { return MutationTotals }

func (m UpdateTotals) Apply(state *CartState) error {
	if ComputeHash(state.Items) != m.Hash {
		return ErrStaleResult
	}
	state.TotalsHash = m.Hash
	state.Totals = m.Totals
	state.ShippingMethods = append([]ShippingMethod(nil), m.ShippingMethods...)
	return nil
}

// SetShipping changes the totals destination and invalidates current totals.
type SetShipping struct {
	Details ShippingDetails
}

func (SetShipping) Type() MutationType { return MutationShipping }

func (m SetShipping) Apply(state *CartState) error {
	state.Shipping = m.Details
	state.TotalsHash = ""
	return nil
}

// ResetCart empties the cart and forgets the server cart. In-flight pushes
// become stale.
type ResetCart struct{}

func (ResetCart) Type() MutationType { return MutationReset }

func (ResetCart) Apply(state *CartState) error {
	state.Items = []CartItem{}
	state.ServerToken = ""
	state.ItemsHash = ""
	state.TotalsHash = ""
	state.Totals = Totals{}
	state.ShippingMethods = nil
	state.ConnectAttemptAt = time.Time{}
	state.ServerPulledAt = time.Time{}
	state.BypassCount = 0
	state.PushSeq++
	return nil
}
