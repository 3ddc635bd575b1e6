package domain

import (
	"encoding/json"
	"slices"
	"strings"
	"time"
)

type EventType string

const (
	EventCartConnected     EventType = "CartConnected"
	EventCartConnectFailed EventType = "CartConnectFailed"
	EventCartBypassed      EventType = "CartBypassed"
	EventCartPushed        EventType = "CartPushed"
	EventCartPushFailed    EventType = "CartPushFailed"
	EventCartPulled        EventType = "CartPulled"
	EventCartPullFailed    EventType = "CartPullFailed"
	EventTotalsSynced      EventType = "TotalsSynced"
	EventTotalsSyncFailed  EventType = "TotalsSyncFailed"
	EventCartCleared       EventType = "CartCleared"
	EventCartDisconnected  EventType = "CartDisconnected"
)

type ItemOption struct {
	Code  string `json:"code"`
	Value string `json:"value"`
}

// CartItem is one line of the cart. Two items are the same line when both
// the SKU and the selected options match.
type CartItem struct {
	SKU        string       `json:"sku"`
	Qty        int          `json:"qty"`
	ProductRef string       `json:"product_ref,omitempty"`
	Name       string       `json:"name,omitempty"`
	Price      float64      `json:"price,omitempty"`
	Options    []ItemOption `json:"options,omitempty"`
}

// Key identifies the cart line.
func (i CartItem) Key() string {
	if len(i.Options) == 0 {
		return i.SKU
	}
	var b strings.Builder
	b.WriteString(i.SKU)
	for _, opt := range i.Options {
		b.WriteByte('|')
		b.WriteString(opt.Code)
		b.WriteByte('=')
		b.WriteString(opt.Value)
	}
	return b.String()
}

func (i CartItem) clone() CartItem {
	i.Options = slices.Clone(i.Options)
	return i
}

type Totals struct {
	Subtotal       float64 `json:"subtotal"`
	Tax            float64 `json:"tax"`
	Discount       float64 `json:"discount"`
	ShippingAmount float64 `json:"shipping_amount"`
	GrandTotal     float64 `json:"grand_total"`
	Currency       string  `json:"currency,omitempty"`
}

type ShippingMethod struct {
	CarrierCode string  `json:"carrier_code"`
	MethodCode  string  `json:"method_code"`
	Title       string  `json:"title,omitempty"`
	Amount      float64 `json:"amount"`
	Available   bool    `json:"available"`
}

// ShippingDetails is the destination used for totals recalculation.
type ShippingDetails struct {
	Country     string `json:"country,omitempty"`
	Region      string `json:"region,omitempty"`
	Postcode    string `json:"postcode,omitempty"`
	CarrierCode string `json:"carrier_code,omitempty"`
	MethodCode  string `json:"method_code,omitempty"`
}

// CartState is the client-side cart of one session. It is only changed by
// committing a Mutation through the state store.
type CartState struct {
	SessionID string     `json:"session_id"`
	Items     []CartItem `json:"items"`

	// ServerToken is empty until a connect succeeds.
	ServerToken      string    `json:"-"`
	ItemsHash        string    `json:"items_hash,omitempty"`
	ConnectedAt      time.Time `json:"connected_at,omitempty"`
	ConnectAttemptAt time.Time `json:"connect_attempt_at,omitempty"`
	BypassCount      int       `json:"bypass_count"`
	PushSeq          uint64    `json:"push_seq"`
	ServerPulledAt   time.Time `json:"server_pulled_at,omitempty"`

	TotalsHash      string           `json:"totals_hash,omitempty"`
	Totals          Totals           `json:"totals"`
	ShippingMethods []ShippingMethod `json:"shipping_methods,omitempty"`
	Shipping        ShippingDetails  `json:"shipping"`

	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

func (s CartState) Clone() CartState {
	out := s
	out.Items = cloneItems(s.Items)
	out.ShippingMethods = slices.Clone(s.ShippingMethods)
	return out
}

func cloneItems(items []CartItem) []CartItem {
	if items == nil {
		return nil
	}
	out := make([]CartItem, len(items))
	for i, it := range items {
		out[i] = it.clone()
	}
	return out
}

// SyncDecision is derived from state and configuration on every invocation.
type SyncDecision struct {
	ShouldConnect        bool `json:"should_connect"`
	ShouldPushItems      bool `json:"should_push_items"`
	ShouldPullServerCart bool `json:"should_pull_server_cart"`
	ShouldSyncTotals     bool `json:"should_sync_totals"`
}

// Task describes one network operation for the task dispatcher.
type Task struct {
	URL      string            `json:"url"`
	Method   string            `json:"method"`
	Payload  interface{}       `json:"payload,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
	Attempts int               `json:"attempts"`
}

type TaskResult struct {
	StatusCode int             `json:"status_code"`
	Code       int             `json:"code"`
	Result     json.RawMessage `json:"result,omitempty"`
}

type Event struct {
	ID        string                 `json:"event_id"`
	SessionID string                 `json:"session_id,omitempty"`
	Type      EventType              `json:"event_type"`
	Payload   map[string]interface{} `json:"payload"`
	CreatedAt time.Time              `json:"created_at"`
}
