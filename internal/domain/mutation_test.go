package domain

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddItem_MergesMatchingLine(t *testing.T) {
	state := CartState{}
	require.NoError(t, AddItem{Item: CartItem{SKU: "A", Qty: 1}}.Apply(&state))
	require.NoError(t, AddItem{Item: CartItem{SKU: "A", Qty: 2}}.Apply(&state))
	require.NoError(t, AddItem{Item: CartItem{SKU: "A", Qty: 1, Options: []ItemOption{{Code: "size", Value: "L"}}}}.Apply(&state))

	require.Len(t, state.Items, 2)
	assert.Equal(t, 3, state.Items[0].Qty)
	assert.Equal(t, "A|size=L", state.Items[1].Key())

	err := AddItem{Item: CartItem{SKU: "B"}}.Apply(&state)
	assert.True(t, errors.Is(err, ErrInvalidItem))
}

func TestUpdateItemQty_RemovesOnZero(t *testing.T) {
	state := CartState{Items: []CartItem{{SKU: "A", Qty: 1}, {SKU: "B", Qty: 1}}}
	require.NoError(t, UpdateItemQty{SKU: "A", Qty: 5}.Apply(&state))
	assert.Equal(t, 5, state.Items[0].Qty)

	require.NoError(t, UpdateItemQty{SKU: "A", Qty: 0}.Apply(&state))
	require.Len(t, state.Items, 1)
	assert.Equal(t, "B", state.Items[0].SKU)

	err := UpdateItemQty{SKU: "missing", Qty: 1}.Apply(&state)
	assert.True(t, errors.Is(err, ErrInvalidItem))
}

func TestReserveConnect_Throttles(t *testing.T) {
	base := time.Unix(1_000_000, 0)
	state := CartState{}
	require.NoError(t, ReserveConnect{At: base, MinInterval: time.Second}.Apply(&state))

	err := ReserveConnect{At: base.Add(500 * time.Millisecond), MinInterval: time.Second}.Apply(&state)
	assert.True(t, errors.Is(err, ErrConnectThrottled))

	require.NoError(t, ReserveConnect{At: base.Add(3 * time.Second), MinInterval: time.Second}.Apply(&state))
	assert.Equal(t, base.Add(3*time.Second), state.ConnectAttemptAt)
}

func TestIncrementBypass_Bounded(t *testing.T) {
	state := CartState{ConnectAttemptAt: time.Now()}
	require.NoError(t, IncrementBypass{Max: 1}.Apply(&state))
	assert.Equal(t, 1, state.BypassCount)
	assert.True(t, state.ConnectAttemptAt.IsZero())

	err := IncrementBypass{Max: 1}.Apply(&state)
	assert.True(t, errors.Is(err, ErrBypassExhausted))
}

func TestCompletePush_CompareAndCommit(t *testing.T) {
	state := CartState{ServerToken: "tok", Items: []CartItem{{SKU: "A", Qty: 1}}}
	require.NoError(t, ReservePush{}.Apply(&state))
	first := state.PushSeq
	hash := ComputeHash(state.Items)

	require.NoError(t, ReservePush{}.Apply(&state))
	err := CompletePush{Seq: first, Hash: hash}.Apply(&state)
	assert.True(t, errors.Is(err, ErrStaleResult), "superseded push must not commit")
	assert.Empty(t, state.ItemsHash)

	state.Items[0].Qty = 2
	err = CompletePush{Seq: state.PushSeq, Hash: hash}.Apply(&state)
	assert.True(t, errors.Is(err, ErrStaleResult), "items changed while push was in flight")

	newHash := ComputeHash(state.Items)
	require.NoError(t, CompletePush{Seq: state.PushSeq, Hash: newHash}.Apply(&state))
	assert.Equal(t, newHash, state.ItemsHash)
}

func TestReservePush_RequiresToken(t *testing.T) {
	state := CartState{}
	assert.True(t, errors.Is(ReservePush{}.Apply(&state), ErrNotConnected))
}

func TestMergeServerItems_LocalWins(t *testing.T) {
	at := time.Unix(42, 0)
	state := CartState{ServerToken: "tok", Items: []CartItem{{SKU: "A", Qty: 3}}}
	require.NoError(t, MergeServerItems{
		Items: []CartItem{{SKU: "A", Qty: 1}, {SKU: "B", Qty: 2}, {SKU: "", Qty: 1}},
		At:    at,
	}.Apply(&state))

	require.Len(t, state.Items, 2)
	assert.Equal(t, 3, state.Items[0].Qty)
	assert.Equal(t, "B", state.Items[1].SKU)
	assert.Equal(t, at, state.ServerPulledAt)
}

func TestUpdateTotals_DiscardsStale(t *testing.T) {
	state := CartState{Items: []CartItem{{SKU: "A", Qty: 1}}}
	err := UpdateTotals{Hash: "other", Totals: Totals{GrandTotal: 10}}.Apply(&state)
	assert.True(t, errors.Is(err, ErrStaleResult))

	hash := ComputeHash(state.Items)
	require.NoError(t, UpdateTotals{Hash: hash, Totals: Totals{GrandTotal: 10}}.Apply(&state))
	assert.Equal(t, 10.0, state.Totals.GrandTotal)
	assert.Equal(t, hash, state.TotalsHash)
}

func TestResetCart(t *testing.T) {
	state := CartState{
		Items:       []CartItem{{SKU: "A", Qty: 1}},
		ServerToken: "tok",
		ItemsHash:   "h",
		TotalsHash:  "h",
		PushSeq:     4,
	}
	require.NoError(t, ResetCart{}.Apply(&state))
	assert.Empty(t, state.Items)
	assert.NotNil(t, state.Items)
	assert.Empty(t, state.ServerToken)
	assert.Empty(t, state.ItemsHash)
	assert.Equal(t, uint64(5), state.PushSeq)
}

func TestCloneIsDeep(t *testing.T) {
	state := CartState{Items: []CartItem{{SKU: "A", Qty: 1, Options: []ItemOption{{Code: "c", Value: "v"}}}}}
	cp := state.Clone()
	cp.Items[0].Qty = 9
	cp.Items[0].Options[0].Value = "x"
	assert.Equal(t, 1, state.Items[0].Qty)
	assert.Equal(t, "v", state.Items[0].Options[0].Value)
}
