package events

import (
	"math/big"

	"intentchain/core/types"
)

const (
	// TypeIntentSubmitted is emitted when a new intent enters the store.
	TypeIntentSubmitted = "intents.submitted"
	// TypeIntentCancelled is emitted when an owner cancels an open intent.
	TypeIntentCancelled = "intents.cancelled"
	// TypeIntentExpired is emitted when the expiry sweep removes an intent.
	TypeIntentExpired = "intents.expired"
	// TypeIntentResolved is emitted when a settlement resolves an intent,
	// fully or partially.
	TypeIntentResolved = "intents.resolved"
)

type IntentSubmitted struct {
	IntentID string
	Owner    [20]byte
	AssetIn  uint32
	AssetOut uint32
	AmountIn *big.Int
	Deadline uint64
	Partial  bool
}

func (IntentSubmitted) EventType() string { return TypeIntentSubmitted }

func (e IntentSubmitted) Event() *types.Event {
	return &types.Event{
		Type: TypeIntentSubmitted,
		Attributes: map[string]string{
			"intentId": e.IntentID,
			"owner":    formatAddress(e.Owner),
			"assetIn":  formatAsset(e.AssetIn),
			"assetOut": formatAsset(e.AssetOut),
			"amountIn": formatAmount(e.AmountIn),
			"deadline": formatUint(e.Deadline),
			"partial":  formatBool(e.Partial),
		},
	}
}

type IntentCancelled struct {
	IntentID string
	Owner    [20]byte
}

func (IntentCancelled) EventType() string { return TypeIntentCancelled }

func (e IntentCancelled) Event() *types.Event {
	return &types.Event{
		Type: TypeIntentCancelled,
		Attributes: map[string]string{
			"intentId": e.IntentID,
			"owner":    formatAddress(e.Owner),
		},
	}
}

type IntentExpired struct {
	IntentID string
	Owner    [20]byte
	Deadline uint64
}

func (IntentExpired) EventType() string { return TypeIntentExpired }

func (e IntentExpired) Event() *types.Event {
	return &types.Event{
		Type: TypeIntentExpired,
		Attributes: map[string]string{
			"intentId": e.IntentID,
			"owner":    formatAddress(e.Owner),
			"deadline": formatUint(e.Deadline),
		},
	}
}

type IntentResolved struct {
	IntentID  string
	Owner     [20]byte
	AmountIn  *big.Int
	AmountOut *big.Int
	Remainder *big.Int
}

func (IntentResolved) EventType() string { return TypeIntentResolved }

func (e IntentResolved) Event() *types.Event {
	return &types.Event{
		Type: TypeIntentResolved,
		Attributes: map[string]string{
			"intentId":  e.IntentID,
			"owner":     formatAddress(e.Owner),
			"amountIn":  formatAmount(e.AmountIn),
			"amountOut": formatAmount(e.AmountOut),
			"remainder": formatAmount(e.Remainder),
		},
	}
}
