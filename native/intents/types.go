package intents

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"intentchain/native/amm"
)

// Direction determines which side of the swap is fixed.
type Direction uint8

const (
	// ExactIn fixes the input amount; amount_out is the minimum acceptable.
	ExactIn Direction = iota
	// ExactOut fixes the output amount; amount_in is the maximum spendable.
	ExactOut
)

func (d Direction) String() string {
	switch d {
	case ExactIn:
		return "exact_in"
	case ExactOut:
		return "exact_out"
	}
	return fmt.Sprintf("direction(%d)", uint8(d))
}

// ParseDirection parses the wire representation of a direction.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "exact_in", "exactin", "sell":
		return ExactIn, nil
	case "exact_out", "exactout", "buy":
		return ExactOut, nil
	}
	return 0, fmt.Errorf("intents: unknown direction %q", s)
}

// IntentID is a 128-bit composite of (deadline, sequence), big-endian, so
// that byte order equals expiry order. The upper 64 bits carry the deadline.
type IntentID [16]byte

// NewIntentID composes an identifier from a deadline and a sequence number.
func NewIntentID(deadline, sequence uint64) IntentID {
	var id IntentID
	binary.BigEndian.PutUint64(id[:8], deadline)
	binary.BigEndian.PutUint64(id[8:], sequence)
	return id
}

// Deadline extracts the deadline encoded in the upper 64 bits.
func (id IntentID) Deadline() uint64 { return binary.BigEndian.Uint64(id[:8]) }

// Sequence extracts the sequence number in the lower 64 bits.
func (id IntentID) Sequence() uint64 { return binary.BigEndian.Uint64(id[8:]) }

// String renders the identifier as 0x-prefixed hex.
func (id IntentID) String() string { return "0x" + hex.EncodeToString(id[:]) }

// ParseIntentID parses the hex form produced by String.
func ParseIntentID(s string) (IntentID, error) {
	var id IntentID
	trimmed := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return id, fmt.Errorf("intents: invalid intent id: %w", err)
	}
	if len(raw) != len(id) {
		return id, fmt.Errorf("intents: invalid intent id length %d", len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

// Swap is the asset movement an intent asks for. For ExactIn, AmountIn is
// fixed and AmountOut is the limit (minimum acceptable). For ExactOut,
// AmountOut is fixed and AmountIn is the limit (maximum spendable).
type Swap struct {
	AssetIn   amm.AssetID
	AssetOut  amm.AssetID
	AmountIn  *big.Int
	AmountOut *big.Int
	Direction Direction
}

// Clone returns a deep copy of the swap.
func (s Swap) Clone() Swap {
	clone := Swap{AssetIn: s.AssetIn, AssetOut: s.AssetOut, Direction: s.Direction}
	if s.AmountIn != nil {
		clone.AmountIn = new(big.Int).Set(s.AmountIn)
	}
	if s.AmountOut != nil {
		clone.AmountOut = new(big.Int).Set(s.AmountOut)
	}
	return clone
}

// Intent is a user's declared desire to swap, with limits and a deadline.
type Intent struct {
	ID        IntentID
	Owner     [20]byte
	Swap      Swap
	Partial   bool
	Deadline  uint64
	OnSuccess []byte
	OnFailure []byte
}

// Clone returns a deep copy of the intent.
func (i *Intent) Clone() *Intent {
	if i == nil {
		return nil
	}
	clone := &Intent{
		ID:       i.ID,
		Owner:    i.Owner,
		Swap:     i.Swap.Clone(),
		Partial:  i.Partial,
		Deadline: i.Deadline,
	}
	if i.OnSuccess != nil {
		clone.OnSuccess = append([]byte(nil), i.OnSuccess...)
	}
	if i.OnFailure != nil {
		clone.OnFailure = append([]byte(nil), i.OnFailure...)
	}
	return clone
}

// Expired reports whether the intent's deadline is strictly in the past.
func (i *Intent) Expired(now uint64) bool {
	return i != nil && i.Deadline < now
}

// ResolvedIntent is the realized execution of one intent within a solution.
type ResolvedIntent struct {
	IntentID  IntentID
	AmountIn  *big.Int
	AmountOut *big.Int
}

// Clone returns a deep copy of the resolved intent.
func (r *ResolvedIntent) Clone() *ResolvedIntent {
	if r == nil {
		return nil
	}
	clone := &ResolvedIntent{IntentID: r.IntentID}
	if r.AmountIn != nil {
		clone.AmountIn = new(big.Int).Set(r.AmountIn)
	}
	if r.AmountOut != nil {
		clone.AmountOut = new(big.Int).Set(r.AmountOut)
	}
	return clone
}

// ProblemInstance is the read-only snapshot a solver consumes. It is built
// fresh per solve attempt and never mutated.
type ProblemInstance struct {
	BuiltAt uint64
	Window  uint64
	// Intents holds every eligible intent sorted by (asset_in, id).
	Intents []*Intent
	// Partial and Full partition Intents by resolution mode.
	Partial []*Intent
	Full    []*Intent
	// Assets lists every distinct referenced asset, always including the
	// hub asset, in ascending order.
	Assets []amm.AssetID
	// Pools holds frozen reserve/fee snapshots for every pool carrying a
	// referenced asset.
	Pools []*amm.PoolSnapshot
}
