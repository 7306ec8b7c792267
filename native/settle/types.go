package settle

import (
	"math/big"

	"intentchain/native/amm"
	"intentchain/native/intents"
)

// RouteHop is one pool traversal inside a trade route.
type RouteHop struct {
	Pool     amm.PoolID
	AssetIn  amm.AssetID
	AssetOut amm.AssetID
}

// PoolTrade is a trade the settlement routes through one or more pools to
// net out the imbalance left after matching intents against each other.
// For ExactIn trades AmountIn is binding and AmountOut is the declared
// realization; for ExactOut the roles flip.
type PoolTrade struct {
	Direction intents.Direction
	AmountIn  *big.Int
	AmountOut *big.Int
	Route     []RouteHop
}

// Clone returns a deep copy of the trade.
func (t *PoolTrade) Clone() *PoolTrade {
	if t == nil {
		return nil
	}
	clone := &PoolTrade{Direction: t.Direction}
	if t.AmountIn != nil {
		clone.AmountIn = new(big.Int).Set(t.AmountIn)
	}
	if t.AmountOut != nil {
		clone.AmountOut = new(big.Int).Set(t.AmountOut)
	}
	clone.Route = append([]RouteHop(nil), t.Route...)
	return clone
}

// AssetIn returns the asset the trade spends, taken from the first hop.
func (t *PoolTrade) AssetIn() amm.AssetID {
	if t == nil || len(t.Route) == 0 {
		return 0
	}
	return t.Route[0].AssetIn
}

// AssetOut returns the asset the trade receives, taken from the last hop.
func (t *PoolTrade) AssetOut() amm.AssetID {
	if t == nil || len(t.Route) == 0 {
		return 0
	}
	return t.Route[len(t.Route)-1].AssetOut
}

// Solution is a self-consistent settlement bundle: resolved intents, pool
// trades and the clearing prices demonstrating that the flows balance.
type Solution struct {
	Resolved       []*intents.ResolvedIntent
	Trades         []*PoolTrade
	ClearingPrices map[amm.AssetID]*big.Rat
	Score          uint64
}

// Clone returns a deep copy of the solution.
func (s *Solution) Clone() *Solution {
	if s == nil {
		return nil
	}
	clone := &Solution{Score: s.Score}
	for _, resolved := range s.Resolved {
		clone.Resolved = append(clone.Resolved, resolved.Clone())
	}
	for _, trade := range s.Trades {
		clone.Trades = append(clone.Trades, trade.Clone())
	}
	if s.ClearingPrices != nil {
		clone.ClearingPrices = make(map[amm.AssetID]*big.Rat, len(s.ClearingPrices))
		for asset, price := range s.ClearingPrices {
			clone.ClearingPrices[asset] = new(big.Rat).Set(price)
		}
	}
	return clone
}

// Proposal tracks the currently best accepted solution within a window.
type Proposal struct {
	Proposer    [20]byte
	Score       uint64
	Solution    *Solution
	SubmittedAt uint64
}

// WindowState enumerates the verifier's per-window states.
type WindowState uint8

const (
	// Pending means no solution has been accepted in the current window.
	Pending WindowState = iota
	// Provisional means a best solution is staged for execution.
	Provisional
)

func (s WindowState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Provisional:
		return "provisional"
	}
	return "unknown"
}
