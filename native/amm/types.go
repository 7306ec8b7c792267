package amm

import (
	"math/big"
)

// AssetID identifies a registered asset. Asset 0 is reserved for the hub
// asset used as the settlement numeraire.
type AssetID uint32

// HubAsset is the protocol numeraire. Every pool quotes against it and the
// settlement score is denominated in it.
const HubAsset AssetID = 0

// PoolID identifies a registered pool.
type PoolID uint32

// Quote is the outcome of a price query against a pool. AmountIn and
// AmountOut are always both populated regardless of trade direction.
type Quote struct {
	AmountIn  *big.Int
	AmountOut *big.Int
}

// Pool is the read-only collaborator contract the settlement core consumes.
// The core never inspects pool-internal formulas; it only quotes and reads
// reserves.
type Pool interface {
	ID() PoolID
	Assets() (AssetID, AssetID)
	Reserves() (*big.Int, *big.Int)
	FeeBps() uint32
	// QuoteSell quotes selling exactly amountIn of assetIn for assetOut.
	QuoteSell(assetIn, assetOut AssetID, amountIn *big.Int) (*Quote, error)
	// QuoteBuy quotes buying exactly amountOut of assetOut with assetIn.
	QuoteBuy(assetIn, assetOut AssetID, amountOut *big.Int) (*Quote, error)
}

// Executor extends Pool with state-mutating trade primitives. Only the
// execution engine holds an Executor.
type Executor interface {
	Pool
	ExecuteSell(assetIn, assetOut AssetID, amountIn *big.Int) (*Quote, error)
	ExecuteBuy(assetIn, assetOut AssetID, amountOut *big.Int) (*Quote, error)
}

// PoolSnapshot is a frozen view of one pool's reserves and fee schedule,
// taken when a problem instance is built.
type PoolSnapshot struct {
	Pool     PoolID
	AssetA   AssetID
	AssetB   AssetID
	ReserveA *big.Int
	ReserveB *big.Int
	FeeBps   uint32
}

// Clone returns a deep copy of the snapshot.
func (s *PoolSnapshot) Clone() *PoolSnapshot {
	if s == nil {
		return nil
	}
	clone := &PoolSnapshot{Pool: s.Pool, AssetA: s.AssetA, AssetB: s.AssetB, FeeBps: s.FeeBps}
	if s.ReserveA != nil {
		clone.ReserveA = new(big.Int).Set(s.ReserveA)
	}
	if s.ReserveB != nil {
		clone.ReserveB = new(big.Int).Set(s.ReserveB)
	}
	return clone
}

// Reserve returns the snapshot reserve of the given asset, or nil when the
// pool does not carry it.
func (s *PoolSnapshot) Reserve(asset AssetID) *big.Int {
	if s == nil {
		return nil
	}
	switch asset {
	case s.AssetA:
		return s.ReserveA
	case s.AssetB:
		return s.ReserveB
	}
	return nil
}

// Has reports whether the pool carries the asset.
func (s *PoolSnapshot) Has(asset AssetID) bool {
	return s != nil && (asset == s.AssetA || asset == s.AssetB)
}
