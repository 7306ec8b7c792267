package amm

import (
	"math/big"
)

// Simulator dry-runs trades against frozen pool snapshots. The solver uses
// it to price and sequence trades without touching live pool state; every
// trade advances the simulated reserves so later quotes see price impact.
type Simulator struct {
	pools []*PoolSnapshot
}

// NewSimulator clones the snapshots so the caller's problem instance stays
// untouched.
func NewSimulator(snapshots []*PoolSnapshot) *Simulator {
	pools := make([]*PoolSnapshot, 0, len(snapshots))
	for _, snapshot := range snapshots {
		if snapshot == nil {
			continue
		}
		pools = append(pools, snapshot.Clone())
	}
	return &Simulator{pools: pools}
}

// findPair returns the simulated pool trading the pair, preferring lower ids.
func (s *Simulator) findPair(a, b AssetID) *PoolSnapshot {
	var best *PoolSnapshot
	for _, pool := range s.pools {
		if pool.Has(a) && pool.Has(b) {
			if best == nil || pool.Pool < best.Pool {
				best = pool
			}
		}
	}
	return best
}

// HasPair reports whether a registered pool trades the pair directly.
func (s *Simulator) HasPair(a, b AssetID) bool {
	return s.findPair(a, b) != nil
}

func (s *Simulator) orient(pool *PoolSnapshot, assetIn AssetID) (reserveIn, reserveOut *big.Int) {
	if assetIn == pool.AssetA {
		return pool.ReserveA, pool.ReserveB
	}
	return pool.ReserveB, pool.ReserveA
}

// SpotPrice returns the marginal price of asset quoted in the numeraire,
// ignoring fees and impact. Routing goes through a direct pool when one
// exists.
func (s *Simulator) SpotPrice(asset, numeraire AssetID) (*big.Rat, error) {
	if asset == numeraire {
		return big.NewRat(1, 1), nil
	}
	pool := s.findPair(asset, numeraire)
	if pool == nil {
		return nil, ErrUnknownPair
	}
	reserveAsset, reserveNumeraire := s.orient(pool, asset)
	if reserveAsset.Sign() == 0 {
		return nil, ErrInsufficientLiquidity
	}
	return new(big.Rat).SetFrac(new(big.Int).Set(reserveNumeraire), new(big.Int).Set(reserveAsset)), nil
}

// Sell simulates selling amountIn of assetIn for assetOut, advancing the
// simulated reserves. It returns the quote plus the route taken.
func (s *Simulator) Sell(assetIn, assetOut AssetID, amountIn *big.Int) (*Quote, []PoolID, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, nil, ErrInvalidAmount
	}
	pool := s.findPair(assetIn, assetOut)
	if pool == nil {
		return nil, nil, ErrUnknownPair
	}
	reserveIn, reserveOut := s.orient(pool, assetIn)
	out, err := xykAmountOut(reserveIn, reserveOut, amountIn, pool.FeeBps)
	if err != nil {
		return nil, nil, err
	}
	reserveIn.Add(reserveIn, amountIn)
	reserveOut.Sub(reserveOut, out)
	return &Quote{AmountIn: new(big.Int).Set(amountIn), AmountOut: out}, []PoolID{pool.Pool}, nil
}

// Buy simulates buying exactly amountOut of assetOut with assetIn.
func (s *Simulator) Buy(assetIn, assetOut AssetID, amountOut *big.Int) (*Quote, []PoolID, error) {
	if amountOut == nil || amountOut.Sign() <= 0 {
		return nil, nil, ErrInvalidAmount
	}
	pool := s.findPair(assetIn, assetOut)
	if pool == nil {
		return nil, nil, ErrUnknownPair
	}
	reserveIn, reserveOut := s.orient(pool, assetIn)
	in, err := xykAmountIn(reserveIn, reserveOut, amountOut, pool.FeeBps)
	if err != nil {
		return nil, nil, err
	}
	reserveIn.Add(reserveIn, in)
	reserveOut.Sub(reserveOut, amountOut)
	return &Quote{AmountIn: in, AmountOut: new(big.Int).Set(amountOut)}, []PoolID{pool.Pool}, nil
}

// MaxTradeFor returns the largest input the pool trading the pair accepts
// given a per-window reserve ratio cap in basis points. Zero means
// unlimited.
func (s *Simulator) MaxTradeFor(assetIn, assetOut AssetID, maxRatioBps uint32) *big.Int {
	if maxRatioBps == 0 {
		return nil
	}
	pool := s.findPair(assetIn, assetOut)
	if pool == nil {
		return big.NewInt(0)
	}
	reserveIn, _ := s.orient(pool, assetIn)
	cap := new(big.Int).Mul(reserveIn, big.NewInt(int64(maxRatioBps)))
	return cap.Quo(cap, big.NewInt(feeDenominatorBps))
}
