package amm

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/holiman/uint256"
)

var (
	// ErrUnknownPair indicates the pool does not trade the requested pair.
	ErrUnknownPair = errors.New("amm: pool does not trade pair")
	// ErrInvalidAmount indicates a zero, negative or nil trade amount.
	ErrInvalidAmount = errors.New("amm: trade amount must be positive")
	// ErrInsufficientLiquidity indicates the pool cannot satisfy the quote.
	ErrInsufficientLiquidity = errors.New("amm: insufficient liquidity")
)

const feeDenominatorBps = 10_000

// XYKPool is the reference constant-product pool. The settlement core treats
// it through the Pool/Executor contracts only; it exists so the solver, the
// daemon and the tests have real liquidity to trade against.
type XYKPool struct {
	mu       sync.RWMutex
	id       PoolID
	assetA   AssetID
	assetB   AssetID
	reserveA *big.Int
	reserveB *big.Int
	feeBps   uint32
}

// NewXYKPool constructs a constant-product pool with the supplied reserves.
func NewXYKPool(id PoolID, assetA, assetB AssetID, reserveA, reserveB *big.Int, feeBps uint32) (*XYKPool, error) {
	if assetA == assetB {
		return nil, fmt.Errorf("amm: pool assets must differ")
	}
	if reserveA == nil || reserveA.Sign() <= 0 || reserveB == nil || reserveB.Sign() <= 0 {
		return nil, fmt.Errorf("amm: pool reserves must be positive")
	}
	if feeBps >= feeDenominatorBps {
		return nil, fmt.Errorf("amm: fee bps out of range")
	}
	return &XYKPool{
		id:       id,
		assetA:   assetA,
		assetB:   assetB,
		reserveA: new(big.Int).Set(reserveA),
		reserveB: new(big.Int).Set(reserveB),
		feeBps:   feeBps,
	}, nil
}

// ID returns the pool identifier.
func (p *XYKPool) ID() PoolID { return p.id }

// Assets returns the pair the pool trades.
func (p *XYKPool) Assets() (AssetID, AssetID) { return p.assetA, p.assetB }

// FeeBps returns the trading fee in basis points, charged on the input side.
func (p *XYKPool) FeeBps() uint32 { return p.feeBps }

// Reserves returns copies of the current reserves in asset order.
func (p *XYKPool) Reserves() (*big.Int, *big.Int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return new(big.Int).Set(p.reserveA), new(big.Int).Set(p.reserveB)
}

// Snapshot freezes the current reserves and fee schedule.
func (p *XYKPool) Snapshot() *PoolSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return &PoolSnapshot{
		Pool:     p.id,
		AssetA:   p.assetA,
		AssetB:   p.assetB,
		ReserveA: new(big.Int).Set(p.reserveA),
		ReserveB: new(big.Int).Set(p.reserveB),
		FeeBps:   p.feeBps,
	}
}

func (p *XYKPool) orient(assetIn, assetOut AssetID) (*big.Int, *big.Int, error) {
	switch {
	case assetIn == p.assetA && assetOut == p.assetB:
		return p.reserveA, p.reserveB, nil
	case assetIn == p.assetB && assetOut == p.assetA:
		return p.reserveB, p.reserveA, nil
	}
	return nil, nil, ErrUnknownPair
}

func (p *XYKPool) calcOut(reserveIn, reserveOut, amountIn *big.Int) (*big.Int, error) {
	return xykAmountOut(reserveIn, reserveOut, amountIn, p.feeBps)
}

func (p *XYKPool) calcIn(reserveIn, reserveOut, amountOut *big.Int) (*big.Int, error) {
	return xykAmountIn(reserveIn, reserveOut, amountOut, p.feeBps)
}

// amountOut = reserveOut * inAfterFee / (reserveIn + inAfterFee), fee on input.
func xykAmountOut(reserveIn, reserveOut, amountIn *big.Int, feeBps uint32) (*big.Int, error) {
	in, overflow := uint256.FromBig(amountIn)
	if overflow {
		return nil, ErrInvalidAmount
	}
	rIn, overflow := uint256.FromBig(reserveIn)
	if overflow {
		return nil, ErrInsufficientLiquidity
	}
	rOut, overflow := uint256.FromBig(reserveOut)
	if overflow {
		return nil, ErrInsufficientLiquidity
	}
	feeFactor := uint256.NewInt(uint64(feeDenominatorBps - feeBps))
	inAfterFee := new(uint256.Int).Mul(in, feeFactor)
	inAfterFee.Div(inAfterFee, uint256.NewInt(feeDenominatorBps))
	if inAfterFee.IsZero() {
		return nil, ErrInvalidAmount
	}
	numerator := new(uint256.Int).Mul(rOut, inAfterFee)
	denominator := new(uint256.Int).Add(rIn, inAfterFee)
	out := numerator.Div(numerator, denominator)
	if out.IsZero() {
		return nil, ErrInsufficientLiquidity
	}
	return out.ToBig(), nil
}

// amountIn = reserveIn * amountOut / (reserveOut - amountOut), grossed up for fee.
func xykAmountIn(reserveIn, reserveOut, amountOut *big.Int, feeBps uint32) (*big.Int, error) {
	if amountOut.Cmp(reserveOut) >= 0 {
		return nil, ErrInsufficientLiquidity
	}
	out, overflow := uint256.FromBig(amountOut)
	if overflow {
		return nil, ErrInvalidAmount
	}
	rIn, overflow := uint256.FromBig(reserveIn)
	if overflow {
		return nil, ErrInsufficientLiquidity
	}
	rOut, overflow := uint256.FromBig(reserveOut)
	if overflow {
		return nil, ErrInsufficientLiquidity
	}
	numerator := new(uint256.Int).Mul(rIn, out)
	denominator := new(uint256.Int).Sub(rOut, out)
	in := numerator.Div(numerator, denominator)
	// Gross up for the input-side fee, rounding against the trader.
	in.Mul(in, uint256.NewInt(feeDenominatorBps))
	in.Div(in, uint256.NewInt(uint64(feeDenominatorBps-feeBps)))
	in.AddUint64(in, 1)
	return in.ToBig(), nil
}

// QuoteSell quotes selling exactly amountIn of assetIn.
func (p *XYKPool) QuoteSell(assetIn, assetOut AssetID, amountIn *big.Int) (*Quote, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	reserveIn, reserveOut, err := p.orient(assetIn, assetOut)
	if err != nil {
		return nil, err
	}
	out, err := p.calcOut(reserveIn, reserveOut, amountIn)
	if err != nil {
		return nil, err
	}
	return &Quote{AmountIn: new(big.Int).Set(amountIn), AmountOut: out}, nil
}

// QuoteBuy quotes buying exactly amountOut of assetOut.
func (p *XYKPool) QuoteBuy(assetIn, assetOut AssetID, amountOut *big.Int) (*Quote, error) {
	if amountOut == nil || amountOut.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	reserveIn, reserveOut, err := p.orient(assetIn, assetOut)
	if err != nil {
		return nil, err
	}
	in, err := p.calcIn(reserveIn, reserveOut, amountOut)
	if err != nil {
		return nil, err
	}
	return &Quote{AmountIn: in, AmountOut: new(big.Int).Set(amountOut)}, nil
}

// ExecuteSell trades amountIn of assetIn against the pool, moving reserves.
func (p *XYKPool) ExecuteSell(assetIn, assetOut AssetID, amountIn *big.Int) (*Quote, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	reserveIn, reserveOut, err := p.orient(assetIn, assetOut)
	if err != nil {
		return nil, err
	}
	out, err := p.calcOut(reserveIn, reserveOut, amountIn)
	if err != nil {
		return nil, err
	}
	reserveIn.Add(reserveIn, amountIn)
	reserveOut.Sub(reserveOut, out)
	return &Quote{AmountIn: new(big.Int).Set(amountIn), AmountOut: out}, nil
}

// ExecuteBuy trades against the pool for exactly amountOut of assetOut.
func (p *XYKPool) ExecuteBuy(assetIn, assetOut AssetID, amountOut *big.Int) (*Quote, error) {
	if amountOut == nil || amountOut.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	reserveIn, reserveOut, err := p.orient(assetIn, assetOut)
	if err != nil {
		return nil, err
	}
	in, err := p.calcIn(reserveIn, reserveOut, amountOut)
	if err != nil {
		return nil, err
	}
	reserveIn.Add(reserveIn, in)
	reserveOut.Sub(reserveOut, amountOut)
	return &Quote{AmountIn: in, AmountOut: new(big.Int).Set(amountOut)}, nil
}

// Registry holds the pools known to the settlement core keyed by pair.
type Registry struct {
	mu    sync.RWMutex
	pools map[PoolID]Executor
}

// NewRegistry constructs an empty pool registry.
func NewRegistry() *Registry {
	return &Registry{pools: make(map[PoolID]Executor)}
}

// Register adds a pool to the registry.
func (r *Registry) Register(pool Executor) error {
	if pool == nil {
		return fmt.Errorf("amm: nil pool")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pools[pool.ID()]; ok {
		return fmt.Errorf("amm: pool %d already registered", pool.ID())
	}
	r.pools[pool.ID()] = pool
	return nil
}

// Get returns the pool with the given identifier.
func (r *Registry) Get(id PoolID) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pool, ok := r.pools[id]
	return pool, ok
}

// FindPair returns a pool trading the given pair, preferring lower ids.
func (r *Registry) FindPair(a, b AssetID) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best Executor
	for _, pool := range r.pools {
		pa, pb := pool.Assets()
		if (pa == a && pb == b) || (pa == b && pb == a) {
			if best == nil || pool.ID() < best.ID() {
				best = pool
			}
		}
	}
	return best, best != nil
}

// SnapshotAll freezes every pool that carries at least one of the assets.
// A nil filter snapshots every registered pool.
func (r *Registry) SnapshotAll(filter map[AssetID]struct{}) []*PoolSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snapshots := make([]*PoolSnapshot, 0, len(r.pools))
	for _, pool := range r.pools {
		a, b := pool.Assets()
		if filter != nil {
			_, hasA := filter[a]
			_, hasB := filter[b]
			if !hasA && !hasB {
				continue
			}
		}
		reserveA, reserveB := pool.Reserves()
		snapshots = append(snapshots, &PoolSnapshot{
			Pool:     pool.ID(),
			AssetA:   a,
			AssetB:   b,
			ReserveA: reserveA,
			ReserveB: reserveB,
			FeeBps:   pool.FeeBps(),
		})
	}
	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].Pool < snapshots[j].Pool })
	return snapshots
}

// Restorable is implemented by pools that can reset their reserves to a
// previously taken snapshot. The execution engine relies on it to roll back
// partially applied settlements.
type Restorable interface {
	Restore(*PoolSnapshot) error
}

// Restore resets the pool reserves to the snapshot values.
func (p *XYKPool) Restore(snapshot *PoolSnapshot) error {
	if snapshot == nil || snapshot.Pool != p.id {
		return fmt.Errorf("amm: snapshot does not belong to pool %d", p.id)
	}
	if snapshot.ReserveA == nil || snapshot.ReserveB == nil {
		return fmt.Errorf("amm: snapshot reserves missing")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reserveA = new(big.Int).Set(snapshot.ReserveA)
	p.reserveB = new(big.Int).Set(snapshot.ReserveB)
	return nil
}

// Checkpoint freezes every registered pool for a later Revert.
func (r *Registry) Checkpoint() []*PoolSnapshot {
	return r.SnapshotAll(nil)
}

// Revert resets every pool covered by the checkpoint. Pools that do not
// implement Restorable fail the revert.
func (r *Registry) Revert(checkpoint []*PoolSnapshot) error {
	for _, snapshot := range checkpoint {
		pool, ok := r.Get(snapshot.Pool)
		if !ok {
			return fmt.Errorf("amm: pool %d missing during revert", snapshot.Pool)
		}
		restorable, ok := pool.(Restorable)
		if !ok {
			return fmt.Errorf("amm: pool %d cannot be restored", snapshot.Pool)
		}
		if err := restorable.Restore(snapshot); err != nil {
			return err
		}
	}
	return nil
}
