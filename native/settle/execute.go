package settle

import (
	"errors"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"intentchain/native/amm"
	"intentchain/native/hooks"
	"intentchain/native/intents"
	"intentchain/state/bank"
)

var (
	// ErrTradeMismatch indicates a pool trade realized an amount outside
	// the declared tolerance, e.g. because pool state moved underneath it.
	ErrTradeMismatch = errors.New("settle: realized trade amount mismatch")
	// ErrUnknownPool indicates a trade route references an unknown pool.
	ErrUnknownPool = errors.New("settle: route references unknown pool")
	// ErrNilExecutor indicates an unconfigured execution engine.
	ErrNilExecutor = errors.New("settle: executor not configured")
)

// HoldingAccount derives the protocol account that briefly owns all funds
// mid-settlement. The derivation is deterministic so every component agrees
// on it without coordination.
func HoldingAccount() [20]byte {
	var account [20]byte
	digest := ethcrypto.Keccak256([]byte("intentchain/settle/holding"))
	copy(account[:], digest[12:])
	return account
}

// BondAccount derives the escrow account posted bonds sit in while a
// submission is being judged.
func BondAccount() [20]byte {
	var account [20]byte
	digest := ethcrypto.Keccak256([]byte("intentchain/settle/bond"))
	copy(account[:], digest[12:])
	return account
}

// ProtocolAccount derives the account forfeited bonds accrue to.
func ProtocolAccount() [20]byte {
	var account [20]byte
	digest := ethcrypto.Keccak256([]byte("intentchain/settle/protocol"))
	copy(account[:], digest[12:])
	return account
}

// IntentResolver is the mutation surface the executor needs from the
// intent store.
type IntentResolver interface {
	Get(id intents.IntentID) (*intents.Intent, bool, error)
	ResolveIntent(resolved *intents.ResolvedIntent) (*intents.Intent, error)
	Reinstate(intent *intents.Intent) error
}

// Executor applies a verifier-accepted solution atomically: inbound
// transfers, pool trades, outbound transfers, intent store updates and hook
// enqueueing, with full rollback on any failure.
type Executor struct {
	intents      IntentResolver
	ledger       *bank.Ledger
	venue        *amm.Registry
	hooks        hooks.Queue
	holding      [20]byte
	toleranceBps uint32
}

// NewExecutor constructs an execution engine. toleranceBps bounds how far a
// realized pool trade may deviate from its declared amount.
func NewExecutor(resolver IntentResolver, ledger *bank.Ledger, venue *amm.Registry, queue hooks.Queue, toleranceBps uint32) *Executor {
	return &Executor{
		intents:      resolver,
		ledger:       ledger,
		venue:        venue,
		hooks:        queue,
		holding:      HoldingAccount(),
		toleranceBps: toleranceBps,
	}
}

// Execute applies the solution as a single all-or-nothing unit.
func (x *Executor) Execute(solution *Solution) error {
	if x == nil || x.intents == nil || x.ledger == nil || x.venue == nil {
		return ErrNilExecutor
	}
	if solution == nil || len(solution.Resolved) == 0 {
		return ErrEmptySolution
	}

	ledgerCheckpoint := x.ledger.Checkpoint()
	venueCheckpoint := x.venue.Checkpoint()
	rollback := func() {
		_ = x.ledger.Revert(ledgerCheckpoint)
		_ = x.venue.Revert(venueCheckpoint)
	}

	origins := make([]*intents.Intent, len(solution.Resolved))

	// (1) Inbound transfers consume the owners' reservations into holding.
	for i, resolved := range solution.Resolved {
		intent, ok, err := x.intents.Get(resolved.IntentID)
		if err != nil || !ok {
			rollback()
			return ErrStaleIntents
		}
		origins[i] = intent
		if err := x.ledger.TransferReserved(intent.Owner, x.holding, intent.Swap.AssetIn, intents.ReserveName, resolved.AmountIn); err != nil {
			rollback()
			return fmt.Errorf("settle: inbound transfer for %s: %w", intent.ID, err)
		}
	}

	// (2) Pool trades from the holding account, checked against declared
	// amounts.
	for _, trade := range solution.Trades {
		if err := x.executeTrade(trade); err != nil {
			rollback()
			return err
		}
	}

	// (3) Outbound transfers from holding to the intent owners.
	for i, resolved := range solution.Resolved {
		intent := origins[i]
		if err := x.ledger.Transfer(x.holding, intent.Owner, intent.Swap.AssetOut, resolved.AmountOut); err != nil {
			rollback()
			return fmt.Errorf("settle: outbound transfer for %s: %w", intent.ID, err)
		}
	}

	// (4) Intent store updates: removal or partial reduction. When the
	// intent leaves the store its unspent reservation is released back to
	// the owner. If a later resolution fails, the already applied ones are
	// reinstated alongside the ledger and venue reverts.
	var applied []*intents.Intent
	rollbackResolved := func() {
		for _, intent := range applied {
			_ = x.intents.Reinstate(intent)
		}
		rollback()
	}
	for i, resolved := range solution.Resolved {
		intent := origins[i]
		if _, err := x.intents.ResolveIntent(resolved); err != nil {
			rollbackResolved()
			return err
		}
		applied = append(applied, intent)
		leftover := new(big.Int).Sub(intent.Swap.AmountIn, resolved.AmountIn)
		if leftover.Sign() == 0 {
			continue
		}
		if _, stillOpen, err := x.intents.Get(intent.ID); err != nil {
			rollbackResolved()
			return err
		} else if stillOpen {
			continue
		}
		if err := x.ledger.Release(intent.Owner, intent.Swap.AssetIn, intents.ReserveName, leftover); err != nil {
			rollbackResolved()
			return err
		}
	}

	// (5) Success hooks, outside the atomic unit: a full queue must not
	// undo a settled window.
	if x.hooks != nil {
		for _, intent := range origins {
			if len(intent.OnSuccess) == 0 {
				continue
			}
			_ = x.hooks.Enqueue(intent.ID, intent.OnSuccess, 0)
		}
	}
	return nil
}

// executeTrade walks the route hop by hop and verifies the realized
// boundary amounts against the declared ones.
func (x *Executor) executeTrade(trade *PoolTrade) error {
	if trade == nil || len(trade.Route) == 0 {
		return ErrInvariantViolated
	}
	switch trade.Direction {
	case intents.ExactIn:
		return x.executeSellRoute(trade)
	case intents.ExactOut:
		return x.executeBuyRoute(trade)
	}
	return ErrInvariantViolated
}

func (x *Executor) executeSellRoute(trade *PoolTrade) error {
	carry := new(big.Int).Set(trade.AmountIn)
	for _, hop := range trade.Route {
		pool, ok := x.venue.Get(hop.Pool)
		if !ok {
			return ErrUnknownPool
		}
		quote, err := pool.ExecuteSell(hop.AssetIn, hop.AssetOut, carry)
		if err != nil {
			return fmt.Errorf("settle: pool %d sell: %w", hop.Pool, err)
		}
		if err := x.settleHop(hop, quote); err != nil {
			return err
		}
		carry = quote.AmountOut
	}
	if !withinTolerance(carry, trade.AmountOut, x.toleranceBps) {
		return ErrTradeMismatch
	}
	return nil
}

func (x *Executor) executeBuyRoute(trade *PoolTrade) error {
	// Work out the per-hop targets backwards, then trade forwards.
	targets := make([]*big.Int, len(trade.Route))
	needed := new(big.Int).Set(trade.AmountOut)
	for i := len(trade.Route) - 1; i >= 0; i-- {
		hop := trade.Route[i]
		pool, ok := x.venue.Get(hop.Pool)
		if !ok {
			return ErrUnknownPool
		}
		targets[i] = new(big.Int).Set(needed)
		quote, err := pool.QuoteBuy(hop.AssetIn, hop.AssetOut, needed)
		if err != nil {
			return fmt.Errorf("settle: pool %d buy quote: %w", hop.Pool, err)
		}
		needed = quote.AmountIn
	}
	if !withinTolerance(needed, trade.AmountIn, x.toleranceBps) {
		return ErrTradeMismatch
	}
	for i, hop := range trade.Route {
		pool, _ := x.venue.Get(hop.Pool)
		quote, err := pool.ExecuteBuy(hop.AssetIn, hop.AssetOut, targets[i])
		if err != nil {
			return fmt.Errorf("settle: pool %d buy: %w", hop.Pool, err)
		}
		if err := x.settleHop(hop, quote); err != nil {
			return err
		}
	}
	return nil
}

// settleHop mirrors a pool trade on the ledger. Pool reserves live inside
// the pool itself, so on the ledger side the holding account's inflow is
// burned and its outflow minted.
func (x *Executor) settleHop(hop RouteHop, quote *amm.Quote) error {
	if err := x.ledger.Burn(x.holding, hop.AssetIn, quote.AmountIn); err != nil {
		return err
	}
	return x.ledger.Mint(x.holding, hop.AssetOut, quote.AmountOut)
}

// withinTolerance reports whether realized deviates from declared by at
// most toleranceBps. A zero tolerance demands exact equality.
func withinTolerance(realized, declared *big.Int, toleranceBps uint32) bool {
	if realized == nil || declared == nil {
		return false
	}
	diff := new(big.Int).Sub(realized, declared)
	if diff.Sign() < 0 {
		diff.Neg(diff)
	}
	if diff.Sign() == 0 {
		return true
	}
	if toleranceBps == 0 {
		return false
	}
	allowed := new(big.Int).Mul(declared, big.NewInt(int64(toleranceBps)))
	allowed.Quo(allowed, big.NewInt(10_000))
	return diff.Cmp(allowed) <= 0
}
