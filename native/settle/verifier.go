package settle

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"intentchain/core/events"
	"intentchain/native/amm"
	"intentchain/native/hooks"
	"intentchain/native/intents"
)

var (
	// ErrStaleIntents indicates the solution references an intent that no
	// longer exists or has expired since the solution was built.
	ErrStaleIntents = errors.New("settle: solution references stale intents")
	// ErrInvariantViolated indicates per-asset conservation or an intent
	// amount bound does not hold.
	ErrInvariantViolated = errors.New("settle: conservation invariant violated")
	// ErrPriceLimitViolated indicates a resolved intent realizes a worse
	// price than the intent's stated limit.
	ErrPriceLimitViolated = errors.New("settle: intent limit price violated")
	// ErrScoreMismatch indicates the recomputed score disagrees with the
	// claimed one.
	ErrScoreMismatch = errors.New("settle: claimed score mismatch")
	// ErrNotBetter indicates the claimed score does not beat the current
	// provisional solution.
	ErrNotBetter = errors.New("settle: solution does not beat provisional score")
	// ErrWrongWindow indicates the solution targets a window other than the
	// current one.
	ErrWrongWindow = errors.New("settle: solution targets wrong window")
	// ErrEmptySolution indicates a solution resolving no intents.
	ErrEmptySolution = errors.New("settle: solution resolves no intents")
	// ErrBondUnfunded indicates the proposer cannot post the bond.
	ErrBondUnfunded = errors.New("settle: proposer cannot fund bond")
	// ErrNilVerifier indicates an unconfigured verifier.
	ErrNilVerifier = errors.New("settle: verifier not configured")
)

// BondLedger is the balance collaborator used to hold and settle proposer
// bonds, denominated in the hub asset.
type BondLedger interface {
	Transfer(from, to [20]byte, asset amm.AssetID, amount *big.Int) error
}

// IntentSource is the read surface the verifier needs from the intent store.
type IntentSource interface {
	Get(id intents.IntentID) (*intents.Intent, bool, error)
	ClearExpired() ([]*intents.Intent, error)
}

// SolutionExecutor applies an accepted solution atomically.
type SolutionExecutor interface {
	Execute(*Solution) error
}

// Verifier is the on-path settlement state machine. It re-validates
// submitted solutions with closed-form checks and runs the per-window
// best-of auction. It never re-runs the optimizer.
type Verifier struct {
	mu sync.Mutex

	intents  IntentSource
	ledger   BondLedger
	executor SolutionExecutor
	hooks    hooks.Queue
	emitter  events.Emitter
	nowFn    func() uint64

	window       uint64
	best         *Proposal
	bondAmount   *big.Int
	bondAccount  [20]byte
	protocol     [20]byte
	toleranceBps uint32
}

// NewVerifier constructs a verifier. bondAccount escrows posted bonds;
// protocol receives forfeited ones.
func NewVerifier(source IntentSource, ledger BondLedger, executor SolutionExecutor, bondAmount *big.Int, bondAccount, protocol [20]byte) *Verifier {
	bond := big.NewInt(0)
	if bondAmount != nil {
		bond = new(big.Int).Set(bondAmount)
	}
	return &Verifier{
		intents:     source,
		ledger:      ledger,
		executor:    executor,
		emitter:     events.NoopEmitter{},
		nowFn:       func() uint64 { return uint64(time.Now().Unix()) },
		window:      1,
		bondAmount:  bond,
		bondAccount: bondAccount,
		protocol:    protocol,
	}
}

// SetHookQueue configures the queue failure hooks of swept intents are
// enqueued onto.
func (v *Verifier) SetHookQueue(queue hooks.Queue) { v.hooks = queue }

// SetToleranceBps configures the per-asset rounding dust allowed by the
// conservation check, in basis points of the asset's gross inflow. Zero
// demands exact conservation.
func (v *Verifier) SetToleranceBps(bps uint32) { v.toleranceBps = bps }

// SetEmitter configures the event emitter used by the verifier.
func (v *Verifier) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		v.emitter = events.NoopEmitter{}
		return
	}
	v.emitter = emitter
}

// SetNowFunc overrides the time source, primarily used in tests.
func (v *Verifier) SetNowFunc(now func() uint64) {
	if now == nil {
		v.nowFn = func() uint64 { return uint64(time.Now().Unix()) }
		return
	}
	v.nowFn = now
}

func (v *Verifier) emit(evt events.Event) {
	if v == nil || v.emitter == nil || evt == nil {
		return
	}
	v.emitter.Emit(evt)
}

// CurrentWindow returns the active settlement window number.
func (v *Verifier) CurrentWindow() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.window
}

// State returns the verifier state and the provisional proposal, if any.
func (v *Verifier) State() (WindowState, *Proposal) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.best == nil {
		return Pending, nil
	}
	return Provisional, &Proposal{
		Proposer:    v.best.Proposer,
		Score:       v.best.Score,
		Solution:    v.best.Solution.Clone(),
		SubmittedAt: v.best.SubmittedAt,
	}
}

func (v *Verifier) lookup(id intents.IntentID) (*intents.Intent, bool) {
	intent, ok, err := v.intents.Get(id)
	if err != nil || !ok {
		return nil, false
	}
	return intent, true
}

// SubmitSolution runs the full check ladder against the submitted solution.
// On success the solution becomes the window's provisional best and any
// previous proposer is refunded. On any check failure the proposer's bond
// is forfeited and no state changes.
func (v *Verifier) SubmitSolution(proposer [20]byte, solution *Solution, claimedScore uint64, targetWindow uint64) error {
	if v == nil || v.intents == nil || v.ledger == nil {
		return ErrNilVerifier
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	// Posting the bond precedes every check; a proposer who cannot fund it
	// is turned away without slashing anything.
	if err := v.ledger.Transfer(proposer, v.bondAccount, amm.HubAsset, v.bondAmount); err != nil {
		return fmt.Errorf("%w: %v", ErrBondUnfunded, err)
	}

	if err := v.validateLocked(solution, claimedScore, targetWindow); err != nil {
		v.slashLocked(proposer, err)
		return err
	}

	// Supersede the previous best; its proposer is made whole.
	if v.best != nil {
		v.refundLocked(v.best.Proposer)
	}
	v.best = &Proposal{
		Proposer:    proposer,
		Score:       claimedScore,
		Solution:    solution.Clone(),
		SubmittedAt: v.nowFn(),
	}
	v.emit(events.SolutionProvisional{
		Window:   v.window,
		Proposer: proposer,
		Score:    claimedScore,
		Resolved: len(solution.Resolved),
	})
	return nil
}

func (v *Verifier) validateLocked(solution *Solution, claimedScore, targetWindow uint64) error {
	if targetWindow != v.window {
		return ErrWrongWindow
	}
	if solution == nil || len(solution.Resolved) == 0 {
		return ErrEmptySolution
	}
	// The provisional best is invalidated lazily: re-check it before
	// comparing scores so a cancelled intent cannot lock the window.
	if v.best != nil && v.checkFreshness(v.best.Solution) != nil {
		v.refundLocked(v.best.Proposer)
		v.best = nil
	}
	if v.best != nil && claimedScore <= v.best.Score {
		return ErrNotBetter
	}
	if err := v.checkResolved(solution); err != nil {
		return err
	}
	if err := checkConservation(solution, v.lookup, v.toleranceBps); err != nil {
		return err
	}
	recomputed, err := Score(solution.Resolved, solution.ClearingPrices, v.lookup)
	if err != nil {
		return err
	}
	if recomputed != claimedScore {
		return ErrScoreMismatch
	}
	return nil
}

// checkFreshness verifies every referenced intent still exists and has not
// expired.
func (v *Verifier) checkFreshness(solution *Solution) error {
	now := v.nowFn()
	for _, resolved := range solution.Resolved {
		intent, ok := v.lookup(resolved.IntentID)
		if !ok || intent.Expired(now) {
			return ErrStaleIntents
		}
	}
	return nil
}

// checkResolved validates each resolved intent against its origin: bounds,
// the full-or-nothing rule, and the limit price.
func (v *Verifier) checkResolved(solution *Solution) error {
	now := v.nowFn()
	seen := make(map[intents.IntentID]struct{}, len(solution.Resolved))
	for _, resolved := range solution.Resolved {
		if _, dup := seen[resolved.IntentID]; dup {
			return ErrInvariantViolated
		}
		seen[resolved.IntentID] = struct{}{}
		intent, ok := v.lookup(resolved.IntentID)
		if !ok || intent.Expired(now) {
			return ErrStaleIntents
		}
		if err := checkResolution(intent, resolved); err != nil {
			return err
		}
	}
	return nil
}

// checkResolution enforces the amount bounds and limit price of one
// resolution. Full intents resolve at exactly their stated amounts or not
// at all; any solver rounding residue is a rejection, never a rounding.
func checkResolution(intent *intents.Intent, resolved *intents.ResolvedIntent) error {
	if resolved.AmountIn == nil || resolved.AmountIn.Sign() <= 0 || resolved.AmountOut == nil || resolved.AmountOut.Sign() <= 0 {
		return ErrInvariantViolated
	}
	stated := intent.Swap
	if !intent.Partial {
		switch stated.Direction {
		case intents.ExactIn:
			if resolved.AmountIn.Cmp(stated.AmountIn) != 0 {
				return ErrInvariantViolated
			}
			if resolved.AmountOut.Cmp(stated.AmountOut) < 0 {
				return ErrPriceLimitViolated
			}
		case intents.ExactOut:
			if resolved.AmountOut.Cmp(stated.AmountOut) != 0 {
				return ErrInvariantViolated
			}
			if resolved.AmountIn.Cmp(stated.AmountIn) > 0 {
				return ErrPriceLimitViolated
			}
		}
		return nil
	}
	// Partial resolution bounds the fixed side only; the other side is
	// governed by the limit ratio and may beat it.
	switch stated.Direction {
	case intents.ExactIn:
		if resolved.AmountIn.Cmp(stated.AmountIn) > 0 {
			return ErrInvariantViolated
		}
	case intents.ExactOut:
		if resolved.AmountOut.Cmp(stated.AmountOut) > 0 {
			return ErrInvariantViolated
		}
	}
	// realized out/in must be at least the stated limit ratio; compare by
	// cross-multiplication to stay in integers.
	lhs := new(big.Int).Mul(resolved.AmountOut, stated.AmountIn)
	rhs := new(big.Int).Mul(stated.AmountOut, resolved.AmountIn)
	if lhs.Cmp(rhs) < 0 {
		return ErrPriceLimitViolated
	}
	return nil
}

// CheckConservation exposes the verifier's conservation rule so solvers can
// self-validate a candidate before bonding a submission.
func CheckConservation(solution *Solution, lookup func(intents.IntentID) (*intents.Intent, bool), toleranceBps uint32) error {
	return checkConservation(solution, lookup, toleranceBps)
}

// checkConservation verifies that, per asset, the funds entering the
// settlement (intent inflows plus pool trade outputs) cover the funds
// leaving it (intent outflows plus pool trade inputs). A non-negative dust
// remainder up to toleranceBps of the asset's gross inflow is allowed; it
// stays with the protocol holding account. A negative net would make the
// holding account insolvent and is always rejected.
func checkConservation(solution *Solution, lookup func(intents.IntentID) (*intents.Intent, bool), toleranceBps uint32) error {
	net := make(map[amm.AssetID]*big.Int)
	gross := make(map[amm.AssetID]*big.Int)
	add := func(asset amm.AssetID, amount *big.Int) {
		if existing, ok := net[asset]; ok {
			existing.Add(existing, amount)
		} else {
			net[asset] = new(big.Int).Set(amount)
		}
		if existing, ok := gross[asset]; ok {
			existing.Add(existing, amount)
		} else {
			gross[asset] = new(big.Int).Set(amount)
		}
	}
	sub := func(asset amm.AssetID, amount *big.Int) {
		if existing, ok := net[asset]; ok {
			existing.Sub(existing, amount)
			return
		}
		net[asset] = new(big.Int).Neg(amount)
	}
	for _, resolved := range solution.Resolved {
		intent, ok := lookup(resolved.IntentID)
		if !ok {
			return ErrStaleIntents
		}
		add(intent.Swap.AssetIn, resolved.AmountIn)
		sub(intent.Swap.AssetOut, resolved.AmountOut)
	}
	for _, trade := range solution.Trades {
		if len(trade.Route) == 0 || trade.AmountIn == nil || trade.AmountIn.Sign() <= 0 || trade.AmountOut == nil || trade.AmountOut.Sign() <= 0 {
			return ErrInvariantViolated
		}
		for i := 1; i < len(trade.Route); i++ {
			if trade.Route[i].AssetIn != trade.Route[i-1].AssetOut {
				return ErrInvariantViolated
			}
		}
		sub(trade.AssetIn(), trade.AmountIn)
		add(trade.AssetOut(), trade.AmountOut)
	}
	for asset, balance := range net {
		if balance.Sign() < 0 {
			return ErrInvariantViolated
		}
		if balance.Sign() == 0 {
			continue
		}
		if toleranceBps == 0 {
			return ErrInvariantViolated
		}
		allowance := new(big.Int).Mul(gross[asset], big.NewInt(int64(toleranceBps)))
		allowance.Quo(allowance, big.NewInt(10_000))
		if balance.Cmp(allowance) > 0 {
			return ErrInvariantViolated
		}
	}
	return nil
}

func (v *Verifier) slashLocked(proposer [20]byte, reason error) {
	if v.bondAmount.Sign() == 0 {
		return
	}
	// The bond escrow always holds the amount at this point.
	_ = v.ledger.Transfer(v.bondAccount, v.protocol, amm.HubAsset, v.bondAmount)
	v.emit(events.BondSlashed{
		Window:   v.window,
		Proposer: proposer,
		Amount:   new(big.Int).Set(v.bondAmount),
		Reason:   reason.Error(),
	})
}

func (v *Verifier) refundLocked(proposer [20]byte) {
	if v.bondAmount.Sign() == 0 {
		return
	}
	_ = v.ledger.Transfer(v.bondAccount, proposer, amm.HubAsset, v.bondAmount)
	v.emit(events.BondRefunded{
		Window:   v.window,
		Proposer: proposer,
		Amount:   new(big.Int).Set(v.bondAmount),
	})
}

// CloseWindow hands the provisional solution to the execution engine and
// advances to the next window. Without a provisional solution the window
// closes empty. An execution failure re-opens the same window in Pending
// with no effects.
func (v *Verifier) CloseWindow() error {
	if v == nil || v.intents == nil {
		return ErrNilVerifier
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	best := v.best
	v.best = nil

	if best != nil {
		// Lazy invalidation: a cancellation since acceptance drops the
		// solution instead of executing it.
		if err := v.checkFreshness(best.Solution); err != nil {
			v.refundLocked(best.Proposer)
			best = nil
		}
	}

	if best == nil {
		v.emit(events.WindowEmpty{Window: v.window})
		v.sweepLocked()
		v.window++
		return nil
	}

	if v.executor == nil {
		return ErrNilVerifier
	}
	if err := v.executor.Execute(best.Solution); err != nil {
		// Full rollback already happened inside the executor; the window
		// re-opens pending with no provisional solution. Expired intents
		// still get swept so their failure hooks fire exactly once.
		v.refundLocked(best.Proposer)
		v.emit(events.WindowReverted{Window: v.window, Reason: err.Error()})
		v.sweepLocked()
		return err
	}
	v.refundLocked(best.Proposer)
	v.emit(events.WindowFinalized{
		Window:   v.window,
		Proposer: best.Proposer,
		Score:    best.Score,
		Resolved: len(best.Solution.Resolved),
		Trades:   len(best.Solution.Trades),
	})
	v.sweepLocked()
	v.window++
	return nil
}

func (v *Verifier) sweepLocked() {
	// Expired intents are cleared at window boundaries so the next problem
	// snapshot never sees them. Each swept intent gets its failure hook.
	expired, err := v.intents.ClearExpired()
	if err != nil || v.hooks == nil {
		return
	}
	for _, intent := range expired {
		if len(intent.OnFailure) == 0 {
			continue
		}
		_ = v.hooks.Enqueue(intent.ID, intent.OnFailure, 0)
	}
}
