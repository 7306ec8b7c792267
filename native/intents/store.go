package intents

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"intentchain/core/events"
	"intentchain/native/amm"
)

var (
	// ErrNilState indicates the engine has no state backend configured.
	ErrNilState = errors.New("intents: state not configured")
	// ErrNilLedger indicates the engine has no balance ledger configured.
	ErrNilLedger = errors.New("intents: ledger not configured")
	// ErrInvalidDeadline indicates the deadline is not strictly within
	// (now, now+MaxDuration].
	ErrInvalidDeadline = errors.New("intents: deadline outside allowed window")
	// ErrInsufficientBalance indicates the owner cannot cover amount_in.
	ErrInsufficientBalance = errors.New("intents: insufficient balance")
	// ErrSameAsset indicates asset_in equals asset_out.
	ErrSameAsset = errors.New("intents: assets must differ")
	// ErrZeroAmount indicates a non-positive swap amount.
	ErrZeroAmount = errors.New("intents: amounts must be positive")
	// ErrHubAssetOut indicates an intent tried to buy the hub asset.
	ErrHubAssetOut = errors.New("intents: hub asset cannot be bought")
	// ErrIntentNotFound indicates the intent does not exist.
	ErrIntentNotFound = errors.New("intents: intent not found")
	// ErrNotOwner indicates the caller does not own the intent.
	ErrNotOwner = errors.New("intents: caller is not the owner")
	// ErrPartialNotAllowed indicates a partial resolution of a full intent.
	ErrPartialNotAllowed = errors.New("intents: intent does not allow partial resolution")
	// ErrResolveExceedsIntent indicates a resolution beyond stated amounts.
	ErrResolveExceedsIntent = errors.New("intents: resolution exceeds intent amounts")
	// ErrCorruptStore indicates an invariant violation inside the store
	// that should have been rejected at submission time.
	ErrCorruptStore = errors.New("intents: store invariant violated")
)

// ReserveName is the named reservation all intent deposits are held under.
const ReserveName = "intents/deposit"

// State is the persistence contract for the intent store. Iteration visits
// intents in id order, which by construction is deadline order.
type State interface {
	IntentPut(*Intent) error
	IntentGet(IntentID) (*Intent, bool, error)
	IntentDelete(IntentID) error
	IntentAscend(func(*Intent) bool) error
	NextSequence() (uint64, error)
}

// Ledger is the balance collaborator the store reserves deposits against.
type Ledger interface {
	Balance(account [20]byte, asset amm.AssetID) *big.Int
	Reserve(account [20]byte, asset amm.AssetID, name string, amount *big.Int) error
	Release(account [20]byte, asset amm.AssetID, name string, amount *big.Int) error
}

// PoolSource supplies pool snapshots for problem instances.
type PoolSource interface {
	SnapshotAll(filter map[amm.AssetID]struct{}) []*amm.PoolSnapshot
}

// Engine owns the open-intent set: submission, cancellation, expiry sweeps
// and the mutations applied by the execution engine.
type Engine struct {
	state       State
	ledger      Ledger
	pools       PoolSource
	emitter     events.Emitter
	nowFn       func() uint64
	maxDuration uint64
	window      func() uint64
}

// NewEngine constructs an intent engine. maxDuration bounds how far in the
// future a deadline may lie, in seconds.
func NewEngine(state State, ledger Ledger, pools PoolSource, maxDuration uint64) *Engine {
	return &Engine{
		state:       state,
		ledger:      ledger,
		pools:       pools,
		emitter:     events.NoopEmitter{},
		nowFn:       func() uint64 { return uint64(time.Now().Unix()) },
		maxDuration: maxDuration,
	}
}

// SetEmitter configures the event emitter used by the engine.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source, primarily used in tests.
func (e *Engine) SetNowFunc(now func() uint64) {
	if now == nil {
		e.nowFn = func() uint64 { return uint64(time.Now().Unix()) }
		return
	}
	e.nowFn = now
}

// SetWindowFunc configures the settlement window counter used to stamp
// problem instances.
func (e *Engine) SetWindowFunc(window func() uint64) { e.window = window }

func (e *Engine) now() uint64 {
	if e == nil || e.nowFn == nil {
		return uint64(time.Now().Unix())
	}
	return e.nowFn()
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

// Submit validates a new intent, reserves the deposit and persists it.
func (e *Engine) Submit(owner [20]byte, swap Swap, deadline uint64, partial bool, onSuccess, onFailure []byte) (IntentID, error) {
	var zero IntentID
	if e == nil || e.state == nil {
		return zero, ErrNilState
	}
	if e.ledger == nil {
		return zero, ErrNilLedger
	}
	if swap.AssetIn == swap.AssetOut {
		return zero, ErrSameAsset
	}
	if swap.AssetOut == amm.HubAsset {
		return zero, ErrHubAssetOut
	}
	if swap.AmountIn == nil || swap.AmountIn.Sign() <= 0 || swap.AmountOut == nil || swap.AmountOut.Sign() <= 0 {
		return zero, ErrZeroAmount
	}
	now := e.now()
	if deadline <= now || (e.maxDuration > 0 && deadline > now+e.maxDuration) {
		return zero, ErrInvalidDeadline
	}
	if e.ledger.Balance(owner, swap.AssetIn).Cmp(swap.AmountIn) < 0 {
		return zero, ErrInsufficientBalance
	}
	if err := e.ledger.Reserve(owner, swap.AssetIn, ReserveName, swap.AmountIn); err != nil {
		return zero, fmt.Errorf("%w: %v", ErrInsufficientBalance, err)
	}
	sequence, err := e.state.NextSequence()
	if err != nil {
		return zero, err
	}
	intent := &Intent{
		ID:       NewIntentID(deadline, sequence),
		Owner:    owner,
		Swap:     swap.Clone(),
		Partial:  partial,
		Deadline: deadline,
	}
	if onSuccess != nil {
		intent.OnSuccess = append([]byte(nil), onSuccess...)
	}
	if onFailure != nil {
		intent.OnFailure = append([]byte(nil), onFailure...)
	}
	if err := e.state.IntentPut(intent); err != nil {
		// Hand the deposit back; the intent never existed.
		_ = e.ledger.Release(owner, swap.AssetIn, ReserveName, swap.AmountIn)
		return zero, err
	}
	e.emit(events.IntentSubmitted{
		IntentID: intent.ID.String(),
		Owner:    owner,
		AssetIn:  uint32(swap.AssetIn),
		AssetOut: uint32(swap.AssetOut),
		AmountIn: new(big.Int).Set(swap.AmountIn),
		Deadline: deadline,
		Partial:  partial,
	})
	return intent.ID, nil
}

// Cancel removes an open intent and releases its reservation. Only the
// owner may cancel.
func (e *Engine) Cancel(id IntentID, caller [20]byte) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if e.ledger == nil {
		return ErrNilLedger
	}
	intent, ok, err := e.state.IntentGet(id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrIntentNotFound
	}
	if intent.Owner != caller {
		return ErrNotOwner
	}
	if err := e.ledger.Release(intent.Owner, intent.Swap.AssetIn, ReserveName, intent.Swap.AmountIn); err != nil {
		return err
	}
	if err := e.state.IntentDelete(id); err != nil {
		return err
	}
	e.emit(events.IntentCancelled{IntentID: id.String(), Owner: intent.Owner})
	return nil
}

// Get returns a copy of the intent with the given id.
func (e *Engine) Get(id IntentID) (*Intent, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, ErrNilState
	}
	intent, ok, err := e.state.IntentGet(id)
	if err != nil || !ok {
		return nil, ok, err
	}
	return intent.Clone(), true, nil
}

// Eligible returns every non-expired intent in id order.
func (e *Engine) Eligible() ([]*Intent, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	now := e.now()
	var eligible []*Intent
	err := e.state.IntentAscend(func(intent *Intent) bool {
		if !intent.Expired(now) {
			eligible = append(eligible, intent.Clone())
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return eligible, nil
}

// Reinstate writes an intent back verbatim. The execution engine uses it to
// undo partially applied resolutions when a later leg fails; the ledger side
// is restored separately, so no reservation is taken here.
func (e *Engine) Reinstate(intent *Intent) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if intent == nil {
		return ErrIntentNotFound
	}
	return e.state.IntentPut(intent.Clone())
}

// ResolveIntent applies one resolved execution to the store: full
// resolutions remove the intent, partial resolutions reduce it in place.
// Only the execution engine calls this.
func (e *Engine) ResolveIntent(resolved *ResolvedIntent) (*Intent, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if resolved == nil || resolved.AmountIn == nil || resolved.AmountOut == nil {
		return nil, ErrResolveExceedsIntent
	}
	intent, ok, err := e.state.IntentGet(resolved.IntentID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrIntentNotFound
	}
	fullIn := resolved.AmountIn.Cmp(intent.Swap.AmountIn) == 0
	if resolved.AmountIn.Cmp(intent.Swap.AmountIn) > 0 {
		return nil, ErrResolveExceedsIntent
	}
	if !fullIn && !intent.Partial {
		return nil, ErrPartialNotAllowed
	}
	remainder := big.NewInt(0)
	if fullIn {
		if err := e.state.IntentDelete(intent.ID); err != nil {
			return nil, err
		}
	} else {
		reduced := intent.Clone()
		reduced.Swap.AmountIn = new(big.Int).Sub(intent.Swap.AmountIn, resolved.AmountIn)
		reduced.Swap.AmountOut = new(big.Int).Sub(intent.Swap.AmountOut, resolved.AmountOut)
		if reduced.Swap.AmountOut.Sign() <= 0 {
			// The remaining limit collapsed to nothing; drop the stub.
			if err := e.state.IntentDelete(intent.ID); err != nil {
				return nil, err
			}
		} else {
			if err := e.state.IntentPut(reduced); err != nil {
				return nil, err
			}
			remainder = new(big.Int).Set(reduced.Swap.AmountIn)
		}
	}
	e.emit(events.IntentResolved{
		IntentID:  intent.ID.String(),
		Owner:     intent.Owner,
		AmountIn:  new(big.Int).Set(resolved.AmountIn),
		AmountOut: new(big.Int).Set(resolved.AmountOut),
		Remainder: remainder,
	})
	return intent, nil
}

// ClearExpired removes every intent whose deadline passed, releasing the
// reservations. It returns the swept intents so the caller can enqueue
// their failure hooks.
func (e *Engine) ClearExpired() ([]*Intent, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if e.ledger == nil {
		return nil, ErrNilLedger
	}
	now := e.now()
	var expired []*Intent
	err := e.state.IntentAscend(func(intent *Intent) bool {
		if intent.Expired(now) {
			expired = append(expired, intent.Clone())
			return true
		}
		// Ids are deadline-ordered, so the first live intent ends the sweep.
		return false
	})
	if err != nil {
		return nil, err
	}
	for _, intent := range expired {
		if err := e.ledger.Release(intent.Owner, intent.Swap.AssetIn, ReserveName, intent.Swap.AmountIn); err != nil {
			return nil, err
		}
		if err := e.state.IntentDelete(intent.ID); err != nil {
			return nil, err
		}
		e.emit(events.IntentExpired{IntentID: intent.ID.String(), Owner: intent.Owner, Deadline: intent.Deadline})
	}
	return expired, nil
}
