package settle

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"intentchain/native/amm"
	"intentchain/native/hooks"
	"intentchain/native/intents"
	"intentchain/state/bank"
)

var (
	alice     = [20]byte{0x01}
	bob       = [20]byte{0x02}
	proposer1 = [20]byte{0x11}
	proposer2 = [20]byte{0x12}
)

const bondAmount = 1_000

type fixture struct {
	engine   *intents.Engine
	ledger   *bank.Ledger
	venue    *amm.Registry
	verifier *Verifier
	queue    *hooks.MemoryQueue
}

// newFixture wires a hub/asset1 pool at price 2 and a hub/asset2 pool at
// price 1, funds the trading accounts with asset 1 and the proposers with
// hub for their bonds.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ledger := bank.NewLedger()
	venue := amm.NewRegistry()

	pool1, err := amm.NewXYKPool(1, 0, 1, big.NewInt(2_000_000), big.NewInt(1_000_000), 0)
	require.NoError(t, err)
	require.NoError(t, venue.Register(pool1))
	pool2, err := amm.NewXYKPool(2, 0, 2, big.NewInt(1_000_000), big.NewInt(1_000_000), 0)
	require.NoError(t, err)
	require.NoError(t, venue.Register(pool2))

	require.NoError(t, ledger.Mint(alice, 1, big.NewInt(100_000)))
	require.NoError(t, ledger.Mint(bob, 1, big.NewInt(100_000)))
	require.NoError(t, ledger.Mint(proposer1, amm.HubAsset, big.NewInt(bondAmount)))
	require.NoError(t, ledger.Mint(proposer2, amm.HubAsset, big.NewInt(bondAmount)))

	engine := intents.NewEngine(intents.NewMemoryState(), ledger, venue, 3_600)
	engine.SetNowFunc(func() uint64 { return 1_000 })

	queue := hooks.NewMemoryQueue(64)
	executor := NewExecutor(engine, ledger, venue, queue, 0)
	verifier := NewVerifier(engine, ledger, executor, big.NewInt(bondAmount), BondAccount(), ProtocolAccount())
	verifier.SetNowFunc(func() uint64 { return 1_000 })
	verifier.SetHookQueue(queue)

	return &fixture{engine: engine, ledger: ledger, venue: venue, verifier: verifier, queue: queue}
}

func (f *fixture) submit(t *testing.T, owner [20]byte, in, minOut int64) intents.IntentID {
	t.Helper()
	id, err := f.engine.Submit(owner, intents.Swap{
		AssetIn:   1,
		AssetOut:  2,
		AmountIn:  big.NewInt(in),
		AmountOut: big.NewInt(minOut),
		Direction: intents.ExactIn,
	}, 2_000, true, nil, nil)
	require.NoError(t, err)
	return id
}

// singleSolution routes 10_000 of asset 1 into the hub and the proceeds
// into asset 2, with exact conservation. The pool math gives 19_801 hub
// out of pool 1 and 19_416 of asset 2 out of pool 2 for those 19_801.
func singleSolution(id intents.IntentID) *Solution {
	return &Solution{
		Resolved: []*intents.ResolvedIntent{
			{IntentID: id, AmountIn: big.NewInt(10_000), AmountOut: big.NewInt(19_416)},
		},
		Trades: []*PoolTrade{
			{
				Direction: intents.ExactIn,
				AmountIn:  big.NewInt(10_000),
				AmountOut: big.NewInt(19_801),
				Route:     []RouteHop{{Pool: 1, AssetIn: 1, AssetOut: 0}},
			},
			{
				Direction: intents.ExactOut,
				AmountIn:  big.NewInt(19_801),
				AmountOut: big.NewInt(19_416),
				Route:     []RouteHop{{Pool: 2, AssetIn: 0, AssetOut: 2}},
			},
		},
		ClearingPrices: map[amm.AssetID]*big.Rat{
			1: big.NewRat(2, 1),
			2: big.NewRat(1, 1),
		},
		Score: 1_000_000,
	}
}

// pairSolution resolves two 10_000 sales in one batch: 39_215 hub out of
// pool 1, buying 37_735 of asset 2 for exactly those 39_215.
func pairSolution(first, second intents.IntentID) *Solution {
	return &Solution{
		Resolved: []*intents.ResolvedIntent{
			{IntentID: first, AmountIn: big.NewInt(10_000), AmountOut: big.NewInt(18_868)},
			{IntentID: second, AmountIn: big.NewInt(10_000), AmountOut: big.NewInt(18_867)},
		},
		Trades: []*PoolTrade{
			{
				Direction: intents.ExactIn,
				AmountIn:  big.NewInt(20_000),
				AmountOut: big.NewInt(39_215),
				Route:     []RouteHop{{Pool: 1, AssetIn: 1, AssetOut: 0}},
			},
			{
				Direction: intents.ExactOut,
				AmountIn:  big.NewInt(39_215),
				AmountOut: big.NewInt(37_735),
				Route:     []RouteHop{{Pool: 2, AssetIn: 0, AssetOut: 2}},
			},
		},
		ClearingPrices: map[amm.AssetID]*big.Rat{
			1: big.NewRat(2, 1),
			2: big.NewRat(1, 1),
		},
		Score: 2_000_000,
	}
}

func TestSubmitSolutionBecomesProvisional(t *testing.T) {
	f := newFixture(t)
	id := f.submit(t, alice, 10_000, 9_000)
	solution := singleSolution(id)

	require.NoError(t, f.verifier.SubmitSolution(proposer1, solution, solution.Score, 1))

	state, best := f.verifier.State()
	require.Equal(t, Provisional, state)
	require.Equal(t, proposer1, best.Proposer)
	require.Equal(t, uint64(1_000_000), best.Score)

	// The bond sits in escrow while the proposal is provisional.
	require.Equal(t, int64(0), f.ledger.Balance(proposer1, amm.HubAsset).Int64())
	require.Equal(t, int64(bondAmount), f.ledger.Balance(BondAccount(), amm.HubAsset).Int64())
}

func TestCloseWindowExecutesProvisional(t *testing.T) {
	f := newFixture(t)
	id := f.submit(t, alice, 10_000, 9_000)
	solution := singleSolution(id)

	require.NoError(t, f.verifier.SubmitSolution(proposer1, solution, solution.Score, 1))
	require.NoError(t, f.verifier.CloseWindow())

	// Alice paid 10_000 of asset 1 and received the routed asset 2.
	require.Equal(t, int64(90_000), f.ledger.Balance(alice, 1).Int64())
	require.Equal(t, int64(19_416), f.ledger.Balance(alice, 2).Int64())
	require.Equal(t, int64(0), f.ledger.Reserved(alice, 1, intents.ReserveName).Int64())

	// Bond refunded, window advanced, intent gone.
	require.Equal(t, int64(bondAmount), f.ledger.Balance(proposer1, amm.HubAsset).Int64())
	require.Equal(t, uint64(2), f.verifier.CurrentWindow())
	_, open, err := f.engine.Get(id)
	require.NoError(t, err)
	require.False(t, open)

	state, _ := f.verifier.State()
	require.Equal(t, Pending, state)
}

func TestCloseWindowWithoutProposalIsEmpty(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.verifier.CloseWindow())
	require.Equal(t, uint64(2), f.verifier.CurrentWindow())
}

func TestSubmitSolutionSlashesScoreMismatch(t *testing.T) {
	f := newFixture(t)
	id := f.submit(t, alice, 10_000, 9_000)
	solution := singleSolution(id)

	err := f.verifier.SubmitSolution(proposer1, solution, solution.Score+1, 1)
	require.ErrorIs(t, err, ErrScoreMismatch)

	// The bond is forfeited to the protocol; no state changed otherwise.
	require.Equal(t, int64(0), f.ledger.Balance(proposer1, amm.HubAsset).Int64())
	require.Equal(t, int64(bondAmount), f.ledger.Balance(ProtocolAccount(), amm.HubAsset).Int64())
	state, _ := f.verifier.State()
	require.Equal(t, Pending, state)
}

func TestSubmitSolutionRejectsWrongWindow(t *testing.T) {
	f := newFixture(t)
	id := f.submit(t, alice, 10_000, 9_000)
	solution := singleSolution(id)

	err := f.verifier.SubmitSolution(proposer1, solution, solution.Score, 7)
	require.ErrorIs(t, err, ErrWrongWindow)
	require.Equal(t, int64(bondAmount), f.ledger.Balance(ProtocolAccount(), amm.HubAsset).Int64())
}

func TestSubmitSolutionRequiresFundedBond(t *testing.T) {
	f := newFixture(t)
	id := f.submit(t, alice, 10_000, 9_000)
	solution := singleSolution(id)

	unfunded := [20]byte{0x99}
	err := f.verifier.SubmitSolution(unfunded, solution, solution.Score, 1)
	require.ErrorIs(t, err, ErrBondUnfunded)

	// Turning a broke proposer away is not a slash.
	require.Equal(t, int64(0), f.ledger.Balance(ProtocolAccount(), amm.HubAsset).Int64())
}

func TestAuctionAcceptsOnlyStrictImprovement(t *testing.T) {
	f := newFixture(t)
	first := f.submit(t, alice, 10_000, 9_000)
	second := f.submit(t, bob, 10_000, 9_000)

	solo := singleSolution(first)
	require.NoError(t, f.verifier.SubmitSolution(proposer1, solo, solo.Score, 1))

	// An equal score does not displace the provisional best and costs the
	// bond.
	err := f.verifier.SubmitSolution(proposer2, solo, solo.Score, 1)
	require.ErrorIs(t, err, ErrNotBetter)
	require.Equal(t, int64(bondAmount), f.ledger.Balance(ProtocolAccount(), amm.HubAsset).Int64())

	// A strictly better solution displaces it and refunds the superseded
	// proposer.
	require.NoError(t, f.ledger.Mint(proposer2, amm.HubAsset, big.NewInt(bondAmount)))
	pair := pairSolution(first, second)
	require.NoError(t, f.verifier.SubmitSolution(proposer2, pair, pair.Score, 1))

	state, best := f.verifier.State()
	require.Equal(t, Provisional, state)
	require.Equal(t, proposer2, best.Proposer)
	require.Equal(t, int64(bondAmount), f.ledger.Balance(proposer1, amm.HubAsset).Int64())
}

func TestSubmitSolutionRejectsStaleIntent(t *testing.T) {
	f := newFixture(t)
	id := f.submit(t, alice, 10_000, 9_000)
	solution := singleSolution(id)
	require.NoError(t, f.engine.Cancel(id, alice))

	err := f.verifier.SubmitSolution(proposer1, solution, solution.Score, 1)
	require.ErrorIs(t, err, ErrStaleIntents)
}

func TestCancelAfterAcceptanceDropsProvisional(t *testing.T) {
	f := newFixture(t)
	id := f.submit(t, alice, 10_000, 9_000)
	solution := singleSolution(id)

	require.NoError(t, f.verifier.SubmitSolution(proposer1, solution, solution.Score, 1))
	require.NoError(t, f.engine.Cancel(id, alice))

	// The window closes empty; the proposer is refunded, not slashed.
	require.NoError(t, f.verifier.CloseWindow())
	require.Equal(t, uint64(2), f.verifier.CurrentWindow())
	require.Equal(t, int64(bondAmount), f.ledger.Balance(proposer1, amm.HubAsset).Int64())
	require.Equal(t, int64(100_000), f.ledger.Balance(alice, 1).Int64())
}

func TestSubmitSolutionRejectsPriceLimitViolation(t *testing.T) {
	f := newFixture(t)
	id := f.submit(t, alice, 10_000, 9_000)

	solution := singleSolution(id)
	// Realized output below the stated limit ratio.
	solution.Resolved[0].AmountOut = big.NewInt(8_000)

	err := f.verifier.SubmitSolution(proposer1, solution, solution.Score, 1)
	require.ErrorIs(t, err, ErrPriceLimitViolated)
}

func TestSubmitSolutionRejectsPartialFillOfFullIntent(t *testing.T) {
	f := newFixture(t)
	id, err := f.engine.Submit(alice, intents.Swap{
		AssetIn:   1,
		AssetOut:  2,
		AmountIn:  big.NewInt(20_000),
		AmountOut: big.NewInt(9_000),
		Direction: intents.ExactIn,
	}, 2_000, false, nil, nil)
	require.NoError(t, err)

	solution := singleSolution(id)
	err = f.verifier.SubmitSolution(proposer1, solution, solution.Score, 1)
	require.ErrorIs(t, err, ErrInvariantViolated)
}

func TestSubmitSolutionRejectsDuplicateResolution(t *testing.T) {
	f := newFixture(t)
	id := f.submit(t, alice, 10_000, 9_000)

	solution := singleSolution(id)
	solution.Resolved = append(solution.Resolved, solution.Resolved[0].Clone())

	err := f.verifier.SubmitSolution(proposer1, solution, solution.Score, 1)
	require.ErrorIs(t, err, ErrInvariantViolated)
}

func TestSubmitSolutionRejectsInvalidIdempotently(t *testing.T) {
	f := newFixture(t)
	id := f.submit(t, alice, 10_000, 9_000)
	solution := singleSolution(id)

	before := f.venue.Checkpoint()

	// The same invalid submission twice draws the same verdict each time
	// and leaves nothing behind but the forfeited bonds.
	err := f.verifier.SubmitSolution(proposer1, solution, solution.Score+1, 1)
	require.ErrorIs(t, err, ErrScoreMismatch)
	require.NoError(t, f.ledger.Mint(proposer1, amm.HubAsset, big.NewInt(bondAmount)))
	err = f.verifier.SubmitSolution(proposer1, solution, solution.Score+1, 1)
	require.ErrorIs(t, err, ErrScoreMismatch)

	state, best := f.verifier.State()
	require.Equal(t, Pending, state)
	require.Nil(t, best)
	require.Equal(t, uint64(1), f.verifier.CurrentWindow())
	require.Equal(t, int64(2*bondAmount), f.ledger.Balance(ProtocolAccount(), amm.HubAsset).Int64())

	// The intent is untouched: still open, reservation intact, pools as
	// they were.
	_, open, err := f.engine.Get(id)
	require.NoError(t, err)
	require.True(t, open)
	require.Equal(t, int64(10_000), f.ledger.Reserved(alice, 1, intents.ReserveName).Int64())
	require.Equal(t, before, f.venue.Checkpoint())
}

func TestCloseWindowRevertSweepsExpired(t *testing.T) {
	f := newFixture(t)
	id, err := f.engine.Submit(alice, intents.Swap{
		AssetIn:   1,
		AssetOut:  2,
		AmountIn:  big.NewInt(10_000),
		AmountOut: big.NewInt(9_000),
		Direction: intents.ExactIn,
	}, 4_500, true, nil, nil)
	require.NoError(t, err)
	_, err = f.engine.Submit(bob, intents.Swap{
		AssetIn:   1,
		AssetOut:  2,
		AmountIn:  big.NewInt(1_000),
		AmountOut: big.NewInt(900),
		Direction: intents.ExactIn,
	}, 1_500, false, nil, []byte("notify-fail"))
	require.NoError(t, err)

	// The declared hub leg is one unit short of what the pool realizes, so
	// the solution passes verification against its own declarations but the
	// executor reverts it.
	solution := singleSolution(id)
	solution.Trades[0].AmountOut = big.NewInt(19_800)
	solution.Trades[1].AmountIn = big.NewInt(19_800)
	require.NoError(t, f.verifier.SubmitSolution(proposer1, solution, solution.Score, 1))

	f.engine.SetNowFunc(func() uint64 { return 2_000 })
	f.verifier.SetNowFunc(func() uint64 { return 2_000 })

	err = f.verifier.CloseWindow()
	require.ErrorIs(t, err, ErrTradeMismatch)

	// The window re-opens pending with the proposer refunded and no trace
	// of the attempted execution.
	require.Equal(t, uint64(1), f.verifier.CurrentWindow())
	state, best := f.verifier.State()
	require.Equal(t, Pending, state)
	require.Nil(t, best)
	require.Equal(t, int64(bondAmount), f.ledger.Balance(proposer1, amm.HubAsset).Int64())
	_, open, err := f.engine.Get(id)
	require.NoError(t, err)
	require.True(t, open)
	require.Equal(t, int64(10_000), f.ledger.Reserved(alice, 1, intents.ReserveName).Int64())

	// The expired intent is still swept on the revert path: deposit back
	// and failure hook queued exactly once.
	require.Equal(t, int64(100_000), f.ledger.Balance(bob, 1).Int64())
	drained := f.queue.Drain(10)
	require.Len(t, drained, 1)
	require.Equal(t, []byte("notify-fail"), drained[0].Payload)
}

func TestCloseWindowSweepsExpiredWithFailureHooks(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Submit(alice, intents.Swap{
		AssetIn:   1,
		AssetOut:  2,
		AmountIn:  big.NewInt(1_000),
		AmountOut: big.NewInt(900),
		Direction: intents.ExactIn,
	}, 1_500, false, nil, []byte("notify-fail"))
	require.NoError(t, err)

	f.engine.SetNowFunc(func() uint64 { return 2_000 })
	f.verifier.SetNowFunc(func() uint64 { return 2_000 })

	require.NoError(t, f.verifier.CloseWindow())

	// Deposit back, failure hook queued.
	require.Equal(t, int64(100_000), f.ledger.Balance(alice, 1).Int64())
	drained := f.queue.Drain(10)
	require.Len(t, drained, 1)
	require.Equal(t, []byte("notify-fail"), drained[0].Payload)
}
