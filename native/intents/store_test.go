package intents

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"intentchain/native/amm"
	"intentchain/state/bank"
)

var (
	alice = [20]byte{0x01}
	bob   = [20]byte{0x02}
)

func newTestEngine(t *testing.T) (*Engine, *bank.Ledger, *amm.Registry) {
	t.Helper()
	ledger := bank.NewLedger()
	venue := amm.NewRegistry()
	engine := NewEngine(NewMemoryState(), ledger, venue, 3_600)
	engine.SetNowFunc(func() uint64 { return 1_000 })
	return engine, ledger, venue
}

func fund(t *testing.T, ledger *bank.Ledger, account [20]byte, asset amm.AssetID, amount int64) {
	t.Helper()
	require.NoError(t, ledger.Mint(account, asset, big.NewInt(amount)))
}

func sellSwap(assetIn, assetOut amm.AssetID, in, out int64) Swap {
	return Swap{
		AssetIn:   assetIn,
		AssetOut:  assetOut,
		AmountIn:  big.NewInt(in),
		AmountOut: big.NewInt(out),
		Direction: ExactIn,
	}
}

func TestSubmitReservesDeposit(t *testing.T) {
	engine, ledger, _ := newTestEngine(t)
	fund(t, ledger, alice, 1, 5_000)

	id, err := engine.Submit(alice, sellSwap(1, 2, 1_000, 900), 2_000, false, nil, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(2_000), id.Deadline())
	require.Equal(t, uint64(1), id.Sequence())

	// Spendable balance drops by the reserved deposit.
	require.Equal(t, int64(4_000), ledger.Balance(alice, 1).Int64())

	intent, ok, err := engine.Get(id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, alice, intent.Owner)
	require.Equal(t, int64(1_000), intent.Swap.AmountIn.Int64())
}

func TestSubmitValidation(t *testing.T) {
	engine, ledger, _ := newTestEngine(t)
	fund(t, ledger, alice, 1, 500)

	cases := []struct {
		name     string
		swap     Swap
		deadline uint64
		err      error
	}{
		{"same asset", sellSwap(1, 1, 100, 90), 2_000, ErrSameAsset},
		{"hub asset out", sellSwap(1, 0, 100, 90), 2_000, ErrHubAssetOut},
		{"zero amount", sellSwap(1, 2, 0, 90), 2_000, ErrZeroAmount},
		{"deadline in past", sellSwap(1, 2, 100, 90), 900, ErrInvalidDeadline},
		{"deadline too far", sellSwap(1, 2, 100, 90), 1_000 + 3_601, ErrInvalidDeadline},
		{"insufficient balance", sellSwap(1, 2, 600, 500), 2_000, ErrInsufficientBalance},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := engine.Submit(alice, tc.swap, tc.deadline, false, nil, nil)
			require.ErrorIs(t, err, tc.err)
		})
	}
}

func TestCancelReleasesDeposit(t *testing.T) {
	engine, ledger, _ := newTestEngine(t)
	fund(t, ledger, alice, 1, 1_000)

	id, err := engine.Submit(alice, sellSwap(1, 2, 1_000, 900), 2_000, false, nil, nil)
	require.NoError(t, err)
	require.Equal(t, int64(0), ledger.Balance(alice, 1).Int64())

	require.ErrorIs(t, engine.Cancel(id, bob), ErrNotOwner)

	require.NoError(t, engine.Cancel(id, alice))
	require.Equal(t, int64(1_000), ledger.Balance(alice, 1).Int64())

	_, ok, err := engine.Get(id)
	require.NoError(t, err)
	require.False(t, ok)

	require.ErrorIs(t, engine.Cancel(id, alice), ErrIntentNotFound)
}

func TestEligibleSkipsExpired(t *testing.T) {
	engine, ledger, _ := newTestEngine(t)
	fund(t, ledger, alice, 1, 2_000)

	early, err := engine.Submit(alice, sellSwap(1, 2, 1_000, 900), 1_500, false, nil, nil)
	require.NoError(t, err)
	late, err := engine.Submit(alice, sellSwap(1, 2, 1_000, 900), 3_000, false, nil, nil)
	require.NoError(t, err)

	engine.SetNowFunc(func() uint64 { return 2_000 })

	eligible, err := engine.Eligible()
	require.NoError(t, err)
	require.Len(t, eligible, 1)
	require.Equal(t, late, eligible[0].ID)

	// The expired intent is still stored until the sweep runs.
	_, ok, err := engine.Get(early)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestClearExpiredReleasesDeposits(t *testing.T) {
	engine, ledger, _ := newTestEngine(t)
	fund(t, ledger, alice, 1, 2_000)

	expiredID, err := engine.Submit(alice, sellSwap(1, 2, 1_000, 900), 1_500, false, nil, nil)
	require.NoError(t, err)
	_, err = engine.Submit(alice, sellSwap(1, 2, 1_000, 900), 3_000, false, nil, nil)
	require.NoError(t, err)

	engine.SetNowFunc(func() uint64 { return 2_000 })

	expired, err := engine.ClearExpired()
	require.NoError(t, err)
	require.Len(t, expired, 1)
	require.Equal(t, expiredID, expired[0].ID)

	// One deposit returned, one still reserved.
	require.Equal(t, int64(1_000), ledger.Balance(alice, 1).Int64())

	_, ok, err := engine.Get(expiredID)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestResolveIntentFullRemoval(t *testing.T) {
	engine, ledger, _ := newTestEngine(t)
	fund(t, ledger, alice, 1, 1_000)

	id, err := engine.Submit(alice, sellSwap(1, 2, 1_000, 900), 2_000, false, nil, nil)
	require.NoError(t, err)

	stated, err := engine.ResolveIntent(&ResolvedIntent{
		IntentID:  id,
		AmountIn:  big.NewInt(1_000),
		AmountOut: big.NewInt(950),
	})
	require.NoError(t, err)
	require.Equal(t, int64(1_000), stated.Swap.AmountIn.Int64())

	_, ok, err := engine.Get(id)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestResolveIntentPartialReduction(t *testing.T) {
	engine, ledger, _ := newTestEngine(t)
	fund(t, ledger, alice, 1, 1_000)

	id, err := engine.Submit(alice, sellSwap(1, 2, 1_000, 900), 2_000, true, nil, nil)
	require.NoError(t, err)

	_, err = engine.ResolveIntent(&ResolvedIntent{
		IntentID:  id,
		AmountIn:  big.NewInt(400),
		AmountOut: big.NewInt(380),
	})
	require.NoError(t, err)

	remaining, ok, err := engine.Get(id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(600), remaining.Swap.AmountIn.Int64())
	require.Equal(t, int64(520), remaining.Swap.AmountOut.Int64())
}

func TestResolveIntentRejectsPartialOfFullIntent(t *testing.T) {
	engine, ledger, _ := newTestEngine(t)
	fund(t, ledger, alice, 1, 1_000)

	id, err := engine.Submit(alice, sellSwap(1, 2, 1_000, 900), 2_000, false, nil, nil)
	require.NoError(t, err)

	_, err = engine.ResolveIntent(&ResolvedIntent{
		IntentID:  id,
		AmountIn:  big.NewInt(400),
		AmountOut: big.NewInt(380),
	})
	require.ErrorIs(t, err, ErrPartialNotAllowed)

	_, err = engine.ResolveIntent(&ResolvedIntent{
		IntentID:  id,
		AmountIn:  big.NewInt(2_000),
		AmountOut: big.NewInt(1_900),
	})
	require.ErrorIs(t, err, ErrResolveExceedsIntent)
}

func TestResolveIntentDropsCollapsedStub(t *testing.T) {
	engine, ledger, _ := newTestEngine(t)
	fund(t, ledger, alice, 1, 1_000)

	id, err := engine.Submit(alice, sellSwap(1, 2, 1_000, 900), 2_000, true, nil, nil)
	require.NoError(t, err)

	// Resolving nearly all input at a better-than-limit price collapses
	// the residual output limit to zero.
	_, err = engine.ResolveIntent(&ResolvedIntent{
		IntentID:  id,
		AmountIn:  big.NewInt(999),
		AmountOut: big.NewInt(900),
	})
	require.NoError(t, err)

	_, ok, err := engine.Get(id)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestReinstatePutsIntentBack(t *testing.T) {
	engine, ledger, _ := newTestEngine(t)
	fund(t, ledger, alice, 1, 1_000)

	id, err := engine.Submit(alice, sellSwap(1, 2, 1_000, 900), 2_000, false, nil, nil)
	require.NoError(t, err)

	intent, _, err := engine.Get(id)
	require.NoError(t, err)

	_, err = engine.ResolveIntent(&ResolvedIntent{IntentID: id, AmountIn: big.NewInt(1_000), AmountOut: big.NewInt(950)})
	require.NoError(t, err)

	require.NoError(t, engine.Reinstate(intent))

	restored, ok, err := engine.Get(id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(1_000), restored.Swap.AmountIn.Int64())
}
