package amm

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func newPool(t *testing.T, id PoolID, a, b AssetID, reserveA, reserveB int64, feeBps uint32) *XYKPool {
	t.Helper()
	pool, err := NewXYKPool(id, a, b, big.NewInt(reserveA), big.NewInt(reserveB), feeBps)
	require.NoError(t, err)
	return pool
}

func TestNewXYKPoolRejectsBadInput(t *testing.T) {
	_, err := NewXYKPool(1, 1, 1, big.NewInt(10), big.NewInt(10), 0)
	require.Error(t, err)

	_, err = NewXYKPool(1, 0, 1, big.NewInt(0), big.NewInt(10), 0)
	require.Error(t, err)

	_, err = NewXYKPool(1, 0, 1, big.NewInt(10), big.NewInt(10), 10_000)
	require.Error(t, err)
}

func TestQuoteSellConstantProduct(t *testing.T) {
	pool := newPool(t, 1, 0, 1, 1_000_000, 1_000_000, 0)

	quote, err := pool.QuoteSell(1, 0, big.NewInt(1_000))
	require.NoError(t, err)
	// out = 1_000_000 * 1_000 / 1_001_000, floored.
	require.Equal(t, int64(999), quote.AmountOut.Int64())

	// Quoting must not move reserves.
	ra, rb := pool.Reserves()
	require.Equal(t, int64(1_000_000), ra.Int64())
	require.Equal(t, int64(1_000_000), rb.Int64())
}

func TestQuoteSellChargesFeeOnInput(t *testing.T) {
	pool := newPool(t, 1, 0, 1, 1_000_000, 1_000_000, 30)

	quote, err := pool.QuoteSell(1, 0, big.NewInt(1_000))
	require.NoError(t, err)
	// in after fee = 997; out = 1_000_000 * 997 / 1_000_997, floored.
	require.Equal(t, int64(996), quote.AmountOut.Int64())
}

func TestQuoteBuyRoundsAgainstTrader(t *testing.T) {
	pool := newPool(t, 1, 0, 1, 1_000_000, 1_000_000, 0)

	quote, err := pool.QuoteBuy(1, 0, big.NewInt(1_000))
	require.NoError(t, err)
	require.Equal(t, int64(1_002), quote.AmountIn.Int64())

	// Selling the quoted input must realize at least the requested output.
	realized, err := pool.QuoteSell(1, 0, quote.AmountIn)
	require.NoError(t, err)
	require.True(t, realized.AmountOut.Cmp(big.NewInt(1_000)) >= 0)
}

func TestQuoteBuyRejectsDrainingPool(t *testing.T) {
	pool := newPool(t, 1, 0, 1, 1_000, 1_000, 0)

	_, err := pool.QuoteBuy(1, 0, big.NewInt(1_000))
	require.ErrorIs(t, err, ErrInsufficientLiquidity)
}

func TestQuoteRejectsUnknownPair(t *testing.T) {
	pool := newPool(t, 1, 0, 1, 1_000, 1_000, 0)

	_, err := pool.QuoteSell(2, 0, big.NewInt(10))
	require.ErrorIs(t, err, ErrUnknownPair)
}

func TestExecuteSellMovesReserves(t *testing.T) {
	pool := newPool(t, 1, 0, 1, 1_000_000, 1_000_000, 0)

	quote, err := pool.ExecuteSell(1, 0, big.NewInt(1_000))
	require.NoError(t, err)

	ra, rb := pool.Reserves()
	require.Equal(t, int64(1_000_000-999), ra.Int64())
	require.Equal(t, int64(1_001_000), rb.Int64())
	require.Equal(t, int64(999), quote.AmountOut.Int64())
}

func TestRegistryFindPairPrefersLowestID(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(newPool(t, 5, 0, 1, 1_000, 1_000, 0)))
	require.NoError(t, registry.Register(newPool(t, 2, 0, 1, 1_000, 1_000, 0)))
	require.NoError(t, registry.Register(newPool(t, 9, 0, 2, 1_000, 1_000, 0)))

	pool, ok := registry.FindPair(1, 0)
	require.True(t, ok)
	require.Equal(t, PoolID(2), pool.ID())

	_, ok = registry.FindPair(1, 2)
	require.False(t, ok)
}

func TestRegistryRejectsDuplicateID(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(newPool(t, 1, 0, 1, 1_000, 1_000, 0)))
	require.Error(t, registry.Register(newPool(t, 1, 0, 2, 1_000, 1_000, 0)))
}

func TestSnapshotAllFiltersByAsset(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(newPool(t, 1, 0, 1, 1_000, 2_000, 0)))
	require.NoError(t, registry.Register(newPool(t, 2, 0, 2, 1_000, 1_000, 0)))

	snapshots := registry.SnapshotAll(map[AssetID]struct{}{1: {}})
	require.Len(t, snapshots, 1)
	require.Equal(t, PoolID(1), snapshots[0].Pool)
	require.Equal(t, int64(2_000), snapshots[0].ReserveB.Int64())

	all := registry.SnapshotAll(nil)
	require.Len(t, all, 2)
	require.Equal(t, PoolID(1), all[0].Pool)
	require.Equal(t, PoolID(2), all[1].Pool)
}

func TestCheckpointRevertRestoresReserves(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(newPool(t, 1, 0, 1, 1_000_000, 1_000_000, 0)))

	checkpoint := registry.Checkpoint()

	pool, _ := registry.Get(1)
	_, err := pool.ExecuteSell(1, 0, big.NewInt(10_000))
	require.NoError(t, err)

	require.NoError(t, registry.Revert(checkpoint))
	ra, rb := pool.Reserves()
	require.Equal(t, int64(1_000_000), ra.Int64())
	require.Equal(t, int64(1_000_000), rb.Int64())
}
