package settle

import (
	"errors"
	"math/big"

	"intentchain/native/amm"
	"intentchain/native/intents"
)

var (
	// ErrMissingPrice indicates no clearing price exists for an asset the
	// solution touches.
	ErrMissingPrice = errors.New("settle: missing clearing price")
)

// Scoring constants. Each resolved intent contributes one hub UNIT so that
// resolving more intents always beats resolving fewer at equal matched
// volume; the SCALE division strips rounding noise from the fixed-point
// conversion.
const (
	scoreUnit  = 1_000_000_000_000
	scoreScale = 1_000_000
)

// matchedAmounts computes, per asset, the volume matched directly between
// intents: min(total intent inflow, total intent outflow).
func matchedAmounts(resolved []*intents.ResolvedIntent, lookup func(intents.IntentID) (*intents.Intent, bool)) (map[amm.AssetID]*big.Int, error) {
	amountsIn := make(map[amm.AssetID]*big.Int)
	amountsOut := make(map[amm.AssetID]*big.Int)
	for _, r := range resolved {
		intent, ok := lookup(r.IntentID)
		if !ok {
			return nil, ErrStaleIntents
		}
		accumulate(amountsIn, intent.Swap.AssetIn, r.AmountIn)
		accumulate(amountsOut, intent.Swap.AssetOut, r.AmountOut)
	}
	matched := make(map[amm.AssetID]*big.Int)
	for asset, in := range amountsIn {
		out, ok := amountsOut[asset]
		if !ok {
			continue
		}
		if in.Cmp(out) <= 0 {
			matched[asset] = new(big.Int).Set(in)
		} else {
			matched[asset] = new(big.Int).Set(out)
		}
	}
	return matched, nil
}

func accumulate(m map[amm.AssetID]*big.Int, asset amm.AssetID, amount *big.Int) {
	if amount == nil {
		return
	}
	if existing, ok := m[asset]; ok {
		existing.Add(existing, amount)
		return
	}
	m[asset] = new(big.Int).Set(amount)
}

// Score computes the deterministic integer score of a solution: one hub
// UNIT per resolved intent plus the hub value of all matched volume,
// scaled down to strip rounding noise. Prices are hub-denominated; the hub
// asset itself always prices at one.
func Score(resolved []*intents.ResolvedIntent, prices map[amm.AssetID]*big.Rat, lookup func(intents.IntentID) (*intents.Intent, bool)) (uint64, error) {
	matched, err := matchedAmounts(resolved, lookup)
	if err != nil {
		return 0, err
	}
	hubTotal := new(big.Int).Mul(big.NewInt(int64(len(resolved))), big.NewInt(scoreUnit))
	for asset, amount := range matched {
		if amount.Sign() == 0 {
			continue
		}
		price := priceOf(prices, asset)
		if price == nil {
			return 0, ErrMissingPrice
		}
		// floor(amount * num / den)
		converted := new(big.Int).Mul(amount, price.Num())
		converted.Quo(converted, price.Denom())
		hubTotal.Add(hubTotal, converted)
	}
	hubTotal.Quo(hubTotal, big.NewInt(scoreScale))
	if !hubTotal.IsUint64() {
		return 0, errors.New("settle: score overflow")
	}
	return hubTotal.Uint64(), nil
}

func priceOf(prices map[amm.AssetID]*big.Rat, asset amm.AssetID) *big.Rat {
	if asset == amm.HubAsset {
		return big.NewRat(1, 1)
	}
	if prices == nil {
		return nil
	}
	price, ok := prices[asset]
	if !ok || price == nil || price.Sign() <= 0 {
		return nil
	}
	return price
}
