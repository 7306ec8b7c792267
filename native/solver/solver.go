package solver

import (
	"errors"
	"math/big"
	"sort"

	"intentchain/native/amm"
	"intentchain/native/intents"
	"intentchain/native/settle"
)

var (
	// ErrNotConverged indicates the numerical routine failed; the trivial
	// empty solution is never reported this way.
	ErrNotConverged = errors.New("solver: arithmetic failure, no solution produced")
)

// maxRefinements bounds the drop-and-retry loop that fixes candidates whose
// net trades cannot be funded or exceed the per-window pool cap.
const maxRefinements = 8

// Config carries the solver knobs mirrored from the settlement parameters.
type Config struct {
	// MaxTradeRatioBps caps each net pool trade at this fraction of the
	// pool's input reserve. Zero disables the cap.
	MaxTradeRatioBps uint32
	// ToleranceBps is the conservation dust allowance the verifier applies;
	// the solver self-validates against the same bound before proposing.
	ToleranceBps uint32
}

// Solver is the off-path settlement optimizer. It never touches live state:
// it prices and sequences trades against the problem instance's frozen pool
// snapshots only.
//
// Algorithm: compute hub-denominated spot prices, drop intents that cannot
// be satisfied at spot, net the resolved flows per asset, route only the net
// imbalance through pools (sell surpluses into the hub, then fund deficits
// from the realized hub balance), and distribute at the realized prices.
type Solver struct {
	cfg Config
}

// New constructs a solver with the given settlement parameters.
func New(cfg Config) *Solver {
	return &Solver{cfg: cfg}
}

// candidate pairs an intent with its tentative resolution.
type candidate struct {
	intent   *intents.Intent
	resolved *intents.ResolvedIntent
}

// Solve produces the best settlement the solver can find for the problem
// instance. An empty solution (score zero, nothing resolved) is a valid
// outcome and never an error.
func (s *Solver) Solve(problem *intents.ProblemInstance) (*settle.Solution, error) {
	empty := &settle.Solution{ClearingPrices: make(map[amm.AssetID]*big.Rat)}
	if s == nil || problem == nil || len(problem.Intents) == 0 {
		return empty, nil
	}

	spot := amm.NewSimulator(problem.Pools)
	prices := make(map[amm.AssetID]*big.Rat, len(problem.Assets))
	for _, asset := range problem.Assets {
		price, err := spot.SpotPrice(asset, amm.HubAsset)
		if err != nil {
			// Unpriced assets exclude their intents below.
			continue
		}
		prices[asset] = price
	}

	active := make([]*intents.Intent, 0, len(problem.Intents))
	for _, intent := range problem.Intents {
		if satisfiable(intent, prices) {
			active = append(active, intent)
		}
	}
	if len(active) == 0 {
		return empty, nil
	}

	lookup := problemLookup(problem)
	for iter := 0; iter < maxRefinements; iter++ {
		if len(active) == 0 {
			return empty, nil
		}
		if len(active) == 1 {
			return s.solveSingle(active[0], problem, prices)
		}
		cands := resolveAll(active, prices)
		if len(cands) < len(active) {
			active = candidateIntents(cands)
			continue
		}

		// Discovery pass: quote the net trades without the budget check to
		// learn the pool-impact prices. Spot resolutions promise more output
		// than the pools deliver, so the hub proceeds could never fund them.
		_, realized, badAsset, err := s.planTrades(cands, problem.Pools, prices, false)
		if err != nil {
			active = dropContributor(active, cands, badAsset)
			continue
		}

		// Settlement pass: re-resolve at the realized prices and fund the
		// shrunken deficits from the actual hub proceeds.
		priced := resolveAll(active, realized)
		if len(priced) < len(active) {
			active = candidateIntents(priced)
			continue
		}
		trades, clearing, badAsset, err := s.planTrades(priced, problem.Pools, realized, true)
		if err != nil {
			active = dropContributor(active, priced, badAsset)
			continue
		}
		solution := assemble(priced, trades, clearing)
		if err := settle.CheckConservation(solution, lookup, s.cfg.ToleranceBps); err != nil {
			// Hub dust exceeded the allowance; shrink the candidate set.
			active = dropContributor(active, priced, amm.HubAsset)
			continue
		}
		score, err := settle.Score(solution.Resolved, solution.ClearingPrices, lookup)
		if err != nil {
			return nil, ErrNotConverged
		}
		solution.Score = score
		return solution, nil
	}
	return empty, nil
}

func candidateIntents(cands []candidate) []*intents.Intent {
	remaining := make([]*intents.Intent, 0, len(cands))
	for _, cand := range cands {
		remaining = append(remaining, cand.intent)
	}
	return remaining
}

// solveSingle handles the single-intent case: one direct pool trade when a
// pool carries the pair, otherwise a round trip through the hub.
func (s *Solver) solveSingle(intent *intents.Intent, problem *intents.ProblemInstance, prices map[amm.AssetID]*big.Rat) (*settle.Solution, error) {
	empty := &settle.Solution{ClearingPrices: make(map[amm.AssetID]*big.Rat)}
	sim := amm.NewSimulator(problem.Pools)
	swap := intent.Swap

	var resolved *intents.ResolvedIntent
	var trades []*settle.PoolTrade
	if sim.HasPair(swap.AssetIn, swap.AssetOut) {
		resolved, trades = s.quoteDirect(sim, intent)
	} else {
		resolved, trades = s.quoteViaHub(sim, intent)
	}
	if resolved == nil {
		return empty, nil
	}

	clearing := clonePrices(prices)
	solution := &settle.Solution{
		Resolved:       []*intents.ResolvedIntent{resolved},
		Trades:         trades,
		ClearingPrices: clearing,
	}
	score, err := settle.Score(solution.Resolved, clearing, problemLookup(problem))
	if err != nil {
		return nil, ErrNotConverged
	}
	solution.Score = score
	return solution, nil
}

func (s *Solver) quoteDirect(sim *amm.Simulator, intent *intents.Intent) (*intents.ResolvedIntent, []*settle.PoolTrade) {
	swap := intent.Swap
	var quote *amm.Quote
	var route []amm.PoolID
	var err error
	switch swap.Direction {
	case intents.ExactIn:
		if capExceeded(sim, swap.AssetIn, swap.AssetOut, swap.AmountIn, s.cfg.MaxTradeRatioBps) {
			return nil, nil
		}
		quote, route, err = sim.Sell(swap.AssetIn, swap.AssetOut, swap.AmountIn)
		if err != nil || quote.AmountOut.Cmp(swap.AmountOut) < 0 {
			return nil, nil
		}
	case intents.ExactOut:
		quote, route, err = sim.Buy(swap.AssetIn, swap.AssetOut, swap.AmountOut)
		if err != nil || quote.AmountIn.Cmp(swap.AmountIn) > 0 {
			return nil, nil
		}
		if capExceeded(sim, swap.AssetIn, swap.AssetOut, quote.AmountIn, s.cfg.MaxTradeRatioBps) {
			return nil, nil
		}
	default:
		return nil, nil
	}

	trade := &settle.PoolTrade{
		Direction: swap.Direction,
		AmountIn:  new(big.Int).Set(quote.AmountIn),
		AmountOut: new(big.Int).Set(quote.AmountOut),
		Route:     []settle.RouteHop{{Pool: route[0], AssetIn: swap.AssetIn, AssetOut: swap.AssetOut}},
	}
	resolved := &intents.ResolvedIntent{
		IntentID:  intent.ID,
		AmountIn:  new(big.Int).Set(quote.AmountIn),
		AmountOut: new(big.Int).Set(quote.AmountOut),
	}
	return resolved, []*settle.PoolTrade{trade}
}

// quoteViaHub settles a pair with no direct pool through two hub legs. Both
// legs balance exactly: the first leg's hub output funds the second leg in
// full, so conservation holds with zero tolerance.
func (s *Solver) quoteViaHub(sim *amm.Simulator, intent *intents.Intent) (*intents.ResolvedIntent, []*settle.PoolTrade) {
	swap := intent.Swap
	var first, second *amm.Quote
	var firstRoute, secondRoute []amm.PoolID
	var err error
	switch swap.Direction {
	case intents.ExactIn:
		if capExceeded(sim, swap.AssetIn, amm.HubAsset, swap.AmountIn, s.cfg.MaxTradeRatioBps) {
			return nil, nil
		}
		first, firstRoute, err = sim.Sell(swap.AssetIn, amm.HubAsset, swap.AmountIn)
		if err != nil {
			return nil, nil
		}
		if capExceeded(sim, amm.HubAsset, swap.AssetOut, first.AmountOut, s.cfg.MaxTradeRatioBps) {
			return nil, nil
		}
		second, secondRoute, err = sim.Sell(amm.HubAsset, swap.AssetOut, first.AmountOut)
		if err != nil || second.AmountOut.Cmp(swap.AmountOut) < 0 {
			return nil, nil
		}
	case intents.ExactOut:
		second, secondRoute, err = sim.Buy(amm.HubAsset, swap.AssetOut, swap.AmountOut)
		if err != nil {
			return nil, nil
		}
		if capExceeded(sim, amm.HubAsset, swap.AssetOut, second.AmountIn, s.cfg.MaxTradeRatioBps) {
			return nil, nil
		}
		first, firstRoute, err = sim.Buy(swap.AssetIn, amm.HubAsset, second.AmountIn)
		if err != nil || first.AmountIn.Cmp(swap.AmountIn) > 0 {
			return nil, nil
		}
		if capExceeded(sim, swap.AssetIn, amm.HubAsset, first.AmountIn, s.cfg.MaxTradeRatioBps) {
			return nil, nil
		}
	default:
		return nil, nil
	}

	trades := []*settle.PoolTrade{
		{
			Direction: swap.Direction,
			AmountIn:  new(big.Int).Set(first.AmountIn),
			AmountOut: new(big.Int).Set(first.AmountOut),
			Route:     []settle.RouteHop{{Pool: firstRoute[0], AssetIn: swap.AssetIn, AssetOut: amm.HubAsset}},
		},
		{
			Direction: swap.Direction,
			AmountIn:  new(big.Int).Set(second.AmountIn),
			AmountOut: new(big.Int).Set(second.AmountOut),
			Route:     []settle.RouteHop{{Pool: secondRoute[0], AssetIn: amm.HubAsset, AssetOut: swap.AssetOut}},
		},
	}
	resolved := &intents.ResolvedIntent{
		IntentID:  intent.ID,
		AmountIn:  new(big.Int).Set(first.AmountIn),
		AmountOut: new(big.Int).Set(second.AmountOut),
	}
	return resolved, trades
}

// planTrades nets the candidate flows per asset and routes only the net
// imbalance: surpluses sold into the hub first, deficits then bought with
// the realized hub balance. With enforceBudget false the deficit buys are
// quoted even when the hub proceeds cannot cover them, so the caller learns
// the realized prices of an infeasible plan. On failure it names the asset
// whose trade could not be placed so the refinement loop can drop a
// contributor.
func (s *Solver) planTrades(cands []candidate, pools []*amm.PoolSnapshot, spot map[amm.AssetID]*big.Rat, enforceBudget bool) ([]*settle.PoolTrade, map[amm.AssetID]*big.Rat, amm.AssetID, error) {
	sim := amm.NewSimulator(pools)
	flows := make(map[amm.AssetID]*big.Int)
	adjust := func(asset amm.AssetID, amount *big.Int, sign int) {
		if _, ok := flows[asset]; !ok {
			flows[asset] = new(big.Int)
		}
		if sign > 0 {
			flows[asset].Add(flows[asset], amount)
		} else {
			flows[asset].Sub(flows[asset], amount)
		}
	}
	for _, cand := range cands {
		adjust(cand.intent.Swap.AssetIn, cand.resolved.AmountIn, +1)
		adjust(cand.intent.Swap.AssetOut, cand.resolved.AmountOut, -1)
	}

	assets := make([]amm.AssetID, 0, len(flows))
	for asset := range flows {
		if asset != amm.HubAsset {
			assets = append(assets, asset)
		}
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i] < assets[j] })

	realized := clonePrices(spot)
	var trades []*settle.PoolTrade
	hubBudget := new(big.Int)
	if hub, ok := flows[amm.HubAsset]; ok && hub.Sign() > 0 {
		hubBudget.Set(hub)
	}

	// Surpluses first: every sell grows the hub balance the deficits draw on.
	for _, asset := range assets {
		net := flows[asset]
		if net.Sign() <= 0 {
			continue
		}
		if capExceeded(sim, asset, amm.HubAsset, net, s.cfg.MaxTradeRatioBps) {
			return nil, nil, asset, amm.ErrInsufficientLiquidity
		}
		quote, route, err := sim.Sell(asset, amm.HubAsset, net)
		if err != nil {
			return nil, nil, asset, err
		}
		hubBudget.Add(hubBudget, quote.AmountOut)
		trades = append(trades, &settle.PoolTrade{
			Direction: intents.ExactIn,
			AmountIn:  new(big.Int).Set(quote.AmountIn),
			AmountOut: new(big.Int).Set(quote.AmountOut),
			Route:     []settle.RouteHop{{Pool: route[0], AssetIn: asset, AssetOut: amm.HubAsset}},
		})
		realized[asset] = new(big.Rat).SetFrac(new(big.Int).Set(quote.AmountOut), new(big.Int).Set(quote.AmountIn))
	}

	// Deficits buy exactly the missing amount so those assets net to zero.
	for _, asset := range assets {
		net := flows[asset]
		if net.Sign() >= 0 {
			continue
		}
		deficit := new(big.Int).Neg(net)
		quote, route, err := sim.Buy(amm.HubAsset, asset, deficit)
		if err != nil {
			return nil, nil, asset, err
		}
		if capExceeded(sim, amm.HubAsset, asset, quote.AmountIn, s.cfg.MaxTradeRatioBps) {
			return nil, nil, asset, amm.ErrInsufficientLiquidity
		}
		if enforceBudget && quote.AmountIn.Cmp(hubBudget) > 0 {
			return nil, nil, asset, amm.ErrInsufficientLiquidity
		}
		hubBudget.Sub(hubBudget, quote.AmountIn)
		trades = append(trades, &settle.PoolTrade{
			Direction: intents.ExactOut,
			AmountIn:  new(big.Int).Set(quote.AmountIn),
			AmountOut: new(big.Int).Set(quote.AmountOut),
			Route:     []settle.RouteHop{{Pool: route[0], AssetIn: amm.HubAsset, AssetOut: asset}},
		})
		realized[asset] = new(big.Rat).SetFrac(new(big.Int).Set(quote.AmountIn), new(big.Int).Set(quote.AmountOut))
	}
	return trades, realized, 0, nil
}

// resolveAll computes each intent's tentative resolution at the given
// prices. Intents whose resolution would breach their own limits drop out;
// full intents resolve at exactly their stated amounts or not at all.
func resolveAll(active []*intents.Intent, prices map[amm.AssetID]*big.Rat) []candidate {
	cands := make([]candidate, 0, len(active))
	for _, intent := range active {
		priceIn, okIn := prices[intent.Swap.AssetIn]
		priceOut, okOut := prices[intent.Swap.AssetOut]
		if !okIn || !okOut {
			continue
		}
		swap := intent.Swap
		switch swap.Direction {
		case intents.ExactIn:
			out := convertFloor(swap.AmountIn, priceIn, priceOut)
			if out == nil || out.Cmp(swap.AmountOut) < 0 {
				continue
			}
			cands = append(cands, candidate{
				intent: intent,
				resolved: &intents.ResolvedIntent{
					IntentID:  intent.ID,
					AmountIn:  new(big.Int).Set(swap.AmountIn),
					AmountOut: out,
				},
			})
		case intents.ExactOut:
			in := convertCeil(swap.AmountOut, priceOut, priceIn)
			if in == nil || in.Sign() <= 0 || in.Cmp(swap.AmountIn) > 0 {
				continue
			}
			cands = append(cands, candidate{
				intent: intent,
				resolved: &intents.ResolvedIntent{
					IntentID:  intent.ID,
					AmountIn:  in,
					AmountOut: new(big.Int).Set(swap.AmountOut),
				},
			})
		}
	}
	return cands
}

// dropContributor removes the largest contributor to the named asset's
// imbalance from the active set. When nothing contributes it removes the
// last intent so the loop always shrinks.
func dropContributor(active []*intents.Intent, cands []candidate, asset amm.AssetID) []*intents.Intent {
	var victim *intents.Intent
	largest := new(big.Int)
	for _, cand := range cands {
		var weight *big.Int
		switch asset {
		case cand.intent.Swap.AssetIn:
			weight = cand.resolved.AmountIn
		case cand.intent.Swap.AssetOut:
			weight = cand.resolved.AmountOut
		case amm.HubAsset:
			// Hub shortfalls are driven by deficit buys; shed output volume.
			weight = cand.resolved.AmountOut
		default:
			continue
		}
		if weight.Cmp(largest) > 0 {
			largest = weight
			victim = cand.intent
		}
	}
	if victim == nil && len(active) > 0 {
		victim = active[len(active)-1]
	}
	remaining := make([]*intents.Intent, 0, len(active))
	for _, intent := range active {
		if intent == victim {
			continue
		}
		remaining = append(remaining, intent)
	}
	return remaining
}

func assemble(cands []candidate, trades []*settle.PoolTrade, prices map[amm.AssetID]*big.Rat) *settle.Solution {
	resolved := make([]*intents.ResolvedIntent, 0, len(cands))
	for _, cand := range cands {
		resolved = append(resolved, cand.resolved)
	}
	return &settle.Solution{Resolved: resolved, Trades: trades, ClearingPrices: prices}
}

// satisfiable reports whether the intent's limit can be met at spot prices.
func satisfiable(intent *intents.Intent, prices map[amm.AssetID]*big.Rat) bool {
	priceIn, okIn := prices[intent.Swap.AssetIn]
	priceOut, okOut := prices[intent.Swap.AssetOut]
	if !okIn || !okOut {
		return false
	}
	swap := intent.Swap
	switch swap.Direction {
	case intents.ExactIn:
		out := convertFloor(swap.AmountIn, priceIn, priceOut)
		return out != nil && out.Cmp(swap.AmountOut) >= 0
	case intents.ExactOut:
		in := convertCeil(swap.AmountOut, priceOut, priceIn)
		return in != nil && in.Sign() > 0 && in.Cmp(swap.AmountIn) <= 0
	}
	return false
}

// convertFloor values amount priced at `from` in units of the `to` asset,
// rounding down.
func convertFloor(amount *big.Int, from, to *big.Rat) *big.Int {
	if amount == nil || from == nil || to == nil || to.Sign() <= 0 {
		return nil
	}
	value := new(big.Rat).SetInt(amount)
	value.Mul(value, from)
	value.Quo(value, to)
	return new(big.Int).Quo(value.Num(), value.Denom())
}

// convertCeil is convertFloor rounding up, used for input-side amounts so
// rounding never favors the intent owner.
func convertCeil(amount *big.Int, from, to *big.Rat) *big.Int {
	if amount == nil || from == nil || to == nil || to.Sign() <= 0 {
		return nil
	}
	value := new(big.Rat).SetInt(amount)
	value.Mul(value, from)
	value.Quo(value, to)
	result := new(big.Int).Add(value.Num(), new(big.Int).Sub(value.Denom(), big.NewInt(1)))
	return result.Quo(result, value.Denom())
}

func capExceeded(sim *amm.Simulator, assetIn, assetOut amm.AssetID, amountIn *big.Int, maxRatioBps uint32) bool {
	limit := sim.MaxTradeFor(assetIn, assetOut, maxRatioBps)
	return limit != nil && amountIn.Cmp(limit) > 0
}

func clonePrices(prices map[amm.AssetID]*big.Rat) map[amm.AssetID]*big.Rat {
	clone := make(map[amm.AssetID]*big.Rat, len(prices))
	for asset, price := range prices {
		clone[asset] = new(big.Rat).Set(price)
	}
	return clone
}

// problemLookup indexes the problem's intents so score and conservation
// checks run against the frozen snapshot, not live state.
func problemLookup(problem *intents.ProblemInstance) func(intents.IntentID) (*intents.Intent, bool) {
	byID := make(map[intents.IntentID]*intents.Intent, len(problem.Intents))
	for _, intent := range problem.Intents {
		byID[intent.ID] = intent
	}
	return func(id intents.IntentID) (*intents.Intent, bool) {
		intent, ok := byID[id]
		return intent, ok
	}
}
