package intents

import (
	"bytes"
	"fmt"
	"sort"

	"intentchain/native/amm"
)

// BuildProblem snapshots the eligible intent set and the referenced pool
// state into a fresh, read-only problem instance. It is a pure read; the
// store is not mutated.
func (e *Engine) BuildProblem() (*ProblemInstance, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if e.pools == nil {
		return nil, fmt.Errorf("intents: pool source not configured")
	}
	eligible, err := e.Eligible()
	if err != nil {
		return nil, err
	}

	assets := map[amm.AssetID]struct{}{amm.HubAsset: {}}
	for _, intent := range eligible {
		// Buying the hub asset is rejected at submission; an occurrence
		// here means the store is corrupt, not that a user misbehaved.
		if intent.Swap.AssetOut == amm.HubAsset {
			return nil, fmt.Errorf("%w: intent %s buys hub asset", ErrCorruptStore, intent.ID)
		}
		assets[intent.Swap.AssetIn] = struct{}{}
		assets[intent.Swap.AssetOut] = struct{}{}
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if a.Swap.AssetIn != b.Swap.AssetIn {
			return a.Swap.AssetIn < b.Swap.AssetIn
		}
		return bytes.Compare(a.ID[:], b.ID[:]) < 0
	})

	problem := &ProblemInstance{BuiltAt: e.now()}
	if e.window != nil {
		problem.Window = e.window()
	}
	problem.Intents = eligible
	for _, intent := range eligible {
		if intent.Partial {
			problem.Partial = append(problem.Partial, intent)
		} else {
			problem.Full = append(problem.Full, intent)
		}
	}

	problem.Assets = make([]amm.AssetID, 0, len(assets))
	for asset := range assets {
		problem.Assets = append(problem.Assets, asset)
	}
	sort.Slice(problem.Assets, func(i, j int) bool { return problem.Assets[i] < problem.Assets[j] })

	problem.Pools = e.pools.SnapshotAll(assets)
	return problem, nil
}
