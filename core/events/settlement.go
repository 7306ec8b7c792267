package events

import (
	"math/big"

	"intentchain/core/types"
)

const (
	// TypeSolutionProvisional is emitted when a submitted solution becomes
	// the window's provisional best.
	TypeSolutionProvisional = "settle.provisional"
	// TypeWindowFinalized is emitted when a window closes with an executed
	// solution.
	TypeWindowFinalized = "settle.finalized"
	// TypeWindowEmpty is emitted when a window closes without any accepted
	// solution.
	TypeWindowEmpty = "settle.empty"
	// TypeWindowReverted is emitted when solution execution failed and the
	// window re-opened without effects.
	TypeWindowReverted = "settle.reverted"
	// TypeBondSlashed is emitted when an invalid submission forfeits its bond.
	TypeBondSlashed = "settle.bond_slashed"
	// TypeBondRefunded is emitted when a superseded proposer is made whole.
	TypeBondRefunded = "settle.bond_refunded"
)

type SolutionProvisional struct {
	Window   uint64
	Proposer [20]byte
	Score    uint64
	Resolved int
}

func (SolutionProvisional) EventType() string { return TypeSolutionProvisional }

func (e SolutionProvisional) Event() *types.Event {
	return &types.Event{
		Type: TypeSolutionProvisional,
		Attributes: map[string]string{
			"window":   formatUint(e.Window),
			"proposer": formatAddress(e.Proposer),
			"score":    formatUint(e.Score),
			"resolved": formatUint(uint64(e.Resolved)),
		},
	}
}

type WindowFinalized struct {
	Window   uint64
	Proposer [20]byte
	Score    uint64
	Resolved int
	Trades   int
}

func (WindowFinalized) EventType() string { return TypeWindowFinalized }

func (e WindowFinalized) Event() *types.Event {
	return &types.Event{
		Type: TypeWindowFinalized,
		Attributes: map[string]string{
			"window":   formatUint(e.Window),
			"proposer": formatAddress(e.Proposer),
			"score":    formatUint(e.Score),
			"resolved": formatUint(uint64(e.Resolved)),
			"trades":   formatUint(uint64(e.Trades)),
		},
	}
}

type WindowEmpty struct {
	Window uint64
}

func (WindowEmpty) EventType() string { return TypeWindowEmpty }

func (e WindowEmpty) Event() *types.Event {
	return &types.Event{
		Type:       TypeWindowEmpty,
		Attributes: map[string]string{"window": formatUint(e.Window)},
	}
}

type WindowReverted struct {
	Window uint64
	Reason string
}

func (WindowReverted) EventType() string { return TypeWindowReverted }

func (e WindowReverted) Event() *types.Event {
	return &types.Event{
		Type: TypeWindowReverted,
		Attributes: map[string]string{
			"window": formatUint(e.Window),
			"reason": e.Reason,
		},
	}
}

type BondSlashed struct {
	Window   uint64
	Proposer [20]byte
	Amount   *big.Int
	Reason   string
}

func (BondSlashed) EventType() string { return TypeBondSlashed }

func (e BondSlashed) Event() *types.Event {
	return &types.Event{
		Type: TypeBondSlashed,
		Attributes: map[string]string{
			"window":   formatUint(e.Window),
			"proposer": formatAddress(e.Proposer),
			"amount":   formatAmount(e.Amount),
			"reason":   e.Reason,
		},
	}
}

type BondRefunded struct {
	Window   uint64
	Proposer [20]byte
	Amount   *big.Int
}

func (BondRefunded) EventType() string { return TypeBondRefunded }

func (e BondRefunded) Event() *types.Event {
	return &types.Event{
		Type: TypeBondRefunded,
		Attributes: map[string]string{
			"window":   formatUint(e.Window),
			"proposer": formatAddress(e.Proposer),
			"amount":   formatAmount(e.Amount),
		},
	}
}
