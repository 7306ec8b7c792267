package bank

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"intentchain/native/amm"
)

var (
	// ErrInsufficientBalance indicates the account cannot cover the amount.
	ErrInsufficientBalance = errors.New("bank: insufficient balance")
	// ErrInsufficientReserved indicates the named reservation cannot cover the amount.
	ErrInsufficientReserved = errors.New("bank: insufficient reserved balance")
	// ErrInvalidAmount indicates a nil or negative amount.
	ErrInvalidAmount = errors.New("bank: amount must not be negative")
)

type balanceKey struct {
	account [20]byte
	asset   amm.AssetID
}

type reserveKey struct {
	account [20]byte
	asset   amm.AssetID
	name    string
}

// Ledger tracks free and reserved multi-asset balances. It is the balance
// collaborator the intent store and the execution engine operate against.
// The zero value is not usable; construct with NewLedger.
type Ledger struct {
	mu       sync.RWMutex
	balances map[balanceKey]*big.Int
	reserved map[reserveKey]*big.Int
}

// NewLedger constructs an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		balances: make(map[balanceKey]*big.Int),
		reserved: make(map[reserveKey]*big.Int),
	}
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Balance returns the free balance of the account in the given asset.
func (l *Ledger) Balance(account [20]byte, asset amm.AssetID) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if bal, ok := l.balances[balanceKey{account, asset}]; ok {
		return new(big.Int).Set(bal)
	}
	return big.NewInt(0)
}

// Reserved returns the balance held under the named reservation.
func (l *Ledger) Reserved(account [20]byte, asset amm.AssetID, name string) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if bal, ok := l.reserved[reserveKey{account, asset, name}]; ok {
		return new(big.Int).Set(bal)
	}
	return big.NewInt(0)
}

// Mint credits the account. Used by genesis wiring and tests.
func (l *Ledger) Mint(account [20]byte, asset amm.AssetID, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(account, asset, amount)
	return nil
}

// Burn destroys a free balance held by the account.
func (l *Ledger) Burn(account [20]byte, asset amm.AssetID, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if amount.Sign() == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.debit(account, asset, amount)
}

// Transfer moves a free balance between accounts.
func (l *Ledger) Transfer(from, to [20]byte, asset amm.AssetID, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if amount.Sign() == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.debit(from, asset, amount); err != nil {
		return err
	}
	l.credit(to, asset, amount)
	return nil
}

// Reserve moves a free balance into the named reservation.
func (l *Ledger) Reserve(account [20]byte, asset amm.AssetID, name string, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if amount.Sign() == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.debit(account, asset, amount); err != nil {
		return err
	}
	key := reserveKey{account, asset, name}
	if existing, ok := l.reserved[key]; ok {
		existing.Add(existing, amount)
	} else {
		l.reserved[key] = new(big.Int).Set(amount)
	}
	return nil
}

// Release returns a reserved balance to the free balance.
func (l *Ledger) Release(account [20]byte, asset amm.AssetID, name string, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if amount.Sign() == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.unreserve(account, asset, name, amount); err != nil {
		return err
	}
	l.credit(account, asset, amount)
	return nil
}

// TransferReserved consumes a reservation and credits the recipient directly,
// without the amount ever touching the owner's free balance.
func (l *Ledger) TransferReserved(from, to [20]byte, asset amm.AssetID, name string, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if amount.Sign() == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.unreserve(from, asset, name, amount); err != nil {
		return err
	}
	l.credit(to, asset, amount)
	return nil
}

func (l *Ledger) credit(account [20]byte, asset amm.AssetID, amount *big.Int) {
	key := balanceKey{account, asset}
	if existing, ok := l.balances[key]; ok {
		existing.Add(existing, amount)
		return
	}
	l.balances[key] = new(big.Int).Set(amount)
}

func (l *Ledger) debit(account [20]byte, asset amm.AssetID, amount *big.Int) error {
	key := balanceKey{account, asset}
	existing, ok := l.balances[key]
	if !ok || existing.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	existing.Sub(existing, amount)
	return nil
}

func (l *Ledger) unreserve(account [20]byte, asset amm.AssetID, name string, amount *big.Int) error {
	key := reserveKey{account, asset, name}
	existing, ok := l.reserved[key]
	if !ok || existing.Cmp(amount) < 0 {
		return ErrInsufficientReserved
	}
	existing.Sub(existing, amount)
	if existing.Sign() == 0 {
		delete(l.reserved, key)
	}
	return nil
}

// Checkpoint captures the full ledger state so an in-progress execution can
// be rolled back. The settlement window executes single-threaded, so the
// copy is taken without holding the lock across the execution itself.
func (l *Ledger) Checkpoint() *Checkpoint {
	l.mu.RLock()
	defer l.mu.RUnlock()
	cp := &Checkpoint{
		balances: make(map[balanceKey]*big.Int, len(l.balances)),
		reserved: make(map[reserveKey]*big.Int, len(l.reserved)),
	}
	for key, bal := range l.balances {
		cp.balances[key] = new(big.Int).Set(bal)
	}
	for key, bal := range l.reserved {
		cp.reserved[key] = new(big.Int).Set(bal)
	}
	return cp
}

// Revert restores the ledger to a previously captured checkpoint.
func (l *Ledger) Revert(cp *Checkpoint) error {
	if cp == nil {
		return fmt.Errorf("bank: nil checkpoint")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances = make(map[balanceKey]*big.Int, len(cp.balances))
	l.reserved = make(map[reserveKey]*big.Int, len(cp.reserved))
	for key, bal := range cp.balances {
		l.balances[key] = new(big.Int).Set(bal)
	}
	for key, bal := range cp.reserved {
		l.reserved[key] = new(big.Int).Set(bal)
	}
	return nil
}

// Checkpoint is an opaque ledger snapshot handed back by Checkpoint.
type Checkpoint struct {
	balances map[balanceKey]*big.Int
	reserved map[reserveKey]*big.Int
}
