package cdp

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Ledger is the mechanical accounting primitive: per-account collateral
// and debt balances plus per-asset custody totals, persisted through
// the State seam. All mutation here is unconditional bookkeeping;
// solvency admission is the engine's job, not the ledger's.
type Ledger struct {
	registry *Registry
	state    State
}

// NewLedger binds the registry and persistence layer.
func NewLedger(registry *Registry, state State) *Ledger {
	return &Ledger{registry: registry, state: state}
}

// Position returns a deep copy of the stored position, or an empty
// position for unknown accounts. The copy is safe to mutate.
func (l *Ledger) Position(addr common.Address) (*Position, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	pos, err := l.state.GetPosition(addr)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		return NewPosition(), nil
	}
	return pos.Clone(), nil
}

// Deposit credits collateral to the account and grows custody. Amount
// must be positive and the asset registered.
func (l *Ledger) Deposit(addr common.Address, asset common.Address, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrAmountZero
	}
	if !l.registry.Contains(asset) {
		return fmt.Errorf("%w: %s", ErrNotAllowedToken, asset.Hex())
	}
	pos, err := l.Position(addr)
	if err != nil {
		return err
	}
	if err := pos.addCollateral(asset, amount); err != nil {
		return err
	}
	if err := l.state.PutPosition(addr, pos); err != nil {
		return err
	}
	return l.adjustCustody(asset, amount)
}

// Withdraw debits collateral from the account and shrinks custody.
// Underflow is rejected outright, never wrapped.
func (l *Ledger) Withdraw(addr common.Address, asset common.Address, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	pos, err := l.Position(addr)
	if err != nil {
		return err
	}
	if err := pos.subCollateral(asset, amount); err != nil {
		return err
	}
	if err := l.state.PutPosition(addr, pos); err != nil {
		return err
	}
	return l.adjustCustody(asset, new(big.Int).Neg(amount))
}

// RecordDebt applies a signed debt adjustment to the account, rejecting
// any result below zero.
func (l *Ledger) RecordDebt(addr common.Address, delta *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	pos, err := l.Position(addr)
	if err != nil {
		return err
	}
	if err := pos.addDebt(delta); err != nil {
		return err
	}
	return l.state.PutPosition(addr, pos)
}

// Commit persists a staged position together with a custody adjustment
// for the asset the transition touched. The engine stages transitions
// on position clones and calls Commit only after every check passed.
func (l *Ledger) Commit(addr common.Address, pos *Position, asset common.Address, custodyDelta *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if err := l.state.PutPosition(addr, pos); err != nil {
		return err
	}
	if custodyDelta == nil || custodyDelta.Sign() == 0 {
		return nil
	}
	return l.adjustCustody(asset, custodyDelta)
}

func (l *Ledger) adjustCustody(asset common.Address, delta *big.Int) error {
	custody, err := l.state.GetCustody(asset)
	if err != nil {
		return err
	}
	next := new(big.Int).Add(custody, delta)
	if next.Sign() < 0 {
		return ErrInsufficientBalance
	}
	return l.state.PutCustody(asset, next)
}

// --- read accessors: must never fail for any input ---

// CollateralBalance reports the account's balance of the asset. Unknown
// accounts and assets report zero.
func (l *Ledger) CollateralBalance(addr common.Address, asset common.Address) *big.Int {
	pos, err := l.Position(addr)
	if err != nil {
		return big.NewInt(0)
	}
	return pos.CollateralBalance(asset)
}

// Debt reports the account's outstanding minted debt.
func (l *Ledger) Debt(addr common.Address) *big.Int {
	pos, err := l.Position(addr)
	if err != nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(pos.Debt)
}

// Custody reports the engine-held total of the asset across all
// accounts.
func (l *Ledger) Custody(asset common.Address) *big.Int {
	if l == nil || l.state == nil {
		return big.NewInt(0)
	}
	custody, err := l.state.GetCustody(asset)
	if err != nil {
		return big.NewInt(0)
	}
	return custody
}

// TotalDebt sums outstanding debt across every stored position.
func (l *Ledger) TotalDebt() *big.Int {
	total := big.NewInt(0)
	if l == nil || l.state == nil {
		return total
	}
	_ = l.state.EachPosition(func(_ common.Address, pos *Position) error {
		total.Add(total, pos.Debt)
		return nil
	})
	return total
}

// Registry exposes the immutable collateral registry.
func (l *Ledger) Registry() *Registry {
	if l == nil {
		return nil
	}
	return l.registry
}
