package cdp

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Position tracks the collateral and minted debt of a single account.
// Accounts are created implicitly on first deposit and never destroyed;
// balances simply settle to zero.
type Position struct {
	// Collateral maps registered asset addresses to deposited amounts
	// in 18-decimal token units.
	Collateral map[common.Address]*big.Int `json:"collateral"`
	// Debt is the outstanding minted synth amount in the unit of
	// account.
	Debt *big.Int `json:"debt"`
}

// NewPosition returns an empty position.
func NewPosition() *Position {
	return &Position{
		Collateral: make(map[common.Address]*big.Int),
		Debt:       big.NewInt(0),
	}
}

// EnsureDefaults populates nil fields so JSON round trips stay safe.
func (p *Position) EnsureDefaults() {
	if p.Collateral == nil {
		p.Collateral = make(map[common.Address]*big.Int)
	}
	if p.Debt == nil {
		p.Debt = big.NewInt(0)
	}
}

// Clone returns a deep copy of the position. Engine transitions mutate
// clones and commit them only after every check passes.
func (p *Position) Clone() *Position {
	if p == nil {
		return NewPosition()
	}
	clone := NewPosition()
	for asset, amount := range p.Collateral {
		if amount != nil {
			clone.Collateral[asset] = new(big.Int).Set(amount)
		}
	}
	if p.Debt != nil {
		clone.Debt = new(big.Int).Set(p.Debt)
	}
	return clone
}

// CollateralBalance returns a copy of the position's balance for the
// asset. Unknown assets report zero.
func (p *Position) CollateralBalance(asset common.Address) *big.Int {
	if p == nil || p.Collateral == nil {
		return big.NewInt(0)
	}
	if amount, ok := p.Collateral[asset]; ok && amount != nil {
		return new(big.Int).Set(amount)
	}
	return big.NewInt(0)
}

// addCollateral credits the asset balance. Amount must be positive.
func (p *Position) addCollateral(asset common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrAmountZero
	}
	p.EnsureDefaults()
	if existing := p.Collateral[asset]; existing != nil {
		p.Collateral[asset] = new(big.Int).Add(existing, amount)
	} else {
		p.Collateral[asset] = new(big.Int).Set(amount)
	}
	return nil
}

// subCollateral debits the asset balance, rejecting underflow outright.
func (p *Position) subCollateral(asset common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrAmountZero
	}
	p.EnsureDefaults()
	existing := p.Collateral[asset]
	if existing == nil || existing.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	p.Collateral[asset] = new(big.Int).Sub(existing, amount)
	return nil
}

// addDebt applies a signed debt adjustment, rejecting any result below
// zero.
func (p *Position) addDebt(delta *big.Int) error {
	if delta == nil || delta.Sign() == 0 {
		return ErrAmountZero
	}
	p.EnsureDefaults()
	next := new(big.Int).Add(p.Debt, delta)
	if next.Sign() < 0 {
		return ErrDebtBelowZero
	}
	p.Debt = next
	return nil
}

// CollateralToken moves a collateral asset between external holders and
// engine custody. Any failure is surfaced by the engine as
// ErrTransferFailed.
type CollateralToken interface {
	Transfer(from, to common.Address, amount *big.Int) error
}

// SynthToken is the owner-gated supply capability of the synthetic
// asset plus its standard transfer surface. The engine holds the only
// minter handle.
type SynthToken interface {
	Transfer(from, to common.Address, amount *big.Int) error
	Mint(caller, to common.Address, amount *big.Int) error
	Burn(caller common.Address, amount *big.Int) error
}
