package token

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInvalidAmount       = errors.New("token: amount must be positive")
	ErrInsufficientBalance = errors.New("token: insufficient balance")
	ErrNotMinter           = errors.New("token: caller is not the minter")
)

// Ledger is an in-process token balance ledger. It models the standard
// transfer surface plus an owner-gated mint/burn capability: only the
// designated minter address may change total supply. The engine holds
// the minter handle for the synthetic token and is therefore the sole
// path by which supply can grow or shrink.
type Ledger struct {
	symbol   string
	decimals uint8
	minter   common.Address

	mu       sync.RWMutex
	balances map[common.Address]*big.Int
	supply   *big.Int
}

// NewLedger constructs a token ledger. The minter address is fixed at
// construction; a zero minter disables mint/burn entirely.
func NewLedger(symbol string, decimals uint8, minter common.Address) *Ledger {
	return &Ledger{
		symbol:   strings.ToUpper(strings.TrimSpace(symbol)),
		decimals: decimals,
		minter:   minter,
		balances: make(map[common.Address]*big.Int),
		supply:   big.NewInt(0),
	}
}

// Symbol returns the ticker the ledger was constructed with.
func (l *Ledger) Symbol() string { return l.symbol }

// Decimals returns the token's fixed-point precision.
func (l *Ledger) Decimals() uint8 { return l.decimals }

// BalanceOf returns a copy of the holder's balance. Unknown holders
// report zero.
func (l *Ledger) BalanceOf(addr common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if bal, ok := l.balances[addr]; ok {
		return new(big.Int).Set(bal)
	}
	return big.NewInt(0)
}

// TotalSupply returns a copy of the outstanding supply.
func (l *Ledger) TotalSupply() *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(big.Int).Set(l.supply)
}

// Transfer moves amount from one holder to another.
func (l *Ledger) Transfer(from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	bal := l.balances[from]
	if bal == nil || bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holder %s", ErrInsufficientBalance, l.symbol, from.Hex())
	}
	l.balances[from] = new(big.Int).Sub(bal, amount)
	if existing := l.balances[to]; existing != nil {
		l.balances[to] = new(big.Int).Add(existing, amount)
	} else {
		l.balances[to] = new(big.Int).Set(amount)
	}
	return nil
}

// Mint credits newly created tokens to the recipient. Only the minter
// handle fixed at construction may call it.
func (l *Ledger) Mint(caller, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.minter == (common.Address{}) || caller != l.minter {
		return ErrNotMinter
	}
	if existing := l.balances[to]; existing != nil {
		l.balances[to] = new(big.Int).Add(existing, amount)
	} else {
		l.balances[to] = new(big.Int).Set(amount)
	}
	l.supply = new(big.Int).Add(l.supply, amount)
	return nil
}

// Burn destroys tokens held by the caller. Only the minter may burn.
func (l *Ledger) Burn(caller common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.minter == (common.Address{}) || caller != l.minter {
		return ErrNotMinter
	}
	bal := l.balances[caller]
	if bal == nil || bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holder %s", ErrInsufficientBalance, l.symbol, caller.Hex())
	}
	l.balances[caller] = new(big.Int).Sub(bal, amount)
	l.supply = new(big.Int).Sub(l.supply, amount)
	return nil
}
