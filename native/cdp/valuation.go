package cdp

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Valuer converts between token amounts and the 18-decimal unit of
// account. Every conversion reads the asset's price feed through its
// staleness guard; prices are never cached across calls.
type Valuer struct {
	registry *Registry
}

// NewValuer binds the valuation layer to the collateral registry.
func NewValuer(registry *Registry) *Valuer {
	return &Valuer{registry: registry}
}

// ToUnitOfAccount values tokenAmount of the asset in the unit of
// account: price * feedScale * tokenAmount / 1e18. Intermediate
// products use big.Int so widening can never overflow; the final
// division truncates toward zero.
func (v *Valuer) ToUnitOfAccount(ctx context.Context, asset common.Address, tokenAmount *big.Int) (*big.Int, error) {
	if v == nil {
		return nil, errNilState
	}
	entry, ok := v.registry.Lookup(asset)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotAllowedToken, asset.Hex())
	}
	if tokenAmount == nil || tokenAmount.Sign() == 0 {
		return big.NewInt(0), nil
	}
	round, err := entry.Feed.LatestRoundData(ctx)
	if err != nil {
		return nil, err
	}
	value := new(big.Int).Mul(round.Price, entry.feedScale)
	value.Mul(value, tokenAmount)
	return value.Quo(value, precision), nil
}

// FromUnitOfAccount inverts ToUnitOfAccount: the token quantity whose
// value equals amount, i.e. amount * 1e18 / (price * feedScale). A zero
// price is rejected with ErrDivisionByZero; the oracle should never
// report one, but the guard belongs here rather than being assumed
// away.
func (v *Valuer) FromUnitOfAccount(ctx context.Context, asset common.Address, amount *big.Int) (*big.Int, error) {
	if v == nil {
		return nil, errNilState
	}
	entry, ok := v.registry.Lookup(asset)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotAllowedToken, asset.Hex())
	}
	if amount == nil || amount.Sign() == 0 {
		return big.NewInt(0), nil
	}
	round, err := entry.Feed.LatestRoundData(ctx)
	if err != nil {
		return nil, err
	}
	scaledPrice := new(big.Int).Mul(round.Price, entry.feedScale)
	if scaledPrice.Sign() == 0 {
		return nil, ErrDivisionByZero
	}
	tokens := new(big.Int).Mul(amount, precision)
	return tokens.Quo(tokens, scaledPrice), nil
}

// PositionValue sums the unit-of-account value of every registered
// asset held by the position.
func (v *Valuer) PositionValue(ctx context.Context, pos *Position) (*big.Int, error) {
	total := big.NewInt(0)
	if v == nil || pos == nil {
		return total, nil
	}
	for _, entry := range v.registry.Assets() {
		balance := pos.CollateralBalance(entry.Address)
		if balance.Sign() == 0 {
			continue
		}
		value, err := v.ToUnitOfAccount(ctx, entry.Address, balance)
		if err != nil {
			return nil, err
		}
		total.Add(total, value)
	}
	return total, nil
}
