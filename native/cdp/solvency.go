package cdp

import (
	"context"
	"math/big"
)

// Solvency computes health factors over position state. It is read-only
// with respect to the ledger: the engine passes in whichever position
// snapshot it wants judged, stored or staged.
type Solvency struct {
	valuer *Valuer
}

// NewSolvency binds the solvency engine to the valuation layer.
func NewSolvency(valuer *Valuer) *Solvency {
	return &Solvency{valuer: valuer}
}

// AccountInformation returns the position's outstanding debt and total
// collateral value in the unit of account.
func (s *Solvency) AccountInformation(ctx context.Context, pos *Position) (debt, collateralValue *big.Int, err error) {
	if s == nil || pos == nil {
		return big.NewInt(0), big.NewInt(0), nil
	}
	collateralValue, err = s.valuer.PositionValue(ctx, pos)
	if err != nil {
		return nil, nil, err
	}
	return new(big.Int).Set(pos.Debt), collateralValue, nil
}

// HealthFactor computes the fixed-point solvency ratio of the position:
// (collateralValue * threshold / 100) * 1e18 / debt. A position with no
// debt is maximally healthy regardless of collateral, which also keeps
// the division well-defined.
func (s *Solvency) HealthFactor(ctx context.Context, pos *Position) (*big.Int, error) {
	debt, collateralValue, err := s.AccountInformation(ctx, pos)
	if err != nil {
		return nil, err
	}
	return healthFactor(debt, collateralValue), nil
}

// IsLiquidatable reports whether the position's health factor is below
// the minimum.
func (s *Solvency) IsLiquidatable(ctx context.Context, pos *Position) (bool, *big.Int, error) {
	factor, err := s.HealthFactor(ctx, pos)
	if err != nil {
		return false, nil, err
	}
	return factor.Cmp(MinHealthFactor) < 0, factor, nil
}

func healthFactor(debt, collateralValue *big.Int) *big.Int {
	if debt == nil || debt.Sign() == 0 {
		return new(big.Int).Set(maxHealthFactor)
	}
	adjusted := new(big.Int).Mul(collateralValue, big.NewInt(LiquidationThresholdPct))
	adjusted.Quo(adjusted, big.NewInt(percentBase))
	adjusted.Mul(adjusted, precision)
	return adjusted.Quo(adjusted, debt)
}

func healthy(factor *big.Int) bool {
	return factor != nil && factor.Cmp(MinHealthFactor) >= 0
}
