package cdp

import "math/big"

// Policy constants governing solvency. Threshold and bonus are plain
// percentages; health factors are 1e18 fixed point.
const (
	// LiquidationThresholdPct is the share of nominal collateral value
	// counted toward solvency. 50 means a 200% overcollateralization
	// requirement.
	LiquidationThresholdPct = 50
	// LiquidationBonusPct is the extra collateral awarded to a
	// liquidator on top of the debt-equivalent seizure.
	LiquidationBonusPct = 10
	// percentBase is the divisor for the percentage constants above.
	percentBase = 100
	// unitDecimals is the fixed-point precision of the unit of account
	// and of collateral token amounts.
	unitDecimals = 18
)

var (
	// precision is the 1e18 scale shared by token amounts, the unit of
	// account and health factors.
	precision = mustBigInt("1000000000000000000")
	// MinHealthFactor is the solvency cutoff: a position is healthy iff
	// its health factor is at least 1.0 in fixed point.
	MinHealthFactor = mustBigInt("1000000000000000000")
	// maxHealthFactor is the sentinel reported for debt-free positions,
	// the maximum representable 256-bit value.
	maxHealthFactor = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// Params bundles the policy constants for the read-only accessor
// surface.
type Params struct {
	LiquidationThresholdPct uint64   `json:"liquidationThresholdPct"`
	LiquidationBonusPct     uint64   `json:"liquidationBonusPct"`
	MinHealthFactor         *big.Int `json:"minHealthFactor"`
	UnitDecimals            uint8    `json:"unitDecimals"`
}

// DefaultParams returns the engine's policy constants.
func DefaultParams() Params {
	return Params{
		LiquidationThresholdPct: LiquidationThresholdPct,
		LiquidationBonusPct:     LiquidationBonusPct,
		MinHealthFactor:         new(big.Int).Set(MinHealthFactor),
		UnitDecimals:            unitDecimals,
	}
}
