package cdp

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	errNilState            = errors.New("cdp engine: state not configured")
	ErrAmountZero          = errors.New("cdp engine: amount must be more than zero")
	ErrNotAllowedToken     = errors.New("cdp engine: collateral token not allowed")
	ErrInsufficientBalance = errors.New("cdp engine: insufficient collateral balance")
	ErrDebtBelowZero       = errors.New("cdp engine: debt cannot go negative")
	ErrTransferFailed      = errors.New("cdp engine: token transfer failed")
	ErrMintFailed          = errors.New("cdp engine: synth mint failed")
	ErrBurnFailed          = errors.New("cdp engine: synth burn failed")
	ErrDivisionByZero      = errors.New("cdp engine: division by zero")

	// ErrHealthFactorTooLow aborts a transition whose resulting state
	// would be undercollateralized.
	ErrHealthFactorTooLow = errors.New("cdp engine: health factor below minimum")
	// ErrHealthFactorOK rejects liquidation of a healthy position.
	ErrHealthFactorOK = errors.New("cdp engine: health factor not below minimum")
	// ErrHealthFactorNotImproved rejects a liquidation that fails to
	// restore the target to solvency.
	ErrHealthFactorNotImproved = errors.New("cdp engine: health factor not improved")
	// ErrInsufficientCollateralToSeize rejects a liquidation whose
	// bonus-inflated seizure exceeds the target's balance of the asset.
	ErrInsufficientCollateralToSeize = errors.New("cdp engine: insufficient collateral to seize")
)

// HealthFactorTooLowError carries the offending computed factor for
// diagnosability. It unwraps to ErrHealthFactorTooLow.
type HealthFactorTooLowError struct {
	Factor *big.Int
}

func (e *HealthFactorTooLowError) Error() string {
	return fmt.Sprintf("cdp engine: health factor %s below minimum %s", e.Factor, MinHealthFactor)
}

func (e *HealthFactorTooLowError) Unwrap() error { return ErrHealthFactorTooLow }

// HealthFactorOKError reports the current factor of a liquidation
// target that is not eligible. It unwraps to ErrHealthFactorOK.
type HealthFactorOKError struct {
	Factor *big.Int
}

func (e *HealthFactorOKError) Error() string {
	return fmt.Sprintf("cdp engine: health factor %s not below minimum %s", e.Factor, MinHealthFactor)
}

func (e *HealthFactorOKError) Unwrap() error { return ErrHealthFactorOK }

// HealthFactorNotImprovedError reports the ending factor of a
// liquidation that left the target undercollateralized. It unwraps to
// ErrHealthFactorNotImproved.
type HealthFactorNotImprovedError struct {
	Factor *big.Int
}

func (e *HealthFactorNotImprovedError) Error() string {
	return fmt.Sprintf("cdp engine: ending health factor %s still below minimum %s", e.Factor, MinHealthFactor)
}

func (e *HealthFactorNotImprovedError) Unwrap() error { return ErrHealthFactorNotImproved }
