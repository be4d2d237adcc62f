package cdp

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Event type identifiers consumed by indexers and the RPC event log.
const (
	TypeCollateralDeposited = "cdp.collateral.deposited"
	TypeCollateralRedeemed  = "cdp.collateral.redeemed"
	TypeSynthMinted         = "cdp.synth.minted"
	TypeSynthBurned         = "cdp.synth.burned"
	TypePositionLiquidated  = "cdp.position.liquidated"
)

// CollateralDeposited is emitted when collateral enters custody.
type CollateralDeposited struct {
	Account common.Address `json:"account"`
	Asset   common.Address `json:"asset"`
	Amount  *big.Int       `json:"amount"`
}

func (CollateralDeposited) EventType() string { return TypeCollateralDeposited }

// CollateralRedeemed is emitted when collateral leaves custody, either
// self-service or seized by a liquidator.
type CollateralRedeemed struct {
	From   common.Address `json:"from"`
	To     common.Address `json:"to"`
	Asset  common.Address `json:"asset"`
	Amount *big.Int       `json:"amount"`
}

func (CollateralRedeemed) EventType() string { return TypeCollateralRedeemed }

// SynthMinted is emitted when new debt is minted to an account.
type SynthMinted struct {
	Account common.Address `json:"account"`
	Amount  *big.Int       `json:"amount"`
}

func (SynthMinted) EventType() string { return TypeSynthMinted }

// SynthBurned is emitted when debt is repaid and supply destroyed.
type SynthBurned struct {
	Account common.Address `json:"account"`
	Amount  *big.Int       `json:"amount"`
}

func (SynthBurned) EventType() string { return TypeSynthBurned }

// PositionLiquidated is emitted after a successful liquidation.
type PositionLiquidated struct {
	Liquidator  common.Address `json:"liquidator"`
	Account     common.Address `json:"account"`
	Asset       common.Address `json:"asset"`
	DebtCovered *big.Int       `json:"debtCovered"`
	Seized      *big.Int       `json:"seized"`
}

func (PositionLiquidated) EventType() string { return TypePositionLiquidated }
