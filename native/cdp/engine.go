package cdp

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"cdpcore/core/events"
)

// Engine orchestrates the primary state transitions over the ledger:
// deposit, mint, burn, redeem and liquidate. Every operation is atomic:
// transitions are staged on position clones, validated by the solvency
// engine, and committed only after every check and external call
// succeeded. A single mutex spans each whole operation so no two
// mutating calls can interleave and no operation can re-enter another.
type Engine struct {
	mu sync.Mutex

	registry   *Registry
	ledger     *Ledger
	valuer     *Valuer
	solvency   *Solvency
	synth      SynthToken
	engineAddr common.Address
	emitter    events.Emitter
}

// NewEngine constructs the position manager. engineAddr is the custody
// identity under which the engine holds collateral and synth balances.
func NewEngine(registry *Registry, state State, synth SynthToken, engineAddr common.Address) *Engine {
	valuer := NewValuer(registry)
	return &Engine{
		registry:   registry,
		ledger:     NewLedger(registry, state),
		valuer:     valuer,
		solvency:   NewSolvency(valuer),
		synth:      synth,
		engineAddr: engineAddr,
		emitter:    events.NoopEmitter{},
	}
}

// SetEmitter wires the engine to an event sink.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil || emitter == nil {
		return
	}
	e.emitter = emitter
}

// Address returns the engine's custody identity.
func (e *Engine) Address() common.Address {
	if e == nil {
		return common.Address{}
	}
	return e.engineAddr
}

// DepositCollateral transfers the asset from the caller into custody
// and credits the ledger. Deposits can only improve health, so no
// solvency check runs afterwards.
func (e *Engine) DepositCollateral(ctx context.Context, caller common.Address, asset common.Address, amount *big.Int) error {
	if e == nil || e.ledger == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.depositLocked(ctx, caller, asset, amount)
}

func (e *Engine) depositLocked(_ context.Context, caller common.Address, asset common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrAmountZero
	}
	entry, ok := e.registry.Lookup(asset)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotAllowedToken, asset.Hex())
	}
	if err := entry.Token.Transfer(caller, e.engineAddr, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if err := e.ledger.Deposit(caller, asset, amount); err != nil {
		// Hand the tokens back before surfacing the bookkeeping error.
		if undo := entry.Token.Transfer(e.engineAddr, caller, amount); undo != nil {
			return fmt.Errorf("%v (rollback transfer also failed: %v)", err, undo)
		}
		return err
	}
	e.emitter.Emit(CollateralDeposited{Account: caller, Asset: asset, Amount: new(big.Int).Set(amount)})
	return nil
}

// MintSynth increases the caller's debt and mints the synthetic token
// to them, provided the resulting position stays healthy.
func (e *Engine) MintSynth(ctx context.Context, caller common.Address, amount *big.Int) error {
	if e == nil || e.ledger == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mintLocked(ctx, caller, amount)
}

func (e *Engine) mintLocked(ctx context.Context, caller common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrAmountZero
	}
	original, err := e.ledger.Position(caller)
	if err != nil {
		return err
	}
	staged := original.Clone()
	if err := staged.addDebt(amount); err != nil {
		return err
	}
	factor, err := e.solvency.HealthFactor(ctx, staged)
	if err != nil {
		return err
	}
	if !healthy(factor) {
		return &HealthFactorTooLowError{Factor: factor}
	}
	if err := e.ledger.Commit(caller, staged, common.Address{}, nil); err != nil {
		return err
	}
	if err := e.synth.Mint(e.engineAddr, caller, amount); err != nil {
		if undo := e.ledger.Commit(caller, original, common.Address{}, nil); undo != nil {
			return fmt.Errorf("%w: %v (rollback also failed: %v)", ErrMintFailed, err, undo)
		}
		return fmt.Errorf("%w: %v", ErrMintFailed, err)
	}
	e.emitter.Emit(SynthMinted{Account: caller, Amount: new(big.Int).Set(amount)})
	return nil
}

// DepositCollateralAndMintSynth composes deposit and mint in a single
// locked operation.
func (e *Engine) DepositCollateralAndMintSynth(ctx context.Context, caller common.Address, asset common.Address, collateralAmount, synthAmount *big.Int) error {
	if e == nil || e.ledger == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.depositLocked(ctx, caller, asset, collateralAmount); err != nil {
		return err
	}
	if err := e.mintLocked(ctx, caller, synthAmount); err != nil {
		if undo := e.undoDepositLocked(caller, asset, collateralAmount); undo != nil {
			return fmt.Errorf("%v (rollback of deposit also failed: %v)", err, undo)
		}
		return err
	}
	return nil
}

// undoDepositLocked reverses a completed deposit without emitting
// events: the ledger debit and the token return are compensation, not a
// redemption.
func (e *Engine) undoDepositLocked(caller common.Address, asset common.Address, amount *big.Int) error {
	entry, ok := e.registry.Lookup(asset)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotAllowedToken, asset.Hex())
	}
	if err := e.ledger.Withdraw(caller, asset, amount); err != nil {
		return err
	}
	return entry.Token.Transfer(e.engineAddr, caller, amount)
}

// BurnSynth pulls the synthetic token from the caller, burns it, and
// reduces their debt. Burning can only improve health; the post-state
// is still re-validated as a defense-in-depth invariant check.
func (e *Engine) BurnSynth(ctx context.Context, caller common.Address, amount *big.Int) error {
	if e == nil || e.ledger == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.burnLocked(ctx, caller, caller, amount)
}

// burnLocked burns amount of synth paid by payer and reduces the debt
// of debtor. Self-service burns use payer == debtor; liquidations pay
// with the liquidator's balance while reducing the target's debt.
func (e *Engine) burnLocked(ctx context.Context, payer, debtor common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrAmountZero
	}
	original, err := e.ledger.Position(debtor)
	if err != nil {
		return err
	}
	staged := original.Clone()
	if err := staged.addDebt(new(big.Int).Neg(amount)); err != nil {
		return err
	}
	factor, err := e.solvency.HealthFactor(ctx, staged)
	if err != nil {
		return err
	}
	if !healthy(factor) {
		return &HealthFactorTooLowError{Factor: factor}
	}
	if err := e.synth.Transfer(payer, e.engineAddr, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if err := e.synth.Burn(e.engineAddr, amount); err != nil {
		if undo := e.synth.Transfer(e.engineAddr, payer, amount); undo != nil {
			return fmt.Errorf("%w: %v (rollback transfer also failed: %v)", ErrBurnFailed, err, undo)
		}
		return fmt.Errorf("%w: %v", ErrBurnFailed, err)
	}
	if err := e.ledger.Commit(debtor, staged, common.Address{}, nil); err != nil {
		return err
	}
	e.emitter.Emit(SynthBurned{Account: debtor, Amount: new(big.Int).Set(amount)})
	return nil
}

// RedeemCollateral debits the caller's collateral and transfers it out
// of custody, provided the resulting position stays healthy. The
// withdraw-then-check ordering is deliberate: the check judges the
// resulting state, not the pre-state.
func (e *Engine) RedeemCollateral(ctx context.Context, caller common.Address, asset common.Address, amount *big.Int) error {
	if e == nil || e.ledger == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.redeemLocked(ctx, caller, asset, amount)
}

func (e *Engine) redeemLocked(ctx context.Context, caller common.Address, asset common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrAmountZero
	}
	entry, ok := e.registry.Lookup(asset)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotAllowedToken, asset.Hex())
	}
	original, err := e.ledger.Position(caller)
	if err != nil {
		return err
	}
	staged := original.Clone()
	if err := staged.subCollateral(asset, amount); err != nil {
		return err
	}
	factor, err := e.solvency.HealthFactor(ctx, staged)
	if err != nil {
		return err
	}
	if !healthy(factor) {
		return &HealthFactorTooLowError{Factor: factor}
	}
	if err := e.ledger.Commit(caller, staged, asset, new(big.Int).Neg(amount)); err != nil {
		return err
	}
	if err := e.synthRedeemPayout(entry, caller, amount); err != nil {
		if undo := e.ledger.Commit(caller, original, asset, amount); undo != nil {
			return fmt.Errorf("%w: %v (rollback also failed: %v)", ErrTransferFailed, err, undo)
		}
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	e.emitter.Emit(CollateralRedeemed{From: caller, To: caller, Asset: asset, Amount: new(big.Int).Set(amount)})
	return nil
}

func (e *Engine) synthRedeemPayout(entry Asset, to common.Address, amount *big.Int) error {
	return entry.Token.Transfer(e.engineAddr, to, amount)
}

// RedeemCollateralForSynth burns synth first so the subsequent
// redemption's solvency check already sees the reduced debt.
func (e *Engine) RedeemCollateralForSynth(ctx context.Context, caller common.Address, asset common.Address, collateralAmount, synthAmount *big.Int) error {
	if e == nil || e.ledger == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.burnLocked(ctx, caller, caller, synthAmount); err != nil {
		return err
	}
	if err := e.redeemLocked(ctx, caller, asset, collateralAmount); err != nil {
		if undo := e.unburnLocked(caller, synthAmount); undo != nil {
			return fmt.Errorf("%v (rollback of burn also failed: %v)", err, undo)
		}
		return err
	}
	return nil
}

// unburnLocked reverses a completed burn: restores the debtor's debt
// and re-mints the synth back to them.
func (e *Engine) unburnLocked(debtor common.Address, amount *big.Int) error {
	if err := e.ledger.RecordDebt(debtor, amount); err != nil {
		return err
	}
	return e.synth.Mint(e.engineAddr, debtor, amount)
}

// Liquidate lets a third party cover debtToCover of an unhealthy
// target's debt in exchange for the debt-equivalent collateral plus a
// bonus. The target's ending health factor must clear the minimum, and
// the liquidator's own position must stay healthy.
func (e *Engine) Liquidate(ctx context.Context, liquidator, target common.Address, asset common.Address, debtToCover *big.Int) error {
	if e == nil || e.ledger == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if debtToCover == nil || debtToCover.Sign() <= 0 {
		return ErrAmountZero
	}
	entry, ok := e.registry.Lookup(asset)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotAllowedToken, asset.Hex())
	}

	original, err := e.ledger.Position(target)
	if err != nil {
		return err
	}
	eligible, startingFactor, err := e.solvency.IsLiquidatable(ctx, original)
	if err != nil {
		return err
	}
	if !eligible {
		return &HealthFactorOKError{Factor: startingFactor}
	}

	seized, err := e.valuer.FromUnitOfAccount(ctx, asset, debtToCover)
	if err != nil {
		return err
	}
	bonus := new(big.Int).Mul(seized, big.NewInt(LiquidationBonusPct))
	bonus.Quo(bonus, big.NewInt(percentBase))
	totalSeized := new(big.Int).Add(seized, bonus)

	staged := original.Clone()
	if err := staged.subCollateral(asset, totalSeized); err != nil {
		return fmt.Errorf("%w: need %s of %s", ErrInsufficientCollateralToSeize, totalSeized, entry.Symbol)
	}
	if err := staged.addDebt(new(big.Int).Neg(debtToCover)); err != nil {
		return err
	}

	endingFactor, err := e.solvency.HealthFactor(ctx, staged)
	if err != nil {
		return err
	}
	if !healthy(endingFactor) {
		return &HealthFactorNotImprovedError{Factor: endingFactor}
	}

	liquidatorPos, err := e.ledger.Position(liquidator)
	if err != nil {
		return err
	}
	liquidatorFactor, err := e.solvency.HealthFactor(ctx, liquidatorPos)
	if err != nil {
		return err
	}
	if !healthy(liquidatorFactor) {
		return &HealthFactorTooLowError{Factor: liquidatorFactor}
	}

	// External settlement: collateral out first, then the synth leg.
	// Each later failure unwinds the earlier transfers.
	if err := entry.Token.Transfer(e.engineAddr, liquidator, totalSeized); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if err := e.synth.Transfer(liquidator, e.engineAddr, debtToCover); err != nil {
		if undo := entry.Token.Transfer(liquidator, e.engineAddr, totalSeized); undo != nil {
			return fmt.Errorf("%w: %v (rollback transfer also failed: %v)", ErrTransferFailed, err, undo)
		}
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if err := e.synth.Burn(e.engineAddr, debtToCover); err != nil {
		undoSynth := e.synth.Transfer(e.engineAddr, liquidator, debtToCover)
		undoCollateral := entry.Token.Transfer(liquidator, e.engineAddr, totalSeized)
		if undoSynth != nil || undoCollateral != nil {
			return fmt.Errorf("%w: %v (rollback also failed: %v, %v)", ErrBurnFailed, err, undoSynth, undoCollateral)
		}
		return fmt.Errorf("%w: %v", ErrBurnFailed, err)
	}

	if err := e.ledger.Commit(target, staged, asset, new(big.Int).Neg(totalSeized)); err != nil {
		return err
	}

	e.emitter.Emit(CollateralRedeemed{From: target, To: liquidator, Asset: asset, Amount: new(big.Int).Set(totalSeized)})
	e.emitter.Emit(SynthBurned{Account: target, Amount: new(big.Int).Set(debtToCover)})
	e.emitter.Emit(PositionLiquidated{
		Liquidator:  liquidator,
		Account:     target,
		Asset:       asset,
		DebtCovered: new(big.Int).Set(debtToCover),
		Seized:      totalSeized,
	})
	return nil
}

// --- read accessors ---

// AccountInfo pairs the two figures that determine solvency.
type AccountInfo struct {
	Debt            *big.Int `json:"debt"`
	CollateralValue *big.Int `json:"collateralValue"`
}

// GetAccountInformation reports the account's debt and total collateral
// value. Unknown accounts report zeros.
func (e *Engine) GetAccountInformation(ctx context.Context, addr common.Address) (AccountInfo, error) {
	pos, err := e.ledger.Position(addr)
	if err != nil {
		return AccountInfo{}, err
	}
	debt, collateralValue, err := e.solvency.AccountInformation(ctx, pos)
	if err != nil {
		return AccountInfo{}, err
	}
	return AccountInfo{Debt: debt, CollateralValue: collateralValue}, nil
}

// GetHealthFactor reports the account's computed health factor. A
// debt-free account reports the maximum representable factor.
func (e *Engine) GetHealthFactor(ctx context.Context, addr common.Address) (*big.Int, error) {
	pos, err := e.ledger.Position(addr)
	if err != nil {
		return nil, err
	}
	return e.solvency.HealthFactor(ctx, pos)
}

// GetCollateralBalance reports the account's deposited amount of the
// asset. Unknown accounts and assets report zero.
func (e *Engine) GetCollateralBalance(addr common.Address, asset common.Address) *big.Int {
	return e.ledger.CollateralBalance(addr, asset)
}

// GetAccountCollateralValue values the account's whole collateral book
// in the unit of account.
func (e *Engine) GetAccountCollateralValue(ctx context.Context, addr common.Address) (*big.Int, error) {
	pos, err := e.ledger.Position(addr)
	if err != nil {
		return nil, err
	}
	return e.valuer.PositionValue(ctx, pos)
}

// CollateralAssets lists the registered collateral set.
func (e *Engine) CollateralAssets() []Asset {
	return e.registry.Assets()
}

// Params returns the policy constants.
func (e *Engine) Params() Params {
	return DefaultParams()
}

// Custody reports the engine-held total of the asset.
func (e *Engine) Custody(asset common.Address) *big.Int {
	return e.ledger.Custody(asset)
}

// TotalDebt reports outstanding debt across all accounts.
func (e *Engine) TotalDebt() *big.Int {
	return e.ledger.TotalDebt()
}

// ToUnitOfAccount exposes valuation for the RPC read surface.
func (e *Engine) ToUnitOfAccount(ctx context.Context, asset common.Address, tokenAmount *big.Int) (*big.Int, error) {
	return e.valuer.ToUnitOfAccount(ctx, asset, tokenAmount)
}

// FromUnitOfAccount exposes inverse valuation for the RPC read surface.
func (e *Engine) FromUnitOfAccount(ctx context.Context, asset common.Address, amount *big.Int) (*big.Int, error) {
	return e.valuer.FromUnitOfAccount(ctx, asset, amount)
}
