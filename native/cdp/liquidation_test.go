package cdp

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func wei(s string) *big.Int { return mustBigInt(s) }

// seedUnderwaterTarget puts carol into a liquidatable position: a thin
// WETH balance plus a WBTC balance that backs the mint, then crashes the
// WBTC price. wethDeposit is carol's WETH collateral in wei.
func seedUnderwaterTarget(t *testing.T, fix *fixture, wethDeposit *big.Int) {
	t.Helper()
	ctx := context.Background()

	if err := fix.engine.DepositCollateral(ctx, carolAddr, wethAddr, wethDeposit); err != nil {
		t.Fatalf("target weth deposit: %v", err)
	}
	if err := fix.engine.DepositCollateral(ctx, carolAddr, wbtcAddr, eth(1)); err != nil {
		t.Fatalf("target wbtc deposit: %v", err)
	}
	if err := fix.engine.MintSynth(ctx, carolAddr, eth(100)); err != nil {
		t.Fatalf("target mint: %v", err)
	}

	// WBTC collapses from $2000 to $1. Carol's remaining backing is far
	// below her $100 debt.
	fix.wbtcFeed.Set(usd8(1), fix.now)

	eligible, _, err := fix.engine.solvency.IsLiquidatable(ctx, mustPosition(t, fix, carolAddr))
	if err != nil {
		t.Fatalf("eligibility: %v", err)
	}
	if !eligible {
		t.Fatal("target should be liquidatable after the crash")
	}
}

// seedLiquidator gives bob the synth needed to cover debt.
func seedLiquidator(t *testing.T, fix *fixture, synthAmount *big.Int) {
	t.Helper()
	ctx := context.Background()
	if err := fix.engine.DepositCollateralAndMintSynth(ctx, bobAddr, wethAddr, eth(1), synthAmount); err != nil {
		t.Fatalf("liquidator setup: %v", err)
	}
}

func mustPosition(t *testing.T, fix *fixture, addr common.Address) *Position {
	t.Helper()
	pos, err := fix.engine.ledger.Position(addr)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	return pos
}

func TestLiquidateSeizesDebtEquivalentPlusBonus(t *testing.T) {
	fix := newFixture(t)
	ctx := context.Background()

	seedUnderwaterTarget(t, fix, wei("60000000000000000")) // 0.06 WETH
	seedLiquidator(t, fix, eth(100))

	if err := fix.engine.Liquidate(ctx, bobAddr, carolAddr, wethAddr, eth(100)); err != nil {
		t.Fatalf("liquidate: %v", err)
	}

	// Covering $100 at a $2000 WETH price seizes 0.05 WETH plus a 10%
	// bonus of 0.005 WETH.
	totalSeized := wei("55000000000000000")
	wantBob := new(big.Int).Add(eth(999), totalSeized)
	if got := fix.weth.BalanceOf(bobAddr); got.Cmp(wantBob) != 0 {
		t.Fatalf("liquidator payout: got %s want %s", got, wantBob)
	}
	if got := fix.synth.BalanceOf(bobAddr); got.Sign() != 0 {
		t.Fatalf("liquidator synth should be spent, got %s", got)
	}

	if got := fix.engine.GetCollateralBalance(carolAddr, wethAddr); got.Cmp(wei("5000000000000000")) != 0 {
		t.Fatalf("target residual collateral: %s", got)
	}
	info, err := fix.engine.GetAccountInformation(ctx, carolAddr)
	if err != nil {
		t.Fatalf("account info: %v", err)
	}
	if info.Debt.Sign() != 0 {
		t.Fatalf("target debt should be cleared, got %s", info.Debt)
	}

	// Custody shrank by exactly the seizure; supply by the cover.
	wantCustody := new(big.Int).Add(wei("60000000000000000"), eth(1))
	wantCustody.Sub(wantCustody, totalSeized)
	if got := fix.engine.Custody(wethAddr); got.Cmp(wantCustody) != 0 {
		t.Fatalf("custody: got %s want %s", got, wantCustody)
	}
	if got := fix.synth.TotalSupply(); got.Cmp(eth(100)) != 0 {
		t.Fatalf("supply: got %s want %s", got, eth(100))
	}

	entries := fix.recorder.Entries()
	last := entries[len(entries)-1]
	if last.Type != TypePositionLiquidated {
		t.Fatalf("expected liquidation event last, got %s", last.Type)
	}
	evt, ok := last.Event.(PositionLiquidated)
	if !ok {
		t.Fatalf("unexpected event payload %T", last.Event)
	}
	if evt.Seized.Cmp(totalSeized) != 0 || evt.DebtCovered.Cmp(eth(100)) != 0 {
		t.Fatalf("unexpected liquidation payload: %+v", evt)
	}
}

func TestLiquidateRejectsHealthyTarget(t *testing.T) {
	fix := newFixture(t)
	ctx := context.Background()

	if err := fix.engine.DepositCollateralAndMintSynth(ctx, aliceAddr, wethAddr, eth(10), eth(1_000)); err != nil {
		t.Fatalf("target setup: %v", err)
	}
	seedLiquidator(t, fix, eth(100))

	err := fix.engine.Liquidate(ctx, bobAddr, aliceAddr, wethAddr, eth(100))
	if !errors.Is(err, ErrHealthFactorOK) {
		t.Fatalf("expected healthy-target rejection, got %v", err)
	}
	var ok *HealthFactorOKError
	if !errors.As(err, &ok) {
		t.Fatalf("expected factor-carrying error, got %T", err)
	}
	// $20,000 collateral, $1,000 debt: factor is exactly 10.0.
	if ok.Factor.Cmp(eth(10)) != 0 {
		t.Fatalf("unexpected starting factor: %s", ok.Factor)
	}
}

func TestLiquidateRejectsWhenCollateralCannotCoverSeizure(t *testing.T) {
	fix := newFixture(t)
	ctx := context.Background()

	// 0.05 WETH is exactly the debt-equivalent seizure; the bonus pushes
	// the requirement to 0.055 and past the balance.
	seedUnderwaterTarget(t, fix, wei("50000000000000000"))
	seedLiquidator(t, fix, eth(100))

	custodyBefore := fix.engine.Custody(wethAddr)
	bobBefore := fix.weth.BalanceOf(bobAddr)

	err := fix.engine.Liquidate(ctx, bobAddr, carolAddr, wethAddr, eth(100))
	if !errors.Is(err, ErrInsufficientCollateralToSeize) {
		t.Fatalf("expected seizure shortfall, got %v", err)
	}

	if got := fix.engine.Custody(wethAddr); got.Cmp(custodyBefore) != 0 {
		t.Fatalf("custody mutated by failed liquidation: %s", got)
	}
	if got := fix.weth.BalanceOf(bobAddr); got.Cmp(bobBefore) != 0 {
		t.Fatalf("liquidator balance mutated: %s", got)
	}
	if got := fix.engine.GetCollateralBalance(carolAddr, wethAddr); got.Cmp(wei("50000000000000000")) != 0 {
		t.Fatalf("target collateral mutated: %s", got)
	}
}

func TestLiquidateRequiresHealthRestored(t *testing.T) {
	fix := newFixture(t)
	ctx := context.Background()

	// Carol: 1 WETH + 1 WBTC at $2000 each backs a $1,500 mint. The WBTC
	// crash to $100 leaves $1,050 of adjusted backing against $1,500.
	if err := fix.engine.DepositCollateral(ctx, carolAddr, wethAddr, eth(1)); err != nil {
		t.Fatalf("deposit weth: %v", err)
	}
	if err := fix.engine.DepositCollateral(ctx, carolAddr, wbtcAddr, eth(1)); err != nil {
		t.Fatalf("deposit wbtc: %v", err)
	}
	if err := fix.engine.MintSynth(ctx, carolAddr, eth(1_500)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	fix.wbtcFeed.Set(usd8(100), fix.now)

	seedLiquidator(t, fix, eth(100))

	// Covering only $100 leaves $1,400 of debt against $995 of adjusted
	// backing; the partial liquidation does not restore health.
	err := fix.engine.Liquidate(ctx, bobAddr, carolAddr, wethAddr, eth(100))
	if !errors.Is(err, ErrHealthFactorNotImproved) {
		t.Fatalf("expected not-improved rejection, got %v", err)
	}
	var notImproved *HealthFactorNotImprovedError
	if !errors.As(err, &notImproved) {
		t.Fatalf("expected factor-carrying error, got %T", err)
	}
	// 995 * 1e18 / 1400, truncated.
	if notImproved.Factor.Cmp(wei("710714285714285714")) != 0 {
		t.Fatalf("unexpected ending factor: %s", notImproved.Factor)
	}

	// Nothing moved.
	if got := fix.engine.GetCollateralBalance(carolAddr, wethAddr); got.Cmp(eth(1)) != 0 {
		t.Fatalf("target collateral mutated: %s", got)
	}
	info, err := fix.engine.GetAccountInformation(ctx, carolAddr)
	if err != nil {
		t.Fatalf("account info: %v", err)
	}
	if info.Debt.Cmp(eth(1_500)) != 0 {
		t.Fatalf("target debt mutated: %s", info.Debt)
	}
}

func TestLiquidateUnwindsCollateralWhenSynthLegFails(t *testing.T) {
	fix := newFixture(t)
	ctx := context.Background()

	seedUnderwaterTarget(t, fix, wei("60000000000000000"))

	// Bob holds no synth, so the cover transfer must fail after the
	// collateral has already been paid out.
	bobBefore := fix.weth.BalanceOf(bobAddr)
	custodyBefore := fix.engine.Custody(wethAddr)
	engineBefore := fix.weth.BalanceOf(fix.engine.Address())

	err := fix.engine.Liquidate(ctx, bobAddr, carolAddr, wethAddr, eth(100))
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected transfer failure, got %v", err)
	}

	if got := fix.weth.BalanceOf(bobAddr); got.Cmp(bobBefore) != 0 {
		t.Fatalf("collateral leg not unwound: %s", got)
	}
	if got := fix.weth.BalanceOf(fix.engine.Address()); got.Cmp(engineBefore) != 0 {
		t.Fatalf("engine token balance not restored: %s", got)
	}
	if got := fix.engine.Custody(wethAddr); got.Cmp(custodyBefore) != 0 {
		t.Fatalf("custody mutated: %s", got)
	}
	if got := fix.engine.GetCollateralBalance(carolAddr, wethAddr); got.Cmp(wei("60000000000000000")) != 0 {
		t.Fatalf("target collateral mutated: %s", got)
	}
}

func TestLiquidateFailsClosedOnStaleOracle(t *testing.T) {
	fix := newFixture(t)
	ctx := context.Background()

	seedUnderwaterTarget(t, fix, wei("60000000000000000"))
	seedLiquidator(t, fix, eth(100))

	fix.wbtcFeed.Set(usd8(1), fix.now.Add(-4*time.Hour))

	err := fix.engine.Liquidate(ctx, bobAddr, carolAddr, wethAddr, eth(100))
	if err == nil {
		t.Fatal("expected stale-oracle failure")
	}
	info, err := fix.engine.GetHealthFactor(ctx, aliceAddr)
	if err != nil || info == nil {
		t.Fatalf("unrelated account read should still work: %v", err)
	}
}

func TestLedgerConsistencyAcrossOperations(t *testing.T) {
	fix := newFixture(t)
	ctx := context.Background()

	if err := fix.engine.DepositCollateralAndMintSynth(ctx, aliceAddr, wethAddr, eth(10), eth(4_000)); err != nil {
		t.Fatalf("alice setup: %v", err)
	}
	if err := fix.engine.DepositCollateralAndMintSynth(ctx, bobAddr, wethAddr, eth(3), eth(1_000)); err != nil {
		t.Fatalf("bob setup: %v", err)
	}
	if err := fix.engine.BurnSynth(ctx, aliceAddr, eth(500)); err != nil {
		t.Fatalf("burn: %v", err)
	}
	if err := fix.engine.RedeemCollateral(ctx, bobAddr, wethAddr, eth(1)); err != nil {
		t.Fatalf("redeem: %v", err)
	}

	// Custody equals the sum of per-account balances.
	sum := new(big.Int).Add(
		fix.engine.GetCollateralBalance(aliceAddr, wethAddr),
		fix.engine.GetCollateralBalance(bobAddr, wethAddr),
	)
	if got := fix.engine.Custody(wethAddr); got.Cmp(sum) != 0 {
		t.Fatalf("custody %s != balance sum %s", got, sum)
	}
	// Custody matches the engine's token holdings.
	if got := fix.weth.BalanceOf(fix.engine.Address()); got.Cmp(sum) != 0 {
		t.Fatalf("engine token balance %s != custody %s", got, sum)
	}
	// Outstanding debt matches circulating synth.
	if got, want := fix.engine.TotalDebt(), fix.synth.TotalSupply(); got.Cmp(want) != 0 {
		t.Fatalf("total debt %s != synth supply %s", got, want)
	}
}
