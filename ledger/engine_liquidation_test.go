package ledger

import (
	"errors"
	"math/big"
	"testing"
)

func mustBig(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		t.Fatalf("bad integer literal %q", s)
	}
	return v
}

func TestLiquidationThresholdBoundary(t *testing.T) {
	engine, _, prices, _, clock := newTestEngine(t)
	// 6.25% flat so one year turns 800 of debt into exactly 850.
	engine.SetRateModel(flatRateModel(big.NewInt(62_500_000_000_000_000)))
	user := makeAddr(0x01)
	whale := makeAddr(0x02)
	liquidator := makeAddr(0x03)
	collateral := makeAddr(0xA1)
	debt := makeAddr(0xB2)
	mustRegister(t, engine, prices, collateral, 100, 1)
	mustRegister(t, engine, prices, debt, 100, 1)
	mustDeposit(t, engine, whale, debt, units(2000))
	mustDeposit(t, engine, user, collateral, units(1000))
	if err := engine.Borrow(user, debt, units(800)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	// Exactly at the threshold: 850 debt on 1000 capacity is 85%, which is
	// not yet liquidatable.
	clock.now = testEpoch + secondsPerYear
	view, err := engine.RiskOf(user)
	if err != nil {
		t.Fatalf("risk view: %v", err)
	}
	if view.DebtUSD.Cmp(units(850)) != 0 {
		t.Fatalf("unexpected debt value: %s", view.DebtUSD)
	}
	if view.Indebtedness.Cmp(units(85)) != 0 {
		t.Fatalf("unexpected indebtedness: %s", view.Indebtedness)
	}
	if _, err := engine.Liquidate(liquidator, user, debt, collateral, units(100)); !errors.Is(err, ErrNotLiquidatable) {
		t.Fatalf("expected not liquidatable at threshold, got %v", err)
	}

	// One bucket later the accrued interest pushes it strictly past.
	clock.now = testEpoch + secondsPerYear + 300
	seized, err := engine.Liquidate(liquidator, user, debt, collateral, units(100))
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if seized.Cmp(units(105)) != 0 {
		t.Fatalf("unexpected seized amount: %s", seized)
	}
}

func TestLiquidateSeizesBonusCollateral(t *testing.T) {
	engine, state, prices, vault, _ := newTestEngine(t)
	user := makeAddr(0x01)
	whale := makeAddr(0x02)
	liquidator := makeAddr(0x03)
	collateral := makeAddr(0xA1)
	debt := makeAddr(0xB2)
	mustRegister(t, engine, prices, collateral, 100, 1)
	mustRegister(t, engine, prices, debt, 100, 1)
	mustDeposit(t, engine, whale, debt, units(2000))
	mustDeposit(t, engine, user, collateral, units(1000))
	if err := engine.Borrow(user, debt, units(800)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	// Collateral drops to 0.90 USD: capacity 900 against 800 of debt.
	prices.prices[collateral] = big.NewInt(900_000_000_000_000_000)

	seized, err := engine.Liquidate(liquidator, user, debt, collateral, units(400))
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	// 400 repaid at the 105% bonus is 420 USD of collateral, 466.66 units
	// at 0.90, truncated.
	wantSeized := mustBig(t, "466666666666666666666")
	if seized.Cmp(wantSeized) != 0 {
		t.Fatalf("unexpected seized amount: got %s want %s", seized, wantSeized)
	}

	debtPos := state.positions[positionKey(user, debt)]
	if debtPos.Principal.Cmp(units(400)) != 0 {
		t.Fatalf("unexpected remaining principal: %s", debtPos.Principal)
	}
	collPos := state.positions[positionKey(user, collateral)]
	if collPos.Collateral.Cmp(mustBig(t, "533333333333333333334")) != 0 {
		t.Fatalf("unexpected remaining collateral: %s", collPos.Collateral)
	}

	debtPool := state.pools[debt]
	if debtPool.TotalDebt.Cmp(units(400)) != 0 {
		t.Fatalf("unexpected debt pool total: %s", debtPool.TotalDebt)
	}
	if debtPool.Reserve.Cmp(units(1600)) != 0 {
		t.Fatalf("unexpected debt pool reserve: %s", debtPool.Reserve)
	}
	collPool := state.pools[collateral]
	if collPool.TotalCollateral.Cmp(collPos.Collateral) != 0 {
		t.Fatalf("collateral aggregate diverged: %s", collPool.TotalCollateral)
	}
	if collPool.Reserve.Cmp(collPos.Collateral) != 0 {
		t.Fatalf("unexpected collateral reserve: %s", collPool.Reserve)
	}

	if len(vault.calls) < 2 {
		t.Fatalf("missing vault calls: %+v", vault.calls)
	}
	repayCall := vault.calls[len(vault.calls)-2]
	seizeCall := vault.calls[len(vault.calls)-1]
	if !repayCall.inbound || repayCall.user != liquidator || repayCall.amount.Cmp(units(400)) != 0 {
		t.Fatalf("unexpected repay transfer: %+v", repayCall)
	}
	if seizeCall.inbound || seizeCall.user != liquidator || seizeCall.amount.Cmp(wantSeized) != 0 {
		t.Fatalf("unexpected seize transfer: %+v", seizeCall)
	}
}

func TestLiquidateCapsSeizureAtCollateral(t *testing.T) {
	engine, state, prices, _, _ := newTestEngine(t)
	user := makeAddr(0x01)
	whale := makeAddr(0x02)
	liquidator := makeAddr(0x03)
	collateral := makeAddr(0xA1)
	debt := makeAddr(0xB2)
	mustRegister(t, engine, prices, collateral, 100, 1)
	mustRegister(t, engine, prices, debt, 100, 1)
	mustDeposit(t, engine, whale, debt, units(1000))
	mustDeposit(t, engine, user, collateral, units(100))
	if err := engine.Borrow(user, debt, units(80)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	// A 50% crash leaves 84 USD of bonus claim against 50 USD of
	// collateral; the seizure caps at what the position holds.
	prices.prices[collateral] = big.NewInt(500_000_000_000_000_000)

	seized, err := engine.Liquidate(liquidator, user, debt, collateral, units(80))
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if seized.Cmp(units(100)) != 0 {
		t.Fatalf("unexpected seized amount: %s", seized)
	}

	collPos := state.positions[positionKey(user, collateral)]
	if collPos.Collateral.Sign() != 0 {
		t.Fatalf("unexpected remaining collateral: %s", collPos.Collateral)
	}
	debtPos := state.positions[positionKey(user, debt)]
	if debtPos.Principal.Sign() != 0 {
		t.Fatalf("unexpected remaining principal: %s", debtPos.Principal)
	}
}

func TestLiquidateClampsRepayToDebt(t *testing.T) {
	engine, state, prices, _, _ := newTestEngine(t)
	user := makeAddr(0x01)
	whale := makeAddr(0x02)
	liquidator := makeAddr(0x03)
	collateral := makeAddr(0xA1)
	debt := makeAddr(0xB2)
	mustRegister(t, engine, prices, collateral, 100, 1)
	mustRegister(t, engine, prices, debt, 100, 1)
	mustDeposit(t, engine, whale, debt, units(2000))
	mustDeposit(t, engine, user, collateral, units(1000))
	if err := engine.Borrow(user, debt, units(800)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	prices.prices[collateral] = big.NewInt(900_000_000_000_000_000)

	seized, err := engine.Liquidate(liquidator, user, debt, collateral, units(5000))
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	// Repay clamps to the 800 outstanding: 840 USD of claim at 0.90.
	if seized.Cmp(mustBig(t, "933333333333333333333")) != 0 {
		t.Fatalf("unexpected seized amount: %s", seized)
	}
	if state.positions[positionKey(user, debt)].Principal.Sign() != 0 {
		t.Fatalf("debt should be cleared")
	}
	if state.pools[debt].TotalDebt.Sign() != 0 {
		t.Fatalf("debt aggregate should be cleared")
	}
}

func TestLiquidateSameAssetPosition(t *testing.T) {
	engine, state, prices, _, clock := newTestEngine(t)
	engine.SetRateModel(flatRateModel(tenPercent))
	user := makeAddr(0x01)
	liquidator := makeAddr(0x03)
	token := makeAddr(0xA1)
	mustRegister(t, engine, prices, token, 100, 1)
	mustDeposit(t, engine, user, token, units(1000))
	if err := engine.Borrow(user, token, units(800)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	// Same-asset price moves cancel out of the ratio, so only interest can
	// push the position underwater: after a year debt is 880 on 1000.
	clock.now = testEpoch + secondsPerYear
	seized, err := engine.Liquidate(liquidator, user, token, token, units(100))
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if seized.Cmp(units(105)) != 0 {
		t.Fatalf("unexpected seized amount: %s", seized)
	}

	if len(state.positions) != 1 {
		t.Fatalf("expected a single position record, got %d", len(state.positions))
	}
	pos := state.positions[positionKey(user, token)]
	if pos.Collateral.Cmp(units(895)) != 0 {
		t.Fatalf("unexpected collateral: %s", pos.Collateral)
	}
	if pos.Principal.Cmp(units(780)) != 0 {
		t.Fatalf("unexpected principal: %s", pos.Principal)
	}
	if pos.InterestIndex.Cmp(big.NewInt(1_100_000_000_000_000_000)) != 0 {
		t.Fatalf("unexpected position index: %s", pos.InterestIndex)
	}

	pool := state.pools[token]
	if pool.TotalCollateral.Cmp(units(895)) != 0 {
		t.Fatalf("unexpected total collateral: %s", pool.TotalCollateral)
	}
	if pool.TotalDebt.Cmp(units(700)) != 0 {
		t.Fatalf("unexpected total debt: %s", pool.TotalDebt)
	}
	if pool.Reserve.Cmp(units(195)) != 0 {
		t.Fatalf("unexpected reserve: %s", pool.Reserve)
	}
}

func TestLiquidateUnknownAssetsRejected(t *testing.T) {
	engine, _, prices, _, _ := newTestEngine(t)
	token := makeAddr(0xA1)
	unknown := makeAddr(0xEE)
	mustRegister(t, engine, prices, token, 100, 1)

	if _, err := engine.Liquidate(makeAddr(0x03), makeAddr(0x01), unknown, token, units(1)); !errors.Is(err, ErrUnsupportedAsset) {
		t.Fatalf("unknown debt asset: expected unsupported asset, got %v", err)
	}
	if _, err := engine.Liquidate(makeAddr(0x03), makeAddr(0x01), token, unknown, units(1)); !errors.Is(err, ErrUnsupportedAsset) {
		t.Fatalf("unknown collateral asset: expected unsupported asset, got %v", err)
	}
}

func TestLiquidateRequiresActiveAssets(t *testing.T) {
	engine, _, prices, _, _ := newTestEngine(t)
	user := makeAddr(0x01)
	whale := makeAddr(0x02)
	liquidator := makeAddr(0x03)
	collateral := makeAddr(0xA1)
	debt := makeAddr(0xB2)
	mustRegister(t, engine, prices, collateral, 100, 1)
	mustRegister(t, engine, prices, debt, 100, 1)
	mustDeposit(t, engine, whale, debt, units(2000))
	mustDeposit(t, engine, user, collateral, units(1000))
	if err := engine.Borrow(user, debt, units(800)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	// Underwater after the crash, so the activity gate is the only blocker.
	prices.prices[collateral] = big.NewInt(900_000_000_000_000_000)

	if err := engine.SetAssetActive(debt, false); err != nil {
		t.Fatalf("deactivate debt asset: %v", err)
	}
	if _, err := engine.Liquidate(liquidator, user, debt, collateral, units(100)); !errors.Is(err, ErrAssetInactive) {
		t.Fatalf("inactive debt asset: expected asset inactive, got %v", err)
	}
	if err := engine.SetAssetActive(debt, true); err != nil {
		t.Fatalf("reactivate debt asset: %v", err)
	}

	if err := engine.SetAssetActive(collateral, false); err != nil {
		t.Fatalf("deactivate collateral asset: %v", err)
	}
	if _, err := engine.Liquidate(liquidator, user, debt, collateral, units(100)); !errors.Is(err, ErrAssetInactive) {
		t.Fatalf("inactive collateral asset: expected asset inactive, got %v", err)
	}
	if err := engine.SetAssetActive(collateral, true); err != nil {
		t.Fatalf("reactivate collateral asset: %v", err)
	}

	if _, err := engine.Liquidate(liquidator, user, debt, collateral, units(100)); err != nil {
		t.Fatalf("liquidate with both assets active: %v", err)
	}
}
