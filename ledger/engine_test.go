package ledger

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"lendledger/core/events"
	"lendledger/oracle"
)

type mockState struct {
	assets    map[common.Address]*Asset
	order     []common.Address
	pools     map[common.Address]*Pool
	positions map[string]*Position
	params    *Params
	sequence  uint64
}

func newMockState() *mockState {
	return &mockState{
		assets:    make(map[common.Address]*Asset),
		pools:     make(map[common.Address]*Pool),
		positions: make(map[string]*Position),
	}
}

func positionKey(user, token common.Address) string {
	return string(user.Bytes()) + "/" + string(token.Bytes())
}

func (m *mockState) GetAsset(token common.Address) (*Asset, error) {
	if asset, ok := m.assets[token]; ok {
		return asset.Clone(), nil
	}
	return nil, nil
}

func (m *mockState) PutAsset(asset *Asset) error {
	if asset == nil {
		return nil
	}
	if _, ok := m.assets[asset.Token]; !ok {
		m.order = append(m.order, asset.Token)
	}
	m.assets[asset.Token] = asset.Clone()
	return nil
}

func (m *mockState) ListAssets() ([]*Asset, error) {
	out := make([]*Asset, 0, len(m.order))
	for _, token := range m.order {
		out = append(out, m.assets[token].Clone())
	}
	return out, nil
}

func (m *mockState) GetPool(token common.Address) (*Pool, error) {
	if pool, ok := m.pools[token]; ok {
		return pool.Clone(), nil
	}
	return nil, nil
}

func (m *mockState) PutPool(pool *Pool) error {
	if pool == nil {
		return nil
	}
	m.pools[pool.Token] = pool.Clone()
	return nil
}

func (m *mockState) GetPosition(user, token common.Address) (*Position, error) {
	if pos, ok := m.positions[positionKey(user, token)]; ok {
		return pos.Clone(), nil
	}
	return nil, nil
}

func (m *mockState) PutPosition(pos *Position) error {
	if pos == nil {
		return nil
	}
	m.positions[positionKey(pos.User, pos.Token)] = pos.Clone()
	return nil
}

func (m *mockState) GetParams() (*Params, error) {
	return m.params.Clone(), nil
}

func (m *mockState) PutParams(params *Params) error {
	m.params = params.Clone()
	return nil
}

func (m *mockState) NextSequence() (uint64, error) {
	m.sequence++
	return m.sequence, nil
}

type stubOracle struct {
	prices map[common.Address]*big.Int
}

func (o *stubOracle) QuoteUSD(asset common.Address) (*big.Int, error) {
	if price, ok := o.prices[asset]; ok {
		return new(big.Int).Set(price), nil
	}
	return nil, oracle.ErrUnpricedAsset
}

type vaultCall struct {
	inbound bool
	user    common.Address
	asset   common.Address
	amount  *big.Int
}

type stubVault struct {
	calls []vaultCall
	fail  error
}

func (v *stubVault) TransferIn(user, asset common.Address, amount *big.Int) error {
	if v.fail != nil {
		return v.fail
	}
	v.calls = append(v.calls, vaultCall{inbound: true, user: user, asset: asset, amount: new(big.Int).Set(amount)})
	return nil
}

func (v *stubVault) TransferOut(user, asset common.Address, amount *big.Int) error {
	if v.fail != nil {
		return v.fail
	}
	v.calls = append(v.calls, vaultCall{inbound: false, user: user, asset: asset, amount: new(big.Int).Set(amount)})
	return nil
}

type captureEmitter struct {
	events []events.Event
}

func (c *captureEmitter) Emit(evt events.Event) {
	c.events = append(c.events, evt)
}

type testClock struct {
	now int64
}

func (c *testClock) Now() int64 { return c.now }

// testEpoch sits exactly on a bucket boundary so fixtures start with a clean
// accrual anchor.
const testEpoch int64 = 1_700_000_100

func newTestEngine(t *testing.T) (*Engine, *mockState, *stubOracle, *stubVault, *testClock) {
	t.Helper()
	state := newMockState()
	prices := &stubOracle{prices: make(map[common.Address]*big.Int)}
	vault := &stubVault{}
	clock := &testClock{now: testEpoch}
	engine := NewEngine(DefaultRiskParams())
	engine.SetState(state)
	engine.SetOracle(prices)
	engine.SetVault(vault)
	engine.SetNowFunc(clock.Now)
	return engine, state, prices, vault, clock
}

func makeAddr(suffix byte) common.Address {
	var a common.Address
	a[common.AddressLength-1] = suffix
	return a
}

func units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), wad)
}

func mustRegister(t *testing.T, e *Engine, prices *stubOracle, token common.Address, weight uint64, priceUnits int64) {
	t.Helper()
	if err := e.RegisterAsset(token, weight, oracle.Source{Kind: oracle.SourceFixedUSD}, nil); err != nil {
		t.Fatalf("register asset: %v", err)
	}
	prices.prices[token] = units(priceUnits)
}

func mustDeposit(t *testing.T, e *Engine, user, token common.Address, amount *big.Int) {
	t.Helper()
	if _, err := e.Deposit(user, token, amount); err != nil {
		t.Fatalf("deposit: %v", err)
	}
}

func TestDepositCreditsCollateral(t *testing.T) {
	engine, state, prices, vault, _ := newTestEngine(t)
	user := makeAddr(0x01)
	token := makeAddr(0xA1)
	mustRegister(t, engine, prices, token, 100, 1)

	credited, err := engine.Deposit(user, token, units(1000))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if credited.Cmp(units(1000)) != 0 {
		t.Fatalf("unexpected credited amount: %s", credited)
	}

	pos := state.positions[positionKey(user, token)]
	if pos == nil || pos.Collateral.Cmp(units(1000)) != 0 {
		t.Fatalf("unexpected position: %+v", pos)
	}
	pool := state.pools[token]
	if pool.TotalCollateral.Cmp(units(1000)) != 0 {
		t.Fatalf("unexpected total collateral: %s", pool.TotalCollateral)
	}
	if pool.Reserve.Cmp(units(1000)) != 0 {
		t.Fatalf("unexpected reserve: %s", pool.Reserve)
	}
	if len(vault.calls) != 1 || !vault.calls[0].inbound || vault.calls[0].amount.Cmp(units(1000)) != 0 {
		t.Fatalf("unexpected vault calls: %+v", vault.calls)
	}
}

func TestDepositSkimsConfiguredFee(t *testing.T) {
	engine, state, prices, _, _ := newTestEngine(t)
	user := makeAddr(0x01)
	token := makeAddr(0xA1)
	mustRegister(t, engine, prices, token, 100, 1)
	if err := engine.SetFees(50); err != nil {
		t.Fatalf("set fees: %v", err)
	}

	credited, err := engine.Deposit(user, token, units(1000))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if credited.Cmp(units(995)) != 0 {
		t.Fatalf("unexpected credited amount: %s", credited)
	}

	pool := state.pools[token]
	if pool.FeesAccrued.Cmp(units(5)) != 0 {
		t.Fatalf("unexpected fee pot: %s", pool.FeesAccrued)
	}
	if pool.Reserve.Cmp(units(995)) != 0 {
		t.Fatalf("unexpected reserve: %s", pool.Reserve)
	}
	if pool.TotalCollateral.Cmp(units(995)) != 0 {
		t.Fatalf("unexpected total collateral: %s", pool.TotalCollateral)
	}
}

func TestWithdrawReleasesCollateral(t *testing.T) {
	engine, state, prices, vault, _ := newTestEngine(t)
	user := makeAddr(0x01)
	token := makeAddr(0xA1)
	mustRegister(t, engine, prices, token, 100, 1)
	mustDeposit(t, engine, user, token, units(1000))

	if err := engine.Withdraw(user, token, units(400)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	pos := state.positions[positionKey(user, token)]
	if pos.Collateral.Cmp(units(600)) != 0 {
		t.Fatalf("unexpected collateral: %s", pos.Collateral)
	}
	pool := state.pools[token]
	if pool.Reserve.Cmp(units(600)) != 0 {
		t.Fatalf("unexpected reserve: %s", pool.Reserve)
	}
	last := vault.calls[len(vault.calls)-1]
	if last.inbound || last.amount.Cmp(units(400)) != 0 {
		t.Fatalf("unexpected vault call: %+v", last)
	}

	if err := engine.Withdraw(user, token, units(601)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
}

func TestWithdrawBlockedWhileBorrowed(t *testing.T) {
	engine, _, prices, _, _ := newTestEngine(t)
	user := makeAddr(0x01)
	token := makeAddr(0xA1)
	mustRegister(t, engine, prices, token, 100, 1)
	mustDeposit(t, engine, user, token, units(1000))

	if err := engine.Borrow(user, token, units(800)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	// Debt consumes the full borrow limit, so no collateral may leave.
	if err := engine.Withdraw(user, token, big.NewInt(1)); !errors.Is(err, ErrHealthCheckFailed) {
		t.Fatalf("expected health check failure, got %v", err)
	}

	if _, err := engine.Repay(user, token, units(800)); err != nil {
		t.Fatalf("repay: %v", err)
	}
	if err := engine.Withdraw(user, token, units(1000)); err != nil {
		t.Fatalf("withdraw after repay: %v", err)
	}
}

func TestBorrowRespectsLimit(t *testing.T) {
	engine, state, prices, _, _ := newTestEngine(t)
	user := makeAddr(0x01)
	token := makeAddr(0xA1)
	mustRegister(t, engine, prices, token, 100, 1)
	mustDeposit(t, engine, user, token, units(1000))

	// 80% of 1000 USD capacity.
	if err := engine.Borrow(user, token, units(800)); err != nil {
		t.Fatalf("borrow at limit: %v", err)
	}
	if err := engine.Borrow(user, token, big.NewInt(1)); !errors.Is(err, ErrHealthCheckFailed) {
		t.Fatalf("expected health check failure, got %v", err)
	}

	pool := state.pools[token]
	if pool.TotalDebt.Cmp(units(800)) != 0 {
		t.Fatalf("unexpected total debt: %s", pool.TotalDebt)
	}
	if pool.Reserve.Cmp(units(200)) != 0 {
		t.Fatalf("unexpected reserve: %s", pool.Reserve)
	}
}

func TestBorrowUsesCollateralWeight(t *testing.T) {
	engine, _, prices, _, _ := newTestEngine(t)
	user := makeAddr(0x01)
	whale := makeAddr(0x02)
	collateral := makeAddr(0xA1)
	debt := makeAddr(0xB2)
	mustRegister(t, engine, prices, collateral, 50, 2)
	mustRegister(t, engine, prices, debt, 100, 1)
	mustDeposit(t, engine, whale, debt, units(1000))
	mustDeposit(t, engine, user, collateral, units(100))

	// 100 units at price 2 weighted 50% give 100 USD of capacity.
	if err := engine.Borrow(user, debt, units(81)); !errors.Is(err, ErrHealthCheckFailed) {
		t.Fatalf("expected health check failure, got %v", err)
	}
	if err := engine.Borrow(user, debt, units(80)); err != nil {
		t.Fatalf("borrow within weighted capacity: %v", err)
	}
}

func TestRepayClampsOverpayment(t *testing.T) {
	engine, state, prices, vault, _ := newTestEngine(t)
	user := makeAddr(0x01)
	token := makeAddr(0xA1)
	mustRegister(t, engine, prices, token, 100, 1)
	mustDeposit(t, engine, user, token, units(1000))
	if err := engine.Borrow(user, token, units(500)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	applied, err := engine.Repay(user, token, units(600))
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	if applied.Cmp(units(500)) != 0 {
		t.Fatalf("unexpected applied amount: %s", applied)
	}
	last := vault.calls[len(vault.calls)-1]
	if !last.inbound || last.amount.Cmp(units(500)) != 0 {
		t.Fatalf("unexpected vault call: %+v", last)
	}

	pos := state.positions[positionKey(user, token)]
	if pos.Principal.Sign() != 0 {
		t.Fatalf("unexpected principal: %s", pos.Principal)
	}
	if state.pools[token].TotalDebt.Sign() != 0 {
		t.Fatalf("unexpected total debt: %s", state.pools[token].TotalDebt)
	}

	if _, err := engine.Repay(user, token, units(1)); !errors.Is(err, ErrNoDebtToRepay) {
		t.Fatalf("expected no debt error, got %v", err)
	}
}

func TestAggregatesMatchPositionSums(t *testing.T) {
	engine, state, prices, _, _ := newTestEngine(t)
	alice := makeAddr(0x01)
	bob := makeAddr(0x02)
	token := makeAddr(0xA1)
	mustRegister(t, engine, prices, token, 100, 1)
	mustDeposit(t, engine, alice, token, units(600))
	mustDeposit(t, engine, bob, token, units(400))
	if err := engine.Borrow(alice, token, units(300)); err != nil {
		t.Fatalf("borrow alice: %v", err)
	}
	if err := engine.Borrow(bob, token, units(100)); err != nil {
		t.Fatalf("borrow bob: %v", err)
	}

	pool := state.pools[token]
	collateral := new(big.Int)
	principal := new(big.Int)
	for _, pos := range state.positions {
		collateral.Add(collateral, pos.Collateral)
		principal.Add(principal, pos.Principal)
	}
	if pool.TotalCollateral.Cmp(collateral) != 0 {
		t.Fatalf("collateral aggregate %s != position sum %s", pool.TotalCollateral, collateral)
	}
	if pool.TotalDebt.Cmp(principal) != 0 {
		t.Fatalf("debt aggregate %s != position sum %s", pool.TotalDebt, principal)
	}
}

func TestRiskViewReportsPercent(t *testing.T) {
	engine, _, prices, _, _ := newTestEngine(t)
	user := makeAddr(0x01)
	token := makeAddr(0xA1)
	mustRegister(t, engine, prices, token, 100, 1)
	mustDeposit(t, engine, user, token, units(1000))
	if err := engine.Borrow(user, token, units(500)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	view, err := engine.RiskOf(user)
	if err != nil {
		t.Fatalf("risk view: %v", err)
	}
	if view.CapacityUSD.Cmp(units(1000)) != 0 {
		t.Fatalf("unexpected capacity: %s", view.CapacityUSD)
	}
	if view.DebtUSD.Cmp(units(500)) != 0 {
		t.Fatalf("unexpected debt: %s", view.DebtUSD)
	}
	if view.Indebtedness.Cmp(units(50)) != 0 {
		t.Fatalf("unexpected indebtedness: %s", view.Indebtedness)
	}
}

func TestIndebtednessZeroWhenNoCapacity(t *testing.T) {
	engine, _, prices, _, _ := newTestEngine(t)
	user := makeAddr(0x01)
	whale := makeAddr(0x02)
	collateral := makeAddr(0xA1)
	debt := makeAddr(0xB2)
	mustRegister(t, engine, prices, collateral, 100, 1)
	mustRegister(t, engine, prices, debt, 100, 1)
	mustDeposit(t, engine, whale, debt, units(1000))
	mustDeposit(t, engine, user, collateral, units(1000))
	if err := engine.Borrow(user, debt, units(500)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	// A collapsed collateral price zeroes capacity, which zeroes the
	// indebtedness ratio by definition.
	prices.prices[collateral] = new(big.Int)
	view, err := engine.RiskOf(user)
	if err != nil {
		t.Fatalf("risk view: %v", err)
	}
	if view.CapacityUSD.Sign() != 0 {
		t.Fatalf("unexpected capacity: %s", view.CapacityUSD)
	}
	if view.DebtUSD.Cmp(units(500)) != 0 {
		t.Fatalf("unexpected debt: %s", view.DebtUSD)
	}
	if view.Indebtedness.Sign() != 0 {
		t.Fatalf("unexpected indebtedness: %s", view.Indebtedness)
	}
	if _, err := engine.Liquidate(makeAddr(0x03), user, debt, collateral, units(100)); !errors.Is(err, ErrNotLiquidatable) {
		t.Fatalf("expected not liquidatable, got %v", err)
	}

	// Deactivated collateral stops counting toward capacity the same way.
	prices.prices[collateral] = units(1)
	if err := engine.SetAssetActive(collateral, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	view, err = engine.RiskOf(user)
	if err != nil {
		t.Fatalf("risk view after deactivation: %v", err)
	}
	if view.CapacityUSD.Sign() != 0 {
		t.Fatalf("unexpected capacity: %s", view.CapacityUSD)
	}
	if view.Indebtedness.Sign() != 0 {
		t.Fatalf("unexpected indebtedness: %s", view.Indebtedness)
	}
}

func TestOperationsEmitSequencedEvents(t *testing.T) {
	engine, _, prices, _, _ := newTestEngine(t)
	sink := &captureEmitter{}
	engine.SetEmitter(sink)
	user := makeAddr(0x01)
	token := makeAddr(0xA1)
	mustRegister(t, engine, prices, token, 100, 1)
	mustDeposit(t, engine, user, token, units(1000))
	if err := engine.Borrow(user, token, units(100)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	wantTypes := []string{events.TypeAssetRegistered, events.TypeDeposited, events.TypeBorrowed}
	if len(sink.events) != len(wantTypes) {
		t.Fatalf("unexpected event count: %d", len(sink.events))
	}
	for i, evt := range sink.events {
		if evt.EventType() != wantTypes[i] {
			t.Fatalf("event %d: got %s want %s", i, evt.EventType(), wantTypes[i])
		}
		if got := evt.Event().Sequence; got != uint64(i+1) {
			t.Fatalf("event %d: unexpected sequence %d", i, got)
		}
	}
}

func TestWithdrawFeesPaysRecipient(t *testing.T) {
	engine, state, prices, vault, _ := newTestEngine(t)
	user := makeAddr(0x01)
	treasury := makeAddr(0x04)
	token := makeAddr(0xA1)
	mustRegister(t, engine, prices, token, 100, 1)
	if err := engine.SetFees(100); err != nil {
		t.Fatalf("set fees: %v", err)
	}
	mustDeposit(t, engine, user, token, units(1000))

	if err := engine.WithdrawFees(token, treasury, units(3)); err != nil {
		t.Fatalf("withdraw fees: %v", err)
	}
	if state.pools[token].FeesAccrued.Cmp(units(7)) != 0 {
		t.Fatalf("unexpected fee pot: %s", state.pools[token].FeesAccrued)
	}
	last := vault.calls[len(vault.calls)-1]
	if last.inbound || last.user != treasury || last.amount.Cmp(units(3)) != 0 {
		t.Fatalf("unexpected vault call: %+v", last)
	}

	if err := engine.WithdrawFees(token, treasury, units(8)); !errors.Is(err, ErrInsufficientFees) {
		t.Fatalf("expected insufficient fees, got %v", err)
	}
}
