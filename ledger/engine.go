package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"lendledger/core/events"
	"lendledger/oracle"
)

var (
	errNilState  = errors.New("lending ledger: state not configured")
	errNilOracle = errors.New("lending ledger: price oracle not configured")
	errNilVault  = errors.New("lending ledger: asset vault not configured")

	// ErrUnsupportedAsset rejects operations against tokens that were
	// never registered.
	ErrUnsupportedAsset = errors.New("lending ledger: asset not registered")
	// ErrAssetInactive rejects deposits, borrows and liquidations that
	// touch a deactivated asset. Withdraw and repay stay open so
	// positions can still be unwound.
	ErrAssetInactive = errors.New("lending ledger: asset deactivated")
	// ErrDuplicateAsset rejects re-registration of a known token.
	ErrDuplicateAsset = errors.New("lending ledger: asset already registered")
	// ErrInvalidWeight rejects collateral weights outside (0,100].
	ErrInvalidWeight = errors.New("lending ledger: collateral weight must be in (0,100]")
	// ErrInvalidAmount rejects nil, zero and negative amounts.
	ErrInvalidAmount = errors.New("lending ledger: amount must be positive")
	// ErrInvalidParams rejects malformed fee or pause updates.
	ErrInvalidParams = errors.New("lending ledger: invalid parameters")
	// ErrInsufficientBalance means the caller's position cannot cover the
	// requested withdrawal.
	ErrInsufficientBalance = errors.New("lending ledger: insufficient collateral balance")
	// ErrInsufficientLiquidity means the pool's liquid reserve cannot
	// cover the requested payout.
	ErrInsufficientLiquidity = errors.New("lending ledger: insufficient pool liquidity")
	// ErrInsufficientFees means the fee pot cannot cover the payout.
	ErrInsufficientFees = errors.New("lending ledger: amount exceeds accrued fees")
	// ErrHealthCheckFailed means the operation would push the position
	// past the borrow limit.
	ErrHealthCheckFailed = errors.New("lending ledger: position would exceed borrow limit")
	// ErrBorrowCapExceeded means the pool's configured debt ceiling would
	// be crossed.
	ErrBorrowCapExceeded = errors.New("lending ledger: pool borrow cap exceeded")
	// ErrNoDebtToRepay rejects repayments and liquidations against a
	// position with zero outstanding debt.
	ErrNoDebtToRepay = errors.New("lending ledger: no outstanding debt to repay")
	// ErrNotLiquidatable means the target position is still healthy.
	ErrNotLiquidatable = errors.New("lending ledger: borrower not eligible for liquidation")
	// ErrActionPaused means the requested action is administratively
	// halted.
	ErrActionPaused = errors.New("lending ledger: action paused")
)

// engineState is the narrow persistence surface the engine drives. Getters
// return nil without error when the record does not exist.
type engineState interface {
	GetAsset(token common.Address) (*Asset, error)
	PutAsset(asset *Asset) error
	ListAssets() ([]*Asset, error)
	GetPool(token common.Address) (*Pool, error)
	PutPool(pool *Pool) error
	GetPosition(user, token common.Address) (*Position, error)
	PutPosition(pos *Position) error
	GetParams() (*Params, error)
	PutParams(params *Params) error
	NextSequence() (uint64, error)
}

// PriceOracle quotes the USD value of one whole unit of an asset, wad-scaled.
type PriceOracle interface {
	QuoteUSD(asset common.Address) (*big.Int, error)
}

// AssetTransfer moves token balances between a user and the ledger's custody
// account. TransferIn pulls from the user, TransferOut pays the user.
// Implementations must apply each call atomically.
type AssetTransfer interface {
	TransferIn(user, asset common.Address, amount *big.Int) error
	TransferOut(user, asset common.Address, amount *big.Int) error
}

// Engine owns every state transition of the lending ledger: collateral
// movement, borrowing, repayment, liquidation and the administrative
// surface. All operations run under a single mutex so state reads inside an
// operation always observe the previous operation's writes.
type Engine struct {
	mu            sync.Mutex
	state         engineState
	oracle        PriceOracle
	vault         AssetTransfer
	emitter       events.Emitter
	risk          RiskParams
	model         *RateModel
	bucketSeconds int64
	now           func() int64
}

// NewEngine constructs an engine with the supplied risk limits. State,
// oracle and vault are wired afterwards through the setters.
func NewEngine(risk RiskParams) *Engine {
	return &Engine{
		risk:          risk,
		model:         DefaultRateModel(),
		bucketSeconds: defaultBucketSeconds,
		now:           func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) {
	if e == nil {
		return
	}
	e.state = state
}

// SetOracle wires the USD price source.
func (e *Engine) SetOracle(o PriceOracle) {
	if e == nil {
		return
	}
	e.oracle = o
}

// SetVault wires the custody layer that moves token balances.
func (e *Engine) SetVault(v AssetTransfer) {
	if e == nil {
		return
	}
	e.vault = v
}

// SetEmitter wires the event sink. A nil emitter silently drops events.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	e.emitter = emitter
}

// SetRateModel replaces the interest curve.
func (e *Engine) SetRateModel(model *RateModel) {
	if e == nil {
		return
	}
	if model == nil {
		e.model = DefaultRateModel()
		return
	}
	cloned := model.Clone()
	cloned.normalize()
	e.model = cloned
}

// SetBucketSeconds overrides the accrual bucket width. Values below one
// second fall back to the default.
func (e *Engine) SetBucketSeconds(width int64) {
	if e == nil {
		return
	}
	if width <= 0 {
		width = defaultBucketSeconds
	}
	e.bucketSeconds = width
}

// SetNowFunc overrides the clock. Tests use it to walk accrual across
// bucket boundaries deterministically.
func (e *Engine) SetNowFunc(now func() int64) {
	if e == nil || now == nil {
		return
	}
	e.now = now
}

// Risk reports the configured risk limits.
func (e *Engine) Risk() RiskParams {
	if e == nil {
		return RiskParams{}
	}
	return e.risk
}

// Model reports a copy of the configured interest curve.
func (e *Engine) Model() *RateModel {
	if e == nil {
		return nil
	}
	return e.model.Clone()
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) requireAsset(token common.Address) (*Asset, error) {
	asset, err := e.state.GetAsset(token)
	if err != nil {
		return nil, err
	}
	if asset == nil {
		return nil, ErrUnsupportedAsset
	}
	return asset, nil
}

func (e *Engine) loadPool(token common.Address) (*Pool, error) {
	pool, err := e.state.GetPool(token)
	if err != nil {
		return nil, err
	}
	if pool == nil {
		pool = &Pool{Token: token}
	}
	pool.normalize()
	return pool, nil
}

func (e *Engine) loadPosition(user, token common.Address) (*Position, error) {
	pos, err := e.state.GetPosition(user, token)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		pos = &Position{User: user, Token: token}
	}
	pos.normalize()
	return pos, nil
}

func (e *Engine) loadParams() (*Params, error) {
	params, err := e.state.GetParams()
	if err != nil {
		return nil, err
	}
	if params == nil {
		params = &Params{}
	}
	return params, nil
}

// Deposit pulls amount of token from the user into custody and credits the
// fee-adjusted remainder as collateral. It returns the credited amount.
func (e *Engine) Deposit(user, token common.Address, amount *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.vault == nil {
		return nil, errNilVault
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	params, err := e.loadParams()
	if err != nil {
		return nil, err
	}
	if params.Pauses.Deposit {
		return nil, ErrActionPaused
	}
	asset, err := e.requireAsset(token)
	if err != nil {
		return nil, err
	}
	if !asset.Active {
		return nil, ErrAssetInactive
	}

	pool, err := e.loadPool(token)
	if err != nil {
		return nil, err
	}
	e.accruePool(pool)

	fee := new(big.Int)
	if params.DepositFeeBps > 0 {
		fee = mulDiv(amount, bigFromUint(params.DepositFeeBps), basisPoints)
	}
	credited := new(big.Int).Sub(amount, fee)
	if credited.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	if err := e.vault.TransferIn(user, token, amount); err != nil {
		return nil, fmt.Errorf("lending ledger: collect deposit: %w", err)
	}

	pos, err := e.loadPosition(user, token)
	if err != nil {
		return nil, err
	}
	pos.Collateral = new(big.Int).Add(pos.Collateral, credited)
	pos.UpdatedAt = e.now()

	pool.TotalCollateral = new(big.Int).Add(pool.TotalCollateral, credited)
	pool.Reserve = new(big.Int).Add(pool.Reserve, credited)
	pool.FeesAccrued = new(big.Int).Add(pool.FeesAccrued, fee)

	if err := e.state.PutPosition(pos); err != nil {
		return nil, err
	}
	if err := e.state.PutPool(pool); err != nil {
		return nil, err
	}

	seq, err := e.state.NextSequence()
	if err != nil {
		return nil, err
	}
	e.emit(&events.Deposited{Sequence: seq, User: user, Asset: token, Amount: amount, Fee: fee})
	return credited, nil
}

// Withdraw releases amount of collateral back to the user, provided the
// remaining collateral still covers outstanding debt within the borrow
// limit. Deactivated assets can still be withdrawn from.
func (e *Engine) Withdraw(user, token common.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.vault == nil {
		return errNilVault
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	params, err := e.loadParams()
	if err != nil {
		return err
	}
	if params.Pauses.Withdraw {
		return ErrActionPaused
	}
	asset, err := e.requireAsset(token)
	if err != nil {
		return err
	}

	pool, err := e.loadPool(token)
	if err != nil {
		return err
	}
	e.accruePool(pool)

	pos, err := e.loadPosition(user, token)
	if err != nil {
		return err
	}
	if pos.Collateral.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	if pool.Reserve.Cmp(amount) < 0 {
		return ErrInsufficientLiquidity
	}

	debtUSD, err := e.totalDebtUSD(user)
	if err != nil {
		return err
	}
	if debtUSD.Sign() > 0 {
		if e.oracle == nil {
			return errNilOracle
		}
		capacity, err := e.borrowCapacityUSD(user)
		if err != nil {
			return err
		}
		// Inactive assets contribute nothing to capacity, so removing
		// their collateral cannot shrink it.
		removed := new(big.Int)
		if asset.Active {
			price, err := e.oracle.QuoteUSD(token)
			if err != nil {
				return err
			}
			removed = mulDiv(wadMul(amount, price), bigFromUint(asset.Weight), hundred)
		}
		remaining := new(big.Int).Sub(capacity, removed)
		if remaining.Sign() < 0 || !withinLimit(debtUSD, remaining, e.risk.MaxLTV) {
			return ErrHealthCheckFailed
		}
	}

	if err := e.vault.TransferOut(user, token, amount); err != nil {
		return fmt.Errorf("lending ledger: release collateral: %w", err)
	}

	pos.Collateral = new(big.Int).Sub(pos.Collateral, amount)
	pos.UpdatedAt = e.now()
	pool.TotalCollateral = new(big.Int).Sub(pool.TotalCollateral, amount)
	pool.Reserve = new(big.Int).Sub(pool.Reserve, amount)

	if err := e.state.PutPosition(pos); err != nil {
		return err
	}
	if err := e.state.PutPool(pool); err != nil {
		return err
	}

	seq, err := e.state.NextSequence()
	if err != nil {
		return err
	}
	e.emit(&events.Withdrawn{Sequence: seq, User: user, Asset: token, Amount: amount})
	return nil
}

// Borrow lends amount of token to the user against their weighted collateral
// across all active assets. Existing debt is rebased to the current index
// before the new principal is added.
func (e *Engine) Borrow(user, token common.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.oracle == nil {
		return errNilOracle
	}
	if e.vault == nil {
		return errNilVault
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	params, err := e.loadParams()
	if err != nil {
		return err
	}
	if params.Pauses.Borrow {
		return ErrActionPaused
	}
	asset, err := e.requireAsset(token)
	if err != nil {
		return err
	}
	if !asset.Active {
		return ErrAssetInactive
	}

	pool, err := e.loadPool(token)
	if err != nil {
		return err
	}
	e.accruePool(pool)

	if pool.Reserve.Cmp(amount) < 0 {
		return ErrInsufficientLiquidity
	}
	if asset.BorrowCap != nil && asset.BorrowCap.Sign() > 0 {
		projected := new(big.Int).Add(pool.TotalDebt, amount)
		if projected.Cmp(asset.BorrowCap) > 0 {
			return ErrBorrowCapExceeded
		}
	}

	capacity, err := e.borrowCapacityUSD(user)
	if err != nil {
		return err
	}
	debtUSD, err := e.totalDebtUSD(user)
	if err != nil {
		return err
	}
	price, err := e.oracle.QuoteUSD(token)
	if err != nil {
		return err
	}
	projectedDebt := new(big.Int).Add(debtUSD, wadMul(amount, price))
	if !withinLimit(projectedDebt, capacity, e.risk.MaxLTV) {
		return ErrHealthCheckFailed
	}

	pos, err := e.loadPosition(user, token)
	if err != nil {
		return err
	}
	current := debtAt(pos, pool.InterestIndex)

	if err := e.vault.TransferOut(user, token, amount); err != nil {
		return fmt.Errorf("lending ledger: disburse loan: %w", err)
	}

	pos.Principal = new(big.Int).Add(current, amount)
	pos.InterestIndex = new(big.Int).Set(pool.InterestIndex)
	pos.UpdatedAt = e.now()

	pool.TotalDebt = new(big.Int).Add(pool.TotalDebt, amount)
	pool.Reserve = new(big.Int).Sub(pool.Reserve, amount)

	if err := e.state.PutPosition(pos); err != nil {
		return err
	}
	if err := e.state.PutPool(pool); err != nil {
		return err
	}

	seq, err := e.state.NextSequence()
	if err != nil {
		return err
	}
	e.emit(&events.Borrowed{Sequence: seq, User: user, Asset: token, Amount: amount})
	return nil
}

// Repay settles up to amount of the user's live debt in token and returns
// the amount actually applied. Overpayment clamps to the outstanding debt
// instead of creating a credit.
func (e *Engine) Repay(user, token common.Address, amount *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.vault == nil {
		return nil, errNilVault
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	params, err := e.loadParams()
	if err != nil {
		return nil, err
	}
	if params.Pauses.Repay {
		return nil, ErrActionPaused
	}
	if _, err := e.requireAsset(token); err != nil {
		return nil, err
	}

	pool, err := e.loadPool(token)
	if err != nil {
		return nil, err
	}
	e.accruePool(pool)

	pos, err := e.loadPosition(user, token)
	if err != nil {
		return nil, err
	}
	current := debtAt(pos, pool.InterestIndex)
	if current.Sign() == 0 {
		return nil, ErrNoDebtToRepay
	}
	pay := new(big.Int).Set(amount)
	if pay.Cmp(current) > 0 {
		pay = new(big.Int).Set(current)
	}

	if err := e.vault.TransferIn(user, token, pay); err != nil {
		return nil, fmt.Errorf("lending ledger: collect repayment: %w", err)
	}

	pos.Principal = new(big.Int).Sub(current, pay)
	pos.InterestIndex = new(big.Int).Set(pool.InterestIndex)
	pos.UpdatedAt = e.now()

	// The aggregate tracks original principal, so a repayment that covers
	// accrued interest can exceed what the aggregate still carries.
	remaining := new(big.Int).Sub(pool.TotalDebt, pay)
	if remaining.Sign() < 0 {
		remaining = new(big.Int)
	}
	pool.TotalDebt = remaining
	pool.Reserve = new(big.Int).Add(pool.Reserve, pay)

	if err := e.state.PutPosition(pos); err != nil {
		return nil, err
	}
	if err := e.state.PutPool(pool); err != nil {
		return nil, err
	}

	seq, err := e.state.NextSequence()
	if err != nil {
		return nil, err
	}
	e.emit(&events.Repaid{Sequence: seq, User: user, Asset: token, Amount: pay})
	return pay, nil
}

// Liquidate lets the liquidator repay part of an unhealthy user's debt in
// debtAsset and seize collateral in collateralAsset worth the repaid value
// plus the liquidation bonus. The seized amount is returned; it is silently
// capped at the position's collateral when the bonus-implied quantity
// exceeds it.
func (e *Engine) Liquidate(liquidator, user, debtAsset, collateralAsset common.Address, debtAmount *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.oracle == nil {
		return nil, errNilOracle
	}
	if e.vault == nil {
		return nil, errNilVault
	}
	if debtAmount == nil || debtAmount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	params, err := e.loadParams()
	if err != nil {
		return nil, err
	}
	if params.Pauses.Liquidate {
		return nil, ErrActionPaused
	}
	debtInfo, err := e.requireAsset(debtAsset)
	if err != nil {
		return nil, err
	}
	collInfo, err := e.requireAsset(collateralAsset)
	if err != nil {
		return nil, err
	}
	if !debtInfo.Active || !collInfo.Active {
		return nil, ErrAssetInactive
	}

	capacity, err := e.borrowCapacityUSD(user)
	if err != nil {
		return nil, err
	}
	debtUSD, err := e.totalDebtUSD(user)
	if err != nil {
		return nil, err
	}
	if !exceedsThreshold(debtUSD, capacity, e.risk.LiquidationThreshold) {
		return nil, ErrNotLiquidatable
	}

	debtPool, err := e.loadPool(debtAsset)
	if err != nil {
		return nil, err
	}
	e.accruePool(debtPool)
	collPool := debtPool
	if collateralAsset != debtAsset {
		collPool, err = e.loadPool(collateralAsset)
		if err != nil {
			return nil, err
		}
		e.accruePool(collPool)
	}

	debtPos, err := e.loadPosition(user, debtAsset)
	if err != nil {
		return nil, err
	}
	collPos := debtPos
	if collateralAsset != debtAsset {
		collPos, err = e.loadPosition(user, collateralAsset)
		if err != nil {
			return nil, err
		}
	}

	current := debtAt(debtPos, debtPool.InterestIndex)
	if current.Sign() == 0 {
		return nil, ErrNoDebtToRepay
	}
	repay := new(big.Int).Set(debtAmount)
	if repay.Cmp(current) > 0 {
		repay = new(big.Int).Set(current)
	}

	debtPrice, err := e.oracle.QuoteUSD(debtAsset)
	if err != nil {
		return nil, err
	}
	collPrice, err := e.oracle.QuoteUSD(collateralAsset)
	if err != nil {
		return nil, err
	}
	repaidUSD := wadMul(repay, debtPrice)
	seizeUSD := mulDiv(repaidUSD, bigFromUint(e.risk.LiquidationBonus), hundred)
	seized := mulDiv(seizeUSD, wad, collPrice)
	if seized.Cmp(collPos.Collateral) > 0 {
		seized = new(big.Int).Set(collPos.Collateral)
	}
	if collPool.Reserve.Cmp(seized) < 0 {
		return nil, ErrInsufficientLiquidity
	}

	if err := e.vault.TransferIn(liquidator, debtAsset, repay); err != nil {
		return nil, fmt.Errorf("lending ledger: collect liquidation repayment: %w", err)
	}
	if err := e.vault.TransferOut(liquidator, collateralAsset, seized); err != nil {
		return nil, fmt.Errorf("lending ledger: release seized collateral: %w", err)
	}

	debtPos.Principal = new(big.Int).Sub(current, repay)
	debtPos.InterestIndex = new(big.Int).Set(debtPool.InterestIndex)
	debtPos.UpdatedAt = e.now()
	collPos.Collateral = new(big.Int).Sub(collPos.Collateral, seized)
	collPos.UpdatedAt = e.now()

	remaining := new(big.Int).Sub(debtPool.TotalDebt, repay)
	if remaining.Sign() < 0 {
		remaining = new(big.Int)
	}
	debtPool.TotalDebt = remaining
	debtPool.Reserve = new(big.Int).Add(debtPool.Reserve, repay)
	collPool.TotalCollateral = new(big.Int).Sub(collPool.TotalCollateral, seized)
	collPool.Reserve = new(big.Int).Sub(collPool.Reserve, seized)

	if err := e.state.PutPosition(debtPos); err != nil {
		return nil, err
	}
	if collPos != debtPos {
		if err := e.state.PutPosition(collPos); err != nil {
			return nil, err
		}
	}
	if err := e.state.PutPool(debtPool); err != nil {
		return nil, err
	}
	if collPool != debtPool {
		if err := e.state.PutPool(collPool); err != nil {
			return nil, err
		}
	}

	seq, err := e.state.NextSequence()
	if err != nil {
		return nil, err
	}
	e.emit(&events.Liquidated{
		Sequence:        seq,
		Liquidator:      liquidator,
		User:            user,
		DebtAsset:       debtAsset,
		DebtAmount:      repay,
		CollateralAsset: collateralAsset,
		Seized:          seized,
	})
	return seized, nil
}

// RegisterAsset installs a new collateral asset with its weight, price
// source and optional borrow cap, and initialises an empty pool anchored at
// the current accrual bucket. Assets register active.
func (e *Engine) RegisterAsset(token common.Address, weight uint64, source oracle.Source, borrowCap *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if weight == 0 || weight > 100 {
		return ErrInvalidWeight
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	existing, err := e.state.GetAsset(token)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrDuplicateAsset
	}

	asset := &Asset{Token: token, Weight: weight, Active: true, Source: source}
	if borrowCap != nil && borrowCap.Sign() > 0 {
		asset.BorrowCap = new(big.Int).Set(borrowCap)
	}
	pool := &Pool{Token: token, UpdatedAt: bucketTime(e.now(), e.bucketSeconds)}
	pool.normalize()

	if err := e.state.PutAsset(asset); err != nil {
		return err
	}
	if err := e.state.PutPool(pool); err != nil {
		return err
	}

	seq, err := e.state.NextSequence()
	if err != nil {
		return err
	}
	e.emit(&events.AssetRegistered{Sequence: seq, Asset: token, Weight: weight, Source: source.Kind.String()})
	return nil
}

// SetAssetActive flips the asset's activity gate. Deactivation blocks new
// deposits and borrows while leaving the unwind paths open; the registry
// entry and pool state are never removed.
func (e *Engine) SetAssetActive(token common.Address, active bool) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	asset, err := e.requireAsset(token)
	if err != nil {
		return err
	}
	asset.Active = active
	if err := e.state.PutAsset(asset); err != nil {
		return err
	}

	seq, err := e.state.NextSequence()
	if err != nil {
		return err
	}
	e.emit(&events.AssetUpdated{Sequence: seq, Asset: token, Active: active})
	return nil
}

// SetFees updates the deposit fee. The fee applies to deposits landing after
// the update; amounts already in the fee pot are unaffected.
func (e *Engine) SetFees(depositFeeBps uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if depositFeeBps > 10_000 {
		return ErrInvalidParams
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	params, err := e.loadParams()
	if err != nil {
		return err
	}
	params.DepositFeeBps = depositFeeBps
	if err := e.state.PutParams(params); err != nil {
		return err
	}

	seq, err := e.state.NextSequence()
	if err != nil {
		return err
	}
	e.emit(&events.ParamsUpdated{Sequence: seq, DepositFeeBps: params.DepositFeeBps, Pauses: pauseList(params.Pauses)})
	return nil
}

// SetPauses replaces the per-action kill switches.
func (e *Engine) SetPauses(p Pauses) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	params, err := e.loadParams()
	if err != nil {
		return err
	}
	params.Pauses = p
	if err := e.state.PutParams(params); err != nil {
		return err
	}

	seq, err := e.state.NextSequence()
	if err != nil {
		return err
	}
	e.emit(&events.ParamsUpdated{Sequence: seq, DepositFeeBps: params.DepositFeeBps, Pauses: pauseList(p)})
	return nil
}

// WithdrawFees pays accrued deposit fees out of custody to the recipient.
func (e *Engine) WithdrawFees(token, to common.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.vault == nil {
		return errNilVault
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.requireAsset(token); err != nil {
		return err
	}
	pool, err := e.loadPool(token)
	if err != nil {
		return err
	}
	e.accruePool(pool)
	if pool.FeesAccrued.Cmp(amount) < 0 {
		return ErrInsufficientFees
	}

	if err := e.vault.TransferOut(to, token, amount); err != nil {
		return fmt.Errorf("lending ledger: pay out fees: %w", err)
	}

	pool.FeesAccrued = new(big.Int).Sub(pool.FeesAccrued, amount)
	if err := e.state.PutPool(pool); err != nil {
		return err
	}

	seq, err := e.state.NextSequence()
	if err != nil {
		return err
	}
	e.emit(&events.FeesWithdrawn{Sequence: seq, Asset: token, To: to, Amount: amount})
	return nil
}

// WithdrawReserve draws surplus cash out of a pool. The surplus is the part
// of the reserve not needed to back collateral claims: reserve plus
// outstanding principal minus total collateral. Interest paid on loans is
// the usual origin of such surplus.
func (e *Engine) WithdrawReserve(token, to common.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.vault == nil {
		return errNilVault
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.requireAsset(token); err != nil {
		return err
	}
	pool, err := e.loadPool(token)
	if err != nil {
		return err
	}
	e.accruePool(pool)

	excess := new(big.Int).Add(pool.Reserve, pool.TotalDebt)
	excess.Sub(excess, pool.TotalCollateral)
	if excess.Sign() < 0 {
		excess = new(big.Int)
	}
	if amount.Cmp(excess) > 0 || amount.Cmp(pool.Reserve) > 0 {
		return ErrInsufficientLiquidity
	}

	if err := e.vault.TransferOut(to, token, amount); err != nil {
		return fmt.Errorf("lending ledger: pay out reserve: %w", err)
	}

	pool.Reserve = new(big.Int).Sub(pool.Reserve, amount)
	if err := e.state.PutPool(pool); err != nil {
		return err
	}

	seq, err := e.state.NextSequence()
	if err != nil {
		return err
	}
	e.emit(&events.ReserveWithdrawn{Sequence: seq, Asset: token, To: to, Amount: amount})
	return nil
}

// CurrentParams reports the persisted fee and pause configuration.
func (e *Engine) CurrentParams() (*Params, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	params, err := e.loadParams()
	if err != nil {
		return nil, err
	}
	return params.Clone(), nil
}

func pauseList(p Pauses) string {
	parts := make([]string, 0, 5)
	if p.Deposit {
		parts = append(parts, "deposit")
	}
	if p.Withdraw {
		parts = append(parts, "withdraw")
	}
	if p.Borrow {
		parts = append(parts, "borrow")
	}
	if p.Repay {
		parts = append(parts, "repay")
	}
	if p.Liquidate {
		parts = append(parts, "liquidate")
	}
	return strings.Join(parts, ",")
}
