package ledger

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"lendledger/oracle"
)

// Asset is a registry entry: the per-token risk configuration installed at
// registration and never removed. Amount values throughout the package are
// expressed as big integers scaled by 1e18 to keep truncating fixed-point
// arithmetic exact.
type Asset struct {
	// Token is the asset identifier.
	Token common.Address
	// Weight discounts the asset's collateral value, as an integer percent
	// in (0,100]. It is set exactly once at registration.
	Weight uint64
	// Active gates every user operation touching the asset. Inactive
	// assets keep their registry entry and pool state.
	Active bool
	// Source describes where the asset's USD price comes from.
	Source oracle.Source
	// BorrowCap bounds the pool's outstanding principal-space debt. Nil or
	// zero means uncapped.
	BorrowCap *big.Int
}

// Clone returns a deep copy of the registry entry.
func (a *Asset) Clone() *Asset {
	if a == nil {
		return nil
	}
	cloned := &Asset{
		Token:  a.Token,
		Weight: a.Weight,
		Active: a.Active,
		Source: a.Source,
	}
	if a.BorrowCap != nil {
		cloned.BorrowCap = new(big.Int).Set(a.BorrowCap)
	}
	return cloned
}

// Pool captures the per-asset aggregate accounting state.
type Pool struct {
	// Token is the asset this pool accounts for.
	Token common.Address
	// TotalCollateral is the sum of all users' collateral in the asset.
	TotalCollateral *big.Int
	// TotalDebt is the principal-space running total of outstanding debt.
	// It moves by the exact amounts borrowed and repaid, never by accrued
	// interest.
	TotalDebt *big.Int
	// Reserve is the liquid balance available to lend or withdraw. The
	// deposit-fee pot is excluded.
	Reserve *big.Int
	// FeesAccrued is the deposit-fee pot awaiting administrative payout.
	FeesAccrued *big.Int
	// InterestIndex is the cumulative borrow index, starting at 1e18 and
	// non-decreasing.
	InterestIndex *big.Int
	// UpdatedAt records the time bucket when the index last advanced.
	UpdatedAt int64
}

// Clone returns a deep copy of the pool state.
func (p *Pool) Clone() *Pool {
	if p == nil {
		return nil
	}
	cloned := &Pool{Token: p.Token, UpdatedAt: p.UpdatedAt}
	cloned.TotalCollateral = cloneBig(p.TotalCollateral)
	cloned.TotalDebt = cloneBig(p.TotalDebt)
	cloned.Reserve = cloneBig(p.Reserve)
	cloned.FeesAccrued = cloneBig(p.FeesAccrued)
	cloned.InterestIndex = cloneBig(p.InterestIndex)
	return cloned
}

// normalize substitutes zero values for nil amount fields so arithmetic can
// proceed without guards.
func (p *Pool) normalize() {
	if p.TotalCollateral == nil {
		p.TotalCollateral = new(big.Int)
	}
	if p.TotalDebt == nil {
		p.TotalDebt = new(big.Int)
	}
	if p.Reserve == nil {
		p.Reserve = new(big.Int)
	}
	if p.FeesAccrued == nil {
		p.FeesAccrued = new(big.Int)
	}
	if p.InterestIndex == nil || p.InterestIndex.Sign() == 0 {
		p.InterestIndex = new(big.Int).Set(wad)
	}
}

// Position tracks one user's collateral and debt in a single asset. A
// position with zero principal is closed; records are created lazily on first
// deposit or borrow and never explicitly destroyed.
type Position struct {
	// User owns the position.
	User common.Address
	// Token is the asset the position is denominated in.
	Token common.Address
	// Collateral is the quantity deposited as collateral, always >= 0.
	Collateral *big.Int
	// Principal is the debt in asset units at the position's own index.
	Principal *big.Int
	// InterestIndex is the pool's global index when Principal was last
	// set. It never exceeds the current global index.
	InterestIndex *big.Int
	// UpdatedAt is the bucketed timestamp of the last debt update.
	UpdatedAt int64
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	cloned := &Position{User: p.User, Token: p.Token, UpdatedAt: p.UpdatedAt}
	cloned.Collateral = cloneBig(p.Collateral)
	cloned.Principal = cloneBig(p.Principal)
	cloned.InterestIndex = cloneBig(p.InterestIndex)
	return cloned
}

func (p *Position) normalize() {
	if p.Collateral == nil {
		p.Collateral = new(big.Int)
	}
	if p.Principal == nil {
		p.Principal = new(big.Int)
	}
	if p.InterestIndex == nil || p.InterestIndex.Sign() == 0 {
		p.InterestIndex = new(big.Int).Set(wad)
	}
}

// RiskParams groups the safety limits governing lending activity. All three
// are integer percents.
type RiskParams struct {
	// MaxLTV is the maximum share of weighted collateral value that may be
	// borrowed against.
	MaxLTV uint64
	// LiquidationThreshold is the indebtedness percent above which a
	// position becomes liquidatable. The threshold itself is safe:
	// eligibility requires strictly greater indebtedness.
	LiquidationThreshold uint64
	// LiquidationBonus scales the USD value a liquidator seizes relative
	// to the debt repaid, e.g. 105 grants a 5% premium.
	LiquidationBonus uint64
}

// DefaultRiskParams mirror the reference deployment: borrow up to 80% of
// weighted collateral, liquidate above 85%, pay liquidators a 5% premium.
func DefaultRiskParams() RiskParams {
	return RiskParams{MaxLTV: 80, LiquidationThreshold: 85, LiquidationBonus: 105}
}

// Pauses gates individual ledger actions. A paused action fails fast without
// touching state.
type Pauses struct {
	Deposit   bool
	Withdraw  bool
	Borrow    bool
	Repay     bool
	Liquidate bool
}

// Params carries the adjustable global switches. They are persisted next to
// pool state so a restart resumes with the same fees and pauses.
type Params struct {
	// DepositFeeBps is skimmed from every deposit, in basis points of the
	// deposited amount, and parked in the pool's fee pot.
	DepositFeeBps uint64
	// Pauses holds the per-action kill switches.
	Pauses Pauses
}

// Clone returns a copy of the parameter set.
func (p *Params) Clone() *Params {
	if p == nil {
		return nil
	}
	cloned := *p
	return &cloned
}

// PoolView is a read-model snapshot of a pool augmented with derived rate
// data. LiveIndex projects accrual into the current bucket without writing.
type PoolView struct {
	Pool        *Pool
	LiveIndex   *big.Int
	Utilization *big.Int
	BorrowRate  *big.Int
}

// PositionView reports a user's holdings in one asset with debt revalued at
// the live index.
type PositionView struct {
	Token      common.Address
	Collateral *big.Int
	Debt       *big.Int
}

// RiskView reports the three risk-engine reads for a user. Indebtedness is a
// percent scaled by 1e18; it is zero when the user has no borrow capacity.
type RiskView struct {
	CapacityUSD  *big.Int
	DebtUSD      *big.Int
	Indebtedness *big.Int
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
