package ledger

import "math/big"

// RateModel defines the linear utilization curve for the annual borrow rate:
// rate = Base + Slope * utilization. Both parameters are wad-scaled fractions
// of 1.0 per year.
type RateModel struct {
	Base  *big.Int
	Slope *big.Int
}

// DefaultRateModel returns the reference curve: 2% base, 15% slope.
func DefaultRateModel() *RateModel {
	return &RateModel{
		Base:  big.NewInt(20_000_000_000_000_000),
		Slope: big.NewInt(150_000_000_000_000_000),
	}
}

// Clone returns a deep copy of the model.
func (m *RateModel) Clone() *RateModel {
	if m == nil {
		return nil
	}
	cloned := &RateModel{}
	if m.Base != nil {
		cloned.Base = new(big.Int).Set(m.Base)
	}
	if m.Slope != nil {
		cloned.Slope = new(big.Int).Set(m.Slope)
	}
	return cloned
}

func (m *RateModel) normalize() {
	if m.Base == nil {
		m.Base = new(big.Int)
	}
	if m.Slope == nil {
		m.Slope = new(big.Int)
	}
}

// Utilization is the lent-out fraction of an asset's liquidity, wad-scaled:
// debt / (reserve + debt), zero when the pool is empty.
func Utilization(debt, reserve *big.Int) *big.Int {
	if debt == nil || debt.Sign() == 0 {
		return new(big.Int)
	}
	denom := new(big.Int).Set(debt)
	if reserve != nil {
		denom.Add(denom, reserve)
	}
	if denom.Sign() == 0 {
		return new(big.Int)
	}
	return wadDiv(debt, denom)
}

// BorrowRate evaluates the curve at the supplied wad-scaled utilization.
func (m *RateModel) BorrowRate(utilization *big.Int) *big.Int {
	if m == nil {
		return new(big.Int)
	}
	rate := new(big.Int)
	if m.Base != nil {
		rate.Set(m.Base)
	}
	if m.Slope != nil && utilization != nil && utilization.Sign() > 0 {
		rate.Add(rate, wadMul(m.Slope, utilization))
	}
	return rate
}

// advanceIndex compounds an interest index across elapsed seconds at the
// pool's current utilization. Every multiply-then-divide step truncates;
// the ordering is part of the accounting contract.
func advanceIndex(index, debt, reserve *big.Int, model *RateModel, elapsed int64) *big.Int {
	if elapsed <= 0 {
		return new(big.Int).Set(index)
	}
	rate := model.BorrowRate(Utilization(debt, reserve))
	factor := mulDiv(rate, big.NewInt(elapsed), big.NewInt(secondsPerYear))
	return wadMul(index, new(big.Int).Add(wad, factor))
}

// accruePool settles the pool's interest index up to the current time
// bucket, mutating the in-memory copy. Calls within the same bucket are
// no-ops, which makes accrual idempotent between bucket boundaries.
func (e *Engine) accruePool(pool *Pool) {
	pool.normalize()
	nowBucket := bucketTime(e.now(), e.bucketSeconds)
	if pool.UpdatedAt == 0 {
		// Never-touched pool: stamp the anchor without compounding so the
		// first interval starts here rather than at the epoch.
		pool.UpdatedAt = nowBucket
		return
	}
	if nowBucket <= pool.UpdatedAt {
		return
	}
	pool.InterestIndex = advanceIndex(pool.InterestIndex, pool.TotalDebt, pool.Reserve, e.model, nowBucket-pool.UpdatedAt)
	pool.UpdatedAt = nowBucket
}

// liveIndex projects the pool's index into the current bucket without
// writing. Risk reads price debt against this value so valuations never see
// a stale index even when no mutation has landed in the bucket yet.
func (e *Engine) liveIndex(pool *Pool) *big.Int {
	pool.normalize()
	nowBucket := bucketTime(e.now(), e.bucketSeconds)
	if pool.UpdatedAt == 0 || nowBucket <= pool.UpdatedAt {
		return new(big.Int).Set(pool.InterestIndex)
	}
	return advanceIndex(pool.InterestIndex, pool.TotalDebt, pool.Reserve, e.model, nowBucket-pool.UpdatedAt)
}

// debtAt revalues a position's principal at the supplied global index.
func debtAt(pos *Position, index *big.Int) *big.Int {
	if pos == nil || pos.Principal == nil || pos.Principal.Sign() == 0 {
		return new(big.Int)
	}
	base := pos.InterestIndex
	if base == nil || base.Sign() == 0 {
		base = wad
	}
	return mulDiv(pos.Principal, index, base)
}
