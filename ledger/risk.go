package ledger

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var hundredWad = new(big.Int).Mul(hundred, wad)

// borrowCapacityUSD sums the weighted USD value of the user's collateral
// over registered, active assets. Assets with no collateral are skipped
// before quoting so an unrelated broken price feed cannot poison the sum.
func (e *Engine) borrowCapacityUSD(user common.Address) (*big.Int, error) {
	assets, err := e.state.ListAssets()
	if err != nil {
		return nil, err
	}
	total := new(big.Int)
	for _, asset := range assets {
		if asset == nil || !asset.Active {
			continue
		}
		pos, err := e.state.GetPosition(user, asset.Token)
		if err != nil {
			return nil, err
		}
		if pos == nil || pos.Collateral == nil || pos.Collateral.Sign() == 0 {
			continue
		}
		price, err := e.oracle.QuoteUSD(asset.Token)
		if err != nil {
			return nil, err
		}
		value := wadMul(pos.Collateral, price)
		total.Add(total, mulDiv(value, bigFromUint(asset.Weight), hundred))
	}
	return total, nil
}

// totalDebtUSD sums the user's live debt value across every registered
// asset. Deactivated assets still count: deactivation must never erase debt
// from the risk picture. Debt is revalued at the projected index, a pure
// read that forces no state write.
func (e *Engine) totalDebtUSD(user common.Address) (*big.Int, error) {
	assets, err := e.state.ListAssets()
	if err != nil {
		return nil, err
	}
	total := new(big.Int)
	for _, asset := range assets {
		if asset == nil {
			continue
		}
		pos, err := e.state.GetPosition(user, asset.Token)
		if err != nil {
			return nil, err
		}
		if pos == nil || pos.Principal == nil || pos.Principal.Sign() == 0 {
			continue
		}
		pool, err := e.loadPool(asset.Token)
		if err != nil {
			return nil, err
		}
		debt := debtAt(pos, e.liveIndex(pool))
		price, err := e.oracle.QuoteUSD(asset.Token)
		if err != nil {
			return nil, err
		}
		total.Add(total, wadMul(debt, price))
	}
	return total, nil
}

// indebtednessOf derives the wad-scaled indebtedness percent, defined as
// zero when the user has no borrow capacity.
func indebtednessOf(debtUSD, capacity *big.Int) *big.Int {
	if capacity == nil || capacity.Sign() == 0 {
		return new(big.Int)
	}
	return mulDiv(debtUSD, hundredWad, capacity)
}

// exceedsThreshold reports whether debt strictly exceeds the percent
// threshold of capacity. The comparison multiplies both sides instead of
// dividing so the boundary is exact: a position at precisely the threshold
// is not above it.
func exceedsThreshold(debtUSD, capacity *big.Int, thresholdPercent uint64) bool {
	if capacity == nil || capacity.Sign() == 0 {
		return false
	}
	lhs := new(big.Int).Mul(debtUSD, hundred)
	rhs := new(big.Int).Mul(capacity, bigFromUint(thresholdPercent))
	return lhs.Cmp(rhs) > 0
}

// withinLimit reports whether debt stays at or below the percent limit of
// capacity, using the same exact product comparison.
func withinLimit(debtUSD, capacity *big.Int, limitPercent uint64) bool {
	lhs := new(big.Int).Mul(debtUSD, hundred)
	rhs := new(big.Int).Mul(capacity, bigFromUint(limitPercent))
	return lhs.Cmp(rhs) <= 0
}

// BorrowCapacityUSD reports the user's weighted borrowing capacity. Pure
// read, recomputed in full on every call.
func (e *Engine) BorrowCapacityUSD(user common.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.oracle == nil {
		return nil, errNilOracle
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.borrowCapacityUSD(user)
}

// TotalDebtUSD reports the user's outstanding debt valued in USD. Pure
// read, recomputed in full on every call.
func (e *Engine) TotalDebtUSD(user common.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.oracle == nil {
		return nil, errNilOracle
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totalDebtUSD(user)
}

// Indebtedness reports the wad-scaled indebtedness percent for the user.
func (e *Engine) Indebtedness(user common.Address) (*big.Int, error) {
	view, err := e.RiskOf(user)
	if err != nil {
		return nil, err
	}
	return view.Indebtedness, nil
}

// RiskOf assembles the three risk reads under one lock acquisition so the
// reported numbers come from a single consistent state.
func (e *Engine) RiskOf(user common.Address) (*RiskView, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.oracle == nil {
		return nil, errNilOracle
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	capacity, err := e.borrowCapacityUSD(user)
	if err != nil {
		return nil, err
	}
	debt, err := e.totalDebtUSD(user)
	if err != nil {
		return nil, err
	}
	return &RiskView{
		CapacityUSD:  capacity,
		DebtUSD:      debt,
		Indebtedness: indebtednessOf(debt, capacity),
	}, nil
}
