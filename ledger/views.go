package ledger

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Assets lists every registered asset, active or not.
func (e *Engine) Assets() ([]*Asset, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	assets, err := e.state.ListAssets()
	if err != nil {
		return nil, err
	}
	out := make([]*Asset, 0, len(assets))
	for _, asset := range assets {
		if asset == nil {
			continue
		}
		out = append(out, asset.Clone())
	}
	return out, nil
}

// PoolOf snapshots a pool together with its projected index, utilization and
// current borrow rate. The snapshot never writes: the stored index may lag
// the reported live index until the next mutation lands.
func (e *Engine) PoolOf(token common.Address) (*PoolView, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.requireAsset(token); err != nil {
		return nil, err
	}
	pool, err := e.loadPool(token)
	if err != nil {
		return nil, err
	}
	utilization := Utilization(pool.TotalDebt, pool.Reserve)
	return &PoolView{
		Pool:        pool,
		LiveIndex:   e.liveIndex(pool),
		Utilization: utilization,
		BorrowRate:  e.model.BorrowRate(utilization),
	}, nil
}

// AccountOf reports the user's open positions across all registered assets,
// with debt revalued at each pool's live index. Assets the user never
// touched are omitted.
func (e *Engine) AccountOf(user common.Address) ([]*PositionView, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	assets, err := e.state.ListAssets()
	if err != nil {
		return nil, err
	}
	out := make([]*PositionView, 0, len(assets))
	for _, asset := range assets {
		if asset == nil {
			continue
		}
		pos, err := e.state.GetPosition(user, asset.Token)
		if err != nil {
			return nil, err
		}
		if pos == nil {
			continue
		}
		pos.normalize()
		if pos.Collateral.Sign() == 0 && pos.Principal.Sign() == 0 {
			continue
		}
		pool, err := e.loadPool(asset.Token)
		if err != nil {
			return nil, err
		}
		out = append(out, &PositionView{
			Token:      asset.Token,
			Collateral: new(big.Int).Set(pos.Collateral),
			Debt:       debtAt(pos, e.liveIndex(pool)),
		})
	}
	return out, nil
}
