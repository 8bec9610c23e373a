package oracle

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// PairState is a snapshot of a constant-product pair: the two tokens it
// holds and their current reserves as EVM words.
type PairState struct {
	Token0   common.Address
	Token1   common.Address
	Reserve0 *uint256.Int
	Reserve1 *uint256.Int
}

// Clone returns a deep copy of the snapshot.
func (s *PairState) Clone() *PairState {
	if s == nil {
		return nil
	}
	cloned := &PairState{Token0: s.Token0, Token1: s.Token1}
	if s.Reserve0 != nil {
		cloned.Reserve0 = new(uint256.Int).Set(s.Reserve0)
	}
	if s.Reserve1 != nil {
		cloned.Reserve1 = new(uint256.Int).Set(s.Reserve1)
	}
	return cloned
}

// PoolState is a snapshot of a concentrated-liquidity pool: its token
// ordering and the current square-root price in X96 fixed point.
type PoolState struct {
	Token0       common.Address
	Token1       common.Address
	SqrtPriceX96 *uint256.Int
}

// Clone returns a deep copy of the snapshot.
func (s *PoolState) Clone() *PoolState {
	if s == nil {
		return nil
	}
	cloned := &PoolState{Token0: s.Token0, Token1: s.Token1}
	if s.SqrtPriceX96 != nil {
		cloned.SqrtPriceX96 = new(uint256.Int).Set(s.SqrtPriceX96)
	}
	return cloned
}

// PoolReader supplies live external pool state to the adapter. One quote
// operation sees a single consistent snapshot per pool.
type PoolReader interface {
	PairState(pool common.Address) (*PairState, error)
	PoolState(pool common.Address) (*PoolState, error)
}

// MemoryPools is an RW-locked pool state store. The daemon seeds it from
// configuration and refreshes it through the admin RPC surface; the adapter
// reads it as its live pool snapshot source.
type MemoryPools struct {
	mu    sync.RWMutex
	pairs map[common.Address]*PairState
	pools map[common.Address]*PoolState
}

// NewMemoryPools returns an empty pool state store.
func NewMemoryPools() *MemoryPools {
	return &MemoryPools{
		pairs: make(map[common.Address]*PairState),
		pools: make(map[common.Address]*PoolState),
	}
}

// SetPair installs or replaces a constant-product pair snapshot.
func (m *MemoryPools) SetPair(pool common.Address, state *PairState) {
	if m == nil || state == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pairs[pool] = state.Clone()
}

// SetPool installs or replaces a concentrated-liquidity pool snapshot.
func (m *MemoryPools) SetPool(pool common.Address, state *PoolState) {
	if m == nil || state == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pools[pool] = state.Clone()
}

// PairState implements PoolReader.
func (m *MemoryPools) PairState(pool common.Address) (*PairState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.pairs[pool]
	if !ok {
		return nil, fmt.Errorf("oracle: unknown pair %s", pool.Hex())
	}
	return state.Clone(), nil
}

// PoolState implements PoolReader.
func (m *MemoryPools) PoolState(pool common.Address) (*PoolState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.pools[pool]
	if !ok {
		return nil, fmt.Errorf("oracle: unknown pool %s", pool.Hex())
	}
	return state.Clone(), nil
}
