package state

import (
	"bytes"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"lendledger/ledger"
	"lendledger/oracle"
	"lendledger/storage"
)

var (
	errNotInitialised = errors.New("state: manager not initialised")
	errNilRecord      = errors.New("state: record required")
)

// Manager persists ledger records in a key-value database using RLP
// encoding. It carries no locking of its own: the ledger engine serialises
// every call.
type Manager struct {
	db storage.Database
}

// NewManager wraps the supplied database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func (m *Manager) kvPut(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.db.Put(key, encoded)
}

// kvGet decodes the value under key into out. The boolean reports whether
// the key existed.
func (m *Manager) kvGet(key []byte, out interface{}) (bool, error) {
	data, err := m.db.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// storedAsset flattens the registry entry into RLP-friendly fields.
type storedAsset struct {
	Token       common.Address
	Weight      uint64
	Active      bool
	SourceKind  uint8
	SourcePool  common.Address
	SourceQuote common.Address
	BorrowCap   *big.Int
}

func newStoredAsset(asset *ledger.Asset) *storedAsset {
	stored := &storedAsset{
		Token:       asset.Token,
		Weight:      asset.Weight,
		Active:      asset.Active,
		SourceKind:  uint8(asset.Source.Kind),
		SourcePool:  asset.Source.Pool,
		SourceQuote: asset.Source.Quote,
		BorrowCap:   new(big.Int),
	}
	if asset.BorrowCap != nil {
		stored.BorrowCap = new(big.Int).Set(asset.BorrowCap)
	}
	return stored
}

func (s *storedAsset) toAsset() *ledger.Asset {
	asset := &ledger.Asset{
		Token:  s.Token,
		Weight: s.Weight,
		Active: s.Active,
		Source: oracle.Source{
			Kind:  oracle.SourceKind(s.SourceKind),
			Pool:  s.SourcePool,
			Quote: s.SourceQuote,
		},
	}
	// A zero cap round-trips as uncapped.
	if s.BorrowCap != nil && s.BorrowCap.Sign() > 0 {
		asset.BorrowCap = new(big.Int).Set(s.BorrowCap)
	}
	return asset
}

type storedPool struct {
	Token           common.Address
	TotalCollateral *big.Int
	TotalDebt       *big.Int
	Reserve         *big.Int
	FeesAccrued     *big.Int
	InterestIndex   *big.Int
	UpdatedAt       uint64
}

func newStoredPool(pool *ledger.Pool) *storedPool {
	cloned := pool.Clone()
	stored := &storedPool{
		Token:           cloned.Token,
		TotalCollateral: cloned.TotalCollateral,
		TotalDebt:       cloned.TotalDebt,
		Reserve:         cloned.Reserve,
		FeesAccrued:     cloned.FeesAccrued,
		InterestIndex:   cloned.InterestIndex,
	}
	if pool.UpdatedAt > 0 {
		stored.UpdatedAt = uint64(pool.UpdatedAt)
	}
	return stored
}

func (s *storedPool) toPool() *ledger.Pool {
	return &ledger.Pool{
		Token:           s.Token,
		TotalCollateral: s.TotalCollateral,
		TotalDebt:       s.TotalDebt,
		Reserve:         s.Reserve,
		FeesAccrued:     s.FeesAccrued,
		InterestIndex:   s.InterestIndex,
		UpdatedAt:       int64(s.UpdatedAt),
	}
}

type storedPosition struct {
	User          common.Address
	Token         common.Address
	Collateral    *big.Int
	Principal     *big.Int
	InterestIndex *big.Int
	UpdatedAt     uint64
}

func newStoredPosition(pos *ledger.Position) *storedPosition {
	cloned := pos.Clone()
	stored := &storedPosition{
		User:          cloned.User,
		Token:         cloned.Token,
		Collateral:    cloned.Collateral,
		Principal:     cloned.Principal,
		InterestIndex: cloned.InterestIndex,
	}
	if pos.UpdatedAt > 0 {
		stored.UpdatedAt = uint64(pos.UpdatedAt)
	}
	return stored
}

func (s *storedPosition) toPosition() *ledger.Position {
	return &ledger.Position{
		User:          s.User,
		Token:         s.Token,
		Collateral:    s.Collateral,
		Principal:     s.Principal,
		InterestIndex: s.InterestIndex,
		UpdatedAt:     int64(s.UpdatedAt),
	}
}

type storedParams struct {
	DepositFeeBps  uint64
	PauseDeposit   bool
	PauseWithdraw  bool
	PauseBorrow    bool
	PauseRepay     bool
	PauseLiquidate bool
}

// GetAsset loads a registry entry. Missing entries return (nil, nil).
func (m *Manager) GetAsset(token common.Address) (*ledger.Asset, error) {
	if m == nil || m.db == nil {
		return nil, errNotInitialised
	}
	var stored storedAsset
	ok, err := m.kvGet(assetKey(token), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return stored.toAsset(), nil
}

// PutAsset persists a registry entry and records the token in the asset
// index so listings preserve registration order.
func (m *Manager) PutAsset(asset *ledger.Asset) error {
	if m == nil || m.db == nil {
		return errNotInitialised
	}
	if asset == nil {
		return errNilRecord
	}
	if err := m.kvPut(assetKey(asset.Token), newStoredAsset(asset)); err != nil {
		return err
	}
	return m.appendAssetIndex(asset.Token)
}

func (m *Manager) appendAssetIndex(token common.Address) error {
	var list [][]byte
	if _, err := m.kvGet(assetIndexKey, &list); err != nil {
		return err
	}
	raw := token.Bytes()
	for _, existing := range list {
		if bytes.Equal(existing, raw) {
			return nil
		}
	}
	list = append(list, raw)
	return m.kvPut(assetIndexKey, list)
}

// ListAssets returns every registered asset in registration order.
func (m *Manager) ListAssets() ([]*ledger.Asset, error) {
	if m == nil || m.db == nil {
		return nil, errNotInitialised
	}
	var list [][]byte
	if _, err := m.kvGet(assetIndexKey, &list); err != nil {
		return nil, err
	}
	out := make([]*ledger.Asset, 0, len(list))
	for _, raw := range list {
		asset, err := m.GetAsset(common.BytesToAddress(raw))
		if err != nil {
			return nil, err
		}
		if asset == nil {
			continue
		}
		out = append(out, asset)
	}
	return out, nil
}

// GetPool loads a pool record. Missing records return (nil, nil).
func (m *Manager) GetPool(token common.Address) (*ledger.Pool, error) {
	if m == nil || m.db == nil {
		return nil, errNotInitialised
	}
	var stored storedPool
	ok, err := m.kvGet(poolKey(token), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return stored.toPool(), nil
}

// PutPool persists a pool record.
func (m *Manager) PutPool(pool *ledger.Pool) error {
	if m == nil || m.db == nil {
		return errNotInitialised
	}
	if pool == nil {
		return errNilRecord
	}
	return m.kvPut(poolKey(pool.Token), newStoredPool(pool))
}

// GetPosition loads a user's position in a token. Missing records return
// (nil, nil).
func (m *Manager) GetPosition(user, token common.Address) (*ledger.Position, error) {
	if m == nil || m.db == nil {
		return nil, errNotInitialised
	}
	var stored storedPosition
	ok, err := m.kvGet(positionKey(user, token), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return stored.toPosition(), nil
}

// PutPosition persists a position record.
func (m *Manager) PutPosition(pos *ledger.Position) error {
	if m == nil || m.db == nil {
		return errNotInitialised
	}
	if pos == nil {
		return errNilRecord
	}
	return m.kvPut(positionKey(pos.User, pos.Token), newStoredPosition(pos))
}

// GetParams loads the persisted fee and pause configuration. Missing
// configuration returns (nil, nil).
func (m *Manager) GetParams() (*ledger.Params, error) {
	if m == nil || m.db == nil {
		return nil, errNotInitialised
	}
	var stored storedParams
	ok, err := m.kvGet(paramsKey, &stored)
	if err != nil || !ok {
		return nil, err
	}
	return &ledger.Params{
		DepositFeeBps: stored.DepositFeeBps,
		Pauses: ledger.Pauses{
			Deposit:   stored.PauseDeposit,
			Withdraw:  stored.PauseWithdraw,
			Borrow:    stored.PauseBorrow,
			Repay:     stored.PauseRepay,
			Liquidate: stored.PauseLiquidate,
		},
	}, nil
}

// PutParams persists the fee and pause configuration.
func (m *Manager) PutParams(params *ledger.Params) error {
	if m == nil || m.db == nil {
		return errNotInitialised
	}
	if params == nil {
		return errNilRecord
	}
	return m.kvPut(paramsKey, &storedParams{
		DepositFeeBps:  params.DepositFeeBps,
		PauseDeposit:   params.Pauses.Deposit,
		PauseWithdraw:  params.Pauses.Withdraw,
		PauseBorrow:    params.Pauses.Borrow,
		PauseRepay:     params.Pauses.Repay,
		PauseLiquidate: params.Pauses.Liquidate,
	})
}

// NextSequence increments and returns the mutation counter. The counter is
// persisted so event sequence numbers stay monotonic across restarts.
func (m *Manager) NextSequence() (uint64, error) {
	if m == nil || m.db == nil {
		return 0, errNotInitialised
	}
	var current uint64
	if _, err := m.kvGet(sequenceKey, &current); err != nil {
		return 0, err
	}
	current++
	if err := m.kvPut(sequenceKey, current); err != nil {
		return 0, err
	}
	return current, nil
}

// CurrentSequence reports the last assigned sequence number without
// advancing it.
func (m *Manager) CurrentSequence() (uint64, error) {
	if m == nil || m.db == nil {
		return 0, errNotInitialised
	}
	var current uint64
	if _, err := m.kvGet(sequenceKey, &current); err != nil {
		return 0, err
	}
	return current, nil
}

// PriceSourceOf implements the oracle's source resolver on top of the asset
// registry, so price lookups follow whatever was configured at registration.
func (m *Manager) PriceSourceOf(asset common.Address) (oracle.Source, bool) {
	stored, err := m.GetAsset(asset)
	if err != nil || stored == nil {
		return oracle.Source{}, false
	}
	return stored.Source, true
}
