package vault

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"lendledger/storage"
)

var (
	errNotInitialised = errors.New("vault: store not configured")
	// ErrInsufficientFunds means the holder's balance cannot cover the
	// transfer.
	ErrInsufficientFunds = errors.New("vault: insufficient funds")
	// ErrInvalidAmount rejects nil, negative and overflowing amounts.
	ErrInvalidAmount = errors.New("vault: amount must be a non-negative 256-bit integer")
)

// ModuleAddress is the default custody account, derived from a fixed tag so
// every deployment books pooled funds under the same address.
var ModuleAddress = common.BytesToAddress([]byte("lendledger/custody"))

var balancePrefix = []byte("vault/balance/")

func balanceKey(holder, asset common.Address) []byte {
	key := make([]byte, 0, len(balancePrefix)+2*common.AddressLength)
	key = append(key, balancePrefix...)
	key = append(key, holder.Bytes()...)
	return append(key, asset.Bytes()...)
}

// Vault is the custody balance book. Every unit the ledger holds is booked
// against the custody address; user balances fund deposits and receive
// loans, withdrawals and seized collateral.
type Vault struct {
	mu      sync.Mutex
	db      storage.Database
	custody common.Address
}

// NewVault wraps the database, booking ledger custody under the supplied
// address.
func NewVault(db storage.Database, custody common.Address) *Vault {
	return &Vault{db: db, custody: custody}
}

// Custody reports the ledger's custody address.
func (v *Vault) Custody() common.Address {
	if v == nil {
		return common.Address{}
	}
	return v.custody
}

func toUint256(amount *big.Int) (*uint256.Int, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	value, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, ErrInvalidAmount
	}
	return value, nil
}

func (v *Vault) loadBalance(holder, asset common.Address) (*uint256.Int, error) {
	raw, err := v.db.Get(balanceKey(holder, asset))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return new(uint256.Int), nil
	}
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).SetBytes(raw), nil
}

func (v *Vault) storeBalance(holder, asset common.Address, balance *uint256.Int) error {
	return v.db.Put(balanceKey(holder, asset), balance.Bytes())
}

func (v *Vault) move(from, to, asset common.Address, amount *big.Int) error {
	if v == nil || v.db == nil {
		return errNotInitialised
	}
	value, err := toUint256(amount)
	if err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	source, err := v.loadBalance(from, asset)
	if err != nil {
		return err
	}
	if source.Lt(value) {
		return ErrInsufficientFunds
	}
	// Self-transfers only need the funds check.
	if from == to {
		return nil
	}
	dest, err := v.loadBalance(to, asset)
	if err != nil {
		return err
	}
	sum, carry := new(uint256.Int).AddOverflow(dest, value)
	if carry {
		return fmt.Errorf("vault: balance overflow")
	}
	if err := v.storeBalance(from, asset, new(uint256.Int).Sub(source, value)); err != nil {
		return err
	}
	return v.storeBalance(to, asset, sum)
}

// TransferIn pulls amount of asset from the user into ledger custody.
func (v *Vault) TransferIn(user, asset common.Address, amount *big.Int) error {
	return v.move(user, v.custody, asset, amount)
}

// TransferOut pays amount of asset out of ledger custody to the user.
func (v *Vault) TransferOut(user, asset common.Address, amount *big.Int) error {
	return v.move(v.custody, user, asset, amount)
}

// Fund credits freshly issued units of asset to the holder. Nothing is
// debited: this is the administrative on-ramp.
func (v *Vault) Fund(holder, asset common.Address, amount *big.Int) error {
	if v == nil || v.db == nil {
		return errNotInitialised
	}
	value, err := toUint256(amount)
	if err != nil {
		return err
	}
	if value.IsZero() {
		return ErrInvalidAmount
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	balance, err := v.loadBalance(holder, asset)
	if err != nil {
		return err
	}
	sum, carry := new(uint256.Int).AddOverflow(balance, value)
	if carry {
		return fmt.Errorf("vault: balance overflow")
	}
	return v.storeBalance(holder, asset, sum)
}

// BalanceOf reports the holder's balance of asset.
func (v *Vault) BalanceOf(holder, asset common.Address) (*big.Int, error) {
	if v == nil || v.db == nil {
		return nil, errNotInitialised
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	balance, err := v.loadBalance(holder, asset)
	if err != nil {
		return nil, err
	}
	return balance.ToBig(), nil
}
