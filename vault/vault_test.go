package vault

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"lendledger/storage"
)

func testAddr(suffix byte) common.Address {
	var a common.Address
	a[common.AddressLength-1] = suffix
	return a
}

var custodyAddr = testAddr(0xFF)

func newTestVault() *Vault {
	return NewVault(storage.NewMemDB(), custodyAddr)
}

func TestFundAndTransferRoundTrip(t *testing.T) {
	v := newTestVault()
	user := testAddr(0x01)
	asset := testAddr(0xA1)

	if err := v.Fund(user, asset, big.NewInt(1000)); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if err := v.TransferIn(user, asset, big.NewInt(400)); err != nil {
		t.Fatalf("transfer in: %v", err)
	}

	balance, err := v.BalanceOf(user, asset)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("unexpected user balance: %s", balance)
	}
	held, err := v.BalanceOf(custodyAddr, asset)
	if err != nil {
		t.Fatalf("custody balance: %v", err)
	}
	if held.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("unexpected custody balance: %s", held)
	}

	if err := v.TransferOut(user, asset, big.NewInt(150)); err != nil {
		t.Fatalf("transfer out: %v", err)
	}
	balance, _ = v.BalanceOf(user, asset)
	held, _ = v.BalanceOf(custodyAddr, asset)
	if balance.Cmp(big.NewInt(750)) != 0 || held.Cmp(big.NewInt(250)) != 0 {
		t.Fatalf("unexpected balances after payout: user %s custody %s", balance, held)
	}
}

func TestTransfersRequireFunds(t *testing.T) {
	v := newTestVault()
	user := testAddr(0x01)
	asset := testAddr(0xA1)

	if err := v.TransferIn(user, asset, big.NewInt(1)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if err := v.TransferOut(user, asset, big.NewInt(1)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient custody funds, got %v", err)
	}

	if err := v.Fund(user, asset, big.NewInt(10)); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if err := v.TransferIn(user, asset, big.NewInt(11)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if err := v.TransferIn(user, asset, big.NewInt(10)); err != nil {
		t.Fatalf("transfer full balance: %v", err)
	}
}

func TestBalancesIsolatedPerAsset(t *testing.T) {
	v := newTestVault()
	user := testAddr(0x01)
	assetA := testAddr(0xA1)
	assetB := testAddr(0xB2)

	if err := v.Fund(user, assetA, big.NewInt(100)); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if balance, _ := v.BalanceOf(user, assetB); balance.Sign() != 0 {
		t.Fatalf("asset B should be empty, got %s", balance)
	}
	if err := v.TransferIn(user, assetB, big.NewInt(1)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds on other asset, got %v", err)
	}
}

func TestAmountValidation(t *testing.T) {
	v := newTestVault()
	user := testAddr(0x01)
	asset := testAddr(0xA1)

	if err := v.Fund(user, asset, nil); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("nil amount: got %v", err)
	}
	if err := v.Fund(user, asset, big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero fund: got %v", err)
	}
	if err := v.Fund(user, asset, big.NewInt(-4)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("negative amount: got %v", err)
	}
	tooBig := new(big.Int).Lsh(big.NewInt(1), 256)
	if err := v.Fund(user, asset, tooBig); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("overflowing amount: got %v", err)
	}
}

func TestBalancesPersistAcrossInstances(t *testing.T) {
	db := storage.NewMemDB()
	user := testAddr(0x01)
	asset := testAddr(0xA1)

	first := NewVault(db, custodyAddr)
	if err := first.Fund(user, asset, big.NewInt(77)); err != nil {
		t.Fatalf("fund: %v", err)
	}

	second := NewVault(db, custodyAddr)
	balance, err := second.BalanceOf(user, asset)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(77)) != 0 {
		t.Fatalf("unexpected balance: %s", balance)
	}
}
