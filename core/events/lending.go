package events

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"lendledger/core/types"
)

const (
	// TypeAssetRegistered marks a new asset entering the registry.
	TypeAssetRegistered = "lending.assetRegistered"
	// TypeAssetUpdated marks an administrative change to an asset's active flag.
	TypeAssetUpdated = "lending.assetUpdated"
	// TypeDeposited is emitted when collateral is credited to a position.
	TypeDeposited = "lending.deposited"
	// TypeWithdrawn is emitted when collateral leaves a position.
	TypeWithdrawn = "lending.withdrawn"
	// TypeBorrowed is emitted when debt is drawn against collateral.
	TypeBorrowed = "lending.borrowed"
	// TypeRepaid is emitted when debt principal is paid down.
	TypeRepaid = "lending.repaid"
	// TypeLiquidated is emitted when a third party repays an unhealthy
	// position and seizes collateral.
	TypeLiquidated = "lending.liquidated"
	// TypeFeesWithdrawn marks an administrative fee payout.
	TypeFeesWithdrawn = "lending.feesWithdrawn"
	// TypeReserveWithdrawn marks an administrative excess-reserve payout.
	TypeReserveWithdrawn = "lending.reserveWithdrawn"
	// TypeParamsUpdated marks a change to fees or action pauses.
	TypeParamsUpdated = "lending.paramsUpdated"
)

func formatAmount(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}

// AssetRegistered records a registry entry creation alongside its seeded
// interest state.
type AssetRegistered struct {
	Sequence uint64
	Asset    common.Address
	Weight   uint64
	Source   string
}

func (AssetRegistered) EventType() string { return TypeAssetRegistered }

func (e AssetRegistered) Event() *types.Event {
	attrs := map[string]string{
		"asset":  e.Asset.Hex(),
		"weight": strconv.FormatUint(e.Weight, 10),
	}
	if e.Source != "" {
		attrs["source"] = e.Source
	}
	return &types.Event{Sequence: e.Sequence, Type: TypeAssetRegistered, Attributes: attrs}
}

// AssetUpdated records an active-flag toggle.
type AssetUpdated struct {
	Sequence uint64
	Asset    common.Address
	Active   bool
}

func (AssetUpdated) EventType() string { return TypeAssetUpdated }

func (e AssetUpdated) Event() *types.Event {
	return &types.Event{Sequence: e.Sequence, Type: TypeAssetUpdated, Attributes: map[string]string{
		"asset":  e.Asset.Hex(),
		"active": strconv.FormatBool(e.Active),
	}}
}

// Deposited records a gross deposit. Fee is the slice routed to the fee
// pot before the position was credited.
type Deposited struct {
	Sequence uint64
	User     common.Address
	Asset    common.Address
	Amount   *big.Int
	Fee      *big.Int
}

func (Deposited) EventType() string { return TypeDeposited }

func (e Deposited) Event() *types.Event {
	attrs := map[string]string{
		"user":   e.User.Hex(),
		"asset":  e.Asset.Hex(),
		"amount": formatAmount(e.Amount),
	}
	if e.Fee != nil && e.Fee.Sign() > 0 {
		attrs["fee"] = e.Fee.String()
	}
	return &types.Event{Sequence: e.Sequence, Type: TypeDeposited, Attributes: attrs}
}

// Withdrawn records a collateral debit.
type Withdrawn struct {
	Sequence uint64
	User     common.Address
	Asset    common.Address
	Amount   *big.Int
}

func (Withdrawn) EventType() string { return TypeWithdrawn }

func (e Withdrawn) Event() *types.Event {
	return &types.Event{Sequence: e.Sequence, Type: TypeWithdrawn, Attributes: map[string]string{
		"user":   e.User.Hex(),
		"asset":  e.Asset.Hex(),
		"amount": formatAmount(e.Amount),
	}}
}

// Borrowed records a draw against the reserve.
type Borrowed struct {
	Sequence uint64
	User     common.Address
	Asset    common.Address
	Amount   *big.Int
}

func (Borrowed) EventType() string { return TypeBorrowed }

func (e Borrowed) Event() *types.Event {
	return &types.Event{Sequence: e.Sequence, Type: TypeBorrowed, Attributes: map[string]string{
		"user":   e.User.Hex(),
		"asset":  e.Asset.Hex(),
		"amount": formatAmount(e.Amount),
	}}
}

// Repaid records a principal paydown.
type Repaid struct {
	Sequence uint64
	User     common.Address
	Asset    common.Address
	Amount   *big.Int
}

func (Repaid) EventType() string { return TypeRepaid }

func (e Repaid) Event() *types.Event {
	return &types.Event{Sequence: e.Sequence, Type: TypeRepaid, Attributes: map[string]string{
		"user":   e.User.Hex(),
		"asset":  e.Asset.Hex(),
		"amount": formatAmount(e.Amount),
	}}
}

// Liquidated records a third-party repayment and the collateral seized for
// it. Seized may be below the bonus-implied quantity when the position's
// collateral ran out.
type Liquidated struct {
	Sequence        uint64
	Liquidator      common.Address
	User            common.Address
	DebtAsset       common.Address
	DebtAmount      *big.Int
	CollateralAsset common.Address
	Seized          *big.Int
}

func (Liquidated) EventType() string { return TypeLiquidated }

func (e Liquidated) Event() *types.Event {
	return &types.Event{Sequence: e.Sequence, Type: TypeLiquidated, Attributes: map[string]string{
		"liquidator":      e.Liquidator.Hex(),
		"user":            e.User.Hex(),
		"debtAsset":       e.DebtAsset.Hex(),
		"debtAmount":      formatAmount(e.DebtAmount),
		"collateralAsset": e.CollateralAsset.Hex(),
		"seized":          formatAmount(e.Seized),
	}}
}

// FeesWithdrawn records an administrative payout of the accrued fee pot.
type FeesWithdrawn struct {
	Sequence uint64
	Asset    common.Address
	To       common.Address
	Amount   *big.Int
}

func (FeesWithdrawn) EventType() string { return TypeFeesWithdrawn }

func (e FeesWithdrawn) Event() *types.Event {
	return &types.Event{Sequence: e.Sequence, Type: TypeFeesWithdrawn, Attributes: map[string]string{
		"asset":  e.Asset.Hex(),
		"to":     e.To.Hex(),
		"amount": formatAmount(e.Amount),
	}}
}

// ReserveWithdrawn records an administrative draw of excess reserve.
type ReserveWithdrawn struct {
	Sequence uint64
	Asset    common.Address
	To       common.Address
	Amount   *big.Int
}

func (ReserveWithdrawn) EventType() string { return TypeReserveWithdrawn }

func (e ReserveWithdrawn) Event() *types.Event {
	return &types.Event{Sequence: e.Sequence, Type: TypeReserveWithdrawn, Attributes: map[string]string{
		"asset":  e.Asset.Hex(),
		"to":     e.To.Hex(),
		"amount": formatAmount(e.Amount),
	}}
}

// ParamsUpdated records a fee or pause configuration change.
type ParamsUpdated struct {
	Sequence      uint64
	DepositFeeBps uint64
	Pauses        string
}

func (ParamsUpdated) EventType() string { return TypeParamsUpdated }

func (e ParamsUpdated) Event() *types.Event {
	attrs := map[string]string{
		"depositFeeBps": strconv.FormatUint(e.DepositFeeBps, 10),
	}
	if e.Pauses != "" {
		attrs["pauses"] = e.Pauses
	}
	return &types.Event{Sequence: e.Sequence, Type: TypeParamsUpdated, Attributes: attrs}
}
