package oracle

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrZeroLiquidity is returned when a constant-product pair reports an
	// empty reserve on either side, or a concentrated pool reports a zero
	// square-root price.
	ErrZeroLiquidity = errors.New("oracle: pool has zero liquidity")
	// ErrUnpricedAsset is returned when no price path resolves for an
	// asset: no configured source, a pool that does not contain the
	// expected token pair, or a cycle in chained quotes.
	ErrUnpricedAsset = errors.New("oracle: no price path for asset")

	errNilResolver = errors.New("oracle: source resolver not configured")
	errNilPools    = errors.New("oracle: pool reader not configured")
)

var (
	wad  = big.NewInt(1_000_000_000_000_000_000)
	q192 = new(big.Int).Lsh(big.NewInt(1), 192)
)

// SourceKind enumerates the price-source descriptor variants.
type SourceKind uint8

const (
	// SourceUnset marks an asset without a configured price path.
	SourceUnset SourceKind = iota
	// SourceFixedUSD prices the asset at exactly one dollar.
	SourceFixedUSD
	// SourcePairV2 derives the price from a constant-product pair's
	// reserves.
	SourcePairV2
	// SourcePoolV3 derives the price from a concentrated-liquidity pool's
	// square-root price.
	SourcePoolV3
)

func (k SourceKind) String() string {
	switch k {
	case SourceFixedUSD:
		return "fixed"
	case SourcePairV2:
		return "pairV2"
	case SourcePoolV3:
		return "poolV3"
	default:
		return "unset"
	}
}

// Source describes where an asset's USD price comes from. Pair and pool
// sources reference the external pool plus the quote asset on its other side;
// the quote asset's own source continues the chain until a fixed entry
// terminates it.
type Source struct {
	Kind  SourceKind
	Pool  common.Address
	Quote common.Address
}

// SourceResolver maps an asset to its configured price source. The registry
// snapshot backs this in production; tests supply literal maps.
type SourceResolver interface {
	PriceSourceOf(asset common.Address) (Source, bool)
}

// ResolverFunc adapts a function to the SourceResolver interface.
type ResolverFunc func(asset common.Address) (Source, bool)

// PriceSourceOf implements SourceResolver.
func (f ResolverFunc) PriceSourceOf(asset common.Address) (Source, bool) { return f(asset) }

// Adapter converts price-source descriptors plus live pool state into
// USD-denominated unit prices scaled by 1e18. It holds no mutable state of
// its own; every quote is a pure function of the resolver and reader it was
// built with.
type Adapter struct {
	resolver SourceResolver
	pools    PoolReader
}

// NewAdapter wires a quote adapter to its source resolver and pool reader.
func NewAdapter(resolver SourceResolver, pools PoolReader) *Adapter {
	return &Adapter{resolver: resolver, pools: pools}
}

// QuoteUSD resolves the asset's USD unit price. It satisfies the ledger's
// price oracle contract.
func (a *Adapter) QuoteUSD(asset common.Address) (*big.Int, error) {
	if a == nil || a.resolver == nil {
		return nil, errNilResolver
	}
	return a.quote(asset, make(map[common.Address]bool))
}

func (a *Adapter) quote(asset common.Address, visited map[common.Address]bool) (*big.Int, error) {
	if visited[asset] {
		return nil, fmt.Errorf("%w: quote chain cycles at %s", ErrUnpricedAsset, asset.Hex())
	}
	visited[asset] = true

	source, ok := a.resolver.PriceSourceOf(asset)
	if !ok || source.Kind == SourceUnset {
		return nil, fmt.Errorf("%w: %s", ErrUnpricedAsset, asset.Hex())
	}
	if source.Kind == SourceFixedUSD {
		return new(big.Int).Set(wad), nil
	}
	if a.pools == nil {
		return nil, errNilPools
	}

	var unit *big.Int
	switch source.Kind {
	case SourcePairV2:
		state, err := a.pools.PairState(source.Pool)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnpricedAsset, err)
		}
		unit, err = pairUnitPrice(state, asset, source.Quote)
		if err != nil {
			return nil, err
		}
	case SourcePoolV3:
		state, err := a.pools.PoolState(source.Pool)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnpricedAsset, err)
		}
		unit, err = poolUnitPrice(state, asset, source.Quote)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnpricedAsset, asset.Hex())
	}

	// The unit price is denominated in the quote asset; compose with the
	// quote asset's own USD price. A fixed quote terminates the chain.
	quoteUSD, err := a.quote(source.Quote, visited)
	if err != nil {
		return nil, err
	}
	composed := new(big.Int).Mul(unit, quoteUSD)
	return composed.Quo(composed, wad), nil
}

// pairUnitPrice prices the target in quote units from a constant-product
// pair: quoteReserve * 1e18 / targetReserve, truncating.
func pairUnitPrice(state *PairState, target, quote common.Address) (*big.Int, error) {
	if state == nil {
		return nil, fmt.Errorf("%w: pair state missing", ErrUnpricedAsset)
	}
	var targetReserve, quoteReserve *big.Int
	switch {
	case state.Token0 == target && state.Token1 == quote:
		targetReserve, quoteReserve = state.Reserve0.ToBig(), state.Reserve1.ToBig()
	case state.Token1 == target && state.Token0 == quote:
		targetReserve, quoteReserve = state.Reserve1.ToBig(), state.Reserve0.ToBig()
	default:
		return nil, fmt.Errorf("%w: pair %s does not hold %s/%s", ErrUnpricedAsset, state.Token0.Hex(), target.Hex(), quote.Hex())
	}
	if targetReserve.Sign() == 0 || quoteReserve.Sign() == 0 {
		return nil, ErrZeroLiquidity
	}
	price := new(big.Int).Mul(quoteReserve, wad)
	return price.Quo(price, targetReserve), nil
}

// poolUnitPrice prices the target in quote units from a concentrated pool's
// square-root price. The pool's own token ordering picks the direction:
// squaring sqrtPriceX96 yields token1 per token0 in X192, so a target sitting
// at token0 multiplies while a target at token1 divides. Getting this wrong
// silently inverts the price.
func poolUnitPrice(state *PoolState, target, quote common.Address) (*big.Int, error) {
	if state == nil {
		return nil, fmt.Errorf("%w: pool state missing", ErrUnpricedAsset)
	}
	sqrtPrice := state.SqrtPriceX96.ToBig()
	if sqrtPrice.Sign() == 0 {
		return nil, ErrZeroLiquidity
	}
	ratio := new(big.Int).Mul(sqrtPrice, sqrtPrice)
	switch {
	case state.Token0 == target && state.Token1 == quote:
		price := new(big.Int).Mul(ratio, wad)
		return price.Rsh(price, 192), nil
	case state.Token1 == target && state.Token0 == quote:
		price := new(big.Int).Mul(wad, q192)
		return price.Quo(price, ratio), nil
	default:
		return nil, fmt.Errorf("%w: pool %s does not hold %s/%s", ErrUnpricedAsset, state.Token0.Hex(), target.Hex(), quote.Hex())
	}
}
