package config

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"lendledger/ledger"
	"lendledger/oracle"
)

// RiskParams converts the risk section to engine parameters.
func (c *Config) RiskParams() ledger.RiskParams {
	return ledger.RiskParams{
		MaxLTV:               c.Risk.MaxLTV,
		LiquidationThreshold: c.Risk.LiquidationThreshold,
		LiquidationBonus:     c.Risk.LiquidationBonus,
	}
}

// RateModel parses the interest section into the engine's rate curve.
func (c *Config) RateModel() (*ledger.RateModel, error) {
	base, err := parseScaled(c.Interest.BaseRate, "interest: base_rate")
	if err != nil {
		return nil, err
	}
	slope, err := parseScaled(c.Interest.Slope, "interest: slope")
	if err != nil {
		return nil, err
	}
	return &ledger.RateModel{Base: base, Slope: slope}, nil
}

// SeedRegistration is an asset seed resolved to engine types.
type SeedRegistration struct {
	Token     common.Address
	Weight    uint64
	Source    oracle.Source
	BorrowCap *big.Int
}

// Registration resolves the seed entry. The zero address is a legal token:
// it names the native asset.
func (s AssetSeed) Registration() (SeedRegistration, error) {
	token, err := parseAddr(s.Token, "token")
	if err != nil {
		return SeedRegistration{}, err
	}
	if s.Weight == 0 || s.Weight > 100 {
		return SeedRegistration{}, fmt.Errorf("weight must be in (0,100]")
	}
	var source oracle.Source
	switch strings.TrimSpace(s.Source) {
	case "fixed":
		source = oracle.Source{Kind: oracle.SourceFixedUSD}
	case "pairV2", "poolV3":
		pool, err := parseAddr(s.Pool, "pool")
		if err != nil {
			return SeedRegistration{}, err
		}
		quote, err := parseAddr(s.Quote, "quote")
		if err != nil {
			return SeedRegistration{}, err
		}
		kind := oracle.SourcePairV2
		if strings.TrimSpace(s.Source) == "poolV3" {
			kind = oracle.SourcePoolV3
		}
		source = oracle.Source{Kind: kind, Pool: pool, Quote: quote}
	default:
		return SeedRegistration{}, fmt.Errorf("unknown source %q", s.Source)
	}
	reg := SeedRegistration{Token: token, Weight: s.Weight, Source: source}
	if trimmed := strings.TrimSpace(s.BorrowCap); trimmed != "" {
		capValue, ok := new(big.Int).SetString(trimmed, 10)
		if !ok || capValue.Sign() < 0 {
			return SeedRegistration{}, fmt.Errorf("invalid borrow_cap %q", s.BorrowCap)
		}
		if capValue.Sign() > 0 {
			reg.BorrowCap = capValue
		}
	}
	return reg, nil
}

// Snapshot resolves the pair seed to an oracle snapshot.
func (p PairSeed) Snapshot() (common.Address, *oracle.PairState, error) {
	pool, err := parseAddr(p.Pool, "pool")
	if err != nil {
		return common.Address{}, nil, err
	}
	token0, err := parseAddr(p.Token0, "token0")
	if err != nil {
		return common.Address{}, nil, err
	}
	token1, err := parseAddr(p.Token1, "token1")
	if err != nil {
		return common.Address{}, nil, err
	}
	reserve0, err := parseWord(p.Reserve0, "reserve0")
	if err != nil {
		return common.Address{}, nil, err
	}
	reserve1, err := parseWord(p.Reserve1, "reserve1")
	if err != nil {
		return common.Address{}, nil, err
	}
	return pool, &oracle.PairState{
		Token0:   token0,
		Token1:   token1,
		Reserve0: reserve0,
		Reserve1: reserve1,
	}, nil
}

// Snapshot resolves the concentrated-pool seed to an oracle snapshot.
func (p PoolSeed) Snapshot() (common.Address, *oracle.PoolState, error) {
	pool, err := parseAddr(p.Pool, "pool")
	if err != nil {
		return common.Address{}, nil, err
	}
	token0, err := parseAddr(p.Token0, "token0")
	if err != nil {
		return common.Address{}, nil, err
	}
	token1, err := parseAddr(p.Token1, "token1")
	if err != nil {
		return common.Address{}, nil, err
	}
	sqrtPrice, err := parseWord(p.SqrtPriceX96, "sqrt_price_x96")
	if err != nil {
		return common.Address{}, nil, err
	}
	return pool, &oracle.PoolState{
		Token0:       token0,
		Token1:       token1,
		SqrtPriceX96: sqrtPrice,
	}, nil
}

func parseAddr(value, field string) (common.Address, error) {
	trimmed := strings.TrimSpace(value)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("invalid %s address %q", field, value)
	}
	return common.HexToAddress(trimmed), nil
}

func parseWord(value, field string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(value)
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() <= 0 {
		return nil, fmt.Errorf("invalid %s %q", field, value)
	}
	word, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, fmt.Errorf("%s exceeds 256 bits", field)
	}
	return word, nil
}

func parseScaled(value, label string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	parsed, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || parsed.Sign() < 0 {
		return nil, fmt.Errorf("%s must be a non-negative decimal string", label)
	}
	return parsed, nil
}
