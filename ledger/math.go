package ledger

import "math/big"

var (
	// wad is the fixed-point unit: all amounts, prices and indexes carry
	// 18 fractional digits.
	wad         = big.NewInt(1_000_000_000_000_000_000)
	basisPoints = big.NewInt(10_000)
	hundred     = big.NewInt(100)
)

const (
	secondsPerYear = 31_536_000
	// defaultBucketSeconds quantizes accrual timestamps into five-minute
	// buckets.
	defaultBucketSeconds int64 = 300
)

// mulDiv computes floor(a * b / den). Multiplication precedes division so a
// single truncation happens at the end; reordering would change rounding.
func mulDiv(a, b, den *big.Int) *big.Int {
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, den)
}

// wadMul computes floor(a * b / 1e18).
func wadMul(a, b *big.Int) *big.Int {
	return mulDiv(a, b, wad)
}

// wadDiv computes floor(a * 1e18 / b).
func wadDiv(a, b *big.Int) *big.Int {
	return mulDiv(a, wad, b)
}

// bucketTime floors a unix timestamp to its bucket boundary.
func bucketTime(ts, width int64) int64 {
	if width <= 0 {
		width = defaultBucketSeconds
	}
	return ts - ts%width
}

func bigFromUint(v uint64) *big.Int {
	return new(big.Int).SetUint64(v)
}
