package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config captures runtime configuration for lendledgerd.
type Config struct {
	RPC      RPCConfig      `toml:"rpc"`
	Storage  StorageConfig  `toml:"storage"`
	Risk     RiskConfig     `toml:"risk"`
	Interest InterestConfig `toml:"interest"`
	Audit    AuditConfig    `toml:"audit"`
	Log      LogConfig      `toml:"log"`
	Otel     OtelConfig     `toml:"otel"`
	Assets   []AssetSeed    `toml:"assets"`
	Pairs    []PairSeed     `toml:"pairs"`
	Pools    []PoolSeed     `toml:"pools"`
}

// RPCConfig tunes the JSON-RPC listener.
type RPCConfig struct {
	ListenAddress     string  `toml:"listen_address"`
	RequestsPerMinute float64 `toml:"requests_per_minute"`
	Burst             int     `toml:"burst"`
}

// StorageConfig selects the key-value backend behind ledger state and vault
// balances.
type StorageConfig struct {
	Backend string `toml:"backend"`
	Path    string `toml:"path"`
}

// RiskConfig carries the collateral limits as integer percents.
type RiskConfig struct {
	MaxLTV               uint64 `toml:"max_ltv"`
	LiquidationThreshold uint64 `toml:"liquidation_threshold"`
	LiquidationBonus     uint64 `toml:"liquidation_bonus"`
}

// InterestConfig parameterises the borrow rate curve. Rates are 1e18-scaled
// decimal strings.
type InterestConfig struct {
	BaseRate      string `toml:"base_rate"`
	Slope         string `toml:"slope"`
	BucketSeconds int64  `toml:"bucket_seconds"`
}

// AuditConfig wires the SQL event sink.
type AuditConfig struct {
	Enabled bool   `toml:"enabled"`
	Driver  string `toml:"driver"`
	DSN     string `toml:"dsn"`
}

// LogConfig routes structured logs, optionally through a rotated file.
type LogConfig struct {
	Environment string `toml:"environment"`
	File        string `toml:"file"`
	MaxSizeMB   int    `toml:"max_size_mb"`
	MaxBackups  int    `toml:"max_backups"`
	MaxAgeDays  int    `toml:"max_age_days"`
	Compress    bool   `toml:"compress"`
}

// OtelConfig enables the OTLP trace and metric exporters.
type OtelConfig struct {
	Enabled  bool   `toml:"enabled"`
	Endpoint string `toml:"endpoint"`
	Insecure bool   `toml:"insecure"`
}

// AssetSeed registers a collateral asset at startup. Registration is
// idempotent: seeds already present in state are skipped.
type AssetSeed struct {
	Token     string `toml:"token"`
	Weight    uint64 `toml:"weight"`
	Source    string `toml:"source"`
	Pool      string `toml:"pool"`
	Quote     string `toml:"quote"`
	BorrowCap string `toml:"borrow_cap"`
}

// PairSeed primes the oracle with a constant-product pair snapshot.
type PairSeed struct {
	Pool     string `toml:"pool"`
	Token0   string `toml:"token0"`
	Token1   string `toml:"token1"`
	Reserve0 string `toml:"reserve0"`
	Reserve1 string `toml:"reserve1"`
}

// PoolSeed primes the oracle with a concentrated-pool snapshot.
type PoolSeed struct {
	Pool         string `toml:"pool"`
	Token0       string `toml:"token0"`
	Token1       string `toml:"token1"`
	SqrtPriceX96 string `toml:"sqrt_price_x96"`
}

// Load reads the configuration at path, writing a commented default file
// first when none exists. Unknown keys are rejected so typos fail loudly at
// startup instead of silently running with defaults.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := createDefault(path); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}

	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPC.ListenAddress) == "" {
		cfg.RPC.ListenAddress = ":8080"
	}
	if strings.TrimSpace(cfg.Storage.Backend) == "" {
		cfg.Storage.Backend = "leveldb"
	}
	if strings.TrimSpace(cfg.Storage.Path) == "" && cfg.Storage.Backend != "memory" {
		cfg.Storage.Path = "./lendledger-data"
	}
	if cfg.Risk.MaxLTV == 0 {
		cfg.Risk.MaxLTV = 80
	}
	if cfg.Risk.LiquidationThreshold == 0 {
		cfg.Risk.LiquidationThreshold = 85
	}
	if cfg.Risk.LiquidationBonus == 0 {
		cfg.Risk.LiquidationBonus = 105
	}
	if strings.TrimSpace(cfg.Interest.BaseRate) == "" {
		cfg.Interest.BaseRate = "20000000000000000"
	}
	if strings.TrimSpace(cfg.Interest.Slope) == "" {
		cfg.Interest.Slope = "150000000000000000"
	}
	if cfg.Interest.BucketSeconds == 0 {
		cfg.Interest.BucketSeconds = 300
	}
	if strings.TrimSpace(cfg.Audit.Driver) == "" {
		cfg.Audit.Driver = "sqlite"
	}
	if strings.TrimSpace(cfg.Log.Environment) == "" {
		cfg.Log.Environment = "production"
	}
	if strings.TrimSpace(cfg.Otel.Endpoint) == "" {
		cfg.Otel.Endpoint = "localhost:4318"
	}
}

// createDefault writes the commented starter configuration.
func createDefault(path string) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, []byte(defaultConfigTemplate), 0o644)
}

const defaultConfigTemplate = `# lendledgerd configuration.
# Commented values show the built-in defaults.

[rpc]
# Address the JSON-RPC server binds to.
listen_address = ":8080"
# Per-source request budget. Set negative to disable throttling.
# requests_per_minute = 600.0
# burst = 30

[storage]
# One of: memory, leveldb, bolt.
backend = "leveldb"
path = "./lendledger-data"

[risk]
# Integer percents. A borrow may pledge up to max_ltv of weighted
# collateral value; crossing liquidation_threshold opens the position to
# liquidation at the liquidation_bonus premium.
max_ltv = 80
liquidation_threshold = 85
liquidation_bonus = 105

[interest]
# 1e18-scaled annual rates: rate = base_rate + slope * utilization.
base_rate = "20000000000000000"
slope = "150000000000000000"
bucket_seconds = 300

[audit]
# Persist every ledger event to SQL when enabled.
enabled = false
driver = "sqlite"
# dsn = "file:lendledger-audit.db"

[log]
environment = "production"
# file = "/var/log/lendledger/lendledgerd.log"
# max_size_mb = 100
# max_backups = 10
# max_age_days = 30
# compress = true

[otel]
enabled = false
endpoint = "localhost:4318"
insecure = true

# Seed assets registered on first boot, for example:
# [[assets]]
# token = "0x0000000000000000000000000000000000000000"
# weight = 80
# source = "fixed"

# [[pairs]]
# pool = "0x..."
# token0 = "0x..."
# token1 = "0x..."
# reserve0 = "1000000"
# reserve1 = "2000000"

# [[pools]]
# pool = "0x..."
# token0 = "0x..."
# token1 = "0x..."
# sqrt_price_x96 = "79228162514264337593543950336"
`
