package config

import (
	"fmt"
	"strings"
)

// Validate checks cross-field consistency after defaults have been applied.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil configuration")
	}
	switch cfg.Storage.Backend {
	case "memory", "leveldb", "bolt":
	default:
		return fmt.Errorf("storage: unknown backend %q", cfg.Storage.Backend)
	}
	if cfg.Storage.Backend != "memory" && strings.TrimSpace(cfg.Storage.Path) == "" {
		return fmt.Errorf("storage: path required for %s backend", cfg.Storage.Backend)
	}
	if cfg.Risk.MaxLTV == 0 || cfg.Risk.MaxLTV > 100 {
		return fmt.Errorf("risk: max_ltv must be in (0,100]")
	}
	if cfg.Risk.LiquidationThreshold == 0 || cfg.Risk.LiquidationThreshold > 100 {
		return fmt.Errorf("risk: liquidation_threshold must be in (0,100]")
	}
	if cfg.Risk.MaxLTV > cfg.Risk.LiquidationThreshold {
		return fmt.Errorf("risk: max_ltv above liquidation_threshold")
	}
	if cfg.Risk.LiquidationBonus < 100 {
		return fmt.Errorf("risk: liquidation_bonus below 100")
	}
	if cfg.Interest.BucketSeconds <= 0 {
		return fmt.Errorf("interest: bucket_seconds must be positive")
	}
	if _, err := cfg.RateModel(); err != nil {
		return err
	}
	if cfg.Audit.Enabled && strings.TrimSpace(cfg.Audit.DSN) == "" {
		return fmt.Errorf("audit: dsn required when enabled")
	}
	for i, seed := range cfg.Assets {
		if _, err := seed.Registration(); err != nil {
			return fmt.Errorf("assets[%d]: %w", i, err)
		}
	}
	for i, seed := range cfg.Pairs {
		if _, _, err := seed.Snapshot(); err != nil {
			return fmt.Errorf("pairs[%d]: %w", i, err)
		}
	}
	for i, seed := range cfg.Pools {
		if _, _, err := seed.Snapshot(); err != nil {
			return fmt.Errorf("pools[%d]: %w", i, err)
		}
	}
	return nil
}
