package config

import (
	"fmt"
	"time"
)

// Validate checks runtime node config for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Network != Mainnet && cfg.Network != Testnet {
		return fmt.Errorf("network must be %q or %q", Mainnet, Testnet)
	}
	if cfg.RPC.Port < 0 || cfg.RPC.Port > 65535 {
		return fmt.Errorf("rpc.port must be in range [0, 65535]")
	}
	if cfg.Staking.Accounts < 1 {
		return fmt.Errorf("staking.accounts must be at least 1")
	}

	intervals := []struct {
		name string
		d    time.Duration
	}{
		{"staking.idle", cfg.Staking.IdleInterval},
		{"staking.active", cfg.Staking.ActiveInterval},
		{"staking.backoff", cfg.Staking.ErrorBackoff},
		{"maintenance.sweep", cfg.Maintenance.SweepInterval},
		{"maintenance.checkpoint", cfg.Maintenance.CheckpointInterval},
	}
	for _, iv := range intervals {
		if iv.d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", iv.name, iv.d)
		}
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
	}
	return nil
}
