package config

import "time"

// Scheduler and maintenance defaults.
const (
	DefaultIdleInterval       = 10 * time.Second
	DefaultActiveInterval     = 1 * time.Second
	DefaultErrorBackoff       = 30 * time.Second
	DefaultSweepInterval      = 10 * time.Minute
	DefaultCheckpointInterval = 5 * time.Minute
)

// DefaultMainnet returns the default node configuration for mainnet.
func DefaultMainnet() *Config {
	return &Config{
		Network: Mainnet,
		DataDir: DefaultDataDir(),
		RPC: RPCConfig{
			Enabled:    true,
			Addr:       "127.0.0.1",
			Port:       8555,
			AllowedIPs: []string{"127.0.0.1"},
		},
		Staking: StakingConfig{
			Enabled:        false,
			Accounts:       1,
			IdleInterval:   DefaultIdleInterval,
			ActiveInterval: DefaultActiveInterval,
			ErrorBackoff:   DefaultErrorBackoff,
		},
		Maintenance: MaintenanceConfig{
			SweepInterval:      DefaultSweepInterval,
			CheckpointInterval: DefaultCheckpointInterval,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9555",
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}

// DefaultTestnet returns the default node configuration for testnet.
func DefaultTestnet() *Config {
	cfg := DefaultMainnet()
	cfg.Network = Testnet
	cfg.RPC.Port = 8655
	cfg.Metrics.Addr = "127.0.0.1:9655"
	return cfg
}

// Default returns the default node configuration for the given network.
func Default(network NetworkType) *Config {
	switch network {
	case Testnet:
		return DefaultTestnet()
	default:
		return DefaultMainnet()
	}
}
