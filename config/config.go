// Package config handles application configuration.
//
// Configuration is split into two categories:
//   - Protocol rules: defined in genesis, must match across all nodes
//     (governance may later change the staking parameters on-chain)
//   - Node settings: runtime configuration, can vary per node
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// NetworkType identifies mainnet or testnet.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet"
)

// =============================================================================
// Node Configuration (runtime, per-node settings)
// =============================================================================

// Config holds node-specific runtime configuration.
// These settings can vary between nodes without breaking consensus.
type Config struct {
	// Core
	Network     NetworkType `conf:"network"`
	DataDir     string      `conf:"datadir"`
	GenesisFile string      `conf:"genesis"` // Empty = built-in genesis for Network

	// RPC server
	RPC RPCConfig

	// Staking (operational, not consensus rules)
	Staking StakingConfig

	// Background maintenance
	Maintenance MaintenanceConfig

	// Prometheus metrics endpoint
	Metrics MetricsConfig

	// Logging
	Log LogConfig
}

// RPCConfig holds RPC server settings.
type RPCConfig struct {
	Enabled     bool     `conf:"rpc.enabled"`
	Addr        string   `conf:"rpc.addr"`
	Port        int      `conf:"rpc.port"`
	AllowedIPs  []string `conf:"rpc.allowed"`
	CORSOrigins []string `conf:"rpc.cors"` // Allowed CORS origins ("*" = all).
}

// StakingConfig holds block production settings for this node.
// Whether to stake is a node choice; HOW stakes are validated is protocol.
type StakingConfig struct {
	Enabled  bool   `conf:"staking.enabled"`
	KeyFile  string `conf:"staking.keyfile"`  // Encrypted seed file (see wallet.Keyfile)
	Accounts int    `conf:"staking.accounts"` // Number of derived staking addresses

	IdleInterval   time.Duration `conf:"staking.idle"`    // Sleep when disabled or no candidate
	ActiveInterval time.Duration `conf:"staking.active"`  // Sleep after a submitted block
	ErrorBackoff   time.Duration `conf:"staking.backoff"` // Sleep after a failed iteration
}

// MaintenanceConfig holds periodic housekeeping intervals.
type MaintenanceConfig struct {
	SweepInterval      time.Duration `conf:"maintenance.sweep"`      // Expired bans and boosts
	CheckpointInterval time.Duration `conf:"maintenance.checkpoint"` // Staking state rewrite

	// ResetCheckpoint drops the stored staking checkpoint at startup so
	// state is rebuilt from genesis. Command line only.
	ResetCheckpoint bool
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `conf:"metrics.enabled"`
	Addr    string `conf:"metrics.addr"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// =============================================================================
// Directory helpers
// =============================================================================

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.klingnet-pos
//	macOS:   ~/Library/Application Support/KlingnetPoS
//	Windows: %APPDATA%\KlingnetPoS
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".klingnet-pos"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "KlingnetPoS")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "KlingnetPoS")
		}
		return filepath.Join(home, "AppData", "Roaming", "KlingnetPoS")
	default:
		return filepath.Join(home, ".klingnet-pos")
	}
}

// ChainDataDir returns the chain-specific data directory.
func (c *Config) ChainDataDir() string {
	return filepath.Join(c.DataDir, string(c.Network))
}

// DBDir returns the badger database directory (headers and staking state).
func (c *Config) DBDir() string {
	return filepath.Join(c.ChainDataDir(), "db")
}

// KeystoreDir returns the keystore directory.
func (c *Config) KeystoreDir() string {
	return filepath.Join(c.ChainDataDir(), "keystore")
}

// KeyFilePath returns the staking key file path, resolving relative names
// against the keystore directory.
func (c *Config) KeyFilePath() string {
	if c.Staking.KeyFile == "" {
		return filepath.Join(c.KeystoreDir(), "staking.key")
	}
	if filepath.IsAbs(c.Staking.KeyFile) {
		return c.Staking.KeyFile
	}
	return filepath.Join(c.KeystoreDir(), c.Staking.KeyFile)
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "klingnet-pos.conf")
}
