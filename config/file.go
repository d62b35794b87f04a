package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// LoadFile loads node configuration from a .conf file.
// Format: key = value (one per line, # for comments)
func LoadFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("line %d: invalid format (expected key = value)", lineNum)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Remove quotes if present
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}

		values[key] = value
	}

	return values, scanner.Err()
}

// ApplyFileConfig applies file configuration to a Config struct.
func ApplyFileConfig(cfg *Config, values map[string]string) error {
	for key, value := range values {
		if err := setConfigValue(cfg, key, value); err != nil {
			return fmt.Errorf("config key %q: %w", key, err)
		}
	}
	return nil
}

// setConfigValue sets a node config value by key.
// Only node-operational settings, NOT protocol rules.
func setConfigValue(cfg *Config, key, value string) error {
	var err error
	switch key {
	// Core
	case "network":
		cfg.Network = NetworkType(value)
	case "datadir":
		cfg.DataDir = value
	case "genesis":
		cfg.GenesisFile = value

	// RPC
	case "rpc.enabled", "rpc":
		cfg.RPC.Enabled = parseBool(value)
	case "rpc.addr":
		cfg.RPC.Addr = value
	case "rpc.port":
		cfg.RPC.Port, err = strconv.Atoi(value)
	case "rpc.allowed":
		cfg.RPC.AllowedIPs = parseStringList(value)
	case "rpc.cors":
		cfg.RPC.CORSOrigins = parseStringList(value)

	// Staking (operational)
	case "staking.enabled", "stake":
		cfg.Staking.Enabled = parseBool(value)
	case "staking.keyfile":
		cfg.Staking.KeyFile = value
	case "staking.accounts":
		cfg.Staking.Accounts, err = strconv.Atoi(value)
	case "staking.idle":
		cfg.Staking.IdleInterval, err = time.ParseDuration(value)
	case "staking.active":
		cfg.Staking.ActiveInterval, err = time.ParseDuration(value)
	case "staking.backoff":
		cfg.Staking.ErrorBackoff, err = time.ParseDuration(value)

	// Maintenance
	case "maintenance.sweep":
		cfg.Maintenance.SweepInterval, err = time.ParseDuration(value)
	case "maintenance.checkpoint":
		cfg.Maintenance.CheckpointInterval, err = time.ParseDuration(value)

	// Metrics
	case "metrics.enabled", "metrics":
		cfg.Metrics.Enabled = parseBool(value)
	case "metrics.addr":
		cfg.Metrics.Addr = value

	// Logging
	case "log.level":
		cfg.Log.Level = value
	case "log.file":
		cfg.Log.File = value
	case "log.json":
		cfg.Log.JSON = parseBool(value)

	default:
		// Unknown keys are ignored
	}
	return err
}

// parseBool parses a boolean value.
func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// parseStringList parses a comma-separated list.
func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// WriteDefaultConfig writes a default node configuration file.
func WriteDefaultConfig(path string, network NetworkType) error {
	def := Default(network)
	content := `# Klingnet PoS Node Configuration
#
# This file contains NODE settings only.
# Protocol rules (stake minimums, slashing penalties, governance thresholds)
# live in the genesis configuration and change only through governance.

# Network: mainnet or testnet
network = ` + string(network) + `

# Data directory (default: ~/.klingnet-pos)
# datadir = ~/.klingnet-pos

# ============================================================================
# RPC Server
# ============================================================================

rpc.enabled = true
rpc.addr = 127.0.0.1
rpc.port = ` + strconv.Itoa(def.RPC.Port) + `
rpc.allowed = 127.0.0.1
# CORS allowed origins ("*" for all)
# rpc.cors = http://localhost:3000

# ============================================================================
# Staking / Block Production
# ============================================================================

# Enable the staking scheduler (requires a key file)
staking.enabled = false

# Encrypted seed file, relative to <datadir>/<network>/keystore
# staking.keyfile = staking.key

# Number of derived staking addresses to load
# staking.accounts = 1

# Scheduler intervals
# staking.idle = 10s
# staking.active = 1s
# staking.backoff = 30s

# ============================================================================
# Maintenance
# ============================================================================

# maintenance.sweep = 10m
# maintenance.checkpoint = 5m

# ============================================================================
# Metrics
# ============================================================================

metrics.enabled = false
# metrics.addr = ` + def.Metrics.Addr + `

# ============================================================================
# Logging
# ============================================================================

log.level = info
# log.file =
log.json = false
`
	return os.WriteFile(path, []byte(content), 0644)
}
