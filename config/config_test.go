package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGenesis_Validate_BuiltIn(t *testing.T) {
	for _, network := range []NetworkType{Mainnet, Testnet} {
		g := GenesisFor(network)
		if err := g.Validate(); err != nil {
			t.Errorf("%s genesis should be valid: %v", network, err)
		}
	}
}

func TestTestnetGenesis_StakeIsFunded(t *testing.T) {
	g := TestnetGenesis()
	addr := TestnetAddress().Hex()
	if g.Stakes[addr] == 0 {
		t.Fatal("testnet genesis should stake the well-known address")
	}
	if g.Stakes[addr] > g.Alloc[addr] {
		t.Error("testnet stake exceeds allocation")
	}
}

func TestGenesis_Validate_StakeBelowMinimum(t *testing.T) {
	g := TestnetGenesis()
	addr := TestnetAddress().Hex()
	g.Stakes[addr] = g.Protocol.Staking.MinStakeAmount - 1
	if err := g.Validate(); err == nil {
		t.Error("expected error for genesis stake below minimum")
	}
}

func TestGenesis_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genesis.json")
	g := TestnetGenesis()
	if err := g.Save(path); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	loaded, err := LoadGenesis(path)
	if err != nil {
		t.Fatalf("LoadGenesis() error: %v", err)
	}
	want, _ := g.Hash()
	got, _ := loaded.Hash()
	if got != want {
		t.Error("genesis hash changed across save/load")
	}
}

func TestProtocol_Set(t *testing.T) {
	p := DefaultProtocol()

	tests := []struct {
		key, value string
		check      func() bool
	}{
		{"min_stake_amount", "500", func() bool { return p.Staking.MinStakeAmount == 500 }},
		{"slashing_enabled", "false", func() bool { return !p.Slashing.Enabled }},
		{"double_signing_penalty", "slash:10000", func() bool {
			return p.Slashing.DoubleSigning == PenaltyRule{Kind: PenaltySlash, FractionBps: 10000}
		}},
		{"invalid_block_penalty", "permanent_ban", func() bool { return p.Slashing.InvalidBlock.Kind == PenaltyPermanentBan }},
		{"quorum_bps", "4000", func() bool { return p.Governance.QuorumBps == 4000 }},
		{"boost_stacking", "true", func() bool { return p.Boost.StackingEnabled }},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if err := p.Set(tt.key, tt.value); err != nil {
				t.Fatalf("Set(%s) error: %v", tt.key, err)
			}
			if !tt.check() {
				t.Errorf("Set(%s, %s) did not take effect", tt.key, tt.value)
			}
		})
	}
}

func TestProtocol_Set_Errors(t *testing.T) {
	p := DefaultProtocol()
	if err := p.Set("no_such_key", "1"); !errors.Is(err, ErrUnknownParam) {
		t.Errorf("unknown key: got %v, want ErrUnknownParam", err)
	}
	if err := p.Set("min_stake_amount", "lots"); !errors.Is(err, ErrInvalidParam) {
		t.Errorf("bad value: got %v, want ErrInvalidParam", err)
	}
	if err := p.Set("double_signing_penalty", "slash:0"); !errors.Is(err, ErrInvalidParam) {
		t.Errorf("zero slash: got %v, want ErrInvalidParam", err)
	}
	if err := p.Set("inactivity_penalty", "explode"); !errors.Is(err, ErrInvalidParam) {
		t.Errorf("unknown penalty: got %v, want ErrInvalidParam", err)
	}
}

func TestParamKeys_AllSettable(t *testing.T) {
	values := map[string]string{
		"slashing_enabled":       "true",
		"boost_stacking":         "false",
		"double_signing_penalty": "slash:100",
		"invalid_block_penalty":  "temporary_ban:60",
		"inactivity_penalty":     "reward_reduction:9000",
	}
	for _, key := range ParamKeys() {
		p := DefaultProtocol()
		v, ok := values[key]
		if !ok {
			v = "10"
		}
		if err := p.Set(key, v); err != nil {
			t.Errorf("Set(%s, %s) error: %v", key, v, err)
		}
	}
}

func TestProtocol_Validate(t *testing.T) {
	p := DefaultProtocol()
	if err := p.Validate(); err != nil {
		t.Fatalf("default protocol invalid: %v", err)
	}

	bad := DefaultProtocol()
	bad.Governance.QuorumBps = BpsDenominator + 1
	if err := bad.Validate(); err == nil {
		t.Error("expected error for quorum above 100%")
	}

	bad = DefaultProtocol()
	bad.Boost.MaxMultiplierBps = 9000
	if err := bad.Validate(); err == nil {
		t.Error("expected error for max multiplier below 1.0")
	}

	bad = DefaultProtocol()
	bad.Staking.MaxStakeAge = bad.Staking.MinStakeAge - 1
	if err := bad.Validate(); err == nil {
		t.Error("expected error for max age below min age")
	}
}

func TestLoadFile_AndApply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.conf")
	content := `# comment
network = testnet
rpc.port = 9999
staking.enabled = yes
staking.idle = "5s"
maintenance.sweep = 1m
metrics.addr = 0.0.0.0:9100
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	values, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}
	cfg := DefaultMainnet()
	if err := ApplyFileConfig(cfg, values); err != nil {
		t.Fatalf("ApplyFileConfig() error: %v", err)
	}
	if cfg.Network != Testnet || cfg.RPC.Port != 9999 || !cfg.Staking.Enabled {
		t.Errorf("core values not applied: %+v", cfg)
	}
	if cfg.Staking.IdleInterval != 5*time.Second {
		t.Errorf("staking.idle = %s, want 5s", cfg.Staking.IdleInterval)
	}
	if cfg.Maintenance.SweepInterval != time.Minute {
		t.Errorf("maintenance.sweep = %s, want 1m", cfg.Maintenance.SweepInterval)
	}
	if cfg.Metrics.Addr != "0.0.0.0:9100" {
		t.Errorf("metrics.addr = %s", cfg.Metrics.Addr)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	values, err := LoadFile(filepath.Join(t.TempDir(), "missing.conf"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if len(values) != 0 {
		t.Errorf("missing file should yield no values, got %v", values)
	}
}

func TestApplyFileConfig_BadDuration(t *testing.T) {
	cfg := DefaultMainnet()
	if err := ApplyFileConfig(cfg, map[string]string{"staking.backoff": "soon"}); err == nil {
		t.Error("expected error for unparseable duration")
	}
}

func TestParseFlags_ApplyOverrides(t *testing.T) {
	f, err := parseFlags([]string{"--testnet", "--stake", "--rpc=false", "--stake-backoff=2s", "--accounts=3"})
	if err != nil {
		t.Fatalf("parseFlags() error: %v", err)
	}
	cfg := DefaultTestnet()
	ApplyFlags(cfg, f)
	if f.Network != string(Testnet) {
		t.Errorf("Network = %q, want testnet", f.Network)
	}
	if !cfg.Staking.Enabled {
		t.Error("--stake should enable staking")
	}
	if cfg.RPC.Enabled {
		t.Error("--rpc=false should disable RPC")
	}
	if cfg.Staking.ErrorBackoff != 2*time.Second {
		t.Errorf("ErrorBackoff = %s, want 2s", cfg.Staking.ErrorBackoff)
	}
	if cfg.Staking.Accounts != 3 {
		t.Errorf("Accounts = %d, want 3", cfg.Staking.Accounts)
	}
}

func TestParseFlags_PositionalStopsParsing(t *testing.T) {
	if _, err := parseFlags([]string{"extra", "--stake"}); err == nil {
		t.Error("expected error when a flag follows a positional argument")
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultMainnet()
	if err := Validate(cfg); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	cfg.Staking.ErrorBackoff = 0
	if err := Validate(cfg); err == nil {
		t.Error("expected error for zero backoff")
	}
}

func TestLoadWith_CreatesDataDirs(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadWith(&Flags{DataDir: dir, Network: "testnet"})
	if err != nil {
		t.Fatalf("LoadWith() error: %v", err)
	}
	for _, d := range []string{cfg.DBDir(), cfg.KeystoreDir(), cfg.LogsDir()} {
		if _, err := os.Stat(d); err != nil {
			t.Errorf("expected %s to exist: %v", d, err)
		}
	}
	if _, err := os.Stat(cfg.ConfigFile()); err != nil {
		t.Errorf("expected default config file: %v", err)
	}
}
