package config

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/Klingon-tech/klingnet-pos/pkg/crypto"
	"github.com/Klingon-tech/klingnet-pos/pkg/types"
)

// Denomination constants.
// 1 coin = 10^8 base units. All on-chain values are in base units.
const (
	Decimals  = 8
	Coin      = 100_000_000
	MilliCoin = 100_000
)

// Genesis holds the genesis block configuration and the initial protocol rules.
type Genesis struct {
	// Chain identity
	ChainID   string `json:"chain_id"`
	ChainName string `json:"chain_name"`
	Symbol    string `json:"symbol,omitempty"`

	// Genesis block
	Timestamp uint64 `json:"timestamp"`
	ExtraData string `json:"extra_data,omitempty"`

	// Initial spendable balances (address -> base units).
	Alloc map[string]uint64 `json:"alloc"`

	// Initial stake positions (address -> base units), created at Timestamp.
	// Each must be covered by the same address's Alloc entry.
	Stakes map[string]uint64 `json:"stakes,omitempty"`

	// Protocol rules
	Protocol ProtocolConfig `json:"protocol"`
}

// =============================================================================
// Testnet Identity
//
// Derived from the well-known BIP-39 test mnemonic (DO NOT use on mainnet):
//
//	abandon abandon abandon abandon abandon abandon abandon abandon
//	abandon abandon abandon abandon abandon abandon abandon abandon
//	abandon abandon abandon abandon abandon abandon abandon art
//
// Derivation path: m/44'/8888'/0'/0/0 (no passphrase)
// =============================================================================

const (
	// TestnetMnemonic is the well-known seed phrase for the testnet staker.
	TestnetMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon art"

	// TestnetStakerPubKey is the compressed public key (hex) derived from TestnetMnemonic.
	TestnetStakerPubKey = "030bef68f8657df88098a0546da1712c88b459788bea1a6bbe964004166a25144f"
)

// TestnetAddress returns the address of TestnetStakerPubKey.
func TestnetAddress() types.Address {
	pub, _ := hex.DecodeString(TestnetStakerPubKey)
	return crypto.AddressFromPubKey(pub)
}

// =============================================================================
// Pre-defined genesis configurations
// =============================================================================

// MainnetGenesis returns the mainnet genesis configuration.
func MainnetGenesis() *Genesis {
	return &Genesis{
		ChainID:   "klingnet-pos-mainnet-1",
		ChainName: "Klingnet PoS Mainnet",
		Symbol:    "KGX",
		Timestamp: 1790000000,
		ExtraData: "Klingnet PoS Genesis",
		Alloc:     map[string]uint64{},
		Protocol:  DefaultProtocol(),
	}
}

// TestnetGenesis returns the testnet genesis configuration.
func TestnetGenesis() *Genesis {
	g := MainnetGenesis()
	g.ChainID = "klingnet-pos-testnet-1"
	g.ChainName = "Klingnet PoS Testnet"
	g.ExtraData = "Klingnet PoS Testnet Genesis"

	// Shorter waits so a single developer can walk the whole lifecycle.
	g.Protocol.Staking.MinStakeAge = 3600
	g.Protocol.Governance.VotingDelay = 60
	g.Protocol.Governance.VotingPeriod = 3600
	g.Protocol.Governance.ExecutionDelay = 600
	g.Protocol.Governance.MinProposalStake = g.Protocol.Staking.MinStakeAmount

	addr := TestnetAddress().Hex()
	g.Alloc = map[string]uint64{addr: 200_000 * Coin}
	g.Stakes = map[string]uint64{addr: 10_000 * Coin}
	return g
}

// GenesisFor returns the genesis config for the given network.
func GenesisFor(network NetworkType) *Genesis {
	switch network {
	case Testnet:
		return TestnetGenesis()
	default:
		return MainnetGenesis()
	}
}

// =============================================================================
// Genesis file I/O
// =============================================================================

// LoadGenesis loads genesis configuration from a file.
func LoadGenesis(path string) (*Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading genesis file: %w", err)
	}

	var g Genesis
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parsing genesis file: %w", err)
	}
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("invalid genesis: %w", err)
	}
	return &g, nil
}

// Save writes the genesis configuration to a file.
func (g *Genesis) Save(path string) error {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding genesis: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing genesis file: %w", err)
	}
	return nil
}

// Validate checks that the genesis configuration is valid.
func (g *Genesis) Validate() error {
	if g.ChainID == "" {
		return fmt.Errorf("chain_id is required")
	}
	if g.Timestamp == 0 {
		return fmt.Errorf("timestamp is required")
	}
	if err := g.Protocol.Validate(); err != nil {
		return err
	}

	var totalAlloc uint64
	for addrStr, v := range g.Alloc {
		if _, err := types.ParseAddress(addrStr); err != nil {
			return fmt.Errorf("invalid alloc address %q: %w", addrStr, err)
		}
		totalAlloc += v
	}
	if maxSupply := g.Protocol.Staking.MaxSupply; maxSupply > 0 && totalAlloc > maxSupply {
		return fmt.Errorf("genesis allocations (%d) exceed max_supply (%d)", totalAlloc, maxSupply)
	}

	for addrStr, amount := range g.Stakes {
		if _, err := types.ParseAddress(addrStr); err != nil {
			return fmt.Errorf("invalid stake address %q: %w", addrStr, err)
		}
		if amount < g.Protocol.Staking.MinStakeAmount {
			return fmt.Errorf("genesis stake for %s (%d) below min_stake_amount (%d)",
				addrStr, amount, g.Protocol.Staking.MinStakeAmount)
		}
		if amount > g.Alloc[addrStr] {
			return fmt.Errorf("genesis stake for %s (%d) exceeds its allocation (%d)",
				addrStr, amount, g.Alloc[addrStr])
		}
	}
	return nil
}

// TotalAlloc returns the sum of all genesis allocations.
func (g *Genesis) TotalAlloc() uint64 {
	var total uint64
	for _, v := range g.Alloc {
		total += v
	}
	return total
}

// Hash returns a BLAKE3 hash of the genesis configuration.
// Used to identify the chain and detect genesis mismatches.
func (g *Genesis) Hash() (types.Hash, error) {
	data, err := json.Marshal(g)
	if err != nil {
		return types.Hash{}, err
	}
	return crypto.Hash(data), nil
}
