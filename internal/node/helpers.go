package node

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Klingon-tech/klingnet-pos/config"
	"github.com/Klingon-tech/klingnet-pos/internal/staking"
	"github.com/Klingon-tech/klingnet-pos/pkg/types"
)

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

// loadGenesis returns the genesis file at path, or the built-in genesis
// for network when path is empty.
func loadGenesis(path string, network config.NetworkType) (*config.Genesis, error) {
	if path == "" {
		return config.GenesisFor(network), nil
	}
	return config.LoadGenesis(expandHome(path))
}

// seedGenesisStakes opens the genesis stake positions at the genesis
// timestamp. Addresses are processed in sorted order so every node
// assigns the same registry nonces.
func seedGenesisStakes(engine *staking.Engine, g *config.Genesis) (int, error) {
	keys := make([]string, 0, len(g.Stakes))
	for k := range g.Stakes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		addr, err := types.ParseAddress(k)
		if err != nil {
			return 0, fmt.Errorf("stake address %q: %w", k, err)
		}
		if _, err := engine.Stake().CreateStake(addr, g.Stakes[k], g.Timestamp); err != nil {
			return 0, fmt.Errorf("genesis stake %s: %w", addr, err)
		}
	}
	return len(keys), nil
}
