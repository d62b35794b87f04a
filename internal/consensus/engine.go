// Package consensus implements proof-of-stake block production and
// validation: the stake registry, the kernel protocol and the stake manager
// that guards both behind a single lock.
package consensus

import "github.com/Klingon-tech/klingnet-pos/pkg/types"

// Booster turns a locked stake amount into the effective stake used for
// candidate selection, difficulty and rewards. Implementations must not
// call back into the Manager.
type Booster interface {
	EffectiveStake(addr types.Address, stake uint64, now uint64) uint64
}

// Penalties answers ban and reward-reduction lookups. The Manager calls it
// with its lock held, so implementations must read state guarded by that
// same lock without acquiring it.
type Penalties interface {
	IsBanned(addr types.Address, now uint64) bool
	// RewardFactorBps returns the reward multiplier for addr in basis points.
	RewardFactorBps(addr types.Address) uint64
}

// noBoost is the default Booster: effective stake equals locked stake.
type noBoost struct{}

func (noBoost) EffectiveStake(_ types.Address, stake uint64, _ uint64) uint64 { return stake }

// noPenalties is the default Penalties: nobody is banned, full rewards.
type noPenalties struct{}

func (noPenalties) IsBanned(types.Address, uint64) bool { return false }

func (noPenalties) RewardFactorBps(types.Address) uint64 { return bpsOne }
