// Package boost implements NFT staking boosts.
//
// A boost raises the stake an address counts with for candidate selection,
// difficulty and vote weight, without changing the amount it has locked.
// Boosts are pushed in by the NFT-ownership collaborator and expire on
// their own once End passes.
package boost

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-pos/config"
	"github.com/Klingon-tech/klingnet-pos/pkg/types"
)

// NoBoostBps is the neutral multiplier (1.0x).
const NoBoostBps = config.BpsDenominator

// Boost errors.
var (
	ErrInvalidBoost = errors.New("invalid boost")
	ErrExists       = errors.New("boost already exists")
	ErrNotFound     = errors.New("boost not found")
)

// Boost is a multiplier granted to the owner of an NFT.
type Boost struct {
	NFTID         types.Hash    `json:"nft_id"`
	Owner         types.Address `json:"owner"`
	MultiplierBps uint64        `json:"multiplier_bps"`
	Start         uint64        `json:"start"`
	End           uint64        `json:"end"`  // 0 = permanent
	Kind          string        `json:"kind"` // e.g. "legendary", "rare"
}

// Permanent reports whether the boost never expires.
func (b *Boost) Permanent() bool { return b.End == 0 }

// Expired reports whether the boost has ended by now.
func (b *Boost) Expired(now uint64) bool {
	return !b.Permanent() && now >= b.End
}

// Active reports whether the boost applies at now.
func (b *Boost) Active(now uint64) bool {
	return now >= b.Start && !b.Expired(now)
}

// Validate checks the boost fields.
func (b *Boost) Validate() error {
	if b.NFTID.IsZero() {
		return fmt.Errorf("%w: missing nft id", ErrInvalidBoost)
	}
	if b.Owner.IsZero() {
		return fmt.Errorf("%w: missing owner", ErrInvalidBoost)
	}
	if b.MultiplierBps < NoBoostBps {
		return fmt.Errorf("%w: multiplier %d bps below 1.0", ErrInvalidBoost, b.MultiplierBps)
	}
	if !b.Permanent() && b.End <= b.Start {
		return fmt.Errorf("%w: end %d not after start %d", ErrInvalidBoost, b.End, b.Start)
	}
	return nil
}
