package staking

import (
	"github.com/holiman/uint256"

	"github.com/Klingon-tech/klingnet-pos/internal/governance"
	"github.com/Klingon-tech/klingnet-pos/pkg/types"
)

// Info summarizes staking for the node and, optionally, one address.
type Info struct {
	Enabled        bool   `json:"enabled"`
	Staking        bool   `json:"staking"` // the address holds an eligible position
	TotalStake     uint64 `json:"total_stake"`
	EligibleStake  uint64 `json:"eligible_stake"`
	ValidatorCount int    `json:"validator_count"`

	Address        *types.Address `json:"address,omitempty"`
	Amount         uint64         `json:"amount"`
	EffectiveStake uint64         `json:"effective_stake"`
	AvailableStake uint64         `json:"available_stake"`
	// ExpectedTime is the expected number of seconds until addr produces
	// a block, 0 when it cannot.
	ExpectedTime uint64 `json:"expected_time"`
}

// StakingInfo reports network staking totals and, when addr is non-nil,
// that address's position.
func (e *Engine) StakingInfo(addr *types.Address, now uint64) Info {
	info := Info{
		Enabled:        e.StakingEnabled(),
		TotalStake:     e.stake.TotalStake(),
		EligibleStake:  e.stake.TotalEligibleStake(now),
		ValidatorCount: len(e.stake.Positions()),
	}
	if addr == nil {
		return info
	}
	a := *addr
	info.Address = &a

	if p, ok := e.stake.Get(a); ok {
		info.Amount = p.Amount
		info.EffectiveStake = e.stake.EffectiveStake(a, now)
	}
	info.Staking = e.stake.IsEligible(a, now) && !e.slash.IsBanned(a, now)
	if e.balances != nil {
		if bal := e.balances(a); bal > info.Amount {
			info.AvailableStake = bal - info.Amount
		}
	}
	if info.Staking && info.EffectiveStake > 0 {
		spacing := e.Protocol().Staking.TargetSpacing
		info.ExpectedTime = mulDiv(spacing, info.EligibleStake, info.EffectiveStake)
	}
	return info
}

// ValidatorInfo describes one stake position.
type ValidatorInfo struct {
	Address        types.Address `json:"address"`
	Amount         uint64        `json:"amount"`
	EffectiveStake uint64        `json:"effective_stake"`
	Age            uint64        `json:"age"`
	Eligible       bool          `json:"eligible"`
	Banned         bool          `json:"banned"`
	StakeHash      types.Hash    `json:"stake_hash"`
}

// ListValidators returns every stake position, sorted by address.
func (e *Engine) ListValidators(now uint64) []ValidatorInfo {
	positions := e.stake.Positions()
	out := make([]ValidatorInfo, 0, len(positions))
	for _, p := range positions {
		out = append(out, ValidatorInfo{
			Address:        p.Address,
			Amount:         p.Amount,
			EffectiveStake: e.stake.EffectiveStake(p.Address, now),
			Age:            p.Age(now),
			Eligible:       e.stake.IsEligible(p.Address, now),
			Banned:         e.slash.IsBanned(p.Address, now),
			StakeHash:      p.StakeHash,
		})
	}
	return out
}

// BanStatus reports whether addr is banned at now and until when.
func (e *Engine) BanStatus(addr types.Address, now uint64) (bool, uint64) {
	return e.slash.BanStatus(addr, now)
}

// ListProposals returns proposals, optionally only those in states.
func (e *Engine) ListProposals(now uint64, states ...governance.State) []*governance.Proposal {
	return e.gov.Proposals(now, states...)
}

// VoteResult tallies a proposal.
func (e *Engine) VoteResult(id types.Hash) (governance.VoteResult, error) {
	return e.gov.Tally(id)
}

// mulDiv returns a*b/c, saturating.
func mulDiv(a, b, c uint64) uint64 {
	if c == 0 {
		return 0
	}
	v := new(uint256.Int).Mul(uint256.NewInt(a), uint256.NewInt(b))
	v.Div(v, uint256.NewInt(c))
	if !v.IsUint64() {
		return ^uint64(0)
	}
	return v.Uint64()
}
