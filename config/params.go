package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// BpsDenominator is the fixed-point scale for fractions and multipliers.
// 10_000 bps = 1.0.
const BpsDenominator = 10_000

// ProtocolConfig holds the consensus-critical staking rules.
// All nodes MUST agree on these values; governance proposals change them
// through Set.
type ProtocolConfig struct {
	Staking    StakingRules    `json:"staking"`
	Slashing   SlashingRules   `json:"slashing"`
	Boost      BoostRules      `json:"boost"`
	Governance GovernanceRules `json:"governance"`
}

// StakingRules defines stake eligibility and block economics.
// Durations are in seconds.
type StakingRules struct {
	MinStakeAmount uint64 `json:"min_stake_amount"`
	MinStakeAge    uint64 `json:"min_stake_age"`
	MaxStakeAge    uint64 `json:"max_stake_age"`
	MaxClockDrift  uint64 `json:"max_clock_drift"`
	TargetSpacing  uint64 `json:"target_spacing"` // Expected seconds between PoS blocks

	BaseReward     uint64 `json:"base_reward"`
	MaxSupply      uint64 `json:"max_supply"`
	RewardDecayBps uint64 `json:"reward_decay_bps"`
}

// Penalty kinds as they appear in genesis and proposal parameters.
const (
	PenaltySlash           = "slash"
	PenaltyTemporaryBan    = "temporary_ban"
	PenaltyPermanentBan    = "permanent_ban"
	PenaltyRewardReduction = "reward_reduction"
)

// PenaltyRule configures the punishment for one evidence kind.
// Only the field matching Kind is consulted.
type PenaltyRule struct {
	Kind         string `json:"kind"`
	FractionBps  uint64 `json:"fraction_bps,omitempty"`
	DurationSecs uint64 `json:"duration_secs,omitempty"`
	FactorBps    uint64 `json:"factor_bps,omitempty"`
}

// SlashingRules defines evidence penalties.
type SlashingRules struct {
	Enabled             bool        `json:"enabled"`
	DoubleSigning       PenaltyRule `json:"double_signing"`
	InvalidBlock        PenaltyRule `json:"invalid_block"`
	Inactivity          PenaltyRule `json:"inactivity"`
	InactivityThreshold uint64      `json:"inactivity_threshold"`
}

// BoostRules defines NFT staking boost limits.
type BoostRules struct {
	MaxMultiplierBps uint64 `json:"max_multiplier_bps"`
	StackingEnabled  bool   `json:"stacking_enabled"`
}

// GovernanceRules defines the proposal lifecycle.
type GovernanceRules struct {
	MinProposalStake uint64 `json:"min_proposal_stake"`
	VotingDelay      uint64 `json:"voting_delay"`
	VotingPeriod     uint64 `json:"voting_period"`
	ExecutionDelay   uint64 `json:"execution_delay"`
	QuorumBps        uint64 `json:"quorum_bps"`
	PassBps          uint64 `json:"pass_bps"`
}

// DefaultProtocol returns the mainnet protocol rules.
func DefaultProtocol() ProtocolConfig {
	return ProtocolConfig{
		Staking: StakingRules{
			MinStakeAmount: 333 * Coin,
			MinStakeAge:    12 * 3600,
			MaxStakeAge:    90 * 24 * 3600,
			MaxClockDrift:  2 * 3600,
			TargetSpacing:  150,
			BaseReward:     100 * Coin,
			MaxSupply:      21_000_000 * Coin,
			RewardDecayBps: 500,
		},
		Slashing: SlashingRules{
			Enabled:             true,
			DoubleSigning:       PenaltyRule{Kind: PenaltySlash, FractionBps: 5000},
			InvalidBlock:        PenaltyRule{Kind: PenaltyTemporaryBan, DurationSecs: 24 * 3600},
			Inactivity:          PenaltyRule{Kind: PenaltyRewardReduction, FactorBps: 5000},
			InactivityThreshold: 24 * 3600,
		},
		Boost: BoostRules{
			MaxMultiplierBps: 30_000,
			StackingEnabled:  false,
		},
		Governance: GovernanceRules{
			MinProposalStake: 1000 * Coin,
			VotingDelay:      3600,
			VotingPeriod:     7 * 24 * 3600,
			ExecutionDelay:   2 * 24 * 3600,
			QuorumBps:        3000,
			PassBps:          5000,
		},
	}
}

// Validate checks the protocol rules for internal consistency.
func (p *ProtocolConfig) Validate() error {
	s := p.Staking
	if s.MinStakeAmount == 0 {
		return fmt.Errorf("min_stake_amount must be positive")
	}
	if s.MaxStakeAge != 0 && s.MaxStakeAge < s.MinStakeAge {
		return fmt.Errorf("max_stake_age (%d) below min_stake_age (%d)", s.MaxStakeAge, s.MinStakeAge)
	}
	if s.RewardDecayBps > BpsDenominator {
		return fmt.Errorf("reward_decay_bps must be <= %d", BpsDenominator)
	}
	if s.MaxSupply == 0 {
		return fmt.Errorf("max_supply must be positive")
	}

	for name, rule := range map[string]PenaltyRule{
		"double_signing": p.Slashing.DoubleSigning,
		"invalid_block":  p.Slashing.InvalidBlock,
		"inactivity":     p.Slashing.Inactivity,
	} {
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("slashing.%s: %w", name, err)
		}
	}

	if p.Boost.MaxMultiplierBps < BpsDenominator {
		return fmt.Errorf("max_multiplier_bps must be >= %d", BpsDenominator)
	}

	g := p.Governance
	if g.VotingPeriod == 0 {
		return fmt.Errorf("voting_period must be positive")
	}
	if g.QuorumBps > BpsDenominator || g.PassBps > BpsDenominator {
		return fmt.Errorf("quorum_bps and pass_bps must be <= %d", BpsDenominator)
	}
	return nil
}

// Validate checks that the rule's payload fits its kind.
func (r PenaltyRule) Validate() error {
	switch r.Kind {
	case PenaltySlash:
		if r.FractionBps == 0 || r.FractionBps > BpsDenominator {
			return fmt.Errorf("fraction_bps must be in (0, %d]", BpsDenominator)
		}
	case PenaltyTemporaryBan:
		if r.DurationSecs == 0 {
			return fmt.Errorf("duration_secs must be positive")
		}
	case PenaltyPermanentBan:
	case PenaltyRewardReduction:
		if r.FactorBps > BpsDenominator {
			return fmt.Errorf("factor_bps must be <= %d", BpsDenominator)
		}
	default:
		return fmt.Errorf("unknown penalty kind %q", r.Kind)
	}
	return nil
}

// parsePenalty parses "<kind>[:<value>]", e.g. "slash:5000", "temporary_ban:86400".
func parsePenalty(value string) (PenaltyRule, error) {
	kind, arg, _ := strings.Cut(value, ":")
	r := PenaltyRule{Kind: kind}
	var n uint64
	if arg != "" {
		var err error
		n, err = strconv.ParseUint(arg, 10, 64)
		if err != nil {
			return r, err
		}
	}
	switch kind {
	case PenaltySlash:
		r.FractionBps = n
	case PenaltyTemporaryBan:
		r.DurationSecs = n
	case PenaltyRewardReduction:
		r.FactorBps = n
	}
	return r, r.Validate()
}

// Set changes one protocol parameter by key. Keys are the ones a
// governance proposal may carry; see ParamKeys.
func (p *ProtocolConfig) Set(key, value string) error {
	var err error
	switch key {
	// Staking
	case "min_stake_amount":
		p.Staking.MinStakeAmount, err = strconv.ParseUint(value, 10, 64)
	case "min_stake_age":
		p.Staking.MinStakeAge, err = strconv.ParseUint(value, 10, 64)
	case "max_stake_age":
		p.Staking.MaxStakeAge, err = strconv.ParseUint(value, 10, 64)
	case "base_reward":
		p.Staking.BaseReward, err = strconv.ParseUint(value, 10, 64)
	case "reward_decay_bps":
		p.Staking.RewardDecayBps, err = strconv.ParseUint(value, 10, 64)

	// Slashing
	case "slashing_enabled":
		p.Slashing.Enabled, err = strconv.ParseBool(value)
	case "double_signing_penalty":
		p.Slashing.DoubleSigning, err = parsePenalty(value)
	case "invalid_block_penalty":
		p.Slashing.InvalidBlock, err = parsePenalty(value)
	case "inactivity_penalty":
		p.Slashing.Inactivity, err = parsePenalty(value)
	case "inactivity_threshold":
		p.Slashing.InactivityThreshold, err = strconv.ParseUint(value, 10, 64)

	// Boost
	case "max_boost_multiplier_bps":
		p.Boost.MaxMultiplierBps, err = strconv.ParseUint(value, 10, 64)
	case "boost_stacking":
		p.Boost.StackingEnabled, err = strconv.ParseBool(value)

	// Governance
	case "min_proposal_stake":
		p.Governance.MinProposalStake, err = strconv.ParseUint(value, 10, 64)
	case "voting_period":
		p.Governance.VotingPeriod, err = strconv.ParseUint(value, 10, 64)
	case "execution_delay":
		p.Governance.ExecutionDelay, err = strconv.ParseUint(value, 10, 64)
	case "quorum_bps":
		p.Governance.QuorumBps, err = strconv.ParseUint(value, 10, 64)
	case "pass_bps":
		p.Governance.PassBps, err = strconv.ParseUint(value, 10, 64)

	default:
		return fmt.Errorf("%w: %q", ErrUnknownParam, key)
	}
	if err != nil {
		return fmt.Errorf("%w: %s=%q: %v", ErrInvalidParam, key, value, err)
	}
	return nil
}

// ParamKeys returns the sorted list of keys accepted by Set.
func ParamKeys() []string {
	keys := []string{
		"min_stake_amount", "min_stake_age", "max_stake_age", "base_reward", "reward_decay_bps",
		"slashing_enabled", "double_signing_penalty", "invalid_block_penalty", "inactivity_penalty",
		"inactivity_threshold", "max_boost_multiplier_bps", "boost_stacking",
		"min_proposal_stake", "voting_period", "execution_delay", "quorum_bps", "pass_bps",
	}
	sort.Strings(keys)
	return keys
}
