package slashing

import (
	"fmt"
	"math"

	"github.com/Klingon-tech/klingnet-pos/config"
	"github.com/Klingon-tech/klingnet-pos/pkg/types"
)

// BanForever is the ban end time of a permanent ban.
const BanForever = math.MaxUint64

// PenaltyKind selects which field of a Penalty applies.
type PenaltyKind uint8

// Penalty kinds.
const (
	StakeSlash      PenaltyKind = 1
	TemporaryBan    PenaltyKind = 2
	PermanentBan    PenaltyKind = 3
	RewardReduction PenaltyKind = 4
)

// String returns the penalty kind name used in configuration.
func (k PenaltyKind) String() string {
	switch k {
	case StakeSlash:
		return config.PenaltySlash
	case TemporaryBan:
		return config.PenaltyTemporaryBan
	case PermanentBan:
		return config.PenaltyPermanentBan
	case RewardReduction:
		return config.PenaltyRewardReduction
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Penalty is the punishment configured for one evidence kind.
// Only the field matching Kind is consulted.
type Penalty struct {
	Kind        PenaltyKind `json:"kind"`
	FractionBps uint64      `json:"fraction_bps,omitempty"` // StakeSlash
	Duration    uint64      `json:"duration,omitempty"`     // TemporaryBan, seconds
	FactorBps   uint64      `json:"factor_bps,omitempty"`   // RewardReduction
}

// Slash returns a StakeSlash penalty.
func Slash(fractionBps uint64) Penalty {
	return Penalty{Kind: StakeSlash, FractionBps: fractionBps}
}

// Ban returns a TemporaryBan penalty.
func Ban(seconds uint64) Penalty {
	return Penalty{Kind: TemporaryBan, Duration: seconds}
}

// Forever returns a PermanentBan penalty.
func Forever() Penalty {
	return Penalty{Kind: PermanentBan}
}

// ReduceRewards returns a RewardReduction penalty.
func ReduceRewards(factorBps uint64) Penalty {
	return Penalty{Kind: RewardReduction, FactorBps: factorBps}
}

// PenaltyFromRule converts a protocol penalty rule.
func PenaltyFromRule(r config.PenaltyRule) (Penalty, error) {
	if err := r.Validate(); err != nil {
		return Penalty{}, err
	}
	switch r.Kind {
	case config.PenaltySlash:
		return Slash(r.FractionBps), nil
	case config.PenaltyTemporaryBan:
		return Ban(r.DurationSecs), nil
	case config.PenaltyPermanentBan:
		return Forever(), nil
	default:
		return ReduceRewards(r.FactorBps), nil
	}
}

// Rule converts the penalty back to its protocol form.
func (p Penalty) Rule() config.PenaltyRule {
	r := config.PenaltyRule{Kind: p.Kind.String()}
	switch p.Kind {
	case StakeSlash:
		r.FractionBps = p.FractionBps
	case TemporaryBan:
		r.DurationSecs = p.Duration
	case RewardReduction:
		r.FactorBps = p.FactorBps
	}
	return r
}

// Validate checks the penalty payload.
func (p Penalty) Validate() error {
	return p.Rule().Validate()
}

// BanRecord is a validator's ban end time.
type BanRecord struct {
	Validator types.Address `json:"validator"`
	Until     uint64        `json:"until"`
}

// Permanent reports whether the ban never expires.
func (b BanRecord) Permanent() bool { return b.Until == BanForever }

// Active reports whether the ban is in force at now.
func (b BanRecord) Active(now uint64) bool {
	return b.Permanent() || now < b.Until
}
