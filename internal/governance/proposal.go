package governance

import (
	"fmt"
	"sort"

	"github.com/Klingon-tech/klingnet-pos/pkg/crypto"
	"github.com/Klingon-tech/klingnet-pos/pkg/types"
)

// Kind classifies a proposal. It is informational; what a proposal
// changes is given by its parameters.
type Kind uint8

// Proposal kinds.
const (
	SlashingParameterChange Kind = iota + 1
	StakingRewardChange
	MinimumStakeChange
	ValidatorLimitChange
	BoostParameterChange
	GeneralProposal
)

var kindNames = map[Kind]string{
	SlashingParameterChange: "slashing",
	StakingRewardChange:     "reward",
	MinimumStakeChange:      "min_stake",
	ValidatorLimitChange:    "validator_limit",
	BoostParameterChange:    "boost",
	GeneralProposal:         "general",
}

// String returns the kind name.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("unknown(%d)", uint8(k))
}

// ParseKind parses a kind name as returned by String.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// State is a proposal's position in its lifecycle.
type State uint8

// Proposal states.
const (
	StatePending State = iota + 1
	StateVoting
	StatePassed
	StateRejected
	StateExecuted
	StateCancelled
)

var stateNames = map[State]string{
	StatePending:   "pending",
	StateVoting:    "voting",
	StatePassed:    "passed",
	StateRejected:  "rejected",
	StateExecuted:  "executed",
	StateCancelled: "cancelled",
}

// String returns the state name.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", uint8(s))
}

// ParseState parses a state name as returned by String.
func ParseState(s string) (State, error) {
	for st, name := range stateNames {
		if name == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown proposal state %q", s)
}

// Param is one protocol parameter change.
type Param struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Proposal is a stake-weighted change request.
//
// NetworkStake, QuorumBps and PassBps are fixed when the proposal is
// created, so later stake movements or rule changes cannot alter its
// outcome.
type Proposal struct {
	ID            types.Hash    `json:"id"`
	Seq           uint64        `json:"seq"`
	Kind          Kind          `json:"kind"`
	Title         string        `json:"title"`
	Description   string        `json:"description"`
	Proposer      types.Address `json:"proposer"`
	CreatedAt     uint64        `json:"created_at"`
	VotingStart   uint64        `json:"voting_start"`
	VotingEnd     uint64        `json:"voting_end"`
	ExecutionTime uint64        `json:"execution_time"`
	Executed      bool          `json:"executed"`
	Cancelled     bool          `json:"cancelled"`
	Params        []Param       `json:"params"` // sorted by key
	NetworkStake  uint64        `json:"network_stake"`
	QuorumBps     uint64        `json:"quorum_bps"`
	PassBps       uint64        `json:"pass_bps"`
}

// Hash derives the proposal id from its content and sequence number.
func (p *Proposal) Hash() types.Hash {
	h := crypto.NewHasher().
		WriteUint64(p.Seq).
		WriteUint8(uint8(p.Kind)).
		WriteBytes(p.Proposer[:]).
		WriteUint64(p.CreatedAt)
	writeString(h, p.Title)
	writeString(h, p.Description)
	for _, kv := range p.Params {
		writeString(h, kv.Key)
		writeString(h, kv.Value)
	}
	return h.Sum()
}

// writeString writes a length-prefixed string.
func writeString(h *crypto.Hasher, s string) {
	h.WriteUint64(uint64(len(s))).WriteBytes([]byte(s))
}

// CanVote reports whether now is inside the voting window.
func (p *Proposal) CanVote(now uint64) bool {
	return !p.Executed && !p.Cancelled && now >= p.VotingStart && now <= p.VotingEnd
}

// ParamMap returns the parameters as a map.
func (p *Proposal) ParamMap() map[string]string {
	out := make(map[string]string, len(p.Params))
	for _, kv := range p.Params {
		out[kv.Key] = kv.Value
	}
	return out
}

// Copy returns a deep copy of the proposal.
func (p *Proposal) Copy() *Proposal {
	cp := *p
	cp.Params = append([]Param(nil), p.Params...)
	return &cp
}

func sortedParams(in map[string]string) []Param {
	out := make([]Param, 0, len(in))
	for k, v := range in {
		out = append(out, Param{Key: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Vote is one voter's choice. Weight is the voter's effective stake when
// the vote was cast and is never recomputed.
type Vote struct {
	ProposalID types.Hash    `json:"proposal_id"`
	Voter      types.Address `json:"voter"`
	Yes        bool          `json:"yes"`
	Weight     uint64        `json:"weight"`
	VotedAt    uint64        `json:"voted_at"`
}

// VoteResult is the tally of a proposal.
type VoteResult struct {
	Yes          uint64 `json:"yes"`
	No           uint64 `json:"no"`
	Total        uint64 `json:"total"`
	NetworkStake uint64 `json:"network_stake"`
	QuorumMet    bool   `json:"quorum_met"`
	Passed       bool   `json:"passed"`
}
