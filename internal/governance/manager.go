package governance

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/holiman/uint256"

	"github.com/Klingon-tech/klingnet-pos/config"
	klog "github.com/Klingon-tech/klingnet-pos/internal/log"
	"github.com/Klingon-tech/klingnet-pos/internal/metrics"
	"github.com/Klingon-tech/klingnet-pos/pkg/types"
)

// StakeSource supplies vote weights. *consensus.Manager implements it.
type StakeSource interface {
	EffectiveStake(addr types.Address, now uint64) uint64
	TotalEffectiveStake(now uint64) uint64
}

// ParamTarget owns the protocol parameters a proposal changes.
type ParamTarget interface {
	Protocol() config.ProtocolConfig
	ApplyProtocol(p config.ProtocolConfig) error
}

// Manager runs the proposal lifecycle. Stake and parameter lookups happen
// outside its lock, so it never holds the governance lock while another
// component's lock is taken.
type Manager struct {
	mu        sync.Mutex
	stake     StakeSource
	target    ParamTarget
	rules     config.GovernanceRules
	proposals map[types.Hash]*Proposal
	order     []types.Hash
	votes     map[types.Hash][]Vote
	seq       uint64
}

// NewManager creates a governance manager.
func NewManager(stake StakeSource, target ParamTarget, rules config.GovernanceRules) *Manager {
	return &Manager{
		stake:     stake,
		target:    target,
		rules:     rules,
		proposals: make(map[types.Hash]*Proposal),
		votes:     make(map[types.Hash][]Vote),
	}
}

// Rules returns the governance rules applied to new proposals.
func (m *Manager) Rules() config.GovernanceRules {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rules
}

// SetRules replaces the governance rules. Existing proposals keep their
// windows and thresholds.
func (m *Manager) SetRules(rules config.GovernanceRules) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = rules
}

// CreateProposal opens a proposal by proposer. params are checked against
// the current protocol parameters before anything is stored.
func (m *Manager) CreateProposal(proposer types.Address, kind Kind, title, description string, params map[string]string, now uint64) (types.Hash, error) {
	if _, ok := kindNames[kind]; !ok {
		return types.Hash{}, fmt.Errorf("%w: %d", ErrUnknownKind, kind)
	}
	sorted := sortedParams(params)
	if _, err := m.applyParams(sorted); err != nil {
		return types.Hash{}, err
	}
	weight := m.stake.EffectiveStake(proposer, now)
	network := m.stake.TotalEffectiveStake(now)

	m.mu.Lock()
	defer m.mu.Unlock()

	if weight == 0 || weight < m.rules.MinProposalStake {
		return types.Hash{}, fmt.Errorf("%w: have %d, need %d", ErrInsufficientStake, weight, m.rules.MinProposalStake)
	}

	m.seq++
	p := &Proposal{
		Seq:          m.seq,
		Kind:         kind,
		Title:        title,
		Description:  description,
		Proposer:     proposer,
		CreatedAt:    now,
		VotingStart:  now + m.rules.VotingDelay,
		Params:       sorted,
		NetworkStake: network,
		QuorumBps:    m.rules.QuorumBps,
		PassBps:      m.rules.PassBps,
	}
	p.VotingEnd = p.VotingStart + m.rules.VotingPeriod
	p.ExecutionTime = p.VotingEnd + m.rules.ExecutionDelay
	p.ID = p.Hash()

	m.proposals[p.ID] = p
	m.order = append(m.order, p.ID)
	metrics.ProposalsCreated().Add(1)

	klog.Governance.Info().
		Str("id", p.ID.Short()).
		Str("kind", kind.String()).
		Str("proposer", proposer.String()).
		Uint64("voting_start", p.VotingStart).
		Uint64("voting_end", p.VotingEnd).
		Int("params", len(sorted)).
		Msg("Proposal created")
	return p.ID, nil
}

// Vote records voter's choice weighted by its current effective stake.
func (m *Manager) Vote(id types.Hash, voter types.Address, yes bool, now uint64) error {
	weight := m.stake.EffectiveStake(voter, now)

	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.proposals[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrProposalNotFound, id.Short())
	}
	if p.Cancelled {
		return ErrCancelled
	}
	if !p.CanVote(now) {
		return fmt.Errorf("%w: window [%d, %d], now %d", ErrNotVotingPeriod, p.VotingStart, p.VotingEnd, now)
	}
	for _, v := range m.votes[id] {
		if v.Voter == voter {
			return fmt.Errorf("%w: %s", ErrAlreadyVoted, voter)
		}
	}
	if weight == 0 {
		return fmt.Errorf("%w: %s has no stake", ErrInsufficientStake, voter)
	}

	m.votes[id] = append(m.votes[id], Vote{
		ProposalID: id,
		Voter:      voter,
		Yes:        yes,
		Weight:     weight,
		VotedAt:    now,
	})
	side := "no"
	if yes {
		side = "yes"
	}
	metrics.VotesCast().AddWithLabel(1, map[string]string{"side": side})

	klog.Governance.Info().
		Str("proposal", id.Short()).
		Str("voter", voter.String()).
		Bool("yes", yes).
		Uint64("weight", weight).
		Msg("Vote cast")
	return nil
}

// Tally counts the votes cast so far.
func (m *Manager) Tally(id types.Hash) (VoteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.proposals[id]
	if !ok {
		return VoteResult{}, fmt.Errorf("%w: %s", ErrProposalNotFound, id.Short())
	}
	return m.tallyLocked(p), nil
}

// tallyLocked applies quorum (turnout against the network stake recorded
// at creation) and then the pass ratio over the votes cast.
func (m *Manager) tallyLocked(p *Proposal) VoteResult {
	r := VoteResult{NetworkStake: p.NetworkStake}
	for _, v := range m.votes[p.ID] {
		if v.Yes {
			r.Yes = addSat(r.Yes, v.Weight)
		} else {
			r.No = addSat(r.No, v.Weight)
		}
	}
	r.Total = addSat(r.Yes, r.No)
	r.QuorumMet = r.Total > 0 && atLeastBps(r.Total, p.NetworkStake, p.QuorumBps)
	r.Passed = r.QuorumMet && atLeastBps(r.Yes, r.Total, p.PassBps)
	return r
}

// State returns the proposal's state at now.
func (m *Manager) State(id types.Hash, now uint64) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.proposals[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrProposalNotFound, id.Short())
	}
	return m.stateLocked(p, now), nil
}

func (m *Manager) stateLocked(p *Proposal, now uint64) State {
	switch {
	case p.Executed:
		return StateExecuted
	case p.Cancelled:
		return StateCancelled
	case now < p.VotingStart:
		return StatePending
	case now <= p.VotingEnd:
		return StateVoting
	case m.tallyLocked(p).Passed:
		return StatePassed
	default:
		return StateRejected
	}
}

// Execute applies a passed proposal's parameters once its execution delay
// has elapsed.
func (m *Manager) Execute(id types.Hash, now uint64) error {
	m.mu.Lock()
	p, ok := m.proposals[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrProposalNotFound, id.Short())
	}
	var err error
	switch {
	case p.Executed:
		err = ErrAlreadyExecuted
	case p.Cancelled:
		err = ErrCancelled
	case now <= p.VotingEnd:
		err = fmt.Errorf("%w: voting ends at %d", ErrNotPassed, p.VotingEnd)
	case !m.tallyLocked(p).Passed:
		err = ErrNotPassed
	case now < p.ExecutionTime:
		err = fmt.Errorf("%w: executable at %d", ErrTooEarly, p.ExecutionTime)
	}
	if err != nil {
		m.mu.Unlock()
		return err
	}
	// Claim the proposal so a concurrent Execute fails, then apply without
	// holding the governance lock; applying may change governance rules.
	p.Executed = true
	params := append([]Param(nil), p.Params...)
	m.mu.Unlock()

	if err := m.apply(params); err != nil {
		m.mu.Lock()
		p.Executed = false
		m.mu.Unlock()
		klog.Governance.Error().Err(err).Str("proposal", id.Short()).Msg("Proposal execution failed")
		return err
	}

	klog.Governance.Info().
		Str("proposal", id.Short()).
		Int("params", len(params)).
		Msg("Proposal executed")
	return nil
}

// Cancel withdraws a proposal. Only its proposer may cancel, and only
// before voting ends.
func (m *Manager) Cancel(id types.Hash, proposer types.Address, now uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.proposals[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrProposalNotFound, id.Short())
	}
	switch {
	case p.Proposer != proposer:
		return ErrNotProposer
	case p.Executed:
		return ErrAlreadyExecuted
	case p.Cancelled:
		return ErrCancelled
	case now > p.VotingEnd:
		return fmt.Errorf("%w: voting ended at %d", ErrNotVotingPeriod, p.VotingEnd)
	}
	p.Cancelled = true

	klog.Governance.Info().Str("proposal", id.Short()).Msg("Proposal cancelled")
	return nil
}

// Proposal returns a copy of the proposal.
func (m *Manager) Proposal(id types.Hash) (*Proposal, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.proposals[id]
	if !ok {
		return nil, false
	}
	return p.Copy(), true
}

// Proposals returns proposals in creation order. With states given, only
// proposals in one of those states at now are returned.
func (m *Manager) Proposals(now uint64, states ...State) []*Proposal {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Proposal
	for _, id := range m.order {
		p := m.proposals[id]
		if len(states) > 0 && !containsState(states, m.stateLocked(p, now)) {
			continue
		}
		out = append(out, p.Copy())
	}
	return out
}

// ActiveProposals returns the proposals open for voting at now.
func (m *Manager) ActiveProposals(now uint64) []*Proposal {
	return m.Proposals(now, StateVoting)
}

// ProposalsByKind returns every proposal of kind, in creation order.
func (m *Manager) ProposalsByKind(kind Kind) []*Proposal {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Proposal
	for _, id := range m.order {
		if p := m.proposals[id]; p.Kind == kind {
			out = append(out, p.Copy())
		}
	}
	return out
}

// Votes returns the votes on id in the order they were cast.
func (m *Manager) Votes(id types.Hash) []Vote {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Vote(nil), m.votes[id]...)
}

// HasVoted reports whether voter has voted on id.
func (m *Manager) HasVoted(id types.Hash, voter types.Address) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.votes[id] {
		if v.Voter == voter {
			return true
		}
	}
	return false
}

// applyParams returns the target's protocol parameters with params
// applied, mapping configuration errors onto governance errors.
func (m *Manager) applyParams(params []Param) (config.ProtocolConfig, error) {
	cfg := m.target.Protocol()
	for _, kv := range params {
		if err := cfg.Set(kv.Key, kv.Value); err != nil {
			if errors.Is(err, config.ErrUnknownParam) {
				return cfg, fmt.Errorf("%w: %s", ErrUnknownParameter, kv.Key)
			}
			return cfg, fmt.Errorf("%w: %v", ErrInvalidParameter, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	}
	return cfg, nil
}

func (m *Manager) apply(params []Param) error {
	if len(params) == 0 {
		return nil
	}
	cfg, err := m.applyParams(params)
	if err != nil {
		return err
	}
	return m.target.ApplyProtocol(cfg)
}

// atLeastBps reports a/b >= bps/10000 without overflow.
func atLeastBps(a, b, bps uint64) bool {
	lhs := new(uint256.Int).Mul(uint256.NewInt(a), uint256.NewInt(config.BpsDenominator))
	rhs := new(uint256.Int).Mul(uint256.NewInt(b), uint256.NewInt(bps))
	return !lhs.Lt(rhs)
}

func addSat(a, b uint64) uint64 {
	if s := a + b; s >= a {
		return s
	}
	return ^uint64(0)
}

func containsState(states []State, s State) bool {
	for _, st := range states {
		if st == s {
			return true
		}
	}
	return false
}

// sortProposals orders proposals by sequence number.
func sortProposals(ps []Proposal) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].Seq < ps[j].Seq })
}
