package governance

import (
	"errors"
	"testing"

	"github.com/Klingon-tech/klingnet-pos/config"
	"github.com/Klingon-tech/klingnet-pos/pkg/types"
)

var (
	proposer = types.Address{0x01}
	alice    = types.Address{0x0a}
	bob      = types.Address{0x0b}
	nobody   = types.Address{0xff}
)

type fakeStake map[types.Address]uint64

func (s fakeStake) EffectiveStake(addr types.Address, _ uint64) uint64 { return s[addr] }

func (s fakeStake) TotalEffectiveStake(uint64) uint64 {
	var total uint64
	for _, v := range s {
		total += v
	}
	return total
}

type fakeTarget struct {
	cfg     config.ProtocolConfig
	applied int
	err     error
}

func (f *fakeTarget) Protocol() config.ProtocolConfig { return f.cfg }

func (f *fakeTarget) ApplyProtocol(p config.ProtocolConfig) error {
	if f.err != nil {
		return f.err
	}
	f.cfg = p
	f.applied++
	return nil
}

func testRules() config.GovernanceRules {
	return config.GovernanceRules{
		MinProposalStake: 500,
		VotingDelay:      0,
		VotingPeriod:     100,
		ExecutionDelay:   50,
		QuorumBps:        3000,
		PassBps:          5000,
	}
}

func newTestManager(t *testing.T) (*Manager, fakeStake, *fakeTarget) {
	t.Helper()
	stake := fakeStake{proposer: 1000, alice: 600, bob: 400}
	target := &fakeTarget{cfg: config.DefaultProtocol()}
	return NewManager(stake, target, testRules()), stake, target
}

func mustPropose(t *testing.T, m *Manager, params map[string]string, now uint64) types.Hash {
	t.Helper()
	id, err := m.CreateProposal(proposer, MinimumStakeChange, "lower minimum", "", params, now)
	if err != nil {
		t.Fatalf("CreateProposal: %v", err)
	}
	return id
}

// Scenario: a proposal gathers votes, passes, and executes exactly once.
func TestProposal_Lifecycle(t *testing.T) {
	m, _, target := newTestManager(t)
	id := mustPropose(t, m, map[string]string{"min_stake_amount": "500"}, 10)

	if st, _ := m.State(id, 10); st != StateVoting {
		t.Fatalf("state = %s, want voting", st)
	}
	if err := m.Vote(id, alice, true, 20); err != nil {
		t.Fatalf("Vote alice: %v", err)
	}

	partial, _ := m.Tally(id)
	if partial.Total != 600 || partial.Yes != 600 || partial.NetworkStake != 2000 {
		t.Errorf("partial tally = %+v", partial)
	}

	if err := m.Vote(id, bob, false, 30); err != nil {
		t.Fatalf("Vote bob: %v", err)
	}
	res, _ := m.Tally(id)
	if res.Yes != 600 || res.No != 400 || res.Total != 1000 || !res.Passed {
		t.Errorf("tally = %+v, want 600/400 passed", res)
	}

	if err := m.Execute(id, 50); !errors.Is(err, ErrNotPassed) {
		t.Errorf("execute during voting: got %v, want ErrNotPassed", err)
	}
	if err := m.Execute(id, 120); !errors.Is(err, ErrTooEarly) {
		t.Errorf("execute before delay: got %v, want ErrTooEarly", err)
	}
	if st, _ := m.State(id, 120); st != StatePassed {
		t.Errorf("state = %s, want passed", st)
	}
	if err := m.Execute(id, 160); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if err := m.Execute(id, 170); !errors.Is(err, ErrAlreadyExecuted) {
		t.Errorf("second execute: got %v, want ErrAlreadyExecuted", err)
	}

	if target.applied != 1 || target.cfg.Staking.MinStakeAmount != 500 {
		t.Errorf("target applied %d times, min stake %d", target.applied, target.cfg.Staking.MinStakeAmount)
	}
	if st, _ := m.State(id, 170); st != StateExecuted {
		t.Errorf("state = %s, want executed", st)
	}
}

func TestTally_Quorum(t *testing.T) {
	// Network stake 2000, quorum 30% = 600.
	tests := []struct {
		name   string
		votes  map[types.Address]bool
		quorum bool
		passed bool
	}{
		{"no votes", nil, false, false},
		{"unanimous but too small", map[types.Address]bool{bob: true}, false, false},
		{"exactly quorum", map[types.Address]bool{alice: true}, true, true},
		{"quorum but rejected", map[types.Address]bool{alice: false, bob: true}, true, false},
		{"even split passes at 50%", map[types.Address]bool{proposer: true, alice: false, bob: false}, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _, _ := newTestManager(t)
			id := mustPropose(t, m, nil, 10)
			for voter, yes := range tt.votes {
				if err := m.Vote(id, voter, yes, 20); err != nil {
					t.Fatalf("Vote: %v", err)
				}
			}
			res, err := m.Tally(id)
			if err != nil {
				t.Fatalf("Tally: %v", err)
			}
			if res.QuorumMet != tt.quorum || res.Passed != tt.passed {
				t.Errorf("tally = %+v, want quorum %v passed %v", res, tt.quorum, tt.passed)
			}
		})
	}
}

func TestCreateProposal_Errors(t *testing.T) {
	m, _, _ := newTestManager(t)

	if _, err := m.CreateProposal(bob, GeneralProposal, "t", "", nil, 10); !errors.Is(err, ErrInsufficientStake) {
		t.Errorf("small proposer: got %v, want ErrInsufficientStake", err)
	}
	if _, err := m.CreateProposal(proposer, GeneralProposal, "t", "", map[string]string{"block_size": "1"}, 10); !errors.Is(err, ErrUnknownParameter) {
		t.Errorf("unknown key: got %v, want ErrUnknownParameter", err)
	}
	if _, err := m.CreateProposal(proposer, GeneralProposal, "t", "", map[string]string{"quorum_bps": "abc"}, 10); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("bad value: got %v, want ErrInvalidParameter", err)
	}
	if _, err := m.CreateProposal(proposer, GeneralProposal, "t", "", map[string]string{"quorum_bps": "20000"}, 10); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("out of range: got %v, want ErrInvalidParameter", err)
	}
	if _, err := m.CreateProposal(proposer, Kind(99), "t", "", nil, 10); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("bad kind: got %v, want ErrUnknownKind", err)
	}
	if n := len(m.Proposals(10)); n != 0 {
		t.Errorf("%d proposals stored after failures", n)
	}
}

func TestCreateProposal_UniqueIDs(t *testing.T) {
	m, _, _ := newTestManager(t)
	a := mustPropose(t, m, nil, 10)
	b := mustPropose(t, m, nil, 10)
	if a == b {
		t.Fatal("identical proposals share an id")
	}
	p, ok := m.Proposal(a)
	if !ok || p.ID != a || p.Hash() != a {
		t.Errorf("Proposal(%s) = %+v", a.Short(), p)
	}
}

func TestVote_Errors(t *testing.T) {
	m, _, _ := newTestManager(t)
	m.SetRules(config.GovernanceRules{
		MinProposalStake: 500, VotingDelay: 10, VotingPeriod: 100, ExecutionDelay: 50,
		QuorumBps: 3000, PassBps: 5000,
	})
	id := mustPropose(t, m, nil, 0) // voting window [10, 110]

	if st, _ := m.State(id, 5); st != StatePending {
		t.Errorf("state = %s, want pending", st)
	}
	if err := m.Vote(id, alice, true, 9); !errors.Is(err, ErrNotVotingPeriod) {
		t.Errorf("before window: got %v, want ErrNotVotingPeriod", err)
	}
	if err := m.Vote(id, alice, true, 111); !errors.Is(err, ErrNotVotingPeriod) {
		t.Errorf("after window: got %v, want ErrNotVotingPeriod", err)
	}
	if err := m.Vote(id, alice, true, 110); err != nil {
		t.Errorf("last second of window: %v", err)
	}
	if err := m.Vote(id, alice, false, 110); !errors.Is(err, ErrAlreadyVoted) {
		t.Errorf("second vote: got %v, want ErrAlreadyVoted", err)
	}
	if err := m.Vote(id, nobody, true, 50); !errors.Is(err, ErrInsufficientStake) {
		t.Errorf("zero weight: got %v, want ErrInsufficientStake", err)
	}
	if err := m.Vote(types.Hash{0x42}, alice, true, 50); !errors.Is(err, ErrProposalNotFound) {
		t.Errorf("unknown proposal: got %v, want ErrProposalNotFound", err)
	}
	if !m.HasVoted(id, alice) || m.HasVoted(id, bob) {
		t.Error("HasVoted wrong")
	}
}

func TestVote_WeightIsSnapshot(t *testing.T) {
	m, stake, _ := newTestManager(t)
	id := mustPropose(t, m, nil, 10)
	m.Vote(id, alice, true, 20)

	stake[alice] = 5
	res, _ := m.Tally(id)
	if res.Yes != 600 {
		t.Errorf("yes = %d, want weight recorded at vote time (600)", res.Yes)
	}
	if vs := m.Votes(id); len(vs) != 1 || vs[0].Weight != 600 {
		t.Errorf("Votes = %+v", vs)
	}
}

func TestTally_NetworkStakeFixedAtCreation(t *testing.T) {
	m, stake, _ := newTestManager(t)
	id := mustPropose(t, m, nil, 10)

	// A large staker joins after creation; quorum still counts 2000.
	stake[nobody] = 100_000
	if err := m.Vote(id, alice, true, 20); err != nil {
		t.Fatalf("Vote: %v", err)
	}
	res, _ := m.Tally(id)
	if res.NetworkStake != 2000 || !res.QuorumMet {
		t.Errorf("tally = %+v, want network stake 2000 with quorum met", res)
	}
}

func TestCancel(t *testing.T) {
	m, _, _ := newTestManager(t)
	id := mustPropose(t, m, nil, 10)

	if err := m.Cancel(id, alice, 20); !errors.Is(err, ErrNotProposer) {
		t.Errorf("foreign cancel: got %v, want ErrNotProposer", err)
	}
	if err := m.Cancel(id, proposer, 20); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if err := m.Cancel(id, proposer, 20); !errors.Is(err, ErrCancelled) {
		t.Errorf("second cancel: got %v, want ErrCancelled", err)
	}
	if err := m.Vote(id, alice, true, 30); !errors.Is(err, ErrCancelled) {
		t.Errorf("vote on cancelled: got %v, want ErrCancelled", err)
	}
	if err := m.Execute(id, 1000); !errors.Is(err, ErrCancelled) {
		t.Errorf("execute cancelled: got %v, want ErrCancelled", err)
	}
	if st, _ := m.State(id, 1000); st != StateCancelled {
		t.Errorf("state = %s, want cancelled", st)
	}

	late := mustPropose(t, m, nil, 10)
	if err := m.Cancel(late, proposer, 111); !errors.Is(err, ErrNotVotingPeriod) {
		t.Errorf("cancel after voting: got %v, want ErrNotVotingPeriod", err)
	}
}

func TestExecute_Rejected(t *testing.T) {
	m, _, target := newTestManager(t)
	id := mustPropose(t, m, map[string]string{"min_stake_amount": "500"}, 10)
	m.Vote(id, alice, false, 20)

	if err := m.Execute(id, 200); !errors.Is(err, ErrNotPassed) {
		t.Errorf("got %v, want ErrNotPassed", err)
	}
	if st, _ := m.State(id, 200); st != StateRejected {
		t.Errorf("state = %s, want rejected", st)
	}
	if target.applied != 0 {
		t.Error("rejected proposal applied")
	}
}

func TestExecute_ApplyFailureReleasesClaim(t *testing.T) {
	m, _, target := newTestManager(t)
	id := mustPropose(t, m, map[string]string{"boost_stacking": "true"}, 10)
	m.Vote(id, alice, true, 20)

	target.err = errors.New("disk full")
	if err := m.Execute(id, 200); err == nil {
		t.Fatal("Execute succeeded with failing target")
	}
	target.err = nil
	if err := m.Execute(id, 200); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !target.cfg.Boost.StackingEnabled {
		t.Error("parameter not applied")
	}
}

func TestProposals_Filter(t *testing.T) {
	m, _, _ := newTestManager(t)
	a := mustPropose(t, m, nil, 10)
	b := mustPropose(t, m, nil, 10)
	m.Cancel(b, proposer, 10)

	if ps := m.Proposals(20); len(ps) != 2 || ps[0].ID != a {
		t.Errorf("Proposals = %d, want 2 in creation order", len(ps))
	}
	if ps := m.ActiveProposals(20); len(ps) != 1 || ps[0].ID != a {
		t.Errorf("ActiveProposals = %+v", ps)
	}
	if ps := m.Proposals(20, StateCancelled); len(ps) != 1 || ps[0].ID != b {
		t.Errorf("cancelled = %+v", ps)
	}
	if ps := m.ProposalsByKind(MinimumStakeChange); len(ps) != 2 {
		t.Errorf("ProposalsByKind = %d, want 2", len(ps))
	}
}

func TestSnapshotRestore(t *testing.T) {
	m, stake, target := newTestManager(t)
	id := mustPropose(t, m, map[string]string{"pass_bps": "6000"}, 10)
	m.Vote(id, alice, true, 20)
	m.Vote(id, bob, false, 21)
	snap := m.Snapshot()

	n := NewManager(stake, target, testRules())
	if err := n.Restore(snap); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	res, _ := n.Tally(id)
	if res.Yes != 600 || res.No != 400 {
		t.Errorf("restored tally = %+v", res)
	}
	if !n.HasVoted(id, bob) {
		t.Error("restored votes not indexed")
	}
	// New proposals continue the sequence.
	next := mustPropose(t, n, nil, 10)
	if p, _ := n.Proposal(next); p.Seq != 2 {
		t.Errorf("seq = %d, want 2", p.Seq)
	}

	bad := &Snapshot{Votes: []Vote{{ProposalID: types.Hash{0x99}, Voter: alice, Weight: 1}}}
	if err := n.Restore(bad); !errors.Is(err, ErrProposalNotFound) {
		t.Errorf("orphan vote: got %v, want ErrProposalNotFound", err)
	}
}

func TestParseKindState(t *testing.T) {
	for k := range kindNames {
		got, err := ParseKind(k.String())
		if err != nil || got != k {
			t.Errorf("ParseKind(%q) = %v, %v", k.String(), got, err)
		}
	}
	for s := range stateNames {
		got, err := ParseState(s.String())
		if err != nil || got != s {
			t.Errorf("ParseState(%q) = %v, %v", s.String(), got, err)
		}
	}
	if _, err := ParseKind("nope"); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("ParseKind(nope) = %v", err)
	}
}
