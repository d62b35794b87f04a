package governance

import (
	"fmt"

	"github.com/Klingon-tech/klingnet-pos/pkg/types"
)

// Snapshot is the persistent governance state.
type Snapshot struct {
	Proposals []Proposal // creation order
	Votes     []Vote     // grouped by proposal, cast order within
	Seq       uint64
}

// Snapshot copies the proposals and votes.
func (m *Manager) Snapshot() *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := &Snapshot{Seq: m.seq}
	for _, id := range m.order {
		s.Proposals = append(s.Proposals, *m.proposals[id].Copy())
		s.Votes = append(s.Votes, m.votes[id]...)
	}
	return s
}

// Validate checks that s holds no duplicate proposals and no votes for
// unknown ones.
func (s *Snapshot) Validate() error {
	ids := make(map[types.Hash]struct{}, len(s.Proposals))
	for i := range s.Proposals {
		id := s.Proposals[i].ID
		if _, dup := ids[id]; dup {
			return fmt.Errorf("duplicate proposal %s", id.Short())
		}
		ids[id] = struct{}{}
	}
	for _, v := range s.Votes {
		if _, ok := ids[v.ProposalID]; !ok {
			return fmt.Errorf("%w: vote for %s", ErrProposalNotFound, v.ProposalID.Short())
		}
	}
	return nil
}

// Restore replaces the manager's state with s. Votes for unknown
// proposals are rejected.
func (m *Manager) Restore(s *Snapshot) error {
	if err := s.Validate(); err != nil {
		return err
	}
	proposals := make(map[types.Hash]*Proposal, len(s.Proposals))
	ps := append([]Proposal(nil), s.Proposals...)
	sortProposals(ps)
	order := make([]types.Hash, 0, len(ps))
	seq := s.Seq
	for i := range ps {
		p := ps[i].Copy()
		proposals[p.ID] = p
		order = append(order, p.ID)
		seq = max(seq, p.Seq)
	}
	votes := make(map[types.Hash][]Vote)
	for _, v := range s.Votes {
		votes[v.ProposalID] = append(votes[v.ProposalID], v)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.proposals = proposals
	m.order = order
	m.votes = votes
	m.seq = seq
	return nil
}
