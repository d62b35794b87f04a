package slashing

import (
	"sort"

	"github.com/Klingon-tech/klingnet-pos/internal/consensus"
	"github.com/Klingon-tech/klingnet-pos/pkg/types"
)

// AmountRecord pairs a validator with an amount or factor.
type AmountRecord struct {
	Validator types.Address
	Value     uint64
}

// State is the persistent part of the manager, as ordered fixed-shape
// records.
type State struct {
	Evidence      []Evidence // acceptance order
	Bans          []BanRecord
	RewardFactors []AmountRecord
	Slashed       []AmountRecord
	TotalSlashed  uint64
	Activity      []consensus.ActivityStats
}

// Snapshot copies the persistent state.
func (m *Manager) Snapshot() *State {
	s := &State{}
	m.stake.View(func(*consensus.Txn) error {
		for _, id := range m.order {
			s.Evidence = append(s.Evidence, *m.evidence[id].Copy())
		}
		for v, until := range m.bans {
			s.Bans = append(s.Bans, BanRecord{Validator: v, Until: until})
		}
		s.RewardFactors = sortedRecords(m.rewardFactors)
		s.Slashed = sortedRecords(m.slashed)
		s.TotalSlashed = m.totalSlashed
		return nil
	})
	sort.Slice(s.Bans, func(i, j int) bool {
		return s.Bans[i].Validator.Compare(s.Bans[j].Validator) < 0
	})
	for _, st := range m.tracker.GetAllStats() {
		s.Activity = append(s.Activity, *st)
	}
	return s
}

// Restore replaces the manager's state with s.
func (m *Manager) Restore(s *State) {
	m.stake.Update(func(*consensus.Txn) error {
		m.evidence = make(map[types.Hash]*Evidence, len(s.Evidence))
		m.order = m.order[:0]
		m.byValidator = make(map[types.Address][]types.Hash)
		for i := range s.Evidence {
			ev := s.Evidence[i].Copy()
			id := ev.ID()
			if _, dup := m.evidence[id]; dup {
				continue
			}
			m.evidence[id] = ev
			m.order = append(m.order, id)
			m.byValidator[ev.Validator] = append(m.byValidator[ev.Validator], id)
		}

		m.bans = make(map[types.Address]uint64, len(s.Bans))
		for _, b := range s.Bans {
			m.bans[b.Validator] = b.Until
		}
		m.rewardFactors = recordMap(s.RewardFactors)
		m.slashed = recordMap(s.Slashed)
		m.totalSlashed = s.TotalSlashed
		return nil
	})
	m.tracker.Restore(s.Activity)
}

func sortedRecords(in map[types.Address]uint64) []AmountRecord {
	out := make([]AmountRecord, 0, len(in))
	for v, amt := range in {
		out = append(out, AmountRecord{Validator: v, Value: amt})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Validator.Compare(out[j].Validator) < 0
	})
	return out
}

func recordMap(in []AmountRecord) map[types.Address]uint64 {
	out := make(map[types.Address]uint64, len(in))
	for _, r := range in {
		out[r.Validator] = r.Value
	}
	return out
}
