package slashing

import (
	"errors"
	"fmt"
	"sort"

	"github.com/Klingon-tech/klingnet-pos/config"
	"github.com/Klingon-tech/klingnet-pos/internal/consensus"
	klog "github.com/Klingon-tech/klingnet-pos/internal/log"
	"github.com/Klingon-tech/klingnet-pos/internal/metrics"
	"github.com/Klingon-tech/klingnet-pos/pkg/types"
)

// Manager validates evidence and enforces penalties.
//
// All of its state is guarded by the stake manager's lock: it is only read
// inside consensus.Manager.View and only written inside Update, so a piece
// of evidence is checked, stored and punished in one critical section.
type Manager struct {
	stake   *consensus.Manager
	tracker *consensus.ActivityTracker

	enabled             bool
	penalties           map[Kind]Penalty
	inactivityThreshold uint64

	evidence    map[types.Hash]*Evidence
	order       []types.Hash // acceptance order
	byValidator map[types.Address][]types.Hash

	bans          map[types.Address]uint64
	rewardFactors map[types.Address]uint64
	slashed       map[types.Address]uint64
	totalSlashed  uint64
}

// NewManager creates a slashing manager over stake using rules.
// tracker supplies validator activity for inactivity evidence.
func NewManager(stake *consensus.Manager, tracker *consensus.ActivityTracker, rules config.SlashingRules) (*Manager, error) {
	m := &Manager{
		stake:         stake,
		tracker:       tracker,
		penalties:     make(map[Kind]Penalty),
		evidence:      make(map[types.Hash]*Evidence),
		byValidator:   make(map[types.Address][]types.Hash),
		bans:          make(map[types.Address]uint64),
		rewardFactors: make(map[types.Address]uint64),
		slashed:       make(map[types.Address]uint64),
	}
	if err := m.setRulesLocked(rules); err != nil {
		return nil, err
	}
	return m, nil
}

// Hook returns the view of ban and reward state that the stake manager
// consults while holding its own lock.
func (m *Manager) Hook() consensus.Penalties {
	return penaltyView{m: m}
}

type penaltyView struct{ m *Manager }

func (v penaltyView) IsBanned(addr types.Address, now uint64) bool {
	return v.m.bannedLocked(addr, now)
}

func (v penaltyView) RewardFactorBps(addr types.Address) uint64 {
	return v.m.rewardFactorLocked(addr)
}

// SetRules applies slashing rules from the protocol configuration.
func (m *Manager) SetRules(rules config.SlashingRules) error {
	return m.stake.Update(func(*consensus.Txn) error {
		return m.setRulesLocked(rules)
	})
}

func (m *Manager) setRulesLocked(rules config.SlashingRules) error {
	fresh := make(map[Kind]Penalty, len(Kinds))
	for kind, rule := range map[Kind]config.PenaltyRule{
		DoubleSigning: rules.DoubleSigning,
		InvalidBlock:  rules.InvalidBlock,
		Inactivity:    rules.Inactivity,
	} {
		p, err := PenaltyFromRule(rule)
		if err != nil {
			return fmt.Errorf("%s penalty: %w", kind, err)
		}
		fresh[kind] = p
	}
	m.penalties = fresh
	m.enabled = rules.Enabled
	m.inactivityThreshold = rules.InactivityThreshold
	return nil
}

// SetEnabled turns evidence processing on or off.
func (m *Manager) SetEnabled(enabled bool) {
	m.stake.Update(func(*consensus.Txn) error {
		m.enabled = enabled
		return nil
	})
	klog.Slashing.Info().Bool("enabled", enabled).Msg("Slashing toggled")
}

// Enabled reports whether evidence is being processed.
func (m *Manager) Enabled() bool {
	var on bool
	m.stake.View(func(*consensus.Txn) error {
		on = m.enabled
		return nil
	})
	return on
}

// SetPenalty replaces the penalty for one evidence kind.
func (m *Manager) SetPenalty(kind Kind, p Penalty) error {
	if err := p.Validate(); err != nil {
		return err
	}
	return m.stake.Update(func(*consensus.Txn) error {
		if _, ok := m.penalties[kind]; !ok {
			return fmt.Errorf("%w: %d", ErrUnknownKind, kind)
		}
		m.penalties[kind] = p
		return nil
	})
}

// Penalty returns the penalty configured for kind.
func (m *Manager) Penalty(kind Kind) (Penalty, bool) {
	var (
		p  Penalty
		ok bool
	)
	m.stake.View(func(*consensus.Txn) error {
		p, ok = m.penalties[kind]
		return nil
	})
	return p, ok
}

// SetInactivityThreshold sets how long a validator may go without
// producing a block before inactivity evidence can be proven.
func (m *Manager) SetInactivityThreshold(seconds uint64) {
	m.stake.Update(func(*consensus.Txn) error {
		m.inactivityThreshold = seconds
		return nil
	})
}

// SubmitEvidence validates ev and, if it proves misbehavior, stores it and
// applies the configured penalty. Evidence is judged at time now.
func (m *Manager) SubmitEvidence(ev *Evidence, now uint64) error {
	if ev == nil {
		return fmt.Errorf("%w: nil evidence", ErrMalformed)
	}
	if err := ev.Validate(); err != nil {
		return err
	}
	ev = ev.Copy()
	id := ev.ID()

	return m.stake.Update(func(tx *consensus.Txn) error {
		if !m.enabled {
			return ErrDisabled
		}
		if _, dup := m.evidence[id]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicate, id.Short())
		}
		if err := m.prove(tx, ev, now); err != nil {
			return err
		}
		if err := m.applyLocked(tx, ev.Validator, m.penalties[ev.Kind], now); err != nil {
			return err
		}

		m.evidence[id] = ev
		m.order = append(m.order, id)
		m.byValidator[ev.Validator] = append(m.byValidator[ev.Validator], id)
		metrics.EvidenceAccepted().AddWithLabel(1, map[string]string{"kind": ev.Kind.String()})

		klog.Slashing.Warn().
			Str("kind", ev.Kind.String()).
			Str("validator", ev.Validator.String()).
			Str("evidence", id.Short()).
			Msg("Evidence accepted")
		return nil
	})
}

// ApplyPenalty punishes validator directly, outside of evidence.
func (m *Manager) ApplyPenalty(validator types.Address, p Penalty, now uint64) error {
	if err := p.Validate(); err != nil {
		return err
	}
	return m.stake.Update(func(tx *consensus.Txn) error {
		return m.applyLocked(tx, validator, p, now)
	})
}

// applyLocked applies p. Ban state and stake are independent: slashing a
// position to zero leaves any ban in place.
func (m *Manager) applyLocked(tx *consensus.Txn, v types.Address, p Penalty, now uint64) error {
	log := klog.Slashing.Warn().Str("validator", v.String()).Str("penalty", p.Kind.String())

	switch p.Kind {
	case StakeSlash:
		// A delegate's misbehavior costs the owners it produces for.
		backers := tx.Backers(v, now)
		if len(backers) == 0 {
			log.Uint64("slashed", 0).Msg("Stake slashed")
		}
		for _, owner := range backers {
			taken, removed, err := tx.Slash(owner, p.FractionBps)
			if err != nil && !errors.Is(err, consensus.ErrNotFound) {
				return err
			}
			m.slashed[owner] += taken
			m.totalSlashed += taken
			klog.Slashing.Warn().
				Str("validator", v.String()).
				Str("owner", owner.String()).
				Str("penalty", p.Kind.String()).
				Uint64("slashed", taken).
				Bool("removed", removed).
				Msg("Stake slashed")
		}
		metrics.TotalSlashed().Set(int64(min(m.totalSlashed, 1<<63-1)))

	case TemporaryBan:
		until := now + p.Duration
		if until < now {
			until = BanForever
		}
		if cur, ok := m.bans[v]; !ok || until > cur {
			m.bans[v] = until
		}
		metrics.BannedValidators().Set(int64(len(m.bans)))
		log.Uint64("until", m.bans[v]).Msg("Validator banned")

	case PermanentBan:
		m.bans[v] = BanForever
		metrics.BannedValidators().Set(int64(len(m.bans)))
		log.Msg("Validator banned permanently")

	case RewardReduction:
		if cur, ok := m.rewardFactors[v]; !ok || p.FactorBps < cur {
			m.rewardFactors[v] = p.FactorBps
		}
		log.Uint64("factor_bps", m.rewardFactors[v]).Msg("Rewards reduced")

	default:
		return fmt.Errorf("unknown penalty kind %d", p.Kind)
	}
	return nil
}

// IsBanned reports whether v is banned at now.
func (m *Manager) IsBanned(v types.Address, now uint64) bool {
	banned, _ := m.BanStatus(v, now)
	return banned
}

// BanStatus returns whether v is banned at now and until when.
func (m *Manager) BanStatus(v types.Address, now uint64) (banned bool, until uint64) {
	m.stake.View(func(*consensus.Txn) error {
		banned = m.bannedLocked(v, now)
		if banned {
			until = m.bans[v]
		}
		return nil
	})
	return banned, until
}

// bannedLocked reports whether v's ban is in force at now. It never
// modifies the ban map; expired records are removed by SweepExpired.
func (m *Manager) bannedLocked(v types.Address, now uint64) bool {
	until, ok := m.bans[v]
	if !ok {
		return false
	}
	return BanRecord{Validator: v, Until: until}.Active(now)
}

// BannedValidators returns the bans in force at now, sorted by validator.
func (m *Manager) BannedValidators(now uint64) []BanRecord {
	var out []BanRecord
	m.stake.View(func(*consensus.Txn) error {
		for v, until := range m.bans {
			rec := BanRecord{Validator: v, Until: until}
			if rec.Active(now) {
				out = append(out, rec)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		return out[i].Validator.Compare(out[j].Validator) < 0
	})
	return out
}

// SweepExpired removes bans that have ended by now and returns how many.
func (m *Manager) SweepExpired(now uint64) int {
	var n int
	m.stake.Update(func(*consensus.Txn) error {
		for v, until := range m.bans {
			if !(BanRecord{Validator: v, Until: until}).Active(now) {
				delete(m.bans, v)
				n++
			}
		}
		metrics.BannedValidators().Set(int64(len(m.bans)))
		return nil
	})
	if n > 0 {
		klog.Slashing.Debug().Int("count", n).Msg("Expired bans swept")
	}
	return n
}

// RewardFactorBps returns v's reward multiplier in basis points.
func (m *Manager) RewardFactorBps(v types.Address) uint64 {
	var f uint64
	m.stake.View(func(*consensus.Txn) error {
		f = m.rewardFactorLocked(v)
		return nil
	})
	return f
}

func (m *Manager) rewardFactorLocked(v types.Address) uint64 {
	if f, ok := m.rewardFactors[v]; ok {
		return f
	}
	return config.BpsDenominator
}

// Evidence returns the accepted evidence with the given ID.
func (m *Manager) Evidence(id types.Hash) (*Evidence, bool) {
	var (
		ev *Evidence
		ok bool
	)
	m.stake.View(func(*consensus.Txn) error {
		var e *Evidence
		if e, ok = m.evidence[id]; ok {
			ev = e.Copy()
		}
		return nil
	})
	return ev, ok
}

// EvidenceFor returns the evidence accepted against v, oldest first.
func (m *Manager) EvidenceFor(v types.Address) []*Evidence {
	var out []*Evidence
	m.stake.View(func(*consensus.Txn) error {
		for _, id := range m.byValidator[v] {
			out = append(out, m.evidence[id].Copy())
		}
		return nil
	})
	return out
}

// AllEvidence returns every accepted evidence, oldest first.
func (m *Manager) AllEvidence() []*Evidence {
	var out []*Evidence
	m.stake.View(func(*consensus.Txn) error {
		out = make([]*Evidence, 0, len(m.order))
		for _, id := range m.order {
			out = append(out, m.evidence[id].Copy())
		}
		return nil
	})
	return out
}

// TotalSlashed returns the total amount removed by stake slashes.
func (m *Manager) TotalSlashed() uint64 {
	var total uint64
	m.stake.View(func(*consensus.Txn) error {
		total = m.totalSlashed
		return nil
	})
	return total
}

// SlashedAmount returns the amount slashed from v so far.
func (m *Manager) SlashedAmount(v types.Address) uint64 {
	var amt uint64
	m.stake.View(func(*consensus.Txn) error {
		amt = m.slashed[v]
		return nil
	})
	return amt
}
