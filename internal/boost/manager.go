package boost

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Klingon-tech/klingnet-pos/config"
	"github.com/Klingon-tech/klingnet-pos/internal/consensus"
	klog "github.com/Klingon-tech/klingnet-pos/internal/log"
	"github.com/Klingon-tech/klingnet-pos/internal/metrics"
	"github.com/Klingon-tech/klingnet-pos/pkg/types"
)

// Manager tracks boosts by NFT and by owner. It has its own lock; the
// stake manager calls EffectiveStake while holding the stake lock, so the
// boost lock is always taken second.
type Manager struct {
	mu       sync.RWMutex
	boosts   map[types.Hash]*Boost
	byOwner  map[types.Address]map[types.Hash]struct{}
	maxBps   uint64
	stacking bool
}

// Compile-time check.
var _ consensus.Booster = (*Manager)(nil)

// NewManager creates a boost manager with the given limits.
func NewManager(rules config.BoostRules) *Manager {
	m := &Manager{
		boosts:  make(map[types.Hash]*Boost),
		byOwner: make(map[types.Address]map[types.Hash]struct{}),
	}
	m.SetRules(rules)
	return m
}

// SetRules applies the protocol boost limits.
func (m *Manager) SetRules(rules config.BoostRules) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxBps = max(rules.MaxMultiplierBps, NoBoostBps)
	m.stacking = rules.StackingEnabled
}

// SetMaxMultiplier sets the cap on a combined multiplier. Values below
// 1.0 are raised to 1.0.
func (m *Manager) SetMaxMultiplier(bps uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxBps = max(bps, NoBoostBps)
}

// MaxMultiplier returns the multiplier cap in basis points.
func (m *Manager) MaxMultiplier() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.maxBps
}

// SetStackingEnabled switches between taking the largest multiplier (off)
// and multiplying all of them together (on).
func (m *Manager) SetStackingEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stacking = enabled
}

// StackingEnabled reports whether multipliers stack.
func (m *Manager) StackingEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stacking
}

// AddBoost registers a new boost.
func (m *Manager) AddBoost(b Boost) error {
	if err := b.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.boosts[b.NFTID]; ok {
		return fmt.Errorf("%w: %s", ErrExists, b.NFTID.Short())
	}
	m.insert(&b)
	metrics.ActiveBoosts().Set(int64(len(m.boosts)))

	klog.Boost.Info().
		Str("nft", b.NFTID.Short()).
		Str("owner", b.Owner.String()).
		Uint64("multiplier_bps", b.MultiplierBps).
		Uint64("end", b.End).
		Msg("Boost added")
	return nil
}

// RemoveBoost deletes a boost and returns it.
func (m *Manager) RemoveBoost(id types.Hash) (*Boost, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.boosts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id.Short())
	}
	m.delete(b)
	metrics.ActiveBoosts().Set(int64(len(m.boosts)))

	klog.Boost.Info().
		Str("nft", id.Short()).
		Str("owner", b.Owner.String()).
		Msg("Boost removed")
	cp := *b
	return &cp, nil
}

// UpdateBoost replaces an existing boost, re-indexing it when the owner
// changed.
func (m *Manager) UpdateBoost(b Boost) error {
	if err := b.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.boosts[b.NFTID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, b.NFTID.Short())
	}
	m.delete(old)
	m.insert(&b)

	klog.Boost.Debug().
		Str("nft", b.NFTID.Short()).
		Str("owner", b.Owner.String()).
		Uint64("multiplier_bps", b.MultiplierBps).
		Msg("Boost updated")
	return nil
}

// Boost returns a copy of the boost for id, expired or not.
func (m *Manager) Boost(id types.Hash) (*Boost, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.boosts[id]
	if !ok {
		return nil, false
	}
	cp := *b
	return &cp, true
}

// BoostsFor returns the boosts active for addr at now, sorted by NFT id.
func (m *Manager) BoostsFor(addr types.Address, now uint64) []*Boost {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Boost
	for id := range m.byOwner[addr] {
		if b := m.boosts[id]; b.Active(now) {
			cp := *b
			out = append(out, &cp)
		}
	}
	sortBoosts(out)
	return out
}

// ActiveBoosts returns every boost active at now, sorted by NFT id.
func (m *Manager) ActiveBoosts(now uint64) []*Boost {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Boost
	for _, b := range m.boosts {
		if b.Active(now) {
			cp := *b
			out = append(out, &cp)
		}
	}
	sortBoosts(out)
	return out
}

// Len returns the number of stored boosts, including expired ones not yet
// swept.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.boosts)
}

// TotalMultiplier returns addr's combined multiplier at now in basis
// points, between 1.0 and the configured cap.
func (m *Manager) TotalMultiplier(addr types.Address, now uint64) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.multiplierLocked(addr, now)
}

func (m *Manager) multiplierLocked(addr types.Address, now uint64) uint64 {
	total := uint64(NoBoostBps)
	for id := range m.byOwner[addr] {
		b := m.boosts[id]
		if !b.Active(now) {
			continue
		}
		if m.stacking {
			// Every factor is >= 1.0, so clamping early gives the same result
			// and keeps the product in range.
			total = min(consensus.ApplyBps(total, b.MultiplierBps), m.maxBps)
		} else {
			total = max(total, b.MultiplierBps)
		}
	}
	return min(total, m.maxBps)
}

// EffectiveStake returns stake scaled by addr's multiplier at now.
func (m *Manager) EffectiveStake(addr types.Address, stake, now uint64) uint64 {
	return consensus.ApplyBps(stake, m.TotalMultiplier(addr, now))
}

// SweepExpired removes boosts that have ended by now and returns how many.
func (m *Manager) SweepExpired(now uint64) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int
	for _, b := range m.boosts {
		if b.Expired(now) {
			m.delete(b)
			n++
		}
	}
	if n > 0 {
		metrics.ActiveBoosts().Set(int64(len(m.boosts)))
		klog.Boost.Debug().Int("count", n).Msg("Expired boosts swept")
	}
	return n
}

// Snapshot returns every stored boost, sorted by NFT id.
func (m *Manager) Snapshot() []Boost {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Boost, 0, len(m.boosts))
	for _, b := range m.boosts {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NFTID.Less(out[j].NFTID) })
	return out
}

// ValidateAll checks every boost in a restore set.
func ValidateAll(boosts []Boost) error {
	for i := range boosts {
		if err := boosts[i].Validate(); err != nil {
			return fmt.Errorf("boost %d: %w", i, err)
		}
	}
	return nil
}

// Restore replaces all boosts. Invalid entries are rejected as a whole.
func (m *Manager) Restore(boosts []Boost) error {
	if err := ValidateAll(boosts); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.boosts = make(map[types.Hash]*Boost, len(boosts))
	m.byOwner = make(map[types.Address]map[types.Hash]struct{})
	for i := range boosts {
		b := boosts[i]
		m.insert(&b)
	}
	metrics.ActiveBoosts().Set(int64(len(m.boosts)))
	return nil
}

func (m *Manager) insert(b *Boost) {
	m.boosts[b.NFTID] = b
	ids := m.byOwner[b.Owner]
	if ids == nil {
		ids = make(map[types.Hash]struct{})
		m.byOwner[b.Owner] = ids
	}
	ids[b.NFTID] = struct{}{}
}

func (m *Manager) delete(b *Boost) {
	delete(m.boosts, b.NFTID)
	if ids := m.byOwner[b.Owner]; ids != nil {
		delete(ids, b.NFTID)
		if len(ids) == 0 {
			delete(m.byOwner, b.Owner)
		}
	}
}

func sortBoosts(bs []*Boost) {
	sort.Slice(bs, func(i, j int) bool { return bs[i].NFTID.Less(bs[j].NFTID) })
}
