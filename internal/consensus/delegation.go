package consensus

import (
	"fmt"
	"sort"

	klog "github.com/Klingon-tech/klingnet-pos/internal/log"
	"github.com/Klingon-tech/klingnet-pos/pkg/types"
)

// Delegation lets Staker produce blocks with Owner's position (cold
// staking). The stake and its rewards stay with Owner. Bans and slashes
// earned by Staker reach every position it produces for.
type Delegation struct {
	Owner     types.Address `json:"owner"`
	Staker    types.Address `json:"staker"`
	CreatedAt uint64        `json:"created_at"`
	Expiry    uint64        `json:"expiry"` // 0 until revoked
}

// Active reports whether d is in force at now.
func (d *Delegation) Active(now uint64) bool {
	return d.Expiry == 0 || now < d.Expiry
}

// DelegateStake authorizes staker to produce blocks for owner's position,
// replacing any earlier delegation by owner. An expiry of 0 never expires.
func (m *Manager) DelegateStake(owner, staker types.Address, expiry, now uint64) (*Delegation, error) {
	d := &Delegation{Owner: owner, Staker: staker, CreatedAt: now, Expiry: expiry}
	if err := checkDelegation(d); err != nil {
		return nil, err
	}
	if !d.Active(now) {
		return nil, fmt.Errorf("%w: expiry %d is not after %d", ErrInvalidDelegation, expiry, now)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.delegations[owner] = d
	klog.Stake.Info().
		Str("owner", owner.String()).
		Str("staker", staker.String()).
		Uint64("expiry", expiry).
		Msg("Stake delegated")
	cp := *d
	return &cp, nil
}

// RevokeDelegation ends owner's delegation. Owner produces its own blocks
// again from the next selection.
func (m *Manager) RevokeDelegation(owner types.Address) (*Delegation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.delegations[owner]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoDelegation, owner)
	}
	delete(m.delegations, owner)
	klog.Stake.Info().
		Str("owner", owner.String()).
		Str("staker", d.Staker.String()).
		Msg("Delegation revoked")
	return d, nil
}

// Delegation returns owner's delegation, expired or not.
func (m *Manager) Delegation(owner types.Address) (*Delegation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.delegations[owner]
	if !ok {
		return nil, false
	}
	cp := *d
	return &cp, true
}

// Delegations returns every stored delegation, sorted by owner.
func (m *Manager) Delegations() []Delegation {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Delegation, 0, len(m.delegations))
	for _, d := range m.delegations {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Owner.Compare(out[j].Owner) < 0 })
	return out
}

// ProducerFor returns the address that signs blocks for owner's position
// at now: the active delegate, else owner itself.
func (m *Manager) ProducerFor(owner types.Address, now uint64) types.Address {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.producerLocked(owner, now)
}

// OwnerOf returns the address holding the position with stakeHash.
func (m *Manager) OwnerOf(stakeHash types.Hash) (types.Address, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.registry.ByStakeHash(stakeHash)
	if !ok {
		return types.Address{}, false
	}
	return p.Address, true
}

// SweepDelegations drops delegations that have expired by now.
func (m *Manager) SweepDelegations(now uint64) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for owner, d := range m.delegations {
		if !d.Active(now) {
			delete(m.delegations, owner)
			n++
		}
	}
	return n
}

// CheckDelegations reports whether ds can be restored: valid entries and
// one delegation per owner.
func CheckDelegations(ds []Delegation) error {
	seen := make(map[types.Address]struct{}, len(ds))
	for i := range ds {
		if err := checkDelegation(&ds[i]); err != nil {
			return err
		}
		if _, dup := seen[ds[i].Owner]; dup {
			return fmt.Errorf("%w: duplicate delegation by %s", ErrInvalidDelegation, ds[i].Owner)
		}
		seen[ds[i].Owner] = struct{}{}
	}
	return nil
}

// RestoreDelegations replaces all delegations, e.g. from a checkpoint.
func (m *Manager) RestoreDelegations(ds []Delegation) error {
	if err := CheckDelegations(ds); err != nil {
		return err
	}
	fresh := make(map[types.Address]*Delegation, len(ds))
	for i := range ds {
		d := ds[i]
		fresh[d.Owner] = &d
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.delegations = fresh
	return nil
}

func checkDelegation(d *Delegation) error {
	if d.Owner.IsZero() || d.Staker.IsZero() {
		return fmt.Errorf("%w: missing address", ErrInvalidDelegation)
	}
	if d.Owner == d.Staker {
		return fmt.Errorf("%w: %s delegates to itself", ErrInvalidDelegation, d.Owner)
	}
	return nil
}

func (m *Manager) producerLocked(owner types.Address, now uint64) types.Address {
	if d, ok := m.delegations[owner]; ok && d.Active(now) {
		return d.Staker
	}
	return owner
}

// blockedLocked reports whether p may not produce at now because its owner
// or its producer is banned.
func (m *Manager) blockedLocked(p *StakePosition, now uint64) bool {
	if m.penalties.IsBanned(p.Address, now) {
		return true
	}
	producer := m.producerLocked(p.Address, now)
	return producer != p.Address && m.penalties.IsBanned(producer, now)
}

// backersLocked returns the owners whose stake addr is answerable for at
// now: addr's own position and every position delegated to it.
func (m *Manager) backersLocked(addr types.Address, now uint64) []types.Address {
	var out []types.Address
	if _, ok := m.registry.Get(addr); ok {
		out = append(out, addr)
	}
	for owner, d := range m.delegations {
		if d.Staker != addr || !d.Active(now) {
			continue
		}
		if _, ok := m.registry.Get(owner); ok {
			out = append(out, owner)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Compare(out[j]) < 0 })
	return out
}
