package consensus

import (
	"fmt"
	"sort"

	"github.com/Klingon-tech/klingnet-pos/config"
	"github.com/Klingon-tech/klingnet-pos/pkg/crypto"
	"github.com/Klingon-tech/klingnet-pos/pkg/types"
)

// StakePosition is one validator's locked stake.
type StakePosition struct {
	Address   types.Address `json:"address"`
	Amount    uint64        `json:"amount"`
	CreatedAt uint64        `json:"created_at"`
	Nonce     uint64        `json:"nonce"`
	// StakeHash is fixed at creation; amount updates do not change it.
	StakeHash types.Hash `json:"stake_hash"`
}

// Age returns now - CreatedAt, or 0 if now is before creation.
func (p *StakePosition) Age(now uint64) uint64 {
	if now < p.CreatedAt {
		return 0
	}
	return now - p.CreatedAt
}

// StakeHash returns H(address | amount | created_at | nonce).
func StakeHash(addr types.Address, amount, createdAt, nonce uint64) types.Hash {
	return crypto.NewHasher().
		WriteBytes(addr[:]).
		WriteUint64(amount).
		WriteUint64(createdAt).
		WriteUint64(nonce).
		Sum()
}

// Registry holds every active stake position, at most one per address.
// It is not safe for concurrent use; Manager serializes access to it.
type Registry struct {
	rules     config.StakingRules
	positions map[types.Address]*StakePosition
	byHash    map[types.Hash]types.Address
	nonce     uint64
}

// NewRegistry creates an empty registry enforcing rules.
func NewRegistry(rules config.StakingRules) *Registry {
	return &Registry{
		rules:     rules,
		positions: make(map[types.Address]*StakePosition),
		byHash:    make(map[types.Hash]types.Address),
	}
}

// Rules returns the staking rules in force.
func (r *Registry) Rules() config.StakingRules { return r.rules }

// SetRules replaces the staking rules. Existing positions are kept even if
// they fall below a raised minimum; they simply stop being eligible.
func (r *Registry) SetRules(rules config.StakingRules) { r.rules = rules }

// Add creates a new position for addr.
func (r *Registry) Add(addr types.Address, amount, now uint64) (*StakePosition, error) {
	if _, ok := r.positions[addr]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyStaking, addr)
	}
	if amount < r.rules.MinStakeAmount {
		return nil, fmt.Errorf("%w: %d < %d", ErrBelowMinimum, amount, r.rules.MinStakeAmount)
	}
	r.nonce++
	p := &StakePosition{
		Address:   addr,
		Amount:    amount,
		CreatedAt: now,
		Nonce:     r.nonce,
		StakeHash: StakeHash(addr, amount, now, r.nonce),
	}
	r.insert(p)
	cp := *p
	return &cp, nil
}

// Remove deletes the position for addr and returns it.
func (r *Registry) Remove(addr types.Address) (*StakePosition, error) {
	p, ok := r.positions[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, addr)
	}
	delete(r.positions, addr)
	delete(r.byHash, p.StakeHash)
	return p, nil
}

// UpdateAmount changes the amount of an existing position in place.
func (r *Registry) UpdateAmount(addr types.Address, amount uint64) error {
	p, ok := r.positions[addr]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, addr)
	}
	if amount < r.rules.MinStakeAmount {
		return fmt.Errorf("%w: %d < %d", ErrBelowMinimum, amount, r.rules.MinStakeAmount)
	}
	p.Amount = amount
	return nil
}

// Reduce subtracts up to delta from addr's amount, ignoring the minimum.
// A position that reaches zero is removed. It returns the amount actually
// taken and whether the position was removed.
func (r *Registry) Reduce(addr types.Address, delta uint64) (taken uint64, removed bool, err error) {
	p, ok := r.positions[addr]
	if !ok {
		return 0, false, fmt.Errorf("%w: %s", ErrNotFound, addr)
	}
	taken = min(delta, p.Amount)
	p.Amount -= taken
	if p.Amount == 0 {
		delete(r.positions, addr)
		delete(r.byHash, p.StakeHash)
		removed = true
	}
	return taken, removed, nil
}

// Get returns a copy of addr's position.
func (r *Registry) Get(addr types.Address) (*StakePosition, bool) {
	p, ok := r.positions[addr]
	if !ok {
		return nil, false
	}
	cp := *p
	return &cp, true
}

// ByStakeHash looks a position up by its stake hash.
func (r *Registry) ByStakeHash(h types.Hash) (*StakePosition, bool) {
	addr, ok := r.byHash[h]
	if !ok {
		return nil, false
	}
	return r.Get(addr)
}

// All returns copies of every position, sorted by address.
func (r *Registry) All() []*StakePosition {
	out := make([]*StakePosition, 0, len(r.positions))
	for _, p := range r.positions {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Address.Compare(out[j].Address) < 0
	})
	return out
}

// IsEligible reports whether p may produce blocks at now: its amount meets
// the minimum and its age lies in [MinStakeAge, MaxStakeAge].
// A zero MaxStakeAge means no upper bound.
func (r *Registry) IsEligible(p *StakePosition, now uint64) bool {
	if p.Amount < r.rules.MinStakeAmount || now < p.CreatedAt {
		return false
	}
	age := p.Age(now)
	if age < r.rules.MinStakeAge {
		return false
	}
	return r.rules.MaxStakeAge == 0 || age <= r.rules.MaxStakeAge
}

// Eligible returns copies of the eligible positions, sorted by address.
func (r *Registry) Eligible(now uint64) []*StakePosition {
	var out []*StakePosition
	for _, p := range r.All() {
		if r.IsEligible(p, now) {
			out = append(out, p)
		}
	}
	return out
}

// TotalStaked sums every position's amount.
func (r *Registry) TotalStaked() uint64 {
	var total uint64
	for _, p := range r.positions {
		total = addSat(total, p.Amount)
	}
	return total
}

// Len returns the number of positions.
func (r *Registry) Len() int { return len(r.positions) }

// Nonce returns the running nonce used for the last stake hash.
func (r *Registry) Nonce() uint64 { return r.nonce }

// CheckPositions reports whether positions can be restored: one position
// per address and per stake hash.
func CheckPositions(positions []StakePosition) error {
	addrs := make(map[types.Address]struct{}, len(positions))
	hashes := make(map[types.Hash]struct{}, len(positions))
	for i := range positions {
		p := &positions[i]
		if _, dup := addrs[p.Address]; dup {
			return fmt.Errorf("%w: duplicate position %s in checkpoint", ErrAlreadyStaking, p.Address)
		}
		if _, dup := hashes[p.StakeHash]; dup {
			return fmt.Errorf("%w: duplicate stake hash %s in checkpoint", ErrAlreadyStaking, p.StakeHash.Short())
		}
		addrs[p.Address] = struct{}{}
		hashes[p.StakeHash] = struct{}{}
	}
	return nil
}

// Restore replaces the registry contents with positions loaded from a
// checkpoint. Stake hashes are taken as stored.
func (r *Registry) Restore(positions []StakePosition, nonce uint64) error {
	if err := CheckPositions(positions); err != nil {
		return err
	}
	fresh := make(map[types.Address]*StakePosition, len(positions))
	for i := range positions {
		p := positions[i]
		fresh[p.Address] = &p
		if p.Nonce > nonce {
			nonce = p.Nonce
		}
	}
	r.positions = make(map[types.Address]*StakePosition, len(fresh))
	r.byHash = make(map[types.Hash]types.Address, len(fresh))
	for _, p := range fresh {
		r.insert(p)
	}
	r.nonce = nonce
	return nil
}

func (r *Registry) insert(p *StakePosition) {
	r.positions[p.Address] = p
	r.byHash[p.StakeHash] = p.Address
}

// addSat adds with saturation at MaxUint64.
func addSat(a, b uint64) uint64 {
	if a > ^uint64(0)-b {
		return ^uint64(0)
	}
	return a + b
}
