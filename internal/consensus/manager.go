package consensus

import (
	"fmt"
	"sync"

	"github.com/Klingon-tech/klingnet-pos/config"
	klog "github.com/Klingon-tech/klingnet-pos/internal/log"
	"github.com/Klingon-tech/klingnet-pos/internal/metrics"
	"github.com/Klingon-tech/klingnet-pos/pkg/block"
	"github.com/Klingon-tech/klingnet-pos/pkg/types"
)

// Manager is the single entry point to the stake registry. One mutex
// guards the registry and, through View and Update, any state other
// components keep consistent with it (bans, evidence, slash counters).
type Manager struct {
	mu          sync.Mutex
	registry    *Registry
	delegations map[types.Address]*Delegation // by owner
	booster     Booster
	penalties   Penalties
}

// NewManager creates a stake manager enforcing rules.
func NewManager(rules config.StakingRules) *Manager {
	return &Manager{
		registry:    NewRegistry(rules),
		delegations: make(map[types.Address]*Delegation),
		booster:     noBoost{},
		penalties:   noPenalties{},
	}
}

// SetBooster installs the effective-stake hook. Nil restores the default.
func (m *Manager) SetBooster(b Booster) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b == nil {
		b = noBoost{}
	}
	m.booster = b
}

// SetPenalties installs the ban and reward-factor hook. Nil restores the default.
func (m *Manager) SetPenalties(p Penalties) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p == nil {
		p = noPenalties{}
	}
	m.penalties = p
}

// Params returns the staking rules in force.
func (m *Manager) Params() config.StakingRules {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registry.Rules()
}

// SetParams replaces the staking rules.
func (m *Manager) SetParams(rules config.StakingRules) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registry.SetRules(rules)
	klog.Stake.Info().
		Uint64("min_amount", rules.MinStakeAmount).
		Uint64("min_age", rules.MinStakeAge).
		Uint64("max_age", rules.MaxStakeAge).
		Msg("Staking rules updated")
}

// CanStake reports whether addr has no active position and amount meets
// the minimum.
func (m *Manager) CanStake(addr types.Address, amount uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.registry.Get(addr); ok {
		return false
	}
	return amount >= m.registry.Rules().MinStakeAmount
}

// CreateStake opens a new position for addr at time now.
func (m *Manager) CreateStake(addr types.Address, amount, now uint64) (*StakePosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.registry.Add(addr, amount, now)
	if err != nil {
		return nil, err
	}
	metrics.StakesCreated().Add(1)
	metrics.ValidatorCount().Set(int64(m.registry.Len()))
	klog.Stake.Info().
		Str("address", addr.String()).
		Uint64("amount", amount).
		Str("stake_hash", p.StakeHash.Short()).
		Msg("Stake created")
	return p, nil
}

// RemoveStake closes addr's position and returns it.
func (m *Manager) RemoveStake(addr types.Address) (*StakePosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.registry.Remove(addr)
	if err != nil {
		return nil, err
	}
	metrics.StakesRemoved().Add(1)
	metrics.ValidatorCount().Set(int64(m.registry.Len()))
	klog.Stake.Info().
		Str("address", addr.String()).
		Uint64("amount", p.Amount).
		Msg("Stake removed")
	return p, nil
}

// UpdateStake sets the amount of addr's position and returns the result.
// The stake hash and creation time are kept, so eligibility is unchanged.
func (m *Manager) UpdateStake(addr types.Address, amount uint64) (*StakePosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.registry.UpdateAmount(addr, amount); err != nil {
		return nil, err
	}
	p, _ := m.registry.Get(addr)
	klog.Stake.Info().
		Str("address", addr.String()).
		Uint64("amount", amount).
		Msg("Stake updated")
	return p, nil
}

// Get returns a copy of addr's position.
func (m *Manager) Get(addr types.Address) (*StakePosition, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registry.Get(addr)
}

// Positions returns copies of all positions, sorted by address.
func (m *Manager) Positions() []*StakePosition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registry.All()
}

// IsEligible reports whether addr's position may produce blocks at now.
func (m *Manager) IsEligible(addr types.Address, now uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.registry.Get(addr)
	return ok && m.registry.IsEligible(p, now)
}

// TotalStake returns the sum of all locked amounts.
func (m *Manager) TotalStake() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registry.TotalStaked()
}

// TotalEligibleStake returns the summed effective stake of eligible,
// non-banned positions at now.
func (m *Manager) TotalEligibleStake(now uint64) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalEligibleLocked(now)
}

// TotalEffectiveStake returns the summed effective stake of all positions.
func (m *Manager) TotalEffectiveStake(now uint64) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total uint64
	for _, p := range m.registry.All() {
		total = addSat(total, m.booster.EffectiveStake(p.Address, p.Amount, now))
	}
	return total
}

// EffectiveStake returns addr's boosted stake, or 0 without a position.
func (m *Manager) EffectiveStake(addr types.Address, now uint64) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.registry.Get(addr)
	if !ok {
		return 0
	}
	return m.booster.EffectiveStake(addr, p.Amount, now)
}

// SelectCandidate picks the eligible position with the greatest effective
// stake whose owner and producer are not banned. Ties go to the smallest
// stake hash. It returns nil when nobody is eligible.
func (m *Manager) SelectCandidate(now uint64) *StakePosition {
	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		best       *StakePosition
		bestWeight uint64
	)
	for _, p := range m.registry.Eligible(now) {
		if m.blockedLocked(p, now) {
			continue
		}
		w := m.booster.EffectiveStake(p.Address, p.Amount, now)
		if best == nil || w > bestWeight ||
			(w == bestWeight && p.StakeHash.Less(best.StakeHash)) {
			best, bestWeight = p, w
		}
	}
	return best
}

// BuildBlockHeader assembles an unsigned PoS header for candidate on top
// of prev. The timestamp is now, bumped to prev.Timestamp+1 when not
// strictly later, and doubles as the kernel's stake time. Staker is the
// candidate's producer, which differs from its owner under delegation.
func (m *Manager) BuildBlockHeader(candidate *StakePosition, prev *block.Header, now uint64) (*block.Header, error) {
	if prev == nil {
		return nil, ErrNoPreviousBlock
	}
	if candidate == nil {
		return nil, fmt.Errorf("%w: nil candidate", ErrNotFound)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.registry.Get(candidate.Address)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, candidate.Address)
	}

	ts := now
	if ts <= prev.Timestamp {
		ts = prev.Timestamp + 1
	}
	prevHash := prev.Hash()

	h := &block.Header{
		Version:     block.CurrentVersion,
		Type:        block.TypePoS,
		PrevHash:    prevHash,
		Height:      prev.Height + 1,
		Timestamp:   ts,
		Bits:        TargetToBits(DifficultyFor(m.totalEligibleLocked(now))),
		Staker:      m.producerLocked(p.Address, now),
		StakeHash:   p.StakeHash,
		StakeTime:   ts,
		StakeAmount: p.Amount,
		KernelHash:  ComputeKernel(p.StakeHash, ts, prevHash, p.Amount),
	}
	metrics.BlocksBuilt().Add(1)
	klog.Stake.Debug().
		Uint64("height", h.Height).
		Str("staker", h.Staker.String()).
		Str("kernel", h.KernelHash.Short()).
		Msg("Built PoS header")
	return h, nil
}

// ValidateBlock checks header against prev at wall-clock time now. Checks
// run in a fixed order and the first failure is returned: block type,
// timing window, difficulty bits, then the stake kernel. It never changes
// state.
func (m *Manager) ValidateBlock(header, prev *block.Header, now uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.validateLocked(header, prev, now)
	result := "ok"
	if err != nil {
		result = "invalid"
	}
	metrics.BlocksValidated().AddWithLabel(1, map[string]string{"result": result})
	return err
}

func (m *Manager) validateLocked(header, prev *block.Header, now uint64) error {
	if header == nil {
		return block.ErrNilHeader
	}
	if prev == nil {
		return ErrNoPreviousBlock
	}
	if header.Type != block.TypePoS {
		return fmt.Errorf("%w: type %s", ErrNotProofOfStake, header.Type)
	}

	drift := m.registry.Rules().MaxClockDrift
	var lo uint64
	if prev.Timestamp > drift {
		lo = prev.Timestamp - drift
	}
	hi := addSat(now, drift)
	if header.Timestamp < lo || header.Timestamp > hi {
		return fmt.Errorf("%w: time %d outside [%d, %d]", ErrTimingOutOfRange, header.Timestamp, lo, hi)
	}

	want := TargetToBits(DifficultyFor(m.totalEligibleLocked(now)))
	if header.Bits != want {
		return fmt.Errorf("%w: got %s, want %s", ErrDifficultyMismatch, header.Bits.Short(), want.Short())
	}

	p, ok := m.registry.ByStakeHash(header.StakeHash)
	if !ok {
		return fmt.Errorf("%w: unknown stake %s", ErrKernelMismatch, header.StakeHash.Short())
	}
	if producer := m.producerLocked(p.Address, now); producer != header.Staker {
		return fmt.Errorf("%w: stake of %s is produced by %s, not %s", ErrKernelMismatch, p.Address, producer, header.Staker)
	}
	if p.Amount != header.StakeAmount {
		return fmt.Errorf("%w: amount %d, registry has %d", ErrKernelMismatch, header.StakeAmount, p.Amount)
	}
	if !VerifyKernel(ClaimFromHeader(header), prev.Hash()) {
		return fmt.Errorf("%w: recomputed hash differs", ErrKernelMismatch)
	}
	return nil
}

// RewardFor returns the block reward addr would earn at now: the kernel
// reward over total eligible stake, scaled by the lower reward factor of
// addr and its producer.
func (m *Manager) RewardFor(addr types.Address, now uint64) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	rules := m.registry.Rules()
	base := RewardFor(m.totalEligibleLocked(now), rules.BaseReward, rules.MaxSupply, rules.RewardDecayBps)
	factor := m.penalties.RewardFactorBps(addr)
	if producer := m.producerLocked(addr, now); producer != addr {
		factor = min(factor, m.penalties.RewardFactorBps(producer))
	}
	return ApplyBps(base, factor)
}

func (m *Manager) totalEligibleLocked(now uint64) uint64 {
	var total uint64
	for _, p := range m.registry.Eligible(now) {
		if m.blockedLocked(p, now) {
			continue
		}
		total = addSat(total, m.booster.EffectiveStake(p.Address, p.Amount, now))
	}
	return total
}

// Txn is a handle on the manager's state that is valid only inside the
// View or Update callback that produced it.
type Txn struct {
	m        *Manager
	writable bool
}

// Registry exposes the guarded registry. Mutating it from a View callback
// is a programming error.
func (tx *Txn) Registry() *Registry { return tx.m.registry }

// ValidateBlock runs block validation under the already-held lock.
func (tx *Txn) ValidateBlock(header, prev *block.Header, now uint64) error {
	return tx.m.validateLocked(header, prev, now)
}

// Backers returns the owners whose positions addr answers for at now: its
// own and every position delegated to it, sorted by address.
func (tx *Txn) Backers(addr types.Address, now uint64) []types.Address {
	return tx.m.backersLocked(addr, now)
}

// Slash removes floor(amount * fractionBps / 10000) from addr's stake,
// deleting the position at zero. It returns the amount taken.
func (tx *Txn) Slash(addr types.Address, fractionBps uint64) (taken uint64, removed bool, err error) {
	if !tx.writable {
		return 0, false, fmt.Errorf("slash in read-only transaction")
	}
	p, ok := tx.m.registry.Get(addr)
	if !ok {
		return 0, false, fmt.Errorf("%w: %s", ErrNotFound, addr)
	}
	taken, removed, err = tx.m.registry.Reduce(addr, ApplyBps(p.Amount, fractionBps))
	if err != nil {
		return 0, false, err
	}
	if removed {
		metrics.StakesRemoved().Add(1)
		metrics.ValidatorCount().Set(int64(tx.m.registry.Len()))
	}
	return taken, removed, nil
}

// View runs fn with the lock held.
func (m *Manager) View(fn func(tx *Txn) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&Txn{m: m})
}

// Update runs fn with the lock held and write access to the registry.
// Callers keep their own state consistent with the registry by mutating
// it only inside fn, after every check has passed.
func (m *Manager) Update(fn func(tx *Txn) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&Txn{m: m, writable: true})
}
