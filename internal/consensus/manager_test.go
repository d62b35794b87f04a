package consensus

import (
	"errors"
	"sync"
	"testing"

	"github.com/Klingon-tech/klingnet-pos/pkg/block"
	"github.com/Klingon-tech/klingnet-pos/pkg/types"
)

const t0 = 1_000_000

func genesisHeader() *block.Header {
	return &block.Header{
		Version:   block.CurrentVersion,
		Type:      block.TypePoW,
		Height:    0,
		Timestamp: t0,
	}
}

// readyManager returns a manager with addr(1) staking 1000 at t0 and the
// time at which that stake becomes eligible.
func readyManager(t *testing.T) (*Manager, uint64) {
	t.Helper()
	m := NewManager(testRules())
	if _, err := m.CreateStake(addr(1), 1000, t0); err != nil {
		t.Fatalf("CreateStake: %v", err)
	}
	return m, t0 + testRules().MinStakeAge
}

type fakePenalties struct {
	banned map[types.Address]bool
	factor map[types.Address]uint64
}

func (f *fakePenalties) IsBanned(a types.Address, _ uint64) bool { return f.banned[a] }

func (f *fakePenalties) RewardFactorBps(a types.Address) uint64 {
	if v, ok := f.factor[a]; ok {
		return v
	}
	return 10_000
}

type fakeBooster map[types.Address]uint64 // multiplier in bps

func (f fakeBooster) EffectiveStake(a types.Address, stake, _ uint64) uint64 {
	if m, ok := f[a]; ok {
		return ApplyBps(stake, m)
	}
	return stake
}

func TestManager_CanStake(t *testing.T) {
	m := NewManager(testRules())
	if !m.CanStake(addr(1), 100) {
		t.Error("CanStake at minimum should be true")
	}
	if m.CanStake(addr(1), 99) {
		t.Error("CanStake below minimum should be false")
	}
	m.CreateStake(addr(1), 100, 0)
	if m.CanStake(addr(1), 1000) {
		t.Error("CanStake with an active position should be false")
	}
}

func TestManager_SingleActiveStake(t *testing.T) {
	m := NewManager(testRules())
	if _, err := m.CreateStake(addr(1), 100, 0); err != nil {
		t.Fatalf("CreateStake: %v", err)
	}
	if _, err := m.CreateStake(addr(1), 100, 0); !errors.Is(err, ErrAlreadyStaking) {
		t.Fatalf("got %v, want ErrAlreadyStaking", err)
	}
	if _, err := m.RemoveStake(addr(1)); err != nil {
		t.Fatalf("RemoveStake: %v", err)
	}
	if _, err := m.CreateStake(addr(1), 100, 0); err != nil {
		t.Fatalf("CreateStake after remove: %v", err)
	}

	// Slash to zero also frees the address.
	err := m.Update(func(tx *Txn) error {
		_, removed, err := tx.Slash(addr(1), 10_000)
		if !removed {
			t.Error("full slash should remove the position")
		}
		return err
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if _, err := m.CreateStake(addr(1), 100, 0); err != nil {
		t.Fatalf("CreateStake after slash to zero: %v", err)
	}
}

func TestManager_UpdateStake(t *testing.T) {
	m, ready := readyManager(t)
	before, _ := m.Get(addr(1))

	if _, err := m.UpdateStake(addr(2), 500); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown staker: got %v, want ErrNotFound", err)
	}
	if _, err := m.UpdateStake(addr(1), 99); !errors.Is(err, ErrBelowMinimum) {
		t.Errorf("below minimum: got %v, want ErrBelowMinimum", err)
	}

	p, err := m.UpdateStake(addr(1), 2500)
	if err != nil {
		t.Fatalf("UpdateStake: %v", err)
	}
	if p.Amount != 2500 || p.StakeHash != before.StakeHash || p.CreatedAt != before.CreatedAt {
		t.Errorf("position = %+v, want amount 2500 with hash and age kept", p)
	}
	if got := m.TotalStake(); got != 2500 {
		t.Errorf("TotalStake = %d, want 2500", got)
	}
	if c := m.SelectCandidate(ready); c == nil || c.Amount != 2500 {
		t.Errorf("candidate = %+v, want the updated amount", c)
	}
}

func TestManager_SelectCandidate(t *testing.T) {
	m := NewManager(testRules())
	m.CreateStake(addr(1), 1000, t0)
	m.CreateStake(addr(2), 3000, t0)
	m.CreateStake(addr(3), 9000, t0+1) // matures one second later
	now := t0 + testRules().MinStakeAge

	got := m.SelectCandidate(now)
	if got == nil || got.Address != addr(2) {
		t.Fatalf("SelectCandidate = %v, want addr(2)", got)
	}

	if got := m.SelectCandidate(now + 1); got == nil || got.Address != addr(3) {
		t.Fatalf("SelectCandidate one second later = %v, want addr(3)", got)
	}

	if got := m.SelectCandidate(t0); got != nil {
		t.Errorf("nobody is eligible at t0, got %s", got.Address)
	}
}

func TestManager_SelectCandidateTieBreak(t *testing.T) {
	m := NewManager(testRules())
	a, _ := m.CreateStake(addr(1), 1000, t0)
	b, _ := m.CreateStake(addr(2), 1000, t0)

	want := a
	if b.StakeHash.Less(a.StakeHash) {
		want = b
	}
	for i := 0; i < 5; i++ {
		got := m.SelectCandidate(t0 + testRules().MinStakeAge)
		if got.Address != want.Address {
			t.Fatalf("tie broken towards %s, want smallest stake hash %s", got.Address, want.Address)
		}
	}
}

func TestManager_SelectCandidateHooks(t *testing.T) {
	m := NewManager(testRules())
	m.CreateStake(addr(1), 3000, t0)
	m.CreateStake(addr(2), 1000, t0)
	now := t0 + testRules().MinStakeAge

	m.SetBooster(fakeBooster{addr(2): 40_000}) // 1000 -> 4000
	if got := m.SelectCandidate(now); got.Address != addr(2) {
		t.Errorf("boosted candidate not selected, got %s", got.Address)
	}
	if got := m.TotalEligibleStake(now); got != 7000 {
		t.Errorf("TotalEligibleStake = %d, want 7000", got)
	}

	m.SetPenalties(&fakePenalties{banned: map[types.Address]bool{addr(2): true}})
	if got := m.SelectCandidate(now); got.Address != addr(1) {
		t.Errorf("banned candidate selected, got %s", got.Address)
	}
	if got := m.TotalEligibleStake(now); got != 3000 {
		t.Errorf("TotalEligibleStake with ban = %d, want 3000", got)
	}
}

// Scenario: a stake matures, is selected, and its block validates.
func TestManager_BuildAndValidate(t *testing.T) {
	m, now := readyManager(t)
	prev := genesisHeader()

	cand := m.SelectCandidate(now)
	if cand == nil || cand.Address != addr(1) {
		t.Fatalf("SelectCandidate = %v, want addr(1)", cand)
	}
	h, err := m.BuildBlockHeader(cand, prev, now)
	if err != nil {
		t.Fatalf("BuildBlockHeader: %v", err)
	}
	if h.Type != block.TypePoS || h.Height != 1 || h.PrevHash != prev.Hash() {
		t.Errorf("unexpected header %+v", h)
	}
	if h.StakeTime != h.Timestamp || h.Timestamp != now {
		t.Errorf("stake time %d / timestamp %d, want %d", h.StakeTime, h.Timestamp, now)
	}
	if err := m.ValidateBlock(h, prev, now); err != nil {
		t.Fatalf("ValidateBlock: %v", err)
	}
}

func TestManager_BuildBumpsTimestamp(t *testing.T) {
	m, now := readyManager(t)
	prev := genesisHeader()
	prev.Timestamp = now + 10

	h, err := m.BuildBlockHeader(m.SelectCandidate(now), prev, now)
	if err != nil {
		t.Fatalf("BuildBlockHeader: %v", err)
	}
	if h.Timestamp != prev.Timestamp+1 {
		t.Errorf("Timestamp = %d, want %d", h.Timestamp, prev.Timestamp+1)
	}
	if err := m.ValidateBlock(h, prev, now); err != nil {
		t.Errorf("bumped header should still validate: %v", err)
	}
}

func TestManager_BuildErrors(t *testing.T) {
	m, now := readyManager(t)
	cand := m.SelectCandidate(now)

	if _, err := m.BuildBlockHeader(cand, nil, now); !errors.Is(err, ErrNoPreviousBlock) {
		t.Errorf("nil prev: got %v, want ErrNoPreviousBlock", err)
	}
	m.RemoveStake(addr(1))
	if _, err := m.BuildBlockHeader(cand, genesisHeader(), now); !errors.Is(err, ErrNotFound) {
		t.Errorf("removed candidate: got %v, want ErrNotFound", err)
	}
}

func TestManager_ValidateBlockErrors(t *testing.T) {
	m, now := readyManager(t)
	prev := genesisHeader()
	good, err := m.BuildBlockHeader(m.SelectCandidate(now), prev, now)
	if err != nil {
		t.Fatalf("BuildBlockHeader: %v", err)
	}
	drift := testRules().MaxClockDrift

	tests := []struct {
		name   string
		mutate func(h *block.Header)
		want   error
	}{
		{"pow type", func(h *block.Header) { h.Type = block.TypePoW }, ErrNotProofOfStake},
		{"too far in future", func(h *block.Header) { h.Timestamp = now + drift + 1 }, ErrTimingOutOfRange},
		{"before prev window", func(h *block.Header) { h.Timestamp = prev.Timestamp - drift - 1 }, ErrTimingOutOfRange},
		{"wrong bits", func(h *block.Header) { h.Bits[31] ^= 1 }, ErrDifficultyMismatch},
		{"wrong kernel", func(h *block.Header) { h.KernelHash[0] ^= 1 }, ErrKernelMismatch},
		{"unknown stake", func(h *block.Header) { h.StakeHash = types.Hash{0xee} }, ErrKernelMismatch},
		{"amount mismatch", func(h *block.Header) { h.StakeAmount++ }, ErrKernelMismatch},
		{"staker mismatch", func(h *block.Header) { h.Staker = addr(7) }, ErrKernelMismatch},
		{"stake time altered", func(h *block.Header) { h.StakeTime++ }, ErrKernelMismatch},
		{"timing checked before kernel", func(h *block.Header) {
			h.Timestamp = now + drift + 1
			h.KernelHash = types.Hash{}
		}, ErrTimingOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := good.Copy()
			tt.mutate(h)
			if err := m.ValidateBlock(h, prev, now); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}

	if err := m.ValidateBlock(good, nil, now); !errors.Is(err, ErrNoPreviousBlock) {
		t.Errorf("nil prev: got %v, want ErrNoPreviousBlock", err)
	}
	if err := m.ValidateBlock(good, genesisHeaderAt(t0+1), now); !errors.Is(err, ErrKernelMismatch) {
		t.Errorf("different parent: got %v, want ErrKernelMismatch", err)
	}
}

func genesisHeaderAt(ts uint64) *block.Header {
	h := genesisHeader()
	h.Timestamp = ts
	return h
}

func TestManager_ValidateIdempotent(t *testing.T) {
	m, now := readyManager(t)
	prev := genesisHeader()
	h, _ := m.BuildBlockHeader(m.SelectCandidate(now), prev, now)

	bad := h.Copy()
	bad.KernelHash = types.Hash{}

	for _, hdr := range []*block.Header{h, bad} {
		first := m.ValidateBlock(hdr, prev, now)
		second := m.ValidateBlock(hdr, prev, now)
		if (first == nil) != (second == nil) || (first != nil && first.Error() != second.Error()) {
			t.Errorf("results differ: %v vs %v", first, second)
		}
	}
	p, _ := m.Get(addr(1))
	if p.Amount != 1000 {
		t.Error("validation must not change state")
	}
}

func TestManager_DifficultyTracksStake(t *testing.T) {
	m, now := readyManager(t)
	prev := genesisHeader()
	h, _ := m.BuildBlockHeader(m.SelectCandidate(now), prev, now)

	// A second stake maturing changes the expected bits.
	m.CreateStake(addr(2), 500, t0)
	if err := m.ValidateBlock(h, prev, now); !errors.Is(err, ErrDifficultyMismatch) {
		t.Errorf("got %v, want ErrDifficultyMismatch", err)
	}
}

func TestManager_RewardFor(t *testing.T) {
	m, now := readyManager(t)
	rules := testRules()
	base := RewardFor(1000, rules.BaseReward, rules.MaxSupply, rules.RewardDecayBps)

	if got := m.RewardFor(addr(1), now); got != base {
		t.Errorf("RewardFor = %d, want %d", got, base)
	}
	m.SetPenalties(&fakePenalties{factor: map[types.Address]uint64{addr(1): 5000}})
	if got := m.RewardFor(addr(1), now); got != base/2 {
		t.Errorf("reduced RewardFor = %d, want %d", got, base/2)
	}
}

func TestManager_SlashConservation(t *testing.T) {
	m := NewManager(testRules())
	m.CreateStake(addr(1), 1001, 0)

	var taken uint64
	err := m.Update(func(tx *Txn) error {
		var err error
		taken, _, err = tx.Slash(addr(1), 3333)
		return err
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	want := uint64(1001 * 3333 / 10_000)
	if taken != want {
		t.Errorf("taken = %d, want %d", taken, want)
	}
	p, _ := m.Get(addr(1))
	if p.Amount != 1001-want {
		t.Errorf("Amount = %d, want %d", p.Amount, 1001-want)
	}
}

func TestManager_ViewIsReadOnly(t *testing.T) {
	m := NewManager(testRules())
	m.CreateStake(addr(1), 1000, 0)
	err := m.View(func(tx *Txn) error {
		_, _, err := tx.Slash(addr(1), 5000)
		return err
	})
	if err == nil {
		t.Fatal("Slash inside View should fail")
	}
	p, _ := m.Get(addr(1))
	if p.Amount != 1000 {
		t.Error("read-only transaction changed state")
	}
}

func TestManager_Concurrent(t *testing.T) {
	m, now := readyManager(t)
	prev := genesisHeader()
	h, _ := m.BuildBlockHeader(m.SelectCandidate(now), prev, now)

	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			m.CreateStake(addr(2), 200, t0)
			m.RemoveStake(addr(2))
		}
	}()

	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			_ = m.ValidateBlock(h, prev, now)
			_ = m.SelectCandidate(now)
		}
	}()

	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			_ = m.TotalEligibleStake(now)
			_ = m.Positions()
			_ = m.RewardFor(addr(1), now)
		}
	}()

	wg.Wait()

	if p, ok := m.Get(addr(1)); !ok || p.Amount != 1000 {
		t.Errorf("addr(1) position changed: %+v", p)
	}
}
