package consensus

import (
	"errors"
	"testing"

	"github.com/Klingon-tech/klingnet-pos/config"
	"github.com/Klingon-tech/klingnet-pos/pkg/types"
)

func testRules() config.StakingRules {
	return config.StakingRules{
		MinStakeAmount: 100,
		MinStakeAge:    3600,
		MaxStakeAge:    30 * 24 * 3600,
		MaxClockDrift:  7200,
		BaseReward:     50,
		MaxSupply:      1_000_000,
		RewardDecayBps: 500,
	}
}

func addr(b byte) types.Address {
	return types.Address{b}
}

func TestRegistry_Add(t *testing.T) {
	r := NewRegistry(testRules())

	p, err := r.Add(addr(1), 100, 1000)
	if err != nil {
		t.Fatalf("Add at minimum: %v", err)
	}
	if p.Amount != 100 || p.CreatedAt != 1000 || p.Nonce != 1 {
		t.Errorf("unexpected position %+v", p)
	}
	if p.StakeHash != StakeHash(addr(1), 100, 1000, 1) {
		t.Error("stake hash does not match StakeHash()")
	}

	if _, err := r.Add(addr(1), 500, 2000); !errors.Is(err, ErrAlreadyStaking) {
		t.Errorf("second Add: got %v, want ErrAlreadyStaking", err)
	}
	if _, err := r.Add(addr(2), 99, 1000); !errors.Is(err, ErrBelowMinimum) {
		t.Errorf("Add below minimum: got %v, want ErrBelowMinimum", err)
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}
}

func TestRegistry_RestakeFreshHash(t *testing.T) {
	r := NewRegistry(testRules())

	first, _ := r.Add(addr(1), 100, 1000)
	if _, err := r.Remove(addr(1)); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	second, err := r.Add(addr(1), 100, 1000)
	if err != nil {
		t.Fatalf("re-Add: %v", err)
	}
	if first.StakeHash == second.StakeHash {
		t.Error("re-staking with identical inputs should produce a new stake hash")
	}
	if _, ok := r.ByStakeHash(first.StakeHash); ok {
		t.Error("old stake hash should no longer resolve")
	}
}

func TestRegistry_RemoveNotFound(t *testing.T) {
	r := NewRegistry(testRules())
	if _, err := r.Remove(addr(9)); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestRegistry_UpdateAmount(t *testing.T) {
	r := NewRegistry(testRules())
	p, _ := r.Add(addr(1), 100, 1000)

	if err := r.UpdateAmount(addr(1), 250); err != nil {
		t.Fatalf("UpdateAmount: %v", err)
	}
	got, _ := r.Get(addr(1))
	if got.Amount != 250 {
		t.Errorf("Amount = %d, want 250", got.Amount)
	}
	if got.StakeHash != p.StakeHash {
		t.Error("stake hash must not change on amount update")
	}

	if err := r.UpdateAmount(addr(1), 50); !errors.Is(err, ErrBelowMinimum) {
		t.Errorf("got %v, want ErrBelowMinimum", err)
	}
	if err := r.UpdateAmount(addr(2), 500); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestRegistry_GetReturnsCopy(t *testing.T) {
	r := NewRegistry(testRules())
	r.Add(addr(1), 100, 1000)

	p, _ := r.Get(addr(1))
	p.Amount = 1
	again, _ := r.Get(addr(1))
	if again.Amount != 100 {
		t.Error("mutating a returned position changed the registry")
	}
}

func TestRegistry_EligibilityBoundary(t *testing.T) {
	rules := testRules()
	r := NewRegistry(rules)
	const t0 = 10_000
	r.Add(addr(1), 100, t0)

	if got := r.Eligible(t0 + rules.MinStakeAge - 1); len(got) != 0 {
		t.Errorf("eligible one second early: %d positions", len(got))
	}
	if got := r.Eligible(t0 + rules.MinStakeAge); len(got) != 1 {
		t.Errorf("eligible at min age: %d positions, want 1", len(got))
	}
	if got := r.Eligible(t0 + rules.MaxStakeAge); len(got) != 1 {
		t.Errorf("eligible at max age: %d positions, want 1", len(got))
	}
	if got := r.Eligible(t0 + rules.MaxStakeAge + 1); len(got) != 0 {
		t.Errorf("eligible past max age: %d positions, want 0", len(got))
	}
}

func TestRegistry_Reduce(t *testing.T) {
	r := NewRegistry(testRules())
	r.Add(addr(1), 1000, 0)

	taken, removed, err := r.Reduce(addr(1), 950)
	if err != nil {
		t.Fatalf("Reduce: %v", err)
	}
	if taken != 950 || removed {
		t.Errorf("taken=%d removed=%v, want 950 false", taken, removed)
	}
	p, _ := r.Get(addr(1))
	if p.Amount != 50 {
		t.Errorf("Amount = %d, want 50 (below minimum is allowed)", p.Amount)
	}
	if len(r.Eligible(1<<20)) != 0 {
		t.Error("position below minimum should not be eligible")
	}

	taken, removed, _ = r.Reduce(addr(1), 500)
	if taken != 50 || !removed {
		t.Errorf("taken=%d removed=%v, want 50 true", taken, removed)
	}
	if _, ok := r.Get(addr(1)); ok {
		t.Error("position should be gone after reaching zero")
	}
}

func TestRegistry_AllSortedAndTotal(t *testing.T) {
	r := NewRegistry(testRules())
	r.Add(addr(3), 300, 0)
	r.Add(addr(1), 100, 0)
	r.Add(addr(2), 200, 0)

	all := r.All()
	for i, want := range []byte{1, 2, 3} {
		if all[i].Address != addr(want) {
			t.Errorf("All()[%d] = %s, want %s", i, all[i].Address, addr(want))
		}
	}
	if r.TotalStaked() != 600 {
		t.Errorf("TotalStaked = %d, want 600", r.TotalStaked())
	}
}

func TestRegistry_Restore(t *testing.T) {
	r := NewRegistry(testRules())
	r.Add(addr(1), 100, 5)
	r.Add(addr(2), 200, 6)

	var saved []StakePosition
	for _, p := range r.All() {
		saved = append(saved, *p)
	}

	r2 := NewRegistry(testRules())
	if err := r2.Restore(saved, r.Nonce()); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	for _, p := range saved {
		got, ok := r2.ByStakeHash(p.StakeHash)
		if !ok || *got != p {
			t.Errorf("restored %s = %+v, want %+v", p.Address, got, p)
		}
	}

	// Nonce continues, so the next stake hash is fresh.
	p3, _ := r2.Add(addr(3), 100, 7)
	if p3.Nonce != 3 {
		t.Errorf("nonce after restore = %d, want 3", p3.Nonce)
	}

	dup := append(saved, saved[0])
	if err := r2.Restore(dup, 0); err == nil {
		t.Error("Restore with duplicate addresses should fail")
	}
}
