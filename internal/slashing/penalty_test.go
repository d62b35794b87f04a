package slashing

import (
	"testing"

	"github.com/Klingon-tech/klingnet-pos/config"
	"github.com/Klingon-tech/klingnet-pos/pkg/types"
)

func TestBanLifecycle(t *testing.T) {
	f := newFixture(t)
	const at, d = 2_000_000, 100

	if err := f.slash.ApplyPenalty(f.staker, Ban(d), at); err != nil {
		t.Fatalf("ApplyPenalty: %v", err)
	}
	for _, now := range []uint64{at, at + 1, at + d - 1} {
		if !f.slash.IsBanned(f.staker, now) {
			t.Errorf("IsBanned(%d) = false, want true", now)
		}
	}
	if f.slash.IsBanned(f.staker, at+d) {
		t.Errorf("IsBanned(%d) = true after the ban ended", at+d)
	}
	if got := f.slash.BannedValidators(at + d); len(got) != 0 {
		t.Errorf("expired ban still listed: %v", got)
	}
}

func TestBan_QueriesDoNotExpireRecord(t *testing.T) {
	f := newFixture(t)
	const at, d = 2_000_000, 100

	if err := f.slash.ApplyPenalty(f.staker, Ban(d), at); err != nil {
		t.Fatalf("ApplyPenalty: %v", err)
	}
	// A lookup past the end must not erase the ban for earlier times.
	if f.slash.IsBanned(f.staker, at+150) {
		t.Errorf("IsBanned(%d) = true after the ban ended", at+150)
	}
	if banned, _ := f.slash.BanStatus(f.staker, at+500); banned {
		t.Errorf("BanStatus(%d) reports banned", at+500)
	}
	for _, now := range []uint64{at + 10, at, at + d - 1} {
		if !f.slash.IsBanned(f.staker, now) {
			t.Errorf("IsBanned(%d) = false after a later query", now)
		}
	}
	if banned, until := f.slash.BanStatus(f.staker, at+10); !banned || until != at+d {
		t.Errorf("BanStatus(%d) = %v, %d; want true, %d", at+10, banned, until, at+d)
	}

	// Only the sweep drops the record.
	if n := f.slash.SweepExpired(at + d); n != 1 {
		t.Errorf("SweepExpired = %d, want 1", n)
	}
	if f.slash.IsBanned(f.staker, at+10) {
		t.Error("swept ban still in force")
	}
}

func TestBan_LaterEndWins(t *testing.T) {
	f := newFixture(t)
	f.slash.ApplyPenalty(f.staker, Ban(1000), 10)
	f.slash.ApplyPenalty(f.staker, Ban(10), 20)

	banned, until := f.slash.BanStatus(f.staker, 20)
	if !banned || until != 1010 {
		t.Errorf("BanStatus = %v, %d; want true, 1010", banned, until)
	}
}

func TestPermanentBan(t *testing.T) {
	f := newFixture(t)
	if err := f.slash.ApplyPenalty(f.staker, Forever(), 10); err != nil {
		t.Fatalf("ApplyPenalty: %v", err)
	}
	for _, now := range []uint64{10, 1 << 40, BanForever - 1} {
		if !f.slash.IsBanned(f.staker, now) {
			t.Errorf("permanent ban lifted at %d", now)
		}
	}
	// A temporary ban never shortens a permanent one.
	f.slash.ApplyPenalty(f.staker, Ban(5), 10)
	recs := f.slash.BannedValidators(1 << 40)
	if len(recs) != 1 || !recs[0].Permanent() {
		t.Errorf("BannedValidators = %+v, want one permanent ban", recs)
	}
	if n := f.slash.SweepExpired(1 << 50); n != 0 {
		t.Errorf("SweepExpired removed %d permanent bans", n)
	}
}

func TestSweepExpired(t *testing.T) {
	f := newFixture(t)
	a, b, c := types.Address{0x01}, types.Address{0x02}, types.Address{0x03}
	f.slash.ApplyPenalty(a, Ban(10), 100)
	f.slash.ApplyPenalty(b, Ban(50), 100)
	f.slash.ApplyPenalty(c, Forever(), 100)

	if n := f.slash.SweepExpired(120); n != 1 {
		t.Errorf("SweepExpired = %d, want 1", n)
	}
	recs := f.slash.BannedValidators(120)
	if len(recs) != 2 || recs[0].Validator != b || recs[1].Validator != c {
		t.Errorf("BannedValidators = %+v, want [b c]", recs)
	}
}

func TestSlash_Conservation(t *testing.T) {
	tests := []struct {
		name     string
		fraction uint64
		want     uint64 // remaining
	}{
		{"rounds down to nothing", 1, 1000},
		{"third", 3333, 667},
		{"half", 5000, 500},
		{"all", 10_000, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if err := f.slash.ApplyPenalty(f.staker, Slash(tt.fraction), f.now); err != nil {
				t.Fatalf("ApplyPenalty: %v", err)
			}
			p, ok := f.stake.Get(f.staker)
			var remaining uint64
			if ok {
				remaining = p.Amount
			}
			if remaining != tt.want {
				t.Errorf("remaining = %d, want %d", remaining, tt.want)
			}
			if tt.want == 0 && ok {
				t.Error("position slashed to zero should be removed")
			}
			if remaining+f.slash.TotalSlashed() != 1000 {
				t.Errorf("remaining %d + slashed %d != 1000", remaining, f.slash.TotalSlashed())
			}
		})
	}
}

func TestSlash_BanIndependentOfStake(t *testing.T) {
	f := newFixture(t)
	f.slash.ApplyPenalty(f.staker, Ban(1000), f.now)
	f.slash.ApplyPenalty(f.staker, Slash(10_000), f.now)

	if _, ok := f.stake.Get(f.staker); ok {
		t.Fatal("position should be gone")
	}
	if !f.slash.IsBanned(f.staker, f.now+1) {
		t.Error("ban should outlive the position")
	}
	// Slashing a missing position takes nothing.
	if err := f.slash.ApplyPenalty(f.staker, Slash(5000), f.now); err != nil {
		t.Errorf("slash without position: %v", err)
	}
	if got := f.slash.TotalSlashed(); got != 1000 {
		t.Errorf("TotalSlashed = %d, want 1000", got)
	}
}

func TestPenalty_Validate(t *testing.T) {
	tests := []struct {
		name    string
		p       Penalty
		wantErr bool
	}{
		{"slash ok", Slash(5000), false},
		{"slash over one", Slash(10_001), true},
		{"ban ok", Ban(60), false},
		{"permanent", Forever(), false},
		{"reduce ok", ReduceRewards(0), false},
		{"reduce over one", ReduceRewards(20_000), true},
		{"unknown", Penalty{Kind: 42}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.p.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPenaltyFromRule(t *testing.T) {
	rules := []config.PenaltyRule{
		{Kind: config.PenaltySlash, FractionBps: 2500},
		{Kind: config.PenaltyTemporaryBan, DurationSecs: 3600},
		{Kind: config.PenaltyPermanentBan},
		{Kind: config.PenaltyRewardReduction, FactorBps: 7000},
	}
	for _, r := range rules {
		p, err := PenaltyFromRule(r)
		if err != nil {
			t.Fatalf("PenaltyFromRule(%+v): %v", r, err)
		}
		if got := p.Rule(); got != r {
			t.Errorf("Rule() = %+v, want %+v", got, r)
		}
	}
	if _, err := PenaltyFromRule(config.PenaltyRule{Kind: "exile"}); err == nil {
		t.Error("unknown rule kind accepted")
	}
}

func TestSetPenalty(t *testing.T) {
	f := newFixture(t)
	if err := f.slash.SetPenalty(DoubleSigning, Forever()); err != nil {
		t.Fatalf("SetPenalty: %v", err)
	}
	if err := f.slash.SubmitEvidence(f.doubleSign(t), f.now); err != nil {
		t.Fatalf("SubmitEvidence: %v", err)
	}
	if p, _ := f.stake.Get(f.staker); p.Amount != 1000 {
		t.Error("permanent ban should not slash")
	}
	if _, until := f.slash.BanStatus(f.staker, f.now); until != BanForever {
		t.Errorf("until = %d, want BanForever", until)
	}
	if err := f.slash.SetPenalty(DoubleSigning, Slash(99_999)); err == nil {
		t.Error("invalid penalty accepted")
	}
}

func TestSnapshotRestore(t *testing.T) {
	f := newFixture(t)
	if err := f.slash.SubmitEvidence(f.doubleSign(t), f.now); err != nil {
		t.Fatalf("SubmitEvidence: %v", err)
	}
	f.slash.ApplyPenalty(types.Address{0x05}, Ban(500), f.now)
	f.slash.ApplyPenalty(f.staker, ReduceRewards(4000), f.now)
	f.slash.RecordActivity(f.staker, f.now, types.Hash{0xaa})
	snap := f.slash.Snapshot()

	g := newFixture(t)
	g.slash.Restore(snap)

	if got, want := len(g.slash.AllEvidence()), 1; got != want {
		t.Fatalf("evidence = %d, want %d", got, want)
	}
	id := f.slash.AllEvidence()[0].ID()
	if _, ok := g.slash.Evidence(id); !ok {
		t.Error("restored evidence not found by id")
	}
	if len(g.slash.EvidenceFor(f.staker)) != 1 {
		t.Error("restored evidence not indexed by validator")
	}
	if !g.slash.IsBanned(types.Address{0x05}, f.now+1) {
		t.Error("ban lost")
	}
	if got := g.slash.RewardFactorBps(f.staker); got != 4000 {
		t.Errorf("RewardFactorBps = %d, want 4000", got)
	}
	if got := g.slash.TotalSlashed(); got != 500 {
		t.Errorf("TotalSlashed = %d, want 500", got)
	}
	if got := g.slash.SlashedAmount(f.staker); got != 500 {
		t.Errorf("SlashedAmount = %d, want 500", got)
	}
	at, hash, ok := g.slash.LastActivity(f.staker)
	if !ok || at != f.now || hash != (types.Hash{0xaa}) {
		t.Errorf("LastActivity = %d, %s, %v", at, hash.Short(), ok)
	}
}
