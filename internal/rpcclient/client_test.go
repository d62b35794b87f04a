package rpcclient

import (
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Klingon-tech/klingnet-pos/config"
	klog "github.com/Klingon-tech/klingnet-pos/internal/log"
	"github.com/Klingon-tech/klingnet-pos/internal/node"
	"github.com/Klingon-tech/klingnet-pos/internal/rpc"
	"github.com/Klingon-tech/klingnet-pos/internal/staking"
	"github.com/Klingon-tech/klingnet-pos/internal/storage"
	"github.com/Klingon-tech/klingnet-pos/pkg/types"
)

const t0 = 1_700_000_000

type testEnv struct {
	client *Client
	engine *staking.Engine
	addr   types.Address
	now    *atomic.Uint64
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	klog.Init("error", false, "")

	addr := types.Address{0xaa, 0x01}
	gen := config.TestnetGenesis()
	gen.ChainID = "klingnet-test-client"
	gen.ChainName = "Client Test"
	gen.Timestamp = t0
	gen.Alloc = map[string]uint64{addr.Hex(): 5000}
	gen.Stakes = nil
	gen.Protocol.Staking.MinStakeAmount = 100
	gen.Protocol.Staking.MinStakeAge = 60
	gen.Protocol.Governance.MinProposalStake = 100

	now := new(atomic.Uint64)
	now.Store(t0)

	var ch *node.LocalChain
	engine, err := staking.New(gen.Protocol, staking.Options{
		Clock:    now.Load,
		Balances: func(a types.Address) uint64 { return ch.BalanceOf(a) },
	})
	if err != nil {
		t.Fatalf("staking.New: %v", err)
	}
	ch, err = node.NewLocalChain(storage.NewMemory(), engine, gen)
	if err != nil {
		t.Fatalf("NewLocalChain: %v", err)
	}

	srv := rpc.New("127.0.0.1:0", engine, ch, gen)
	if err := srv.Start(); err != nil {
		t.Fatalf("start rpc: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })

	return &testEnv{
		client: New(fmt.Sprintf("http://%s/", srv.Addr())),
		engine: engine,
		addr:   addr,
		now:    now,
	}
}

func TestClient_ChainInfo(t *testing.T) {
	env := setupTestEnv(t)

	info, err := env.client.ChainInfo()
	if err != nil {
		t.Fatalf("ChainInfo: %v", err)
	}
	if info.ChainID != "klingnet-test-client" {
		t.Errorf("chain_id = %q", info.ChainID)
	}
	if info.Height != 0 || info.TotalSupply != 5000 {
		t.Errorf("height/supply = %d/%d, want 0/5000", info.Height, info.TotalSupply)
	}

	hdr, err := env.client.Header(0)
	if err != nil {
		t.Fatalf("Header: %v", err)
	}
	if hdr.Hash != info.TipHash {
		t.Errorf("genesis hash = %s, tip = %s", hdr.Hash, info.TipHash)
	}
	if _, err := env.client.Header(9); !IsNotFound(err) {
		t.Errorf("Header(9) err = %v, want not found", err)
	}
}

func TestClient_StakeLifecycle(t *testing.T) {
	env := setupTestEnv(t)
	addr := env.addr.String()

	pos, err := env.client.AddStake(addr, 1000)
	if err != nil {
		t.Fatalf("AddStake: %v", err)
	}
	if pos.Amount != 1000 || pos.Address != env.addr {
		t.Errorf("position = %+v", pos)
	}

	bal, err := env.client.Balance(addr)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if bal.Staked != 1000 || bal.Available != 4000 {
		t.Errorf("balance = %+v", bal)
	}

	env.now.Add(60)
	vals, err := env.client.ListValidators()
	if err != nil {
		t.Fatalf("ListValidators: %v", err)
	}
	if len(vals) != 1 || !vals[0].Eligible {
		t.Errorf("validators = %+v", vals)
	}

	info, err := env.client.StakingInfo(addr)
	if err != nil {
		t.Fatalf("StakingInfo: %v", err)
	}
	if !info.Staking || info.Amount != 1000 {
		t.Errorf("staking info = %+v", info.Info)
	}

	ban, err := env.client.BanStatus(addr)
	if err != nil {
		t.Fatalf("BanStatus: %v", err)
	}
	if ban.Banned {
		t.Error("fresh staker is banned")
	}

	up, err := env.client.UpdateStake(addr, 2500)
	if err != nil {
		t.Fatalf("UpdateStake: %v", err)
	}
	if up.Amount != 2500 || up.StakeHash != pos.StakeHash {
		t.Errorf("updated position = %+v", up)
	}

	hot := types.Address{0x0d}.String()
	d, err := env.client.Delegate(addr, hot, 0)
	if err != nil {
		t.Fatalf("Delegate: %v", err)
	}
	if d.Owner != env.addr || d.Staker.String() != hot {
		t.Errorf("delegation = %+v", d)
	}
	if _, err := env.client.RevokeDelegation(addr); err != nil {
		t.Fatalf("RevokeDelegation: %v", err)
	}
	if _, err := env.client.RevokeDelegation(addr); !IsNotFound(err) {
		t.Errorf("second RevokeDelegation err = %v, want not found", err)
	}

	if _, err := env.client.RemoveStake(addr); err != nil {
		t.Fatalf("RemoveStake: %v", err)
	}
	if _, err := env.client.RemoveStake(addr); !IsNotFound(err) {
		t.Errorf("second RemoveStake err = %v, want not found", err)
	}
}

func TestClient_SetStaking(t *testing.T) {
	env := setupTestEnv(t)

	on, err := env.client.SetStaking(true)
	if err != nil || !on {
		t.Fatalf("SetStaking(true) = %v, %v", on, err)
	}
	on, err = env.client.SetStaking(false)
	if err != nil || on {
		t.Fatalf("SetStaking(false) = %v, %v", on, err)
	}
}

func TestClient_Governance(t *testing.T) {
	env := setupTestEnv(t)
	addr := env.addr.String()
	if _, err := env.client.AddStake(addr, 1000); err != nil {
		t.Fatalf("AddStake: %v", err)
	}

	id, err := env.client.CreateProposal(rpc.CreateProposalParam{
		Proposer: addr,
		Kind:     "general",
		Title:    "Say hello",
	})
	if err != nil {
		t.Fatalf("CreateProposal: %v", err)
	}

	pending, err := env.client.ListProposals("pending")
	if err != nil {
		t.Fatalf("ListProposals: %v", err)
	}
	if len(pending) != 1 || pending[0].ID.String() != id {
		t.Fatalf("pending = %+v", pending)
	}

	// Voting opens after the testnet voting delay.
	env.now.Add(60)
	tally, err := env.client.Vote(id, addr, true)
	if err != nil {
		t.Fatalf("Vote: %v", err)
	}
	if tally.Yes != 1000 {
		t.Errorf("yes = %d, want 1000", tally.Yes)
	}
	res, err := env.client.VoteResult(id)
	if err != nil {
		t.Fatalf("VoteResult: %v", err)
	}
	if *res != *tally {
		t.Errorf("VoteResult = %+v, want %+v", res, tally)
	}

	if err := env.client.ExecuteProposal(id); err == nil {
		t.Error("executed a proposal still in voting")
	}
	if err := env.client.CancelProposal(id, addr); err != nil {
		t.Fatalf("CancelProposal: %v", err)
	}
	all, err := env.client.ListProposals()
	if err != nil {
		t.Fatalf("ListProposals: %v", err)
	}
	if len(all) != 1 || all[0].State != "cancelled" {
		t.Errorf("proposals = %+v", all)
	}
}

func TestClient_Boosts(t *testing.T) {
	env := setupTestEnv(t)
	nft := types.Hash{0x10}.String()

	b, err := env.client.AddBoost(rpc.BoostParam{
		NFTID:         nft,
		Owner:         env.addr.String(),
		MultiplierBps: 12_000,
	})
	if err != nil {
		t.Fatalf("AddBoost: %v", err)
	}
	if b.Start != t0 {
		t.Errorf("start = %d, want %d", b.Start, t0)
	}

	list, err := env.client.ListBoosts("")
	if err != nil {
		t.Fatalf("ListBoosts: %v", err)
	}
	if len(list) != 1 || list[0].NFTID != nft {
		t.Errorf("boosts = %+v", list)
	}

	if _, err := env.client.RemoveBoost(nft); err != nil {
		t.Fatalf("RemoveBoost: %v", err)
	}
	if _, err := env.client.RemoveBoost(nft); !IsNotFound(err) {
		t.Errorf("second RemoveBoost err = %v, want not found", err)
	}
}

func TestClient_Evidence(t *testing.T) {
	env := setupTestEnv(t)

	list, err := env.client.ListEvidence("")
	if err != nil {
		t.Fatalf("ListEvidence: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("evidence = %+v, want none", list)
	}

	_, err = env.client.ReportInactivity(env.addr.String())
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != rpc.CodeRejected {
		t.Errorf("ReportInactivity err = %v, want rejected", err)
	}

	_, err = env.client.SubmitEvidence(rpc.EvidenceParam{Kind: "bribery"})
	if !errors.As(err, &rpcErr) || rpcErr.Code != rpc.CodeInvalidParams {
		t.Errorf("SubmitEvidence err = %v, want invalid params", err)
	}
}

func TestClient_MethodNotFound(t *testing.T) {
	env := setupTestEnv(t)

	err := env.client.Call("nonexistent_method", nil, nil)
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("err = %v, want *RPCError", err)
	}
	if rpcErr.Code != rpc.CodeMethodNotFound {
		t.Errorf("code = %d, want %d", rpcErr.Code, rpc.CodeMethodNotFound)
	}
}

func TestClient_ConnectionRefused(t *testing.T) {
	client := NewWithTimeout("http://127.0.0.1:1/", 500*time.Millisecond)
	if _, err := client.ChainInfo(); err == nil {
		t.Fatal("expected error for unreachable endpoint")
	}
}
