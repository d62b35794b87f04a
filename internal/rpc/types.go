package rpc

import (
	"github.com/Klingon-tech/klingnet-pos/internal/boost"
	"github.com/Klingon-tech/klingnet-pos/internal/governance"
	"github.com/Klingon-tech/klingnet-pos/internal/miner"
	"github.com/Klingon-tech/klingnet-pos/internal/slashing"
	"github.com/Klingon-tech/klingnet-pos/internal/staking"
	"github.com/Klingon-tech/klingnet-pos/pkg/block"
	"github.com/Klingon-tech/klingnet-pos/pkg/types"
)

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeNotFound       = -32000
	CodeRejected       = -32001 // The engine refused a well-formed request.
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      interface{} `json:"id"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ── Param types ─────────────────────────────────────────────────────────

// HeightParam is used by chain_getHeader.
type HeightParam struct {
	Height uint64 `json:"height"`
}

// AddressParam is used by endpoints that take a single address.
// The address may be omitted where the endpoint says so.
type AddressParam struct {
	Address string `json:"address,omitempty"`
}

// AddStakeParam is used by staking_addStake and staking_updateStake.
type AddStakeParam struct {
	Address string `json:"address"`
	Amount  uint64 `json:"amount"`
}

// DelegateParam is used by staking_delegate. Expiry is a unix time; 0
// keeps the delegation until it is revoked.
type DelegateParam struct {
	Owner  string `json:"owner"`
	Staker string `json:"staker"`
	Expiry uint64 `json:"expiry,omitempty"`
}

// EvidenceParam is used by slashing_submitEvidence.
//
// Double-signing and invalid-block evidence carry Proof, the hex RLP list
// of headers (both conflicting headers, or the block and its parent).
// Inactivity evidence carries Validator and BlockA, the validator's last
// produced block.
type EvidenceParam struct {
	Kind      string `json:"kind"`
	Validator string `json:"validator,omitempty"`
	BlockA    string `json:"block_a,omitempty"`
	Proof     string `json:"proof,omitempty"`
}

// ValidatorParam is used by slashing_listEvidence and
// slashing_reportInactivity.
type ValidatorParam struct {
	Validator string `json:"validator,omitempty"`
}

// ProposalListParam is used by gov_list.
type ProposalListParam struct {
	States []string `json:"states,omitempty"`
}

// ProposalIDParam is used by endpoints that take a proposal id.
type ProposalIDParam struct {
	ID string `json:"id"`
}

// CreateProposalParam is used by gov_create.
type CreateProposalParam struct {
	Proposer    string            `json:"proposer"`
	Kind        string            `json:"kind"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Params      map[string]string `json:"params,omitempty"`
}

// VoteParam is used by gov_vote.
type VoteParam struct {
	ID    string `json:"id"`
	Voter string `json:"voter"`
	Yes   bool   `json:"yes"`
}

// CancelParam is used by gov_cancel.
type CancelParam struct {
	ID       string `json:"id"`
	Proposer string `json:"proposer"`
}

// BoostParam is used by boost_add.
type BoostParam struct {
	NFTID         string `json:"nft_id"`
	Owner         string `json:"owner"`
	MultiplierBps uint64 `json:"multiplier_bps"`
	Start         uint64 `json:"start,omitempty"`
	End           uint64 `json:"end,omitempty"`
	Kind          string `json:"kind,omitempty"`
}

// NFTParam is used by boost_remove.
type NFTParam struct {
	NFTID string `json:"nft_id"`
}

// ── Result types ────────────────────────────────────────────────────────

// ChainInfoResult is returned by chain_getInfo.
type ChainInfoResult struct {
	ChainID     string `json:"chain_id"`
	ChainName   string `json:"chain_name"`
	Symbol      string `json:"symbol,omitempty"`
	Height      uint64 `json:"height"`
	TipHash     string `json:"tip_hash"`
	TipTime     uint64 `json:"tip_time"`
	TotalSupply uint64 `json:"total_supply"`
	MaxSupply   uint64 `json:"max_supply"`
}

// HeaderResult wraps a header with its precomputed hash.
type HeaderResult struct {
	Hash   string        `json:"hash"`
	Header *block.Header `json:"header"`
}

// BalanceResult is returned by chain_getBalance.
type BalanceResult struct {
	Address   string `json:"address"`
	Balance   uint64 `json:"balance"`
	Staked    uint64 `json:"staked"`
	Available uint64 `json:"available"`
}

// StakingInfoResult is returned by staking_getInfo.
type StakingInfoResult struct {
	staking.Info

	MinStakeAmount uint64 `json:"min_stake_amount"`
	MinStakeAge    uint64 `json:"min_stake_age"`
	Difficulty     string `json:"difficulty"`

	// Local producer state, present when the node stakes.
	Producing      bool         `json:"producing"`
	Producer       *miner.Stats `json:"producer,omitempty"`
	LocalAddresses []string     `json:"local_addresses,omitempty"`
}

// StatusResult is returned by staking_enable and staking_disable.
type StatusResult struct {
	Enabled bool `json:"enabled"`
}

// BanStatusResult is returned by staking_getBanStatus.
type BanStatusResult struct {
	Address   string `json:"address"`
	Banned    bool   `json:"banned"`
	Until     uint64 `json:"until,omitempty"`
	Permanent bool   `json:"permanent,omitempty"`
}

// EvidenceResult describes one accepted evidence record.
type EvidenceResult struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Validator string `json:"validator"`
	BlockA    string `json:"block_a,omitempty"`
	BlockB    string `json:"block_b,omitempty"`
	Timestamp uint64 `json:"timestamp"`
}

// NewEvidenceResult converts ev for display.
func NewEvidenceResult(ev *slashing.Evidence) *EvidenceResult {
	r := &EvidenceResult{
		ID:        ev.ID().String(),
		Kind:      ev.Kind.String(),
		Validator: ev.Validator.String(),
		Timestamp: ev.Timestamp,
	}
	if !ev.BlockA.IsZero() {
		r.BlockA = ev.BlockA.String()
	}
	if !ev.BlockB.IsZero() {
		r.BlockB = ev.BlockB.String()
	}
	return r
}

// ProposalResult is a proposal with its kind and state spelled out.
type ProposalResult struct {
	*governance.Proposal
	Kind  string `json:"kind"`
	State string `json:"state"`
}

// ProposalIDResult is returned by gov_create.
type ProposalIDResult struct {
	ID string `json:"id"`
}

// BoostResult describes one NFT boost.
type BoostResult struct {
	NFTID         string `json:"nft_id"`
	Owner         string `json:"owner"`
	MultiplierBps uint64 `json:"multiplier_bps"`
	Start         uint64 `json:"start"`
	End           uint64 `json:"end"`
	Kind          string `json:"kind,omitempty"`
}

// NewBoostResult converts b for display.
func NewBoostResult(b *boost.Boost) *BoostResult {
	return &BoostResult{
		NFTID:         b.NFTID.String(),
		Owner:         b.Owner.String(),
		MultiplierBps: b.MultiplierBps,
		Start:         b.Start,
		End:           b.End,
		Kind:          b.Kind,
	}
}

// AddressList is a convenience for rendering addresses.
func AddressList(addrs []types.Address) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.String()
	}
	return out
}
