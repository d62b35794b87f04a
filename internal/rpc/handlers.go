package rpc

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/Klingon-tech/klingnet-pos/internal/boost"
	"github.com/Klingon-tech/klingnet-pos/internal/consensus"
	"github.com/Klingon-tech/klingnet-pos/internal/governance"
	"github.com/Klingon-tech/klingnet-pos/internal/slashing"
	"github.com/Klingon-tech/klingnet-pos/pkg/block"
	"github.com/Klingon-tech/klingnet-pos/pkg/types"
)

// ── Chain endpoints ─────────────────────────────────────────────────────

func (s *Server) handleChainGetInfo(_ *Request) (interface{}, *Error) {
	tip := s.chain.CurrentTip()
	return &ChainInfoResult{
		ChainID:     s.genesis.ChainID,
		ChainName:   s.genesis.ChainName,
		Symbol:      s.genesis.Symbol,
		Height:      tip.Height,
		TipHash:     tip.Hash().String(),
		TipTime:     tip.Timestamp,
		TotalSupply: s.chain.TotalSupply(),
		MaxSupply:   s.engine.Protocol().Staking.MaxSupply,
	}, nil
}

func (s *Server) handleChainGetHeader(req *Request) (interface{}, *Error) {
	var params HeightParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	h, err := s.chain.HeaderByHeight(params.Height)
	if err != nil {
		return nil, &Error{Code: CodeNotFound, Message: fmt.Sprintf("header not found at height %d: %v", params.Height, err)}
	}
	return &HeaderResult{Hash: h.Hash().String(), Header: h}, nil
}

func (s *Server) handleChainGetBalance(req *Request) (interface{}, *Error) {
	var params AddressParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	addr, rpcErr := requireAddress("address", params.Address)
	if rpcErr != nil {
		return nil, rpcErr
	}

	bal := s.chain.BalanceOf(addr)
	res := &BalanceResult{Address: addr.String(), Balance: bal, Available: bal}
	if p, ok := s.engine.Stake().Get(addr); ok {
		res.Staked = p.Amount
		if p.Amount >= bal {
			res.Available = 0
		} else {
			res.Available = bal - p.Amount
		}
	}
	return res, nil
}

// ── Staking endpoints ───────────────────────────────────────────────────

func (s *Server) handleStakingGetInfo(req *Request) (interface{}, *Error) {
	var params AddressParam
	if err := parseOptionalParams(req, &params); err != nil {
		return nil, err
	}

	var addr *types.Address
	if params.Address != "" {
		a, rpcErr := requireAddress("address", params.Address)
		if rpcErr != nil {
			return nil, rpcErr
		}
		addr = &a
	}

	now := s.engine.Now()
	rules := s.engine.Protocol().Staking
	info := s.engine.StakingInfo(addr, now)
	res := &StakingInfoResult{
		Info:           info,
		MinStakeAmount: rules.MinStakeAmount,
		MinStakeAge:    rules.MinStakeAge,
		Difficulty:     consensus.DifficultyFor(info.EligibleStake).Hex(),
	}

	s.mu.RLock()
	producer, wallet := s.producer, s.wallet
	s.mu.RUnlock()
	if producer != nil {
		stats := producer.Stats()
		res.Producing = producer.Running()
		res.Producer = &stats
	}
	if wallet != nil {
		res.LocalAddresses = AddressList(wallet.Addresses())
	}
	return res, nil
}

func (s *Server) handleStakingListValidators(_ *Request) (interface{}, *Error) {
	return s.engine.ListValidators(s.engine.Now()), nil
}

func (s *Server) handleStakingGetBanStatus(req *Request) (interface{}, *Error) {
	var params AddressParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	addr, rpcErr := requireAddress("address", params.Address)
	if rpcErr != nil {
		return nil, rpcErr
	}

	banned, until := s.engine.BanStatus(addr, s.engine.Now())
	res := &BanStatusResult{Address: addr.String(), Banned: banned}
	if banned {
		if until == slashing.BanForever {
			res.Permanent = true
		} else {
			res.Until = until
		}
	}
	return res, nil
}

func (s *Server) handleStakingEnable(_ *Request) (interface{}, *Error) {
	s.engine.EnableStaking()
	return &StatusResult{Enabled: s.engine.StakingEnabled()}, nil
}

func (s *Server) handleStakingDisable(_ *Request) (interface{}, *Error) {
	s.engine.DisableStaking()
	return &StatusResult{Enabled: s.engine.StakingEnabled()}, nil
}

func (s *Server) handleStakingAddStake(req *Request) (interface{}, *Error) {
	var params AddStakeParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	addr, rpcErr := requireAddress("address", params.Address)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if params.Amount == 0 {
		return nil, &Error{Code: CodeInvalidParams, Message: "amount must be positive"}
	}

	pos, err := s.engine.AddStake(addr, params.Amount)
	if err != nil {
		return nil, mapError(err)
	}
	s.logger.Info().
		Str("address", addr.String()).
		Uint64("amount", pos.Amount).
		Msg("Stake added via RPC")
	return pos, nil
}

func (s *Server) handleStakingUpdateStake(req *Request) (interface{}, *Error) {
	var params AddStakeParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	addr, rpcErr := requireAddress("address", params.Address)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if params.Amount == 0 {
		return nil, &Error{Code: CodeInvalidParams, Message: "amount must be positive"}
	}

	pos, err := s.engine.UpdateStake(addr, params.Amount)
	if err != nil {
		return nil, mapError(err)
	}
	s.logger.Info().
		Str("address", addr.String()).
		Uint64("amount", pos.Amount).
		Msg("Stake updated via RPC")
	return pos, nil
}

func (s *Server) handleStakingRemoveStake(req *Request) (interface{}, *Error) {
	var params AddressParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	addr, rpcErr := requireAddress("address", params.Address)
	if rpcErr != nil {
		return nil, rpcErr
	}

	pos, err := s.engine.RemoveStake(addr)
	if err != nil {
		return nil, mapError(err)
	}
	s.logger.Info().
		Str("address", addr.String()).
		Uint64("amount", pos.Amount).
		Msg("Stake removed via RPC")
	return pos, nil
}

func (s *Server) handleStakingDelegate(req *Request) (interface{}, *Error) {
	var params DelegateParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	owner, rpcErr := requireAddress("owner", params.Owner)
	if rpcErr != nil {
		return nil, rpcErr
	}
	staker, rpcErr := requireAddress("staker", params.Staker)
	if rpcErr != nil {
		return nil, rpcErr
	}

	d, err := s.engine.DelegateStake(owner, staker, params.Expiry)
	if err != nil {
		return nil, mapError(err)
	}
	s.logger.Info().
		Str("owner", owner.String()).
		Str("staker", staker.String()).
		Msg("Stake delegated via RPC")
	return d, nil
}

func (s *Server) handleStakingRevokeDelegation(req *Request) (interface{}, *Error) {
	var params AddressParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	owner, rpcErr := requireAddress("address", params.Address)
	if rpcErr != nil {
		return nil, rpcErr
	}

	d, err := s.engine.RevokeDelegation(owner)
	if err != nil {
		return nil, mapError(err)
	}
	s.logger.Info().
		Str("owner", owner.String()).
		Str("staker", d.Staker.String()).
		Msg("Delegation revoked via RPC")
	return d, nil
}

// ── Slashing endpoints ──────────────────────────────────────────────────

func (s *Server) handleSlashingSubmitEvidence(req *Request) (interface{}, *Error) {
	var params EvidenceParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	kind, err := slashing.ParseKind(params.Kind)
	if err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: err.Error()}
	}

	now := s.engine.Now()
	var ev *slashing.Evidence
	switch kind {
	case slashing.DoubleSigning, slashing.InvalidBlock:
		headers, rpcErr := decodeProof(params.Proof)
		if rpcErr != nil {
			return nil, rpcErr
		}
		if kind == slashing.DoubleSigning {
			ev, err = slashing.NewDoubleSigningEvidence(headers[0], headers[1], now)
		} else {
			ev, err = slashing.NewInvalidBlockEvidence(headers[0], headers[1], now)
		}
		if err != nil {
			return nil, mapError(err)
		}
	case slashing.Inactivity:
		v, rpcErr := requireAddress("validator", params.Validator)
		if rpcErr != nil {
			return nil, rpcErr
		}
		var last types.Hash
		if params.BlockA != "" {
			if last, err = types.HexToHash(params.BlockA); err != nil {
				return nil, &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid block_a: %v", err)}
			}
		}
		ev = &slashing.Evidence{Kind: kind, Validator: v, BlockA: last, Timestamp: now}
	}

	if err := s.engine.SubmitEvidence(ev); err != nil {
		return nil, mapError(err)
	}
	s.logger.Warn().
		Str("kind", ev.Kind.String()).
		Str("validator", ev.Validator.String()).
		Msg("Evidence accepted via RPC")
	return NewEvidenceResult(ev), nil
}

func (s *Server) handleSlashingListEvidence(req *Request) (interface{}, *Error) {
	var params ValidatorParam
	if err := parseOptionalParams(req, &params); err != nil {
		return nil, err
	}

	var evs []*slashing.Evidence
	if params.Validator != "" {
		v, rpcErr := requireAddress("validator", params.Validator)
		if rpcErr != nil {
			return nil, rpcErr
		}
		evs = s.engine.Slashing().EvidenceFor(v)
	} else {
		evs = s.engine.Slashing().AllEvidence()
	}

	out := make([]*EvidenceResult, len(evs))
	for i, ev := range evs {
		out[i] = NewEvidenceResult(ev)
	}
	return out, nil
}

func (s *Server) handleSlashingReportInactivity(req *Request) (interface{}, *Error) {
	var params ValidatorParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	v, rpcErr := requireAddress("validator", params.Validator)
	if rpcErr != nil {
		return nil, rpcErr
	}

	ev, ok := s.engine.Slashing().DetectInactivity(v, s.engine.Now())
	if !ok {
		return nil, &Error{Code: CodeRejected, Message: fmt.Sprintf("validator %s is not inactive", v)}
	}
	if err := s.engine.SubmitEvidence(ev); err != nil {
		return nil, mapError(err)
	}
	return NewEvidenceResult(ev), nil
}

// ── Governance endpoints ────────────────────────────────────────────────

func (s *Server) handleGovList(req *Request) (interface{}, *Error) {
	var params ProposalListParam
	if err := parseOptionalParams(req, &params); err != nil {
		return nil, err
	}

	states := make([]governance.State, 0, len(params.States))
	for _, name := range params.States {
		st, err := governance.ParseState(name)
		if err != nil {
			return nil, &Error{Code: CodeInvalidParams, Message: err.Error()}
		}
		states = append(states, st)
	}

	now := s.engine.Now()
	gov := s.engine.Governance()
	proposals := s.engine.ListProposals(now, states...)
	out := make([]*ProposalResult, 0, len(proposals))
	for _, p := range proposals {
		st, err := gov.State(p.ID, now)
		if err != nil {
			continue
		}
		out = append(out, &ProposalResult{Proposal: p, Kind: p.Kind.String(), State: st.String()})
	}
	return out, nil
}

func (s *Server) handleGovGetVoteResult(req *Request) (interface{}, *Error) {
	var params ProposalIDParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	id, rpcErr := requireHash("id", params.ID)
	if rpcErr != nil {
		return nil, rpcErr
	}

	res, err := s.engine.VoteResult(id)
	if err != nil {
		return nil, mapError(err)
	}
	return res, nil
}

func (s *Server) handleGovCreate(req *Request) (interface{}, *Error) {
	var params CreateProposalParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	proposer, rpcErr := requireAddress("proposer", params.Proposer)
	if rpcErr != nil {
		return nil, rpcErr
	}
	kind, err := governance.ParseKind(params.Kind)
	if err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: err.Error()}
	}
	if strings.TrimSpace(params.Title) == "" {
		return nil, &Error{Code: CodeInvalidParams, Message: "title is required"}
	}

	id, err := s.engine.CreateProposal(proposer, kind, params.Title, params.Description, params.Params)
	if err != nil {
		return nil, mapError(err)
	}
	return &ProposalIDResult{ID: id.String()}, nil
}

func (s *Server) handleGovVote(req *Request) (interface{}, *Error) {
	var params VoteParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	id, rpcErr := requireHash("id", params.ID)
	if rpcErr != nil {
		return nil, rpcErr
	}
	voter, rpcErr := requireAddress("voter", params.Voter)
	if rpcErr != nil {
		return nil, rpcErr
	}

	if err := s.engine.Vote(id, voter, params.Yes); err != nil {
		return nil, mapError(err)
	}
	res, err := s.engine.VoteResult(id)
	if err != nil {
		return nil, mapError(err)
	}
	return res, nil
}

func (s *Server) handleGovExecute(req *Request) (interface{}, *Error) {
	var params ProposalIDParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	id, rpcErr := requireHash("id", params.ID)
	if rpcErr != nil {
		return nil, rpcErr
	}

	if err := s.engine.ExecuteProposal(id); err != nil {
		return nil, mapError(err)
	}
	s.logger.Info().Str("id", id.Short()).Msg("Proposal executed via RPC")
	return &ProposalIDResult{ID: id.String()}, nil
}

func (s *Server) handleGovCancel(req *Request) (interface{}, *Error) {
	var params CancelParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	id, rpcErr := requireHash("id", params.ID)
	if rpcErr != nil {
		return nil, rpcErr
	}
	proposer, rpcErr := requireAddress("proposer", params.Proposer)
	if rpcErr != nil {
		return nil, rpcErr
	}

	if err := s.engine.CancelProposal(id, proposer); err != nil {
		return nil, mapError(err)
	}
	return &ProposalIDResult{ID: id.String()}, nil
}

// ── Boost endpoints ─────────────────────────────────────────────────────

func (s *Server) handleBoostAdd(req *Request) (interface{}, *Error) {
	var params BoostParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	id, rpcErr := requireHash("nft_id", params.NFTID)
	if rpcErr != nil {
		return nil, rpcErr
	}
	owner, rpcErr := requireAddress("owner", params.Owner)
	if rpcErr != nil {
		return nil, rpcErr
	}

	b := boost.Boost{
		NFTID:         id,
		Owner:         owner,
		MultiplierBps: params.MultiplierBps,
		Start:         params.Start,
		End:           params.End,
		Kind:          params.Kind,
	}
	if b.Start == 0 {
		b.Start = s.engine.Now()
	}
	if err := s.engine.AddBoost(b); err != nil {
		return nil, mapError(err)
	}
	return NewBoostResult(&b), nil
}

func (s *Server) handleBoostRemove(req *Request) (interface{}, *Error) {
	var params NFTParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	id, rpcErr := requireHash("nft_id", params.NFTID)
	if rpcErr != nil {
		return nil, rpcErr
	}

	b, err := s.engine.Boosts().RemoveBoost(id)
	if err != nil {
		return nil, mapError(err)
	}
	return NewBoostResult(b), nil
}

func (s *Server) handleBoostList(req *Request) (interface{}, *Error) {
	var params AddressParam
	if err := parseOptionalParams(req, &params); err != nil {
		return nil, err
	}

	now := s.engine.Now()
	var boosts []*boost.Boost
	if params.Address != "" {
		addr, rpcErr := requireAddress("address", params.Address)
		if rpcErr != nil {
			return nil, rpcErr
		}
		boosts = s.engine.Boosts().BoostsFor(addr, now)
	} else {
		boosts = s.engine.Boosts().ActiveBoosts(now)
	}

	out := make([]*BoostResult, len(boosts))
	for i, b := range boosts {
		out[i] = NewBoostResult(b)
	}
	return out, nil
}

// ── Helpers ─────────────────────────────────────────────────────────────

func requireAddress(field, s string) (types.Address, *Error) {
	if s == "" {
		return types.Address{}, &Error{Code: CodeInvalidParams, Message: field + " is required"}
	}
	addr, err := types.ParseAddress(s)
	if err != nil {
		return types.Address{}, &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid %s: %v", field, err)}
	}
	return addr, nil
}

func requireHash(field, s string) (types.Hash, *Error) {
	if s == "" {
		return types.Hash{}, &Error{Code: CodeInvalidParams, Message: field + " is required"}
	}
	h, err := types.HexToHash(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return types.Hash{}, &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid %s: must be 32-byte hex", field)}
	}
	return h, nil
}

// decodeProof parses the two-header proof carried by double-signing and
// invalid-block evidence.
func decodeProof(proofHex string) ([]*block.Header, *Error) {
	if proofHex == "" {
		return nil, &Error{Code: CodeInvalidParams, Message: "proof is required"}
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(proofHex, "0x"))
	if err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: "invalid proof: must be hex"}
	}
	headers, err := block.DecodeHeaders(raw)
	if err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid proof: %v", err)}
	}
	if len(headers) != 2 {
		return nil, &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid proof: want 2 headers, got %d", len(headers))}
	}
	return headers, nil
}

// mapError converts an engine error into a JSON-RPC error. The engine's
// message is passed through unchanged.
func mapError(err error) *Error {
	switch {
	case errors.Is(err, consensus.ErrNotFound),
		errors.Is(err, consensus.ErrNoDelegation),
		errors.Is(err, governance.ErrProposalNotFound),
		errors.Is(err, boost.ErrNotFound):
		return &Error{Code: CodeNotFound, Message: err.Error()}
	case errors.Is(err, slashing.ErrMalformed),
		errors.Is(err, consensus.ErrInvalidDelegation),
		errors.Is(err, slashing.ErrUnknownKind),
		errors.Is(err, governance.ErrUnknownKind),
		errors.Is(err, governance.ErrUnknownParameter),
		errors.Is(err, governance.ErrInvalidParameter),
		errors.Is(err, boost.ErrInvalidBoost):
		return &Error{Code: CodeInvalidParams, Message: err.Error()}
	default:
		return &Error{Code: CodeRejected, Message: err.Error()}
	}
}
