// Package rpcclient provides a JSON-RPC 2.0 client for klingnet staking nodes.
package rpcclient

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Klingon-tech/klingnet-pos/internal/consensus"
	"github.com/Klingon-tech/klingnet-pos/internal/governance"
	"github.com/Klingon-tech/klingnet-pos/internal/rpc"
	"github.com/Klingon-tech/klingnet-pos/internal/staking"
)

// Client is a JSON-RPC 2.0 HTTP client.
type Client struct {
	endpoint string
	http     *http.Client
}

// New creates a new RPC client targeting the given endpoint URL.
func New(endpoint string) *Client {
	return NewWithTimeout(endpoint, 10*time.Second)
}

// NewWithTimeout creates a new RPC client with a custom HTTP timeout.
func NewWithTimeout(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		endpoint: endpoint,
		http: &http.Client{
			Timeout: timeout,
		},
	}
}

// request is a JSON-RPC 2.0 request.
type request struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
	ID      int         `json:"id"`
}

// response is a JSON-RPC 2.0 response.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      int             `json:"id"`
}

// rpcError is a JSON-RPC 2.0 error.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// RPCError is returned when the server responds with an error.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Call invokes a JSON-RPC method and unmarshals the result into the provided pointer.
// If result is nil, the response result is discarded.
func (c *Client) Call(method string, params, result interface{}) error {
	req := request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      1,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	resp, err := c.http.Post(c.endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var rpcResp response
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if rpcResp.Error != nil {
		return &RPCError{
			Code:    rpcResp.Error.Code,
			Message: rpcResp.Error.Message,
		}
	}

	if result != nil && rpcResp.Result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}

	return nil
}

// ── Typed helpers ───────────────────────────────────────────────────────

// ChainInfo calls chain_getInfo.
func (c *Client) ChainInfo() (*rpc.ChainInfoResult, error) {
	var res rpc.ChainInfoResult
	if err := c.Call("chain_getInfo", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Header calls chain_getHeader.
func (c *Client) Header(height uint64) (*rpc.HeaderResult, error) {
	var res rpc.HeaderResult
	if err := c.Call("chain_getHeader", rpc.HeightParam{Height: height}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Balance calls chain_getBalance.
func (c *Client) Balance(address string) (*rpc.BalanceResult, error) {
	var res rpc.BalanceResult
	if err := c.Call("chain_getBalance", rpc.AddressParam{Address: address}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// StakingInfo calls staking_getInfo. An empty address returns network
// totals only.
func (c *Client) StakingInfo(address string) (*rpc.StakingInfoResult, error) {
	var params interface{}
	if address != "" {
		params = rpc.AddressParam{Address: address}
	}
	var res rpc.StakingInfoResult
	if err := c.Call("staking_getInfo", params, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ListValidators calls staking_listValidators.
func (c *Client) ListValidators() ([]staking.ValidatorInfo, error) {
	var res []staking.ValidatorInfo
	if err := c.Call("staking_listValidators", nil, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// BanStatus calls staking_getBanStatus.
func (c *Client) BanStatus(address string) (*rpc.BanStatusResult, error) {
	var res rpc.BanStatusResult
	if err := c.Call("staking_getBanStatus", rpc.AddressParam{Address: address}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// SetStaking calls staking_enable or staking_disable and returns the
// resulting state.
func (c *Client) SetStaking(enabled bool) (bool, error) {
	method := "staking_disable"
	if enabled {
		method = "staking_enable"
	}
	var res rpc.StatusResult
	if err := c.Call(method, nil, &res); err != nil {
		return false, err
	}
	return res.Enabled, nil
}

// AddStake calls staking_addStake.
func (c *Client) AddStake(address string, amount uint64) (*consensus.StakePosition, error) {
	var res consensus.StakePosition
	if err := c.Call("staking_addStake", rpc.AddStakeParam{Address: address, Amount: amount}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// UpdateStake calls staking_updateStake.
func (c *Client) UpdateStake(address string, amount uint64) (*consensus.StakePosition, error) {
	var res consensus.StakePosition
	if err := c.Call("staking_updateStake", rpc.AddStakeParam{Address: address, Amount: amount}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Delegate calls staking_delegate.
func (c *Client) Delegate(owner, staker string, expiry uint64) (*consensus.Delegation, error) {
	var res consensus.Delegation
	params := rpc.DelegateParam{Owner: owner, Staker: staker, Expiry: expiry}
	if err := c.Call("staking_delegate", params, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// RevokeDelegation calls staking_revokeDelegation.
func (c *Client) RevokeDelegation(owner string) (*consensus.Delegation, error) {
	var res consensus.Delegation
	if err := c.Call("staking_revokeDelegation", rpc.AddressParam{Address: owner}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// RemoveStake calls staking_removeStake.
func (c *Client) RemoveStake(address string) (*consensus.StakePosition, error) {
	var res consensus.StakePosition
	if err := c.Call("staking_removeStake", rpc.AddressParam{Address: address}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// SubmitEvidence calls slashing_submitEvidence.
func (c *Client) SubmitEvidence(params rpc.EvidenceParam) (*rpc.EvidenceResult, error) {
	var res rpc.EvidenceResult
	if err := c.Call("slashing_submitEvidence", params, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ListEvidence calls slashing_listEvidence. An empty validator lists all
// accepted evidence.
func (c *Client) ListEvidence(validator string) ([]rpc.EvidenceResult, error) {
	var params interface{}
	if validator != "" {
		params = rpc.ValidatorParam{Validator: validator}
	}
	var res []rpc.EvidenceResult
	if err := c.Call("slashing_listEvidence", params, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// ReportInactivity calls slashing_reportInactivity.
func (c *Client) ReportInactivity(validator string) (*rpc.EvidenceResult, error) {
	var res rpc.EvidenceResult
	if err := c.Call("slashing_reportInactivity", rpc.ValidatorParam{Validator: validator}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ListProposals calls gov_list, optionally filtered by state names.
func (c *Client) ListProposals(states ...string) ([]rpc.ProposalResult, error) {
	var params interface{}
	if len(states) > 0 {
		params = rpc.ProposalListParam{States: states}
	}
	var res []rpc.ProposalResult
	if err := c.Call("gov_list", params, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// VoteResult calls gov_getVoteResult.
func (c *Client) VoteResult(id string) (*governance.VoteResult, error) {
	var res governance.VoteResult
	if err := c.Call("gov_getVoteResult", rpc.ProposalIDParam{ID: id}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// CreateProposal calls gov_create and returns the proposal id.
func (c *Client) CreateProposal(params rpc.CreateProposalParam) (string, error) {
	var res rpc.ProposalIDResult
	if err := c.Call("gov_create", params, &res); err != nil {
		return "", err
	}
	return res.ID, nil
}

// Vote calls gov_vote and returns the updated tally.
func (c *Client) Vote(id, voter string, yes bool) (*governance.VoteResult, error) {
	var res governance.VoteResult
	if err := c.Call("gov_vote", rpc.VoteParam{ID: id, Voter: voter, Yes: yes}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ExecuteProposal calls gov_execute.
func (c *Client) ExecuteProposal(id string) error {
	return c.Call("gov_execute", rpc.ProposalIDParam{ID: id}, nil)
}

// CancelProposal calls gov_cancel.
func (c *Client) CancelProposal(id, proposer string) error {
	return c.Call("gov_cancel", rpc.CancelParam{ID: id, Proposer: proposer}, nil)
}

// AddBoost calls boost_add.
func (c *Client) AddBoost(params rpc.BoostParam) (*rpc.BoostResult, error) {
	var res rpc.BoostResult
	if err := c.Call("boost_add", params, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// RemoveBoost calls boost_remove.
func (c *Client) RemoveBoost(nftID string) (*rpc.BoostResult, error) {
	var res rpc.BoostResult
	if err := c.Call("boost_remove", rpc.NFTParam{NFTID: nftID}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ListBoosts calls boost_list. An empty address lists all active boosts.
func (c *Client) ListBoosts(address string) ([]rpc.BoostResult, error) {
	var params interface{}
	if address != "" {
		params = rpc.AddressParam{Address: address}
	}
	var res []rpc.BoostResult
	if err := c.Call("boost_list", params, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// IsNotFound reports whether err is an RPC not-found error.
func IsNotFound(err error) bool {
	var rpcErr *RPCError
	return errors.As(err, &rpcErr) && rpcErr.Code == rpc.CodeNotFound
}
