// Package staking ties the proof-of-stake components into one engine.
//
// An Engine owns exactly one stake manager, slashing manager, boost
// manager and governance manager, wires their hooks together and is the
// handle the node, the scheduler and the RPC layer share.
package staking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Klingon-tech/klingnet-pos/config"
	"github.com/Klingon-tech/klingnet-pos/internal/boost"
	"github.com/Klingon-tech/klingnet-pos/internal/consensus"
	"github.com/Klingon-tech/klingnet-pos/internal/governance"
	klog "github.com/Klingon-tech/klingnet-pos/internal/log"
	"github.com/Klingon-tech/klingnet-pos/internal/slashing"
	"github.com/Klingon-tech/klingnet-pos/pkg/block"
	"github.com/Klingon-tech/klingnet-pos/pkg/types"
)

// Engine errors.
var (
	ErrValidatorBanned     = errors.New("validator is banned")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// DefaultSweepInterval is how often expired bans and boosts are removed.
const DefaultSweepInterval = 10 * time.Minute

// BalanceFunc returns the spendable balance of an address.
type BalanceFunc func(addr types.Address) uint64

// Options configures an Engine. Zero values select defaults.
type Options struct {
	SweepInterval time.Duration
	// Balances, when set, bounds new stakes by the staker's balance and
	// feeds the available stake in StakingInfo.
	Balances BalanceFunc
	// Clock returns the current unix time; defaults to the wall clock.
	Clock func() uint64
}

// Engine is the staking engine aggregate.
type Engine struct {
	stake   *consensus.Manager
	tracker *consensus.ActivityTracker
	slash   *slashing.Manager
	boosts  *boost.Manager
	gov     *governance.Manager

	protoMu  sync.Mutex
	protocol config.ProtocolConfig

	enabled       atomic.Bool
	balances      BalanceFunc
	clock         func() uint64
	sweepInterval time.Duration

	runMu   sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New builds an engine enforcing protocol.
func New(protocol config.ProtocolConfig, opts Options) (*Engine, error) {
	if err := protocol.Validate(); err != nil {
		return nil, fmt.Errorf("protocol: %w", err)
	}

	e := &Engine{
		protocol:      protocol,
		balances:      opts.Balances,
		clock:         opts.Clock,
		sweepInterval: opts.SweepInterval,
	}
	if e.clock == nil {
		e.clock = func() uint64 { return uint64(time.Now().Unix()) }
	}
	if e.sweepInterval <= 0 {
		e.sweepInterval = DefaultSweepInterval
	}

	e.stake = consensus.NewManager(protocol.Staking)
	e.tracker = consensus.NewActivityTracker()
	slash, err := slashing.NewManager(e.stake, e.tracker, protocol.Slashing)
	if err != nil {
		return nil, fmt.Errorf("slashing: %w", err)
	}
	e.slash = slash
	e.boosts = boost.NewManager(protocol.Boost)
	e.gov = governance.NewManager(e.stake, e, protocol.Governance)

	e.stake.SetPenalties(e.slash.Hook())
	e.stake.SetBooster(e.boosts)
	return e, nil
}

// Stake returns the stake manager.
func (e *Engine) Stake() *consensus.Manager { return e.stake }

// Slashing returns the slashing manager.
func (e *Engine) Slashing() *slashing.Manager { return e.slash }

// Boosts returns the boost manager.
func (e *Engine) Boosts() *boost.Manager { return e.boosts }

// Governance returns the governance manager.
func (e *Engine) Governance() *governance.Manager { return e.gov }

// Now returns the engine clock's current time.
func (e *Engine) Now() uint64 { return e.clock() }

// Protocol returns the protocol parameters in force.
func (e *Engine) Protocol() config.ProtocolConfig {
	e.protoMu.Lock()
	defer e.protoMu.Unlock()
	return e.protocol
}

// ApplyProtocol validates p and pushes it into every component.
func (e *Engine) ApplyProtocol(p config.ProtocolConfig) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("protocol: %w", err)
	}
	e.protoMu.Lock()
	defer e.protoMu.Unlock()

	if err := e.slash.SetRules(p.Slashing); err != nil {
		return fmt.Errorf("slashing rules: %w", err)
	}
	e.stake.SetParams(p.Staking)
	e.boosts.SetRules(p.Boost)
	e.gov.SetRules(p.Governance)
	e.protocol = p

	klog.Stake.Info().Msg("Protocol parameters applied")
	return nil
}

// Start launches the periodic sweeper. It is a no-op when already running.
func (e *Engine) Start(ctx context.Context) {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.running {
		return
	}
	ctx, e.cancel = context.WithCancel(ctx)
	e.running = true

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runSweeper(ctx)
	}()
}

// Stop halts the sweeper and waits for it to exit.
func (e *Engine) Stop() {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if !e.running {
		return
	}
	e.cancel()
	e.wg.Wait()
	e.running = false
}

func (e *Engine) runSweeper(ctx context.Context) {
	ticker := time.NewTicker(e.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Sweep(e.clock())
		}
	}
}

// Sweep removes bans and boosts that have expired by now, along with
// lapsed delegations.
func (e *Engine) Sweep(now uint64) (bans, boosts int) {
	bans = e.slash.SweepExpired(now)
	boosts = e.boosts.SweepExpired(now)
	if n := e.stake.SweepDelegations(now); n > 0 {
		klog.Stake.Debug().Int("delegations", n).Msg("Expired delegations swept")
	}
	return bans, boosts
}

// ValidateBlock rejects blocks from banned producers or on a banned
// owner's stake, then runs consensus validation. It is the node's
// block-processing hook.
func (e *Engine) ValidateBlock(header, prev *block.Header, now uint64) error {
	if header != nil {
		if e.slash.IsBanned(header.Staker, now) {
			return fmt.Errorf("%w: %s", ErrValidatorBanned, header.Staker)
		}
		if owner, ok := e.stake.OwnerOf(header.StakeHash); ok && e.slash.IsBanned(owner, now) {
			return fmt.Errorf("%w: stake owner %s", ErrValidatorBanned, owner)
		}
	}
	return e.stake.ValidateBlock(header, prev, now)
}

// ObserveBlock records the producer of an accepted block, and the owner of
// the stake it used, as active.
func (e *Engine) ObserveBlock(header *block.Header) {
	if header == nil || header.Type != block.TypePoS {
		return
	}
	hash := header.Hash()
	e.slash.RecordActivity(header.Staker, header.Timestamp, hash)
	if owner, ok := e.stake.OwnerOf(header.StakeHash); ok && owner != header.Staker {
		e.slash.RecordActivity(owner, header.Timestamp, hash)
	}
}

// EnableStaking turns local block production on.
func (e *Engine) EnableStaking() {
	if !e.enabled.Swap(true) {
		klog.Stake.Info().Msg("Staking enabled")
	}
}

// DisableStaking turns local block production off.
func (e *Engine) DisableStaking() {
	if e.enabled.Swap(false) {
		klog.Stake.Info().Msg("Staking disabled")
	}
}

// StakingEnabled reports whether local block production is on.
func (e *Engine) StakingEnabled() bool { return e.enabled.Load() }

// AddStake locks amount for addr.
func (e *Engine) AddStake(addr types.Address, amount uint64) (*consensus.StakePosition, error) {
	if e.balances != nil {
		if bal := e.balances(addr); bal < amount {
			return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientBalance, bal, amount)
		}
	}
	return e.stake.CreateStake(addr, amount, e.clock())
}

// UpdateStake changes the locked amount of addr's existing position.
func (e *Engine) UpdateStake(addr types.Address, amount uint64) (*consensus.StakePosition, error) {
	if e.balances != nil {
		if bal := e.balances(addr); bal < amount {
			return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientBalance, bal, amount)
		}
	}
	return e.stake.UpdateStake(addr, amount)
}

// DelegateStake lets staker produce blocks with owner's position until
// expiry (0 for no expiry).
func (e *Engine) DelegateStake(owner, staker types.Address, expiry uint64) (*consensus.Delegation, error) {
	return e.stake.DelegateStake(owner, staker, expiry, e.clock())
}

// RevokeDelegation returns block production to owner.
func (e *Engine) RevokeDelegation(owner types.Address) (*consensus.Delegation, error) {
	return e.stake.RevokeDelegation(owner)
}

// RemoveStake unlocks addr's stake.
func (e *Engine) RemoveStake(addr types.Address) (*consensus.StakePosition, error) {
	return e.stake.RemoveStake(addr)
}

// SubmitEvidence submits misbehavior evidence at the current time.
func (e *Engine) SubmitEvidence(ev *slashing.Evidence) error {
	return e.slash.SubmitEvidence(ev, e.clock())
}

// CreateProposal opens a governance proposal.
func (e *Engine) CreateProposal(proposer types.Address, kind governance.Kind, title, description string, params map[string]string) (types.Hash, error) {
	return e.gov.CreateProposal(proposer, kind, title, description, params, e.clock())
}

// Vote casts voter's vote on a proposal.
func (e *Engine) Vote(id types.Hash, voter types.Address, yes bool) error {
	return e.gov.Vote(id, voter, yes, e.clock())
}

// ExecuteProposal applies a passed proposal.
func (e *Engine) ExecuteProposal(id types.Hash) error {
	return e.gov.Execute(id, e.clock())
}

// CancelProposal withdraws a proposal on behalf of its proposer.
func (e *Engine) CancelProposal(id types.Hash, proposer types.Address) error {
	return e.gov.Cancel(id, proposer, e.clock())
}

// AddBoost registers an NFT boost.
func (e *Engine) AddBoost(b boost.Boost) error {
	return e.boosts.AddBoost(b)
}

// RemoveBoost removes an NFT boost.
func (e *Engine) RemoveBoost(id types.Hash) error {
	_, err := e.boosts.RemoveBoost(id)
	return err
}
