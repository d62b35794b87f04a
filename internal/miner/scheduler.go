// Package miner runs proof-of-stake block production for a node.
package miner

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Klingon-tech/klingnet-pos/config"
	klog "github.com/Klingon-tech/klingnet-pos/internal/log"
	"github.com/Klingon-tech/klingnet-pos/internal/metrics"
	"github.com/Klingon-tech/klingnet-pos/internal/staking"
	"github.com/Klingon-tech/klingnet-pos/pkg/block"
	"github.com/Klingon-tech/klingnet-pos/pkg/types"
)

// ErrNoTip is returned when the node has no chain tip to build on.
var ErrNoTip = errors.New("node has no chain tip")

// Wallet signs block hashes for the staking addresses it holds.
type Wallet interface {
	Has(addr types.Address) bool
	PublicKey(addr types.Address) ([]byte, error)
	Sign(addr types.Address, hash []byte) ([]byte, error)
}

// Node is the chain the scheduler extends.
type Node interface {
	CurrentTip() *block.Header
	SubmitBlock(blk *block.Block) error
	TotalSupply() uint64
}

// Options holds the loop intervals. Zero values select the defaults.
type Options struct {
	IdleInterval   time.Duration // disabled, or nobody of ours eligible
	ActiveInterval time.Duration // after an accepted block
	ErrorBackoff   time.Duration // after any failure
}

func (o *Options) applyDefaults() {
	if o.IdleInterval <= 0 {
		o.IdleInterval = config.DefaultIdleInterval
	}
	if o.ActiveInterval <= 0 {
		o.ActiveInterval = config.DefaultActiveInterval
	}
	if o.ErrorBackoff <= 0 {
		o.ErrorBackoff = config.DefaultErrorBackoff
	}
}

// Stats are the production counters since the scheduler was created.
type Stats struct {
	BlocksCreated   uint64 `json:"blocks_created"`
	BlocksSubmitted uint64 `json:"blocks_submitted"`
	BlocksAccepted  uint64 `json:"blocks_accepted"`
	LastBlockTime   uint64 `json:"last_block_time"`
	TotalRewards    uint64 `json:"total_rewards"`
	Failures        uint64 `json:"failures"`
}

type outcome int

const (
	outcomeIdle outcome = iota
	outcomeProduced
	outcomeFailed
)

func (o outcome) String() string {
	switch o {
	case outcomeProduced:
		return "produced"
	case outcomeFailed:
		return "failed"
	default:
		return "idle"
	}
}

// Scheduler polls the staking engine and produces a block whenever one of
// the wallet's stakes is the selected candidate.
type Scheduler struct {
	engine *staking.Engine
	wallet Wallet
	node   Node
	opts   Options

	runMu   sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	running bool

	statsMu sync.Mutex
	stats   Stats
}

// New creates a stopped scheduler.
func New(engine *staking.Engine, wallet Wallet, node Node, opts Options) *Scheduler {
	opts.applyDefaults()
	return &Scheduler{
		engine: engine,
		wallet: wallet,
		node:   node,
		opts:   opts,
	}
}

// Start launches the polling goroutine. It is a no-op when already running.
func (s *Scheduler) Start() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.running {
		return
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.running = true
	go s.loop(s.stop, s.done)
	klog.Scheduler.Info().
		Dur("idle", s.opts.IdleInterval).
		Dur("active", s.opts.ActiveInterval).
		Dur("backoff", s.opts.ErrorBackoff).
		Msg("Staking scheduler started")
}

// Stop signals the loop and waits for it to exit. An iteration already in
// progress is allowed to finish.
func (s *Scheduler) Stop() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if !s.running {
		return
	}
	close(s.stop)
	<-s.done
	s.running = false
	klog.Scheduler.Info().Msg("Staking scheduler stopped")
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.running
}

// Stats returns a copy of the production counters.
func (s *Scheduler) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

func (s *Scheduler) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-stop:
			return
		case <-timer.C:
		}

		wait := s.opts.IdleInterval
		switch s.iterate() {
		case outcomeProduced:
			wait = s.opts.ActiveInterval
		case outcomeFailed:
			wait = s.opts.ErrorBackoff
		}
		timer.Reset(wait)
	}
}

// iterate runs one poll. A panic anywhere below counts as a failure.
func (s *Scheduler) iterate() (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			s.recordFailure(fmt.Errorf("panic: %v", r))
			out = outcomeFailed
		}
		metrics.SchedulerIteration().AddWithLabel(1, map[string]string{"outcome": out.String()})
	}()

	produced, err := s.tryStake()
	switch {
	case err != nil:
		s.recordFailure(err)
		return outcomeFailed
	case produced:
		return outcomeProduced
	default:
		return outcomeIdle
	}
}

// tryStake builds, signs and submits one block if one of our stakes is the
// current candidate. It reports false with a nil error when there is
// nothing to do.
func (s *Scheduler) tryStake() (bool, error) {
	if !s.engine.StakingEnabled() {
		return false, nil
	}
	now := s.engine.Now()
	stake := s.engine.Stake()

	candidate := stake.SelectCandidate(now)
	if candidate == nil {
		return false, nil
	}
	// Under delegation the wallet holds the producer key, not the owner's.
	producer := stake.ProducerFor(candidate.Address, now)
	if !s.wallet.Has(producer) {
		return false, nil
	}
	if s.engine.Slashing().IsBanned(producer, now) {
		klog.Scheduler.Warn().Str("staker", producer.String()).Msg("Candidate is banned, skipping")
		return false, nil
	}

	tip := s.node.CurrentTip()
	if tip == nil {
		return false, ErrNoTip
	}
	header, err := stake.BuildBlockHeader(candidate, tip, now)
	if err != nil {
		return false, fmt.Errorf("build header: %w", err)
	}
	blk := block.NewBlock(header, nil)

	if header.Staker != producer {
		return false, fmt.Errorf("build header: producer changed to %s", header.Staker)
	}
	pub, err := s.wallet.PublicKey(producer)
	if err != nil {
		return false, fmt.Errorf("public key: %w", err)
	}
	hash := header.Hash()
	sig, err := s.wallet.Sign(producer, hash[:])
	if err != nil {
		return false, fmt.Errorf("sign block: %w", err)
	}
	header.ValidatorPubKey = pub
	header.ValidatorSig = sig
	s.update(func(st *Stats) { st.BlocksCreated++ })

	supplyBefore := s.node.TotalSupply()
	s.update(func(st *Stats) { st.BlocksSubmitted++ })
	if err := s.node.SubmitBlock(blk); err != nil {
		return false, fmt.Errorf("submit block %d: %w", header.Height, err)
	}

	var reward uint64
	if after := s.node.TotalSupply(); after > supplyBefore {
		reward = after - supplyBefore
	}
	s.update(func(st *Stats) {
		st.BlocksAccepted++
		st.LastBlockTime = header.Timestamp
		st.TotalRewards += reward
	})

	klog.Scheduler.Info().
		Uint64("height", header.Height).
		Str("hash", hash.Short()).
		Str("staker", producer.String()).
		Str("owner", candidate.Address.String()).
		Uint64("stake", candidate.Amount).
		Uint64("reward", reward).
		Msg("Produced PoS block")
	return true, nil
}

func (s *Scheduler) update(fn func(*Stats)) {
	s.statsMu.Lock()
	fn(&s.stats)
	s.statsMu.Unlock()
}

func (s *Scheduler) recordFailure(err error) {
	s.update(func(st *Stats) { st.Failures++ })
	klog.Scheduler.Warn().Err(err).Dur("backoff", s.opts.ErrorBackoff).Msg("Staking iteration failed")
}
