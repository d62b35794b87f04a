// Package node wires the staking engine into a runnable node that can be
// embedded in any binary (daemon, tests).
package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Klingon-tech/klingnet-pos/config"
	klog "github.com/Klingon-tech/klingnet-pos/internal/log"
	"github.com/Klingon-tech/klingnet-pos/internal/metrics"
	"github.com/Klingon-tech/klingnet-pos/internal/miner"
	"github.com/Klingon-tech/klingnet-pos/internal/rpc"
	"github.com/Klingon-tech/klingnet-pos/internal/staking"
	"github.com/Klingon-tech/klingnet-pos/internal/storage"
	"github.com/Klingon-tech/klingnet-pos/internal/wallet"
	"github.com/Klingon-tech/klingnet-pos/pkg/types"
)

// Node is a fully-initialized staking node.
type Node struct {
	cfg     *config.Config
	genesis *config.Genesis
	logger  zerolog.Logger

	// Core
	db     storage.DB
	engine *staking.Engine
	chain  *LocalChain

	// Block production (nil when staking is disabled)
	keyring *wallet.Keyring
	sched   *miner.Scheduler

	// RPC (nil when disabled)
	rpcServer *rpc.Server

	// Lifecycle
	mu      sync.Mutex
	cancel  context.CancelFunc
	group   *errgroup.Group
	started bool
}

// New creates and initializes a new Node. It performs all setup steps
// (logger, genesis, storage, engine, chain, wallet, scheduler, RPC) but
// does NOT start background goroutines. Call Start() for that.
//
// password unlocks the staking key file and is only used when staking is
// enabled.
func New(cfg *config.Config, password []byte) (*Node, error) {
	// ── 1. Set address prefix ───────────────────────────────────────
	if cfg.Network == config.Testnet {
		types.SetAddressPrefix(types.TestnetPrefix)
	} else {
		types.SetAddressPrefix(types.MainnetPrefix)
	}

	// ── 2. Init logger ──────────────────────────────────────────────
	logFile := cfg.Log.File
	if logFile == "" {
		logsDir := cfg.LogsDir()
		if err := os.MkdirAll(logsDir, 0755); err != nil {
			return nil, fmt.Errorf("creating logs dir: %w", err)
		}
		logFile = filepath.Join(logsDir, "stakingd.log")
	}
	if err := klog.Init(cfg.Log.Level, cfg.Log.JSON, logFile); err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	logger := klog.WithComponent("node")

	if cfg.Metrics.Enabled {
		metrics.InitializePrometheusMetrics()
	}

	// ── 3. Genesis ──────────────────────────────────────────────────
	genesis, err := loadGenesis(cfg.GenesisFile, cfg.Network)
	if err != nil {
		return nil, fmt.Errorf("load genesis: %w", err)
	}
	klog.SetChainID(genesis.ChainID)
	logger = klog.WithComponent("node")
	logger.Info().
		Str("chain_id", genesis.ChainID).
		Str("network", string(cfg.Network)).
		Uint64("min_stake", genesis.Protocol.Staking.MinStakeAmount).
		Uint64("min_age", genesis.Protocol.Staking.MinStakeAge).
		Msg("Starting Klingnet PoS node")

	// ── 4. Open storage ─────────────────────────────────────────────
	db, err := storage.NewBadger(cfg.DBDir())
	if err != nil {
		return nil, fmt.Errorf("open database at %s: %w", cfg.DBDir(), err)
	}
	logger.Info().Str("path", cfg.DBDir()).Msg("Database opened")

	// ── 5. Staking engine ───────────────────────────────────────────
	// The balance source is bound once the chain exists.
	var ch *LocalChain
	engine, err := staking.New(genesis.Protocol, staking.Options{
		SweepInterval: cfg.Maintenance.SweepInterval,
		Balances: func(addr types.Address) uint64 {
			if ch == nil {
				return 0
			}
			return ch.BalanceOf(addr)
		},
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create staking engine: %w", err)
	}
	if cfg.Maintenance.ResetCheckpoint {
		if err := staking.DiscardCheckpoint(db); err != nil {
			db.Close()
			return nil, err
		}
		logger.Warn().Msg("Staking checkpoint discarded, rebuilding from genesis")
	}
	if err := engine.Load(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("load staking checkpoint: %w", err)
	}

	// ── 6. Chain ────────────────────────────────────────────────────
	ch, err = NewLocalChain(db, engine, genesis)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open chain: %w", err)
	}
	if ch.Height() == 0 && len(engine.Stake().Positions()) == 0 {
		n, err := seedGenesisStakes(engine, genesis)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("seed genesis stakes: %w", err)
		}
		if n > 0 {
			logger.Info().Int("positions", n).Msg("Genesis stakes created")
		}
	}

	// ── 7. Wallet + scheduler ───────────────────────────────────────
	var (
		keyring *wallet.Keyring
		sched   *miner.Scheduler
	)
	if cfg.Staking.Enabled {
		keyring, err = wallet.OpenKeyring(cfg.KeyFilePath(), password)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("open staking key file %s: %w", cfg.KeyFilePath(), err)
		}
		keyring.SetBalanceSource(ch.BalanceOf)
		sched = miner.New(engine, keyring, ch, miner.Options{
			IdleInterval:   cfg.Staking.IdleInterval,
			ActiveInterval: cfg.Staking.ActiveInterval,
			ErrorBackoff:   cfg.Staking.ErrorBackoff,
		})
		logger.Info().
			Int("addresses", len(keyring.Addresses())).
			Str("path", cfg.KeyFilePath()).
			Msg("Staking key file unlocked")
	}

	// ── 8. RPC ──────────────────────────────────────────────────────
	var rpcServer *rpc.Server
	if cfg.RPC.Enabled {
		addr := net.JoinHostPort(cfg.RPC.Addr, strconv.Itoa(cfg.RPC.Port))
		rpcServer = rpc.New(addr, engine, ch, genesis, cfg.RPC)
		if sched != nil {
			rpcServer.SetProducer(sched)
		}
		if keyring != nil {
			rpcServer.SetWallet(keyring)
		}
	} else {
		logger.Warn().Msg("RPC disabled by config")
	}

	return &Node{
		cfg:       cfg,
		genesis:   genesis,
		logger:    logger,
		db:        db,
		engine:    engine,
		chain:     ch,
		keyring:   keyring,
		sched:     sched,
		rpcServer: rpcServer,
	}, nil
}

// Start launches background work: the engine sweeper, periodic
// checkpoints, the metrics endpoint, the RPC server and, when staking is
// enabled, the block scheduler.
func (n *Node) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.started {
		return nil
	}

	if n.rpcServer != nil {
		if err := n.rpcServer.Start(); err != nil {
			return fmt.Errorf("start RPC: %w", err)
		}
		n.logger.Info().Str("addr", n.rpcServer.Addr()).Msg("RPC server listening")
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	n.cancel = cancel
	n.group = g

	n.engine.Start(gctx)

	g.Go(func() error {
		n.runCheckpoints(gctx)
		return nil
	})

	if n.cfg.Metrics.Enabled {
		g.Go(func() error {
			n.serveMetrics(gctx)
			return nil
		})
	}

	if n.sched != nil {
		n.engine.EnableStaking()
		n.sched.Start()
	}

	n.started = true
	n.logger.Info().
		Uint64("height", n.chain.Height()).
		Str("tip", n.chain.CurrentTip().Hash().Short()).
		Bool("staking", n.sched != nil).
		Msg("Node started successfully")
	return nil
}

// Stop performs graceful shutdown in reverse order and writes a final
// checkpoint.
func (n *Node) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.db == nil {
		return
	}

	if n.sched != nil {
		n.sched.Stop()
	}
	if n.started {
		n.cancel()
		n.group.Wait()
		n.started = false
	}
	n.engine.Stop()

	if n.rpcServer != nil {
		if err := n.rpcServer.Stop(); err != nil {
			n.logger.Warn().Err(err).Msg("RPC shutdown")
		}
	}
	if err := n.engine.Checkpoint(n.db); err != nil {
		n.logger.Error().Err(err).Msg("Final checkpoint failed")
	}
	if n.keyring != nil {
		n.keyring.Lock()
	}
	n.db.Close()
	n.db = nil

	n.logger.Info().Msg("Goodbye!")
	klog.Close()
}

// runCheckpoints rewrites the staking checkpoint every
// Maintenance.CheckpointInterval until ctx is cancelled.
func (n *Node) runCheckpoints(ctx context.Context) {
	interval := n.cfg.Maintenance.CheckpointInterval
	if interval <= 0 {
		interval = config.DefaultCheckpointInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := n.engine.Checkpoint(n.db); err != nil {
				n.logger.Error().Err(err).Msg("Checkpoint failed")
			}
		}
	}
}

// serveMetrics exposes the Prometheus endpoint until ctx is cancelled.
// A bind failure is logged and does not stop the node.
func (n *Node) serveMetrics(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.HTTPHandler())
	srv := &http.Server{
		Addr:              n.cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	n.logger.Info().Str("addr", n.cfg.Metrics.Addr).Msg("Metrics endpoint listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		n.logger.Error().Err(err).Msg("Metrics server error")
	}
}

// RPCAddr returns the address the RPC server is listening on.
func (n *Node) RPCAddr() string {
	if n.rpcServer == nil {
		return ""
	}
	return n.rpcServer.Addr()
}

// Height returns the current chain height.
func (n *Node) Height() uint64 {
	return n.chain.Height()
}

// Engine returns the staking engine.
func (n *Node) Engine() *staking.Engine {
	return n.engine
}

// Chain returns the local chain.
func (n *Node) Chain() *LocalChain {
	return n.chain
}
