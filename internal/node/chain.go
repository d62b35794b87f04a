package node

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/Klingon-tech/klingnet-pos/config"
	"github.com/Klingon-tech/klingnet-pos/internal/consensus"
	klog "github.com/Klingon-tech/klingnet-pos/internal/log"
	"github.com/Klingon-tech/klingnet-pos/internal/metrics"
	"github.com/Klingon-tech/klingnet-pos/internal/slashing"
	"github.com/Klingon-tech/klingnet-pos/internal/staking"
	"github.com/Klingon-tech/klingnet-pos/internal/storage"
	"github.com/Klingon-tech/klingnet-pos/pkg/block"
	"github.com/Klingon-tech/klingnet-pos/pkg/types"
)

// Chain errors.
var (
	ErrStaleBlock      = errors.New("block height is at or below the tip")
	ErrNotExtendingTip = errors.New("block does not extend the tip")
	ErrHeaderNotFound  = errors.New("header not found")
	ErrGenesisMismatch = errors.New("stored chain belongs to a different genesis")
)

// Key prefixes and state keys for the header store. The whole store lives
// under prefixChain in the node database.
var (
	prefixChain  = []byte("chain/")
	prefixHeader = []byte("h/") // h/<height(8)> -> RLP header
	keyMeta      = []byte("s/meta")
)

type credit struct {
	Addr   types.Address
	Amount uint64
}

type chainMeta struct {
	Genesis types.Hash
	Height  uint64
	Minted  uint64
	Credits []credit
}

// LocalChain is the node's header chain. It accepts locally produced
// blocks, pays block rewards and tracks balances on top of the genesis
// allocation. Blocks failing validation or conflicting with an accepted
// block from the same producer are turned into slashing evidence.
type LocalChain struct {
	db        storage.DB
	engine    *staking.Engine
	validator *consensus.Validator

	genesisID  types.Hash
	alloc      map[types.Address]uint64
	totalAlloc uint64

	mu      sync.RWMutex
	tip     *block.Header
	minted  uint64
	credits map[types.Address]uint64
}

// NewLocalChain opens the chain stored in db, writing the genesis header
// when db holds no chain yet.
func NewLocalChain(db storage.DB, engine *staking.Engine, g *config.Genesis) (*LocalChain, error) {
	id, err := g.Hash()
	if err != nil {
		return nil, fmt.Errorf("genesis hash: %w", err)
	}
	alloc := make(map[types.Address]uint64, len(g.Alloc))
	for s, v := range g.Alloc {
		addr, err := types.ParseAddress(s)
		if err != nil {
			return nil, fmt.Errorf("alloc address %q: %w", s, err)
		}
		alloc[addr] += v
	}

	c := &LocalChain{
		db:         storage.NewPrefixDB(db, prefixChain),
		engine:     engine,
		validator:  consensus.NewValidator(engine),
		genesisID:  id,
		alloc:      alloc,
		totalAlloc: g.TotalAlloc(),
		credits:    make(map[types.Address]uint64),
	}

	data, err := c.db.Get(keyMeta)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		if err := c.writeGenesis(g); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("read chain meta: %w", err)
	default:
		if err := c.restore(data); err != nil {
			return nil, err
		}
	}
	metrics.ChainHeight().Set(int64(c.tip.Height))
	return c, nil
}

// GenesisHeader returns the height-0 header for g. It is not signed and
// carries the genesis config hash as its parent.
func GenesisHeader(g *config.Genesis) (*block.Header, error) {
	id, err := g.Hash()
	if err != nil {
		return nil, err
	}
	return &block.Header{
		Version:     block.CurrentVersion,
		Type:        block.TypePoW,
		PrevHash:    id,
		PayloadRoot: block.PayloadRoot(nil),
		Height:      0,
		Timestamp:   g.Timestamp,
	}, nil
}

func (c *LocalChain) writeGenesis(g *config.Genesis) error {
	h, err := GenesisHeader(g)
	if err != nil {
		return fmt.Errorf("genesis header: %w", err)
	}
	c.tip = h
	if err := c.persist(h); err != nil {
		return fmt.Errorf("write genesis: %w", err)
	}
	klog.Chain.Info().
		Str("chain_id", g.ChainID).
		Str("hash", h.Hash().Short()).
		Msg("Initialized chain from genesis")
	return nil
}

func (c *LocalChain) restore(data []byte) error {
	var meta chainMeta
	if err := rlp.DecodeBytes(data, &meta); err != nil {
		return fmt.Errorf("decode chain meta: %w", err)
	}
	if meta.Genesis != c.genesisID {
		return fmt.Errorf("%w: stored %s, config %s", ErrGenesisMismatch, meta.Genesis.Short(), c.genesisID.Short())
	}
	tip, err := c.header(meta.Height)
	if err != nil {
		return fmt.Errorf("load tip: %w", err)
	}
	c.tip = tip
	c.minted = meta.Minted
	for _, cr := range meta.Credits {
		c.credits[cr.Addr] = cr.Amount
	}
	klog.Chain.Info().
		Uint64("height", tip.Height).
		Str("tip", tip.Hash().Short()).
		Msg("Loaded chain")
	return nil
}

// persist writes h and the current metadata in one batch. Callers hold
// c.mu or own c exclusively.
func (c *LocalChain) persist(h *block.Header) error {
	enc, err := block.EncodeHeader(h)
	if err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	meta := chainMeta{Genesis: c.genesisID, Height: h.Height, Minted: c.minted}
	for addr, amt := range c.credits {
		meta.Credits = append(meta.Credits, credit{Addr: addr, Amount: amt})
	}
	sort.Slice(meta.Credits, func(i, j int) bool {
		return string(meta.Credits[i].Addr[:]) < string(meta.Credits[j].Addr[:])
	})
	metaBytes, err := rlp.EncodeToBytes(&meta)
	if err != nil {
		return fmt.Errorf("encode chain meta: %w", err)
	}

	batch := storage.NewBatch(c.db)
	if err := batch.Put(headerKey(h.Height), enc); err != nil {
		return err
	}
	if err := batch.Put(keyMeta, metaBytes); err != nil {
		return err
	}
	return batch.Commit()
}

func (c *LocalChain) header(height uint64) (*block.Header, error) {
	data, err := c.db.Get(headerKey(height))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: height %d", ErrHeaderNotFound, height)
	}
	if err != nil {
		return nil, err
	}
	return block.DecodeHeader(data)
}

// SubmitBlock validates blk against the tip and appends it, crediting the
// producer's reward. A block from a producer that already has a different
// block at the same height is reported as double signing. A signed block
// that fails consensus validation is reported as an invalid block.
func (c *LocalChain) SubmitBlock(blk *block.Block) error {
	if blk == nil || blk.Header == nil {
		return block.ErrNilHeader
	}
	h := blk.Header
	now := c.engine.Now()

	c.mu.Lock()
	ev, err := c.submitLocked(blk, now)
	c.mu.Unlock()

	if ev != nil {
		c.report(ev)
	}
	if err != nil {
		klog.Chain.Warn().Err(err).
			Uint64("height", h.Height).
			Str("staker", h.Staker.String()).
			Msg("Rejected block")
		return err
	}

	c.engine.ObserveBlock(h)
	return nil
}

func (c *LocalChain) submitLocked(blk *block.Block, now uint64) (*slashing.Evidence, error) {
	h := blk.Header
	tip := c.tip

	if h.Height <= tip.Height {
		metrics.BlocksRejected().AddWithLabel(1, map[string]string{"reason": "stale"})
		stored, err := c.header(h.Height)
		if err == nil && stored.Staker == h.Staker && stored.Hash() != h.Hash() {
			ev, _ := c.engine.Slashing().DetectDoubleSigning(stored, h)
			return ev, fmt.Errorf("%w: height %d, tip %d", ErrStaleBlock, h.Height, tip.Height)
		}
		return nil, fmt.Errorf("%w: height %d, tip %d", ErrStaleBlock, h.Height, tip.Height)
	}
	if h.Height != tip.Height+1 || h.PrevHash != tip.Hash() {
		metrics.BlocksRejected().AddWithLabel(1, map[string]string{"reason": "orphan"})
		return nil, fmt.Errorf("%w: height %d on tip %d", ErrNotExtendingTip, h.Height, tip.Height)
	}

	if err := c.validator.ValidateBlock(blk, tip, now); err != nil {
		metrics.BlocksRejected().AddWithLabel(1, map[string]string{"reason": "invalid"})
		if errors.Is(err, staking.ErrValidatorBanned) {
			return nil, err
		}
		ev, _ := c.engine.Slashing().DetectInvalidBlock(h, tip, now)
		return ev, err
	}

	// Rewards go to the stake owner, which is the producer unless delegated.
	payee, ok := c.engine.Stake().OwnerOf(h.StakeHash)
	if !ok {
		payee = h.Staker
	}
	reward := c.engine.Stake().RewardFor(payee, now)
	supply := c.totalAlloc + c.minted
	if maxSupply := c.engine.Protocol().Staking.MaxSupply; maxSupply > 0 {
		if supply >= maxSupply {
			reward = 0
		} else if reward > maxSupply-supply {
			reward = maxSupply - supply
		}
	}

	c.minted += reward
	c.credits[payee] += reward
	if err := c.persist(h); err != nil {
		c.minted -= reward
		c.credits[payee] -= reward
		return nil, fmt.Errorf("persist block %d: %w", h.Height, err)
	}
	c.tip = h.Copy()
	metrics.ChainHeight().Set(int64(h.Height))

	klog.Chain.Info().
		Uint64("height", h.Height).
		Str("hash", h.Hash().Short()).
		Str("staker", h.Staker.String()).
		Str("payee", payee.String()).
		Uint64("reward", reward).
		Msg("Accepted block")
	return nil, nil
}

func (c *LocalChain) report(ev *slashing.Evidence) {
	if err := c.engine.SubmitEvidence(ev); err != nil {
		klog.Chain.Debug().Err(err).
			Str("kind", ev.Kind.String()).
			Str("validator", ev.Validator.String()).
			Msg("Evidence not applied")
		return
	}
	klog.Chain.Warn().
		Str("kind", ev.Kind.String()).
		Str("validator", ev.Validator.String()).
		Msg("Submitted evidence from block processing")
}

// CurrentTip returns a copy of the tip header.
func (c *LocalChain) CurrentTip() *block.Header {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tip.Copy()
}

// Height returns the tip height.
func (c *LocalChain) Height() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tip.Height
}

// HeaderByHeight returns the accepted header at height.
func (c *LocalChain) HeaderByHeight(height uint64) (*block.Header, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if height > c.tip.Height {
		return nil, fmt.Errorf("%w: height %d", ErrHeaderNotFound, height)
	}
	return c.header(height)
}

// TotalSupply returns the genesis allocation plus all minted rewards.
func (c *LocalChain) TotalSupply() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.totalAlloc + c.minted
}

// BalanceOf returns addr's allocation plus earned rewards, less anything
// slashed from its stake.
func (c *LocalChain) BalanceOf(addr types.Address) uint64 {
	c.mu.RLock()
	bal := c.alloc[addr] + c.credits[addr]
	c.mu.RUnlock()

	slashed := c.engine.Slashing().SlashedAmount(addr)
	if slashed >= bal {
		return 0
	}
	return bal - slashed
}

func headerKey(height uint64) []byte {
	key := make([]byte, len(prefixHeader)+8)
	copy(key, prefixHeader)
	binary.BigEndian.PutUint64(key[len(prefixHeader):], height)
	return key
}
