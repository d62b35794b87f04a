package staking

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/Klingon-tech/klingnet-pos/config"
	"github.com/Klingon-tech/klingnet-pos/internal/boost"
	"github.com/Klingon-tech/klingnet-pos/internal/consensus"
	"github.com/Klingon-tech/klingnet-pos/internal/governance"
	klog "github.com/Klingon-tech/klingnet-pos/internal/log"
	"github.com/Klingon-tech/klingnet-pos/internal/slashing"
	"github.com/Klingon-tech/klingnet-pos/internal/storage"
)

// checkpointVersion is bumped when a section's record shape changes.
const checkpointVersion = 2

// Checkpoint keys live under this prefix, one key per section.
var prefixStaking = []byte("staking/")

var (
	keyMeta      = []byte("meta")
	keyPositions = []byte("positions")
	keyBans      = []byte("bans")
	keyEvidence  = []byte("evidence")
	keyPenalties = []byte("penalties")
	keyActivity  = []byte("activity")
	keyBoosts    = []byte("boosts")
	keyProposals = []byte("proposals")
	keyVotes     = []byte("votes")
	keyProtocol  = []byte("protocol")
	keyDelegates = []byte("delegations")
)

// ErrCheckpointVersion is returned when a stored checkpoint was written by
// an incompatible version.
var ErrCheckpointVersion = errors.New("unsupported checkpoint version")

type checkpointMeta struct {
	Version      uint64
	Nonce        uint64
	TotalSlashed uint64
	ProposalSeq  uint64
	Enabled      bool
	SavedAt      uint64
}

type penaltyRecords struct {
	RewardFactors []slashing.AmountRecord
	Slashed       []slashing.AmountRecord
}

// Checkpoint rewrites the full engine state into db in one batch.
func (e *Engine) Checkpoint(db storage.DB) error {
	var (
		positions []consensus.StakePosition
		nonce     uint64
	)
	e.stake.View(func(tx *consensus.Txn) error {
		for _, p := range tx.Registry().All() {
			positions = append(positions, *p)
		}
		nonce = tx.Registry().Nonce()
		return nil
	})
	slash := e.slash.Snapshot()
	gov := e.gov.Snapshot()

	sections := []struct {
		key []byte
		val any
	}{
		{keyPositions, positions},
		{keyBans, slash.Bans},
		{keyEvidence, slash.Evidence},
		{keyPenalties, penaltyRecords{RewardFactors: slash.RewardFactors, Slashed: slash.Slashed}},
		{keyActivity, slash.Activity},
		{keyBoosts, e.boosts.Snapshot()},
		{keyProposals, gov.Proposals},
		{keyVotes, gov.Votes},
		{keyProtocol, e.Protocol()},
		{keyDelegates, e.stake.Delegations()},
		{keyMeta, checkpointMeta{
			Version:      checkpointVersion,
			Nonce:        nonce,
			TotalSlashed: slash.TotalSlashed,
			ProposalSeq:  gov.Seq,
			Enabled:      e.StakingEnabled(),
			SavedAt:      e.clock(),
		}},
	}

	batch := storage.NewBatch(storage.NewPrefixDB(db, prefixStaking))
	for _, s := range sections {
		data, err := rlp.EncodeToBytes(s.val)
		if err != nil {
			return fmt.Errorf("encode %s: %w", s.key, err)
		}
		if err := batch.Put(s.key, data); err != nil {
			return fmt.Errorf("write %s: %w", s.key, err)
		}
	}
	if err := batch.Commit(); err != nil {
		return fmt.Errorf("commit checkpoint: %w", err)
	}

	klog.Storage.Debug().
		Int("positions", len(positions)).
		Int("evidence", len(slash.Evidence)).
		Int("proposals", len(gov.Proposals)).
		Msg("Staking checkpoint written")
	return nil
}

// Load restores engine state from db. A database without a checkpoint
// leaves the engine empty. Nothing is changed if any section fails to
// decode or validate.
func (e *Engine) Load(db storage.DB) error {
	pdb := storage.NewPrefixDB(db, prefixStaking)

	var meta checkpointMeta
	if err := readSection(pdb, keyMeta, &meta); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}
	if meta.Version != checkpointVersion {
		return fmt.Errorf("%w: %d", ErrCheckpointVersion, meta.Version)
	}

	var (
		positions []consensus.StakePosition
		penalties penaltyRecords
		slash     = slashing.State{TotalSlashed: meta.TotalSlashed}
		boosts    []boost.Boost
		gov       = governance.Snapshot{Seq: meta.ProposalSeq}
		protocol  config.ProtocolConfig
		delegates []consensus.Delegation
	)
	for _, s := range []struct {
		key []byte
		val any
	}{
		{keyPositions, &positions},
		{keyBans, &slash.Bans},
		{keyEvidence, &slash.Evidence},
		{keyPenalties, &penalties},
		{keyActivity, &slash.Activity},
		{keyBoosts, &boosts},
		{keyProposals, &gov.Proposals},
		{keyVotes, &gov.Votes},
		{keyProtocol, &protocol},
		{keyDelegates, &delegates},
	} {
		if err := readSection(pdb, s.key, s.val); err != nil {
			return err
		}
	}
	// Every section is checked before the engine is touched.
	if err := protocol.Validate(); err != nil {
		return fmt.Errorf("checkpoint protocol: %w", err)
	}
	if err := boost.ValidateAll(boosts); err != nil {
		return fmt.Errorf("restore boosts: %w", err)
	}
	if err := gov.Validate(); err != nil {
		return fmt.Errorf("restore governance: %w", err)
	}
	if err := consensus.CheckPositions(positions); err != nil {
		return fmt.Errorf("restore positions: %w", err)
	}
	if err := consensus.CheckDelegations(delegates); err != nil {
		return fmt.Errorf("restore delegations: %w", err)
	}
	slash.RewardFactors = penalties.RewardFactors
	slash.Slashed = penalties.Slashed

	// Governance may have changed the rules since genesis.
	if err := e.ApplyProtocol(protocol); err != nil {
		return err
	}

	if err := e.boosts.Restore(boosts); err != nil {
		return fmt.Errorf("restore boosts: %w", err)
	}
	if err := e.gov.Restore(&gov); err != nil {
		return fmt.Errorf("restore governance: %w", err)
	}
	if err := e.stake.Update(func(tx *consensus.Txn) error {
		return tx.Registry().Restore(positions, meta.Nonce)
	}); err != nil {
		return fmt.Errorf("restore positions: %w", err)
	}
	if err := e.stake.RestoreDelegations(delegates); err != nil {
		return fmt.Errorf("restore delegations: %w", err)
	}
	e.slash.Restore(&slash)
	e.enabled.Store(meta.Enabled)

	klog.Storage.Info().
		Int("positions", len(positions)).
		Int("bans", len(slash.Bans)).
		Int("evidence", len(slash.Evidence)).
		Int("boosts", len(boosts)).
		Int("delegations", len(delegates)).
		Int("proposals", len(gov.Proposals)).
		Msg("Staking checkpoint loaded")
	return nil
}

// DiscardCheckpoint removes every stored checkpoint section from db.
func DiscardCheckpoint(db storage.DB) error {
	if err := storage.NewPrefixDB(db, prefixStaking).DeleteAll(); err != nil {
		return fmt.Errorf("discard checkpoint: %w", err)
	}
	return nil
}

func readSection(db storage.DB, key []byte, out any) error {
	data, err := db.Get(key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("checkpoint section %s: %w", key, err)
		}
		return fmt.Errorf("read %s: %w", key, err)
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}
