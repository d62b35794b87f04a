package slashing

import (
	"fmt"

	"github.com/Klingon-tech/klingnet-pos/internal/consensus"
	"github.com/Klingon-tech/klingnet-pos/pkg/block"
	"github.com/Klingon-tech/klingnet-pos/pkg/types"
)

// prove checks that ev demonstrates misbehavior. It runs under the stake
// lock. ev has already passed Validate.
func (m *Manager) prove(tx *consensus.Txn, ev *Evidence, now uint64) error {
	switch ev.Kind {
	case DoubleSigning:
		hs, err := ev.Headers()
		if err != nil {
			return err
		}
		return proveDoubleSigning(ev.Validator, hs[0], hs[1])

	case InvalidBlock:
		hs, err := ev.Headers()
		if err != nil {
			return err
		}
		h, parent := hs[0], hs[1]
		drift := tx.Registry().Rules().MaxClockDrift
		if ev.Timestamp < h.Timestamp || ev.Timestamp > addSat(now, drift) {
			return fmt.Errorf("%w: evidence time %d outside [%d, %d]",
				ErrMalformed, ev.Timestamp, h.Timestamp, addSat(now, drift))
		}
		if err := proveProducer(ev.Validator, h); err != nil {
			return err
		}
		return proveInvalidBlock(h, parent, now, drift)

	case Inactivity:
		last, lastHash, ok := m.lastActivityLocked(tx, ev.Validator)
		if !ok {
			return fmt.Errorf("%w: %s is not a validator", ErrNotProven, ev.Validator)
		}
		if lastHash != ev.BlockA {
			return fmt.Errorf("%w: validator produced %s since", ErrNotProven, lastHash.Short())
		}
		if now < last || now-last < m.inactivityThreshold {
			return fmt.Errorf("%w: last active %d, threshold %ds", ErrNotProven, last, m.inactivityThreshold)
		}
		return nil

	default:
		return ErrUnknownKind
	}
}

// proveProducer checks that validator signed h.
func proveProducer(validator types.Address, h *block.Header) error {
	if h.Staker != validator {
		return fmt.Errorf("%w: block %s produced by %s", ErrNotProven, h.Hash().Short(), h.Staker)
	}
	if err := h.VerifySignature(); err != nil {
		return fmt.Errorf("%w: block %s: %v", ErrNotProven, h.Hash().Short(), err)
	}
	return nil
}

// proveInvalidBlock checks that h breaks a rule that holds whatever the
// current stake set: h must be a proof-of-stake block directly on top of
// parent, inside the clock window, whose kernel recomputes from its own
// fields. Stake-dependent rules (bits, registry amounts) are not
// provable after the fact.
func proveInvalidBlock(h, parent *block.Header, now, drift uint64) error {
	if h.Type != block.TypePoS {
		return nil
	}
	if h.Height != parent.Height+1 {
		return nil
	}
	if addSat(h.Timestamp, drift) < parent.Timestamp || h.Timestamp > addSat(now, drift) {
		return nil
	}
	if !consensus.VerifyKernel(consensus.ClaimFromHeader(h), h.PrevHash) {
		return nil
	}
	return fmt.Errorf("%w: block %s is well formed", ErrNotProven, h.Hash().Short())
}

// proveDoubleSigning checks that a and b are distinct PoS blocks at the
// same height, signed by validator over the same stake with valid kernels.
func proveDoubleSigning(validator types.Address, a, b *block.Header) error {
	if a.Height != b.Height {
		return fmt.Errorf("%w: heights %d and %d differ", ErrNotProven, a.Height, b.Height)
	}
	if a.Hash() == b.Hash() {
		return fmt.Errorf("%w: blocks are identical", ErrNotProven)
	}
	if a.Type != block.TypePoS || b.Type != block.TypePoS {
		return fmt.Errorf("%w: both blocks must be proof-of-stake", ErrNotProven)
	}
	if a.StakeHash != b.StakeHash {
		return fmt.Errorf("%w: blocks use different stakes", ErrNotProven)
	}
	for _, h := range []*block.Header{a, b} {
		if err := proveProducer(validator, h); err != nil {
			return err
		}
		if !consensus.VerifyKernel(consensus.ClaimFromHeader(h), h.PrevHash) {
			return fmt.Errorf("%w: block %s has an invalid kernel", ErrNotProven, h.Hash().Short())
		}
	}
	return nil
}

// RecordActivity notes that v produced the block hash at time at.
func (m *Manager) RecordActivity(v types.Address, at uint64, hash types.Hash) {
	m.tracker.RecordBlock(v, at, hash)
}

// LastActivity returns when v last produced a block, falling back to its
// stake creation time. ok is false for unknown validators.
func (m *Manager) LastActivity(v types.Address) (at uint64, hash types.Hash, ok bool) {
	m.stake.View(func(tx *consensus.Txn) error {
		at, hash, ok = m.lastActivityLocked(tx, v)
		return nil
	})
	return at, hash, ok
}

func (m *Manager) lastActivityLocked(tx *consensus.Txn, v types.Address) (uint64, types.Hash, bool) {
	if at, hash, ok := m.tracker.LastActivity(v); ok {
		return at, hash, true
	}
	if p, ok := tx.Registry().Get(v); ok {
		return p.CreatedAt, types.Hash{}, true
	}
	return 0, types.Hash{}, false
}

// DetectDoubleSigning returns evidence if a and b are conflicting blocks
// from the same producer. It never submits.
func (m *Manager) DetectDoubleSigning(a, b *block.Header) (*Evidence, bool) {
	if a == nil || b == nil {
		return nil, false
	}
	if proveDoubleSigning(a.Staker, a, b) != nil {
		return nil, false
	}
	ev, err := NewDoubleSigningEvidence(a, b, max(a.Timestamp, b.Timestamp))
	if err != nil {
		return nil, false
	}
	return ev, true
}

// DetectInvalidBlock returns evidence if the signed header h breaks a
// stake-independent block rule on top of prev at now. Blocks that fail only
// stake-dependent checks are rejected by the chain but not reported. It
// never submits.
func (m *Manager) DetectInvalidBlock(h, prev *block.Header, now uint64) (*Evidence, bool) {
	if h == nil || prev == nil || h.PrevHash != prev.Hash() {
		return nil, false
	}
	if proveProducer(h.Staker, h) != nil {
		return nil, false
	}
	if proveInvalidBlock(h, prev, now, m.stake.Params().MaxClockDrift) != nil {
		return nil, false
	}
	ev, err := NewInvalidBlockEvidence(h, prev, now)
	if err != nil {
		return nil, false
	}
	return ev, true
}

// DetectInactivity returns evidence if v has not produced a block within
// the inactivity threshold. It never submits.
func (m *Manager) DetectInactivity(v types.Address, now uint64) (*Evidence, bool) {
	var ev *Evidence
	m.stake.View(func(tx *consensus.Txn) error {
		last, hash, ok := m.lastActivityLocked(tx, v)
		if !ok || now < last || now-last < m.inactivityThreshold {
			return nil
		}
		ev = &Evidence{
			Kind:      Inactivity,
			Validator: v,
			BlockA:    hash,
			Timestamp: now,
		}
		return nil
	})
	return ev, ev != nil
}

func addSat(a, b uint64) uint64 {
	if s := a + b; s >= a {
		return s
	}
	return ^uint64(0)
}
