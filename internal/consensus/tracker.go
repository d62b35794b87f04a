package consensus

import (
	"sort"
	"sync"

	"github.com/Klingon-tech/klingnet-pos/pkg/types"
)

// ActivityStats holds liveness statistics for a single validator.
type ActivityStats struct {
	Address    types.Address `json:"address"`
	LastBlock  uint64        `json:"last_block"` // unix seconds, 0 if never produced
	LastHash   types.Hash    `json:"last_hash"`
	BlockCount uint64        `json:"block_count"`
}

// ActivityTracker tracks validator liveness from observed blocks. It feeds
// inactivity evidence checks.
type ActivityTracker struct {
	mu    sync.RWMutex
	stats map[types.Address]*ActivityStats
}

// NewActivityTracker creates an empty tracker.
func NewActivityTracker() *ActivityTracker {
	return &ActivityTracker{
		stats: make(map[types.Address]*ActivityStats),
	}
}

// RecordBlock records that addr produced the block hash at time at.
func (t *ActivityTracker) RecordBlock(addr types.Address, at uint64, hash types.Hash) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.getOrCreate(addr)
	if at >= s.LastBlock {
		s.LastBlock = at
		s.LastHash = hash
	}
	s.BlockCount++
}

// LastActivity returns the time and hash of addr's latest block.
func (t *ActivityTracker) LastActivity(addr types.Address) (uint64, types.Hash, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.stats[addr]
	if !ok || s.BlockCount == 0 {
		return 0, types.Hash{}, false
	}
	return s.LastBlock, s.LastHash, true
}

// GetStats returns a copy of stats for addr, or nil if not tracked.
func (t *ActivityTracker) GetStats(addr types.Address) *ActivityStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.stats[addr]
	if !ok {
		return nil
	}
	cp := *s
	return &cp
}

// GetAllStats returns copies of all tracked stats, sorted by address.
func (t *ActivityTracker) GetAllStats() []*ActivityStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*ActivityStats, 0, len(t.stats))
	for _, s := range t.stats {
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Address.Compare(out[j].Address) < 0
	})
	return out
}

// Restore replaces all stats, e.g. from a checkpoint.
func (t *ActivityTracker) Restore(stats []ActivityStats) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stats = make(map[types.Address]*ActivityStats, len(stats))
	for i := range stats {
		s := stats[i]
		t.stats[s.Address] = &s
	}
}

func (t *ActivityTracker) getOrCreate(addr types.Address) *ActivityStats {
	s, ok := t.stats[addr]
	if !ok {
		s = &ActivityStats{Address: addr}
		t.stats[addr] = s
	}
	return s
}
