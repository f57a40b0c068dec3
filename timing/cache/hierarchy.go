package cache

import (
	"math/rand"

	"github.com/sarchlab/rvsim/config"
)

// HierarchyStats aggregates the per-level counters under stable names.
type HierarchyStats struct {
	L1IHits   uint64
	L1IMisses uint64
	L1DHits   uint64
	L1DMisses uint64
	L2Hits    uint64
	L2Misses  uint64
	L3Hits    uint64
	L3Misses  uint64
}

// Hierarchy is the multi-level cache stack: split L1s over optional unified
// L2 and L3. It stays unaware of DRAM timing; the memory latency for a full
// miss is an opaque value supplied per access.
type Hierarchy struct {
	L1I *Cache
	L1D *Cache
	L2  *Cache
	L3  *Cache

	// busTransit computes the bus transit time for a transfer of n bytes.
	busTransit func(bytes int) uint64

	stats HierarchyStats
}

// NewHierarchy builds the cache stack from the memory configuration. All
// levels share the seeded PRNG so Random replacement stays reproducible.
func NewHierarchy(
	cfg config.MemoryConfig,
	rng *rand.Rand,
	busTransit func(bytes int) uint64,
) (*Hierarchy, error) {
	l1i, err := New(cfg.L1I, rng)
	if err != nil {
		return nil, err
	}
	l1d, err := New(cfg.L1D, rng)
	if err != nil {
		return nil, err
	}
	l2, err := New(cfg.L2, rng)
	if err != nil {
		return nil, err
	}
	l3, err := New(cfg.L3, rng)
	if err != nil {
		return nil, err
	}
	return &Hierarchy{L1I: l1i, L1D: l1d, L2: l2, L3: l3, busTransit: busTransit}, nil
}

// Stats returns the aggregated hierarchy counters.
func (h *Hierarchy) Stats() HierarchyStats {
	return h.stats
}

// Access walks the hierarchy for one demand access and returns the total
// penalty in cycles. isFetch selects the L1I; ramLatency is the DRAM
// controller's charge for this address, consulted only on a full miss.
func (h *Hierarchy) Access(addr uint64, isFetch, isWrite bool, ramLatency uint64) uint64 {
	var penalty uint64

	l1 := h.L1D
	if isFetch {
		l1 = h.L1I
	}

	if l1.Enabled() {
		hit, pen := l1.Access(addr, isWrite, h.nextLevelLatency(ramLatency))
		penalty += pen
		if isFetch {
			if hit {
				h.stats.L1IHits++
				return penalty
			}
			h.stats.L1IMisses++
		} else {
			if hit {
				h.stats.L1DHits++
				return penalty
			}
			h.stats.L1DMisses++
		}
	}

	if h.L2.Enabled() {
		penalty += h.L2.Latency()
		hit, pen := h.L2.Access(addr, isWrite, h.l3OrRAMLatency(ramLatency))
		penalty += pen
		if hit {
			h.stats.L2Hits++
			return penalty
		}
		h.stats.L2Misses++
	}

	if h.L3.Enabled() {
		penalty += h.L3.Latency()
		hit, pen := h.L3.Access(addr, isWrite, ramLatency)
		penalty += pen
		if hit {
			h.stats.L3Hits++
			return penalty
		}
		h.stats.L3Misses++
	}

	// Full miss: request transit, DRAM access, line fill transit.
	penalty += h.busTransit(8)
	penalty += ramLatency
	penalty += h.busTransit(64)
	return penalty
}

// nextLevelLatency is the writeback charge for an L1 dirty eviction.
func (h *Hierarchy) nextLevelLatency(ramLatency uint64) uint64 {
	if h.L2.Enabled() {
		return h.L2.Latency()
	}
	if h.L3.Enabled() {
		return h.L3.Latency()
	}
	return ramLatency
}

func (h *Hierarchy) l3OrRAMLatency(ramLatency uint64) uint64 {
	if h.L3.Enabled() {
		return h.L3.Latency()
	}
	return ramLatency
}

// InvalidateAll drops every line in every level without writeback.
func (h *Hierarchy) InvalidateAll() {
	for _, c := range []*Cache{h.L1I, h.L1D, h.L2, h.L3} {
		if c.Enabled() {
			c.InvalidateAll()
		}
	}
}
