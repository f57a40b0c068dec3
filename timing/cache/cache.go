// Package cache models the cache hierarchy using Akita cache components.
//
// Caches here are timing models: they track tags, states, and replacement
// metadata to decide hit/miss and charge latency, while data correctness is
// owned by the bus and its devices. The pipeline observes the returned
// penalties as stall cycles.
package cache

import (
	"fmt"
	"math/rand"

	akitacache "github.com/sarchlab/akita/v4/mem/cache"

	"github.com/sarchlab/rvsim/config"
)

// Statistics holds per-cache performance counters.
type Statistics struct {
	Reads      uint64
	Writes     uint64
	Hits       uint64
	Misses     uint64
	Evictions  uint64
	Writebacks uint64
	Prefetches uint64
}

// Cache is one N-way set-associative cache level. Tag and state bookkeeping
// lives in an Akita cache directory; the replacement policy plugs into the
// directory as a victim finder.
type Cache struct {
	cfg     config.CacheConfig
	numSets int

	directory *akitacache.DirectoryImpl
	policy    replacementPolicy

	prefetcher Prefetcher

	stats Statistics
}

// New creates a cache level from its configuration. A disabled level returns
// a cache whose Access always misses with zero penalty, letting the lookup
// chain skip it uniformly.
func New(cfg config.CacheConfig, rng *rand.Rand) (*Cache, error) {
	c := &Cache{cfg: cfg}
	if !cfg.Enabled {
		return c, nil
	}

	c.numSets = cfg.SizeBytes / (cfg.Ways * cfg.LineBytes)

	policy, err := newPolicy(cfg.Policy, c.numSets, cfg.Ways, rng)
	if err != nil {
		return nil, err
	}
	c.policy = policy
	c.directory = akitacache.NewDirectory(
		c.numSets, cfg.Ways, cfg.LineBytes, policy)

	prefetcher, err := newPrefetcher(cfg)
	if err != nil {
		return nil, err
	}
	c.prefetcher = prefetcher

	return c, nil
}

// Enabled reports whether this level participates in lookups.
func (c *Cache) Enabled() bool {
	return c.cfg.Enabled
}

// Latency returns the hit latency of this level.
func (c *Cache) Latency() uint64 {
	return c.cfg.Latency
}

// Stats returns the cache statistics.
func (c *Cache) Stats() Statistics {
	return c.stats
}

func (c *Cache) blockAlign(addr uint64) uint64 {
	return addr / uint64(c.cfg.LineBytes) * uint64(c.cfg.LineBytes)
}

// Contains reports whether addr's line is present and valid.
func (c *Cache) Contains(addr uint64) bool {
	if !c.cfg.Enabled {
		return false
	}
	block := c.directory.Lookup(0, c.blockAlign(addr))
	return block != nil && block.IsValid
}

// Access performs a demand access. It returns whether the line hit at this
// level and the penalty in cycles beyond this level's hit latency (dirty
// writebacks charge the next level's latency). The prefetcher observes every
// demand access and may install lines ahead; prefetch fills never add to the
// returned penalty.
func (c *Cache) Access(addr uint64, isWrite bool, nextLevelLatency uint64) (bool, uint64) {
	if !c.cfg.Enabled {
		return false, 0
	}

	if isWrite {
		c.stats.Writes++
	} else {
		c.stats.Reads++
	}

	blockAddr := c.blockAlign(addr)
	hit := false
	var penalty uint64

	block := c.directory.Lookup(0, blockAddr)
	if block != nil && block.IsValid {
		c.stats.Hits++
		c.directory.Visit(block)
		c.policy.Touch(block.SetID, block.WayID)
		if isWrite {
			block.IsDirty = true
		}
		hit = true
	} else {
		c.stats.Misses++
		penalty += c.installLine(blockAddr, isWrite, nextLevelLatency)
	}

	for _, target := range c.prefetcher.Observe(addr, hit) {
		aligned := c.blockAlign(target)
		if c.Contains(aligned) {
			continue
		}
		c.stats.Prefetches++
		c.prefetcher.Installed(aligned)
		c.installLine(aligned, false, nextLevelLatency)
	}

	return hit, penalty
}

// installLine fills a line, evicting a victim chosen by the policy. The
// returned penalty is the writeback charge when the victim was dirty.
func (c *Cache) installLine(blockAddr uint64, isWrite bool, nextLevelLatency uint64) uint64 {
	victim := c.directory.FindVictim(blockAddr)
	if victim == nil {
		return 0
	}

	var penalty uint64
	if victim.IsValid {
		c.stats.Evictions++
		if victim.IsDirty {
			c.stats.Writebacks++
			penalty += nextLevelLatency
		}
	}

	victim.Tag = blockAddr
	victim.IsValid = true
	victim.IsDirty = isWrite
	c.directory.Visit(victim)
	c.policy.Touch(victim.SetID, victim.WayID)

	return penalty
}

// Invalidate drops addr's line without writeback.
func (c *Cache) Invalidate(addr uint64) {
	if !c.cfg.Enabled {
		return
	}
	block := c.directory.Lookup(0, c.blockAlign(addr))
	if block != nil && block.IsValid {
		block.IsValid = false
		block.IsDirty = false
	}
}

// InvalidateAll drops every line without writeback, keeping statistics.
func (c *Cache) InvalidateAll() {
	if c.cfg.Enabled {
		c.directory.Reset()
	}
}

// Reset invalidates every line and clears the statistics.
func (c *Cache) Reset() {
	if c.cfg.Enabled {
		c.directory.Reset()
	}
	c.stats = Statistics{}
}

func (c *Cache) String() string {
	return fmt.Sprintf("cache{%dB %d-way %dB-line %s}",
		c.cfg.SizeBytes, c.cfg.Ways, c.cfg.LineBytes, c.cfg.Policy)
}
