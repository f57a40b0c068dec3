package cache

import (
	"fmt"
	"math/rand"

	akitacache "github.com/sarchlab/akita/v4/mem/cache"
)

// replacementPolicy is an Akita victim finder plus a touch hook. The
// directory's own Visit call maintains the LRU order it needs; Touch carries
// the access notification to policies that keep metadata the directory does
// not track (PLRU usage bits, MRU recency).
type replacementPolicy interface {
	akitacache.VictimFinder
	Touch(setID, wayID int)
}

func newPolicy(name string, numSets, ways int, rng *rand.Rand) (replacementPolicy, error) {
	switch name {
	case "", "LRU":
		return &lruPolicy{VictimFinder: akitacache.NewLRUVictimFinder()}, nil
	case "PLRU":
		return newPLRUPolicy(numSets, ways), nil
	case "FIFO":
		return &fifoPolicy{next: make([]int, numSets)}, nil
	case "MRU":
		return &mruPolicy{last: make([]int, numSets)}, nil
	case "Random":
		return &randomPolicy{rng: rng}, nil
	}
	return nil, fmt.Errorf("cache: unknown replacement policy %q", name)
}

// invalidWay returns an invalid block to fill before any eviction happens.
func invalidWay(set *akitacache.Set) *akitacache.Block {
	for _, b := range set.Blocks {
		if !b.IsValid {
			return b
		}
	}
	return nil
}

func setID(set *akitacache.Set) int {
	return set.Blocks[0].SetID
}

// lruPolicy delegates victim selection to the directory's LRU order.
type lruPolicy struct {
	akitacache.VictimFinder
}

func (p *lruPolicy) Touch(setID, wayID int) {}

// plruPolicy keeps one not-recently-used bit per way per set. An access sets
// the way's bit; when all bits saturate they reset to just the current way.
// The victim is the first way with a clear bit.
type plruPolicy struct {
	usage []uint64
	ways  int
	full  uint64
}

func newPLRUPolicy(numSets, ways int) *plruPolicy {
	return &plruPolicy{
		usage: make([]uint64, numSets),
		ways:  ways,
		full:  1<<ways - 1,
	}
}

func (p *plruPolicy) Touch(setID, wayID int) {
	mask := uint64(1) << wayID
	p.usage[setID] |= mask
	if p.usage[setID]&p.full == p.full {
		p.usage[setID] = mask
	}
}

func (p *plruPolicy) FindVictim(set *akitacache.Set) *akitacache.Block {
	if b := invalidWay(set); b != nil {
		return b
	}
	usage := p.usage[setID(set)]
	for i, b := range set.Blocks {
		if usage>>i&1 == 0 {
			return b
		}
	}
	return set.Blocks[0]
}

// fifoPolicy cycles through the ways of each set in insertion order; since
// fills always land in the victim slot, round-robin eviction discards the
// oldest line.
type fifoPolicy struct {
	next []int
}

func (p *fifoPolicy) Touch(setID, wayID int) {}

func (p *fifoPolicy) FindVictim(set *akitacache.Set) *akitacache.Block {
	if b := invalidWay(set); b != nil {
		return b
	}
	sid := setID(set)
	way := p.next[sid] % len(set.Blocks)
	p.next[sid] = way + 1
	return set.Blocks[way]
}

// mruPolicy evicts the most recently touched way.
type mruPolicy struct {
	last []int
}

func (p *mruPolicy) Touch(setID, wayID int) {
	p.last[setID] = wayID
}

func (p *mruPolicy) FindVictim(set *akitacache.Set) *akitacache.Block {
	if b := invalidWay(set); b != nil {
		return b
	}
	return set.Blocks[p.last[setID(set)]]
}

// randomPolicy picks a uniform victim from the configured PRNG so runs stay
// reproducible for a given seed.
type randomPolicy struct {
	rng *rand.Rand
}

func (p *randomPolicy) Touch(setID, wayID int) {}

func (p *randomPolicy) FindVictim(set *akitacache.Set) *akitacache.Block {
	if b := invalidWay(set); b != nil {
		return b
	}
	return set.Blocks[p.rng.Intn(len(set.Blocks))]
}
