package cache

import (
	"fmt"

	"github.com/sarchlab/rvsim/config"
)

// Prefetcher observes demand accesses and proposes line addresses to install
// ahead of demand. Prefetches never stall the pipeline and never trap; the
// cache silently drops proposals for lines it already holds.
type Prefetcher interface {
	// Observe sees every demand access and returns prefetch targets.
	Observe(addr uint64, hit bool) []uint64
	// Installed notifies the prefetcher that a proposed line was filled.
	Installed(blockAddr uint64)
}

func newPrefetcher(cfg config.CacheConfig) (Prefetcher, error) {
	degree := cfg.PrefetchDegree
	if degree == 0 {
		degree = 1
	}
	line := uint64(cfg.LineBytes)

	switch cfg.Prefetcher {
	case "", "None":
		return nonePrefetcher{}, nil
	case "NextLine":
		return &nextLinePrefetcher{lineBytes: line, degree: degree}, nil
	case "Stride":
		size := cfg.PrefetchTableSize
		if size == 0 || size&(size-1) != 0 {
			size = 64
		}
		return &stridePrefetcher{
			table:     make([]strideEntry, size),
			lineBytes: line,
			tableMask: size - 1,
			degree:    degree,
		}, nil
	case "Stream":
		return &streamPrefetcher{lineBytes: line, degree: degree}, nil
	case "Tagged":
		return &taggedPrefetcher{
			lineBytes: line,
			degree:    degree,
			tagged:    make(map[uint64]struct{}),
		}, nil
	}
	return nil, fmt.Errorf("cache: unknown prefetcher %q", cfg.Prefetcher)
}

type nonePrefetcher struct{}

func (nonePrefetcher) Observe(addr uint64, hit bool) []uint64 { return nil }
func (nonePrefetcher) Installed(blockAddr uint64)             {}

// nextLinePrefetcher fetches the following lines on any miss.
type nextLinePrefetcher struct {
	lineBytes uint64
	degree    int
}

func (p *nextLinePrefetcher) Observe(addr uint64, hit bool) []uint64 {
	if hit {
		return nil
	}
	targets := make([]uint64, 0, p.degree)
	for k := 1; k <= p.degree; k++ {
		targets = append(targets, addr+uint64(k)*p.lineBytes)
	}
	return targets
}

func (p *nextLinePrefetcher) Installed(blockAddr uint64) {}

// strideEntry tracks the access pattern of one PC-hash slot.
type strideEntry struct {
	lastAddr uint64
	stride   int64
	// confidence is a 2-bit saturating counter; prefetch fires at 3.
	confidence uint8
}

// stridePrefetcher keeps a table of (last address, stride, confidence)
// entries. Once a stride repeats to full confidence, it prefetches
// addr + k*stride for k in 1..degree.
type stridePrefetcher struct {
	table     []strideEntry
	lineBytes uint64
	tableMask int
	degree    int
}

func (p *stridePrefetcher) Observe(addr uint64, hit bool) []uint64 {
	idx := int(addr>>6) & p.tableMask
	entry := &p.table[idx]

	stride := int64(addr) - int64(entry.lastAddr)
	var targets []uint64

	switch {
	case stride == entry.stride && entry.lastAddr != 0:
		if entry.confidence < 3 {
			entry.confidence++
		} else {
			for k := 1; k <= p.degree; k++ {
				target := uint64(int64(addr) + entry.stride*int64(k))
				targets = append(targets, target&^(p.lineBytes-1))
			}
		}
	case entry.confidence > 0:
		entry.confidence--
	default:
		entry.stride = stride
	}

	entry.lastAddr = addr
	return targets
}

func (p *stridePrefetcher) Installed(blockAddr uint64) {}

// streamEntry tracks one monotonically ascending address stream.
type streamEntry struct {
	lastLine uint64
	length   int
	valid    bool
}

const maxStreams = 4

// streamPrefetcher maintains a small set of ascending streams; once a stream
// shows two consecutive next-line accesses it runs ahead by degree lines.
type streamPrefetcher struct {
	streams   [maxStreams]streamEntry
	next      int
	lineBytes uint64
	degree    int
}

func (p *streamPrefetcher) Observe(addr uint64, hit bool) []uint64 {
	line := addr &^ (p.lineBytes - 1)

	for i := range p.streams {
		s := &p.streams[i]
		if !s.valid || line != s.lastLine+p.lineBytes {
			continue
		}
		s.lastLine = line
		s.length++
		if s.length < 2 {
			return nil
		}
		targets := make([]uint64, 0, p.degree)
		for k := 1; k <= p.degree; k++ {
			targets = append(targets, line+uint64(k)*p.lineBytes)
		}
		return targets
	}

	// New stream candidate replaces the oldest slot.
	p.streams[p.next] = streamEntry{lastLine: line, valid: true}
	p.next = (p.next + 1) % maxStreams
	return nil
}

func (p *streamPrefetcher) Installed(blockAddr uint64) {}

// taggedPrefetcher is next-line prefetching triggered by misses and by the
// first demand hit on a line it prefetched (the "tag" clears on use).
type taggedPrefetcher struct {
	lineBytes uint64
	degree    int
	tagged    map[uint64]struct{}
}

func (p *taggedPrefetcher) Observe(addr uint64, hit bool) []uint64 {
	line := addr &^ (p.lineBytes - 1)

	trigger := !hit
	if hit {
		if _, ok := p.tagged[line]; ok {
			delete(p.tagged, line)
			trigger = true
		}
	}
	if !trigger {
		return nil
	}

	targets := make([]uint64, 0, p.degree)
	for k := 1; k <= p.degree; k++ {
		targets = append(targets, line+uint64(k)*p.lineBytes)
	}
	return targets
}

func (p *taggedPrefetcher) Installed(blockAddr uint64) {
	p.tagged[blockAddr] = struct{}{}
}

