package bp

import "math/rand"

// tageEntry is one tagged-table entry: a partial tag, a 3-bit signed
// prediction counter, and a 2-bit usefulness counter.
type tageEntry struct {
	tag    uint32
	ctr    int8 // -4..3; taken when >= 0
	useful uint8
}

// tagePredictor is a TAGE predictor: a bimodal base table plus N tagged
// tables indexed with geometrically growing history lengths. The providing
// component is the longest-history table whose tag matches; on a
// misprediction a new entry is allocated in a randomly chosen longer table
// whose entry is not useful. Usefulness counters are cleared every
// ResetInterval updates so stale entries can be reclaimed.
type tagePredictor struct {
	base
	cfg TAGEConfig
	rng *rand.Rand

	// bimodal base: 2-bit saturating counters.
	bimodal  []uint8
	baseMask uint64

	tables    [][]tageEntry
	tableMask uint64
	tagMask   uint32

	ghr     uint64
	updates uint64
}

func newTAGE(config Config, rng *rand.Rand) *tagePredictor {
	cfg := config.TAGE
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	p := &tagePredictor{
		base:      newBase(config),
		cfg:       cfg,
		rng:       rng,
		bimodal:   make([]uint8, 1<<cfg.BaseBits),
		baseMask:  uint64(1<<cfg.BaseBits - 1),
		tables:    make([][]tageEntry, len(cfg.HistoryLengths)),
		tableMask: uint64(1<<cfg.TableBits - 1),
		tagMask:   uint32(1<<cfg.TagBits - 1),
	}
	for i := range p.bimodal {
		p.bimodal[i] = 1
	}
	for i := range p.tables {
		p.tables[i] = make([]tageEntry, 1<<cfg.TableBits)
	}
	return p
}

// foldHistory compresses the low histLen history bits into width bits.
func foldHistory(ghr uint64, histLen, width int) uint64 {
	if histLen > 64 {
		histLen = 64
	}
	h := ghr
	if histLen < 64 {
		h &= 1<<histLen - 1
	}
	var folded uint64
	for histLen > 0 {
		folded ^= h & (1<<width - 1)
		h >>= width
		histLen -= width
	}
	return folded
}

func (p *tagePredictor) tableIndex(table int, pc uint64) int {
	hist := foldHistory(p.ghr, p.cfg.HistoryLengths[table], p.cfg.TableBits)
	return int(((pc >> 1) ^ hist ^ uint64(table)) & p.tableMask)
}

func (p *tagePredictor) tableTag(table int, pc uint64) uint32 {
	hist := foldHistory(p.ghr, p.cfg.HistoryLengths[table], p.cfg.TagBits)
	return uint32((pc>>1)^(hist<<1)^uint64(table<<3)) & p.tagMask
}

// provider returns the longest hitting table, or -1 for the bimodal base.
func (p *tagePredictor) provider(pc uint64) int {
	for t := len(p.tables) - 1; t >= 0; t-- {
		e := &p.tables[t][p.tableIndex(t, pc)]
		if e.tag == p.tableTag(t, pc) {
			return t
		}
	}
	return -1
}

func (p *tagePredictor) direction(pc uint64) bool {
	if t := p.provider(pc); t >= 0 {
		return p.tables[t][p.tableIndex(t, pc)].ctr >= 0
	}
	return p.bimodal[(pc>>1)&p.baseMask] >= 2
}

func (p *tagePredictor) PredictBranch(pc uint64) (bool, uint64, bool) {
	if p.direction(pc) {
		target, ok := p.btb.Lookup(pc)
		return true, target, ok
	}
	return false, 0, false
}

func (p *tagePredictor) UpdateBranch(pc uint64, taken bool, target uint64) {
	provider := p.provider(pc)
	predicted := p.direction(pc)
	p.record(predicted, taken)

	correct := predicted == taken

	if provider >= 0 {
		e := &p.tables[provider][p.tableIndex(provider, pc)]
		if taken {
			if e.ctr < 3 {
				e.ctr++
			}
		} else if e.ctr > -4 {
			e.ctr--
		}
		if correct {
			if e.useful < 3 {
				e.useful++
			}
		} else if e.useful > 0 {
			e.useful--
		}
	} else {
		idx := (pc >> 1) & p.baseMask
		counter := p.bimodal[idx]
		if taken {
			if counter < 3 {
				p.bimodal[idx] = counter + 1
			}
		} else if counter > 0 {
			p.bimodal[idx] = counter - 1
		}
	}

	if !correct {
		p.allocate(provider, pc, taken)
	}

	p.updates++
	if p.cfg.ResetInterval > 0 && p.updates%p.cfg.ResetInterval == 0 {
		p.resetUsefulness()
	}

	p.ghr = p.ghr<<1 | boolToU64(taken)

	if taken {
		p.btb.Update(pc, target)
	}
}

// allocate installs a fresh entry in a longer-history table. Among the
// candidate tables whose entry has a zero usefulness counter, one is chosen
// by the seeded PRNG; when every candidate is useful, their counters decay
// instead.
func (p *tagePredictor) allocate(provider int, pc uint64, taken bool) {
	var candidates []int
	for t := provider + 1; t < len(p.tables); t++ {
		if p.tables[t][p.tableIndex(t, pc)].useful == 0 {
			candidates = append(candidates, t)
		}
	}

	if len(candidates) == 0 {
		for t := provider + 1; t < len(p.tables); t++ {
			e := &p.tables[t][p.tableIndex(t, pc)]
			if e.useful > 0 {
				e.useful--
			}
		}
		return
	}

	t := candidates[p.rng.Intn(len(candidates))]
	e := &p.tables[t][p.tableIndex(t, pc)]
	e.tag = p.tableTag(t, pc)
	e.useful = 0
	if taken {
		e.ctr = 0
	} else {
		e.ctr = -1
	}
}

func (p *tagePredictor) resetUsefulness() {
	for _, table := range p.tables {
		for i := range table {
			table[i].useful = 0
		}
	}
}
