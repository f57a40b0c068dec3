package bp

// tournamentPredictor runs a local per-PC history predictor against a global
// GShare-style predictor, with a 2-bit chooser selecting the winner. The
// chooser only trains when the components disagree.
type tournamentPredictor struct {
	base
	ghr uint64

	globalPHT  []uint8
	globalMask uint64

	localHistory  []uint16
	localHistMask uint64

	localPHT      []uint8
	localPredMask uint64

	choicePHT []uint8
}

func newTournament(config Config) *tournamentPredictor {
	cfg := config.Tournament
	globalSize := 1 << cfg.GlobalSizeBits
	localHistSize := 1 << cfg.LocalHistBits
	localPredSize := 1 << cfg.LocalPredBits

	p := &tournamentPredictor{
		base:          newBase(config),
		globalPHT:     make([]uint8, globalSize),
		globalMask:    uint64(globalSize - 1),
		localHistory:  make([]uint16, localHistSize),
		localHistMask: uint64(localHistSize - 1),
		localPHT:      make([]uint8, localPredSize),
		localPredMask: uint64(localPredSize - 1),
		choicePHT:     make([]uint8, globalSize),
	}
	for i := range p.globalPHT {
		p.globalPHT[i] = 1
	}
	for i := range p.localPHT {
		p.localPHT[i] = 1
	}
	for i := range p.choicePHT {
		p.choicePHT[i] = 1
	}
	return p
}

func (p *tournamentPredictor) globalIndex(pc uint64) int {
	return int((p.ghr ^ (pc >> 1)) & p.globalMask)
}

func (p *tournamentPredictor) globalTaken(idx int) bool {
	return p.globalPHT[idx] >= 2
}

func (p *tournamentPredictor) localTaken(pc uint64) bool {
	pattern := p.localHistory[(pc>>1)&p.localHistMask]
	return p.localPHT[uint64(pattern)&p.localPredMask] >= 2
}

func (p *tournamentPredictor) direction(pc uint64) bool {
	gIdx := p.globalIndex(pc)
	if p.choicePHT[gIdx] >= 2 {
		return p.globalTaken(gIdx)
	}
	return p.localTaken(pc)
}

func (p *tournamentPredictor) PredictBranch(pc uint64) (bool, uint64, bool) {
	if p.direction(pc) {
		target, ok := p.btb.Lookup(pc)
		return true, target, ok
	}
	return false, 0, false
}

func (p *tournamentPredictor) UpdateBranch(pc uint64, taken bool, target uint64) {
	gIdx := p.globalIndex(pc)
	p.record(p.direction(pc), taken)

	globalCorrect := p.globalTaken(gIdx) == taken
	localCorrect := p.localTaken(pc) == taken

	// Chooser trains towards the component that was right, only on
	// disagreement.
	if globalCorrect != localCorrect {
		choice := p.choicePHT[gIdx]
		if globalCorrect {
			if choice < 3 {
				p.choicePHT[gIdx] = choice + 1
			}
		} else if choice > 0 {
			p.choicePHT[gIdx] = choice - 1
		}
	}

	gCnt := p.globalPHT[gIdx]
	if taken {
		if gCnt < 3 {
			p.globalPHT[gIdx] = gCnt + 1
		}
	} else if gCnt > 0 {
		p.globalPHT[gIdx] = gCnt - 1
	}
	p.ghr = (p.ghr<<1 | boolToU64(taken)) & p.globalMask

	lhIdx := (pc >> 1) & p.localHistMask
	pattern := p.localHistory[lhIdx]
	predIdx := uint64(pattern) & p.localPredMask
	lCnt := p.localPHT[predIdx]
	if taken {
		if lCnt < 3 {
			p.localPHT[predIdx] = lCnt + 1
		}
	} else if lCnt > 0 {
		p.localPHT[predIdx] = lCnt - 1
	}
	p.localHistory[lhIdx] = (pattern<<1 | uint16(boolToU64(taken))) & uint16(p.localPredMask)

	if taken {
		p.btb.Update(pc, target)
	}
}
