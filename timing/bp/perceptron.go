package bp

// Training threshold: theta = 1.93 * historyLength + 14 (Jimenez & Lin).
const (
	thetaCoeff = 1.93
	thetaBias  = 14.0
)

// perceptronPredictor keeps one row of signed weights per table entry: a
// bias weight plus one weight per global-history bit. The prediction is the
// sign of the weighted sum; training bumps weights towards the outcome on a
// misprediction or whenever the sum's magnitude is below theta.
type perceptronPredictor struct {
	base
	ghr           uint64
	table         []int8
	historyLength int
	tableMask     uint64
	rowSize       int
	threshold     int32
}

func newPerceptron(config Config) *perceptronPredictor {
	cfg := config.Perceptron
	entries := 1 << cfg.TableBits
	rowSize := cfg.HistoryLength + 1
	return &perceptronPredictor{
		base:          newBase(config),
		table:         make([]int8, entries*rowSize),
		historyLength: cfg.HistoryLength,
		tableMask:     uint64(entries - 1),
		rowSize:       rowSize,
		threshold:     int32(thetaCoeff*float64(cfg.HistoryLength) + thetaBias),
	}
}

func (p *perceptronPredictor) index(pc uint64) int {
	pcIdx := (pc >> 1) & p.tableMask
	histIdx := p.ghr & p.tableMask
	return int(pcIdx ^ histIdx)
}

// output computes the weighted sum for a row.
func (p *perceptronPredictor) output(rowIdx int) int32 {
	baseIdx := rowIdx * p.rowSize
	y := int32(p.table[baseIdx])
	for i := 0; i < p.historyLength; i++ {
		if (p.ghr>>i)&1 != 0 {
			y += int32(p.table[baseIdx+1+i])
		} else {
			y -= int32(p.table[baseIdx+1+i])
		}
	}
	return y
}

func (p *perceptronPredictor) PredictBranch(pc uint64) (bool, uint64, bool) {
	if p.output(p.index(pc)) >= 0 {
		target, ok := p.btb.Lookup(pc)
		return true, target, ok
	}
	return false, 0, false
}

func (p *perceptronPredictor) UpdateBranch(pc uint64, taken bool, target uint64) {
	idx := p.index(pc)
	y := p.output(idx)
	p.record(y >= 0, taken)

	t := int32(-1)
	if taken {
		t = 1
	}

	if abs32(y) < p.threshold || (y >= 0) != taken {
		baseIdx := idx * p.rowSize
		p.table[baseIdx] = clampWeight(int32(p.table[baseIdx]) + t)
		for i := 0; i < p.historyLength; i++ {
			x := int32(-1)
			if (p.ghr>>i)&1 != 0 {
				x = 1
			}
			wIdx := baseIdx + 1 + i
			p.table[wIdx] = clampWeight(int32(p.table[wIdx]) + t*x)
		}
	}

	p.ghr = (p.ghr<<1 | boolToU64(taken)) & ((1 << p.historyLength) - 1)

	if taken {
		p.btb.Update(pc, target)
	}
}

func clampWeight(v int32) int8 {
	if v > 127 {
		return 127
	}
	if v < -128 {
		return -128
	}
	return int8(v)
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
