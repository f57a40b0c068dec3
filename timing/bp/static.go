package bp

// staticPredictor predicts backward branches taken and forward branches not
// taken. Direction is judged from the BTB target, so a branch is predicted
// not taken until its first taken resolution fills the BTB.
type staticPredictor struct {
	base
}

func newStatic(config Config) *staticPredictor {
	return &staticPredictor{base: newBase(config)}
}

func (p *staticPredictor) PredictBranch(pc uint64) (bool, uint64, bool) {
	target, ok := p.btb.Lookup(pc)
	if ok && target <= pc {
		return true, target, true
	}
	return false, 0, false
}

func (p *staticPredictor) UpdateBranch(pc uint64, taken bool, target uint64) {
	predicted := false
	if t, ok := p.btb.Lookup(pc); ok && t <= pc {
		predicted = true
	}
	p.record(predicted, taken)

	if taken {
		p.btb.Update(pc, target)
	}
}
