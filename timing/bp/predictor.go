// Package bp provides the branch prediction unit: a closed set of predictor
// implementations sharing a branch target buffer and a return address stack.
package bp

import (
	"fmt"
	"math/rand"
)

// Predictor is the interface the fetch and execute stages use. PredictBranch
// and PredictBTB serve fetch; UpdateBranch, OnCall, and OnReturn train the
// predictor at resolution time.
type Predictor interface {
	// PredictBranch predicts a conditional branch at pc. When predicted
	// taken, the target comes from the BTB and may be unknown (false).
	PredictBranch(pc uint64) (taken bool, target uint64, known bool)

	// UpdateBranch trains the predictor with the resolved outcome. target
	// is meaningful only when the branch was taken.
	UpdateBranch(pc uint64, taken bool, target uint64)

	// PredictBTB returns the cached target for an unconditional jump at pc.
	PredictBTB(pc uint64) (uint64, bool)

	// UpdateJump caches a resolved jump target without touching direction
	// state or the RAS.
	UpdateJump(pc, target uint64)

	// OnCall pushes the return address and caches the call target.
	OnCall(pc, retAddr, target uint64)

	// PredictReturn returns the top of the return address stack.
	PredictReturn() (uint64, bool)

	// OnReturn pops the return address stack.
	OnReturn()

	// Stats returns the predictor's accounting.
	Stats() *Stats
}

// Kind names a predictor implementation.
type Kind string

// Predictor kinds.
const (
	KindStatic     Kind = "Static"
	KindGShare     Kind = "GShare"
	KindTournament Kind = "Tournament"
	KindPerceptron Kind = "Perceptron"
	KindTAGE       Kind = "TAGE"
)

// TournamentConfig sizes the tournament predictor's component tables.
type TournamentConfig struct {
	GlobalSizeBits int `json:"global_size_bits"`
	LocalHistBits  int `json:"local_hist_bits"`
	LocalPredBits  int `json:"local_pred_bits"`
}

// DefaultTournamentConfig returns the default tournament table sizes.
func DefaultTournamentConfig() TournamentConfig {
	return TournamentConfig{GlobalSizeBits: 12, LocalHistBits: 10, LocalPredBits: 10}
}

// PerceptronConfig sizes the perceptron predictor.
type PerceptronConfig struct {
	TableBits     int `json:"table_bits"`
	HistoryLength int `json:"history_length"`
}

// DefaultPerceptronConfig returns the default perceptron geometry.
func DefaultPerceptronConfig() PerceptronConfig {
	return PerceptronConfig{TableBits: 10, HistoryLength: 24}
}

// TAGEConfig sizes the TAGE predictor.
type TAGEConfig struct {
	// BaseBits sizes the bimodal base table (log2 entries).
	BaseBits int `json:"base_bits"`
	// TableBits sizes each tagged table (log2 entries).
	TableBits int `json:"table_bits"`
	// TagBits is the partial tag width.
	TagBits int `json:"tag_bits"`
	// HistoryLengths lists the geometric history length per tagged table.
	HistoryLengths []int `json:"history_lengths"`
	// ResetInterval is the update count between usefulness-counter resets.
	ResetInterval uint64 `json:"reset_interval"`
}

// DefaultTAGEConfig returns the default TAGE geometry.
func DefaultTAGEConfig() TAGEConfig {
	return TAGEConfig{
		BaseBits:       12,
		TableBits:      10,
		TagBits:        9,
		HistoryLengths: []int{4, 8, 16, 32, 64},
		ResetInterval:  256 * 1024,
	}
}

// Config selects and sizes the branch prediction unit.
type Config struct {
	Kind       Kind             `json:"kind"`
	BTBSize    int              `json:"btb_size"`
	RASSize    int              `json:"ras_size"`
	Tournament TournamentConfig `json:"tournament"`
	Perceptron PerceptronConfig `json:"perceptron"`
	TAGE       TAGEConfig       `json:"tage"`
}

// DefaultConfig returns a GShare predictor with a 512-entry BTB and a
// 16-deep RAS.
func DefaultConfig() Config {
	return Config{
		Kind:       KindGShare,
		BTBSize:    512,
		RASSize:    16,
		Tournament: DefaultTournamentConfig(),
		Perceptron: DefaultPerceptronConfig(),
		TAGE:       DefaultTAGEConfig(),
	}
}

// Stats holds branch prediction accounting.
type Stats struct {
	// Predictions is the number of direction predictions verified.
	Predictions uint64
	// Correct is the number of correct direction predictions.
	Correct uint64
	// Mispredictions is the number of incorrect direction predictions.
	Mispredictions uint64
	// BTBHits is the number of BTB lookups that returned a target.
	BTBHits uint64
	// BTBMisses is the number of BTB lookups that missed.
	BTBMisses uint64
}

// Accuracy returns the prediction accuracy as a percentage.
func (s *Stats) Accuracy() float64 {
	if s.Predictions == 0 {
		return 0
	}
	return float64(s.Correct) / float64(s.Predictions) * 100
}

// New constructs a predictor from the configuration. rng feeds the TAGE
// allocation tiebreak so runs stay reproducible.
func New(config Config, rng *rand.Rand) (Predictor, error) {
	if config.BTBSize == 0 || config.BTBSize&(config.BTBSize-1) != 0 {
		return nil, fmt.Errorf("bp: btb_size must be a power of two, got %d", config.BTBSize)
	}
	if config.RASSize == 0 {
		return nil, fmt.Errorf("bp: ras_size must be positive")
	}

	switch config.Kind {
	case KindStatic:
		return newStatic(config), nil
	case KindGShare, "":
		return newGShare(config), nil
	case KindTournament:
		return newTournament(config), nil
	case KindPerceptron:
		return newPerceptron(config), nil
	case KindTAGE:
		return newTAGE(config, rng), nil
	}
	return nil, fmt.Errorf("bp: unknown predictor kind %q", config.Kind)
}

// base carries the pieces every predictor shares.
type base struct {
	btb   *BTB
	ras   *RAS
	stats Stats
}

func newBase(config Config) base {
	return base{btb: NewBTB(config.BTBSize), ras: NewRAS(config.RASSize)}
}

// PredictBTB returns the cached target for pc.
func (b *base) PredictBTB(pc uint64) (uint64, bool) {
	target, ok := b.btb.Lookup(pc)
	if ok {
		b.stats.BTBHits++
	} else {
		b.stats.BTBMisses++
	}
	return target, ok
}

// UpdateJump caches a resolved jump target.
func (b *base) UpdateJump(pc, target uint64) {
	b.btb.Update(pc, target)
}

// OnCall pushes the return address and trains the BTB with the call target.
func (b *base) OnCall(pc, retAddr, target uint64) {
	b.ras.Push(retAddr)
	b.btb.Update(pc, target)
}

// PredictReturn returns the top of the RAS.
func (b *base) PredictReturn() (uint64, bool) {
	return b.ras.Top()
}

// OnReturn pops the RAS.
func (b *base) OnReturn() {
	b.ras.Pop()
}

// Stats returns the shared accounting.
func (b *base) Stats() *Stats {
	return &b.stats
}

// record tracks a verified direction outcome.
func (b *base) record(predicted, taken bool) {
	b.stats.Predictions++
	if predicted == taken {
		b.stats.Correct++
	} else {
		b.stats.Mispredictions++
	}
}
