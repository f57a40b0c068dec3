// Package stats collects the simulator's event counters and exposes them as
// prefix-grouped snapshots.
package stats

import (
	"fmt"
	"io"
	"strings"
)

// Sim is the counter bundle woven through the pipeline, caches, predictors,
// and devices. Fields are incremented directly on the hot path; Snapshot
// flattens them into named counters with stable prefixes (inst_, cycle_,
// stall_, branch_, cache_, tlb_, dram_, trap_).
type Sim struct {
	// Seed echoes the configured PRNG seed so a snapshot identifies its run.
	Seed int64

	Cycles        uint64
	CyclesUser    uint64
	CyclesKernel  uint64
	CyclesMachine uint64

	InstructionsRetired uint64

	StallsMem     uint64
	StallsData    uint64
	StallsControl uint64
	StallsExec    uint64
	Flushes       uint64

	BranchPredictions    uint64
	BranchMispredictions uint64
	BTBHits              uint64
	BTBMisses            uint64
	RASPredictions       uint64

	ICacheHits   uint64
	ICacheMisses uint64
	DCacheHits   uint64
	DCacheMisses uint64
	L2Hits       uint64
	L2Misses     uint64
	L3Hits       uint64
	L3Misses     uint64

	ITLBHits   uint64
	ITLBMisses uint64
	DTLBHits   uint64
	DTLBMisses uint64
	PageWalks  uint64

	DRAMRowHits      uint64
	DRAMRowConflicts uint64
	DRAMRowEmpty     uint64

	TrapsTaken uint64
	IRQsTaken  uint64
}

// Counter is one named statistic.
type Counter struct {
	Name  string
	Value uint64
}

// IPC returns retired instructions per cycle.
func (s *Sim) IPC() float64 {
	if s.Cycles == 0 {
		return 0
	}
	return float64(s.InstructionsRetired) / float64(s.Cycles)
}

// CPI returns cycles per retired instruction.
func (s *Sim) CPI() float64 {
	if s.InstructionsRetired == 0 {
		return 0
	}
	return float64(s.Cycles) / float64(s.InstructionsRetired)
}

// BranchAccuracy returns the branch prediction accuracy as a percentage.
func (s *Sim) BranchAccuracy() float64 {
	if s.BranchPredictions == 0 {
		return 0
	}
	correct := s.BranchPredictions - s.BranchMispredictions
	return float64(correct) / float64(s.BranchPredictions) * 100
}

// Snapshot returns every counter in a stable order.
func (s *Sim) Snapshot() []Counter {
	return []Counter{
		{"seed", uint64(s.Seed)},
		{"cycle_total", s.Cycles},
		{"cycle_user", s.CyclesUser},
		{"cycle_kernel", s.CyclesKernel},
		{"cycle_machine", s.CyclesMachine},
		{"inst_retired", s.InstructionsRetired},
		{"stall_mem", s.StallsMem},
		{"stall_data", s.StallsData},
		{"stall_control", s.StallsControl},
		{"stall_exec", s.StallsExec},
		{"stall_flushes", s.Flushes},
		{"branch_predictions", s.BranchPredictions},
		{"branch_mispredictions", s.BranchMispredictions},
		{"branch_btb_hits", s.BTBHits},
		{"branch_btb_misses", s.BTBMisses},
		{"branch_ras_predictions", s.RASPredictions},
		{"cache_l1i_hits", s.ICacheHits},
		{"cache_l1i_misses", s.ICacheMisses},
		{"cache_l1d_hits", s.DCacheHits},
		{"cache_l1d_misses", s.DCacheMisses},
		{"cache_l2_hits", s.L2Hits},
		{"cache_l2_misses", s.L2Misses},
		{"cache_l3_hits", s.L3Hits},
		{"cache_l3_misses", s.L3Misses},
		{"tlb_i_hits", s.ITLBHits},
		{"tlb_i_misses", s.ITLBMisses},
		{"tlb_d_hits", s.DTLBHits},
		{"tlb_d_misses", s.DTLBMisses},
		{"tlb_walks", s.PageWalks},
		{"dram_row_hits", s.DRAMRowHits},
		{"dram_row_conflicts", s.DRAMRowConflicts},
		{"dram_row_empty", s.DRAMRowEmpty},
		{"trap_taken", s.TrapsTaken},
		{"trap_interrupts", s.IRQsTaken},
	}
}

// Filter returns the counters whose names share the prefix.
func (s *Sim) Filter(prefix string) []Counter {
	var out []Counter
	for _, c := range s.Snapshot() {
		if strings.HasPrefix(c.Name, prefix) {
			out = append(out, c)
		}
	}
	return out
}

// Print writes the full snapshot plus the derived ratios.
func (s *Sim) Print(w io.Writer) {
	for _, c := range s.Snapshot() {
		fmt.Fprintf(w, "%-24s %d\n", c.Name, c.Value)
	}
	fmt.Fprintf(w, "%-24s %.4f\n", "ipc", s.IPC())
	fmt.Fprintf(w, "%-24s %.2f%%\n", "branch_accuracy", s.BranchAccuracy())
}
