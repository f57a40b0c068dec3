package soc

// MemoryController charges cycles for a physical memory access.
type MemoryController interface {
	// AccessLatency returns the cycles an access to addr costs.
	AccessLatency(addr uint64) uint64
}

// SimpleController charges a fixed latency for every access.
type SimpleController struct {
	latency uint64
}

// NewSimpleController creates a fixed-latency controller.
func NewSimpleController(latency uint64) *SimpleController {
	return &SimpleController{latency: latency}
}

// AccessLatency implements MemoryController.
func (c *SimpleController) AccessLatency(addr uint64) uint64 {
	return c.latency
}

// dramRowBytes is the modeled row size (2 KiB, 11 offset bits).
const dramRowBytes = 2048

// DRAMStats counts row-buffer outcomes.
type DRAMStats struct {
	RowHits      uint64
	RowConflicts uint64
	RowEmpty     uint64
}

// DRAMController models a single-channel, single-rank DRAM with one open
// row per access stream. Latency depends on whether the access hits the
// open row, conflicts with it, or finds the bank idle.
type DRAMController struct {
	openRow    uint64
	hasOpenRow bool

	tCAS uint64
	tRAS uint64
	tPRE uint64

	stats DRAMStats
}

// NewDRAMController creates a controller with the given timing parameters.
func NewDRAMController(tCAS, tRAS, tPRE uint64) *DRAMController {
	return &DRAMController{tCAS: tCAS, tRAS: tRAS, tPRE: tPRE}
}

// AccessLatency implements MemoryController.
func (c *DRAMController) AccessLatency(addr uint64) uint64 {
	row := addr &^ uint64(dramRowBytes-1)

	switch {
	case c.hasOpenRow && c.openRow == row:
		// Row-buffer hit: column access only.
		c.stats.RowHits++
		return c.tCAS
	case c.hasOpenRow:
		// Conflict: precharge the old row, activate the new one.
		c.stats.RowConflicts++
		c.openRow = row
		return c.tPRE + c.tRAS + c.tCAS
	default:
		// Bank idle: activate, then column access.
		c.stats.RowEmpty++
		c.hasOpenRow = true
		c.openRow = row
		return c.tRAS + c.tCAS
	}
}

// Stats returns the row-buffer counters.
func (c *DRAMController) Stats() DRAMStats {
	return c.stats
}
