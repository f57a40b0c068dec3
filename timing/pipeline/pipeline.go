package pipeline

import (
	"fmt"
	"math/rand"
	"os"

	"github.com/sarchlab/rvsim/config"
	"github.com/sarchlab/rvsim/emu"
	"github.com/sarchlab/rvsim/insts"
	"github.com/sarchlab/rvsim/soc"
	"github.com/sarchlab/rvsim/stats"
	"github.com/sarchlab/rvsim/timing/bp"
	"github.com/sarchlab/rvsim/timing/cache"
	"github.com/sarchlab/rvsim/timing/mmu"
)

// Pipeline is the five-stage in-order core. It owns the four latches, the
// PC, the register files and CSR bank, the branch predictor, the cache
// hierarchy, the MMU, and a reference to the bus. One Tick advances
// simulated time by exactly one cycle.
type Pipeline struct {
	regs      *emu.RegFile
	csrs      *emu.CSRFile
	bus       *soc.Bus
	memCtrl   soc.MemoryController
	caches    *cache.Hierarchy
	mmuUnit   *mmu.MMU
	predictor bp.Predictor

	cfg config.PipelineConfig

	ifid    IFIDRegister
	idex    IDEXRegister
	exmem   EXMEMRegister
	memwb   MEMWBRegister
	wbLatch MEMWBRegister

	pc uint64

	// DirectMode bypasses translation and runs with the MMU off; used for
	// flat-binary execution.
	DirectMode bool

	// Trace prints a per-cycle stage diagram to stderr.
	Trace bool

	stallCycles uint64
	execTimer   uint64

	reservationAddr  uint64
	reservationValid bool

	// pendingPanic holds a trap requested through the sim-panic debug CSR,
	// delivered once the CSR instruction finishes executing.
	pendingPanic *insts.Trap

	stats *stats.Sim

	halted   bool
	exitCode uint64
}

// New wires a pipeline to its memory system and statistics bundle.
func New(
	cfg config.PipelineConfig,
	regs *emu.RegFile,
	csrs *emu.CSRFile,
	bus *soc.Bus,
	memCtrl soc.MemoryController,
	caches *cache.Hierarchy,
	mmuUnit *mmu.MMU,
	rng *rand.Rand,
	sim *stats.Sim,
) (*Pipeline, error) {
	predictor, err := bp.New(cfg.BranchPredictor, rng)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		regs:      regs,
		csrs:      csrs,
		bus:       bus,
		memCtrl:   memCtrl,
		caches:    caches,
		mmuUnit:   mmuUnit,
		predictor: predictor,
		cfg:       cfg,
		stats:     sim,
	}

	// PTE loads go through the data side of the hierarchy for latency.
	mmuUnit.WalkLatency = func(paddr uint64) uint64 {
		return p.memoryLatency(paddr, false, false)
	}

	csrs.CycleFn = func() uint64 { return sim.Cycles }
	csrs.InstRetFn = func() uint64 { return sim.InstructionsRetired }
	csrs.PanicFn = func(val uint64) {
		p.pendingPanic = insts.Exception(val, 0)
	}

	return p, nil
}

// PC returns the fetch program counter.
func (p *Pipeline) PC() uint64 { return p.pc }

// SetPC redirects fetch and clears any in-flight work.
func (p *Pipeline) SetPC(pc uint64) {
	p.pc = pc
	p.regs.PC = pc
	p.flushAll()
}

// Predictor exposes the branch prediction unit.
func (p *Pipeline) Predictor() bp.Predictor { return p.predictor }

// Halted reports whether the core stopped (exit ecall or requested trap).
func (p *Pipeline) Halted() bool { return p.halted }

// ExitCode returns the guest exit code once halted.
func (p *Pipeline) ExitCode() uint64 { return p.exitCode }

func (p *Pipeline) flushAll() {
	p.ifid.Clear()
	p.idex.Clear()
	p.exmem.Clear()
	p.memwb.Clear()
	p.wbLatch.Clear()
}

// flushFrontEnd kills the fetched and decoded instructions and redirects
// fetch; older in-flight instructions continue.
func (p *Pipeline) flushFrontEnd(nextPC uint64) {
	p.ifid.Clear()
	p.idex.Clear()
	p.pc = nextPC
}

// Tick advances the core by one cycle.
//
// The interconnect ticks first so the devices' IRQ lines are sampled, then
// pending interrupts are considered at the commit boundary, then the five
// stages evaluate from writeback back to fetch so each stage consumes the
// latch values its upstream neighbor wrote in the previous cycle.
func (p *Pipeline) Tick() {
	if p.halted {
		return
	}

	timer, software, external := p.bus.Tick()
	p.updateMIP(timer, software, external)

	stalled := p.stallCycles > 0 || p.execTimer > 0

	// A pending IRQ latched during a stall is taken at the first commit
	// boundary after the stall drains.
	if !stalled && p.checkInterrupts() {
		p.stats.Cycles++
		p.trackModeCycles()
		return
	}

	if p.stallCycles > 0 {
		p.stallCycles--
		p.stats.Cycles++
		p.stats.StallsMem++
		p.trackModeCycles()
		return
	}
	if p.execTimer > 0 {
		p.execTimer--
		p.stats.Cycles++
		p.stats.StallsExec++
		p.trackModeCycles()
		return
	}

	p.stats.Cycles++
	p.trackModeCycles()

	if p.Trace {
		p.printPipelineDiagram()
	}

	// Writeback. A trap here flushes everything and redirects.
	if p.writebackStage() {
		return
	}
	if p.halted {
		return
	}

	p.wbLatch = p.memwb

	prevEXMEM := p.exmem
	p.memwb = p.memoryStage()
	redirected := p.executeStage(&prevEXMEM)

	if redirected {
		return
	}

	if NewHazardUnit().DetectLoadUse(&p.idex, &p.ifid) {
		p.idex.Clear()
		p.stats.StallsData++
		return
	}

	p.decodeStage()
	p.fetchStage()
}

// updateMIP mirrors the device lines into mip: the CLINT's timer and
// software lines at machine level, the PLIC's aggregate at the supervisor
// external bit.
func (p *Pipeline) updateMIP(timer, software, external bool) {
	mip := p.csrs.MIP
	if timer {
		mip |= insts.MIPMTIP
	} else {
		mip &^= insts.MIPMTIP
	}
	if software {
		mip |= insts.MIPMSIP
	} else {
		mip &^= insts.MIPMSIP
	}
	if external {
		mip |= insts.MIPSEIP
	} else {
		mip &^= insts.MIPSEIP
	}
	p.csrs.MIP = mip
}

// interruptPriority lists the mip bits in delivery order with their causes.
var interruptPriority = []struct {
	bit   uint64
	cause uint64
}{
	{insts.MIPMEIP, insts.CauseMachineExternalIRQ},
	{insts.MIPMSIP, insts.CauseMachineSoftwareIRQ},
	{insts.MIPMTIP, insts.CauseMachineTimerIRQ},
	{insts.MIPSEIP, insts.CauseSupervisorExternalIRQ},
	{insts.MIPSSIP, insts.CauseSupervisorSoftwareIRQ},
	{insts.MIPSTIP, insts.CauseSupervisorTimerIRQ},
}

// checkInterrupts takes the highest-priority enabled pending interrupt, if
// the privilege and global-enable rules permit. Returns true when a trap was
// delivered.
func (p *Pipeline) checkInterrupts() bool {
	mip := p.csrs.MIP
	mie := p.csrs.MIE
	status := p.csrs.MStatus
	mGlobal := status&insts.MStatusMIE != 0
	sGlobal := status&insts.MStatusSIE != 0

	for _, irq := range interruptPriority {
		if mip&irq.bit == 0 || mie&irq.bit == 0 {
			continue
		}

		delegated := p.csrs.MIDeleg&(1<<irq.cause) != 0
		target := insts.PrivMachine
		if delegated {
			target = insts.PrivSupervisor
		}

		take := false
		switch {
		case p.csrs.Priv < target:
			take = true
		case p.csrs.Priv == target && target == insts.PrivMachine && mGlobal:
			take = true
		case p.csrs.Priv == target && target == insts.PrivSupervisor && sGlobal:
			take = true
		}
		if !take {
			continue
		}

		// Retire the instruction at the commit boundary, then squash the
		// younger in-flight work. epc is the oldest un-retired PC: the
		// instruction that would have retired next.
		epc := uint64(0)
		if p.memwb.Valid && p.memwb.Trap != nil {
			// A trapped instruction re-executes after the handler.
			epc = p.memwb.PC
		} else {
			if p.memwb.Valid {
				p.retire(&p.memwb)
			}
			epc = p.oldestInFlightPC()
		}
		p.deliverTrap(insts.Interrupt(irq.cause), epc)
		p.stats.IRQsTaken++
		return true
	}
	return false
}

// oldestInFlightPC is the PC of the oldest instruction that has not yet
// produced irreversible side effects, falling back to the fetch PC.
func (p *Pipeline) oldestInFlightPC() uint64 {
	switch {
	case p.exmem.Valid:
		return p.exmem.PC
	case p.idex.Valid:
		return p.idex.PC
	case p.ifid.Valid:
		return p.ifid.PC
	}
	return p.pc
}

// deliverTrap updates the CSRs, switches privilege, redirects fetch, and
// squashes every in-flight instruction.
func (p *Pipeline) deliverTrap(t *insts.Trap, epc uint64) {
	p.pc = p.csrs.Trap(t, epc)
	p.stats.TrapsTaken++
	p.flushAll()
}

func (p *Pipeline) trackModeCycles() {
	switch p.csrs.Priv {
	case insts.PrivUser:
		p.stats.CyclesUser++
	case insts.PrivSupervisor:
		p.stats.CyclesKernel++
	default:
		p.stats.CyclesMachine++
	}
}

// translate resolves a virtual address through the MMU (or the identity map
// in direct mode) and confirms the physical address is inside some device.
func (p *Pipeline) translate(va uint64, access insts.AccessType) mmu.Result {
	if p.DirectMode {
		if !p.bus.IsValidAddress(va) {
			return mmu.Result{Trap: insts.AccessFault(access, va)}
		}
		return mmu.Result{PAddr: va}
	}

	res := p.mmuUnit.Translate(va, access, p.csrs.Priv, p.csrs, p.bus)
	if res.Trap == nil && !p.bus.IsValidAddress(res.PAddr) {
		return mmu.Result{Trap: insts.AccessFault(access, res.PAddr), Cycles: res.Cycles}
	}
	return res
}

// memoryLatency charges the cache hierarchy and, on a full miss, the DRAM
// controller and bus for one physical access.
func (p *Pipeline) memoryLatency(paddr uint64, isFetch, isWrite bool) uint64 {
	ramLatency := p.memCtrl.AccessLatency(paddr)
	return p.caches.Access(paddr, isFetch, isWrite, ramLatency)
}

// syncCacheStats mirrors the hierarchy and TLB counters into the snapshot
// bundle.
func (p *Pipeline) syncCacheStats() {
	cs := p.caches.Stats()
	p.stats.ICacheHits = cs.L1IHits
	p.stats.ICacheMisses = cs.L1IMisses
	p.stats.DCacheHits = cs.L1DHits
	p.stats.DCacheMisses = cs.L1DMisses
	p.stats.L2Hits = cs.L2Hits
	p.stats.L2Misses = cs.L2Misses
	p.stats.L3Hits = cs.L3Hits
	p.stats.L3Misses = cs.L3Misses

	p.stats.ITLBHits = p.mmuUnit.ITLB.Stats().Hits
	p.stats.ITLBMisses = p.mmuUnit.ITLB.Stats().Misses
	p.stats.DTLBHits = p.mmuUnit.DTLB.Stats().Hits
	p.stats.DTLBMisses = p.mmuUnit.DTLB.Stats().Misses
	p.stats.PageWalks = p.mmuUnit.Stats().Walks

	bs := p.predictor.Stats()
	p.stats.BranchPredictions = bs.Predictions
	p.stats.BranchMispredictions = bs.Mispredictions
	p.stats.BTBHits = bs.BTBHits
	p.stats.BTBMisses = bs.BTBMisses

	if dram, ok := p.memCtrl.(*soc.DRAMController); ok {
		ds := dram.Stats()
		p.stats.DRAMRowHits = ds.RowHits
		p.stats.DRAMRowConflicts = ds.RowConflicts
		p.stats.DRAMRowEmpty = ds.RowEmpty
	}
}

// SyncStats mirrors the cache, TLB, predictor, and DRAM counters into the
// statistics bundle.
func (p *Pipeline) SyncStats() {
	p.syncCacheStats()
}

// Run ticks until the core halts or maxCycles elapse (0 means no cap).
// Returns true if the core halted on its own.
func (p *Pipeline) Run(maxCycles uint64) bool {
	for !p.halted {
		if maxCycles > 0 && p.stats.Cycles >= maxCycles {
			break
		}
		p.Tick()
	}
	p.syncCacheStats()
	return p.halted
}

// RequestExit halts the core with the given code.
func (p *Pipeline) RequestExit(code uint64) {
	p.halted = true
	p.exitCode = code
	p.syncCacheStats()
}

func (p *Pipeline) printPipelineDiagram() {
	fmt.Fprintf(os.Stderr, "IF:%s ID:%s EX:%s MEM:%s WB:%s pc=%#x\n",
		mark(p.ifid.Valid), mark(p.idex.Valid), mark(p.exmem.Valid),
		mark(p.memwb.Valid), mark(p.wbLatch.Valid), p.pc)
}

func mark(valid bool) string {
	if valid {
		return "*"
	}
	return "-"
}
