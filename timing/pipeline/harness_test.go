package pipeline_test

import (
	"math/rand"

	. "github.com/onsi/gomega"

	"github.com/sarchlab/rvsim/config"
	"github.com/sarchlab/rvsim/emu"
	"github.com/sarchlab/rvsim/soc"
	"github.com/sarchlab/rvsim/stats"
	"github.com/sarchlab/rvsim/timing/cache"
	"github.com/sarchlab/rvsim/timing/mmu"
	"github.com/sarchlab/rvsim/timing/pipeline"
)

const ramBase = uint64(0x8000_0000)

// testCore bundles a pipeline with the pieces the tests poke at.
type testCore struct {
	Pipe  *pipeline.Pipeline
	Regs  *emu.RegFile
	CSRs  *emu.CSRFile
	Bus   *soc.Bus
	CLINT *soc.CLINT
	Stats *stats.Sim
}

// newTestCore builds a single-core machine with RAM and a CLINT. The L1
// caches run with zero hit latency and no L2, over the simple memory
// controller, so timing assertions stay tractable.
func newTestCore(tweak func(*config.Config)) *testCore {
	cfg := config.Default()
	cfg.Memory.Controller = "Simple"
	cfg.Memory.RowMissLatency = 4
	cfg.Memory.RAMSize = 1 << 20
	cfg.Memory.L1I.Latency = 0
	cfg.Memory.L1D.Latency = 0
	cfg.Memory.L1I.Prefetcher = "None"
	cfg.Memory.L1D.Prefetcher = "None"
	cfg.Memory.L2.Enabled = false
	if tweak != nil {
		tweak(cfg)
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	bus := soc.NewBus(cfg.SoC.BusWidthBytes, cfg.SoC.BusLatency)

	ram := soc.NewRAM(cfg.Memory.RAMBase, cfg.Memory.RAMSize)
	clint := soc.NewCLINT(cfg.SoC.CLINTBase, cfg.SoC.CLINTDivider)
	plic := soc.NewPLIC(cfg.SoC.PLICBase)
	Expect(bus.AddDevice(ram)).To(Succeed())
	Expect(bus.AddDevice(clint)).To(Succeed())
	Expect(bus.AddDevice(plic)).To(Succeed())

	memCtrl := soc.NewSimpleController(cfg.Memory.RowMissLatency)
	caches, err := cache.NewHierarchy(cfg.Memory, rng, bus.CalculateTransitTime)
	Expect(err).NotTo(HaveOccurred())

	regs := &emu.RegFile{}
	csrs := emu.NewCSRFile()
	mmuUnit := mmu.New(cfg.Memory.TLBSize)
	sim := &stats.Sim{Seed: cfg.Seed}

	pipe, err := pipeline.New(
		cfg.Pipeline, regs, csrs, bus, memCtrl, caches, mmuUnit, rng, sim)
	Expect(err).NotTo(HaveOccurred())

	return &testCore{
		Pipe:  pipe,
		Regs:  regs,
		CSRs:  csrs,
		Bus:   bus,
		CLINT: clint,
		Stats: sim,
	}
}

// loadProgram writes instruction words at the RAM base and points fetch at
// them.
func (c *testCore) loadProgram(words ...uint32) {
	addr := ramBase
	for _, w := range words {
		Expect(c.Bus.Write(addr, 4, uint64(w))).To(Succeed())
		addr += 4
	}
	c.Pipe.SetPC(ramBase)
}

// run ticks until n instructions retired, with a safety cap.
func (c *testCore) run(retired uint64, maxCycles uint64) {
	for i := uint64(0); i < maxCycles; i++ {
		if c.Stats.InstructionsRetired >= retired || c.Pipe.Halted() {
			return
		}
		c.Pipe.Tick()
	}
}

// tick advances n cycles.
func (c *testCore) tick(n int) {
	for i := 0; i < n; i++ {
		c.Pipe.Tick()
	}
}

// Instruction encoders for building test programs.

func encR(opcode uint32, rd int, funct3 uint32, rs1, rs2 int, funct7 uint32) uint32 {
	return opcode | uint32(rd)<<7 | funct3<<12 | uint32(rs1)<<15 |
		uint32(rs2)<<20 | funct7<<25
}

func encI(opcode uint32, rd int, funct3 uint32, rs1 int, imm int64) uint32 {
	return opcode | uint32(rd)<<7 | funct3<<12 | uint32(rs1)<<15 |
		(uint32(imm)&0xFFF)<<20
}

func encS(funct3 uint32, rs1, rs2 int, imm int64) uint32 {
	u := uint32(imm) & 0xFFF
	return 0x23 | (u&0x1F)<<7 | funct3<<12 | uint32(rs1)<<15 |
		uint32(rs2)<<20 | (u>>5)<<25
}

func encB(funct3 uint32, rs1, rs2 int, imm int64) uint32 {
	u := uint32(imm) & 0x1FFF
	return 0x63 | ((u>>11)&1)<<7 | ((u>>1)&0xF)<<8 | funct3<<12 |
		uint32(rs1)<<15 | uint32(rs2)<<20 | ((u>>5)&0x3F)<<25 | ((u>>12)&1)<<31
}

func encJ(rd int, imm int64) uint32 {
	u := uint32(imm) & 0x1FFFFF
	return 0x6F | uint32(rd)<<7 | ((u>>12)&0xFF)<<12 | ((u>>11)&1)<<20 |
		((u>>1)&0x3FF)<<21 | ((u>>20)&1)<<31
}

func addi(rd, rs1 int, imm int64) uint32 { return encI(0x13, rd, 0, rs1, imm) }
func add(rd, rs1, rs2 int) uint32        { return encR(0x33, rd, 0, rs1, rs2, 0) }
func lw(rd, rs1 int, imm int64) uint32   { return encI(0x03, rd, 2, rs1, imm) }
func ld(rd, rs1 int, imm int64) uint32   { return encI(0x03, rd, 3, rs1, imm) }
func sw(rs1, rs2 int, imm int64) uint32  { return encS(2, rs1, rs2, imm) }
func sd(rs1, rs2 int, imm int64) uint32  { return encS(3, rs1, rs2, imm) }
func beq(rs1, rs2 int, imm int64) uint32 { return encB(0, rs1, rs2, imm) }
func bne(rs1, rs2 int, imm int64) uint32 { return encB(1, rs1, rs2, imm) }
func jal(rd int, imm int64) uint32       { return encJ(rd, imm) }
func jalr(rd, rs1 int, imm int64) uint32 { return encI(0x67, rd, 0, rs1, imm) }

func csrrw(rd int, csr uint32, rs1 int) uint32 {
	return 0x73 | uint32(rd)<<7 | 1<<12 | uint32(rs1)<<15 | csr<<20
}

func csrrs(rd int, csr uint32, rs1 int) uint32 {
	return 0x73 | uint32(rd)<<7 | 2<<12 | uint32(rs1)<<15 | csr<<20
}

const (
	instECall = uint32(0x00000073)
	instWFI   = uint32(0x10500073)
	selfLoop  = uint32(0x0000006F) // jal x0, 0
)
