package sim_test

import (
	"bytes"
	"encoding/binary"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/rvsim/config"
	"github.com/sarchlab/rvsim/insts"
	"github.com/sarchlab/rvsim/loader"
	"github.com/sarchlab/rvsim/sim"
)

// Minimal assembler helpers for the end-to-end programs.

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

func lui(rd int, imm20 uint32) uint32 {
	return 0x37 | uint32(rd)<<7 | imm20<<12
}

func addi(rd, rs1 int, imm int64) uint32 { return encI(0x13, rd, 0, rs1, imm) }
func sb(rs1, rs2 int, imm int64) uint32  { return encS(0, rs1, rs2, imm) }
func sw(rs1, rs2 int, imm int64) uint32  { return encS(2, rs1, rs2, imm) }
func bne(rs1, rs2 int, imm int64) uint32 { return encB(1, rs1, rs2, imm) }

const selfLoop = uint32(0x0000006F)

func words(ws ...uint32) []byte {
	var buf bytes.Buffer
	for _, w := range ws {
		_ = binary.Write(&buf, binary.LittleEndian, w)
	}
	return buf.Bytes()
}

func flatProgram(base uint64, ws ...uint32) *loader.Program {
	return &loader.Program{
		Entry: base,
		Segments: []loader.Segment{
			{PAddr: base, Data: words(ws...), MemSize: uint64(len(ws) * 4)},
		},
	}
}

var _ = Describe("System", func() {
	var cfg *config.Config

	BeforeEach(func() {
		cfg = config.Default()
		cfg.Memory.RAMSize = 64 * 1024 * 1024
	})

	It("should terminate on a syscon shutdown write", func() {
		system, err := sim.New(cfg)
		Expect(err).NotTo(HaveOccurred())

		// x1 = syscon base; x2 = 0x5555; store and park.
		prog := flatProgram(cfg.Memory.RAMBase,
			lui(1, uint32(cfg.SoC.SysconBase>>12)),
			lui(2, 0x5),
			addi(2, 2, 0x555),
			sw(1, 2, 0),
			selfLoop,
		)
		Expect(system.LoadDirect(prog)).To(Succeed())

		status := system.Run(100_000)
		Expect(status.Reason).To(Equal(sim.ReasonShutdown))
	})

	It("should terminate on the cycle cap", func() {
		system, err := sim.New(cfg)
		Expect(err).NotTo(HaveOccurred())

		prog := flatProgram(cfg.Memory.RAMBase, selfLoop)
		Expect(system.LoadDirect(prog)).To(Succeed())

		status := system.Run(5000)
		Expect(status.Reason).To(Equal(sim.ReasonCycleCap))
		Expect(system.Stats.Cycles).To(BeNumerically(">=", 5000))
	})

	It("should report the guest exit code", func() {
		system, err := sim.New(cfg)
		Expect(err).NotTo(HaveOccurred())

		prog := flatProgram(cfg.Memory.RAMBase,
			addi(17, 0, 93), // a7 = SYS_exit
			addi(10, 0, 42), // a0 = 42
			0x00000073,      // ecall
		)
		Expect(system.LoadDirect(prog)).To(Succeed())

		status := system.Run(100_000)
		Expect(status.Reason).To(Equal(sim.ReasonGuestExit))
		Expect(status.Code).To(Equal(uint64(42)))
	})

	It("should emit UART output to the host", func() {
		var out bytes.Buffer
		system, err := sim.New(cfg, sim.WithUARTOutput(&out))
		Expect(err).NotTo(HaveOccurred())

		prog := flatProgram(cfg.Memory.RAMBase,
			lui(1, uint32(cfg.SoC.UARTBase>>12)),
			addi(2, 0, 'H'),
			sb(1, 2, 0),
			addi(2, 0, 'i'),
			sb(1, 2, 0),
			selfLoop,
		)
		Expect(system.LoadDirect(prog)).To(Succeed())

		system.Run(10_000)
		Expect(out.String()).To(Equal("Hi"))
	})

	It("should boot a kernel image into supervisor mode via the trampoline", func() {
		system, err := sim.New(cfg)
		Expect(err).NotTo(HaveOccurred())

		kernel := words(addi(1, 0, 7), selfLoop)
		Expect(system.LoadKernel(kernel, []byte{0xD0, 0x0D})).To(Succeed())

		system.Run(10_000)

		Expect(system.CSRs.Priv).To(Equal(insts.PrivSupervisor))
		Expect(system.Regs.Read(1)).To(Equal(uint64(7)))
		// Boot registers: a0 = hart ID, a1 = DTB address.
		Expect(system.Regs.Read(10)).To(Equal(uint64(0)))
		Expect(system.Regs.Read(11)).To(Equal(cfg.Memory.RAMBase + 0x200_0000))
	})

	It("should produce identical statistics for identical runs", func() {
		run := func() []uint64 {
			system, err := sim.New(cfg)
			Expect(err).NotTo(HaveOccurred())

			// A loop with stores and branches to exercise caches and the
			// predictor.
			prog := flatProgram(cfg.Memory.RAMBase,
				addi(1, 0, 200),      // counter
				addi(5, 0, 1),        // x5 = 1
				addi(1, 1, -1),       // loop:
				sw(2, 1, 0),          // store to [x2]=0+... (x2=0? use RAM)
				bne(1, 0, -8),        //
				selfLoop,
			)
			// Store target: x2 points into RAM.
			Expect(system.LoadDirect(prog)).To(Succeed())
			system.Regs.Write(2, cfg.Memory.RAMBase+0x1000)

			system.Run(20_000)

			var vals []uint64
			for _, counter := range system.Stats.Snapshot() {
				vals = append(vals, counter.Value)
			}
			return vals
		}

		Expect(run()).To(Equal(run()))
	})

	It("should reject invalid configurations at construction", func() {
		cfg.Memory.L1D.Ways = 0
		_, err := sim.New(cfg)
		Expect(err).To(HaveOccurred())
	})
})
