package pipeline_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/rvsim/insts"
)

var _ = Describe("Pipeline", func() {
	Describe("Basic execution", func() {
		It("should execute an ALU chain with forwarding", func() {
			c := newTestCore(nil)
			c.loadProgram(
				addi(1, 0, 10), // x1 = 10
				addi(2, 1, 5),  // x2 = x1 + 5 (EX->EX forward)
				add(3, 1, 2),   // x3 = x1 + x2 (MEM->EX forward)
				add(4, 3, 3),   // x4 = 2*x3
				selfLoop,
			)

			c.run(4, 2000)

			Expect(c.Regs.Read(1)).To(Equal(uint64(10)))
			Expect(c.Regs.Read(2)).To(Equal(uint64(15)))
			Expect(c.Regs.Read(3)).To(Equal(uint64(25)))
			Expect(c.Regs.Read(4)).To(Equal(uint64(50)))
		})

		It("should keep x0 zero across writes", func() {
			c := newTestCore(nil)
			c.loadProgram(
				addi(0, 0, 5),
				add(1, 0, 0),
				selfLoop,
			)

			c.run(2, 2000)

			Expect(c.Regs.Read(0)).To(Equal(uint64(0)))
			Expect(c.Regs.Read(1)).To(Equal(uint64(0)))
		})

		It("should never retire more than width instructions per cycle", func() {
			c := newTestCore(nil)
			c.loadProgram(
				addi(1, 0, 1), addi(2, 0, 2), addi(3, 0, 3), selfLoop,
			)

			c.tick(500)

			Expect(c.Stats.InstructionsRetired).
				To(BeNumerically("<=", c.Stats.Cycles))
		})

		It("should execute compressed instructions with correct PC advance", func() {
			c := newTestCore(nil)
			// c.li x1, 5 ; c.addi x1, 1 ; self-loop
			Expect(c.Bus.Write(ramBase, 2, 0x4095)).To(Succeed())
			Expect(c.Bus.Write(ramBase+2, 2, 0x0085)).To(Succeed())
			Expect(c.Bus.Write(ramBase+4, 4, uint64(selfLoop))).To(Succeed())
			c.Pipe.SetPC(ramBase)

			c.run(2, 2000)

			Expect(c.Regs.Read(1)).To(Equal(uint64(6)))
		})
	})

	Describe("Memory operations", func() {
		It("should run store-then-load with one D-cache miss and one hit", func() {
			c := newTestCore(nil)
			c.Regs.Write(5, ramBase+0x100)
			c.loadProgram(
				addi(1, 0, 42),
				sw(5, 1, 0),
				lw(2, 5, 0),
				selfLoop,
			)

			c.run(3, 5000)

			Expect(c.Regs.Read(2)).To(Equal(uint64(42)))
			Expect(c.Stats.InstructionsRetired).To(BeNumerically(">=", 3))

			c.Pipe.SyncStats()
			Expect(c.Stats.DCacheMisses).To(Equal(uint64(1)))
			Expect(c.Stats.DCacheHits).To(Equal(uint64(1)))
		})

		It("should round-trip every access width", func() {
			c := newTestCore(nil)
			c.Regs.Write(5, ramBase+0x200)
			c.Regs.Write(1, 0xFFFF_FFFF_FFFF_FFFF)
			c.loadProgram(
				sd(5, 1, 0),
				ld(2, 5, 0),
				lw(3, 5, 0),          // sign-extends
				encI(0x03, 4, 6, 5, 0), // lwu: zero-extends
				encI(0x03, 6, 4, 5, 0), // lbu
				selfLoop,
			)

			c.run(5, 5000)

			Expect(c.Regs.Read(2)).To(Equal(uint64(0xFFFF_FFFF_FFFF_FFFF)))
			Expect(c.Regs.Read(3)).To(Equal(uint64(0xFFFF_FFFF_FFFF_FFFF)))
			Expect(c.Regs.Read(4)).To(Equal(uint64(0xFFFF_FFFF)))
			Expect(c.Regs.Read(6)).To(Equal(uint64(0xFF)))
		})

		It("should stall one bubble on a load-use hazard", func() {
			c := newTestCore(nil)
			c.Regs.Write(5, ramBase+0x300)
			c.Regs.Write(1, 21)
			c.loadProgram(
				sw(5, 1, 0),
				lw(2, 5, 0),
				add(3, 2, 2), // needs the load result immediately
				selfLoop,
			)

			c.run(3, 5000)

			Expect(c.Regs.Read(3)).To(Equal(uint64(42)))
			Expect(c.Stats.StallsData).To(BeNumerically(">=", 1))
		})

		It("should succeed LR/SC pairs and fail reuse of the reservation", func() {
			c := newTestCore(nil)
			c.Regs.Write(5, ramBase+0x400)
			c.Regs.Write(1, 7)
			c.loadProgram(
				sw(5, 1, 0),
				encR(0x2F, 3, 2, 5, 0, 0x08), // lr.w x3, (x5)
				encR(0x2F, 4, 2, 5, 1, 0x0C), // sc.w x4, x1, (x5)
				encR(0x2F, 6, 2, 5, 1, 0x0C), // sc.w x6, x1, (x5): no reservation
				lw(7, 5, 0),
				selfLoop,
			)

			c.run(5, 5000)

			Expect(c.Regs.Read(3)).To(Equal(uint64(7)))
			Expect(c.Regs.Read(4)).To(Equal(uint64(0))) // success
			Expect(c.Regs.Read(6)).To(Equal(uint64(1))) // failure
			Expect(c.Regs.Read(7)).To(Equal(uint64(7)))
		})

		It("should read-modify-write with AMOs", func() {
			c := newTestCore(nil)
			c.Regs.Write(5, ramBase+0x500)
			c.Regs.Write(1, 10)
			c.Regs.Write(2, 32)
			c.loadProgram(
				sw(5, 1, 0),
				encR(0x2F, 3, 2, 5, 2, 0x00), // amoadd.w x3, x2, (x5)
				lw(4, 5, 0),
				selfLoop,
			)

			c.run(3, 5000)

			Expect(c.Regs.Read(3)).To(Equal(uint64(10))) // old value
			Expect(c.Regs.Read(4)).To(Equal(uint64(42))) // 10 + 32
		})
	})

	Describe("Control flow", func() {
		It("should squash wrong-path work on a taken branch", func() {
			c := newTestCore(nil)
			c.loadProgram(
				addi(1, 0, 1),
				beq(1, 1, 8),   // taken: skips the next word
				addi(2, 0, 99), // wrong path
				addi(3, 0, 7),
				selfLoop,
			)

			c.run(4, 2000)

			Expect(c.Regs.Read(2)).To(Equal(uint64(0)))
			Expect(c.Regs.Read(3)).To(Equal(uint64(7)))
			Expect(c.Stats.Flushes).To(BeNumerically(">=", 1))
		})

		It("should predict a hot loop branch with high accuracy", func() {
			c := newTestCore(nil)
			c.Regs.Write(1, 1000)
			c.loadProgram(
				addi(1, 1, -1),
				bne(1, 0, -4),
				selfLoop,
			)

			c.run(2002, 100_000)
			c.Pipe.SyncStats()

			Expect(c.Regs.Read(1)).To(Equal(uint64(0)))
			Expect(c.Stats.BranchPredictions).To(BeNumerically(">=", 1000))
			Expect(c.Stats.BranchMispredictions).To(BeNumerically("<", 100))
		})

		It("should link and return through JAL/JALR", func() {
			c := newTestCore(nil)
			c.loadProgram(
				jal(1, 12),       // call +12 -> the addi at +12
				addi(2, 0, 5),    // return lands here
				selfLoop,         // parks after the return path
				addi(3, 0, 9),    // callee
				jalr(0, 1, 0),    // ret
			)

			c.run(4, 2000)

			Expect(c.Regs.Read(3)).To(Equal(uint64(9)))
			Expect(c.Regs.Read(2)).To(Equal(uint64(5)))
			Expect(c.Regs.Read(1)).To(Equal(ramBase + 4))
		})

		It("should count the loop-exit resolution as a misprediction", func() {
			c := newTestCore(nil)
			c.Regs.Write(1, 10)
			c.loadProgram(
				addi(1, 1, -1),
				bne(1, 0, -4),
				selfLoop,
			)

			c.run(22, 10_000)
			c.Pipe.SyncStats()

			Expect(c.Stats.BranchPredictions).To(BeNumerically(">=", 10))
			// At least the cold start and the final fall-through disagree.
			Expect(c.Stats.BranchMispredictions).To(BeNumerically(">=", 1))
		})
	})

	Describe("CSR instructions", func() {
		It("should serialize CSR access and keep executing", func() {
			c := newTestCore(nil)
			c.Regs.Write(2, 0x1234)
			c.loadProgram(
				csrrw(1, insts.CSRMScratch, 2),
				addi(3, 0, 7),
				csrrs(4, insts.CSRMScratch, 0),
				selfLoop,
			)

			c.run(3, 2000)

			Expect(c.CSRs.MScratch).To(Equal(uint64(0x1234)))
			Expect(c.Regs.Read(1)).To(Equal(uint64(0))) // old value
			Expect(c.Regs.Read(3)).To(Equal(uint64(7)))
			Expect(c.Regs.Read(4)).To(Equal(uint64(0x1234)))
		})

		It("should treat WFI as a no-op", func() {
			c := newTestCore(nil)
			c.loadProgram(instWFI, addi(1, 0, 1), selfLoop)

			c.run(2, 2000)

			Expect(c.Regs.Read(1)).To(Equal(uint64(1)))
		})
	})
})
