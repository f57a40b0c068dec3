package pipeline_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/rvsim/insts"
)

var _ = Describe("Traps and interrupts", func() {
	// handlerOffset places a parked handler (self-loop) the trap vector
	// points at.
	const handlerOffset = uint64(0x800)

	installHandler := func(c *testCore) uint64 {
		handler := ramBase + handlerOffset
		Expect(c.Bus.Write(handler, 4, uint64(selfLoop))).To(Succeed())
		c.CSRs.Write(insts.CSRMTVec, handler)
		return handler
	}

	It("should fault on unmapped loads with the address in mtval", func() {
		c := newTestCore(nil)
		handler := installHandler(c)

		const bad = uint64(0xDEAD_BEEF_0000_0000)
		c.Regs.Write(1, bad)
		c.loadProgram(
			ld(2, 1, 0), // load from nowhere
			addi(3, 0, 1),
			selfLoop,
		)

		c.tick(200)

		Expect(c.CSRs.MCause).To(Equal(uint64(insts.CauseLoadAccessFault)))
		Expect(c.CSRs.MTVal).To(Equal(bad))
		Expect(c.CSRs.MEPC).To(Equal(ramBase))
		Expect(c.Pipe.PC()).To(BeNumerically(">=", handler))
		// The younger instruction was squashed.
		Expect(c.Regs.Read(3)).To(Equal(uint64(0)))

		// No counter corruption: the pipeline keeps running in the handler.
		c.Pipe.SyncStats()
		Expect(c.Stats.ICacheHits + c.Stats.ICacheMisses).
			To(BeNumerically(">", 0))
		Expect(c.Stats.TrapsTaken).To(Equal(uint64(1)))
	})

	It("should fault on unmapped stores as a store access fault", func() {
		c := newTestCore(nil)
		installHandler(c)

		c.Regs.Write(1, 0x10)
		c.loadProgram(sd(1, 2, 0), selfLoop)

		c.tick(200)

		Expect(c.CSRs.MCause).To(Equal(uint64(insts.CauseStoreAccessFault)))
		Expect(c.CSRs.MTVal).To(Equal(uint64(0x10)))
	})

	It("should trap illegal instructions with the word in mtval", func() {
		c := newTestCore(nil)
		installHandler(c)

		c.loadProgram(0xFFFF_FFFF, selfLoop)

		c.tick(200)

		Expect(c.CSRs.MCause).To(Equal(uint64(insts.CauseIllegalInstruction)))
		Expect(c.CSRs.MTVal).To(Equal(uint64(0xFFFF_FFFF)))
		Expect(c.CSRs.MEPC).To(Equal(ramBase))
	})

	It("should trap EBREAK precisely", func() {
		c := newTestCore(nil)
		installHandler(c)

		c.loadProgram(addi(1, 0, 1), 0x0010_0073, selfLoop)

		c.tick(200)

		Expect(c.CSRs.MCause).To(Equal(uint64(insts.CauseBreakpoint)))
		Expect(c.CSRs.MEPC).To(Equal(ramBase + 4))
		// The older instruction still retired.
		Expect(c.Regs.Read(1)).To(Equal(uint64(1)))
	})

	It("should halt on the exit environment call convention", func() {
		c := newTestCore(nil)
		c.loadProgram(
			addi(insts.RegA7, 0, 93),
			addi(insts.RegA0, 0, 5),
			instECall,
			selfLoop,
		)

		c.tick(500)

		Expect(c.Pipe.Halted()).To(BeTrue())
		Expect(c.Pipe.ExitCode()).To(Equal(uint64(5)))
	})

	It("should deliver ECALL to the trap vector otherwise", func() {
		c := newTestCore(nil)
		installHandler(c)

		c.loadProgram(instECall, selfLoop)

		c.tick(200)

		Expect(c.CSRs.MCause).To(Equal(uint64(insts.CauseECallFromM)))
		Expect(c.CSRs.MEPC).To(Equal(ramBase))
	})

	It("should take the CLINT timer interrupt near mtimecmp", func() {
		c := newTestCore(nil)
		handler := installHandler(c)

		// Arm the timer and enable machine timer interrupts.
		Expect(c.CLINT.Write(0x4000, 8, 1000)).To(Succeed())
		c.CSRs.MIE = insts.MIPMTIP
		c.CSRs.MStatus |= insts.MStatusMIE

		c.loadProgram(selfLoop)

		c.tick(300)
		Expect(c.Stats.IRQsTaken).To(BeZero())

		c.tick(800) // past cycle 1000

		Expect(c.Stats.IRQsTaken).To(Equal(uint64(1)))
		Expect(c.CSRs.MCause).To(Equal(uint64(1)<<63 | insts.CauseMachineTimerIRQ))
		// The interrupted loop is where execution resumes.
		Expect(c.CSRs.MEPC).To(Equal(ramBase))
		Expect(c.Pipe.PC()).To(BeNumerically(">=", handler))
	})

	It("should hold a masked interrupt pending until enabled", func() {
		c := newTestCore(nil)
		installHandler(c)

		Expect(c.CLINT.Write(0x4000, 8, 10)).To(Succeed())
		c.CSRs.MIE = 0 // masked

		c.loadProgram(selfLoop)
		c.tick(100)
		Expect(c.Stats.IRQsTaken).To(BeZero())
		Expect(c.CSRs.MIP & insts.MIPMTIP).NotTo(BeZero())

		c.CSRs.MIE = insts.MIPMTIP
		c.CSRs.MStatus |= insts.MStatusMIE
		c.tick(10)
		Expect(c.Stats.IRQsTaken).To(Equal(uint64(1)))
	})

	It("should delegate interrupts to supervisor mode via mideleg", func() {
		c := newTestCore(nil)
		handler := ramBase + 0x900
		Expect(c.Bus.Write(handler, 4, uint64(selfLoop))).To(Succeed())
		c.CSRs.Write(insts.CSRSTVec, handler)

		Expect(c.CLINT.Write(0x4000, 8, 10)).To(Succeed())
		c.CSRs.MIE = insts.MIPMTIP
		c.CSRs.MIDeleg = 1 << insts.CauseMachineTimerIRQ
		c.CSRs.Priv = insts.PrivSupervisor
		c.CSRs.MStatus |= insts.MStatusSIE

		c.loadProgram(selfLoop)
		c.tick(100)

		Expect(c.CSRs.Priv).To(Equal(insts.PrivSupervisor))
		Expect(c.CSRs.SCause).To(Equal(uint64(1)<<63 | insts.CauseMachineTimerIRQ))
	})
})
