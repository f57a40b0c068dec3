package emu_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/rvsim/emu"
)

var _ = Describe("RegFile", func() {
	var regs *emu.RegFile

	BeforeEach(func() {
		regs = &emu.RegFile{}
	})

	It("should read back written registers", func() {
		regs.Write(5, 0xDEADBEEF)
		Expect(regs.Read(5)).To(Equal(uint64(0xDEADBEEF)))
	})

	It("should keep x0 hardwired to zero", func() {
		regs.Write(0, 0xFFFF_FFFF_FFFF_FFFF)
		Expect(regs.Read(0)).To(Equal(uint64(0)))
	})

	It("should keep integer and FP registers separate", func() {
		regs.Write(1, 100)
		regs.WriteF(1, 200)
		Expect(regs.Read(1)).To(Equal(uint64(100)))
		Expect(regs.ReadF(1)).To(Equal(uint64(200)))
	})

	It("should allow writes to f0", func() {
		regs.WriteF(0, 42)
		Expect(regs.ReadF(0)).To(Equal(uint64(42)))
	})
})
