package emu_test

import (
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/rvsim/emu"
	"github.com/sarchlab/rvsim/insts"
)

func d(f float64) uint64 { return math.Float64bits(f) }

func s(f float32) uint64 {
	return uint64(math.Float32bits(f)) | 0xFFFF_FFFF_0000_0000
}

var _ = Describe("FPU", func() {
	Describe("Double precision", func() {
		It("should compute arithmetic", func() {
			Expect(emu.FPU(insts.FPUAdd, d(1.5), d(2.5), 0, false)).To(Equal(d(4.0)))
			Expect(emu.FPU(insts.FPUSub, d(1.5), d(2.5), 0, false)).To(Equal(d(-1.0)))
			Expect(emu.FPU(insts.FPUMul, d(3.0), d(4.0), 0, false)).To(Equal(d(12.0)))
			Expect(emu.FPU(insts.FPUDiv, d(1.0), d(4.0), 0, false)).To(Equal(d(0.25)))
			Expect(emu.FPU(insts.FPUSqrt, d(9.0), 0, 0, false)).To(Equal(d(3.0)))
		})

		It("should compute fused multiply-add", func() {
			Expect(emu.FPU(insts.FPUMAdd, d(2.0), d(3.0), d(1.0), false)).
				To(Equal(d(7.0)))
			Expect(emu.FPU(insts.FPUMSub, d(2.0), d(3.0), d(1.0), false)).
				To(Equal(d(5.0)))
			Expect(emu.FPU(insts.FPUNMAdd, d(2.0), d(3.0), d(1.0), false)).
				To(Equal(d(-7.0)))
			Expect(emu.FPU(insts.FPUNMSub, d(2.0), d(3.0), d(1.0), false)).
				To(Equal(d(-5.0)))
		})

		It("should compute sign injection", func() {
			Expect(emu.FPU(insts.FPUSgnJ, d(1.5), d(-2.0), 0, false)).
				To(Equal(d(-1.5)))
			Expect(emu.FPU(insts.FPUSgnJN, d(1.5), d(-2.0), 0, false)).
				To(Equal(d(1.5)))
			Expect(emu.FPU(insts.FPUSgnJX, d(-1.5), d(-2.0), 0, false)).
				To(Equal(d(1.5)))
		})

		It("should compute comparisons", func() {
			Expect(emu.FPU(insts.FPUEq, d(1.0), d(1.0), 0, false)).To(Equal(uint64(1)))
			Expect(emu.FPU(insts.FPULt, d(1.0), d(2.0), 0, false)).To(Equal(uint64(1)))
			Expect(emu.FPU(insts.FPULe, d(2.0), d(1.0), 0, false)).To(Equal(uint64(0)))
			// Comparisons with NaN are false.
			Expect(emu.FPU(insts.FPUEq, d(math.NaN()), d(1.0), 0, false)).
				To(Equal(uint64(0)))
		})

		It("should convert to and from integers", func() {
			Expect(emu.FPU(insts.FPUCvtWF, d(-3.7), 0, 0, false)).
				To(Equal(uint64(0xFFFF_FFFF_FFFF_FFFD)))
			Expect(emu.FPU(insts.FPUCvtLF, d(1e6), 0, 0, false)).
				To(Equal(uint64(1_000_000)))
			Expect(emu.FPU(insts.FPUCvtFW, uint64(uint32(0xFFFFFFFF)), 0, 0, false)).
				To(Equal(d(-1.0)))
			Expect(emu.FPU(insts.FPUCvtFLu, 42, 0, 0, false)).To(Equal(d(42.0)))
		})

		It("should saturate out-of-range conversions", func() {
			Expect(emu.FPU(insts.FPUCvtWF, d(1e12), 0, 0, false)).
				To(Equal(uint64(0x7FFF_FFFF)))
			Expect(emu.FPU(insts.FPUCvtLuF, d(-1.0), 0, 0, false)).
				To(Equal(uint64(0)))
		})

		It("should classify values", func() {
			Expect(emu.FPU(insts.FPUClass, d(math.Inf(-1)), 0, 0, false)).
				To(Equal(uint64(1 << 0)))
			Expect(emu.FPU(insts.FPUClass, d(-1.0), 0, 0, false)).
				To(Equal(uint64(1 << 1)))
			Expect(emu.FPU(insts.FPUClass, d(1.0), 0, 0, false)).
				To(Equal(uint64(1 << 6)))
			Expect(emu.FPU(insts.FPUClass, d(math.Inf(1)), 0, 0, false)).
				To(Equal(uint64(1 << 7)))
			Expect(emu.FPU(insts.FPUClass, d(math.NaN()), 0, 0, false)).
				To(Equal(uint64(1 << 9)))
		})
	})

	Describe("Single precision", func() {
		It("should compute arithmetic with NaN-boxed results", func() {
			Expect(emu.FPU(insts.FPUAdd, s(1.5), s(2.5), 0, true)).To(Equal(s(4.0)))
			Expect(emu.FPU(insts.FPUMul, s(3.0), s(4.0), 0, true)).To(Equal(s(12.0)))
		})

		It("should convert between precisions", func() {
			// fcvt.d.s widens.
			Expect(emu.FPU(insts.FPUCvtDS, s(1.5), 0, 0, false)).To(Equal(d(1.5)))
			// fcvt.s.d narrows and NaN-boxes.
			Expect(emu.FPU(insts.FPUCvtSD, d(1.5), 0, 0, true)).To(Equal(s(1.5)))
		})
	})
})
