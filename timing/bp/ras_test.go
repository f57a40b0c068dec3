package bp_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/rvsim/timing/bp"
)

var _ = Describe("RAS", func() {
	It("should behave as a stack", func() {
		ras := bp.NewRAS(4)

		ras.Push(0x100)
		ras.Push(0x200)
		Expect(ras.Depth()).To(Equal(2))

		top, ok := ras.Top()
		Expect(ok).To(BeTrue())
		Expect(top).To(Equal(uint64(0x200)))

		val, ok := ras.Pop()
		Expect(ok).To(BeTrue())
		Expect(val).To(Equal(uint64(0x200)))

		val, _ = ras.Pop()
		Expect(val).To(Equal(uint64(0x100)))

		_, ok = ras.Pop()
		Expect(ok).To(BeFalse())
	})

	It("should discard the oldest entry on overflow", func() {
		ras := bp.NewRAS(2)
		ras.Push(0x100)
		ras.Push(0x200)
		ras.Push(0x300) // overflows; discards 0x100

		val, _ := ras.Pop()
		Expect(val).To(Equal(uint64(0x300)))
		val, _ = ras.Pop()
		Expect(val).To(Equal(uint64(0x200)))
	})
})

var _ = Describe("BTB", func() {
	It("should miss on aliased PCs thanks to full tags", func() {
		btb := bp.NewBTB(16)
		btb.Update(0x1000, 0x2000)

		// Same index (16 entries, pc>>1 & 15), different PC.
		_, ok := btb.Lookup(0x1000 + 16*2)
		Expect(ok).To(BeFalse())

		target, ok := btb.Lookup(0x1000)
		Expect(ok).To(BeTrue())
		Expect(target).To(Equal(uint64(0x2000)))
	})
})
