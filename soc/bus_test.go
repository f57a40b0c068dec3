package soc_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/rvsim/soc"
)

var _ = Describe("Bus", func() {
	var bus *soc.Bus

	BeforeEach(func() {
		bus = soc.NewBus(8, 2)
	})

	It("should dispatch reads and writes to the owning device", func() {
		ram := soc.NewRAM(0x8000_0000, 0x1000)
		Expect(bus.AddDevice(ram)).To(Succeed())

		Expect(bus.Write(0x8000_0010, 8, 0xDEADBEEF_CAFEF00D)).To(Succeed())
		val, err := bus.Read(0x8000_0010, 8)
		Expect(err).NotTo(HaveOccurred())
		Expect(val).To(Equal(uint64(0xDEADBEEF_CAFEF00D)))

		// Partial-width read of the same bytes.
		val, err = bus.Read(0x8000_0014, 4)
		Expect(err).NotTo(HaveOccurred())
		Expect(val).To(Equal(uint64(0xDEADBEEF)))
	})

	It("should fault on unmapped addresses with the address preserved", func() {
		ram := soc.NewRAM(0x8000_0000, 0x1000)
		Expect(bus.AddDevice(ram)).To(Succeed())

		_, err := bus.Read(0xDEAD_BEEF_0000_0000, 8)
		Expect(err).To(HaveOccurred())
		unmapped, ok := err.(*soc.ErrUnmapped)
		Expect(ok).To(BeTrue())
		Expect(unmapped.Addr).To(Equal(uint64(0xDEAD_BEEF_0000_0000)))

		err = bus.Write(0x10, 4, 1)
		Expect(err).To(HaveOccurred())
	})

	It("should fault on accesses crossing a device's upper bound", func() {
		ram := soc.NewRAM(0x8000_0000, 0x1000)
		Expect(bus.AddDevice(ram)).To(Succeed())

		_, err := bus.Read(0x8000_0FFC, 8)
		Expect(err).To(HaveOccurred())
	})

	It("should reject overlapping device ranges at construction", func() {
		Expect(bus.AddDevice(soc.NewRAM(0x1000, 0x1000))).To(Succeed())
		err := bus.AddDevice(soc.NewRAM(0x1800, 0x1000))
		Expect(err).To(HaveOccurred())
	})

	It("should locate devices among many by binary search", func() {
		Expect(bus.AddDevice(soc.NewRAM(0x8000_0000, 0x1000))).To(Succeed())
		Expect(bus.AddDevice(soc.NewSyscon(0x10_0000))).To(Succeed())
		Expect(bus.AddDevice(soc.NewCLINT(0x200_0000, 1))).To(Succeed())

		Expect(bus.IsValidAddress(0x10_0000)).To(BeTrue())
		Expect(bus.IsValidAddress(0x200_BFF8)).To(BeTrue())
		Expect(bus.IsValidAddress(0x8000_0FFF)).To(BeTrue())
		Expect(bus.IsValidAddress(0x8000_1000)).To(BeFalse())
		Expect(bus.IsValidAddress(0x0)).To(BeFalse())
	})

	It("should compute transit time from width and latency", func() {
		// 8-byte width, 2-cycle latency: 64 bytes = 8 transfers + 2.
		Expect(bus.CalculateTransitTime(64)).To(Equal(uint64(10)))
		Expect(bus.CalculateTransitTime(1)).To(Equal(uint64(3)))
	})

	It("should load binaries into RAM", func() {
		ram := soc.NewRAM(0x8000_0000, 0x1000)
		Expect(bus.AddDevice(ram)).To(Succeed())

		Expect(bus.LoadBinaryAt([]byte{1, 2, 3, 4}, 0x8000_0100)).To(Succeed())
		val, err := bus.Read(0x8000_0100, 4)
		Expect(err).NotTo(HaveOccurred())
		Expect(val).To(Equal(uint64(0x04030201)))
	})
})

var _ = Describe("DRAM controller", func() {
	It("should charge tCAS on row hits", func() {
		dram := soc.NewDRAMController(14, 38, 14)

		// First access opens the row: tRAS + tCAS.
		Expect(dram.AccessLatency(0x1000)).To(Equal(uint64(38 + 14)))

		// Same 2K row: tCAS only.
		Expect(dram.AccessLatency(0x1100)).To(Equal(uint64(14)))
		Expect(dram.AccessLatency(0x17F8)).To(Equal(uint64(14)))

		// Different row: precharge + activate + access.
		Expect(dram.AccessLatency(0x3000)).To(Equal(uint64(14 + 38 + 14)))

		stats := dram.Stats()
		Expect(stats.RowEmpty).To(Equal(uint64(1)))
		Expect(stats.RowHits).To(Equal(uint64(2)))
		Expect(stats.RowConflicts).To(Equal(uint64(1)))
	})

	It("should charge a fixed latency in the simple controller", func() {
		ctrl := soc.NewSimpleController(100)
		Expect(ctrl.AccessLatency(0)).To(Equal(uint64(100)))
		Expect(ctrl.AccessLatency(0xFFFF_FFFF)).To(Equal(uint64(100)))
	})
})
