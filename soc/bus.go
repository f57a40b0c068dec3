package soc

import (
	"fmt"
	"sort"
)

// ErrUnmapped reports a bus access that fell in no device's range. The
// pipeline lifts it into an access-fault trap with the address in stval.
type ErrUnmapped struct {
	Addr  uint64
	Write bool
}

func (e *ErrUnmapped) Error() string {
	kind := "read"
	if e.Write {
		kind = "write"
	}
	return fmt.Sprintf("bus: %s fault at %#x", kind, e.Addr)
}

// Bus is the address-decoded interconnect. Devices are kept sorted by base
// address for binary-search dispatch; Tick fans out to every device in
// registration order, except that the PLIC is ticked after all others, and
// aggregates the interrupt lines.
type Bus struct {
	// sorted by base address, for dispatch.
	devices []Device
	// registration order, for Tick.
	tickOrder []Device

	plic *PLIC

	widthBytes    uint64
	latencyCycles uint64

	// Verbose controls device-registration logging.
	Verbose bool
}

// NewBus creates a bus with the given width and per-transaction latency.
func NewBus(widthBytes, latencyCycles uint64) *Bus {
	return &Bus{widthBytes: widthBytes, latencyCycles: latencyCycles}
}

// AddDevice registers a device. Overlapping address ranges are a
// construction-time error.
func (b *Bus) AddDevice(dev Device) error {
	base, size := dev.AddressRange()
	for _, other := range b.devices {
		oBase, oSize := other.AddressRange()
		if base < oBase+oSize && oBase < base+size {
			return fmt.Errorf("bus: device %s [%#x, %#x) overlaps %s [%#x, %#x)",
				dev.Name(), base, base+size, other.Name(), oBase, oBase+oSize)
		}
	}

	if b.Verbose {
		fmt.Printf("[Bus] Registered device: %-12s @ %#010x - %#010x (%d bytes)\n",
			dev.Name(), base, base+size, size)
	}

	b.devices = append(b.devices, dev)
	b.tickOrder = append(b.tickOrder, dev)
	sort.Slice(b.devices, func(i, j int) bool {
		bi, _ := b.devices[i].AddressRange()
		bj, _ := b.devices[j].AddressRange()
		return bi < bj
	})

	if plic, ok := dev.(*PLIC); ok {
		b.plic = plic
	}
	return nil
}

// find locates the device owning addr by binary search.
func (b *Bus) find(addr uint64) (Device, uint64, bool) {
	// First device whose base is strictly greater than addr.
	i := sort.Search(len(b.devices), func(i int) bool {
		base, _ := b.devices[i].AddressRange()
		return base > addr
	})
	if i == 0 {
		return nil, 0, false
	}
	dev := b.devices[i-1]
	base, size := dev.AddressRange()
	if addr >= base+size {
		return nil, 0, false
	}
	return dev, addr - base, true
}

// IsValidAddress reports whether addr falls inside some device's range.
func (b *Bus) IsValidAddress(addr uint64) bool {
	_, _, ok := b.find(addr)
	return ok
}

// CalculateTransitTime returns the cycles a transfer of the given size
// occupies on the bus.
func (b *Bus) CalculateTransitTime(bytes int) uint64 {
	transfers := (uint64(bytes) + b.widthBytes - 1) / b.widthBytes
	return b.latencyCycles + transfers
}

// Read dispatches a read to the owning device.
func (b *Bus) Read(addr uint64, width int) (uint64, error) {
	dev, offset, ok := b.find(addr)
	if !ok {
		return 0, &ErrUnmapped{Addr: addr}
	}
	// An access that straddles the device's upper bound faults rather than
	// silently touching a neighbor.
	_, size := dev.AddressRange()
	if offset+uint64(width) > size {
		return 0, &ErrUnmapped{Addr: addr}
	}
	return dev.Read(offset, width)
}

// Write dispatches a write to the owning device.
func (b *Bus) Write(addr uint64, width int, value uint64) error {
	dev, offset, ok := b.find(addr)
	if !ok {
		return &ErrUnmapped{Addr: addr, Write: true}
	}
	_, size := dev.AddressRange()
	if offset+uint64(width) > size {
		return &ErrUnmapped{Addr: addr, Write: true}
	}
	return dev.Write(offset, width, value)
}

// LoadBinaryAt copies raw bytes into the device at addr (typically RAM).
func (b *Bus) LoadBinaryAt(data []byte, addr uint64) error {
	if dev, offset, ok := b.find(addr); ok {
		if ram, isRAM := dev.(*RAM); isRAM {
			return ram.LoadBytes(offset, data)
		}
	}
	for i, v := range data {
		if err := b.Write(addr+uint64(i), 1, uint64(v)); err != nil {
			return err
		}
	}
	return nil
}

// Tick advances every device one cycle and aggregates the interrupt lines:
// the CLINT's timer and software lines come back directly, external sources
// feed the PLIC's pending bits, and the PLIC's own tick decides whether the
// external interrupt is asserted to the hart.
func (b *Bus) Tick() (timer, software, external bool) {
	for _, dev := range b.tickOrder {
		if dev == Device(b.plic) {
			continue
		}
		line := dev.Tick()
		if line.Timer {
			timer = true
		}
		if line.Software {
			software = true
		}
		if line.External {
			if src, ok := dev.(irqSource); ok && b.plic != nil {
				b.plic.SetIRQ(src.IRQID(), true)
			}
		} else if src, ok := dev.(irqSource); ok && b.plic != nil {
			b.plic.SetIRQ(src.IRQID(), false)
		}
	}
	if b.plic != nil {
		external = b.plic.Tick().External
	}
	return timer, software, external
}
