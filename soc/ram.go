package soc

import "fmt"

// RAM is the main memory device: a flat little-endian byte store.
type RAM struct {
	base uint64
	data []byte
}

// NewRAM creates size bytes of RAM at the given physical base.
func NewRAM(base, size uint64) *RAM {
	return &RAM{base: base, data: make([]byte, size)}
}

// Name implements Device.
func (r *RAM) Name() string { return "RAM" }

// AddressRange implements Device.
func (r *RAM) AddressRange() (uint64, uint64) {
	return r.base, uint64(len(r.data))
}

// Read implements Device.
func (r *RAM) Read(offset uint64, width int) (uint64, error) {
	var val uint64
	for i := 0; i < width; i++ {
		val |= uint64(r.data[offset+uint64(i)]) << (8 * i)
	}
	return val, nil
}

// Write implements Device.
func (r *RAM) Write(offset uint64, width int, value uint64) error {
	for i := 0; i < width; i++ {
		r.data[offset+uint64(i)] = byte(value >> (8 * i))
	}
	return nil
}

// Tick implements Device; RAM raises no interrupts.
func (r *RAM) Tick() IRQLine { return IRQLine{} }

// LoadBytes copies data into RAM starting at offset.
func (r *RAM) LoadBytes(offset uint64, data []byte) error {
	if offset+uint64(len(data)) > uint64(len(r.data)) {
		return fmt.Errorf("ram: load of %d bytes at offset %#x exceeds size %#x",
			len(data), offset, len(r.data))
	}
	copy(r.data[offset:], data)
	return nil
}

// Bytes exposes the backing store for the virtio queue walker.
func (r *RAM) Bytes() []byte { return r.data }
