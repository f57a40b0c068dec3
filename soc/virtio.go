package soc

import (
	"fmt"
	"io"
)

// VirtIO block IRQ source number on the PLIC.
const VirtIOIRQ = 1

const virtioSize = 0x1000

// Legacy virtio-mmio register offsets.
const (
	virtioMagic           = 0x000
	virtioVersion         = 0x004
	virtioDeviceID        = 0x008
	virtioVendorID        = 0x00C
	virtioHostFeatures    = 0x010
	virtioHostFeaturesSel = 0x014
	virtioGuestFeatures   = 0x020
	virtioGuestFeatSel    = 0x024
	virtioGuestPageSize   = 0x028
	virtioQueueSel        = 0x030
	virtioQueueNumMax     = 0x034
	virtioQueueNum        = 0x038
	virtioQueueAlign      = 0x03C
	virtioQueuePFN        = 0x040
	virtioQueueNotify     = 0x050
	virtioInterruptStatus = 0x060
	virtioInterruptAck    = 0x064
	virtioStatus          = 0x070
	virtioConfig          = 0x100
)

const (
	virtioMagicValue  = 0x74726976 // "virt"
	virtioVendorValue = 0x554D4551 // "QEMU"
	virtioBlockDevice = 2
)

// Virtqueue descriptor flags.
const (
	vringDescNext  = 1
	vringDescWrite = 2
)

// Block request types and status codes.
const (
	virtioBlkTIn  = 0 // read from disk
	virtioBlkTOut = 1 // write to disk

	virtioBlkSOK     = 0
	virtioBlkSIOErr  = 1
	virtioBlkSUnsupp = 2
)

// SectorSize is the block device's fixed sector granularity.
const SectorSize = 512

// PhysMemory is the guest-physical access surface the queue walker uses.
// The bus implements it.
type PhysMemory interface {
	Read(addr uint64, width int) (uint64, error)
	Write(addr uint64, width int, value uint64) error
}

// DiskBackend is the host storage behind the device. os.File satisfies it;
// tests use an in-memory implementation.
type DiskBackend interface {
	io.ReaderAt
	io.WriterAt
	// Size returns the image size in bytes.
	Size() int64
}

// VirtIOBlock is a legacy (MMIO version 1) virtio block device with a
// single virtqueue. On queue notify it walks the descriptor chains the
// driver published, performs 512-byte-sector I/O against the host-backed
// image, writes the status byte, bumps used.idx, and asserts its IRQ. Host
// I/O errors surface to the guest as an IOERR status; the simulation
// continues.
type VirtIOBlock struct {
	base     uint64
	queueMax uint32

	mem  PhysMemory
	disk DiskBackend

	guestFeatures uint32
	guestPageSize uint32
	queueSel      uint32
	queueNum      uint32
	queueAlign    uint32
	queuePFN      uint32
	status        uint32
	intStatus     uint32

	lastAvail uint16
}

// NewVirtIOBlock creates the device at base with the given maximum queue
// depth. AttachMemory must be called before the driver notifies the queue.
func NewVirtIOBlock(base uint64, queueMax int, disk DiskBackend) *VirtIOBlock {
	if queueMax <= 0 {
		queueMax = 8
	}
	return &VirtIOBlock{
		base:          base,
		queueMax:      uint32(queueMax),
		disk:          disk,
		guestPageSize: 4096,
		queueAlign:    4096,
	}
}

// AttachMemory wires the guest-physical access surface.
func (v *VirtIOBlock) AttachMemory(mem PhysMemory) {
	v.mem = mem
}

// Name implements Device.
func (v *VirtIOBlock) Name() string { return "virtio-blk" }

// AddressRange implements Device.
func (v *VirtIOBlock) AddressRange() (uint64, uint64) {
	return v.base, virtioSize
}

// IRQID implements the PLIC source hookup.
func (v *VirtIOBlock) IRQID() int { return VirtIOIRQ }

// capacity returns the disk size in sectors.
func (v *VirtIOBlock) capacity() uint64 {
	if v.disk == nil {
		return 0
	}
	return uint64(v.disk.Size()) / SectorSize
}

// Read implements Device.
func (v *VirtIOBlock) Read(offset uint64, width int) (uint64, error) {
	if offset >= virtioConfig {
		// Config space: capacity in sectors, little-endian u64 at 0x100.
		shift := (offset - virtioConfig) * 8
		if shift >= 64 {
			return 0, nil
		}
		return (v.capacity() >> shift) & widthMask(width), nil
	}

	var val uint32
	switch offset {
	case virtioMagic:
		val = virtioMagicValue
	case virtioVersion:
		val = 1
	case virtioDeviceID:
		val = virtioBlockDevice
	case virtioVendorID:
		val = virtioVendorValue
	case virtioHostFeatures:
		val = 0
	case virtioQueueNumMax:
		val = v.queueMax
	case virtioQueuePFN:
		val = v.queuePFN
	case virtioInterruptStatus:
		val = v.intStatus
	case virtioStatus:
		val = v.status
	}
	return uint64(val) & widthMask(width), nil
}

// Write implements Device.
func (v *VirtIOBlock) Write(offset uint64, width int, value uint64) error {
	val := uint32(value)
	switch offset {
	case virtioGuestFeatures:
		v.guestFeatures = val
	case virtioGuestPageSize:
		if val != 0 {
			v.guestPageSize = val
		}
	case virtioQueueSel:
		v.queueSel = val
	case virtioQueueNum:
		if val > v.queueMax {
			val = v.queueMax
		}
		v.queueNum = val
	case virtioQueueAlign:
		if val != 0 {
			v.queueAlign = val
		}
	case virtioQueuePFN:
		v.queuePFN = val
	case virtioQueueNotify:
		v.processQueue()
	case virtioInterruptAck:
		v.intStatus &^= val
	case virtioStatus:
		v.status = val
		if val == 0 {
			v.lastAvail = 0
		}
	}
	return nil
}

// Tick implements Device: the external line follows the interrupt status.
func (v *VirtIOBlock) Tick() IRQLine {
	return IRQLine{External: v.intStatus != 0}
}

// Virtqueue layout (legacy): the descriptor table, available ring, and used
// ring live contiguously in one guest page span starting at pfn*pageSize,
// with the used ring aligned to queueAlign.

func (v *VirtIOBlock) queueBase() uint64 {
	return uint64(v.queuePFN) * uint64(v.guestPageSize)
}

func (v *VirtIOBlock) descAddr(i uint16) uint64 {
	return v.queueBase() + uint64(i)*16
}

func (v *VirtIOBlock) availAddr() uint64 {
	return v.queueBase() + uint64(v.queueNum)*16
}

func (v *VirtIOBlock) usedAddr() uint64 {
	avail := uint64(4 + 2*v.queueNum) // flags, idx, ring, used_event
	unaligned := v.availAddr() + avail + 2
	align := uint64(v.queueAlign)
	return (unaligned + align - 1) &^ (align - 1)
}

func (v *VirtIOBlock) read16(addr uint64) uint16 {
	val, _ := v.mem.Read(addr, 2)
	return uint16(val)
}

// descriptor is one virtqueue descriptor table entry.
type descriptor struct {
	addr  uint64
	len   uint32
	flags uint16
	next  uint16
}

func (v *VirtIOBlock) readDesc(i uint16) descriptor {
	base := v.descAddr(i)
	addr, _ := v.mem.Read(base, 8)
	length, _ := v.mem.Read(base+8, 4)
	flags, _ := v.mem.Read(base+12, 2)
	next, _ := v.mem.Read(base+14, 2)
	return descriptor{
		addr:  addr,
		len:   uint32(length),
		flags: uint16(flags),
		next:  uint16(next),
	}
}

// processQueue drains the available ring.
func (v *VirtIOBlock) processQueue() {
	if v.mem == nil || v.queuePFN == 0 || v.queueNum == 0 {
		return
	}

	availIdx := v.read16(v.availAddr() + 2)
	for v.lastAvail != availIdx {
		ringSlot := uint64(v.lastAvail) % uint64(v.queueNum)
		head := v.read16(v.availAddr() + 4 + 2*ringSlot)

		written := v.handleChain(head)

		// Publish the completion in the used ring.
		usedIdx := v.read16(v.usedAddr() + 2)
		slot := v.usedAddr() + 4 + 8*(uint64(usedIdx)%uint64(v.queueNum))
		_ = v.mem.Write(slot, 4, uint64(head))
		_ = v.mem.Write(slot+4, 4, uint64(written))
		_ = v.mem.Write(v.usedAddr()+2, 2, uint64(usedIdx+1))

		v.lastAvail++
	}

	v.intStatus |= 1
}

// handleChain walks one descriptor chain, performs the block operation, and
// writes the status byte. It returns the number of bytes written to
// device-writable buffers for the used ring's len field.
func (v *VirtIOBlock) handleChain(head uint16) uint32 {
	// Header descriptor: type, reserved, sector.
	hdr := v.readDesc(head)
	reqType, _ := v.mem.Read(hdr.addr, 4)
	sector, _ := v.mem.Read(hdr.addr+8, 8)

	var dataDescs []descriptor
	idx := hdr
	for idx.flags&vringDescNext != 0 {
		idx = v.readDesc(idx.next)
		dataDescs = append(dataDescs, idx)
	}
	if len(dataDescs) == 0 {
		return 0
	}

	// The final descriptor carries the one-byte status.
	statusDesc := dataDescs[len(dataDescs)-1]
	dataDescs = dataDescs[:len(dataDescs)-1]

	status := uint64(virtioBlkSOK)
	var written uint32

	switch uint32(reqType) {
	case virtioBlkTIn, virtioBlkTOut:
		offset := int64(sector) * SectorSize
		for _, d := range dataDescs {
			n, err := v.transfer(d, offset, uint32(reqType) == virtioBlkTIn)
			if err != nil {
				status = virtioBlkSIOErr
				break
			}
			if uint32(reqType) == virtioBlkTIn {
				written += uint32(n)
			}
			offset += int64(n)
		}
	default:
		status = virtioBlkSUnsupp
	}

	_ = v.mem.Write(statusDesc.addr, 1, status)
	written++
	return written
}

// transfer moves one descriptor's worth of data between the disk image and
// guest memory.
func (v *VirtIOBlock) transfer(d descriptor, diskOffset int64, toGuest bool) (int, error) {
	if v.disk == nil {
		return 0, fmt.Errorf("virtio: no disk image attached")
	}

	buf := make([]byte, d.len)
	if toGuest {
		if _, err := v.disk.ReadAt(buf, diskOffset); err != nil {
			return 0, err
		}
		for i, b := range buf {
			if err := v.mem.Write(d.addr+uint64(i), 1, uint64(b)); err != nil {
				return 0, err
			}
		}
		return len(buf), nil
	}

	for i := range buf {
		val, err := v.mem.Read(d.addr+uint64(i), 1)
		if err != nil {
			return 0, err
		}
		buf[i] = byte(val)
	}
	if _, err := v.disk.WriteAt(buf, diskOffset); err != nil {
		return 0, err
	}
	return len(buf), nil
}

// MemDisk is an in-memory DiskBackend used by tests and for throwaway
// images.
type MemDisk struct {
	data []byte
}

// NewMemDisk wraps a byte slice as a disk image.
func NewMemDisk(data []byte) *MemDisk {
	return &MemDisk{data: data}
}

// ReadAt implements io.ReaderAt.
func (d *MemDisk) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(d.data)) {
		return 0, io.EOF
	}
	n := copy(p, d.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt implements io.WriterAt.
func (d *MemDisk) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(len(d.data)) {
		return 0, io.ErrShortWrite
	}
	return copy(d.data[off:], p), nil
}

// Size implements DiskBackend.
func (d *MemDisk) Size() int64 {
	return int64(len(d.data))
}

// Bytes exposes the image contents.
func (d *MemDisk) Bytes() []byte { return d.data }
