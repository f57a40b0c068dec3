package mmu

import (
	"github.com/sarchlab/rvsim/emu"
	"github.com/sarchlab/rvsim/insts"
)

// MemoryPort is what the page-table walker needs from the memory system.
// The bus satisfies it directly.
type MemoryPort interface {
	Read(addr uint64, width int) (uint64, error)
	Write(addr uint64, width int, value uint64) error
	CalculateTransitTime(bytes int) uint64
}

// Result is the outcome of one translation: a physical address and walk
// cycles on success, or a trap.
type Result struct {
	PAddr  uint64
	Cycles uint64
	Trap   *insts.Trap
}

func success(paddr, cycles uint64) Result {
	return Result{PAddr: paddr, Cycles: cycles}
}

func fault(t *insts.Trap, cycles uint64) Result {
	return Result{Trap: t, Cycles: cycles}
}

// Stats counts page-table walker activity.
type Stats struct {
	Walks      uint64
	WalkCycles uint64
	PageFaults uint64
}

// PTE bits.
const (
	pteV = 1 << 0
	pteR = 1 << 1
	pteW = 1 << 2
	pteX = 1 << 3
	pteU = 1 << 4
	pteG = 1 << 5
	pteA = 1 << 6
	pteD = 1 << 7
)

// adWriteCycles is the charge for the walker's A/D read-modify-write.
const adWriteCycles = 10

// MMU performs SV39 translation with split instruction and data TLBs and a
// hardware page-table walker. PTE loads go through the supplied memory port;
// WalkLatency, when set, lets the owner charge the cache hierarchy for each
// PTE access instead of raw bus transit time.
type MMU struct {
	ITLB *TLB
	DTLB *TLB

	// WalkLatency returns the cycles one PTE access at a physical address
	// costs. When nil, bus transit time for 8 bytes is charged.
	WalkLatency func(paddr uint64) uint64

	stats Stats
}

// New creates an MMU with the given per-TLB entry count.
func New(tlbSize int) *MMU {
	return &MMU{ITLB: NewTLB(tlbSize), DTLB: NewTLB(tlbSize)}
}

// Stats returns the walker counters.
func (m *MMU) Stats() Stats {
	return m.stats
}

// FlushTLBs applies SFENCE.VMA semantics to both TLBs.
func (m *MMU) FlushTLBs(va, asid uint64, byVA, byASID bool) {
	m.ITLB.Flush(va, asid, byVA, byASID)
	m.DTLB.Flush(va, asid, byVA, byASID)
}

func (m *MMU) tlbFor(access insts.AccessType) *TLB {
	if access == insts.AccessFetch {
		return m.ITLB
	}
	return m.DTLB
}

// Translate resolves a virtual address. Machine mode and satp Bare bypass
// translation; otherwise the per-access-type TLB is probed and the walker
// fills it on a miss. Permission violations and malformed walks return page
// faults carrying the faulting virtual address.
func (m *MMU) Translate(
	va uint64,
	access insts.AccessType,
	priv uint8,
	csrs *emu.CSRFile,
	mem MemoryPort,
) Result {
	satp := csrs.SATP
	mode := satp >> insts.SATPModeShift & 0xF

	if priv == insts.PrivMachine || mode == insts.SATPModeBare {
		return success(va, 0)
	}
	if mode != insts.SATPModeSV39 {
		return fault(insts.AccessFault(access, va), 0)
	}

	// SV39 requires bits 63:39 to equal bit 38.
	if !canonicalSV39(va) {
		m.stats.PageFaults++
		return fault(insts.PageFault(access, va), 0)
	}

	asid := satp >> insts.SATPASIDShift & insts.SATPASIDMask
	vpn := va >> 12 & 0x7FF_FFFF

	tlb := m.tlbFor(access)
	if e := tlb.Lookup(vpn, asid); e != nil {
		// A store through an entry without its dirty bit refetches the PTE
		// so the walker can set D in memory.
		if access != insts.AccessWrite || e.D {
			if t := checkPermissions(e, access, priv, csrs); t != nil {
				m.stats.PageFaults++
				return fault(insts.PageFault(access, va), 0)
			}
			return success(e.translate(va), 0)
		}
	}

	return m.walk(va, vpn, asid, access, priv, csrs, mem)
}

// translate combines the entry's PPN with the page offset for its size.
func (e *Entry) translate(va uint64) uint64 {
	offsetBits := uint(12) + e.Size.vpnShift()
	offsetMask := uint64(1)<<offsetBits - 1
	return e.PPN<<12&^offsetMask | va&offsetMask
}

// checkPermissions enforces R/W/X, the U bit against the privilege level,
// SUM, and MXR.
func checkPermissions(e *Entry, access insts.AccessType, priv uint8, csrs *emu.CSRFile) *insts.Trap {
	switch access {
	case insts.AccessFetch:
		if !e.X {
			return insts.PageFault(access, 0)
		}
		// Fetching user pages from S mode is never allowed; SUM only
		// covers loads and stores.
		if priv == insts.PrivSupervisor && e.U {
			return insts.PageFault(access, 0)
		}
	case insts.AccessWrite:
		if !e.W {
			return insts.PageFault(access, 0)
		}
	default:
		if !e.R {
			mxr := csrs.MStatus&insts.MStatusMXR != 0
			if !mxr || !e.X {
				return insts.PageFault(access, 0)
			}
		}
	}

	if priv == insts.PrivUser && !e.U {
		return insts.PageFault(access, 0)
	}
	if priv == insts.PrivSupervisor && e.U && access != insts.AccessFetch {
		if csrs.MStatus&insts.MStatusSUM == 0 {
			return insts.PageFault(access, 0)
		}
	}
	return nil
}

// walk performs the three-level SV39 page-table walk, updating A/D bits and
// installing the resolved translation in the TLB.
func (m *MMU) walk(
	va, vpn, asid uint64,
	access insts.AccessType,
	priv uint8,
	csrs *emu.CSRFile,
	mem MemoryPort,
) Result {
	m.stats.Walks++

	rootPPN := csrs.SATP & insts.SATPPPNMask
	ptAddr := rootPPN << 12
	var cycles uint64

	charge := func(paddr uint64) {
		if m.WalkLatency != nil {
			cycles += m.WalkLatency(paddr)
		} else {
			cycles += mem.CalculateTransitTime(8)
		}
	}

	for level := 2; level >= 0; level-- {
		vpnI := va >> (12 + 9*level) & 0x1FF
		pteAddr := ptAddr + vpnI*8

		charge(pteAddr)
		pte, err := mem.Read(pteAddr, 8)
		if err != nil {
			m.stats.PageFaults++
			m.stats.WalkCycles += cycles
			return fault(insts.PageFault(access, va), cycles)
		}

		if pte&pteV == 0 {
			m.stats.PageFaults++
			m.stats.WalkCycles += cycles
			return fault(insts.PageFault(access, va), cycles)
		}

		r := pte&pteR != 0
		w := pte&pteW != 0
		x := pte&pteX != 0

		if !r && !w && !x {
			// Pointer to the next level.
			if level == 0 {
				break
			}
			ptAddr = (pte >> 10 & insts.SATPPPNMask) << 12
			continue
		}

		// Leaf. Writable-but-not-readable encodings are reserved.
		if w && !r {
			m.stats.PageFaults++
			m.stats.WalkCycles += cycles
			return fault(insts.PageFault(access, va), cycles)
		}

		ptePPN := pte >> 10 & insts.SATPPPNMask

		// Superpage alignment: the leaf's low PPN bits must be clear.
		if level > 0 && ptePPN&(1<<(9*level)-1) != 0 {
			m.stats.PageFaults++
			m.stats.WalkCycles += cycles
			return fault(insts.PageFault(access, va), cycles)
		}

		entry := Entry{
			VPN:  vpn,
			ASID: asid,
			PPN:  ptePPN,
			R:    r, W: w, X: x,
			U:    pte&pteU != 0,
			G:    pte&pteG != 0,
			Size: PageSize(level),
		}

		if t := checkPermissions(&entry, access, priv, csrs); t != nil {
			m.stats.PageFaults++
			m.stats.WalkCycles += cycles
			return fault(insts.PageFault(access, va), cycles)
		}

		// A on any access, D on a store; write the PTE back when changed.
		newPTE := pte | pteA
		if access == insts.AccessWrite {
			newPTE |= pteD
		}
		if newPTE != pte {
			if err := mem.Write(pteAddr, 8, newPTE); err != nil {
				m.stats.PageFaults++
				m.stats.WalkCycles += cycles
				return fault(insts.PageFault(access, va), cycles)
			}
			cycles += adWriteCycles
		}
		entry.A = true
		entry.D = newPTE&pteD != 0

		m.tlbFor(access).Insert(entry)
		m.stats.WalkCycles += cycles
		return success(entry.translate(va), cycles)
	}

	m.stats.PageFaults++
	m.stats.WalkCycles += cycles
	return fault(insts.PageFault(access, va), cycles)
}

// canonicalSV39 checks that bits 63:39 are the sign extension of bit 38.
func canonicalSV39(va uint64) bool {
	top := int64(va) >> 38
	return top == 0 || top == -1
}
