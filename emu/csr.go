package emu

import (
	"github.com/sarchlab/rvsim/insts"
)

// defaultMISA reports RV64IMAFDC with S and U modes.
func defaultMISA() uint64 {
	var val uint64 = 2 << 62 // MXL=2 (XLEN 64)
	val |= 1 << 0            // A
	val |= 1 << 2            // C
	val |= 1 << 3            // D
	val |= 1 << 5            // F
	val |= 1 << 8            // I
	val |= 1 << 12           // M
	val |= 1 << 18           // S
	val |= 1 << 20           // U
	return val
}

// sstatusMask is the set of mstatus bits visible through sstatus.
const sstatusMask = insts.MStatusSIE | insts.MStatusSPIE | insts.MStatusSPP |
	insts.MStatusFS | insts.MStatusSUM | insts.MStatusMXR

// CSRFile is the control-and-status register bank plus the current privilege
// level. Counter CSRs are served from the callbacks so cycle/instret always
// reflect the live statistics.
type CSRFile struct {
	MStatus  uint64
	SStatus  uint64
	MEPC     uint64
	SEPC     uint64
	MTVec    uint64
	STVec    uint64
	SCause   uint64
	SScratch uint64
	SATP     uint64
	MScratch uint64
	MCause   uint64
	MTVal    uint64
	STVal    uint64
	MISA     uint64
	MEDeleg  uint64
	MIDeleg  uint64
	MIP      uint64
	MIE      uint64
	FCSR     uint64

	// Priv is the current privilege level (0=U, 1=S, 3=M).
	Priv uint8

	// CycleFn and InstRetFn back the cycle/time/instret counter CSRs.
	CycleFn   func() uint64
	InstRetFn func() uint64

	// PanicFn is invoked on a write to the sim-panic debug CSR; the pipeline
	// installs a handler that raises a requested trap.
	PanicFn func(val uint64)

	// TrapsTaken counts delivered traps for the statistics bundle.
	TrapsTaken uint64
}

// NewCSRFile returns a CSR bank in the machine-mode reset state.
func NewCSRFile() *CSRFile {
	return &CSRFile{
		MStatus: 0xa_0000_0000, // SXL=2, UXL=2
		MISA:    defaultMISA(),
		Priv:    insts.PrivMachine,
	}
}

func (c *CSRFile) counter(fn func() uint64) uint64 {
	if fn == nil {
		return 0
	}
	return fn()
}

// Read returns the value of a CSR. Unimplemented CSRs read as zero.
func (c *CSRFile) Read(addr uint32) uint64 {
	switch addr {
	case insts.CSRMVendorID, insts.CSRMArchID, insts.CSRMImpID, insts.CSRMHartID:
		return 0
	case insts.CSRMStatus:
		return c.MStatus
	case insts.CSRMEDeleg:
		return c.MEDeleg
	case insts.CSRMIDeleg:
		return c.MIDeleg
	case insts.CSRMIE:
		return c.MIE
	case insts.CSRMTVec:
		return c.MTVec
	case insts.CSRMISA:
		return c.MISA
	case insts.CSRMScratch:
		return c.MScratch
	case insts.CSRMEPC:
		return c.MEPC
	case insts.CSRMCause:
		return c.MCause
	case insts.CSRMTVal:
		return c.MTVal
	case insts.CSRMIP:
		return c.MIP
	case insts.CSRSStatus:
		return c.MStatus & sstatusMask
	case insts.CSRSIE:
		return c.MIE & c.MIDeleg
	case insts.CSRSTVec:
		return c.STVec
	case insts.CSRSScratch:
		return c.SScratch
	case insts.CSRSEPC:
		return c.SEPC
	case insts.CSRSCause:
		return c.SCause
	case insts.CSRSTVal:
		return c.STVal
	case insts.CSRSIP:
		return c.MIP & c.MIDeleg
	case insts.CSRSATP:
		return c.SATP
	case insts.CSRFFlags:
		return c.FCSR & 0x1F
	case insts.CSRFRM:
		return (c.FCSR >> 5) & 0x7
	case insts.CSRFCSR:
		return c.FCSR & 0xFF
	case insts.CSRCycle, insts.CSRMCycle, insts.CSRTime:
		return c.counter(c.CycleFn)
	case insts.CSRInstRet, insts.CSRMInstRet:
		return c.counter(c.InstRetFn)
	}
	return 0
}

// Write sets a CSR, applying the per-register write masks.
func (c *CSRFile) Write(addr uint32, val uint64) {
	switch addr {
	case insts.CSRSimPanic:
		if c.PanicFn != nil {
			c.PanicFn(val)
		}
	case insts.CSRMStatus:
		c.MStatus = val
		c.SStatus = val & sstatusMask
	case insts.CSRMEDeleg:
		c.MEDeleg = val
	case insts.CSRMIDeleg:
		c.MIDeleg = val
	case insts.CSRMIE:
		c.MIE = val
	case insts.CSRMTVec:
		c.MTVec = val
	case insts.CSRMISA:
		c.MISA = val
	case insts.CSRMScratch:
		c.MScratch = val
	case insts.CSRMEPC:
		c.MEPC = val &^ 1
	case insts.CSRMCause:
		c.MCause = val
	case insts.CSRMTVal:
		c.MTVal = val
	case insts.CSRMIP:
		mask := insts.MIPSSIP | insts.MIPSTIP | insts.MIPSEIP
		c.MIP = (c.MIP &^ mask) | (val & mask)
	case insts.CSRSStatus:
		c.MStatus = (c.MStatus &^ sstatusMask) | (val & sstatusMask)
		c.SStatus = c.MStatus & sstatusMask
	case insts.CSRSIE:
		mask := c.MIDeleg
		c.MIE = (c.MIE &^ mask) | (val & mask)
	case insts.CSRSTVec:
		c.STVec = val
	case insts.CSRSScratch:
		c.SScratch = val
	case insts.CSRSEPC:
		c.SEPC = val &^ 1
	case insts.CSRSCause:
		c.SCause = val
	case insts.CSRSTVal:
		c.STVal = val
	case insts.CSRSIP:
		mask := c.MIDeleg & insts.MIPSSIP
		c.MIP = (c.MIP &^ mask) | (val & mask)
	case insts.CSRSATP:
		c.SATP = val
	case insts.CSRFFlags:
		c.FCSR = (c.FCSR &^ 0x1F) | (val & 0x1F)
	case insts.CSRFRM:
		c.FCSR = (c.FCSR &^ 0xE0) | ((val & 0x7) << 5)
	case insts.CSRFCSR:
		c.FCSR = val & 0xFF
	}
}

// Trap delivers a trap: cause, epc, and tval are saved in the target mode's
// CSRs, the status stack is pushed, the privilege switches, and the trap
// vector PC is returned. Synchronous traps delegate to S-mode via medeleg
// (interrupts via mideleg) when taken from S or U mode.
func (c *CSRFile) Trap(t *insts.Trap, epc uint64) uint64 {
	c.TrapsTaken++

	delegMask := c.MEDeleg
	if t.Interrupt {
		delegMask = c.MIDeleg
	}
	delegateToS := c.Priv <= insts.PrivSupervisor && (delegMask>>t.Cause)&1 != 0

	cause := t.Cause
	if t.Interrupt {
		cause |= 1 << 63
	}

	if delegateToS {
		c.SCause = cause
		c.SEPC = epc
		c.STVal = t.Value

		status := c.MStatus
		if status&insts.MStatusSIE != 0 {
			status |= insts.MStatusSPIE
		} else {
			status &^= insts.MStatusSPIE
		}
		if c.Priv == insts.PrivSupervisor {
			status |= insts.MStatusSPP
		} else {
			status &^= insts.MStatusSPP
		}
		status &^= insts.MStatusSIE
		c.MStatus = status
		c.SStatus = status & sstatusMask

		c.Priv = insts.PrivSupervisor
		return vectorPC(c.STVec, t)
	}

	c.MCause = cause
	c.MEPC = epc
	c.MTVal = t.Value

	status := c.MStatus
	if status&insts.MStatusMIE != 0 {
		status |= insts.MStatusMPIE
	} else {
		status &^= insts.MStatusMPIE
	}
	status &^= insts.MStatusMPP
	status |= uint64(c.Priv) << 11
	status &^= insts.MStatusMIE
	c.MStatus = status
	c.SStatus = status & sstatusMask

	c.Priv = insts.PrivMachine
	return vectorPC(c.MTVec, t)
}

// vectorPC applies vectored dispatch for interrupts when xtvec mode is 1.
func vectorPC(tvec uint64, t *insts.Trap) uint64 {
	base := tvec &^ 3
	if tvec&1 != 0 && t.Interrupt {
		return base + 4*t.Cause
	}
	return base
}

// MRET restores state from a machine-mode trap and returns the resume PC.
func (c *CSRFile) MRET() uint64 {
	pc := c.MEPC &^ 1
	status := c.MStatus
	mpp := uint8((status >> 11) & 3)
	mpie := status&insts.MStatusMPIE != 0

	c.Priv = mpp
	if mpie {
		status |= insts.MStatusMIE
	} else {
		status &^= insts.MStatusMIE
	}
	status |= insts.MStatusMPIE
	status &^= insts.MStatusMPP
	c.MStatus = status
	c.SStatus = status & sstatusMask
	return pc
}

// SRET restores state from a supervisor-mode trap and returns the resume PC.
func (c *CSRFile) SRET() uint64 {
	pc := c.SEPC &^ 1
	status := c.MStatus
	spp := status&insts.MStatusSPP != 0
	spie := status&insts.MStatusSPIE != 0

	if spp {
		c.Priv = insts.PrivSupervisor
	} else {
		c.Priv = insts.PrivUser
	}
	if spie {
		status |= insts.MStatusSIE
	} else {
		status &^= insts.MStatusSIE
	}
	status |= insts.MStatusSPIE
	status &^= insts.MStatusSPP
	c.MStatus = status
	c.SStatus = status & sstatusMask
	return pc
}
