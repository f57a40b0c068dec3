package insts

// CSR addresses.
const (
	// Machine information.
	CSRMVendorID = 0xF11
	CSRMArchID   = 0xF12
	CSRMImpID    = 0xF13
	CSRMHartID   = 0xF14

	// Machine trap setup.
	CSRMStatus    = 0x300
	CSRMISA       = 0x301
	CSRMEDeleg    = 0x302
	CSRMIDeleg    = 0x303
	CSRMIE        = 0x304
	CSRMTVec      = 0x305
	CSRMCounterEn = 0x306

	// Machine trap handling.
	CSRMScratch = 0x340
	CSRMEPC     = 0x341
	CSRMCause   = 0x342
	CSRMTVal    = 0x343
	CSRMIP      = 0x344

	// Supervisor trap setup.
	CSRSStatus    = 0x100
	CSRSIE        = 0x104
	CSRSTVec      = 0x105
	CSRSCounterEn = 0x106

	// Supervisor trap handling.
	CSRSScratch = 0x140
	CSRSEPC     = 0x141
	CSRSCause   = 0x142
	CSRSTVal    = 0x143
	CSRSIP      = 0x144

	// Supervisor protection and translation.
	CSRSATP = 0x180

	// Floating-point.
	CSRFFlags = 0x001
	CSRFRM    = 0x002
	CSRFCSR   = 0x003

	// Performance counters.
	CSRCycle    = 0xC00
	CSRTime     = 0xC01
	CSRInstRet  = 0xC02
	CSRMCycle   = 0xB00
	CSRMInstRet = 0xB02

	// Debug CSR: a write triggers a requested trap carrying the value.
	CSRSimPanic = 0x8FF
)

// mstatus / sstatus bits.
const (
	MStatusUIE  uint64 = 1 << 0
	MStatusSIE  uint64 = 1 << 1
	MStatusMIE  uint64 = 1 << 3
	MStatusSPIE uint64 = 1 << 5
	MStatusMPIE uint64 = 1 << 7
	MStatusSPP  uint64 = 1 << 8
	MStatusMPP  uint64 = 3 << 11
	MStatusFS   uint64 = 3 << 13
	MStatusSUM  uint64 = 1 << 18
	MStatusMXR  uint64 = 1 << 19

	MStatusFSOff   uint64 = 0 << 13
	MStatusFSInit  uint64 = 1 << 13
	MStatusFSClean uint64 = 2 << 13
	MStatusFSDirty uint64 = 3 << 13
)

// mip / mie bits.
const (
	MIPUSIP uint64 = 1 << 0
	MIPSSIP uint64 = 1 << 1
	MIPMSIP uint64 = 1 << 3
	MIPUTIP uint64 = 1 << 4
	MIPSTIP uint64 = 1 << 5
	MIPMTIP uint64 = 1 << 7
	MIPUEIP uint64 = 1 << 8
	MIPSEIP uint64 = 1 << 9
	MIPMEIP uint64 = 1 << 11
)

// satp fields.
const (
	SATPModeShift = 60
	SATPModeBare  = 0
	SATPModeSV39  = 8
	SATPModeSV48  = 9
	SATPASIDShift = 44
	SATPASIDMask  = 0xFFFF
	SATPPPNMask   = 0xFFF_FFFF_FFFF
)

// Privilege levels.
const (
	PrivUser       uint8 = 0
	PrivSupervisor uint8 = 1
	PrivMachine    uint8 = 3
)
