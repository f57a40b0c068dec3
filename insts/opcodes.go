package insts

// Major opcodes (bits [6:0] of the 32-bit encoding).
const (
	OpLoad    = 0x03
	OpLoadFP  = 0x07
	OpMiscMem = 0x0F
	OpImm     = 0x13
	OpAUIPC   = 0x17
	OpImm32   = 0x1B
	OpStore   = 0x23
	OpStoreFP = 0x27
	OpAMO     = 0x2F
	OpReg     = 0x33
	OpLUI     = 0x37
	OpReg32   = 0x3B
	OpFMAdd   = 0x43
	OpFMSub   = 0x47
	OpFNMSub  = 0x4B
	OpFNMAdd  = 0x4F
	OpFP      = 0x53
	OpBranch  = 0x63
	OpJALR    = 0x67
	OpJAL     = 0x6F
	OpSystem  = 0x73
)

// Funct3 codes for loads.
const (
	F3LB  = 0x0
	F3LH  = 0x1
	F3LW  = 0x2
	F3LD  = 0x3
	F3LBU = 0x4
	F3LHU = 0x5
	F3LWU = 0x6
)

// Funct3 codes for stores.
const (
	F3SB = 0x0
	F3SH = 0x1
	F3SW = 0x2
	F3SD = 0x3
)

// Funct3 codes for branches.
const (
	F3BEQ  = 0x0
	F3BNE  = 0x1
	F3BLT  = 0x4
	F3BGE  = 0x5
	F3BLTU = 0x6
	F3BGEU = 0x7
)

// Funct3 codes for OP-IMM / OP.
const (
	F3AddSub = 0x0
	F3Sll    = 0x1
	F3Slt    = 0x2
	F3Sltu   = 0x3
	F3Xor    = 0x4
	F3SrlSra = 0x5
	F3Or     = 0x6
	F3And    = 0x7
)

// Funct7 codes.
const (
	F7Default = 0x00
	F7Sub     = 0x20
	F7Sra     = 0x20
	F7MExt    = 0x01
)

// Funct5 codes for the A extension (funct7 >> 2).
const (
	F5LR      = 0x02
	F5SC      = 0x03
	F5AMOSwap = 0x01
	F5AMOAdd  = 0x00
	F5AMOXor  = 0x04
	F5AMOAnd  = 0x0C
	F5AMOOr   = 0x08
	F5AMOMin  = 0x10
	F5AMOMax  = 0x14
	F5AMOMinu = 0x18
	F5AMOMaxu = 0x1C
)

// Funct7 high bits for the F/D extension (funct7 >> 2, format in low 2 bits).
const (
	F7FAdd      = 0x00
	F7FSub      = 0x01
	F7FMul      = 0x02
	F7FDiv      = 0x03
	F7FSgnJ     = 0x04
	F7FMinMax   = 0x05
	F7FCvtDS    = 0x08
	F7FSqrt     = 0x0B
	F7FCmp      = 0x14
	F7FCvtWF    = 0x18
	F7FCvtFW    = 0x1A
	F7FClassMvX = 0x1C
	F7FMvFX     = 0x1E
)

// Funct3 codes within OP-FP groups.
const (
	F3FSgnJ  = 0x0
	F3FSgnJN = 0x1
	F3FSgnJX = 0x2
	F3FMin   = 0x0
	F3FMax   = 0x1
	F3FLe    = 0x0
	F3FLt    = 0x1
	F3FEq    = 0x2
	F3FMvXW  = 0x0
	F3FClass = 0x1
)

// Full encodings for privileged SYSTEM instructions.
const (
	EncECall  = 0x0000_0073
	EncEBreak = 0x0010_0073
	EncMRET   = 0x3020_0073
	EncSRET   = 0x1020_0073
	EncWFI    = 0x1050_0073
)

// Funct7 for SFENCE.VMA (rs1/rs2 carry the VA and ASID operands).
const F7SFenceVMA = 0x09

// ABI register numbers the pipeline and predictors care about.
const (
	RegZero = 0
	RegRA   = 1
	RegSP   = 2
	RegT0   = 5
	RegA0   = 10
	RegA1   = 11
	RegA7   = 17
)

// NOP is the canonical no-operation encoding (addi x0, x0, 0).
const NOP uint32 = 0x0000_0013

// isLinkReg reports whether a register is a link register per the RISC-V
// ABI hint convention (x1 or x5).
func isLinkReg(r int) bool {
	return r == RegRA || r == RegT0
}
