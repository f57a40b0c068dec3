// Package insts provides RV64GC instruction decoding.
//
// Decoding is a pure function from a raw instruction word to a decoded
// Instruction record. Compressed (16-bit) words are first expanded to their
// 32-bit equivalents; only the expanded form is decoded further.
package insts

// Class identifies the broad instruction category the pipeline dispatches on.
type Class int

// Instruction classes.
const (
	ClassALU Class = iota
	ClassLoad
	ClassStore
	ClassBranch
	ClassJump
	ClassSystem
	ClassFPLoad
	ClassFPStore
	ClassFPArith
	ClassFPFMA
	ClassFPDivSqrt
	ClassAMO
	ClassLR
	ClassSC
	ClassFence
	ClassIllegal
)

// String returns a short name for the class.
func (c Class) String() string {
	switch c {
	case ClassALU:
		return "ALU"
	case ClassLoad:
		return "LOAD"
	case ClassStore:
		return "STORE"
	case ClassBranch:
		return "BRANCH"
	case ClassJump:
		return "JUMP"
	case ClassSystem:
		return "SYSTEM"
	case ClassFPLoad:
		return "FP_LOAD"
	case ClassFPStore:
		return "FP_STORE"
	case ClassFPArith:
		return "FP_ARITH"
	case ClassFPFMA:
		return "FP_FMA"
	case ClassFPDivSqrt:
		return "FP_DIV_SQRT"
	case ClassAMO:
		return "AMO"
	case ClassLR:
		return "LR"
	case ClassSC:
		return "SC"
	case ClassFence:
		return "FENCE"
	default:
		return "ILLEGAL"
	}
}

// ALUOp selects the functional-unit operation.
type ALUOp int

// Integer and floating-point operations.
const (
	ALUAdd ALUOp = iota
	ALUSub
	ALUSll
	ALUSlt
	ALUSltu
	ALUXor
	ALUSrl
	ALUSra
	ALUOr
	ALUAnd
	ALUMul
	ALUMulh
	ALUMulhsu
	ALUMulhu
	ALUDiv
	ALUDivu
	ALURem
	ALURemu
	FPUAdd
	FPUSub
	FPUMul
	FPUDiv
	FPUSqrt
	FPUMin
	FPUMax
	FPUMAdd
	FPUMSub
	FPUNMAdd
	FPUNMSub
	FPUSgnJ
	FPUSgnJN
	FPUSgnJX
	FPUEq
	FPULt
	FPULe
	FPUClass
	FPUCvtWF
	FPUCvtWuF
	FPUCvtLF
	FPUCvtLuF
	FPUCvtFW
	FPUCvtFWu
	FPUCvtFL
	FPUCvtFLu
	FPUCvtSD
	FPUCvtDS
	FPUMvToX
	FPUMvToF
)

// AtomicOp selects the A-extension operation for ClassAMO/LR/SC.
type AtomicOp int

// Atomic operations.
const (
	AtomicNone AtomicOp = iota
	AtomicLR
	AtomicSC
	AtomicSwap
	AtomicAdd
	AtomicXor
	AtomicAnd
	AtomicOr
	AtomicMin
	AtomicMax
	AtomicMinu
	AtomicMaxu
)

// MemWidth is the access width of a load or store.
type MemWidth int

// Memory access widths.
const (
	WidthNone MemWidth = iota
	WidthByte
	WidthHalf
	WidthWord
	WidthDouble
)

// Bytes returns the width in bytes, or 0 for WidthNone.
func (w MemWidth) Bytes() int {
	switch w {
	case WidthByte:
		return 1
	case WidthHalf:
		return 2
	case WidthWord:
		return 4
	case WidthDouble:
		return 8
	default:
		return 0
	}
}

// OpASrc selects the first ALU operand.
type OpASrc int

// First-operand sources.
const (
	ASrcReg1 OpASrc = iota
	ASrcPC
	ASrcZero
)

// OpBSrc selects the second ALU operand.
type OpBSrc int

// Second-operand sources.
const (
	BSrcImm OpBSrc = iota
	BSrcReg2
	BSrcZero
)

// CSROp identifies the CSR access flavor for SYSTEM instructions.
type CSROp int

// CSR operations.
const (
	CSRNone CSROp = iota
	CSRRW
	CSRRS
	CSRRC
	CSRRWI
	CSRRSI
	CSRRCI
)

// ControlSignals carries the decoded control bundle consumed by the pipeline.
type ControlSignals struct {
	RegWrite   bool // writes an integer register
	FPRegWrite bool // writes a floating-point register
	MemRead    bool
	MemWrite   bool
	Branch     bool // conditional branch
	Jump       bool // JAL or JALR
	IsCall     bool // jump with rd in {x1, x5}
	IsReturn   bool // JALR with rs1 in {x1, x5} and rd = x0
	IsRV32     bool // W-suffix / single-precision sub-operation
	Width      MemWidth
	SignedLoad bool
	ALU        ALUOp
	ASrc       OpASrc
	BSrc       OpBSrc

	// SYSTEM-class decorations.
	IsSystem  bool
	IsECall   bool
	IsEBreak  bool
	IsMRET    bool
	IsSRET    bool
	IsWFI     bool
	CSRAddr   uint32
	CSROp     CSROp
	CSRWrites bool // the CSR op modifies the CSR (rs1 != x0 for RS/RC forms)

	// Fence decorations.
	IsFenceI    bool
	IsSFenceVMA bool

	// Register-file selects for forwarding and hazard checks.
	Rs1FP bool
	Rs2FP bool
	Rs3FP bool

	Atomic AtomicOp
}

// Instruction is the decoded record for one instruction word.
type Instruction struct {
	Raw    uint32 // expanded 32-bit encoding
	Size   uint8  // 2 for compressed, 4 otherwise
	Class  Class
	Rd     int
	Rs1    int
	Rs2    int
	Rs3    int
	Imm    int64
	Funct3 uint32
	Funct7 uint32
	Ctrl   ControlSignals
}

// WritesReg reports whether the instruction writes any register file.
func (i *Instruction) WritesReg() bool {
	return i.Ctrl.RegWrite || i.Ctrl.FPRegWrite
}
