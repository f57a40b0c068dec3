package insts

// Decode maps a raw instruction word to a decoded Instruction.
//
// A 16-bit compressed word (low two bits != 11) is first expanded to its
// 32-bit equivalent; the expanded form is what gets decoded, with Size
// recording the original 2-byte footprint. Unrecognised encodings return an
// Instruction with ClassIllegal carrying the raw word; the pipeline converts
// this into an illegal-instruction trap.
func Decode(raw uint32) *Instruction {
	if raw&0x3 != 0x3 {
		expanded, ok := ExpandCompressed(uint16(raw))
		if !ok {
			return illegal(raw, 2)
		}
		inst := decode32(expanded)
		inst.Size = 2
		if inst.Class == ClassIllegal {
			// Report the original compressed word in tval.
			inst.Raw = raw
		}
		return inst
	}
	return decode32(raw)
}

func illegal(raw uint32, size uint8) *Instruction {
	return &Instruction{Raw: raw, Size: size, Class: ClassIllegal}
}

// Field extraction helpers over the 32-bit encoding.

func opcodeOf(inst uint32) uint32 { return inst & 0x7F }
func rdOf(inst uint32) int        { return int((inst >> 7) & 0x1F) }
func rs1Of(inst uint32) int       { return int((inst >> 15) & 0x1F) }
func rs2Of(inst uint32) int       { return int((inst >> 20) & 0x1F) }
func rs3Of(inst uint32) int       { return int((inst >> 27) & 0x1F) }
func funct3Of(inst uint32) uint32 { return (inst >> 12) & 0x7 }
func funct7Of(inst uint32) uint32 { return (inst >> 25) & 0x7F }
func csrOf(inst uint32) uint32    { return (inst >> 20) & 0xFFF }

// immediateOf extracts and sign-extends the immediate for the opcode's
// format.
func immediateOf(inst uint32) int64 {
	switch opcodeOf(inst) {
	case OpImm, OpLoad, OpJALR, OpImm32, OpLoadFP:
		// I-type.
		return int64(int32(inst) >> 20)

	case OpStore, OpStoreFP:
		// S-type.
		low := (inst >> 7) & 0x1F
		high := (inst >> 25) & 0x7F
		combined := (high << 5) | low
		return int64(int32(combined<<20) >> 20)

	case OpBranch:
		// B-type.
		bit11 := (inst >> 7) & 1
		bits41 := (inst >> 8) & 0xF
		bits105 := (inst >> 25) & 0x3F
		bit12 := (inst >> 31) & 1
		combined := (bit12 << 12) | (bit11 << 11) | (bits105 << 5) | (bits41 << 1)
		return int64(int32(combined<<19) >> 19)

	case OpLUI, OpAUIPC:
		// U-type.
		return int64(int32(inst & 0xFFFFF000))

	case OpJAL:
		// J-type.
		bits1912 := (inst >> 12) & 0xFF
		bit11 := (inst >> 20) & 1
		bits101 := (inst >> 21) & 0x3FF
		bit20 := (inst >> 31) & 1
		combined := (bit20 << 20) | (bits1912 << 12) | (bit11 << 11) | (bits101 << 1)
		return int64(int32(combined<<11) >> 11)
	}
	return 0
}

//nolint:gocyclo // The decode table mirrors the opcode map one arm per format.
func decode32(raw uint32) *Instruction {
	inst := &Instruction{
		Raw:    raw,
		Size:   4,
		Rd:     rdOf(raw),
		Rs1:    rs1Of(raw),
		Rs2:    rs2Of(raw),
		Rs3:    rs3Of(raw),
		Imm:    immediateOf(raw),
		Funct3: funct3Of(raw),
		Funct7: funct7Of(raw),
	}
	c := &inst.Ctrl
	c.ASrc = ASrcReg1
	c.BSrc = BSrcImm
	c.ALU = ALUAdd

	switch opcodeOf(raw) {
	case OpLUI:
		inst.Class = ClassALU
		c.RegWrite = true
		c.ASrc = ASrcZero

	case OpAUIPC:
		inst.Class = ClassALU
		c.RegWrite = true
		c.ASrc = ASrcPC

	case OpJAL:
		inst.Class = ClassJump
		c.RegWrite = true
		c.Jump = true
		c.IsCall = isLinkReg(inst.Rd)

	case OpJALR:
		if inst.Funct3 != 0 {
			return illegal(raw, 4)
		}
		inst.Class = ClassJump
		c.RegWrite = true
		c.Jump = true
		c.IsCall = isLinkReg(inst.Rd)
		c.IsReturn = inst.Rd == RegZero && isLinkReg(inst.Rs1)

	case OpBranch:
		switch inst.Funct3 {
		case F3BEQ, F3BNE, F3BLT, F3BGE, F3BLTU, F3BGEU:
		default:
			return illegal(raw, 4)
		}
		inst.Class = ClassBranch
		c.Branch = true
		c.BSrc = BSrcReg2

	case OpLoad:
		inst.Class = ClassLoad
		c.RegWrite = true
		c.MemRead = true
		switch inst.Funct3 {
		case F3LB:
			c.Width, c.SignedLoad = WidthByte, true
		case F3LH:
			c.Width, c.SignedLoad = WidthHalf, true
		case F3LW:
			c.Width, c.SignedLoad = WidthWord, true
		case F3LD:
			c.Width, c.SignedLoad = WidthDouble, true
		case F3LBU:
			c.Width = WidthByte
		case F3LHU:
			c.Width = WidthHalf
		case F3LWU:
			c.Width = WidthWord
		default:
			return illegal(raw, 4)
		}

	case OpLoadFP:
		inst.Class = ClassFPLoad
		c.FPRegWrite = true
		c.MemRead = true
		switch inst.Funct3 {
		case 0x2:
			c.Width = WidthWord
		case 0x3:
			c.Width = WidthDouble
		default:
			return illegal(raw, 4)
		}

	case OpStore:
		inst.Class = ClassStore
		c.MemWrite = true
		switch inst.Funct3 {
		case F3SB:
			c.Width = WidthByte
		case F3SH:
			c.Width = WidthHalf
		case F3SW:
			c.Width = WidthWord
		case F3SD:
			c.Width = WidthDouble
		default:
			return illegal(raw, 4)
		}

	case OpStoreFP:
		inst.Class = ClassFPStore
		c.MemWrite = true
		c.Rs2FP = true
		switch inst.Funct3 {
		case 0x2:
			c.Width = WidthWord
		case 0x3:
			c.Width = WidthDouble
		default:
			return illegal(raw, 4)
		}

	case OpAMO:
		if !decodeAMO(inst) {
			return illegal(raw, 4)
		}

	case OpImm, OpImm32:
		inst.Class = ClassALU
		c.RegWrite = true
		c.IsRV32 = opcodeOf(raw) == OpImm32
		switch inst.Funct3 {
		case F3AddSub:
			c.ALU = ALUAdd
		case F3Slt:
			c.ALU = ALUSlt
		case F3Sltu:
			c.ALU = ALUSltu
		case F3Xor:
			c.ALU = ALUXor
		case F3Or:
			c.ALU = ALUOr
		case F3And:
			c.ALU = ALUAnd
		case F3Sll:
			c.ALU = ALUSll
		case F3SrlSra:
			if inst.Funct7&0x20 != 0 {
				c.ALU = ALUSra
			} else {
				c.ALU = ALUSrl
			}
		default:
			return illegal(raw, 4)
		}

	case OpReg, OpReg32:
		inst.Class = ClassALU
		c.RegWrite = true
		c.IsRV32 = opcodeOf(raw) == OpReg32
		c.BSrc = BSrcReg2
		op, ok := regALUOp(inst.Funct3, inst.Funct7)
		if !ok {
			return illegal(raw, 4)
		}
		c.ALU = op

	case OpFP:
		if !decodeFP(inst) {
			return illegal(raw, 4)
		}

	case OpFMAdd, OpFMSub, OpFNMSub, OpFNMAdd:
		inst.Class = ClassFPFMA
		c.Rs1FP, c.Rs2FP, c.Rs3FP = true, true, true
		c.FPRegWrite = true
		c.BSrc = BSrcReg2
		c.IsRV32 = inst.Funct7&0x3 == 0
		switch opcodeOf(raw) {
		case OpFMAdd:
			c.ALU = FPUMAdd
		case OpFMSub:
			c.ALU = FPUMSub
		case OpFNMAdd:
			c.ALU = FPUNMAdd
		case OpFNMSub:
			c.ALU = FPUNMSub
		}

	case OpMiscMem:
		inst.Class = ClassFence
		switch inst.Funct3 {
		case 0x0: // FENCE: ordering no-op for this model
		case 0x1:
			c.IsFenceI = true
		default:
			return illegal(raw, 4)
		}

	case OpSystem:
		if !decodeSystem(inst) {
			return illegal(raw, 4)
		}

	default:
		return illegal(raw, 4)
	}

	sanitizeSources(inst)
	return inst
}

// sanitizeSources zeroes register fields the format does not read, so the
// hazard and forwarding logic never matches on immediate bits.
func sanitizeSources(inst *Instruction) {
	switch opcodeOf(inst.Raw) {
	case OpLUI, OpAUIPC, OpJAL:
		inst.Rs1 = 0
		inst.Rs2 = 0
		inst.Rs3 = 0
	case OpImm, OpImm32, OpLoad, OpLoadFP, OpJALR, OpMiscMem:
		inst.Rs2 = 0
		inst.Rs3 = 0
	case OpFMAdd, OpFMSub, OpFNMSub, OpFNMAdd:
		// rs3 is live.
	case OpSystem:
		inst.Rs2 = 0
		inst.Rs3 = 0
		switch inst.Ctrl.CSROp {
		case CSRRWI, CSRRSI, CSRRCI:
			// The rs1 field is the zimm immediate, not a register read.
			inst.Imm = int64(inst.Rs1)
			inst.Rs1 = 0
		}
		if inst.Ctrl.IsSFenceVMA {
			// rs1/rs2 carry the VA and ASID operands; restore rs2.
			inst.Rs2 = rs2Of(inst.Raw)
		}
	default:
		inst.Rs3 = 0
	}
}

func regALUOp(funct3, funct7 uint32) (ALUOp, bool) {
	if funct7 == F7MExt {
		switch funct3 {
		case F3AddSub:
			return ALUMul, true
		case F3Sll:
			return ALUMulh, true
		case F3Slt:
			return ALUMulhsu, true
		case F3Sltu:
			return ALUMulhu, true
		case F3Xor:
			return ALUDiv, true
		case F3SrlSra:
			return ALUDivu, true
		case F3Or:
			return ALURem, true
		case F3And:
			return ALURemu, true
		}
		return ALUAdd, false
	}

	switch funct3 {
	case F3AddSub:
		if funct7 == F7Sub {
			return ALUSub, true
		}
		return ALUAdd, funct7 == F7Default
	case F3Sll:
		return ALUSll, funct7 == F7Default
	case F3Slt:
		return ALUSlt, funct7 == F7Default
	case F3Sltu:
		return ALUSltu, funct7 == F7Default
	case F3Xor:
		return ALUXor, funct7 == F7Default
	case F3SrlSra:
		if funct7 == F7Sra {
			return ALUSra, true
		}
		return ALUSrl, funct7 == F7Default
	case F3Or:
		return ALUOr, funct7 == F7Default
	case F3And:
		return ALUAnd, funct7 == F7Default
	}
	return ALUAdd, false
}

func decodeAMO(inst *Instruction) bool {
	c := &inst.Ctrl
	switch inst.Funct3 {
	case F3LW:
		c.Width = WidthWord
		c.SignedLoad = true
	case F3LD:
		c.Width = WidthDouble
	default:
		return false
	}

	inst.Class = ClassAMO
	f5 := inst.Funct7 >> 2
	switch f5 {
	case F5LR:
		c.Atomic = AtomicLR
		inst.Class = ClassLR
	case F5SC:
		c.Atomic = AtomicSC
		inst.Class = ClassSC
	case F5AMOSwap:
		c.Atomic = AtomicSwap
	case F5AMOAdd:
		c.Atomic = AtomicAdd
	case F5AMOXor:
		c.Atomic = AtomicXor
	case F5AMOAnd:
		c.Atomic = AtomicAnd
	case F5AMOOr:
		c.Atomic = AtomicOr
	case F5AMOMin:
		c.Atomic = AtomicMin
	case F5AMOMax:
		c.Atomic = AtomicMax
	case F5AMOMinu:
		c.Atomic = AtomicMinu
	case F5AMOMaxu:
		c.Atomic = AtomicMaxu
	default:
		return false
	}

	// LR is a load; SC and the AMOs read and write. All produce a result.
	c.RegWrite = true
	c.MemRead = true
	c.MemWrite = c.Atomic != AtomicLR
	c.ASrc = ASrcReg1
	c.BSrc = BSrcZero
	return true
}

func decodeFP(inst *Instruction) bool {
	c := &inst.Ctrl
	fmt2 := inst.Funct7 & 0x3
	op := inst.Funct7 >> 2

	inst.Class = ClassFPArith
	c.IsRV32 = fmt2 == 0
	c.Rs1FP = true
	c.Rs2FP = true
	c.FPRegWrite = true
	c.BSrc = BSrcReg2

	switch op {
	case F7FAdd:
		c.ALU = FPUAdd
	case F7FSub:
		c.ALU = FPUSub
	case F7FMul:
		c.ALU = FPUMul
	case F7FDiv:
		c.ALU = FPUDiv
		inst.Class = ClassFPDivSqrt
	case F7FSqrt:
		c.ALU = FPUSqrt
		inst.Class = ClassFPDivSqrt
	case F7FSgnJ:
		switch inst.Funct3 {
		case F3FSgnJ:
			c.ALU = FPUSgnJ
		case F3FSgnJN:
			c.ALU = FPUSgnJN
		case F3FSgnJX:
			c.ALU = FPUSgnJX
		default:
			return false
		}
	case F7FMinMax:
		switch inst.Funct3 {
		case F3FMin:
			c.ALU = FPUMin
		case F3FMax:
			c.ALU = FPUMax
		default:
			return false
		}
	case F7FCmp:
		c.FPRegWrite = false
		c.RegWrite = true
		switch inst.Funct3 {
		case F3FEq:
			c.ALU = FPUEq
		case F3FLt:
			c.ALU = FPULt
		case F3FLe:
			c.ALU = FPULe
		default:
			return false
		}
	case F7FClassMvX:
		c.FPRegWrite = false
		c.RegWrite = true
		switch inst.Funct3 {
		case F3FMvXW:
			c.ALU = FPUMvToX
		case F3FClass:
			c.ALU = FPUClass
		default:
			return false
		}
	case F7FMvFX:
		c.Rs1FP = false
		c.FPRegWrite = true
		c.ALU = FPUMvToF
	case F7FCvtWF:
		c.FPRegWrite = false
		c.RegWrite = true
		switch inst.Rs2 {
		case 0:
			c.ALU = FPUCvtWF
		case 1:
			c.ALU = FPUCvtWuF
		case 2:
			c.ALU = FPUCvtLF
		case 3:
			c.ALU = FPUCvtLuF
		default:
			return false
		}
	case F7FCvtFW:
		c.Rs1FP = false
		c.FPRegWrite = true
		switch inst.Rs2 {
		case 0:
			c.ALU = FPUCvtFW
		case 1:
			c.ALU = FPUCvtFWu
		case 2:
			c.ALU = FPUCvtFL
		case 3:
			c.ALU = FPUCvtFLu
		default:
			return false
		}
	case F7FCvtDS:
		if inst.Rs2 == 1 {
			c.ALU = FPUCvtSD // fcvt.s.d
		} else {
			c.ALU = FPUCvtDS // fcvt.d.s
		}
	default:
		return false
	}
	return true
}

func decodeSystem(inst *Instruction) bool {
	c := &inst.Ctrl
	inst.Class = ClassSystem
	c.IsSystem = true

	switch inst.Raw {
	case EncECall:
		c.IsECall = true
		return true
	case EncEBreak:
		c.IsEBreak = true
		return true
	case EncMRET:
		c.IsMRET = true
		return true
	case EncSRET:
		c.IsSRET = true
		return true
	case EncWFI:
		c.IsWFI = true
		return true
	}

	if inst.Funct3 == 0 && inst.Funct7 == F7SFenceVMA && inst.Rd == 0 {
		c.IsSFenceVMA = true
		return true
	}

	c.CSRAddr = csrOf(inst.Raw)
	c.ASrc = ASrcReg1
	c.BSrc = BSrcZero
	switch inst.Funct3 {
	case 0x1:
		c.CSROp = CSRRW
	case 0x2:
		c.CSROp = CSRRS
	case 0x3:
		c.CSROp = CSRRC
	case 0x5:
		c.CSROp = CSRRWI
	case 0x6:
		c.CSROp = CSRRSI
	case 0x7:
		c.CSROp = CSRRCI
	default:
		return false
	}
	c.RegWrite = inst.Rd != 0
	switch c.CSROp {
	case CSRRW, CSRRWI:
		c.CSRWrites = true
	default:
		c.CSRWrites = inst.Rs1 != 0
	}
	return true
}
