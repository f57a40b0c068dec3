package emu

import (
	"github.com/sarchlab/rvsim/insts"
)

// ALU computes an integer operation over two operands. is32 selects the
// W-suffix sub-operation: compute in 32 bits and sign-extend the result.
// Division by zero and signed overflow follow the RISC-V M-extension rules
// (no traps; all-ones quotient, pass-through remainder).
func ALU(op insts.ALUOp, a, b uint64, is32 bool) uint64 {
	if is32 {
		return alu32(op, a, b)
	}

	sh := uint(b & 0x3F)
	switch op {
	case insts.ALUAdd:
		return a + b
	case insts.ALUSub:
		return a - b
	case insts.ALUSll:
		return a << sh
	case insts.ALUSrl:
		return a >> sh
	case insts.ALUSra:
		return uint64(int64(a) >> sh)
	case insts.ALUOr:
		return a | b
	case insts.ALUAnd:
		return a & b
	case insts.ALUXor:
		return a ^ b
	case insts.ALUSlt:
		if int64(a) < int64(b) {
			return 1
		}
		return 0
	case insts.ALUSltu:
		if a < b {
			return 1
		}
		return 0
	case insts.ALUMul:
		return a * b
	case insts.ALUMulh:
		return mulh64(int64(a), int64(b))
	case insts.ALUMulhsu:
		return mulhsu64(int64(a), b)
	case insts.ALUMulhu:
		return mulhu64(a, b)
	case insts.ALUDiv:
		if b == 0 {
			return ^uint64(0)
		}
		if int64(a) == -1<<63 && int64(b) == -1 {
			return a
		}
		return uint64(int64(a) / int64(b))
	case insts.ALUDivu:
		if b == 0 {
			return ^uint64(0)
		}
		return a / b
	case insts.ALURem:
		if b == 0 {
			return a
		}
		if int64(a) == -1<<63 && int64(b) == -1 {
			return 0
		}
		return uint64(int64(a) % int64(b))
	case insts.ALURemu:
		if b == 0 {
			return a
		}
		return a % b
	}
	return 0
}

func alu32(op insts.ALUOp, a, b uint64) uint64 {
	a32 := int32(a)
	b32 := int32(b)
	sh := uint(b & 0x1F)
	switch op {
	case insts.ALUAdd:
		return sext32(a32 + b32)
	case insts.ALUSub:
		return sext32(a32 - b32)
	case insts.ALUSll:
		return sext32(a32 << sh)
	case insts.ALUSrl:
		return sext32(int32(uint32(a32) >> sh))
	case insts.ALUSra:
		return sext32(a32 >> sh)
	case insts.ALUMul:
		return sext32(a32 * b32)
	case insts.ALUDiv:
		if b32 == 0 {
			return ^uint64(0)
		}
		if a32 == -1<<31 && b32 == -1 {
			return sext32(a32)
		}
		return sext32(a32 / b32)
	case insts.ALUDivu:
		if b32 == 0 {
			return ^uint64(0)
		}
		return sext32(int32(uint32(a32) / uint32(b32)))
	case insts.ALURem:
		if b32 == 0 {
			return sext32(a32)
		}
		if a32 == -1<<31 && b32 == -1 {
			return 0
		}
		return sext32(a32 % b32)
	case insts.ALURemu:
		if b32 == 0 {
			return sext32(a32)
		}
		return sext32(int32(uint32(a32) % uint32(b32)))
	}
	// The remaining operations have no distinct W form.
	return ALU(op, a, b, false)
}

func sext32(v int32) uint64 {
	return uint64(int64(v))
}

// mulhu64 returns the high 64 bits of the unsigned 128-bit product.
func mulhu64(a, b uint64) uint64 {
	aLo, aHi := a&0xFFFFFFFF, a>>32
	bLo, bHi := b&0xFFFFFFFF, b>>32

	ll := aLo * bLo
	lh := aLo * bHi
	hl := aHi * bLo
	hh := aHi * bHi

	mid := lh + (ll >> 32) + (hl & 0xFFFFFFFF)
	return hh + (mid >> 32) + (hl >> 32)
}

// mulh64 returns the high 64 bits of the signed 128-bit product.
func mulh64(a, b int64) uint64 {
	hi := mulhu64(uint64(a), uint64(b))
	if a < 0 {
		hi -= uint64(b)
	}
	if b < 0 {
		hi -= uint64(a)
	}
	return hi
}

// mulhsu64 returns the high 64 bits of the signed-by-unsigned product.
func mulhsu64(a int64, b uint64) uint64 {
	hi := mulhu64(uint64(a), b)
	if a < 0 {
		hi -= b
	}
	return hi
}
