package emu

import (
	"math"

	"github.com/sarchlab/rvsim/insts"
)

// boxF32 NaN-boxes a single-precision value for FPR storage.
func boxF32(f float32) uint64 {
	return uint64(math.Float32bits(f)) | 0xFFFF_FFFF_0000_0000
}

// FPU computes a floating-point operation over raw register bits. is32
// selects single precision; results are NaN-boxed. Arithmetic is functionally
// correct per IEEE-754; latency is accounted uniformly by the pipeline.
func FPU(op insts.ALUOp, a, b, c uint64, is32 bool) uint64 {
	if is32 {
		return fpu32(op, a, b, c)
	}

	fa := math.Float64frombits(a)
	fb := math.Float64frombits(b)
	fc := math.Float64frombits(c)
	switch op {
	case insts.FPUAdd:
		return math.Float64bits(fa + fb)
	case insts.FPUSub:
		return math.Float64bits(fa - fb)
	case insts.FPUMul:
		return math.Float64bits(fa * fb)
	case insts.FPUDiv:
		return math.Float64bits(fa / fb)
	case insts.FPUSqrt:
		return math.Float64bits(math.Sqrt(fa))
	case insts.FPUMin:
		return math.Float64bits(math.Min(fa, fb))
	case insts.FPUMax:
		return math.Float64bits(math.Max(fa, fb))
	case insts.FPUMAdd:
		return math.Float64bits(math.FMA(fa, fb, fc))
	case insts.FPUMSub:
		return math.Float64bits(math.FMA(fa, fb, -fc))
	case insts.FPUNMAdd:
		return math.Float64bits(math.FMA(-fa, fb, -fc))
	case insts.FPUNMSub:
		return math.Float64bits(math.FMA(-fa, fb, fc))
	case insts.FPUSgnJ:
		return (a &^ signBit64) | (b & signBit64)
	case insts.FPUSgnJN:
		return (a &^ signBit64) | (^b & signBit64)
	case insts.FPUSgnJX:
		return a ^ (b & signBit64)
	case insts.FPUEq:
		return boolBit(fa == fb)
	case insts.FPULt:
		return boolBit(fa < fb)
	case insts.FPULe:
		return boolBit(fa <= fb)
	case insts.FPUClass:
		return classify64(fa)
	case insts.FPUCvtWF:
		return sext32(int32(clampF64toI32(fa)))
	case insts.FPUCvtWuF:
		return sext32(int32(clampF64toU32(fa)))
	case insts.FPUCvtLF:
		return uint64(clampF64toI64(fa))
	case insts.FPUCvtLuF:
		return clampF64toU64(fa)
	case insts.FPUCvtFW:
		return math.Float64bits(float64(int32(a)))
	case insts.FPUCvtFWu:
		return math.Float64bits(float64(uint32(a)))
	case insts.FPUCvtFL:
		return math.Float64bits(float64(int64(a)))
	case insts.FPUCvtFLu:
		return math.Float64bits(float64(a))
	case insts.FPUCvtSD:
		// fcvt.s.d: narrow double to single.
		return boxF32(float32(fa))
	case insts.FPUCvtDS:
		// fcvt.d.s: widen single to double.
		return math.Float64bits(float64(math.Float32frombits(uint32(a))))
	case insts.FPUMvToX:
		return a
	case insts.FPUMvToF:
		return a
	}
	return 0
}

const signBit64 = uint64(1) << 63
const signBit32 = uint32(1) << 31

//nolint:gocyclo // One arm per FP operation, mirroring the 64-bit table.
func fpu32(op insts.ALUOp, a, b, c uint64) uint64 {
	fa := math.Float32frombits(uint32(a))
	fb := math.Float32frombits(uint32(b))
	fc := math.Float32frombits(uint32(c))
	switch op {
	case insts.FPUAdd:
		return boxF32(fa + fb)
	case insts.FPUSub:
		return boxF32(fa - fb)
	case insts.FPUMul:
		return boxF32(fa * fb)
	case insts.FPUDiv:
		return boxF32(fa / fb)
	case insts.FPUSqrt:
		return boxF32(float32(math.Sqrt(float64(fa))))
	case insts.FPUMin:
		return boxF32(float32(math.Min(float64(fa), float64(fb))))
	case insts.FPUMax:
		return boxF32(float32(math.Max(float64(fa), float64(fb))))
	case insts.FPUMAdd:
		return boxF32(float32(math.FMA(float64(fa), float64(fb), float64(fc))))
	case insts.FPUMSub:
		return boxF32(float32(math.FMA(float64(fa), float64(fb), -float64(fc))))
	case insts.FPUNMAdd:
		return boxF32(float32(math.FMA(-float64(fa), float64(fb), -float64(fc))))
	case insts.FPUNMSub:
		return boxF32(float32(math.FMA(-float64(fa), float64(fb), float64(fc))))
	case insts.FPUSgnJ:
		bits := (math.Float32bits(fa) &^ signBit32) | (math.Float32bits(fb) & signBit32)
		return boxF32(math.Float32frombits(bits))
	case insts.FPUSgnJN:
		bits := (math.Float32bits(fa) &^ signBit32) | (^math.Float32bits(fb) & signBit32)
		return boxF32(math.Float32frombits(bits))
	case insts.FPUSgnJX:
		bits := math.Float32bits(fa) ^ (math.Float32bits(fb) & signBit32)
		return boxF32(math.Float32frombits(bits))
	case insts.FPUEq:
		return boolBit(fa == fb)
	case insts.FPULt:
		return boolBit(fa < fb)
	case insts.FPULe:
		return boolBit(fa <= fb)
	case insts.FPUClass:
		return classify64(float64(fa))
	case insts.FPUCvtWF:
		return sext32(int32(clampF64toI32(float64(fa))))
	case insts.FPUCvtWuF:
		return sext32(int32(clampF64toU32(float64(fa))))
	case insts.FPUCvtLF:
		return uint64(clampF64toI64(float64(fa)))
	case insts.FPUCvtLuF:
		return clampF64toU64(float64(fa))
	case insts.FPUCvtFW:
		return boxF32(float32(int32(a)))
	case insts.FPUCvtFWu:
		return boxF32(float32(uint32(a)))
	case insts.FPUCvtFL:
		return boxF32(float32(int64(a)))
	case insts.FPUCvtFLu:
		return boxF32(float32(a))
	case insts.FPUCvtSD:
		// fcvt.s.d: narrow double to single.
		return boxF32(float32(math.Float64frombits(a)))
	case insts.FPUCvtDS:
		// fcvt.d.s: widen single to double.
		return math.Float64bits(float64(fa))
	case insts.FPUMvToX:
		return sext32(int32(a))
	case insts.FPUMvToF:
		return boxF32(math.Float32frombits(uint32(a)))
	}
	return 0
}

func boolBit(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// classify64 implements FCLASS over a float64 value.
func classify64(f float64) uint64 {
	switch {
	case math.IsInf(f, -1):
		return 1 << 0
	case math.IsInf(f, 1):
		return 1 << 7
	case math.IsNaN(f):
		return 1 << 9 // quiet NaN
	case f == 0 && math.Signbit(f):
		return 1 << 3
	case f == 0:
		return 1 << 4
	case math.Signbit(f):
		if isSubnormal(f) {
			return 1 << 2
		}
		return 1 << 1
	default:
		if isSubnormal(f) {
			return 1 << 5
		}
		return 1 << 6
	}
}

func isSubnormal(f float64) bool {
	bits := math.Float64bits(f)
	exp := (bits >> 52) & 0x7FF
	frac := bits & ((1 << 52) - 1)
	return exp == 0 && frac != 0
}

// Conversion clamping per the F/D extension: out-of-range and NaN inputs
// saturate to the destination's extremes (NaN converts to the maximum).

func clampF64toI32(f float64) int64 {
	if math.IsNaN(f) || f >= float64(math.MaxInt32) {
		return math.MaxInt32
	}
	if f <= float64(math.MinInt32) {
		return math.MinInt32
	}
	return int64(f)
}

func clampF64toU32(f float64) uint64 {
	if math.IsNaN(f) || f >= float64(math.MaxUint32) {
		return math.MaxUint32
	}
	if f <= 0 {
		return 0
	}
	return uint64(f)
}

func clampF64toI64(f float64) int64 {
	if math.IsNaN(f) || f >= float64(math.MaxInt64) {
		return math.MaxInt64
	}
	if f <= float64(math.MinInt64) {
		return math.MinInt64
	}
	return int64(f)
}

func clampF64toU64(f float64) uint64 {
	if math.IsNaN(f) || f >= float64(math.MaxUint64) {
		return math.MaxUint64
	}
	if f <= 0 {
		return 0
	}
	return uint64(f)
}
