package pipeline

import (
	"github.com/sarchlab/rvsim/insts"
)

// HazardUnit detects RAW hazards and supplies forwarded operand values.
type HazardUnit struct{}

// NewHazardUnit creates a hazard detection unit.
func NewHazardUnit() *HazardUnit {
	return &HazardUnit{}
}

// destMatches reports whether a producing instruction's destination feeds a
// consumer source. Integer and floating-point register files are disjoint,
// and integer x0 never forwards.
func destMatches(prod *insts.Instruction, prodRd int, src int, srcFP bool) bool {
	if prod == nil || !prod.WritesReg() {
		return false
	}
	if prod.Ctrl.FPRegWrite != srcFP {
		return false
	}
	if prodRd != src {
		return false
	}
	if !srcFP && src == 0 {
		return false
	}
	return true
}

// wbValue picks what a MEM/WB-stage instruction will write back.
func wbValue(r *MEMWBRegister) uint64 {
	return r.WBValue
}

// exValue picks what an EX/MEM-stage instruction will write back. Loads have
// no value yet and are excluded by the caller.
func exValue(r *EXMEMRegister) uint64 {
	return r.ALUResult
}

// Forward applies the two forwarding paths to the execute stage's source
// operands: EX/MEM result (the instruction immediately ahead, excluding
// loads), then MEM/WB result (two ahead, including load data). The older
// value is applied first so the younger producer wins.
func (h *HazardUnit) Forward(
	idex *IDEXRegister,
	exmem *EXMEMRegister,
	memwb *MEMWBRegister,
) (rv1, rv2, rv3 uint64) {
	rv1 = idex.RV1
	rv2 = idex.RV2
	rv3 = idex.RV3
	inst := idex.Inst
	if inst == nil {
		return rv1, rv2, rv3
	}
	c := inst.Ctrl

	if memwb.Valid && memwb.Trap == nil && memwb.Inst != nil {
		val := wbValue(memwb)
		rd := memwb.Inst.Rd
		if destMatches(memwb.Inst, rd, inst.Rs1, c.Rs1FP) {
			rv1 = val
		}
		if destMatches(memwb.Inst, rd, inst.Rs2, c.Rs2FP) {
			rv2 = val
		}
		if destMatches(memwb.Inst, rd, inst.Rs3, c.Rs3FP) {
			rv3 = val
		}
	}

	if exmem.Valid && exmem.Trap == nil && exmem.Inst != nil &&
		!exmem.Inst.Ctrl.MemRead {
		val := exValue(exmem)
		rd := exmem.Inst.Rd
		if destMatches(exmem.Inst, rd, inst.Rs1, c.Rs1FP) {
			rv1 = val
		}
		if destMatches(exmem.Inst, rd, inst.Rs2, c.Rs2FP) {
			rv2 = val
		}
		if destMatches(exmem.Inst, rd, inst.Rs3, c.Rs3FP) {
			rv3 = val
		}
	}

	return rv1, rv2, rv3
}

// DetectLoadUse reports whether the instruction that just entered EX/MEM is
// a load whose destination is read by the next instruction waiting in IF/ID.
// Forwarding cannot cover that distance, so the consumer stalls one cycle.
func (h *HazardUnit) DetectLoadUse(idex *IDEXRegister, ifid *IFIDRegister) bool {
	if !idex.Valid || idex.Inst == nil || !idex.Inst.Ctrl.MemRead {
		return false
	}
	if !ifid.Valid || ifid.Trap != nil {
		return false
	}

	load := idex.Inst
	if !load.Ctrl.FPRegWrite && load.Rd == 0 {
		return false
	}

	next := insts.Decode(ifid.Raw)
	if next.Class == insts.ClassIllegal {
		return false
	}

	loadFP := load.Ctrl.FPRegWrite
	if destMatches(load, load.Rd, next.Rs1, next.Ctrl.Rs1FP) && loadFP == next.Ctrl.Rs1FP {
		return true
	}
	if destMatches(load, load.Rd, next.Rs2, next.Ctrl.Rs2FP) && loadFP == next.Ctrl.Rs2FP {
		return true
	}
	if destMatches(load, load.Rd, next.Rs3, next.Ctrl.Rs3FP) && loadFP == next.Ctrl.Rs3FP {
		return true
	}
	return false
}
