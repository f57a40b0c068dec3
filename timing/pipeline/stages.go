package pipeline

import (
	"github.com/sarchlab/rvsim/emu"
	"github.com/sarchlab/rvsim/insts"
	"github.com/sarchlab/rvsim/soc"
)

// sysExit is the conventional bare-metal exit syscall number (a7 = 93).
const sysExit = 93

// writebackStage retires the instruction in MEM/WB or delivers its trap.
// Returns true when a trap redirected the pipeline.
func (p *Pipeline) writebackStage() bool {
	if !p.memwb.Valid {
		return false
	}

	if t := p.memwb.Trap; t != nil {
		// The bare-metal exit convention: an environment call with a7 = 93
		// ends the simulation with a0 as the exit code. At the commit
		// boundary every older instruction has retired, so the register
		// file is current.
		if isECallCause(t.Cause) && p.regs.Read(insts.RegA7) == sysExit {
			p.halted = true
			p.exitCode = p.regs.Read(insts.RegA0)
			p.syncCacheStats()
			return true
		}
		p.deliverTrap(t, p.memwb.PC)
		return true
	}

	p.retire(&p.memwb)
	return false
}

func isECallCause(cause uint64) bool {
	return cause == insts.CauseECallFromU ||
		cause == insts.CauseECallFromS ||
		cause == insts.CauseECallFromM
}

// retire applies the writeback in program order. Writes to x0 are discarded
// by the register file.
func (p *Pipeline) retire(r *MEMWBRegister) {
	if r.Inst != nil {
		if r.Inst.Ctrl.FPRegWrite {
			p.regs.WriteF(r.Inst.Rd, r.WBValue)
		} else if r.Inst.Ctrl.RegWrite {
			p.regs.Write(r.Inst.Rd, r.WBValue)
		}
	}
	p.stats.InstructionsRetired++
}

// memoryStage consumes EX/MEM: loads and stores translate through the MMU,
// charge the cache hierarchy and DRAM as stall cycles, and move data over
// the bus. Atomics resolve their reservation here. Faults convert the entry
// into a trap that delivers at writeback.
func (p *Pipeline) memoryStage() MEMWBRegister {
	var out MEMWBRegister
	if !p.exmem.Valid {
		return out
	}

	ex := &p.exmem
	out = MEMWBRegister{Valid: true, PC: ex.PC, Inst: ex.Inst, Trap: ex.Trap}
	if ex.Trap != nil || ex.Inst == nil {
		return out
	}

	inst := ex.Inst
	switch inst.Class {
	case insts.ClassLoad, insts.ClassFPLoad:
		val, trap := p.memLoad(ex.ALUResult, inst)
		if trap != nil {
			out.Trap = trap
			return out
		}
		out.WBValue = val

	case insts.ClassStore, insts.ClassFPStore:
		if trap := p.memStore(ex.ALUResult, inst, ex.StoreData); trap != nil {
			out.Trap = trap
			return out
		}

	case insts.ClassLR:
		val, trap := p.memLR(ex.ALUResult, inst)
		if trap != nil {
			out.Trap = trap
			return out
		}
		out.WBValue = val

	case insts.ClassSC:
		val, trap := p.memSC(ex.ALUResult, inst, ex.StoreData)
		if trap != nil {
			out.Trap = trap
			return out
		}
		out.WBValue = val

	case insts.ClassAMO:
		val, trap := p.memAMO(ex.ALUResult, inst, ex.StoreData)
		if trap != nil {
			out.Trap = trap
			return out
		}
		out.WBValue = val

	default:
		out.WBValue = ex.ALUResult
	}
	return out
}

func (p *Pipeline) memLoad(va uint64, inst *insts.Instruction) (uint64, *insts.Trap) {
	width := inst.Ctrl.Width.Bytes()

	res := p.translate(va, insts.AccessRead)
	p.stallCycles += res.Cycles
	if res.Trap != nil {
		return 0, res.Trap
	}

	p.stallCycles += p.memoryLatency(res.PAddr, false, false)

	raw, err := p.bus.Read(res.PAddr, width)
	if err != nil {
		return 0, busTrap(err, insts.AccessRead, va)
	}

	if inst.Class == insts.ClassFPLoad {
		if inst.Ctrl.Width == insts.WidthWord {
			// Single-precision loads NaN-box into the FPR.
			return raw | 0xFFFF_FFFF_0000_0000, nil
		}
		return raw, nil
	}
	return extendLoad(raw, inst.Ctrl.Width, inst.Ctrl.SignedLoad), nil
}

func (p *Pipeline) memStore(va uint64, inst *insts.Instruction, data uint64) *insts.Trap {
	width := inst.Ctrl.Width.Bytes()

	res := p.translate(va, insts.AccessWrite)
	p.stallCycles += res.Cycles
	if res.Trap != nil {
		return res.Trap
	}

	p.stallCycles += p.memoryLatency(res.PAddr, false, true)

	// A store to the reserved line breaks the reservation.
	if p.reservationValid && sameReservationLine(p.reservationAddr, res.PAddr) {
		p.reservationValid = false
	}

	if err := p.bus.Write(res.PAddr, width, data); err != nil {
		return busTrap(err, insts.AccessWrite, va)
	}
	return nil
}

func (p *Pipeline) memLR(va uint64, inst *insts.Instruction) (uint64, *insts.Trap) {
	width := inst.Ctrl.Width.Bytes()
	if va%uint64(width) != 0 {
		return 0, insts.MisalignedFault(insts.AccessRead, va)
	}

	res := p.translate(va, insts.AccessRead)
	p.stallCycles += res.Cycles
	if res.Trap != nil {
		return 0, res.Trap
	}
	p.stallCycles += p.memoryLatency(res.PAddr, false, false)

	raw, err := p.bus.Read(res.PAddr, width)
	if err != nil {
		return 0, busTrap(err, insts.AccessRead, va)
	}

	p.reservationAddr = res.PAddr
	p.reservationValid = true
	return extendLoad(raw, inst.Ctrl.Width, true), nil
}

func (p *Pipeline) memSC(va uint64, inst *insts.Instruction, data uint64) (uint64, *insts.Trap) {
	width := inst.Ctrl.Width.Bytes()
	if va%uint64(width) != 0 {
		return 0, insts.MisalignedFault(insts.AccessWrite, va)
	}

	res := p.translate(va, insts.AccessWrite)
	p.stallCycles += res.Cycles
	if res.Trap != nil {
		return 0, res.Trap
	}

	// The store conditional succeeds only while the reservation from the
	// paired LR is still held.
	if !p.reservationValid || !sameReservationLine(p.reservationAddr, res.PAddr) {
		p.reservationValid = false
		return 1, nil
	}
	p.reservationValid = false

	p.stallCycles += p.memoryLatency(res.PAddr, false, true)
	if err := p.bus.Write(res.PAddr, width, data); err != nil {
		return 0, busTrap(err, insts.AccessWrite, va)
	}
	return 0, nil
}

func (p *Pipeline) memAMO(va uint64, inst *insts.Instruction, operand uint64) (uint64, *insts.Trap) {
	width := inst.Ctrl.Width.Bytes()
	if va%uint64(width) != 0 {
		return 0, insts.MisalignedFault(insts.AccessWrite, va)
	}

	res := p.translate(va, insts.AccessWrite)
	p.stallCycles += res.Cycles
	if res.Trap != nil {
		return 0, res.Trap
	}
	p.stallCycles += p.memoryLatency(res.PAddr, false, true)

	raw, err := p.bus.Read(res.PAddr, width)
	if err != nil {
		return 0, busTrap(err, insts.AccessRead, va)
	}
	old := extendLoad(raw, inst.Ctrl.Width, true)

	newVal := amoCompute(inst.Ctrl.Atomic, old, operand, inst.Ctrl.Width)
	if err := p.bus.Write(res.PAddr, width, newVal); err != nil {
		return 0, busTrap(err, insts.AccessWrite, va)
	}

	if p.reservationValid && sameReservationLine(p.reservationAddr, res.PAddr) {
		p.reservationValid = false
	}
	return old, nil
}

// sameReservationLine compares addresses at a 64-byte reservation
// granularity.
func sameReservationLine(a, b uint64) bool {
	return a>>6 == b>>6
}

// amoCompute applies the atomic operation to the old memory value.
func amoCompute(op insts.AtomicOp, old, operand uint64, width insts.MemWidth) uint64 {
	is32 := width == insts.WidthWord
	a, b := old, operand
	if is32 {
		a = uint64(int64(int32(old)))
		b = uint64(int64(int32(operand)))
	}

	var result uint64
	switch op {
	case insts.AtomicSwap:
		result = b
	case insts.AtomicAdd:
		result = a + b
	case insts.AtomicXor:
		result = a ^ b
	case insts.AtomicAnd:
		result = a & b
	case insts.AtomicOr:
		result = a | b
	case insts.AtomicMin:
		result = a
		if int64(b) < int64(a) {
			result = b
		}
	case insts.AtomicMax:
		result = a
		if int64(b) > int64(a) {
			result = b
		}
	case insts.AtomicMinu:
		result = a
		if b < a {
			result = b
		}
		if is32 {
			result = old
			if uint32(operand) < uint32(old) {
				result = operand
			}
		}
	case insts.AtomicMaxu:
		result = a
		if b > a {
			result = b
		}
		if is32 {
			result = old
			if uint32(operand) > uint32(old) {
				result = operand
			}
		}
	default:
		result = a
	}
	return result
}

// busTrap lifts a bus error into the matching access-fault trap.
func busTrap(err error, access insts.AccessType, va uint64) *insts.Trap {
	if unmapped, ok := err.(*soc.ErrUnmapped); ok {
		return insts.AccessFault(access, unmapped.Addr)
	}
	return insts.AccessFault(access, va)
}

// extendLoad sign- or zero-extends a loaded value per the access width.
func extendLoad(raw uint64, width insts.MemWidth, signed bool) uint64 {
	if !signed {
		return raw & widthMask(width)
	}
	switch width {
	case insts.WidthByte:
		return uint64(int64(int8(raw)))
	case insts.WidthHalf:
		return uint64(int64(int16(raw)))
	case insts.WidthWord:
		return uint64(int64(int32(raw)))
	}
	return raw
}

func widthMask(width insts.MemWidth) uint64 {
	switch width {
	case insts.WidthByte:
		return 0xFF
	case insts.WidthHalf:
		return 0xFFFF
	case insts.WidthWord:
		return 0xFFFF_FFFF
	}
	return ^uint64(0)
}

// executeStage consumes ID/EX: forwarding, functional-unit dispatch, branch
// resolution, and the SYSTEM-class side effects. It writes the new EX/MEM
// latch and reports whether fetch was redirected (mispredict, CSR
// serialization, fence, or trap marking), in which case decode and fetch
// are skipped this cycle.
func (p *Pipeline) executeStage(prevEXMEM *EXMEMRegister) bool {
	if !p.idex.Valid {
		p.exmem.Clear()
		return false
	}

	idex := p.idex
	if idex.Trap != nil {
		p.exmem = EXMEMRegister{Valid: true, PC: idex.PC, Inst: idex.Inst, Trap: idex.Trap}
		// Squash younger work so nothing behind a poisoned instruction
		// reaches memory.
		p.ifid.Clear()
		p.idex.Clear()
		return true
	}

	inst := idex.Inst
	c := inst.Ctrl
	hazards := NewHazardUnit()
	rv1, rv2, rv3 := hazards.Forward(&idex, prevEXMEM, &p.wbLatch)

	if c.IsSystem {
		return p.executeSystem(&idex, rv1, rv2)
	}

	p.armExecTimer(inst)

	opA := rv1
	switch c.ASrc {
	case insts.ASrcPC:
		opA = idex.PC
	case insts.ASrcZero:
		opA = 0
	}
	opB := uint64(inst.Imm)
	switch c.BSrc {
	case insts.BSrcReg2:
		opB = rv2
	case insts.BSrcZero:
		opB = 0
	}

	var result uint64
	switch inst.Class {
	case insts.ClassFPArith, insts.ClassFPFMA, insts.ClassFPDivSqrt:
		result = emu.FPU(c.ALU, rv1, rv2, rv3, c.IsRV32)
	case insts.ClassJump:
		result = idex.PC + uint64(inst.Size)
	default:
		result = emu.ALU(c.ALU, opA, opB, c.IsRV32)
	}

	p.exmem = EXMEMRegister{
		Valid:     true,
		PC:        idex.PC,
		Inst:      inst,
		ALUResult: result,
		StoreData: rv2,
	}

	switch {
	case c.Branch:
		return p.resolveBranch(&idex, rv1, rv2)
	case c.Jump:
		return p.resolveJump(&idex, rv1)
	case inst.Class == insts.ClassFence:
		if c.IsFenceI {
			// FENCE.I: refetch everything younger with a clean I-side.
			p.caches.L1I.InvalidateAll()
			p.flushFrontEnd(idex.PC + uint64(inst.Size))
			return true
		}
	}
	return false
}

// armExecTimer charges the multi-cycle functional units.
func (p *Pipeline) armExecTimer(inst *insts.Instruction) {
	var latency uint64
	switch inst.Ctrl.ALU {
	case insts.ALUMul, insts.ALUMulh, insts.ALUMulhsu, insts.ALUMulhu:
		latency = p.cfg.MulLatency
	case insts.ALUDiv, insts.ALUDivu, insts.ALURem, insts.ALURemu:
		latency = p.cfg.DivLatency
	}
	if inst.Class == insts.ClassFPDivSqrt {
		latency = p.cfg.FPDivSqrtLatency
	}
	if latency > 1 {
		p.execTimer = latency - 1
	}
}

// nextFetchPC is the PC the front end chose after this instruction: the
// fetched-but-undecoded instruction's PC, or the fetch PC when the front
// end is empty.
func (p *Pipeline) nextFetchPC() uint64 {
	if p.ifid.Valid {
		return p.ifid.PC
	}
	return p.pc
}

// resolveBranch computes the actual direction and target, trains the
// predictor, and flushes on a misprediction.
func (p *Pipeline) resolveBranch(idex *IDEXRegister, rv1, rv2 uint64) bool {
	inst := idex.Inst
	taken := branchTaken(inst.Funct3, rv1, rv2)
	actual := idex.PC + uint64(inst.Imm)
	notTaken := idex.PC + uint64(inst.Size)

	expected := p.nextFetchPC()

	var target uint64
	if taken {
		target = actual
	}
	p.predictor.UpdateBranch(idex.PC, taken, target)

	redirect := notTaken
	if taken {
		redirect = actual
	}
	if expected != redirect {
		p.stats.Flushes++
		p.stats.StallsControl += 2
		p.flushFrontEnd(redirect)
		return true
	}
	return false
}

// resolveJump computes the jump target, maintains the RAS, and flushes when
// the front end fetched down the wrong path.
func (p *Pipeline) resolveJump(idex *IDEXRegister, rv1 uint64) bool {
	inst := idex.Inst
	isJALR := inst.Raw&0x7F == insts.OpJALR

	var actual uint64
	if isJALR {
		actual = (rv1 + uint64(inst.Imm)) &^ 1
	} else {
		actual = idex.PC + uint64(inst.Imm)
	}

	retAddr := idex.PC + uint64(inst.Size)
	switch {
	case inst.Ctrl.IsCall:
		p.predictor.OnCall(idex.PC, retAddr, actual)
	case inst.Ctrl.IsReturn:
		p.predictor.OnReturn()
	default:
		p.predictor.UpdateJump(idex.PC, actual)
	}

	if p.nextFetchPC() != actual {
		p.stats.Flushes++
		p.stats.StallsControl += 2
		p.flushFrontEnd(actual)
		return true
	}
	return false
}

func branchTaken(funct3 uint32, rv1, rv2 uint64) bool {
	switch funct3 {
	case insts.F3BEQ:
		return rv1 == rv2
	case insts.F3BNE:
		return rv1 != rv2
	case insts.F3BLT:
		return int64(rv1) < int64(rv2)
	case insts.F3BGE:
		return int64(rv1) >= int64(rv2)
	case insts.F3BLTU:
		return rv1 < rv2
	case insts.F3BGEU:
		return rv1 >= rv2
	}
	return false
}

// executeSystem handles the SYSTEM class: xRET, WFI, SFENCE.VMA, CSR
// accesses, and environment calls. CSR instructions serialize: the front
// end refetches from the next PC once the access completes.
func (p *Pipeline) executeSystem(idex *IDEXRegister, rv1, rv2 uint64) bool {
	inst := idex.Inst
	c := inst.Ctrl
	nextPC := idex.PC + uint64(inst.Size)

	passThrough := func() {
		p.exmem = EXMEMRegister{Valid: true, PC: idex.PC, Inst: inst}
	}

	switch {
	case c.IsMRET:
		passThrough()
		p.flushFrontEnd(p.csrs.MRET())
		return true

	case c.IsSRET:
		passThrough()
		p.flushFrontEnd(p.csrs.SRET())
		return true

	case c.IsWFI:
		// The interrupt check at the top of Tick provides the wakeup; WFI
		// itself completes as a no-op.
		passThrough()
		return false

	case c.IsSFenceVMA:
		byVA := inst.Rs1 != 0
		byASID := inst.Rs2 != 0
		p.mmuUnit.FlushTLBs(rv1, rv2, byVA, byASID)
		passThrough()
		p.flushFrontEnd(nextPC)
		return true

	case c.IsECall:
		var cause uint64
		switch p.csrs.Priv {
		case insts.PrivUser:
			cause = insts.CauseECallFromU
		case insts.PrivSupervisor:
			cause = insts.CauseECallFromS
		default:
			cause = insts.CauseECallFromM
		}
		p.exmem = EXMEMRegister{
			Valid: true, PC: idex.PC, Inst: inst,
			Trap: insts.Exception(cause, 0),
		}
		p.flushFrontEnd(idex.PC)
		return true

	case c.IsEBreak:
		p.exmem = EXMEMRegister{
			Valid: true, PC: idex.PC, Inst: inst,
			Trap: insts.Exception(insts.CauseBreakpoint, idex.PC),
		}
		p.flushFrontEnd(idex.PC)
		return true
	}

	// CSR access.
	old := p.csrs.Read(c.CSRAddr)
	src := rv1
	switch c.CSROp {
	case insts.CSRRWI, insts.CSRRSI, insts.CSRRCI:
		src = uint64(inst.Imm) & 0x1F
	}

	var newVal uint64
	switch c.CSROp {
	case insts.CSRRW, insts.CSRRWI:
		newVal = src
	case insts.CSRRS, insts.CSRRSI:
		newVal = old | src
	case insts.CSRRC, insts.CSRRCI:
		newVal = old &^ src
	}

	if c.CSRWrites {
		if c.CSRAddr == insts.CSRSATP {
			p.writeSATP(old, newVal)
		} else {
			p.csrs.Write(c.CSRAddr, newVal)
		}
	}

	if t := p.pendingPanic; t != nil {
		p.pendingPanic = nil
		p.deliverTrap(t, idex.PC)
		return true
	}

	p.exmem = EXMEMRegister{
		Valid: true, PC: idex.PC, Inst: inst, ALUResult: old,
	}
	p.flushFrontEnd(nextPC)
	return true
}

// writeSATP installs a new translation root. Changing the ASID or MODE
// fields flushes the TLBs; a same-space PPN change relies on SFENCE.VMA as
// the architecture allows.
func (p *Pipeline) writeSATP(old, newVal uint64) {
	p.csrs.Write(insts.CSRSATP, newVal)

	oldKey := old >> insts.SATPASIDShift
	newKey := newVal >> insts.SATPASIDShift
	if oldKey != newKey {
		p.mmuUnit.FlushTLBs(0, 0, false, false)
	}
}

// decodeStage consumes IF/ID: decode, register read, and illegal-opcode
// poisoning.
func (p *Pipeline) decodeStage() {
	if !p.ifid.Valid {
		p.idex.Clear()
		return
	}

	if p.ifid.Trap != nil {
		p.idex = IDEXRegister{Valid: true, PC: p.ifid.PC, Trap: p.ifid.Trap}
		p.ifid.Clear()
		return
	}

	inst := insts.Decode(p.ifid.Raw)
	idex := IDEXRegister{Valid: true, PC: p.ifid.PC, Inst: inst}

	if inst.Class == insts.ClassIllegal {
		idex.Trap = insts.Exception(insts.CauseIllegalInstruction, uint64(inst.Raw))
	} else {
		c := inst.Ctrl
		if c.Rs1FP {
			idex.RV1 = p.regs.ReadF(inst.Rs1)
		} else {
			idex.RV1 = p.regs.Read(inst.Rs1)
		}
		if c.Rs2FP {
			idex.RV2 = p.regs.ReadF(inst.Rs2)
		} else {
			idex.RV2 = p.regs.Read(inst.Rs2)
		}
		if c.Rs3FP {
			idex.RV3 = p.regs.ReadF(inst.Rs3)
		}
	}

	p.idex = idex
	p.ifid.Clear()
}

// fetchStage translates the PC, charges the I-side hierarchy, reads the
// instruction word, and speculatively redirects fetch using the predictor.
// Translation faults become a poisoned latch entry that traps at writeback.
func (p *Pipeline) fetchStage() {
	if p.ifid.Valid {
		return
	}

	pc := p.pc
	if pc%2 != 0 {
		p.ifid = IFIDRegister{
			Valid: true, PC: pc,
			Trap: insts.MisalignedFault(insts.AccessFetch, pc),
		}
		return
	}

	res := p.translate(pc, insts.AccessFetch)
	p.stallCycles += res.Cycles
	if res.Trap != nil {
		p.ifid = IFIDRegister{Valid: true, PC: pc, Trap: res.Trap}
		return
	}

	p.stallCycles += p.memoryLatency(res.PAddr, true, false)

	raw, trap := p.fetchWord(pc, res.PAddr)
	if trap != nil {
		p.ifid = IFIDRegister{Valid: true, PC: pc, Trap: trap}
		return
	}

	inst := insts.Decode(raw)
	next := pc + uint64(inst.Size)

	switch inst.Class {
	case insts.ClassBranch:
		if taken, target, known := p.predictor.PredictBranch(pc); taken && known {
			next = target
		}
	case insts.ClassJump:
		if inst.Ctrl.IsReturn {
			if target, ok := p.predictor.PredictReturn(); ok {
				p.stats.RASPredictions++
				next = target
			}
		} else if target, ok := p.predictor.PredictBTB(pc); ok {
			next = target
		}
	}

	p.ifid = IFIDRegister{Valid: true, PC: pc, Raw: raw}
	p.pc = next
}

// fetchWord reads a 16- or 32-bit instruction, translating the upper half
// separately when it crosses a page boundary.
func (p *Pipeline) fetchWord(pc, paddr uint64) (uint32, *insts.Trap) {
	lo, err := p.bus.Read(paddr, 2)
	if err != nil {
		return 0, busTrap(err, insts.AccessFetch, pc)
	}
	if lo&0x3 != 0x3 {
		return uint32(lo), nil
	}

	hiPAddr := paddr + 2
	if pc&0xFFF == 0xFFE {
		res := p.translate(pc+2, insts.AccessFetch)
		p.stallCycles += res.Cycles
		if res.Trap != nil {
			return 0, res.Trap
		}
		hiPAddr = res.PAddr
	}

	hi, err := p.bus.Read(hiPAddr, 2)
	if err != nil {
		return 0, busTrap(err, insts.AccessFetch, pc)
	}
	return uint32(lo) | uint32(hi)<<16, nil
}
