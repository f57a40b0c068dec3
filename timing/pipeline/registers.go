// Package pipeline provides the five-stage in-order pipeline model: latches,
// hazard detection and forwarding, precise trap handling, and the per-cycle
// stage sequence that orchestrates the branch predictor, caches, MMU, and
// bus.
package pipeline

import (
	"github.com/sarchlab/rvsim/insts"
)

// IFIDRegister holds state between Fetch and Decode.
type IFIDRegister struct {
	// Valid indicates the register carries a fetched instruction.
	Valid bool

	// PC is the program counter of the fetched instruction.
	PC uint64

	// Raw is the raw instruction word (low 16 bits for compressed).
	Raw uint32

	// Trap carries a fetch-time fault that will deliver at writeback.
	Trap *insts.Trap
}

// Clear resets the IF/ID register to a bubble.
func (r *IFIDRegister) Clear() {
	*r = IFIDRegister{}
}

// IDEXRegister holds state between Decode and Execute.
type IDEXRegister struct {
	// Valid indicates the register carries a decoded instruction.
	Valid bool

	// PC is the program counter of the instruction.
	PC uint64

	// Inst is the decoded instruction.
	Inst *insts.Instruction

	// Source register values read at decode.
	RV1 uint64
	RV2 uint64
	RV3 uint64

	// Trap carries a decode-time fault (illegal instruction) or a
	// propagated fetch fault.
	Trap *insts.Trap
}

// Clear resets the ID/EX register to a bubble.
func (r *IDEXRegister) Clear() {
	*r = IDEXRegister{}
}

// EXMEMRegister holds state between Execute and Memory.
type EXMEMRegister struct {
	// Valid indicates the register carries an executed instruction.
	Valid bool

	// PC is the program counter of the instruction.
	PC uint64

	// Inst is the decoded instruction.
	Inst *insts.Instruction

	// ALUResult is the computed value (memory address for loads/stores).
	ALUResult uint64

	// StoreData is the forwarded value to store.
	StoreData uint64

	// Trap carries a fault detected at or before execute.
	Trap *insts.Trap
}

// Clear resets the EX/MEM register to a bubble.
func (r *EXMEMRegister) Clear() {
	*r = EXMEMRegister{}
}

// MEMWBRegister holds state between Memory and Writeback.
type MEMWBRegister struct {
	// Valid indicates the register carries a completing instruction.
	Valid bool

	// PC is the program counter of the instruction.
	PC uint64

	// Inst is the decoded instruction.
	Inst *insts.Instruction

	// WBValue is the value to write to the destination register.
	WBValue uint64

	// Trap carries the fault to deliver at the commit boundary.
	Trap *insts.Trap
}

// Clear resets the MEM/WB register to a bubble.
func (r *MEMWBRegister) Clear() {
	*r = MEMWBRegister{}
}
