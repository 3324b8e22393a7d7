// Package pipeline provides the 5-stage pipeline implementation of the
// simulator: pipeline latches, per-stage logic, hazard detection and
// forwarding, and the per-cycle engine.
package pipeline

// ResultSource selects where the value written back to the register file
// comes from.
type ResultSource uint8

// Write-back sources.
const (
	// ResultALU writes the ALU result.
	ResultALU ResultSource = iota
	// ResultMem writes the loaded memory word.
	ResultMem
	// ResultLink writes PC+1 (JAL return address).
	ResultLink
)

// ALUOp selects the ALU operation performed in EX.
type ALUOp uint8

// ALU operations.
const (
	ALUNone ALUOp = iota
	ALUAdd
	ALUSub
	ALUAnd
	ALUOr
	ALUSlt
)

// IFIDRegister holds state between Fetch and Decode stages.
type IFIDRegister struct {
	// Valid indicates if this latch contains an instruction; false is a
	// bubble.
	Valid bool

	// PC is the word address the instruction was fetched from.
	PC uint16

	// PCPlus1 is the incremented program counter.
	PCPlus1 uint16

	// Instr is the raw 16-bit instruction word.
	Instr uint16
}

// Clear resets the IF/ID latch to a bubble.
func (r *IFIDRegister) Clear() {
	*r = IFIDRegister{}
}

// IDEXRegister holds state between Decode and Execute stages.
type IDEXRegister struct {
	Valid   bool
	PC      uint16
	PCPlus1 uint16
	Instr   uint16

	// Source register numbers for forwarding checks.
	Rs uint8
	Rt uint8

	// WriteReg is the destination register (rd for R-type, rt for I-type,
	// r7 for JAL).
	WriteReg uint8

	// Register values read in ID.
	RsVal uint16
	RtVal uint16

	// ImmOperand is the immediate after extension (sign-extended, or
	// zero-extended for ANDI), ready to be muxed into ALU input B.
	ImmOperand uint16

	// Control signals.
	ALUSrc    bool
	ALUOp     ALUOp
	RegWrite  bool
	MemRead   bool
	MemWrite  bool
	ResultSel ResultSource
}

// Clear resets the ID/EX latch to a bubble.
func (r *IDEXRegister) Clear() {
	*r = IDEXRegister{}
}

// EXMEMRegister holds state between Execute and Memory stages.
type EXMEMRegister struct {
	Valid   bool
	PC      uint16
	PCPlus1 uint16
	Instr   uint16

	// ALUResult is the computed value (memory address for LW/SW).
	ALUResult uint16

	// StoreVal is the word a store writes: the post-forwarding ALU B
	// input captured before the immediate mux.
	StoreVal uint16

	WriteReg  uint8
	RegWrite  bool
	MemRead   bool
	MemWrite  bool
	ResultSel ResultSource
}

// Clear resets the EX/MEM latch to a bubble.
func (r *EXMEMRegister) Clear() {
	*r = EXMEMRegister{}
}

// MEMWBRegister holds state between Memory and Writeback stages.
type MEMWBRegister struct {
	Valid   bool
	PC      uint16
	PCPlus1 uint16
	Instr   uint16

	ALUResult uint16

	// MemData is the word read from data memory (for loads).
	MemData uint16

	WriteReg  uint8
	RegWrite  bool
	ResultSel ResultSource
}

// Clear resets the MEM/WB latch to a bubble.
func (r *MEMWBRegister) Clear() {
	*r = MEMWBRegister{}
}

// WriteData returns the value the write-back mux selects for this latch.
func (r *MEMWBRegister) WriteData() uint16 {
	switch r.ResultSel {
	case ResultMem:
		return r.MemData
	case ResultLink:
		return r.PCPlus1
	default:
		return r.ALUResult
	}
}
