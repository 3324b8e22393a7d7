package pipeline

import (
	"github.com/sarchlab/pipesim/emu"
	"github.com/sarchlab/pipesim/insts"
)

// FetchStage reads instruction memory.
type FetchStage struct {
	imem *emu.InstructionMemory
}

// NewFetchStage creates a new fetch stage.
func NewFetchStage(imem *emu.InstructionMemory) *FetchStage {
	return &FetchStage{imem: imem}
}

// Fetch reads the instruction at pc. ok is false past the loaded program,
// which fetches as a bubble so the pipeline can drain.
func (s *FetchStage) Fetch(pc uint16) (uint16, bool) {
	if !s.imem.Contains(pc) {
		return insts.NOP, false
	}
	return s.imem.Read(pc), true
}

// DecodeStage decodes instructions and reads the register file.
type DecodeStage struct {
	regFile *emu.RegFile
	decoder *insts.Decoder
}

// NewDecodeStage creates a new decode stage.
func NewDecodeStage(regFile *emu.RegFile) *DecodeStage {
	return &DecodeStage{
		regFile: regFile,
		decoder: insts.NewDecoder(),
	}
}

// DecodeResult holds the decoded instruction, its register reads, and the
// derived control signals.
type DecodeResult struct {
	Inst *insts.Instruction

	RsVal uint16
	RtVal uint16

	// WriteReg is the destination register number.
	WriteReg uint8

	// ImmOperand is the extended immediate for ALU input B.
	ImmOperand uint16

	// Control signals.
	ALUSrc    bool
	ALUOp     ALUOp
	RegWrite  bool
	MemRead   bool
	MemWrite  bool
	ResultSel ResultSource

	// Control-flow classification; targets are resolved by the engine
	// with ID-stage forwarding.
	IsBranch bool
	IsJump   bool
	IsJAL    bool
	IsJR     bool
}

// Decode decodes an instruction word and derives control signals. An
// undefined word decodes with all control signals zero.
func (s *DecodeStage) Decode(word uint16) DecodeResult {
	inst := s.decoder.Decode(word)
	result := DecodeResult{
		Inst:       inst,
		RsVal:      s.regFile.Read(inst.Rs),
		RtVal:      s.regFile.Read(inst.Rt),
		ImmOperand: uint16(inst.Imm),
	}

	switch inst.Op {
	case insts.OpADD, insts.OpSUB, insts.OpAND, insts.OpOR, insts.OpSLT:
		result.RegWrite = true
		result.WriteReg = inst.Rd
		result.ALUOp = rTypeALUOps[inst.Funct]
	case insts.OpJR:
		result.IsJR = true
	case insts.OpLW:
		result.RegWrite = true
		result.MemRead = true
		result.ResultSel = ResultMem
		result.WriteReg = inst.Rt
		result.ALUSrc = true
		result.ALUOp = ALUAdd
	case insts.OpSW:
		result.MemWrite = true
		result.ALUSrc = true
		result.ALUOp = ALUAdd
	case insts.OpADDI:
		result.RegWrite = true
		result.WriteReg = inst.Rt
		result.ALUSrc = true
		result.ALUOp = ALUAdd
	case insts.OpSUBI:
		result.RegWrite = true
		result.WriteReg = inst.Rt
		result.ALUSrc = true
		result.ALUOp = ALUSub
	case insts.OpSLTI:
		result.RegWrite = true
		result.WriteReg = inst.Rt
		result.ALUSrc = true
		result.ALUOp = ALUSlt
	case insts.OpANDI:
		// ANDI is the one immediate form that zero-extends.
		result.RegWrite = true
		result.WriteReg = inst.Rt
		result.ALUSrc = true
		result.ALUOp = ALUAnd
		result.ImmOperand = uint16(inst.Imm) & 0x3F
	case insts.OpBEQ, insts.OpBNE:
		result.IsBranch = true
	case insts.OpJUMP:
		result.IsJump = true
	case insts.OpJAL:
		result.IsJump = true
		result.IsJAL = true
		result.RegWrite = true
		result.WriteReg = insts.ReturnRegister
		result.ResultSel = ResultLink
	}

	return result
}

var rTypeALUOps = map[uint8]ALUOp{
	insts.FunctADD: ALUAdd,
	insts.FunctSUB: ALUSub,
	insts.FunctAND: ALUAnd,
	insts.FunctOR:  ALUOr,
	insts.FunctSLT: ALUSlt,
}

// ExecuteStage performs ALU operations and address calculation.
type ExecuteStage struct{}

// NewExecuteStage creates a new execute stage.
func NewExecuteStage() *ExecuteStage {
	return &ExecuteStage{}
}

// ExecuteResult holds the result of the execute stage.
type ExecuteResult struct {
	ALUResult uint16

	// StoreVal is the post-forwarding B input, captured for stores.
	StoreVal uint16
}

// Execute computes the ALU result from the forwarded operand values.
// aVal and bVal are the rs and rt values after EX-stage forwarding; the
// immediate mux is applied here.
func (s *ExecuteStage) Execute(idex *IDEXRegister, aVal, bVal uint16) ExecuteResult {
	result := ExecuteResult{StoreVal: bVal}

	if idex.ResultSel == ResultLink {
		// JAL: expose the return address so EX/MEM forwarding serves a
		// dependent JR before the write-back happens.
		result.ALUResult = idex.PCPlus1
		return result
	}

	b := bVal
	if idex.ALUSrc {
		b = idex.ImmOperand
	}

	switch idex.ALUOp {
	case ALUAdd:
		result.ALUResult = aVal + b
	case ALUSub:
		result.ALUResult = aVal - b
	case ALUAnd:
		result.ALUResult = aVal & b
	case ALUOr:
		result.ALUResult = aVal | b
	case ALUSlt:
		if int16(aVal) < int16(b) {
			result.ALUResult = 1
		}
	}

	return result
}

// MemoryStage accesses data memory.
type MemoryStage struct {
	dmem *emu.DataMemory
}

// NewMemoryStage creates a new memory stage.
func NewMemoryStage(dmem *emu.DataMemory) *MemoryStage {
	return &MemoryStage{dmem: dmem}
}

// MemoryResult holds the result of the memory stage.
type MemoryResult struct {
	MemData uint16

	// Uninitialized is set when a load hit a never-written address.
	Uninitialized bool

	// Address is the 9-bit word address that was accessed.
	Address uint16
}

// Access performs the memory read or write for the EX/MEM latch.
func (s *MemoryStage) Access(exmem *EXMEMRegister) MemoryResult {
	result := MemoryResult{}
	if !exmem.Valid {
		return result
	}

	addr := exmem.ALUResult & emu.DataAddressMask
	result.Address = addr

	if exmem.MemRead {
		data, initialized := s.dmem.Read(addr)
		result.MemData = data
		result.Uninitialized = !initialized
	} else if exmem.MemWrite {
		s.dmem.Write(addr, exmem.StoreVal)
	}

	return result
}

// WritebackStage writes results to the register file.
type WritebackStage struct {
	regFile *emu.RegFile
}

// NewWritebackStage creates a new writeback stage.
func NewWritebackStage(regFile *emu.RegFile) *WritebackStage {
	return &WritebackStage{regFile: regFile}
}

// Writeback commits the MEM/WB latch to the register file. Writes to r0
// are dropped by the register file itself.
func (s *WritebackStage) Writeback(memwb *MEMWBRegister) {
	if !memwb.Valid || !memwb.RegWrite {
		return
	}
	s.regFile.Write(memwb.WriteReg, memwb.WriteData())
}
