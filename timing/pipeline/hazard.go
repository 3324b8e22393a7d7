package pipeline

import "github.com/sarchlab/pipesim/insts"

// ForwardSource indicates where a forwarded value comes from.
type ForwardSource int

const (
	// ForwardNone means no forwarding - use the register file value.
	ForwardNone ForwardSource = iota
	// ForwardFromEXMEM forwards the EX/MEM ALU result.
	ForwardFromEXMEM
	// ForwardFromMEMWB forwards the MEM/WB write-back value.
	ForwardFromMEMWB
	// ForwardFromIDEX forwards the value the EX stage is producing in the
	// current cycle (ID-stage bypass for branch compare and JR).
	ForwardFromIDEX
)

// String returns the latch name used in serialized forward records.
func (s ForwardSource) String() string {
	switch s {
	case ForwardFromEXMEM:
		return "EX_MEM"
	case ForwardFromMEMWB:
		return "MEM_WB"
	case ForwardFromIDEX:
		return "ID_EX"
	default:
		return "NONE"
	}
}

// ForwardingResult contains the EX-stage forwarding decisions for the two
// ALU operands.
type ForwardingResult struct {
	// ForwardA specifies the forwarding source for ALU input A (rs).
	ForwardA ForwardSource
	// ForwardB specifies the forwarding source for ALU input B (rt).
	ForwardB ForwardSource
}

// HazardUnit detects data hazards and decides forwarding and stalls.
type HazardUnit struct{}

// NewHazardUnit creates a new hazard detection unit.
func NewHazardUnit() *HazardUnit {
	return &HazardUnit{}
}

// DetectForwarding computes EX-stage forwarding for both ALU inputs.
// EX/MEM has priority over MEM/WB; r0 never forwards.
func (h *HazardUnit) DetectForwarding(
	idex *IDEXRegister,
	exmem *EXMEMRegister,
	memwb *MEMWBRegister,
) ForwardingResult {
	result := ForwardingResult{}
	if !idex.Valid {
		return result
	}

	result.ForwardA = h.detectForwardForReg(idex.Rs, exmem, memwb)
	result.ForwardB = h.detectForwardForReg(idex.Rt, exmem, memwb)
	return result
}

func (h *HazardUnit) detectForwardForReg(
	reg uint8,
	exmem *EXMEMRegister,
	memwb *MEMWBRegister,
) ForwardSource {
	if reg == 0 {
		return ForwardNone
	}
	if exmem.Valid && exmem.RegWrite && exmem.WriteReg == reg {
		return ForwardFromEXMEM
	}
	if memwb.Valid && memwb.RegWrite && memwb.WriteReg == reg {
		return ForwardFromMEMWB
	}
	return ForwardNone
}

// ForwardedValue resolves an EX-stage forwarding decision to a value.
// MEM/WB forwards the write-back mux output, so a load forwards its data.
func (h *HazardUnit) ForwardedValue(
	forward ForwardSource,
	original uint16,
	exmem *EXMEMRegister,
	memwb *MEMWBRegister,
) uint16 {
	switch forward {
	case ForwardFromEXMEM:
		return exmem.ALUResult
	case ForwardFromMEMWB:
		return memwb.WriteData()
	default:
		return original
	}
}

// DetectIDForward computes the ID-stage forward for one register read,
// used for branch comparison and the JR target. Priority: the value being
// computed in EX this cycle, then EX/MEM, then MEM/WB.
func (h *HazardUnit) DetectIDForward(
	reg uint8,
	currentEX *EXMEMRegister,
	exmem *EXMEMRegister,
	memwb *MEMWBRegister,
) (uint16, ForwardSource) {
	if reg != 0 {
		if currentEX.Valid && currentEX.RegWrite && currentEX.WriteReg == reg {
			return currentEX.ALUResult, ForwardFromIDEX
		}
		if exmem.Valid && exmem.RegWrite && exmem.WriteReg == reg {
			return exmem.ALUResult, ForwardFromEXMEM
		}
		if memwb.Valid && memwb.RegWrite && memwb.WriteReg == reg {
			return memwb.WriteData(), ForwardFromMEMWB
		}
	}
	return 0, ForwardNone
}

// sourceRegs reports which of rs/rt an instruction in ID reads. A store's
// rt is not a hazard source: its data is captured at EX from the forwarded
// B input.
func sourceRegs(inst *insts.Instruction) (usesRs, usesRt bool) {
	switch inst.Op {
	case insts.OpADD, insts.OpSUB, insts.OpAND, insts.OpOR, insts.OpSLT,
		insts.OpBEQ, insts.OpBNE:
		return true, true
	case insts.OpJR, insts.OpLW, insts.OpSW,
		insts.OpADDI, insts.OpSUBI, insts.OpSLTI, insts.OpANDI:
		return true, false
	default:
		return false, false
	}
}

// DetectLoadUse detects the load-use hazard: a load in EX whose
// destination is read by the instruction in ID. The loaded value only
// exists after MEM, so ID must wait one cycle for MEM/WB forwarding.
func (h *HazardUnit) DetectLoadUse(inst *insts.Instruction, idex *IDEXRegister) (uint8, bool) {
	if !idex.Valid || !idex.MemRead || idex.WriteReg == 0 {
		return 0, false
	}
	usesRs, usesRt := sourceRegs(inst)
	if usesRs && inst.Rs == idex.WriteReg {
		return idex.WriteReg, true
	}
	if usesRt && inst.Rt == idex.WriteReg {
		return idex.WriteReg, true
	}
	return 0, false
}

// DetectBranchLoad detects the second stall category: a branch or JR in
// ID whose operand is produced by a load still in MEM. ID-stage forwarding
// reaches back only as far as latched ALU results, so the decode must wait
// until the load's data arrives in MEM/WB.
func (h *HazardUnit) DetectBranchLoad(inst *insts.Instruction, exmem *EXMEMRegister) (uint8, bool) {
	switch inst.Op {
	case insts.OpBEQ, insts.OpBNE, insts.OpJR:
	default:
		return 0, false
	}
	if !exmem.Valid || !exmem.MemRead || exmem.WriteReg == 0 {
		return 0, false
	}
	usesRs, usesRt := sourceRegs(inst)
	if usesRs && inst.Rs == exmem.WriteReg {
		return exmem.WriteReg, true
	}
	if usesRt && inst.Rt == exmem.WriteReg {
		return exmem.WriteReg, true
	}
	return 0, false
}
