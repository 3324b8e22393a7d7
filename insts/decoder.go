package insts

// Decoder decodes 16-bit machine words into instructions.
type Decoder struct{}

// NewDecoder creates a new instruction decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Decode decodes a 16-bit instruction word. It is total: words that do not
// name a defined operation decode to OpUnknown, which the pipeline treats
// as a NOP.
func (d *Decoder) Decode(word uint16) *Instruction {
	inst := &Instruction{Raw: word}

	opcode := (word >> 12) & 0xF

	switch opcode {
	case OpcodeRType:
		d.decodeRType(word, inst)
	case OpcodeJUMP, OpcodeJAL:
		d.decodeJType(word, opcode, inst)
	case OpcodeLW, OpcodeSW, OpcodeADDI, OpcodeSUBI, OpcodeSLTI,
		OpcodeBEQ, OpcodeBNE, OpcodeANDI:
		d.decodeIType(word, opcode, inst)
	default:
		inst.Op = OpUnknown
		inst.Format = FormatUnknown
	}

	return inst
}

// decodeRType extracts op[15:12] rs[11:9] rt[8:6] rd[5:3] funct[2:0].
func (d *Decoder) decodeRType(word uint16, inst *Instruction) {
	inst.Format = FormatR
	inst.Rs = uint8((word >> 9) & 0x7)
	inst.Rt = uint8((word >> 6) & 0x7)
	inst.Rd = uint8((word >> 3) & 0x7)
	inst.Funct = uint8(word & 0x7)

	switch inst.Funct {
	case FunctADD:
		inst.Op = OpADD
	case FunctSUB:
		inst.Op = OpSUB
	case FunctAND:
		inst.Op = OpAND
	case FunctOR:
		inst.Op = OpOR
	case FunctSLT:
		inst.Op = OpSLT
	case FunctJR:
		inst.Op = OpJR
	default:
		inst.Op = OpUnknown
	}
}

// decodeIType extracts op[15:12] rs[11:9] rt[8:6] imm[5:0].
func (d *Decoder) decodeIType(word, opcode uint16, inst *Instruction) {
	inst.Format = FormatI
	inst.Rs = uint8((word >> 9) & 0x7)
	inst.Rt = uint8((word >> 6) & 0x7)
	inst.Imm = SignExtend6(word & 0x3F)

	switch opcode {
	case OpcodeLW:
		inst.Op = OpLW
	case OpcodeSW:
		inst.Op = OpSW
	case OpcodeADDI:
		inst.Op = OpADDI
	case OpcodeSUBI:
		inst.Op = OpSUBI
	case OpcodeSLTI:
		inst.Op = OpSLTI
	case OpcodeBEQ:
		inst.Op = OpBEQ
	case OpcodeBNE:
		inst.Op = OpBNE
	case OpcodeANDI:
		inst.Op = OpANDI
	}
}

// decodeJType extracts op[15:12] addr[11:0].
func (d *Decoder) decodeJType(word, opcode uint16, inst *Instruction) {
	inst.Format = FormatJ
	inst.Addr = word & 0xFFF

	if opcode == OpcodeJUMP {
		inst.Op = OpJUMP
	} else {
		inst.Op = OpJAL
	}
}

// Disassemble returns the canonical disassembly of a machine word.
func Disassemble(word uint16) string {
	return NewDecoder().Decode(word).String()
}
