// Package asm translates assembly source text into 16-bit machine code.
//
// Assembly is two-pass: the first pass tokenizes lines and assigns label
// addresses, the second encodes instructions and resolves label references.
// It stops at the first error and reports the offending source line.
package asm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sarchlab/pipesim/insts"
)

// MaxInstructions is the instruction memory capacity in words.
const MaxInstructions = 512

// Record describes one assembled instruction with its source mapping.
type Record struct {
	Address uint16
	Raw     uint16
	Hex     string
	Binary  string
	Source  string
	Disasm  string
	Format  string
}

// Program is the output of a successful assembly.
type Program struct {
	Records []Record
	Symbols map[string]uint16
}

// Words returns the machine words in address order.
func (p *Program) Words() []uint16 {
	words := make([]uint16, len(p.Records))
	for i, r := range p.Records {
		words[i] = r.Raw
	}
	return words
}

// sourceLine is a tokenized instruction waiting for the encode pass.
type sourceLine struct {
	addr     uint16
	line     int
	mnemonic string
	operands []string
	source   string
}

// Assemble translates source text into a Program. On failure it returns a
// *Error naming the error kind and the 1-based source line.
func Assemble(code string) (*Program, error) {
	lines := strings.Split(code, "\n")

	symbols := map[string]uint16{}
	var pending []sourceLine

	// Pass 1: tokenize, collect labels.
	addr := uint16(0)
	for num, raw := range lines {
		lineNum := num + 1
		label, fields, err := tokenize(raw, lineNum)
		if err != nil {
			return nil, err
		}

		if label != "" {
			if _, dup := symbols[label]; dup {
				return nil, errorf(BadOperand, lineNum, "duplicate label %q", label)
			}
			symbols[label] = addr
		}

		if len(fields) == 0 {
			continue
		}
		if int(addr) >= MaxInstructions {
			return nil, errorf(TooManyInstructions, lineNum,
				"program exceeds %d instructions", MaxInstructions)
		}

		pending = append(pending, sourceLine{
			addr:     addr,
			line:     lineNum,
			mnemonic: strings.ToUpper(fields[0]),
			operands: fields[1:],
			source:   strings.TrimSpace(stripComment(raw)),
		})
		addr++
	}

	// Pass 2: encode.
	prog := &Program{Symbols: symbols}
	for _, sl := range pending {
		word, err := encode(sl, symbols)
		if err != nil {
			return nil, err
		}
		inst := insts.NewDecoder().Decode(word)
		prog.Records = append(prog.Records, Record{
			Address: sl.addr,
			Raw:     word,
			Hex:     fmt.Sprintf("%04X", word),
			Binary:  fmt.Sprintf("%016b", word),
			Source:  sl.source,
			Disasm:  inst.String(),
			Format:  inst.Format.String(),
		})
	}

	return prog, nil
}

// stripComment removes everything from the first '#' or ';' on.
func stripComment(line string) string {
	if i := strings.IndexAny(line, "#;"); i >= 0 {
		return line[:i]
	}
	return line
}

// tokenize splits one source line into an optional label and fields.
// Commas and parentheses separate tokens just like whitespace.
func tokenize(line string, lineNum int) (string, []string, error) {
	line = stripComment(line)

	label := ""
	if i := strings.Index(line, ":"); i >= 0 {
		label = strings.ToLower(strings.TrimSpace(line[:i]))
		if !isIdentifier(label) {
			return "", nil, errorf(BadOperand, lineNum, "invalid label %q", label)
		}
		line = line[i+1:]
	}

	fields := strings.FieldsFunc(line, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\r' || r == ',' || r == '(' || r == ')'
	})
	return label, fields, nil
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		alpha := r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
		if !alpha && (i == 0 || r < '0' || r > '9') {
			return false
		}
	}
	return true
}

// encode translates one tokenized instruction into its machine word.
func encode(sl sourceLine, symbols map[string]uint16) (uint16, error) {
	switch sl.mnemonic {
	case "NOP":
		if len(sl.operands) != 0 {
			return 0, errorf(BadOperand, sl.line, "NOP takes no operands")
		}
		return insts.NOP, nil

	case "ADD", "SUB", "AND", "OR", "SLT":
		return encodeRThreeOp(sl)

	case "JR":
		if len(sl.operands) != 1 {
			return 0, errorf(BadOperand, sl.line, "JR requires 1 operand, got %d", len(sl.operands))
		}
		rs, err := parseRegister(sl.operands[0], sl.line)
		if err != nil {
			return 0, err
		}
		return encodeR(rs, 0, 0, insts.FunctJR), nil

	case "LW", "SW":
		return encodeMem(sl)

	case "ADDI", "SUBI", "SLTI", "ANDI":
		return encodeImm(sl)

	case "BEQ", "BNE", "BNQ":
		return encodeBranch(sl, symbols)

	case "JUMP", "JAL":
		return encodeJump(sl, symbols)

	default:
		return 0, errorf(UnknownMnemonic, sl.line, "%s", sl.mnemonic)
	}
}

var rTypeFuncts = map[string]uint8{
	"ADD": insts.FunctADD,
	"SUB": insts.FunctSUB,
	"AND": insts.FunctAND,
	"OR":  insts.FunctOR,
	"SLT": insts.FunctSLT,
}

var iTypeOpcodes = map[string]uint16{
	"LW":   insts.OpcodeLW,
	"SW":   insts.OpcodeSW,
	"ADDI": insts.OpcodeADDI,
	"SUBI": insts.OpcodeSUBI,
	"SLTI": insts.OpcodeSLTI,
	"BEQ":  insts.OpcodeBEQ,
	"BNE":  insts.OpcodeBNE,
	"BNQ":  insts.OpcodeBNE, // legacy spelling
	"ANDI": insts.OpcodeANDI,
}

// encodeRThreeOp handles "op $rd,$rs,$rt".
func encodeRThreeOp(sl sourceLine) (uint16, error) {
	if len(sl.operands) != 3 {
		return 0, errorf(BadOperand, sl.line,
			"%s requires 3 operands, got %d", sl.mnemonic, len(sl.operands))
	}
	rd, err := parseRegister(sl.operands[0], sl.line)
	if err != nil {
		return 0, err
	}
	rs, err := parseRegister(sl.operands[1], sl.line)
	if err != nil {
		return 0, err
	}
	rt, err := parseRegister(sl.operands[2], sl.line)
	if err != nil {
		return 0, err
	}
	return encodeR(rs, rt, rd, rTypeFuncts[sl.mnemonic]), nil
}

// encodeMem handles "LW/SW $rt,imm($rs)" and the "LW/SW $rt,$rs,imm" form.
// Tokenization has already dissolved the parentheses, so both arrive as
// three fields; the position of the register token tells them apart.
func encodeMem(sl sourceLine) (uint16, error) {
	if len(sl.operands) != 3 {
		return 0, errorf(BadOperand, sl.line,
			"%s requires a register and a memory operand", sl.mnemonic)
	}
	rt, err := parseRegister(sl.operands[0], sl.line)
	if err != nil {
		return 0, err
	}

	var rs uint8
	var imm int
	if isRegister(sl.operands[1]) {
		// $rt, $rs, imm
		if rs, err = parseRegister(sl.operands[1], sl.line); err != nil {
			return 0, err
		}
		if imm, err = parseImmediate(sl.operands[2], sl.line); err != nil {
			return 0, err
		}
	} else {
		// $rt, imm($rs)
		if imm, err = parseImmediate(sl.operands[1], sl.line); err != nil {
			return 0, err
		}
		if rs, err = parseRegister(sl.operands[2], sl.line); err != nil {
			return 0, err
		}
	}
	return encodeI(iTypeOpcodes[sl.mnemonic], rs, rt, imm), nil
}

// encodeImm handles "op $rt,$rs,imm".
func encodeImm(sl sourceLine) (uint16, error) {
	if len(sl.operands) != 3 {
		return 0, errorf(BadOperand, sl.line,
			"%s requires 3 operands, got %d", sl.mnemonic, len(sl.operands))
	}
	rt, err := parseRegister(sl.operands[0], sl.line)
	if err != nil {
		return 0, err
	}
	rs, err := parseRegister(sl.operands[1], sl.line)
	if err != nil {
		return 0, err
	}
	imm, err := parseImmediate(sl.operands[2], sl.line)
	if err != nil {
		return 0, err
	}
	return encodeI(iTypeOpcodes[sl.mnemonic], rs, rt, imm), nil
}

// encodeBranch handles "BEQ/BNE $rs,$rt,target" where target is a label or
// a literal offset. A label resolves to label_address - (pc + 1).
func encodeBranch(sl sourceLine, symbols map[string]uint16) (uint16, error) {
	if len(sl.operands) != 3 {
		return 0, errorf(BadOperand, sl.line,
			"%s requires 3 operands, got %d", sl.mnemonic, len(sl.operands))
	}
	rs, err := parseRegister(sl.operands[0], sl.line)
	if err != nil {
		return 0, err
	}
	rt, err := parseRegister(sl.operands[1], sl.line)
	if err != nil {
		return 0, err
	}

	target := sl.operands[2]
	var offset int
	if isNumeric(target) {
		if offset, err = parseNumber(target, sl.line); err != nil {
			return 0, err
		}
	} else {
		labelAddr, ok := symbols[strings.ToLower(target)]
		if !ok {
			return 0, errorf(UndefinedLabel, sl.line, "%s", target)
		}
		offset = int(labelAddr) - (int(sl.addr) + 1)
	}
	if offset < -32 || offset > 31 {
		return 0, errorf(ImmediateOutOfRange, sl.line,
			"branch offset %d out of range [-32, 31]", offset)
	}
	return encodeI(iTypeOpcodes[sl.mnemonic], rs, rt, offset), nil
}

// encodeJump handles "JUMP/JAL target" where target is a label or an
// absolute word address.
func encodeJump(sl sourceLine, symbols map[string]uint16) (uint16, error) {
	if len(sl.operands) != 1 {
		return 0, errorf(BadOperand, sl.line,
			"%s requires 1 operand, got %d", sl.mnemonic, len(sl.operands))
	}

	target := sl.operands[0]
	var addr int
	if isNumeric(target) {
		var err error
		if addr, err = parseNumber(target, sl.line); err != nil {
			return 0, err
		}
	} else {
		labelAddr, ok := symbols[strings.ToLower(target)]
		if !ok {
			return 0, errorf(UndefinedLabel, sl.line, "%s", target)
		}
		addr = int(labelAddr)
	}
	if addr < 0 || addr > 0xFFF {
		return 0, errorf(ImmediateOutOfRange, sl.line,
			"jump address %d out of range [0, 4095]", addr)
	}

	opcode := insts.OpcodeJUMP
	if sl.mnemonic == "JAL" {
		opcode = insts.OpcodeJAL
	}
	return opcode<<12 | uint16(addr)&0xFFF, nil
}

func encodeR(rs, rt, rd, funct uint8) uint16 {
	return insts.OpcodeRType<<12 |
		uint16(rs)<<9 | uint16(rt)<<6 | uint16(rd)<<3 | uint16(funct)
}

func encodeI(opcode uint16, rs, rt uint8, imm int) uint16 {
	return opcode<<12 | uint16(rs)<<9 | uint16(rt)<<6 | uint16(imm)&0x3F
}

// isRegister reports whether tok names a register ($r0..$r7, $ optional).
func isRegister(tok string) bool {
	tok = strings.ToLower(strings.TrimPrefix(tok, "$"))
	return len(tok) == 2 && tok[0] == 'r' && tok[1] >= '0' && tok[1] <= '7'
}

// parseRegister parses "$r0".."$r7"; the $ prefix is optional on input.
func parseRegister(tok string, line int) (uint8, error) {
	if !isRegister(tok) {
		return 0, errorf(BadOperand, line, "invalid register %q", tok)
	}
	stripped := strings.ToLower(strings.TrimPrefix(tok, "$"))
	return stripped[1] - '0', nil
}

func isNumeric(tok string) bool {
	t := strings.TrimPrefix(strings.TrimPrefix(tok, "-"), "+")
	if t == "" {
		return false
	}
	if strings.HasPrefix(strings.ToLower(t), "0x") {
		return true
	}
	return t[0] >= '0' && t[0] <= '9'
}

// parseNumber parses a decimal (optional sign) or 0x-prefixed hex literal.
func parseNumber(tok string, line int) (int, error) {
	neg := false
	t := tok
	switch {
	case strings.HasPrefix(t, "-"):
		neg = true
		t = t[1:]
	case strings.HasPrefix(t, "+"):
		t = t[1:]
	}

	base := 10
	if strings.HasPrefix(strings.ToLower(t), "0x") {
		base = 16
		t = t[2:]
	}
	v, err := strconv.ParseInt(t, base, 32)
	if err != nil {
		return 0, errorf(BadOperand, line, "invalid number %q", tok)
	}
	if neg {
		v = -v
	}
	return int(v), nil
}

// parseImmediate parses a 6-bit signed immediate in [-32, 31].
func parseImmediate(tok string, line int) (int, error) {
	v, err := parseNumber(tok, line)
	if err != nil {
		return 0, err
	}
	if v < -32 || v > 31 {
		return 0, errorf(ImmediateOutOfRange, line,
			"immediate %d out of range [-32, 31]", v)
	}
	return v, nil
}
