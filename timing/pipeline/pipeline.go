package pipeline

import (
	"fmt"

	"github.com/sarchlab/pipesim/emu"
	"github.com/sarchlab/pipesim/insts"
)

// Statistics holds the running performance counters. They reset with the
// architectural state.
type Statistics struct {
	// Cycles is the total number of cycles simulated.
	Cycles uint64
	// Instructions is the number of retired instructions (cycles in
	// which MEM/WB committed a valid instruction).
	Instructions uint64
	// Stalls is the number of cycles the hazard unit asserted a stall.
	Stalls uint64
	// Forwards is the number of cycles in which any EX- or ID-stage
	// forward fired.
	Forwards uint64
	// Flushes is the number of cycles a flush was injected.
	Flushes uint64
}

// CPI returns cycles per retired instruction, or 0 before the first
// retirement.
func (s Statistics) CPI() float64 {
	if s.Instructions == 0 {
		return 0
	}
	return float64(s.Cycles) / float64(s.Instructions)
}

// StallRate returns the fraction of cycles spent stalled.
func (s Statistics) StallRate() float64 {
	if s.Cycles == 0 {
		return 0
	}
	return float64(s.Stalls) / float64(s.Cycles)
}

// ForwardRate returns the fraction of cycles in which a forward fired.
func (s Statistics) ForwardRate() float64 {
	if s.Cycles == 0 {
		return 0
	}
	return float64(s.Forwards) / float64(s.Cycles)
}

// Pipeline is the 5-stage in-order pipeline engine.
// Stages: Fetch (IF) -> Decode (ID) -> Execute (EX) -> Memory (MEM) ->
// Writeback (WB). Branches, jumps, and JR resolve in ID.
type Pipeline struct {
	// Pipeline latches.
	ifid  IFIDRegister
	idex  IDEXRegister
	exmem EXMEMRegister
	memwb MEMWBRegister

	// Pipeline stages.
	fetchStage     *FetchStage
	decodeStage    *DecodeStage
	executeStage   *ExecuteStage
	memoryStage    *MemoryStage
	writebackStage *WritebackStage

	// Hazard detection.
	hazardUnit *HazardUnit

	decoder *insts.Decoder

	// Shared architectural state.
	regFile *emu.RegFile
	imem    *emu.InstructionMemory
	dmem    *emu.DataMemory

	// Program counter.
	pc uint16

	stats  Statistics
	events CycleEvents

	// Per-cycle histories for timeline reconstruction.
	trace          []TraceEntry
	stallHistory   []uint64
	forwardHistory []ForwardTrace

	halted bool
}

// NewPipeline creates a pipeline over the given architectural state. An
// empty program starts out halted.
func NewPipeline(regFile *emu.RegFile, imem *emu.InstructionMemory, dmem *emu.DataMemory) *Pipeline {
	return &Pipeline{
		fetchStage:     NewFetchStage(imem),
		decodeStage:    NewDecodeStage(regFile),
		executeStage:   NewExecuteStage(),
		memoryStage:    NewMemoryStage(dmem),
		writebackStage: NewWritebackStage(regFile),
		hazardUnit:     NewHazardUnit(),
		decoder:        insts.NewDecoder(),
		regFile:        regFile,
		imem:           imem,
		dmem:           dmem,
		halted:         imem.Size() == 0,
	}
}

// PC returns the current program counter.
func (p *Pipeline) PC() uint16 { return p.pc }

// Cycle returns the number of completed cycles.
func (p *Pipeline) Cycle() uint64 { return p.stats.Cycles }

// Halted reports whether execution has drained: the PC addresses a NOP
// word and all four latches are bubbles.
func (p *Pipeline) Halted() bool { return p.halted }

// RegFile returns the register file.
func (p *Pipeline) RegFile() *emu.RegFile { return p.regFile }

// DataMemory returns the data memory.
func (p *Pipeline) DataMemory() *emu.DataMemory { return p.dmem }

// InstructionMemory returns the instruction memory.
func (p *Pipeline) InstructionMemory() *emu.InstructionMemory { return p.imem }

// IFID returns the IF/ID latch.
func (p *Pipeline) IFID() *IFIDRegister { return &p.ifid }

// IDEX returns the ID/EX latch.
func (p *Pipeline) IDEX() *IDEXRegister { return &p.idex }

// EXMEM returns the EX/MEM latch.
func (p *Pipeline) EXMEM() *EXMEMRegister { return &p.exmem }

// MEMWB returns the MEM/WB latch.
func (p *Pipeline) MEMWB() *MEMWBRegister { return &p.memwb }

// Stats returns the performance counters.
func (p *Pipeline) Stats() Statistics { return p.stats }

// Events returns the events of the most recent cycle.
func (p *Pipeline) Events() CycleEvents { return p.events.clone() }

// Trace returns the per-cycle stage occupancy history.
func (p *Pipeline) Trace() []TraceEntry { return p.trace }

// StallHistory returns the cycles in which a stall was asserted.
func (p *Pipeline) StallHistory() []uint64 { return p.stallHistory }

// ForwardHistory returns every forwarding event with its cycle.
func (p *Pipeline) ForwardHistory() []ForwardTrace { return p.forwardHistory }

// Clone returns a deep copy of the pipeline and the architectural state
// it drives. The copy shares nothing with the original.
func (p *Pipeline) Clone() *Pipeline {
	c := NewPipeline(p.regFile.Clone(), p.imem.Clone(), p.dmem.Clone())
	c.ifid = p.ifid
	c.idex = p.idex
	c.exmem = p.exmem
	c.memwb = p.memwb
	c.pc = p.pc
	c.stats = p.stats
	c.events = p.events.clone()
	c.trace = append([]TraceEntry(nil), p.trace...)
	c.stallHistory = append([]uint64(nil), p.stallHistory...)
	c.forwardHistory = append([]ForwardTrace(nil), p.forwardHistory...)
	c.halted = p.halted
	return c
}

// Tick executes one clock edge.
//
// Combinational outputs of each stage are computed from the latches as
// they were at the start of the cycle (WB first, so a same-cycle register
// write is visible to the decode read), then the new latch values and the
// PC are committed together. A halted pipeline does not tick.
func (p *Pipeline) Tick() {
	if p.halted {
		return
	}

	savedIFID := p.ifid
	savedIDEX := p.idex
	savedEXMEM := p.exmem
	savedMEMWB := p.memwb

	p.events = CycleEvents{}

	stall, stallInfo := p.detectStall(&savedIFID, &savedIDEX, &savedEXMEM)

	// Stage 5: Writeback.
	p.writebackStage.Writeback(&savedMEMWB)
	if savedMEMWB.Valid {
		p.stats.Instructions++
	}

	// Stage 4: Memory.
	var newMEMWB MEMWBRegister
	if savedEXMEM.Valid {
		memResult := p.memoryStage.Access(&savedEXMEM)
		if memResult.Uninitialized {
			p.events.MemoryWarning = &MemoryWarning{Address: memResult.Address}
		}
		newMEMWB = MEMWBRegister{
			Valid:     true,
			PC:        savedEXMEM.PC,
			PCPlus1:   savedEXMEM.PCPlus1,
			Instr:     savedEXMEM.Instr,
			ALUResult: savedEXMEM.ALUResult,
			MemData:   memResult.MemData,
			WriteReg:  savedEXMEM.WriteReg,
			RegWrite:  savedEXMEM.RegWrite,
			ResultSel: savedEXMEM.ResultSel,
		}
	}

	// Stage 3: Execute.
	var newEXMEM EXMEMRegister
	if savedIDEX.Valid {
		fw := p.hazardUnit.DetectForwarding(&savedIDEX, &savedEXMEM, &savedMEMWB)
		aVal := p.hazardUnit.ForwardedValue(fw.ForwardA, savedIDEX.RsVal, &savedEXMEM, &savedMEMWB)
		bVal := p.hazardUnit.ForwardedValue(fw.ForwardB, savedIDEX.RtVal, &savedEXMEM, &savedMEMWB)
		if fw.ForwardA != ForwardNone {
			p.events.ForwardA = &ForwardRecord{Source: fw.ForwardA, Reg: savedIDEX.Rs, Value: aVal}
		}
		if fw.ForwardB != ForwardNone {
			p.events.ForwardB = &ForwardRecord{Source: fw.ForwardB, Reg: savedIDEX.Rt, Value: bVal}
		}

		exResult := p.executeStage.Execute(&savedIDEX, aVal, bVal)
		newEXMEM = EXMEMRegister{
			Valid:     true,
			PC:        savedIDEX.PC,
			PCPlus1:   savedIDEX.PCPlus1,
			Instr:     savedIDEX.Instr,
			ALUResult: exResult.ALUResult,
			StoreVal:  exResult.StoreVal,
			WriteReg:  savedIDEX.WriteReg,
			RegWrite:  savedIDEX.RegWrite,
			MemRead:   savedIDEX.MemRead,
			MemWrite:  savedIDEX.MemWrite,
			ResultSel: savedIDEX.ResultSel,
		}
	}

	// Stage 2: Decode. Control flow resolves here; the ID-stage bypass
	// network may pull the value the EX stage is producing this cycle.
	var newIDEX IDEXRegister
	var redirect *ControlHazard
	redirectIsJAL := false
	if savedIFID.Valid && !stall {
		dec := p.decodeStage.Decode(savedIFID.Instr)
		newIDEX = IDEXRegister{
			Valid:      true,
			PC:         savedIFID.PC,
			PCPlus1:    savedIFID.PCPlus1,
			Instr:      savedIFID.Instr,
			Rs:         dec.Inst.Rs,
			Rt:         dec.Inst.Rt,
			WriteReg:   dec.WriteReg,
			RsVal:      dec.RsVal,
			RtVal:      dec.RtVal,
			ImmOperand: dec.ImmOperand,
			ALUSrc:     dec.ALUSrc,
			ALUOp:      dec.ALUOp,
			RegWrite:   dec.RegWrite,
			MemRead:    dec.MemRead,
			MemWrite:   dec.MemWrite,
			ResultSel:  dec.ResultSel,
		}

		switch {
		case dec.IsJR:
			target := p.idRead(dec.Inst.Rs, dec.RsVal, &newEXMEM, &savedEXMEM, &savedMEMWB)
			redirect = &ControlHazard{Kind: ControlJR, TargetAddress: target}
		case dec.IsJump:
			// Target: high nibble of PC+1 concatenated with addr12.
			target := savedIFID.PCPlus1&0xF000 | dec.Inst.Addr
			redirect = &ControlHazard{Kind: ControlJump, TargetAddress: target}
			redirectIsJAL = dec.IsJAL
		case dec.IsBranch:
			rsVal := p.idRead(dec.Inst.Rs, dec.RsVal, &newEXMEM, &savedEXMEM, &savedMEMWB)
			rtVal := p.idRead(dec.Inst.Rt, dec.RtVal, &newEXMEM, &savedEXMEM, &savedMEMWB)
			equal := rsVal == rtVal
			taken := (dec.Inst.Op == insts.OpBEQ && equal) ||
				(dec.Inst.Op == insts.OpBNE && !equal)
			if taken {
				target := savedIFID.PCPlus1 + uint16(dec.Inst.Imm)
				redirect = &ControlHazard{Kind: ControlBranch, TargetAddress: target}
			}
		}
	}

	// Stage 1: Fetch.
	var newIFID IFIDRegister
	fetchedWord := ""
	nextPC := p.pc
	if !stall {
		if word, ok := p.fetchStage.Fetch(p.pc); ok {
			newIFID = IFIDRegister{
				Valid:   true,
				PC:      p.pc,
				PCPlus1: p.pc + 1,
				Instr:   word,
			}
			fetchedWord = hexWord(word)
			nextPC = p.pc + 1
		}
	}

	// Control transfer: redirect the PC and squash wrong-path work.
	// Priority jr > jump > branch is inherent: one instruction decodes
	// to at most one of them.
	if redirect != nil {
		redirect.FlushedInstr = "NOP"
		if newIFID.Valid {
			redirect.FlushedInstr = insts.Disassemble(newIFID.Instr)
		}
		nextPC = redirect.TargetAddress
		newIFID.Clear()
		if !redirectIsJAL {
			// JAL stays in the pipe so the r7 link write reaches WB.
			newIDEX.Clear()
		}
		p.events.ControlHazard = redirect
		p.events.FlushOccurred = true
		p.stats.Flushes++
	}

	// Stall: freeze the front end and inject a bubble into ID/EX.
	if stall {
		newIFID = savedIFID
		newIDEX.Clear()
		nextPC = p.pc
		p.events.Stall = true
		p.events.StallInfo = stallInfo
		p.stats.Stalls++
	}

	// Commit.
	p.ifid = newIFID
	p.idex = newIDEX
	p.exmem = newEXMEM
	p.memwb = newMEMWB
	p.pc = nextPC
	p.stats.Cycles++

	p.recordHistory(&savedIFID, &savedIDEX, &savedEXMEM, &savedMEMWB, fetchedWord, stall)

	if !p.ifid.Valid && !p.idex.Valid && !p.exmem.Valid && !p.memwb.Valid &&
		p.imem.Read(p.pc) == insts.NOP {
		p.halted = true
	}
}

// detectStall evaluates both stall categories against the instruction
// waiting in IF/ID. An invalid IF/ID never stalls.
func (p *Pipeline) detectStall(
	ifid *IFIDRegister,
	idex *IDEXRegister,
	exmem *EXMEMRegister,
) (bool, *StallInfo) {
	if !ifid.Valid {
		return false, nil
	}
	inst := p.decoder.Decode(ifid.Instr)

	if reg, ok := p.hazardUnit.DetectLoadUse(inst, idex); ok {
		return true, &StallInfo{
			Type:         "Load-Use Hazard",
			HazardType:   "RAW",
			WaitingReg:   reg,
			WaitingFor:   insts.Disassemble(idex.Instr),
			BlockedInstr: inst.String(),
			Reason: fmt.Sprintf("%s needs %s from memory",
				inst.Op.Mnemonic(), insts.RegName(reg)),
		}
	}

	if reg, ok := p.hazardUnit.DetectBranchLoad(inst, exmem); ok {
		return true, &StallInfo{
			Type:         "Load-Use Hazard (Branch)",
			HazardType:   "RAW",
			WaitingReg:   reg,
			WaitingFor:   insts.Disassemble(exmem.Instr),
			BlockedInstr: inst.String(),
			Reason: fmt.Sprintf("%s needs %s from a load still in MEM",
				inst.Op.Mnemonic(), insts.RegName(reg)),
		}
	}

	return false, nil
}

// idRead returns the ID-stage read of a register, applying the bypass
// network and recording the forward when one fires.
func (p *Pipeline) idRead(
	reg uint8,
	regVal uint16,
	currentEX *EXMEMRegister,
	exmem *EXMEMRegister,
	memwb *MEMWBRegister,
) uint16 {
	value, source := p.hazardUnit.DetectIDForward(reg, currentEX, exmem, memwb)
	if source == ForwardNone {
		return regVal
	}
	p.events.IDForwards = append(p.events.IDForwards,
		ForwardRecord{Source: source, Reg: reg, Value: value})
	return value
}

// recordHistory appends this cycle's trace entry, stall record, and
// forwarding records.
func (p *Pipeline) recordHistory(
	savedIFID *IFIDRegister,
	savedIDEX *IDEXRegister,
	savedEXMEM *EXMEMRegister,
	savedMEMWB *MEMWBRegister,
	fetchedWord string,
	stall bool,
) {
	entry := TraceEntry{Cycle: p.stats.Cycles, IF: fetchedWord, Stall: stall}
	if savedIFID.Valid {
		entry.ID = hexWord(savedIFID.Instr)
	}
	if savedIDEX.Valid {
		entry.EX = hexWord(savedIDEX.Instr)
	}
	if savedEXMEM.Valid {
		entry.MEM = hexWord(savedEXMEM.Instr)
	}
	if savedMEMWB.Valid {
		entry.WB = hexWord(savedMEMWB.Instr)
	}
	p.trace = append(p.trace, entry)

	if stall {
		p.stallHistory = append(p.stallHistory, p.stats.Cycles)
	}

	fired := false
	for _, rec := range p.forwardRecords() {
		fired = true
		p.forwardHistory = append(p.forwardHistory,
			ForwardTrace{Cycle: p.stats.Cycles, ForwardRecord: rec})
	}
	if fired {
		p.stats.Forwards++
	}
}

// forwardRecords lists every forward that fired this cycle.
func (p *Pipeline) forwardRecords() []ForwardRecord {
	var records []ForwardRecord
	if p.events.ForwardA != nil {
		records = append(records, *p.events.ForwardA)
	}
	if p.events.ForwardB != nil {
		records = append(records, *p.events.ForwardB)
	}
	records = append(records, p.events.IDForwards...)
	return records
}

func hexWord(word uint16) string {
	return fmt.Sprintf("%04X", word)
}
