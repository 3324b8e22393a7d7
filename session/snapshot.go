package session

import (
	"fmt"
	"strconv"

	"github.com/sarchlab/pipesim/insts"
	"github.com/sarchlab/pipesim/timing/pipeline"
)

// CPUState is the serialized view of the machine after a cycle. Register
// and memory values are reported as two's-complement signed integers;
// addresses and encodings stay unsigned.
type CPUState struct {
	PC        uint16                    `json:"pc"`
	Cycle     uint64                    `json:"cycle"`
	Registers [insts.NumRegisters]int16 `json:"registers"`

	DataMemory map[string]int16 `json:"data_memory"`

	IFID  IFIDView  `json:"IF_ID"`
	IDEX  IDEXView  `json:"ID_EX"`
	EXMEM EXMEMView `json:"EX_MEM"`
	MEMWB MEMWBView `json:"MEM_WB"`

	ForwardA *ForwardView `json:"forward_a"`
	ForwardB *ForwardView `json:"forward_b"`

	IsStalling bool       `json:"is_stalling"`
	StallInfo  *StallView `json:"stall_info"`

	ControlHazard *ControlHazardView `json:"control_hazard"`
	FlushOccurred bool               `json:"flush_occurred"`

	MemoryWarning *MemoryWarningView `json:"memory_warning"`

	PipelineHistory []PipelineCycleView `json:"pipeline_history"`
	StallHistory    []uint64            `json:"stall_history"`
	ForwardHistory  []ForwardCycleView  `json:"forward_history"`

	Performance PerformanceView `json:"performance"`
}

// IFIDView is the serialized IF/ID latch.
type IFIDView struct {
	Valid       bool   `json:"valid"`
	Disasm      string `json:"disasm"`
	PC          uint16 `json:"pc"`
	PCPlus1     uint16 `json:"pc_plus1"`
	Instruction string `json:"instruction"`
}

// IDEXView is the serialized ID/EX latch.
type IDEXView struct {
	Valid       bool   `json:"valid"`
	Disasm      string `json:"disasm"`
	PC          uint16 `json:"pc"`
	Instruction string `json:"instruction"`
	Rs          string `json:"rs"`
	Rt          string `json:"rt"`
	WriteReg    string `json:"write_reg"`
	RsVal       int16  `json:"rs_val"`
	RtVal       int16  `json:"rt_val"`
	Imm         int16  `json:"imm"`
	RegWrite    bool   `json:"reg_write"`
	MemRead     bool   `json:"mem_read"`
	MemWrite    bool   `json:"mem_write"`
	ALUSrc      bool   `json:"alu_src"`
}

// EXMEMView is the serialized EX/MEM latch.
type EXMEMView struct {
	Valid       bool   `json:"valid"`
	Disasm      string `json:"disasm"`
	PC          uint16 `json:"pc"`
	Instruction string `json:"instruction"`
	ALUResult   int16  `json:"alu_result"`
	StoreVal    int16  `json:"store_val"`
	WriteReg    string `json:"write_reg"`
	RegWrite    bool   `json:"reg_write"`
	MemRead     bool   `json:"mem_read"`
	MemWrite    bool   `json:"mem_write"`
}

// MEMWBView is the serialized MEM/WB latch.
type MEMWBView struct {
	Valid       bool   `json:"valid"`
	Disasm      string `json:"disasm"`
	PC          uint16 `json:"pc"`
	Instruction string `json:"instruction"`
	ALUResult   int16  `json:"alu_result"`
	MemData     int16  `json:"mem_data"`
	WriteReg    string `json:"write_reg"`
	RegWrite    bool   `json:"reg_write"`
}

// ForwardView is one serialized forwarding event.
type ForwardView struct {
	Source string `json:"source"`
	Reg    string `json:"reg"`
	Value  int16  `json:"value"`
}

// StallView describes the stall asserted this cycle.
type StallView struct {
	Type         string `json:"type"`
	HazardType   string `json:"hazard_type"`
	WaitingReg   string `json:"waiting_reg"`
	WaitingFor   string `json:"waiting_for"`
	BlockedInstr string `json:"blocked_instr"`
	Reason       string `json:"reason"`
}

// ControlHazardView describes a taken control transfer.
type ControlHazardView struct {
	Type          string `json:"type"`
	TargetAddress uint16 `json:"target_address"`
	FlushedInstr  string `json:"flushed_instr"`
}

// MemoryWarningView reports a non-fatal uninitialized read.
type MemoryWarningView struct {
	Type    string `json:"type"`
	Address uint16 `json:"address"`
}

// PipelineCycleView is one row of the per-cycle stage occupancy history.
type PipelineCycleView struct {
	Cycle uint64 `json:"cycle"`
	IF    string `json:"IF"`
	ID    string `json:"ID"`
	EX    string `json:"EX"`
	MEM   string `json:"MEM"`
	WB    string `json:"WB"`
	Stall bool   `json:"stall"`
}

// ForwardCycleView is one row of the forwarding history.
type ForwardCycleView struct {
	Cycle  uint64 `json:"cycle"`
	Source string `json:"source"`
	Reg    string `json:"reg"`
	Value  int16  `json:"value"`
}

// PerformanceView holds the running performance counters and rates.
type PerformanceView struct {
	Cycles       uint64  `json:"cycles"`
	Instructions uint64  `json:"instructions"`
	CPI          float64 `json:"cpi"`
	StallRate    float64 `json:"stall_rate"`
	ForwardRate  float64 `json:"forward_rate"`
	FlushCount   uint64  `json:"flush_count"`
}

// buildState serializes the machine into an isolated CPUState.
func buildState(p *pipeline.Pipeline) *CPUState {
	events := p.Events()
	stats := p.Stats()

	state := &CPUState{
		PC:            p.PC(),
		Cycle:         p.Cycle(),
		DataMemory:    map[string]int16{},
		IsStalling:    events.Stall,
		FlushOccurred: events.FlushOccurred,
		Performance: PerformanceView{
			Cycles:       stats.Cycles,
			Instructions: stats.Instructions,
			CPI:          stats.CPI(),
			StallRate:    stats.StallRate(),
			ForwardRate:  stats.ForwardRate(),
			FlushCount:   stats.Flushes,
		},
	}

	for i := range state.Registers {
		state.Registers[i] = int16(p.RegFile().Read(uint8(i)))
	}
	for addr, val := range p.DataMemory().Snapshot() {
		state.DataMemory[strconv.Itoa(int(addr))] = int16(val)
	}

	state.IFID = buildIFIDView(p.IFID())
	state.IDEX = buildIDEXView(p.IDEX())
	state.EXMEM = buildEXMEMView(p.EXMEM())
	state.MEMWB = buildMEMWBView(p.MEMWB())

	if events.ForwardA != nil {
		state.ForwardA = buildForwardView(*events.ForwardA)
	}
	if events.ForwardB != nil {
		state.ForwardB = buildForwardView(*events.ForwardB)
	}
	if events.StallInfo != nil {
		state.StallInfo = &StallView{
			Type:         events.StallInfo.Type,
			HazardType:   events.StallInfo.HazardType,
			WaitingReg:   insts.RegName(events.StallInfo.WaitingReg),
			WaitingFor:   events.StallInfo.WaitingFor,
			BlockedInstr: events.StallInfo.BlockedInstr,
			Reason:       events.StallInfo.Reason,
		}
	}
	if events.ControlHazard != nil {
		state.ControlHazard = &ControlHazardView{
			Type:          events.ControlHazard.Kind.String(),
			TargetAddress: events.ControlHazard.TargetAddress,
			FlushedInstr:  events.ControlHazard.FlushedInstr,
		}
	}
	if events.MemoryWarning != nil {
		state.MemoryWarning = &MemoryWarningView{
			Type:    "UninitializedRead",
			Address: events.MemoryWarning.Address,
		}
	}

	for _, entry := range p.Trace() {
		state.PipelineHistory = append(state.PipelineHistory, PipelineCycleView{
			Cycle: entry.Cycle,
			IF:    entry.IF,
			ID:    entry.ID,
			EX:    entry.EX,
			MEM:   entry.MEM,
			WB:    entry.WB,
			Stall: entry.Stall,
		})
	}
	state.StallHistory = append(state.StallHistory, p.StallHistory()...)
	for _, f := range p.ForwardHistory() {
		state.ForwardHistory = append(state.ForwardHistory, ForwardCycleView{
			Cycle:  f.Cycle,
			Source: f.Source.String(),
			Reg:    insts.RegName(f.Reg),
			Value:  int16(f.Value),
		})
	}

	return state
}

func buildForwardView(rec pipeline.ForwardRecord) *ForwardView {
	return &ForwardView{
		Source: rec.Source.String(),
		Reg:    insts.RegName(rec.Reg),
		Value:  int16(rec.Value),
	}
}

// latchDisasm renders a latch's instruction, or "NOP" for a bubble.
func latchDisasm(valid bool, word uint16) string {
	if !valid {
		return "NOP"
	}
	return insts.Disassemble(word)
}

func latchHex(valid bool, word uint16) string {
	if !valid {
		return ""
	}
	return fmt.Sprintf("%04X", word)
}

func buildIFIDView(r *pipeline.IFIDRegister) IFIDView {
	return IFIDView{
		Valid:       r.Valid,
		Disasm:      latchDisasm(r.Valid, r.Instr),
		PC:          r.PC,
		PCPlus1:     r.PCPlus1,
		Instruction: latchHex(r.Valid, r.Instr),
	}
}

func buildIDEXView(r *pipeline.IDEXRegister) IDEXView {
	return IDEXView{
		Valid:       r.Valid,
		Disasm:      latchDisasm(r.Valid, r.Instr),
		PC:          r.PC,
		Instruction: latchHex(r.Valid, r.Instr),
		Rs:          insts.RegName(r.Rs),
		Rt:          insts.RegName(r.Rt),
		WriteReg:    insts.RegName(r.WriteReg),
		RsVal:       int16(r.RsVal),
		RtVal:       int16(r.RtVal),
		Imm:         int16(r.ImmOperand),
		RegWrite:    r.RegWrite,
		MemRead:     r.MemRead,
		MemWrite:    r.MemWrite,
		ALUSrc:      r.ALUSrc,
	}
}

func buildEXMEMView(r *pipeline.EXMEMRegister) EXMEMView {
	return EXMEMView{
		Valid:       r.Valid,
		Disasm:      latchDisasm(r.Valid, r.Instr),
		PC:          r.PC,
		Instruction: latchHex(r.Valid, r.Instr),
		ALUResult:   int16(r.ALUResult),
		StoreVal:    int16(r.StoreVal),
		WriteReg:    insts.RegName(r.WriteReg),
		RegWrite:    r.RegWrite,
		MemRead:     r.MemRead,
		MemWrite:    r.MemWrite,
	}
}

func buildMEMWBView(r *pipeline.MEMWBRegister) MEMWBView {
	return MEMWBView{
		Valid:       r.Valid,
		Disasm:      latchDisasm(r.Valid, r.Instr),
		PC:          r.PC,
		Instruction: latchHex(r.Valid, r.Instr),
		ALUResult:   int16(r.ALUResult),
		MemData:     int16(r.MemData),
		WriteReg:    insts.RegName(r.WriteReg),
		RegWrite:    r.RegWrite,
	}
}
