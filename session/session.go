// Package session provides the stateful facade over the assembler, the
// architectural state, the pipeline engine, and the history store.
//
// A Simulator is not safe for concurrent use; callers that share one
// across goroutines must serialize access (the server layer does).
package session

import (
	"errors"

	"github.com/sarchlab/pipesim/asm"
	"github.com/sarchlab/pipesim/emu"
	"github.com/sarchlab/pipesim/timing/pipeline"
)

// Facade errors.
var (
	// ErrNoProgram is returned by Step before any successful Assemble.
	ErrNoProgram = errors.New("NoProgram")
	// ErrNoHistory is returned by StepBack with an empty history.
	ErrNoHistory = errors.New("NoHistory")
	// ErrHalted is returned by Step after execution has drained.
	ErrHalted = errors.New("Halted")
)

// DefaultRunLimit bounds Run when the caller does not supply a cap.
const DefaultRunLimit = 1000

// Simulator is the session facade: it owns the loaded program, the
// machine state, and the step history.
type Simulator struct {
	program *asm.Program
	pipe    *pipeline.Pipeline
	history *History
}

// New creates a simulator with no program loaded.
func New() *Simulator {
	return &Simulator{
		pipe:    newMachine(nil),
		history: NewHistory(),
	}
}

// newMachine builds a fresh architectural state around a program image.
func newMachine(words []uint16) *pipeline.Pipeline {
	return pipeline.NewPipeline(
		emu.NewRegFile(),
		emu.NewInstructionMemory(words),
		emu.NewDataMemory(),
	)
}

// MachineCodeEntry is one assembled instruction in the assemble response.
type MachineCodeEntry struct {
	Address uint16 `json:"address"`
	Hex     string `json:"hex"`
	Binary  string `json:"binary"`
	Source  string `json:"source"`
	Disasm  string `json:"disasm"`
	Format  string `json:"format"`
}

// AssembleResult is the payload of a successful assemble.
type AssembleResult struct {
	MachineCode []MachineCodeEntry `json:"machine_code"`
	Labels      map[string]uint16  `json:"labels"`
	State       *CPUState          `json:"cpu_state"`
}

// StepResult is the payload of a successful step or step-back.
type StepResult struct {
	Running     bool      `json:"running"`
	CanStepBack bool      `json:"can_step_back"`
	State       *CPUState `json:"cpu_state"`
}

// RunResult is the payload of a run-to-halt.
type RunResult struct {
	CyclesExecuted uint64    `json:"cycles_executed"`
	Halted         bool      `json:"halted"`
	CanStepBack    bool      `json:"can_step_back"`
	State          *CPUState `json:"cpu_state"`
}

// Assemble translates source text, rebuilds the architectural state
// around the new program, and clears the history. A failed assembly
// leaves all state untouched.
func (s *Simulator) Assemble(code string) (*AssembleResult, error) {
	prog, err := asm.Assemble(code)
	if err != nil {
		return nil, err
	}

	s.program = prog
	s.pipe = newMachine(prog.Words())
	s.history.Clear()

	result := &AssembleResult{
		Labels: prog.Symbols,
		State:  buildState(s.pipe),
	}
	for _, rec := range prog.Records {
		result.MachineCode = append(result.MachineCode, MachineCodeEntry{
			Address: rec.Address,
			Hex:     rec.Hex,
			Binary:  rec.Binary,
			Source:  rec.Source,
			Disasm:  rec.Disasm,
			Format:  rec.Format,
		})
	}
	return result, nil
}

// Step advances the machine one clock cycle, saving the pre-step state
// to the history first.
func (s *Simulator) Step() (*StepResult, error) {
	if s.program == nil {
		return nil, ErrNoProgram
	}
	if s.pipe.Halted() {
		return nil, ErrHalted
	}

	snapshot := s.pipe.Clone()
	s.pipe.Tick()
	s.history.Push(snapshot)

	return &StepResult{
		Running:     !s.pipe.Halted(),
		CanStepBack: s.history.Len() > 0,
		State:       buildState(s.pipe),
	}, nil
}

// StepBack restores the most recent history snapshot and discards it.
func (s *Simulator) StepBack() (*StepResult, error) {
	prev, ok := s.history.Pop()
	if !ok {
		return nil, ErrNoHistory
	}
	s.pipe = prev

	return &StepResult{
		Running:     !s.pipe.Halted(),
		CanStepBack: s.history.Len() > 0,
		State:       buildState(s.pipe),
	}, nil
}

// Run steps until the machine halts or maxCycles have executed. Each
// cycle is recorded in the history like a manual step. maxCycles <= 0
// uses DefaultRunLimit.
func (s *Simulator) Run(maxCycles int) (*RunResult, error) {
	if s.program == nil {
		return nil, ErrNoProgram
	}
	if maxCycles <= 0 {
		maxCycles = DefaultRunLimit
	}

	executed := uint64(0)
	for !s.pipe.Halted() && executed < uint64(maxCycles) {
		snapshot := s.pipe.Clone()
		s.pipe.Tick()
		s.history.Push(snapshot)
		executed++
	}

	return &RunResult{
		CyclesExecuted: executed,
		Halted:         s.pipe.Halted(),
		CanStepBack:    s.history.Len() > 0,
		State:          buildState(s.pipe),
	}, nil
}

// Reset zeroes the architectural state and history while retaining the
// loaded program.
func (s *Simulator) Reset() *CPUState {
	var words []uint16
	if s.program != nil {
		words = s.program.Words()
	}
	s.pipe = newMachine(words)
	s.history.Clear()
	return buildState(s.pipe)
}

// State returns the serialized view of the current machine.
func (s *Simulator) State() *CPUState {
	return buildState(s.pipe)
}

// CanStepBack reports whether a step-back would succeed.
func (s *Simulator) CanStepBack() bool {
	return s.history.Len() > 0
}

// Running reports whether the machine can still advance.
func (s *Simulator) Running() bool {
	return s.program != nil && !s.pipe.Halted()
}

// Timeline reconstructs the per-instruction stage timeline from the
// machine's per-cycle history.
func (s *Simulator) Timeline() []TimelineRow {
	return Timeline(s.pipe.Trace())
}
