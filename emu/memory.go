package emu

import "github.com/sarchlab/pipesim/insts"

// IMemSize is the instruction memory capacity in words.
const IMemSize = 512

// DataAddressMask keeps the low 9 bits of a computed address; data memory
// is word-addressed with 9-bit addresses.
const DataAddressMask uint16 = 0x1FF

// InstructionMemory holds up to 512 instruction words. Entries past the
// loaded program are the zero word, which is a NOP.
type InstructionMemory struct {
	words [IMemSize]uint16
	size  uint16
}

// NewInstructionMemory creates an instruction memory holding the given
// program words starting at address 0.
func NewInstructionMemory(program []uint16) *InstructionMemory {
	m := &InstructionMemory{}
	copy(m.words[:], program)
	m.size = uint16(len(program))
	return m
}

// Read returns the instruction word at a word address. Addresses outside
// the memory read as the zero word.
func (m *InstructionMemory) Read(addr uint16) uint16 {
	if addr >= IMemSize {
		return insts.NOP
	}
	return m.words[addr]
}

// Size returns the number of loaded program words.
func (m *InstructionMemory) Size() uint16 {
	return m.size
}

// Contains reports whether addr falls inside the loaded program.
func (m *InstructionMemory) Contains(addr uint16) bool {
	return addr < m.size
}

// Clone returns an independent copy of the instruction memory.
func (m *InstructionMemory) Clone() *InstructionMemory {
	c := *m
	return &c
}

// DataMemory is a sparse word-addressed data memory. Reads of addresses
// that were never written return 0 and report the access as uninitialized.
type DataMemory struct {
	words map[uint16]uint16
}

// NewDataMemory creates an empty data memory.
func NewDataMemory() *DataMemory {
	return &DataMemory{words: map[uint16]uint16{}}
}

// Read returns the word at addr and whether the address had been written.
func (m *DataMemory) Read(addr uint16) (uint16, bool) {
	v, ok := m.words[addr&DataAddressMask]
	return v, ok
}

// Write stores a word at addr.
func (m *DataMemory) Write(addr, value uint16) {
	m.words[addr&DataAddressMask] = value
}

// Len returns the number of written addresses.
func (m *DataMemory) Len() int {
	return len(m.words)
}

// Snapshot returns a copy of the written address/value pairs.
func (m *DataMemory) Snapshot() map[uint16]uint16 {
	c := make(map[uint16]uint16, len(m.words))
	for k, v := range m.words {
		c[k] = v
	}
	return c
}

// Clone returns an independent copy of the data memory.
func (m *DataMemory) Clone() *DataMemory {
	return &DataMemory{words: m.Snapshot()}
}
