// Package emu provides the architectural state of the simulated CPU:
// the register file and the instruction and data memories.
package emu

import "github.com/sarchlab/pipesim/insts"

// RegFile represents the register file, eight 16-bit registers r0-r7.
// r0 is hard-wired to zero: writes to it are dropped and reads return 0.
type RegFile struct {
	R [insts.NumRegisters]uint16
}

// NewRegFile creates a zeroed register file.
func NewRegFile() *RegFile {
	return &RegFile{}
}

// Read reads a register value. Register 0 always returns 0.
func (r *RegFile) Read(reg uint8) uint16 {
	if reg == 0 || reg >= insts.NumRegisters {
		return 0
	}
	return r.R[reg]
}

// Write writes a value to a register. Writes to register 0 are dropped.
func (r *RegFile) Write(reg uint8, value uint16) {
	if reg == 0 || reg >= insts.NumRegisters {
		return
	}
	r.R[reg] = value
}

// Clone returns an independent copy of the register file.
func (r *RegFile) Clone() *RegFile {
	c := *r
	return &c
}
