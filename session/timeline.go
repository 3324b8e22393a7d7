package session

import (
	"strconv"

	"github.com/sarchlab/pipesim/insts"
	"github.com/sarchlab/pipesim/timing/pipeline"
)

// TimelineRow summarizes one instruction's journey through the pipeline.
// Instructions are keyed by their 16-bit encoding, in first-appearance
// order. Repeated decode/execute/memory cycles denote stalls.
type TimelineRow struct {
	Hex    string `json:"hex"`
	Disasm string `json:"disasm"`

	// FetchCycle is the first cycle the instruction occupied IF; 0 means
	// it never did.
	FetchCycle uint64 `json:"fetch_cycle"`

	DecodeCycles  []uint64 `json:"decode_cycles"`
	ExecuteCycles []uint64 `json:"execute_cycles"`
	MemoryCycles  []uint64 `json:"memory_cycles"`

	// WritebackCycle is the first cycle the instruction reached WB.
	WritebackCycle uint64 `json:"writeback_cycle"`

	// StallCycles are decode cycles in which the instruction was held by
	// a stall.
	StallCycles []uint64 `json:"stall_cycles"`
}

// Timeline reconstructs per-instruction stage occupancy from the
// per-cycle trace.
func Timeline(trace []pipeline.TraceEntry) []TimelineRow {
	index := map[string]int{}
	var rows []TimelineRow

	rowFor := func(hex string) *TimelineRow {
		if i, ok := index[hex]; ok {
			return &rows[i]
		}
		word, _ := strconv.ParseUint(hex, 16, 16)
		rows = append(rows, TimelineRow{
			Hex:    hex,
			Disasm: insts.Disassemble(uint16(word)),
		})
		index[hex] = len(rows) - 1
		return &rows[len(rows)-1]
	}

	for _, entry := range trace {
		if entry.IF != "" {
			row := rowFor(entry.IF)
			if row.FetchCycle == 0 {
				row.FetchCycle = entry.Cycle
			}
		}
		if entry.ID != "" {
			row := rowFor(entry.ID)
			row.DecodeCycles = append(row.DecodeCycles, entry.Cycle)
			if entry.Stall {
				row.StallCycles = append(row.StallCycles, entry.Cycle)
			}
		}
		if entry.EX != "" {
			row := rowFor(entry.EX)
			row.ExecuteCycles = append(row.ExecuteCycles, entry.Cycle)
		}
		if entry.MEM != "" {
			row := rowFor(entry.MEM)
			row.MemoryCycles = append(row.MemoryCycles, entry.Cycle)
		}
		if entry.WB != "" {
			row := rowFor(entry.WB)
			if row.WritebackCycle == 0 {
				row.WritebackCycle = entry.Cycle
			}
		}
	}

	return rows
}
