// Package main provides the pipesim CLI: assemble a source file, run it
// on the pipeline, and print an execution report.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/k0kubun/pp/v3"

	"github.com/sarchlab/pipesim/asm"
	"github.com/sarchlab/pipesim/session"
)

var (
	maxCycles = flag.Int("steps", session.DefaultRunLimit, "Maximum number of cycles to execute")
	dump      = flag.Bool("dump", false, "Pretty-print the final CPU state")
	verbose   = flag.Bool("v", false, "Print the assembled program listing")
)

func main() {
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Usage: pipesim [options] <program.s>\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		os.Exit(1)
	}

	source, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading program: %v\n", err)
		os.Exit(1)
	}

	sim := session.New()
	assembled, err := sim.Assemble(string(source))
	if err != nil {
		var asmErr *asm.Error
		if errors.As(err, &asmErr) {
			fmt.Fprintf(os.Stderr, "Assembly error on line %d: %s: %s\n",
				asmErr.Line, asmErr.Kind, asmErr.Detail)
		} else {
			fmt.Fprintf(os.Stderr, "Assembly error: %v\n", err)
		}
		os.Exit(1)
	}

	if *verbose {
		fmt.Printf("Assembled %d instructions:\n", len(assembled.MachineCode))
		for _, entry := range assembled.MachineCode {
			fmt.Printf("  %03d: %s  %s\n", entry.Address, entry.Hex, entry.Disasm)
		}
		fmt.Printf("\n")
	}

	result, err := sim.Run(*maxCycles)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Execution error: %v\n", err)
		os.Exit(1)
	}

	state := result.State
	perf := state.Performance

	fmt.Printf("Program: %s\n", flag.Arg(0))
	if result.Halted {
		fmt.Printf("Halted after %d cycles\n", result.CyclesExecuted)
	} else {
		fmt.Printf("Stopped at the %d-cycle limit\n", result.CyclesExecuted)
	}
	fmt.Printf("Instructions retired: %d\n", perf.Instructions)
	fmt.Printf("CPI: %.2f\n", perf.CPI)
	fmt.Printf("\n")
	fmt.Printf("Pipeline events:\n")
	fmt.Printf("  Stall rate:   %5.1f%%\n", 100*perf.StallRate)
	fmt.Printf("  Forward rate: %5.1f%%\n", 100*perf.ForwardRate)
	fmt.Printf("  Flushes:      %d\n", perf.FlushCount)
	fmt.Printf("\n")
	fmt.Printf("Registers:\n")
	for i, v := range state.Registers {
		fmt.Printf("  $r%d = %d\n", i, v)
	}

	if *dump {
		fmt.Printf("\n")
		pp.Println(state)
	}
}
