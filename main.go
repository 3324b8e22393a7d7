// Package main provides the entry point stub for pipesim.
// pipesim is a cycle-accurate simulator for a 16-bit pipelined RISC CPU.
//
// For the CLI, use: go run ./cmd/pipesim
// For the HTTP API server, use: go run ./cmd/pipesimd
package main

import "fmt"

func main() {
	fmt.Println("pipesim - 16-bit pipelined RISC CPU simulator")
	fmt.Println("")
	fmt.Println("Usage:")
	fmt.Println("  pipesim [options] <program.s>   run a program (see ./cmd/pipesim)")
	fmt.Println("  pipesimd [options]              serve the HTTP API (see ./cmd/pipesimd)")
	fmt.Println("")
	fmt.Println("Options:")
	fmt.Println("  -steps   Maximum number of cycles to execute")
	fmt.Println("  -dump    Pretty-print the final CPU state")
	fmt.Println("  -addr    Listen address for the server")
	fmt.Println("  -v       Verbose output")
}
