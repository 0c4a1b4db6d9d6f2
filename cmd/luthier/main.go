package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "symbols":
		err = cmdSymbols(os.Args[2:])
	case "disasm":
		err = cmdDisasm(os.Args[2:])
	case "cfg":
		err = cmdCFG(os.Args[2:])
	case "callgraph":
		err = cmdCallgraph(os.Args[2:])
	case "instrument":
		err = cmdInstrument(os.Args[2:])
	case "load":
		err = cmdLoad(os.Args[2:])
	case "help", "-h", "--help":
		usage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `luthier — AMD GPU code-object instrumentation core

Usage:
  luthier symbols    --obj <path> [--kind kernel|device-function|variable|external] [--json]
  luthier disasm     --obj <path> --func <name> [--out <dir>]
  luthier cfg        --obj <path> --func <name> [--out <dir>]
  luthier callgraph  --obj <path> [--out <dir>] [--max-nodes <n>]
  luthier instrument --obj <path> --func <name> --hook <device-fn> --hook-bitcode <path> [--block <label>] [--at <index>] [--out <dir>]
  luthier load       --orig <path> --instrumented <obj-path> --func <name> [--preset <name>]

Flags:
  --obj <path>          Path to a relocatable AMDGPU code object (ELF)
  --out <dir>           Output directory for artifacts
  --isa <id>            Target ISA identifier (default "gfx942")
`)
}
