// Package output writes analysis and code-generation artifacts to files.
package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"luthier/internal/disasm"
)

// SymbolEntry represents a named code address.
type SymbolEntry struct {
	Address uint64 `json:"address"`
	Name    string `json:"name"`
	Size    uint64 `json:"size,omitempty"`
}

// WriteSymbolsJSON writes symbols to symbols.json.
func WriteSymbolsJSON(dir string, symbols []SymbolEntry) error {
	return writeJSON(filepath.Join(dir, "symbols.json"), symbols)
}

// WriteASM writes disassembled instructions to asm/<name>.txt. name may
// contain path separators (e.g. "kernel/trace_preset") for directory
// grouping when a kernel has more than one instrumented build.
func WriteASM(dir string, name string, insts []disasm.Inst, lookup disasm.SymbolLookup) error {
	path := filepath.Join(dir, "asm", name+".txt")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("output: mkdir asm: %w", err)
	}

	text := disasm.Format(insts, lookup)
	return os.WriteFile(path, []byte(text), 0644)
}

// WriteObject writes a Code Generator's printed relocatable ELF object to
// obj/<name>.o.
func WriteObject(dir string, name string, data []byte) error {
	path := filepath.Join(dir, "obj", name+".o")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("output: mkdir obj: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// WriteDOT writes a rendered graph to graphs/<name>.dot.
func WriteDOT(dir string, name string, dot string) error {
	path := filepath.Join(dir, "graphs", name+".dot")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("output: mkdir graphs: %w", err)
	}
	return os.WriteFile(path, []byte(dot), 0644)
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("output: create %s: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("output: encode %s: %w", path, err)
	}
	return nil
}
