package main

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"luthier/internal/isa/gcn"
	"luthier/internal/objwriter"
)

func kernelDescriptorBytes(groupSize, privateSize, kernargSize uint32) []byte {
	kd := make([]byte, 64)
	binary.LittleEndian.PutUint32(kd[0:4], groupSize)
	binary.LittleEndian.PutUint32(kd[4:8], privateSize)
	binary.LittleEndian.PutUint32(kd[8:12], kernargSize)
	return kd
}

func sampleKernelObject() []byte {
	code := append(gcn.EncodeSOPP(0, 0), gcn.EncodeSOPP(1, 0)...) // s_nop; s_endpgm
	return objwriter.Build(objwriter.Options{
		Text: code,
		Data: kernelDescriptorBytes(0, 0, 16),
		Symbols: []objwriter.SymbolSpec{
			{Name: "vector_add", Size: uint64(len(code)), Bind: elf.STB_GLOBAL, Type: elf.STT_FUNC, Defined: true},
			{Name: "vector_add.kd", Value: uint64(len(code)), Size: 64, Bind: elf.STB_LOCAL, Type: elf.STT_OBJECT, Defined: true},
		},
	})
}

func writeSampleObject(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sample.o")
	if err := os.WriteFile(path, sampleKernelObject(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func writeSampleBitcode(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hook.bc")
	if err := os.WriteFile(path, []byte{0x42, 0x43, 0xc0, 0xde}, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func captureStdout(t *testing.T, fn func() error) (string, error) {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	old := os.Stdout
	os.Stdout = w
	runErr := fn()
	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		t.Fatal(err)
	}
	return buf.String(), runErr
}

func TestCmdSymbolsListsClassifiedKernel(t *testing.T) {
	objPath := writeSampleObject(t)
	out, err := captureStdout(t, func() error {
		return cmdSymbols([]string{"--obj", objPath})
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "vector_add") || !strings.Contains(out, "kernel") {
		t.Errorf("expected classified kernel in output, got: %s", out)
	}
}

func TestCmdSymbolsFiltersByKind(t *testing.T) {
	objPath := writeSampleObject(t)
	out, err := captureStdout(t, func() error {
		return cmdSymbols([]string{"--obj", objPath, "--kind", "variable"})
	})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out, "vector_add") {
		t.Errorf("expected the kernel symbol to be excluded by --kind variable, got: %s", out)
	}
}

func TestCmdDisasmPrintsInstructions(t *testing.T) {
	objPath := writeSampleObject(t)
	out, err := captureStdout(t, func() error {
		return cmdDisasm([]string{"--obj", objPath, "--func", "vector_add"})
	})
	if err != nil {
		t.Fatal(err)
	}
	if out == "" {
		t.Error("expected non-empty disassembly listing")
	}
}

func TestCmdCFGRendersDOT(t *testing.T) {
	objPath := writeSampleObject(t)
	out, err := captureStdout(t, func() error {
		return cmdCFG([]string{"--obj", objPath, "--func", "vector_add"})
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "digraph cfg") {
		t.Errorf("expected a CFG digraph, got: %s", out)
	}
}

func TestCmdInstrumentWritesObject(t *testing.T) {
	objPath := writeSampleObject(t)
	outDir := t.TempDir()
	out, err := captureStdout(t, func() error {
		return cmdInstrument([]string{
			"--obj", objPath,
			"--func", "vector_add",
			"--hook", "trace_entry",
			"--hook-bitcode", writeSampleBitcode(t),
			"--out", outDir,
		})
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "instrumented") {
		t.Errorf("expected a summary line, got: %s", out)
	}
	if _, err := os.Stat(filepath.Join(outDir, "obj", "vector_add.o")); err != nil {
		t.Errorf("expected instrumented object on disk: %v", err)
	}
}

func TestCmdLoadRewritesDispatchPacket(t *testing.T) {
	objPath := writeSampleObject(t)
	instrDir := t.TempDir()
	if err := cmdInstrument([]string{
		"--obj", objPath,
		"--func", "vector_add",
		"--hook", "trace_entry",
		"--hook-bitcode", writeSampleBitcode(t),
		"--out", instrDir,
	}); err != nil {
		t.Fatal(err)
	}
	instrPath := filepath.Join(instrDir, "obj", "vector_add.o")

	out, err := captureStdout(t, func() error {
		return cmdLoad([]string{
			"--orig", objPath,
			"--instrumented", instrPath,
			"--func", "vector_add",
		})
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "rewritten kernel object") {
		t.Errorf("expected a rewritten dispatch packet summary, got: %s", out)
	}
}

func TestCmdSymbolsRequiresObjFlag(t *testing.T) {
	if err := cmdSymbols(nil); err == nil {
		t.Fatal("expected an error when --obj is missing")
	}
}
