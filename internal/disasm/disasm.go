// Package disasm turns a byte region of a lifted function into a stream of
// decoded GCN-style instructions and recovers its control-flow graph. It is
// the layer above internal/isa/gcn: gcn.Decode and gcn.EvaluateBranch do the
// per-instruction work, this package drives the stream and builds the
// Direct-Branch Target Set the Code Lifter needs to carve up a function.
package disasm

import (
	"fmt"
	"strings"

	"luthier/internal/isa/gcn"
)

// Inst is one decoded instruction, addressed within its function.
type Inst struct {
	Addr    uint64
	Raw     []byte
	Decoded gcn.Inst
	Err     error // non-nil if this word could not be decoded as a known format
	Text    string
}

// SymbolLookup resolves an address to a symbolic name. Returns ("", false)
// if unknown.
type SymbolLookup func(addr uint64) (name string, ok bool)

// Options controls disassembly behavior.
type Options struct {
	BaseAddr uint64
	MaxSteps int
	Symbols  SymbolLookup
}

const defaultMaxSteps = 1_000_000

func (o Options) effectiveMax() int {
	if o.MaxSteps > 0 {
		return o.MaxSteps
	}
	return defaultMaxSteps
}

// Disassemble decodes a byte region into a linear instruction stream,
// advancing by each instruction's actual size (4 bytes for the first word,
// plus 4 per source-operand word its format carries, plus 4 more when a
// literal-capable format carries a trailing literal word).
func Disassemble(data []byte, opts Options) []Inst {
	maxSteps := opts.effectiveMax()
	var result []Inst
	off := 0
	for steps := 0; off < len(data) && steps < maxSteps; steps++ {
		addr := opts.BaseAddr + uint64(off)
		remaining := data[off:]
		decoded, err := gcn.Decode(remaining)
		size := 4
		if err == nil {
			size = decoded.Size
		}
		if off+size > len(data) {
			size = len(data) - off
		}
		raw := append([]byte(nil), remaining[:min(size, len(remaining))]...)

		var text string
		if err != nil {
			text = fmt.Sprintf(".word 0x%08x", le32(raw))
		} else {
			text = formatInst(decoded)
		}

		result = append(result, Inst{Addr: addr, Raw: raw, Decoded: decoded, Err: err, Text: text})
		if size <= 0 {
			size = 4
		}
		off += size
	}
	return result
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func le32(b []byte) uint32 {
	var v uint32
	for i := 0; i < len(b) && i < 4; i++ {
		v |= uint32(b[i]) << (8 * i)
	}
	return v
}

func formatInst(in gcn.Inst) string {
	var b strings.Builder
	b.WriteString(in.Mnemonic)
	if in.Format != gcn.FormatSOPP {
		fmt.Fprintf(&b, " %s", operandText(in.Dst))
	}
	for _, s := range in.Src {
		fmt.Fprintf(&b, ", %s", operandText(s))
	}
	if in.Format == gcn.FormatSOPP || in.Format == gcn.FormatSOPK {
		fmt.Fprintf(&b, " %d", in.SImm16)
	}
	return b.String()
}

func operandText(op gcn.Operand) string {
	switch op.Kind {
	case gcn.OperandSGPR:
		return fmt.Sprintf("s%d", op.Value)
	case gcn.OperandVGPR:
		return fmt.Sprintf("v%d", op.Value)
	case gcn.OperandImm, gcn.OperandLiteral:
		return fmt.Sprintf("0x%x", op.Value)
	default:
		return fmt.Sprintf("?%d", op.Value)
	}
}

// Format renders a slice of instructions as stable text output:
// <addr>  <hex bytes>  <disasm>  ; <comment>.
func Format(insts []Inst, lookup SymbolLookup) string {
	var b strings.Builder
	for _, inst := range insts {
		fmt.Fprintf(&b, "0x%08x  ", inst.Addr)
		for _, by := range inst.Raw {
			fmt.Fprintf(&b, "%02x ", by)
		}
		b.WriteString(" ")
		b.WriteString(inst.Text)
		if lookup != nil {
			if name, ok := lookup(inst.Addr); ok {
				fmt.Fprintf(&b, "  ; <%s>", name)
			}
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// PlaceholderLookup returns a SymbolLookup over a fixed address->name map,
// used by the CLI to annotate disassembly with known kernel entry points.
func PlaceholderLookup(entryPoints map[uint64]string) SymbolLookup {
	return func(addr uint64) (string, bool) {
		name, ok := entryPoints[addr]
		return name, ok
	}
}
