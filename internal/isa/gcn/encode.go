package gcn

import "encoding/binary"

// EncodeSOPP encodes a scalar program-control instruction. Used by tests to
// build synthetic instruction streams without hand-computing bit layouts.
func EncodeSOPP(opcode uint32, simm16 int16) []byte {
	w := opcode&0x7F<<19 | uint32(uint16(simm16))
	w |= uint32(FormatSOPP) << 26
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, w)
	return buf
}

// EncodeSOPK encodes a scalar-ALU-with-16-bit-immediate instruction.
func EncodeSOPK(opcode uint32, dst uint32, simm16 int16) []byte {
	w := uint32(FormatSOPK)<<26 | opcode&0x1F<<21 | dst&0x1F<<16 | uint32(uint16(simm16))
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, w)
	return buf
}

// EncodeOperand packs one source-operand word.
func EncodeOperand(op Operand) uint32 {
	return uint32(op.Kind)<<30 | uint32(op.Value)&0x3FFFFFFF
}

// encodeWithSources encodes any format with dst + source-operand words,
// appending a trailing literal word when one of the sources carries Kind ==
// OperandLiteral.
func encodeWithSources(format Format, opcode uint32, dst uint32, srcs []Operand) []byte {
	w0 := uint32(format)<<26 | opcode&0x1FF<<17 | dst&0xFF<<9
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, w0)
	for _, s := range srcs {
		word := make([]byte, 4)
		binary.LittleEndian.PutUint32(word, EncodeOperand(s))
		buf = append(buf, word...)
		if s.Kind == OperandLiteral {
			lit := make([]byte, 4)
			binary.LittleEndian.PutUint32(lit, uint32(s.Value))
			buf = append(buf, lit...)
		}
	}
	return buf
}

// EncodeSOP1 encodes a one-source scalar ALU instruction.
func EncodeSOP1(opcode uint32, dst uint32, src0 Operand) []byte {
	return encodeWithSources(FormatSOP1, opcode, dst, []Operand{src0})
}

// EncodeSOP2 encodes a two-source scalar ALU instruction.
func EncodeSOP2(opcode uint32, dst uint32, src0, src1 Operand) []byte {
	return encodeWithSources(FormatSOP2, opcode, dst, []Operand{src0, src1})
}

// EncodeVOP1 encodes a one-source vector ALU instruction.
func EncodeVOP1(opcode uint32, dst uint32, src0 Operand) []byte {
	return encodeWithSources(FormatVOP1, opcode, dst, []Operand{src0})
}
