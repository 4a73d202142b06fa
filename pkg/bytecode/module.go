package bytecode

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// MagicNumber opens every module file ("glosso" plus marker bytes).
	MagicNumber uint64 = 0x01a46f73736f6c67

	// Version is the module format version the VM accepts.
	Version uint64 = 0x4148504c41

	// GlobalMemoryLocation is the file offset of the global data segment,
	// directly after the metadata header.
	GlobalMemoryLocation = 0x20

	// MetadataSize is the encoded size of Metadata.
	MetadataSize = 32
)

// Terminator marks the end of the instruction stream.
var Terminator = [2]byte{0xE0, 0xF0}

var (
	// ErrBadMagic is returned when the magic number does not match.
	ErrBadMagic = errors.New("invalid magic number")

	// ErrBadVersion is returned when the format version does not match.
	ErrBadVersion = errors.New("unsupported module version")

	// ErrTruncated is returned when the module ends before its terminator.
	ErrTruncated = errors.New("unexpected end of module")

	// ErrIllegalOpcode is returned for an opcode byte at or above OpIllegal.
	ErrIllegalOpcode = errors.New("illegal opcode")

	// ErrBadOperand is returned when an operand value fails to decode.
	ErrBadOperand = errors.New("malformed operand")
)

// Metadata is the fixed header of a module file.
type Metadata struct {
	Magic           uint64 // MagicNumber
	Version         uint64 // Version
	ProcLocation    uint64 // File offset of the first instruction
	GlobalMemLength uint64 // Unpadded length of the global segment
}

// ParseMetadata decodes and validates the module header.
func ParseMetadata(data []byte) (Metadata, error) {
	if len(data) < MetadataSize {
		return Metadata{}, fmt.Errorf("%w: header needs %d bytes, got %d", ErrTruncated, MetadataSize, len(data))
	}
	md := Metadata{
		Magic:           binary.LittleEndian.Uint64(data[0:8]),
		Version:         binary.LittleEndian.Uint64(data[8:16]),
		ProcLocation:    binary.LittleEndian.Uint64(data[16:24]),
		GlobalMemLength: binary.LittleEndian.Uint64(data[24:32]),
	}
	if md.Magic != MagicNumber {
		return md, fmt.Errorf("%w: got 0x%016x", ErrBadMagic, md.Magic)
	}
	if md.Version != Version {
		return md, fmt.Errorf("%w: expected 0x%x, got 0x%x", ErrBadVersion, Version, md.Version)
	}
	return md, nil
}

// AppendMetadata appends the encoded header to buf.
func AppendMetadata(buf []byte, md Metadata) []byte {
	buf = binary.LittleEndian.AppendUint64(buf, md.Magic)
	buf = binary.LittleEndian.AppendUint64(buf, md.Version)
	buf = binary.LittleEndian.AppendUint64(buf, md.ProcLocation)
	buf = binary.LittleEndian.AppendUint64(buf, md.GlobalMemLength)
	return buf
}

// Instruction is one decoded opcode with its operand. The operand is Null
// for opcodes without one.
type Instruction struct {
	Op      Opcode
	Operand Value
}

// String returns the debugger form of the instruction.
func (in Instruction) String() string {
	return fmt.Sprintf("{ Opcode: %s, operand: %s }", in.Op, in.Operand)
}

// Module is an assembled program: the read-only global data segment and
// the instruction stream.
type Module struct {
	Globals []byte
	Code    []Instruction
}

// NewModule creates an empty module.
func NewModule() *Module {
	return &Module{
		Globals: make([]byte, 0, 64),
		Code:    make([]Instruction, 0, 64),
	}
}

// Emit appends an instruction and returns its index.
func (m *Module) Emit(op Opcode, operand Value) int {
	idx := len(m.Code)
	m.Code = append(m.Code, Instruction{Op: op, Operand: operand})
	return idx
}

// AddString appends s plus a NUL byte to the global segment and returns a
// GlobalPtr to its first byte.
func (m *Module) AddString(s string) Value {
	offset := len(m.Globals)
	m.Globals = append(m.Globals, s...)
	m.Globals = append(m.Globals, 0)
	return GlobalPtr(uint64(offset))
}

// PatchOperand replaces the operand of the instruction at idx.
func (m *Module) PatchOperand(idx int, operand Value) error {
	if idx < 0 || idx >= len(m.Code) {
		return fmt.Errorf("patch index %d out of range [0,%d)", idx, len(m.Code))
	}
	m.Code[idx].Operand = operand
	return nil
}

// padding returns the zero bytes needed to align n to 8.
func padding(n int) int {
	return (8 - n%8) % 8
}

// Metadata returns the header describing m.
func (m *Module) Metadata() Metadata {
	return Metadata{
		Magic:           MagicNumber,
		Version:         Version,
		ProcLocation:    uint64(MetadataSize + len(m.Globals) + padding(len(m.Globals))),
		GlobalMemLength: uint64(len(m.Globals)),
	}
}

// Serialize encodes the module to its file form.
// Format:
//
//	[metadata:32] [globals:GlobalMemLength] [zero padding to 8]
//	([opcode:1] [operand value, if any])*
//	[0xE0 0xF0]
func (m *Module) Serialize() []byte {
	md := m.Metadata()

	size := int(md.ProcLocation) + len(m.Code)*10 + len(Terminator)
	buf := make([]byte, 0, size)

	buf = AppendMetadata(buf, md)
	buf = append(buf, m.Globals...)
	buf = append(buf, make([]byte, padding(len(m.Globals)))...)

	for _, in := range m.Code {
		buf = append(buf, byte(in.Op))
		if in.Op.HasOperand() {
			buf = AppendValue(buf, in.Operand)
		}
	}

	return append(buf, Terminator[:]...)
}

// Deserialize decodes a module from its file form.
func Deserialize(data []byte) (*Module, error) {
	md, err := ParseMetadata(data)
	if err != nil {
		return nil, err
	}

	globalEnd := uint64(GlobalMemoryLocation) + md.GlobalMemLength
	if globalEnd > uint64(len(data)) || globalEnd < md.GlobalMemLength {
		return nil, fmt.Errorf("%w: global segment of %d bytes", ErrTruncated, md.GlobalMemLength)
	}
	if md.ProcLocation < globalEnd || md.ProcLocation > uint64(len(data)) {
		return nil, fmt.Errorf("%w: code offset %d outside module", ErrTruncated, md.ProcLocation)
	}

	m := &Module{
		Globals: make([]byte, md.GlobalMemLength),
	}
	copy(m.Globals, data[GlobalMemoryLocation:globalEnd])

	pos := int(md.ProcLocation)
	for {
		if pos+1 < len(data) && data[pos] == Terminator[0] && data[pos+1] == Terminator[1] {
			break
		}
		if pos >= len(data) {
			return nil, fmt.Errorf("%w: no terminator after instruction %d", ErrTruncated, len(m.Code))
		}

		op := Opcode(data[pos])
		if !op.Valid() {
			return nil, fmt.Errorf("%w: 0x%02X at pos %d", ErrIllegalOpcode, data[pos], pos)
		}
		pos++

		var operand Value
		if op.HasOperand() {
			v, n, err := ReadValue(data[pos:])
			if err != nil {
				return nil, fmt.Errorf("%w: %s at pos %d: %v", ErrBadOperand, op, pos, err)
			}
			operand = v
			pos += n
		}

		m.Code = append(m.Code, Instruction{Op: op, Operand: operand})
	}

	return m, nil
}

// GlobalString returns the NUL-terminated string starting at offset in the
// global segment. An offset past the end yields "".
func (m *Module) GlobalString(offset uint64) string {
	return CString(m.Globals, offset)
}

// CString returns the bytes of mem from offset up to the first NUL (or the
// end of mem).
func CString(mem []byte, offset uint64) string {
	if offset >= uint64(len(mem)) {
		return ""
	}
	rest := mem[offset:]
	for i, b := range rest {
		if b == 0 {
			return string(rest[:i])
		}
	}
	return string(rest)
}
