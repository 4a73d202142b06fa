package bytecode

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// cborEncMode uses canonical mode so equal modules encode to equal bytes.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bytecode: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// wireModule is the CBOR shape of a Module.
type wireModule struct {
	Version uint64            `cbor:"1,keyasint"`
	Globals []byte            `cbor:"2,keyasint,omitempty"`
	Code    []wireInstruction `cbor:"3,keyasint"`
}

// wireInstruction encodes as a 3-element array [op, tag, bits].
type wireInstruction struct {
	_    struct{} `cbor:",toarray"`
	Op   uint8
	Tag  uint8
	Bits uint64
}

// MarshalCBOR implements cbor.Marshaler.
func (m *Module) MarshalCBOR() ([]byte, error) {
	w := wireModule{
		Version: Version,
		Globals: m.Globals,
		Code:    make([]wireInstruction, len(m.Code)),
	}
	for i, in := range m.Code {
		w.Code[i] = wireInstruction{Op: uint8(in.Op), Tag: uint8(in.Operand.tag), Bits: in.Operand.bits}
	}
	return cborEncMode.Marshal(w)
}

// UnmarshalCBOR implements cbor.Unmarshaler. It applies the same opcode
// and tag checks as Deserialize.
func (m *Module) UnmarshalCBOR(data []byte) error {
	var w wireModule
	if err := cbor.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("bytecode: unmarshal module: %w", err)
	}
	if w.Version != Version {
		return fmt.Errorf("%w: expected 0x%x, got 0x%x", ErrBadVersion, Version, w.Version)
	}

	code := make([]Instruction, len(w.Code))
	for i, wi := range w.Code {
		op := Opcode(wi.Op)
		if !op.Valid() {
			return fmt.Errorf("%w: 0x%02X at instruction %d", ErrIllegalOpcode, wi.Op, i)
		}
		tag := Tag(wi.Tag)
		if !tag.Valid() {
			return fmt.Errorf("%w: instruction %d: %w", ErrBadOperand, i, ErrInvalidTag)
		}
		if tag == TagBoolean && wi.Bits > 1 {
			return fmt.Errorf("%w: instruction %d: %w", ErrBadOperand, i, ErrInvalidBool)
		}
		code[i] = Instruction{Op: op, Operand: Value{tag: tag, bits: wi.Bits}}
	}

	m.Globals = w.Globals
	if m.Globals == nil {
		m.Globals = []byte{}
	}
	m.Code = code
	return nil
}

// MarshalModule serializes a Module to CBOR bytes.
func MarshalModule(m *Module) ([]byte, error) {
	return m.MarshalCBOR()
}

// UnmarshalModule deserializes a Module from CBOR bytes.
func UnmarshalModule(data []byte) (*Module, error) {
	var m Module
	if err := m.UnmarshalCBOR(data); err != nil {
		return nil, err
	}
	return &m, nil
}
