package bytecode

import "fmt"

// Opcode represents a bytecode instruction.
// The byte values are positional and form part of the module format;
// new opcodes go immediately before OpIllegal.
type Opcode byte

const (
	// ========================================================================
	// Stack manipulation
	// ========================================================================

	OpNop         Opcode = iota // No operation
	OpPush                      // Push literal operand
	OpPushFalse                 // Push Bool(false)
	OpPushTrue                  // Push Bool(true)
	OpPushZero                  // Push Integer(0)
	OpPushOne                   // Push Integer(1)
	OpPushNegOne                // Push Integer(-1)
	OpPushUZero                 // Push UInteger(0)
	OpPushUOne                  // Push UInteger(1)
	OpPushFZero                 // Push Float(0)
	OpPushFOne                  // Push Float(1)
	OpPushFNegOne               // Push Float(-1)
	OpPop                       // Discard top of stack
	OpDup                       // Push copy of slot n below top: dup <n:uint>

	// ========================================================================
	// Control flow
	// ========================================================================

	OpJmp              // Jump to absolute instruction: jmp <label>
	OpJmpTrue          // Pop, jump if not false
	OpJmpFalse         // Pop, jump if false (Null or Bool(false))
	OpJmpEq            // Pop two, jump if equal
	OpJmpNeq           // Pop two, jump if not equal
	OpRelativeJmp      // Jump by signed offset from ip: rjmp <off:int>
	OpRelativeJmpTrue  // Pop, relative jump if not false
	OpRelativeJmpFalse // Pop, relative jump if false
	OpRelativeJmpEq    // Pop two, relative jump if equal
	OpRelativeJmpNeq   // Pop two, relative jump if not equal
	OpCall             // Push UInteger(ip+1), jump: call <label>
	OpReturn           // Pop UInteger return address, jump to it

	// ========================================================================
	// Stack manipulation (cont.)
	// ========================================================================

	OpSwap // Exchange top with slot n below top: swap <n:uint>

	// ========================================================================
	// Arithmetic and logic
	// ========================================================================

	OpNot // Boolean negation
	OpAdd // Pop two, push val1 + val2
	OpSub // Pop two, push val1 - val2
	OpMul // Pop two, push val1 * val2
	OpDiv // Pop two, push val1 / val2
	OpNeg // Arithmetic negation

	// ========================================================================
	// Comparison
	// ========================================================================

	OpEq  // Pop two, push Bool(val1 == val2)
	OpNeq // Pop two, push Bool(val1 != val2)
	OpLt  // Pop two, push Bool(val1 < val2)
	OpLte // Pop two, push Bool(val1 <= val2)
	OpGt  // Pop two, push Bool(val1 > val2)
	OpGte // Pop two, push Bool(val1 >= val2)
	OpInc // Increment top in place
	OpDec // Decrement top in place

	// ========================================================================
	// Console I/O
	// ========================================================================

	OpScanI    // Read Integer from input
	OpScanU    // Read UInteger from input
	OpScanF    // Read Float from input
	OpScanC    // Read Char from input
	OpScanB    // Read Boolean from input
	OpScanS    // Read a line into a new heap string
	OpPrint    // Pop and print
	OpPrintLn  // Pop and print with newline
	OpPrintS   // Print heap string on top (no pop)
	OpPrintSLn // Print heap string on top with newline (no pop)

	// ========================================================================
	// Heap memory
	// ========================================================================

	OpAlloc   // Allocate n bytes, push HeapPtr: alloc <n:uint>
	OpReAlloc // Free top pointer, allocate n fresh bytes: realloc <n:uint>
	OpFree    // Pop and free HeapPtr
	OpReadI   // Push Integer loaded through top pointer
	OpReadU   // Push UInteger loaded through top pointer
	OpReadF   // Push Float loaded through top pointer
	OpReadC   // Push Char loaded through top pointer
	OpReadB   // Push Boolean loaded through top pointer
	OpWriteI  // Pop Integer, store through top pointer
	OpWriteU  // Pop UInteger, store through top pointer
	OpWriteF  // Pop Float, store through top pointer
	OpWriteC  // Pop Char, store through top pointer
	OpWriteB  // Pop Boolean, store through top pointer

	// ========================================================================
	// Casts (mismatched source tag yields Null)
	// ========================================================================

	OpI2U
	OpI2F
	OpI2C
	OpU2I
	OpU2F
	OpU2C
	OpU2B
	OpF2I
	OpF2U
	OpF2C
	OpC2I
	OpC2U
	OpC2F
	OpB2U
	OpN2B

	OpHalt // Stop execution

	// ========================================================================
	// Extended set
	// ========================================================================

	OpSdup  // Pop n:uint, then dup n
	OpSswap // Pop n:uint, then swap n
	OpAnd   // Pop two booleans, push conjunction
	OpOr    // Pop two booleans, push disjunction
	OpXor   // Pop two booleans, push exclusive or
	OpRead  // Read file named by global string: read "<path>"

	// OpIllegal marks the end of the table. Bytes at or above it are
	// rejected by the loader.
	OpIllegal
)

// OperandShape describes what follows an opcode in source and binary form.
type OperandShape uint8

const (
	// NoOperand opcodes carry no operand.
	NoOperand OperandShape = iota
	// HasOperand opcodes carry an inline literal value.
	HasOperand
	// LoopOperand opcodes carry an absolute instruction index resolved
	// from a label by the assembler.
	LoopOperand
)

// String returns the shape name.
func (s OperandShape) String() string {
	switch s {
	case NoOperand:
		return "none"
	case HasOperand:
		return "literal"
	case LoopOperand:
		return "label"
	default:
		return fmt.Sprintf("OperandShape(%d)", s)
	}
}

// OpcodeInfo provides metadata about each opcode for assembly, loading and
// disassembly.
type OpcodeInfo struct {
	Name      string       // Assembler mnemonic
	Shape     OperandShape // Operand kind
	StackPop  int          // Values consumed (-1 = depends on operand)
	StackPush int          // Values produced
}

// opcodeInfoTable maps opcodes to their metadata.
var opcodeInfoTable = [OpIllegal]OpcodeInfo{
	// Stack manipulation
	OpNop:         {"nop", NoOperand, 0, 0},
	OpPush:        {"push", HasOperand, 0, 1},
	OpPushFalse:   {"pushf", NoOperand, 0, 1},
	OpPushTrue:    {"pusht", NoOperand, 0, 1},
	OpPushZero:    {"push0", NoOperand, 0, 1},
	OpPushOne:     {"push1", NoOperand, 0, 1},
	OpPushNegOne:  {"pushn1", NoOperand, 0, 1},
	OpPushUZero:   {"pushu0", NoOperand, 0, 1},
	OpPushUOne:    {"pushu1", NoOperand, 0, 1},
	OpPushFZero:   {"pushf0", NoOperand, 0, 1},
	OpPushFOne:    {"pushf1", NoOperand, 0, 1},
	OpPushFNegOne: {"pushfn1", NoOperand, 0, 1},
	OpPop:         {"pop", NoOperand, 1, 0},
	OpDup:         {"dup", HasOperand, 0, 1},
	OpSwap:        {"swap", HasOperand, 0, 0},

	// Control flow
	OpJmp:              {"jmp", LoopOperand, 0, 0},
	OpJmpTrue:          {"jt", LoopOperand, 1, 0},
	OpJmpFalse:         {"jf", LoopOperand, 1, 0},
	OpJmpEq:            {"je", LoopOperand, 2, 0},
	OpJmpNeq:           {"jne", LoopOperand, 2, 0},
	OpRelativeJmp:      {"rjmp", HasOperand, 0, 0},
	OpRelativeJmpTrue:  {"rjt", HasOperand, 1, 0},
	OpRelativeJmpFalse: {"rjf", HasOperand, 1, 0},
	OpRelativeJmpEq:    {"rje", HasOperand, 2, 0},
	OpRelativeJmpNeq:   {"rjne", HasOperand, 2, 0},
	OpCall:             {"call", LoopOperand, 0, 1},
	OpReturn:           {"ret", NoOperand, 1, 0},

	// Arithmetic and logic
	OpNot: {"not", NoOperand, 1, 1},
	OpAdd: {"add", NoOperand, 2, 1},
	OpSub: {"sub", NoOperand, 2, 1},
	OpMul: {"mul", NoOperand, 2, 1},
	OpDiv: {"div", NoOperand, 2, 1},
	OpNeg: {"neg", NoOperand, 1, 1},

	// Comparison
	OpEq:  {"eq", NoOperand, 2, 1},
	OpNeq: {"neq", NoOperand, 2, 1},
	OpLt:  {"lt", NoOperand, 2, 1},
	OpLte: {"lte", NoOperand, 2, 1},
	OpGt:  {"gt", NoOperand, 2, 1},
	OpGte: {"gte", NoOperand, 2, 1},
	OpInc: {"inc", NoOperand, 1, 1},
	OpDec: {"dec", NoOperand, 1, 1},

	// Console I/O
	OpScanI:    {"scani", NoOperand, 0, 1},
	OpScanU:    {"scanu", NoOperand, 0, 1},
	OpScanF:    {"scanf", NoOperand, 0, 1},
	OpScanC:    {"scanc", NoOperand, 0, 1},
	OpScanB:    {"scanb", NoOperand, 0, 1},
	OpScanS:    {"scans", NoOperand, 0, 1},
	OpPrint:    {"print", NoOperand, 1, 0},
	OpPrintLn:  {"println", NoOperand, 1, 0},
	OpPrintS:   {"prints", NoOperand, 1, 1},
	OpPrintSLn: {"printsln", NoOperand, 1, 1},

	// Heap memory
	OpAlloc:   {"alloc", HasOperand, 0, 1},
	OpReAlloc: {"realloc", HasOperand, 1, 1},
	OpFree:    {"free", NoOperand, 1, 0},
	OpReadI:   {"readi", NoOperand, 1, 2},
	OpReadU:   {"readu", NoOperand, 1, 2},
	OpReadF:   {"readf", NoOperand, 1, 2},
	OpReadC:   {"readc", NoOperand, 1, 2},
	OpReadB:   {"readb", NoOperand, 1, 2},
	OpWriteI:  {"writei", NoOperand, 2, 1},
	OpWriteU:  {"writeu", NoOperand, 2, 1},
	OpWriteF:  {"writef", NoOperand, 2, 1},
	OpWriteC:  {"writec", NoOperand, 2, 1},
	OpWriteB:  {"writeb", NoOperand, 2, 1},

	// Casts
	OpI2U: {"i2u", NoOperand, 1, 1},
	OpI2F: {"i2f", NoOperand, 1, 1},
	OpI2C: {"i2c", NoOperand, 1, 1},
	OpU2I: {"u2i", NoOperand, 1, 1},
	OpU2F: {"u2f", NoOperand, 1, 1},
	OpU2C: {"u2c", NoOperand, 1, 1},
	OpU2B: {"u2b", NoOperand, 1, 1},
	OpF2I: {"f2i", NoOperand, 1, 1},
	OpF2U: {"f2u", NoOperand, 1, 1},
	OpF2C: {"f2c", NoOperand, 1, 1},
	OpC2I: {"c2i", NoOperand, 1, 1},
	OpC2U: {"c2u", NoOperand, 1, 1},
	OpC2F: {"c2f", NoOperand, 1, 1},
	OpB2U: {"b2u", NoOperand, 1, 1},
	OpN2B: {"n2b", NoOperand, 1, 1},

	OpHalt: {"halt", NoOperand, 0, 0},

	// Extended set
	OpSdup:  {"sdup", NoOperand, -1, 1},
	OpSswap: {"sswap", NoOperand, -1, 0},
	OpAnd:   {"and", NoOperand, 2, 1},
	OpOr:    {"or", NoOperand, 2, 1},
	OpXor:   {"xor", NoOperand, 2, 1},
	OpRead:  {"read", HasOperand, 0, 2},
}

// mnemonics is the reverse index of opcodeInfoTable.
var mnemonics = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opcodeInfoTable))
	for op, info := range opcodeInfoTable {
		m[info.Name] = Opcode(op)
	}
	return m
}()

// Lookup resolves an assembler mnemonic. Unknown names yield OpIllegal.
func Lookup(mnemonic string) Opcode {
	if op, ok := mnemonics[mnemonic]; ok {
		return op
	}
	return OpIllegal
}

// Valid reports whether op is a defined opcode.
func (op Opcode) Valid() bool {
	return op < OpIllegal
}

// GetOpcodeInfo returns metadata for an opcode.
// Returns an OpcodeInfo named "illegal(0xNN)" if the opcode is not defined.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if op.Valid() {
		return opcodeInfoTable[op]
	}
	return OpcodeInfo{Name: fmt.Sprintf("illegal(0x%02X)", byte(op))}
}

// String returns the mnemonic of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// Shape returns the operand shape of op. Undefined opcodes have no operand.
func (op Opcode) Shape() OperandShape {
	return GetOpcodeInfo(op).Shape
}

// HasOperand reports whether a Value follows op in the binary stream.
func (op Opcode) HasOperand() bool {
	return op.Shape() != NoOperand
}

// IsJump returns true for absolute and relative jumps, including call.
func (op Opcode) IsJump() bool {
	return (op >= OpJmp && op <= OpCall)
}

// IsRelativeJump returns true for the rjmp family.
func (op Opcode) IsRelativeJump() bool {
	return op >= OpRelativeJmp && op <= OpRelativeJmpNeq
}

// IsCast returns true for the X2Y conversion opcodes.
func (op Opcode) IsCast() bool {
	return op >= OpI2U && op <= OpN2B
}

// ForcesUnsigned reports whether a bare numeric literal for op is parsed as
// an unsigned integer.
func (op Opcode) ForcesUnsigned() bool {
	switch op {
	case OpDup, OpSwap, OpAlloc, OpReAlloc:
		return true
	default:
		return false
	}
}

// AcceptsString reports whether op takes a "string" literal operand.
func (op Opcode) AcceptsString() bool {
	return op == OpPush || op == OpRead
}

// AcceptsChar reports whether op takes a 'c' literal operand.
func (op Opcode) AcceptsChar() bool {
	return op == OpPush
}

// AllOpcodes returns a slice of all defined opcodes in byte order.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, OpIllegal)
	for op := OpNop; op < OpIllegal; op++ {
		opcodes = append(opcodes, op)
	}
	return opcodes
}

// OpcodeCount returns the number of defined opcodes.
func OpcodeCount() int {
	return int(OpIllegal)
}
