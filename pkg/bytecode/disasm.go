package bytecode

import (
	"fmt"
	"strconv"
	"strings"
)

// Disassemble returns a human-readable listing of the module.
func (m *Module) Disassemble() string {
	return m.DisassembleWithName("")
}

// DisassembleWithName returns a listing with a name header.
func (m *Module) DisassembleWithName(name string) string {
	var sb strings.Builder

	// Header
	if name != "" {
		sb.WriteString(fmt.Sprintf("; === %s ===\n", name))
	}
	md := m.Metadata()
	sb.WriteString(fmt.Sprintf("; glosso module version 0x%x\n", md.Version))
	sb.WriteString(fmt.Sprintf("; code offset: 0x%X\n", md.ProcLocation))
	sb.WriteString("\n")

	// Globals
	if len(m.Globals) > 0 {
		sb.WriteString(fmt.Sprintf("; Globals (%d bytes):\n", len(m.Globals)))
		for offset := 0; offset < len(m.Globals); {
			s := CString(m.Globals, uint64(offset))
			display := s
			if len(display) > 40 {
				display = display[:37] + "..."
			}
			sb.WriteString(fmt.Sprintf(";   [%04X] %s\n", offset, strconv.Quote(display)))
			offset += len(s) + 1
		}
		sb.WriteString("\n")
	}

	// Jump targets get a label line so the listing reads like source.
	targets := m.jumpTargets()

	sb.WriteString(fmt.Sprintf("; Code (%d instructions):\n", len(m.Code)))
	for idx := range m.Code {
		if targets[idx] {
			sb.WriteString(fmt.Sprintf("L%04d:\n", idx))
		}
		sb.WriteString(fmt.Sprintf("%04d  %s\n", idx, m.disassembleInstruction(idx)))
	}

	return sb.String()
}

// jumpTargets returns the set of instruction indices that absolute jumps
// and relative jumps land on.
func (m *Module) jumpTargets() map[int]bool {
	targets := make(map[int]bool)
	for idx, in := range m.Code {
		if target, ok := m.jumpTarget(idx, in); ok {
			targets[target] = true
		}
	}
	return targets
}

// jumpTarget resolves the destination of a jump instruction, if it lands
// inside the module.
func (m *Module) jumpTarget(idx int, in Instruction) (int, bool) {
	switch {
	case in.Op.Shape() == LoopOperand:
		if u, ok := in.Operand.AsUInt(); ok && u < uint64(len(m.Code)) {
			return int(u), true
		}
	case in.Op.IsRelativeJump():
		if off, ok := in.Operand.AsInt(); ok {
			target := int64(idx) + off
			if target >= 0 && target < int64(len(m.Code)) {
				return int(target), true
			}
		}
	}
	return 0, false
}

// disassembleInstruction formats the instruction at idx.
func (m *Module) disassembleInstruction(idx int) string {
	if idx >= len(m.Code) {
		return "<end of code>"
	}
	in := m.Code[idx]

	switch in.Op.Shape() {
	case NoOperand:
		return in.Op.String()

	case LoopOperand:
		if target, ok := m.jumpTarget(idx, in); ok {
			return fmt.Sprintf("%-8s L%04d", in.Op, target)
		}
		return fmt.Sprintf("%-8s %s ; out of range", in.Op, in.Operand)

	default:
		if in.Op.IsRelativeJump() {
			if target, ok := m.jumpTarget(idx, in); ok {
				return fmt.Sprintf("%-8s %s ; -> L%04d", in.Op, in.Operand, target)
			}
		}
		if off, ok := in.Operand.AsGlobalPtr(); ok {
			return fmt.Sprintf("%-8s %s ; %s", in.Op, in.Operand, strconv.Quote(m.GlobalString(off)))
		}
		return fmt.Sprintf("%-8s %s", in.Op, in.Operand)
	}
}
