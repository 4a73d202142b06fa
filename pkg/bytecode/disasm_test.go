package bytecode

import (
	"strings"
	"testing"
)

func TestDisassembleEmpty(t *testing.T) {
	output := NewModule().Disassemble()

	if !strings.Contains(output, "glosso module") {
		t.Error("Disassembly missing header")
	}
	if !strings.Contains(output, "Code (0 instructions)") {
		t.Error("Disassembly missing code section")
	}
}

func TestDisassembleListing(t *testing.T) {
	output := sampleModule().DisassembleWithName("sample")

	for _, want := range []string{
		"; === sample ===",
		"Globals (3 bytes)",
		`"hi"`,
		"0000  push     GlobalPtr(0) ; \"hi\"",
		"0001  push     Integer(2)",
		"0002  jmp      L0004",
		"L0004:",
		"0004  println",
		"0005  halt",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("Disassembly missing %q\n%s", want, output)
		}
	}
}

func TestDisassembleRelativeJump(t *testing.T) {
	m := NewModule()
	m.Emit(OpPushOne, Null)
	m.Emit(OpRelativeJmp, Int(-1))
	m.Emit(OpJmp, UInt(99))

	output := m.Disassemble()
	if !strings.Contains(output, "rjmp     Integer(-1) ; -> L0000") {
		t.Errorf("relative jump not resolved:\n%s", output)
	}
	if !strings.Contains(output, "L0000:") {
		t.Errorf("missing label for relative target:\n%s", output)
	}
	if !strings.Contains(output, "out of range") {
		t.Errorf("out-of-range jump not flagged:\n%s", output)
	}
}
