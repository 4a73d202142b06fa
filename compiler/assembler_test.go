package compiler

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/chazu/glosso/pkg/bytecode"
)

func mustAssemble(t *testing.T, src string, opts ...Option) *bytecode.Module {
	t.Helper()
	m, err := Assemble(src, opts...)
	if err != nil {
		t.Fatalf("Assemble(%q) error: %v", src, err)
	}
	return m
}

// ============ Instruction Tests ============

func TestAssembleSimpleProgram(t *testing.T) {
	m := mustAssemble(t, "push 2\npush 3\nadd\nprintln\nhalt\n")

	want := []bytecode.Instruction{
		{Op: bytecode.OpPush, Operand: bytecode.Int(2)},
		{Op: bytecode.OpPush, Operand: bytecode.Int(3)},
		{Op: bytecode.OpAdd},
		{Op: bytecode.OpPrintLn},
		{Op: bytecode.OpHalt},
	}
	if len(m.Code) != len(want) {
		t.Fatalf("len(Code) = %d, want %d", len(m.Code), len(want))
	}
	for i := range want {
		if m.Code[i] != want[i] {
			t.Errorf("Code[%d] = %s, want %s", i, m.Code[i], want[i])
		}
	}
}

func TestAssembleForwardJump(t *testing.T) {
	src := `
	jmp end
	push1
	println
end:
	halt
`
	m := mustAssemble(t, src)
	if got := m.Code[0].Operand; got != bytecode.UInt(3) {
		t.Errorf("jmp operand = %s, want UInteger(3)", got)
	}
	if m.Code[3].Op != bytecode.OpHalt {
		t.Errorf("Code[3] = %s, want halt", m.Code[3])
	}
}

func TestAssembleBackwardJumpAndCall(t *testing.T) {
	src := `loop: push1
	jt loop
	call fn
	halt
fn: ret`
	m := mustAssemble(t, src)
	if got := m.Code[1].Operand; got != bytecode.UInt(0) {
		t.Errorf("jt operand = %s, want UInteger(0)", got)
	}
	if got := m.Code[2].Operand; got != bytecode.UInt(4) {
		t.Errorf("call operand = %s, want UInteger(4)", got)
	}
}

func TestAssembleLabels(t *testing.T) {
	a := NewAssembler()
	if _, err := a.Assemble("start:\n nop\nmid: nop\nend:\n"); err != nil {
		t.Fatal(err)
	}
	want := []LabelInfo{
		{Name: "start", Instruction: 0, Line: 1},
		{Name: "mid", Instruction: 1, Line: 3},
		{Name: "end", Instruction: 2, Line: 4},
	}
	labels := a.Labels()
	if len(labels) != len(want) {
		t.Fatalf("labels = %v, want %v", labels, want)
	}
	for i := range want {
		if labels[i] != want[i] {
			t.Errorf("labels[%d] = %+v, want %+v", i, labels[i], want[i])
		}
	}
}

func TestAssembleNoOperandIgnoresTrailingText(t *testing.T) {
	m := mustAssemble(t, "add extra words\nhalt")
	if len(m.Code) != 2 || m.Code[0].Op != bytecode.OpAdd {
		t.Errorf("Code = %v", m.Code)
	}
}

// ============ Operand Tests ============

func TestAssembleOperands(t *testing.T) {
	tests := []struct {
		src  string
		want bytecode.Value
	}{
		{"push 42", bytecode.Int(42)},
		{"push -7", bytecode.Int(-7)},
		{"push 0x1F", bytecode.Int(31)},
		{"push 0b101", bytecode.Int(5)},
		{"push 0o17", bytecode.Int(15)},
		{"push 5u", bytecode.UInt(5)},
		{"push 0xFFu", bytecode.UInt(255)},
		{"push 1.5", bytecode.Float(1.5)},
		{"push -0.25", bytecode.Float(-0.25)},
		{"push null", bytecode.Null},
		{"push true", bytecode.Bool(true)},
		{"push false", bytecode.Bool(false)},
		{"push 'a'", bytecode.Char('a')},
		{`push '\n'`, bytecode.Char('\n')},
		{`push '\0'`, bytecode.Char(0)},
		{`push '\\'`, bytecode.Char('\\')},
		{`push '\x41'`, bytecode.Char('A')},
		{"dup 2", bytecode.UInt(2)},
		{"swap 1", bytecode.UInt(1)},
		{"alloc 0x10", bytecode.UInt(16)},
		{"realloc 8", bytecode.UInt(8)},
		{"rjmp -2", bytecode.Int(-2)},
		{"push 3 ; trailing comment", bytecode.Int(3)},
	}
	for _, tt := range tests {
		m := mustAssemble(t, tt.src)
		if got := m.Code[0].Operand; got != tt.want {
			t.Errorf("%q operand = %s, want %s", tt.src, got, tt.want)
		}
	}
}

func TestAssembleStrings(t *testing.T) {
	m := mustAssemble(t, "push \"hi\"\nread \"data.txt\"\nprintln\n")
	if string(m.Globals) != "hi\x00data.txt\x00" {
		t.Errorf("Globals = %q", m.Globals)
	}
	if m.Code[0].Operand != bytecode.GlobalPtr(0) {
		t.Errorf("push operand = %s, want GlobalPtr(0)", m.Code[0].Operand)
	}
	if m.Code[1].Operand != bytecode.GlobalPtr(3) {
		t.Errorf("read operand = %s, want GlobalPtr(3)", m.Code[1].Operand)
	}
}

// ============ Error Tests ============

func TestAssembleErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want error
		line int
	}{
		{"unknown opcode", "nop\nfrobnicate", ErrUnknownOpcode, 2},
		{"unsigned float", "push 1.5u", ErrOperandTypesCollide, 1},
		{"bad integer", "push 12abc", ErrParseInteger, 1},
		{"bad unsigned", "dup -1", ErrParseUInteger, 1},
		{"bad float", "push 1.2.3", ErrParseFloat, 1},
		{"missing operand", "push\nhalt", ErrParseInteger, 1},
		{"missing unsigned operand", "alloc", ErrParseUInteger, 1},
		{"dup without slot", "push1\ndup\nadd", ErrParseUInteger, 2},
		{"char on read", "read 'a'", ErrParseChar, 1},
		{"long char", "push 'abcde'", ErrParseChar, 1},
		{"two chars", "push 'ab'", ErrParseChar, 1},
		{"bad escape", `push '\q'`, ErrParseChar, 1},
		{"string on dup", `dup "x"`, ErrParseString, 1},
		{"unterminated string", `push "abc`, ErrParseString, 1},
		{"bad label def", "bad-label:\nhalt", ErrIllegalJumpLabelName, 1},
		{"bad jump label", "jmp bad-label", ErrIllegalJumpLabelName, 1},
		{"missing jump label", "\n\njmp\n", ErrIllegalJumpLabelName, 3},
		{"unresolved", "push1\njmp nowhere", ErrUnresolvedLabel, 2},
	}
	for _, tt := range tests {
		_, err := Assemble(tt.src)
		if !errors.Is(err, tt.want) {
			t.Errorf("%s: err = %v, want %v", tt.name, err, tt.want)
			continue
		}
		var aerr *Error
		if !errors.As(err, &aerr) {
			t.Errorf("%s: error is %T, want *Error", tt.name, err)
			continue
		}
		if aerr.Line != tt.line {
			t.Errorf("%s: line = %d, want %d", tt.name, aerr.Line, tt.line)
		}
	}
}

func TestAssembleCapacities(t *testing.T) {
	_, err := Assemble("a:\nb:\nc:\n", WithLabelCapacity(2))
	if !errors.Is(err, ErrLabelsListOverflow) {
		t.Errorf("labels: err = %v, want ErrLabelsListOverflow", err)
	}

	_, err = Assemble("a: jmp a\njmp a\n", WithJumpCapacity(1))
	if !errors.Is(err, ErrJumpsListOverflow) {
		t.Errorf("jumps: err = %v, want ErrJumpsListOverflow", err)
	}

	_, err = Assemble(`push "0123456789"`, WithGlobalCapacity(8))
	if !errors.Is(err, ErrGlobalMemoryOverflow) {
		t.Errorf("globals: err = %v, want ErrGlobalMemoryOverflow", err)
	}

	// Zero disables the limit.
	if _, err := Assemble("a:\nb:\nc:\n", WithLabelCapacity(0)); err != nil {
		t.Errorf("unlimited labels: %v", err)
	}
}

func TestAssembleBinaryRoundTrip(t *testing.T) {
	m := mustAssemble(t, "push \"x\"\nloop: push 1.5\njf loop\nhalt\n")
	got, err := bytecode.Deserialize(m.Serialize())
	if err != nil {
		t.Fatalf("Deserialize error: %v", err)
	}
	if len(got.Code) != len(m.Code) {
		t.Fatalf("len(Code) = %d, want %d", len(got.Code), len(m.Code))
	}
	for i := range m.Code {
		if got.Code[i] != m.Code[i] {
			t.Errorf("Code[%d] = %s, want %s", i, got.Code[i], m.Code[i])
		}
	}
}

// ============ File Tests ============

func TestAssembleFileAndWrite(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "main.glasm")
	if err := os.WriteFile(src, []byte("push 1\nprintln\nhalt\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := AssembleFile(src)
	if err != nil {
		t.Fatalf("AssembleFile error: %v", err)
	}

	out := filepath.Join(dir, "main.gsm")
	if err := WriteModule(m, out, true); err != nil {
		t.Fatalf("WriteModule error: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !bytecode.IsCompressed(data) {
		t.Error("module was not compressed")
	}

	if _, err := AssembleFile(filepath.Join(dir, "missing.glasm")); !errors.Is(err, ErrReadFailed) {
		t.Errorf("missing file: err = %v, want ErrReadFailed", err)
	}
	if err := WriteModule(m, filepath.Join(dir, "no", "such", "dir.gsm"), false); !errors.Is(err, ErrWriteFailed) {
		t.Errorf("bad path: err = %v, want ErrWriteFailed", err)
	}
}
