package bytecode

import (
	"encoding/binary"
	"errors"
	"testing"
)

// sampleModule builds: push "hi"; push 2; jmp 4; nop; println; halt
func sampleModule() *Module {
	m := NewModule()
	m.Emit(OpPush, m.AddString("hi"))
	m.Emit(OpPush, Int(2))
	m.Emit(OpJmp, UInt(4))
	m.Emit(OpNop, Null)
	m.Emit(OpPrintLn, Null)
	m.Emit(OpHalt, Null)
	return m
}

func equalModules(t *testing.T, got, want *Module) {
	t.Helper()
	if string(got.Globals) != string(want.Globals) {
		t.Errorf("Globals = %q, want %q", got.Globals, want.Globals)
	}
	if len(got.Code) != len(want.Code) {
		t.Fatalf("len(Code) = %d, want %d", len(got.Code), len(want.Code))
	}
	for i := range want.Code {
		if got.Code[i] != want.Code[i] {
			t.Errorf("Code[%d] = %s, want %s", i, got.Code[i], want.Code[i])
		}
	}
}

// ============ Layout Tests ============

func TestSerializeLayout(t *testing.T) {
	m := sampleModule()
	data := m.Serialize()

	if got := binary.LittleEndian.Uint64(data[0:8]); got != MagicNumber {
		t.Errorf("magic = 0x%x, want 0x%x", got, MagicNumber)
	}
	if got := binary.LittleEndian.Uint64(data[8:16]); got != Version {
		t.Errorf("version = 0x%x, want 0x%x", got, Version)
	}
	// "hi\x00" is 3 bytes, padded to 8.
	if got := binary.LittleEndian.Uint64(data[16:24]); got != 40 {
		t.Errorf("procLocation = %d, want 40", got)
	}
	if got := binary.LittleEndian.Uint64(data[24:32]); got != 3 {
		t.Errorf("globalMemLength = %d, want 3", got)
	}
	if string(data[32:35]) != "hi\x00" {
		t.Errorf("global segment = %q", data[32:35])
	}
	for i := 35; i < 40; i++ {
		if data[i] != 0 {
			t.Errorf("padding byte %d = 0x%02X, want 0", i, data[i])
		}
	}
	if data[40] != byte(OpPush) || data[41] != byte(TagGlobalPtr) {
		t.Errorf("first instruction = % x", data[40:42])
	}
	if data[len(data)-2] != 0xE0 || data[len(data)-1] != 0xF0 {
		t.Errorf("terminator = % x", data[len(data)-2:])
	}

	// push(1+9) push(1+9) jmp(1+9) nop(1) println(1) halt(1) + terminator(2)
	if want := 40 + 10 + 10 + 10 + 3 + 2; len(data) != want {
		t.Errorf("len(data) = %d, want %d", len(data), want)
	}
}

func TestSerializeAlignedGlobals(t *testing.T) {
	m := NewModule()
	m.AddString("1234567") // 8 bytes with NUL
	m.Emit(OpHalt, Null)
	if got := m.Metadata().ProcLocation; got != 40 {
		t.Errorf("ProcLocation = %d, want 40", got)
	}

	empty := NewModule()
	if got := empty.Metadata().ProcLocation; got != MetadataSize {
		t.Errorf("empty ProcLocation = %d, want %d", got, MetadataSize)
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	m := sampleModule()
	got, err := Deserialize(m.Serialize())
	if err != nil {
		t.Fatalf("Deserialize error: %v", err)
	}
	equalModules(t, got, m)
}

func TestDeserializeEmptyCode(t *testing.T) {
	m := NewModule()
	got, err := Deserialize(m.Serialize())
	if err != nil {
		t.Fatalf("Deserialize error: %v", err)
	}
	if len(got.Code) != 0 {
		t.Errorf("len(Code) = %d, want 0", len(got.Code))
	}
}

// ============ Validation Tests ============

func TestDeserializeErrors(t *testing.T) {
	tests := []struct {
		name    string
		corrupt func([]byte) []byte
		want    error
	}{
		{"bad magic", func(d []byte) []byte { d[0] ^= 0xFF; return d }, ErrBadMagic},
		{"bad version", func(d []byte) []byte { d[8] ^= 0xFF; return d }, ErrBadVersion},
		{"short header", func(d []byte) []byte { return d[:16] }, ErrTruncated},
		{"no terminator", func(d []byte) []byte { return d[:len(d)-2] }, ErrTruncated},
		{"illegal opcode", func(d []byte) []byte { d[40] = byte(OpIllegal); return d }, ErrIllegalOpcode},
		{"bad operand tag", func(d []byte) []byte { d[41] = 0x0F; return d }, ErrBadOperand},
		{"global overrun", func(d []byte) []byte {
			binary.LittleEndian.PutUint64(d[24:32], 1<<40)
			return d
		}, ErrTruncated},
		{"code offset inside globals", func(d []byte) []byte {
			binary.LittleEndian.PutUint64(d[16:24], 33)
			return d
		}, ErrTruncated},
	}
	for _, tt := range tests {
		data := tt.corrupt(sampleModule().Serialize())
		_, err := Deserialize(data)
		if !errors.Is(err, tt.want) {
			t.Errorf("%s: err = %v, want %v", tt.name, err, tt.want)
		}
	}
}

// ============ Helpers Tests ============

func TestPatchOperand(t *testing.T) {
	m := NewModule()
	idx := m.Emit(OpJmp, Null)
	if err := m.PatchOperand(idx, UInt(7)); err != nil {
		t.Fatalf("PatchOperand error: %v", err)
	}
	if m.Code[idx].Operand != UInt(7) {
		t.Errorf("operand = %s, want UInteger(7)", m.Code[idx].Operand)
	}
	if err := m.PatchOperand(5, UInt(0)); err == nil {
		t.Error("expected out-of-range error")
	}
}

func TestGlobalString(t *testing.T) {
	m := NewModule()
	a := m.AddString("alpha")
	b := m.AddString("")
	c := m.AddString("gamma")

	for _, tt := range []struct {
		ptr  Value
		want string
	}{{a, "alpha"}, {b, ""}, {c, "gamma"}} {
		off, _ := tt.ptr.AsGlobalPtr()
		if got := m.GlobalString(off); got != tt.want {
			t.Errorf("GlobalString(%d) = %q, want %q", off, got, tt.want)
		}
	}
	if got := m.GlobalString(1000); got != "" {
		t.Errorf("GlobalString past end = %q, want empty", got)
	}
	if got := CString([]byte("abc"), 1); got != "bc" {
		t.Errorf("CString without NUL = %q, want %q", got, "bc")
	}
}

func TestInstructionString(t *testing.T) {
	in := Instruction{Op: OpPush, Operand: Int(5)}
	if got, want := in.String(), "{ Opcode: push, operand: Integer(5) }"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
