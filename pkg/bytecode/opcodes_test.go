package bytecode

import "testing"

func TestOpcodeByteValues(t *testing.T) {
	// Byte values are part of the module format.
	tests := []struct {
		op   Opcode
		want byte
	}{
		{OpNop, 0},
		{OpPush, 1},
		{OpPop, 12},
		{OpJmp, 14},
		{OpCall, 24},
		{OpSwap, 26},
		{OpAdd, 28},
		{OpScanI, 41},
		{OpAlloc, 51},
		{OpI2U, 64},
		{OpHalt, 79},
		{OpSdup, 80},
		{OpRead, 85},
		{OpIllegal, 86},
	}
	for _, tt := range tests {
		if byte(tt.op) != tt.want {
			t.Errorf("%s = %d, want %d", tt.op, byte(tt.op), tt.want)
		}
	}
}

func TestOpcodeTableComplete(t *testing.T) {
	for _, op := range AllOpcodes() {
		info := GetOpcodeInfo(op)
		if info.Name == "" {
			t.Errorf("opcode 0x%02X has no table entry", byte(op))
		}
	}
	if len(AllOpcodes()) != OpcodeCount() {
		t.Errorf("AllOpcodes() has %d entries, OpcodeCount() = %d", len(AllOpcodes()), OpcodeCount())
	}
}

func TestLookupRoundTrip(t *testing.T) {
	for _, op := range AllOpcodes() {
		if got := Lookup(op.String()); got != op {
			t.Errorf("Lookup(%q) = %s, want %s", op.String(), got, op)
		}
	}
}

func TestLookupUnknown(t *testing.T) {
	for _, name := range []string{"", "bogus", "PUSH", "illegal", "write"} {
		if got := Lookup(name); got != OpIllegal {
			t.Errorf("Lookup(%q) = %s, want OpIllegal", name, got)
		}
	}
}

func TestOperandShapes(t *testing.T) {
	hasOperand := map[Opcode]bool{
		OpPush: true, OpDup: true, OpSwap: true, OpAlloc: true, OpReAlloc: true, OpRead: true,
		OpRelativeJmp: true, OpRelativeJmpTrue: true, OpRelativeJmpFalse: true,
		OpRelativeJmpEq: true, OpRelativeJmpNeq: true,
	}
	loopOperand := map[Opcode]bool{
		OpJmp: true, OpJmpTrue: true, OpJmpFalse: true, OpJmpEq: true, OpJmpNeq: true, OpCall: true,
	}

	for _, op := range AllOpcodes() {
		want := NoOperand
		switch {
		case hasOperand[op]:
			want = HasOperand
		case loopOperand[op]:
			want = LoopOperand
		}
		if got := op.Shape(); got != want {
			t.Errorf("%s.Shape() = %s, want %s", op, got, want)
		}
	}
}

func TestIllegalOpcodeInfo(t *testing.T) {
	if OpIllegal.Valid() {
		t.Error("OpIllegal should not be valid")
	}
	if got := Opcode(0xE0).String(); got != "illegal(0xE0)" {
		t.Errorf("Opcode(0xE0).String() = %q, want %q", got, "illegal(0xE0)")
	}
	if Opcode(0xFF).HasOperand() {
		t.Error("undefined opcode should not carry an operand")
	}
}

func TestOpcodePredicates(t *testing.T) {
	for _, op := range []Opcode{OpJmp, OpJmpNeq, OpRelativeJmp, OpCall} {
		if !op.IsJump() {
			t.Errorf("%s.IsJump() = false", op)
		}
	}
	if OpReturn.IsJump() || OpAdd.IsJump() {
		t.Error("ret/add are not jumps")
	}
	if !OpRelativeJmpEq.IsRelativeJump() || OpJmpEq.IsRelativeJump() {
		t.Error("IsRelativeJump mismatch")
	}
	if !OpI2U.IsCast() || !OpN2B.IsCast() || OpHalt.IsCast() {
		t.Error("IsCast mismatch")
	}
	for _, op := range []Opcode{OpDup, OpSwap, OpAlloc, OpReAlloc} {
		if !op.ForcesUnsigned() {
			t.Errorf("%s.ForcesUnsigned() = false", op)
		}
	}
	if OpPush.ForcesUnsigned() {
		t.Error("push should not force unsigned")
	}
	if !OpRead.AcceptsString() || OpRead.AcceptsChar() || !OpPush.AcceptsChar() {
		t.Error("literal acceptance mismatch")
	}
}
