package vm

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/chazu/glosso/compiler"
	"github.com/chazu/glosso/pkg/bytecode"
)

func newVM(t *testing.T, src, stdin string, opts ...Option) (*VM, *bytes.Buffer) {
	t.Helper()
	m, err := compiler.Assemble(src)
	if err != nil {
		t.Fatalf("Assemble error: %v", err)
	}
	out := &bytes.Buffer{}
	opts = append([]Option{WithStdin(strings.NewReader(stdin)), WithStdout(out)}, opts...)
	return New(m, opts...), out
}

func runProgram(t *testing.T, src, stdin string, opts ...Option) (string, *VM, error) {
	t.Helper()
	vm, out := newVM(t, src, stdin, opts...)
	err := vm.Run(context.Background())
	return out.String(), vm, err
}

func mustRun(t *testing.T, src, stdin string, opts ...Option) string {
	t.Helper()
	out, _, err := runProgram(t, src, stdin, opts...)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	return out
}

func stepN(t *testing.T, vm *VM, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := vm.Step(); err != nil {
			t.Fatalf("Step %d error: %v", i, err)
		}
	}
}

func checkStack(t *testing.T, vm *VM, want ...bytecode.Value) {
	t.Helper()
	got := vm.StackSnapshot()
	if len(got) != len(want) {
		t.Fatalf("stack = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("stack[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func manualVM(code ...bytecode.Instruction) *VM {
	m := bytecode.NewModule()
	m.Code = append(m.Code, code...)
	return New(m, WithStdin(strings.NewReader("")), WithStdout(&bytes.Buffer{}))
}

// ============ Stack Tests ============

func TestPushSub(t *testing.T) {
	vm, _ := newVM(t, "push 5\npush 3\nsub\n", "")
	stepN(t, vm, 3)
	checkStack(t, vm, bytecode.Int(2))
	if vm.IP() != 3 {
		t.Errorf("IP() = %d, want 3", vm.IP())
	}
}

func TestPopEmptyUnderflow(t *testing.T) {
	vm, _ := newVM(t, "pop\n", "")
	err := vm.Step()
	if !errors.Is(err, ErrStackUnderflow) {
		t.Fatalf("Step error = %v, want ErrStackUnderflow", err)
	}
	if vm.IP() != 0 {
		t.Errorf("IP() = %d after failed pop, want 0", vm.IP())
	}
	checkStack(t, vm)

	var vmErr *Error
	if !errors.As(err, &vmErr) {
		t.Fatalf("error %T is not *Error", err)
	}
	if vmErr.IP != 0 || vmErr.Op != bytecode.OpPop {
		t.Errorf("Error = {IP %d, Op %s}, want {0, pop}", vmErr.IP, vmErr.Op)
	}
	if !strings.HasPrefix(err.Error(), "ip 0000 (pop): stack underflow") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestPushConstants(t *testing.T) {
	vm, _ := newVM(t, "pushf\npusht\npush0\npush1\npushn1\npushu0\npushu1\npushf0\npushf1\npushfn1\n", "")
	stepN(t, vm, 10)
	checkStack(t, vm,
		bytecode.Bool(false), bytecode.Bool(true),
		bytecode.Int(0), bytecode.Int(1), bytecode.Int(-1),
		bytecode.UInt(0), bytecode.UInt(1),
		bytecode.Float(0), bytecode.Float(1), bytecode.Float(-1),
	)
}

func TestDupSwap(t *testing.T) {
	vm, _ := newVM(t, "push 1\npush 2\nswap 1\ndup 1\ndup 0\n", "")
	stepN(t, vm, 5)
	checkStack(t, vm, bytecode.Int(2), bytecode.Int(1), bytecode.Int(2), bytecode.Int(2))
}

func TestDupErrors(t *testing.T) {
	tests := []struct {
		name string
		code []bytecode.Instruction
		want error
	}{
		{"dup past bottom", []bytecode.Instruction{
			{Op: bytecode.OpPushOne},
			{Op: bytecode.OpDup, Operand: bytecode.UInt(1)},
		}, ErrStackUnderflow},
		{"dup max operand", []bytecode.Instruction{
			{Op: bytecode.OpPushOne},
			{Op: bytecode.OpDup, Operand: bytecode.UInt(^uint64(0))},
		}, ErrStackUnderflow},
		{"dup signed operand", []bytecode.Instruction{
			{Op: bytecode.OpPushOne},
			{Op: bytecode.OpDup, Operand: bytecode.Int(0)},
		}, ErrInvalidOperand},
		{"swap past bottom", []bytecode.Instruction{
			{Op: bytecode.OpPushOne},
			{Op: bytecode.OpSwap, Operand: bytecode.UInt(1)},
		}, ErrStackUnderflow},
		{"swap float operand", []bytecode.Instruction{
			{Op: bytecode.OpPushOne},
			{Op: bytecode.OpSwap, Operand: bytecode.Float(1)},
		}, ErrInvalidOperand},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vm := manualVM(tt.code...)
			stepN(t, vm, len(tt.code)-1)
			err := vm.Step()
			if !errors.Is(err, tt.want) {
				t.Fatalf("Step error = %v, want %v", err, tt.want)
			}
			checkStack(t, vm, bytecode.Int(1))
		})
	}
}

func TestSdupSswap(t *testing.T) {
	vm, _ := newVM(t, "push 10\npush 20\npushu1\nsdup\n", "")
	stepN(t, vm, 4)
	checkStack(t, vm, bytecode.Int(10), bytecode.Int(20), bytecode.Int(10))

	vm, _ = newVM(t, "push 10\npush 20\npush 30\npush 2u\nsswap\n", "")
	stepN(t, vm, 5)
	checkStack(t, vm, bytecode.Int(30), bytecode.Int(20), bytecode.Int(10))

	vm, _ = newVM(t, "push 1\npush 2\nsdup\n", "")
	stepN(t, vm, 3)
	checkStack(t, vm, bytecode.Int(1), bytecode.Null)
	if vm.IP() != 3 {
		t.Errorf("IP() = %d, want 3", vm.IP())
	}

	vm, _ = newVM(t, "push 1\npushu1\nsswap\n", "")
	stepN(t, vm, 2)
	if err := vm.Step(); !errors.Is(err, ErrStackUnderflow) {
		t.Fatalf("sswap error = %v, want ErrStackUnderflow", err)
	}
	checkStack(t, vm, bytecode.Int(1), bytecode.UInt(1))
}

func TestStackOverflow(t *testing.T) {
	_, vm, err := runProgram(t, "top: push1\njmp top\n", "")
	if !errors.Is(err, ErrStackOverflow) {
		t.Fatalf("Run error = %v, want ErrStackOverflow", err)
	}
	if n := len(vm.StackSnapshot()); n != StackCapacity-1 {
		t.Errorf("stack depth = %d, want %d", n, StackCapacity-1)
	}
}

// ============ Arithmetic Tests ============

func TestArithmeticPrograms(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"add", "push 2\npush 3\nadd\nprintln\nhalt", "5\n"},
		{"mixed add", "push 2\npush 0.5\nadd\nprintln\nhalt", "2.5\n"},
		{"mul", "push 6\npush 7\nmul\nprintln\nhalt", "42\n"},
		{"div", "push 7\npush 2\ndiv\nprintln\nhalt", "3\n"},
		{"div by zero", "push 1\npush 0\ndiv\nprintln\nhalt", "null\n"},
		{"neg", "push 4\nneg\nprintln\nhalt", "-4\n"},
		{"inc dec", "push 'a'\ninc\nprintln\npush 10u\ndec\nprintln\nhalt", "b\n9\n"},
		{"lt", "push 2\npush 3\nlt\nprintln\nhalt", "true\n"},
		{"gte mixed", "push 1.5\npush 2u\ngte\nprintln\nhalt", "false\n"},
		{"eq unordered", "pusht\npush 1\neq\nprintln\nhalt", "false\n"},
		{"neq unordered", "pusht\npush 1\nneq\nprintln\nhalt", "true\n"},
		{"not", "pushf\nnot\nprintln\nhalt", "true\n"},
		{"and or xor", "pusht\npushf\nand\nprintln\npusht\npushf\nor\nprintln\npusht\npusht\nxor\nprintln\nhalt", "false\ntrue\nfalse\n"},
		{"and non-bool", "pusht\npush1\nand\nprintln\nhalt", "null\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mustRun(t, tt.src, ""); got != tt.want {
				t.Errorf("output = %q, want %q", got, tt.want)
			}
		})
	}
}

// ============ Cast Tests ============

func TestCasts(t *testing.T) {
	tests := []struct {
		src  string
		want bytecode.Value
	}{
		{"pusht\nf2i", bytecode.Null},
		{"push -1\ni2u", bytecode.UInt(^uint64(0))},
		{"push 3\ni2f", bytecode.Float(3)},
		{"push 321\ni2c", bytecode.Char(65)},
		{"push 9u\nu2i", bytecode.Int(9)},
		{"push 9u\nu2f", bytecode.Float(9)},
		{"push 66u\nu2c", bytecode.Char('B')},
		{"push 2u\nu2b", bytecode.Bool(true)},
		{"pushu0\nu2b", bytecode.Bool(false)},
		{"push -2.7\nf2i", bytecode.Int(-2)},
		{"push 2.7\nf2u", bytecode.UInt(2)},
		{"push 67.9\nf2c", bytecode.Char('C')},
		{"push 'a'\nc2i", bytecode.Int(97)},
		{"push 'a'\nc2u", bytecode.UInt(97)},
		{"push 'a'\nc2f", bytecode.Float(97)},
		{"pusht\nb2u", bytecode.UInt(1)},
		{"pushf\nb2u", bytecode.UInt(0)},
		{"push null\nn2b", bytecode.Bool(false)},
		{"push1\nn2b", bytecode.Null},
		{"push 1u\ni2f", bytecode.Null},
	}

	for _, tt := range tests {
		vm, _ := newVM(t, tt.src, "")
		stepN(t, vm, 2)
		got := vm.StackSnapshot()
		if len(got) != 1 || got[0] != tt.want {
			t.Errorf("%q: stack = %v, want [%s]", tt.src, got, tt.want)
		}
	}
}

// ============ Control Flow Tests ============

func TestCountdownLoop(t *testing.T) {
	src := `
	push 3
loop:
	dup 0
	println
	dec
	dup 0
	push 0
	jne loop
	halt
`
	if got := mustRun(t, src, ""); got != "3\n2\n1\n" {
		t.Errorf("output = %q, want %q", got, "3\n2\n1\n")
	}
}

func TestConditionalJumps(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"jt taken", "pusht\njt yes\npush \"no\"\nprintln\nhalt\nyes: push \"yes\"\nprintln\nhalt", "yes\n"},
		{"jt zero is true", "push0\njt yes\nhalt\nyes: push \"yes\"\nprintln\nhalt", "yes\n"},
		{"jf null", "push null\njf yes\nhalt\nyes: push \"yes\"\nprintln\nhalt", "yes\n"},
		{"jf not taken", "pusht\njf yes\npush \"no\"\nprintln\nhalt\nyes: halt", "no\n"},
		{"je", "push 2\npush 2u\nje yes\nhalt\nyes: push \"eq\"\nprintln\nhalt", "eq\n"},
		{"rjmp", "rjmp 2\npush \"skipped\"\npush \"landed\"\nprintln\nhalt", "landed\n"},
		{"rjf back", "pusht\nrjf -1\npush \"fell\"\nprintln\nhalt", "fell\n"},
		{"rje", "push1\npush1\nrje 3\npush \"no\"\nprintln\nhalt", ""},
		{"rjne", "push1\npush 2\nrjne 2\nhalt\npush \"ne\"\nprintln\nhalt", "ne\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mustRun(t, tt.src, ""); got != tt.want {
				t.Errorf("output = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCallReturn(t *testing.T) {
	src := `
	call greet
	call greet
	halt
greet:
	push "hi"
	println
	ret
`
	out, vm, err := runProgram(t, src, "")
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if out != "hi\nhi\n" {
		t.Errorf("output = %q, want %q", out, "hi\nhi\n")
	}
	checkStack(t, vm)
}

func TestReturnNonAddress(t *testing.T) {
	vm, _ := newVM(t, "push1\nret\n", "")
	stepN(t, vm, 1)
	if err := vm.Step(); !errors.Is(err, ErrIllegalReturnAddress) {
		t.Fatalf("ret error = %v, want ErrIllegalReturnAddress", err)
	}
	checkStack(t, vm, bytecode.Int(1))
	if vm.IP() != 1 {
		t.Errorf("IP() = %d, want 1", vm.IP())
	}
}

func TestReturnOutOfRange(t *testing.T) {
	_, _, err := runProgram(t, "push 99u\nret\n", "")
	if !errors.Is(err, ErrInvalidAccessInst) {
		t.Fatalf("Run error = %v, want ErrInvalidAccessInst", err)
	}
}

func TestJumpErrors(t *testing.T) {
	tests := []struct {
		name string
		in   bytecode.Instruction
		want error
	}{
		{"jmp signed", bytecode.Instruction{Op: bytecode.OpJmp, Operand: bytecode.Int(0)}, ErrInvalidOperand},
		{"jmp past end", bytecode.Instruction{Op: bytecode.OpJmp, Operand: bytecode.UInt(99)}, ErrInvalidJump},
		{"call past end", bytecode.Instruction{Op: bytecode.OpCall, Operand: bytecode.UInt(2)}, ErrInvalidJump},
		{"rjmp unsigned", bytecode.Instruction{Op: bytecode.OpRelativeJmp, Operand: bytecode.UInt(1)}, ErrInvalidOperand},
		{"rjmp before start", bytecode.Instruction{Op: bytecode.OpRelativeJmp, Operand: bytecode.Int(-5)}, ErrInvalidJump},
		{"rjmp past end", bytecode.Instruction{Op: bytecode.OpRelativeJmp, Operand: bytecode.Int(2)}, ErrInvalidJump},
		{"jt target checked first", bytecode.Instruction{Op: bytecode.OpJmpTrue, Operand: bytecode.UInt(5)}, ErrInvalidJump},
		{"je empty stack", bytecode.Instruction{Op: bytecode.OpJmpEq, Operand: bytecode.UInt(0)}, ErrStackUnderflow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vm := manualVM(tt.in, bytecode.Instruction{Op: bytecode.OpHalt})
			if err := vm.Step(); !errors.Is(err, tt.want) {
				t.Fatalf("Step error = %v, want %v", err, tt.want)
			}
			if vm.IP() != 0 {
				t.Errorf("IP() = %d, want 0", vm.IP())
			}
		})
	}
}

func TestInvalidAccessInst(t *testing.T) {
	_, vm, err := runProgram(t, "push1\n", "")
	if !errors.Is(err, ErrInvalidAccessInst) {
		t.Fatalf("Run error = %v, want ErrInvalidAccessInst", err)
	}
	if vm.IP() != 1 {
		t.Errorf("IP() = %d, want 1", vm.IP())
	}
}

func TestInvalidOpcodeExecute(t *testing.T) {
	vm := manualVM(bytecode.Instruction{Op: bytecode.Opcode(0xC8)})
	if err := vm.Step(); !errors.Is(err, ErrInvalidOpcodeExecute) {
		t.Fatalf("Step error = %v, want ErrInvalidOpcodeExecute", err)
	}
}

func TestHalt(t *testing.T) {
	vm, _ := newVM(t, "halt\npush1\n", "")
	if err := vm.Run(context.Background()); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if !vm.IsHalted() {
		t.Error("IsHalted() = false after halt")
	}
	if vm.IP() != 1 {
		t.Errorf("IP() = %d, want 1", vm.IP())
	}
	if err := vm.Step(); err != nil {
		t.Errorf("Step after halt error: %v", err)
	}
	checkStack(t, vm)
}

func TestRunCancelled(t *testing.T) {
	vm, _ := newVM(t, "spin: jmp spin\n", "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := vm.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v, want context.Canceled", err)
	}

	ctx, cancel = context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := vm.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run error = %v, want context.DeadlineExceeded", err)
	}
	if vm.Steps() == 0 {
		t.Error("Steps() = 0 after a timed run")
	}
}

// ============ Console I/O Tests ============

func TestPrintPointers(t *testing.T) {
	src := `
	push "hello"
	print
	push ", world"
	println
	push 'x'
	println
	push 2.5
	println
	halt
`
	if got := mustRun(t, src, ""); got != "hello, world\nx\n2.5\n" {
		t.Errorf("output = %q", got)
	}
}

func TestPrintsSkipsNonHeap(t *testing.T) {
	vm, out := newVM(t, "push1\nprints\nprintsln\nhalt\n", "")
	if err := vm.Run(context.Background()); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if out.Len() != 0 {
		t.Errorf("output = %q, want empty", out.String())
	}
	checkStack(t, vm, bytecode.Int(1))
}

func TestScan(t *testing.T) {
	src := `
	scani
	println
	scani
	println
	scanf
	println
	scanc
	println
	scanb
	println
	scans
	printsln
	scans
	printsln
	halt
`
	stdin := "42 -7\n3.5 x true\nrest of line\n"
	want := "42\n-7\n3.5\nx\ntrue\n\nrest of line\n"
	if got := mustRun(t, src, stdin); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestScanFailurePushesZero(t *testing.T) {
	tests := []struct {
		src   string
		stdin string
		want  string
	}{
		{"scani\nprintln\nhalt", "abc", "0\n"},
		{"scanu\nprintln\nhalt", "-3", "0\n"},
		{"scanf\nprintln\nhalt", "", "0\n"},
		{"scanb\nprintln\nhalt", "maybe", "false\n"},
		{"scanc\nc2u\nprintln\nhalt", "", "0\n"},
		{"scans\nprintsln\nhalt", "", "\n"},
	}
	for _, tt := range tests {
		if got := mustRun(t, tt.src, tt.stdin); got != tt.want {
			t.Errorf("%q with %q: output = %q, want %q", tt.src, tt.stdin, got, tt.want)
		}
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("device gone") }

func TestScanLineReadFailure(t *testing.T) {
	m, err := compiler.Assemble("scans\nhalt\n")
	if err != nil {
		t.Fatalf("Assemble error: %v", err)
	}
	vm := New(m, WithStdin(failingReader{}), WithStdout(&bytes.Buffer{}))
	if err := vm.Step(); !errors.Is(err, ErrReadStringFailed) {
		t.Fatalf("Step error = %v, want ErrReadStringFailed", err)
	}
	checkStack(t, vm)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("pipe closed") }

func TestPrintIgnoresWriteErrors(t *testing.T) {
	m, err := compiler.Assemble("push 1\nprintln\npush1\nhalt\n")
	if err != nil {
		t.Fatalf("Assemble error: %v", err)
	}
	vm := New(m, WithStdout(failingWriter{}))
	if err := vm.Run(context.Background()); err != nil {
		t.Fatalf("Run error = %v, want nil", err)
	}
	if !vm.IsHalted() {
		t.Error("VM did not halt")
	}
	checkStack(t, vm, bytecode.Int(1))
}

func TestTrace(t *testing.T) {
	var trace bytes.Buffer
	mustRun(t, "push1\nhalt\n", "", WithTrace(&trace))
	want := "[0000] push1      sp=0\n[0001] halt       sp=1\n"
	if trace.String() != want {
		t.Errorf("trace = %q, want %q", trace.String(), want)
	}
}

// ============ Heap Opcode Tests ============

func TestHeapReadWrite(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"int", "alloc 8\npush -42\nwritei\nreadi\nprintln\nfree\nhalt", "-42\n"},
		{"uint", "alloc 8\npush 7u\nwriteu\nreadu\nprintln\nfree\nhalt", "7\n"},
		{"float", "alloc 8\npush 1.5\nwritef\nreadf\nprintln\nfree\nhalt", "1.5\n"},
		{"char", "alloc 1\npush 'A'\nwritec\nreadc\nprintln\nfree\nhalt", "A\n"},
		{"bool", "alloc 1\npusht\nwriteb\nreadb\nprintln\nfree\nhalt", "true\n"},
		{"pointer arithmetic", "alloc 16\npush 8\nadd\npush 5\nwritei\nreadi\nprintln\nhalt", "5\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, vm, err := runProgram(t, tt.src, "")
			if err != nil {
				t.Fatalf("Run error: %v", err)
			}
			if out != tt.want {
				t.Errorf("output = %q, want %q", out, tt.want)
			}
			if strings.Contains(tt.src, "free") && vm.Heap().Live() != 0 {
				t.Errorf("Heap().Live() = %d after free, want 0", vm.Heap().Live())
			}
		})
	}
}

func TestHeapStringPrinting(t *testing.T) {
	src := `
	alloc 3
	push 'h'
	writec
	inc
	push 'i'
	writec
	dec
	printsln
	println
	halt
`
	if got := mustRun(t, src, ""); got != "hi\nhi\n" {
		t.Errorf("output = %q, want %q", got, "hi\nhi\n")
	}
}

func TestHeapErrors(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		steps int
		want  error
		depth int
	}{
		{"write through int", "push1\npush1\nwritei", 2, ErrWriteWithNonPtr, 2},
		{"write wrong type", "alloc 8\npusht\nwritei", 2, ErrWriteValue, 2},
		{"write one value", "alloc 8\nwritei", 1, ErrStackUnderflow, 1},
		{"read through int", "push1\nreadi", 1, ErrReadWithNonPtr, 1},
		{"read past block", "alloc 4\nreadi", 1, ErrInvalidHeapAccess, 1},
		{"write past block", "alloc 4\npush1\nwritei", 2, ErrInvalidHeapAccess, 2},
		{"free int", "push1\nfree", 1, ErrFreeWithNonPtr, 1},
		{"realloc int", "push1\nrealloc 8", 1, ErrReallocWithNonPtr, 1},
		{"read freed", "alloc 8\ndup 0\nfree\nreadi", 3, ErrInvalidHeapAccess, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vm, _ := newVM(t, tt.src, "")
			stepN(t, vm, tt.steps)
			err := vm.Step()
			if !errors.Is(err, tt.want) {
				t.Fatalf("Step error = %v, want %v", err, tt.want)
			}
			if n := len(vm.StackSnapshot()); n != tt.depth {
				t.Errorf("stack depth = %d, want %d", n, tt.depth)
			}
		})
	}
}

func TestAllocLimit(t *testing.T) {
	_, _, err := runProgram(t, "alloc 32\nhalt\n", "", WithMaxHeap(16))
	if !errors.Is(err, ErrAllocFailed) {
		t.Fatalf("Run error = %v, want ErrAllocFailed", err)
	}

	_, _, err = runProgram(t, "alloc 16\nrealloc 32\nhalt\n", "", WithMaxHeap(16))
	if !errors.Is(err, ErrAllocFailed) {
		t.Fatalf("realloc error = %v, want ErrAllocFailed", err)
	}
}

func TestAllocUnlimitedHeapHuge(t *testing.T) {
	vm, _ := newVM(t, "alloc 0xffffffffffffu\nhalt\n", "", WithMaxHeap(0))
	if err := vm.Step(); !errors.Is(err, ErrAllocFailed) {
		t.Fatalf("Step error = %v, want ErrAllocFailed", err)
	}
	if vm.IP() != 0 || len(vm.StackSnapshot()) != 0 {
		t.Errorf("failed alloc changed state: ip %d, stack %v", vm.IP(), vm.StackSnapshot())
	}
}

func TestRealloc(t *testing.T) {
	vm, _ := newVM(t, "alloc 8\nrealloc 32\nhalt\n", "")
	stepN(t, vm, 1)
	before := vm.StackSnapshot()[0]
	stepN(t, vm, 1)
	after := vm.StackSnapshot()
	if len(after) != 1 || after[0] == before || !after[0].Is(bytecode.TagHeapPtr) {
		t.Errorf("after realloc stack = %v (before %s)", after, before)
	}
	if vm.Heap().Live() != 1 || vm.Heap().Used() != 32 {
		t.Errorf("heap = %d blocks / %d bytes, want 1 / 32", vm.Heap().Live(), vm.Heap().Used())
	}
}

func TestReadFile(t *testing.T) {
	files := map[string][]byte{"data.txt": []byte("hello")}
	reader := func(path string) ([]byte, error) {
		if data, ok := files[path]; ok {
			return data, nil
		}
		return nil, os.ErrNotExist
	}

	out := mustRun(t, "read \"data.txt\"\nprintln\nprintsln\nhalt\n", "", WithFileReader(reader))
	if out != "5\nhello\n" {
		t.Errorf("output = %q, want %q", out, "5\nhello\n")
	}

	_, vm, err := runProgram(t, "read \"missing.txt\"\nhalt\n", "", WithFileReader(reader))
	if !errors.Is(err, ErrReadFile) || !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("Run error = %v, want ErrReadFile wrapping os.ErrNotExist", err)
	}
	checkStack(t, vm)

	vm = manualVM(bytecode.Instruction{Op: bytecode.OpRead, Operand: bytecode.Int(0)})
	if err := vm.Step(); !errors.Is(err, ErrInvalidOperand) {
		t.Fatalf("read Integer error = %v, want ErrInvalidOperand", err)
	}
}

func TestReadFileFromDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "in.txt")
	if err := os.WriteFile(path, []byte("disk"), 0o644); err != nil {
		t.Fatal(err)
	}
	src := "read \"" + path + "\"\npop\nprintsln\nhalt\n"
	if got := mustRun(t, src, ""); got != "disk\n" {
		t.Errorf("output = %q, want %q", got, "disk\n")
	}
}

// ============ Load Tests ============

func sampleImage(t *testing.T) []byte {
	t.Helper()
	m, err := compiler.Assemble("push \"sum\"\nprintln\npush 2\npush 3\nadd\nprintln\nhalt\n")
	if err != nil {
		t.Fatalf("Assemble error: %v", err)
	}
	return m.Serialize()
}

func TestLoadAndRun(t *testing.T) {
	var out bytes.Buffer
	vm, err := Load(sampleImage(t), WithStdout(&out))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if err := vm.Run(context.Background()); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if out.String() != "sum\n5\n" {
		t.Errorf("output = %q, want %q", out.String(), "sum\n5\n")
	}
	if string(vm.Globals()) != "sum\x00" {
		t.Errorf("Globals() = %q", vm.Globals())
	}
}

func TestLoadCompressed(t *testing.T) {
	packed, err := bytecode.Compress(sampleImage(t))
	if err != nil {
		t.Fatalf("Compress error: %v", err)
	}
	var out bytes.Buffer
	vm, err := Load(packed, WithStdout(&out))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if err := vm.Run(context.Background()); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if out.String() != "sum\n5\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestLoadErrors(t *testing.T) {
	image := sampleImage(t)
	md, err := bytecode.ParseMetadata(image)
	if err != nil {
		t.Fatal(err)
	}
	code := int(md.ProcLocation)

	corrupt := func(f func(b []byte) []byte) []byte {
		b := append([]byte(nil), image...)
		return f(b)
	}

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"bad magic", corrupt(func(b []byte) []byte { b[0] ^= 0xFF; return b }), ErrBadMagic},
		{"bad version", corrupt(func(b []byte) []byte { b[8]++; return b }), ErrBadVersion},
		{"illegal opcode", corrupt(func(b []byte) []byte { b[code] = byte(bytecode.OpIllegal); return b }), ErrParseOpcode},
		{"bad operand tag", corrupt(func(b []byte) []byte { b[code+1] = 0x7F; return b }), ErrParseOperand},
		{"no terminator", corrupt(func(b []byte) []byte { return b[:len(b)-2] }), ErrTruncatedModule},
		{"short header", image[:10], ErrTruncatedModule},
		{"broken zstd frame", []byte{0x28, 0xB5, 0x2F, 0xFD, 0x00}, ErrTruncatedModule},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.data)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Load error = %v, want %v", err, tt.want)
			}
			var vmErr *Error
			if !errors.As(err, &vmErr) || vmErr.IP != -1 {
				t.Errorf("Load error %v is not a load *Error", err)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prog.gsm")
	if err := os.WriteFile(path, sampleImage(t), 0o644); err != nil {
		t.Fatal(err)
	}
	vm, err := LoadFile(path, WithStdout(&bytes.Buffer{}))
	if err != nil {
		t.Fatalf("LoadFile error: %v", err)
	}
	if in, ok := vm.CurrentInstruction(); !ok || in.Op != bytecode.OpPush {
		t.Errorf("CurrentInstruction() = %s, %v", in, ok)
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.gsm")); !errors.Is(err, ErrReadFile) {
		t.Errorf("LoadFile missing error = %v, want ErrReadFile", err)
	}
}
