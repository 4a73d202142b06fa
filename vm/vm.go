package vm

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/tliron/commonlog"

	"github.com/chazu/glosso/pkg/bytecode"
)

// StackCapacity is the number of value slots on the operand stack.
const StackCapacity = 1024

var log = commonlog.GetLogger("glosso.vm")

// FileReader loads the file named by a read instruction.
type FileReader func(path string) ([]byte, error)

// VM executes one loaded module. A VM is not safe for concurrent use.
type VM struct {
	code    []bytecode.Instruction
	globals []byte

	ip     int
	stack  [StackCapacity]bytecode.Value
	sp     int
	halted bool
	steps  uint64

	heap *Heap

	in       *bufio.Reader
	out      io.Writer
	trace    io.Writer
	readFile FileReader
	maxHeap  uint64
}

// Option configures a VM.
type Option func(*VM)

// WithStdin sets the reader the scan instructions consume.
func WithStdin(r io.Reader) Option {
	return func(vm *VM) {
		if br, ok := r.(*bufio.Reader); ok {
			vm.in = br
			return
		}
		vm.in = bufio.NewReader(r)
	}
}

// WithStdout sets the writer the print instructions write to.
func WithStdout(w io.Writer) Option {
	return func(vm *VM) { vm.out = w }
}

// WithMaxHeap limits live heap bytes. Zero means unlimited.
func WithMaxHeap(n uint64) Option {
	return func(vm *VM) { vm.maxHeap = n }
}

// WithTrace writes one line per executed instruction to w.
func WithTrace(w io.Writer) Option {
	return func(vm *VM) { vm.trace = w }
}

// WithFileReader replaces os.ReadFile for the read instruction.
func WithFileReader(f FileReader) Option {
	return func(vm *VM) { vm.readFile = f }
}

// New creates a VM ready to run m from instruction 0.
func New(m *bytecode.Module, opts ...Option) *VM {
	vm := &VM{
		code:     m.Code,
		globals:  m.Globals,
		out:      os.Stdout,
		readFile: os.ReadFile,
		maxHeap:  DefaultMaxHeap,
	}
	for _, opt := range opts {
		opt(vm)
	}
	if vm.in == nil {
		vm.in = bufio.NewReader(os.Stdin)
	}
	vm.heap = NewHeap(vm.maxHeap)
	return vm
}

// Load decodes a module file image, plain or zstd-framed, and returns a VM
// for it.
func Load(data []byte, opts ...Option) (*VM, error) {
	plain, err := bytecode.Unwrap(data)
	if err != nil {
		return nil, loadError(err)
	}
	m, err := bytecode.Deserialize(plain)
	if err != nil {
		return nil, loadError(err)
	}
	log.Debugf("loaded module: %d instructions, %d global bytes", len(m.Code), len(m.Globals))
	return New(m, opts...), nil
}

// LoadFile reads and loads the module at path.
func LoadFile(path string, opts ...Option) (*VM, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Kind: ErrReadFile, IP: -1, Err: err}
	}
	return Load(data, opts...)
}

// Run executes until halt, an error, or cancellation of ctx. Cancellation
// is checked between instructions; a read blocked on input is not
// interrupted.
func (vm *VM) Run(ctx context.Context) error {
	for !vm.halted {
		select {
		case <-ctx.Done():
			log.Infof("run cancelled at ip %d after %d steps", vm.ip, vm.steps)
			return ctx.Err()
		default:
		}
		if err := vm.Step(); err != nil {
			return err
		}
	}
	log.Debugf("halted after %d steps", vm.steps)
	return nil
}

// Step executes one instruction. On error the VM state is unchanged. Step
// on a halted VM does nothing.
func (vm *VM) Step() error {
	if vm.halted {
		return nil
	}
	if vm.ip < 0 || vm.ip >= len(vm.code) {
		return &Error{Kind: ErrInvalidAccessInst, IP: vm.ip, Op: bytecode.OpIllegal,
			Detail: fmt.Sprintf("code has %d instructions", len(vm.code))}
	}
	in := vm.code[vm.ip]
	if vm.trace != nil {
		fmt.Fprintf(vm.trace, "[%04d] %-10s sp=%d\n", vm.ip, in.Op, vm.sp)
	}
	if err := vm.execute(in); err != nil {
		return err
	}
	vm.steps++
	return nil
}

// CurrentInstruction returns the instruction at ip. ok is false when ip is
// outside the code.
func (vm *VM) CurrentInstruction() (in bytecode.Instruction, ok bool) {
	if vm.ip < 0 || vm.ip >= len(vm.code) {
		return bytecode.Instruction{}, false
	}
	return vm.code[vm.ip], true
}

// StackSnapshot returns a copy of the live stack, bottom first.
func (vm *VM) StackSnapshot() []bytecode.Value {
	out := make([]bytecode.Value, vm.sp)
	copy(out, vm.stack[:vm.sp])
	return out
}

// IsHalted reports whether a halt instruction has executed.
func (vm *VM) IsHalted() bool { return vm.halted }

// IP returns the instruction pointer.
func (vm *VM) IP() int { return vm.ip }

// Steps returns the number of instructions executed.
func (vm *VM) Steps() uint64 { return vm.steps }

// Globals returns the read-only global segment.
func (vm *VM) Globals() []byte { return vm.globals }

// Heap returns the VM's heap.
func (vm *VM) Heap() *Heap { return vm.heap }

// fail builds an execution error for the instruction at ip.
func (vm *VM) fail(kind error, format string, args ...any) *Error {
	e := &Error{Kind: kind, IP: vm.ip, Op: vm.code[vm.ip].Op}
	if format != "" {
		e.Detail = fmt.Sprintf(format, args...)
	}
	return e
}

// failWith is fail with an underlying cause.
func (vm *VM) failWith(kind, cause error) *Error {
	return &Error{Kind: kind, IP: vm.ip, Op: vm.code[vm.ip].Op, Err: cause}
}
