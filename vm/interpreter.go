package vm

import (
	"errors"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/chazu/glosso/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Stack helpers
// ---------------------------------------------------------------------------

// need checks that n values are on the stack.
func (vm *VM) need(n int) error {
	if vm.sp < n {
		return vm.fail(ErrStackUnderflow, "need %d, have %d", n, vm.sp)
	}
	return nil
}

// room checks that n more values fit on the stack.
func (vm *VM) room(n int) error {
	if vm.sp+n >= StackCapacity {
		return vm.fail(ErrStackOverflow, "sp %d + %d", vm.sp, n)
	}
	return nil
}

func (vm *VM) push(v bytecode.Value) {
	vm.stack[vm.sp] = v
	vm.sp++
}

func (vm *VM) pop() bytecode.Value {
	vm.sp--
	return vm.stack[vm.sp]
}

func (vm *VM) top() bytecode.Value {
	return vm.stack[vm.sp-1]
}

// ---------------------------------------------------------------------------
// Dispatch
// ---------------------------------------------------------------------------

// execute runs one instruction. Every precondition is checked before the
// first mutation.
func (vm *VM) execute(in bytecode.Instruction) error {
	op := in.Op

	switch op {
	// --- Constants ---
	case bytecode.OpPushFalse:
		return vm.pushConst(bytecode.Bool(false))
	case bytecode.OpPushTrue:
		return vm.pushConst(bytecode.Bool(true))
	case bytecode.OpPushZero:
		return vm.pushConst(bytecode.Int(0))
	case bytecode.OpPushOne:
		return vm.pushConst(bytecode.Int(1))
	case bytecode.OpPushNegOne:
		return vm.pushConst(bytecode.Int(-1))
	case bytecode.OpPushUZero:
		return vm.pushConst(bytecode.UInt(0))
	case bytecode.OpPushUOne:
		return vm.pushConst(bytecode.UInt(1))
	case bytecode.OpPushFZero:
		return vm.pushConst(bytecode.Float(0))
	case bytecode.OpPushFOne:
		return vm.pushConst(bytecode.Float(1))
	case bytecode.OpPushFNegOne:
		return vm.pushConst(bytecode.Float(-1))

	// --- Arithmetic and logic ---
	case bytecode.OpAdd:
		return vm.binary(bytecode.Add)
	case bytecode.OpSub:
		return vm.binary(bytecode.Sub)
	case bytecode.OpMul:
		return vm.binary(bytecode.Mul)
	case bytecode.OpDiv:
		return vm.binary(bytecode.Div)
	case bytecode.OpAnd:
		return vm.binary(bytecode.And)
	case bytecode.OpOr:
		return vm.binary(bytecode.Or)
	case bytecode.OpXor:
		return vm.binary(bytecode.Xor)
	case bytecode.OpNot:
		return vm.unary(bytecode.Not)
	case bytecode.OpNeg:
		return vm.unary(bytecode.Neg)
	case bytecode.OpInc:
		return vm.unary(bytecode.Inc)
	case bytecode.OpDec:
		return vm.unary(bytecode.Dec)

	// --- Comparison ---
	case bytecode.OpEq:
		return vm.compare(bytecode.Equals)
	case bytecode.OpNeq:
		return vm.compare(bytecode.NotEquals)
	case bytecode.OpLt:
		return vm.compare(bytecode.LessThan)
	case bytecode.OpLte:
		return vm.compare(bytecode.LessEqual)
	case bytecode.OpGt:
		return vm.compare(bytecode.GreaterThan)
	case bytecode.OpGte:
		return vm.compare(bytecode.GreaterEqual)

	// --- Casts ---
	case bytecode.OpI2U, bytecode.OpI2F, bytecode.OpI2C,
		bytecode.OpU2I, bytecode.OpU2F, bytecode.OpU2C, bytecode.OpU2B,
		bytecode.OpF2I, bytecode.OpF2U, bytecode.OpF2C,
		bytecode.OpC2I, bytecode.OpC2U, bytecode.OpC2F,
		bytecode.OpB2U, bytecode.OpN2B:
		return vm.unary(func(v bytecode.Value) bytecode.Value { return cast(op, v) })

	case bytecode.OpNop:
		vm.ip++

	case bytecode.OpHalt:
		vm.halted = true
		vm.ip++
		log.Debugf("halt at ip %d", vm.ip-1)

	// --- Stack ---
	case bytecode.OpPush:
		if err := vm.room(1); err != nil {
			return err
		}
		vm.push(in.Operand)
		vm.ip++

	case bytecode.OpPop:
		if err := vm.need(1); err != nil {
			return err
		}
		vm.sp--
		vm.ip++

	case bytecode.OpDup:
		n, ok := in.Operand.AsUInt()
		if !ok {
			return vm.fail(ErrInvalidOperand, "dup takes UInteger, got %s", in.Operand)
		}
		if n >= uint64(vm.sp) {
			return vm.fail(ErrStackUnderflow, "dup %d with %d values", n, vm.sp)
		}
		if err := vm.room(1); err != nil {
			return err
		}
		vm.push(vm.stack[vm.sp-1-int(n)])
		vm.ip++

	case bytecode.OpSwap:
		n, ok := in.Operand.AsUInt()
		if !ok {
			return vm.fail(ErrInvalidOperand, "swap takes UInteger, got %s", in.Operand)
		}
		if n >= uint64(vm.sp) {
			return vm.fail(ErrStackUnderflow, "swap %d with %d values", n, vm.sp)
		}
		i, j := vm.sp-1, vm.sp-1-int(n)
		vm.stack[i], vm.stack[j] = vm.stack[j], vm.stack[i]
		vm.ip++

	case bytecode.OpSdup:
		if err := vm.need(1); err != nil {
			return err
		}
		n, ok := vm.top().AsUInt()
		if !ok {
			vm.stack[vm.sp-1] = bytecode.Null
			vm.ip++
			return nil
		}
		if n >= uint64(vm.sp-1) {
			return vm.fail(ErrStackUnderflow, "sdup %d with %d values", n, vm.sp-1)
		}
		vm.stack[vm.sp-1] = vm.stack[vm.sp-2-int(n)]
		vm.ip++

	case bytecode.OpSswap:
		if err := vm.need(1); err != nil {
			return err
		}
		n, ok := vm.top().AsUInt()
		if !ok {
			vm.stack[vm.sp-1] = bytecode.Null
			vm.ip++
			return nil
		}
		if n >= uint64(vm.sp-1) {
			return vm.fail(ErrStackUnderflow, "sswap %d with %d values", n, vm.sp-1)
		}
		vm.sp--
		i, j := vm.sp-1, vm.sp-1-int(n)
		vm.stack[i], vm.stack[j] = vm.stack[j], vm.stack[i]
		vm.ip++

	// --- Control flow ---
	case bytecode.OpJmp:
		target, err := vm.absolute(in.Operand)
		if err != nil {
			return err
		}
		vm.ip = target

	case bytecode.OpJmpTrue, bytecode.OpJmpFalse:
		target, err := vm.absolute(in.Operand)
		if err != nil {
			return err
		}
		return vm.branch1(target, op == bytecode.OpJmpTrue)

	case bytecode.OpJmpEq, bytecode.OpJmpNeq:
		target, err := vm.absolute(in.Operand)
		if err != nil {
			return err
		}
		return vm.branch2(target, op == bytecode.OpJmpEq)

	case bytecode.OpRelativeJmp:
		target, err := vm.relative(in.Operand)
		if err != nil {
			return err
		}
		vm.ip = target

	case bytecode.OpRelativeJmpTrue, bytecode.OpRelativeJmpFalse:
		target, err := vm.relative(in.Operand)
		if err != nil {
			return err
		}
		return vm.branch1(target, op == bytecode.OpRelativeJmpTrue)

	case bytecode.OpRelativeJmpEq, bytecode.OpRelativeJmpNeq:
		target, err := vm.relative(in.Operand)
		if err != nil {
			return err
		}
		return vm.branch2(target, op == bytecode.OpRelativeJmpEq)

	case bytecode.OpCall:
		target, err := vm.absolute(in.Operand)
		if err != nil {
			return err
		}
		if err := vm.room(1); err != nil {
			return err
		}
		vm.push(bytecode.UInt(uint64(vm.ip + 1)))
		vm.ip = target

	case bytecode.OpReturn:
		if err := vm.need(1); err != nil {
			return err
		}
		addr, ok := vm.top().AsUInt()
		if !ok {
			return vm.fail(ErrIllegalReturnAddress, "%s", vm.top())
		}
		vm.sp--
		// Range is checked when the next instruction is fetched.
		if addr > uint64(math.MaxInt) {
			vm.ip = math.MaxInt
		} else {
			vm.ip = int(addr)
		}

	// --- Console I/O ---
	case bytecode.OpScanI, bytecode.OpScanU, bytecode.OpScanF, bytecode.OpScanB, bytecode.OpScanC:
		if err := vm.room(1); err != nil {
			return err
		}
		vm.push(vm.scan(op))
		vm.ip++

	case bytecode.OpScanS:
		return vm.scanLine()

	case bytecode.OpPrint, bytecode.OpPrintLn:
		if err := vm.need(1); err != nil {
			return err
		}
		text, err := vm.render(vm.top())
		if err != nil {
			return err
		}
		if op == bytecode.OpPrintLn {
			text += "\n"
		}
		// Output errors do not stop the program.
		_, _ = io.WriteString(vm.out, text)
		vm.sp--
		vm.ip++

	case bytecode.OpPrintS, bytecode.OpPrintSLn:
		if err := vm.need(1); err != nil {
			return err
		}
		if addr, ok := vm.top().AsHeapPtr(); ok {
			s, err := vm.heap.CString(addr)
			if err != nil {
				return vm.failWith(ErrInvalidHeapAccess, err)
			}
			if op == bytecode.OpPrintSLn {
				s += "\n"
			}
			_, _ = io.WriteString(vm.out, s)
		}
		vm.ip++

	// --- Heap ---
	case bytecode.OpAlloc:
		n, ok := in.Operand.AsUInt()
		if !ok {
			return vm.fail(ErrInvalidOperand, "alloc takes UInteger, got %s", in.Operand)
		}
		if err := vm.room(1); err != nil {
			return err
		}
		addr, err := vm.heap.Alloc(n)
		if err != nil {
			return vm.failWith(ErrAllocFailed, err)
		}
		vm.push(bytecode.HeapPtr(addr))
		vm.ip++

	case bytecode.OpReAlloc:
		n, ok := in.Operand.AsUInt()
		if !ok {
			return vm.fail(ErrInvalidOperand, "realloc takes UInteger, got %s", in.Operand)
		}
		if err := vm.need(1); err != nil {
			return err
		}
		old, ok := vm.top().AsHeapPtr()
		if !ok {
			return vm.fail(ErrReallocWithNonPtr, "%s", vm.top())
		}
		addr, err := vm.heap.Realloc(old, n)
		if err != nil {
			return vm.failWith(ErrAllocFailed, err)
		}
		vm.stack[vm.sp-1] = bytecode.HeapPtr(addr)
		vm.ip++

	case bytecode.OpFree:
		if err := vm.need(1); err != nil {
			return err
		}
		addr, ok := vm.top().AsHeapPtr()
		if !ok {
			return vm.fail(ErrFreeWithNonPtr, "%s", vm.top())
		}
		vm.heap.Free(addr)
		vm.sp--
		vm.ip++

	case bytecode.OpRead:
		return vm.readFileInto(in.Operand)

	case bytecode.OpReadI, bytecode.OpReadU, bytecode.OpReadF, bytecode.OpReadC, bytecode.OpReadB:
		return vm.load(op)

	case bytecode.OpWriteI, bytecode.OpWriteU, bytecode.OpWriteF, bytecode.OpWriteC, bytecode.OpWriteB:
		return vm.store(op)

	default:
		return vm.fail(ErrInvalidOpcodeExecute, "0x%02X", byte(op))
	}
	return nil
}

// binary pops val2 then val1 and pushes fn(val1, val2).
func (vm *VM) binary(fn func(a, b bytecode.Value) bytecode.Value) error {
	if err := vm.need(2); err != nil {
		return err
	}
	b := vm.pop()
	vm.stack[vm.sp-1] = fn(vm.stack[vm.sp-1], b)
	vm.ip++
	return nil
}

// unary replaces the top of stack with fn(top).
func (vm *VM) unary(fn func(v bytecode.Value) bytecode.Value) error {
	if err := vm.need(1); err != nil {
		return err
	}
	vm.stack[vm.sp-1] = fn(vm.top())
	vm.ip++
	return nil
}

// compare replaces the top two values with the Boolean fn(val1, val2).
func (vm *VM) compare(fn func(a, b bytecode.Value) bool) error {
	return vm.binary(func(a, b bytecode.Value) bytecode.Value { return bytecode.Bool(fn(a, b)) })
}

func (vm *VM) pushConst(v bytecode.Value) error {
	if err := vm.room(1); err != nil {
		return err
	}
	vm.push(v)
	vm.ip++
	return nil
}

// ---------------------------------------------------------------------------
// Jumps
// ---------------------------------------------------------------------------

// absolute validates an absolute jump operand.
func (vm *VM) absolute(operand bytecode.Value) (int, error) {
	target, ok := operand.AsUInt()
	if !ok {
		return 0, vm.fail(ErrInvalidOperand, "jump takes UInteger, got %s", operand)
	}
	if target >= uint64(len(vm.code)) {
		return 0, vm.fail(ErrInvalidJump, "target %d, code has %d instructions", target, len(vm.code))
	}
	return int(target), nil
}

// relative validates a relative jump operand and returns ip + offset.
func (vm *VM) relative(operand bytecode.Value) (int, error) {
	off, ok := operand.AsInt()
	if !ok {
		return 0, vm.fail(ErrInvalidOperand, "relative jump takes Integer, got %s", operand)
	}
	target := int64(vm.ip) + off
	if target < 0 || target >= int64(len(vm.code)) {
		return 0, vm.fail(ErrInvalidJump, "offset %d from %d", off, vm.ip)
	}
	return int(target), nil
}

// branch1 pops one value and jumps to target when its truth matches onTrue.
func (vm *VM) branch1(target int, onTrue bool) error {
	if err := vm.need(1); err != nil {
		return err
	}
	truth := !vm.pop().IsFalse()
	vm.jumpIf(target, truth == onTrue)
	return nil
}

// branch2 pops two values and jumps to target when their equality matches
// onEqual.
func (vm *VM) branch2(target int, onEqual bool) error {
	if err := vm.need(2); err != nil {
		return err
	}
	b := vm.pop()
	a := vm.pop()
	vm.jumpIf(target, bytecode.Equals(a, b) == onEqual)
	return nil
}

func (vm *VM) jumpIf(target int, taken bool) {
	if taken {
		vm.ip = target
	} else {
		vm.ip++
	}
}

// ---------------------------------------------------------------------------
// Console I/O
// ---------------------------------------------------------------------------

func isSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	}
	return false
}

// skipSpace consumes leading whitespace from the input.
func (vm *VM) skipSpace() error {
	for {
		c, err := vm.in.ReadByte()
		if err != nil {
			return err
		}
		if !isSpace(c) {
			return vm.in.UnreadByte()
		}
	}
}

// token reads one whitespace-delimited word. The delimiter is left unread.
func (vm *VM) token() string {
	if err := vm.skipSpace(); err != nil {
		return ""
	}
	var sb strings.Builder
	for {
		c, err := vm.in.ReadByte()
		if err != nil {
			break
		}
		if isSpace(c) {
			vm.in.UnreadByte()
			break
		}
		sb.WriteByte(c)
	}
	return sb.String()
}

// scan reads one value for a scan opcode. Unparseable input yields the
// zero value of the type.
func (vm *VM) scan(op bytecode.Opcode) bytecode.Value {
	if op == bytecode.OpScanC {
		if err := vm.skipSpace(); err != nil {
			return bytecode.Char(0)
		}
		c, err := vm.in.ReadByte()
		if err != nil {
			return bytecode.Char(0)
		}
		return bytecode.Char(c)
	}

	tok := vm.token()
	switch op {
	case bytecode.OpScanI:
		n, _ := strconv.ParseInt(tok, 10, 64)
		return bytecode.Int(n)
	case bytecode.OpScanU:
		n, _ := strconv.ParseUint(tok, 10, 64)
		return bytecode.UInt(n)
	case bytecode.OpScanF:
		f, _ := strconv.ParseFloat(tok, 64)
		return bytecode.Float(f)
	default:
		b, _ := strconv.ParseBool(tok)
		return bytecode.Bool(b)
	}
}

// scanLine reads the rest of the current line into a new NUL-terminated
// heap buffer.
func (vm *VM) scanLine() error {
	if err := vm.room(1); err != nil {
		return err
	}
	line, err := vm.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return vm.failWith(ErrReadStringFailed, err)
	}
	line = strings.TrimSuffix(line, "\n")
	buf := make([]byte, len(line)+1)
	copy(buf, line)
	addr, err := vm.heap.AllocBytes(buf)
	if err != nil {
		return vm.failWith(ErrAllocFailed, err)
	}
	vm.push(bytecode.HeapPtr(addr))
	vm.ip++
	return nil
}

// render returns the printed form of v. Pointers print the string they
// point at.
func (vm *VM) render(v bytecode.Value) (string, error) {
	if off, ok := v.AsGlobalPtr(); ok {
		return bytecode.CString(vm.globals, off), nil
	}
	if addr, ok := v.AsHeapPtr(); ok {
		s, err := vm.heap.CString(addr)
		if err != nil {
			return "", vm.failWith(ErrInvalidHeapAccess, err)
		}
		return s, nil
	}
	return v.Text(), nil
}

// ---------------------------------------------------------------------------
// Heap access
// ---------------------------------------------------------------------------

// readFileInto implements read: load the file named by the global string
// operand into a new heap buffer and push its address and length.
func (vm *VM) readFileInto(operand bytecode.Value) error {
	off, ok := operand.AsGlobalPtr()
	if !ok {
		return vm.fail(ErrInvalidOperand, "read takes a string, got %s", operand)
	}
	if err := vm.room(2); err != nil {
		return err
	}
	path := bytecode.CString(vm.globals, off)
	data, err := vm.readFile(path)
	if err != nil {
		return vm.failWith(ErrReadFile, err)
	}
	buf := make([]byte, len(data)+1)
	copy(buf, data)
	addr, err := vm.heap.AllocBytes(buf)
	if err != nil {
		return vm.failWith(ErrAllocFailed, err)
	}
	log.Debugf("read %q: %d bytes at 0x%x", path, len(data), addr)
	vm.push(bytecode.HeapPtr(addr))
	vm.push(bytecode.UInt(uint64(len(data))))
	vm.ip++
	return nil
}

// load implements readi/readu/readf/readc/readb.
func (vm *VM) load(op bytecode.Opcode) error {
	if err := vm.need(1); err != nil {
		return err
	}
	if err := vm.room(1); err != nil {
		return err
	}
	addr, ok := vm.top().AsHeapPtr()
	if !ok {
		return vm.fail(ErrReadWithNonPtr, "%s", vm.top())
	}

	var v bytecode.Value
	switch op {
	case bytecode.OpReadC, bytecode.OpReadB:
		b, err := vm.heap.Load8(addr)
		if err != nil {
			return vm.failWith(ErrInvalidHeapAccess, err)
		}
		if op == bytecode.OpReadC {
			v = bytecode.Char(b)
		} else {
			v = bytecode.Bool(b != 0)
		}
	default:
		w, err := vm.heap.Load64(addr)
		if err != nil {
			return vm.failWith(ErrInvalidHeapAccess, err)
		}
		switch op {
		case bytecode.OpReadI:
			v = bytecode.Int(int64(w))
		case bytecode.OpReadU:
			v = bytecode.UInt(w)
		default:
			v = bytecode.Float(math.Float64frombits(w))
		}
	}
	vm.push(v)
	vm.ip++
	return nil
}

// store implements writei/writeu/writef/writec/writeb: the value is on top,
// the pointer below it. The value is popped and the pointer stays.
func (vm *VM) store(op bytecode.Opcode) error {
	if err := vm.need(2); err != nil {
		return err
	}
	val := vm.stack[vm.sp-1]
	addr, ok := vm.stack[vm.sp-2].AsHeapPtr()
	if !ok {
		return vm.fail(ErrWriteWithNonPtr, "%s", vm.stack[vm.sp-2])
	}

	var err error
	switch op {
	case bytecode.OpWriteI:
		n, ok := val.AsInt()
		if !ok {
			return vm.fail(ErrWriteValue, "writei with %s", val)
		}
		err = vm.heap.Store64(addr, uint64(n))
	case bytecode.OpWriteU:
		n, ok := val.AsUInt()
		if !ok {
			return vm.fail(ErrWriteValue, "writeu with %s", val)
		}
		err = vm.heap.Store64(addr, n)
	case bytecode.OpWriteF:
		f, ok := val.AsFloat()
		if !ok {
			return vm.fail(ErrWriteValue, "writef with %s", val)
		}
		err = vm.heap.Store64(addr, math.Float64bits(f))
	case bytecode.OpWriteC:
		c, ok := val.AsChar()
		if !ok {
			return vm.fail(ErrWriteValue, "writec with %s", val)
		}
		err = vm.heap.Store8(addr, c)
	default:
		b, ok := val.AsBool()
		if !ok {
			return vm.fail(ErrWriteValue, "writeb with %s", val)
		}
		var c byte
		if b {
			c = 1
		}
		err = vm.heap.Store8(addr, c)
	}
	if err != nil {
		return vm.failWith(ErrInvalidHeapAccess, err)
	}
	vm.sp--
	vm.ip++
	return nil
}

// ---------------------------------------------------------------------------
// Casts
// ---------------------------------------------------------------------------

// cast converts v for a cast opcode. A source value of the wrong tag
// yields Null.
func cast(op bytecode.Opcode, v bytecode.Value) bytecode.Value {
	switch op {
	case bytecode.OpI2U, bytecode.OpI2F, bytecode.OpI2C:
		i, ok := v.AsInt()
		if !ok {
			return bytecode.Null
		}
		switch op {
		case bytecode.OpI2U:
			return bytecode.UInt(uint64(i))
		case bytecode.OpI2F:
			return bytecode.Float(float64(i))
		default:
			return bytecode.Char(byte(i))
		}

	case bytecode.OpU2I, bytecode.OpU2F, bytecode.OpU2C, bytecode.OpU2B:
		u, ok := v.AsUInt()
		if !ok {
			return bytecode.Null
		}
		switch op {
		case bytecode.OpU2I:
			return bytecode.Int(int64(u))
		case bytecode.OpU2F:
			return bytecode.Float(float64(u))
		case bytecode.OpU2C:
			return bytecode.Char(byte(u))
		default:
			return bytecode.Bool(u != 0)
		}

	case bytecode.OpF2I, bytecode.OpF2U, bytecode.OpF2C:
		f, ok := v.AsFloat()
		if !ok {
			return bytecode.Null
		}
		switch op {
		case bytecode.OpF2I:
			return bytecode.Int(int64(f))
		case bytecode.OpF2U:
			return bytecode.UInt(uint64(f))
		default:
			return bytecode.Char(byte(int64(f)))
		}

	case bytecode.OpC2I, bytecode.OpC2U, bytecode.OpC2F:
		c, ok := v.AsChar()
		if !ok {
			return bytecode.Null
		}
		switch op {
		case bytecode.OpC2I:
			return bytecode.Int(int64(c))
		case bytecode.OpC2U:
			return bytecode.UInt(uint64(c))
		default:
			return bytecode.Float(float64(c))
		}

	case bytecode.OpB2U:
		b, ok := v.AsBool()
		if !ok {
			return bytecode.Null
		}
		if b {
			return bytecode.UInt(1)
		}
		return bytecode.UInt(0)

	case bytecode.OpN2B:
		if v.IsNull() {
			return bytecode.Bool(false)
		}
		return bytecode.Null
	}
	return bytecode.Null
}
