// Package vm executes glosso modules.
//
// A VM holds one module's instructions and global segment, a fixed
// 1024-slot operand stack of bytecode.Values, and a heap of
// programmer-managed blocks addressed by HeapPtr values. Instructions run
// one at a time through Step, or to completion through Run; every
// precondition of an instruction is checked before it mutates anything,
// so a failed Step leaves the VM exactly as it was and returns an *Error
// naming the instruction.
//
// Console I/O goes through the reader and writer given with WithStdin and
// WithStdout. The Debugger type wraps a VM in an interactive stepping
// console.
package vm
