// Package bytecode defines the glosso module format: the tagged Value, the
// opcode table, and the binary encoding shared by the assembler and the VM.
//
// # Values
//
// A Value is one of eight tags (Null, Integer, UInteger, Float, Char,
// Boolean, GlobalPtr, HeapPtr). Arithmetic and comparison are total over
// tag pairs: unsupported pairings yield Null or Unordered instead of an
// error.
//
// # Module layout
//
//	[magic:8] [version:8] [procLocation:8] [globalLen:8]
//	[globals:globalLen] [zero padding to 8]
//	([opcode:1] [tag:1] [payload:0|1|8])*
//	[0xE0 0xF0]
//
// All integers are little-endian. Only opcodes whose shape is not
// NoOperand carry an operand value in the stream.
//
// A serialized module may be wrapped in a zstd frame (Compress); loaders
// call Unwrap before Deserialize. Modules are identified by the blake3
// hash of their uncompressed bytes.
package bytecode
