package bytecode

import (
	"fmt"
	"math"
	"strconv"
)

// Tag identifies which payload of a Value is live.
// The numeric values are part of the module wire format.
type Tag byte

const (
	TagNull      Tag = 0x00
	TagInteger   Tag = 0x01
	TagUInteger  Tag = 0x02
	TagFloat     Tag = 0x03
	TagChar      Tag = 0x04
	TagBoolean   Tag = 0x05
	TagGlobalPtr Tag = 0x06
	TagHeapPtr   Tag = 0x07

	tagCount = 8
)

var tagNames = [tagCount]string{
	"Null", "Integer", "UInteger", "Float", "Char", "Boolean", "GlobalPtr", "HeapPtr",
}

// String returns the name of the tag.
func (t Tag) String() string {
	if t.Valid() {
		return tagNames[t]
	}
	return fmt.Sprintf("Tag(0x%02X)", byte(t))
}

// Valid reports whether t is one of the eight value tags.
func (t Tag) Valid() bool {
	return t < tagCount
}

// Value is the tagged runtime datum of the VM.
//
// All payloads share a single 64-bit word: integers and pointers are stored
// as their two's complement bits, floats as IEEE 754 bits, chars and
// booleans in the low byte. The zero Value is Null.
type Value struct {
	tag  Tag
	bits uint64
}

// Null is the Null value.
var Null = Value{}

// Int returns an Integer value.
func Int(n int64) Value { return Value{tag: TagInteger, bits: uint64(n)} }

// UInt returns a UInteger value.
func UInt(n uint64) Value { return Value{tag: TagUInteger, bits: n} }

// Float returns a Float value.
func Float(f float64) Value { return Value{tag: TagFloat, bits: math.Float64bits(f)} }

// Char returns a Char value.
func Char(c byte) Value { return Value{tag: TagChar, bits: uint64(c)} }

// Bool returns a Boolean value.
func Bool(b bool) Value {
	if b {
		return Value{tag: TagBoolean, bits: 1}
	}
	return Value{tag: TagBoolean}
}

// GlobalPtr returns a pointer into the global data segment.
func GlobalPtr(offset uint64) Value { return Value{tag: TagGlobalPtr, bits: offset} }

// HeapPtr returns a pointer to a heap address.
func HeapPtr(addr uint64) Value { return Value{tag: TagHeapPtr, bits: addr} }

// Tag returns the value's tag.
func (v Value) Tag() Tag { return v.tag }

// Is reports whether v carries the given tag.
func (v Value) Is(t Tag) bool { return v.tag == t }

// IsNull reports whether v is Null.
func (v Value) IsNull() bool { return v.tag == TagNull }

// AsInt returns the Integer payload.
func (v Value) AsInt() (int64, bool) {
	if v.tag != TagInteger {
		return 0, false
	}
	return int64(v.bits), true
}

// AsUInt returns the UInteger payload.
func (v Value) AsUInt() (uint64, bool) {
	if v.tag != TagUInteger {
		return 0, false
	}
	return v.bits, true
}

// AsFloat returns the Float payload.
func (v Value) AsFloat() (float64, bool) {
	if v.tag != TagFloat {
		return 0, false
	}
	return math.Float64frombits(v.bits), true
}

// AsChar returns the Char payload.
func (v Value) AsChar() (byte, bool) {
	if v.tag != TagChar {
		return 0, false
	}
	return byte(v.bits), true
}

// AsBool returns the Boolean payload.
func (v Value) AsBool() (bool, bool) {
	if v.tag != TagBoolean {
		return false, false
	}
	return v.bits != 0, true
}

// AsGlobalPtr returns the GlobalPtr offset.
func (v Value) AsGlobalPtr() (uint64, bool) {
	if v.tag != TagGlobalPtr {
		return 0, false
	}
	return v.bits, true
}

// AsHeapPtr returns the HeapPtr address.
func (v Value) AsHeapPtr() (uint64, bool) {
	if v.tag != TagHeapPtr {
		return 0, false
	}
	return v.bits, true
}

// IsFalse reports whether v is Null or Boolean false. Every other value,
// including Integer(0), counts as true for conditional jumps.
func (v Value) IsFalse() bool {
	switch v.tag {
	case TagNull:
		return true
	case TagBoolean:
		return v.bits == 0
	default:
		return false
	}
}

// Payload accessors that skip the tag check. Callers switch on the tag first.
func (v Value) i() int64   { return int64(v.bits) }
func (v Value) u() uint64  { return v.bits }
func (v Value) f() float64 { return math.Float64frombits(v.bits) }
func (v Value) c() byte    { return byte(v.bits) }
func (v Value) b() bool    { return v.bits != 0 }

// String returns the debug form used by the disassembler and debugger,
// e.g. Integer(5), Char('a'), Bool(true).
func (v Value) String() string {
	switch v.tag {
	case TagNull:
		return "Null"
	case TagInteger:
		return "Integer(" + strconv.FormatInt(v.i(), 10) + ")"
	case TagUInteger:
		return "UInteger(" + strconv.FormatUint(v.u(), 10) + ")"
	case TagFloat:
		return "Float(" + formatFloat(v.f()) + ")"
	case TagChar:
		if v.c() >= '!' && v.c() < 0x7F {
			return "Char('" + string(rune(v.c())) + "')"
		}
		return "Char(" + strconv.Itoa(int(v.c())) + ")"
	case TagBoolean:
		return "Bool(" + strconv.FormatBool(v.b()) + ")"
	case TagGlobalPtr:
		return "GlobalPtr(" + strconv.FormatUint(v.u(), 10) + ")"
	case TagHeapPtr:
		return fmt.Sprintf("HeapPtr(0x%x)", v.u())
	default:
		return fmt.Sprintf("Invalid(%s)", v.tag)
	}
}

// Text returns the printed form of a scalar value: null, numbers, the raw
// char byte, true/false. Pointers are resolved by the VM and render here
// only as their address.
func (v Value) Text() string {
	switch v.tag {
	case TagNull:
		return "null"
	case TagInteger:
		return strconv.FormatInt(v.i(), 10)
	case TagUInteger:
		return strconv.FormatUint(v.u(), 10)
	case TagFloat:
		return formatFloat(v.f())
	case TagChar:
		return string([]byte{v.c()})
	case TagBoolean:
		return strconv.FormatBool(v.b())
	default:
		return strconv.FormatUint(v.u(), 10)
	}
}

// formatFloat prints floats the way an iostream does by default:
// six significant digits, no trailing zeros.
func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', 6, 64)
}
