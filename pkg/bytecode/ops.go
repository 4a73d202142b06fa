package bytecode

import "cmp"

// Ordering is the result of comparing two values.
type Ordering int8

const (
	Less      Ordering = -1
	Equal     Ordering = 0
	Greater   Ordering = 1
	Unordered Ordering = 2
)

// String returns the ordering name.
func (o Ordering) String() string {
	switch o {
	case Less:
		return "less"
	case Equal:
		return "equal"
	case Greater:
		return "greater"
	default:
		return "unordered"
	}
}

// pair packs two tags into one switch key.
func pair(a, b Tag) uint16 { return uint16(a)<<8 | uint16(b) }

// Pair keys for the operator tables.
const (
	nullNull = uint16(TagNull)<<8 | uint16(TagNull)
	nullBool = uint16(TagNull)<<8 | uint16(TagBoolean)
	boolNull = uint16(TagBoolean)<<8 | uint16(TagNull)
	boolBool = uint16(TagBoolean)<<8 | uint16(TagBoolean)

	intInt   = uint16(TagInteger)<<8 | uint16(TagInteger)
	intUint  = uint16(TagInteger)<<8 | uint16(TagUInteger)
	intFlt   = uint16(TagInteger)<<8 | uint16(TagFloat)
	intChar  = uint16(TagInteger)<<8 | uint16(TagChar)
	intHeap  = uint16(TagInteger)<<8 | uint16(TagHeapPtr)
	uintInt  = uint16(TagUInteger)<<8 | uint16(TagInteger)
	uintUint = uint16(TagUInteger)<<8 | uint16(TagUInteger)
	uintFlt  = uint16(TagUInteger)<<8 | uint16(TagFloat)
	uintChar = uint16(TagUInteger)<<8 | uint16(TagChar)
	uintHeap = uint16(TagUInteger)<<8 | uint16(TagHeapPtr)
	fltInt   = uint16(TagFloat)<<8 | uint16(TagInteger)
	fltUint  = uint16(TagFloat)<<8 | uint16(TagUInteger)
	fltFlt   = uint16(TagFloat)<<8 | uint16(TagFloat)
	fltChar  = uint16(TagFloat)<<8 | uint16(TagChar)
	charInt  = uint16(TagChar)<<8 | uint16(TagInteger)
	charUint = uint16(TagChar)<<8 | uint16(TagUInteger)
	charFlt  = uint16(TagChar)<<8 | uint16(TagFloat)
	charChar = uint16(TagChar)<<8 | uint16(TagChar)
	heapInt  = uint16(TagHeapPtr)<<8 | uint16(TagInteger)
	heapUint = uint16(TagHeapPtr)<<8 | uint16(TagUInteger)
	heapHeap = uint16(TagHeapPtr)<<8 | uint16(TagHeapPtr)
	globGlob = uint16(TagGlobalPtr)<<8 | uint16(TagGlobalPtr)
)

func ordered[T cmp.Ordered](a, b T) Ordering {
	return Ordering(cmp.Compare(a, b))
}

func orderedFloat(a, b float64) Ordering {
	switch {
	case a < b:
		return Less
	case a > b:
		return Greater
	case a == b:
		return Equal
	default:
		// NaN on either side
		return Unordered
	}
}

func orderedBool(a, b bool) Ordering {
	switch {
	case a == b:
		return Equal
	case !a:
		return Less
	default:
		return Greater
	}
}

// Compare orders two values. Numeric tags (Integer, UInteger, Float, Char)
// compare with each other after widening; Null compares with Boolean as
// false; pointers compare only with pointers of the same kind. Any other
// pair is Unordered.
func Compare(a, b Value) Ordering {
	switch pair(a.tag, b.tag) {
	case nullNull:
		return Equal
	case nullBool:
		return orderedBool(false, b.b())
	case boolNull:
		return orderedBool(a.b(), false)
	case boolBool:
		return orderedBool(a.b(), b.b())

	case intInt:
		return ordered(a.i(), b.i())
	case intUint:
		return ordered(a.i(), int64(b.u()))
	case intFlt:
		return orderedFloat(float64(a.i()), b.f())
	case intChar:
		return ordered(a.i(), int64(b.c()))

	case uintInt:
		return ordered(int64(a.u()), b.i())
	case uintUint:
		return ordered(a.u(), b.u())
	case uintFlt:
		return orderedFloat(float64(a.u()), b.f())
	case uintChar:
		return ordered(a.u(), uint64(b.c()))

	case fltInt:
		return orderedFloat(a.f(), float64(b.i()))
	case fltUint:
		return orderedFloat(a.f(), float64(b.u()))
	case fltFlt:
		return orderedFloat(a.f(), b.f())
	case fltChar:
		return orderedFloat(a.f(), float64(b.c()))

	case charInt:
		return ordered(int64(a.c()), b.i())
	case charUint:
		return ordered(uint64(a.c()), b.u())
	case charFlt:
		return orderedFloat(float64(a.c()), b.f())
	case charChar:
		return ordered(a.c(), b.c())

	case globGlob:
		return ordered(a.u(), b.u())
	case heapHeap:
		return ordered(a.u(), b.u())

	default:
		return Unordered
	}
}

// Equals reports a == b. Unordered pairs are never equal.
func Equals(a, b Value) bool { return Compare(a, b) == Equal }

// NotEquals reports a != b. Unordered pairs are always not equal.
func NotEquals(a, b Value) bool { return Compare(a, b) != Equal }

// LessThan reports a < b.
func LessThan(a, b Value) bool { return Compare(a, b) == Less }

// LessEqual reports a <= b.
func LessEqual(a, b Value) bool {
	o := Compare(a, b)
	return o == Less || o == Equal
}

// GreaterThan reports a > b.
func GreaterThan(a, b Value) bool { return Compare(a, b) == Greater }

// GreaterEqual reports a >= b.
func GreaterEqual(a, b Value) bool {
	o := Compare(a, b)
	return o == Greater || o == Equal
}

// ============================================================================
// Arithmetic
//
// Every operator is total: a pairing not listed in its switch yields Null.
// ============================================================================

// Add returns a + b.
func Add(a, b Value) Value {
	switch pair(a.tag, b.tag) {
	case intInt:
		return Int(a.i() + b.i())
	case intUint:
		return Int(a.i() + int64(b.u()))
	case intFlt:
		return Float(float64(a.i()) + b.f())
	case intChar:
		return Int(a.i() + int64(b.c()))
	case intHeap:
		return HeapPtr(b.u() + uint64(a.i()))

	case uintInt:
		return Int(int64(a.u()) + b.i())
	case uintUint:
		return UInt(a.u() + b.u())
	case uintFlt:
		return Float(float64(a.u()) + b.f())
	case uintChar:
		return UInt(a.u() + uint64(b.c()))
	case uintHeap:
		return HeapPtr(b.u() + a.u())

	case fltInt:
		return Float(a.f() + float64(b.i()))
	case fltUint:
		return Float(a.f() + float64(b.u()))
	case fltFlt:
		return Float(a.f() + b.f())

	case charInt:
		return Int(int64(a.c()) + b.i())
	case charUint:
		return UInt(uint64(a.c()) + b.u())

	case heapInt:
		return HeapPtr(a.u() + uint64(b.i()))
	case heapUint:
		return HeapPtr(a.u() + b.u())

	default:
		return Null
	}
}

// Sub returns a - b. Subtracting two heap pointers yields their signed
// distance as an Integer.
func Sub(a, b Value) Value {
	switch pair(a.tag, b.tag) {
	case intInt:
		return Int(a.i() - b.i())
	case intUint:
		return Int(a.i() - int64(b.u()))
	case intFlt:
		return Float(float64(a.i()) - b.f())
	case intChar:
		return Int(a.i() - int64(b.c()))
	case intHeap:
		return HeapPtr(b.u() - uint64(a.i()))

	case uintInt:
		return Int(int64(a.u()) - b.i())
	case uintUint:
		return UInt(a.u() - b.u())
	case uintFlt:
		return Float(float64(a.u()) - b.f())
	case uintChar:
		return UInt(a.u() - uint64(b.c()))
	case uintHeap:
		return HeapPtr(b.u() - a.u())

	case fltInt:
		return Float(a.f() - float64(b.i()))
	case fltUint:
		return Float(a.f() - float64(b.u()))
	case fltFlt:
		return Float(a.f() - b.f())

	case charInt:
		return Int(int64(a.c()) - b.i())
	case charUint:
		return Int(int64(a.c()) - int64(b.u()))
	case charChar:
		return Int(int64(a.c()) - int64(b.c()))

	case heapInt:
		return HeapPtr(a.u() - uint64(b.i()))
	case heapUint:
		return HeapPtr(a.u() - b.u())
	case heapHeap:
		return Int(int64(a.u() - b.u()))

	default:
		return Null
	}
}

// Mul returns a * b.
func Mul(a, b Value) Value {
	switch pair(a.tag, b.tag) {
	case intInt:
		return Int(a.i() * b.i())
	case intUint:
		return Int(a.i() * int64(b.u()))
	case intFlt:
		return Float(float64(a.i()) * b.f())

	case uintInt:
		return Int(int64(a.u()) * b.i())
	case uintUint:
		return UInt(a.u() * b.u())
	case uintFlt:
		return Float(float64(a.u()) * b.f())

	case fltInt:
		return Float(a.f() * float64(b.i()))
	case fltUint:
		return Float(a.f() * float64(b.u()))
	case fltFlt:
		return Float(a.f() * b.f())

	default:
		return Null
	}
}

// Div returns a / b. Integer division by zero yields Null.
func Div(a, b Value) Value {
	switch pair(a.tag, b.tag) {
	case intInt:
		if b.i() == 0 {
			return Null
		}
		return Int(a.i() / b.i())
	case intUint:
		if b.u() == 0 {
			return Null
		}
		return Int(a.i() / int64(b.u()))
	case intFlt:
		return Float(float64(a.i()) / b.f())

	case uintInt:
		if b.i() == 0 {
			return Null
		}
		return Int(int64(a.u()) / b.i())
	case uintUint:
		if b.u() == 0 {
			return Null
		}
		return UInt(a.u() / b.u())
	case uintFlt:
		return Float(float64(a.u()) / b.f())

	case fltInt:
		return Float(a.f() / float64(b.i()))
	case fltUint:
		return Float(a.f() / float64(b.u()))
	case fltFlt:
		return Float(a.f() / b.f())

	default:
		return Null
	}
}

// Neg returns -v for Integer, UInteger (wrapping) and Float.
func Neg(v Value) Value {
	switch v.tag {
	case TagInteger:
		return Int(-v.i())
	case TagUInteger:
		return UInt(-v.u())
	case TagFloat:
		return Float(-v.f())
	default:
		return Null
	}
}

// Not returns the boolean negation of v, or Null for non-booleans.
func Not(v Value) Value {
	if v.tag != TagBoolean {
		return Null
	}
	return Bool(!v.b())
}

// And returns a && b for two booleans.
func And(a, b Value) Value {
	if pair(a.tag, b.tag) != boolBool {
		return Null
	}
	return Bool(a.b() && b.b())
}

// Or returns a || b for two booleans.
func Or(a, b Value) Value {
	if pair(a.tag, b.tag) != boolBool {
		return Null
	}
	return Bool(a.b() || b.b())
}

// Xor returns a != b for two booleans.
func Xor(a, b Value) Value {
	if pair(a.tag, b.tag) != boolBool {
		return Null
	}
	return Bool(a.b() != b.b())
}

// Inc returns v incremented by one. Tags without a successor are returned
// unchanged.
func Inc(v Value) Value {
	switch v.tag {
	case TagInteger:
		return Int(v.i() + 1)
	case TagUInteger:
		return UInt(v.u() + 1)
	case TagFloat:
		return Float(v.f() + 1)
	case TagChar:
		return Char(v.c() + 1)
	case TagHeapPtr:
		return HeapPtr(v.u() + 1)
	default:
		return v
	}
}

// Dec returns v decremented by one.
func Dec(v Value) Value {
	switch v.tag {
	case TagInteger:
		return Int(v.i() - 1)
	case TagUInteger:
		return UInt(v.u() - 1)
	case TagFloat:
		return Float(v.f() - 1)
	case TagChar:
		return Char(v.c() - 1)
	case TagHeapPtr:
		return HeapPtr(v.u() - 1)
	default:
		return v
	}
}
