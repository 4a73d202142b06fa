package bytecode

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrInvalidTag is returned when a value starts with an unknown tag byte.
	ErrInvalidTag = errors.New("invalid value tag")

	// ErrInvalidBool is returned when a Boolean payload is neither 0x00 nor 0x01.
	ErrInvalidBool = errors.New("invalid boolean payload")

	// ErrShortValue is returned when the input ends inside a value.
	ErrShortValue = errors.New("unexpected end of value")
)

// payloadLen returns the number of payload bytes following a tag.
func payloadLen(t Tag) int {
	switch t {
	case TagNull:
		return 0
	case TagBoolean, TagChar:
		return 1
	default:
		return 8
	}
}

// EncodedLen returns the number of bytes AppendValue writes for v.
func (v Value) EncodedLen() int {
	return 1 + payloadLen(v.tag)
}

// AppendValue appends the wire encoding of v to buf: one tag byte followed
// by 0 (Null), 1 (Boolean, Char) or 8 little-endian payload bytes.
func AppendValue(buf []byte, v Value) []byte {
	buf = append(buf, byte(v.tag))
	switch v.tag {
	case TagNull:
	case TagBoolean:
		if v.b() {
			buf = append(buf, 0x01)
		} else {
			buf = append(buf, 0x00)
		}
	case TagChar:
		buf = append(buf, v.c())
	default:
		buf = binary.LittleEndian.AppendUint64(buf, v.bits)
	}
	return buf
}

// ReadValue decodes one value from the front of data and returns it with
// the number of bytes consumed.
func ReadValue(data []byte) (Value, int, error) {
	if len(data) == 0 {
		return Null, 0, ErrShortValue
	}
	tag := Tag(data[0])
	if !tag.Valid() {
		return Null, 0, fmt.Errorf("%w: 0x%02X", ErrInvalidTag, data[0])
	}
	n := payloadLen(tag)
	if len(data) < 1+n {
		return Null, 0, fmt.Errorf("%w: %s needs %d bytes, have %d", ErrShortValue, tag, n, len(data)-1)
	}

	switch tag {
	case TagNull:
		return Null, 1, nil
	case TagBoolean:
		if data[1] > 0x01 {
			return Null, 0, fmt.Errorf("%w: 0x%02X", ErrInvalidBool, data[1])
		}
		return Bool(data[1] == 0x01), 2, nil
	case TagChar:
		return Char(data[1]), 2, nil
	default:
		return Value{tag: tag, bits: binary.LittleEndian.Uint64(data[1:9])}, 9, nil
	}
}
