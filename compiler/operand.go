package compiler

import (
	"strconv"
	"strings"

	"github.com/chazu/glosso/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Operand literals
// ---------------------------------------------------------------------------

// parseOperand converts the literal token following op into a Value.
// String literals are stored in the module's global segment.
func (a *Assembler) parseOperand(op bytecode.Opcode, tok Token) (bytecode.Value, error) {
	line := tok.Pos.Line
	switch tok.Type {
	case TokenString:
		if !op.AcceptsString() {
			return bytecode.Null, errorf(line, ErrParseString, "%s does not take a string operand", op)
		}
		if limit := a.cfg.globalCapacity; limit > 0 && len(a.module.Globals)+len(tok.Literal)+1 > limit {
			return bytecode.Null, errorf(line, ErrGlobalMemoryOverflow, "%d bytes exceed capacity %d",
				len(a.module.Globals)+len(tok.Literal)+1, limit)
		}
		return a.module.AddString(tok.Literal), nil

	case TokenChar:
		if !op.AcceptsChar() {
			return bytecode.Null, errorf(line, ErrParseChar, "%s does not take a character operand", op)
		}
		c, err := parseCharLiteral(tok.Literal)
		if err != nil {
			return bytecode.Null, errorf(line, ErrParseChar, "'%s': %v", tok.Literal, err)
		}
		return bytecode.Char(c), nil

	case TokenWord:
		return parseNumber(op, tok.Literal, line)

	case TokenError:
		if strings.Contains(tok.Literal, "string") {
			return bytecode.Null, errorf(line, ErrParseString, "%s", tok.Literal)
		}
		return bytecode.Null, errorf(line, ErrParseChar, "%s", tok.Literal)

	default:
		// Missing operand: parse as an empty literal so the error names the
		// type the opcode expected.
		return parseNumber(op, "", line)
	}
}

// parseNumber parses null/true/false and numeric literals.
//
// A leading 0b, 0o or 0x selects the radix. A 'u' marks the literal
// unsigned and a '.' marks it float; both together is an error. dup, swap,
// alloc and realloc always take unsigned literals.
func parseNumber(op bytecode.Opcode, lit string, line int) (bytecode.Value, error) {
	switch lit {
	case "null":
		return bytecode.Null, nil
	case "true":
		return bytecode.Bool(true), nil
	case "false":
		return bytecode.Bool(false), nil
	}

	isUInt := strings.ContainsRune(lit, 'u')
	isFloat := strings.ContainsRune(lit, '.')
	if isUInt && isFloat {
		return bytecode.Null, errorf(line, ErrOperandTypesCollide, "%q", lit)
	}

	sign, body := "", lit
	if strings.HasPrefix(body, "-") || strings.HasPrefix(body, "+") {
		sign, body = body[:1], body[1:]
	}
	radix := 10
	if len(body) > 2 && body[0] == '0' {
		switch body[1] {
		case 'b':
			radix = 2
		case 'o':
			radix = 8
		case 'x':
			radix = 16
		}
		if radix != 10 {
			body = body[2:]
		}
	}

	switch {
	case isUInt || op.ForcesUnsigned():
		digits := strings.TrimSuffix(body, "u")
		if sign == "-" {
			return bytecode.Null, errorf(line, ErrParseUInteger, "%q is negative", lit)
		}
		n, err := strconv.ParseUint(digits, radix, 64)
		if err != nil {
			return bytecode.Null, errorf(line, ErrParseUInteger, "%q", lit)
		}
		return bytecode.UInt(n), nil

	case isFloat:
		if radix != 10 {
			return bytecode.Null, errorf(line, ErrParseFloat, "%q: radix prefix on a float", lit)
		}
		f, err := strconv.ParseFloat(lit, 64)
		if err != nil {
			return bytecode.Null, errorf(line, ErrParseFloat, "%q", lit)
		}
		return bytecode.Float(f), nil

	default:
		n, err := strconv.ParseInt(sign+body, radix, 64)
		if err != nil {
			return bytecode.Null, errorf(line, ErrParseInteger, "%q", lit)
		}
		return bytecode.Int(n), nil
	}
}

// charLiteralError describes a malformed character literal.
type charLiteralError string

func (e charLiteralError) Error() string { return string(e) }

// parseCharLiteral decodes the contents of a '...' literal: a single byte
// or one of the escapes \\ \' \0 \t \r \n \xHH.
func parseCharLiteral(lit string) (byte, error) {
	switch {
	case lit == "":
		return 0, charLiteralError("empty literal")
	case len(lit) > 4:
		return 0, charLiteralError("literal too long")
	case lit[0] != '\\':
		if len(lit) != 1 {
			return 0, charLiteralError("more than one character")
		}
		return lit[0], nil
	}

	if len(lit) < 2 {
		return 0, charLiteralError("incomplete escape")
	}
	if lit[1] == 'x' {
		if len(lit) != 4 {
			return 0, charLiteralError("\\x needs two hex digits")
		}
		n, err := strconv.ParseUint(lit[2:], 16, 8)
		if err != nil {
			return 0, charLiteralError("bad hex escape")
		}
		return byte(n), nil
	}
	if len(lit) != 2 {
		return 0, charLiteralError("more than one character")
	}
	switch lit[1] {
	case '\\':
		return '\\', nil
	case '\'':
		return '\'', nil
	case '0':
		return 0, nil
	case 't':
		return '\t', nil
	case 'r':
		return '\r', nil
	case 'n':
		return '\n', nil
	default:
		return 0, charLiteralError("unknown escape \\" + string(lit[1]))
	}
}
