package compiler

// ---------------------------------------------------------------------------
// Lexer: Tokenizer for glasm source
// ---------------------------------------------------------------------------

// Lexer tokenizes glasm source. It works on bytes: string and char literal
// contents are passed through verbatim.
type Lexer struct {
	input     string
	pos       int  // current position in input
	ch        byte // current character (0 at EOF)
	line      int  // current line (1-based)
	lineStart int  // offset of current line start
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{input: input, line: 1}
	l.load()
	return l
}

// load sets ch from pos.
func (l *Lexer) load() {
	if l.pos >= len(l.input) {
		l.ch = 0
		return
	}
	l.ch = l.input[l.pos]
}

// readChar advances one byte, tracking lines.
func (l *Lexer) readChar() {
	if l.pos >= len(l.input) {
		return
	}
	if l.input[l.pos] == '\n' {
		l.line++
		l.lineStart = l.pos + 1
	}
	l.pos++
	l.load()
}

func (l *Lexer) atEOF() bool {
	return l.pos >= len(l.input)
}

// position returns the current position.
func (l *Lexer) position() Position {
	return Position{
		Offset: l.pos,
		Line:   l.line,
		Column: l.pos - l.lineStart + 1,
	}
}

// Line returns the current line number.
func (l *Lexer) Line() int {
	return l.line
}

// skipBlanks skips spaces, tabs, carriage returns and ';' comments, but
// not newlines.
func (l *Lexer) skipBlanks() {
	for !l.atEOF() {
		switch l.ch {
		case ' ', '\t', '\r':
			l.readChar()
		case ';':
			for !l.atEOF() && l.ch != '\n' {
				l.readChar()
			}
		default:
			return
		}
	}
}

// isWordChar reports whether c continues a bare word.
func isWordChar(c byte) bool {
	switch c {
	case ' ', '\t', '\r', '\n', ';', ':', '"', '\'':
		return false
	}
	return true
}

// NextToken returns the next token.
func (l *Lexer) NextToken() Token {
	l.skipBlanks()
	pos := l.position()

	if l.atEOF() {
		return Token{Type: TokenEOF, Pos: pos}
	}

	switch l.ch {
	case '\n':
		l.readChar()
		return Token{Type: TokenNewline, Literal: "\n", Pos: pos}
	case '"':
		return l.readString(pos)
	case '\'':
		return l.readCharLiteral(pos)
	case ':':
		// A colon with no name in front of it.
		l.readChar()
		return Token{Type: TokenLabel, Literal: "", Pos: pos}
	}

	start := l.pos
	for !l.atEOF() && isWordChar(l.ch) {
		l.readChar()
	}
	word := l.input[start:l.pos]

	if l.ch == ':' {
		l.readChar()
		return Token{Type: TokenLabel, Literal: word, Pos: pos}
	}
	return Token{Type: TokenWord, Literal: word, Pos: pos}
}

// readString reads a "..." literal. Contents are taken verbatim and may
// span lines.
func (l *Lexer) readString(pos Position) Token {
	l.readChar() // opening quote
	start := l.pos
	for !l.atEOF() && l.ch != '"' {
		l.readChar()
	}
	if l.atEOF() {
		return Token{Type: TokenError, Literal: "unterminated string", Pos: pos}
	}
	lit := l.input[start:l.pos]
	l.readChar() // closing quote
	return Token{Type: TokenString, Literal: lit, Pos: pos}
}

// readCharLiteral reads a '...' literal. A backslash escapes the following
// byte, so a quote after a backslash does not end the literal.
func (l *Lexer) readCharLiteral(pos Position) Token {
	l.readChar() // opening quote
	start := l.pos
	for !l.atEOF() && l.ch != '\'' && l.ch != '\n' {
		if l.ch == '\\' {
			l.readChar()
			if l.atEOF() {
				break
			}
		}
		l.readChar()
	}
	if l.atEOF() || l.ch != '\'' {
		return Token{Type: TokenError, Literal: "unterminated character literal", Pos: pos}
	}
	lit := l.input[start:l.pos]
	l.readChar() // closing quote
	return Token{Type: TokenChar, Literal: lit, Pos: pos}
}

// Tokenize returns all tokens up to and including EOF or the first error.
func Tokenize(input string) []Token {
	l := NewLexer(input)
	var tokens []Token
	for {
		tok := l.NextToken()
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF || tok.Type == TokenError {
			return tokens
		}
	}
}
