package compiler

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/chazu/glosso/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Preprocessor: %include and %define expansion
// ---------------------------------------------------------------------------

// MainLabel marks where the including file's own code starts. The first
// %include emits a jump to it so included library code is skipped.
const MainLabel = "__glosso_main"

// MaxExpansionDepth bounds nested include rounds.
const MaxExpansionDepth = 32

type define struct {
	name  string
	value string
}

// Preprocessor expands directives in glasm source. Include paths resolve
// against BaseDir.
type Preprocessor struct {
	BaseDir string

	// ReadInclude loads an included file. Nil means os.ReadFile.
	ReadInclude func(path string) ([]byte, error)

	defines     []define
	jmpEmitted  bool
	mainEmitted bool
}

// NewPreprocessor creates a preprocessor resolving includes under baseDir.
func NewPreprocessor(baseDir string) *Preprocessor {
	return &Preprocessor{BaseDir: baseDir}
}

// Preprocess expands src. Expansion repeats until no directive remains,
// so included files may themselves include and define.
func (p *Preprocessor) Preprocess(src string) (string, error) {
	out := src
	for depth := 0; ; depth++ {
		if depth >= MaxExpansionDepth {
			return "", errorf(0, ErrIllFormedInclude, "expansion deeper than %d rounds", MaxExpansionDepth)
		}
		var err error
		out, err = p.expand(out)
		if err != nil {
			return "", err
		}
		if !hasDirective(out) {
			break
		}
	}
	if p.jmpEmitted && !p.mainEmitted {
		out += "\n" + MainLabel + ":\n"
		p.mainEmitted = true
	}
	return out, nil
}

// hasDirective reports whether any line still starts with '%'.
func hasDirective(src string) bool {
	for _, line := range strings.Split(src, "\n") {
		if strings.HasPrefix(strings.TrimLeft(line, " \t"), "%") {
			return true
		}
	}
	return false
}

// expand runs one round over src. Included text is inserted unexpanded and
// handled by the next round. Line numbers of the including text are kept
// by replacing directive and comment lines with empty lines.
func (p *Preprocessor) expand(src string) (string, error) {
	var sb strings.Builder
	sb.Grow(len(src))

	lines := strings.Split(src, "\n")
	for i, line := range lines {
		lineNo := i + 1
		trimmed := strings.TrimLeft(line, " \t")

		switch {
		case strings.HasPrefix(trimmed, ";"):
			// comment line

		case strings.HasPrefix(trimmed, "%include"):
			text, err := p.include(trimmed, lineNo)
			if err != nil {
				return "", err
			}
			if !p.jmpEmitted && !p.mainEmitted {
				sb.WriteString("jmp " + MainLabel + "\n")
				p.jmpEmitted = true
			}
			sb.WriteString(text)
			if !strings.HasSuffix(text, "\n") {
				sb.WriteByte('\n')
			}
			continue

		case strings.HasPrefix(trimmed, "%define"):
			if err := p.define(trimmed, lineNo); err != nil {
				return "", err
			}

		case strings.HasPrefix(trimmed, "%"):
			return "", errorf(lineNo, ErrIllFormedInclude, "unknown directive %q", strings.Fields(trimmed)[0])

		case strings.TrimSpace(line) == "":
			sb.WriteString(line)

		default:
			if p.jmpEmitted && !p.mainEmitted {
				sb.WriteString(MainLabel + ":\n")
				p.mainEmitted = true
			}
			sb.WriteString(p.substitute(line))
		}

		if i < len(lines)-1 {
			sb.WriteByte('\n')
		}
	}
	return sb.String(), nil
}

// include reads the file named by an %include "path" line.
func (p *Preprocessor) include(line string, lineNo int) (string, error) {
	rest := strings.TrimSpace(strings.TrimPrefix(line, "%include"))
	if len(rest) < 2 || rest[0] != '"' {
		return "", errorf(lineNo, ErrIllFormedInclude, "expected a quoted path")
	}
	end := strings.IndexByte(rest[1:], '"')
	if end < 0 {
		return "", errorf(lineNo, ErrIllFormedInclude, "unterminated path")
	}
	name := rest[1 : end+1]
	if name == "" {
		return "", errorf(lineNo, ErrIllFormedInclude, "empty path")
	}

	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(p.BaseDir, name)
	}
	read := p.ReadInclude
	if read == nil {
		read = os.ReadFile
	}
	data, err := read(path)
	if err != nil {
		return "", errorf(lineNo, ErrIllFormedInclude, "cannot read %s: %v", name, err)
	}
	return string(data), nil
}

// define records a %define IDENT value line.
func (p *Preprocessor) define(line string, lineNo int) error {
	rest := strings.TrimLeft(strings.TrimPrefix(line, "%define"), " \t")
	n := 0
	for n < len(rest) && isIdentLetter(rest[n]) {
		n++
	}
	if n == 0 {
		return errorf(lineNo, ErrIllFormedDefine, "expected an identifier")
	}
	if n < len(rest) && rest[n] != ' ' && rest[n] != '\t' {
		return errorf(lineNo, ErrIllFormedDefine, "identifier may only contain letters and '_'")
	}
	name := rest[:n]
	value := strings.TrimSpace(rest[n:])

	for _, d := range p.defines {
		if d.name == name {
			return nil
		}
	}
	p.defines = append(p.defines, define{name: name, value: value})
	return nil
}

func isIdentLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_'
}

// substitute replaces whole-word occurrences of defined identifiers.
// Quoted literals and comments are left alone.
func (p *Preprocessor) substitute(line string) string {
	if len(p.defines) == 0 {
		return line
	}

	var sb strings.Builder
	for i := 0; i < len(line); {
		c := line[i]
		switch {
		case c == ';':
			sb.WriteString(line[i:])
			return sb.String()

		case c == '"' || c == '\'':
			end := strings.IndexByte(line[i+1:], c)
			if end < 0 {
				sb.WriteString(line[i:])
				return sb.String()
			}
			sb.WriteString(line[i : i+end+2])
			i += end + 2

		case isLabelChar(c):
			j := i
			for j < len(line) && isLabelChar(line[j]) {
				j++
			}
			word := line[i:j]
			if v, ok := p.lookup(word); ok {
				sb.WriteString(v)
			} else {
				sb.WriteString(word)
			}
			i = j

		default:
			sb.WriteByte(c)
			i++
		}
	}
	return sb.String()
}

func (p *Preprocessor) lookup(name string) (string, bool) {
	for _, d := range p.defines {
		if d.name == name {
			return d.value, true
		}
	}
	return "", false
}

// Preprocess expands directives in src, resolving includes under baseDir.
func Preprocess(src, baseDir string) (string, error) {
	return NewPreprocessor(baseDir).Preprocess(src)
}

// AssembleFile reads, preprocesses and assembles a glasm file.
func AssembleFile(path string, opts ...Option) (*bytecode.Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Kind: ErrReadFailed, Detail: err.Error()}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, &Error{Kind: ErrReadFailed, Detail: fmt.Sprintf("cannot resolve path %s: %v", path, err)}
	}

	src, err := Preprocess(string(data), filepath.Dir(abs))
	if err != nil {
		return nil, err
	}
	return Assemble(src, opts...)
}

// WriteModule serializes m to path, optionally zstd-compressed.
func WriteModule(m *bytecode.Module, path string, compress bool) error {
	data := m.Serialize()
	if compress {
		var err error
		if data, err = bytecode.Compress(data); err != nil {
			return &Error{Kind: ErrWriteFailed, Detail: err.Error()}
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return &Error{Kind: ErrWriteFailed, Detail: err.Error()}
	}
	return nil
}
