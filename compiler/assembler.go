package compiler

import (
	"github.com/chazu/glosso/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Assembler: two-pass glasm to module compiler
// ---------------------------------------------------------------------------

// Default table capacities.
const (
	DefaultLabelCapacity  = 1024
	DefaultJumpCapacity   = 1024
	DefaultGlobalCapacity = 1 << 20
)

// LabelInfo records where a label was defined.
type LabelInfo struct {
	Name        string
	Instruction int // index of the first instruction after the label
	Line        int
}

// PendingJump is an instruction whose operand awaits label resolution.
type PendingJump struct {
	Instruction int
	Label       string
	Line        int
}

type config struct {
	labelCapacity  int
	jumpCapacity   int
	globalCapacity int
}

// Option configures an Assembler.
type Option func(*config)

// WithLabelCapacity limits the number of labels. Zero means unlimited.
func WithLabelCapacity(n int) Option {
	return func(c *config) { c.labelCapacity = n }
}

// WithJumpCapacity limits the number of label references. Zero means
// unlimited.
func WithJumpCapacity(n int) Option {
	return func(c *config) { c.jumpCapacity = n }
}

// WithGlobalCapacity limits the global segment size in bytes. Zero means
// unlimited.
func WithGlobalCapacity(n int) Option {
	return func(c *config) { c.globalCapacity = n }
}

// Assembler compiles glasm text into a bytecode module. An Assembler is
// single use.
type Assembler struct {
	cfg    config
	lexer  *Lexer
	tok    Token
	module *bytecode.Module
	labels []LabelInfo
	jumps  []PendingJump
}

// NewAssembler creates an assembler with the given options.
func NewAssembler(opts ...Option) *Assembler {
	cfg := config{
		labelCapacity:  DefaultLabelCapacity,
		jumpCapacity:   DefaultJumpCapacity,
		globalCapacity: DefaultGlobalCapacity,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Assembler{
		cfg:    cfg,
		module: bytecode.NewModule(),
	}
}

// Assemble compiles already-preprocessed glasm source.
func Assemble(src string, opts ...Option) (*bytecode.Module, error) {
	return NewAssembler(opts...).Assemble(src)
}

// Labels returns the labels seen so far, in definition order.
func (a *Assembler) Labels() []LabelInfo {
	return a.labels
}

// Module returns the module being built. After a failed Assemble it holds
// the instructions emitted before the error.
func (a *Assembler) Module() *bytecode.Module {
	return a.module
}

// Assemble runs both passes over src.
func (a *Assembler) Assemble(src string) (*bytecode.Module, error) {
	a.lexer = NewLexer(src)
	a.next()

	// Pass 1: instructions, label definitions and pending jumps.
	for a.tok.Type != TokenEOF {
		if err := a.parseLine(); err != nil {
			return nil, err
		}
	}

	// Pass 2: patch jump operands with label positions.
	if err := a.link(); err != nil {
		return nil, err
	}
	return a.module, nil
}

func (a *Assembler) next() {
	a.tok = a.lexer.NextToken()
}

// skipLine discards tokens up to and including the next newline.
func (a *Assembler) skipLine() {
	for a.tok.Type != TokenNewline && a.tok.Type != TokenEOF {
		a.next()
	}
	if a.tok.Type == TokenNewline {
		a.next()
	}
}

// parseLine handles one statement: a blank line, a label definition, or an
// instruction. A label may share its line with an instruction.
func (a *Assembler) parseLine() error {
	switch a.tok.Type {
	case TokenNewline:
		a.next()
		return nil

	case TokenLabel:
		if err := a.defineLabel(a.tok); err != nil {
			return err
		}
		a.next()
		return nil

	case TokenWord:
		if err := a.parseInstruction(); err != nil {
			return err
		}
		a.skipLine()
		return nil

	case TokenString:
		return errorf(a.tok.Pos.Line, ErrUnknownOpcode, "string literal where an opcode was expected")

	case TokenChar:
		return errorf(a.tok.Pos.Line, ErrUnknownOpcode, "character literal where an opcode was expected")

	default:
		return errorf(a.tok.Pos.Line, ErrParseString, "%s", a.tok.Literal)
	}
}

// defineLabel records a label at the current instruction count.
func (a *Assembler) defineLabel(tok Token) error {
	if !validLabel(tok.Literal) {
		return errorf(tok.Pos.Line, ErrIllegalJumpLabelName, "%q", tok.Literal)
	}
	if limit := a.cfg.labelCapacity; limit > 0 && len(a.labels) >= limit {
		return errorf(tok.Pos.Line, ErrLabelsListOverflow, "limit is %d", limit)
	}
	a.labels = append(a.labels, LabelInfo{
		Name:        tok.Literal,
		Instruction: len(a.module.Code),
		Line:        tok.Pos.Line,
	})
	return nil
}

// parseInstruction emits the instruction named by the current word.
func (a *Assembler) parseInstruction() error {
	mnemonic := a.tok
	op := bytecode.Lookup(mnemonic.Literal)
	if op == bytecode.OpIllegal {
		return errorf(mnemonic.Pos.Line, ErrUnknownOpcode, "%q", mnemonic.Literal)
	}
	a.next()

	switch op.Shape() {
	case bytecode.HasOperand:
		operandTok := a.tok
		if operandTok.Type == TokenNewline || operandTok.Type == TokenEOF {
			operandTok.Pos.Line = mnemonic.Pos.Line
		}
		operand, err := a.parseOperand(op, operandTok)
		if err != nil {
			return err
		}
		a.module.Emit(op, operand)

	case bytecode.LoopOperand:
		if limit := a.cfg.jumpCapacity; limit > 0 && len(a.jumps) >= limit {
			return errorf(mnemonic.Pos.Line, ErrJumpsListOverflow, "limit is %d", limit)
		}
		if a.tok.Type != TokenWord || !validLabel(a.tok.Literal) {
			return errorf(mnemonic.Pos.Line, ErrIllegalJumpLabelName, "%s needs a label, got %s", op, a.tok)
		}
		idx := a.module.Emit(op, bytecode.Null)
		a.jumps = append(a.jumps, PendingJump{
			Instruction: idx,
			Label:       a.tok.Literal,
			Line:        mnemonic.Pos.Line,
		})

	default:
		a.module.Emit(op, bytecode.Null)
	}
	return nil
}

// lookupLabel finds the first label with the given name.
func (a *Assembler) lookupLabel(name string) (LabelInfo, bool) {
	for _, l := range a.labels {
		if l.Name == name {
			return l, true
		}
	}
	return LabelInfo{}, false
}

// link resolves every pending jump to an absolute instruction index.
func (a *Assembler) link() error {
	for _, j := range a.jumps {
		label, ok := a.lookupLabel(j.Label)
		if !ok {
			return errorf(j.Line, ErrUnresolvedLabel, "%q", j.Label)
		}
		if err := a.module.PatchOperand(j.Instruction, bytecode.UInt(uint64(label.Instruction))); err != nil {
			return errorf(j.Line, ErrInstVectorAccess, "%v", err)
		}
	}
	return nil
}
