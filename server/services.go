package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chazu/glosso/compiler"
	"github.com/chazu/glosso/pkg/bytecode"
	"github.com/chazu/glosso/store"
	"github.com/chazu/glosso/vm"
)

// AssemblerServer is the assembler RPC surface.
type AssemblerServer interface {
	Assemble(context.Context, *AssembleRequest) (*AssembleResponse, error)
	Disassemble(context.Context, *DisassembleRequest) (*DisassembleResponse, error)
}

// RunnerServer is the execution RPC surface.
type RunnerServer interface {
	Run(context.Context, *RunRequest) (*RunStatus, error)
	GetRun(context.Context, *GetRunRequest) (*RunStatus, error)
}

var (
	_ AssemblerServer = (*Server)(nil)
	_ RunnerServer    = (*Server)(nil)
)

// Assemble preprocesses and assembles req.Source. Assembler errors are
// reported as diagnostics in an unsuccessful response rather than as RPC
// errors.
func (s *Server) Assemble(ctx context.Context, req *AssembleRequest) (*AssembleResponse, error) {
	if strings.TrimSpace(req.Source) == "" {
		return nil, fmt.Errorf("%w: source is required", ErrInvalidArgument)
	}
	if req.Store && s.store == nil {
		return nil, fmt.Errorf("%w: no module store configured", ErrUnavailable)
	}

	m, err := s.assemble(req.Source)
	if err != nil {
		var aerr *compiler.Error
		if !errors.As(err, &aerr) {
			return nil, err
		}
		return &AssembleResponse{Diagnostics: []Diagnostic{diagnosticFor(aerr)}}, nil
	}

	image := m.Serialize()
	if req.Compress {
		if image, err = bytecode.Compress(image); err != nil {
			return nil, err
		}
	}
	if req.Store {
		entry, err := s.store.Put(req.Name, m)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		log.Infof("stored %s as %s", entry.Hash.Short(), entry.Name)
	}

	return &AssembleResponse{
		Success:      true,
		Module:       image,
		Hash:         m.Hash().String(),
		Instructions: len(m.Code),
	}, nil
}

// assemble runs the preprocessor with includes confined to the read root.
func (s *Server) assemble(src string) (*bytecode.Module, error) {
	p := compiler.NewPreprocessor(s.cfg.readRoot)
	p.ReadInclude = s.readFile
	expanded, err := p.Preprocess(src)
	if err != nil {
		return nil, err
	}
	return compiler.Assemble(expanded, s.cfg.asmOpts...)
}

func diagnosticFor(err *compiler.Error) Diagnostic {
	return Diagnostic{Line: err.Line, Kind: err.Kind.Error(), Message: err.Error()}
}

// Disassemble lists a module given inline or by store reference.
func (s *Server) Disassemble(ctx context.Context, req *DisassembleRequest) (*DisassembleResponse, error) {
	m, name, err := s.resolveModule(req.Module, req.Ref)
	if err != nil {
		return nil, err
	}
	return &DisassembleResponse{
		Hash:    m.Hash().String(),
		Listing: m.DisassembleWithName(name),
	}, nil
}

// resolveModule decodes an inline image, or loads ref from the store.
// The returned name is ref when the module came from the store.
func (s *Server) resolveModule(image []byte, ref string) (*bytecode.Module, string, error) {
	switch {
	case len(image) > 0:
		plain, err := bytecode.Unwrap(image)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		m, err := bytecode.Deserialize(plain)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		return m, "", nil

	case ref != "":
		if s.store == nil {
			return nil, "", fmt.Errorf("%w: no module store configured", ErrUnavailable)
		}
		h, err := s.store.Resolve(ref)
		if err != nil {
			return nil, "", storeError(ref, err)
		}
		m, err := s.store.Get(h)
		if err != nil {
			return nil, "", storeError(ref, err)
		}
		return m, ref, nil

	default:
		return nil, "", fmt.Errorf("%w: module or ref is required", ErrInvalidArgument)
	}
}

func storeError(ref string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: module %q", ErrNotFound, ref)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// Run queues a module on the worker pool. With Wait set the call returns
// the finished run.
func (s *Server) Run(ctx context.Context, req *RunRequest) (*RunStatus, error) {
	if req.TimeoutMillis < 0 {
		return nil, fmt.Errorf("%w: negative timeout", ErrInvalidArgument)
	}
	m, _, err := s.resolveModule(req.Module, req.Ref)
	if err != nil {
		return nil, err
	}

	timeout := s.cfg.runTimeout
	if req.TimeoutMillis > 0 {
		timeout = time.Duration(req.TimeoutMillis) * time.Millisecond
	}

	run := s.runs.Create(m.Hash())
	err = s.pool.Submit(
		func() { s.execute(run, m, req.Stdin, timeout) },
		func(perr error) { run.finish(RunFailed, "", perr, 0) },
	)
	if err != nil {
		s.runs.Remove(run.ID)
		if errors.Is(err, ErrPoolBusy) {
			return nil, fmt.Errorf("%w: %v", ErrExhausted, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	log.Debugf("queued run %s for %s", run.ID, run.Hash.Short())

	if req.Wait {
		if err := run.Wait(ctx); err != nil {
			return nil, err
		}
	}
	return run.Status(), nil
}

// GetRun returns the status of a run.
func (s *Server) GetRun(ctx context.Context, req *GetRunRequest) (*RunStatus, error) {
	if req.ID == "" {
		return nil, fmt.Errorf("%w: run id is required", ErrInvalidArgument)
	}
	run, ok := s.runs.Get(req.ID)
	if !ok {
		return nil, fmt.Errorf("%w: run %q", ErrNotFound, req.ID)
	}
	return run.Status(), nil
}

// execute runs m on the calling worker goroutine.
func (s *Server) execute(run *Run, m *bytecode.Module, stdin string, timeout time.Duration) {
	run.start()
	ctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()

	out := &cappedBuffer{limit: s.cfg.maxOutput}
	machine := vm.New(m,
		vm.WithStdin(strings.NewReader(stdin)),
		vm.WithStdout(out),
		vm.WithMaxHeap(s.cfg.maxHeap),
		vm.WithFileReader(s.readFile),
	)
	err := machine.Run(ctx)
	state := stateFor(err)
	log.Debugf("run %s %s after %d steps", run.ID, state, machine.Steps())
	run.finish(state, out.String(), err, machine.Steps())
}

// cappedBuffer keeps at most limit bytes and drops the rest. A limit of
// zero or less keeps everything.
type cappedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if b.limit > 0 {
		room := b.limit - b.buf.Len()
		if room <= 0 {
			return n, nil
		}
		if len(p) > room {
			p = p[:room]
		}
	}
	b.buf.Write(p)
	return n, nil
}

func (b *cappedBuffer) String() string { return b.buf.String() }
