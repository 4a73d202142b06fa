package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tliron/commonlog"
	"google.golang.org/grpc"

	"github.com/chazu/glosso/compiler"
	"github.com/chazu/glosso/store"
	"github.com/chazu/glosso/vm"
)

var log = commonlog.GetLogger("glosso.server")

// Error classes returned by the service methods. The transports map them
// to Connect and gRPC status codes.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrUnavailable     = errors.New("unavailable")
	ErrExhausted       = errors.New("resource exhausted")
)

// ErrFileAccessDisabled is returned to programs and includes when the
// server has no read root.
var ErrFileAccessDisabled = errors.New("file access is disabled")

const (
	DefaultWorkers    = 4
	DefaultQueueSize  = 64
	DefaultRunTimeout = 10 * time.Second
	DefaultMaxOutput  = 1 << 20
	DefaultRunTTL     = 30 * time.Minute
)

// Server assembles and runs glosso modules for remote clients. It serves
// Connect over HTTP and gRPC on a separate listener.
type Server struct {
	store store.Store
	pool  *WorkerPool
	runs  *RunStore
	mux   *http.ServeMux

	cfg config

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	httpServer  *http.Server
	grpcServer  *grpc.Server
	stopSweeper func()
}

// Option configures a Server.
type Option func(*config)

type config struct {
	workers    int
	queueSize  int
	runTimeout time.Duration
	maxOutput  int
	maxHeap    uint64
	readRoot   string
	asmOpts    []compiler.Option
}

// WithWorkers sets the number of run workers.
func WithWorkers(n int) Option {
	return func(c *config) { c.workers = n }
}

// WithQueueSize sets how many runs may wait for a worker.
func WithQueueSize(n int) Option {
	return func(c *config) { c.queueSize = n }
}

// WithRunTimeout sets the limit applied to runs that do not ask for one.
func WithRunTimeout(d time.Duration) Option {
	return func(c *config) { c.runTimeout = d }
}

// WithMaxOutput caps the captured stdout of each run, in bytes.
func WithMaxOutput(n int) Option {
	return func(c *config) { c.maxOutput = n }
}

// WithMaxHeap limits the heap of each run.
func WithMaxHeap(n uint64) Option {
	return func(c *config) { c.maxHeap = n }
}

// WithReadRoot lets programs and includes read files below dir.
func WithReadRoot(dir string) Option {
	return func(c *config) { c.readRoot = dir }
}

// WithAssemblerOptions sets the options used for Assemble.
func WithAssemblerOptions(opts ...compiler.Option) Option {
	return func(c *config) { c.asmOpts = opts }
}

// New creates a Server backed by st. st may be nil, in which case store
// references and Store requests fail with ErrUnavailable.
func New(st store.Store, opts ...Option) *Server {
	cfg := config{
		workers:    DefaultWorkers,
		queueSize:  DefaultQueueSize,
		runTimeout: DefaultRunTimeout,
		maxOutput:  DefaultMaxOutput,
		maxHeap:    vm.DefaultMaxHeap,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.readRoot != "" {
		if abs, err := filepath.Abs(cfg.readRoot); err == nil {
			cfg.readRoot = abs
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		store:  st,
		pool:   NewWorkerPool(cfg.workers, cfg.queueSize),
		runs:   NewRunStore(),
		mux:    http.NewServeMux(),
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
	}
	s.registerConnect()

	// Sweep finished runs every 5 minutes.
	s.stopSweeper = s.runs.StartSweeper(5*time.Minute, DefaultRunTTL)
	return s
}

// Handler returns the Connect HTTP handler.
func (s *Server) Handler() http.Handler { return s.mux }

// Runs returns the run records.
func (s *Server) Runs() *RunStore { return s.runs }

// ListenAndServe serves Connect on addr until Stop.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.mux}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()
	log.Infof("connect listening on %s", addr)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// ServeGRPC serves the gRPC transport on lis until Stop.
func (s *Server) ServeGRPC(lis net.Listener) error {
	srv := s.NewGRPCServer()
	s.mu.Lock()
	s.grpcServer = srv
	s.mu.Unlock()
	log.Infof("grpc listening on %s", lis.Addr())
	return srv.Serve(lis)
}

// Stop cancels in-flight runs and shuts the transports and workers down.
func (s *Server) Stop() {
	if s.stopSweeper != nil {
		s.stopSweeper()
	}
	s.cancel()
	s.mu.Lock()
	if s.grpcServer != nil {
		s.grpcServer.Stop()
	}
	if s.httpServer != nil {
		s.httpServer.Close()
	}
	s.mu.Unlock()
	s.pool.Stop()
	s.runs.CancelPending()
}

// readFile serves the read instruction and %include for remote programs.
// Paths must be local to the read root.
func (s *Server) readFile(path string) ([]byte, error) {
	if s.cfg.readRoot == "" {
		return nil, ErrFileAccessDisabled
	}
	rel := path
	if filepath.IsAbs(rel) {
		r, err := filepath.Rel(s.cfg.readRoot, rel)
		if err != nil {
			return nil, err
		}
		rel = r
	}
	if !filepath.IsLocal(rel) {
		return nil, fmt.Errorf("path %q escapes the read root", path)
	}
	return os.ReadFile(filepath.Join(s.cfg.readRoot, rel))
}
