package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chazu/glosso/pkg/bytecode"
)

// RunState is the lifecycle stage of a run.
type RunState string

const (
	RunQueued    RunState = "queued"
	RunRunning   RunState = "running"
	RunHalted    RunState = "halted"
	RunFailed    RunState = "failed"
	RunTimedOut  RunState = "timeout"
	RunCancelled RunState = "cancelled"
)

// Finished reports whether the state is terminal.
func (s RunState) Finished() bool {
	return s != RunQueued && s != RunRunning
}

// Run is the record of one module execution.
type Run struct {
	ID   string
	Hash bytecode.Hash

	mu       sync.Mutex
	state    RunState
	stdout   string
	err      string
	steps    uint64
	created  time.Time
	finished time.Time
	done     chan struct{}
}

// Status returns a snapshot of the run.
func (r *Run) Status() *RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &RunStatus{
		ID:     r.ID,
		Hash:   r.Hash.String(),
		State:  r.state,
		Stdout: r.stdout,
		Error:  r.err,
		Steps:  r.steps,
	}
}

// Done is closed when the run reaches a terminal state.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run finishes or ctx is done.
func (r *Run) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Run) start() {
	r.mu.Lock()
	if r.state == RunQueued {
		r.state = RunRunning
	}
	r.mu.Unlock()
}

// finish records the outcome of a run. Later calls are ignored.
func (r *Run) finish(state RunState, stdout string, err error, steps uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Finished() {
		return
	}
	r.state = state
	r.stdout = stdout
	if err != nil {
		r.err = err.Error()
	}
	r.steps = steps
	r.finished = time.Now()
	close(r.done)
}

// stateFor maps a VM result to a terminal state.
func stateFor(err error) RunState {
	switch {
	case err == nil:
		return RunHalted
	case errors.Is(err, context.DeadlineExceeded):
		return RunTimedOut
	case errors.Is(err, context.Canceled):
		return RunCancelled
	default:
		return RunFailed
	}
}

// RunStore tracks runs by ID.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]*Run
}

// NewRunStore creates an empty run store.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[string]*Run)}
}

// Create registers a queued run for the module with hash h.
func (s *RunStore) Create(h bytecode.Hash) *Run {
	r := &Run{
		ID:      uuid.NewString(),
		Hash:    h,
		state:   RunQueued,
		created: time.Now(),
		done:    make(chan struct{}),
	}
	s.mu.Lock()
	s.runs[r.ID] = r
	s.mu.Unlock()
	return r
}

// Get looks up a run by ID.
func (s *RunStore) Get(id string) (*Run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	return r, ok
}

// Remove deletes a run record.
func (s *RunStore) Remove(id string) {
	s.mu.Lock()
	delete(s.runs, id)
	s.mu.Unlock()
}

// Len returns the number of tracked runs.
func (s *RunStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs)
}

// CancelPending marks every unfinished run cancelled.
func (s *RunStore) CancelPending() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.runs {
		r.finish(RunCancelled, "", context.Canceled, 0)
	}
}

// Sweep removes finished runs older than ttl and returns how many were
// removed.
func (s *RunStore) Sweep(ttl time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-ttl)
	removed := 0
	for id, r := range s.runs {
		r.mu.Lock()
		expired := r.state.Finished() && r.finished.Before(cutoff)
		r.mu.Unlock()
		if expired {
			delete(s.runs, id)
			removed++
		}
	}
	return removed
}

// StartSweeper runs periodic TTL sweeps in the background.
// Returns a stop function.
func (s *RunStore) StartSweeper(interval, ttl time.Duration) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				if n := s.Sweep(ttl); n > 0 {
					log.Debugf("swept %d finished runs", n)
				}
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()
	return func() { close(done) }
}
