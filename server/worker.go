package server

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrPoolBusy is returned when the job queue is full.
	ErrPoolBusy = errors.New("worker pool queue is full")

	// ErrPoolStopped is returned after Stop.
	ErrPoolStopped = errors.New("worker pool stopped")
)

// job is a unit of work run on a pool goroutine.
type job struct {
	fn      func()
	onPanic func(error)
}

// WorkerPool runs jobs on a fixed set of goroutines. Each VM lives on
// exactly one worker for the duration of its run.
type WorkerPool struct {
	jobs chan job
	quit chan struct{}
	wg   sync.WaitGroup

	mu      sync.Mutex
	stopped bool
}

// NewWorkerPool starts n workers with a queue of queueSize pending jobs.
func NewWorkerPool(n, queueSize int) *WorkerPool {
	if n < 1 {
		n = 1
	}
	p := &WorkerPool{
		jobs: make(chan job, queueSize),
		quit: make(chan struct{}),
	}
	p.wg.Add(n)
	for i := 0; i < n; i++ {
		go p.loop()
	}
	return p
}

// loop processes jobs until Stop.
func (p *WorkerPool) loop() {
	defer p.wg.Done()
	for {
		select {
		case j := <-p.jobs:
			p.execute(j)
		case <-p.quit:
			return
		}
	}
}

// execute runs a job, recovering from panics.
func (p *WorkerPool) execute(j job) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("worker panic: %v", r)
			if j.onPanic != nil {
				j.onPanic(fmt.Errorf("panic: %v", r))
			}
		}
	}()
	j.fn()
}

// Submit queues fn without blocking. onPanic, if set, receives the value
// of a panic raised by fn.
func (p *WorkerPool) Submit(fn func(), onPanic func(error)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrPoolStopped
	}
	select {
	case p.jobs <- job{fn: fn, onPanic: onPanic}:
		return nil
	default:
		return ErrPoolBusy
	}
}

// Stop shuts the workers down and waits for running jobs to return.
// Queued jobs that have not started are dropped.
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.quit)
	p.mu.Unlock()
	p.wg.Wait()
}
