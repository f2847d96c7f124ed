// Package worker runs independent pipeline runs concurrently and throttles
// calls to external providers.
package worker

import (
	"context"
	"errors"
	"sync"
)

// ErrPoolClosed is returned by Submit after Wait or Shutdown
var ErrPoolClosed = errors.New("worker pool closed")

// Job represents a unit of work to be executed
type Job interface {
	Execute(ctx context.Context) Result
}

// Result represents the result of a job execution
type Result interface {
	GetError() error
}

type indexedJob struct {
	seq int
	job Job
}

type indexedResult struct {
	seq    int
	result Result
}

// Pool runs jobs on a fixed number of workers. Results come back in
// submission order.
type Pool struct {
	workers int
	jobs    chan indexedJob
	results chan indexedResult
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc

	mu        sync.Mutex
	submitted int
	closed    bool
	collected []indexedResult
	done      chan struct{}
	closeOnce sync.Once
}

// NewPool creates a pool bounded by workers; jobs see ctx, or its cancellation
func NewPool(ctx context.Context, workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(ctx)

	return &Pool{
		workers: workers,
		jobs:    make(chan indexedJob, workers*2),
		results: make(chan indexedResult, workers*2),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Start launches the workers and the result collector. It must be called
// before Submit.
func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	go p.collect()
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for ij := range p.jobs {
		p.results <- indexedResult{seq: ij.seq, result: ij.job.Execute(p.ctx)}
	}
}

// collect drains results as they arrive so workers never block on a full channel
func (p *Pool) collect() {
	defer close(p.done)
	for r := range p.results {
		p.collected = append(p.collected, r)
	}
}

// Submit queues a job. It blocks while the queue is full and fails once the
// pool is closed or its context is done.
func (p *Pool) Submit(job Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case <-p.ctx.Done():
		return p.ctx.Err()
	case p.jobs <- indexedJob{seq: p.submitted, job: job}:
		p.submitted++
		return nil
	}
}

// Wait closes the queue, waits for queued jobs and returns their results in
// submission order. Jobs that were never queued have no result.
func (p *Pool) Wait() []Result {
	p.close()
	<-p.done

	ordered := make([]Result, p.submitted)
	present := make([]bool, p.submitted)
	for _, r := range p.collected {
		ordered[r.seq] = r.result
		present[r.seq] = true
	}
	out := ordered[:0]
	for i, r := range ordered {
		if present[i] {
			out = append(out, r)
		}
	}
	return out
}

// Shutdown cancels running jobs and waits for the workers to exit
func (p *Pool) Shutdown() {
	p.cancel()
	p.close()
	<-p.done
}

func (p *Pool) close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		close(p.jobs)
		go func() {
			p.wg.Wait()
			close(p.results)
		}()
	})
}
