package db

import (
	"context"
	"errors"
	"runtime"
	"sync"
)

// ErrExecutorClosed completes tasks submitted after shutdown began.
var ErrExecutorClosed = errors.New("executor is closed")

// Task is a unit of SQL work executed off the caller's goroutine.
type Task func(ctx context.Context) error

// Promise is the completion handle for a submitted task. Callers that need
// durability before continuing wait on it; everyone else drops it.
type Promise struct {
	done chan struct{}
	err  error
}

func newPromise() *Promise {
	return &Promise{done: make(chan struct{})}
}

func (p *Promise) complete(err error) {
	p.err = err
	close(p.done)
}

// Wait blocks until the task finished and returns its error.
func (p *Promise) Wait() error {
	<-p.done
	return p.err
}

// Done reports without blocking whether the task has finished.
func (p *Promise) Done() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

type job struct {
	fn      Task
	promise *Promise
}

// Executor is a bounded worker pool for asynchronous SQL operations. When the
// queue is full, Submit runs the task on the caller's goroutine instead of
// blocking or dropping it.
type Executor struct {
	jobs     chan *job
	wg       sync.WaitGroup
	workers  int
	queueCap int

	mu     sync.Mutex
	closed bool
}

func NewExecutor(workers, queueCap int) *Executor {
	if workers < 1 {
		workers = 1
	}
	if queueCap < 1 {
		queueCap = 1
	}

	e := &Executor{
		jobs:     make(chan *job, queueCap),
		workers:  workers,
		queueCap: queueCap,
	}

	for i := 0; i < workers; i++ {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			for j := range e.jobs {
				runJob(j)
			}
		}()
	}

	return e
}

func runJob(j *job) {
	j.promise.complete(j.fn(context.Background()))
}

// Submit enqueues a task and returns its completion handle. After Close the
// task is rejected with ErrExecutorClosed instead of running; the mutex keeps
// the enqueue from racing the channel close.
func (e *Executor) Submit(fn Task) *Promise {
	j := &job{fn: fn, promise: newPromise()}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		j.promise.complete(ErrExecutorClosed)
		return j.promise
	}

	select {
	case e.jobs <- j:
		e.mu.Unlock()
	default:
		e.mu.Unlock()
		// queue saturated: caller runs
		runJob(j)
	}
	return j.promise
}

func (e *Executor) Workers() int {
	return e.workers
}

func (e *Executor) QueueCap() int {
	return e.queueCap
}

// Close stops accepting work and drains queued tasks. Safe to call more than
// once and concurrently with Submit.
func (e *Executor) Close() {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.jobs)
	}
	e.mu.Unlock()

	e.wg.Wait()
}

// executorSizeFor derives worker count and queue capacity from the connection
// pool's maximum size, capped and floored relative to available parallelism so
// async SQL concurrency tracks the connection budget.
func executorSizeFor(maxPoolSize int) (workers, queueCap int) {
	cores := runtime.NumCPU()
	workers = max(2, min(cores*2, max(cores, maxPoolSize*2)))
	queueCap = max(256, maxPoolSize*128)
	return workers, queueCap
}
