// Package work provides the shared concurrency substrate: a fixed-size
// worker pool draining a task queue, and a periodic task that runs a named
// duty on the pool at a fixed interval with a deterministic stop protocol.
package work

import (
	"log/slog"
	"runtime"
	"sync"
)

// Pool is a fixed set of workers draining a FIFO task queue.
//
// Enqueue never blocks. Wait blocks until the queue is empty and no task is
// in flight. Stop drops pending tasks, lets in-flight tasks finish, and
// joins the workers; a stopped pool stays stopped.
type Pool struct {
	size int

	mu      sync.Mutex
	ready   *sync.Cond // queue became non-empty, or the pool is stopping
	idle    *sync.Cond // queue drained and nothing in flight
	queue   []func()
	active  int
	started bool
	stopped bool

	workers sync.WaitGroup
}

// NewPool returns an unstarted pool with size workers. A size below 1
// defaults to the number of CPUs, minimum one worker.
func NewPool(size int) *Pool {
	if size < 1 {
		size = runtime.NumCPU()
	}
	if size < 1 {
		size = 1
	}
	p := &Pool{size: size}
	p.ready = sync.NewCond(&p.mu)
	p.idle = sync.NewCond(&p.mu)
	return p
}

// Size returns the worker count.
func (p *Pool) Size() int { return p.size }

// Start launches the workers. Starting twice, or after Stop, is a no-op.
func (p *Pool) Start() {
	p.mu.Lock()
	if p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	for i := 0; i < p.size; i++ {
		p.workers.Add(1)
		go p.worker()
	}
}

// Enqueue appends task to the queue. On a stopped pool the task is dropped
// with a warning.
func (p *Pool) Enqueue(task func()) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		slog.Warn("task enqueued on stopped worker pool, dropping")
		return
	}
	p.queue = append(p.queue, task)
	p.mu.Unlock()
	p.ready.Signal()
}

// Len returns the number of queued (not yet running) tasks.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Wait blocks until the queue is empty and no task is in flight.
func (p *Pool) Wait() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.queue) > 0 || p.active > 0 {
		p.idle.Wait()
	}
}

// Stop drops pending tasks, wakes everything, and joins the workers.
// In-flight tasks run to completion. Idempotent.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	if dropped := len(p.queue); dropped > 0 {
		slog.Debug("worker pool stopping with queued tasks", "dropped", dropped)
	}
	p.queue = nil
	p.mu.Unlock()

	p.ready.Broadcast()
	p.idle.Broadcast()
	p.workers.Wait()
}

func (p *Pool) worker() {
	defer p.workers.Done()
	for {
		p.mu.Lock()
		for !p.stopped && len(p.queue) == 0 {
			p.ready.Wait()
		}
		if p.stopped {
			p.mu.Unlock()
			return
		}
		task := p.queue[0]
		p.queue = p.queue[1:]
		p.active++
		p.mu.Unlock()

		p.invoke(task)

		p.mu.Lock()
		p.active--
		if len(p.queue) == 0 && p.active == 0 {
			p.idle.Broadcast()
		}
		p.mu.Unlock()
	}
}

// invoke runs one task, containing panics so a failing task cannot take its
// worker down.
func (p *Pool) invoke(task func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("worker task panicked", "panic", r)
		}
	}()
	task()
}
