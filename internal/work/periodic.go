package work

import (
	"log/slog"
	"sync"
	"time"
)

// stopGrace bounds how long Stop waits for the loop's final iteration
// before giving up with a warning.
const stopGrace = 5 * time.Second

// Periodic runs a named duty on the pool: one loop task that invokes the
// callback, then sleeps the interval, until stopped. The sleep is
// interruptible, so Stop does not wait out the interval.
//
// Stop blocks until the loop has returned, bounded by stopGrace. After Stop
// returns, the callback does not run again.
type Periodic struct {
	name     string
	interval time.Duration
	fn       func()
	pool     *Pool

	mu      sync.Mutex
	started bool
	stopped bool

	quit chan struct{}
	done chan struct{}
}

// NewPeriodic builds a duty; Start schedules it. The interval may be zero,
// which re-runs the callback as soon as the previous call returns.
func NewPeriodic(pool *Pool, name string, interval time.Duration, fn func()) *Periodic {
	return &Periodic{
		name:     name,
		interval: interval,
		fn:       fn,
		pool:     pool,
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Name returns the duty name used in logs.
func (t *Periodic) Name() string { return t.name }

// Start enqueues the loop on the pool. Starting twice, or after Stop, is a
// no-op.
func (t *Periodic) Start() {
	t.mu.Lock()
	if t.started || t.stopped {
		t.mu.Unlock()
		return
	}
	t.started = true
	t.mu.Unlock()

	t.pool.Enqueue(t.loop)
}

// Stop signals the loop and blocks until its final iteration has returned.
// If the loop does not confirm within stopGrace (for example because the
// pool never ran it), Stop warns and returns. Idempotent.
func (t *Periodic) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	started := t.started
	t.mu.Unlock()

	if !started {
		return
	}

	close(t.quit)
	select {
	case <-t.done:
	case <-time.After(stopGrace):
		slog.Warn("periodic task did not confirm stop", "task", t.name)
	}
}

func (t *Periodic) loop() {
	defer close(t.done)
	for {
		t.invoke()

		select {
		case <-t.quit:
			return
		case <-time.After(t.interval):
		}
		// The timer can win the race against an already-closed quit;
		// recheck so stop never costs an extra iteration.
		select {
		case <-t.quit:
			return
		default:
		}
	}
}

// invoke runs one iteration, containing panics so the loop survives a
// failing callback.
func (t *Periodic) invoke() {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("periodic callback panicked", "task", t.name, "panic", r)
		}
	}()
	t.fn()
}
