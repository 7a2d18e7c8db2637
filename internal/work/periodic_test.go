package work

import (
	"sync/atomic"
	"testing"
	"time"
)

func startedPool(t *testing.T) *Pool {
	t.Helper()
	p := NewPool(2)
	p.Start()
	t.Cleanup(p.Stop)
	return p
}

func TestPeriodicRunsRepeatedly(t *testing.T) {
	p := startedPool(t)

	var n atomic.Int64
	task := NewPeriodic(p, "counter", time.Millisecond, func() { n.Add(1) })
	task.Start()
	defer task.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for n.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("callback ran %d times, want at least 3", n.Load())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestStopPreventsFurtherIterations(t *testing.T) {
	p := startedPool(t)

	var n atomic.Int64
	task := NewPeriodic(p, "counter", time.Millisecond, func() { n.Add(1) })
	task.Start()

	deadline := time.Now().Add(2 * time.Second)
	for n.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("callback never ran")
		}
		time.Sleep(time.Millisecond)
	}

	task.Stop()
	after := n.Load()
	time.Sleep(30 * time.Millisecond)
	if got := n.Load(); got != after {
		t.Fatalf("callback ran %d more times after Stop returned", got-after)
	}
}

func TestStopInterruptsSleep(t *testing.T) {
	p := startedPool(t)

	ran := make(chan struct{}, 1)
	task := NewPeriodic(p, "sleeper", time.Hour, func() {
		select {
		case ran <- struct{}{}:
		default:
		}
	})
	task.Start()
	<-ran

	start := time.Now()
	task.Stop()
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Stop took %s, want well under the interval", elapsed)
	}
}

func TestStopBeforeStart(t *testing.T) {
	p := startedPool(t)
	task := NewPeriodic(p, "unused", time.Millisecond, func() {})

	start := time.Now()
	task.Stop()
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Stop on an unstarted task took %s", elapsed)
	}

	// Start after Stop must not schedule the loop.
	task.Start()
	time.Sleep(10 * time.Millisecond)
}

func TestCallbackPanicKeepsLooping(t *testing.T) {
	p := startedPool(t)

	var n atomic.Int64
	task := NewPeriodic(p, "panicky", time.Millisecond, func() {
		n.Add(1)
		panic("each iteration fails")
	})
	task.Start()
	defer task.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for n.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("callback ran %d times, want at least 2 despite panics", n.Load())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestDoubleStartAndDoubleStop(t *testing.T) {
	p := startedPool(t)

	var n atomic.Int64
	task := NewPeriodic(p, "dup", time.Millisecond, func() { n.Add(1) })
	task.Start()
	task.Start()
	task.Stop()
	task.Stop()
}
