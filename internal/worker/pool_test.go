package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// countingTask counts runs and optionally fails or blocks.
type countingTask struct {
	name  string
	runs  atomic.Int32
	err   error
	block chan struct{}
}

func (t *countingTask) Name() string { return t.name }

func (t *countingTask) Run(ctx context.Context) error {
	t.runs.Add(1)
	if t.block != nil {
		select {
		case <-t.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return t.err
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestNewPool_Defaults(t *testing.T) {
	pool := NewPool(Config{}, testLogger())

	if pool.interval != time.Hour {
		t.Errorf("interval = %v, want 1h", pool.interval)
	}
	if pool.runOnStart {
		t.Error("runOnStart should default to false")
	}
}

func TestPool_RunsTasksOnInterval(t *testing.T) {
	a := &countingTask{name: "a"}
	b := &countingTask{name: "b"}
	pool := NewPool(Config{Interval: 10 * time.Millisecond}, testLogger(), a, b)

	pool.Start()
	waitFor(t, func() bool { return a.runs.Load() >= 2 && b.runs.Load() >= 2 })

	if err := pool.Stop(time.Second); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

func TestPool_RunOnStart(t *testing.T) {
	task := &countingTask{name: "startup"}
	pool := NewPool(Config{Interval: time.Hour, RunOnStart: true}, testLogger(), task)

	pool.Start()
	waitFor(t, func() bool { return task.runs.Load() == 1 })

	if err := pool.Stop(time.Second); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

func TestPool_FailingTaskKeepsRunning(t *testing.T) {
	task := &countingTask{name: "flaky", err: errors.New("disk unavailable")}
	pool := NewPool(Config{Interval: 10 * time.Millisecond}, testLogger(), task)

	pool.Start()
	waitFor(t, func() bool { return task.runs.Load() >= 3 })

	if err := pool.Stop(time.Second); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

func TestPool_StopCancelsRunningTask(t *testing.T) {
	task := &countingTask{name: "slow", block: make(chan struct{})}
	pool := NewPool(Config{Interval: time.Hour, RunOnStart: true}, testLogger(), task)

	pool.Start()
	waitFor(t, func() bool { return task.runs.Load() == 1 })

	if err := pool.Stop(time.Second); err != nil {
		t.Fatalf("Stop should cancel the running task, got %v", err)
	}
}

func TestPool_StopTimeout(t *testing.T) {
	var mu sync.Mutex
	mu.Lock()
	stuck := TaskFunc("stuck", func(ctx context.Context) error {
		mu.Lock() // ignores cancellation
		mu.Unlock()
		return nil
	})
	pool := NewPool(Config{Interval: time.Hour, RunOnStart: true}, testLogger(), stuck)

	pool.Start()
	time.Sleep(20 * time.Millisecond)

	if err := pool.Stop(50 * time.Millisecond); !errors.Is(err, ErrShutdownTimeout) {
		t.Errorf("Stop = %v, want ErrShutdownTimeout", err)
	}
	mu.Unlock()
}

func TestTaskFunc(t *testing.T) {
	called := false
	task := TaskFunc("named", func(ctx context.Context) error {
		called = true
		return nil
	})

	if task.Name() != "named" {
		t.Errorf("Name() = %q, want %q", task.Name(), "named")
	}
	if err := task.Run(context.Background()); err != nil || !called {
		t.Errorf("Run() = %v, called = %v", err, called)
	}
}
