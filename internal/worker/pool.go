package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrShutdownTimeout is returned when workers don't stop within timeout.
var ErrShutdownTimeout = errors.New("worker pool shutdown timed out")

// Task is a unit of periodic maintenance work.
type Task interface {
	Name() string
	Run(ctx context.Context) error
}

type funcTask struct {
	name string
	fn   func(ctx context.Context) error
}

func (t funcTask) Name() string                  { return t.name }
func (t funcTask) Run(ctx context.Context) error { return t.fn(ctx) }

// TaskFunc adapts a function to a named Task.
func TaskFunc(name string, fn func(ctx context.Context) error) Task {
	return funcTask{name: name, fn: fn}
}

// Pool runs each task on its own worker at a fixed interval.
type Pool struct {
	interval   time.Duration
	runOnStart bool
	tasks      []Task
	logger     *slog.Logger

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// Config holds worker pool configuration.
type Config struct {
	Interval time.Duration
	// RunOnStart runs every task once as soon as the pool starts.
	RunOnStart bool
}

// NewPool creates a new worker pool.
func NewPool(cfg Config, logger *slog.Logger, tasks ...Task) *Pool {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		interval:   cfg.Interval,
		runOnStart: cfg.RunOnStart,
		tasks:      tasks,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start launches one worker per task.
func (p *Pool) Start() {
	p.logger.Info("starting worker pool", "tasks", len(p.tasks), "interval", p.interval)

	for _, task := range p.tasks {
		p.wg.Add(1)
		go p.worker(task)
	}
}

// Stop gracefully stops all workers.
func (p *Pool) Stop(timeout time.Duration) error {
	p.logger.Info("stopping worker pool")
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
		return nil
	case <-time.After(timeout):
		return ErrShutdownTimeout
	}
}

func (p *Pool) worker(task Task) {
	defer p.wg.Done()

	logger := p.logger.With("task", task.Name())
	logger.Info("worker started")

	if p.runOnStart {
		p.runTask(logger, task)
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			logger.Info("worker stopping")
			return
		case <-ticker.C:
			p.runTask(logger, task)
		}
	}
}

func (p *Pool) runTask(logger *slog.Logger, task Task) {
	if p.ctx.Err() != nil {
		return
	}

	start := time.Now()
	if err := task.Run(p.ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		logger.Error("task failed", "error", err, "duration", time.Since(start))
		return
	}
	logger.Debug("task completed", "duration", time.Since(start))
}
