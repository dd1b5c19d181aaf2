package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Task runs fn once after delay unless stopped first. A fired or stopped task
// can be started again.
type Task struct {
	name  string
	delay time.Duration
	fn    func(context.Context)

	running atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	timer  *time.Timer
	done   chan struct{}
}

func New(name string, delay time.Duration, fn func(context.Context)) (*Task, error) {
	if delay <= 0 {
		return nil, errors.New("delay must be > 0")
	}
	if fn == nil {
		return nil, errors.New("fn must not be nil")
	}
	done := make(chan struct{})
	close(done)
	return &Task{
		name:  name,
		delay: delay,
		fn:    fn,
		done:  done,
	}, nil
}

// After creates and starts a task.
func After(name string, delay time.Duration, fn func(context.Context)) (*Task, error) {
	t, err := New(name, delay, fn)
	if err != nil {
		return nil, err
	}
	t.Start()
	return t, nil
}

func (t *Task) Start() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running.Load() {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	t.cancel = cancel
	t.done = done
	t.running.Store(true)

	t.timer = time.AfterFunc(t.delay, func() {
		defer close(done)
		defer t.finish(done)

		if ctx.Err() != nil {
			return
		}
		t.safeRun(ctx)
	})

	slog.Debug("task armed", "task", t.name, "delay", t.delay.String())
	return true
}

// Stop cancels a pending task, or the context of a running one. It does not
// wait for a running fn to return, so it is safe to call from inside fn.
func (t *Task) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running.Load() {
		return false
	}

	t.cancel()
	if t.timer.Stop() {
		close(t.done)
	}
	t.running.Store(false)

	slog.Debug("task stopped", "task", t.name)
	return true
}

func (t *Task) IsRunning() bool {
	return t.running.Load()
}

// Done is closed once the current arming has either fired and returned or
// been stopped before firing.
func (t *Task) Done() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

func (t *Task) finish(done chan struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done == done {
		t.running.Store(false)
	}
}

func (t *Task) safeRun(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("task panic recovered", "task", t.name, "panic", r)
		}
	}()

	start := time.Now()
	t.fn(ctx)
	slog.Debug("task completed", "task", t.name, "duration_ms", time.Since(start).Milliseconds())
}
