// Package task supervises the named background goroutines of the audio
// engine (waiting feeder, capture, stream pump).
//
// Every task gets its own cancellable context derived from both the caller's
// context and the supervisor's lifetime. A task can be stopped individually
// with a bounded join, and [Supervisor.Shutdown] stops everything that is
// still running.
package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

var (
	// ErrShutdown is the error of a task started after [Supervisor.Shutdown].
	ErrShutdown = errors.New("task: supervisor shut down")

	// ErrStopTimeout is returned by [Task.Stop] when the task does not return
	// within the join timeout.
	ErrStopTimeout = errors.New("task: stop timed out")
)

// Func is the body of a task. It must return promptly once ctx is done.
type Func func(ctx context.Context) error

// Task is a handle to a supervised goroutine.
type Task struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}
	err    error // written once before done is closed
}

// Name returns the name given to [Supervisor.Go].
func (t *Task) Name() string { return t.name }

// Done is closed when the task function has returned.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err returns the task's result. It is nil until [Task.Done] is closed.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Cancel signals the task to stop without waiting for it.
func (t *Task) Cancel() { t.cancel() }

// Wait blocks until the task returns or ctx is done.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels the task and waits up to timeout for it to return. A timeout
// of zero or less waits indefinitely. A task that outlives the timeout keeps
// running detached and Stop returns [ErrStopTimeout].
func (t *Task) Stop(timeout time.Duration) error {
	t.cancel()
	if timeout <= 0 {
		<-t.done
		return nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-t.done:
		return nil
	case <-timer.C:
		return fmt.Errorf("task %q: %w", t.name, ErrStopTimeout)
	}
}

// Supervisor owns a set of running tasks. The zero value is not usable; call
// [NewSupervisor].
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	tasks  map[*Task]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewSupervisor returns an empty supervisor.
func NewSupervisor() *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		ctx:    ctx,
		cancel: cancel,
		tasks:  make(map[*Task]struct{}),
	}
}

// Go starts fn on a new goroutine under name. The task's context is
// cancelled when ctx is done, when the task is stopped, or when the
// supervisor shuts down. A panic inside fn is recovered and reported as the
// task's error.
func (s *Supervisor) Go(ctx context.Context, name string, fn Func) *Task {
	tctx, cancel := context.WithCancel(ctx)
	t := &Task{name: name, cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		t.err = ErrShutdown
		close(t.done)
		return t
	}
	s.tasks[t] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	stopLink := context.AfterFunc(s.ctx, cancel)

	go func() {
		defer s.wg.Done()
		defer func() {
			stopLink()
			cancel()
			s.mu.Lock()
			delete(s.tasks, t)
			s.mu.Unlock()
			close(t.done)
		}()

		t.err = run(tctx, name, fn)
		if t.err != nil && !errors.Is(t.err, context.Canceled) {
			slog.Warn("task: exited with error", "task", name, "err", t.err)
		} else {
			slog.Debug("task: exited", "task", name)
		}
	}()
	return t
}

func run(ctx context.Context, name string, fn Func) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %q panicked: %v", name, r)
		}
	}()
	return fn(ctx)
}

// Running returns the sorted names of all tasks that have not yet returned.
func (s *Supervisor) Running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.tasks))
	for t := range s.tasks {
		names = append(names, t.name)
	}
	sort.Strings(names)
	return names
}

// Shutdown cancels every task and waits for all of them to return or for ctx
// to be done. Tasks started afterwards fail immediately with [ErrShutdown].
// Shutdown is idempotent.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("task: shutdown: %w (still running: %v)", ctx.Err(), s.Running())
	}
}
