package task_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/speechio/pkg/audio/task"
)

func TestGo_ReturnsResult(t *testing.T) {
	t.Parallel()
	s := task.NewSupervisor()
	want := errors.New("boom")

	tk := s.Go(context.Background(), "worker", func(context.Context) error { return want })
	if err := tk.Wait(context.Background()); !errors.Is(err, want) {
		t.Fatalf("Wait: got %v, want %v", err, want)
	}
	if !errors.Is(tk.Err(), want) {
		t.Errorf("Err: got %v, want %v", tk.Err(), want)
	}
	if tk.Name() != "worker" {
		t.Errorf("Name: got %q, want %q", tk.Name(), "worker")
	}
}

func TestStop_CancelsTask(t *testing.T) {
	t.Parallel()
	s := task.NewSupervisor()
	tk := s.Go(context.Background(), "loop", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	if err := tk.Stop(time.Second); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !errors.Is(tk.Err(), context.Canceled) {
		t.Errorf("Err: got %v, want context.Canceled", tk.Err())
	}
}

func TestStop_TimesOut(t *testing.T) {
	t.Parallel()
	s := task.NewSupervisor()
	release := make(chan struct{})
	tk := s.Go(context.Background(), "stubborn", func(context.Context) error {
		<-release
		return nil
	})
	defer close(release)

	err := tk.Stop(20 * time.Millisecond)
	if !errors.Is(err, task.ErrStopTimeout) {
		t.Fatalf("Stop: got %v, want ErrStopTimeout", err)
	}
	if !strings.Contains(err.Error(), "stubborn") {
		t.Errorf("error %q does not name the task", err)
	}
}

func TestParentContextCancelsTask(t *testing.T) {
	t.Parallel()
	s := task.NewSupervisor()
	ctx, cancel := context.WithCancel(context.Background())
	tk := s.Go(ctx, "child", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
	cancel()

	select {
	case <-tk.Done():
	case <-time.After(time.Second):
		t.Fatal("task did not observe parent cancellation")
	}
}

func TestShutdown_StopsAll(t *testing.T) {
	t.Parallel()
	s := task.NewSupervisor()
	started := make(chan struct{}, 2)
	for _, name := range []string{"b", "a"} {
		s.Go(context.Background(), name, func(ctx context.Context) error {
			started <- struct{}{}
			<-ctx.Done()
			return nil
		})
	}
	<-started
	<-started

	if got := s.Running(); !slices.Equal(got, []string{"a", "b"}) {
		t.Errorf("Running: got %v, want [a b]", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if got := s.Running(); len(got) != 0 {
		t.Errorf("Running after shutdown: got %v, want none", got)
	}
	// Idempotent.
	if err := s.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
}

func TestGo_AfterShutdown(t *testing.T) {
	t.Parallel()
	s := task.NewSupervisor()
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	called := false
	tk := s.Go(context.Background(), "late", func(context.Context) error {
		called = true
		return nil
	})
	<-tk.Done()
	if called {
		t.Error("task body ran after shutdown")
	}
	if !errors.Is(tk.Err(), task.ErrShutdown) {
		t.Errorf("Err: got %v, want ErrShutdown", tk.Err())
	}
}

func TestGo_RecoversPanic(t *testing.T) {
	t.Parallel()
	s := task.NewSupervisor()
	tk := s.Go(context.Background(), "panicky", func(context.Context) error {
		panic("kaboom")
	})
	err := tk.Wait(context.Background())
	if err == nil || !strings.Contains(err.Error(), "kaboom") {
		t.Fatalf("got %v, want panic error mentioning kaboom", err)
	}
}
