package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"
)

func newTestSupervisor(opts ...Option) *Supervisor {
	return New(append([]Option{WithSignals()}, opts...)...)
}

func runAsync(s *Supervisor) <-chan error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(context.Background()) }()
	return errCh
}

func waitRun(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func TestShutdownCancelsActivities(t *testing.T) {
	s := newTestSupervisor()
	var cancelled atomic.Int32
	for i := 0; i < 3; i++ {
		s.Go(fmt.Sprintf("worker-%d", i), func(ctx context.Context) error {
			<-ctx.Done()
			cancelled.Add(1)
			return ctx.Err()
		})
	}
	if s.State() != Running {
		t.Fatalf("expected running, got %s", s.State())
	}

	errCh := runAsync(s)
	s.Shutdown("test")
	if err := waitRun(t, errCh); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cancelled.Load() != 3 {
		t.Errorf("expected 3 cancelled activities, got %d", cancelled.Load())
	}
	if s.State() != Stopped {
		t.Errorf("expected stopped, got %s", s.State())
	}
	if s.Cause() != "test" {
		t.Errorf("cause = %q", s.Cause())
	}
	select {
	case <-s.Done():
	default:
		t.Error("Done not closed after Run returned")
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	s := newTestSupervisor()
	s.Go("idle", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
	errCh := runAsync(s)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Shutdown(fmt.Sprintf("caller-%d", i))
		}(i)
	}
	wg.Wait()
	if err := waitRun(t, errCh); err != nil {
		t.Fatal(err)
	}
	s.Shutdown("late")
	if s.Cause() == "late" {
		t.Error("a request after stop overwrote the cause")
	}
}

func TestFatalReportStartsShutdown(t *testing.T) {
	s := newTestSupervisor()
	var hooks atomic.Int32
	s.OnFatal(func(err error) {
		if !errors.Is(err, ErrConnectivity) {
			t.Errorf("hook got %v", err)
		}
		hooks.Add(1)
	})
	s.Go("reader", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
	errCh := runAsync(s)

	s.Report(fmt.Errorf("stream lost: %w", ErrConnectivity))
	if err := waitRun(t, errCh); err != nil {
		t.Fatal(err)
	}
	if hooks.Load() != 1 {
		t.Errorf("expected 1 hook call, got %d", hooks.Load())
	}
}

func TestUnclassifiedReportDoesNotStop(t *testing.T) {
	s := newTestSupervisor()
	s.Go("idle", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
	errCh := runAsync(s)

	s.Report(errors.New("handler blew up"))
	select {
	case <-errCh:
		t.Fatal("unclassified failure stopped the supervisor")
	case <-time.After(50 * time.Millisecond):
	}
	if s.State() != Running {
		t.Errorf("expected running, got %s", s.State())
	}
	s.Shutdown("done")
	waitRun(t, errCh)
}

func TestFailingActivityIsReported(t *testing.T) {
	s := newTestSupervisor()
	s.Go("dialer", func(ctx context.Context) error {
		return &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}
	})
	s.Go("idle", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
	errCh := runAsync(s)
	if err := waitRun(t, errCh); err != nil {
		t.Fatal(err)
	}
	if got := s.Cause(); len(got) < len("connectivity") || got[:len("connectivity")] != "connectivity" {
		t.Errorf("cause = %q", got)
	}
}

func TestPanicIsRecovered(t *testing.T) {
	s := newTestSupervisor()
	s.Go("boom", func(ctx context.Context) error {
		panic("kaboom")
	})
	errCh := runAsync(s)
	if err := waitRun(t, errCh); err != nil {
		t.Fatal(err)
	}
	if s.Cause() != "all activities finished" {
		t.Errorf("cause = %q", s.Cause())
	}
}

func TestDrainTimeout(t *testing.T) {
	s := newTestSupervisor(WithDrainTimeout(30 * time.Millisecond))
	release := make(chan struct{})
	defer close(release)
	s.Go("stubborn", func(ctx context.Context) error {
		<-release
		return nil
	})
	errCh := runAsync(s)
	s.Shutdown("test")
	if err := waitRun(t, errCh); !errors.Is(err, ErrDrainTimeout) {
		t.Errorf("expected ErrDrainTimeout, got %v", err)
	}
	if s.State() != Stopped {
		t.Errorf("expected stopped, got %s", s.State())
	}
}

func TestContextCancelStops(t *testing.T) {
	s := newTestSupervisor()
	s.Go("idle", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()
	cancel()
	if err := waitRun(t, errCh); err != nil {
		t.Fatal(err)
	}
}

func TestGoAfterDrainIsRejected(t *testing.T) {
	s := newTestSupervisor()
	s.Shutdown("early")
	if err := waitRun(t, runAsync(s)); err != nil {
		t.Fatal(err)
	}
	if s.Go("late", func(context.Context) error { return nil }) {
		t.Error("expected Go to be rejected after stop")
	}
}

func TestGoWhileRunningStartsImmediately(t *testing.T) {
	s := newTestSupervisor()
	s.Go("idle", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
	errCh := runAsync(s)

	started := make(chan struct{})
	deadline := time.Now().Add(2 * time.Second)
	for !s.Go("late", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return nil
	}) {
		if time.Now().After(deadline) {
			t.Fatal("Go kept failing")
		}
	}
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("activity scheduled while running never started")
	}
	s.Shutdown("done")
	waitRun(t, errCh)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Category
	}{
		{"nil", nil, CategoryUnclassified},
		{"plain", errors.New("x"), CategoryUnclassified},
		{"connectivity", fmt.Errorf("wrap: %w", ErrConnectivity), CategoryConnectivity},
		{"invalid state", fmt.Errorf("wrap: %w", ErrInvalidState), CategoryInvalidState},
		{"reset", fmt.Errorf("read: %w", syscall.ECONNRESET), CategoryConnectivity},
		{"pipe", syscall.EPIPE, CategoryConnectivity},
		{"closed", net.ErrClosed, CategoryConnectivity},
		{"unexpected eof", io.ErrUnexpectedEOF, CategoryConnectivity},
		{"op error", &net.OpError{Op: "read", Err: errors.New("boom")}, CategoryConnectivity},
		{"panic", &PanicError{Task: "t", Value: 1}, CategoryUnclassified},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}
