// Package supervisor owns the process lifecycle: it runs activities, turns
// termination signals and fatal failures into a single shutdown, and drains
// outstanding activities before stopping.
//
// States move Running -> Draining -> Stopped and never back.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/digitalbodhi/sigmsg/internal/oneshot"
)

// State is a supervisor lifecycle state.
type State int32

const (
	Running State = iota
	Draining
	Stopped
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// DefaultSignals are the host signals that start a shutdown.
var DefaultSignals = []os.Signal{syscall.SIGHUP, syscall.SIGTERM, syscall.SIGINT}

// Task is a long-running activity. It must return promptly once ctx is
// cancelled and release whatever it acquired on the way out.
type Task func(ctx context.Context) error

type namedTask struct {
	name string
	fn   Task
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the logger used for lifecycle and failure reports.
func WithLogger(log *slog.Logger) Option {
	return func(s *Supervisor) {
		if log != nil {
			s.log = log
		}
	}
}

// WithDrainTimeout bounds how long a shutdown waits for activities to
// finish. Zero waits forever.
func WithDrainTimeout(d time.Duration) Option {
	return func(s *Supervisor) { s.drainTimeout = d }
}

// WithSignals replaces DefaultSignals. No signals disables interception.
func WithSignals(sigs ...os.Signal) Option {
	return func(s *Supervisor) { s.signals = sigs }
}

// Supervisor schedules activities and coordinates their cancellation.
type Supervisor struct {
	log          *slog.Logger
	drainTimeout time.Duration
	signals      []os.Signal

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	active atomic.Int64
	state  atomic.Int32

	mu      sync.Mutex
	started bool
	pending []namedTask
	onFatal []func(error)
	cause   string
	sig     os.Signal

	stopRequested *oneshot.Signal
	stopped       *oneshot.Signal
}

// New creates a Supervisor in the Running state. Nothing is scheduled and
// no signal handler is installed until Run.
func New(opts ...Option) *Supervisor {
	s := &Supervisor{
		log:           slog.Default(),
		drainTimeout:  10 * time.Second,
		signals:       DefaultSignals,
		stopRequested: oneshot.New(),
		stopped:       oneshot.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// Context is cancelled when draining begins.
func (s *Supervisor) Context() context.Context {
	return s.ctx
}

// Done is closed once the supervisor reaches Stopped.
func (s *Supervisor) Done() <-chan struct{} {
	return s.stopped.Done()
}

// Cause describes what started the shutdown.
func (s *Supervisor) Cause() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

// Signal returns the host signal that started the shutdown, if any.
func (s *Supervisor) Signal() os.Signal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sig
}

// OnFatal registers fn to be called, in the reporting goroutine, for every
// failure classified as fatal.
func (s *Supervisor) OnFatal(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFatal = append(s.onFatal, fn)
}

// Go schedules an activity. Before Run it is queued; while Running it starts
// at once. It reports false once draining has begun.
func (s *Supervisor) Go(name string, task Task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State() != Running {
		s.log.Warn("activity rejected, supervisor is not running", "task", name, "state", s.State())
		return false
	}
	if !s.started {
		s.pending = append(s.pending, namedTask{name: name, fn: task})
		return true
	}
	s.spawn(name, task)
	return true
}

// spawn must be called with s.mu held.
func (s *Supervisor) spawn(name string, task Task) {
	s.wg.Add(1)
	s.active.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.active.Add(-1)
		defer func() {
			if v := recover(); v != nil {
				s.Report(&PanicError{Task: name, Value: v, Stack: debug.Stack()})
			}
		}()
		if err := task(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.Report(fmt.Errorf("%s: %w", name, err))
		}
	}()
}

// Shutdown requests the Running -> Draining transition. It does not block;
// the drain runs inside Run. Only the first request is recorded.
func (s *Supervisor) Shutdown(cause string) {
	s.requestStop(cause, nil)
}

func (s *Supervisor) requestStop(cause string, sig os.Signal) {
	s.mu.Lock()
	if s.stopRequested.Fired() {
		s.mu.Unlock()
		return
	}
	s.cause, s.sig = cause, sig
	s.stopRequested.Fire()
	s.mu.Unlock()
}

// Report is the process-wide failure handler. Connectivity and
// invalid-state failures start a shutdown; anything else is only logged.
func (s *Supervisor) Report(err error) {
	if err == nil {
		return
	}
	category := Classify(err)
	if !category.Fatal() {
		attrs := []any{"error", err, "type", fmt.Sprintf("%T", err)}
		var pe *PanicError
		if errors.As(err, &pe) {
			attrs = append(attrs, "stack", string(pe.Stack))
		}
		s.log.Error("unhandled failure", attrs...)
		return
	}

	s.log.Error("unhandled failure, shutting down", "category", category, "error", err)
	s.mu.Lock()
	hooks := append([]func(error){}, s.onFatal...)
	s.mu.Unlock()
	for _, fn := range hooks {
		fn(err)
	}
	s.Shutdown(category.String() + ": " + err.Error())
}

// Run installs the signal handlers, starts queued activities and blocks
// until the supervisor is Stopped. A shutdown starts on a host signal, a
// Shutdown call, a fatal Report, cancellation of ctx, or when every
// activity has returned on its own.
func (s *Supervisor) Run(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	if len(s.signals) > 0 {
		signal.Notify(sigCh, s.signals...)
		defer signal.Stop(sigCh)
	}

	s.mu.Lock()
	s.started = true
	for _, t := range s.pending {
		s.spawn(t.name, t.fn)
	}
	s.pending = nil
	s.mu.Unlock()

	idle := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(idle)
	}()

	select {
	case sig := <-sigCh:
		s.requestStop("received "+sig.String(), sig)
	case <-s.stopRequested.Done():
	case <-ctx.Done():
		s.requestStop("context cancelled", nil)
	case <-idle:
		s.requestStop("all activities finished", nil)
	}
	return s.drain()
}

func (s *Supervisor) drain() error {
	s.mu.Lock()
	s.state.Store(int32(Draining))
	s.mu.Unlock()

	s.log.Info("shutting down, attempting to exit gracefully", "cause", s.Cause())
	s.log.Debug("cancelling outstanding activities", "count", s.active.Load())
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	if s.drainTimeout > 0 {
		timer := time.NewTimer(s.drainTimeout)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
			s.log.Warn("drain deadline exceeded", "timeout", s.drainTimeout, "outstanding", s.active.Load())
			err = ErrDrainTimeout
		}
	} else {
		<-done
	}

	s.state.Store(int32(Stopped))
	s.stopped.Fire()
	s.log.Info("stopped")
	return err
}
