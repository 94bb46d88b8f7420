// internal/scheduler/scheduler.go
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/digitalbodhi/sigmsg/internal/metrics"
	"github.com/digitalbodhi/sigmsg/internal/state"
)

// SendTimeout bounds a single scheduled send.
const SendTimeout = 30 * time.Second

// ErrStopped is returned by Start and Reload once Stop has been called.
var ErrStopped = errors.New("scheduler stopped")

// SendFunc delivers the message of a schedule that has fired.
type SendFunc func(ctx context.Context, sc *state.Schedule) error

// Scheduler evaluates cron expressions from the schedule store and sends
// each schedule's message when it fires.
type Scheduler struct {
	store   *state.ScheduleStore
	send    SendFunc
	metrics *metrics.Metrics
	log     *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	ctx     context.Context
	stopped bool
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// New creates a Scheduler backed by store. m may be nil.
func New(store *state.ScheduleStore, send SendFunc, m *metrics.Metrics, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	s := &Scheduler{
		store:   store,
		send:    send,
		metrics: m,
		log:     log,
		ctx:     context.Background(),
	}
	s.cron = s.newCron()
	return s
}

func (s *Scheduler) newCron() *cron.Cron {
	logger := cronLogger{s.log}
	return cron.New(
		cron.WithParser(cronParser),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
}

// Start loads schedules from the store, registers the enabled ones as cron
// entries, and starts the cron ticker. Invalid expressions are logged and
// skipped.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked()
}

func (s *Scheduler) startLocked() error {
	if s.stopped {
		return ErrStopped
	}
	schedules, err := s.store.List()
	if err != nil {
		return err
	}

	for _, sc := range schedules {
		if !sc.Enabled || sc.Schedule == "" {
			continue
		}
		sc := sc
		if _, err := s.cron.AddFunc(sc.Schedule, func() { s.fire(sc) }); err != nil {
			s.log.Error("invalid cron schedule", "name", sc.Name, "schedule", sc.Schedule, "error", err)
			continue
		}
		s.log.Info("scheduled message", "name", sc.Name, "schedule", sc.Schedule, "recipients", len(sc.Recipients))
	}

	s.cron.Start()
	return nil
}

// Reload replaces every cron entry with the current contents of the store.
// It fails with ErrStopped after Stop.
func (s *Scheduler) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	s.cron.Stop()
	s.cron = s.newCron()
	return s.startLocked()
}

// Stop stops the cron ticker for good and waits for running sends to
// finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	done := s.cron.Stop()
	s.mu.Unlock()
	<-done.Done()
}

// Entries returns the number of registered schedules.
func (s *Scheduler) Entries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cron.Entries())
}

// Run starts the scheduler and keeps it running until ctx is cancelled.
// Sends started by the scheduler inherit ctx.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	s.Stop()
	return nil
}

func (s *Scheduler) fire(sc *state.Schedule) {
	s.mu.Lock()
	base := s.ctx
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(base, SendTimeout)
	defer cancel()

	s.log.Info("cron firing schedule", "name", sc.Name)
	err := s.send(ctx, sc)
	s.metrics.ScheduledSend(sc.Name, err)
	if err != nil {
		s.log.Error("scheduled send failed", "name", sc.Name, "error", err)
	}
}

type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
