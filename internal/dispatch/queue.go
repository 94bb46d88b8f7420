// Package dispatch moves decoded events from the read path to their
// handlers. Events are consumed by a single activity in arrival order, so a
// slow handler delays later events but never the decoder.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/digitalbodhi/sigmsg/internal/event"
)

// Queue is an unbounded FIFO of events with exactly one consumer. Enqueue
// never blocks, so the decoder keeps reading however slow the handlers are.
type Queue struct {
	handler Handler
	onError func(error)
	log     *slog.Logger

	mu      sync.Mutex
	pending []*event.Event
	notify  chan struct{}

	active    atomic.Int64
	processed atomic.Int64
}

// NewQueue creates a Queue that hands every event to handler. Handler
// errors and panics go to onError; a nil onError only logs them.
func NewQueue(handler Handler, onError func(error), log *slog.Logger) *Queue {
	if log == nil {
		log = slog.Default()
	}
	return &Queue{
		handler: handler,
		onError: onError,
		log:     log,
		notify:  make(chan struct{}, 1),
	}
}

// Enqueue appends ev and wakes the consumer.
func (q *Queue) Enqueue(ev *event.Event) {
	q.mu.Lock()
	q.pending = append(q.pending, ev)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Len returns the number of events waiting.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Processed returns how many events the consumer has finished.
func (q *Queue) Processed() int64 {
	return q.processed.Load()
}

func (q *Queue) pop() (*event.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, false
	}
	ev := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	if len(q.pending) == 0 {
		q.pending = nil
	}
	// Counted as active before the lock is released so WaitIdle never
	// sees the event in neither place.
	q.active.Add(1)
	return ev, true
}

// Run consumes events until ctx is cancelled. Events still waiting at that
// point are dropped.
func (q *Queue) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			if n := q.Len(); n > 0 {
				q.log.Debug("dropping undispatched events", "count", n)
			}
			return err
		}
		if ev, ok := q.pop(); ok {
			q.process(ctx, ev)
			continue
		}
		select {
		case <-q.notify:
		case <-ctx.Done():
		}
	}
}

func (q *Queue) process(ctx context.Context, ev *event.Event) {
	defer q.active.Add(-1)
	defer q.processed.Add(1)
	defer func() {
		if v := recover(); v != nil {
			q.fail(fmt.Errorf("event handler panic: %v\n%s", v, debug.Stack()))
		}
	}()
	if err := q.handler(ctx, ev); err != nil {
		q.fail(fmt.Errorf("handle %s event: %w", ev.Kind(), err))
	}
}

func (q *Queue) fail(err error) {
	if q.onError != nil {
		q.onError(err)
		return
	}
	q.log.Error("event handler failed", "error", err)
}

// WaitIdle blocks until nothing is waiting and no event is being handled,
// or the timeout expires. Returns true if idle, false if timed out.
func (q *Queue) WaitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if q.active.Load() == 0 && q.Len() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(10 * time.Millisecond):
		}
	}
}
