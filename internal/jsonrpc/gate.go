package jsonrpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/digitalbodhi/sigmsg/internal/oneshot"
)

// ErrNotConnected is returned when the transport reference is gone by the
// time a write is attempted.
var ErrNotConnected = errors.New("transport not connected")

// Gate writes documents onto the transport one at a time. The first Send
// blocks until the ready signal fires; once that has been observed no
// later Send waits for it again.
type Gate struct {
	ready     *oneshot.Signal
	transport func() io.Writer
	sem       *semaphore.Weighted
	opened    atomic.Bool
	log       *slog.Logger
}

// NewGate creates a Gate that writes to whatever transport returns. The
// gate never closes or replaces the transport; the caller owns it.
func NewGate(ready *oneshot.Signal, transport func() io.Writer, log *slog.Logger) *Gate {
	if log == nil {
		log = slog.Default()
	}
	return &Gate{
		ready:     ready,
		transport: transport,
		sem:       semaphore.NewWeighted(1),
		log:       log,
	}
}

// Send appends the line delimiter to doc and writes it. Writes that reach
// the gate are never reordered.
func (g *Gate) Send(ctx context.Context, doc []byte) error {
	if !g.opened.Load() {
		select {
		case <-g.ready.Done():
			g.opened.Store(true)
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer g.sem.Release(1)

	w := g.transport()
	if w == nil {
		return ErrNotConnected
	}
	line := make([]byte, 0, len(doc)+1)
	line = append(line, doc...)
	line = append(line, '\n')

	g.log.Debug("sent", "doc", string(doc))
	if _, err := w.Write(line); err != nil {
		return fmt.Errorf("write to transport: %w", err)
	}
	return nil
}

// Opened reports whether the gate has observed the ready signal.
func (g *Gate) Opened() bool {
	return g.opened.Load()
}
