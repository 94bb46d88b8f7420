package supervisor

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

var (
	// ErrConnectivity marks a lost or reset transport.
	ErrConnectivity = errors.New("connectivity failure")
	// ErrInvalidState marks an internal protocol or state violation.
	ErrInvalidState = errors.New("invalid session state")
	// ErrDrainTimeout is returned by Run when activities outlive the drain deadline.
	ErrDrainTimeout = errors.New("drain deadline exceeded")
)

// Category is the outcome of classifying an unhandled failure.
type Category int

const (
	CategoryUnclassified Category = iota
	CategoryConnectivity
	CategoryInvalidState
)

func (c Category) String() string {
	switch c {
	case CategoryConnectivity:
		return "connectivity"
	case CategoryInvalidState:
		return "invalid-state"
	default:
		return "unclassified"
	}
}

// Fatal reports whether failures of this category stop the process.
func (c Category) Fatal() bool {
	return c == CategoryConnectivity || c == CategoryInvalidState
}

// Classify sorts err into a Category. Network operation errors and the
// usual reset/broken-pipe errnos count as connectivity failures.
func Classify(err error) Category {
	if err == nil {
		return CategoryUnclassified
	}
	if errors.Is(err, ErrInvalidState) {
		return CategoryInvalidState
	}
	if errors.Is(err, ErrConnectivity) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) {
		return CategoryConnectivity
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return CategoryConnectivity
	}
	return CategoryUnclassified
}

// PanicError wraps a value recovered from a panicking activity.
type PanicError struct {
	Task  string
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in %s: %v", e.Task, e.Value)
}
