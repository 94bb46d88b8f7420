package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/digitalbodhi/sigmsg/internal/event"
)

// Handler processes one classified event.
type Handler func(ctx context.Context, ev *event.Event) error

// Observer sees every event before it is routed. Observers cannot fail.
type Observer func(ctx context.Context, ev *event.Event)

type route struct {
	kind    event.Kind
	subkind event.Subkind
}

// Registry routes events to handlers by (kind, subkind). Lookup tries the
// exact pair, then the kind alone, then the default handler.
type Registry struct {
	mu        sync.RWMutex
	exact     map[route]Handler
	byKind    map[event.Kind]Handler
	fallback  Handler
	observers []Observer
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		exact:  make(map[route]Handler),
		byKind: make(map[event.Kind]Handler),
	}
}

// Handle registers h for events of exactly this kind and subkind.
func (r *Registry) Handle(kind event.Kind, subkind event.Subkind, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exact[route{kind, subkind}] = h
}

// HandleKind registers h for every event of kind without a more specific handler.
func (r *Registry) HandleKind(kind event.Kind, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byKind[kind] = h
}

// HandleDefault registers the handler used when nothing else matches.
func (r *Registry) HandleDefault(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = h
}

// Observe adds an observer.
func (r *Registry) Observe(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, o)
}

func (r *Registry) lookup(kind event.Kind, subkind event.Subkind) Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h, ok := r.exact[route{kind, subkind}]; ok {
		return h
	}
	if h, ok := r.byKind[kind]; ok {
		return h
	}
	return r.fallback
}

// Dispatch runs the observers, then the matching handler. An event with no
// handler is an error.
func (r *Registry) Dispatch(ctx context.Context, ev *event.Event) error {
	r.mu.RLock()
	observers := r.observers
	r.mu.RUnlock()
	for _, o := range observers {
		o(ctx, ev)
	}

	h := r.lookup(ev.Kind(), ev.Subkind())
	if h == nil {
		return fmt.Errorf("no handler for %s/%s event", ev.Kind(), ev.Subkind())
	}
	return h(ctx, ev)
}
