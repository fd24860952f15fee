// Package events provides the observer registries used by every pagewatch
// component to expose its state transitions to downstream consumers.
//
// An Event is a plain subscribe/unsubscribe/publish registry. A filter
// predicate may be supplied at construction; it is consulted per listener at
// publish time, together with the options the listener registered with. A
// panicking listener is isolated: the panic is logged and the remaining
// listeners still run.
package events

import (
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrListenerBound is returned by Exclusive.Subscribe when a listener is
// already registered.
var ErrListenerBound = errors.New("events: a listener is already bound")

// Options carries arbitrary per-listener registration options, made available
// to the event's filter predicate at publish time.
type Options map[string]any

// FilterFunc decides whether a publish reaches a particular listener. It is
// given the published arguments and the listener's registration options.
type FilterFunc[T any] func(args T, opts Options) bool

type registration[T any] struct {
	id   int
	fn   func(T)
	opts Options
}

// Event is a generic listener registry.
type Event[T any] struct {
	mu        sync.Mutex
	nextID    int
	listeners []*registration[T]
	filter    FilterFunc[T]
	log       *zap.Logger
}

// New creates an unfiltered event.
func New[T any](log *zap.Logger) *Event[T] {
	return NewFiltered[T](log, nil)
}

// NewFiltered creates an event whose publishes are gated per listener by
// filter. A nil filter admits every listener.
func NewFiltered[T any](log *zap.Logger, filter FilterFunc[T]) *Event[T] {
	if log == nil {
		log = zap.NewNop()
	}
	return &Event[T]{filter: filter, log: log}
}

// Subscription identifies one registered listener.
type Subscription struct {
	once   sync.Once
	remove func()
}

// Unsubscribe removes the listener. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(s.remove)
}

// Subscribe registers fn with the given options. The returned Subscription
// removes it again.
func (e *Event[T]) Subscribe(fn func(T), opts Options) *Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	reg := &registration[T]{id: e.nextID, fn: fn, opts: opts}
	e.listeners = append(e.listeners, reg)

	id := reg.id
	return &Subscription{remove: func() { e.removeByID(id) }}
}

func (e *Event[T]) removeByID(id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, reg := range e.listeners {
		if reg.id == id {
			e.listeners = append(e.listeners[:i], e.listeners[i+1:]...)
			return
		}
	}
}

// HasListeners reports whether at least one listener is registered.
func (e *Event[T]) HasListeners() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners) > 0
}

// Publish delivers args to every listener admitted by the filter, in
// registration order. Listener panics are logged and do not stop delivery.
func (e *Event[T]) Publish(args T) {
	e.mu.Lock()
	regs := make([]*registration[T], len(e.listeners))
	copy(regs, e.listeners)
	filter := e.filter
	e.mu.Unlock()

	for _, reg := range regs {
		if filter != nil && !filter(args, reg.opts) {
			continue
		}
		e.invoke(reg, args)
	}
}

func (e *Event[T]) invoke(reg *registration[T], args T) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("event listener panicked", zap.Any("panic", r))
		}
	}()
	reg.fn(args)
}

// Exclusive is an Event restricted to at most one listener. It is used where
// exactly one consumer may own a stream; a second registration attempt is a
// wiring bug and fails with ErrListenerBound.
type Exclusive[T any] struct {
	mu    sync.Mutex
	bound bool
	ev    *Event[T]
}

// NewExclusive creates a single-listener event.
func NewExclusive[T any](log *zap.Logger) *Exclusive[T] {
	return &Exclusive[T]{ev: New[T](log)}
}

// Subscribe registers fn if no listener is bound yet.
func (x *Exclusive[T]) Subscribe(fn func(T), opts Options) (*Subscription, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.bound {
		return nil, ErrListenerBound
	}
	x.bound = true

	inner := x.ev.Subscribe(fn, opts)
	return &Subscription{remove: func() {
		x.mu.Lock()
		x.bound = false
		x.mu.Unlock()
		inner.Unsubscribe()
	}}, nil
}

// HasListeners reports whether the single slot is occupied.
func (x *Exclusive[T]) HasListeners() bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.bound
}

// Publish delivers args to the bound listener, if any.
func (x *Exclusive[T]) Publish(args T) {
	x.ev.Publish(args)
}
