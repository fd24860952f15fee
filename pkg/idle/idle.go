// Package idle wraps host-level user-input detection behind a threshold-based
// listener API. A Sampler reports the time since the last user input; the
// Monitor polls it and notifies each registered threshold when its
// active/idle classification flips. Timing is deliberately coarse: state is
// only re-evaluated once per poll interval.
package idle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"pagewatch/pkg/events"
)

// State classifies user activity relative to a threshold.
type State string

const (
	StateActive State = "active"
	StateIdle   State = "idle"
)

// Notification is delivered to threshold listeners on every state flip.
type Notification struct {
	State     State
	TimeStamp time.Time
}

// Sampler reports how long ago the last user input occurred.
type Sampler interface {
	SinceLastInput() (time.Duration, error)
}

type threshold struct {
	event   *events.Event[Notification]
	current State
	known   bool
}

// Monitor polls a Sampler and fans state flips out per threshold.
type Monitor struct {
	sampler  Sampler
	interval time.Duration
	log      *zap.Logger

	mu         sync.Mutex
	thresholds map[time.Duration]*threshold
	running    bool
	stopChan   chan struct{}
	now        func() time.Time
}

// NewMonitor creates a monitor polling sampler every interval.
func NewMonitor(sampler Sampler, interval time.Duration, log *zap.Logger) *Monitor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Monitor{
		sampler:    sampler,
		interval:   interval,
		log:        log,
		thresholds: make(map[time.Duration]*threshold),
		stopChan:   make(chan struct{}),
		now:        time.Now,
	}
}

// SetClock replaces the time source. Intended for tests.
func (m *Monitor) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// QueryState samples once and classifies against threshold.
func (m *Monitor) QueryState(thresh time.Duration) (State, error) {
	since, err := m.sampler.SinceLastInput()
	if err != nil {
		return StateActive, fmt.Errorf("failed to sample input activity: %w", err)
	}
	return classify(since, thresh), nil
}

func classify(since, thresh time.Duration) State {
	if since >= thresh {
		return StateIdle
	}
	return StateActive
}

// Subscribe registers fn for flips of the given threshold. Listeners sharing
// a threshold share one state machine and are notified together.
func (m *Monitor) Subscribe(thresh time.Duration, fn func(Notification)) (*events.Subscription, error) {
	if thresh <= 0 {
		return nil, fmt.Errorf("idle threshold must be positive, got %v", thresh)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ts, ok := m.thresholds[thresh]
	if !ok {
		ts = &threshold{event: events.New[Notification](m.log)}
		m.thresholds[thresh] = ts
	}
	return ts.event.Subscribe(fn, nil), nil
}

// Start polls until ctx is cancelled or Stop is called.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("idle monitor is already running")
	}
	m.running = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Poll()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.stopChan:
			return nil
		case <-ticker.C:
			m.Poll()
		}
	}
}

// Stop ends a running Start loop.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		close(m.stopChan)
		m.stopChan = make(chan struct{})
		m.running = false
	}
}

// Poll samples once and notifies every threshold whose classification
// changed. It is exported so hosts with their own schedulers (and tests) can
// drive the monitor directly.
func (m *Monitor) Poll() {
	since, err := m.sampler.SinceLastInput()
	if err != nil {
		m.log.Debug("idle sample failed", zap.Error(err))
		return
	}

	m.mu.Lock()
	now := m.now()
	type flip struct {
		ev *events.Event[Notification]
		n  Notification
	}
	var flips []flip
	for thresh, ts := range m.thresholds {
		next := classify(since, thresh)
		if ts.known && next == ts.current {
			continue
		}
		ts.current = next
		ts.known = true
		flips = append(flips, flip{ev: ts.event, n: Notification{State: next, TimeStamp: now}})
	}
	m.mu.Unlock()

	for _, f := range flips {
		f.ev.Publish(f.n)
	}
}
