// Package coordinator runs the background event loop that ties the core
// together: it folds host notifications into the window and tab cache,
// drives the attention state machine, manages page contexts, and exchanges
// messages with them over the bridge.
//
// Everything the coordinator owns is mutated from a single goroutine. Page
// contexts and the idle monitor reach it by posting thunks onto its inbox,
// mirroring the cooperative scheduling of the environment this models.
package coordinator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"pagewatch/internal/attention"
	"pagewatch/internal/messaging"
	"pagewatch/internal/page"
	"pagewatch/internal/state"
	"pagewatch/pkg/browser"
	"pagewatch/pkg/events"
	"pagewatch/pkg/idle"
)

const inboxSize = 256

// Config carries the coordinator's tunables.
type Config struct {
	// TrackingInput gates attention on recent user input. When false the
	// browser is assumed active whenever a window has focus.
	TrackingInput bool

	// IdleThreshold is how long without input counts as idle. Only used
	// when TrackingInput is set.
	IdleThreshold time.Duration
}

// Status is a point-in-time snapshot for reporting surfaces.
type Status struct {
	FocusedWindow browser.WindowID `json:"focusedWindow"`
	ActiveTab     browser.TabID    `json:"activeTab"`
	Attending     bool             `json:"attending"`
	PageContexts  int              `json:"pageContexts"`
	TrackingInput bool             `json:"trackingInput"`
}

// Coordinator is the background side of the core.
type Coordinator struct {
	host     browser.Host
	cfg      Config
	cache    *state.Cache
	oracle   *attention.Oracle
	registry *page.Registry
	bridge   *messaging.Bridge
	log      *zap.Logger

	// Window types live outside the cache: the cache only ever learns
	// ordinary windows, and the type is needed to decide that.
	windowTypes map[browser.WindowID]browser.WindowType
	audible     map[browser.TabID]bool

	inbox   chan func()
	stop    chan struct{}
	done    chan struct{}
	idleSub *events.Subscription
}

// New wires a coordinator around a browser host. Run must be called before
// any events flow.
func New(host browser.Host, cfg Config, log *zap.Logger) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Coordinator{
		host:        host,
		cfg:         cfg,
		cache:       state.NewCache(log),
		registry:    page.NewRegistry(log),
		log:         log,
		windowTypes: make(map[browser.WindowID]browser.WindowType),
		audible:     make(map[browser.TabID]bool),
		inbox:       make(chan func(), inboxSize),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	c.oracle = attention.NewOracle(c.cache, cfg.TrackingInput, log)
	c.bridge = messaging.NewBridge(c.registry, log)
	messaging.RegisterCoreSchemas(c.bridge)

	c.oracle.Started().Subscribe(func(ch attention.Change) {
		c.notifyAttention(ch, true)
	}, nil)
	c.oracle.Stopped().Subscribe(func(ch attention.Change) {
		c.notifyAttention(ch, false)
	}, nil)

	// A page context may begin its visit after the attention update that
	// should have reached it was sent. Re-sending the current state on
	// every visit start closes that race.
	c.bridge.RegisterListener(messaging.TypePageVisitStart, c.onVisitStart, nil)

	return c
}

// Bridge exposes the message bridge so consumers can register listeners for
// page lifecycle messages.
func (c *Coordinator) Bridge() *messaging.Bridge { return c.bridge }

// Registry exposes the live page contexts.
func (c *Coordinator) Registry() *page.Registry { return c.registry }

// AttachIdle subscribes the coordinator to an idle monitor at the configured
// threshold. No-op when input tracking is disabled.
func (c *Coordinator) AttachIdle(m *idle.Monitor) error {
	if !c.cfg.TrackingInput {
		return nil
	}
	sub, err := m.Subscribe(c.cfg.IdleThreshold, func(n idle.Notification) {
		c.Post(func() {
			c.oracle.ActivityChanged(n.State == idle.StateActive, n.TimeStamp)
		})
	})
	if err != nil {
		return err
	}
	c.idleSub = sub
	return nil
}

// Post enqueues fn onto the coordinator loop. It reports false once the loop
// has exited.
func (c *Coordinator) Post(fn func()) bool {
	select {
	case c.inbox <- fn:
		return true
	case <-c.done:
		return false
	}
}

// Run primes state from host snapshots and then processes events until the
// host stream closes, Stop is called, or ctx is cancelled. Page contexts are
// torn down before it returns.
func (c *Coordinator) Run(ctx context.Context) error {
	c.prime(time.Now())

	defer c.teardown()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.stop:
			return nil
		case ev, ok := <-c.host.Events():
			if !ok {
				return nil
			}
			c.handleHostEvent(ev)
		case fn := <-c.inbox:
			fn()
		}
	}
}

// teardown closes every page context while still consuming the inbox, so
// the visit-stop messages their unloads produce reach bridge listeners
// before Post starts failing.
func (c *Coordinator) teardown() {
	if c.idleSub != nil {
		c.idleSub.Unsubscribe()
	}

	now := time.Now()
	stopDrain := make(chan struct{})
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for {
			select {
			case fn := <-c.inbox:
				fn()
			case <-stopDrain:
				for {
					select {
					case fn := <-c.inbox:
						fn()
					default:
						return
					}
				}
			}
		}
	}()

	c.registry.CloseAll(now)
	close(stopDrain)
	<-drained
	close(c.done)
}

// Stop asks the loop to exit. Safe to call more than once.
func (c *Coordinator) Stop() {
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
}

// Status snapshots the attention state from the loop. The zero Status is
// returned after shutdown.
func (c *Coordinator) Status() Status {
	out := make(chan Status, 1)
	ok := c.Post(func() {
		h := c.oracle.Current()
		out <- Status{
			FocusedWindow: h.WindowID,
			ActiveTab:     h.TabID,
			Attending:     h.Attending,
			PageContexts:  c.registry.Count(),
			TrackingInput: c.cfg.TrackingInput,
		}
	})
	if !ok {
		return Status{}
	}
	select {
	case s := <-out:
		return s
	case <-c.done:
		return Status{}
	}
}

// prime folds the host's current windows and tabs into the cache and starts
// page contexts for pages that are already open.
func (c *Coordinator) prime(now time.Time) {
	windows := c.host.Windows()
	for _, w := range windows {
		c.windowTypes[w.ID] = w.Type
		if !w.Type.Ordinary() {
			continue
		}
		active := w.ActiveTab
		c.cache.UpdateWindow(w.ID, state.WindowPatch{ActiveTab: &active, Privacy: privacyOf(w.Private)})
	}
	for _, t := range c.host.Tabs() {
		if !c.windowTypes[t.WindowID].Ordinary() {
			continue
		}
		c.cache.UpdateTab(t.ID, t.WindowID, t.Private)
		if t.Audible {
			c.audible[t.ID] = true
		}
		if browser.OrdinaryURL(t.URL) {
			c.createContext(t.ID, now)
		}
	}
	for _, w := range windows {
		if w.Focused {
			c.oracle.WindowFocusChanged(w.ID, now)
			break
		}
	}
}

func privacyOf(private bool) state.Privacy {
	if private {
		return state.PrivacyPrivate
	}
	return state.PrivacyNormal
}

func (c *Coordinator) handleHostEvent(ev browser.Event) {
	switch e := ev.(type) {
	case browser.WindowCreated:
		c.windowTypes[e.Window.ID] = e.Window.Type
		if e.Window.Type.Ordinary() {
			c.cache.UpdateWindow(e.Window.ID, state.WindowPatch{Privacy: privacyOf(e.Window.Private)})
		}

	case browser.WindowRemoved:
		// The host reports focus loss and per-tab removals first, so
		// only bookkeeping is left.
		c.cache.RemoveWindow(e.WindowID)
		delete(c.windowTypes, e.WindowID)

	case browser.WindowFocusChanged:
		c.oracle.WindowFocusChanged(e.WindowID, e.TimeStamp)

	case browser.TabCreated:
		if c.windowTypes[e.Tab.WindowID].Ordinary() {
			c.cache.UpdateTab(e.Tab.ID, e.Tab.WindowID, e.Tab.Private)
			if e.Tab.Audible {
				c.audible[e.Tab.ID] = true
			}
		}

	case browser.TabActivated:
		if c.windowTypes[e.WindowID].Ordinary() {
			active := e.TabID
			c.cache.UpdateWindow(e.WindowID, state.WindowPatch{ActiveTab: &active})
			c.oracle.TabActivated(e.TabID, e.WindowID, e.TimeStamp)
		}

	case browser.TabRemoved:
		c.oracle.TabRemoved(e.TabID, e.TimeStamp)
		c.registry.Destroy(e.TabID, e.TimeStamp)
		c.cache.RemoveTab(e.TabID)
		delete(c.audible, e.TabID)

	case browser.TabAttached:
		if rec, ok := c.cache.Tab(e.TabID); ok && c.windowTypes[e.WindowID].Ordinary() {
			c.cache.UpdateTab(e.TabID, e.WindowID, rec.PrivateWindow)
		}

	case browser.TabAudibleChanged:
		if c.audible[e.TabID] == e.Audible {
			return
		}
		if e.Audible {
			c.audible[e.TabID] = true
		} else {
			delete(c.audible, e.TabID)
		}
		if ctx, ok := c.registry.ByTab(e.TabID); ok {
			c.bridge.SendToPage(ctx.ID(), messaging.AudioUpdate{
				TimeStamp:    e.TimeStamp,
				PageHasAudio: e.Audible,
			}.Message())
		}

	case browser.NavigationCommitted:
		c.handleNavigation(e)

	case browser.HistoryStateUpdated:
		if ctx, ok := c.registry.ByTab(e.TabID); ok {
			c.bridge.SendToPage(ctx.ID(), messaging.URLChanged{TimeStamp: e.TimeStamp}.Message())
		}

	default:
		c.log.Debug("unhandled host event")
	}
}

// handleNavigation supersedes the tab's page context on a conventional
// navigation. Navigating to a page outside measurement tears the context
// down without a replacement.
func (c *Coordinator) handleNavigation(e browser.NavigationCommitted) {
	rec, ok := c.cache.Tab(e.TabID)
	if !ok || !c.windowTypes[rec.WindowID].Ordinary() {
		return
	}
	if !browser.OrdinaryURL(e.URL) {
		c.registry.Destroy(e.TabID, e.TimeStamp)
		return
	}
	c.createContext(e.TabID, e.TimeStamp)
}

func (c *Coordinator) createContext(tabID browser.TabID, t time.Time) {
	private := c.cache.TabIsPrivate(tabID)
	locate := func() browser.Location {
		loc, _ := c.host.PageLocation(tabID)
		return loc
	}
	c.registry.Create(tabID, private, locate, c.bindSend, t)
}

// bindSend routes a page context's outbound messages onto the coordinator
// loop, where the bridge dispatches them. Enqueueing counts as delivery;
// only a stopped coordinator fails.
func (c *Coordinator) bindSend(id messaging.PageContextID) page.SendFunc {
	return func(msg messaging.Message) bool {
		return c.Post(func() {
			c.bridge.Dispatch(msg, id)
		})
	}
}

func (c *Coordinator) notifyAttention(ch attention.Change, gained bool) {
	ctx, ok := c.registry.ByTab(ch.TabID)
	if !ok {
		return
	}
	c.bridge.SendToPage(ctx.ID(), messaging.AttentionUpdate{
		TimeStamp:        ch.TimeStamp,
		PageHasAttention: gained,
		Reason:           string(ch.Reason),
	}.Message())
}

// onVisitStart re-sends the tab's current attention and audio state to a
// freshly started page so it never misses an update sent before it began.
func (c *Coordinator) onVisitStart(msg messaging.Message, sender messaging.PageContextID) any {
	ctx, ok := c.registry.ByID(sender)
	if !ok {
		return nil
	}
	start, err := messaging.ParseVisitStart(msg)
	if err != nil {
		c.log.Debug("malformed pageVisitStart", zap.Error(err))
		return nil
	}
	holder := c.oracle.Current()
	if holder.Attending && holder.TabID == ctx.TabID() {
		c.bridge.SendToPage(sender, messaging.AttentionUpdate{
			TimeStamp:        start.TimeStamp,
			PageHasAttention: true,
			Reason:           string(attention.ReasonWindowFocus),
		}.Message())
	}
	if c.audible[ctx.TabID()] {
		c.bridge.SendToPage(sender, messaging.AudioUpdate{
			TimeStamp:    start.TimeStamp,
			PageHasAudio: true,
		}.Message())
	}
	return nil
}
