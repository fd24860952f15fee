package page

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pagewatch/internal/messaging"
	"pagewatch/pkg/browser"
)

var (
	// ErrNoContext is returned when delivering to an unknown context.
	ErrNoContext = errors.New("page: no such context")
	// ErrContextClosed is returned when delivering to a context that has
	// torn down.
	ErrContextClosed = errors.New("page: context closed")
	// ErrInboxFull is returned when a context's inbox cannot accept more
	// messages without blocking the sender.
	ErrInboxFull = errors.New("page: context inbox full")
)

const inboxSize = 64

// Context is one page execution context: a mirror plus the single-threaded
// event loop that drives it. All mirror access happens on the loop, so the
// mirror itself needs no locking, matching the cooperative single-threaded
// model of a real page environment.
type Context struct {
	id     messaging.PageContextID
	tabID  browser.TabID
	mirror *Mirror

	mu     sync.Mutex
	closed bool
	inbox  chan func()
	done   chan struct{}
}

// ID returns the context identifier.
func (c *Context) ID() messaging.PageContextID { return c.id }

// TabID returns the tab hosting this context.
func (c *Context) TabID() browser.TabID { return c.tabID }

// Mirror returns the context's page mirror. Outside tests it must only be
// touched through Post.
func (c *Context) Mirror() *Mirror { return c.mirror }

// Post enqueues fn onto the context's event loop. Delivery is FIFO within
// this context and never blocks the caller.
func (c *Context) Post(fn func()) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrContextClosed
	}
	select {
	case c.inbox <- fn:
		return nil
	default:
		return ErrInboxFull
	}
}

func (c *Context) run() {
	for fn := range c.inbox {
		fn()
	}
	close(c.done)
}

// close tears the context down: the unload runs on the loop, queued work
// drains, then the loop exits.
func (c *Context) close(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	mirror := c.mirror
	c.inbox <- func() { mirror.Unload(t) }
	c.closed = true
	close(c.inbox)
}

// Done is closed once the context's loop has drained and exited.
func (c *Context) Done() <-chan struct{} { return c.done }

// Registry tracks the live page contexts and delivers background-to-page
// messages to them. A closed or missing context is a delivery failure, which
// the bridge resolves to false rather than an error.
type Registry struct {
	mu    sync.Mutex
	byID  map[messaging.PageContextID]*Context
	byTab map[browser.TabID]*Context
	log   *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		byID:  make(map[messaging.PageContextID]*Context),
		byTab: make(map[browser.TabID]*Context),
		log:   log,
	}
}

// SendBinder builds a context's outbound send function once its identifier
// is assigned, so outbound messages carry the right sender.
type SendBinder func(id messaging.PageContextID) SendFunc

// Create starts a new page context for a tab and begins its first logical
// page at t. An existing context on the same tab is superseded and unloads
// first.
func (r *Registry) Create(tabID browser.TabID, private bool, locate browser.LocationFunc, bind SendBinder, t time.Time) *Context {
	r.Destroy(tabID, t)

	id := messaging.PageContextID(uuid.NewString())
	ctx := &Context{
		id:    id,
		tabID: tabID,
		inbox: make(chan func(), inboxSize),
		done:  make(chan struct{}),
	}
	ctx.mirror = NewMirror(id, private, locate, bind(id), r.log)

	r.mu.Lock()
	r.byID[id] = ctx
	r.byTab[tabID] = ctx
	r.mu.Unlock()

	go ctx.run()
	mirror := ctx.mirror
	if err := ctx.Post(func() { mirror.Begin(t) }); err != nil {
		r.log.Debug("failed to begin page context", zap.Error(err))
	}
	return ctx
}

// Destroy unloads and removes the context bound to a tab, if any.
func (r *Registry) Destroy(tabID browser.TabID, t time.Time) {
	r.mu.Lock()
	ctx, ok := r.byTab[tabID]
	if ok {
		delete(r.byTab, tabID)
		delete(r.byID, ctx.id)
	}
	r.mu.Unlock()
	if ok {
		ctx.close(t)
	}
}

// ByTab returns the live context bound to a tab.
func (r *Registry) ByTab(tabID browser.TabID) (*Context, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ctx, ok := r.byTab[tabID]
	return ctx, ok
}

// ByID returns the live context with the given identifier.
func (r *Registry) ByID(id messaging.PageContextID) (*Context, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ctx, ok := r.byID[id]
	return ctx, ok
}

// Count returns the number of live contexts.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// CloseAll tears down every live context and waits for their loops to
// drain.
func (r *Registry) CloseAll(t time.Time) {
	r.mu.Lock()
	ctxs := make([]*Context, 0, len(r.byID))
	for _, ctx := range r.byID {
		ctxs = append(ctxs, ctx)
	}
	r.byID = make(map[messaging.PageContextID]*Context)
	r.byTab = make(map[browser.TabID]*Context)
	r.mu.Unlock()

	for _, ctx := range ctxs {
		ctx.close(t)
	}
	for _, ctx := range ctxs {
		<-ctx.Done()
	}
}

// Deliver implements messaging.Transport.
func (r *Registry) Deliver(id messaging.PageContextID, msg messaging.Message) error {
	ctx, ok := r.ByID(id)
	if !ok {
		return ErrNoContext
	}
	mirror := ctx.mirror
	return ctx.Post(func() { mirror.HandleMessage(msg) })
}
