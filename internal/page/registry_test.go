package page

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pagewatch/internal/messaging"
	"pagewatch/pkg/browser"
)

// flush waits until everything posted before it has run on the loop.
func flush(t *testing.T, ctx *Context) {
	t.Helper()
	done := make(chan struct{})
	require.NoError(t, ctx.Post(func() { close(done) }))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("context loop did not drain")
	}
}

// snapshot reads the mirror state on its own loop.
func snapshot(t *testing.T, ctx *Context) Record {
	t.Helper()
	out := make(chan Record, 1)
	mirror := ctx.Mirror()
	require.NoError(t, ctx.Post(func() { out <- mirror.Record() }))
	select {
	case rec := <-out:
		return rec
	case <-time.After(2 * time.Second):
		t.Fatal("context loop did not respond")
		return Record{}
	}
}

func staticLocation(url string) browser.LocationFunc {
	return func() browser.Location { return browser.Location{URL: url} }
}

type sink struct {
	ch chan messaging.Message
}

func newSink() *sink { return &sink{ch: make(chan messaging.Message, 64)} }

func (s *sink) send(msg messaging.Message) bool {
	s.ch <- msg
	return true
}

func (s *sink) bind(messaging.PageContextID) SendFunc { return s.send }

func (s *sink) next(t *testing.T) messaging.Message {
	t.Helper()
	select {
	case msg := <-s.ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message arrived")
		return nil
	}
}

func TestCreateBeginsVisitOnLoop(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	defer r.CloseAll(time.Now())
	s := newSink()

	ctx := r.Create(7, false, staticLocation("https://example.com/a"), s.bind, time.Now())
	flush(t, ctx)

	assert.Equal(t, messaging.TypePageVisitStart, s.next(t).Type())
	rec := snapshot(t, ctx)
	assert.Equal(t, "https://example.com/a", rec.URL)
	assert.Equal(t, 1, r.Count())

	got, ok := r.ByTab(7)
	require.True(t, ok)
	assert.Same(t, ctx, got)
}

func TestCreateSupersedesExistingContext(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	defer r.CloseAll(time.Now())
	s := newSink()

	first := r.Create(3, false, staticLocation("https://example.com/a"), s.bind, time.Now())
	flush(t, first)
	second := r.Create(3, false, staticLocation("https://example.com/b"), s.bind, time.Now())
	flush(t, second)

	// Old context unloaded before the new one began.
	assert.Equal(t, messaging.TypePageVisitStart, s.next(t).Type())
	assert.Equal(t, messaging.TypePageVisitStop, s.next(t).Type())
	assert.Equal(t, messaging.TypePageVisitStart, s.next(t).Type())

	assert.Equal(t, 1, r.Count())
	_, ok := r.ByID(first.ID())
	assert.False(t, ok)

	select {
	case <-first.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("superseded context did not drain")
	}
}

func TestDestroyUnloadsAndRemoves(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	s := newSink()

	ctx := r.Create(5, false, staticLocation("https://example.com/"), s.bind, time.Now())
	flush(t, ctx)
	s.next(t) // visit start

	r.Destroy(5, time.Now())
	assert.Equal(t, messaging.TypePageVisitStop, s.next(t).Type())
	assert.Equal(t, 0, r.Count())

	// Destroying again is a no-op.
	r.Destroy(5, time.Now())
}

func TestDeliverToMissingContextFails(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	err := r.Deliver("nope", messaging.URLChanged{TimeStamp: time.Now()}.Message())
	assert.ErrorIs(t, err, ErrNoContext)
}

func TestDeliverToClosedContextFails(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	s := newSink()
	ctx := r.Create(9, false, staticLocation("https://example.com/"), s.bind, time.Now())
	id := ctx.ID()
	flush(t, ctx)

	// Keep the context in the maps but closed, as a racing teardown would.
	ctx.close(time.Now())
	<-ctx.Done()

	err := r.Deliver(id, messaging.URLChanged{TimeStamp: time.Now()}.Message())
	assert.ErrorIs(t, err, ErrContextClosed)
}

func TestDeliverRoutesToMirror(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	defer r.CloseAll(time.Now())
	s := newSink()

	ctx := r.Create(2, false, staticLocation("https://example.com/"), s.bind, time.Now())
	flush(t, ctx)

	err := r.Deliver(ctx.ID(), messaging.AttentionUpdate{
		TimeStamp:        time.Now(),
		PageHasAttention: true,
		Reason:           "window_focus",
	}.Message())
	require.NoError(t, err)
	flush(t, ctx)

	assert.True(t, snapshot(t, ctx).HasAttention)
}

func TestCloseAllDrainsEveryLoop(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	s := newSink()

	var ctxs []*Context
	for i := 0; i < 8; i++ {
		ctxs = append(ctxs, r.Create(browser.TabID(i), false, staticLocation("https://example.com/"), s.bind, time.Now()))
	}
	r.CloseAll(time.Now())

	assert.Equal(t, 0, r.Count())
	for _, ctx := range ctxs {
		select {
		case <-ctx.Done():
		case <-time.After(2 * time.Second):
			t.Fatal("loop still running after CloseAll")
		}
	}
}

func TestPostAfterCloseFails(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	s := newSink()
	ctx := r.Create(1, false, staticLocation("https://example.com/"), s.bind, time.Now())
	r.Destroy(1, time.Now())
	<-ctx.Done()

	assert.ErrorIs(t, ctx.Post(func() {}), ErrContextClosed)
}
