package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pagewatch/internal/messaging"
	"pagewatch/internal/page"
	"pagewatch/pkg/browser"
	"pagewatch/pkg/browser/sim"
	"pagewatch/pkg/idle"
)

const (
	waitFor = 3 * time.Second
	tick    = 5 * time.Millisecond
)

type env struct {
	sim    *sim.Browser
	coord  *Coordinator
	starts chan messaging.VisitStart
	stops  chan messaging.VisitStop
	cancel context.CancelFunc
	runned chan struct{}
}

func newEnv(t *testing.T, cfg Config) *env {
	t.Helper()
	e := &env{
		sim:    sim.New(),
		starts: make(chan messaging.VisitStart, 64),
		stops:  make(chan messaging.VisitStop, 64),
		runned: make(chan struct{}),
	}
	e.coord = New(e.sim, cfg, zap.NewNop())
	e.coord.Bridge().RegisterListener(messaging.TypePageVisitStart, func(msg messaging.Message, _ messaging.PageContextID) any {
		if v, err := messaging.ParseVisitStart(msg); err == nil {
			e.starts <- v
		}
		return nil
	}, nil)
	e.coord.Bridge().RegisterListener(messaging.TypePageVisitStop, func(msg messaging.Message, _ messaging.PageContextID) any {
		if v, err := messaging.ParseVisitStop(msg); err == nil {
			e.stops <- v
		}
		return nil
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	go func() {
		_ = e.coord.Run(ctx)
		close(e.runned)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-e.runned:
		case <-time.After(waitFor):
			t.Error("coordinator loop did not exit")
		}
	})
	return e
}

func (e *env) nextStart(t *testing.T) messaging.VisitStart {
	t.Helper()
	select {
	case v := <-e.starts:
		return v
	case <-time.After(waitFor):
		t.Fatal("no pageVisitStart arrived")
		return messaging.VisitStart{}
	}
}

func (e *env) nextStop(t *testing.T) messaging.VisitStop {
	t.Helper()
	select {
	case v := <-e.stops:
		return v
	case <-time.After(waitFor):
		t.Fatal("no pageVisitStop arrived")
		return messaging.VisitStop{}
	}
}

// recordIs polls the tab's mirror, snapshotted on the context's own loop,
// until pred holds.
func (e *env) recordIs(tabID browser.TabID, pred func(page.Record) bool) func() bool {
	return func() bool {
		ctx, ok := e.coord.Registry().ByTab(tabID)
		if !ok {
			return false
		}
		out := make(chan page.Record, 1)
		mirror := ctx.Mirror()
		if ctx.Post(func() { out <- mirror.Record() }) != nil {
			return false
		}
		select {
		case rec := <-out:
			return pred(rec)
		case <-time.After(waitFor):
			return false
		}
	}
}

func (e *env) waitAttention(t *testing.T, tabID browser.TabID, want bool) {
	t.Helper()
	require.Eventually(t, e.recordIs(tabID, func(r page.Record) bool { return r.HasAttention == want }),
		waitFor, tick, "tab %d attention never became %v", tabID, want)
}

func TestNavigationStartsPageVisit(t *testing.T) {
	e := newEnv(t, Config{})
	require.NoError(t, e.sim.AddWindow(1, browser.WindowTypeNormal, false))
	require.NoError(t, e.sim.AddTab(10, 1, "https://example.com/article#frag"))

	v := e.nextStart(t)
	assert.Equal(t, "https://example.com/article", v.URL)
	assert.False(t, v.IsHistoryChange)
	assert.False(t, v.PrivateWindow)
	assert.NotEmpty(t, v.PageID)
}

func TestNonOrdinaryPagesGetNoContext(t *testing.T) {
	e := newEnv(t, Config{})
	require.NoError(t, e.sim.AddWindow(1, browser.WindowTypeNormal, false))
	require.NoError(t, e.sim.AddTab(10, 1, "about:blank"))
	require.NoError(t, e.sim.AddTab(11, 1, "https://example.com/"))

	e.nextStart(t)
	assert.Eventually(t, func() bool {
		return e.coord.Registry().Count() == 1
	}, waitFor, tick)
	_, ok := e.coord.Registry().ByTab(10)
	assert.False(t, ok)
}

func TestDevToolsWindowsAreIgnored(t *testing.T) {
	e := newEnv(t, Config{})
	require.NoError(t, e.sim.AddWindow(2, browser.WindowTypeDevTools, false))
	require.NoError(t, e.sim.AddTab(20, 2, "https://example.com/inspected"))
	require.NoError(t, e.sim.AddWindow(1, browser.WindowTypeNormal, false))
	require.NoError(t, e.sim.AddTab(10, 1, "https://example.com/"))

	v := e.nextStart(t)
	assert.Equal(t, "https://example.com/", v.URL)
	assert.Eventually(t, func() bool {
		return e.coord.Registry().Count() == 1
	}, waitFor, tick)
}

func TestPopupWindowsAreTracked(t *testing.T) {
	e := newEnv(t, Config{})
	require.NoError(t, e.sim.AddWindow(1, browser.WindowTypePopup, false))
	require.NoError(t, e.sim.AddTab(10, 1, "https://example.com/popup"))

	v := e.nextStart(t)
	assert.Equal(t, "https://example.com/popup", v.URL)
}

func TestFocusGrantsAttentionToActivePage(t *testing.T) {
	e := newEnv(t, Config{})
	require.NoError(t, e.sim.AddWindow(1, browser.WindowTypeNormal, false))
	require.NoError(t, e.sim.AddTab(10, 1, "https://example.com/a"))
	e.nextStart(t)

	require.NoError(t, e.sim.FocusWindow(1))
	e.waitAttention(t, 10, true)

	st := e.coord.Status()
	assert.True(t, st.Attending)
	assert.Equal(t, browser.TabID(10), st.ActiveTab)
	assert.Equal(t, browser.WindowID(1), st.FocusedWindow)
}

func TestTabSwitchMovesAttention(t *testing.T) {
	e := newEnv(t, Config{})
	require.NoError(t, e.sim.AddWindow(1, browser.WindowTypeNormal, false))
	require.NoError(t, e.sim.AddTab(10, 1, "https://example.com/a"))
	require.NoError(t, e.sim.AddTab(11, 1, "https://example.com/b"))
	e.nextStart(t)
	e.nextStart(t)

	require.NoError(t, e.sim.FocusWindow(1))
	e.waitAttention(t, 11, true) // last-added tab is active

	require.NoError(t, e.sim.ActivateTab(10))
	e.waitAttention(t, 10, true)
	e.waitAttention(t, 11, false)
}

func TestFocusLossEndsAttention(t *testing.T) {
	e := newEnv(t, Config{})
	require.NoError(t, e.sim.AddWindow(1, browser.WindowTypeNormal, false))
	require.NoError(t, e.sim.AddTab(10, 1, "https://example.com/"))
	e.nextStart(t)
	require.NoError(t, e.sim.FocusWindow(1))
	e.waitAttention(t, 10, true)

	require.NoError(t, e.sim.FocusWindow(browser.NoWindow))
	e.waitAttention(t, 10, false)
	assert.False(t, e.coord.Status().Attending)
}

func TestNavigationSupersedesVisit(t *testing.T) {
	e := newEnv(t, Config{})
	require.NoError(t, e.sim.AddWindow(1, browser.WindowTypeNormal, false))
	require.NoError(t, e.sim.AddTab(10, 1, "https://example.com/a"))
	first := e.nextStart(t)

	require.NoError(t, e.sim.Navigate(10, "https://example.com/b", "https://example.com/a"))
	stop := e.nextStop(t)
	assert.Equal(t, first.PageID, stop.PageID)

	second := e.nextStart(t)
	assert.Equal(t, "https://example.com/b", second.URL)
	assert.Equal(t, "https://example.com/a", second.Referrer)
	assert.NotEqual(t, first.PageID, second.PageID)
	assert.False(t, second.IsHistoryChange)
}

func TestNavigationToNonOrdinaryTearsContextDown(t *testing.T) {
	e := newEnv(t, Config{})
	require.NoError(t, e.sim.AddWindow(1, browser.WindowTypeNormal, false))
	require.NoError(t, e.sim.AddTab(10, 1, "https://example.com/"))
	e.nextStart(t)

	require.NoError(t, e.sim.Navigate(10, "about:preferences", ""))
	e.nextStop(t)
	assert.Eventually(t, func() bool {
		return e.coord.Registry().Count() == 0
	}, waitFor, tick)
}

func TestHistoryStateUpdateIsSameDocumentNavigation(t *testing.T) {
	e := newEnv(t, Config{})
	require.NoError(t, e.sim.AddWindow(1, browser.WindowTypeNormal, false))
	require.NoError(t, e.sim.AddTab(10, 1, "https://example.com/feed"))
	first := e.nextStart(t)
	require.NoError(t, e.sim.FocusWindow(1))
	e.waitAttention(t, 10, true)

	require.NoError(t, e.sim.UpdateHistoryState(10, "https://example.com/feed/item/1"))
	stop := e.nextStop(t)
	assert.Equal(t, first.PageID, stop.PageID)

	second := e.nextStart(t)
	assert.True(t, second.IsHistoryChange)
	assert.Equal(t, "https://example.com/feed/item/1", second.URL)

	// Attention carries across a same-document navigation.
	require.Eventually(t, e.recordIs(10, func(r page.Record) bool {
		return r.PageID == second.PageID && r.HasAttention
	}), waitFor, tick)
}

func TestAudioStateReachesPage(t *testing.T) {
	e := newEnv(t, Config{})
	require.NoError(t, e.sim.AddWindow(1, browser.WindowTypeNormal, false))
	require.NoError(t, e.sim.AddTab(10, 1, "https://example.com/video"))
	e.nextStart(t)

	require.NoError(t, e.sim.SetAudible(10, true))
	require.Eventually(t, e.recordIs(10, func(r page.Record) bool { return r.HasAudio }), waitFor, tick)

	require.NoError(t, e.sim.SetAudible(10, false))
	require.Eventually(t, e.recordIs(10, func(r page.Record) bool { return !r.HasAudio }), waitFor, tick)
}

func TestTabRemovalStopsVisitAndAttention(t *testing.T) {
	e := newEnv(t, Config{})
	require.NoError(t, e.sim.AddWindow(1, browser.WindowTypeNormal, false))
	require.NoError(t, e.sim.AddTab(10, 1, "https://example.com/a"))
	require.NoError(t, e.sim.AddTab(11, 1, "https://example.com/b"))
	e.nextStart(t)
	e.nextStart(t)
	require.NoError(t, e.sim.FocusWindow(1))
	e.waitAttention(t, 11, true)

	require.NoError(t, e.sim.RemoveTab(11))
	stop := e.nextStop(t)
	assert.Equal(t, "https://example.com/b", stop.URL)

	// The host then activates the remaining tab, which takes attention.
	e.waitAttention(t, 10, true)
}

func TestWindowRemovalStopsEverything(t *testing.T) {
	e := newEnv(t, Config{})
	require.NoError(t, e.sim.AddWindow(1, browser.WindowTypeNormal, false))
	require.NoError(t, e.sim.AddTab(10, 1, "https://example.com/"))
	e.nextStart(t)
	require.NoError(t, e.sim.FocusWindow(1))
	e.waitAttention(t, 10, true)

	require.NoError(t, e.sim.RemoveWindow(1))
	e.nextStop(t)
	require.Eventually(t, func() bool {
		st := e.coord.Status()
		return !st.Attending && st.PageContexts == 0
	}, waitFor, tick)
}

func TestPrivateWindowMarksVisits(t *testing.T) {
	e := newEnv(t, Config{})
	require.NoError(t, e.sim.AddWindow(1, browser.WindowTypeNormal, true))
	require.NoError(t, e.sim.AddTab(10, 1, "https://secret.example/"))

	v := e.nextStart(t)
	assert.True(t, v.PrivateWindow)
}

func TestPrimingPicksUpExistingPages(t *testing.T) {
	b := sim.New()
	require.NoError(t, b.AddWindow(1, browser.WindowTypeNormal, false))
	require.NoError(t, b.AddTab(10, 1, "https://example.com/open"))
	require.NoError(t, b.FocusWindow(1))
	for len(b.Events()) > 0 { // drop pre-start events; priming reads snapshots
		<-b.Events()
	}

	e := &env{
		sim:    b,
		starts: make(chan messaging.VisitStart, 64),
		stops:  make(chan messaging.VisitStop, 64),
		runned: make(chan struct{}),
	}
	e.coord = New(b, Config{}, zap.NewNop())
	e.coord.Bridge().RegisterListener(messaging.TypePageVisitStart, func(msg messaging.Message, _ messaging.PageContextID) any {
		if v, err := messaging.ParseVisitStart(msg); err == nil {
			e.starts <- v
		}
		return nil
	}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_ = e.coord.Run(ctx)
		close(e.runned)
	}()
	defer func() {
		cancel()
		<-e.runned
	}()

	v := e.nextStart(t)
	assert.Equal(t, "https://example.com/open", v.URL)
	e.waitAttention(t, 10, true)
}

func TestShutdownDeliversFinalVisitStops(t *testing.T) {
	e := newEnv(t, Config{})
	require.NoError(t, e.sim.AddWindow(1, browser.WindowTypeNormal, false))
	require.NoError(t, e.sim.AddTab(10, 1, "https://example.com/open"))
	first := e.nextStart(t)

	e.cancel()
	select {
	case <-e.runned:
	case <-time.After(waitFor):
		t.Fatal("coordinator loop did not exit")
	}

	stop := e.nextStop(t)
	assert.Equal(t, first.PageID, stop.PageID)
}

func TestIdleGateStopsAndRestoresAttention(t *testing.T) {
	sampler := &fakeSampler{}
	monitor := idle.NewMonitor(sampler, time.Second, zap.NewNop())

	e := newEnv(t, Config{TrackingInput: true, IdleThreshold: 60 * time.Second})
	require.NoError(t, e.coord.AttachIdle(monitor))

	require.NoError(t, e.sim.AddWindow(1, browser.WindowTypeNormal, false))
	require.NoError(t, e.sim.AddTab(10, 1, "https://example.com/"))
	e.nextStart(t)
	require.NoError(t, e.sim.FocusWindow(1))
	e.waitAttention(t, 10, true)

	sampler.set(5 * time.Minute)
	monitor.Poll()
	e.waitAttention(t, 10, false)

	// The nominal holder survives idling; input restores it as-is.
	sampler.set(0)
	monitor.Poll()
	e.waitAttention(t, 10, true)
}

type fakeSampler struct {
	mu    sync.Mutex
	since time.Duration
}

func (f *fakeSampler) set(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.since = d
}

func (f *fakeSampler) SinceLastInput() (time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.since, nil
}
