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

type pageHarness struct {
	mirror *Mirror
	loc    browser.Location
	sent   []messaging.Message
	sendOK bool

	starts []VisitInfo
	stops  []VisitEnd
	att    []AttentionChange
	aud    []AudioChange
}

func newPageHarness(url, referrer string) *pageHarness {
	h := &pageHarness{sendOK: true}
	h.loc = browser.Location{URL: url, Referrer: referrer}
	h.mirror = NewMirror("ctx-1", false,
		func() browser.Location { return h.loc },
		func(msg messaging.Message) bool {
			h.sent = append(h.sent, msg)
			return h.sendOK
		},
		zap.NewNop())
	h.mirror.VisitStartEvent().Subscribe(func(v VisitInfo) { h.starts = append(h.starts, v) }, nil)
	h.mirror.VisitStopEvent().Subscribe(func(v VisitEnd) { h.stops = append(h.stops, v) }, nil)
	h.mirror.AttentionEvent().Subscribe(func(a AttentionChange) { h.att = append(h.att, a) }, nil)
	h.mirror.AudioEvent().Subscribe(func(a AudioChange) { h.aud = append(h.aud, a) }, nil)
	return h
}

var t0 = time.UnixMilli(1700000000000)

func TestBeginStartsVisit(t *testing.T) {
	h := newPageHarness("https://example.com/article#section2", "https://referrer.test/")
	h.mirror.Begin(t0)

	require.Len(t, h.starts, 1)
	assert.Equal(t, "https://example.com/article", h.starts[0].URL, "hash must be stripped")
	assert.Equal(t, "https://referrer.test/", h.starts[0].Referrer)
	assert.False(t, h.starts[0].IsHistoryChange)
	assert.NotEmpty(t, h.starts[0].PageID)
	assert.True(t, h.mirror.VisitStarted())
	assert.Equal(t, t0, h.mirror.VisitStartTime())

	require.Len(t, h.sent, 1)
	assert.Equal(t, messaging.TypePageVisitStart, h.sent[0].Type())
}

func TestVisitStartedFlagFalseDuringNotification(t *testing.T) {
	h := newPageHarness("https://example.com/", "")
	var during bool
	h.mirror.VisitStartEvent().Subscribe(func(VisitInfo) { during = h.mirror.VisitStarted() }, nil)

	h.mirror.Begin(t0)
	assert.False(t, during, "visitStarted must only flip after all listeners ran")
	assert.True(t, h.mirror.VisitStarted())
}

func TestDuplicateBeginIsIgnored(t *testing.T) {
	h := newPageHarness("https://example.com/", "")
	h.mirror.Begin(t0)
	h.mirror.Begin(t0.Add(time.Second))
	assert.Len(t, h.starts, 1)
}

func TestURLChangedWithSameURLIsNotANavigation(t *testing.T) {
	h := newPageHarness("https://example.com/article", "")
	h.mirror.Begin(t0)

	// A hash-only change does not count either.
	h.loc.URL = "https://example.com/article#comments"
	h.mirror.HandleURLChanged(t0.Add(time.Second))

	assert.Len(t, h.starts, 1)
	assert.Empty(t, h.stops)
}

func TestURLChangedWithNewURLIsStopThenStart(t *testing.T) {
	h := newPageHarness("https://example.com/a", "")
	h.mirror.Begin(t0)
	h.mirror.HandleAttentionUpdate(true, t0.Add(time.Second))
	h.mirror.HandleAudioUpdate(true, t0.Add(time.Second))
	firstID := h.mirror.Record().PageID

	h.loc.URL = "https://example.com/b"
	h.mirror.HandleURLChanged(t0.Add(2 * time.Second))

	require.Len(t, h.stops, 1)
	assert.Equal(t, firstID, h.stops[0].PageID)
	require.Len(t, h.starts, 2)
	assert.True(t, h.starts[1].IsHistoryChange)
	assert.NotEqual(t, firstID, h.starts[1].PageID)

	// Same-document navigation preserves attention and audio.
	rec := h.mirror.Record()
	assert.True(t, rec.HasAttention)
	assert.True(t, rec.HasAudio)
}

func TestConventionalNavigationResetsAttentionAndAudio(t *testing.T) {
	h := newPageHarness("https://example.com/a", "")
	h.mirror.Begin(t0)
	h.mirror.HandleAttentionUpdate(true, t0.Add(time.Second))
	h.mirror.HandleAudioUpdate(true, t0.Add(time.Second))

	h.mirror.Unload(t0.Add(2 * time.Second))
	require.Len(t, h.stops, 1)

	// The superseding document gets a fresh mirror in production; here the
	// same context beginning again models it.
	h2 := newPageHarness("https://example.com/b", "https://example.com/a")
	h2.mirror.Begin(t0.Add(3 * time.Second))
	rec := h2.mirror.Record()
	assert.False(t, rec.HasAttention)
	assert.False(t, rec.HasAudio)
}

func TestAttentionAndAudioUpdatesAreIdempotent(t *testing.T) {
	h := newPageHarness("https://example.com/", "")
	h.mirror.Begin(t0)

	h.mirror.HandleAttentionUpdate(true, t0.Add(time.Second))
	h.mirror.HandleAttentionUpdate(true, t0.Add(2*time.Second))
	h.mirror.HandleAttentionUpdate(false, t0.Add(3*time.Second))
	assert.Len(t, h.att, 2)

	h.mirror.HandleAudioUpdate(false, t0.Add(4*time.Second))
	assert.Empty(t, h.aud, "no change from the initial false")
}

func TestUnloadSendFailureIsSwallowed(t *testing.T) {
	h := newPageHarness("https://example.com/", "")
	h.mirror.Begin(t0)
	h.sendOK = false

	assert.NotPanics(t, func() { h.mirror.Unload(t0.Add(time.Second)) })
	assert.Len(t, h.stops, 1, "local listeners still notified")
	assert.False(t, h.mirror.Visiting())
}

func TestUnloadTwiceStopsOnce(t *testing.T) {
	h := newPageHarness("https://example.com/", "")
	h.mirror.Begin(t0)
	h.mirror.Unload(t0.Add(time.Second))
	h.mirror.Unload(t0.Add(2 * time.Second))
	assert.Len(t, h.stops, 1)
}

func TestHandleMessageRoutesInbound(t *testing.T) {
	h := newPageHarness("https://example.com/", "")
	h.mirror.Begin(t0)

	h.mirror.HandleMessage(messaging.AttentionUpdate{TimeStamp: t0.Add(time.Second), PageHasAttention: true, Reason: "window_focus"}.Message())
	require.Len(t, h.att, 1)
	assert.True(t, h.att[0].HasAttention)

	h.mirror.HandleMessage(messaging.AudioUpdate{TimeStamp: t0.Add(2 * time.Second), PageHasAudio: true}.Message())
	require.Len(t, h.aud, 1)

	h.loc.URL = "https://example.com/next"
	h.mirror.HandleMessage(messaging.URLChanged{TimeStamp: t0.Add(3 * time.Second)}.Message())
	assert.Len(t, h.starts, 2)

	// Unknown and malformed messages are dropped quietly.
	assert.NotPanics(t, func() {
		h.mirror.HandleMessage(messaging.Message{"type": "mystery"})
		h.mirror.HandleMessage(messaging.Message{"type": messaging.TypePageAudioUpdate})
	})
}

func TestPageIDsAreDistinctAcrossManyNavigations(t *testing.T) {
	h := newPageHarness("https://example.com/0", "")
	h.mirror.Begin(t0)

	seen := make(map[string]struct{}, 10000)
	seen[h.mirror.Record().PageID] = struct{}{}
	for i := 1; i < 10000; i++ {
		h.loc.URL = "https://example.com/" + string(rune('a'+i%26)) + "/" + itoa(i)
		h.mirror.HandleURLChanged(t0.Add(time.Duration(i) * time.Second))
		id := h.mirror.Record().PageID
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate pageId after %d navigations: %s", i, id)
		}
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, 10000)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var buf [12]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	return string(buf[pos:])
}
