// Package page implements the per-page-context side of the core: page
// identity assignment, conventional versus same-document navigation
// handling, and the local lifecycle, attention, and audio events that
// measurement consumers attach to.
//
// A page context may host a sequence of logical pages over its lifetime when
// same-document navigation occurs repeatedly; every logical page gets
// exactly one visit-start and one visit-stop, in that order, with no
// overlap.
package page

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pagewatch/internal/messaging"
	"pagewatch/pkg/browser"
	"pagewatch/pkg/events"
)

// Record is the state of the logical page a context currently hosts.
type Record struct {
	PageID       string
	URL          string
	Referrer     string
	VisitStart   time.Time
	HasAttention bool
	HasAudio     bool
}

// VisitInfo is published to local visit-start listeners.
type VisitInfo struct {
	PageID          string
	URL             string
	Referrer        string
	TimeStamp       time.Time
	IsHistoryChange bool
}

// VisitEnd is published to local visit-stop listeners.
type VisitEnd struct {
	PageID     string
	URL        string
	TimeStamp  time.Time
	VisitStart time.Time
}

// AttentionChange is published to local attention listeners.
type AttentionChange struct {
	PageID       string
	HasAttention bool
	TimeStamp    time.Time
}

// AudioChange is published to local audio listeners.
type AudioChange struct {
	PageID    string
	HasAudio  bool
	TimeStamp time.Time
}

// SendFunc carries a message from this page context to the background
// coordinator. It reports delivery success; failures during teardown are
// routine.
type SendFunc func(msg messaging.Message) bool

// Mirror tracks the logical page hosted by one page context.
type Mirror struct {
	id      messaging.PageContextID
	private bool
	locate  browser.LocationFunc
	send    SendFunc
	log     *zap.Logger

	rec          Record
	visiting     bool
	visitStarted bool

	visitStart *events.Event[VisitInfo]
	visitStop  *events.Event[VisitEnd]
	attention  *events.Event[AttentionChange]
	audio      *events.Event[AudioChange]
}

// NewMirror creates a mirror for one page context. locate reads the live
// document location; send carries messages to the background coordinator.
func NewMirror(id messaging.PageContextID, private bool, locate browser.LocationFunc, send SendFunc, log *zap.Logger) *Mirror {
	if log == nil {
		log = zap.NewNop()
	}
	return &Mirror{
		id:         id,
		private:    private,
		locate:     locate,
		send:       send,
		log:        log,
		visitStart: events.New[VisitInfo](log),
		visitStop:  events.New[VisitEnd](log),
		attention:  events.New[AttentionChange](log),
		audio:      events.New[AudioChange](log),
	}
}

// VisitStartEvent fires when a logical page begins. Late attachers should
// consult VisitStarted instead of waiting for it.
func (m *Mirror) VisitStartEvent() *events.Event[VisitInfo] { return m.visitStart }

// VisitStopEvent fires when the logical page ends.
func (m *Mirror) VisitStopEvent() *events.Event[VisitEnd] { return m.visitStop }

// AttentionEvent fires when the page gains or loses user attention.
func (m *Mirror) AttentionEvent() *events.Event[AttentionChange] { return m.attention }

// AudioEvent fires when the page starts or stops playing audio.
func (m *Mirror) AudioEvent() *events.Event[AudioChange] { return m.audio }

// ID returns the page context identifier.
func (m *Mirror) ID() messaging.PageContextID { return m.id }

// Record returns a copy of the current page state.
func (m *Mirror) Record() Record { return m.rec }

// Visiting reports whether a logical page is currently open.
func (m *Mirror) Visiting() bool { return m.visiting }

// VisitStarted reports whether the visit-start event has finished notifying
// all listeners. Consumers that attach after injection ordering races use
// this together with VisitStartTime instead of the event.
func (m *Mirror) VisitStarted() bool { return m.visitStarted }

// VisitStartTime returns when the current logical page began.
func (m *Mirror) VisitStartTime() time.Time { return m.rec.VisitStart }

// Begin starts the first logical page of this context, at document start.
func (m *Mirror) Begin(t time.Time) {
	if m.visiting {
		// Defensive: a duplicate document-start for the same context.
		m.log.Debug("page context already visiting, ignoring duplicate begin")
		return
	}
	m.beginVisit(t, false)
}

func (m *Mirror) beginVisit(t time.Time, historyChange bool) {
	loc := m.locate()
	prev := m.rec
	m.rec = Record{
		PageID:     uuid.NewString(),
		URL:        StripHash(loc.URL),
		Referrer:   loc.Referrer,
		VisitStart: t,
	}
	if historyChange {
		// Same-document navigation: the user never left the page, so
		// attention and audio carry over.
		m.rec.HasAttention = prev.HasAttention
		m.rec.HasAudio = prev.HasAudio
	}
	m.visiting = true
	m.visitStarted = false
	m.visitStart.Publish(VisitInfo{
		PageID:          m.rec.PageID,
		URL:             m.rec.URL,
		Referrer:        m.rec.Referrer,
		TimeStamp:       t,
		IsHistoryChange: historyChange,
	})
	m.visitStarted = true

	ok := m.send(messaging.VisitStart{
		PageID:          m.rec.PageID,
		URL:             m.rec.URL,
		Referrer:        m.rec.Referrer,
		TimeStamp:       t,
		PrivateWindow:   m.private,
		IsHistoryChange: historyChange,
	}.Message())
	if !ok {
		m.log.Debug("pageVisitStart delivery failed", zap.String("pageId", m.rec.PageID))
	}
}

func (m *Mirror) endVisit(t time.Time) {
	if !m.visiting {
		return
	}
	m.visitStop.Publish(VisitEnd{
		PageID:     m.rec.PageID,
		URL:        m.rec.URL,
		TimeStamp:  t,
		VisitStart: m.rec.VisitStart,
	})

	// Delivery failure here is expected: the context may be tearing down.
	m.send(messaging.VisitStop{
		PageID:        m.rec.PageID,
		URL:           m.rec.URL,
		Referrer:      m.rec.Referrer,
		TimeStamp:     t,
		VisitStart:    m.rec.VisitStart,
		PrivateWindow: m.private,
	}.Message())
	m.visiting = false
}

// HandleURLChanged re-checks the live location against the cached one. A
// difference is a same-document navigation and becomes a stop-then-start
// pair; an unchanged URL is not a navigation at all.
func (m *Mirror) HandleURLChanged(t time.Time) {
	if !m.visiting {
		return
	}
	loc := m.locate()
	if StripHash(loc.URL) == m.rec.URL {
		return
	}
	m.endVisit(t)
	m.beginVisit(t, true)
}

// HandleAttentionUpdate folds a background attention notification into local
// state, notifying listeners only on an actual change.
func (m *Mirror) HandleAttentionUpdate(hasAttention bool, t time.Time) {
	if !m.visiting || hasAttention == m.rec.HasAttention {
		return
	}
	m.rec.HasAttention = hasAttention
	m.attention.Publish(AttentionChange{PageID: m.rec.PageID, HasAttention: hasAttention, TimeStamp: t})
}

// HandleAudioUpdate folds a background audio notification into local state,
// notifying listeners only on an actual change.
func (m *Mirror) HandleAudioUpdate(hasAudio bool, t time.Time) {
	if !m.visiting || hasAudio == m.rec.HasAudio {
		return
	}
	m.rec.HasAudio = hasAudio
	m.audio.Publish(AudioChange{PageID: m.rec.PageID, HasAudio: hasAudio, TimeStamp: t})
}

// Unload ends the current logical page: on context teardown or when a
// conventional navigation supersedes it.
func (m *Mirror) Unload(t time.Time) {
	m.endVisit(t)
}

// HandleMessage routes an inbound background-to-page message to the matching
// handler. Unknown or malformed messages are dropped.
func (m *Mirror) HandleMessage(msg messaging.Message) {
	switch msg.Type() {
	case messaging.TypePageAttentionUpdate:
		upd, err := messaging.ParseAttentionUpdate(msg)
		if err != nil {
			m.log.Debug("dropping malformed attention update", zap.Error(err))
			return
		}
		m.HandleAttentionUpdate(upd.PageHasAttention, upd.TimeStamp)
	case messaging.TypePageAudioUpdate:
		upd, err := messaging.ParseAudioUpdate(msg)
		if err != nil {
			m.log.Debug("dropping malformed audio update", zap.Error(err))
			return
		}
		m.HandleAudioUpdate(upd.PageHasAudio, upd.TimeStamp)
	case messaging.TypeURLChanged:
		upd, err := messaging.ParseURLChanged(msg)
		if err != nil {
			m.log.Debug("dropping malformed url change", zap.Error(err))
			return
		}
		m.HandleURLChanged(upd.TimeStamp)
	default:
		m.log.Debug("dropping message of unknown type", zap.String("type", msg.Type()))
	}
}

// StripHash removes the fragment from a URL. Fragment-only changes are not
// navigations.
func StripHash(url string) string {
	if i := strings.IndexByte(url, '#'); i >= 0 {
		return url[:i]
	}
	return url
}
