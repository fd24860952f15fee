// Package attention combines "active tab in focused window" with
// browser-level activity into a single current-attention holder. At most one
// (tab, window) pair holds attention at any instant; every transition
// produces at most one stop for the previous holder followed by at most one
// start for the new one, strictly in that order. Handlers are idempotent
// against re-delivered host events.
package attention

import (
	"time"

	"go.uber.org/zap"

	"pagewatch/internal/state"
	"pagewatch/pkg/browser"
	"pagewatch/pkg/events"
)

// Reason labels why attention started or stopped.
type Reason string

const (
	ReasonTabSwitch       Reason = "tab_switch"
	ReasonWindowFocus     Reason = "window_focus"
	ReasonFocusLost       Reason = "focus_lost"
	ReasonTabClosed       Reason = "tab_closed"
	ReasonBrowserActive   Reason = "browser_active"
	ReasonBrowserInactive Reason = "browser_inactive"
)

// Change describes one attention transition.
type Change struct {
	TabID     browser.TabID
	WindowID  browser.WindowID
	TimeStamp time.Time
	Reason    Reason
}

// Holder is a snapshot of the current attention state.
type Holder struct {
	TabID     browser.TabID
	WindowID  browser.WindowID
	Attending bool
}

// Oracle is the attention state machine. It is owned by the background
// coordinator and mutated only from its event loop.
type Oracle struct {
	cache         *state.Cache
	trackingInput bool
	browserActive bool

	// Nominal holder: retained across idle periods so an idle-to-active
	// flip restores attention without re-deriving it from the cache.
	activeTab     browser.TabID
	focusedWindow browser.WindowID

	started *events.Event[Change]
	stopped *events.Event[Change]
	log     *zap.Logger
}

// NewOracle creates an oracle reading active-tab information from cache.
// When trackingInput is false the browser-activity gate is ignored.
func NewOracle(cache *state.Cache, trackingInput bool, log *zap.Logger) *Oracle {
	if log == nil {
		log = zap.NewNop()
	}
	return &Oracle{
		cache:         cache,
		trackingInput: trackingInput,
		browserActive: true,
		activeTab:     browser.NoTab,
		focusedWindow: browser.NoWindow,
		started:       events.New[Change](log),
		stopped:       events.New[Change](log),
		log:           log,
	}
}

// Started is published after a new holder gains attention.
func (o *Oracle) Started() *events.Event[Change] { return o.started }

// Stopped is published after the previous holder loses attention.
func (o *Oracle) Stopped() *events.Event[Change] { return o.stopped }

// Current returns the nominal holder and whether it presently has attention.
func (o *Oracle) Current() Holder {
	return Holder{TabID: o.activeTab, WindowID: o.focusedWindow, Attending: o.hasAttention()}
}

func (o *Oracle) gate() bool {
	return !o.trackingInput || o.browserActive
}

func (o *Oracle) hasAttention() bool {
	return o.activeTab != browser.NoTab && o.focusedWindow != browser.NoWindow && o.gate()
}

func (o *Oracle) stopIfAttending(t time.Time, reason Reason) {
	if !o.hasAttention() {
		return
	}
	o.stopped.Publish(Change{TabID: o.activeTab, WindowID: o.focusedWindow, TimeStamp: t, Reason: reason})
}

func (o *Oracle) startIfAttending(t time.Time, reason Reason) {
	if !o.hasAttention() {
		return
	}
	o.started.Publish(Change{TabID: o.activeTab, WindowID: o.focusedWindow, TimeStamp: t, Reason: reason})
}

// TabActivated handles a tab becoming the active tab of a window. Only
// activations in the focused window move attention; the cache carries the
// rest until a focus change.
func (o *Oracle) TabActivated(tabID browser.TabID, windowID browser.WindowID, t time.Time) {
	if windowID != o.focusedWindow || windowID == browser.NoWindow {
		return
	}
	if tabID == o.activeTab {
		return
	}
	o.stopIfAttending(t, ReasonTabSwitch)
	o.activeTab = tabID
	o.startIfAttending(t, ReasonTabSwitch)
}

// WindowFocusChanged handles browser focus moving to a window, or to none.
// Windows the cache does not know (non-ordinary windows) end attention just
// like losing focus entirely.
func (o *Oracle) WindowFocusChanged(windowID browser.WindowID, t time.Time) {
	if windowID == o.focusedWindow {
		return
	}
	if windowID != browser.NoWindow && !o.cache.Known(windowID) {
		windowID = browser.NoWindow
		if o.focusedWindow == browser.NoWindow {
			return
		}
	}

	o.stopIfAttending(t, stopReasonForFocus(windowID))
	if windowID == browser.NoWindow {
		o.focusedWindow = browser.NoWindow
		o.activeTab = browser.NoTab
		return
	}
	o.focusedWindow = windowID
	o.activeTab = o.cache.ActiveTab(windowID)
	if o.activeTab != browser.NoTab {
		o.startIfAttending(t, ReasonWindowFocus)
	}
}

func stopReasonForFocus(next browser.WindowID) Reason {
	if next == browser.NoWindow {
		return ReasonFocusLost
	}
	return ReasonWindowFocus
}

// TabRemoved handles a tab closing. When the closed tab held attention the
// stop fires now; the start for whatever tab becomes active arrives with the
// host's subsequent activation event, preserving stop-before-start ordering.
func (o *Oracle) TabRemoved(tabID browser.TabID, t time.Time) {
	if tabID != o.activeTab {
		return
	}
	o.stopIfAttending(t, ReasonTabClosed)
	o.activeTab = browser.NoTab
}

// ActivityChanged handles browser-level activity flips from the idle
// monitor. Idle-to-active is the only start without a prior stop: the gate
// is orthogonal to tab switching, and the retained nominal holder is
// restored as-is.
func (o *Oracle) ActivityChanged(active bool, t time.Time) {
	if !o.trackingInput {
		return
	}
	if active == o.browserActive {
		return
	}
	if active {
		o.browserActive = true
		o.startIfAttending(t, ReasonBrowserActive)
		return
	}
	o.stopIfAttending(t, ReasonBrowserInactive)
	o.browserActive = false
}
