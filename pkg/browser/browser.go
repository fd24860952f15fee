// Package browser defines the boundary to the host browser: tab and window
// identifiers, snapshot records, and the event stream the background
// coordinator consumes. Concrete hosts (the in-memory simulator, or an
// external browser forwarding events over the ingestion API) implement Host.
package browser

import "time"

// TabID identifies a tab. Real tabs have non-negative IDs.
type TabID int

// WindowID identifies a window. Real windows have non-negative IDs.
type WindowID int

const (
	// NoTab means no tab holds the role in question.
	NoTab TabID = -1
	// NoWindow means no window holds the role in question.
	NoWindow WindowID = -1
)

// WindowType classifies a window as reported by the host.
type WindowType string

const (
	WindowTypeNormal   WindowType = "normal"
	WindowTypePopup    WindowType = "popup"
	WindowTypePanel    WindowType = "panel"
	WindowTypeDevTools WindowType = "devtools"
)

// Ordinary reports whether pages in this window participate in attention
// tracking. Only normal and popup windows do.
func (t WindowType) Ordinary() bool {
	return t == WindowTypeNormal || t == WindowTypePopup
}

// Tab is a host snapshot of one tab.
type Tab struct {
	ID       TabID
	WindowID WindowID
	URL      string
	Referrer string
	Active   bool
	Audible  bool
	Private  bool
}

// Window is a host snapshot of one window.
type Window struct {
	ID        WindowID
	Type      WindowType
	Focused   bool
	ActiveTab TabID
	Private   bool
}

// Location is what a page context sees as its live document location.
type Location struct {
	URL      string
	Referrer string
}

// LocationFunc reads the live location of one page context.
type LocationFunc func() Location

// Event is a host notification. The concrete types below form a closed set.
type Event interface {
	When() time.Time
}

// WindowCreated reports a newly opened window.
type WindowCreated struct {
	Window    Window
	TimeStamp time.Time
}

// WindowRemoved reports a closed window.
type WindowRemoved struct {
	WindowID  WindowID
	TimeStamp time.Time
}

// WindowFocusChanged reports the newly focused window, or NoWindow when
// focus left the browser entirely.
type WindowFocusChanged struct {
	WindowID  WindowID
	TimeStamp time.Time
}

// TabCreated reports a newly opened tab.
type TabCreated struct {
	Tab       Tab
	TimeStamp time.Time
}

// TabActivated reports that a tab became the active tab of its window.
type TabActivated struct {
	TabID     TabID
	WindowID  WindowID
	TimeStamp time.Time
}

// TabRemoved reports a closed tab.
type TabRemoved struct {
	TabID     TabID
	WindowID  WindowID
	TimeStamp time.Time
}

// TabAttached reports a tab moved into a different window.
type TabAttached struct {
	TabID     TabID
	WindowID  WindowID
	TimeStamp time.Time
}

// TabAudibleChanged reports a change in a tab's audio playback state.
type TabAudibleChanged struct {
	TabID     TabID
	Audible   bool
	TimeStamp time.Time
}

// NavigationCommitted reports a conventional navigation: the tab's previous
// document is gone and a new one started loading.
type NavigationCommitted struct {
	TabID     TabID
	URL       string
	Referrer  string
	TimeStamp time.Time
}

// HistoryStateUpdated reports a same-document URL change (history-state
// update). The page context is asked to re-check its own location; the URL
// here is informational only.
type HistoryStateUpdated struct {
	TabID     TabID
	URL       string
	TimeStamp time.Time
}

func (e WindowCreated) When() time.Time       { return e.TimeStamp }
func (e WindowRemoved) When() time.Time       { return e.TimeStamp }
func (e WindowFocusChanged) When() time.Time  { return e.TimeStamp }
func (e TabCreated) When() time.Time          { return e.TimeStamp }
func (e TabActivated) When() time.Time        { return e.TimeStamp }
func (e TabRemoved) When() time.Time          { return e.TimeStamp }
func (e TabAttached) When() time.Time         { return e.TimeStamp }
func (e TabAudibleChanged) When() time.Time   { return e.TimeStamp }
func (e NavigationCommitted) When() time.Time { return e.TimeStamp }
func (e HistoryStateUpdated) When() time.Time { return e.TimeStamp }

// Host is the query-and-notify surface of the browser.
type Host interface {
	// Windows returns a snapshot of all open windows.
	Windows() []Window

	// Tabs returns a snapshot of all open tabs.
	Tabs() []Tab

	// PageLocation returns the live location of the page hosted by a tab.
	PageLocation(id TabID) (Location, bool)

	// Events returns the host notification stream. The channel is closed
	// when the host shuts down.
	Events() <-chan Event

	// Close releases host resources and closes the event stream.
	Close() error
}

// OrdinaryURL reports whether a page at url participates in measurement.
// Only http and https pages do.
func OrdinaryURL(url string) bool {
	return hasScheme(url, "https") || hasScheme(url, "http")
}

func hasScheme(url, scheme string) bool {
	n := len(scheme)
	return len(url) > n+3 && url[:n] == scheme && url[n:n+3] == "://"
}
