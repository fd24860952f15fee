// Package sim provides an in-memory browser host. It backs the test suites,
// the demo command, and the HTTP ingestion endpoint, which replays events
// forwarded from a real browser into it. Callers supply tab and window IDs so
// externally assigned identifiers survive the round trip.
package sim

import (
	"fmt"
	"sync"
	"time"

	"pagewatch/pkg/browser"
)

const eventBuffer = 1024

// Browser is an in-memory implementation of browser.Host.
type Browser struct {
	mu      sync.Mutex
	windows map[browser.WindowID]*browser.Window
	tabs    map[browser.TabID]*browser.Tab
	focused browser.WindowID
	events  chan browser.Event
	closed  bool
	now     func() time.Time
}

// New creates an empty simulated browser.
func New() *Browser {
	return &Browser{
		windows: make(map[browser.WindowID]*browser.Window),
		tabs:    make(map[browser.TabID]*browser.Tab),
		focused: browser.NoWindow,
		events:  make(chan browser.Event, eventBuffer),
		now:     time.Now,
	}
}

// SetClock replaces the time source. Intended for tests.
func (b *Browser) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

func (b *Browser) emit(ev browser.Event) {
	if b.closed {
		return
	}
	b.events <- ev
}

// AddWindow opens a window with the given id.
func (b *Browser) AddWindow(id browser.WindowID, typ browser.WindowType, private bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.windows[id]; ok {
		return fmt.Errorf("sim: window %d already exists", id)
	}
	w := &browser.Window{ID: id, Type: typ, ActiveTab: browser.NoTab, Private: private}
	b.windows[id] = w
	b.emit(browser.WindowCreated{Window: *w, TimeStamp: b.now()})
	return nil
}

// AddTab opens a tab with the given id inside a window and makes it the
// window's active tab, as browsers do for newly opened foreground tabs.
func (b *Browser) AddTab(id browser.TabID, windowID browser.WindowID, url string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	w, ok := b.windows[windowID]
	if !ok {
		return fmt.Errorf("sim: window %d does not exist", windowID)
	}
	if _, ok := b.tabs[id]; ok {
		return fmt.Errorf("sim: tab %d already exists", id)
	}
	t := &browser.Tab{ID: id, WindowID: windowID, URL: url, Private: w.Private}
	b.tabs[id] = t
	now := b.now()
	b.emit(browser.TabCreated{Tab: *t, TimeStamp: now})

	b.activateLocked(t, now)
	if url != "" {
		b.emit(browser.NavigationCommitted{TabID: id, URL: url, TimeStamp: now})
	}
	return nil
}

func (b *Browser) activateLocked(t *browser.Tab, now time.Time) {
	w := b.windows[t.WindowID]
	if prev, ok := b.tabs[w.ActiveTab]; ok {
		prev.Active = false
	}
	w.ActiveTab = t.ID
	t.Active = true
	b.emit(browser.TabActivated{TabID: t.ID, WindowID: t.WindowID, TimeStamp: now})
}

// ActivateTab makes a tab the active tab of its window.
func (b *Browser) ActivateTab(id browser.TabID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.tabs[id]
	if !ok {
		return fmt.Errorf("sim: tab %d does not exist", id)
	}
	b.activateLocked(t, b.now())
	return nil
}

// FocusWindow moves browser focus to a window, or to none when id is
// browser.NoWindow.
func (b *Browser) FocusWindow(id browser.WindowID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if id != browser.NoWindow {
		if _, ok := b.windows[id]; !ok {
			return fmt.Errorf("sim: window %d does not exist", id)
		}
	}
	if prev, ok := b.windows[b.focused]; ok {
		prev.Focused = false
	}
	b.focused = id
	if w, ok := b.windows[id]; ok {
		w.Focused = true
	}
	b.emit(browser.WindowFocusChanged{WindowID: id, TimeStamp: b.now()})
	return nil
}

// Navigate performs a conventional navigation in a tab.
func (b *Browser) Navigate(id browser.TabID, url, referrer string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.tabs[id]
	if !ok {
		return fmt.Errorf("sim: tab %d does not exist", id)
	}
	t.URL = url
	t.Referrer = referrer
	b.emit(browser.NavigationCommitted{TabID: id, URL: url, Referrer: referrer, TimeStamp: b.now()})
	return nil
}

// UpdateHistoryState performs a same-document navigation in a tab: the URL
// changes but the page survives.
func (b *Browser) UpdateHistoryState(id browser.TabID, url string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.tabs[id]
	if !ok {
		return fmt.Errorf("sim: tab %d does not exist", id)
	}
	t.URL = url
	b.emit(browser.HistoryStateUpdated{TabID: id, URL: url, TimeStamp: b.now()})
	return nil
}

// SetAudible changes a tab's audio playback state.
func (b *Browser) SetAudible(id browser.TabID, audible bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.tabs[id]
	if !ok {
		return fmt.Errorf("sim: tab %d does not exist", id)
	}
	if t.Audible == audible {
		return nil
	}
	t.Audible = audible
	b.emit(browser.TabAudibleChanged{TabID: id, Audible: audible, TimeStamp: b.now()})
	return nil
}

// AttachTab moves a tab into another window.
func (b *Browser) AttachTab(id browser.TabID, windowID browser.WindowID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.tabs[id]
	if !ok {
		return fmt.Errorf("sim: tab %d does not exist", id)
	}
	w, ok := b.windows[windowID]
	if !ok {
		return fmt.Errorf("sim: window %d does not exist", windowID)
	}
	if old, ok := b.windows[t.WindowID]; ok && old.ActiveTab == id {
		old.ActiveTab = browser.NoTab
	}
	t.WindowID = windowID
	t.Private = w.Private
	b.emit(browser.TabAttached{TabID: id, WindowID: windowID, TimeStamp: b.now()})
	return nil
}

// RemoveTab closes a tab. When the closed tab was the active one and the
// window still has tabs, the most recently added remaining tab is activated,
// after the removal notification.
func (b *Browser) RemoveTab(id browser.TabID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.tabs[id]
	if !ok {
		return fmt.Errorf("sim: tab %d does not exist", id)
	}
	delete(b.tabs, id)
	now := b.now()
	b.emit(browser.TabRemoved{TabID: id, WindowID: t.WindowID, TimeStamp: now})

	w, ok := b.windows[t.WindowID]
	if !ok || w.ActiveTab != id {
		return nil
	}
	w.ActiveTab = browser.NoTab
	var next *browser.Tab
	for _, cand := range b.tabs {
		if cand.WindowID != t.WindowID {
			continue
		}
		if next == nil || cand.ID > next.ID {
			next = cand
		}
	}
	if next != nil {
		b.activateLocked(next, now)
	}
	return nil
}

// RemoveWindow closes a window and every tab it still holds.
func (b *Browser) RemoveWindow(id browser.WindowID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.windows[id]; !ok {
		return fmt.Errorf("sim: window %d does not exist", id)
	}
	now := b.now()
	for tabID, t := range b.tabs {
		if t.WindowID == id {
			delete(b.tabs, tabID)
			b.emit(browser.TabRemoved{TabID: tabID, WindowID: id, TimeStamp: now})
		}
	}
	delete(b.windows, id)
	if b.focused == id {
		b.focused = browser.NoWindow
		b.emit(browser.WindowFocusChanged{WindowID: browser.NoWindow, TimeStamp: now})
	}
	b.emit(browser.WindowRemoved{WindowID: id, TimeStamp: now})
	return nil
}

// Windows implements browser.Host.
func (b *Browser) Windows() []browser.Window {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]browser.Window, 0, len(b.windows))
	for _, w := range b.windows {
		out = append(out, *w)
	}
	return out
}

// Tabs implements browser.Host.
func (b *Browser) Tabs() []browser.Tab {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]browser.Tab, 0, len(b.tabs))
	for _, t := range b.tabs {
		out = append(out, *t)
	}
	return out
}

// PageLocation implements browser.Host.
func (b *Browser) PageLocation(id browser.TabID) (browser.Location, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.tabs[id]
	if !ok {
		return browser.Location{}, false
	}
	return browser.Location{URL: t.URL, Referrer: t.Referrer}, true
}

// FocusedWindow returns the currently focused window, or browser.NoWindow.
func (b *Browser) FocusedWindow() browser.WindowID {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.focused
}

// Events implements browser.Host.
func (b *Browser) Events() <-chan browser.Event {
	return b.events
}

// Close implements browser.Host.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	close(b.events)
	return nil
}
