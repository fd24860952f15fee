// Package state maintains the background coordinator's view of open windows
// and tabs: per window the active tab and privacy flag, per tab its owning
// window and privacy flag. The cache is pure in-memory bookkeeping, mutated
// only from the coordinator's own event handlers.
package state

import (
	"go.uber.org/zap"

	"pagewatch/pkg/browser"
)

// Privacy is a window's private-browsing classification.
type Privacy int

const (
	PrivacyUnknown Privacy = iota
	PrivacyNormal
	PrivacyPrivate
)

func (p Privacy) String() string {
	switch p {
	case PrivacyNormal:
		return "normal"
	case PrivacyPrivate:
		return "private"
	default:
		return "unknown"
	}
}

// WindowRecord is the cached state of one window.
type WindowRecord struct {
	ID        browser.WindowID
	ActiveTab browser.TabID
	Privacy   Privacy
}

// TabRecord is the cached state of one tab. WindowID always references a
// live WindowRecord while the tab exists.
type TabRecord struct {
	ID            browser.TabID
	WindowID      browser.WindowID
	PrivateWindow bool
}

// WindowPatch carries partial window information. Nil ActiveTab and
// PrivacyUnknown mean "no information", not "reset".
type WindowPatch struct {
	ActiveTab *browser.TabID
	Privacy   Privacy
}

// Cache holds all window and tab records.
type Cache struct {
	windows map[browser.WindowID]*WindowRecord
	tabs    map[browser.TabID]*TabRecord
	log     *zap.Logger
}

// NewCache creates an empty cache.
func NewCache(log *zap.Logger) *Cache {
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{
		windows: make(map[browser.WindowID]*WindowRecord),
		tabs:    make(map[browser.TabID]*TabRecord),
		log:     log,
	}
}

func (c *Cache) window(id browser.WindowID) *WindowRecord {
	w, ok := c.windows[id]
	if !ok {
		w = &WindowRecord{ID: id, ActiveTab: browser.NoTab}
		c.windows[id] = w
	}
	return w
}

// UpdateWindow merges partial information into a window record, creating it
// lazily on first reference. A known privacy value never regresses to
// unknown.
func (c *Cache) UpdateWindow(id browser.WindowID, patch WindowPatch) {
	if id == browser.NoWindow {
		return
	}
	w := c.window(id)
	if patch.ActiveTab != nil {
		w.ActiveTab = *patch.ActiveTab
	}
	if patch.Privacy != PrivacyUnknown {
		w.Privacy = patch.Privacy
	}
}

// UpdateTab replaces a tab's record, lazily creating the owning window so a
// tab never references a missing window.
func (c *Cache) UpdateTab(id browser.TabID, windowID browser.WindowID, private bool) {
	if id == browser.NoTab {
		return
	}
	c.tabs[id] = &TabRecord{ID: id, WindowID: windowID, PrivateWindow: private}
	w := c.window(windowID)
	if private && w.Privacy == PrivacyUnknown {
		w.Privacy = PrivacyPrivate
	}
}

// RemoveTab deletes a tab record. Removing an unknown tab is a no-op.
func (c *Cache) RemoveTab(id browser.TabID) {
	t, ok := c.tabs[id]
	if !ok {
		return
	}
	if w, ok := c.windows[t.WindowID]; ok && w.ActiveTab == id {
		w.ActiveTab = browser.NoTab
	}
	delete(c.tabs, id)
}

// RemoveWindow deletes a window record along with any tab records still
// referencing it, preserving the tab-references-live-window invariant.
func (c *Cache) RemoveWindow(id browser.WindowID) {
	for tabID, t := range c.tabs {
		if t.WindowID == id {
			delete(c.tabs, tabID)
		}
	}
	delete(c.windows, id)
}

// Window returns a copy of the record for id.
func (c *Cache) Window(id browser.WindowID) (WindowRecord, bool) {
	w, ok := c.windows[id]
	if !ok {
		return WindowRecord{}, false
	}
	return *w, true
}

// Tab returns a copy of the record for id.
func (c *Cache) Tab(id browser.TabID) (TabRecord, bool) {
	t, ok := c.tabs[id]
	if !ok {
		return TabRecord{}, false
	}
	return *t, true
}

// ActiveTab returns the active tab of a window, or browser.NoTab when the
// window is unknown or has none.
func (c *Cache) ActiveTab(id browser.WindowID) browser.TabID {
	w, ok := c.windows[id]
	if !ok {
		return browser.NoTab
	}
	return w.ActiveTab
}

// IsPrivate reports whether a window is known to be private. Unknown windows
// count as normal: absent information, data is not withheld from
// normal-window consumers, and private-window consumers get no spurious
// access either.
func (c *Cache) IsPrivate(id browser.WindowID) bool {
	w, ok := c.windows[id]
	return ok && w.Privacy == PrivacyPrivate
}

// TabIsPrivate reports whether a tab belongs to a private window.
func (c *Cache) TabIsPrivate(id browser.TabID) bool {
	t, ok := c.tabs[id]
	return ok && t.PrivateWindow
}

// Known reports whether the cache has a record for the window.
func (c *Cache) Known(id browser.WindowID) bool {
	_, ok := c.windows[id]
	return ok
}
