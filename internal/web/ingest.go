package web

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"pagewatch/pkg/browser"
	"pagewatch/pkg/browser/sim"
)

// browserEventsSchema validates event batches forwarded from a browser
// before anything is replayed into the host.
const browserEventsSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["events"],
  "properties": {
    "events": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["kind"],
        "properties": {
          "kind": {
            "enum": [
              "windowCreated", "windowRemoved", "windowFocusChanged",
              "tabCreated", "tabActivated", "tabRemoved", "tabAttached",
              "tabAudibleChanged", "navigationCommitted", "historyStateUpdated"
            ]
          },
          "windowId": {"type": "integer"},
          "tabId": {"type": "integer"},
          "url": {"type": "string"},
          "referrer": {"type": "string"},
          "audible": {"type": "boolean"},
          "private": {"type": "boolean"},
          "windowType": {"enum": ["normal", "popup", "panel", "devtools"]}
        }
      }
    }
  }
}`

const maxIngestBody = 1 << 20

// hostEvent is one decoded entry of an ingest batch.
type hostEvent struct {
	Kind       string `json:"kind"`
	WindowID   int    `json:"windowId"`
	TabID      int    `json:"tabId"`
	URL        string `json:"url"`
	Referrer   string `json:"referrer"`
	Audible    bool   `json:"audible"`
	Private    bool   `json:"private"`
	WindowType string `json:"windowType"`
}

// Ingest replays browser event batches into a simulated host, letting a real
// browser drive the core over HTTP.
type Ingest struct {
	host   *sim.Browser
	schema *jsonschema.Schema
	log    *zap.Logger
}

// NewIngest creates the ingest endpoint for a simulated host.
func NewIngest(host *sim.Browser, log *zap.Logger) *Ingest {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ingest{
		host:   host,
		schema: jsonschema.MustCompileString("browser-events.json", browserEventsSchema),
		log:    log,
	}
}

func (in *Ingest) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxIngestBody))
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}

	var instance any
	if err := json.Unmarshal(body, &instance); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if err := in.schema.Validate(instance); err != nil {
		http.Error(w, fmt.Sprintf("Schema validation failed: %v", err), http.StatusBadRequest)
		return
	}

	var batch struct {
		Events []hostEvent `json:"events"`
	}
	if err := json.Unmarshal(body, &batch); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	applied := 0
	var applyErrors []string
	for i, ev := range batch.Events {
		if err := in.apply(ev); err != nil {
			in.log.Debug("ingest event rejected",
				zap.Int("index", i), zap.String("kind", ev.Kind), zap.Error(err))
			applyErrors = append(applyErrors, fmt.Sprintf("event %d (%s): %v", i, ev.Kind, err))
			continue
		}
		applied++
	}

	respondJSON(w, map[string]interface{}{
		"applied": applied,
		"errors":  applyErrors,
	})
}

func (in *Ingest) apply(ev hostEvent) error {
	switch ev.Kind {
	case "windowCreated":
		typ := browser.WindowType(ev.WindowType)
		if ev.WindowType == "" {
			typ = browser.WindowTypeNormal
		}
		return in.host.AddWindow(browser.WindowID(ev.WindowID), typ, ev.Private)
	case "windowRemoved":
		return in.host.RemoveWindow(browser.WindowID(ev.WindowID))
	case "windowFocusChanged":
		return in.host.FocusWindow(browser.WindowID(ev.WindowID))
	case "tabCreated":
		return in.host.AddTab(browser.TabID(ev.TabID), browser.WindowID(ev.WindowID), ev.URL)
	case "tabActivated":
		return in.host.ActivateTab(browser.TabID(ev.TabID))
	case "tabRemoved":
		return in.host.RemoveTab(browser.TabID(ev.TabID))
	case "tabAttached":
		return in.host.AttachTab(browser.TabID(ev.TabID), browser.WindowID(ev.WindowID))
	case "tabAudibleChanged":
		return in.host.SetAudible(browser.TabID(ev.TabID), ev.Audible)
	case "navigationCommitted":
		return in.host.Navigate(browser.TabID(ev.TabID), ev.URL, ev.Referrer)
	case "historyStateUpdated":
		return in.host.UpdateHistoryState(browser.TabID(ev.TabID), ev.URL)
	default:
		return fmt.Errorf("unknown event kind %q", ev.Kind)
	}
}
