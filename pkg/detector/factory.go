// Package detector selects the input activity source matching the running
// display server.
package detector

import (
	"fmt"
	"os"

	"pagewatch/pkg/idle"
	"pagewatch/pkg/integrations/x11"
)

// Sampler is an idle.Sampler holding a display server connection.
type Sampler interface {
	idle.Sampler
	Close() error
}

// New returns the input sampler for the detected display server. Wayland
// compositors do not expose idle time to unprivileged clients, so only X11
// sessions are supported.
func New() (Sampler, error) {
	switch server := DetectDisplayServer(); server {
	case "x11":
		return x11.NewSampler()
	case "wayland":
		return nil, fmt.Errorf("input sampling is not supported on %s", server)
	default:
		return nil, fmt.Errorf("no display server detected")
	}
}

func DetectDisplayServer() string {
	sessionType := os.Getenv("XDG_SESSION_TYPE")
	waylandDisplay := os.Getenv("WAYLAND_DISPLAY")
	x11Display := os.Getenv("DISPLAY")

	if sessionType == "wayland" || waylandDisplay != "" {
		return "wayland"
	}

	if sessionType == "x11" || x11Display != "" {
		return "x11"
	}

	return "unknown"
}
