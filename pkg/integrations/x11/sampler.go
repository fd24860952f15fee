// Package x11 provides an idle.Sampler backed by the X11 MIT-SCREEN-SAVER
// extension. It reports the milliseconds since the last user input on the
// default screen, which is what desktop idle tooling queries as well.
package x11

import (
	"fmt"
	"time"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/screensaver"
	"github.com/jezek/xgb/xproto"
)

// Sampler reads idle time from the X server.
type Sampler struct {
	conn *xgb.Conn
	root xproto.Window
}

// NewSampler connects to the X server named by $DISPLAY and initializes the
// screensaver extension.
func NewSampler() (*Sampler, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	if err := screensaver.Init(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("screensaver extension unavailable: %w", err)
	}

	root := xproto.Setup(conn).DefaultScreen(conn).Root
	return &Sampler{conn: conn, root: root}, nil
}

// SinceLastInput implements idle.Sampler.
func (s *Sampler) SinceLastInput() (time.Duration, error) {
	reply, err := screensaver.QueryInfo(s.conn, xproto.Drawable(s.root)).Reply()
	if err != nil {
		return 0, fmt.Errorf("failed to query screensaver info: %w", err)
	}
	return time.Duration(reply.MsSinceUserInput) * time.Millisecond, nil
}

// Close disconnects from the X server.
func (s *Sampler) Close() error {
	s.conn.Close()
	return nil
}
