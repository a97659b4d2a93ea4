package x11

import (
	"encoding/binary"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/screensaver"
	"github.com/jezek/xgb/xproto"
	"github.com/pkg/errors"

	"github.com/gamelaunch/gamelaunch/pkg/integrations/common"
	"github.com/gamelaunch/gamelaunch/pkg/window"
)

var atomNames = []string{
	"_NET_ACTIVE_WINDOW",
	"_NET_WM_NAME",
	"_NET_WM_PID",
	"WM_NAME",
	"WM_CLASS",
	"UTF8_STRING",
}

const (
	activeWindowAttempts = 5
	activeWindowRetry    = 20 * time.Millisecond
	propertyLength       = 256
)

// Detector implements window.Detector over a native X11 connection.
// The connection is opened on first use and reopened after an error.
type Detector struct {
	mu             sync.Mutex
	conn           *xgb.Conn
	root           xproto.Window
	atoms          map[string]xproto.Atom
	hasScreensaver bool
}

// NewDetector creates a new X11 detector
func NewDetector() *Detector {
	return &Detector{}
}

// IsAvailable reports whether an X server accepts connections
func (d *Detector) IsAvailable() bool {
	if os.Getenv("DISPLAY") == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connect() == nil
}

// GetDisplayServer returns "x11"
func (d *Detector) GetDisplayServer() string {
	return "x11"
}

func (d *Detector) connect() error {
	if d.conn != nil {
		return nil
	}

	conn, err := xgb.NewConn()
	if err != nil {
		return errors.Wrap(err, "connect to X server")
	}

	atoms := make(map[string]xproto.Atom, len(atomNames))
	for _, name := range atomNames {
		reply, err := xproto.InternAtom(conn, false, uint16(len(name)), name).Reply()
		if err != nil {
			conn.Close()
			return errors.Wrapf(err, "intern atom %s", name)
		}
		atoms[name] = reply.Atom
	}

	d.conn = conn
	d.root = xproto.Setup(conn).DefaultScreen(conn).Root
	d.atoms = atoms
	d.hasScreensaver = screensaver.Init(conn) == nil
	return nil
}

// reset drops a connection that returned an error.
func (d *Detector) reset() {
	if d.conn != nil {
		d.conn.Close()
		d.conn = nil
	}
}

// GetFocusedWindow returns information about the currently focused window
func (d *Detector) GetFocusedWindow() (*window.WindowInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.connect(); err != nil {
		return nil, err
	}

	win, err := d.activeWindow()
	if err != nil {
		return nil, err
	}

	instance, class := parseWMClass(d.property(win, d.atoms["WM_CLASS"], xproto.AtomString, propertyLength))
	pid := int(parseCardinal(d.property(win, d.atoms["_NET_WM_PID"], xproto.AtomCardinal, 1)))
	processName := common.ProcessName(pid)

	appName := class
	if appName == "" {
		appName = instance
	}
	if appName == "" {
		appName = processName
	}

	return &window.WindowInfo{
		AppID:         window.NormalizeAppID(appName),
		AppName:       appName,
		WindowTitle:   d.windowName(win),
		ProcessName:   processName,
		PID:           pid,
		DisplayServer: "x11",
	}, nil
}

func (d *Detector) property(win xproto.Window, atom, atomType xproto.Atom, length uint32) []byte {
	reply, err := xproto.GetProperty(d.conn, false, win, atom, atomType, 0, length).Reply()
	if err != nil || reply == nil {
		return nil
	}
	return reply.Value
}

func (d *Detector) hasName(win xproto.Window) bool {
	if len(d.property(win, d.atoms["_NET_WM_NAME"], d.atoms["UTF8_STRING"], 1)) > 0 {
		return true
	}
	return len(d.property(win, d.atoms["WM_NAME"], xproto.AtomString, 1)) > 0
}

func (d *Detector) windowName(win xproto.Window) string {
	if data := d.property(win, d.atoms["_NET_WM_NAME"], d.atoms["UTF8_STRING"], propertyLength); len(data) > 0 {
		return strings.TrimRight(string(data), "\x00")
	}
	return strings.TrimRight(string(d.property(win, d.atoms["WM_NAME"], xproto.AtomString, propertyLength)), "\x00")
}

// activeWindow prefers _NET_ACTIVE_WINDOW and falls back to the top-level
// parent of the input focus. Window managers briefly report unnamed
// windows while switching, so it retries a few times.
func (d *Detector) activeWindow() (xproto.Window, error) {
	for i := 0; i < activeWindowAttempts; i++ {
		win := xproto.Window(parseCardinal(d.property(d.root, d.atoms["_NET_ACTIVE_WINDOW"], xproto.AtomWindow, 1)))
		if win != 0 && d.hasName(win) {
			return win, nil
		}

		focus, err := xproto.GetInputFocus(d.conn).Reply()
		if err != nil {
			d.reset()
			return 0, errors.Wrap(err, "get input focus")
		}
		if focus.Focus != 0 && focus.Focus != d.root {
			if top := d.topLevel(focus.Focus); top != 0 && d.hasName(top) {
				return top, nil
			}
		}

		time.Sleep(activeWindowRetry)
	}
	return 0, errors.New("no active window found")
}

func (d *Detector) topLevel(win xproto.Window) xproto.Window {
	for {
		reply, err := xproto.QueryTree(d.conn, win).Reply()
		if err != nil || reply.Parent == d.root || reply.Parent == 0 {
			return win
		}
		win = reply.Parent
	}
}

// GetIdleInfo reads input idle time and the screen saver state from the
// MIT-SCREEN-SAVER extension
func (d *Detector) GetIdleInfo() (*window.IdleInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.connect(); err != nil {
		return nil, err
	}
	if !d.hasScreensaver {
		return &window.IdleInfo{}, nil
	}

	info, err := screensaver.QueryInfo(d.conn, xproto.Drawable(d.root)).Reply()
	if err != nil {
		d.reset()
		return nil, errors.Wrap(err, "query screen saver")
	}
	return idleInfo(info.State, info.MsSinceUserInput), nil
}

func idleInfo(state byte, msSinceInput uint32) *window.IdleInfo {
	idle := int64(msSinceInput / 1000)
	return &window.IdleInfo{
		IsIdle:   idle > common.IdleThreshold,
		IsLocked: state == screensaver.StateOn,
		IdleTime: idle,
	}
}

// Close cleans up resources
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reset()
	return nil
}

// parseWMClass splits a WM_CLASS value into its instance and class parts.
func parseWMClass(data []byte) (instance, class string) {
	parts := strings.Split(strings.TrimRight(string(data), "\x00"), "\x00")
	if len(parts) >= 1 {
		instance = parts[0]
	}
	if len(parts) >= 2 {
		class = parts[1]
	}
	return instance, class
}

// parseCardinal decodes the first 32-bit value of a property.
func parseCardinal(data []byte) uint32 {
	if len(data) < 4 {
		return 0
	}
	return binary.LittleEndian.Uint32(data)
}
