package monitor

import (
	"sort"

	"github.com/gamelaunch/gamelaunch/pkg/window"
)

// DefaultWhitelist holds store, launcher and account-prompt applications that
// commonly take focus on top of a running game.
var DefaultWhitelist = []string{
	"steam",
	"steamwebhelper",
	"gamescope",
	"lutris",
	"net.lutris.lutris",
	"heroic",
	"gnome-software",
	"org.gnome.software",
	"plasma-discover",
	"gcr-prompter",
	"polkit-gnome-authentication-agent-1",
	"polkit-kde-authentication-agent-1",
}

// Whitelist is a set of application identifiers that never count as a
// mismatch. It only grows. It is not safe for concurrent use; the monitor
// loop is its single owner.
type Whitelist struct {
	ids map[string]struct{}
}

func NewWhitelist(ids ...string) *Whitelist {
	w := &Whitelist{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		w.Add(id)
	}
	return w
}

// Add inserts id and reports whether it was new.
func (w *Whitelist) Add(id string) bool {
	id = window.NormalizeAppID(id)
	if id == "" {
		return false
	}
	if _, ok := w.ids[id]; ok {
		return false
	}
	w.ids[id] = struct{}{}
	return true
}

func (w *Whitelist) Contains(id string) bool {
	_, ok := w.ids[id]
	return ok
}

func (w *Whitelist) Len() int {
	return len(w.ids)
}

// List returns the members in sorted order.
func (w *Whitelist) List() []string {
	out := make([]string, 0, len(w.ids))
	for id := range w.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
