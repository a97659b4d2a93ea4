package wayland

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/pkg/errors"

	"github.com/gamelaunch/gamelaunch/internal/apperr"
	"github.com/gamelaunch/gamelaunch/pkg/integrations/common"
	"github.com/gamelaunch/gamelaunch/pkg/window"
)

// Supported compositors.
const (
	Hyprland = "hyprland"
	Sway     = "sway"
	Gnome    = "gnome"
	Unknown  = "unknown"
)

const commandTimeout = 2 * time.Second

// gnomeFocusScript runs inside GNOME Shell and returns the focused window
// as JSON, or "null".
const gnomeFocusScript = `
let fw = global.display.get_focus_window();
fw ? JSON.stringify({
	wm_class: fw.get_wm_class() || '',
	title: fw.get_title() || '',
	pid: fw.get_pid() || 0
}) : 'null';
`

// CommandRunner runs a command and returns its standard output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Detector implements window.Detector for Wayland compositors
type Detector struct {
	compositor string
	run        CommandRunner
	lookPath   func(string) (string, error)
}

// NewDetector creates a detector for the compositor of the current session
func NewDetector() *Detector {
	return &Detector{
		compositor: DetectCompositor(os.Getenv),
		run:        runCommand,
		lookPath:   exec.LookPath,
	}
}

// DetectCompositor identifies the compositor from the session environment.
func DetectCompositor(getenv func(string) string) string {
	switch {
	case getenv("HYPRLAND_INSTANCE_SIGNATURE") != "":
		return Hyprland
	case getenv("SWAYSOCK") != "":
		return Sway
	}

	desktop := strings.ToLower(getenv("XDG_CURRENT_DESKTOP"))
	switch {
	case strings.Contains(desktop, "hyprland"):
		return Hyprland
	case strings.Contains(desktop, "sway"):
		return Sway
	case strings.Contains(desktop, "gnome"), strings.Contains(desktop, "ubuntu"):
		return Gnome
	}
	return Unknown
}

// IsAvailable checks if the compositor can be queried
func (d *Detector) IsAvailable() bool {
	switch d.compositor {
	case Hyprland:
		_, err := d.lookPath("hyprctl")
		return err == nil
	case Sway:
		_, err := d.lookPath("swaymsg")
		return err == nil
	case Gnome:
		_, err := dbus.SessionBus()
		return err == nil
	default:
		return false
	}
}

// GetDisplayServer returns "wayland"
func (d *Detector) GetDisplayServer() string {
	return "wayland"
}

// GetFocusedWindow returns information about the currently focused window.
// A nil info without error means nothing has the focus.
func (d *Detector) GetFocusedWindow() (*window.WindowInfo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	var (
		info *window.WindowInfo
		err  error
	)
	switch d.compositor {
	case Hyprland:
		info, err = d.hyprlandWindow(ctx)
	case Sway:
		info, err = d.swayWindow(ctx)
	case Gnome:
		info, err = gnomeWindow(ctx)
	default:
		return nil, errors.Errorf("unsupported wayland compositor: %s", d.compositor)
	}
	if err != nil || info == nil {
		return nil, err
	}

	if info.ProcessName == "" {
		info.ProcessName = common.ProcessName(info.PID)
	}
	info.AppID = window.NormalizeAppID(info.AppName)
	info.DisplayServer = "wayland"
	return info, nil
}

func (d *Detector) hyprlandWindow(ctx context.Context) (*window.WindowInfo, error) {
	output, err := d.run(ctx, "hyprctl", "activewindow", "-j")
	if err != nil {
		return nil, errors.Wrap(err, "failed to execute hyprctl")
	}
	return parseHyprlandWindow(output)
}

type hyprlandWindow struct {
	Class        string `json:"class"`
	InitialClass string `json:"initialClass"`
	Title        string `json:"title"`
	PID          int    `json:"pid"`
}

// parseHyprlandWindow decodes `hyprctl activewindow -j`. Hyprland prints
// an empty object when no window has the focus.
func parseHyprlandWindow(output []byte) (*window.WindowInfo, error) {
	var w hyprlandWindow
	if err := json.Unmarshal(output, &w); err != nil {
		return nil, errors.Wrap(err, "decode hyprctl output")
	}

	class := w.Class
	if class == "" {
		class = w.InitialClass
	}
	if class == "" {
		return nil, nil
	}
	return &window.WindowInfo{
		AppName:     class,
		WindowTitle: w.Title,
		PID:         w.PID,
	}, nil
}

func (d *Detector) swayWindow(ctx context.Context) (*window.WindowInfo, error) {
	output, err := d.run(ctx, "swaymsg", "-t", "get_tree", "-r")
	if err != nil {
		return nil, errors.Wrap(err, "failed to execute swaymsg")
	}
	return parseSwayTree(output)
}

type swayNode struct {
	Name             string      `json:"name"`
	Focused          bool        `json:"focused"`
	AppID            string      `json:"app_id"`
	PID              int         `json:"pid"`
	Type             string      `json:"type"`
	WindowProperties *swayXProps `json:"window_properties"`
	Nodes            []swayNode  `json:"nodes"`
	FloatingNodes    []swayNode  `json:"floating_nodes"`
}

type swayXProps struct {
	Class    string `json:"class"`
	Instance string `json:"instance"`
}

// parseSwayTree finds the focused view in `swaymsg -t get_tree`. Native
// Wayland views carry app_id; XWayland views carry window_properties.
func parseSwayTree(output []byte) (*window.WindowInfo, error) {
	var root swayNode
	if err := json.Unmarshal(output, &root); err != nil {
		return nil, errors.Wrap(err, "decode sway tree")
	}

	node := findFocused(&root)
	if node == nil {
		return nil, nil
	}

	appName := node.AppID
	if appName == "" && node.WindowProperties != nil {
		appName = node.WindowProperties.Class
		if appName == "" {
			appName = node.WindowProperties.Instance
		}
	}
	if appName == "" {
		return nil, nil
	}
	return &window.WindowInfo{
		AppName:     appName,
		WindowTitle: node.Name,
		PID:         node.PID,
	}, nil
}

func findFocused(n *swayNode) *swayNode {
	if n.Focused && (n.Type == "con" || n.Type == "floating_con") {
		return n
	}
	for i := range n.Nodes {
		if f := findFocused(&n.Nodes[i]); f != nil {
			return f
		}
	}
	for i := range n.FloatingNodes {
		if f := findFocused(&n.FloatingNodes[i]); f != nil {
			return f
		}
	}
	return nil
}

func gnomeWindow(ctx context.Context) (*window.WindowInfo, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, errors.Wrap(err, "connect to session bus")
	}

	var (
		ok     bool
		result string
	)
	obj := conn.Object("org.gnome.Shell", "/org/gnome/Shell")
	if err := obj.CallWithContext(ctx, "org.gnome.Shell.Eval", 0, gnomeFocusScript).Store(&ok, &result); err != nil {
		return nil, errors.Wrap(err, "call org.gnome.Shell.Eval")
	}
	return parseGnomeEval(ok, result)
}

type gnomeFocus struct {
	WMClass string `json:"wm_class"`
	Title   string `json:"title"`
	PID     int    `json:"pid"`
}

// parseGnomeEval interprets the (success, result) pair returned by
// Shell.Eval. GNOME 41 and later refuse Eval unless unsafe mode is on.
func parseGnomeEval(ok bool, result string) (*window.WindowInfo, error) {
	if !ok {
		return nil, apperr.New(apperr.PermissionDenied, "org.gnome.Shell.Eval is disabled")
	}

	// Eval returns the script value JSON-encoded, so a string arrives quoted.
	var payload string
	if err := json.Unmarshal([]byte(result), &payload); err != nil {
		payload = result
	}
	if payload == "" || payload == "null" {
		return nil, nil
	}

	var f gnomeFocus
	if err := json.Unmarshal([]byte(payload), &f); err != nil {
		return nil, errors.Wrap(err, "decode Shell.Eval result")
	}
	if f.WMClass == "" {
		return nil, nil
	}
	return &window.WindowInfo{
		AppName:     f.WMClass,
		WindowTitle: f.Title,
		PID:         f.PID,
	}, nil
}

// GetIdleInfo reports the screen lock state. Wayland offers no portable
// idle time, so IdleTime stays zero.
func (d *Detector) GetIdleInfo() (*window.IdleInfo, error) {
	locked, err := common.ScreenLocked(context.Background())
	if err != nil {
		return nil, err
	}
	return &window.IdleInfo{IsLocked: locked}, nil
}

// Close cleans up resources
func (d *Detector) Close() error {
	return nil
}
