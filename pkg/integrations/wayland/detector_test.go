package wayland

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/gamelaunch/gamelaunch/internal/apperr"
	"github.com/gamelaunch/gamelaunch/pkg/window"
)

func TestGetDisplayServer(t *testing.T) {
	detector := NewDetector()
	displayServer := detector.GetDisplayServer()

	if displayServer != "wayland" {
		t.Errorf("GetDisplayServer() = %s, want %s", displayServer, "wayland")
	}
}

func TestDetectCompositor(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"hyprland signature", map[string]string{"HYPRLAND_INSTANCE_SIGNATURE": "abc"}, Hyprland},
		{"sway socket", map[string]string{"SWAYSOCK": "/run/user/1000/sway-ipc.sock"}, Sway},
		{"gnome desktop", map[string]string{"XDG_CURRENT_DESKTOP": "GNOME"}, Gnome},
		{"ubuntu desktop", map[string]string{"XDG_CURRENT_DESKTOP": "ubuntu:GNOME"}, Gnome},
		{"hyprland desktop", map[string]string{"XDG_CURRENT_DESKTOP": "Hyprland"}, Hyprland},
		{"kde", map[string]string{"XDG_CURRENT_DESKTOP": "KDE"}, Unknown},
		{"nothing", map[string]string{}, Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetectCompositor(func(k string) string { return tt.env[k] })
			if got != tt.want {
				t.Errorf("DetectCompositor() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestParseHyprlandWindow(t *testing.T) {
	output := []byte(`{
		"address": "0x55d0c0a1b2c0",
		"class": "steam_app_620",
		"title": "Portal 2",
		"initialClass": "steam_app_620",
		"pid": 4242
	}`)

	info, err := parseHyprlandWindow(output)
	if err != nil {
		t.Fatalf("parseHyprlandWindow() error: %v", err)
	}
	want := &window.WindowInfo{AppName: "steam_app_620", WindowTitle: "Portal 2", PID: 4242}
	if diff := cmp.Diff(want, info); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	info, err = parseHyprlandWindow([]byte(`{}`))
	if err != nil || info != nil {
		t.Errorf("empty focus = %+v, %v; want nil, nil", info, err)
	}

	if _, err := parseHyprlandWindow([]byte(`Invalid`)); err == nil {
		t.Error("parseHyprlandWindow() accepted garbage")
	}
}

func TestParseSwayTree(t *testing.T) {
	tree := []byte(`{
		"type": "root", "focused": false,
		"nodes": [{
			"type": "output", "name": "eDP-1", "focused": false,
			"nodes": [{
				"type": "workspace", "name": "1", "focused": false,
				"nodes": [
					{"type": "con", "name": "Terminal", "app_id": "foot", "pid": 10, "focused": false},
					{"type": "con", "name": "SuperTuxKart", "app_id": null, "pid": 11, "focused": true,
					 "window_properties": {"class": "supertuxkart", "instance": "supertuxkart"}}
				],
				"floating_nodes": []
			}]
		}]
	}`)

	info, err := parseSwayTree(tree)
	if err != nil {
		t.Fatalf("parseSwayTree() error: %v", err)
	}
	want := &window.WindowInfo{AppName: "supertuxkart", WindowTitle: "SuperTuxKart", PID: 11}
	if diff := cmp.Diff(want, info); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	floating := []byte(`{"type": "root", "nodes": [{"type": "workspace", "nodes": [],
		"floating_nodes": [{"type": "floating_con", "name": "Steam", "app_id": "steam", "pid": 7, "focused": true}]}]}`)
	info, err = parseSwayTree(floating)
	if err != nil || info == nil || info.AppName != "steam" {
		t.Errorf("floating focus = %+v, %v", info, err)
	}

	// A focused workspace means no view has the focus.
	empty := []byte(`{"type": "root", "nodes": [{"type": "workspace", "focused": true, "nodes": []}]}`)
	info, err = parseSwayTree(empty)
	if err != nil || info != nil {
		t.Errorf("empty workspace = %+v, %v; want nil, nil", info, err)
	}
}

func TestParseGnomeEval(t *testing.T) {
	info, err := parseGnomeEval(true, `"{\"wm_class\":\"Steam\",\"title\":\"Library\",\"pid\":99}"`)
	if err != nil {
		t.Fatalf("parseGnomeEval() error: %v", err)
	}
	want := &window.WindowInfo{AppName: "Steam", WindowTitle: "Library", PID: 99}
	if diff := cmp.Diff(want, info); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	info, err = parseGnomeEval(true, `"null"`)
	if err != nil || info != nil {
		t.Errorf("no focus = %+v, %v; want nil, nil", info, err)
	}

	_, err = parseGnomeEval(false, "")
	if !apperr.Is(err, apperr.PermissionDenied) {
		t.Errorf("disabled Eval kind = %s, want PermissionDenied", apperr.KindOf(err))
	}
}

func TestGetFocusedWindowNormalizes(t *testing.T) {
	d := &Detector{
		compositor: Hyprland,
		run: func(_ context.Context, name string, args ...string) ([]byte, error) {
			if name != "hyprctl" {
				return nil, errors.New("unexpected command " + name)
			}
			return []byte(`{"class": "Steam", "title": "Steam", "pid": 0}`), nil
		},
	}

	info, err := d.GetFocusedWindow()
	if err != nil {
		t.Fatalf("GetFocusedWindow() error: %v", err)
	}
	if info.AppID != "steam" || info.DisplayServer != "wayland" {
		t.Errorf("GetFocusedWindow() = %+v", info)
	}
}

func TestUnsupportedCompositor(t *testing.T) {
	d := &Detector{compositor: Unknown}
	if d.IsAvailable() {
		t.Error("IsAvailable() = true for an unknown compositor")
	}
	if _, err := d.GetFocusedWindow(); err == nil {
		t.Error("GetFocusedWindow() succeeded for an unknown compositor")
	}
}
