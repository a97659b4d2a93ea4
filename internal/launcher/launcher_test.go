package launcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/gamelaunch/gamelaunch/internal/apperr"
	"github.com/gamelaunch/gamelaunch/internal/logging"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// newTestRegistry lays out two data dirs: a user dir that shadows one
// system entry, and a system dir.
func newTestRegistry(t *testing.T, relevance Relevance) *DesktopRegistry {
	t.Helper()
	user := filepath.Join(t.TempDir(), "user")
	system := filepath.Join(t.TempDir(), "system")

	writeFile(t, filepath.Join(user, "applications", "supertuxkart.desktop"), `[Desktop Entry]
Type=Application
Name=SuperTuxKart (user)
Exec=supertuxkart --fullscreen %U
Icon=supertuxkart
Categories=Game;ArcadeGame;
`)
	writeFile(t, filepath.Join(system, "applications", "supertuxkart.desktop"), `[Desktop Entry]
Type=Application
Name=SuperTuxKart (system)
Exec=supertuxkart
`)
	writeFile(t, filepath.Join(system, "applications", "steam.desktop"), `[Desktop Entry]
Type=Application
Name=Steam
Exec=/usr/bin/steam %U
StartupWMClass=Steam
Categories=Network;FileTransfer;Game;
`)
	writeFile(t, filepath.Join(system, "applications", "org.gnome.TextEditor.desktop"), `[Desktop Entry]
Type=Application
Name=Text Editor
Exec=gnome-text-editor %F
Categories=GNOME;GTK;Utility;
`)
	writeFile(t, filepath.Join(system, "applications", "hidden.desktop"), `[Desktop Entry]
Type=Application
Name=Hidden Helper
Exec=helper
NoDisplay=true
`)
	writeFile(t, filepath.Join(system, "applications", "link.desktop"), `[Desktop Entry]
Type=Link
Name=Website
URL=https://example.com
`)
	writeFile(t, filepath.Join(system, "applications", "noexec.desktop"), `[Desktop Entry]
Type=Application
Name=Broken
`)
	writeFile(t, filepath.Join(system, "applications", "vendor", "racer.desktop"), `[Desktop Entry]
Type=Application
Name=Street Racer
Exec="/opt/street racer/run.sh" --name %c
`)
	writeFile(t, filepath.Join(system, "icons", "hicolor", "48x48", "apps", "supertuxkart.png"), "small")
	writeFile(t, filepath.Join(system, "icons", "hicolor", "256x256", "apps", "supertuxkart.png"), "large")

	return NewDesktopRegistry([]string{user, system}, relevance, logging.Discard())
}

func TestDesktopRegistryApps(t *testing.T) {
	reg := newTestRegistry(t, nil)

	apps, err := reg.Apps(context.Background())
	if err != nil {
		t.Fatalf("Apps() error: %v", err)
	}

	var ids []string
	for _, app := range apps {
		ids = append(ids, app.ID)
	}
	want := []string{"steam", "vendor-racer", "supertuxkart", "org.gnome.texteditor"}
	if diff := cmp.Diff(want, ids); diff != "" {
		t.Errorf("Apps() ids mismatch (-want +got):\n%s", diff)
	}

	for _, app := range apps {
		if app.ID != "supertuxkart" {
			continue
		}
		if app.Name != "SuperTuxKart (user)" {
			t.Errorf("user entry did not shadow system entry: %q", app.Name)
		}
		if string(app.Icon) != "large" {
			t.Errorf("Icon = %q, want the largest hicolor size", app.Icon)
		}
	}
}

func TestDesktopRegistryGamesOnly(t *testing.T) {
	reg := newTestRegistry(t, GamesOnly)

	apps, err := reg.Apps(context.Background())
	if err != nil {
		t.Fatalf("Apps() error: %v", err)
	}
	var ids []string
	for _, app := range apps {
		ids = append(ids, app.ID)
	}
	want := []string{"steam", "vendor-racer", "supertuxkart"}
	if diff := cmp.Diff(want, ids); diff != "" {
		t.Errorf("GamesOnly ids mismatch (-want +got):\n%s", diff)
	}
}

func TestDesktopRegistryLookup(t *testing.T) {
	reg := newTestRegistry(t, GamesOnly)

	tests := []struct {
		id       string
		wantName string
		wantKind apperr.Kind
	}{
		{id: "steam", wantName: "Steam"},
		{id: "steam.desktop", wantName: "Steam"},
		{id: "org.gnome.TextEditor", wantName: "Text Editor"},
		{id: "hidden", wantKind: apperr.AppNotFound},
		{id: "nope", wantKind: apperr.AppNotFound},
		{id: " ", wantKind: apperr.InvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			app, err := reg.Lookup(context.Background(), tt.id)
			if tt.wantKind != "" {
				if !apperr.Is(err, tt.wantKind) {
					t.Fatalf("Lookup(%q) error kind = %s, want %s", tt.id, apperr.KindOf(err), tt.wantKind)
				}
				return
			}
			if err != nil {
				t.Fatalf("Lookup(%q) error: %v", tt.id, err)
			}
			if app.Name != tt.wantName {
				t.Errorf("Name = %q, want %q", app.Name, tt.wantName)
			}
		})
	}
}

func TestExecArgs(t *testing.T) {
	tests := []struct {
		name string
		app  App
		want []string
	}{
		{
			name: "drops file codes",
			app:  App{Exec: "supertuxkart --fullscreen %U"},
			want: []string{"supertuxkart", "--fullscreen"},
		},
		{
			name: "quoted path",
			app:  App{Exec: `"/opt/street racer/run.sh" --name %c`, Name: "Street Racer"},
			want: []string{"/opt/street racer/run.sh", "--name", "Street Racer"},
		},
		{
			name: "icon code",
			app:  App{Exec: "game %i", IconName: "game-icon"},
			want: []string{"game", "--icon", "game-icon"},
		},
		{
			name: "icon code without icon",
			app:  App{Exec: "game %i"},
			want: []string{"game"},
		},
		{
			name: "escaped percent and desktop path",
			app:  App{Exec: "run --ratio=100%% --entry=%k", Path: "/x/game.desktop"},
			want: []string{"run", "--ratio=100%", "--entry=/x/game.desktop"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExecArgs(tt.app)
			if err != nil {
				t.Fatalf("ExecArgs() error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ExecArgs() mismatch (-want +got):\n%s", diff)
			}
		})
	}

	if _, err := ExecArgs(App{Exec: "%U"}); err == nil {
		t.Error("ExecArgs() accepted an Exec line with only field codes")
	}
	if _, err := ExecArgs(App{Exec: `game "unterminated`}); err == nil {
		t.Error("ExecArgs() accepted an unterminated quote")
	}
}

type fakeStarter struct {
	started []string
	aliases [][]string
	err     error
}

func (f *fakeStarter) StartSession(app App) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.started = append(f.started, app.ID)
	f.aliases = append(f.aliases, app.Aliases)
	return "session-" + app.ID, nil
}

func fixedProcName(name string) func(int) (string, error) {
	return func(int) (string, error) { return name, nil }
}

func TestLaunch(t *testing.T) {
	reg := newTestRegistry(t, nil)

	t.Run("success starts session", func(t *testing.T) {
		starter := &fakeStarter{}
		var spawned []string
		l := New(reg, starter, func(argv []string, dir string) (int, error) {
			spawned = argv
			return 4242, nil
		}, logging.Discard())
		l.procName = fixedProcName("supertuxkart-bin")

		got, err := l.Launch(context.Background(), "supertuxkart")
		if err != nil {
			t.Fatalf("Launch() error: %v", err)
		}
		want := Launched{SessionID: "session-supertuxkart", AppID: "supertuxkart", Name: "SuperTuxKart (user)", PID: 4242}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("Launch() mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff([]string{"supertuxkart", "--fullscreen"}, spawned); diff != "" {
			t.Errorf("argv mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff([]string{"supertuxkart"}, starter.started); diff != "" {
			t.Errorf("sessions mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff([][]string{{"supertuxkart-bin"}}, starter.aliases); diff != "" {
			t.Errorf("session aliases mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("session cannot begin", func(t *testing.T) {
		starter := &fakeStarter{err: errors.New("monitor is not running")}
		l := New(reg, starter, func([]string, string) (int, error) { return 4242, nil }, logging.Discard())
		l.procName = fixedProcName("supertuxkart")

		_, err := l.Launch(context.Background(), "supertuxkart")
		if !apperr.Is(err, apperr.LaunchFailed) {
			t.Errorf("error kind = %s, want LaunchFailed", apperr.KindOf(err))
		}
	})

	t.Run("unknown app", func(t *testing.T) {
		starter := &fakeStarter{}
		l := New(reg, starter, func([]string, string) (int, error) {
			t.Fatal("spawned an unknown app")
			return 0, nil
		}, logging.Discard())

		_, err := l.Launch(context.Background(), "com.missing.game")
		if !apperr.Is(err, apperr.AppNotFound) {
			t.Errorf("error kind = %s, want AppNotFound", apperr.KindOf(err))
		}
		if len(starter.started) != 0 {
			t.Error("session started for unknown app")
		}
	})

	t.Run("spawn failure", func(t *testing.T) {
		starter := &fakeStarter{}
		l := New(reg, starter, func([]string, string) (int, error) {
			return 0, errors.New("exec: \"supertuxkart\": executable file not found in $PATH")
		}, logging.Discard())

		_, err := l.Launch(context.Background(), "supertuxkart")
		if !apperr.Is(err, apperr.LaunchFailed) {
			t.Errorf("error kind = %s, want LaunchFailed", apperr.KindOf(err))
		}
		if len(starter.started) != 0 {
			t.Error("session started after failed launch")
		}
	})
}

func TestSpawnDetachedMissingBinary(t *testing.T) {
	if _, err := SpawnDetached([]string{"gamelaunch-no-such-binary"}, ""); err == nil {
		t.Error("SpawnDetached() started a missing binary")
	}
}

func TestForegroundAliases(t *testing.T) {
	tests := []struct {
		name      string
		file      string
		entry     string
		wantID    string
		wantAlias []string
	}{
		{
			name: "steam library entry",
			file: "Portal 2.desktop",
			entry: `[Desktop Entry]
Type=Application
Name=Portal 2
Exec=steam steam://rungameid/620
Categories=Game;
`,
			wantID:    "portal 2",
			wantAlias: []string{"steam", "steam_app_620"},
		},
		{
			name: "reverse dns desktop id",
			file: "org.gnome.Mines.desktop",
			entry: `[Desktop Entry]
Type=Application
Name=Mines
Exec=gnome-mines
`,
			wantID:    "org.gnome.mines",
			wantAlias: []string{"mines", "gnome-mines"},
		},
		{
			name: "window class differs from desktop id",
			file: "supergame-launcher.desktop",
			entry: `[Desktop Entry]
Type=Application
Name=Super Game
Exec=/opt/supergame/bin/SuperGame.x86_64 %U
StartupWMClass=SuperGame
`,
			wantID:    "supergame",
			wantAlias: []string{"supergame-launcher", "supergame.x86_64"},
		},
		{
			name: "executable behind env",
			file: "wine-game.desktop",
			entry: `[Desktop Entry]
Type=Application
Name=Wine Game
Exec=env WINEPREFIX=/home/user/.wine wine game.exe
`,
			wantID:    "wine-game",
			wantAlias: []string{"wine"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			writeFile(t, path, tt.entry)

			app, ok, err := parseDesktopEntry(path, tt.file)
			if err != nil || !ok {
				t.Fatalf("parseDesktopEntry() = ok %v, err %v", ok, err)
			}
			if app.ID != tt.wantID {
				t.Errorf("ID = %q, want %q", app.ID, tt.wantID)
			}
			if diff := cmp.Diff(tt.wantAlias, app.Aliases); diff != "" {
				t.Errorf("Aliases mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestWithAlias(t *testing.T) {
	app := App{ID: "portal 2", Aliases: []string{"steam_app_620"}}

	got := app.withAlias("Portal2_Linux")
	if diff := cmp.Diff([]string{"steam_app_620", "portal2_linux"}, got.Aliases); diff != "" {
		t.Errorf("Aliases mismatch (-want +got):\n%s", diff)
	}
	if len(app.Aliases) != 1 {
		t.Errorf("withAlias() modified the original: %q", app.Aliases)
	}
	for _, same := range []string{"Portal 2", "steam_app_620", ""} {
		if got := app.withAlias(same); len(got.Aliases) != 1 {
			t.Errorf("withAlias(%q) = %q, want unchanged", same, got.Aliases)
		}
	}
}
