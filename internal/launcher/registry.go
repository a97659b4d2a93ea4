package launcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/ini.v1"

	"github.com/gamelaunch/gamelaunch/internal/apperr"
	"github.com/gamelaunch/gamelaunch/pkg/window"
)

const desktopSection = "Desktop Entry"

// App is a launchable application found in the desktop entry registry.
type App struct {
	ID         string   `json:"id"`
	DesktopID  string   `json:"desktop_id"`
	Name       string   `json:"name"`
	Categories []string `json:"categories,omitempty"`
	Icon       []byte   `json:"icon,omitempty"`

	// Aliases are other identifiers the app's windows may report while it
	// has the foreground, such as its executable name or a Steam window
	// class.
	Aliases []string `json:"aliases,omitempty"`

	Exec     string `json:"-"`
	IconName string `json:"-"`
	WorkDir  string `json:"-"`
	Path     string `json:"-"`
}

// Registry resolves installed applications.
type Registry interface {
	Apps(ctx context.Context) ([]App, error)
	Lookup(ctx context.Context, id string) (App, error)
}

// Relevance decides whether an application is listed.
type Relevance func(App) bool

// AllApps lists every launchable application.
func AllApps(App) bool { return true }

var gameTerms = []string{"game", "play", "arcade", "race", "shooter", "rpg", "adventure"}

// GamesOnly keeps entries in the Game category, or whose name looks like a game.
func GamesOnly(app App) bool {
	for _, c := range app.Categories {
		if strings.EqualFold(c, "Game") {
			return true
		}
	}
	name := strings.ToLower(app.Name)
	for _, term := range gameTerms {
		if strings.Contains(name, term) {
			return true
		}
	}
	return false
}

// DesktopRegistry reads XDG desktop entries from the applications
// directories under each data dir, in precedence order.
type DesktopRegistry struct {
	dataDirs  []string
	relevance Relevance
	logger    *slog.Logger
}

func NewDesktopRegistry(dataDirs []string, relevance Relevance, logger *slog.Logger) *DesktopRegistry {
	if len(dataDirs) == 0 {
		dataDirs = DefaultDataDirs()
	}
	if relevance == nil {
		relevance = AllApps
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DesktopRegistry{
		dataDirs:  dataDirs,
		relevance: relevance,
		logger:    logger.With("component", "registry"),
	}
}

// DefaultDataDirs returns $XDG_DATA_HOME followed by $XDG_DATA_DIRS and the
// flatpak export directories.
func DefaultDataDirs() []string {
	var dirs []string

	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dataHome = filepath.Join(home, ".local", "share")
		}
	}
	if dataHome != "" {
		dirs = append(dirs, dataHome, filepath.Join(dataHome, "flatpak", "exports", "share"))
	}

	dataDirs := os.Getenv("XDG_DATA_DIRS")
	if dataDirs == "" {
		dataDirs = "/usr/local/share:/usr/share"
	}
	for _, d := range filepath.SplitList(dataDirs) {
		if d != "" {
			dirs = append(dirs, d)
		}
	}
	return append(dirs, "/var/lib/flatpak/exports/share")
}

// Apps returns every relevant application sorted by name. Unreadable or
// malformed entries are skipped.
func (r *DesktopRegistry) Apps(ctx context.Context) ([]App, error) {
	all, err := r.scan(ctx)
	if err != nil {
		return nil, err
	}

	apps := make([]App, 0, len(all))
	for _, app := range all {
		if !r.relevance(app) {
			continue
		}
		app.Icon = r.loadIcon(app.IconName)
		apps = append(apps, app)
	}

	sort.Slice(apps, func(i, j int) bool {
		a, b := strings.ToLower(apps[i].Name), strings.ToLower(apps[j].Name)
		if a != b {
			return a < b
		}
		return apps[i].ID < apps[j].ID
	})
	return apps, nil
}

// Lookup finds an application by identifier or desktop file id. Relevance
// does not apply: any launchable entry can be started.
func (r *DesktopRegistry) Lookup(ctx context.Context, id string) (App, error) {
	want := window.NormalizeAppID(id)
	if want == "" {
		return App{}, apperr.New(apperr.InvalidArgument, "empty application id")
	}

	all, err := r.scan(ctx)
	if err != nil {
		return App{}, err
	}
	for _, app := range all {
		if app.ID == want || window.NormalizeAppID(app.DesktopID) == want {
			return app, nil
		}
	}
	return App{}, apperr.New(apperr.AppNotFound, "no launch entry for %q", id)
}

func (r *DesktopRegistry) scan(ctx context.Context) ([]App, error) {
	seen := make(map[string]bool)
	var apps []App

	for _, dataDir := range r.dataDirs {
		root := filepath.Join(dataDir, "applications")
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if path == root {
					return fs.SkipDir
				}
				return nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if d.IsDir() || !strings.HasSuffix(d.Name(), ".desktop") {
				return nil
			}

			rel, err := filepath.Rel(root, path)
			if err != nil {
				return nil
			}
			desktopID := strings.ReplaceAll(filepath.ToSlash(rel), "/", "-")
			if seen[desktopID] {
				return nil
			}
			// A shadowed or hidden entry still claims its id.
			seen[desktopID] = true

			app, ok, err := parseDesktopEntry(path, desktopID)
			if err != nil {
				r.logger.Debug("skipping desktop entry", "path", path, "err", err)
				return nil
			}
			if ok {
				apps = append(apps, app)
			}
			return nil
		})
		if err != nil {
			return nil, errors.Wrapf(err, "scan %s", root)
		}
	}
	return apps, nil
}

// parseDesktopEntry reads a desktop file. ok is false for entries that must
// not be listed.
func parseDesktopEntry(path, desktopID string) (App, bool, error) {
	f, err := ini.LoadSources(ini.LoadOptions{IgnoreInlineComment: true}, path)
	if err != nil {
		return App{}, false, err
	}

	sec, err := f.GetSection(desktopSection)
	if err != nil {
		return App{}, false, err
	}

	if t := sec.Key("Type").String(); t != "" && t != "Application" {
		return App{}, false, nil
	}
	if sec.Key("NoDisplay").MustBool(false) || sec.Key("Hidden").MustBool(false) {
		return App{}, false, nil
	}
	exec := strings.TrimSpace(sec.Key("Exec").String())
	if exec == "" {
		return App{}, false, nil
	}

	wmClass := sec.Key("StartupWMClass").String()
	id := window.NormalizeAppID(wmClass)
	if id == "" {
		id = window.NormalizeAppID(desktopID)
	}

	name := sec.Key("Name").String()
	if name == "" {
		name = strings.TrimSuffix(desktopID, ".desktop")
	}

	return App{
		ID:         id,
		DesktopID:  desktopID,
		Name:       name,
		Categories: splitList(sec.Key("Categories").String()),
		Aliases:    foregroundAliases(id, desktopID, wmClass, exec),
		Exec:       exec,
		IconName:   sec.Key("Icon").String(),
		WorkDir:    sec.Key("Path").String(),
		Path:       path,
	}, true, nil
}

var steamGameID = regexp.MustCompile(`steam://rungameid/(\d+)`)

// foregroundAliases lists the identifiers besides id that a focused window
// of the entry may report: the desktop id and its last reverse-DNS segment,
// the window class, the executable name and the Steam per-game class.
func foregroundAliases(id, desktopID, wmClass, exec string) []string {
	seen := map[string]bool{id: true}
	var aliases []string
	add := func(s string) {
		s = window.NormalizeAppID(s)
		if s == "" || seen[s] {
			return
		}
		seen[s] = true
		aliases = append(aliases, s)
	}

	desktop := window.NormalizeAppID(desktopID)
	add(desktop)
	if i := strings.LastIndexByte(desktop, '.'); i >= 0 {
		add(desktop[i+1:])
	}
	add(wmClass)
	add(execName(exec))
	if m := steamGameID.FindStringSubmatch(exec); m != nil {
		add("steam_app_" + m[1])
	}
	return aliases
}

// execName returns the base name of the program an Exec line runs, looking
// past env and its variable assignments.
func execName(exec string) string {
	tokens, err := newExecParser().Parse(exec)
	if err != nil {
		return ""
	}
	for i, tok := range tokens {
		if tok == "env" && i == 0 {
			continue
		}
		if eq := strings.IndexByte(tok, '='); eq > 0 && !strings.Contains(tok[:eq], "/") {
			continue
		}
		return filepath.Base(tok)
	}
	return ""
}

// withAlias returns a copy of app that also answers to alias.
func (a App) withAlias(alias string) App {
	alias = window.NormalizeAppID(alias)
	if alias == "" || alias == a.ID {
		return a
	}
	for _, existing := range a.Aliases {
		if existing == alias {
			return a
		}
	}
	a.Aliases = append(append([]string(nil), a.Aliases...), alias)
	return a
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ";") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

var iconSizes = []string{"512x512", "256x256", "192x192", "128x128", "96x96", "64x64", "48x48", "32x32"}

// loadIcon returns the PNG bytes for an icon name, trying an absolute path
// first and then the hicolor theme from the largest size down.
func (r *DesktopRegistry) loadIcon(name string) []byte {
	if name == "" {
		return nil
	}
	if filepath.IsAbs(name) {
		data, err := os.ReadFile(name)
		if err != nil {
			return nil
		}
		return data
	}

	for _, dataDir := range r.dataDirs {
		for _, size := range iconSizes {
			if data, err := os.ReadFile(filepath.Join(dataDir, "icons", "hicolor", size, "apps", name+".png")); err == nil {
				return data
			}
		}
	}
	for _, dataDir := range r.dataDirs {
		if data, err := os.ReadFile(filepath.Join(dataDir, "pixmaps", name+".png")); err == nil {
			return data
		}
	}
	return nil
}
