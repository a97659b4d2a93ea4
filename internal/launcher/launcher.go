// Package launcher enumerates desktop applications and starts them as game
// sessions.
package launcher

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"github.com/mattn/go-shellwords"
	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/gamelaunch/gamelaunch/internal/apperr"
)

// SessionStarter begins monitoring a launched application and returns the
// session id.
type SessionStarter interface {
	StartSession(app App) (string, error)
}

// Spawner starts argv detached from the caller and returns its pid.
type Spawner func(argv []string, dir string) (int, error)

// Launched describes a successful launch.
type Launched struct {
	SessionID string `json:"session_id"`
	AppID     string `json:"app_id"`
	Name      string `json:"name"`
	PID       int    `json:"pid"`
}

type Launcher struct {
	registry Registry
	sessions SessionStarter
	spawn    Spawner
	procName func(pid int) (string, error)
	logger   *slog.Logger
}

func New(registry Registry, sessions SessionStarter, spawn Spawner, logger *slog.Logger) *Launcher {
	if spawn == nil {
		spawn = SpawnDetached
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Launcher{
		registry: registry,
		sessions: sessions,
		spawn:    spawn,
		procName: processName,
		logger:   logger.With("component", "launcher"),
	}
}

// Launch starts the application with the given id and begins its session
// before returning. It fails with AppNotFound when no entry matches and with
// LaunchFailed when the process cannot be started or its session cannot
// begin. The spawned process name is added to the session's aliases.
func (l *Launcher) Launch(ctx context.Context, id string) (Launched, error) {
	app, err := l.registry.Lookup(ctx, id)
	if err != nil {
		return Launched{}, err
	}

	argv, err := ExecArgs(app)
	if err != nil {
		return Launched{}, apperr.Wrap(err, apperr.LaunchFailed, "parse Exec of "+app.DesktopID)
	}

	pid, err := l.spawn(argv, app.WorkDir)
	if err != nil {
		return Launched{}, apperr.Wrap(err, apperr.LaunchFailed, "start "+app.Name)
	}
	l.logger.Info("application started", "app", app.ID, "pid", pid, "argv", argv)

	if name, err := l.procName(pid); err == nil {
		app = app.withAlias(name)
	} else {
		l.logger.Debug("no process name for launched app", "pid", pid, "err", err)
	}

	sessionID, err := l.sessions.StartSession(app)
	if err != nil {
		return Launched{}, apperr.Wrap(err, apperr.LaunchFailed, "begin session for "+app.Name)
	}
	return Launched{SessionID: sessionID, AppID: app.ID, Name: app.Name, PID: pid}, nil
}

// ExecArgs tokenizes the Exec line of app and expands its field codes.
// File and URL codes expand to nothing since nothing is passed to open.
func ExecArgs(app App) ([]string, error) {
	tokens, err := newExecParser().Parse(app.Exec)
	if err != nil {
		return nil, err
	}

	argv := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		switch tok {
		case "%f", "%F", "%u", "%U", "%d", "%D", "%n", "%N", "%v", "%m":
			continue
		case "%i":
			if app.IconName != "" {
				argv = append(argv, "--icon", app.IconName)
			}
			continue
		}
		argv = append(argv, expandFieldCodes(tok, app))
	}

	if len(argv) == 0 {
		return nil, apperr.New(apperr.LaunchFailed, "empty Exec line")
	}
	return argv, nil
}

func newExecParser() *shellwords.Parser {
	parser := shellwords.NewParser()
	parser.ParseEnv = false
	parser.ParseBacktick = false
	return parser
}

func processName(pid int) (string, error) {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return "", errors.Wrapf(err, "process %d", pid)
	}
	return p.Name()
}

func expandFieldCodes(tok string, app App) string {
	if !strings.Contains(tok, "%") {
		return tok
	}
	var b strings.Builder
	for i := 0; i < len(tok); i++ {
		if tok[i] != '%' || i+1 == len(tok) {
			b.WriteByte(tok[i])
			continue
		}
		i++
		switch tok[i] {
		case '%':
			b.WriteByte('%')
		case 'c':
			b.WriteString(app.Name)
		case 'k':
			b.WriteString(app.Path)
		default:
			// Unknown or file codes embedded in a word are dropped.
		}
	}
	return b.String()
}

// SpawnDetached starts argv in its own session with no terminal and reaps it
// in the background.
func SpawnDetached(argv []string, dir string) (int, error) {
	path, err := exec.LookPath(argv[0])
	if err != nil {
		return 0, err
	}

	cmd := exec.Command(path, argv[1:]...)
	cmd.Dir = dir
	cmd.Env = os.Environ()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return 0, err
	}
	go cmd.Wait()

	return cmd.Process.Pid, nil
}
