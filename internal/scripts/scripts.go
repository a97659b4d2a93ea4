// Package scripts extracts and runs the four performance profile scripts.
package scripts

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"

	"github.com/gamelaunch/gamelaunch/internal/apperr"
)

// The four script names. No other name can be run.
const (
	RootPerf        = "root_perf.sh"
	RootBalanced    = "root_balanced_perf.sh"
	NonRootPerf     = "non_root_perf.sh"
	NonRootBalanced = "non_root_balanced_perf.sh"
)

const (
	outputTail = 512
	scriptMode = 0o755
	dirMode    = 0o700
)

// Names lists the script names in extraction order.
var Names = []string{RootPerf, RootBalanced, NonRootPerf, NonRootBalanced}

// PerfScript returns the performance variant for the given privilege.
func PerfScript(rooted bool) string {
	if rooted {
		return RootPerf
	}
	return NonRootPerf
}

// BalancedScript returns the balanced variant for the given privilege.
func BalancedScript(rooted bool) string {
	if rooted {
		return RootBalanced
	}
	return NonRootBalanced
}

// ScriptSet holds the four script bodies.
type ScriptSet struct {
	RootPerf        string `json:"root_perf"`
	RootBalanced    string `json:"root_balanced_perf"`
	NonRootPerf     string `json:"non_root_perf"`
	NonRootBalanced string `json:"non_root_balanced_perf"`
}

func (s ScriptSet) bodies() map[string]string {
	return map[string]string{
		RootPerf:        s.RootPerf,
		RootBalanced:    s.RootBalanced,
		NonRootPerf:     s.NonRootPerf,
		NonRootBalanced: s.NonRootBalanced,
	}
}

// RootChecker reports whether scripts should run elevated.
type RootChecker interface {
	IsRoot(ctx context.Context) bool
}

// Executor runs argv and returns its combined output. A non-zero exit is
// reported as an *exec.ExitError.
type Executor interface {
	Execute(ctx context.Context, argv []string) ([]byte, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, argv []string) ([]byte, error)

func (f ExecutorFunc) Execute(ctx context.Context, argv []string) ([]byte, error) {
	return f(ctx, argv)
}

// CommandExecutor runs argv with os/exec.
type CommandExecutor struct{}

func (CommandExecutor) Execute(ctx context.Context, argv []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}

type Runner struct {
	dir      string
	elevate  []string
	root     RootChecker
	executor Executor
	logger   *slog.Logger
}

// NewRunner creates a runner for scripts in dir. elevate is the command
// prefix used when root is available, e.g. ["sudo", "-n"].
func NewRunner(dir string, elevate []string, root RootChecker, executor Executor, logger *slog.Logger) *Runner {
	if executor == nil {
		executor = CommandExecutor{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		dir:      dir,
		elevate:  elevate,
		root:     root,
		executor: executor,
		logger:   logger.With("component", "scripts"),
	}
}

func (r *Runner) Dir() string {
	return r.dir
}

// AreExtracted reports whether all four scripts exist.
func (r *Runner) AreExtracted() bool {
	for _, name := range Names {
		if _, err := os.Stat(filepath.Join(r.dir, name)); err != nil {
			return false
		}
	}
	return true
}

// Extract writes the four scripts, replacing existing ones.
func (r *Runner) Extract(set ScriptSet) error {
	bodies := set.bodies()
	for _, name := range Names {
		if strings.TrimSpace(bodies[name]) == "" {
			return apperr.New(apperr.InvalidArgument, "script body for %s is empty", name)
		}
	}

	if err := os.MkdirAll(r.dir, dirMode); err != nil {
		return apperr.Wrap(errors.Wrap(err, "create scripts directory"), apperr.Internal, r.dir)
	}

	for _, name := range Names {
		path := filepath.Join(r.dir, name)
		if err := writeExecutable(path, bodies[name]); err != nil {
			return apperr.Wrap(err, apperr.Internal, "write "+name)
		}
	}
	r.logger.Info("scripts extracted", "dir", r.dir)
	return nil
}

// writeExecutable installs body at path through a temp file and rename.
func writeExecutable(path, body string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(body); err != nil {
		tmp.Close()
		return errors.Wrap(err, "write script")
	}
	if err := tmp.Chmod(scriptMode); err != nil {
		tmp.Close()
		return errors.Wrap(err, "chmod script")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close script")
	}
	return errors.Wrap(os.Rename(tmp.Name(), path), "install script")
}

// Run executes the named script, elevated when root is available. It blocks
// until the script exits.
func (r *Runner) Run(ctx context.Context, name string) error {
	if !isKnown(name) {
		return apperr.New(apperr.ScriptMissing, "unknown script %q", name)
	}

	path := filepath.Join(r.dir, name)
	if _, err := os.Stat(path); err != nil {
		return apperr.New(apperr.ScriptMissing, "script %s does not exist", name)
	}

	argv := []string{"sh", path}
	rooted := r.root != nil && r.root.IsRoot(ctx)
	if rooted && os.Geteuid() != 0 && len(r.elevate) > 0 {
		argv = append(append([]string{}, r.elevate...), argv...)
	}

	r.logger.Info("running script", "script", name, "rooted", rooted)
	out, err := r.executor.Execute(ctx, argv)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return apperr.New(apperr.ExecutionError, "%s exited with status %d: %s",
				name, exitErr.ExitCode(), tail(out))
		}
		return apperr.Wrap(err, apperr.ExecutionError, "run "+name)
	}

	r.logger.Debug("script finished", "script", name)
	return nil
}

func isKnown(name string) bool {
	for _, n := range Names {
		if n == name {
			return true
		}
	}
	return false
}

func tail(out []byte) string {
	s := strings.TrimSpace(string(out))
	if len(s) > outputTail {
		s = s[len(s)-outputTail:]
		for len(s) > 0 && !utf8.RuneStart(s[0]) {
			s = s[1:]
		}
		s = "..." + s
	}
	return s
}
