package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Probe sources accepted by Monitor.ProbeSource.
const (
	ProbeSourceUsage  = "usage"
	ProbeSourceWindow = "window"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Tracker  TrackerConfig  `yaml:"tracker"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	Scripts  ScriptsConfig  `yaml:"scripts"`
	Launcher LauncherConfig `yaml:"launcher"`
	Daemon   DaemonConfig   `yaml:"daemon"`
	Web      WebConfig      `yaml:"web"`
	Log      LogConfig      `yaml:"log"`
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Path string `yaml:"path"` // Empty means ~/.config/gamelaunch/gamelaunch.db
}

// TrackerConfig controls the usage sampler feeding the foreground probe
type TrackerConfig struct {
	SampleInterval    time.Duration `yaml:"sample_interval"`
	MinSampleInterval time.Duration `yaml:"-"`
	MaxSampleInterval time.Duration `yaml:"-"`
}

// MonitorConfig controls session exit detection
type MonitorConfig struct {
	PollInterval  time.Duration `yaml:"poll_interval"`
	ExitThreshold int           `yaml:"exit_threshold"`
	UsageWindow   time.Duration `yaml:"usage_window"`
	ProbeSource   string        `yaml:"probe_source"`
	Whitelist     []string      `yaml:"whitelist"`
	WhitelistFile string        `yaml:"whitelist_file"`
}

// ScriptsConfig controls the performance scripts
type ScriptsConfig struct {
	Dir            string   `yaml:"dir"`
	ElevateCommand []string `yaml:"elevate_command"`
	PerfOnLaunch   bool     `yaml:"perf_on_launch"`
	RestoreOnExit  bool     `yaml:"restore_on_exit"`
}

// LauncherConfig controls application discovery
type LauncherConfig struct {
	GamesOnly bool     `yaml:"games_only"`
	DataDirs  []string `yaml:"data_dirs"` // Empty means the XDG defaults
}

// DaemonConfig holds daemon process configuration
type DaemonConfig struct {
	PIDFile string `yaml:"pid_file"`
	LogFile string `yaml:"log_file"`
}

// WebConfig holds web server configuration
type WebConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Tracker: TrackerConfig{
			SampleInterval:    500 * time.Millisecond,
			MinSampleInterval: 100 * time.Millisecond,
			MaxSampleInterval: 10 * time.Second,
		},
		Monitor: MonitorConfig{
			PollInterval:  time.Second,
			ExitThreshold: 1,
			UsageWindow:   10 * time.Second,
			ProbeSource:   ProbeSourceUsage,
		},
		Scripts: ScriptsConfig{
			Dir:            filepath.Join(configDir(), "scripts"),
			ElevateCommand: []string{"sudo", "-n"},
		},
		Daemon: DaemonConfig{
			PIDFile: fmt.Sprintf("/tmp/gamelaunch-%d.pid", os.Getuid()),
			LogFile: fmt.Sprintf("/tmp/gamelaunch-%d.log", os.Getuid()),
		},
		Web: WebConfig{
			Host: "localhost",
			Port: 11000 + os.Getuid()%1000,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Tracker.SampleInterval < c.Tracker.MinSampleInterval {
		return fmt.Errorf("sample interval (%v) cannot be less than minimum (%v)",
			c.Tracker.SampleInterval, c.Tracker.MinSampleInterval)
	}
	if c.Tracker.SampleInterval > c.Tracker.MaxSampleInterval {
		return fmt.Errorf("sample interval (%v) cannot be greater than maximum (%v)",
			c.Tracker.SampleInterval, c.Tracker.MaxSampleInterval)
	}

	if c.Monitor.PollInterval <= 0 {
		return fmt.Errorf("monitor poll interval must be positive, got %v", c.Monitor.PollInterval)
	}
	if c.Monitor.ExitThreshold < 1 {
		return fmt.Errorf("exit threshold must be at least 1, got %d", c.Monitor.ExitThreshold)
	}
	if c.Monitor.UsageWindow <= 0 {
		return fmt.Errorf("usage window must be positive, got %v", c.Monitor.UsageWindow)
	}
	if c.Monitor.ProbeSource == ProbeSourceUsage && c.Monitor.UsageWindow < c.Tracker.SampleInterval {
		return fmt.Errorf("usage window (%v) cannot be shorter than the sample interval (%v)",
			c.Monitor.UsageWindow, c.Tracker.SampleInterval)
	}
	switch c.Monitor.ProbeSource {
	case ProbeSourceUsage, ProbeSourceWindow:
	default:
		return fmt.Errorf("probe source must be %q or %q, got %q",
			ProbeSourceUsage, ProbeSourceWindow, c.Monitor.ProbeSource)
	}

	if c.Scripts.Dir == "" {
		return fmt.Errorf("scripts directory cannot be empty")
	}

	if c.Web.Port < 1 || c.Web.Port > 65535 {
		return fmt.Errorf("web port must be between 1 and 65535, got %d", c.Web.Port)
	}
	if c.Web.Host == "" {
		return fmt.Errorf("web host cannot be empty")
	}

	if c.Daemon.PIDFile == "" {
		return fmt.Errorf("PID file path cannot be empty")
	}

	return nil
}

// SetPollInterval sets the monitor poll interval with validation
func (c *Config) SetPollInterval(interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %v", interval)
	}
	c.Monitor.PollInterval = interval
	return nil
}

// SetWebPort sets the web server port with validation
func (c *Config) SetWebPort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	c.Web.Port = port
	return nil
}

// Addr returns the web server listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Web.Host, c.Web.Port)
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf(`Configuration:
  Database:
    Path: %s
  Tracker:
    Sample Interval: %v
  Monitor:
    Poll Interval: %v
    Exit Threshold: %d
    Usage Window: %v
    Probe Source: %s
    Whitelist: %s
    Whitelist File: %s
  Scripts:
    Dir: %s
    Elevate Command: %s
    Perf On Launch: %v
    Restore On Exit: %v
  Launcher:
    Games Only: %v
  Daemon:
    PID File: %s
    Log File: %s
  Web:
    Host: %s
    Port: %d
  Log:
    Level: %s`,
		c.Database.Path,
		c.Tracker.SampleInterval,
		c.Monitor.PollInterval,
		c.Monitor.ExitThreshold,
		c.Monitor.UsageWindow,
		c.Monitor.ProbeSource,
		strings.Join(c.Monitor.Whitelist, ", "),
		c.Monitor.WhitelistFile,
		c.Scripts.Dir,
		strings.Join(c.Scripts.ElevateCommand, " "),
		c.Scripts.PerfOnLaunch,
		c.Scripts.RestoreOnExit,
		c.Launcher.GamesOnly,
		c.Daemon.PIDFile,
		c.Daemon.LogFile,
		c.Web.Host,
		c.Web.Port,
		c.Log.Level,
	)
}

// configDir returns ~/.config/gamelaunch, or a temp directory when the home
// directory cannot be resolved.
func configDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "gamelaunch")
	}
	return filepath.Join(os.TempDir(), "gamelaunch")
}

// DefaultPath returns the default config file location
func DefaultPath() string {
	return filepath.Join(configDir(), "config.yaml")
}
