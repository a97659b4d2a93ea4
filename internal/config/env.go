package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// LoadFromEnv loads configuration from environment variables
// Environment variables override default and file values
func LoadFromEnv(cfg *Config) {
	if dbPath := os.Getenv("GAMELAUNCH_DB_PATH"); dbPath != "" {
		cfg.Database.Path = dbPath
	}

	if v := os.Getenv("GAMELAUNCH_SAMPLE_INTERVAL"); v != "" {
		if interval, ok := parseInterval(v); ok &&
			interval >= cfg.Tracker.MinSampleInterval && interval <= cfg.Tracker.MaxSampleInterval {
			cfg.Tracker.SampleInterval = interval
		}
	}

	if v := os.Getenv("GAMELAUNCH_POLL_INTERVAL"); v != "" {
		if interval, ok := parseInterval(v); ok {
			cfg.Monitor.PollInterval = interval
		}
	}

	if v := os.Getenv("GAMELAUNCH_EXIT_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Monitor.ExitThreshold = n
		}
	}

	if v := os.Getenv("GAMELAUNCH_USAGE_WINDOW"); v != "" {
		if window, ok := parseInterval(v); ok {
			cfg.Monitor.UsageWindow = window
		}
	}

	if v := os.Getenv("GAMELAUNCH_PROBE_SOURCE"); v != "" {
		cfg.Monitor.ProbeSource = strings.ToLower(v)
	}

	// Comma separated, appended to whatever the file configured
	if v := os.Getenv("GAMELAUNCH_WHITELIST"); v != "" {
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				cfg.Monitor.Whitelist = append(cfg.Monitor.Whitelist, id)
			}
		}
	}

	if v := os.Getenv("GAMELAUNCH_WHITELIST_FILE"); v != "" {
		cfg.Monitor.WhitelistFile = v
	}

	if v := os.Getenv("GAMELAUNCH_SCRIPTS_DIR"); v != "" {
		cfg.Scripts.Dir = v
	}

	if v := os.Getenv("GAMELAUNCH_ELEVATE_COMMAND"); v != "" {
		cfg.Scripts.ElevateCommand = strings.Fields(v)
	}

	if v := os.Getenv("GAMELAUNCH_PERF_ON_LAUNCH"); v != "" {
		if val, err := strconv.ParseBool(v); err == nil {
			cfg.Scripts.PerfOnLaunch = val
		}
	}

	if v := os.Getenv("GAMELAUNCH_RESTORE_ON_EXIT"); v != "" {
		if val, err := strconv.ParseBool(v); err == nil {
			cfg.Scripts.RestoreOnExit = val
		}
	}

	if v := os.Getenv("GAMELAUNCH_GAMES_ONLY"); v != "" {
		if val, err := strconv.ParseBool(v); err == nil {
			cfg.Launcher.GamesOnly = val
		}
	}

	if pidFile := os.Getenv("GAMELAUNCH_PID_FILE"); pidFile != "" {
		cfg.Daemon.PIDFile = pidFile
	}

	if logFile := os.Getenv("GAMELAUNCH_LOG_FILE"); logFile != "" {
		cfg.Daemon.LogFile = logFile
	}

	if webHost := os.Getenv("GAMELAUNCH_WEB_HOST"); webHost != "" {
		cfg.Web.Host = webHost
	}

	if webPort := os.Getenv("GAMELAUNCH_WEB_PORT"); webPort != "" {
		if port, err := strconv.Atoi(webPort); err == nil && port > 0 && port <= 65535 {
			cfg.Web.Port = port
		}
	}

	if level := os.Getenv("GAMELAUNCH_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
}

// parseInterval accepts a Go duration ("750ms") or a plain number of seconds.
func parseInterval(v string) (time.Duration, bool) {
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d, true
	}
	if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second, true
	}
	return 0, false
}

// LoadFile overlays the YAML file at path onto cfg. Keys missing from the
// file keep their current value. A missing file is not an error.
func LoadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "read config file")
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return errors.Wrapf(err, "parse config file %s", path)
	}
	return nil
}

// New builds the configuration from defaults, the config file at path
// (DefaultPath when empty) and then the environment.
func New(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("GAMELAUNCH_CONFIG")
	}
	if path == "" {
		path = DefaultPath()
	}

	cfg := Default()
	if err := LoadFile(cfg, path); err != nil {
		return nil, err
	}
	LoadFromEnv(cfg)
	return cfg, nil
}
