package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const whitelistDebounce = 250 * time.Millisecond

// ReadWhitelistFile parses a YAML list of application identifiers. A missing
// file yields an empty list.
func ReadWhitelistFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "read whitelist file")
	}

	var ids []string
	if err := yaml.Unmarshal(data, &ids); err != nil {
		return nil, errors.Wrapf(err, "parse whitelist file %s", path)
	}

	out := ids[:0]
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out, nil
}

// WatchWhitelist feeds every entry of the whitelist file to add, once at
// start and again after each change to the file. Entries removed from the
// file are not taken back. It blocks until ctx is cancelled.
func WatchWhitelist(ctx context.Context, path string, add func(id string), logger *slog.Logger) error {
	target := filepath.Clean(path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create whitelist watcher")
	}
	defer watcher.Close()

	// Watch the directory so editors that replace the file are still seen.
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return errors.Wrapf(err, "watch %s", filepath.Dir(target))
	}

	load := func() {
		ids, err := ReadWhitelistFile(target)
		if err != nil {
			logger.Warn("whitelist file not applied", "path", target, "err", err)
			return
		}
		for _, id := range ids {
			add(id)
		}
		logger.Debug("whitelist file applied", "path", target, "entries", len(ids))
	}
	load()

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(whitelistDebounce)
				timerCh = timer.C
			} else {
				timer.Reset(whitelistDebounce)
			}
		case <-timerCh:
			timer = nil
			timerCh = nil
			load()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("whitelist watcher error", "err", err)
		}
	}
}
