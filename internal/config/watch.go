package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	appLog "calwatch/internal/log"
	"calwatch/internal/model"
	"calwatch/internal/settings"
)

// ApplySettings pushes the user-level fields of cfg into the settings store.
// A calendar whose name and uri are unchanged keeps its recorded error.
func ApplySettings(cfg *Config, store settings.Store) error {
	var current []model.CalendarConfig
	if _, err := settings.GetJSON(store, settings.KeyCalendars, &current); err != nil {
		appLog.Warn("stored calendars unreadable, replacing", "err", err)
		current = nil
	}
	lastErr := make(map[CalendarConfig]string, len(current))
	for _, c := range current {
		lastErr[CalendarConfig{Name: c.Name, URI: c.URI}] = c.LastError
	}

	calendars := make([]model.CalendarConfig, 0, len(cfg.Calendars))
	for _, c := range cfg.Calendars {
		calendars = append(calendars, model.CalendarConfig{Name: c.Name, URI: c.URI, LastError: lastErr[c]})
	}

	var errs []error
	set := func(key string, v any) {
		if err := settings.SetJSON(store, key, v); err != nil {
			errs = append(errs, err)
		}
	}
	set(settings.KeyCalendars, calendars)
	set(settings.KeyEventLimit, cfg.EventLimit)
	set(settings.KeyNextEventTokensPerCalendar, cfg.NextEventTokensPerCalendar)
	set(settings.KeyDateFormat, cfg.DateFormat)
	set(settings.KeyTimeFormat, cfg.TimeFormat)
	return errors.Join(errs...)
}

// Watcher reloads the config file when it changes on disk.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onChange func(*Config)
	delay    time.Duration

	mu    sync.Mutex
	timer *time.Timer
	done  chan struct{}
}

// Watch starts watching path. The parent directory is watched because Save
// replaces the file by rename. onChange receives every successfully parsed
// new version.
func Watch(path string, onChange func(*Config)) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	w := &Watcher{
		path:     abs,
		watcher:  fw,
		onChange: onChange,
		delay:    200 * time.Millisecond,
		done:     make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			appLog.Warn("config watcher error", "err", err)

		case <-w.done:
			return
		}
	}
}

// schedule coalesces bursts of events (editors write in several steps).
func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.delay, w.reload)
}

func (w *Watcher) reload() {
	// Load would recreate a missing file with defaults.
	if _, err := os.Stat(w.path); err != nil {
		appLog.Warn("config file gone, keeping current settings", "path", w.path, "err", err)
		return
	}
	cfg, err := Load(w.path)
	if err != nil {
		appLog.Error("config reload failed", err, "path", w.path)
		return
	}
	appLog.Info("config reloaded", "path", w.path, "calendars", len(cfg.Calendars))
	if w.onChange != nil {
		w.onChange(cfg)
	}
}

func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	close(w.done)
	return w.watcher.Close()
}
