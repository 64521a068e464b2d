package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"calwatch/internal/model"
	"calwatch/internal/settings"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Listen != DefaultListen || cfg.ScanCron != DefaultScanCron {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestLoadNormalizes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
timezone: Europe/Oslo
fetch_timeout: 5s
calendars:
  - name: " work "
    uri: webcal://example.com/work.ics
event_limit:
  value: -2
  type: days
subscriptions:
  - id: heads-up
    card: event_starts_in
    args: {when: 1, unit: hours}
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.FetchTimeout != 5*time.Second {
		t.Errorf("FetchTimeout = %v", cfg.FetchTimeout)
	}
	if cfg.Calendars[0].Name != "work" {
		t.Errorf("name not trimmed: %q", cfg.Calendars[0].Name)
	}
	if cfg.EventLimit != model.DefaultEventLimit() {
		t.Errorf("EventLimit = %+v", cfg.EventLimit)
	}
	if cfg.Subscriptions[0].Args.Minutes() != 60 {
		t.Errorf("subscription args = %+v", cfg.Subscriptions[0].Args)
	}
	if cfg.Location().String() != "Europe/Oslo" {
		t.Errorf("Location() = %v", cfg.Location())
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.Calendars = []CalendarConfig{{Name: "home", URI: "https://example.com/home.ics"}}
	cfg.FetchTimeout = 45 * time.Second

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(got.Calendars) != 1 || got.Calendars[0].URI != "https://example.com/home.ics" || got.FetchTimeout != 45*time.Second {
		t.Errorf("round trip = %+v", got)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("CALWATCH_LISTEN", ":9999")
	t.Setenv("CALWATCH_TELEGRAM_TOKEN", "tok")
	cfg := DefaultConfig()
	cfg.ApplyEnv()
	if cfg.Listen != ":9999" || cfg.Telegram.Token != "tok" {
		t.Errorf("env not applied: %+v", cfg)
	}
}

func TestApplySettingsKeepsErrors(t *testing.T) {
	store := settings.NewMemory()
	_ = settings.SetJSON(store, settings.KeyCalendars, []model.CalendarConfig{
		{Name: "work", URI: "https://example.com/work.ics", LastError: "404 Not Found"},
		{Name: "old", URI: "https://example.com/old.ics", LastError: "timeout"},
	})

	cfg := DefaultConfig()
	cfg.Calendars = []CalendarConfig{
		{Name: "work", URI: "https://example.com/work.ics"},
		{Name: "old", URI: "https://example.com/moved.ics"},
	}
	cfg.NextEventTokensPerCalendar = true
	if err := ApplySettings(cfg, store); err != nil {
		t.Fatalf("ApplySettings() error = %v", err)
	}

	var got []model.CalendarConfig
	_, _ = settings.GetJSON(store, settings.KeyCalendars, &got)
	if got[0].LastError != "404 Not Found" {
		t.Errorf("unchanged calendar lost its error: %+v", got[0])
	}
	if got[1].LastError != "" {
		t.Errorf("changed calendar kept a stale error: %+v", got[1])
	}
	var flag bool
	_, _ = settings.GetJSON(store, settings.KeyNextEventTokensPerCalendar, &flag)
	if !flag {
		t.Error("flag not applied")
	}
}

func TestWatchReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := Save(path, DefaultConfig()); err != nil {
		t.Fatal(err)
	}

	changes := make(chan *Config, 4)
	w, err := Watch(path, func(c *Config) { changes <- c })
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	defer w.Close()

	cfg := DefaultConfig()
	cfg.Calendars = []CalendarConfig{{Name: "new", URI: "https://example.com/new.ics"}}
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}

	select {
	case c := <-changes:
		if len(c.Calendars) != 1 || c.Calendars[0].Name != "new" {
			t.Errorf("reloaded config = %+v", c.Calendars)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload after write")
	}
}
