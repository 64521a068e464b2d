package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"calwatch/internal/flow"
	"calwatch/internal/model"
)

const (
	DefaultPath        = "/etc/calwatch/config.yaml"
	DefaultListen      = "127.0.0.1:8080"
	DefaultRefreshCron = "*/15 * * * *"
	DefaultScanCron    = "* * * * *"
	DefaultLogLevel    = "info"
)

// CalendarConfig is one subscribed feed as written in the config file.
type CalendarConfig struct {
	Name string `yaml:"name" json:"name"`
	URI  string `yaml:"uri" json:"uri"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// TelegramConfig enables delivery of fired triggers to a Telegram chat.
type TelegramConfig struct {
	Token  string `yaml:"token" json:"-"`
	ChatID int64  `yaml:"chat_id" json:"chat_id"`
}

func (t TelegramConfig) Enabled() bool { return t.Token != "" && t.ChatID != 0 }

// Config is the top-level process configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone used for day boundaries and cron schedules.
	Timezone string `yaml:"timezone" json:"timezone"`

	// RefreshCron schedules the calendar refresh, ScanCron the token and
	// trigger scan. The scan must run at least once a minute.
	RefreshCron string `yaml:"refresh" json:"refresh"`
	ScanCron    string `yaml:"scan" json:"scan"`

	// FetchTimeout bounds a single feed download.
	FetchTimeout time.Duration `yaml:"fetch_timeout" json:"fetch_timeout"`

	// CacheDir holds conditional-request metadata and bodies. Empty disables it.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// SettingsDB is the sqlite file backing the settings store.
	SettingsDB string `yaml:"settings_db" json:"settings_db"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	// User-level settings. These are pushed into the settings store on load
	// and whenever the file changes.
	Calendars                  []CalendarConfig `yaml:"calendars" json:"calendars"`
	EventLimit                 model.EventLimit `yaml:"event_limit" json:"event_limit"`
	NextEventTokensPerCalendar bool             `yaml:"next_event_tokens_per_calendar" json:"next_event_tokens_per_calendar"`
	DateFormat                 string           `yaml:"date_format" json:"date_format"`
	TimeFormat                 string           `yaml:"time_format" json:"time_format"`

	// Subscriptions are the automations listening on trigger cards.
	Subscriptions []flow.Subscription `yaml:"subscriptions" json:"subscriptions"`

	Telegram  TelegramConfig `yaml:"telegram" json:"telegram"`
	SentryDSN string         `yaml:"sentry_dsn" json:"-"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"-"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:        DefaultListen,
		Timezone:      "UTC",
		RefreshCron:   DefaultRefreshCron,
		ScanCron:      DefaultScanCron,
		FetchTimeout:  20 * time.Second,
		CacheDir:      "/var/cache/calwatch",
		SettingsDB:    "/var/lib/calwatch/settings.db",
		LogLevel:      DefaultLogLevel,
		Calendars:     []CalendarConfig{},
		EventLimit:    model.DefaultEventLimit(),
		DateFormat:    "Monday 2 January 2006",
		TimeFormat:    "15:04",
		Subscriptions: []flow.Subscription{},
	}
}

// Normalize fills in missing or invalid values with defaults so that
// partially-filled configs still behave.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if strings.TrimSpace(c.RefreshCron) == "" {
		c.RefreshCron = def.RefreshCron
	}
	if strings.TrimSpace(c.ScanCron) == "" {
		c.ScanCron = def.ScanCron
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = def.FetchTimeout
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.Calendars == nil {
		c.Calendars = []CalendarConfig{}
	}
	for i := range c.Calendars {
		c.Calendars[i].Name = strings.TrimSpace(c.Calendars[i].Name)
		c.Calendars[i].URI = strings.TrimSpace(c.Calendars[i].URI)
	}
	c.EventLimit = c.EventLimit.Normalize()
	if c.DateFormat == "" {
		c.DateFormat = def.DateFormat
	}
	if c.TimeFormat == "" {
		c.TimeFormat = def.TimeFormat
	}
	if c.Subscriptions == nil {
		c.Subscriptions = []flow.Subscription{}
	}
}

// Location resolves Timezone, falling back to UTC for unknown zones.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ApplyEnv overrides fields from CALWATCH_* environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("CALWATCH_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("CALWATCH_TELEGRAM_TOKEN"); v != "" {
		c.Telegram.Token = v
	}
	if v := os.Getenv("CALWATCH_SENTRY_DSN"); v != "" {
		c.SentryDSN = v
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - Otherwise the YAML is read, unmarshalled and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg to path atomically via a temp file and rename, with 0600
// permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".calwatch-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func (c *Config) Save(path string) error {
	return Save(path, c)
}
