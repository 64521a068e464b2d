// Package scheduler drives the engine: a slow calendar refresh, a per-minute
// token and trigger scan, and refreshes on settings changes.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"calwatch/internal/engine"
	appLog "calwatch/internal/log"
	"calwatch/internal/model"
	"calwatch/internal/settings"
	"calwatch/internal/tokens"
)

const (
	DefaultRefreshSpec = "*/15 * * * *"
	DefaultScanSpec    = "* * * * *"

	settingsDebounce = 500 * time.Millisecond
)

// Runner is the part of the engine the scheduler drives.
type Runner interface {
	Refresh(ctx context.Context, reregister bool) (engine.BatchResult, error)
	Tick(ctx context.Context, now time.Time)
	Refreshing() bool
	LoadFormat() tokens.Format
	Configs() ([]model.CalendarConfig, error)
	Now() time.Time
}

type Config struct {
	RefreshSpec string
	ScanSpec    string
	Location    *time.Location
}

type Scheduler struct {
	cron     *cron.Cron
	runner   Runner
	settings settings.Store
	cfg      Config
	delay    time.Duration

	mu        sync.Mutex
	ctx       context.Context
	debounce  *time.Timer
	calendars string
}

func New(cfg Config, runner Runner, store settings.Store) *Scheduler {
	if cfg.RefreshSpec == "" {
		cfg.RefreshSpec = DefaultRefreshSpec
	}
	if cfg.ScanSpec == "" {
		cfg.ScanSpec = DefaultScanSpec
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}

	logger := cronLogger{}
	c := cron.New(
		cron.WithLocation(cfg.Location),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	return &Scheduler{
		cron:     c,
		runner:   runner,
		settings: store,
		cfg:      cfg,
		delay:    settingsDebounce,
		ctx:      context.Background(),
	}
}

// Start registers both jobs, subscribes to settings changes, starts the
// cron runner and then kicks off the initial refresh with token
// registration. The scan job does not wait for that refresh. Start blocks
// until ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.calendars = s.calendarSignature()
	s.mu.Unlock()

	if _, err := s.cron.AddFunc(s.cfg.RefreshSpec, func() { s.refresh(false) }); err != nil {
		return fmt.Errorf("add refresh job: %w", err)
	}
	if _, err := s.cron.AddFunc(s.cfg.ScanSpec, s.scan); err != nil {
		return fmt.Errorf("add scan job: %w", err)
	}
	s.settings.OnSet(s.onSettingChanged)

	s.runner.LoadFormat()
	s.cron.Start()
	appLog.Info("scheduler started", "tz", s.cfg.Location.String(), "refresh", s.cfg.RefreshSpec, "scan", s.cfg.ScanSpec)

	go s.refresh(true)

	<-ctx.Done()
	return nil
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.debounce != nil {
		s.debounce.Stop()
	}
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	appLog.Info("scheduler stopped")
}

func (s *Scheduler) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

func (s *Scheduler) refresh(reregister bool) {
	_, err := s.runner.Refresh(s.context(), reregister)
	if errors.Is(err, engine.ErrRefreshInFlight) {
		appLog.Info("refresh skipped, another one is running")
	}
}

func (s *Scheduler) scan() {
	s.runner.Tick(s.context(), s.runner.Now())
}

func (s *Scheduler) onSettingChanged(key string) {
	switch key {
	case settings.KeyCalendars:
		// The engine writes per-calendar errors back under the same key;
		// only a change of names or uris warrants a new pass.
		sig := s.calendarSignature()
		s.mu.Lock()
		same := sig == s.calendars
		s.calendars = sig
		s.mu.Unlock()
		if same {
			return
		}
		s.scheduleRefresh(key)
	case settings.KeyEventLimit, settings.KeyNextEventTokensPerCalendar:
		s.scheduleRefresh(key)
	case settings.KeyDateFormat, settings.KeyTimeFormat:
		f := s.runner.LoadFormat()
		appLog.Info("date/time format updated", "date", f.Date, "time", f.Time)
	}
}

func (s *Scheduler) scheduleRefresh(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.debounce != nil {
		s.debounce.Stop()
	}
	s.debounce = time.AfterFunc(s.delay, func() {
		if s.runner.Refreshing() {
			appLog.Info("settings refresh dropped, refresh in progress", "setting", key)
			return
		}
		appLog.Info("settings changed, refreshing with token registration", "setting", key)
		s.refresh(true)
	})
}

func (s *Scheduler) calendarSignature() string {
	configs, err := s.runner.Configs()
	if err != nil {
		appLog.Warn("read calendars failed", "err", err)
		return ""
	}
	var b strings.Builder
	for _, c := range configs {
		b.WriteString(c.Name)
		b.WriteByte(0)
		b.WriteString(c.URI)
		b.WriteByte('\n')
	}
	return b.String()
}

// cronLogger adapts the app logger to cron.Logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...any) {
	appLog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...any) {
	appLog.Error("cron: "+msg, err, kv...)
}
