// Package engine owns the refresh cycle: fetching every configured calendar,
// updating the store, announcing changes and keeping the tokens in step.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"calwatch/internal/diff"
	"calwatch/internal/flow"
	"calwatch/internal/ics"
	appLog "calwatch/internal/log"
	"calwatch/internal/model"
	"calwatch/internal/settings"
	"calwatch/internal/store"
	"calwatch/internal/telemetry"
	"calwatch/internal/tokens"
	"calwatch/internal/triggers"
)

var ErrRefreshInFlight = errors.New("refresh already in progress")

// Fetcher downloads and parses one calendar feed.
type Fetcher interface {
	FetchCalendar(ctx context.Context, name, uri string) ([]ics.ParsedEvent, error)
}

type Status string

const (
	StatusOK      Status = "ok"
	StatusSkipped Status = "skipped"
	StatusInvalid Status = "invalid"
	StatusFailed  Status = "failed"
)

// CalendarResult is the outcome of one calendar within a refresh.
type CalendarResult struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
	Events int    `json:"events"`
	Error  string `json:"error,omitempty"`
}

// BatchResult summarizes one refresh pass.
type BatchResult struct {
	RunID     string           `json:"run_id"`
	Started   time.Time        `json:"started"`
	Finished  time.Time        `json:"finished"`
	Calendars []CalendarResult `json:"calendars"`
	Changed   []string         `json:"changed,omitempty"`
	Added     int              `json:"added"`
}

type Options struct {
	Settings  settings.Store
	Fetcher   Fetcher
	Store     *store.Store
	Projector *tokens.Projector
	Cards     *flow.Cards
	Reporter  telemetry.Reporter
	Location  *time.Location
	Now       func() time.Time
}

// Engine holds all mutable refresh state. Construct one per process.
type Engine struct {
	settings  settings.Store
	fetcher   Fetcher
	store     *store.Store
	projector *tokens.Projector
	cards     *flow.Cards
	scanner   *triggers.Scanner
	reporter  telemetry.Reporter
	loc       *time.Location
	now       func() time.Time

	refreshing atomic.Bool
}

func New(opts Options) *Engine {
	e := &Engine{
		settings:  opts.Settings,
		fetcher:   opts.Fetcher,
		store:     opts.Store,
		projector: opts.Projector,
		cards:     opts.Cards,
		reporter:  opts.Reporter,
		loc:       opts.Location,
		now:       opts.Now,
	}
	if e.reporter == nil {
		e.reporter = telemetry.Log{}
	}
	if e.loc == nil {
		e.loc = time.Local
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.store == nil {
		e.store = store.New()
	}
	e.scanner = triggers.NewScanner(e.cards, e.reporter)
	return e
}

func (e *Engine) Store() *store.Store { return e.store }

func (e *Engine) Location() *time.Location { return e.loc }

// Now is the engine clock in the configured location.
func (e *Engine) Now() time.Time { return e.now().In(e.loc) }

func (e *Engine) Refreshing() bool { return e.refreshing.Load() }

// Configs returns the configured calendars including their last errors.
func (e *Engine) Configs() ([]model.CalendarConfig, error) {
	var configs []model.CalendarConfig
	if _, err := settings.GetJSON(e.settings, settings.KeyCalendars, &configs); err != nil {
		return nil, err
	}
	return configs, nil
}

// EventLimit reads the configured limit, falling back to the default.
func (e *Engine) EventLimit() model.EventLimit {
	limit := model.DefaultEventLimit()
	if _, err := settings.GetJSON(e.settings, settings.KeyEventLimit, &limit); err != nil {
		appLog.Warn("event limit unreadable, using default", "err", err)
		return model.DefaultEventLimit()
	}
	return limit.Normalize()
}

// NextEventTokensPerCalendar reports whether per-calendar next-event tokens
// are enabled.
func (e *Engine) NextEventTokensPerCalendar() bool {
	var on bool
	if _, err := settings.GetJSON(e.settings, settings.KeyNextEventTokensPerCalendar, &on); err != nil {
		appLog.Warn("per-calendar token flag unreadable", "err", err)
		return false
	}
	return on
}

// LoadFormat pushes the configured date and time layouts to the projector.
func (e *Engine) LoadFormat() tokens.Format {
	var f tokens.Format
	if _, err := settings.GetJSON(e.settings, settings.KeyDateFormat, &f.Date); err != nil {
		appLog.Warn("date format unreadable", "err", err)
	}
	if _, err := settings.GetJSON(e.settings, settings.KeyTimeFormat, &f.Time); err != nil {
		appLog.Warn("time format unreadable", "err", err)
	}
	e.projector.SetFormat(f)
	return e.projector.Format()
}

// Refresh runs one full pass over the configured calendars. It never fails
// because of a single calendar; those failures land in the calendar's
// LastError and in the result. The only error is ErrRefreshInFlight.
func (e *Engine) Refresh(ctx context.Context, reregister bool) (BatchResult, error) {
	if !e.refreshing.CompareAndSwap(false, true) {
		return BatchResult{}, ErrRefreshInFlight
	}
	defer e.refreshing.Store(false)

	res := BatchResult{RunID: uuid.NewString(), Started: e.Now()}
	run := res.RunID

	configs, err := e.Configs()
	if err != nil {
		appLog.Error("read calendars failed", err, "run", run)
		e.reporter.Capture(err, "run", run, "op", "read_calendars")
		res.Finished = e.Now()
		return res, nil
	}
	limit := e.EventLimit()
	now := e.Now()
	appLog.Info("refresh started", "run", run, "calendars", len(configs), "limit", fmt.Sprintf("%d %s", limit.Value, limit.Type))

	var calendars []model.CalendarEvents
	lastErr := make(map[calendarKey]string)
	for i := range configs {
		cfg := &configs[i]
		cr, events, keep := e.refreshOne(ctx, run, cfg, limit, now)
		res.Calendars = append(res.Calendars, cr)
		if keep {
			calendars = append(calendars, model.CalendarEvents{Name: cfg.Name, Events: events})
		}
		if cr.Status != StatusSkipped && cfg.LastError != cr.Error {
			lastErr[calendarKey{cfg.Name, cfg.URI}] = cr.Error
		}
	}
	if len(lastErr) > 0 {
		e.writeErrors(run, lastErr)
	}

	prev := diff.Snapshot{}
	if _, err := settings.GetJSON(e.settings, settings.KeyEventUIDs, &prev); err != nil {
		appLog.Warn("event snapshot unreadable, treating as first run", "run", run, "err", err)
		prev = diff.Snapshot{}
	}

	e.store.SetAll(calendars)
	stored := e.store.Calendars()

	changes := diff.Compare(prev, stored)
	res.Changed = changes.Changed
	res.Added = len(changes.Added)
	e.announce(ctx, run, changes)

	if err := settings.SetJSON(e.settings, settings.KeyEventUIDs, diff.SnapshotOf(stored)); err != nil {
		appLog.Error("persist event snapshot failed", err, "run", run)
		e.reporter.Capture(err, "run", run, "op", "write_snapshot")
	}

	if reregister {
		if err := e.projector.Rebuild(e.store.Names(), e.NextEventTokensPerCalendar()); err != nil {
			appLog.Error("token rebuild incomplete", err, "run", run)
		}
		e.projector.Refresh(e.store, now)
	}

	res.Finished = e.Now()
	appLog.Info("refresh finished", "run", run,
		"calendars", len(stored),
		"events", e.store.Len(),
		"changed", len(res.Changed),
		"added", res.Added,
		"took", res.Finished.Sub(res.Started).Round(time.Millisecond),
	)
	return res, nil
}

type calendarKey struct{ name, uri string }

// writeErrors merges the recorded errors into the calendars as stored now.
// The list may have been edited while the pass ran; entries whose name or
// uri changed are left alone.
func (e *Engine) writeErrors(run string, lastErr map[calendarKey]string) {
	current, err := e.Configs()
	if err != nil {
		appLog.Error("re-read calendars failed", err, "run", run)
		e.reporter.Capture(err, "run", run, "op", "read_calendars")
		return
	}
	dirty := false
	for i := range current {
		msg, ok := lastErr[calendarKey{current[i].Name, current[i].URI}]
		if ok && current[i].LastError != msg {
			current[i].LastError = msg
			dirty = true
		}
	}
	if !dirty {
		return
	}
	if err := settings.SetJSON(e.settings, settings.KeyCalendars, current); err != nil {
		appLog.Error("write calendar errors failed", err, "run", run)
		e.reporter.Capture(err, "run", run, "op", "write_calendars")
	}
}

// refreshOne handles a single calendar. keep reports whether the calendar
// belongs in the store afterwards, with events as its list.
func (e *Engine) refreshOne(ctx context.Context, run string, cfg *model.CalendarConfig, limit model.EventLimit, now time.Time) (CalendarResult, []model.Occurrence, bool) {
	cr := CalendarResult{Name: cfg.Name}

	uri, err := ics.NormalizeURI(cfg.URI)
	switch {
	case errors.Is(err, ics.ErrEmptyURI):
		appLog.Info("calendar has empty uri, skipping", "run", run, "calendar", cfg.Name)
		cr.Status = StatusSkipped
		prev, ok := e.store.Events(cfg.Name)
		cr.Events = len(prev)
		return cr, prev, ok
	case err != nil:
		cr.Status = StatusInvalid
		cr.Error = fmt.Sprintf("Uri for calendar '%s' is invalid", cfg.Name)
		appLog.Warn("calendar uri invalid, skipping", "run", run, "calendar", cfg.Name)
		return cr, nil, false
	}

	parsed, err := e.fetcher.FetchCalendar(ctx, cfg.Name, uri)
	if err != nil {
		cr.Status = StatusFailed
		cr.Error = err.Error()
		appLog.Error("calendar fetch failed", err, "run", run, "calendar", cfg.Name, "uri", appLog.RedactURL(uri))
		prev, ok := e.store.Events(cfg.Name)
		cr.Events = len(prev)
		return cr, prev, ok
	}

	events := ics.ActiveEvents(parsed, limit, now, e.loc)
	cr.Status = StatusOK
	cr.Events = len(events)
	appLog.Info("calendar updated", "run", run, "calendar", cfg.Name, "events", len(events))
	return cr, events, true
}

func (e *Engine) announce(ctx context.Context, run string, changes diff.Result) {
	for _, name := range changes.Changed {
		e.fire(ctx, run, flow.CardCalendarChanged, flow.Tokens{"calendar_name": name})
	}
	for _, a := range changes.Added {
		e.fire(ctx, run, flow.CardEventAdded, triggers.Payload(a.CalendarName, a.Event))
	}
}

func (e *Engine) fire(ctx context.Context, run, cardID string, tok flow.Tokens) {
	card, err := e.cards.Get(cardID)
	if err == nil {
		_, err = card.Trigger(ctx, tok, flow.State{})
	}
	if err != nil {
		appLog.Error("trigger failed", err, "run", run, "card", cardID)
		e.reporter.Capture(err, "run", run, "card", cardID)
		return
	}
	appLog.Info("triggered", "run", run, "card", cardID, "tokens", tok.String())
}

// Tick refreshes the published tokens and then scans for triggers. It does
// nothing while a refresh is running.
func (e *Engine) Tick(ctx context.Context, now time.Time) {
	if e.Refreshing() {
		appLog.Debug("tick skipped, refresh in progress")
		return
	}
	now = now.In(e.loc)
	if failed := e.projector.Refresh(e.store, now); failed > 0 {
		appLog.Warn("some tokens were not updated", "failed", failed)
	}
	e.scanner.Scan(ctx, e.store, now)
}
