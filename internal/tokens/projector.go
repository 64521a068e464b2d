package tokens

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"calwatch/internal/flow"
	appLog "calwatch/internal/log"
	"calwatch/internal/store"
	"calwatch/internal/telemetry"
)

// Publisher creates tokens on the automation side.
type Publisher interface {
	CreateToken(id string, opts flow.TokenOptions) (*flow.Token, error)
}

type registered struct {
	desc  Descriptor
	token *flow.Token
}

// Projector owns the registered tokens and pushes projected values to them.
type Projector struct {
	publisher Publisher
	reporter  telemetry.Reporter

	mu        sync.Mutex
	format    Format
	global    []registered
	calendars []registered
}

func NewProjector(publisher Publisher, reporter telemetry.Reporter, format Format) *Projector {
	if reporter == nil {
		reporter = telemetry.Log{}
	}
	return &Projector{
		publisher: publisher,
		reporter:  reporter,
		format:    format.Normalize(),
	}
}

func (p *Projector) SetFormat(f Format) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.format = f.Normalize()
}

func (p *Projector) Format() Format {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.format
}

// RegisterGlobal creates the global tokens. Calling it twice is an error.
func (p *Projector) RegisterGlobal() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for _, d := range GlobalDescriptors() {
		tok, err := p.create(d)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		p.global = append(p.global, registered{desc: d, token: tok})
	}
	return errors.Join(errs...)
}

// Rebuild withdraws every per-calendar token and registers a fresh set for
// names. Tokens are never patched in place, so a renamed or removed calendar
// leaves nothing stale behind.
func (p *Projector) Rebuild(names []string, includeNext bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for _, r := range p.calendars {
		if err := r.token.Unregister(); err != nil {
			errs = append(errs, fmt.Errorf("unregister %s: %w", r.desc.ID(), err))
		}
	}
	if len(p.calendars) > 0 {
		appLog.Debug("calendar tokens flushed", "count", len(p.calendars))
	}
	p.calendars = nil

	for _, d := range CalendarDescriptors(names, includeNext) {
		tok, err := p.create(d)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		p.calendars = append(p.calendars, registered{desc: d, token: tok})
	}
	appLog.Info("calendar tokens registered", "count", len(p.calendars), "next_event_tokens", includeNext)

	err := errors.Join(errs...)
	if err != nil {
		p.reporter.Capture(err, "op", "rebuild_calendar_tokens")
	}
	return err
}

func (p *Projector) create(d Descriptor) (*flow.Token, error) {
	tok, err := p.publisher.CreateToken(d.ID(), flow.TokenOptions{Type: d.TokenType(), Title: d.Title()})
	if err != nil {
		return nil, fmt.Errorf("create token %s: %w", d.ID(), err)
	}
	return tok, nil
}

// Descriptors lists everything currently registered.
func (p *Projector) Descriptors() []Descriptor {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Descriptor, 0, len(p.global)+len(p.calendars))
	for _, r := range p.global {
		out = append(out, r.desc)
	}
	for _, r := range p.calendars {
		out = append(out, r.desc)
	}
	return out
}

// Refresh projects the store at now onto every registered token. A failed
// SetValue is logged and reported; the remaining tokens are still updated.
// It returns the number of failures.
func (p *Projector) Refresh(s *store.Store, now time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	all := make([]registered, 0, len(p.global)+len(p.calendars))
	all = append(all, p.global...)
	all = append(all, p.calendars...)

	descs := make([]Descriptor, 0, len(all))
	for _, r := range all {
		descs = append(descs, r.desc)
	}
	values := Project(s, now, p.format, descs)

	failed := 0
	for _, r := range all {
		if err := r.token.SetValue(values[r.desc]); err != nil {
			failed++
			appLog.Error("token update failed", err, "token", r.desc.ID())
			p.reporter.Capture(err, "token", r.desc.ID())
		}
	}
	return failed
}
