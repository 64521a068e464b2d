// Package triggers classifies stored occurrences against the current instant
// and fires the matching flow cards.
package triggers

import (
	"context"
	"math"
	"strings"
	"time"

	"calwatch/internal/flow"
	"calwatch/internal/humanize"
	appLog "calwatch/internal/log"
	"calwatch/internal/model"
	"calwatch/internal/store"
	"calwatch/internal/telemetry"
)

// Tolerance is how far past a start or end instant a scan still fires the
// start or stop card. Scans must run at least this often.
const Tolerance = 55 * time.Second

// CardSource resolves cards by id.
type CardSource interface {
	Get(id string) (*flow.Card, error)
}

// Scanner fires start, stop and countdown cards for stored occurrences.
type Scanner struct {
	cards    CardSource
	reporter telemetry.Reporter
}

func NewScanner(cards CardSource, reporter telemetry.Reporter) *Scanner {
	if reporter == nil {
		reporter = telemetry.Log{}
	}
	return &Scanner{cards: cards, reporter: reporter}
}

// Scan walks every occurrence in s and fires what applies at now. It returns
// the number of deliveries. Failed deliveries are logged and reported and do
// not stop the scan.
func (sc *Scanner) Scan(ctx context.Context, s *store.Store, now time.Time) int {
	tol := int64(Tolerance / time.Second)
	fired := 0
	for _, cal := range s.Calendars() {
		for _, ev := range cal.Events {
			startDiff := int64(now.Sub(ev.Start) / time.Second)
			endDiff := int64(now.Sub(ev.End) / time.Second)

			starts := startDiff >= 0 && startDiff <= tol && endDiff <= 0
			stops := endDiff >= 0 && endDiff <= tol

			tokens := Payload(cal.Name, ev)
			if starts {
				fired += sc.fire(ctx, flow.CardEventStarts, tokens, flow.State{})
				fired += sc.fire(ctx, flow.CardEventStartsCalendar, tokens, flow.State{CalendarName: cal.Name})
			}
			if stops {
				fired += sc.fire(ctx, flow.CardEventStops, tokens, flow.State{})
			}
			if !starts && startDiff < 0 {
				fired += sc.fire(ctx, flow.CardEventStartsIn, tokens, flow.WhenState(roundMinutes(ev.Start.Sub(now))))
			}
			if !stops && endDiff < 0 {
				fired += sc.fire(ctx, flow.CardEventStopsIn, tokens, flow.WhenState(roundMinutes(ev.End.Sub(now))))
			}
		}
	}
	return fired
}

func (sc *Scanner) fire(ctx context.Context, cardID string, tokens flow.Tokens, state flow.State) int {
	card, err := sc.cards.Get(cardID)
	if err != nil {
		appLog.Error("trigger card lookup failed", err, "card", cardID)
		sc.reporter.Capture(err, "card", cardID)
		return 0
	}
	n, err := card.Trigger(ctx, tokens, state)
	if err != nil {
		appLog.Error("trigger failed", err, "card", cardID)
		sc.reporter.Capture(err, "card", cardID)
	}
	if n > 0 {
		appLog.Info("triggered", "card", cardID, "deliveries", n, "calendar", tokens["event_calendar_name"])
	}
	return n
}

func roundMinutes(d time.Duration) int {
	return int(math.Round(d.Minutes()))
}

// Payload builds the tokens delivered with an occurrence-level card.
func Payload(calendarName string, ev model.Occurrence) flow.Tokens {
	return flow.Tokens{
		"event_name":              Blank(ev.Summary),
		"event_description":       Blank(ev.Description),
		"event_location":          Blank(ev.Location),
		"event_duration_readable": humanize.Duration(ev.Duration()),
		"event_duration":          humanize.Minutes(ev.Duration()),
		"event_calendar_name":     calendarName,
	}
}

// Blank maps whitespace-only text, including literal \n and \r escape
// sequences, to "". Anything else is returned unchanged.
func Blank(s string) string {
	stripped := strings.NewReplacer(`\n`, "", `\r`, "").Replace(s)
	if strings.TrimSpace(stripped) == "" {
		return ""
	}
	return s
}

// RegisterListeners attaches the run and autocomplete listeners the scanner's
// cards rely on. names supplies the calendar names for autocomplete.
func RegisterListeners(cards CardSource, names func(query string) []string) error {
	countdown := func(args flow.Args, state flow.State) bool {
		return state.HasWhen && args.Minutes() == state.When
	}
	for _, id := range []string{flow.CardEventStartsIn, flow.CardEventStopsIn} {
		card, err := cards.Get(id)
		if err != nil {
			return err
		}
		card.RegisterRunListener(countdown)
	}

	card, err := cards.Get(flow.CardEventStartsCalendar)
	if err != nil {
		return err
	}
	card.RegisterRunListener(func(args flow.Args, state flow.State) bool {
		return args.Calendar == state.CalendarName
	})
	card.RegisterAutocompleteListener(func(query string) []flow.Option {
		var out []flow.Option
		for _, name := range names(query) {
			out = append(out, flow.Option{ID: name, Name: name})
		}
		return out
	})
	return nil
}
