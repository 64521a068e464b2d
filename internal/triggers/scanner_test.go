package triggers

import (
	"context"
	"errors"
	"testing"
	"time"

	"calwatch/internal/flow"
	"calwatch/internal/model"
	"calwatch/internal/store"
)

type recorder struct {
	got []flow.Notification
	err error
}

func (r *recorder) Notify(_ context.Context, n flow.Notification) error {
	if r.err != nil {
		return r.err
	}
	r.got = append(r.got, n)
	return nil
}

func (r *recorder) count(card string) int {
	n := 0
	for _, x := range r.got {
		if x.Card == card {
			n++
		}
	}
	return n
}

type captured struct{ errs []error }

func (c *captured) Capture(err error, _ ...any) { c.errs = append(c.errs, err) }

func setup(t *testing.T, subs ...flow.Subscription) (*flow.Cards, *recorder) {
	t.Helper()
	rec := &recorder{}
	cards := flow.NewCards(rec)
	if err := RegisterListeners(cards, func(string) []string { return []string{"work", "home"} }); err != nil {
		t.Fatalf("RegisterListeners() error = %v", err)
	}
	for _, s := range subs {
		if err := cards.Subscribe(s); err != nil {
			t.Fatalf("Subscribe() error = %v", err)
		}
	}
	return cards, rec
}

func oneEvent(start time.Time, d time.Duration) *store.Store {
	s := store.New()
	s.Replace("work", []model.Occurrence{{
		UID:      "a",
		Summary:  "Standup",
		Location: `\n`,
		Start:    start,
		End:      start.Add(d),
		DateType: model.DateTypeDateTime,
	}})
	return s
}

var start = time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)

func TestStartFiresWithinTolerance(t *testing.T) {
	tests := []struct {
		name  string
		after time.Duration
		want  int
	}{
		{"at start", 0, 1},
		{"55s late", 55 * time.Second, 1},
		{"56s late", 56 * time.Second, 0},
		{"1s early", -time.Second, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cards, rec := setup(t, flow.Subscription{ID: "s", Card: flow.CardEventStarts})
			NewScanner(cards, nil).Scan(context.Background(), oneEvent(start, time.Hour), start.Add(tt.after))
			if got := rec.count(flow.CardEventStarts); got != tt.want {
				t.Errorf("event_starts fired %d times, want %d", got, tt.want)
			}
		})
	}
}

func TestStartFiresOnceAcrossTicks(t *testing.T) {
	cards, rec := setup(t, flow.Subscription{ID: "s", Card: flow.CardEventStarts})
	sc := NewScanner(cards, nil)
	s := oneEvent(start, time.Hour)

	for _, at := range []time.Duration{-5 * time.Second, 0, 56 * time.Second, 116 * time.Second} {
		sc.Scan(context.Background(), s, start.Add(at))
	}
	if got := rec.count(flow.CardEventStarts); got != 1 {
		t.Errorf("event_starts fired %d times, want 1", got)
	}
}

func TestStopFiresWithinTolerance(t *testing.T) {
	cards, rec := setup(t, flow.Subscription{ID: "s", Card: flow.CardEventStops})
	sc := NewScanner(cards, nil)
	s := oneEvent(start, 30*time.Minute)

	sc.Scan(context.Background(), s, start.Add(30*time.Minute+10*time.Second))
	sc.Scan(context.Background(), s, start.Add(30*time.Minute+70*time.Second))
	if got := rec.count(flow.CardEventStops); got != 1 {
		t.Errorf("event_stops fired %d times, want 1", got)
	}
}

func TestStartsInRequiresExactMinutes(t *testing.T) {
	cards, rec := setup(t,
		flow.Subscription{ID: "29", Card: flow.CardEventStartsIn, Args: flow.Args{When: 29, Unit: "minutes"}},
		flow.Subscription{ID: "30", Card: flow.CardEventStartsIn, Args: flow.Args{When: 30, Unit: "minutes"}},
		flow.Subscription{ID: "31", Card: flow.CardEventStartsIn, Args: flow.Args{When: 31, Unit: "minutes"}},
	)
	NewScanner(cards, nil).Scan(context.Background(), oneEvent(start, time.Hour), start.Add(-30*time.Minute))

	if len(rec.got) != 1 || rec.got[0].Subscription.ID != "30" {
		t.Fatalf("deliveries = %+v, want only subscription 30", rec.got)
	}
	if rec.got[0].State.When != 30 {
		t.Errorf("state when = %d", rec.got[0].State.When)
	}
}

func TestStopsInConvertsUnits(t *testing.T) {
	cards, rec := setup(t,
		flow.Subscription{ID: "hour", Card: flow.CardEventStopsIn, Args: flow.Args{When: 1, Unit: "hours"}},
		flow.Subscription{ID: "minutes", Card: flow.CardEventStopsIn, Args: flow.Args{When: 1, Unit: "minutes"}},
	)
	// Running event, ends in 59m40s which rounds to 60.
	now := start.Add(20 * time.Second)
	NewScanner(cards, nil).Scan(context.Background(), oneEvent(start, time.Hour), now)

	if len(rec.got) != 1 || rec.got[0].Subscription.ID != "hour" {
		t.Errorf("deliveries = %+v, want only the hour subscription", rec.got)
	}
}

func TestStartsCalendarMatchesCalendarArg(t *testing.T) {
	cards, rec := setup(t,
		flow.Subscription{ID: "work", Card: flow.CardEventStartsCalendar, Args: flow.Args{Calendar: "work"}},
		flow.Subscription{ID: "home", Card: flow.CardEventStartsCalendar, Args: flow.Args{Calendar: "home"}},
	)
	NewScanner(cards, nil).Scan(context.Background(), oneEvent(start, time.Hour), start)

	if len(rec.got) != 1 || rec.got[0].Subscription.ID != "work" {
		t.Fatalf("deliveries = %+v", rec.got)
	}
	if rec.got[0].State.CalendarName != "work" {
		t.Errorf("state = %+v", rec.got[0].State)
	}
}

func TestPayload(t *testing.T) {
	cards, rec := setup(t, flow.Subscription{ID: "s", Card: flow.CardEventStarts})
	NewScanner(cards, nil).Scan(context.Background(), oneEvent(start, 90*time.Minute), start)

	if len(rec.got) != 1 {
		t.Fatalf("deliveries = %d", len(rec.got))
	}
	tok := rec.got[0].Tokens
	want := flow.Tokens{
		"event_name":              "Standup",
		"event_description":       "",
		"event_location":          "",
		"event_duration_readable": "1 hour and 30 minutes",
		"event_duration":          90,
		"event_calendar_name":     "work",
	}
	for k, v := range want {
		if tok[k] != v {
			t.Errorf("%s = %#v, want %#v", k, tok[k], v)
		}
	}
}

func TestBlank(t *testing.T) {
	tests := map[string]string{
		"":          "",
		" ":         "",
		"\n":        "",
		`\n`:        "",
		`\r\n `:     "",
		"\r\n":      "",
		`\n\r`:      "",
		"Room 4":    "Room 4",
		" Room 4\n": " Room 4\n",
	}
	for in, want := range tests {
		if got := Blank(in); got != want {
			t.Errorf("Blank(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDeliveryFailureDoesNotAbortScan(t *testing.T) {
	rec := &recorder{err: errors.New("sink rejected")}
	cards := flow.NewCards(rec)
	_ = RegisterListeners(cards, func(string) []string { return nil })
	_ = cards.Subscribe(flow.Subscription{ID: "a", Card: flow.CardEventStarts})
	_ = cards.Subscribe(flow.Subscription{ID: "b", Card: flow.CardEventStops})

	s := store.New()
	s.Replace("work", []model.Occurrence{
		{UID: "a", Start: start, End: start.Add(time.Hour), DateType: model.DateTypeDateTime},
		{UID: "b", Start: start.Add(-time.Hour), End: start, DateType: model.DateTypeDateTime},
	})

	rep := &captured{}
	NewScanner(cards, rep).Scan(context.Background(), s, start)
	if len(rep.errs) != 2 {
		t.Errorf("reported %d errors, want 2", len(rep.errs))
	}
}

func TestAutocompleteListsCalendars(t *testing.T) {
	cards, _ := setup(t)
	card, _ := cards.Get(flow.CardEventStartsCalendar)
	opts := card.Autocomplete("")
	if len(opts) != 2 || opts[0].ID != "work" || opts[1].Name != "home" {
		t.Errorf("Autocomplete() = %+v", opts)
	}
}
