package store

import (
	"testing"
	"time"

	"calwatch/internal/model"
)

var now = time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC)

func occ(uid string, start time.Time, d time.Duration) model.Occurrence {
	return model.Occurrence{
		UID:      uid,
		Summary:  uid,
		Start:    start,
		End:      start.Add(d),
		DateType: model.DateTypeDateTime,
	}
}

func TestReplaceKeepsListsSorted(t *testing.T) {
	s := New()
	s.Replace("work", []model.Occurrence{
		occ("late", now.Add(3*time.Hour), time.Hour),
		occ("early", now.Add(time.Hour), time.Hour),
		occ("mid", now.Add(2*time.Hour), time.Hour),
	})

	events, ok := s.Events("work")
	if !ok {
		t.Fatal("calendar not stored")
	}
	for i := 1; i < len(events); i++ {
		if events[i].Start.Before(events[i-1].Start) {
			t.Fatalf("events not sorted at %d: %+v", i, events)
		}
	}
}

func TestReplaceDoesNotAliasInput(t *testing.T) {
	s := New()
	in := []model.Occurrence{occ("a", now, time.Hour)}
	s.Replace("work", in)
	in[0].Summary = "mutated"

	events, _ := s.Events("work")
	if events[0].Summary != "a" {
		t.Error("store shares memory with caller's slice")
	}
}

func TestReplaceKeepsCalendarOrder(t *testing.T) {
	s := New()
	s.Replace("work", nil)
	s.Replace("home", nil)
	s.Replace("work", []model.Occurrence{occ("a", now, time.Hour)})

	names := s.Names()
	if len(names) != 2 || names[0] != "work" || names[1] != "home" {
		t.Errorf("names = %v", names)
	}
}

func TestNextEvent(t *testing.T) {
	s := New()
	s.SetAll([]model.CalendarEvents{
		{Name: "work", Events: []model.Occurrence{
			occ("ended", now.Add(-2*time.Hour), time.Hour),
			occ("meeting", now.Add(30*time.Minute), time.Hour),
		}},
		{Name: "home", Events: []model.Occurrence{
			occ("running", now.Add(-10*time.Minute), time.Hour),
		}},
	})

	next, ok := s.NextEvent(now, "")
	if !ok {
		t.Fatal("expected a next event")
	}
	if next.Event.UID != "running" || next.CalendarName != "home" {
		t.Errorf("next = %s/%s, want home/running", next.CalendarName, next.Event.UID)
	}
	if next.StartsIn != -10 || next.EndsIn != 50 {
		t.Errorf("startsIn=%d endsIn=%d", next.StartsIn, next.EndsIn)
	}

	work, ok := s.NextEvent(now, "work")
	if !ok || work.Event.UID != "meeting" || work.StartsIn != 30 {
		t.Errorf("work next = %+v ok=%v", work, ok)
	}
}

func TestNextEventTieGoesToFirstCalendar(t *testing.T) {
	s := New()
	start := now.Add(time.Hour)
	s.SetAll([]model.CalendarEvents{
		{Name: "first", Events: []model.Occurrence{occ("a", start, time.Hour)}},
		{Name: "second", Events: []model.Occurrence{occ("b", start, time.Hour)}},
	})

	next, _ := s.NextEvent(now, "")
	if next.CalendarName != "first" {
		t.Errorf("tie resolved to %s", next.CalendarName)
	}
}

func TestNextEventNone(t *testing.T) {
	s := New()
	if _, ok := s.NextEvent(now, ""); ok {
		t.Error("empty store reported a next event")
	}

	s.Replace("work", []model.Occurrence{occ("ended", now.Add(-2*time.Hour), time.Hour)})
	if _, ok := s.NextEvent(now, ""); ok {
		t.Error("only ended events, but a next event was reported")
	}
	if _, ok := s.NextEvent(now, "unknown"); ok {
		t.Error("unknown calendar reported a next event")
	}
}

func TestTodayAndTomorrow(t *testing.T) {
	loc := time.FixedZone("CET", 60*60)
	local := now.In(loc) // 11:00 local
	day := time.Date(2026, 10, 17, 0, 0, 0, 0, loc)

	s := New()
	s.SetAll([]model.CalendarEvents{
		{Name: "work", Events: []model.Occurrence{
			occ("yesterday", day.Add(-time.Hour), 30*time.Minute),
			occ("morning", day.Add(8*time.Hour), time.Hour),
			occ("evening", day.Add(20*time.Hour), time.Hour),
			occ("tomorrow", day.Add(33*time.Hour), time.Hour),
			occ("later", day.Add(49*time.Hour), time.Hour),
		}},
		{Name: "home", Events: []model.Occurrence{
			occ("lunch", day.Add(12*time.Hour), time.Hour),
			occ("midnight", day.Add(24*time.Hour), time.Hour),
		}},
	})

	today := s.Today(local, "")
	assertUIDs(t, "today", today, "morning", "evening", "lunch")

	tomorrow := s.Tomorrow(local, "")
	assertUIDs(t, "tomorrow", tomorrow, "tomorrow", "midnight")

	assertUIDs(t, "today home", s.Today(local, "home"), "lunch")

	if today[2].CalendarName != "home" {
		t.Errorf("calendar tag = %q", today[2].CalendarName)
	}
}

func TestFilterByName(t *testing.T) {
	s := New()
	s.SetAll([]model.CalendarEvents{{Name: "Work"}, {Name: "Homework"}, {Name: "Family"}})

	got := s.FilterByName("WORK")
	if len(got) != 2 || got[0] != "Work" || got[1] != "Homework" {
		t.Errorf("FilterByName = %v", got)
	}
	if len(s.FilterByName("")) != 3 {
		t.Error("empty query should list all calendars")
	}
}

func TestMinutesUntilRounds(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want int
	}{
		{30 * time.Minute, 30},
		{29*time.Minute + 31*time.Second, 30},
		{29*time.Minute + 29*time.Second, 29},
		{-90 * time.Second, -2},
	}
	for _, tt := range tests {
		if got := MinutesUntil(now, now.Add(tt.d)); got != tt.want {
			t.Errorf("MinutesUntil(%s) = %d, want %d", tt.d, got, tt.want)
		}
	}
}

func assertUIDs(t *testing.T, label string, got []CalendarEvent, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: got %d events, want %d", label, len(got), len(want))
	}
	for i, uid := range want {
		if got[i].UID != uid {
			t.Errorf("%s[%d] = %s, want %s", label, i, got[i].UID, uid)
		}
	}
}
