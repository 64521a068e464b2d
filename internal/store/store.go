// Package store holds the active event lists of all calendars and answers
// point-in-time queries against them.
//
// Writers build a new immutable snapshot and swap it in with a single atomic
// pointer store, so readers always observe either the old or the new
// complete set of lists.
package store

import (
	"math"
	"strings"
	"sync/atomic"
	"time"

	"calwatch/internal/model"
)

type snapshot struct {
	calendars []model.CalendarEvents
}

type Store struct {
	current atomic.Pointer[snapshot]
}

func New() *Store {
	s := &Store{}
	s.current.Store(&snapshot{})
	return s
}

// Replace swaps the event list of one calendar, appending the calendar when
// it is not yet known. The list is copied and sorted.
func (s *Store) Replace(name string, events []model.Occurrence) {
	for {
		old := s.current.Load()
		next := &snapshot{calendars: make([]model.CalendarEvents, 0, len(old.calendars)+1)}
		replaced := false
		for _, c := range old.calendars {
			if c.Name == name {
				c = model.CalendarEvents{Name: name, Events: sortedCopy(events)}
				replaced = true
			}
			next.calendars = append(next.calendars, c)
		}
		if !replaced {
			next.calendars = append(next.calendars, model.CalendarEvents{Name: name, Events: sortedCopy(events)})
		}
		if s.current.CompareAndSwap(old, next) {
			return
		}
	}
}

// SetAll replaces the whole store; calendars keep the given order.
func (s *Store) SetAll(calendars []model.CalendarEvents) {
	next := &snapshot{calendars: make([]model.CalendarEvents, 0, len(calendars))}
	for _, c := range calendars {
		next.calendars = append(next.calendars, model.CalendarEvents{Name: c.Name, Events: sortedCopy(c.Events)})
	}
	s.current.Store(next)
}

// Calendars returns the current lists. Callers must not modify them.
func (s *Store) Calendars() []model.CalendarEvents {
	return s.current.Load().calendars
}

func (s *Store) Names() []string {
	cals := s.Calendars()
	names := make([]string, 0, len(cals))
	for _, c := range cals {
		names = append(names, c.Name)
	}
	return names
}

// Events returns the list of one calendar and whether it is known.
func (s *Store) Events(name string) ([]model.Occurrence, bool) {
	for _, c := range s.Calendars() {
		if c.Name == name {
			return c.Events, true
		}
	}
	return nil, false
}

// Len is the total number of occurrences across calendars.
func (s *Store) Len() int {
	n := 0
	for _, c := range s.Calendars() {
		n += len(c.Events)
	}
	return n
}

// FilterByName returns calendars whose name contains query, case-insensitive.
func (s *Store) FilterByName(query string) []string {
	q := strings.ToLower(strings.TrimSpace(query))
	var out []string
	for _, c := range s.Calendars() {
		if q == "" || strings.Contains(strings.ToLower(c.Name), q) {
			out = append(out, c.Name)
		}
	}
	return out
}

// NextEvent describes the next relevant occurrence relative to some instant.
type NextEvent struct {
	Event        model.Occurrence
	CalendarName string
	StartsIn     int // minutes, rounded; negative when already running
	EndsIn       int
}

// CalendarEvent is an occurrence tagged with its calendar.
type CalendarEvent struct {
	CalendarName string
	model.Occurrence
}

// NextEvent finds, across all calendars or only the named one when calendar
// is non-empty, the occurrence with the earliest start among those that have
// not ended. Ties go to the calendar that comes first.
func (s *Store) NextEvent(now time.Time, calendar string) (NextEvent, bool) {
	var (
		best  NextEvent
		found bool
	)
	for _, c := range s.Calendars() {
		if calendar != "" && c.Name != calendar {
			continue
		}
		for _, ev := range c.Events {
			if ev.End.Before(now) {
				continue
			}
			if !found || ev.Start.Before(best.Event.Start) {
				best = NextEvent{Event: ev, CalendarName: c.Name}
				found = true
			}
			// Lists are sorted by start; the first live entry is this
			// calendar's candidate.
			break
		}
	}
	if !found {
		return NextEvent{}, false
	}
	best.StartsIn = MinutesUntil(now, best.Event.Start)
	best.EndsIn = MinutesUntil(now, best.Event.End)
	return best, true
}

// Today returns occurrences starting within today's local [00:00, 24:00).
func (s *Store) Today(now time.Time, calendar string) []CalendarEvent {
	from := startOfDay(now)
	return s.startingWithin(from, from.AddDate(0, 0, 1), calendar)
}

// Tomorrow returns occurrences starting within tomorrow's local day.
func (s *Store) Tomorrow(now time.Time, calendar string) []CalendarEvent {
	from := startOfDay(now).AddDate(0, 0, 1)
	return s.startingWithin(from, from.AddDate(0, 0, 1), calendar)
}

func (s *Store) startingWithin(from, to time.Time, calendar string) []CalendarEvent {
	out := make([]CalendarEvent, 0)
	for _, c := range s.Calendars() {
		if calendar != "" && c.Name != calendar {
			continue
		}
		for _, ev := range c.Events {
			if ev.Start.Before(from) {
				continue
			}
			if !ev.Start.Before(to) {
				break
			}
			out = append(out, CalendarEvent{CalendarName: c.Name, Occurrence: ev})
		}
	}
	return out
}

// MinutesUntil returns whole minutes from now to t, rounded half away from zero.
func MinutesUntil(now, t time.Time) int {
	return int(math.Round(t.Sub(now).Minutes()))
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func sortedCopy(events []model.Occurrence) []model.Occurrence {
	out := make([]model.Occurrence, len(events))
	copy(out, events)
	model.SortOccurrences(out)
	return out
}
