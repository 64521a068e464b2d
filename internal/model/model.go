package model

import (
	"sort"
	"time"
)

// DateType tells whether an occurrence is an all-day entry or a timed one.
type DateType string

const (
	DateTypeDate     DateType = "date"
	DateTypeDateTime DateType = "date-time"
)

// Occurrence represents a single concrete instance of an event
// (after recurrence expansion and timezone normalization).
type Occurrence struct {
	UID string // iCalendar UID of the series

	// InstanceKey identifies one instance of a recurring series. It is the
	// original (pre-override) start in UTC and empty for single events.
	InstanceKey string

	Summary     string
	Description string
	Location    string

	// Start / End are in the configured display timezone.
	Start    time.Time
	End      time.Time
	DateType DateType
}

// Key is the identity used to detect newly appeared events across refreshes.
func (o Occurrence) Key() string {
	if o.InstanceKey == "" {
		return o.UID
	}
	return o.UID + "/" + o.InstanceKey
}

func (o Occurrence) AllDay() bool {
	return o.DateType == DateTypeDate
}

// Duration is End - Start, never negative.
func (o Occurrence) Duration() time.Duration {
	if o.End.Before(o.Start) {
		return 0
	}
	return o.End.Sub(o.Start)
}

// CalendarEvents is the active event list of one calendar.
type CalendarEvents struct {
	Name   string
	Events []Occurrence
}

// SortOccurrences orders by start, then end, then key.
func SortOccurrences(events []Occurrence) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		if !a.End.Equal(b.End) {
			return a.End.Before(b.End)
		}
		return a.Key() < b.Key()
	})
}

// CalendarConfig is one user-configured subscription. LastError is shown to
// the user and persisted with the config.
type CalendarConfig struct {
	Name      string `json:"name" yaml:"name"`
	URI       string `json:"uri" yaml:"uri"`
	LastError string `json:"failed,omitempty" yaml:"-"`
}

type LimitType string

const (
	LimitDays   LimitType = "days"
	LimitWeeks  LimitType = "weeks"
	LimitMonths LimitType = "months"
	LimitEvents LimitType = "events"
)

// EventLimit bounds the active window either by calendar units ahead or by a
// number of upcoming occurrences.
type EventLimit struct {
	Value int       `json:"value" yaml:"value"`
	Type  LimitType `json:"type" yaml:"type"`
}

func DefaultEventLimit() EventLimit {
	return EventLimit{Value: 3, Type: LimitMonths}
}

// Normalize returns the limit with invalid values replaced by the default.
func (l EventLimit) Normalize() EventLimit {
	if l.Value <= 0 {
		return DefaultEventLimit()
	}
	switch l.Type {
	case LimitDays, LimitWeeks, LimitMonths, LimitEvents:
		return l
	default:
		return DefaultEventLimit()
	}
}

// Horizon returns the latest start instant admitted by a time-based limit.
// Count-based limits search one year ahead.
func (l EventLimit) Horizon(now time.Time) time.Time {
	l = l.Normalize()
	switch l.Type {
	case LimitDays:
		return now.AddDate(0, 0, l.Value)
	case LimitWeeks:
		return now.AddDate(0, 0, 7*l.Value)
	case LimitMonths:
		return now.AddDate(0, l.Value, 0)
	default:
		return now.AddDate(1, 0, 0)
	}
}
