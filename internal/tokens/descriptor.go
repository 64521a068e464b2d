// Package tokens projects the calendar store onto the published flow tokens.
package tokens

import (
	"calwatch/internal/flow"
)

type Kind string

// Global token kinds. The kind doubles as the token id.
const (
	NextTitle           Kind = "event_next_title"
	NextStartDate       Kind = "event_next_startdate"
	NextStartStamp      Kind = "event_next_startstamp"
	NextStopDate        Kind = "event_next_stopdate"
	NextStopStamp       Kind = "event_next_stopstamp"
	NextDuration        Kind = "event_next_duration"
	NextDurationMinutes Kind = "event_next_duration_minutes"
	NextStartsInMinutes Kind = "event_next_starts_in_minutes"
	NextStopsInMinutes  Kind = "event_next_stops_in_minutes"
	NextCalendarName    Kind = "event_next_calendar_name"
	TodayTitleStamps    Kind = "events_today_title_stamps"
	TodayCount          Kind = "events_today_count"
	TomorrowTitleStamps Kind = "events_tomorrow_title_stamps"
	TomorrowCount       Kind = "events_tomorrow_count"
)

// Per-calendar token kinds.
const (
	CalendarToday         Kind = "today"
	CalendarTomorrow      Kind = "tomorrow"
	CalendarNextTitle     Kind = "next_title"
	CalendarNextStartDate Kind = "next_startdate"
	CalendarNextStartTime Kind = "next_starttime"
	CalendarNextEndDate   Kind = "next_enddate"
	CalendarNextEndTime   Kind = "next_endtime"
)

// ValueKind decides the missing-value sentinel: counts fall back to 0,
// durations and minute offsets to -1, text to "".
type ValueKind string

const (
	ValueText     ValueKind = "text"
	ValueCount    ValueKind = "count"
	ValueDuration ValueKind = "duration"
)

var globalKinds = []Kind{
	NextTitle, NextStartDate, NextStartStamp, NextStopDate, NextStopStamp,
	NextDuration, NextDurationMinutes, NextStartsInMinutes, NextStopsInMinutes,
	NextCalendarName, TodayTitleStamps, TodayCount, TomorrowTitleStamps, TomorrowCount,
}

var calendarNextKinds = []Kind{
	CalendarNextTitle, CalendarNextStartDate, CalendarNextStartTime, CalendarNextEndDate, CalendarNextEndTime,
}

var titles = map[Kind]string{
	NextTitle:             "Next event title",
	NextStartDate:         "Next event start date",
	NextStartStamp:        "Next event start time",
	NextStopDate:          "Next event end date",
	NextStopStamp:         "Next event end time",
	NextDuration:          "Next event duration",
	NextDurationMinutes:   "Next event duration (minutes)",
	NextStartsInMinutes:   "Next event starts in (minutes)",
	NextStopsInMinutes:    "Next event stops in (minutes)",
	NextCalendarName:      "Next event calendar",
	TodayTitleStamps:      "Today's events",
	TodayCount:            "Today's event count",
	TomorrowTitleStamps:   "Tomorrow's events",
	TomorrowCount:         "Tomorrow's event count",
	CalendarToday:         "Today's events for",
	CalendarTomorrow:      "Tomorrow's events for",
	CalendarNextTitle:     "Next event title for",
	CalendarNextStartDate: "Next event start date for",
	CalendarNextStartTime: "Next event start time for",
	CalendarNextEndDate:   "Next event end date for",
	CalendarNextEndTime:   "Next event end time for",
}

// Descriptor identifies one token. Calendar is empty for global tokens.
type Descriptor struct {
	Calendar string
	Kind     Kind
}

func (d Descriptor) Global() bool { return d.Calendar == "" }

// ID is the stable token identifier.
func (d Descriptor) ID() string {
	if d.Global() {
		return string(d.Kind)
	}
	return "calendar_" + d.Calendar + "_" + string(d.Kind)
}

func (d Descriptor) Title() string {
	t, ok := titles[d.Kind]
	if !ok {
		t = string(d.Kind)
	}
	if d.Global() {
		return t
	}
	return t + " " + d.Calendar
}

func (d Descriptor) ValueKind() ValueKind {
	switch d.Kind {
	case TodayCount, TomorrowCount:
		return ValueCount
	case NextDurationMinutes, NextStartsInMinutes, NextStopsInMinutes:
		return ValueDuration
	default:
		return ValueText
	}
}

func (d Descriptor) TokenType() flow.TokenType {
	if d.ValueKind() == ValueText {
		return flow.TokenString
	}
	return flow.TokenNumber
}

// GlobalDescriptors lists the always-present tokens.
func GlobalDescriptors() []Descriptor {
	out := make([]Descriptor, 0, len(globalKinds))
	for _, k := range globalKinds {
		out = append(out, Descriptor{Kind: k})
	}
	return out
}

// CalendarDescriptors lists the per-calendar tokens for names. The next-event
// breakdown is only included when includeNext is set.
func CalendarDescriptors(names []string, includeNext bool) []Descriptor {
	var out []Descriptor
	for _, name := range names {
		out = append(out,
			Descriptor{Calendar: name, Kind: CalendarToday},
			Descriptor{Calendar: name, Kind: CalendarTomorrow},
		)
		if includeNext {
			for _, k := range calendarNextKinds {
				out = append(out, Descriptor{Calendar: name, Kind: k})
			}
		}
	}
	return out
}
