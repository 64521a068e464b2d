package tokens

import (
	"strings"
	"time"

	"calwatch/internal/humanize"
	"calwatch/internal/store"
)

const (
	DefaultDateFormat = "Monday 2 January 2006"
	DefaultTimeFormat = "15:04"
)

// Format holds the Go layouts used for dates and clock times.
type Format struct {
	Date string
	Time string
}

func DefaultFormat() Format {
	return Format{Date: DefaultDateFormat, Time: DefaultTimeFormat}
}

// Normalize fills empty layouts with defaults.
func (f Format) Normalize() Format {
	if strings.TrimSpace(f.Date) == "" {
		f.Date = DefaultDateFormat
	}
	if strings.TrimSpace(f.Time) == "" {
		f.Time = DefaultTimeFormat
	}
	return f
}

// Splitter is the separator between hours and minutes in the time layout.
func (f Format) Splitter() string {
	for _, h := range []string{"15", "03", "3"} {
		i := strings.Index(f.Time, h)
		if i < 0 || i+len(h) >= len(f.Time) {
			continue
		}
		c := f.Time[i+len(h)]
		if !isAlnum(c) {
			return string(c)
		}
	}
	return ":"
}

// AllDayStamp replaces the clock time of all-day events.
func (f Format) AllDayStamp() string {
	return "00" + f.Splitter() + "00"
}

func isAlnum(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

// Digest renders one line per event: "<start> - <end> <title>" for timed
// events, the bare title for all-day ones.
func Digest(events []store.CalendarEvent, f Format) string {
	lines := make([]string, 0, len(events))
	for _, ev := range events {
		if ev.AllDay() {
			lines = append(lines, ev.Summary)
			continue
		}
		lines = append(lines, ev.Start.Format(f.Time)+" - "+ev.End.Format(f.Time)+" "+ev.Summary)
	}
	return strings.Join(lines, "\n")
}

// Project computes the value of every descriptor from the store at now.
// Values are strings for text tokens and ints for the others.
func Project(s *store.Store, now time.Time, f Format, descs []Descriptor) map[Descriptor]any {
	f = f.Normalize()
	values := make(map[Descriptor]any, len(descs))

	type nextResult struct {
		ev store.NextEvent
		ok bool
	}
	nextCache := make(map[string]nextResult)
	next := func(calendar string) (store.NextEvent, bool) {
		r, cached := nextCache[calendar]
		if !cached {
			r.ev, r.ok = s.NextEvent(now, calendar)
			nextCache[calendar] = r
		}
		return r.ev, r.ok
	}

	var today, tomorrow []store.CalendarEvent
	if needs(descs, TodayTitleStamps, TodayCount) {
		today = s.Today(now, "")
	}
	if needs(descs, TomorrowTitleStamps, TomorrowCount) {
		tomorrow = s.Tomorrow(now, "")
	}

	for _, d := range descs {
		switch d.Kind {
		case TodayTitleStamps:
			values[d] = Digest(today, f)
		case TodayCount:
			values[d] = len(today)
		case TomorrowTitleStamps:
			values[d] = Digest(tomorrow, f)
		case TomorrowCount:
			values[d] = len(tomorrow)
		case CalendarToday:
			values[d] = Digest(s.Today(now, d.Calendar), f)
		case CalendarTomorrow:
			values[d] = Digest(s.Tomorrow(now, d.Calendar), f)
		default:
			ev, ok := next(d.Calendar)
			values[d] = nextValue(d, ev, ok, f)
		}
	}
	return values
}

func needs(descs []Descriptor, kinds ...Kind) bool {
	for _, d := range descs {
		for _, k := range kinds {
			if d.Kind == k {
				return true
			}
		}
	}
	return false
}

func nextValue(d Descriptor, next store.NextEvent, ok bool, f Format) any {
	if !ok {
		return missing(d)
	}
	ev := next.Event

	switch d.Kind {
	case NextTitle, CalendarNextTitle:
		return ev.Summary
	case NextStartDate, CalendarNextStartDate:
		return ev.Start.Format(f.Date)
	case NextStartStamp, CalendarNextStartTime:
		if ev.AllDay() {
			return f.AllDayStamp()
		}
		return ev.Start.Format(f.Time)
	case NextStopDate, CalendarNextEndDate:
		return ev.End.Format(f.Date)
	case NextStopStamp, CalendarNextEndTime:
		if ev.AllDay() {
			return f.AllDayStamp()
		}
		return ev.End.Format(f.Time)
	case NextDuration:
		return humanize.Duration(ev.Duration())
	case NextDurationMinutes:
		return humanize.Minutes(ev.Duration())
	case NextStartsInMinutes:
		return next.StartsIn
	case NextStopsInMinutes:
		return next.EndsIn
	case NextCalendarName:
		return next.CalendarName
	default:
		return missing(d)
	}
}

func missing(d Descriptor) any {
	switch d.ValueKind() {
	case ValueCount:
		return 0
	case ValueDuration:
		return -1
	default:
		return ""
	}
}
