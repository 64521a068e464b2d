package ics

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	appLog "calwatch/internal/log"
	"calwatch/internal/model"
)

const (
	defaultMaxOccurrencesPerEvent = 5000
)

// ExpandConfig controls how recurrence expansion is performed.
type ExpandConfig struct {
	// DisplayLocation is the timezone to which all occurrences will be converted.
	// If nil, time.Local is used.
	DisplayLocation *time.Location

	// RangeStart / RangeEnd define the inclusive window that an occurrence
	// must intersect.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps runaway expansions. Zero means
	// defaultMaxOccurrencesPerEvent.
	MaxOccurrencesPerEvent int
}

// ExpandResult wraps the expanded occurrences and the series that hit the cap.
type ExpandResult struct {
	Occurrences     []model.Occurrence
	TruncatedEvents []string
}

// ExpandOccurrences expands parsed VEVENTs into concrete occurrences within
// the configured range. It handles single events, RRULE recurrence, EXDATE,
// RECURRENCE-ID overrides and all-day semantics.
func ExpandOccurrences(events []ParsedEvent, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.DisplayLocation == nil {
		cfg.DisplayLocation = time.Local
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	// Group base events and overrides by UID, keeping first-seen order so the
	// output does not depend on map iteration.
	var uids []string
	baseByUID := make(map[string][]ParsedEvent)
	overridesByUID := make(map[string][]ParsedEvent)

	for _, ev := range events {
		if ev.IsOverride && ev.Recurrence != nil {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
			continue
		}
		if _, seen := baseByUID[ev.UID]; !seen {
			uids = append(uids, ev.UID)
		}
		baseByUID[ev.UID] = append(baseByUID[ev.UID], ev)
	}

	for _, uid := range uids {
		ov := overridesByUID[uid]
		truncated := false

		for _, ev := range baseByUID[uid] {
			occ, hitCap := expandEvent(ev, ov, cfg)
			if hitCap {
				truncated = true
			}
			result.Occurrences = append(result.Occurrences, occ...)
		}

		if truncated {
			result.TruncatedEvents = append(result.TruncatedEvents, uid)
			appLog.Warn("expand: truncated occurrences for UID due to cap",
				"uid", uid,
				"cap", cfg.MaxOccurrencesPerEvent,
			)
		}
	}

	return result, nil
}

func expandEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]model.Occurrence, bool) {
	if ev.RawRRule == "" {
		return expandSingleEvent(ev, cfg), false
	}
	return expandRecurringEvent(ev, overrides, cfg)
}

func expandSingleEvent(ev ParsedEvent, cfg ExpandConfig) []model.Occurrence {
	start, end := resolveBounds(ev, ev.Start, cfg.DisplayLocation)
	if !timeRangesOverlap(start, end, cfg.RangeStart, cfg.RangeEnd) {
		return nil
	}
	return []model.Occurrence{makeOccurrence(ev, start, end, "", cfg.DisplayLocation)}
}

func expandRecurringEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]model.Occurrence, bool) {
	out := make([]model.Occurrence, 0)
	hitCap := false

	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("expand: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return out, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	// Widen the lower bound by the series duration so instances that started
	// before RangeStart but are still running are kept.
	_, firstEnd := resolveBounds(ev, ev.Start, cfg.DisplayLocation)
	dur := firstEnd.Sub(ev.Start)
	if dur < 0 {
		dur = 0
	}
	rangeStart := cfg.RangeStart.Add(-dur).In(ev.Start.Location())
	rangeEnd := cfg.RangeEnd.In(ev.Start.Location())

	occTimes := set.Between(rangeStart, rangeEnd, true)
	if len(occTimes) > cfg.MaxOccurrencesPerEvent {
		occTimes = occTimes[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	for _, occStart := range occTimes {
		instanceKey := occStart.UTC().Format(time.RFC3339)
		baseEv := ev
		start, end := resolveBounds(ev, occStart, cfg.DisplayLocation)
		if !ev.AllDay {
			end = start.Add(dur)
		}

		if o, ok := findOverrideForStart(overrides, occStart); ok {
			baseEv = o
			start, end = resolveBounds(o, o.Start, cfg.DisplayLocation)
		}

		if !timeRangesOverlap(start, end, cfg.RangeStart, cfg.RangeEnd) {
			continue
		}
		out = append(out, makeOccurrence(baseEv, start, end, instanceKey, cfg.DisplayLocation))
	}

	return out, hitCap
}

// resolveBounds returns the start/end for an occurrence starting at start.
// All-day entries span whole local days; a missing end means one day for
// all-day entries and zero length for timed ones.
func resolveBounds(ev ParsedEvent, start time.Time, loc *time.Location) (time.Time, time.Time) {
	if ev.AllDay {
		days := 1
		if !ev.End.IsZero() && ev.End.After(ev.Start) {
			s := civilDate(ev.Start)
			e := civilDate(ev.End)
			if n := int(e.Sub(s).Hours()/24 + 0.5); n > 0 {
				days = n
			}
		}
		day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc)
		return day, day.AddDate(0, 0, days)
	}

	end := start
	if !ev.End.IsZero() && ev.End.After(ev.Start) {
		end = start.Add(ev.End.Sub(ev.Start))
	}
	return start, end
}

// civilDate drops the clock and zone, keeping the calendar date.
func civilDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// findOverrideForStart finds an override whose RECURRENCE-ID matches occStart.
func findOverrideForStart(overrides []ParsedEvent, occStart time.Time) (ParsedEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence == nil {
			continue
		}
		if ov.Recurrence.Equal(occStart) {
			return ov, true
		}
		// All-day RECURRENCE-ID values carry no clock; compare dates.
		if ov.AllDay && civilDate(*ov.Recurrence).Equal(civilDate(occStart)) {
			return ov, true
		}
	}
	return ParsedEvent{}, false
}

func makeOccurrence(ev ParsedEvent, start, end time.Time, instanceKey string, displayLoc *time.Location) model.Occurrence {
	dateType := model.DateTypeDateTime
	if ev.AllDay {
		dateType = model.DateTypeDate
	}
	return model.Occurrence{
		UID:         ev.UID,
		InstanceKey: instanceKey,
		Summary:     ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
		Start:       start.In(displayLoc),
		End:         end.In(displayLoc),
		DateType:    dateType,
	}
}

func timeRangesOverlap(aStart, aEnd, bStart, bEnd time.Time) bool {
	if aEnd.Before(bStart) {
		return false
	}
	if bEnd.Before(aStart) {
		return false
	}
	return true
}
