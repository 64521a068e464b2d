package ics

import (
	"time"

	appLog "calwatch/internal/log"
	"calwatch/internal/model"
)

// ActiveEvents turns parsed entries into the sorted occurrence list that the
// engine keeps for one calendar: nothing that has already ended, nothing that
// starts after the limit's horizon, at most limit.Value entries for
// count-based limits.
func ActiveEvents(events []ParsedEvent, limit model.EventLimit, now time.Time, loc *time.Location) []model.Occurrence {
	if loc == nil {
		loc = time.Local
	}
	limit = limit.Normalize()
	now = now.In(loc)
	horizon := limit.Horizon(now)

	res, err := ExpandOccurrences(events, ExpandConfig{
		DisplayLocation: loc,
		RangeStart:      now,
		RangeEnd:        horizon,
	})
	if err != nil {
		// Only possible for an inverted range, which Horizon never produces.
		appLog.Error("active events: expand failed", err)
		return []model.Occurrence{}
	}

	active := make([]model.Occurrence, 0, len(res.Occurrences))
	for _, occ := range res.Occurrences {
		if occ.End.Before(now) {
			continue
		}
		if occ.Start.After(horizon) {
			continue
		}
		active = append(active, occ)
	}

	model.SortOccurrences(active)

	if limit.Type == model.LimitEvents && len(active) > limit.Value {
		active = active[:limit.Value]
	}
	return active
}
