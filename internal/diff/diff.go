// Package diff compares event identity snapshots between refreshes.
package diff

import (
	"sort"

	"calwatch/internal/model"
)

// Snapshot maps a calendar name to the identity keys of its events. It is
// persisted between refreshes and across restarts.
type Snapshot map[string][]string

// SnapshotOf collects the identity keys of the given calendars.
func SnapshotOf(calendars []model.CalendarEvents) Snapshot {
	snap := make(Snapshot, len(calendars))
	for _, c := range calendars {
		keys := make([]string, 0, len(c.Events))
		for _, ev := range c.Events {
			keys = append(keys, ev.Key())
		}
		sort.Strings(keys)
		snap[c.Name] = keys
	}
	return snap
}

// Added is an event that was not present in the previous snapshot.
type Added struct {
	CalendarName string
	Event        model.Occurrence
}

type Result struct {
	// Changed lists calendars whose identity set differs, in input order.
	Changed []string
	// Added lists newly appeared events, in calendar then chronological order.
	Added []Added
}

// Compare reports what changed between prev and the freshly fetched
// calendars. Only identity keys are compared; an event whose title or time
// changed under the same key is not reported.
//
// An empty prev is a baseline and yields an empty result. A calendar that
// prev does not know is reported as changed, but its events are baseline.
func Compare(prev Snapshot, next []model.CalendarEvents) Result {
	var res Result
	if len(prev) == 0 {
		return res
	}

	for _, c := range next {
		old, known := prev[c.Name]
		if !known {
			res.Changed = append(res.Changed, c.Name)
			continue
		}

		oldSet := make(map[string]struct{}, len(old))
		for _, k := range old {
			oldSet[k] = struct{}{}
		}

		newSet := make(map[string]struct{}, len(c.Events))
		for _, ev := range c.Events {
			k := ev.Key()
			if _, dup := newSet[k]; dup {
				continue
			}
			newSet[k] = struct{}{}
			if _, seen := oldSet[k]; !seen {
				res.Added = append(res.Added, Added{CalendarName: c.Name, Event: ev})
			}
		}

		if !sameKeys(oldSet, newSet) {
			res.Changed = append(res.Changed, c.Name)
		}
	}
	return res
}

func sameKeys(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}
