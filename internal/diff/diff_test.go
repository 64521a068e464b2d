package diff

import (
	"testing"
	"time"

	"calwatch/internal/model"
)

func events(uids ...string) []model.Occurrence {
	base := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	out := make([]model.Occurrence, 0, len(uids))
	for i, uid := range uids {
		start := base.Add(time.Duration(i) * time.Hour)
		out = append(out, model.Occurrence{UID: uid, Summary: uid, Start: start, End: start.Add(time.Hour)})
	}
	return out
}

func TestCompareReportsOnlyNewKeys(t *testing.T) {
	prev := Snapshot{"work": {"A", "B"}}
	next := []model.CalendarEvents{{Name: "work", Events: events("B", "C")}}

	res := Compare(prev, next)

	if len(res.Added) != 1 {
		t.Fatalf("got %d added events, want 1: %+v", len(res.Added), res.Added)
	}
	if res.Added[0].Event.UID != "C" || res.Added[0].CalendarName != "work" {
		t.Errorf("added = %+v", res.Added[0])
	}
	if len(res.Changed) != 1 || res.Changed[0] != "work" {
		t.Errorf("changed = %v", res.Changed)
	}
}

func TestCompareIgnoresFieldChanges(t *testing.T) {
	prev := Snapshot{"work": {"A"}}
	moved := events("A")
	moved[0].Summary = "Renamed"
	moved[0].Start = moved[0].Start.Add(24 * time.Hour)

	res := Compare(prev, []model.CalendarEvents{{Name: "work", Events: moved}})
	if len(res.Added) != 0 || len(res.Changed) != 0 {
		t.Errorf("field-only change reported: %+v", res)
	}
}

func TestCompareRemovalIsAChange(t *testing.T) {
	prev := Snapshot{"work": {"A", "B"}, "home": {"X"}}
	next := []model.CalendarEvents{
		{Name: "work", Events: events("A")},
		{Name: "home", Events: events("X")},
	}

	res := Compare(prev, next)
	if len(res.Added) != 0 {
		t.Errorf("added = %+v", res.Added)
	}
	if len(res.Changed) != 1 || res.Changed[0] != "work" {
		t.Errorf("changed = %v", res.Changed)
	}
}

func TestCompareBaseline(t *testing.T) {
	next := []model.CalendarEvents{{Name: "work", Events: events("A", "B")}}

	if res := Compare(nil, next); len(res.Added) != 0 || len(res.Changed) != 0 {
		t.Errorf("empty snapshot should be a baseline: %+v", res)
	}

	res := Compare(Snapshot{"home": {"X"}}, append(next, model.CalendarEvents{Name: "home", Events: events("X")}))
	if len(res.Added) != 0 {
		t.Errorf("events of a new calendar announced: %+v", res.Added)
	}
	if len(res.Changed) != 1 || res.Changed[0] != "work" {
		t.Errorf("changed = %v", res.Changed)
	}
}

func TestCompareRecurringInstances(t *testing.T) {
	first := model.Occurrence{UID: "weekly", InstanceKey: "2026-10-19T08:00:00Z"}
	second := model.Occurrence{UID: "weekly", InstanceKey: "2026-10-26T08:00:00Z"}

	prev := SnapshotOf([]model.CalendarEvents{{Name: "work", Events: []model.Occurrence{first}}})
	res := Compare(prev, []model.CalendarEvents{{Name: "work", Events: []model.Occurrence{first, second}}})

	if len(res.Added) != 1 || res.Added[0].Event.InstanceKey != second.InstanceKey {
		t.Errorf("second instance not detected: %+v", res.Added)
	}
}

func TestSnapshotOfIsSorted(t *testing.T) {
	snap := SnapshotOf([]model.CalendarEvents{{Name: "work", Events: events("c", "a", "b")}})
	got := snap["work"]
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("snapshot = %v", got)
	}
}
