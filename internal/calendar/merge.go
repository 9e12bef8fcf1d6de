package calendar

import "sort"

// Merge reconciles a fetch result against the previously committed set.
//
// In ModeFull the result is built from changes alone and prior is ignored, so any
// prior event outside the fetch window is dropped. In ModeIncremental the prior set
// is patched: upserts replace by id, tombstones remove, and every other prior event
// is carried over unchanged.
//
// When a delta names the same id more than once, the last occurrence wins.
func Merge(prior []Event, changes []Change, mode Mode) []Event {
	byID := make(map[string]Event)

	if mode == ModeIncremental {
		for _, ev := range prior {
			byID[ev.ID] = ev
		}
	}

	for _, ch := range changes {
		if ch.ID() == "" {
			continue
		}
		if ch.Deleted {
			delete(byID, ch.ID())
			continue
		}
		byID[ch.ID()] = ch.Event
	}

	merged := make([]Event, 0, len(byID))
	for _, ev := range byID {
		merged = append(merged, ev)
	}
	SortEvents(merged)
	return merged
}

// SortEvents orders events by date, start time, then id.
func SortEvents(events []Event) {
	sort.Slice(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.StartTime != b.StartTime {
			return a.StartTime < b.StartTime
		}
		return a.ID < b.ID
	})
}

// CountChanges returns the number of upserts and tombstones in a delta.
func CountChanges(changes []Change) (upserts, tombstones int) {
	for _, ch := range changes {
		if ch.Deleted {
			tombstones++
		} else {
			upserts++
		}
	}
	return upserts, tombstones
}
