package calendar

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
)

func testEvent(id, title, date, start string) Event {
	return Event{
		ID:        id,
		Source:    SourceGoogle,
		Title:     title,
		Date:      date,
		StartTime: start,
		EndTime:   start,
	}
}

func eventsByID(events []Event) map[string]Event {
	m := make(map[string]Event, len(events))
	for _, ev := range events {
		m[ev.ID] = ev
	}
	return m
}

func TestMergeIncremental(t *testing.T) {
	prior := []Event{
		testEvent("a", "Lecture", "2026-03-02", "09:00"),
		testEvent("b", "Seminar", "2026-03-03", "14:00"),
		testEvent("c", "Office hours", "2026-03-04", "16:00"),
	}

	t.Run("preserves ids absent from the delta", func(t *testing.T) {
		delta := []Change{
			Upsert(testEvent("a", "Lecture (moved)", "2026-03-02", "10:00")),
			Upsert(testEvent("d", "Exam", "2026-03-10", "08:00")),
		}

		merged := eventsByID(Merge(prior, delta, ModeIncremental))

		if len(merged) != 4 {
			t.Fatalf("expected 4 events, got %d", len(merged))
		}
		for _, id := range []string{"b", "c"} {
			want := eventsByID(prior)[id]
			if !reflect.DeepEqual(merged[id], want) {
				t.Errorf("event %s changed: got %+v, want %+v", id, merged[id], want)
			}
		}
		if merged["a"].Title != "Lecture (moved)" || merged["a"].StartTime != "10:00" {
			t.Errorf("event a not updated: %+v", merged["a"])
		}
		if _, ok := merged["d"]; !ok {
			t.Error("expected new event d to be inserted")
		}
	})

	t.Run("tombstone removes a known id", func(t *testing.T) {
		merged := eventsByID(Merge(prior, []Change{Tombstone("b")}, ModeIncremental))
		if _, ok := merged["b"]; ok {
			t.Error("expected b to be removed")
		}
		if len(merged) != 2 {
			t.Errorf("expected 2 events, got %d", len(merged))
		}
	})

	t.Run("tombstone for an unknown id is harmless", func(t *testing.T) {
		merged := Merge(prior, []Change{Tombstone("zzz")}, ModeIncremental)
		if len(merged) != len(prior) {
			t.Errorf("expected %d events, got %d", len(prior), len(merged))
		}
		if _, ok := eventsByID(merged)["zzz"]; ok {
			t.Error("tombstoned id must be absent")
		}
	})

	t.Run("applying the same delta twice is idempotent", func(t *testing.T) {
		delta := []Change{
			Upsert(testEvent("a", "Lecture (moved)", "2026-03-02", "10:00")),
			Tombstone("c"),
			Upsert(testEvent("e", "Review", "2026-03-05", "18:00")),
		}

		once := Merge(prior, delta, ModeIncremental)
		twice := Merge(once, delta, ModeIncremental)

		if !reflect.DeepEqual(once, twice) {
			t.Errorf("merge not idempotent:\nonce:  %+v\ntwice: %+v", once, twice)
		}
	})

	t.Run("last occurrence of an id within a delta wins", func(t *testing.T) {
		delta := []Change{
			Upsert(testEvent("x", "First", "2026-03-01", "08:00")),
			Upsert(testEvent("x", "Second", "2026-03-01", "08:00")),
			Upsert(testEvent("y", "Kept", "2026-03-01", "09:00")),
			Tombstone("y"),
		}

		merged := eventsByID(Merge(nil, delta, ModeIncremental))
		if merged["x"].Title != "Second" {
			t.Errorf("expected last write to win, got %q", merged["x"].Title)
		}
		if _, ok := merged["y"]; ok {
			t.Error("expected trailing tombstone to remove y")
		}
	})

	t.Run("does not mutate the prior slice", func(t *testing.T) {
		snapshot := append([]Event(nil), prior...)
		Merge(prior, []Change{Tombstone("a"), Upsert(testEvent("b", "Changed", "2026-01-01", "00:00"))}, ModeIncremental)
		if !reflect.DeepEqual(prior, snapshot) {
			t.Error("prior slice was mutated")
		}
	})
}

func TestMergeFull(t *testing.T) {
	delta := []Change{
		Upsert(testEvent("n1", "New one", "2026-04-01", "09:00")),
		Upsert(testEvent("n2", "New two", "2026-04-02", "09:00")),
		Tombstone("n3"),
	}

	t.Run("result depends only on the delta", func(t *testing.T) {
		priors := [][]Event{
			nil,
			{testEvent("old", "Old", "2025-01-01", "09:00")},
			{testEvent("n1", "Stale n1", "2026-04-01", "07:00"), testEvent("n3", "Stale n3", "2026-04-03", "07:00")},
		}

		want := Merge(nil, delta, ModeFull)
		for i, prior := range priors {
			got := Merge(prior, delta, ModeFull)
			if !reflect.DeepEqual(got, want) {
				t.Errorf("prior %d: got %+v, want %+v", i, got, want)
			}
		}
	})

	t.Run("drops prior events outside the fetch", func(t *testing.T) {
		got := eventsByID(Merge([]Event{testEvent("old", "Old", "2025-01-01", "09:00")}, delta, ModeFull))
		if _, ok := got["old"]; ok {
			t.Error("full sync must replace the prior set")
		}
		if len(got) != 2 {
			t.Errorf("expected 2 events, got %d", len(got))
		}
	})
}

func TestMergeOrdering(t *testing.T) {
	delta := []Change{
		Upsert(testEvent("c", "C", "2026-05-02", "09:00")),
		Upsert(testEvent("b", "B", "2026-05-01", "13:00")),
		Upsert(testEvent("a", "A", "2026-05-01", "13:00")),
		Upsert(testEvent("d", "D", "2026-05-01", "08:00")),
	}

	got := Merge(nil, delta, ModeFull)
	var ids []string
	for _, ev := range got {
		ids = append(ids, ev.ID)
	}

	want := []string{"d", "a", "b", "c"}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("expected order %v, got %v", want, ids)
	}
}

func TestCountChanges(t *testing.T) {
	upserts, tombstones := CountChanges([]Change{
		Upsert(testEvent("a", "A", "2026-01-01", "00:00")),
		Tombstone("b"),
		Tombstone("c"),
	})
	if upserts != 1 || tombstones != 2 {
		t.Errorf("expected 1 upsert and 2 tombstones, got %d and %d", upserts, tombstones)
	}
}

func TestCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrUnauthorized, "unauthorized"},
		{fmt.Errorf("%w: refresh rejected", ErrReauthorizationRequired), "reauthorization_required"},
		{fmt.Errorf("%w: status 503", ErrUpstreamUnavailable), "upstream_unavailable"},
		{ErrNotConnected, "not_connected"},
		{errors.New("boom"), "internal_error"},
	}

	for _, tt := range tests {
		if got := Code(tt.err); got != tt.want {
			t.Errorf("Code(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
