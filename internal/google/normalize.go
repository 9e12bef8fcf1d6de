package google

import (
	"log"
	"sync"
	"time"
	_ "time/tzdata" // IANA zones without relying on the host

	"github.com/quadhls/calsync/internal/calendar"
	gcal "google.golang.org/api/calendar/v3"
)

// DefaultTimeZone is used when neither the event nor its calendar names a zone.
const DefaultTimeZone = "America/New_York"

const (
	untitledEvent   = "(No title)"
	statusCancelled = "cancelled"

	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

// Normalizer converts provider events into canonical events.
type Normalizer struct {
	fallback *time.Location

	mu        sync.Mutex
	locations map[string]*time.Location
}

// NewNormalizer creates a normalizer whose last-resort zone is fallbackZone.
// An unknown zone name falls back to DefaultTimeZone, then UTC.
func NewNormalizer(fallbackZone string) *Normalizer {
	n := &Normalizer{locations: make(map[string]*time.Location)}

	if fallbackZone == "" {
		fallbackZone = DefaultTimeZone
	}
	if loc, err := time.LoadLocation(fallbackZone); err == nil {
		n.fallback = loc
	} else if loc, err := time.LoadLocation(DefaultTimeZone); err == nil {
		log.Printf("Unknown default time zone %q, using %s", fallbackZone, DefaultTimeZone)
		n.fallback = loc
	} else {
		n.fallback = time.UTC
	}

	return n
}

// NormalizeAll normalizes every item of a page. Items without a start time
// are dropped. calendarZone is the zone reported for the calendar as a whole.
func (n *Normalizer) NormalizeAll(items []*gcal.Event, calendarZone string) []calendar.Change {
	changes := make([]calendar.Change, 0, len(items))
	for _, item := range items {
		if ch, ok := n.Normalize(item, calendarZone); ok {
			changes = append(changes, ch)
		}
	}
	return changes
}

// Normalize converts one provider event. Cancelled events become tombstones
// even when the provider sends nothing but the id. The boolean is false when
// the item carries no usable start and should be skipped.
func (n *Normalizer) Normalize(item *gcal.Event, calendarZone string) (calendar.Change, bool) {
	if item == nil || item.Id == "" {
		return calendar.Change{}, false
	}

	if item.Status == statusCancelled {
		return calendar.Tombstone(item.Id), true
	}

	if item.Start == nil || (item.Start.DateTime == "" && item.Start.Date == "") {
		return calendar.Change{}, false
	}

	ev := calendar.Event{
		ID:          item.Id,
		Source:      calendar.SourceGoogle,
		Title:       item.Summary,
		Location:    item.Location,
		Description: item.Description,
		EventType:   item.EventType,
	}
	if ev.Title == "" {
		ev.Title = untitledEvent
	}

	if item.Start.DateTime == "" {
		day, err := time.Parse(dateLayout, item.Start.Date)
		if err != nil {
			log.Printf("Skipping event %s: invalid all-day date %q", item.Id, item.Start.Date)
			return calendar.Change{}, false
		}
		ev.Date = day.Format(dateLayout)
		ev.StartTime = calendar.AllDayStartTime
		ev.EndTime = calendar.AllDayEndTime
		ev.AllDay = true
		return calendar.Upsert(ev), true
	}

	loc := n.location(item.Start.TimeZone, calendarZone)

	start, err := time.Parse(time.RFC3339, item.Start.DateTime)
	if err != nil {
		log.Printf("Skipping event %s: invalid start time", item.Id)
		return calendar.Change{}, false
	}
	start = start.In(loc)

	ev.Date = start.Format(dateLayout)
	ev.StartTime = start.Format(timeLayout)
	ev.EndTime = ev.StartTime

	if item.End != nil && item.End.DateTime != "" {
		if end, err := time.Parse(time.RFC3339, item.End.DateTime); err == nil {
			ev.EndTime = end.In(loc).Format(timeLayout)
		}
	}

	return calendar.Upsert(ev), true
}

// location resolves the first known zone among the event zone, the calendar
// zone and the configured fallback.
func (n *Normalizer) location(names ...string) *time.Location {
	for _, name := range names {
		if name == "" {
			continue
		}
		if loc := n.load(name); loc != nil {
			return loc
		}
	}
	return n.fallback
}

func (n *Normalizer) load(name string) *time.Location {
	n.mu.Lock()
	defer n.mu.Unlock()

	if loc, ok := n.locations[name]; ok {
		return loc
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		log.Printf("Unknown time zone %q, using fallback", name)
		loc = nil
	}
	n.locations[name] = loc
	return loc
}
