package calendar

// Mode is the synchronization mode used for a run.
type Mode string

const (
	ModeFull        Mode = "full"
	ModeIncremental Mode = "incremental"
)

// Source identifies where a canonical event came from.
type Source string

const (
	SourceGoogle Source = "google"
	SourceCanvas Source = "canvas"
)

// Time conventions for events without a wall-clock time.
const (
	AllDayStartTime = "00:00"
	AllDayEndTime   = "23:59"
)

// Event is the canonical, timezone-resolved representation of a calendar entry.
// Date is YYYY-MM-DD and StartTime/EndTime are HH:MM in the event's own zone.
type Event struct {
	ID          string `json:"id"`
	Source      Source `json:"source"`
	Title       string `json:"event_title"`
	Date        string `json:"date"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	AllDay      bool   `json:"all_day,omitempty"`
	Location    string `json:"location,omitempty"`
	Description string `json:"description,omitempty"`
	EventType   string `json:"event_type,omitempty"`

	// Canvas feed fields.
	RawDueTime string `json:"raw_due_time,omitempty"`
	CanvasURL  string `json:"canvas_url,omitempty"`
}

// Change is one normalized delta entry: either an upsert or a tombstone.
type Change struct {
	Event   Event
	Deleted bool
}

// ID returns the identifier the change applies to.
func (c Change) ID() string {
	return c.Event.ID
}

// Upsert returns a change that inserts or replaces ev.
func Upsert(ev Event) Change {
	return Change{Event: ev}
}

// Tombstone returns a change that removes the event with the given id.
func Tombstone(id string) Change {
	return Change{Event: Event{ID: id}, Deleted: true}
}
