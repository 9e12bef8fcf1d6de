package activity

import (
	"sync"
	"time"
)

const defaultMaxRecent = 20

// SyncActivity represents the current state of a sync run.
type SyncActivity struct {
	UserID      string     `json:"user_id"`
	Source      string     `json:"source"`
	Status      string     `json:"status"` // "running", "completed", "error"
	Mode        string     `json:"mode,omitempty"`
	Imported    int        `json:"imported"`
	Removed     int        `json:"removed"`
	TotalEvents int        `json:"total_events"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Duration    string     `json:"duration,omitempty"`
	Message     string     `json:"message,omitempty"`
}

// Outcome is what a finished run reports.
type Outcome struct {
	Success     bool
	Mode        string
	Imported    int
	Removed     int
	TotalEvents int
	Message     string
}

// Tracker tracks sync runs per user and source.
type Tracker struct {
	mu        sync.RWMutex
	active    map[string]*SyncActivity // key(userID, source) -> activity
	recent    []*SyncActivity
	maxRecent int
}

// NewTracker creates a new activity tracker.
func NewTracker() *Tracker {
	return &Tracker{
		active:    make(map[string]*SyncActivity),
		recent:    make([]*SyncActivity, 0),
		maxRecent: defaultMaxRecent,
	}
}

func key(userID, source string) string {
	return userID + "/" + source
}

// StartSync begins tracking a run.
func (t *Tracker) StartSync(userID, source string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.active[key(userID, source)] = &SyncActivity{
		UserID:    userID,
		Source:    source,
		Status:    "running",
		StartedAt: time.Now(),
	}
}

// FinishSync marks a run as finished and moves it to the recent list.
func (t *Tracker) FinishSync(userID, source string, o Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := key(userID, source)
	activity, exists := t.active[k]
	if !exists {
		return
	}

	now := time.Now()
	activity.CompletedAt = &now
	activity.Duration = now.Sub(activity.StartedAt).Round(time.Millisecond).String()
	activity.Mode = o.Mode
	activity.Imported = o.Imported
	activity.Removed = o.Removed
	activity.TotalEvents = o.TotalEvents
	activity.Message = o.Message
	if o.Success {
		activity.Status = "completed"
	} else {
		activity.Status = "error"
	}

	t.recent = append([]*SyncActivity{activity}, t.recent...)
	if len(t.recent) > t.maxRecent {
		t.recent = t.recent[:t.maxRecent]
	}

	delete(t.active, k)
}

// GetActive returns the runs in progress for userID.
func (t *Tracker) GetActive(userID string) []*SyncActivity {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]*SyncActivity, 0)
	for _, activity := range t.active {
		if activity.UserID != userID {
			continue
		}
		// Copy so callers never see later mutation.
		c := *activity
		c.Duration = time.Since(activity.StartedAt).Round(time.Millisecond).String()
		result = append(result, &c)
	}
	return result
}

// GetRecent returns the most recently finished runs for userID, newest first.
func (t *Tracker) GetRecent(userID string) []*SyncActivity {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]*SyncActivity, 0)
	for _, activity := range t.recent {
		if activity.UserID != userID {
			continue
		}
		c := *activity
		result = append(result, &c)
	}
	return result
}

// GetAll returns both active and recent runs for userID.
func (t *Tracker) GetAll(userID string) map[string]interface{} {
	return map[string]interface{}{
		"active": t.GetActive(userID),
		"recent": t.GetRecent(userID),
	}
}

// IsSyncing reports whether a run for userID and source is in progress.
func (t *Tracker) IsSyncing(userID, source string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, exists := t.active[key(userID, source)]
	return exists
}
