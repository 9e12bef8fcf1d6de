package db

import (
	"time"

	"github.com/quadhls/calsync/internal/calendar"
)

// SyncStatus represents the outcome of a sync run.
type SyncStatus string

const (
	SyncStatusRunning SyncStatus = "running"
	SyncStatusSuccess SyncStatus = "success"
	SyncStatusError   SyncStatus = "error"
)

// Profile is the per-user calendar record.
type Profile struct {
	UserID             string     `json:"user_id"`
	GoogleConnected    bool       `json:"google_calendar_connected"`
	GoogleLastSyncedAt *time.Time `json:"google_last_synced"`
	HasCursor          bool       `json:"has_sync_cursor"`
	GoogleEventCount   int        `json:"google_event_count"`
	CanvasConnected    bool       `json:"canvas_calendar_connected"`
	CanvasFeedURL      string     `json:"canvas_feed_url,omitempty"`
	CanvasLastSyncedAt *time.Time `json:"canvas_last_synced"`
	CanvasEventCount   int        `json:"canvas_event_count"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// SyncState is the committed Google sync state for one user: the cursor and
// the event set it corresponds to.
type SyncState struct {
	Cursor       string
	Events       []calendar.Event
	LastSyncedAt *time.Time
}

// CanvasState is the committed Canvas feed state for one user.
type CanvasState struct {
	FeedURL      string
	Events       []calendar.Event
	LastSyncedAt *time.Time
}

// SyncLog represents a log entry for a sync run.
type SyncLog struct {
	ID          string        `json:"id"`
	UserID      string        `json:"user_id"`
	Source      string        `json:"source"`
	Mode        string        `json:"mode,omitempty"`
	Status      SyncStatus    `json:"status"`
	Message     string        `json:"message"`
	Imported    int           `json:"imported"`
	Removed     int           `json:"removed"`
	TotalEvents int           `json:"total_events"`
	Duration    time.Duration `json:"duration"`
	CreatedAt   time.Time     `json:"created_at"`
}

// credentialRow mirrors the credentials table. Tokens are stored encrypted.
type credentialRow struct {
	UserID       string    `db:"user_id"`
	AccessToken  string    `db:"access_token"`
	RefreshToken string    `db:"refresh_token"`
	Expiry       time.Time `db:"expiry"`
	Scope        string    `db:"scope"`
	TokenType    string    `db:"token_type"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

type profileRow struct {
	UserID             string     `db:"user_id"`
	GoogleConnected    bool       `db:"google_calendar_connected"`
	GoogleSyncCursor   *string    `db:"google_sync_cursor"`
	GoogleEvents       string     `db:"google_events"`
	GoogleLastSyncedAt *time.Time `db:"google_last_synced_at"`
	CanvasConnected    bool       `db:"canvas_calendar_connected"`
	CanvasFeedURL      *string    `db:"canvas_feed_url"`
	CanvasEvents       string     `db:"canvas_events"`
	CanvasLastSyncedAt *time.Time `db:"canvas_last_synced_at"`
	CreatedAt          time.Time  `db:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at"`
}

type syncLogRow struct {
	ID          string    `db:"id"`
	UserID      string    `db:"user_id"`
	Source      string    `db:"source"`
	Mode        string    `db:"mode"`
	Status      string    `db:"status"`
	Message     string    `db:"message"`
	Imported    int       `db:"imported"`
	Removed     int       `db:"removed"`
	TotalEvents int       `db:"total_events"`
	DurationMS  int64     `db:"duration_ms"`
	CreatedAt   time.Time `db:"created_at"`
}
