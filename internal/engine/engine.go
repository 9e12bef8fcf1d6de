// Package engine runs Google Calendar syncs: it picks full or incremental
// mode, fetches, normalizes, merges and commits the result for one user.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/quadhls/calsync/internal/activity"
	"github.com/quadhls/calsync/internal/calendar"
	"github.com/quadhls/calsync/internal/connect"
	"github.com/quadhls/calsync/internal/db"
	"github.com/quadhls/calsync/internal/google"
)

const (
	defaultLookBackDays  = 90
	defaultLookAheadDays = 270
	defaultTimeout       = 2 * time.Minute

	sourceGoogle = string(calendar.SourceGoogle)
)

// CredentialStore reads and updates stored credentials.
type CredentialStore = connect.CredentialStore

// EventStore holds the committed cursor and event set.
type EventStore interface {
	GetSyncState(ctx context.Context, userID string) (*db.SyncState, error)
	// CommitSync writes events, cursor and syncedAt as one update.
	// A nil cursor leaves the stored cursor unchanged.
	CommitSync(ctx context.Context, userID string, events []calendar.Event, cursor *string, syncedAt time.Time) error
	ClearCursor(ctx context.Context, userID string) error
}

// Provider fetches events from the calendar provider.
type Provider interface {
	FullSync(ctx context.Context, accessToken string, window google.Window) (*google.Page, error)
	IncrementalSync(ctx context.Context, accessToken, cursor string) (*google.Page, error)
}

// SyncLogStore records one row per run.
type SyncLogStore interface {
	CreateSyncLog(ctx context.Context, entry *db.SyncLog) error
}

// ActivityRecorder receives run progress for display.
type ActivityRecorder interface {
	StartSync(userID, source string)
	FinishSync(userID, source string, o activity.Outcome)
}

// Alerter is told when a user's connection breaks or recovers.
type Alerter interface {
	ConnectionBroken(ctx context.Context, userID, reason string) bool
	ConnectionRecovered(ctx context.Context, userID string) bool
}

// Config controls the sync window and timeouts.
type Config struct {
	LookBackDays  int
	LookAheadDays int
	Timeout       time.Duration
	TimeZone      string
	RefreshMargin time.Duration
}

// Dependencies are the collaborators of a SyncEngine. Logs, Activity and
// Alerts are optional.
type Dependencies struct {
	Credentials CredentialStore
	Refresher   connect.Refresher
	Events      EventStore
	Provider    Provider
	Logs        SyncLogStore
	Activity    ActivityRecorder
	Alerts      Alerter
}

// SyncResult is returned to the caller of a sync run.
type SyncResult struct {
	Imported    int           `json:"imported"`
	Removed     int           `json:"removed"`
	Mode        calendar.Mode `json:"mode"`
	Incremental bool          `json:"incremental"`
	TotalEvents int           `json:"totalEvents"`
}

// SyncEngine orchestrates Google Calendar synchronization.
type SyncEngine struct {
	cfg        Config
	events     EventStore
	provider   Provider
	tokens     *connect.TokenManager
	normalizer *google.Normalizer
	logs       SyncLogStore
	activity   ActivityRecorder
	alerts     Alerter
	locks      *userLocks
	now        func() time.Time
}

// New creates a sync engine.
func New(cfg Config, deps Dependencies) *SyncEngine {
	if cfg.LookBackDays <= 0 {
		cfg.LookBackDays = defaultLookBackDays
	}
	if cfg.LookAheadDays <= 0 {
		cfg.LookAheadDays = defaultLookAheadDays
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	return &SyncEngine{
		cfg:        cfg,
		events:     deps.Events,
		provider:   deps.Provider,
		tokens:     connect.NewTokenManager(deps.Credentials, deps.Refresher, cfg.RefreshMargin),
		normalizer: google.NewNormalizer(cfg.TimeZone),
		logs:       deps.Logs,
		activity:   deps.Activity,
		alerts:     deps.Alerts,
		locks:      newUserLocks(),
		now:        time.Now,
	}
}

// WithUserLock runs fn while holding the same per-user lock as Run, so
// other writers of a user's Google state never interleave with a sync.
func (e *SyncEngine) WithUserLock(ctx context.Context, userID string, fn func(ctx context.Context) error) error {
	unlock, err := e.locks.Lock(ctx, userID)
	if err != nil {
		return fmt.Errorf("waiting for sync lock: %w", err)
	}
	defer unlock()
	return fn(ctx)
}

// Run performs one sync for userID. Runs for the same user are serialized
// from token lookup through commit; a second caller waits for the first.
func (e *SyncEngine) Run(ctx context.Context, userID string) (*SyncResult, error) {
	if userID == "" {
		return nil, calendar.ErrUnauthorized
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	unlock, err := e.locks.Lock(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("waiting for sync lock: %w", err)
	}
	defer unlock()

	start := time.Now()
	if e.activity != nil {
		e.activity.StartSync(userID, sourceGoogle)
	}

	result, err := e.run(ctx, userID)
	e.finish(ctx, userID, result, err, time.Since(start))
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *SyncEngine) run(ctx context.Context, userID string) (*SyncResult, error) {
	token, err := e.tokens.AccessToken(ctx, userID)
	if err != nil {
		return nil, err
	}

	state, err := e.events.GetSyncState(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read sync state: %w", calendar.ErrPersistenceFailure, err)
	}

	mode := calendar.ModeFull
	if state.Cursor != "" {
		mode = calendar.ModeIncremental
	}

	page, err := e.fetch(ctx, token, mode, state.Cursor)
	if err != nil {
		if mode != calendar.ModeIncremental || !errors.Is(err, calendar.ErrCursorExpired) {
			return nil, err
		}

		log.Printf("Sync cursor expired for user %s, falling back to full sync", userID)
		if err := e.events.ClearCursor(ctx, userID); err != nil {
			return nil, fmt.Errorf("%w: failed to clear cursor: %w", calendar.ErrPersistenceFailure, err)
		}

		mode = calendar.ModeFull
		page, err = e.fetch(ctx, token, mode, "")
		if err != nil {
			return nil, fmt.Errorf("%w: forced full sync failed: %w", calendar.ErrCursorExpired, err)
		}
	}

	changes := e.normalizer.NormalizeAll(page.Items, page.TimeZone)
	merged := calendar.Merge(state.Events, changes, mode)

	// A fetch that outlived its deadline must not be committed.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var cursor *string
	if page.NextSyncToken != "" {
		cursor = &page.NextSyncToken
	}
	if err := e.events.CommitSync(ctx, userID, merged, cursor, e.now().UTC()); err != nil {
		return nil, fmt.Errorf("%w: %w", calendar.ErrPersistenceFailure, err)
	}

	upserts, tombstones := calendar.CountChanges(changes)
	return &SyncResult{
		Imported:    upserts,
		Removed:     tombstones,
		Mode:        mode,
		Incremental: mode == calendar.ModeIncremental,
		TotalEvents: len(merged),
	}, nil
}

func (e *SyncEngine) fetch(ctx context.Context, token string, mode calendar.Mode, cursor string) (*google.Page, error) {
	if mode == calendar.ModeIncremental {
		return e.provider.IncrementalSync(ctx, token, cursor)
	}
	return e.provider.FullSync(ctx, token, e.window())
}

// window returns the bounded range fetched by a full sync.
func (e *SyncEngine) window() google.Window {
	now := e.now().UTC()
	return google.Window{
		Start: now.AddDate(0, 0, -e.cfg.LookBackDays),
		End:   now.AddDate(0, 0, e.cfg.LookAheadDays),
	}
}

func (e *SyncEngine) finish(ctx context.Context, userID string, result *SyncResult, runErr error, duration time.Duration) {
	entry := &db.SyncLog{
		ID:       uuid.NewString(),
		UserID:   userID,
		Source:   sourceGoogle,
		Status:   db.SyncStatusSuccess,
		Duration: duration,
	}
	outcome := activity.Outcome{Success: runErr == nil}

	if runErr != nil {
		entry.Status = db.SyncStatusError
		entry.Message = calendar.Code(runErr)
		outcome.Message = entry.Message
		log.Printf("Sync failed for user %s: %v", userID, runErr)
	} else {
		entry.Mode = string(result.Mode)
		entry.Imported = result.Imported
		entry.Removed = result.Removed
		entry.TotalEvents = result.TotalEvents
		entry.Message = fmt.Sprintf("%s sync imported %d events", result.Mode, result.Imported)
		outcome.Mode = entry.Mode
		outcome.Imported = result.Imported
		outcome.Removed = result.Removed
		outcome.TotalEvents = result.TotalEvents
		outcome.Message = entry.Message
		log.Printf("Sync completed for user %s: mode=%s imported=%d removed=%d total=%d in %v",
			userID, result.Mode, result.Imported, result.Removed, result.TotalEvents, duration.Round(time.Millisecond))
	}

	if e.activity != nil {
		e.activity.FinishSync(userID, sourceGoogle, outcome)
	}

	if e.alerts != nil {
		switch {
		case runErr == nil:
			e.alerts.ConnectionRecovered(ctx, userID)
		case errors.Is(runErr, calendar.ErrReauthorizationRequired):
			e.alerts.ConnectionBroken(ctx, userID, calendar.Code(runErr))
		}
	}

	if e.logs != nil {
		// The run context may already be past its deadline.
		logCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := e.logs.CreateSyncLog(logCtx, entry); err != nil {
			log.Printf("Failed to create sync log: %v", err)
		}
	}
}
