package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/quadhls/calsync/internal/calendar"
)

// SaveCredential upserts the credential for cred.UserID, replacing every field.
func (db *DB) SaveCredential(ctx context.Context, cred *calendar.Credential) error {
	access, err := db.enc.Encrypt(cred.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}
	refresh, err := db.enc.Encrypt(cred.RefreshToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	now := time.Now().UTC()
	query := `INSERT INTO credentials (user_id, access_token, refresh_token, expiry, scope, token_type, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expiry = excluded.expiry,
			scope = excluded.scope,
			token_type = excluded.token_type,
			updated_at = excluded.updated_at`

	_, err = db.conn.ExecContext(ctx, db.rebind(query),
		cred.UserID, access, refresh, cred.Expiry.UTC(), cred.Scope, cred.TokenType, now, now)
	if err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return nil
}

// GetCredential returns the decrypted credential for userID, or
// calendar.ErrNotConnected when none is stored.
func (db *DB) GetCredential(ctx context.Context, userID string) (*calendar.Credential, error) {
	var row credentialRow
	query := `SELECT user_id, access_token, refresh_token, expiry, scope, token_type, created_at, updated_at
		FROM credentials WHERE user_id = ?`

	err := db.conn.GetContext(ctx, &row, db.rebind(query), userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, calendar.ErrNotConnected
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}

	access, err := db.enc.Decrypt(row.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt access token: %w", err)
	}
	refresh, err := db.enc.Decrypt(row.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt refresh token: %w", err)
	}

	return &calendar.Credential{
		UserID:       row.UserID,
		AccessToken:  access,
		RefreshToken: refresh,
		Expiry:       row.Expiry.UTC(),
		Scope:        row.Scope,
		TokenType:    row.TokenType,
		UpdatedAt:    row.UpdatedAt,
	}, nil
}

// UpdateAccessToken stores a refreshed access token. The refresh token is kept.
func (db *DB) UpdateAccessToken(ctx context.Context, userID, accessToken string, expiry time.Time) error {
	access, err := db.enc.Encrypt(accessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}

	query := `UPDATE credentials SET access_token = ?, expiry = ?, updated_at = ? WHERE user_id = ?`
	result, err := db.conn.ExecContext(ctx, db.rebind(query), access, expiry.UTC(), time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("failed to update access token: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return calendar.ErrNotConnected
	}
	return nil
}

// Disconnect deletes the credential and resets the user's Google state.
func (db *DB) Disconnect(ctx context.Context, userID string) error {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, db.rebind(`DELETE FROM credentials WHERE user_id = ?`), userID); err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}

	query := `UPDATE profiles SET
			google_calendar_connected = ?,
			google_sync_cursor = NULL,
			google_events = '[]',
			updated_at = ?
		WHERE user_id = ?`
	if _, err := tx.ExecContext(ctx, db.rebind(query), false, time.Now().UTC(), userID); err != nil {
		return fmt.Errorf("failed to reset profile: %w", err)
	}

	return tx.Commit()
}

// MarkConnected flags the user's Google calendar as connected.
func (db *DB) MarkConnected(ctx context.Context, userID string, at time.Time) error {
	query := `INSERT INTO profiles (user_id, google_calendar_connected, google_last_synced_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			google_calendar_connected = excluded.google_calendar_connected,
			google_last_synced_at = excluded.google_last_synced_at,
			updated_at = excluded.updated_at`

	now := time.Now().UTC()
	if _, err := db.conn.ExecContext(ctx, db.rebind(query), userID, true, at.UTC(), now, now); err != nil {
		return fmt.Errorf("failed to mark profile connected: %w", err)
	}
	return nil
}

// GetSyncState returns the committed Google state. A user without a profile
// has an empty state and no cursor.
func (db *DB) GetSyncState(ctx context.Context, userID string) (*SyncState, error) {
	row, err := db.getProfileRow(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return &SyncState{}, nil
	}
	if err != nil {
		return nil, err
	}

	events, err := decodeEvents(row.GoogleEvents)
	if err != nil {
		return nil, err
	}

	state := &SyncState{Events: events, LastSyncedAt: row.GoogleLastSyncedAt}
	if row.GoogleSyncCursor != nil {
		state.Cursor = *row.GoogleSyncCursor
	}
	return state, nil
}

// CommitSync writes the merged event set, the cursor and the sync time in a
// single statement. A nil cursor keeps the stored one.
func (db *DB) CommitSync(ctx context.Context, userID string, events []calendar.Event, cursor *string, syncedAt time.Time) error {
	encoded, err := encodeEvents(events)
	if err != nil {
		return err
	}

	query := `INSERT INTO profiles (user_id, google_calendar_connected, google_sync_cursor, google_events, google_last_synced_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			google_calendar_connected = excluded.google_calendar_connected,
			google_sync_cursor = COALESCE(excluded.google_sync_cursor, profiles.google_sync_cursor),
			google_events = excluded.google_events,
			google_last_synced_at = excluded.google_last_synced_at,
			updated_at = excluded.updated_at`

	now := time.Now().UTC()
	_, err = db.conn.ExecContext(ctx, db.rebind(query), userID, true, cursor, encoded, syncedAt.UTC(), now, now)
	if err != nil {
		return fmt.Errorf("failed to commit sync: %w", err)
	}
	return nil
}

// ClearCursor removes the stored cursor so the next sync is full.
func (db *DB) ClearCursor(ctx context.Context, userID string) error {
	query := `UPDATE profiles SET google_sync_cursor = NULL, updated_at = ? WHERE user_id = ?`
	if _, err := db.conn.ExecContext(ctx, db.rebind(query), time.Now().UTC(), userID); err != nil {
		return fmt.Errorf("failed to clear cursor: %w", err)
	}
	return nil
}

// GetProfile returns the calendar profile for userID. A missing profile is
// returned as a zero profile rather than an error.
func (db *DB) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	row, err := db.getProfileRow(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return &Profile{UserID: userID}, nil
	}
	if err != nil {
		return nil, err
	}

	google, err := decodeEvents(row.GoogleEvents)
	if err != nil {
		return nil, err
	}
	canvas, err := decodeEvents(row.CanvasEvents)
	if err != nil {
		return nil, err
	}

	p := &Profile{
		UserID:             row.UserID,
		GoogleConnected:    row.GoogleConnected,
		GoogleLastSyncedAt: row.GoogleLastSyncedAt,
		HasCursor:          row.GoogleSyncCursor != nil && *row.GoogleSyncCursor != "",
		GoogleEventCount:   len(google),
		CanvasConnected:    row.CanvasConnected,
		CanvasLastSyncedAt: row.CanvasLastSyncedAt,
		CanvasEventCount:   len(canvas),
		UpdatedAt:          row.UpdatedAt,
	}
	if row.CanvasFeedURL != nil {
		p.CanvasFeedURL = *row.CanvasFeedURL
	}
	return p, nil
}

// GetEvents returns the user's Google and Canvas events in display order.
func (db *DB) GetEvents(ctx context.Context, userID string) ([]calendar.Event, error) {
	row, err := db.getProfileRow(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return []calendar.Event{}, nil
	}
	if err != nil {
		return nil, err
	}

	google, err := decodeEvents(row.GoogleEvents)
	if err != nil {
		return nil, err
	}
	canvas, err := decodeEvents(row.CanvasEvents)
	if err != nil {
		return nil, err
	}

	events := append(google, canvas...)
	calendar.SortEvents(events)
	return events, nil
}

// SetCanvasFeed stores the user's Canvas iCal feed URL.
func (db *DB) SetCanvasFeed(ctx context.Context, userID, feedURL string) error {
	query := `INSERT INTO profiles (user_id, canvas_feed_url, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			canvas_feed_url = excluded.canvas_feed_url,
			updated_at = excluded.updated_at`

	now := time.Now().UTC()
	if _, err := db.conn.ExecContext(ctx, db.rebind(query), userID, feedURL, now, now); err != nil {
		return fmt.Errorf("failed to set canvas feed: %w", err)
	}
	return nil
}

// GetCanvasState returns the stored Canvas feed URL and events.
func (db *DB) GetCanvasState(ctx context.Context, userID string) (*CanvasState, error) {
	row, err := db.getProfileRow(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return &CanvasState{}, nil
	}
	if err != nil {
		return nil, err
	}

	events, err := decodeEvents(row.CanvasEvents)
	if err != nil {
		return nil, err
	}

	state := &CanvasState{Events: events, LastSyncedAt: row.CanvasLastSyncedAt}
	if row.CanvasFeedURL != nil {
		state.FeedURL = *row.CanvasFeedURL
	}
	return state, nil
}

// CommitCanvasImport replaces the user's Canvas events in one statement.
func (db *DB) CommitCanvasImport(ctx context.Context, userID string, events []calendar.Event, syncedAt time.Time) error {
	encoded, err := encodeEvents(events)
	if err != nil {
		return err
	}

	query := `UPDATE profiles SET
			canvas_events = ?,
			canvas_calendar_connected = ?,
			canvas_last_synced_at = ?,
			updated_at = ?
		WHERE user_id = ?`

	result, err := db.conn.ExecContext(ctx, db.rebind(query), encoded, true, syncedAt.UTC(), time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("failed to commit canvas import: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateSyncLog creates a new sync log entry.
func (db *DB) CreateSyncLog(ctx context.Context, entry *SyncLog) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	entry.CreatedAt = time.Now().UTC()

	query := `INSERT INTO sync_logs (id, user_id, source, mode, status, message, imported, removed, total_events, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := db.conn.ExecContext(ctx, db.rebind(query),
		entry.ID, entry.UserID, entry.Source, entry.Mode, string(entry.Status), entry.Message,
		entry.Imported, entry.Removed, entry.TotalEvents, entry.Duration.Milliseconds(), entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create sync log: %w", err)
	}
	return nil
}

// GetSyncLogs returns the most recent sync logs for a user.
func (db *DB) GetSyncLogs(ctx context.Context, userID string, limit int) ([]*SyncLog, error) {
	var rows []syncLogRow
	query := `SELECT id, user_id, source, mode, status, message, imported, removed, total_events, duration_ms, created_at
		FROM sync_logs WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`

	if err := db.conn.SelectContext(ctx, &rows, db.rebind(query), userID, limit); err != nil {
		return nil, fmt.Errorf("failed to query sync logs: %w", err)
	}

	logs := make([]*SyncLog, 0, len(rows))
	for _, r := range rows {
		logs = append(logs, &SyncLog{
			ID:          r.ID,
			UserID:      r.UserID,
			Source:      r.Source,
			Mode:        r.Mode,
			Status:      SyncStatus(r.Status),
			Message:     r.Message,
			Imported:    r.Imported,
			Removed:     r.Removed,
			TotalEvents: r.TotalEvents,
			Duration:    time.Duration(r.DurationMS) * time.Millisecond,
			CreatedAt:   r.CreatedAt,
		})
	}
	return logs, nil
}

// CleanOldSyncLogs deletes sync logs older than the given time.
func (db *DB) CleanOldSyncLogs(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := db.conn.ExecContext(ctx, db.rebind(`DELETE FROM sync_logs WHERE created_at < ?`), olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to clean old sync logs: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}

func (db *DB) getProfileRow(ctx context.Context, userID string) (*profileRow, error) {
	var row profileRow
	query := `SELECT user_id, google_calendar_connected, google_sync_cursor, google_events, google_last_synced_at,
			canvas_calendar_connected, canvas_feed_url, canvas_events, canvas_last_synced_at, created_at, updated_at
		FROM profiles WHERE user_id = ?`

	err := db.conn.GetContext(ctx, &row, db.rebind(query), userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return &row, nil
}

func encodeEvents(events []calendar.Event) (string, error) {
	if events == nil {
		events = []calendar.Event{}
	}
	b, err := json.Marshal(events)
	if err != nil {
		return "", fmt.Errorf("failed to encode events: %w", err)
	}
	return string(b), nil
}

func decodeEvents(raw string) ([]calendar.Event, error) {
	events := []calendar.Event{}
	if raw == "" {
		return events, nil
	}
	if err := json.Unmarshal([]byte(raw), &events); err != nil {
		return nil, fmt.Errorf("failed to decode events: %w", err)
	}
	return events, nil
}
