package db

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"  // Postgres driver
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/quadhls/calsync/internal/crypto"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var (
	ErrNotFound          = errors.New("record not found")
	ErrDatabaseInit      = errors.New("database initialization failed")
	ErrUnsupportedDriver = errors.New("unsupported database driver")
)

// DB represents the database connection.
type DB struct {
	conn   *sqlx.DB
	driver string
	enc    *crypto.Encryptor
}

// New opens the database for driver and dsn and initializes the schema.
// For SQLite, dsn is a file path. Tokens are sealed with enc before storage.
func New(driver, dsn string, enc *crypto.Encryptor) (*DB, error) {
	if enc == nil {
		return nil, fmt.Errorf("%w: encryptor is required", ErrDatabaseInit)
	}

	var (
		conn *sqlx.DB
		err  error
	)
	switch driver {
	case DriverSQLite, "":
		driver = DriverSQLite
		conn, err = openSQLite(dsn)
	case DriverPostgres:
		conn, err = openPostgres(dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}
	if err != nil {
		return nil, err
	}

	db := &DB{conn: conn, driver: driver, enc: enc}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}

	if driver == DriverSQLite {
		// The file may not exist yet in WAL mode.
		_ = os.Chmod(dsn, 0600)
	}

	return db, nil
}

func openSQLite(path string) (*sqlx.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("%w: failed to create directory: %w", ErrDatabaseInit, err)
	}

	conn, err := sqlx.Open(DriverSQLite, path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %w", ErrDatabaseInit, err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA secure_delete=ON",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%w: failed to set pragma: %w", ErrDatabaseInit, err)
		}
	}

	return conn, nil
}

func openPostgres(dsn string) (*sqlx.DB, error) {
	conn, err := sqlx.Open(DriverPostgres, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %w", ErrDatabaseInit, err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: failed to reach database: %w", ErrDatabaseInit, err)
	}
	return conn, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// Driver returns the name of the database driver in use.
func (db *DB) Driver() string {
	return db.driver
}

// migrate creates the database schema.
func (db *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS credentials (
			user_id TEXT PRIMARY KEY,
			access_token TEXT NOT NULL,
			refresh_token TEXT NOT NULL,
			expiry {{timestamp}} NOT NULL,
			scope TEXT NOT NULL DEFAULT '',
			token_type TEXT NOT NULL DEFAULT 'Bearer',
			created_at {{timestamp}} NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at {{timestamp}} NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS profiles (
			user_id TEXT PRIMARY KEY,
			google_calendar_connected {{bool}},
			google_sync_cursor TEXT,
			google_events TEXT NOT NULL DEFAULT '[]',
			google_last_synced_at {{timestamp}},
			canvas_calendar_connected {{bool}},
			canvas_feed_url TEXT,
			canvas_events TEXT NOT NULL DEFAULT '[]',
			canvas_last_synced_at {{timestamp}},
			created_at {{timestamp}} NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at {{timestamp}} NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS sync_logs (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			source TEXT NOT NULL,
			mode TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			message TEXT NOT NULL DEFAULT '',
			imported INTEGER NOT NULL DEFAULT 0,
			removed INTEGER NOT NULL DEFAULT 0,
			total_events INTEGER NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			created_at {{timestamp}} NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_sync_logs_user_id ON sync_logs(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_logs_created_at ON sync_logs(created_at DESC)`,
	}

	for _, migration := range migrations {
		if _, err := db.conn.Exec(db.dialect(migration)); err != nil {
			if !isDuplicateColumnError(err) {
				return fmt.Errorf("%w: migration failed: %w", ErrDatabaseInit, err)
			}
		}
	}

	return nil
}

// dialect fills in the column types that differ between drivers.
func (db *DB) dialect(stmt string) string {
	timestamp, boolean := "DATETIME", "INTEGER NOT NULL DEFAULT 0"
	if db.driver == DriverPostgres {
		timestamp, boolean = "TIMESTAMPTZ", "BOOLEAN NOT NULL DEFAULT FALSE"
	}
	return strings.NewReplacer("{{timestamp}}", timestamp, "{{bool}}", boolean).Replace(stmt)
}

// isDuplicateColumnError checks if the error is due to a duplicate column in ALTER TABLE.
func isDuplicateColumnError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "duplicate column") || strings.Contains(errStr, "already exists")
}

// rebind converts ? placeholders to the driver's bind style.
func (db *DB) rebind(query string) string {
	return db.conn.Rebind(query)
}

// Ping checks the database connection.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}
