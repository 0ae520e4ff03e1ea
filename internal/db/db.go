package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/bborn/textline/internal/session"
)

type DB struct {
	conn *sql.DB
}

// New opens (and creates if needed) the SQLite database at dbPath
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single writer keeps SQLite happy and makes :memory: databases
	// behave as one database rather than one per connection.
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		phone TEXT NOT NULL,
		slot TEXT NOT NULL,
		payload BLOB NOT NULL,
		stored_at DATETIME NOT NULL,
		PRIMARY KEY (phone, slot)
	);

	CREATE TABLE IF NOT EXISTS daily_calories (
		phone TEXT NOT NULL,
		day TEXT NOT NULL,
		total INTEGER NOT NULL DEFAULT 0,
		target INTEGER NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (phone, day)
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_slot_stored_at ON sessions(slot, stored_at);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// Load returns the stored session entry, or nil if there is none
func (db *DB) Load(ctx context.Context, phone string, slot session.Slot) (*session.Entry, error) {
	var entry session.Entry
	err := db.conn.QueryRowContext(ctx,
		`SELECT payload, stored_at FROM sessions WHERE phone = ? AND slot = ?`,
		phone, string(slot),
	).Scan(&entry.Data, &entry.StoredAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Save replaces the entry for (phone, slot)
func (db *DB) Save(ctx context.Context, phone string, slot session.Slot, entry session.Entry) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT OR REPLACE INTO sessions (phone, slot, payload, stored_at) VALUES (?, ?, ?, ?)`,
		phone, string(slot), entry.Data, entry.StoredAt.UTC(),
	)
	return err
}

func (db *DB) Delete(ctx context.Context, phone string, slot session.Slot) error {
	_, err := db.conn.ExecContext(ctx,
		`DELETE FROM sessions WHERE phone = ? AND slot = ?`, phone, string(slot),
	)
	return err
}

// PurgeExpiredSessions deletes entries older than their slot's TTL. Slots
// without a TTL are left alone.
func (db *DB) PurgeExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	var purged int64
	for _, slot := range session.Expiring {
		cutoff := now.Add(-slot.TTL()).UTC()
		result, err := db.conn.ExecContext(ctx,
			`DELETE FROM sessions WHERE slot = ? AND stored_at < ?`, string(slot), cutoff,
		)
		if err != nil {
			return purged, fmt.Errorf("failed to purge %s: %w", slot, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return purged, err
		}
		purged += n
	}
	return purged, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}
