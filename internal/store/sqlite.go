package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteRegistry is the development Registry implementation. Same contract
// as PostgresRegistry with a local database file instead of a server.
type SQLiteRegistry struct {
	db *sql.DB
}

// NewSQLiteRegistry opens (or creates) the registry database at dbPath.
// An empty path defaults to "./data/ghosttext.db".
func NewSQLiteRegistry(ctx context.Context, dbPath string) (*SQLiteRegistry, error) {
	if dbPath == "" {
		dbPath = "./data/ghosttext.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	r := &SQLiteRegistry{db: db}
	if err := r.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *SQLiteRegistry) initSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS channels (
		id             TEXT PRIMARY KEY,
		label          TEXT NOT NULL,
		creator        TEXT NOT NULL DEFAULT '',
		created_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		last_active_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		message_count  INTEGER NOT NULL DEFAULT 0
	)`)
	return err
}

// Close closes the database.
func (r *SQLiteRegistry) Close() {
	r.db.Close()
}

// Ping checks the database connection.
func (r *SQLiteRegistry) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// CreateChannel records a newly created channel; re-creating an existing
// channel just bumps its activity.
func (r *SQLiteRegistry) CreateChannel(ctx context.Context, id, creator string) (*Channel, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO channels (id, label, creator)
		VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET last_active_at = CURRENT_TIMESTAMP
	`, id, shortLabel(id), creator)
	if err != nil {
		return nil, err
	}
	return r.GetChannel(ctx, id)
}

// GetChannel retrieves a channel row, or (nil, nil) if absent.
func (r *SQLiteRegistry) GetChannel(ctx context.Context, id string) (*Channel, error) {
	ch := &Channel{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, label, creator, created_at, last_active_at, message_count
		FROM channels WHERE id = ?
	`, id).Scan(
		&ch.ID,
		&ch.Label,
		&ch.Creator,
		&ch.CreatedAt,
		&ch.LastActiveAt,
		&ch.MessageCount,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return ch, nil
}

// TouchActivity bumps a channel's last-active timestamp.
func (r *SQLiteRegistry) TouchActivity(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE channels SET last_active_at = CURRENT_TIMESTAMP WHERE id = ?
	`, id)
	return err
}

// IncrementMessageCount bumps a channel's message counter and activity.
func (r *SQLiteRegistry) IncrementMessageCount(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE channels
		SET message_count = message_count + 1, last_active_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, id)
	return err
}

// CountChannels returns the number of registered channels.
func (r *SQLiteRegistry) CountChannels(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM channels`).Scan(&count)
	return count, err
}
