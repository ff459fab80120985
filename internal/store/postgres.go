package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRegistry is the production Registry implementation.
type PostgresRegistry struct {
	pool *pgxpool.Pool
}

// NewPostgresRegistry creates a registry backed by a connection pool and
// ensures the schema exists.
func NewPostgresRegistry(ctx context.Context, databaseURL string) (*PostgresRegistry, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	r := &PostgresRegistry{pool: pool}
	if err := r.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return r, nil
}

func (r *PostgresRegistry) initSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS channels (
			id             TEXT PRIMARY KEY,
			label          TEXT NOT NULL,
			creator        TEXT NOT NULL DEFAULT '',
			created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_active_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			message_count  BIGINT NOT NULL DEFAULT 0
		)
	`)
	return err
}

// Close closes the connection pool.
func (r *PostgresRegistry) Close() {
	r.pool.Close()
}

// Ping checks the database connection.
func (r *PostgresRegistry) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// CreateChannel records a newly created channel. Creating an existing
// channel is a no-op that returns the existing row.
func (r *PostgresRegistry) CreateChannel(ctx context.Context, id, creator string) (*Channel, error) {
	ch := &Channel{}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO channels (id, label, creator)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET last_active_at = now()
		RETURNING id, label, creator, created_at, last_active_at, message_count
	`, id, shortLabel(id), creator).Scan(
		&ch.ID,
		&ch.Label,
		&ch.Creator,
		&ch.CreatedAt,
		&ch.LastActiveAt,
		&ch.MessageCount,
	)
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// GetChannel retrieves a channel row, or (nil, nil) if absent.
func (r *PostgresRegistry) GetChannel(ctx context.Context, id string) (*Channel, error) {
	ch := &Channel{}
	err := r.pool.QueryRow(ctx, `
		SELECT id, label, creator, created_at, last_active_at, message_count
		FROM channels WHERE id = $1
	`, id).Scan(
		&ch.ID,
		&ch.Label,
		&ch.Creator,
		&ch.CreatedAt,
		&ch.LastActiveAt,
		&ch.MessageCount,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return ch, nil
}

// TouchActivity bumps a channel's last-active timestamp.
func (r *PostgresRegistry) TouchActivity(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE channels SET last_active_at = now() WHERE id = $1
	`, id)
	return err
}

// IncrementMessageCount bumps a channel's message counter and activity.
func (r *PostgresRegistry) IncrementMessageCount(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE channels
		SET message_count = message_count + 1, last_active_at = now()
		WHERE id = $1
	`, id)
	return err
}

// CountChannels returns the number of registered channels.
func (r *PostgresRegistry) CountChannels(ctx context.Context) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM channels`).Scan(&count)
	return count, err
}

// shortLabel is the operator-facing display form of a channel ID.
func shortLabel(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
