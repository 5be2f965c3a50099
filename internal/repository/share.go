package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dharsanguruparan/codedrop/internal/metadata"
	"github.com/dharsanguruparan/codedrop/internal/model"
)

const totalSharesCounter = "total_files"

// ShareRepository wraps all SQL used by the Postgres metadata backend.
type ShareRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

var (
	_ metadata.Backend = (*ShareRepository)(nil)
	_ metadata.Purger  = (*ShareRepository)(nil)
)

// NewShareRepository constructs a repository.
func NewShareRepository(pool *pgxpool.Pool) *ShareRepository {
	return &ShareRepository{pool: pool, now: time.Now}
}

// Set upserts the record. A colliding token overwrites the previous row.
func (r *ShareRepository) Set(ctx context.Context, rec *model.ShareRecord, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	expiresAt := r.now().Add(ttl).UTC()
	_, err = r.pool.Exec(ctx, `
		INSERT INTO share_records (token, record, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token) DO UPDATE SET record = EXCLUDED.record, expires_at = EXCLUDED.expires_at
	`, rec.Token, data, expiresAt)
	if err != nil {
		return fmt.Errorf("upsert share record: %w", err)
	}
	return nil
}

// Get returns a live record. Expired rows that the sweeper has not purged yet
// are filtered out here.
func (r *ShareRepository) Get(ctx context.Context, token string) (*model.ShareRecord, error) {
	var data []byte
	row := r.pool.QueryRow(ctx, `
		SELECT record FROM share_records WHERE token=$1 AND expires_at > $2
	`, token, r.now().UTC())
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, metadata.ErrNotFound
		}
		return nil, fmt.Errorf("select share record: %w", err)
	}
	var rec model.ShareRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode share record %s: %w", token, err)
	}
	return &rec, nil
}

// PurgeExpired deletes rows whose expiry is at or before now.
func (r *ShareRepository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM share_records WHERE expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge share records: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Add upserts a schedule member.
func (r *ShareRepository) Add(ctx context.Context, member string, due time.Time) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO cleanup_schedule (member, due_at) VALUES ($1, $2)
		ON CONFLICT (member) DO UPDATE SET due_at = EXCLUDED.due_at
	`, member, due.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert cleanup entry: %w", err)
	}
	return nil
}

// Due lists members due at or before now, oldest first.
func (r *ShareRepository) Due(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT member FROM cleanup_schedule WHERE due_at <= $1 ORDER BY due_at, member
	`, now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("select due cleanup entries: %w", err)
	}
	members, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan cleanup entries: %w", err)
	}
	return members, nil
}

// Remove deletes schedule members.
func (r *ShareRepository) Remove(ctx context.Context, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx, `DELETE FROM cleanup_schedule WHERE member = ANY($1)`, members)
	if err != nil {
		return fmt.Errorf("delete cleanup entries: %w", err)
	}
	return nil
}

// Incr bumps the share counter atomically.
func (r *ShareRepository) Incr(ctx context.Context) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO counters (name, value) VALUES ($1, 1)
		ON CONFLICT (name) DO UPDATE SET value = counters.value + 1
		RETURNING value
	`, totalSharesCounter).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("increment counter: %w", err)
	}
	return n, nil
}

// Total reads the share counter.
func (r *ShareRepository) Total(ctx context.Context) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `SELECT value FROM counters WHERE name=$1`, totalSharesCounter).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("select counter: %w", err)
	}
	return n, nil
}

// Close releases the pool.
func (r *ShareRepository) Close() error {
	r.pool.Close()
	return nil
}
