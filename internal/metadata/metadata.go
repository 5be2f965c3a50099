// Package metadata declares the key-value capabilities the share service and
// the sweeper depend on. Backends: storage (memory), redisstore, repository
// (Postgres).
package metadata

import (
	"context"
	"errors"
	"time"

	"github.com/dharsanguruparan/codedrop/internal/model"
)

// ErrNotFound is returned by Store.Get for absent or expired tokens.
var ErrNotFound = errors.New("record not found")

// Store persists share records with a per-key TTL.
type Store interface {
	// Set writes rec under rec.Token, replacing any previous record.
	Set(ctx context.Context, rec *model.ShareRecord, ttl time.Duration) error
	Get(ctx context.Context, token string) (*model.ShareRecord, error)
}

// Schedule is a time-ordered set of members scored by their due time.
type Schedule interface {
	Add(ctx context.Context, member string, due time.Time) error
	// Due returns every member whose due time is at or before now.
	Due(ctx context.Context, now time.Time) ([]string, error)
	Remove(ctx context.Context, members ...string) error
}

// Counter backs the monotonically increasing "total shares" statistic.
type Counter interface {
	Incr(ctx context.Context) (int64, error)
	Total(ctx context.Context) (int64, error)
}

// Purger is implemented by stores that cannot expire keys natively and need
// the sweeper to delete expired rows.
type Purger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// Backend bundles the capabilities one storage engine provides.
type Backend interface {
	Store
	Schedule
	Counter
	Close() error
}
