// Package sweeper reclaims blobs whose shares have expired.
//
// Sweep drains the due part of the cleanup schedule: entries are decoded,
// their blobs removed in one bulk call and only then dropped from the
// schedule, so a failed delete is retried by the next run. Reconcile is a
// slower safety net that lists the blob store and removes uploads older than
// any record could be.
package sweeper

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dharsanguruparan/codedrop/internal/blob"
	"github.com/dharsanguruparan/codedrop/internal/metadata"
	"github.com/dharsanguruparan/codedrop/internal/metrics"
	"github.com/dharsanguruparan/codedrop/internal/model"
)

// DefaultGrace is added to the share TTL before Reconcile treats an upload
// as orphaned.
const DefaultGrace = time.Hour

// Result describes one sweep.
type Result struct {
	DeletedCount   int           `json:"deleted"`
	DeletedKeys    []string      `json:"keys"`
	RemovedEntries int           `json:"removedEntries"`
	PurgedRecords  int64         `json:"purgedRecords"`
	Duration       time.Duration `json:"-"`
}

// ReconcileResult describes one reconciliation pass.
type ReconcileResult struct {
	Scanned     int      `json:"scanned"`
	DeletedKeys []string `json:"keys"`
}

// Sweeper owns no state beyond its dependencies; concurrent runs are
// serialized so two triggers never race on the same entries.
type Sweeper struct {
	schedule metadata.Schedule
	blobs    blob.Store
	purger   metadata.Purger
	ttl      time.Duration
	grace    time.Duration
	now      func() time.Time
	logger   *log.Logger

	mu sync.Mutex
}

// Option customizes a Sweeper.
type Option func(*Sweeper)

// WithPurger makes Sweep also delete expired rows from stores without native
// key expiry.
func WithPurger(p metadata.Purger) Option {
	return func(s *Sweeper) { s.purger = p }
}

// WithGrace sets the reconcile grace period.
func WithGrace(d time.Duration) Option {
	return func(s *Sweeper) {
		if d >= 0 {
			s.grace = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Sweeper) { s.logger = l }
}

// New creates a Sweeper. ttl is the share window used by Reconcile.
func New(schedule metadata.Schedule, blobs blob.Store, ttl time.Duration, opts ...Option) *Sweeper {
	s := &Sweeper{
		schedule: schedule,
		blobs:    blobs,
		ttl:      ttl,
		grace:    DefaultGrace,
		now:      time.Now,
		logger:   log.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "sweeper")
	return s
}

// Sweep deletes the blobs of every due schedule entry.
func (s *Sweeper) Sweep(ctx context.Context) (res Result, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	defer func() {
		res.Duration = time.Since(start)
		metrics.SweepDuration.Observe(res.Duration.Seconds())
		if err != nil {
			metrics.SweepRunsTotal.WithLabelValues("error").Inc()
			return
		}
		metrics.SweepRunsTotal.WithLabelValues("ok").Inc()
	}()

	now := s.now()
	members, err := s.schedule.Due(ctx, now)
	if err != nil {
		return Result{}, fmt.Errorf("list due entries: %w", err)
	}

	var (
		keys      []string
		valid     []string
		malformed []string
	)
	seen := make(map[string]struct{}, len(members))
	for _, m := range members {
		entry, perr := model.ParseCleanupEntry(m)
		// A key the blob store would refuse fails the whole bulk delete, so
		// it is dropped with the other undecodable entries.
		if perr != nil || !blob.ValidKey(entry.Key) {
			malformed = append(malformed, m)
			continue
		}
		valid = append(valid, m)
		if _, dup := seen[entry.Key]; dup {
			continue
		}
		seen[entry.Key] = struct{}{}
		keys = append(keys, entry.Key)
	}

	if len(keys) > 0 {
		if err := s.blobs.Delete(ctx, keys...); err != nil {
			return Result{}, fmt.Errorf("delete blobs: %w", err)
		}
	}
	if done := append(valid, malformed...); len(done) > 0 {
		if err := s.schedule.Remove(ctx, done...); err != nil {
			return Result{}, fmt.Errorf("remove schedule entries: %w", err)
		}
	}
	if len(malformed) > 0 {
		s.logger.Warn("dropped malformed schedule entries", "count", len(malformed))
		metrics.SweepMalformedEntriesTotal.Add(float64(len(malformed)))
	}
	metrics.SweepBlobsDeletedTotal.Add(float64(len(keys)))

	res = Result{
		DeletedCount:   len(keys),
		DeletedKeys:    keys,
		RemovedEntries: len(valid) + len(malformed),
	}
	if res.DeletedKeys == nil {
		res.DeletedKeys = []string{}
	}

	if s.purger != nil {
		purged, err := s.purger.PurgeExpired(ctx, now)
		if err != nil {
			return res, fmt.Errorf("purge expired records: %w", err)
		}
		res.PurgedRecords = purged
	}

	if res.DeletedCount > 0 || res.RemovedEntries > 0 || res.PurgedRecords > 0 {
		s.logger.Info("sweep finished",
			"deleted", res.DeletedCount,
			"entries", res.RemovedEntries,
			"purged", res.PurgedRecords,
		)
	} else {
		s.logger.Debug("sweep finished, nothing due")
	}
	return res, nil
}

// Reconcile deletes uploads older than ttl+grace. It needs a blob store that
// can list its objects and returns an empty result otherwise.
func (s *Sweeper) Reconcile(ctx context.Context) (ReconcileResult, error) {
	lister, ok := s.blobs.(blob.Lister)
	if !ok {
		s.logger.Debug("blob store cannot list objects, skipping reconcile")
		return ReconcileResult{DeletedKeys: []string{}}, nil
	}

	infos, err := lister.List(ctx, blob.KeyPrefix)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("list blobs: %w", err)
	}

	cutoff := s.now().Add(-(s.ttl + s.grace))
	res := ReconcileResult{Scanned: len(infos), DeletedKeys: []string{}}
	for _, info := range infos {
		if !strings.HasPrefix(info.Key, blob.KeyPrefix) {
			continue
		}
		if info.LastModified.Before(cutoff) {
			res.DeletedKeys = append(res.DeletedKeys, info.Key)
		}
	}
	if len(res.DeletedKeys) == 0 {
		return res, nil
	}

	if err := s.blobs.Delete(ctx, res.DeletedKeys...); err != nil {
		return ReconcileResult{Scanned: len(infos)}, fmt.Errorf("delete orphaned blobs: %w", err)
	}
	metrics.ReconcileBlobsDeletedTotal.Add(float64(len(res.DeletedKeys)))
	s.logger.Info("removed orphaned uploads", "count", len(res.DeletedKeys), "scanned", res.Scanned)
	return res, nil
}
