// Package storage contains the in-memory metadata backend. It keeps records,
// the cleanup schedule and the share counter in process memory, which suits
// local development and tests.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/dharsanguruparan/codedrop/internal/metadata"
	"github.com/dharsanguruparan/codedrop/internal/model"
)

// DefaultCapacity bounds how many live records are kept.
const DefaultCapacity = 10000

// ErrFull is returned by Set when every slot holds a live record. Live
// records are never evicted to make room.
var ErrFull = errors.New("memory store is full")

// MemoryStore implements metadata.Backend. Records live in an expirable LRU
// whose TTL matches the share TTL; the schedule is a map guarded by RWMutex.
// The LRU is sized one above capacity and Set refuses new tokens at capacity,
// so its own eviction never runs.
type MemoryStore struct {
	recMu    sync.Mutex
	records  *expirable.LRU[string, model.ShareRecord]
	capacity int
	now      func() time.Time

	mu       sync.RWMutex
	schedule map[string]int64 // member -> due (epoch millis)

	total atomic.Int64
}

var (
	_ metadata.Backend = (*MemoryStore)(nil)
	_ metadata.Purger  = (*MemoryStore)(nil)
)

// NewMemoryStore constructs a MemoryStore. ttl is applied to every record;
// the per-call ttl passed to Set cannot exceed it.
func NewMemoryStore(capacity int, ttl time.Duration) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemoryStore{
		records:  expirable.NewLRU[string, model.ShareRecord](capacity+1, nil, ttl),
		capacity: capacity,
		now:      time.Now,
		schedule: make(map[string]int64),
	}
}

// Set inserts or replaces a record. The LRU stores values, so the caller's
// pointer is never retained. A new token on a full store first drops expired
// records and fails with ErrFull if none were.
func (m *MemoryStore) Set(_ context.Context, rec *model.ShareRecord, _ time.Duration) error {
	m.recMu.Lock()
	defer m.recMu.Unlock()
	if !m.records.Contains(rec.Token) && m.records.Len() >= m.capacity {
		m.purgeLocked(m.now())
		if m.records.Len() >= m.capacity {
			return fmt.Errorf("%w: %d live records", ErrFull, m.capacity)
		}
	}
	m.records.Add(rec.Token, *rec)
	return nil
}

// Get returns a copy of the record.
func (m *MemoryStore) Get(_ context.Context, token string) (*model.ShareRecord, error) {
	rec, ok := m.records.Get(token)
	if !ok {
		return nil, metadata.ErrNotFound
	}
	return &rec, nil
}

// PurgeExpired drops records that are past their expiry, whether or not the
// LRU's background cleanup has reached them yet.
func (m *MemoryStore) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	m.recMu.Lock()
	defer m.recMu.Unlock()
	return m.purgeLocked(now), nil
}

func (m *MemoryStore) purgeLocked(now time.Time) int64 {
	var n int64
	for _, tok := range m.records.Keys() {
		rec, ok := m.records.Peek(tok)
		if ok && rec.LiveAt(now) {
			continue
		}
		if m.records.Remove(tok) {
			n++
		}
	}
	return n
}

// Add schedules member at due, replacing an earlier score.
func (m *MemoryStore) Add(_ context.Context, member string, due time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedule[member] = due.UnixMilli()
	return nil
}

// Due lists members with a score at or before now, oldest first.
func (m *MemoryStore) Due(_ context.Context, now time.Time) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cutoff := now.UnixMilli()
	var due []string
	for member, score := range m.schedule {
		if score <= cutoff {
			due = append(due, member)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		si, sj := m.schedule[due[i]], m.schedule[due[j]]
		if si != sj {
			return si < sj
		}
		return due[i] < due[j]
	})
	return due, nil
}

// Remove deletes members from the schedule. Unknown members are ignored.
func (m *MemoryStore) Remove(_ context.Context, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, member := range members {
		delete(m.schedule, member)
	}
	return nil
}

// Incr bumps the share counter.
func (m *MemoryStore) Incr(context.Context) (int64, error) {
	return m.total.Add(1), nil
}

// Total reads the share counter.
func (m *MemoryStore) Total(context.Context) (int64, error) {
	return m.total.Load(), nil
}

// Len reports how many scheduled entries are pending.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.schedule)
}

// Close is a no-op; it exists to satisfy metadata.Backend.
func (m *MemoryStore) Close() error { return nil }
