package sweeper

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/codedrop/internal/blob"
	"github.com/dharsanguruparan/codedrop/internal/model"
	"github.com/dharsanguruparan/codedrop/internal/storage"
)

// recordingBlobs is an in-memory blob store that remembers delete calls.
type recordingBlobs struct {
	mu       sync.Mutex
	objects  map[string]time.Time
	deletes  [][]string
	failWith error
}

func newRecordingBlobs() *recordingBlobs {
	return &recordingBlobs{objects: make(map[string]time.Time)}
}

func (b *recordingBlobs) Put(_ context.Context, key string, _ io.Reader, _ int64, _ string) (blob.Object, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = time.Now()
	return blob.Object{Locator: key, DeletionKey: key}, nil
}

func (b *recordingBlobs) Open(_ context.Context, key string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.objects[key]; !ok {
		return nil, blob.ErrNotFound
	}
	return io.NopCloser(strings.NewReader("")), nil
}

func (b *recordingBlobs) Delete(_ context.Context, keys ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failWith != nil {
		return b.failWith
	}
	b.deletes = append(b.deletes, append([]string(nil), keys...))
	for _, k := range keys {
		delete(b.objects, k)
	}
	return nil
}

func (b *recordingBlobs) NativeExpiry() bool { return false }

func (b *recordingBlobs) List(_ context.Context, prefix string) ([]blob.Info, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []blob.Info
	for k, mod := range b.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, blob.Info{Key: k, LastModified: mod})
		}
	}
	return out, nil
}

type purgerFunc func(context.Context, time.Time) (int64, error)

func (f purgerFunc) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	return f(ctx, now)
}

const (
	oldKey = "uploads/0b7e6f1a-2c3d-4e5f-8a9b-0c1d2e3f4a5b/old.bin"
	newKey = "uploads/5d4c3b2a-1f0e-4d9c-8b7a-6f5e4d3c2b1a/new.bin"
	okKey  = "uploads/9a8b7c6d-5e4f-4a3b-9c2d-1e0f9a8b7c6d/ok.bin"
)

func quiet() Option { return WithLogger(log.New(io.Discard)) }

func TestSweepDeletesOnlyDueEntries(t *testing.T) {
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)
	sched := storage.NewMemoryStore(0, time.Hour)
	blobs := newRecordingBlobs()

	past := model.CleanupEntry{Key: oldKey, Token: "111111"}
	future := model.CleanupEntry{Key: newKey, Token: "222222"}
	require.NoError(t, sched.Add(ctx, past.Member(), now.Add(-10*time.Millisecond)))
	require.NoError(t, sched.Add(ctx, future.Member(), now.Add(1000*time.Millisecond)))

	s := New(sched, blobs, time.Hour, WithClock(func() time.Time { return now }), quiet())
	res, err := s.Sweep(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, res.DeletedCount)
	assert.Equal(t, []string{oldKey}, res.DeletedKeys)
	assert.Equal(t, [][]string{{oldKey}}, blobs.deletes)

	due, err := sched.Due(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{future.Member()}, due)
}

func TestSweepIsIdempotent(t *testing.T) {
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)
	sched := storage.NewMemoryStore(0, time.Hour)
	blobs := newRecordingBlobs()
	entry := model.CleanupEntry{Key: oldKey, Token: "111111"}
	require.NoError(t, sched.Add(ctx, entry.Member(), now.Add(-time.Second)))

	s := New(sched, blobs, time.Hour, WithClock(func() time.Time { return now }), quiet())
	first, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.DeletedCount)

	second, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, second.DeletedCount)
	assert.Empty(t, second.DeletedKeys)
	assert.NotNil(t, second.DeletedKeys)
	assert.Len(t, blobs.deletes, 1)
}

func TestSweepEmptySchedule(t *testing.T) {
	blobs := newRecordingBlobs()
	s := New(storage.NewMemoryStore(0, time.Hour), blobs, time.Hour, quiet())
	res, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.DeletedCount)
	assert.Empty(t, blobs.deletes, "no bulk delete for an empty batch")
}

func TestSweepDropsMalformedEntries(t *testing.T) {
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)
	sched := storage.NewMemoryStore(0, time.Hour)
	blobs := newRecordingBlobs()

	good := model.CleanupEntry{Key: okKey, Token: "111111"}
	require.NoError(t, sched.Add(ctx, good.Member(), now.Add(-time.Second)))
	require.NoError(t, sched.Add(ctx, "not json", now.Add(-time.Second)))
	require.NoError(t, sched.Add(ctx, `{"token":"333333"}`, now.Add(-time.Second)))

	s := New(sched, blobs, time.Hour, WithClock(func() time.Time { return now }), quiet())
	res, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{okKey}, res.DeletedKeys)
	assert.Equal(t, 3, res.RemovedEntries)
	assert.Zero(t, sched.Len())
}

func TestSweepDropsUnsafeKeys(t *testing.T) {
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)
	sched := storage.NewMemoryStore(0, time.Hour)
	blobs := newRecordingBlobs()

	good := model.CleanupEntry{Key: okKey, Token: "111111"}
	traversal := model.CleanupEntry{Key: "uploads/../etc/passwd", Token: "222222"}
	require.NoError(t, sched.Add(ctx, good.Member(), now.Add(-time.Second)))
	require.NoError(t, sched.Add(ctx, traversal.Member(), now.Add(-time.Second)))

	s := New(sched, blobs, time.Hour, WithClock(func() time.Time { return now }), quiet())
	res, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{okKey}, res.DeletedKeys)
	assert.Equal(t, [][]string{{okKey}}, blobs.deletes)
	assert.Equal(t, 2, res.RemovedEntries)
	assert.Zero(t, sched.Len())
}

func TestSweepKeepsScheduleWhenDeleteFails(t *testing.T) {
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)
	sched := storage.NewMemoryStore(0, time.Hour)
	blobs := newRecordingBlobs()
	blobs.failWith = errors.New("bucket unavailable")

	entry := model.CleanupEntry{Key: oldKey, Token: "111111"}
	require.NoError(t, sched.Add(ctx, entry.Member(), now.Add(-time.Second)))
	require.NoError(t, sched.Add(ctx, "garbage", now.Add(-time.Second)))

	s := New(sched, blobs, time.Hour, WithClock(func() time.Time { return now }), quiet())
	_, err := s.Sweep(ctx)
	require.Error(t, err)
	assert.Equal(t, 2, sched.Len())

	blobs.failWith = nil
	res, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.DeletedCount)
	assert.Zero(t, sched.Len())
}

func TestSweepPurgesExpiredRecords(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	var seen time.Time
	p := purgerFunc(func(_ context.Context, at time.Time) (int64, error) {
		seen = at
		return 4, nil
	})
	s := New(storage.NewMemoryStore(0, time.Hour), newRecordingBlobs(), time.Hour,
		WithPurger(p), WithClock(func() time.Time { return now }), quiet())

	res, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 4, res.PurgedRecords)
	assert.Equal(t, now, seen)
}

func TestReconcileRemovesStaleUploads(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	blobs := newRecordingBlobs()
	blobs.objects["uploads/stale/a.bin"] = now.Add(-3 * time.Hour)
	blobs.objects["uploads/fresh/b.bin"] = now.Add(-30 * time.Minute)
	blobs.objects["other/c.bin"] = now.Add(-48 * time.Hour)

	s := New(storage.NewMemoryStore(0, time.Hour), blobs, time.Hour,
		WithGrace(time.Hour), WithClock(func() time.Time { return now }), quiet())
	res, err := s.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Scanned)
	assert.Equal(t, []string{"uploads/stale/a.bin"}, res.DeletedKeys)
	assert.Contains(t, blobs.objects, "uploads/fresh/b.bin")
	assert.Contains(t, blobs.objects, "other/c.bin")
}

type opaqueBlobs struct{ blob.Store }

func TestReconcileWithoutLister(t *testing.T) {
	s := New(storage.NewMemoryStore(0, time.Hour), opaqueBlobs{newRecordingBlobs()}, time.Hour, quiet())
	res, err := s.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.DeletedKeys)
}
