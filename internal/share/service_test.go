package share

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/codedrop/internal/blob"
	"github.com/dharsanguruparan/codedrop/internal/fsstorage"
	"github.com/dharsanguruparan/codedrop/internal/model"
	"github.com/dharsanguruparan/codedrop/internal/storage"
	"github.com/dharsanguruparan/codedrop/internal/token"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	svc   *Service
	meta  *storage.MemoryStore
	blobs *fsstorage.Storage
	fs    afero.Fs
	clock *fakeClock
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	fs := afero.NewMemMapFs()
	blobs, err := fsstorage.New(fs, "/blobs")
	require.NoError(t, err)
	meta := storage.NewMemoryStore(0, time.Hour)
	clock := &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
	base := []Option{
		WithTTL(15 * time.Minute),
		WithClock(clock),
		WithLogger(log.New(io.Discard)),
	}
	svc := New(meta, meta, meta, blobs, append(base, opts...)...)
	return &harness{svc: svc, meta: meta, blobs: blobs, fs: fs, clock: clock}
}

func TestFileRoundTrip(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	content := []byte("%PDF-1.4 pretend this is a document")

	rec, err := h.svc.ShareFile(ctx, bytes.NewReader(content), Descriptor{
		OriginalName: "report.pdf",
		MimeType:     "application/pdf",
		Size:         int64(len(content)),
	})
	require.NoError(t, err)
	assert.True(t, token.Valid(rec.Token))

	got, err := h.svc.Get(ctx, rec.Token)
	require.NoError(t, err)
	assert.Equal(t, "report.pdf", got.OriginalName)
	assert.Equal(t, "application/pdf", got.MimeType)
	assert.EqualValues(t, len(content), got.Size)
	assert.Equal(t, model.KindFile, got.Kind)
	assert.Empty(t, got.TextContent)
	assert.NotEmpty(t, got.ContentLocator)
	assert.Equal(t, got.CreatedAt+(15*time.Minute).Milliseconds(), got.ExpiresAt)

	c, err := h.svc.FetchContent(ctx, rec.Token)
	require.NoError(t, err)
	defer c.Body.Close()
	data, err := io.ReadAll(c.Body)
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestFileShareSchedulesCleanup(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	rec, err := h.svc.ShareFile(ctx, strings.NewReader("abc"), Descriptor{OriginalName: "a.txt", Size: 3})
	require.NoError(t, err)
	assert.Equal(t, "application/octet-stream", rec.MimeType)

	due, err := h.meta.Due(ctx, rec.ExpiresAtTime())
	require.NoError(t, err)
	require.Len(t, due, 1)
	entry, err := model.ParseCleanupEntry(due[0])
	require.NoError(t, err)
	assert.Equal(t, model.CleanupEntry{Key: rec.BlobDeletionKey, Token: rec.Token}, entry)

	due, err = h.meta.Due(ctx, rec.ExpiresAtTime().Add(-time.Millisecond))
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestTextShareIsolation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	rec, err := h.svc.ShareText(ctx, "héllo")
	require.NoError(t, err)

	got, err := h.svc.Get(ctx, rec.Token)
	require.NoError(t, err)
	assert.Equal(t, model.KindText, got.Kind)
	assert.Empty(t, got.ContentLocator)
	assert.Empty(t, got.BlobDeletionKey)
	assert.Equal(t, "héllo", got.TextContent)
	assert.Equal(t, model.TextSnippetName, got.OriginalName)
	assert.Equal(t, model.TextMimeType, got.MimeType)
	assert.EqualValues(t, 6, got.Size)

	assert.Zero(t, h.meta.Len(), "text shares never schedule blob cleanup")

	c, err := h.svc.FetchContent(ctx, rec.Token)
	require.NoError(t, err)
	data, err := io.ReadAll(c.Body)
	require.NoError(t, err)
	assert.Equal(t, "héllo", string(data))
}

func TestTextSizeBound(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.svc.ShareText(ctx, strings.Repeat("x", 100000))
	require.NoError(t, err)

	_, err = h.svc.ShareText(ctx, strings.Repeat("x", 100001))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = h.svc.ShareText(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestExpiryBoundary(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	rec, err := h.svc.ShareText(ctx, "soon gone")
	require.NoError(t, err)

	h.clock.Advance(15*time.Minute - time.Millisecond)
	_, err = h.svc.Get(ctx, rec.Token)
	require.NoError(t, err)

	h.clock.Advance(time.Millisecond)
	_, err = h.svc.Get(ctx, rec.Token)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNotFoundParity(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	rec, err := h.svc.ShareText(ctx, "expiring")
	require.NoError(t, err)
	h.clock.Advance(time.Hour)

	_, errNever := h.svc.Get(ctx, "000000")
	_, errExpired := h.svc.Get(ctx, rec.Token)
	assert.Equal(t, ErrNotFound, errNever)
	assert.Equal(t, ErrNotFound, errExpired)

	_, errView := h.svc.PublicView(ctx, rec.Token)
	assert.Equal(t, ErrNotFound, errView)
}

func TestGetRequiresToken(t *testing.T) {
	_, err := newHarness(t).svc.Get(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestPublicViewHidesLocator(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	rec, err := h.svc.ShareFile(ctx, strings.NewReader("data"), Descriptor{OriginalName: "d.bin", Size: 4})
	require.NoError(t, err)

	view, err := h.svc.PublicView(ctx, rec.Token)
	require.NoError(t, err)
	assert.Equal(t, rec.Token, view.Token)
	assert.Equal(t, "d.bin", view.OriginalName)
	assert.EqualValues(t, 4, view.Size)
}

func TestFetchContentGone(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	rec, err := h.svc.ShareFile(ctx, strings.NewReader("data"), Descriptor{OriginalName: "d.bin", Size: 4})
	require.NoError(t, err)
	require.NoError(t, h.blobs.Delete(ctx, rec.BlobDeletionKey))

	_, err = h.svc.FetchContent(ctx, rec.Token)
	assert.ErrorIs(t, err, ErrContentGone)
	assert.ErrorIs(t, err, ErrContentUnavailable)

	// Metadata is still there: the lookup itself keeps succeeding.
	_, err = h.svc.Get(ctx, rec.Token)
	assert.NoError(t, err)
}

type brokenOpen struct {
	blob.Store
}

func (brokenOpen) Open(context.Context, string) (io.ReadCloser, error) {
	return nil, errors.New("connection refused")
}

func TestFetchContentUpstreamFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	rec, err := h.svc.ShareFile(ctx, strings.NewReader("data"), Descriptor{OriginalName: "d.bin", Size: 4})
	require.NoError(t, err)

	svc := New(h.meta, h.meta, h.meta, brokenOpen{h.blobs}, WithClock(h.clock), WithLogger(log.New(io.Discard)))
	_, err = svc.FetchContent(ctx, rec.Token)
	assert.ErrorIs(t, err, ErrContentUnavailable)
	assert.NotErrorIs(t, err, ErrContentGone)
}

type failingRecords struct {
	*storage.MemoryStore
}

func (failingRecords) Set(context.Context, *model.ShareRecord, time.Duration) error {
	return errors.New("metadata store down")
}

func TestMetadataFailureDeletesStoredBlob(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	svc := New(failingRecords{h.meta}, h.meta, h.meta, h.blobs, WithClock(h.clock), WithLogger(log.New(io.Discard)))

	_, err := svc.ShareFile(ctx, strings.NewReader("data"), Descriptor{OriginalName: "d.bin", Size: 4})
	assert.ErrorIs(t, err, ErrUpstream)

	infos, err := h.blobs.List(ctx, blob.KeyPrefix)
	require.NoError(t, err)
	assert.Empty(t, infos)
	assert.Zero(t, h.meta.Len())

	total, err := h.meta.Total(ctx)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestTokenCollisionOverwrites(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, WithTokenGenerator(token.GeneratorFunc(func() (string, error) {
		return "123456", nil
	})))

	_, err := h.svc.ShareText(ctx, "first")
	require.NoError(t, err)
	_, err = h.svc.ShareText(ctx, "second")
	require.NoError(t, err)

	got, err := h.svc.Get(ctx, "123456")
	require.NoError(t, err)
	assert.Equal(t, "second", got.TextContent)
}

func TestRegisterPreUploaded(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	key := blob.NewKey("movie.mp4")
	_, err := h.blobs.Put(ctx, key, strings.NewReader("frames"), 6, "video/mp4")
	require.NoError(t, err)

	rec, err := h.svc.Register(ctx, Descriptor{OriginalName: "movie.mp4", Size: 6}, "", key, "https://bucket.example/"+key+"?X-Amz-Signature=abc")
	require.NoError(t, err)
	assert.Equal(t, key, rec.ContentLocator)
	assert.Equal(t, 1, h.meta.Len())

	c, err := h.svc.FetchContent(ctx, rec.Token)
	require.NoError(t, err)
	data, err := io.ReadAll(c.Body)
	require.NoError(t, err)
	assert.Equal(t, "frames", string(data))
	assert.EqualValues(t, 6, c.Size)

	_, err = h.svc.Register(ctx, Descriptor{OriginalName: "x"}, "", "", "")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = h.svc.Register(ctx, Descriptor{OriginalName: "x"}, "", "secrets/key", "")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = h.svc.Register(ctx, Descriptor{}, "", key, "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestRegisterRejectsUnsafeKeys(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	for _, key := range []string{
		"uploads/../etc/passwd",
		"uploads/abc/movie.mp4",
		"uploads/" + uuid.NewString() + "/../../etc/passwd",
		"uploads/" + uuid.NewString() + "/nested/movie.mp4",
	} {
		_, err := h.svc.Register(ctx, Descriptor{OriginalName: "x", Size: 1}, "", key, "")
		assert.ErrorIs(t, err, ErrInvalidInput, key)
	}
	assert.Zero(t, h.meta.Len(), "rejected keys must never reach the cleanup schedule")

	key := blob.NewKey("movie.mp4")
	for _, raw := range []string{
		"ftp://bucket.example/" + key,
		"/" + key,
		"https://bucket.example/uploads/other/movie.mp4",
	} {
		_, err := h.svc.Register(ctx, Descriptor{OriginalName: "x", Size: 1}, "", key, raw)
		assert.ErrorIs(t, err, ErrInvalidInput, raw)
	}
}

func TestRegisteredShareCanStillBeSwept(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	key := blob.NewKey("movie.mp4")
	_, err := h.blobs.Put(ctx, key, strings.NewReader("frames"), 6, "video/mp4")
	require.NoError(t, err)
	_, err = h.svc.Register(ctx, Descriptor{OriginalName: "movie.mp4", Size: 6}, "", key, "")
	require.NoError(t, err)
	_, err = h.svc.Register(ctx, Descriptor{OriginalName: "x", Size: 1}, "", "uploads/../etc/passwd", "")
	require.ErrorIs(t, err, ErrInvalidInput)

	members, err := h.meta.Due(ctx, h.clock.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, members, 1)
	entry, err := model.ParseCleanupEntry(members[0])
	require.NoError(t, err)
	require.NoError(t, h.blobs.Delete(ctx, entry.Key))

	exists, err := afero.Exists(h.fs, "/blobs/"+key)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCounterIncrementsPerShare(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.svc.ShareText(ctx, "one")
	require.NoError(t, err)
	_, err = h.svc.ShareFile(ctx, strings.NewReader("two"), Descriptor{OriginalName: "two.txt", Size: 3})
	require.NoError(t, err)

	total, err := h.svc.TotalShares(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
}

type expiringBlobs struct {
	*fsstorage.Storage
}

func (expiringBlobs) NativeExpiry() bool { return true }

func TestNativeExpirySkipsSchedule(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	svc := New(h.meta, h.meta, h.meta, expiringBlobs{h.blobs}, WithClock(h.clock), WithLogger(log.New(io.Discard)))

	_, err := svc.ShareFile(ctx, strings.NewReader("abc"), Descriptor{OriginalName: "a.txt", Size: 3})
	require.NoError(t, err)
	assert.Zero(t, h.meta.Len())
}
