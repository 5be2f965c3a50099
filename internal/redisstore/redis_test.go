package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/codedrop/internal/metadata"
	"github.com/dharsanguruparan/codedrop/internal/model"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := Open(context.Background(), Options{URL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestOpenRequiresURL(t *testing.T) {
	_, err := Open(context.Background(), Options{})
	require.Error(t, err)
}

func TestSetGetWithTTL(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)

	rec := &model.ShareRecord{
		Token:        "123456",
		Kind:         model.KindFile,
		OriginalName: "photo.png",
		MimeType:     "image/png",
		Size:         42,
	}
	require.NoError(t, store.Set(ctx, rec, 15*time.Minute))

	got, err := store.Get(ctx, "123456")
	require.NoError(t, err)
	assert.Equal(t, rec, got)
	assert.Equal(t, 15*time.Minute, mr.TTL("share:123456"))

	mr.FastForward(15 * time.Minute)
	_, err = store.Get(ctx, "123456")
	assert.ErrorIs(t, err, metadata.ErrNotFound)
}

func TestGetRejectsCorruptRecord(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)
	require.NoError(t, mr.Set("share:999999", "{not json"))

	_, err := store.Get(ctx, "999999")
	require.Error(t, err)
	assert.NotErrorIs(t, err, metadata.ErrNotFound)
}

func TestScheduleDueAndRemove(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	now := time.UnixMilli(1_700_000_000_000)

	require.NoError(t, store.Add(ctx, `{"key":"k1","token":"111111"}`, now.Add(-10*time.Millisecond)))
	require.NoError(t, store.Add(ctx, `{"key":"k2","token":"222222"}`, now.Add(time.Second)))

	due, err := store.Due(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, []string{`{"key":"k1","token":"111111"}`}, due)

	require.NoError(t, store.Remove(ctx, due...))
	require.NoError(t, store.Remove(ctx))

	due, err = store.Due(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{`{"key":"k2","token":"222222"}`}, due)
}

func TestCounter(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	total, err := store.Total(ctx)
	require.NoError(t, err)
	assert.Zero(t, total)

	_, err = store.Incr(ctx)
	require.NoError(t, err)
	n, err := store.Incr(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	total, err = store.Total(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
}
