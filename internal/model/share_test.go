package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLiveAtBoundary(t *testing.T) {
	rec := ShareRecord{ExpiresAt: 1_000}
	assert.True(t, rec.LiveAt(time.UnixMilli(999)))
	assert.False(t, rec.LiveAt(time.UnixMilli(1_000)))
}

func TestDeletionKeyFallsBackToLocator(t *testing.T) {
	rec := ShareRecord{Kind: KindFile, ContentLocator: "uploads/a/b"}
	assert.True(t, rec.HasBlob())
	assert.Equal(t, "uploads/a/b", rec.DeletionKey())

	rec.BlobDeletionKey = "vendor-key"
	assert.Equal(t, "vendor-key", rec.DeletionKey())

	text := ShareRecord{Kind: KindText, TextContent: "hi"}
	assert.False(t, text.HasBlob())
}

func TestCleanupEntryMember(t *testing.T) {
	e := CleanupEntry{Key: "uploads/a/b", Token: "123456"}
	assert.JSONEq(t, `{"key":"uploads/a/b","token":"123456"}`, e.Member())

	parsed, err := ParseCleanupEntry(e.Member())
	require.NoError(t, err)
	assert.Equal(t, e, parsed)

	_, err = ParseCleanupEntry("{broken")
	assert.Error(t, err)
}
