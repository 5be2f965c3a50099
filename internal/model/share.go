// Package model contains the struct definitions shared across packages.
package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind discriminates what a ShareRecord carries. A named string type keeps the
// JSON representation readable while preventing arbitrary strings from being
// assigned by accident.
type Kind string

const (
	KindFile Kind = "file"
	KindText Kind = "text"
)

const (
	// TextSnippetName and TextMimeType are synthesized for text shares.
	TextSnippetName = "Text Snippet"
	TextMimeType    = "text/plain"
)

// ShareRecord binds a token to content and descriptive metadata. Records are
// immutable once written; exactly one of ContentLocator and TextContent is
// meaningful, depending on Kind.
type ShareRecord struct {
	Token          string `json:"token"`
	Kind           Kind   `json:"kind"`
	ContentLocator string `json:"contentLocator,omitempty"`
	TextContent    string `json:"textContent,omitempty"`
	OriginalName   string `json:"originalName"`
	MimeType       string `json:"mimeType"`
	Size           int64  `json:"size"`
	// CreatedAt and ExpiresAt are epoch milliseconds.
	CreatedAt       int64  `json:"createdAt"`
	ExpiresAt       int64  `json:"expiresAt"`
	BlobDeletionKey string `json:"blobDeletionKey,omitempty"`
	SourceURL       string `json:"sourceUrl,omitempty"`
}

// LiveAt reports whether the record can still be retrieved at t.
func (r *ShareRecord) LiveAt(t time.Time) bool {
	return t.UnixMilli() < r.ExpiresAt
}

// ExpiresAtTime converts ExpiresAt to a time.Time.
func (r *ShareRecord) ExpiresAtTime() time.Time {
	return time.UnixMilli(r.ExpiresAt)
}

// HasBlob reports whether the record references content in a blob store.
func (r *ShareRecord) HasBlob() bool {
	return r.Kind == KindFile && (r.ContentLocator != "" || r.BlobDeletionKey != "")
}

// DeletionKey returns the handle used to delete the blob, falling back to the
// locator when the store addresses both the same way.
func (r *ShareRecord) DeletionKey() string {
	if r.BlobDeletionKey != "" {
		return r.BlobDeletionKey
	}
	return r.ContentLocator
}

// Public strips internal storage references.
func (r *ShareRecord) Public() PublicMetadata {
	return PublicMetadata{
		Token:        r.Token,
		Kind:         r.Kind,
		TextContent:  r.TextContent,
		OriginalName: r.OriginalName,
		MimeType:     r.MimeType,
		Size:         r.Size,
		CreatedAt:    r.CreatedAt,
		ExpiresAt:    r.ExpiresAt,
	}
}

// PublicMetadata is what the "check before download" flow returns to clients.
type PublicMetadata struct {
	Token        string `json:"token"`
	Kind         Kind   `json:"kind"`
	TextContent  string `json:"textContent,omitempty"`
	OriginalName string `json:"originalName"`
	MimeType     string `json:"mimeType"`
	Size         int64  `json:"size"`
	CreatedAt    int64  `json:"createdAt"`
	ExpiresAt    int64  `json:"expiresAt"`
}

// CleanupEntry is a scheduled blob deletion. Its JSON encoding is the member
// stored in the cleanup schedule.
type CleanupEntry struct {
	Key   string `json:"key"`
	Token string `json:"token"`
}

// Member encodes the entry as a schedule member.
func (e CleanupEntry) Member() string {
	data, _ := json.Marshal(e)
	return string(data)
}

// ParseCleanupEntry decodes a schedule member.
func ParseCleanupEntry(member string) (CleanupEntry, error) {
	var e CleanupEntry
	if err := json.Unmarshal([]byte(member), &e); err != nil {
		return CleanupEntry{}, fmt.Errorf("decode cleanup entry: %w", err)
	}
	return e, nil
}
