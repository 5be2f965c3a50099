// Package share implements the token exchange: it mints six digit tokens,
// binds them to uploaded content or text, enforces expiry and serves the
// content back until the window closes.
package share

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"

	"github.com/dharsanguruparan/codedrop/internal/blob"
	"github.com/dharsanguruparan/codedrop/internal/metadata"
	"github.com/dharsanguruparan/codedrop/internal/metrics"
	"github.com/dharsanguruparan/codedrop/internal/model"
	"github.com/dharsanguruparan/codedrop/internal/token"
)

const (
	// DefaultTTL is the canonical share window.
	DefaultTTL = 24 * time.Hour
	// DefaultMaxTextBytes caps text shares.
	DefaultMaxTextBytes = 100000
	// DefaultStoreTimeout bounds every call into a backing store.
	DefaultStoreTimeout = 10 * time.Second

	defaultMimeType = "application/octet-stream"
)

// Descriptor carries the client supplied file metadata.
type Descriptor struct {
	OriginalName string
	MimeType     string
	Size         int64
}

// Content is returned by FetchContent. Callers must close Body.
type Content struct {
	Record *model.ShareRecord
	Body   io.ReadCloser
	// Size is the stored length of Body, or -1 when the store cannot tell.
	// Record.Size is client supplied for registered uploads and is not used.
	Size int64
}

// Service is the token exchange. It holds no mutable state of its own; every
// shared fact lives in the injected stores.
type Service struct {
	records  metadata.Store
	schedule metadata.Schedule
	counter  metadata.Counter
	blobs    blob.Store

	ttl          time.Duration
	maxTextBytes int
	storeTimeout time.Duration
	clock        Clock
	tokens       token.Generator
	logger       *log.Logger
}

// Option customizes a Service.
type Option func(*Service)

// WithTTL sets the share window.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithMaxTextBytes sets the text share cap.
func WithMaxTextBytes(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxTextBytes = n
		}
	}
}

// WithStoreTimeout bounds each store call. Zero disables the bound.
func WithStoreTimeout(d time.Duration) Option {
	return func(s *Service) { s.storeTimeout = d }
}

// WithClock injects the time source.
func WithClock(c Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithTokenGenerator injects the token source.
func WithTokenGenerator(g token.Generator) Option {
	return func(s *Service) { s.tokens = g }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New wires the service to its stores.
func New(records metadata.Store, schedule metadata.Schedule, counter metadata.Counter, blobs blob.Store, opts ...Option) *Service {
	s := &Service{
		records:      records,
		schedule:     schedule,
		counter:      counter,
		blobs:        blobs,
		ttl:          DefaultTTL,
		maxTextBytes: DefaultMaxTextBytes,
		storeTimeout: DefaultStoreTimeout,
		clock:        systemClock{},
		tokens:       token.Random{},
		logger:       log.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "share")
	return s
}

// TTL returns the share window.
func (s *Service) TTL() time.Duration { return s.ttl }

// MaxTextBytes returns the text share cap.
func (s *Service) MaxTextBytes() int { return s.maxTextBytes }

// ShareFile stores the content in the blob store and binds a new token to it.
func (s *Service) ShareFile(ctx context.Context, r io.Reader, desc Descriptor) (*model.ShareRecord, error) {
	if err := validateDescriptor(&desc); err != nil {
		return nil, err
	}
	key := blob.NewKey(desc.OriginalName)
	putCtx, cancel := s.storeContext(ctx)
	obj, err := s.blobs.Put(putCtx, key, r, desc.Size, desc.MimeType)
	cancel()
	if err != nil {
		return nil, upstream("store content", err)
	}
	rec := s.newRecord(model.KindFile)
	rec.ContentLocator = obj.Locator
	rec.BlobDeletionKey = obj.DeletionKey
	rec.OriginalName = desc.OriginalName
	rec.MimeType = desc.MimeType
	rec.Size = desc.Size
	if err := s.commit(ctx, rec, true); err != nil {
		return nil, err
	}
	return rec, nil
}

// Register binds a token to content a client already uploaded to the blob
// store, for example through a presigned URL.
func (s *Service) Register(ctx context.Context, desc Descriptor, locator, deletionKey, sourceURL string) (*model.ShareRecord, error) {
	if err := validateDescriptor(&desc); err != nil {
		return nil, err
	}
	if locator == "" {
		locator = deletionKey
	}
	if locator == "" {
		return nil, invalid("content key is required")
	}
	if !blob.ValidKey(locator) || (deletionKey != "" && !blob.ValidKey(deletionKey)) {
		return nil, invalid("content key must reference an upload")
	}
	if err := validateSourceURL(sourceURL, locator); err != nil {
		return nil, err
	}
	rec := s.newRecord(model.KindFile)
	rec.ContentLocator = locator
	rec.BlobDeletionKey = deletionKey
	rec.OriginalName = desc.OriginalName
	rec.MimeType = desc.MimeType
	rec.Size = desc.Size
	rec.SourceURL = sourceURL
	if err := s.commit(ctx, rec, false); err != nil {
		return nil, err
	}
	return rec, nil
}

// ShareText binds a token to a text snippet held directly in the record.
func (s *Service) ShareText(ctx context.Context, text string) (*model.ShareRecord, error) {
	if text == "" {
		return nil, invalid("text content is required")
	}
	if len(text) > s.maxTextBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrPayloadTooLarge, len(text), s.maxTextBytes)
	}
	rec := s.newRecord(model.KindText)
	rec.TextContent = text
	rec.OriginalName = model.TextSnippetName
	rec.MimeType = model.TextMimeType
	rec.Size = int64(len(text))
	if err := s.commit(ctx, rec, false); err != nil {
		return nil, err
	}
	return rec, nil
}

// Get returns the full record for a live token.
func (s *Service) Get(ctx context.Context, tok string) (*model.ShareRecord, error) {
	if tok == "" {
		return nil, invalid("token is required")
	}
	getCtx, cancel := s.storeContext(ctx)
	defer cancel()
	rec, err := s.records.Get(getCtx, tok)
	if errors.Is(err, metadata.ErrNotFound) {
		metrics.RetrievalsTotal.WithLabelValues("not_found").Inc()
		return nil, ErrNotFound
	}
	if err != nil {
		metrics.RetrievalsTotal.WithLabelValues("error").Inc()
		return nil, upstream("load record", err)
	}
	// Stores may hold a record slightly past its expiry; the record's own
	// timestamp is authoritative.
	if !rec.LiveAt(s.clock.Now()) {
		metrics.RetrievalsTotal.WithLabelValues("not_found").Inc()
		return nil, ErrNotFound
	}
	metrics.RetrievalsTotal.WithLabelValues("found").Inc()
	return rec, nil
}

// PublicView is Get without internal storage references.
func (s *Service) PublicView(ctx context.Context, tok string) (model.PublicMetadata, error) {
	rec, err := s.Get(ctx, tok)
	if err != nil {
		return model.PublicMetadata{}, err
	}
	return rec.Public(), nil
}

// FetchContent opens the shared bytes. A record whose blob has disappeared
// yields ErrContentGone; any other blob failure yields ErrContentUnavailable.
func (s *Service) FetchContent(ctx context.Context, tok string) (*Content, error) {
	rec, err := s.Get(ctx, tok)
	if err != nil {
		return nil, err
	}
	if rec.Kind == model.KindText {
		return &Content{
			Record: rec,
			Body:   io.NopCloser(strings.NewReader(rec.TextContent)),
			Size:   int64(len(rec.TextContent)),
		}, nil
	}
	// The body outlives this call, so only the caller's context bounds it.
	body, err := s.blobs.Open(ctx, rec.ContentLocator)
	if errors.Is(err, blob.ErrNotFound) {
		s.logger.Warn("content missing for live token", "token", rec.Token, "locator", rec.ContentLocator)
		return nil, fmt.Errorf("%w: %s", ErrContentGone, rec.Token)
	}
	if err != nil {
		s.logger.Error("open content failed", "token", rec.Token, "err", err)
		return nil, fmt.Errorf("%w: %v", ErrContentUnavailable, err)
	}
	size := int64(-1)
	if sized, ok := body.(blob.Sized); ok {
		size = sized.Size()
	}
	return &Content{Record: rec, Body: body, Size: size}, nil
}

// TotalShares reads the share counter.
func (s *Service) TotalShares(ctx context.Context) (int64, error) {
	cctx, cancel := s.storeContext(ctx)
	defer cancel()
	return s.counter.Total(cctx)
}

func (s *Service) newRecord(kind model.Kind) *model.ShareRecord {
	now := s.clock.Now()
	return &model.ShareRecord{
		Kind:      kind,
		CreatedAt: now.UnixMilli(),
		ExpiresAt: now.Add(s.ttl).UnixMilli(),
	}
}

// commit mints the token and performs the metadata side effects. Tokens are
// not checked against live records: a collision overwrites the older record.
// ownsBlob is true when this call wrote the blob and must remove it again if
// the metadata write fails.
func (s *Service) commit(ctx context.Context, rec *model.ShareRecord, ownsBlob bool) error {
	tok, err := s.tokens.Generate()
	if err != nil {
		if ownsBlob {
			s.compensate(ctx, rec)
		}
		return upstream("mint token", err)
	}
	rec.Token = tok

	setCtx, cancel := s.storeContext(ctx)
	err = s.records.Set(setCtx, rec, s.ttl)
	cancel()
	if err != nil {
		if ownsBlob {
			s.compensate(ctx, rec)
		}
		return upstream("save metadata", err)
	}

	if rec.HasBlob() && !s.blobs.NativeExpiry() {
		entry := model.CleanupEntry{Key: rec.DeletionKey(), Token: rec.Token}
		addCtx, cancel := s.storeContext(ctx)
		err := s.schedule.Add(addCtx, entry.Member(), rec.ExpiresAtTime())
		cancel()
		if err != nil {
			return upstream("schedule cleanup", err)
		}
	}

	incCtx, cancel := s.storeContext(ctx)
	if _, err := s.counter.Incr(incCtx); err != nil {
		s.logger.Warn("increment share counter failed", "err", err)
	}
	cancel()

	metrics.SharesCreatedTotal.WithLabelValues(string(rec.Kind)).Inc()
	s.logger.Info("share created",
		"token", rec.Token,
		"kind", rec.Kind,
		"size", humanize.Bytes(uint64(rec.Size)),
		"expires", rec.ExpiresAtTime().UTC().Format(time.RFC3339),
	)
	return nil
}

// compensate deletes a blob stored for a record whose metadata never made it
// to the store.
func (s *Service) compensate(ctx context.Context, rec *model.ShareRecord) {
	delCtx, cancel := s.storeContext(context.WithoutCancel(ctx))
	defer cancel()
	if err := s.blobs.Delete(delCtx, rec.DeletionKey()); err != nil {
		s.logger.Error("delete orphaned blob failed", "key", rec.DeletionKey(), "err", err)
	}
}

func (s *Service) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.storeTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.storeTimeout)
}

// validateSourceURL accepts an empty URL or an http(s) URL whose path ends in
// the registered key, which is how presigned upload URLs are shaped.
func validateSourceURL(raw, key string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return invalid("upload url must be an http(s) url")
	}
	if !strings.HasSuffix(u.Path, "/"+key) {
		return invalid("upload url does not match the content key")
	}
	return nil
}

func validateDescriptor(desc *Descriptor) error {
	desc.OriginalName = strings.TrimSpace(desc.OriginalName)
	if desc.OriginalName == "" {
		return invalid("file name is required")
	}
	if desc.Size < 0 {
		return invalid("file size must not be negative")
	}
	if desc.MimeType == "" {
		desc.MimeType = defaultMimeType
	}
	return nil
}
