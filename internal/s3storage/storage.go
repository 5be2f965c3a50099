package s3storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/lifecycle"

	"github.com/dharsanguruparan/codedrop/internal/blob"
)

// Options configures the MinIO/S3 client.
type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	Bucket    string
	UseSSL    bool
	// LifecycleDays, when positive, installs a bucket rule expiring uploads
	// after that many days and marks the store as self-expiring.
	LifecycleDays int
}

// Storage wraps MinIO/S3 interactions for uploaded blobs.
type Storage struct {
	client        *minio.Client
	bucket        string
	region        string
	lifecycleDays int
}

var (
	_ blob.Store     = (*Storage)(nil)
	_ blob.Lister    = (*Storage)(nil)
	_ blob.Presigner = (*Storage)(nil)
)

// New creates a MinIO client from the options.
func New(opts Options) (*Storage, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &Storage{
		client:        client,
		bucket:        opts.Bucket,
		region:        opts.Region,
		lifecycleDays: opts.LifecycleDays,
	}, nil
}

// EnsureBucket makes sure the bucket exists before use and installs the
// expiry rule when one is configured.
func (s *Storage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return fmt.Errorf("make bucket %s: %w", s.bucket, err)
		}
	}
	if s.lifecycleDays > 0 {
		cfg := lifecycle.NewConfiguration()
		cfg.Rules = []lifecycle.Rule{{
			ID:         "expire-uploads",
			Status:     "Enabled",
			RuleFilter: lifecycle.Filter{Prefix: blob.KeyPrefix},
			Expiration: lifecycle.Expiration{Days: lifecycle.ExpirationDays(s.lifecycleDays)},
		}}
		if err := s.client.SetBucketLifecycle(ctx, s.bucket, cfg); err != nil {
			return fmt.Errorf("set lifecycle on %s: %w", s.bucket, err)
		}
	}
	return nil
}

// NativeExpiry is true when a lifecycle rule reclaims uploads.
func (s *Storage) NativeExpiry() bool {
	return s.lifecycleDays > 0
}

// Put uploads the content. The object key doubles as locator and deletion key.
func (s *Storage) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (blob.Object, error) {
	opts := minio.PutObjectOptions{ContentType: contentType}
	if _, err := s.client.PutObject(ctx, s.bucket, key, r, size, opts); err != nil {
		return blob.Object{}, fmt.Errorf("upload object: %w", err)
	}
	return blob.Object{Locator: key, DeletionKey: key}, nil
}

// Open streams an object. GetObject is lazy, so Stat is used to surface a
// missing key before any bytes are written to the client.
func (s *Storage) Open(ctx context.Context, locator string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, locator, minio.GetObjectOptions{})
	if err != nil {
		return nil, translate(err)
	}
	info, err := obj.Stat()
	if err != nil {
		obj.Close()
		return nil, translate(err)
	}
	return sizedObject{Object: obj, size: info.Size}, nil
}

type sizedObject struct {
	*minio.Object
	size int64
}

func (o sizedObject) Size() int64 { return o.size }

// Delete removes all keys with a single RemoveObjects call and reports the
// first per-object failure.
func (s *Storage) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	objects := make(chan minio.ObjectInfo, len(keys))
	for _, key := range keys {
		objects <- minio.ObjectInfo{Key: key}
	}
	close(objects)
	var firstErr error
	failed := 0
	for rerr := range s.client.RemoveObjects(ctx, s.bucket, objects, minio.RemoveObjectsOptions{}) {
		if rerr.Err == nil || isNoSuchKey(rerr.Err) {
			continue
		}
		failed++
		if firstErr == nil {
			firstErr = fmt.Errorf("remove %s: %w", rerr.ObjectName, rerr.Err)
		}
	}
	if firstErr != nil {
		return fmt.Errorf("bulk delete failed for %d of %d objects: %w", failed, len(keys), firstErr)
	}
	return nil
}

// List enumerates objects under prefix.
func (s *Storage) List(ctx context.Context, prefix string) ([]blob.Info, error) {
	var out []blob.Info
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list objects: %w", obj.Err)
		}
		out = append(out, blob.Info{Key: obj.Key, Size: obj.Size, LastModified: obj.LastModified})
	}
	return out, nil
}

// PresignPut returns a URL clients can PUT the content to directly.
func (s *Storage) PresignPut(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedPutObject(ctx, s.bucket, key, ttl)
	if err != nil {
		return "", fmt.Errorf("presign put: %w", err)
	}
	return u.String(), nil
}

func translate(err error) error {
	if isNoSuchKey(err) {
		return fmt.Errorf("%w: %v", blob.ErrNotFound, err)
	}
	return fmt.Errorf("get object: %w", err)
}

func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}
