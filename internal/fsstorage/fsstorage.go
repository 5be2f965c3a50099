// Package fsstorage stores blobs in a directory tree through afero, so the
// same code runs against the OS filesystem and an in-memory one in tests.
package fsstorage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/dharsanguruparan/codedrop/internal/blob"
)

// Storage keeps uploads below root. Keys are slash separated and relative.
type Storage struct {
	fs   afero.Fs
	root string
}

var (
	_ blob.Store  = (*Storage)(nil)
	_ blob.Lister = (*Storage)(nil)
)

// New creates the root directory if needed.
func New(fs afero.Fs, root string) (*Storage, error) {
	if err := fs.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &Storage{fs: fs, root: root}, nil
}

// NativeExpiry is always false: files stay until the sweeper removes them.
func (s *Storage) NativeExpiry() bool { return false }

// Put writes r to key. A partially written file is removed on failure.
func (s *Storage) Put(ctx context.Context, key string, r io.Reader, size int64, _ string) (blob.Object, error) {
	p, err := s.resolve(key)
	if err != nil {
		return blob.Object{}, err
	}
	if err := s.fs.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return blob.Object{}, fmt.Errorf("create blob dir: %w", err)
	}
	f, err := s.fs.Create(p)
	if err != nil {
		return blob.Object{}, fmt.Errorf("create blob: %w", err)
	}
	written, err := io.Copy(f, contextReader{ctx: ctx, r: r})
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && size >= 0 && written != size {
		err = fmt.Errorf("short write: %d of %d bytes", written, size)
	}
	if err != nil {
		_ = s.fs.Remove(p)
		return blob.Object{}, fmt.Errorf("write blob: %w", err)
	}
	return blob.Object{Locator: key, DeletionKey: key}, nil
}

// Open returns a reader for locator.
func (s *Storage) Open(_ context.Context, locator string) (io.ReadCloser, error) {
	p, err := s.resolve(locator)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", blob.ErrNotFound, err)
	}
	f, err := s.fs.Open(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", blob.ErrNotFound, locator)
		}
		return nil, fmt.Errorf("open blob: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat blob: %w", err)
	}
	return sizedFile{File: f, size: info.Size()}, nil
}

type sizedFile struct {
	afero.File
	size int64
}

func (f sizedFile) Size() int64 { return f.size }

// Delete removes each key and its per-upload directory when it becomes
// empty. Missing files are ignored.
func (s *Storage) Delete(_ context.Context, keys ...string) error {
	var errs []error
	for _, key := range keys {
		p, err := s.resolve(key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := s.fs.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove %s: %w", key, err))
			continue
		}
		s.removeEmptyDir(filepath.Dir(p))
	}
	return errors.Join(errs...)
}

// List walks every file under prefix.
func (s *Storage) List(_ context.Context, prefix string) ([]blob.Info, error) {
	var out []blob.Info
	err := afero.Walk(s.fs, s.root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		out = append(out, blob.Info{Key: key, Size: info.Size(), LastModified: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk data dir: %w", err)
	}
	return out, nil
}

func (s *Storage) resolve(key string) (string, error) {
	clean := path.Clean("/" + key)
	if key == "" || clean == "/" || clean != "/"+key {
		return "", fmt.Errorf("invalid blob key %q", key)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

func (s *Storage) removeEmptyDir(dir string) {
	if dir == s.root || !strings.HasPrefix(dir, s.root) {
		return
	}
	entries, err := afero.ReadDir(s.fs, dir)
	if err == nil && len(entries) == 0 {
		_ = s.fs.Remove(dir)
	}
}

// contextReader stops a long copy once the request is cancelled.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
