package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"

	"github.com/gabriel-vasile/mimetype"
)

const sniffLen = 3072

var (
	errMissingFile  = errors.New("missing file part")
	errFileTooLarge = errors.New("file exceeds upload limit")
)

// spooledUpload is a multipart file part copied to disk so its size is known
// before it is handed to the blob store.
type spooledUpload struct {
	f           *os.File
	size        int64
	contentType string
	filename    string
}

func (u *spooledUpload) Close() {
	name := u.f.Name()
	u.f.Close()
	os.Remove(name)
}

func nextFilePart(mr *multipart.Reader) (*multipart.Part, error) {
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, errMissingFile
		}
		if err != nil {
			return nil, err
		}
		if part.FormName() == "file" {
			return part, nil
		}
		part.Close()
	}
}

// spool copies part into a temp file, enforcing limit when it is positive.
// The content type declared by the client wins; otherwise it is sniffed.
func spool(dir string, part *multipart.Part, limit int64) (*spooledUpload, error) {
	tmpFile, err := os.CreateTemp(dir, "codedrop-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	fail := func(err error) (*spooledUpload, error) {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
		return nil, err
	}

	var sniff []byte
	buf := make([]byte, 32*1024)
	var written int64
	for {
		n, readErr := part.Read(buf)
		if n > 0 {
			written += int64(n)
			if limit > 0 && written > limit {
				return fail(errFileTooLarge)
			}
			if len(sniff) < sniffLen {
				chunk := n
				if remain := sniffLen - len(sniff); chunk > remain {
					chunk = remain
				}
				sniff = append(sniff, buf[:chunk]...)
			}
			if _, err := tmpFile.Write(buf[:n]); err != nil {
				return fail(fmt.Errorf("write temp file: %w", err))
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			var maxErr *http.MaxBytesError
			if errors.As(readErr, &maxErr) {
				return fail(errFileTooLarge)
			}
			return fail(fmt.Errorf("read file: %w", readErr))
		}
	}
	if _, err := tmpFile.Seek(0, io.SeekStart); err != nil {
		return fail(fmt.Errorf("rewind temp file: %w", err))
	}

	contentType := part.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = mimetype.Detect(sniff).String()
	}
	filename := part.FileName()
	if filename == "" {
		filename = "upload"
	}
	return &spooledUpload{
		f:           tmpFile,
		size:        written,
		contentType: contentType,
		filename:    filename,
	}, nil
}
