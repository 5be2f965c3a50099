package api

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dharsanguruparan/codedrop/internal/blob"
	"github.com/dharsanguruparan/codedrop/internal/share"
)

// jsonBodyLimit bounds JSON requests that never carry content.
const jsonBodyLimit = 64 << 10

type tokenResponse struct {
	Token string `json:"token"`
}

type registerRequest struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	Size int64  `json:"size"`
	Key  string `json:"key"`
	Type string `json:"type"`
}

type uploadURLRequest struct {
	Name string `json:"name"`
}

type uploadURLResponse struct {
	URL       string `json:"url"`
	Key       string `json:"key"`
	ExpiresAt int64  `json:"expiresAt"`
}

type shareTextRequest struct {
	Text string `json:"text"`
}

type retrieveRequest struct {
	Token string `json:"token"`
}

type statsResponse struct {
	TotalFiles int64 `json:"totalFiles"`
}

type cleanupResponse struct {
	Deleted int      `json:"deleted"`
	Keys    []string `json:"keys"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch {
	case err == nil && mediaType == "multipart/form-data":
		s.handleMultipartUpload(w, r)
	case err == nil && mediaType == "application/json":
		s.handleRegisterUpload(w, r)
	default:
		respondError(w, http.StatusBadRequest, "expecting multipart form or JSON body")
	}
}

func (s *Server) handleMultipartUpload(w http.ResponseWriter, r *http.Request) {
	if s.maxFileBytes > 0 {
		// Leave room for the multipart envelope.
		r.Body = http.MaxBytesReader(w, r.Body, s.maxFileBytes+1<<20)
	}
	mr, err := r.MultipartReader()
	if err != nil {
		respondError(w, http.StatusBadRequest, "expecting multipart form")
		return
	}
	part, err := nextFilePart(mr)
	if err != nil {
		respondError(w, http.StatusBadRequest, errMissingFile.Error())
		return
	}
	defer part.Close()

	up, err := spool(s.tempDir, part, s.maxFileBytes)
	if errors.Is(err, errFileTooLarge) {
		respondError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read upload")
		return
	}
	defer up.Close()

	rec, err := s.svc.ShareFile(r.Context(), up.f, share.Descriptor{
		OriginalName: up.filename,
		MimeType:     up.contentType,
		Size:         up.size,
	})
	if err != nil {
		s.respondServiceError(w, err, "share file")
		return
	}
	respondJSON(w, http.StatusOK, tokenResponse{Token: rec.Token})
}

func (s *Server) handleRegisterUpload(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, jsonBodyLimit, &req) {
		return
	}
	rec, err := s.svc.Register(r.Context(), share.Descriptor{
		OriginalName: req.Name,
		MimeType:     req.Type,
		Size:         req.Size,
	}, req.Key, req.Key, req.URL)
	if err != nil {
		s.respondServiceError(w, err, "register upload")
		return
	}
	respondJSON(w, http.StatusOK, tokenResponse{Token: rec.Token})
}

func (s *Server) handleUploadURL(w http.ResponseWriter, r *http.Request) {
	if s.presigner == nil {
		respondError(w, http.StatusNotImplemented, "direct uploads are not supported by this deployment")
		return
	}
	var req uploadURLRequest
	if !decodeJSON(w, r, jsonBodyLimit, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		respondError(w, http.StatusBadRequest, "file name is required")
		return
	}
	key := blob.NewKey(req.Name)
	expires := time.Now().Add(s.presignTTL)
	url, err := s.presigner.PresignPut(r.Context(), key, s.presignTTL)
	if err != nil {
		s.logger.Error("presign upload failed", "err", err)
		respondError(w, http.StatusBadGateway, "storage unavailable")
		return
	}
	respondJSON(w, http.StatusOK, uploadURLResponse{URL: url, Key: key, ExpiresAt: expires.UnixMilli()})
}

func (s *Server) handleShareText(w http.ResponseWriter, r *http.Request) {
	// JSON escapes can grow a byte to six characters.
	limit := int64(s.svc.MaxTextBytes())*6 + 1024
	var req shareTextRequest
	if !decodeJSON(w, r, limit, &req) {
		return
	}
	rec, err := s.svc.ShareText(r.Context(), req.Text)
	if err != nil {
		s.respondServiceError(w, err, "share text")
		return
	}
	respondJSON(w, http.StatusOK, tokenResponse{Token: rec.Token})
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	var req retrieveRequest
	if !decodeJSON(w, r, jsonBodyLimit, &req) {
		return
	}
	view, err := s.svc.PublicView(r.Context(), strings.TrimSpace(req.Token))
	if err != nil {
		s.respondServiceError(w, err, "retrieve")
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (s *Server) handleMissingToken(w http.ResponseWriter, _ *http.Request) {
	respondError(w, http.StatusBadRequest, "token is required")
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	content, err := s.svc.FetchContent(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		s.respondServiceError(w, err, "fetch content")
		return
	}
	defer content.Body.Close()

	rec := content.Record
	w.Header().Set("Content-Type", rec.MimeType)
	if content.Size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(content.Size, 10))
	}
	w.Header().Set("Content-Disposition", contentDisposition(rec.OriginalName))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, content.Body); err != nil {
		s.logger.Warn("stream content interrupted", "token", rec.Token, "err", err)
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	total, err := s.svc.TotalShares(r.Context())
	if err != nil {
		s.logger.Warn("read share counter failed", "err", err)
		total = 0
	}
	respondJSON(w, http.StatusOK, statsResponse{TotalFiles: total})
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	res, err := s.sweeper.Sweep(r.Context())
	if err != nil {
		s.logger.Error("cleanup failed", "err", err)
		respondError(w, http.StatusInternalServerError, "cleanup failed")
		return
	}
	if res.DeletedCount == 0 {
		respondJSON(w, http.StatusOK, map[string]string{"message": "No files to clean up"})
		return
	}
	respondJSON(w, http.StatusOK, cleanupResponse{Deleted: res.DeletedCount, Keys: res.DeletedKeys})
}

// decodeJSON reads at most limit bytes into v. On failure it writes the 400
// response and returns false.
func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respondError(w, http.StatusBadRequest, "request body too large")
			return false
		}
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

var dispositionEscaper = strings.NewReplacer(`"`, `'`, "\\", "_", "\r", "", "\n", "")

func contentDisposition(name string) string {
	return `attachment; filename="` + dispositionEscaper.Replace(name) + `"`
}
