package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dharsanguruparan/codedrop/internal/share"
)

type errorBody struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, errorBody{Error: msg})
}

// respondServiceError maps share errors to statuses. Upstream failures are
// logged but their text never reaches the client.
func (s *Server) respondServiceError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, share.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, share.ErrNotFound):
		respondError(w, http.StatusNotFound, share.ErrNotFound.Error())
	case errors.Is(err, share.ErrContentGone):
		respondError(w, http.StatusGone, "shared content is no longer available")
	case errors.Is(err, share.ErrContentUnavailable):
		s.logger.Error(op+" failed", "err", err)
		respondError(w, http.StatusBadGateway, "content storage unavailable")
	default:
		s.logger.Error(op+" failed", "err", err)
		respondError(w, http.StatusBadGateway, "storage unavailable")
	}
}
