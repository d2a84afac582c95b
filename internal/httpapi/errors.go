package httpapi

import (
	"errors"
	"net/http"

	"github.com/tomdray/library/internal/errs"
)

// errorResponse is the standard error payload for the API.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeErr(w http.ResponseWriter, status int, msg, code string) {
	toJSON(w, status, errorResponse{Error: msg, Code: code})
}

func badRequest(w http.ResponseWriter, msg string) { writeErr(w, http.StatusBadRequest, msg, "") }

// writeDomainErr maps the sentinel taxonomy onto HTTP statuses. Transient
// failures become 503 so clients know a retry is safe.
func (s *Server) writeDomainErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		writeErr(w, http.StatusNotFound, err.Error(), "not_found")
	case errors.Is(err, errs.ErrForbidden):
		writeErr(w, http.StatusForbidden, err.Error(), "forbidden")
	case errors.Is(err, errs.ErrConflict):
		writeErr(w, http.StatusConflict, err.Error(), "conflict")
	case errors.Is(err, errs.ErrInvalid):
		writeErr(w, http.StatusBadRequest, "invalid request", "invalid")
	case errors.Is(err, errs.ErrTransient):
		writeErr(w, http.StatusServiceUnavailable, "temporarily unavailable, retry", "transient")
	default:
		s.log.Error("internal error", "err", err)
		writeErr(w, http.StatusInternalServerError, "internal error", "internal")
	}
}
