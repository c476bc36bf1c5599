package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog/log"
	"github.com/woozymasta/gamemaster/internal/apperr"
)

// errorResponse is the body of every failed API call.
type errorResponse struct {
	Error string      `json:"error"`
	Kind  apperr.Kind `json:"kind"`
}

var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

// statusOf maps an error to the HTTP status the gateway acts on.
func statusOf(err error) int {
	if errors.Is(err, errBadRequest) {
		return http.StatusBadRequest
	}
	if errors.Is(err, apperr.ErrNotFound) {
		return http.StatusNotFound
	}

	switch apperr.KindOf(err) {
	case apperr.KindAdmission:
		return http.StatusTooManyRequests
	case apperr.KindPolicy:
		return http.StatusForbidden
	case apperr.KindHealth:
		return http.StatusBadRequest
	case apperr.KindPlacement:
		return http.StatusServiceUnavailable
	case apperr.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	kind := apperr.KindOf(err)

	if status >= http.StatusInternalServerError && kind == apperr.KindInternal {
		log.Error().
			Err(err).
			Str("request_id", RequestID(r.Context())).
			Str("path", r.URL.Path).
			Msg("Request failed")
	} else {
		log.Debug().
			Err(err).
			Str("request_id", RequestID(r.Context())).
			Int("status", status).
			Msg("Request rejected")
	}

	writeJSON(w, status, errorResponse{Error: err.Error(), Kind: kind})
}

// decode reads a JSON body no larger than the configured limit.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest("invalid JSON: %v", err)
	}

	return nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("invalid %s %q", name, r.PathValue(name))
	}

	return id, nil
}

func queryID(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0, badRequest("invalid %s %q", name, raw)
	}

	return id, nil
}

// appAllowed checks the application name against the whitelist.
func (s *Server) appAllowed(app string) bool {
	if len(s.allowedApps) == 0 {
		return true
	}
	_, ok := s.allowedApps[xxhash.Sum64String(app)]

	return ok
}
