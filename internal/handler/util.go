package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/capitalize-ai/scheduling-assistant/internal/checkpoint"
	"github.com/capitalize-ai/scheduling-assistant/internal/graph"
)

// maxBodyBytes bounds request bodies; messages themselves are capped by validation.
const maxBodyBytes = 1 << 20

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// errorStatus maps a turn error to its HTTP status. Calls that do not fit the
// thread's current state are conflicts; routing faults are server errors.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, graph.ErrThreadNotFound):
		return http.StatusNotFound
	case errors.Is(err, graph.ErrThreadBusy),
		errors.Is(err, checkpoint.ErrConflict),
		errors.Is(err, graph.ErrThreadIDUnavailable),
		errors.Is(err, graph.ErrThreadSuspended),
		errors.Is(err, graph.ErrNotSuspended),
		errors.Is(err, graph.ErrResumeKeyMismatch):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeTurnError(w http.ResponseWriter, err error) {
	status := errorStatus(err)
	if errors.Is(err, graph.ErrThreadBusy) || errors.Is(err, checkpoint.ErrConflict) {
		w.Header().Set("Retry-After", "1")
	}

	msg := "internal error"
	var pe *graph.ProtocolError
	if status != http.StatusInternalServerError && errors.As(err, &pe) {
		msg = pe.Err.Error()
	} else if status == http.StatusGatewayTimeout {
		msg = "turn timed out"
	}
	writeError(w, status, msg)
}

func queryInt(r *http.Request, key string, def, max int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
