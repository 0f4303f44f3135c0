package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kacperjurak/goftircore"
	"github.com/kacperjurak/goftircore/pkg/models"
)

// DefaultMaxBodyBytes bounds request bodies when a handler is built with a
// non-positive limit.
const DefaultMaxBodyBytes = 32 << 20

// errorKinds maps each taxonomy error to its status and wire name.
var errorKinds = []struct {
	err    error
	kind   string
	status int
}{
	{goftircore.ErrFormat, "format", http.StatusBadRequest},
	{goftircore.ErrInvalidParameter, "invalid_parameter", http.StatusUnprocessableEntity},
	{goftircore.ErrInvalidInput, "invalid_input", http.StatusUnprocessableEntity},
	{goftircore.ErrInsufficientData, "insufficient_data", http.StatusUnprocessableEntity},
	{goftircore.ErrAlignment, "alignment", http.StatusUnprocessableEntity},
	{goftircore.ErrSourceConversion, "source_conversion", http.StatusUnprocessableEntity},
}

// classify returns the HTTP status and error kind for err.
func classify(err error) (int, string) {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.status, k.kind
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable, "canceled"
	}
	return http.StatusInternalServerError, "internal"
}

// setupCORS sets up CORS headers
func setupCORS(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// preflight handles OPTIONS and rejects everything but POST. It reports
// whether the handler should continue.
func preflight(w http.ResponseWriter, r *http.Request) bool {
	setupCORS(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return false
	}
	if r.Method != http.MethodPost {
		writeError(w, "Method not allowed", "", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// decodeBody reads a JSON body of at most limit bytes into dst.
func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, dst any) bool {
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, "Request body too large", "", http.StatusRequestEntityTooLarge)
			return false
		}
		writeError(w, "Invalid JSON format", "format", http.StatusBadRequest)
		return false
	}
	return true
}

// writeError writes an error response
func writeError(w http.ResponseWriter, message, kind string, statusCode int) {
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(models.ErrorResponse{Error: message, Kind: kind})
}

// writeFailure reports err with the status of its taxonomy class.
func writeFailure(w http.ResponseWriter, err error) {
	status, kind := classify(err)
	writeError(w, err.Error(), kind, status)
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}
