package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	tracing "github.com/neomarket/rarity-engine/internal/otel"
)

// Helper functions for request parsing and JSON responses

// errBodyTooLarge is returned by readBody when the request exceeds MaxRequestBytes
var errBodyTooLarge = errors.New("request body too large")

// ErrorResponse is the JSON body of every failed request
type ErrorResponse struct {
	StatusCode int    `json:"status_code"`
	Status     string `json:"status"`
	Error      string `json:"error"`
	RequestID  string `json:"request_id,omitempty"`
}

// writeJSON encodes body with the given status code
func writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logrus.WithError(err).Warn("Failed to encode response")
	}
}

// errorResponse writes a formatted error response
func errorResponse(w http.ResponseWriter, r *http.Request, statusCode int, errorMsg string) {
	requestID := requestIDFromContext(r.Context())
	entry := logrus.WithFields(logrus.Fields{
		"request_id": requestID,
		"status":     statusCode,
		"path":       r.URL.Path,
	})
	if statusCode >= http.StatusInternalServerError {
		entry.Error(errorMsg)
		tracing.RecordError(r.Context(), errors.New(errorMsg))
	} else {
		entry.Debug(errorMsg)
	}

	writeJSON(w, statusCode, ErrorResponse{
		StatusCode: statusCode,
		Status:     "error",
		Error:      errorMsg,
		RequestID:  requestID,
	})
}

// readBody reads at most limit bytes of the request body
func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	if limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, fmt.Errorf("%w: limit is %d bytes", errBodyTooLarge, maxErr.Limit)
		}
		return nil, fmt.Errorf("error reading request body: %w", err)
	}
	return body, nil
}

// queryInt parses a non-negative integer query parameter or returns the default
func queryInt(r *http.Request, key string, defaultValue int) (int, error) {
	value := strings.TrimSpace(r.URL.Query().Get(key))
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, value)
	}
	return parsed, nil
}

// queryBool parses a boolean query parameter, treating anything unparsable as false
func queryBool(r *http.Request, key string) bool {
	parsed, err := strconv.ParseBool(r.URL.Query().Get(key))
	return err == nil && parsed
}

// page returns the [offset, offset+limit) bounds clamped to total
func page(total, offset, limit int) (int, int) {
	start := min(offset, total)
	return start, min(start+limit, total)
}
