package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/kozaktomas/face-checkin/internal/checkin"
	"github.com/kozaktomas/face-checkin/internal/database"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// statusForError maps service and storage errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, checkin.ErrInvalidOptions):
		return http.StatusBadRequest
	case errors.Is(err, database.ErrIdentityNotFound):
		return http.StatusNotFound
	case errors.Is(err, checkin.ErrNotReviewing), errors.Is(err, checkin.ErrNothingToRecord):
		return http.StatusConflict
	case errors.Is(err, checkin.ErrSessionClosed):
		return http.StatusGone
	case errors.Is(err, checkin.ErrSubmitFailed):
		return http.StatusBadGateway
	case errors.Is(err, database.ErrBackendNotInitialized):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// respondServiceError logs server-side failures and sends the mapped status.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		log.WithError(err).WithField("path", sanitizeForLog(r.URL.Path)).Error("Request failed")
	}
	respondError(w, status, err.Error())
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"database": database.IsInitialized(),
	})
}
