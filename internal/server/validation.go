package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
)

// maxBodyBytes bounds JSON request bodies
const maxBodyBytes = 1 << 20

// playerActions are the intents accepted on /api/player/{action}
var playerActions = map[string]bool{
	"play":     true,
	"pause":    true,
	"toggle":   true,
	"stop":     true,
	"next":     true,
	"previous": true,
}

// ValidationError represents a validation error with details
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// ValidationResult contains validation results
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// respondWithValidationError sends a structured validation error response
func (ss *SiteServer) respondWithValidationError(w http.ResponseWriter, r *http.Request, errors []ValidationError) {
	ss.logger.WithFields(logrus.Fields{
		"request_id": requestIDFromContext(r.Context()),
		"method":     r.Method,
		"path":       r.URL.Path,
		"errors":     errors,
	}).Warn("Validation failed")

	result := ValidationResult{
		Valid:  false,
		Errors: errors,
	}

	ss.respondJSON(w, http.StatusBadRequest, result)
}

// respondWithError sends a structured error response
func (ss *SiteServer) respondWithError(w http.ResponseWriter, r *http.Request, statusCode int, message string, err error) {
	logEntry := ss.logger.WithFields(logrus.Fields{
		"request_id":  requestIDFromContext(r.Context()),
		"method":      r.Method,
		"path":        r.URL.Path,
		"status_code": statusCode,
		"message":     message,
	})

	if err != nil {
		logEntry = logEntry.WithError(err)
	}

	if statusCode >= 500 {
		logEntry.Error("Server error")
	} else {
		logEntry.Warn("Client error")
	}

	response := map[string]interface{}{
		"error":   message,
		"code":    statusCode,
		"success": false,
	}

	ss.respondJSON(w, statusCode, response)
}

// respondJSON writes v as JSON with the given status
func (ss *SiteServer) respondJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		ss.logger.WithError(err).Debug("Failed to write JSON response")
	}
}

// decodeJSONBody decodes a bounded JSON body into dst
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}) *ValidationError {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return &ValidationError{
				Field:   "body",
				Message: "Request body is required",
				Code:    "MISSING_BODY",
			}
		case errors.As(err, &maxErr):
			return &ValidationError{
				Field:   "body",
				Message: fmt.Sprintf("Request body too large (max %d bytes)", maxBodyBytes),
				Code:    "BODY_TOO_LARGE",
			}
		default:
			return &ValidationError{
				Field:   "body",
				Message: "Request body must be valid JSON",
				Code:    "INVALID_JSON",
			}
		}
	}
	return nil
}

// validatePlayerAction checks the action path segment
func validatePlayerAction(action string) *ValidationError {
	action = sanitizeInput(action)
	if action == "" {
		return &ValidationError{
			Field:   "action",
			Message: "Action is required",
			Code:    "MISSING_ACTION",
		}
	}
	if !playerActions[action] {
		return &ValidationError{
			Field:   "action",
			Message: fmt.Sprintf("Unknown player action: %s", action),
			Code:    "UNKNOWN_ACTION",
		}
	}
	return nil
}

// validateVolume checks a requested volume
func validateVolume(volume *float64) *ValidationError {
	if volume == nil {
		return &ValidationError{
			Field:   "volume",
			Message: "Volume is required",
			Code:    "MISSING_VOLUME",
		}
	}
	if math.IsNaN(*volume) || *volume < 0 || *volume > 1 {
		return &ValidationError{
			Field:   "volume",
			Message: "Volume must be between 0 and 1",
			Code:    "INVALID_VOLUME_VALUE",
		}
	}
	return nil
}

// sanitizeInput strips null bytes and surrounding whitespace
func sanitizeInput(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")
	return strings.TrimSpace(input)
}
