package httpserver

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// ValidationError describes a single field failure.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult is the outcome of a handler-level validation.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

var validRequestID = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateRequestID checks a path id before it reaches the store.
// Queue ids are uuids, but operators paste ids from logs, so any
// url-safe token up to 64 characters is accepted.
func ValidateRequestID(id string) ValidationResult {
	if id == "" {
		return ValidationResult{
			Valid: false,
			Errors: []ValidationError{{
				Field:   "id",
				Code:    "REQUIRED",
				Message: "Request ID is required",
			}},
		}
	}
	if len(id) > 64 {
		return ValidationResult{
			Valid: false,
			Errors: []ValidationError{{
				Field:   "id",
				Code:    "TOO_LONG",
				Message: "Request ID is too long (max 64 characters)",
			}},
		}
	}
	if !validRequestID.MatchString(id) {
		return ValidationResult{
			Valid: false,
			Errors: []ValidationError{{
				Field:   "id",
				Code:    "INVALID_FORMAT",
				Message: "Request ID contains invalid characters",
			}},
		}
	}
	return ValidationResult{Valid: true}
}

// ValidateStatusFilter checks a status query value against the queue
// vocabulary. Empty means no filter.
func ValidateStatusFilter(status string) ValidationResult {
	if status == "" {
		return ValidationResult{Valid: true}
	}
	switch status {
	case "pending", "processing", "completed", "failed":
		return ValidationResult{Valid: true}
	}
	return ValidationResult{
		Valid: false,
		Errors: []ValidationError{{
			Field:   "status",
			Code:    "INVALID_VALUE",
			Message: "Status must be one of: pending, processing, completed, failed",
		}},
	}
}

// SanitizeQueryString strips null bytes and control noise from a free
// text query parameter and bounds its length.
func SanitizeQueryString(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")
	input = strings.TrimSpace(input)
	if len(input) > 1000 {
		input = input[:1000]
	}
	if !utf8.ValidString(input) {
		input = strings.ToValidUTF8(input, "")
	}
	return input
}
