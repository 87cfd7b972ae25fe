package scholar

import (
	"errors"
	"fmt"
	"net/http"
)

// Common errors returned by publication sources.
var (
	// ErrAuthorNotFound indicates the profile id does not resolve to an author.
	ErrAuthorNotFound = errors.New("author not found")

	// ErrNotFilled indicates a publication lacks the detail needed for export.
	ErrNotFilled = errors.New("publication not filled")

	// ErrNetwork indicates a network connectivity issue.
	ErrNetwork = errors.New("network error")

	// ErrInvalidResponse indicates a page or payload that could not be understood.
	ErrInvalidResponse = errors.New("invalid response")

	// ErrBlocked indicates the source refused service (rate limit or captcha).
	ErrBlocked = errors.New("blocked by source")
)

// APIError represents a non-success answer from a source.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("source error: %s", e.Message)
	}
	return fmt.Sprintf("source error (status %d): %s", e.StatusCode, e.Message)
}

// IsAuthorNotFound returns true if the error indicates an unknown author.
func IsAuthorNotFound(err error) bool {
	if errors.Is(err, ErrAuthorNotFound) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusNotFound
	}
	return false
}

// IsBlocked returns true if the error indicates the source is refusing requests.
func IsBlocked(err error) bool {
	if errors.Is(err, ErrBlocked) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests
	}
	return false
}
