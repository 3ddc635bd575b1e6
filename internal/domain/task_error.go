package domain

import (
	"fmt"
	"net/http"

	"github.com/cockroachdb/errors"
)

// TaskError is returned by a dispatcher when the remote endpoint answered
// with a non-success status or result code.
type TaskError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *TaskError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("task failed with status %d (code %d)", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("task failed with status %d (code %d): %s", e.StatusCode, e.Code, e.Message)
}

// Retryable reports whether another attempt may succeed.
func (e *TaskError) Retryable() bool {
	status := e.StatusCode
	if e.Code != 0 {
		status = e.Code
	}
	return status >= 500 || status == http.StatusTooManyRequests || status == http.StatusRequestTimeout
}

// IsUnauthorized reports whether err carries a 401 from the remote endpoint.
func IsUnauthorized(err error) bool {
	var te *TaskError
	if !errors.As(err, &te) {
		return false
	}
	return te.StatusCode == http.StatusUnauthorized || te.Code == http.StatusUnauthorized
}
