package transport

import (
	"fmt"
	"net/http"
)

// StatusError is returned for every non-2xx response.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
	// RequestID is the X-Request-ID sent with the failed request
	RequestID string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status=%d, body=%s", e.Method, e.URL, e.StatusCode, e.Body)
}

// Temporary reports whether the backend may answer differently on a later attempt.
func (e *StatusError) Temporary() bool {
	switch {
	case e.StatusCode >= 500:
		return true
	case e.StatusCode == http.StatusTooManyRequests, e.StatusCode == http.StatusRequestTimeout:
		return true
	default:
		return false
	}
}

func (e *StatusError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}
