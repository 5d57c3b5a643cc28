package httpclient

import (
	"errors"
	"fmt"
	"net/http"
)

type StatusError struct {
	StatusCode int
	Method     string
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

func statusOf(err error) (int, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode, true
	}
	return 0, false
}

func IsRateLimitError(err error) bool {
	code, ok := statusOf(err)
	return ok && code == http.StatusTooManyRequests
}

// IsAuthError reports a rejected credential; callers turn it into a
// connection error rather than a provider failure.
func IsAuthError(err error) bool {
	code, ok := statusOf(err)
	return ok && (code == http.StatusUnauthorized || code == http.StatusForbidden)
}

func IsRetryable(err error) bool {
	code, ok := statusOf(err)
	if !ok {
		return false
	}
	return code == http.StatusTooManyRequests || code == http.StatusInternalServerError ||
		code == http.StatusBadGateway || code == http.StatusServiceUnavailable
}
