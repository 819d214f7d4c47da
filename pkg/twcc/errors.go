package twcc

import (
	"errors"
	"fmt"
)

var (
	ErrProjectNotFound = errors.New("project not found")
	ErrNoPod           = errors.New("site has no pod")
)

// RequestError is returned for responses with a non-success status, including
// retryable statuses that persisted after the retry budget was spent.
type RequestError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *RequestError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}
