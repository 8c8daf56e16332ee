package twitter

import (
	"errors"
	"fmt"
)

// ErrRateLimited is returned on HTTP 429 and when the local request budget
// is exhausted. Callers should back off until the next poll cycle.
var ErrRateLimited = errors.New("twitter: rate limited")

// APIError is a non-2xx response from the Twitter API.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("twitter: api status %d", e.StatusCode)
	}
	return fmt.Sprintf("twitter: api status %d: %s", e.StatusCode, e.Detail)
}

// Temporary reports whether the error is worth retrying on a later cycle
// without operator intervention.
func (e *APIError) Temporary() bool { return e.StatusCode >= 500 }
