package rewrite

import (
	"errors"
	"fmt"
)

// ProviderError classifies language-model failures. Transient errors
// (rate limits, timeouts, upstream 5xx) are retried with backoff;
// permanent ones (bad request, content refusal, invalid output after
// correction attempts) move the article to failed.
type ProviderError struct {
	StatusCode int
	Message    string
	Transient  bool
}

func (e *ProviderError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s provider error (HTTP %d): %s", kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s provider error: %s", kind, e.Message)
}

func IsTransient(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Transient
	}
	return false
}
