package extraction

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConfigured means no model backend is set up; the feature is switched off.
	ErrNotConfigured       = errors.New("extraction is not configured")
	ErrInvalidInput        = errors.New("invalid input")
	ErrUnparseableResponse = errors.New("model response could not be parsed")
	ErrBusy                = errors.New("extraction capacity exhausted, retry later")
	ErrRateLimited         = errors.New("too many extraction requests")
)

// UpstreamError is a non-success answer from the model provider, kept verbatim for operators.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("model provider returned status %d: %s", e.Status, e.Body)
}

func invalidInput(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
