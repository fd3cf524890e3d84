package catalog

import (
	"errors"
	"fmt"
)

// ErrHTTPStatus marks a well-formed response with a non-2xx status.
var ErrHTTPStatus = errors.New("unexpected http status")

// StatusError reports a non-2xx response. It is never retried.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d", e.URL, e.StatusCode)
}

// Is lets errors.Is match ErrHTTPStatus.
func (e *StatusError) Is(target error) bool {
	return target == ErrHTTPStatus
}

// IsSkippable reports whether err should drop the current item instead of failing the run.
func IsSkippable(err error) bool {
	return errors.Is(err, ErrHTTPStatus)
}
