package nse

import (
	"errors"
	"fmt"
)

var (
	// ErrUpstreamUnavailable is returned when the session bootstrap against the site root fails.
	ErrUpstreamUnavailable = errors.New("nse: upstream unavailable")
	// ErrRetriesExhausted is matched by every *FetchError.
	ErrRetriesExhausted = errors.New("nse: retries exhausted")
	// ErrNotFound means the upstream answered but the payload lacked the expected shape.
	ErrNotFound = errors.New("nse: not found")
)

// StatusError is a non-2xx upstream response.
type StatusError struct {
	Code int
	Path string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("nse: GET %s: status %d", e.Path, e.Code)
}

// FetchError is returned by FetchJSON once the attempt budget is spent.
// Status holds the last HTTP status seen, 0 if the last failure was not an HTTP response.
type FetchError struct {
	Path     string
	Attempts int
	Status   int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("nse: GET %s failed after %d attempts: %v", e.Path, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() []error { return []error{ErrRetriesExhausted, e.Err} }

func notFound(what, symbol string) error {
	return fmt.Errorf("%w: %s %q", ErrNotFound, what, symbol)
}
