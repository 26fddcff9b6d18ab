package mirror

import "fmt"

// StatusError is returned when the server answers a transfer GET with a
// non-200 status. It carries the code so callers can tell a 404 from a
// 500.
type StatusError struct {
	URL        string
	StatusCode int
}

// Error implements error.
func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s returned status %d", e.URL, e.StatusCode)
}

// DecodeError distinguishes "server sent bad data" from "server
// unreachable": the response arrived but its body could not be read back
// out.
type DecodeError struct {
	URL string
	Err error
}

// Error implements error.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode body of %s: %v", e.URL, e.Err)
}

// Unwrap exposes the underlying read error.
func (e *DecodeError) Unwrap() error {
	return e.Err
}
