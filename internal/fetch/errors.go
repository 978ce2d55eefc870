package fetch

import (
	"errors"
	"fmt"
)

// Failure taxonomy, in the order a request can fail.
var (
	ErrURL     = errors.New("fetch: invalid url")
	ErrSession = errors.New("fetch: client closed")
	ErrConnect = errors.New("fetch: connect failed")
	ErrRequest = errors.New("fetch: request could not be built")
	ErrSend    = errors.New("fetch: send failed")
	ErrReceive = errors.New("fetch: receive failed")
	ErrStatus  = errors.New("fetch: unexpected status")
)

// ErrBodyTooLarge is the Result.Err of a body cut at MaxBodyBytes.
var ErrBodyTooLarge = errors.New("fetch: body exceeds limit")

// StatusError carries the status of a response that was not successful.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch: %s returned status %d", e.URL, e.Status)
}

func (e *StatusError) Unwrap() error { return ErrStatus }

func IsStatus(err error) bool  { return errors.Is(err, ErrStatus) }
func IsConnect(err error) bool { return errors.Is(err, ErrConnect) }
func IsURL(err error) bool     { return errors.Is(err, ErrURL) }

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return 0
}
