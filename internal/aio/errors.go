package aio

import (
	"errors"
	"fmt"
	"syscall"
)

// Failure taxonomy. Every failure is terminal for its Op and reported once.
var (
	ErrOpen       = errors.New("aio: open failed")
	ErrStat       = errors.New("aio: size query failed")
	ErrTooLarge   = errors.New("aio: file too large")
	ErrCreateDir  = errors.New("aio: create directory failed")
	ErrAssociate  = errors.New("aio: engine not accepting operations")
	ErrIssue      = errors.New("aio: issue failed")
	ErrCompletion = errors.New("aio: completed with error")
)

// CompletionError is reported when a transfer was issued but failed while in
// flight. Code is the OS error number, or -1 when none is available.
type CompletionError struct {
	Kind Kind
	Path string
	Code int
	Err  error
}

func (e *CompletionError) Error() string {
	return fmt.Sprintf("aio: %s %s completed with error %d: %v", e.Kind, e.Path, e.Code, e.Err)
}

func (e *CompletionError) Unwrap() []error {
	return []error{ErrCompletion, e.Err}
}

func newCompletionError(kind Kind, path string, err error) *CompletionError {
	code := -1
	var errno syscall.Errno
	if errors.As(err, &errno) {
		code = int(errno)
	}
	return &CompletionError{Kind: kind, Path: path, Code: code, Err: err}
}

func IsTooLarge(err error) bool   { return errors.Is(err, ErrTooLarge) }
func IsOpen(err error) bool       { return errors.Is(err, ErrOpen) }
func IsCompletion(err error) bool { return errors.Is(err, ErrCompletion) }
