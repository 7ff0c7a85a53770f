package controller

import (
	"errors"
	"fmt"

	"github.com/dgnsrekt/window_titler/internal/host"
	"github.com/dgnsrekt/window_titler/internal/titler"
)

const (
	CodeValidation     = "VALIDATION"
	CodeWindowNotFound = "WINDOW_NOT_FOUND"
	CodeDisabled       = "DISABLED"
	CodeCDPUnavailable = "CDP_UNAVAILABLE"
	CodeStorageFailure = "STORAGE_FAILURE"
)

// CodedError is a typed error used for stable API mapping.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *CodedError) Unwrap() error { return e.Cause }

func newError(code, msg string, cause error) error {
	return &CodedError{Code: code, Message: msg, Cause: cause}
}

// windowErr classifies an error from an operation on one window.
func windowErr(id host.WindowID, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, titler.ErrWindowNotTracked), errors.Is(err, host.ErrNotFound):
		return newError(CodeWindowNotFound, fmt.Sprintf("window %d is not tracked", id), err)
	default:
		return newError(CodeCDPUnavailable, fmt.Sprintf("window %d", id), err)
	}
}
