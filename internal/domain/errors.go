package domain

import (
	"errors"
	"fmt"
)

var (
	ErrTaskNotFound      = errors.New("task not found")
	ErrTaskExists        = errors.New("task already exists")
	ErrInvalidTransition = errors.New("invalid task transition")
	ErrTaskNotTerminal   = errors.New("task is still running")
	ErrQueueFull         = errors.New("task queue is full")
)

type ErrorKind string

const (
	KindValidation  ErrorKind = "validation"
	KindConversion  ErrorKind = "conversion"
	KindRecognition ErrorKind = "recognition"
	KindIO          ErrorKind = "io"
	KindConfig      ErrorKind = "config"
)

// Error carries the failing concern alongside the cause.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func ValidationError(message string, err error) *Error {
	return newError(KindValidation, message, err)
}

func ConversionError(message string, err error) *Error {
	return newError(KindConversion, message, err)
}

func RecognitionError(message string, err error) *Error {
	return newError(KindRecognition, message, err)
}

func IOError(message string, err error) *Error {
	return newError(KindIO, message, err)
}

func ConfigError(message string, err error) *Error {
	return newError(KindConfig, message, err)
}

// IsKind reports whether err wraps a *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind == kind
	}
	return false
}
