package common

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure. The worker routes retries and DLQ
// metadata on Kind, never on message text.
type Kind string

const (
	KindOCR               Kind = "ocr_error"
	KindStructuredBackend Kind = "structured_backend_error"
	KindVisionBackend     Kind = "vision_backend_error"
	KindValidation        Kind = "validation_error"
	KindBlob              Kind = "blob_error"
	KindStore             Kind = "store_error"
	KindEnqueue           Kind = "enqueue_error"
	KindUnsupportedType   Kind = "unsupported_type"
	KindUnknown           Kind = "unknown_error"
)

// Error is the tagged error carried across pipeline layers.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by Kind, so
// errors.Is(err, &Error{Kind: KindBlob}) acts as a sentinel check.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// E wraps err with a kind and operation name.
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Ef wraps a formatted message with a kind.
func Ef(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the kind from any error, defaulting to unknown_error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsClientError reports whether the failure has one of the input kinds,
// unsupported_type or validation_error. The worker pool does not consult it:
// failures of these kinds raised while processing a job are retried like any other.
func IsClientError(err error) bool {
	switch KindOf(err) {
	case KindUnsupportedType, KindValidation:
		return true
	}
	return false
}

// Domain errors - use errors.Is() to check
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")

	ErrJobNotFound     = fmt.Errorf("job %w", ErrNotFound)
	ErrWebhookNotFound = fmt.Errorf("webhook %w", ErrNotFound)
)

// IsNotFound checks if error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
