// Package apperr defines the error taxonomy shared by the transformation core
// and the HTTP/worker boundaries.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation Kind = "validation"
	KindDecode     Kind = "decode"
	KindProcessing Kind = "processing"
	KindStorage    Kind = "storage"
	KindNotFound   Kind = "not_found"
	KindCacheRace  Kind = "cache_race"
	KindInternal   Kind = "internal"
)

// Error carries a stable kind, a caller-facing detail and the underlying cause.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

func Wrap(kind Kind, detail string, err error) *Error {
	return &Error{Kind: kind, Detail: detail, Err: err}
}

func Validation(format string, args ...any) *Error {
	return New(KindValidation, fmt.Sprintf(format, args...))
}

func Decode(err error) *Error {
	return Wrap(KindDecode, "source is not a supported image", err)
}

func Processing(detail string, err error) *Error {
	return Wrap(KindProcessing, detail, err)
}

func Storage(detail string, err error) *Error {
	return Wrap(KindStorage, detail, err)
}

func NotFound(detail string) *Error {
	return New(KindNotFound, detail)
}

// KindOf reports the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsRetryable reports whether the caller may retry with backoff.
func IsRetryable(err error) bool {
	return KindOf(err) == KindStorage
}

// Public returns the kind and a detail that is safe to show to clients.
// Underlying causes are never included.
func Public(err error) (Kind, string) {
	var e *Error
	if !errors.As(err, &e) {
		return KindInternal, "internal error"
	}
	switch e.Kind {
	case KindValidation, KindNotFound, KindDecode:
		return e.Kind, e.Detail
	case KindStorage:
		return e.Kind, "object storage is unavailable"
	case KindProcessing:
		return e.Kind, "image could not be processed"
	default:
		return KindInternal, "internal error"
	}
}
