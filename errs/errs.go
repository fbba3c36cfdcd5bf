// Package errs defines the stable error kinds shared by the store,
// the review engine and the HTTP layer.
package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an error into one of the stable codes of the API
// contract. Kinds survive wrapping with github.com/pkg/errors.
type Kind string

const (
	// KindNetwork marks transient upstream failures. Workers retry
	// them with backoff; the API surfaces 502 after retries are
	// exhausted.
	KindNetwork = Kind("network_error")
	// KindFormat marks malformed upstream data. Never retried.
	KindFormat           = Kind("format_error")
	KindNotFound         = Kind("not_found")
	KindValidation       = Kind("validation_error")
	KindOwnChangeset     = Kind("own_changeset")
	KindAlreadyChecked   = Kind("already_checked")
	KindUnchecked        = Kind("unchecked")
	KindPermissionDenied = Kind("permission_denied")
	KindRateLimited      = Kind("rate_limited")
	KindConflict         = Kind("conflict")
	KindNotPresent       = Kind("not_present")
	KindCommentPost      = Kind("comment_post_error")
)

type kindError struct {
	kind Kind
	msg  string
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) ErrorKind() Kind { return e.kind }

// New returns an error of the given kind.
func New(kind Kind, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

func Newf(kind Kind, format string, args ...interface{}) error {
	return &kindError{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with msg, keeping its kind.
func Wrap(err error, msg string) error {
	return errors.Wrap(err, msg)
}

type kinder interface {
	ErrorKind() Kind
}

// KindOf reports the kind of err, unwrapping as needed. Errors
// without a kind report the empty Kind.
func KindOf(err error) Kind {
	for err != nil {
		if k, ok := err.(kinder); ok {
			return k.ErrorKind()
		}
		cause, ok := err.(interface{ Cause() error })
		if !ok {
			break
		}
		err = cause.Cause()
	}
	return Kind("")
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
