// Package memerr defines the error kinds shared by the store, the vector
// client and the search orchestrator.
package memerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation and HTTP mapping.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindInvalid
	KindTransientIO
	KindUnavailable
	KindCorrupt
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalid:
		return "invalid"
	case KindTransientIO:
		return "transient_io"
	case KindUnavailable:
		return "unavailable"
	case KindCorrupt:
		return "corrupt"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is checks.
var (
	ErrNotFound    = &Error{Kind: KindNotFound}
	ErrInvalid     = &Error{Kind: KindInvalid}
	ErrTransientIO = &Error{Kind: KindTransientIO}
	ErrUnavailable = &Error{Kind: KindUnavailable}
	ErrCorrupt     = &Error{Kind: KindCorrupt}
)

// Error is a classified error. Op names the failing operation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so the sentinels above work
// regardless of Op or wrapped cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New builds a classified error.
func New(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// NotFound reports an unknown session, project or record.
func NotFound(op, format string, args ...any) error {
	return &Error{Kind: KindNotFound, Op: op, Err: fmt.Errorf(format, args...)}
}

// Invalid reports rejected input.
func Invalid(op, format string, args ...any) error {
	return &Error{Kind: KindInvalid, Op: op, Err: fmt.Errorf(format, args...)}
}

// Unavailable reports a vector subsystem that cannot be reached.
func Unavailable(op string, err error) error {
	return &Error{Kind: KindUnavailable, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in the chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
