package remote

import (
	"errors"
	"fmt"

	"github.com/jackson-sweet/opsapp-sub000/internal/ir"
)

// ErrorKind classifies a remote failure.
type ErrorKind string

const (
	// KindTransient failures (timeout, connectivity, 5xx) are retried by the
	// background queue.
	KindTransient ErrorKind = "TRANSIENT"

	// KindRejected failures (validation, permission, conflict) are surfaced
	// to the user and never retried automatically.
	KindRejected ErrorKind = "REJECTED"
)

// Error is a classified remote failure.
type Error struct {
	Kind    ErrorKind
	Op      Op
	Ref     ir.EntityRef
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s %s: %s (status %d)", e.Kind, e.Op, e.Ref, msg, e.Status)
	}
	return fmt.Sprintf("%s: %s %s: %s", e.Kind, e.Op, e.Ref, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient wraps err as a transient failure.
func Transient(op Op, ref ir.EntityRef, err error) *Error {
	return &Error{Kind: KindTransient, Op: op, Ref: ref, Err: err}
}

// Rejected builds a rejected failure.
func Rejected(op Op, ref ir.EntityRef, format string, args ...any) *Error {
	return &Error{Kind: KindRejected, Op: op, Ref: ref, Message: fmt.Sprintf(format, args...)}
}

// IsTransient reports whether err should be retried. Unclassified errors,
// timeouts and network errors count as transient; only an explicit
// rejection does not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var re *Error
	if errors.As(err, &re) {
		return re.Kind == KindTransient
	}
	return true
}

// IsRejected reports whether err is a refusal by the backend.
func IsRejected(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Kind == KindRejected
}

// Classify returns err unchanged if it is already an *Error and wraps it
// as transient otherwise. Transport failures, timeouts and cancellations all
// end up here.
func Classify(op Op, ref ir.EntityRef, err error) error {
	if err == nil {
		return nil
	}
	var re *Error
	if errors.As(err, &re) {
		return err
	}
	return Transient(op, ref, err)
}
