package api

import (
	"errors"
	"fmt"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest = errors.New("bad request")
	ErrNotFound   = errors.New("not found")
	ErrInternal   = errors.New("internal error")
)

// opError tags an error with the handler operation that produced it.
// Error() stays the bare message so responses do not leak operation names.
type opError struct {
	op   string
	kind error
	err  error
}

func (e *opError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return e.kind.Error()
}

func (e *opError) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.kind != nil {
		out = append(out, e.kind)
	}
	if e.err != nil {
		out = append(out, e.err)
	}
	return out
}

// Op returns the operation name for logs.
func (e *opError) Op() string { return e.op }

// NewKind reports kind as the failure of op.
func NewKind(op string, kind error) error {
	return &opError{op: op, kind: kind}
}

// WrapKind classifies err as kind within op.
func WrapKind(op string, kind, err error) error {
	if err == nil {
		return NewKind(op, kind)
	}
	return &opError{op: op, kind: kind, err: err}
}

// Wrap adds op context to err without classifying it.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// opOf returns the innermost operation recorded on err, if any.
func opOf(err error) string {
	var oe *opError
	if errors.As(err, &oe) {
		return oe.Op()
	}
	return ""
}
