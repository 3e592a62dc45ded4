package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateName    = errors.New("duplicate queue name")
	ErrNotFound         = errors.New("not found")
	ErrNotMember        = errors.New("not a member")
	ErrInvalidDuration  = errors.New("invalid duration")
	ErrInvalidName      = errors.New("invalid queue name")
	ErrSelfChallenge    = errors.New("cannot challenge yourself")
	ErrAdapterTransient = errors.New("handle adapter: transient failure")
	ErrAdapterPermanent = errors.New("handle adapter: permanent failure")
)

// AdapterError envuelve fallas del adaptador de handles.
// errors.Is(err, ErrAdapterTransient) o ErrAdapterPermanent según Transient.
type AdapterError struct {
	Op        string
	Transient bool
	Err       error
}

func (e *AdapterError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s (%s): %v", e.Op, kind, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

func (e *AdapterError) Is(target error) bool {
	switch target {
	case ErrAdapterTransient:
		return e.Transient
	case ErrAdapterPermanent:
		return !e.Transient
	}
	return false
}

func Transient(op string, err error) error { return &AdapterError{Op: op, Transient: true, Err: err} }
func Permanent(op string, err error) error { return &AdapterError{Op: op, Err: err} }

// IsTransient: sólo los errores marcados como transitorios se reintentan.
func IsTransient(err error) bool { return errors.Is(err, ErrAdapterTransient) }
