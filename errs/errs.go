// Package errs holds the error taxonomy shared by every game component.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means a room, player, round or image does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict means a uniqueness constraint or conditional write rejected the change.
	ErrConflict = errors.New("conflict")
	// ErrValidation means the request was rejected before anything was written.
	ErrValidation = errors.New("validation failed")
)

// Kind classifies an error for transport layers.
type Kind int

const (
	KindTransient Kind = iota
	KindNotFound
	KindConflict
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindValidation:
		return "validation"
	default:
		return "transient"
	}
}

// KindOf reports which class err belongs to. Anything unknown is transient.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindTransient
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	default:
		return KindTransient
	}
}

func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func Conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
