package catalog

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a location or review does not exist.
	ErrNotFound = errors.New("not found")

	// ErrForbidden is returned when the supplied name does not own the review.
	ErrForbidden = errors.New("name does not match review owner")

	// ErrDuplicate is returned when a location with the same address exists.
	ErrDuplicate = errors.New("already exists")

	// ErrConflict is returned when a location still has reviews and cannot be deleted.
	ErrConflict = errors.New("location has reviews")
)

// FieldError is a single rejected input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries every field that failed validation.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Field + ": " + f.Message
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// StorageError wraps a failure of the underlying store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// WrapStorage tags err as a StorageError unless it already is one of the
// domain errors, which pass through untouched.
func WrapStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	var ve *ValidationError
	var se *StorageError
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrForbidden),
		errors.Is(err, ErrDuplicate), errors.Is(err, ErrConflict),
		errors.As(err, &ve), errors.As(err, &se):
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// LocationNotFound builds the NotFound error for a location id.
func LocationNotFound(id string) error {
	return fmt.Errorf("location %s: %w", id, ErrNotFound)
}

// ReviewNotFound builds the NotFound error for a review id.
func ReviewNotFound(id string) error {
	return fmt.Errorf("review %s: %w", id, ErrNotFound)
}
