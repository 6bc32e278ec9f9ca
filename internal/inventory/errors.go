package inventory

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// DatabaseError wraps database-related errors from GORM.
type DatabaseError struct {
	Inner error
}

func (e *DatabaseError) Error() string {
	return "database operation failed: " + e.Inner.Error()
}

func (e *DatabaseError) Unwrap() error {
	return e.Inner
}

// NotFoundError is returned when a record an operation depends on is missing.
type NotFoundError struct {
	Search string
}

func (e *NotFoundError) Error() string {
	return "record not found for search: " + e.Search
}

// ConflictError is returned when a write loses a uniqueness race and the
// winning row cannot be re-read.
type ConflictError struct {
	Conflict string
}

func (e *ConflictError) Error() string {
	return "conflict error for: " + e.Conflict
}

// BadInputError rejects arguments before they reach the database.
type BadInputError struct {
	Reason string
}

func (e *BadInputError) Error() string {
	return "bad input: " + e.Reason
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// wrapErrorWithDetails creates a more specific error message
func wrapErrorWithDetails(err error, operation, details string) error {
	if err == nil {
		return nil
	}

	// Already classified by a nested operation.
	var (
		dbErr    *DatabaseError
		nfErr    *NotFoundError
		cfErr    *ConflictError
		inputErr *BadInputError
	)
	if errors.As(err, &dbErr) || errors.As(err, &nfErr) || errors.As(err, &cfErr) || errors.As(err, &inputErr) {
		return err
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &NotFoundError{Search: fmt.Sprintf("%s (%s)", operation, details)}
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return &ConflictError{Conflict: fmt.Sprintf("%s (%s)", operation, details)}
	}

	return &DatabaseError{Inner: fmt.Errorf("%s: %w", operation, err)}
}
