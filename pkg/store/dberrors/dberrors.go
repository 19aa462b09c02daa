// Package dberrors translates storage-layer errors (GORM/SQLite/PostgreSQL)
// into the pipeline's stable error taxonomy.
package dberrors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Code is a stable, storage-agnostic error classification.
type Code string

const (
	CodeNotFound      Code = "not_found"
	CodeAlreadyExists Code = "already_exists"
	CodeRetryable     Code = "retryable" // serialization failure, deadlock: safe to retry the unit of work
	CodeConnection    Code = "connection"
	CodeInvalidInput  Code = "invalid_input"
	CodeIOError       Code = "io_error"
)

// Error is the typed error returned by every pkg/store component.
type Error struct {
	Code      Code
	Operation string
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Operation, e.Code, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Operation, e.Code)
}

func (e *Error) Unwrap() error { return e.Cause }

// IsAlreadyExists reports whether err represents a unique-constraint violation.
func IsAlreadyExists(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Code == CodeAlreadyExists
}

// IsNotFound reports whether err represents a missing row.
func IsNotFound(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Code == CodeNotFound
}

// IsRetryable reports whether the caller's unit of work should be retried.
func IsRetryable(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Code == CodeRetryable
}

// Translate maps a raw GORM/pgx/SQLite error into the taxonomy above.
func Translate(err error, operation string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &Error{Code: CodeNotFound, Operation: operation, Cause: err}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &Error{Code: pgCodeToTaxonomy(pgErr.Code), Operation: operation, Cause: err}
	}

	// SQLite (glebarez) surfaces unique violations as plain strings.
	if isSQLiteUniqueViolation(err) {
		return &Error{Code: CodeAlreadyExists, Operation: operation, Cause: err}
	}

	return &Error{Code: CodeIOError, Operation: operation, Cause: err}
}

// pgCodeToTaxonomy maps PostgreSQL error codes; see
// https://www.postgresql.org/docs/current/errcodes-appendix.html
func pgCodeToTaxonomy(code string) Code {
	switch code {
	case "23505": // unique_violation
		return CodeAlreadyExists
	case "23503", "23502": // foreign_key / not_null violation
		return CodeInvalidInput
	case "40001", "40P01": // serialization_failure, deadlock_detected
		return CodeRetryable
	case "08000", "08003", "08006": // connection errors
		return CodeConnection
	default:
		return CodeIOError
	}
}

func isSQLiteUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed: UNIQUE")
}
