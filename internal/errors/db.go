package errors

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// reKeyField extracts the field name from a unique violation detail message:
// "Key (field)=(value) already exists.".
var reKeyField = regexp.MustCompile(`Key \(([^)]+)\)=`)

// MapDBError maps database errors to AppError instances:
//   - pgx.ErrNoRows → NotFound
//   - unique constraint violations → Conflict
//   - foreign key violations → ForeignKey
//   - check / NOT NULL violations → Validation
//   - context timeouts and cancellations → Timeout / Canceled
//
// Errors that are not recognized database errors are returned unchanged.
func MapDBError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &AppError{
			Code:    ErrCodeTimeout,
			Message: "Request timed out. Please try again.",
			Cause:   err,
		}
	}
	if errors.Is(err, context.Canceled) {
		return &AppError{
			Code:    ErrCodeCanceled,
			Message: "Request was canceled.",
			Cause:   err,
		}
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return &AppError{
			Code:    ErrCodeNotFound,
			Message: "Resource not found",
			Cause:   err,
		}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return mapPgError(pgErr)
	}

	return err
}

func mapPgError(pgErr *pgconn.PgError) error {
	switch pgErr.Code {
	case pgerrcode.UniqueViolation:
		return mapUniqueViolation(pgErr)
	case pgerrcode.ForeignKeyViolation:
		return mapForeignKeyViolation(pgErr)
	case pgerrcode.CheckViolation, pgerrcode.NotNullViolation:
		return mapConstraintViolation(pgErr)
	default:
		return &AppError{
			Code:    ErrCodeInternal,
			Message: "A database error occurred. Please try again.",
			Cause:   pgErr,
		}
	}
}

// mapUniqueViolation maps unique constraint violations to Conflict errors,
// attaching the offending field when it can be determined.
func mapUniqueViolation(pgErr *pgconn.PgError) error {
	field := pgErr.ColumnName

	// Fallback: parse the detail message, which is more reliable than
	// constraint name inference for multi-column constraints.
	if field == "" && pgErr.Detail != "" {
		if m := reKeyField.FindStringSubmatch(pgErr.Detail); len(m) == 2 {
			field = m[1]
		}
	}

	return &AppError{
		Code:    ErrCodeConflict,
		Message: "This value already exists. Please choose a different one.",
		Field:   field,
		Cause:   pgErr,
	}
}

// mapForeignKeyViolation maps foreign key constraint violations to ForeignKey
// errors with a message naming the referenced table when available.
func mapForeignKeyViolation(pgErr *pgconn.PgError) error {
	message := "Cannot complete operation because a referenced record does not exist."
	if pgErr.TableName != "" {
		message = "Cannot complete operation because of a reference involving " +
			strings.ReplaceAll(strings.ToLower(pgErr.TableName), "_", " ") + "."
	}

	return &AppError{
		Code:    ErrCodeForeignKey,
		Message: message,
		Cause:   pgErr,
	}
}

// mapConstraintViolation maps CHECK and NOT NULL violations to Validation errors.
func mapConstraintViolation(pgErr *pgconn.PgError) error {
	if pgErr.ColumnName != "" {
		return &AppError{
			Code:    ErrCodeValidation,
			Message: "This field has an invalid value.",
			Field:   pgErr.ColumnName,
			Cause:   pgErr,
		}
	}

	return &AppError{
		Code:    ErrCodeValidation,
		Message: "Invalid data. Please check your input.",
		Cause:   pgErr,
	}
}
