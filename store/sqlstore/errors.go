package sqlstore

import (
	"errors"
	"strings"

	"github.com/syssam/warden"
)

// mapError converts driver errors into the store's error taxonomy:
// constraint violations become warden.ConstraintError, everything else is
// wrapped as a mutation error.
func mapError(model, op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case isUniqueViolation(err):
		return warden.NewConstraintError("unique constraint violation", err)
	case isForeignKeyViolation(err):
		return warden.NewConstraintError("foreign-key constraint violation", err)
	case isCheckViolation(err):
		return warden.NewConstraintError("check constraint violation", err)
	default:
		return warden.NewMutationError(model, op, err)
	}
}

// sqlStateError is implemented by pq.Error and pgx errors.
type sqlStateError interface {
	SQLState() string
}

// resultCoder is implemented by modernc.org/sqlite errors, whose Code method
// reports the extended result code.
type resultCoder interface {
	Code() int
}

// PostgreSQL SQLSTATE codes for constraint violations (Class 23).
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
)

// SQLite extended result codes for constraint violations.
const (
	sqliteConstraintCheck      = 275
	sqliteConstraintForeignKey = 787
	sqliteConstraintPrimaryKey = 1555
	sqliteConstraintUnique     = 2067
)

// mysql.MySQLError carries its number in a struct field rather than a
// method, so MySQL classification goes through the message prefix the
// driver renders ("Error NNNN ...").

func isUniqueViolation(err error) bool {
	if hasSQLState(err, pgUniqueViolation) ||
		hasResultCode(err, sqliteConstraintUnique) ||
		hasResultCode(err, sqliteConstraintPrimaryKey) {
		return true
	}
	return containsAny(err.Error(),
		"Error 1062",                 // MySQL
		"violates unique constraint", // Postgres
		"UNIQUE constraint failed",   // SQLite
	)
}

func isForeignKeyViolation(err error) bool {
	if hasSQLState(err, pgForeignKeyViolation) || hasResultCode(err, sqliteConstraintForeignKey) {
		return true
	}
	return containsAny(err.Error(),
		"Error 1451",                      // MySQL (cannot delete or update a parent row)
		"Error 1452",                      // MySQL (cannot add or update a child row)
		"violates foreign key constraint", // Postgres
		"FOREIGN KEY constraint failed",   // SQLite
	)
}

func isCheckViolation(err error) bool {
	if hasSQLState(err, pgCheckViolation) || hasResultCode(err, sqliteConstraintCheck) {
		return true
	}
	return containsAny(err.Error(),
		"Error 3819",                // MySQL
		"violates check constraint", // Postgres
		"CHECK constraint failed",   // SQLite
	)
}

func hasSQLState(err error, code string) bool {
	e, ok := asError[sqlStateError](err)
	return ok && e.SQLState() == code
}

func hasResultCode(err error, code int) bool {
	e, ok := asError[resultCoder](err)
	return ok && e.Code() == code
}

// asError attempts to extract an error implementing interface T from the
// error chain.
func asError[T any](err error) (T, bool) {
	var target T
	for err != nil {
		if e, ok := err.(T); ok {
			return e, true
		}
		err = errors.Unwrap(err)
	}
	return target, false
}

func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
