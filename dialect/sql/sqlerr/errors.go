// Package sqlerr classifies errors returned by the database/sql drivers
// quarry works with: lib/pq, pgx, go-sql-driver/mysql and modernc sqlite.
package sqlerr

import (
	"database/sql/driver"
	"errors"
	"slices"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/syssam/quarry"
)

// IsConstraintError returns true if the error resulted from a database
// constraint violation, or is already a quarry.ConstraintError.
func IsConstraintError(err error) bool {
	return quarry.IsConstraintError(err) ||
		IsUniqueConstraintError(err) ||
		IsForeignKeyConstraintError(err) ||
		IsCheckConstraintError(err)
}

// sqlStateError is an interface for errors that provide SQLSTATE codes.
// Implemented by: pq.Error, pgconn.PgError.
type sqlStateError interface {
	SQLState() string
}

// PostgreSQL SQLSTATE codes for constraint violations (Class 23).
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
)

// MySQL error numbers for constraint violations.
const (
	mysqlDuplicateEntry         = 1062
	mysqlForeignKeyParent       = 1451 // Cannot delete or update a parent row
	mysqlForeignKeyChild        = 1452 // Cannot add or update a child row
	mysqlCheckConstraintViolate = 3819
)

// IsUniqueConstraintError reports if the error resulted from a DB uniqueness constraint violation.
func IsUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if state, ok := SQLState(err); ok && state == pgUniqueViolation {
		return true
	}
	if n, ok := mysqlNumber(err); ok && n == mysqlDuplicateEntry {
		return true
	}
	return containsAny(err.Error(),
		"Error 1062",                 // MySQL (string fallback)
		"violates unique constraint", // Postgres (string fallback)
		"UNIQUE constraint failed",   // SQLite
	)
}

// IsForeignKeyConstraintError reports if the error resulted from a database foreign-key constraint violation.
func IsForeignKeyConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if state, ok := SQLState(err); ok && state == pgForeignKeyViolation {
		return true
	}
	if n, ok := mysqlNumber(err); ok && (n == mysqlForeignKeyParent || n == mysqlForeignKeyChild) {
		return true
	}
	return containsAny(err.Error(),
		"Error 1451",                      // MySQL (Cannot delete or update a parent row)
		"Error 1452",                      // MySQL (Cannot add or update a child row)
		"violates foreign key constraint", // Postgres
		"FOREIGN KEY constraint failed",   // SQLite
	)
}

// IsCheckConstraintError reports if the error resulted from a database check constraint violation.
func IsCheckConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if state, ok := SQLState(err); ok && state == pgCheckViolation {
		return true
	}
	if n, ok := mysqlNumber(err); ok && n == mysqlCheckConstraintViolate {
		return true
	}
	return containsAny(err.Error(),
		"Error 3819",                // MySQL
		"violates check constraint", // Postgres
		"CHECK constraint failed",   // SQLite
	)
}

// Codes reported by servers or drivers when the session is gone.
var (
	// pgDisconnectStates are the Postgres SQLSTATEs, in addition to the
	// whole class 08 (connection exception), that end a session.
	pgDisconnectStates = []string{
		"57P01", // admin_shutdown
		"57P02", // crash_shutdown
		"57P03", // cannot_connect_now
	}
	// mysqlDisconnectNumbers are the MySQL error numbers that end a session.
	mysqlDisconnectNumbers = []uint16{
		1053, // ER_SERVER_SHUTDOWN
		1927, // ER_CONNECTION_KILLED
		2006, // CR_SERVER_GONE_ERROR
		2013, // CR_SERVER_LOST
	}
)

// IsDisconnect reports whether err, or any error in its chain, means the
// physical connection it came from is no longer usable. The extra codes are
// matched against the SQLSTATE of Postgres errors and the decimal number of
// MySQL errors, so both "08P01" and "2006" are valid.
func IsDisconnect(err error, extra ...string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}
	if state, ok := SQLState(err); ok {
		if strings.HasPrefix(state, "08") || slices.Contains(pgDisconnectStates, state) || slices.Contains(extra, state) {
			return true
		}
	}
	if n, ok := mysqlNumber(err); ok {
		if slices.Contains(mysqlDisconnectNumbers, n) || slices.Contains(extra, strconv.Itoa(int(n))) {
			return true
		}
	}
	return false
}

// SQLState returns the SQLSTATE carried by the first error in the chain that
// has one.
func SQLState(err error) (string, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code), true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, true
	}
	if e, ok := asError[sqlStateError](err); ok {
		return e.SQLState(), true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.SQLState != [5]byte{} {
		return string(myErr.SQLState[:]), true
	}
	return "", false
}

func mysqlNumber(err error) (uint16, bool) {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number, true
	}
	return 0, false
}

// asError attempts to extract an error implementing interface T from the error chain.
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

// containsAny returns true if s contains any of the substrings.
func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
