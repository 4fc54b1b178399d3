package quarry

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is matched by every NotFoundError.
	ErrNotFound = errors.New("quarry: entity not found")
	// ErrNotSingular is matched by every NotSingularError.
	ErrNotSingular = errors.New("quarry: entity not singular")
)

// NotFoundError reports a read or a keyed write that matched no row.
type NotFoundError struct {
	Entity string
	// ID holds the identifier values of a keyed write, if any.
	ID any
}

func (e *NotFoundError) Error() string {
	if e.ID != nil {
		return fmt.Sprintf("quarry: %s not found (id=%v)", e.Entity, e.ID)
	}
	return fmt.Sprintf("quarry: %s not found", e.Entity)
}

// Is makes errors.Is(err, ErrNotFound) hold.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// NewNotFoundError returns a NotFoundError for entity.
func NewNotFoundError(entity string) *NotFoundError {
	return &NotFoundError{Entity: entity}
}

// NewNotFoundErrorWithID returns a NotFoundError naming the identifier that
// matched nothing.
func NewNotFoundErrorWithID(entity string, id any) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

// IsNotFound reports whether err is, or wraps, a NotFoundError.
func IsNotFound(err error) bool {
	return err != nil && errors.Is(err, ErrNotFound)
}

// NotSingularError reports a query expected to yield exactly one row that
// yielded more.
type NotSingularError struct {
	Entity string
	// Count is the number of rows seen, or -1 when unknown.
	Count int
}

func (e *NotSingularError) Error() string {
	if e.Count >= 0 {
		return fmt.Sprintf("quarry: %s not singular (got %d results, expected 1)", e.Entity, e.Count)
	}
	return fmt.Sprintf("quarry: %s not singular", e.Entity)
}

// Is makes errors.Is(err, ErrNotSingular) hold.
func (e *NotSingularError) Is(target error) bool { return target == ErrNotSingular }

// NewNotSingularError returns a NotSingularError with an unknown count.
func NewNotSingularError(entity string) *NotSingularError {
	return &NotSingularError{Entity: entity, Count: -1}
}

// NewNotSingularErrorWithCount returns a NotSingularError for count rows.
func NewNotSingularErrorWithCount(entity string, count int) *NotSingularError {
	return &NotSingularError{Entity: entity, Count: count}
}

// IsNotSingular reports whether err is, or wraps, a NotSingularError.
func IsNotSingular(err error) bool {
	return err != nil && errors.Is(err, ErrNotSingular)
}

// ConstraintError marks a database constraint violation. Kind names the
// constraint class: unique, foreign key or check.
type ConstraintError struct {
	Kind string
	Err  error
}

func (e *ConstraintError) Error() string {
	if e.Err == nil {
		return "quarry: constraint failed: " + e.Kind
	}
	return fmt.Sprintf("quarry: constraint failed: %s: %v", e.Kind, e.Err)
}

func (e *ConstraintError) Unwrap() error { return e.Err }

// NewConstraintError returns a ConstraintError of the given kind wrapping
// the driver error.
func NewConstraintError(kind string, err error) *ConstraintError {
	return &ConstraintError{Kind: kind, Err: err}
}

// IsConstraintError reports whether err is, or wraps, a ConstraintError.
func IsConstraintError(err error) bool {
	var e *ConstraintError
	return errors.As(err, &e)
}

// ValidationError reports a record that cannot be written as is, for
// example an update without identifier values or a field rejected by its
// validator.
type ValidationError struct {
	Name string // field or entity
	Err  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("quarry: validator failed for %q: %s", e.Name, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// NewValidationError returns a ValidationError for name.
func NewValidationError(name string, err error) *ValidationError {
	return &ValidationError{Name: name, Err: err}
}

// IsValidationError reports whether err is, or wraps, a ValidationError.
func IsValidationError(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

// RollbackError wraps the failure of a rollback issued after another error.
type RollbackError struct {
	Err error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("quarry: rollback failed: %v", e.Err)
}

func (e *RollbackError) Unwrap() error { return e.Err }

// QueryError wraps a read failure with the statement that caused it.
type QueryError struct {
	Entity string
	Op     string // select, first, count or exist
	SQL    string
	Err    error
}

func (e *QueryError) Error() string {
	var sb strings.Builder
	sb.WriteString("quarry: querying ")
	sb.WriteString(e.Entity)
	if e.Op != "" {
		fmt.Fprintf(&sb, " (%s)", e.Op)
	}
	fmt.Fprintf(&sb, ": %v", e.Err)
	if e.SQL != "" {
		fmt.Fprintf(&sb, " [sql: %s]", e.SQL)
	}
	return sb.String()
}

func (e *QueryError) Unwrap() error { return e.Err }

// NewQueryError returns a QueryError.
func NewQueryError(entity, op, sql string, err error) *QueryError {
	return &QueryError{Entity: entity, Op: op, SQL: sql, Err: err}
}

// IsQueryError reports whether err is, or wraps, a QueryError.
func IsQueryError(err error) bool {
	var e *QueryError
	return errors.As(err, &e)
}

// WriteError reports a failed batch. Record describes the first failing
// record; Causes holds every per-row failure of the batch in order.
type WriteError struct {
	Entity string
	Op     string // insert, update or delete
	Record string
	SQL    string
	Causes []error
}

func (e *WriteError) Error() string {
	msg := fmt.Sprintf("quarry: %s %s", e.Op, e.Entity)
	if e.Record != "" {
		msg += " " + e.Record
	}
	switch len(e.Causes) {
	case 0:
		return msg + ": failed"
	case 1:
		return fmt.Sprintf("%s: %v", msg, e.Causes[0])
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %d rows failed:", msg, len(e.Causes))
	for i, err := range e.Causes {
		fmt.Fprintf(&sb, "\n  [%d] %v", i+1, err)
	}
	return sb.String()
}

// Unwrap returns the per-row causes, so errors.Is and errors.As match any
// of them.
func (e *WriteError) Unwrap() []error { return e.Causes }

// IsWriteError reports whether err is, or wraps, a WriteError.
func IsWriteError(err error) bool {
	var e *WriteError
	return errors.As(err, &e)
}
