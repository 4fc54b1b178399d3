package quarry_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/quarry"
)

func TestNotFoundError(t *testing.T) {
	err := quarry.NewNotFoundError("User")
	assert.Equal(t, "quarry: User not found", err.Error())
	err = quarry.NewNotFoundErrorWithID("User", []any{int64(7)})
	assert.Equal(t, "quarry: User not found (id=[7])", err.Error())

	assert.ErrorIs(t, err, quarry.ErrNotFound)
	assert.True(t, quarry.IsNotFound(fmt.Errorf("flush: %w", err)))
	assert.True(t, quarry.IsNotFound(quarry.ErrNotFound))
	assert.False(t, quarry.IsNotFound(errors.New("other")))
	assert.False(t, quarry.IsNotFound(nil))

	var nf *quarry.NotFoundError
	require.ErrorAs(t, fmt.Errorf("flush: %w", err), &nf)
	assert.Equal(t, []any{int64(7)}, nf.ID)
}

func TestNotSingularError(t *testing.T) {
	assert.Equal(t, "quarry: User not singular", quarry.NewNotSingularError("User").Error())
	err := quarry.NewNotSingularErrorWithCount("User", 2)
	assert.Equal(t, "quarry: User not singular (got 2 results, expected 1)", err.Error())
	assert.ErrorIs(t, err, quarry.ErrNotSingular)
	assert.True(t, quarry.IsNotSingular(fmt.Errorf("only: %w", err)))
	assert.False(t, quarry.IsNotSingular(quarry.ErrNotFound))
	assert.False(t, quarry.IsNotSingular(nil))
}

func TestConstraintError(t *testing.T) {
	cause := errors.New("UNIQUE constraint failed: users.name")
	err := quarry.NewConstraintError("unique", cause)
	assert.Equal(t, "quarry: constraint failed: unique: UNIQUE constraint failed: users.name", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.True(t, quarry.IsConstraintError(fmt.Errorf("flush: %w", err)))
	assert.False(t, quarry.IsConstraintError(cause))
	assert.False(t, quarry.IsConstraintError(nil))
	assert.Equal(t, "quarry: constraint failed: check", quarry.NewConstraintError("check", nil).Error())
}

func TestValidationError(t *testing.T) {
	cause := errors.New("missing id")
	err := quarry.NewValidationError("users", cause)
	assert.Equal(t, `quarry: validator failed for "users": missing id`, err.Error())
	assert.ErrorIs(t, err, cause)
	assert.True(t, quarry.IsValidationError(fmt.Errorf("write: %w", err)))
	assert.False(t, quarry.IsValidationError(nil))
}

func TestRollbackError(t *testing.T) {
	flush := errors.New("flush failed")
	lost := errors.New("connection lost")
	err := errors.Join(flush, &quarry.RollbackError{Err: lost})
	assert.ErrorIs(t, err, flush)
	assert.ErrorIs(t, err, lost)
	var rerr *quarry.RollbackError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "quarry: rollback failed: connection lost", rerr.Error())
}

func TestQueryError(t *testing.T) {
	cause := errors.New("syntax error")
	err := quarry.NewQueryError("users", "select", `SELECT * FROM "users"`, cause)
	assert.Equal(t, `quarry: querying users (select): syntax error [sql: SELECT * FROM "users"]`, err.Error())
	assert.ErrorIs(t, err, cause)
	assert.True(t, quarry.IsQueryError(fmt.Errorf("cursor: %w", err)))
	assert.False(t, quarry.IsQueryError(cause))
}

func TestWriteError(t *testing.T) {
	dup := quarry.NewConstraintError("unique", errors.New("users.email"))
	gone := errors.New("row 2 failed")
	err := &quarry.WriteError{Entity: "users", Op: "insert", Record: "users#1", Causes: []error{dup, gone}}

	require.True(t, quarry.IsWriteError(fmt.Errorf("flush: %w", err)))
	assert.ErrorIs(t, err, gone)
	assert.True(t, quarry.IsConstraintError(err))
	assert.Contains(t, err.Error(), "quarry: insert users users#1: 2 rows failed:")
	assert.Contains(t, err.Error(), "[2] row 2 failed")

	single := &quarry.WriteError{Entity: "users", Op: "update", Causes: []error{gone}}
	assert.Equal(t, "quarry: update users: row 2 failed", single.Error())
	assert.Equal(t, "quarry: delete users: failed", (&quarry.WriteError{Entity: "users", Op: "delete"}).Error())
}

func BenchmarkIsNotFound(b *testing.B) {
	err := fmt.Errorf("first: %w", quarry.NewNotFoundError("User"))
	for b.Loop() {
		_ = quarry.IsNotFound(err)
	}
}
