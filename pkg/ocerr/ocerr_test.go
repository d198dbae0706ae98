package ocerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindString(t *testing.T) {
	assert.Equal(t, "ParseError", KindParse.String())
	assert.Equal(t, "ValidationError", KindValidation.String())
	assert.Equal(t, "PreconditionError", KindPrecondition.String())
	assert.Equal(t, "TransientDBError", KindTransientDB.String())
	assert.Equal(t, "FatalDBError", KindFatalDB.String())
	assert.Equal(t, "IOError", KindIO.String())
	assert.Equal(t, "CancelledError", KindCancelled.String())
	assert.Equal(t, "CleanupError", KindCleanup.String())
	assert.Equal(t, "UnknownError", Kind(99).String())
}

func TestNew(t *testing.T) {
	err := New(KindValidation, "bad column")
	assert.Equal(t, "ValidationError: bad column", err.Error())
	assert.Empty(t, err.SQLState)
}

func TestNewWithSQLState(t *testing.T) {
	err := New(KindFatalDB, "duplicate key").WithSQLState("23000")
	assert.Equal(t, "FatalDBError: duplicate key (sqlstate=23000)", err.Error())
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindTransientDB, cause, "failed to dial")

	assert.Equal(t, "TransientDBError: failed to dial", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestUnwrap(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := Wrap(KindIO, cause, "write failed")
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestIsComparesByKind(t *testing.T) {
	a := New(KindCancelled, "context done")
	b := New(KindCancelled, "different reason")
	c := New(KindFatalDB, "context done")

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, c))
	assert.False(t, errors.Is(a, errors.New("plain error")))
}

func TestAsExtractsKind(t *testing.T) {
	var target *Error
	err := Wrap(KindCleanup, errors.New("drop failed"), "cleanup step failed")

	assert.True(t, errors.As(err, &target))
	assert.Equal(t, KindCleanup, target.Kind)
}
