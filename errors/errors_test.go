package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapPreservesCause(t *testing.T) {
	original := New("connection refused")
	wrapped := Wrapf(original, "failed to open store (attempt %d)", 3)

	assert.Contains(t, wrapped.Error(), "attempt 3")
	assert.Contains(t, wrapped.Error(), "connection refused")
	assert.True(t, Is(wrapped, original))
}

func TestNilHandling(t *testing.T) {
	assert.Nil(t, Wrap(nil, "context"))
	assert.Nil(t, Wrapf(nil, "context %d", 1))
	assert.Nil(t, WithStack(nil))
	assert.Nil(t, WithHint(nil, "hint"))
	assert.False(t, IsNotFoundError(nil))
}

func TestJobNotFound(t *testing.T) {
	err := NewJobNotFoundError(42)

	assert.True(t, Is(err, ErrJobNotFound))
	assert.True(t, IsNotFoundError(err))
	assert.Contains(t, err.Error(), "job #42 does not exist")

	outer := Wrap(err, "worker attempt")
	assert.True(t, IsNotFoundError(outer))
}

func TestInvalidConfig(t *testing.T) {
	err := NewInvalidConfigError("cycle pause must be positive, got %d", -1)
	require.True(t, Is(err, ErrInvalidConfig))
	assert.Contains(t, err.Error(), "got -1")
	assert.False(t, IsNotFoundError(err))
}

func TestHintsAndDetails(t *testing.T) {
	err := Wrap(New("access denied"), "open store")
	err = WithHint(err, "check DB_USERNAME and DB_PASSWORD")
	err = WithDetail(err, "engine=mysql")

	assert.Contains(t, GetAllHints(err), "check DB_USERNAME and DB_PASSWORD")
	assert.Contains(t, GetAllDetails(err), "engine=mysql")
}

func TestMarkKeepsCause(t *testing.T) {
	cause := New("i/o timeout")
	err := Mark(Wrap(cause, "ping store"), ErrTimeout)

	assert.True(t, Is(err, ErrTimeout))
	assert.True(t, Is(err, cause))
	assert.Contains(t, err.Error(), "ping store")
}

func TestStackTrace(t *testing.T) {
	err := New("with stack")
	assert.Contains(t, fmt.Sprintf("%+v", err), "errors_test.go")
}

func ExampleWrap() {
	err := Wrap(New("database is locked"), "failed to query due entries")
	fmt.Println(err)
	// Output: failed to query due entries: database is locked
}
