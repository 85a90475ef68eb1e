package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	t.Run("direct", func(t *testing.T) {
		err := NewError(KindTimeout, "took too long")
		assert.Equal(t, KindTimeout, KindOf(err))
	})

	t.Run("wrapped in fmt chain", func(t *testing.T) {
		inner := NewError(KindTargetNotFound, "no such element")
		err := fmt.Errorf("step 3: %w", inner)
		assert.Equal(t, KindTargetNotFound, KindOf(err))
	})

	t.Run("foreign error has no kind", func(t *testing.T) {
		assert.Equal(t, ErrorKind(""), KindOf(errors.New("plain")))
	})
}

func TestWrapErrorUnwraps(t *testing.T) {
	cause := errors.New("connection refused")
	err := WrapError(KindDriver, cause, "click button")
	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "Driver")
	assert.Contains(t, err.Error(), "click button")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestWithContext(t *testing.T) {
	err := NewError(KindMissingVariable, "variables missing").
		WithContext("missing", []string{"email", "username"})
	require.NotNil(t, err.Context)
	assert.Equal(t, []string{"email", "username"}, err.Context["missing"])
}

func TestIsRetryable(t *testing.T) {
	retryable := []ErrorKind{KindTimeout, KindTargetNotFound}
	for _, k := range retryable {
		assert.True(t, IsRetryable(k), string(k))
	}
	terminal := []ErrorKind{
		KindNavigation, KindDriver, KindCancelled, KindBusy,
		KindResourceInit, KindMissingVariable, KindUnrecognized,
		KindAmbiguous, KindSchemaMismatch, KindNotFound,
	}
	for _, k := range terminal {
		assert.False(t, IsRetryable(k), string(k))
	}
}
