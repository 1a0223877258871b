package database

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func serializationFailure() error {
	return &pq.Error{Code: sqlStateSerializationFailure, Message: "could not serialize access due to concurrent update"}
}

func TestWithRetries_SuccessfulFirstAttempt(t *testing.T) {
	var opCalled int
	err := WithRetries(func() error {
		opCalled++
		return nil
	}, 3, IsTxConflict)

	assert.NoError(t, err)
	assert.Equal(t, 1, opCalled)
}

func TestWithRetries_NonRetryableErrorStopsImmediately(t *testing.T) {
	var opCalled int
	expectedErr := errors.New("some other error")

	err := WithRetries(func() error {
		opCalled++
		return expectedErr
	}, 3, IsTxConflict)

	assert.ErrorIs(t, err, expectedErr)
	assert.Equal(t, 1, opCalled)
}

func TestWithRetries_ExhaustRetries(t *testing.T) {
	var opCalled int
	maxRetries := 2

	err := WithRetries(func() error {
		opCalled++
		return serializationFailure()
	}, maxRetries, IsTxConflict)

	assert.Error(t, err)
	assert.True(t, IsTxConflict(err))
	assert.Equal(t, maxRetries+1, opCalled)
}

func TestWithRetries_SucceedsAfterConflict(t *testing.T) {
	var opCalled int

	err := WithRetries(func() error {
		opCalled++
		if opCalled < 3 {
			return fmt.Errorf("commit failed: %w", serializationFailure())
		}
		return nil
	}, 3, IsTxConflict)

	assert.NoError(t, err)
	assert.Equal(t, 3, opCalled)
}

func TestWithRetries_ZeroRetries(t *testing.T) {
	var opCalled int

	err := WithRetries(func() error {
		opCalled++
		return serializationFailure()
	}, 0, IsTxConflict)

	assert.Error(t, err)
	assert.Equal(t, 1, opCalled)
}

func TestIsTxConflict(t *testing.T) {
	assert.True(t, IsTxConflict(&pq.Error{Code: sqlStateDeadlockDetected}))
	assert.False(t, IsTxConflict(&pq.Error{Code: "23505"}))
	assert.False(t, IsTxConflict(errors.New("plain")))
	assert.False(t, IsTxConflict(nil))
}
