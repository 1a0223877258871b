package database

import (
	"errors"
	"time"

	"github.com/lib/pq"
)

// Operation is a unit of work that may be attempted more than once.
type Operation func() error

// IsRetryable decides whether a failed operation should be attempted again.
type IsRetryable func(err error) bool

const DefaultMaxRetries = 3

// PostgreSQL SQLSTATE codes for transactions the server aborted under contention.
const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
)

// WithRetries runs op, retrying up to maxRetries more times while isRetryable
// accepts the error. Any other error is returned immediately.
func WithRetries(op Operation, maxRetries int, isRetryable IsRetryable) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = op()
		if err == nil {
			return nil
		}
		if attempt == maxRetries {
			break
		}
		if !isRetryable(err) {
			return err
		}
		time.Sleep(time.Duration(50*(attempt+1)) * time.Millisecond)
	}
	return err
}

// IsTxConflict reports whether PostgreSQL aborted the transaction because of a
// serialization failure or a deadlock.
func IsTxConflict(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == sqlStateSerializationFailure || pqErr.Code == sqlStateDeadlockDetected
	}
	return false
}
