// internal/domain/followup/repository.go
package followup

import (
	"context"
)

// Repository defines persistence for requests, statuses and the follow-up log.
type Repository interface {
	// Status lookups
	GetStatus(ctx context.Context, id int64) (*Status, error)
	ListStatuses(ctx context.Context) ([]*Status, error)
	// FindClosureStatus returns the lowest-id status for which IsClosureTarget holds.
	FindClosureStatus(ctx context.Context) (*Status, error)

	// Request methods. Reads load Status (with Policy) and Person.
	GetRequest(ctx context.Context, id int64) (*Request, error)
	// GetRequestForUpdate locks the request row until the surrounding transaction ends.
	GetRequestForUpdate(ctx context.Context, id int64) (*Request, error)
	UpdateRequest(ctx context.Context, r *Request) error
	// ListTrackedRequests returns requests whose status requires follow-up or has a policy.
	ListTrackedRequests(ctx context.Context) ([]*Request, error)
	// ListExhaustedForAutoClose locks exhausted requests whose policy enables auto-closure.
	ListExhaustedForAutoClose(ctx context.Context) ([]*Request, error)

	// Follow-up log methods
	GetLogEntry(ctx context.Context, id int64) (*LogEntry, error)
	GetLatestLogEntry(ctx context.Context, requestID int64) (*LogEntry, error)
	ListLogEntries(ctx context.Context, requestID int64) ([]*LogEntry, error) // Newest first
	ClearCurrentLogEntries(ctx context.Context, requestID int64) error
	CreateLogEntry(ctx context.Context, e *LogEntry) error
	UpdateLogEntry(ctx context.Context, e *LogEntry) error

	// WithinTx runs fn against a repository bound to one transaction.
	// The transaction commits when fn returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(repo Repository) error) error
}
