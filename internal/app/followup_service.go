// internal/app/followup_service.go
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"callcenter_crm/internal/domain/followup"
	idb "callcenter_crm/internal/infra/database"

	"github.com/sirupsen/logrus"
)

const auditTimeLayout = "2006-01-02 15:04"

// RecordInput describes a follow-up logged by staff together with its outcome.
type RecordInput struct {
	RequestID      int64
	StatusID       int64 // Status the request moves to
	FollowUpTypeID sql.NullInt64
	ChangeReason   sql.NullString
	Comment        sql.NullString
}

// FollowUpService applies follow-up rules to requests. Every mutation of a
// request's follow-up state goes through it.
type FollowUpService struct {
	repo   followup.Repository
	logger *logrus.Entry
}

func NewFollowUpService(repo followup.Repository, logger *logrus.Entry) *FollowUpService {
	return &FollowUpService{
		repo:   repo,
		logger: logger,
	}
}

// policyFor returns the policy that applies to a status, or nil when none does.
func policyFor(status *followup.Status) *followup.Policy {
	if status == nil || !status.RequiresFollowUp || status.Policy == nil {
		return nil
	}
	p := *status.Policy
	return &p
}

// ResolvePolicy returns the follow-up policy for a status. A nil policy with a nil
// error means the status needs no follow-up or has no policy linked.
func (s *FollowUpService) ResolvePolicy(ctx context.Context, statusID int64) (*followup.Policy, error) {
	status, err := s.repo.GetStatus(ctx, statusID)
	if err != nil {
		if errors.Is(err, idb.ErrStatusNotFound) {
			return nil, fmt.Errorf("%w: status %d", followup.ErrNotFound, statusID)
		}
		return nil, fmt.Errorf("failed to load status %d: %w", statusID, err)
	}
	return policyFor(status), nil
}

// EvaluateRequest loads a request and evaluates its follow-up eligibility at now.
func (s *FollowUpService) EvaluateRequest(ctx context.Context, requestID int64, now time.Time) (*followup.Request, followup.Eligibility, error) {
	req, err := s.repo.GetRequest(ctx, requestID)
	if err != nil {
		return nil, followup.Eligibility{}, notFoundOr(err, requestID)
	}
	return req, followup.Evaluate(req, policyFor(req.Status), now), nil
}

func notFoundOr(err error, requestID int64) error {
	if errors.Is(err, idb.ErrRequestNotFound) {
		return fmt.Errorf("%w: request %d", followup.ErrNotFound, requestID)
	}
	return fmt.Errorf("failed to load request %d: %w", requestID, err)
}

// loadForFollowUp locks a request and checks every precondition of a follow-up action.
func loadForFollowUp(ctx context.Context, repo followup.Repository, requestID int64) (*followup.Request, error) {
	req, err := repo.GetRequestForUpdate(ctx, requestID)
	if err != nil {
		return nil, notFoundOr(err, requestID)
	}
	if req.Status == nil {
		return nil, fmt.Errorf("%w: request %d", followup.ErrNoStatus, requestID)
	}
	if !req.Status.RequiresFollowUp {
		return nil, fmt.Errorf("%w: '%s'", followup.ErrNotRequired, req.Status.Name)
	}
	policy := req.Status.Policy
	if policy == nil {
		return nil, fmt.Errorf("%w: '%s'", followup.ErrNoPolicy, req.Status.Name)
	}
	if req.FollowUpCount >= policy.MaxAttempts {
		return nil, fmt.Errorf("%w: %d of %d used for request %d", followup.ErrLimitReached, req.FollowUpCount, policy.MaxAttempts, requestID)
	}
	if req.Status.IsClosed() {
		return nil, fmt.Errorf("%w: request %d has status '%s'", followup.ErrAlreadyClosed, requestID, req.Status.Name)
	}
	return req, nil
}

// countAttempt applies one follow-up attempt to the in-memory request.
func countAttempt(req *followup.Request, actorID int64, now time.Time) {
	req.FollowUpCount++
	req.LastFollowUpDate = sql.NullTime{Time: now, Valid: true}
	req.UpdatedAt = sql.NullTime{Time: now, Valid: true}
	req.UpdatedBy = sql.NullInt64{Int64: actorID, Valid: true}
	req.AppendComment(fmt.Sprintf("Follow-up #%d completed on %s", req.FollowUpCount, now.Format(auditTimeLayout)))
}

// ProcessFollowUp records one follow-up attempt on a request in a single transaction.
// Nothing is persisted when any check fails.
func (s *FollowUpService) ProcessFollowUp(ctx context.Context, requestID, actorID int64, now time.Time) error {
	log := s.logger.WithFields(logrus.Fields{"request_id": requestID, "actor_id": actorID})

	var count int
	err := s.repo.WithinTx(ctx, func(repo followup.Repository) error {
		req, err := loadForFollowUp(ctx, repo, requestID)
		if err != nil {
			return err
		}
		countAttempt(req, actorID, now)
		if err := repo.UpdateRequest(ctx, req); err != nil {
			return fmt.Errorf("failed to save follow-up for request %d: %w", requestID, err)
		}
		count = req.FollowUpCount
		return nil
	})
	if err != nil {
		log.WithError(err).Warn("Follow-up rejected")
		return err
	}
	log.WithField("follow_up_count", count).Info("Follow-up recorded")
	return nil
}

// ProcessBulk runs ProcessFollowUp for each id in its own transaction. A failed
// id is reported as false and never affects the others.
func (s *FollowUpService) ProcessBulk(ctx context.Context, requestIDs []int64, actorID int64, now time.Time) map[int64]bool {
	results := make(map[int64]bool, len(requestIDs))
	succeeded := 0
	for _, id := range requestIDs {
		if err := s.ProcessFollowUp(ctx, id, actorID, now); err != nil {
			results[id] = false
			continue
		}
		results[id] = true
		succeeded++
	}
	s.logger.WithFields(logrus.Fields{
		"actor_id":  actorID,
		"requested": len(requestIDs),
		"succeeded": succeeded,
	}).Info("Bulk follow-up finished")
	return results
}

// RecordFollowUp counts a follow-up attempt, moves the request to the chosen status
// and appends a log entry that becomes the request's current one. All of it
// commits together.
func (s *FollowUpService) RecordFollowUp(ctx context.Context, in RecordInput, actorID int64, now time.Time) (*followup.LogEntry, error) {
	log := s.logger.WithFields(logrus.Fields{"request_id": in.RequestID, "actor_id": actorID, "status_id": in.StatusID})

	var entry *followup.LogEntry
	err := s.repo.WithinTx(ctx, func(repo followup.Repository) error {
		req, err := loadForFollowUp(ctx, repo, in.RequestID)
		if err != nil {
			return err
		}
		newStatus, err := repo.GetStatus(ctx, in.StatusID)
		if err != nil {
			if errors.Is(err, idb.ErrStatusNotFound) {
				return fmt.Errorf("%w: status %d", followup.ErrNotFound, in.StatusID)
			}
			return fmt.Errorf("failed to load status %d: %w", in.StatusID, err)
		}

		countAttempt(req, actorID, now)
		req.StatusID = sql.NullInt64{Int64: newStatus.ID, Valid: true}
		req.Status = newStatus
		if err := repo.UpdateRequest(ctx, req); err != nil {
			return fmt.Errorf("failed to save follow-up for request %d: %w", in.RequestID, err)
		}

		if err := repo.ClearCurrentLogEntries(ctx, in.RequestID); err != nil {
			return err
		}
		entry = &followup.LogEntry{
			RequestID:      in.RequestID,
			StatusID:       newStatus.ID,
			ChangeReason:   in.ChangeReason,
			Comment:        in.Comment,
			IsCurrent:      true,
			FollowUpTypeID: in.FollowUpTypeID,
			UpdatedAt:      now,
			UpdatedBy:      sql.NullInt64{Int64: actorID, Valid: true},
		}
		return repo.CreateLogEntry(ctx, entry)
	})
	if err != nil {
		log.WithError(err).Warn("Follow-up log entry rejected")
		return nil, err
	}
	log.WithField("entry_id", entry.ID).Info("Follow-up logged")
	return entry, nil
}

// EditLastEntry changes the most recent log entry of a request and moves the
// request to the entry's new status. Older entries are never rewritten.
func (s *FollowUpService) EditLastEntry(ctx context.Context, entryID int64, fields followup.EntryFields, actorID int64, now time.Time) (*followup.LogEntry, error) {
	log := s.logger.WithFields(logrus.Fields{"entry_id": entryID, "actor_id": actorID})

	var edited *followup.LogEntry
	err := s.repo.WithinTx(ctx, func(repo followup.Repository) error {
		entry, err := repo.GetLogEntry(ctx, entryID)
		if err != nil {
			if errors.Is(err, idb.ErrLogEntryNotFound) {
				return fmt.Errorf("%w: follow-up entry %d", followup.ErrNotFound, entryID)
			}
			return fmt.Errorf("failed to load follow-up entry %d: %w", entryID, err)
		}

		// Locking the request serializes this edit with new entries being logged.
		req, err := repo.GetRequestForUpdate(ctx, entry.RequestID)
		if err != nil {
			return notFoundOr(err, entry.RequestID)
		}

		latest, err := repo.GetLatestLogEntry(ctx, entry.RequestID)
		if err != nil {
			return fmt.Errorf("failed to load latest follow-up entry for request %d: %w", entry.RequestID, err)
		}
		if latest.ID != entry.ID {
			return fmt.Errorf("%w: entry %d, latest is %d", followup.ErrNotMostRecent, entryID, latest.ID)
		}

		if _, err := repo.GetStatus(ctx, fields.StatusID); err != nil {
			if errors.Is(err, idb.ErrStatusNotFound) {
				return fmt.Errorf("%w: status %d", followup.ErrNotFound, fields.StatusID)
			}
			return fmt.Errorf("failed to load status %d: %w", fields.StatusID, err)
		}

		entry.StatusID = fields.StatusID
		entry.FollowUpTypeID = fields.FollowUpTypeID
		entry.ChangeReason = fields.ChangeReason
		entry.Comment = fields.Comment
		entry.UpdatedAt = now
		entry.UpdatedBy = sql.NullInt64{Int64: actorID, Valid: true}
		if err := repo.UpdateLogEntry(ctx, entry); err != nil {
			return err
		}

		req.StatusID = sql.NullInt64{Int64: fields.StatusID, Valid: true}
		req.UpdatedAt = sql.NullTime{Time: now, Valid: true}
		req.UpdatedBy = sql.NullInt64{Int64: actorID, Valid: true}
		if err := repo.UpdateRequest(ctx, req); err != nil {
			return fmt.Errorf("failed to update request %d: %w", req.ID, err)
		}
		edited = entry
		return nil
	})
	if err != nil {
		log.WithError(err).Warn("Edit of follow-up entry rejected")
		return nil, err
	}
	log.Info("Last follow-up entry edited")
	return edited, nil
}

// ListLogEntries returns the follow-up history of a request, newest first.
func (s *FollowUpService) ListLogEntries(ctx context.Context, requestID int64) ([]*followup.LogEntry, error) {
	if _, err := s.repo.GetRequest(ctx, requestID); err != nil {
		return nil, notFoundOr(err, requestID)
	}
	return s.repo.ListLogEntries(ctx, requestID)
}

// RunAutoClosure moves every exhausted request whose auto-close window has
// elapsed into the closure status and returns how many were closed. Requests
// already in the closed family are skipped, so repeated runs close nothing new.
func (s *FollowUpService) RunAutoClosure(ctx context.Context, now time.Time) (int, error) {
	log := s.logger.WithField("run_at", now.Format(auditTimeLayout))
	log.Info("Starting auto-closure sweep")

	closed := 0
	err := s.repo.WithinTx(ctx, func(repo followup.Repository) error {
		closed = 0 // Reset when the transaction is retried

		target, err := repo.FindClosureStatus(ctx)
		if err != nil {
			if errors.Is(err, idb.ErrStatusNotFound) {
				return fmt.Errorf("%w: no 'Closed' or 'Auto-Closed' status found", followup.ErrConfiguration)
			}
			return fmt.Errorf("failed to find closure status: %w", err)
		}

		candidates, err := repo.ListExhaustedForAutoClose(ctx)
		if err != nil {
			return err
		}

		for _, req := range candidates {
			policy := policyFor(req.Status)
			if !followup.DueForAutoClose(req, policy, now) {
				continue
			}
			req.StatusID = sql.NullInt64{Int64: target.ID, Valid: true}
			req.Status = target
			req.UpdatedAt = sql.NullTime{Time: now, Valid: true}
			req.UpdatedBy = sql.NullInt64{} // System update
			req.AppendComment(fmt.Sprintf(
				"Request automatically closed on %s after %d follow-ups with no response (policy %d: auto-close after %d days).",
				now.Format(auditTimeLayout), req.FollowUpCount, policy.ID, policy.AutoCloseDays))
			if err := repo.UpdateRequest(ctx, req); err != nil {
				return fmt.Errorf("failed to close request %d: %w", req.ID, err)
			}
			closed++
		}
		return nil
	})
	if err != nil {
		log.WithError(err).Error("Auto-closure sweep failed")
		return 0, err
	}
	log.WithField("closed", closed).Info("Auto-closure sweep completed")
	return closed, nil
}
