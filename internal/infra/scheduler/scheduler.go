package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// AutoCloser closes requests whose follow-ups were exhausted without a response.
type AutoCloser interface {
	RunAutoClosure(ctx context.Context, now time.Time) (int, error)
}

// DigestSender tells the manager which requests are due.
type DigestSender interface {
	SendDueDigest(ctx context.Context, now time.Time, limit int) error
}

type FollowUpScheduler struct {
	cronEngine          *cron.Cron
	closer              AutoCloser
	digest              DigestSender
	logger              *logrus.Entry
	now                 func() time.Time
	cronSpecAutoClosure string // e.g., "0 2 * * *" (2 AM daily)
	cronSpecDueDigest   string // e.g., "0 9 * * *" (9 AM daily)
	digestLimit         int
}

func NewFollowUpScheduler(
	closer AutoCloser,
	digest DigestSender,
	logger *logrus.Entry,
	cronSpecAutoClosure string,
	cronSpecDueDigest string,
	digestLimit int,
) *FollowUpScheduler {
	return &FollowUpScheduler{
		cronEngine:          cron.New(cron.WithLocation(time.Local)), // Use server's local time for cron
		closer:              closer,
		digest:              digest,
		logger:              logger,
		now:                 time.Now,
		cronSpecAutoClosure: cronSpecAutoClosure,
		cronSpecDueDigest:   cronSpecDueDigest,
		digestLimit:         digestLimit,
	}
}

// Start registers the jobs and starts the cron engine. A nil digest sender skips the digest job.
func (s *FollowUpScheduler) Start() error {
	s.logger.Info("Starting follow-up scheduler...")

	_, err := s.cronEngine.AddFunc(s.cronSpecAutoClosure, s.runAutoClosure)
	if err != nil {
		return fmt.Errorf("could not add auto-closure cron job: %w", err)
	}

	if s.digest != nil {
		_, err = s.cronEngine.AddFunc(s.cronSpecDueDigest, s.sendDueDigest)
		if err != nil {
			return fmt.Errorf("could not add due digest cron job: %w", err)
		}
	}

	s.cronEngine.Start()
	s.logger.WithField("jobs", len(s.cronEngine.Entries())).Info("Follow-up scheduler started.")
	return nil
}

func (s *FollowUpScheduler) runAutoClosure() {
	s.logger.Info("Cron job triggered for auto-closure sweep.")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	closed, err := s.closer.RunAutoClosure(ctx, s.now())
	if err != nil {
		s.logger.WithError(err).Error("Auto-closure sweep failed")
		return
	}
	s.logger.WithField("closed", closed).Info("Auto-closure job finished.")
}

func (s *FollowUpScheduler) sendDueDigest() {
	s.logger.Info("Cron job triggered for due digest.")
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Minute)
	defer cancel()
	if err := s.digest.SendDueDigest(ctx, s.now(), s.digestLimit); err != nil {
		s.logger.WithError(err).Error("Error during due digest")
	}
}

func (s *FollowUpScheduler) Stop() {
	s.logger.Info("Stopping follow-up scheduler...")
	ctx := s.cronEngine.Stop() // Stops the scheduler from adding new jobs, waits for running jobs.
	<-ctx.Done()
	s.logger.Info("Follow-up scheduler gracefully stopped.")
}
