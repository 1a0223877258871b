package scheduler

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockCloser struct {
	mock.Mock
}

func (m *mockCloser) RunAutoClosure(ctx context.Context, now time.Time) (int, error) {
	args := m.Called(ctx, now)
	return args.Int(0), args.Error(1)
}

type mockDigest struct {
	mock.Mock
}

func (m *mockDigest) SendDueDigest(ctx context.Context, now time.Time, limit int) error {
	args := m.Called(ctx, now, limit)
	return args.Error(0)
}

var fixedNow = time.Date(2025, 6, 20, 2, 0, 0, 0, time.UTC)

func newTestScheduler(closer AutoCloser, digest DigestSender, autoSpec string) *FollowUpScheduler {
	l := logrus.New()
	l.SetOutput(io.Discard)
	s := NewFollowUpScheduler(closer, digest, logrus.NewEntry(l), autoSpec, "0 9 * * *", 5)
	s.now = func() time.Time { return fixedNow }
	return s
}

func TestJobsPassClockAndLimit(t *testing.T) {
	closer := new(mockCloser)
	closer.On("RunAutoClosure", mock.Anything, fixedNow).Return(2, nil).Once()
	digest := new(mockDigest)
	digest.On("SendDueDigest", mock.Anything, fixedNow, 5).Return(errors.New("chat blocked")).Once()
	s := newTestScheduler(closer, digest, "0 2 * * *")

	s.runAutoClosure()
	s.sendDueDigest()

	closer.AssertExpectations(t)
	digest.AssertExpectations(t)
}

func TestStart_RegistersJobs(t *testing.T) {
	s := newTestScheduler(new(mockCloser), new(mockDigest), "0 2 * * *")
	require.NoError(t, s.Start())
	defer s.Stop()
	assert.Len(t, s.cronEngine.Entries(), 2)
}

func TestStart_WithoutDigest(t *testing.T) {
	s := newTestScheduler(new(mockCloser), nil, "0 2 * * *")
	require.NoError(t, s.Start())
	defer s.Stop()
	assert.Len(t, s.cronEngine.Entries(), 1)
}

func TestStart_InvalidSpec(t *testing.T) {
	s := newTestScheduler(new(mockCloser), nil, "not a cron spec")
	assert.Error(t, s.Start())
}
