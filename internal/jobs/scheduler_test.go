package jobs

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	loc := time.FixedZone("BRT", -3*3600)
	s := NewScheduler(loc, zerolog.New(io.Discard))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func TestScheduler_AddValidation(t *testing.T) {
	s := newTestScheduler(t)
	noop := func(context.Context) error { return nil }

	require.NoError(t, s.Add("retention", "0 3 * * *", 0, noop))
	assert.Error(t, s.Add("retention", "0 4 * * *", 0, noop), "duplicate name")
	assert.Error(t, s.Add("broken", "not a cron spec", 0, noop))

	s.Start()
	next, ok := s.Next("retention")
	require.True(t, ok)
	assert.Equal(t, 3, next.Hour())
	assert.Equal(t, 0, next.Minute())

	_, ok = s.Next("broken")
	assert.False(t, ok)
}

func TestScheduler_TriggerRunsWithTimeout(t *testing.T) {
	s := newTestScheduler(t)

	var sawDeadline bool
	require.NoError(t, s.Add("job", "@daily", time.Minute, func(ctx context.Context) error {
		_, sawDeadline = ctx.Deadline()
		return nil
	}))

	require.NoError(t, s.Trigger(context.Background(), "job"))
	assert.True(t, sawDeadline)

	assert.Error(t, s.Trigger(context.Background(), "missing"))
}

func TestScheduler_TriggerReportsErrorsAndPanics(t *testing.T) {
	s := newTestScheduler(t)
	boom := errors.New("boom")

	require.NoError(t, s.Add("fails", "@daily", 0, func(context.Context) error { return boom }))
	require.NoError(t, s.Add("panics", "@daily", 0, func(context.Context) error { panic("bad state") }))

	assert.ErrorIs(t, s.Trigger(context.Background(), "fails"), boom)

	err := s.Trigger(context.Background(), "panics")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad state")
}

func TestScheduler_CronFires(t *testing.T) {
	s := newTestScheduler(t)
	ran := make(chan struct{}, 1)

	require.NoError(t, s.Add("tick", "@every 1s", 0, func(context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	}))
	s.Start()

	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not fire")
	}
}

type mockCleaner struct {
	mock.Mock
}

func (m *mockCleaner) CleanupOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	args := m.Called(ctx, retention)
	return args.Get(0).(int64), args.Error(1)
}

type mockBackup struct {
	mock.Mock
}

func (m *mockBackup) Run(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func TestAuditRetention(t *testing.T) {
	ctx := context.Background()

	t.Run("Disabled", func(t *testing.T) {
		c := new(mockCleaner)
		require.NoError(t, AuditRetention(c, 0)(ctx))
		c.AssertNotCalled(t, "CleanupOlderThan", mock.Anything, mock.Anything)
	})

	t.Run("Enabled", func(t *testing.T) {
		c := new(mockCleaner)
		c.On("CleanupOlderThan", ctx, 90*24*time.Hour).Return(int64(7), nil).Once()

		require.NoError(t, AuditRetention(c, 90*24*time.Hour)(ctx))
		c.AssertExpectations(t)
	})

	t.Run("Error", func(t *testing.T) {
		c := new(mockCleaner)
		c.On("CleanupOlderThan", ctx, time.Hour).Return(int64(0), errors.New("disk full")).Once()

		assert.Error(t, AuditRetention(c, time.Hour)(ctx))
	})
}

func TestBackup(t *testing.T) {
	ctx := context.Background()
	b := new(mockBackup)
	b.On("Run", ctx).Return(nil).Once()

	require.NoError(t, Backup(b)(ctx))
	b.AssertExpectations(t)
}
