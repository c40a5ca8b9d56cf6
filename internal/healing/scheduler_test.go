package healing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler() *Scheduler {
	return NewScheduler(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSchedulerSkipsOverlappingRuns(t *testing.T) {
	s := newTestScheduler()
	started := make(chan struct{})
	release := make(chan struct{})
	var runs atomic.Int32
	require.NoError(t, s.AddIntervalTask("slow", time.Hour, func(ctx context.Context) error {
		runs.Add(1)
		started <- struct{}{}
		<-release
		return nil
	}))

	job := s.cron.Entry(s.tasks["slow"]).WrappedJob
	done := make(chan struct{})
	go func() {
		job.Run()
		close(done)
	}()
	<-started

	// Returns immediately because the first run holds the slot.
	job.Run()
	close(release)
	<-done
	assert.Equal(t, int32(1), runs.Load())
}

func TestSchedulerReplacesAndRemovesTasks(t *testing.T) {
	s := newTestScheduler()
	noop := func(context.Context) error { return nil }
	require.NoError(t, s.AddIntervalTask("job", time.Minute, noop))
	require.NoError(t, s.AddIntervalTask("job", 2*time.Minute, noop))
	assert.Len(t, s.Tasks(), 1)

	_, ok := s.Next("job")
	assert.False(t, ok, "no next run before start")

	s.Start()
	defer s.Stop(context.Background())
	next, ok := s.Next("job")
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(2*time.Minute), next, 5*time.Second)

	assert.True(t, s.RemoveTask("job"))
	assert.False(t, s.RemoveTask("job"))
	assert.False(t, s.HasTask("job"))
}

func TestSchedulerRejectsBadSchedules(t *testing.T) {
	s := newTestScheduler()
	noop := func(context.Context) error { return nil }
	assert.Error(t, s.AddCronTask("x", "", noop))
	assert.Error(t, s.AddCronTask("x", "not a cron", noop))
	assert.Error(t, s.AddIntervalTask("x", 0, noop))
	require.NoError(t, s.AddCronTask("nightly", "0 3 * * *", noop))
	assert.True(t, s.HasTask("nightly"))
}

func TestRunTaskAppliesTimeout(t *testing.T) {
	s := newTestScheduler()
	s.timeout = 10 * time.Millisecond
	var got error
	s.runTask("t", func(ctx context.Context) error {
		<-ctx.Done()
		got = ctx.Err()
		return got
	})
	assert.True(t, errors.Is(got, context.DeadlineExceeded))
}
