package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	name   string
	runs   atomic.Int32
	active atomic.Int32
	peak   atomic.Int32
	err    error
	hold   time.Duration
}

func (j *countingJob) Name() string { return j.name }
func (j *countingJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	if n := j.active.Add(1); n > j.peak.Load() {
		j.peak.Store(n)
	}
	defer j.active.Add(-1)

	if j.hold > 0 {
		select {
		case <-time.After(j.hold):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return j.err
}

type fakeReaper struct {
	calls     atomic.Int32
	olderThan atomic.Int64
}

func (r *fakeReaper) ReapIdle(_ context.Context, olderThan time.Duration) int {
	r.calls.Add(1)
	r.olderThan.Store(int64(olderThan))
	return 2
}

func TestScheduler_Register(t *testing.T) {
	s := New(Config{})
	job := &countingJob{name: "a"}

	require.NoError(t, s.Register(job, Every(time.Hour)))
	assert.ErrorIs(t, s.Register(job, Every(time.Hour)), ErrJobAlreadyExists)
	assert.ErrorIs(t, s.Register(nil, Every(time.Hour)), ErrNilJob)
	assert.ErrorIs(t, s.Register(&countingJob{name: "b"}, nil), ErrNilSchedule)

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Register(&countingJob{name: "c"}, Every(time.Hour)), ErrSchedulerAlreadyRunning)
	require.NoError(t, s.Stop())
}

func TestScheduler_RunsJobs(t *testing.T) {
	s := New(Config{})
	ok := &countingJob{name: "ok"}
	failing := &countingJob{name: "failing", err: errors.New("store down")}

	require.NoError(t, s.Register(ok, Every(5*time.Millisecond)))
	require.NoError(t, s.Register(failing, Every(5*time.Millisecond)))

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerAlreadyRunning)

	assert.Eventually(t, func() bool {
		return ok.runs.Load() >= 2 && failing.runs.Load() >= 2
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Stop())
	assert.ErrorIs(t, s.Stop(), ErrSchedulerNotRunning)

	after := ok.runs.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, ok.runs.Load())
}

func TestScheduler_NoOverlap(t *testing.T) {
	s := New(Config{})
	slow := &countingJob{name: "slow", hold: 15 * time.Millisecond}
	require.NoError(t, s.Register(slow, Every(time.Millisecond)))

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return slow.runs.Load() >= 3 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())

	assert.Equal(t, int32(1), slow.peak.Load())
}

func TestScheduler_JobTimeout(t *testing.T) {
	s := New(Config{JobTimeout: 5 * time.Millisecond})
	stuck := &countingJob{name: "stuck", hold: time.Hour}
	require.NoError(t, s.Register(stuck, Every(time.Millisecond)))

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return stuck.runs.Load() >= 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())
}

func TestReapSessionsJob(t *testing.T) {
	reaper := &fakeReaper{}
	job := NewReapSessionsJob(reaper, 2*time.Hour, nil)

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, int32(1), reaper.calls.Load())
	assert.Equal(t, int64(2*time.Hour), reaper.olderThan.Load())
	assert.Equal(t, ReapSessionsJobName, job.Name())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, job.Run(ctx), context.Canceled)
	assert.Equal(t, int32(1), reaper.calls.Load())
}

func TestEvery(t *testing.T) {
	at := time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

	assert.Equal(t, at.Add(5*time.Minute), Every(5*time.Minute).Next(at))
	assert.Equal(t, at.Add(time.Minute), Every(0).Next(at))
	assert.Equal(t, "@every 5m0s", Every(5*time.Minute).String())
}
