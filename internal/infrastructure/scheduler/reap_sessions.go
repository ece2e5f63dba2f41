package scheduler

import (
	"context"
	"time"

	"github.com/neuroswitch/progression-engine/pkg/logger"
)

// ReapSessionsJobName is the registered name of the idle session reaper.
const ReapSessionsJobName = "reap_idle_sessions"

// SessionReaper discards sessions that saw no activity for olderThan and
// reports how many it removed.
type SessionReaper interface {
	ReapIdle(ctx context.Context, olderThan time.Duration) int
}

// ReapSessionsJob drops abandoned lesson sessions from memory. Nothing is
// persisted for them, so the learner simply starts the lesson again.
type ReapSessionsJob struct {
	reaper SessionReaper
	idle   time.Duration
	log    *logger.Logger
}

// NewReapSessionsJob creates the reaper job.
func NewReapSessionsJob(reaper SessionReaper, idle time.Duration, log *logger.Logger) *ReapSessionsJob {
	if log == nil {
		log = logger.Nop()
	}
	return &ReapSessionsJob{
		reaper: reaper,
		idle:   idle,
		log:    log.With(logger.String("job", ReapSessionsJobName)),
	}
}

// Name implements Job.
func (j *ReapSessionsJob) Name() string { return ReapSessionsJobName }

// Run implements Job.
func (j *ReapSessionsJob) Run(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if n := j.reaper.ReapIdle(ctx, j.idle); n > 0 {
		j.log.Info("reaped idle sessions", logger.Int("count", n))
	}
	return nil
}
