package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

type CallLogPruner interface {
	DeleteExpired(ctx context.Context, retention time.Duration) (int64, error)
}

type StaffSessionPruner interface {
	DeleteExpiredSessions(ctx context.Context) (int64, error)
}

// CleanupJob periodically drops completed call logs past retention and
// expired staff console sessions. A zero retention keeps call logs forever.
type CleanupJob struct {
	calls     CallLogPruner
	staff     StaffSessionPruner
	retention time.Duration
	interval  time.Duration
	done      chan struct{}
}

func NewCleanupJob(
	calls CallLogPruner,
	staff StaffSessionPruner,
	retention time.Duration,
	interval time.Duration,
) *CleanupJob {
	return &CleanupJob{
		calls:     calls,
		staff:     staff,
		retention: retention,
		interval:  interval,
		done:      make(chan struct{}),
	}
}

func (j *CleanupJob) Start() {
	go j.run()
	log.Info().
		Dur("interval", j.interval).
		Dur("retention", j.retention).
		Msg("cleanup job started")
}

func (j *CleanupJob) Stop() {
	close(j.done)
	log.Info().Msg("cleanup job stopped")
}

func (j *CleanupJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.cleanup()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.cleanup()
		}
	}
}

func (j *CleanupJob) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if j.calls != nil && j.retention > 0 {
		j.runCleanup(ctx, "call logs", func(ctx context.Context) (int64, error) {
			return j.calls.DeleteExpired(ctx, j.retention)
		})
	}
	if j.staff != nil {
		j.runCleanup(ctx, "staff sessions", j.staff.DeleteExpiredSessions)
	}
}

func (j *CleanupJob) runCleanup(ctx context.Context, name string, fn func(context.Context) (int64, error)) {
	count, err := fn(ctx)
	if err != nil {
		log.Error().Err(err).Msgf("failed to cleanup %s", name)
	} else if count > 0 {
		log.Info().Int64("count", count).Msgf("cleaned up %s", name)
	}
}
