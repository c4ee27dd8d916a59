package jobs

import (
	"context"
	"time"

	"github.com/dvloznov/ledger-sync/internal/logger"
)

// TriggerSchedule marks jobs published by a Scheduler.
const TriggerSchedule = "schedule"

// Scheduler publishes a full-sync job on every tick.
type Scheduler struct {
	Publisher Publisher
	Interval  time.Duration
	// RunImmediately publishes one job before the first tick.
	RunImmediately bool
}

// Run publishes until ctx is done. A non-positive interval disables the
// scheduler and Run returns at once.
func (s *Scheduler) Run(ctx context.Context) {
	log := logger.FromContext(ctx)
	if s.Interval <= 0 {
		log.Info().Msg("Scheduled sync disabled")
		return
	}

	if s.RunImmediately {
		s.publish(ctx)
	}

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	log.Info().Dur("interval", s.Interval).Msg("Scheduled sync started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.publish(ctx)
		}
	}
}

func (s *Scheduler) publish(ctx context.Context) {
	log := logger.FromContext(ctx)
	job := &SyncJob{Type: JobTypeFullSync, Trigger: TriggerSchedule}
	if err := s.Publisher.PublishSync(ctx, job); err != nil {
		if ctx.Err() == nil {
			log.Error().Err(err).Msg("Failed to publish scheduled sync")
		}
		return
	}
	log.Debug().Str("job_id", job.JobID).Msg("Published scheduled sync")
}
