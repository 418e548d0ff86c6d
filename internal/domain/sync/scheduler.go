package sync

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/TechCorp07/klara-test-sub001/internal/domain/measurement"
)

// Scheduler periodically drives the orchestrator over due connections and
// sweeps measurements and sync logs past their retention windows.
type Scheduler struct {
	svc          *Service
	measurements *measurement.Service
	log          zerolog.Logger

	interval          time.Duration
	measurementMaxAge time.Duration
	syncLogMaxAge     time.Duration
}

func NewScheduler(svc *Service, measurements *measurement.Service, logger zerolog.Logger,
	intervalMinutes, measurementRetentionDays, syncLogRetentionDays int) *Scheduler {
	if intervalMinutes <= 0 {
		intervalMinutes = 15
	}
	return &Scheduler{
		svc:               svc,
		measurements:      measurements,
		log:               logger.With().Str("component", "scheduler").Logger(),
		interval:          time.Duration(intervalMinutes) * time.Minute,
		measurementMaxAge: time.Duration(measurementRetentionDays) * 24 * time.Hour,
		syncLogMaxAge:     time.Duration(syncLogRetentionDays) * 24 * time.Hour,
	}
}

// Start blocks until ctx is cancelled. Run it in its own goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	sweep := time.NewTicker(24 * time.Hour)
	defer sweep.Stop()

	s.log.Info().Dur("interval", s.interval).Msg("sync scheduler started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("sync scheduler stopped")
			return
		case <-ticker.C:
			s.svc.SyncDue(ctx)
		case <-sweep.C:
			s.retentionSweep(ctx)
		}
	}
}

func (s *Scheduler) retentionSweep(ctx context.Context) {
	now := time.Now()
	if s.measurementMaxAge > 0 {
		if _, err := s.measurements.PurgeOlderThan(ctx, now.Add(-s.measurementMaxAge)); err != nil {
			s.log.Error().Err(err).Msg("measurement retention sweep failed")
		}
	}
	if s.syncLogMaxAge > 0 {
		n, err := s.svc.logs.DeleteOlderThan(ctx, now.Add(-s.syncLogMaxAge))
		if err != nil {
			s.log.Error().Err(err).Msg("sync log retention sweep failed")
		} else if n > 0 {
			s.log.Info().Int64("deleted", n).Msg("sync log retention sweep")
		}
	}
}
