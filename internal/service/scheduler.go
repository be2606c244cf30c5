package service

import (
	"context"
	"time"

	"metered-messaging/internal/core/ports"

	"github.com/rs/zerolog"
)

// Scheduler periodically sweeps runnable campaigns and hands each one
// batch to the executor. One sweep runs at a time; a slow batch simply
// delays the next tick.
type Scheduler struct {
	campaigns ports.CampaignRepository
	executor  *CampaignExecutor
	tick      time.Duration
	log       zerolog.Logger
}

// NewScheduler creates the campaign sweep scheduler.
func NewScheduler(campaigns ports.CampaignRepository, executor *CampaignExecutor, tick time.Duration, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		campaigns: campaigns,
		executor:  executor,
		tick:      tick,
		log:       log.With().Str("component", "scheduler").Logger(),
	}
}

// Run sweeps until ctx is cancelled. Per-campaign failures are logged
// and do not stop the sweep or the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	s.log.Info().Dur("tick", s.tick).Msg("scheduler started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("scheduler stopping")
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Scheduler) sweep(ctx context.Context) {
	campaigns, err := s.campaigns.ListRunnable(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("listing runnable campaigns failed")
		return
	}
	for _, c := range campaigns {
		if ctx.Err() != nil {
			return
		}
		if err := s.executor.ExecuteBatch(ctx, c.ID); err != nil {
			s.log.Error().Err(err).Int64("campaign_id", c.ID).Msg("batch execution failed")
		}
	}
}
