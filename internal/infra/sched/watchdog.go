package sched

import (
	"context"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"video-generation-service/internal/infra/metrics"
	"video-generation-service/internal/infra/scheduler"
	"video-generation-service/internal/usecase"
)

// Watchdog fails jobs whose claim outlived the claim TTL. It runs on a cron
// schedule and can be triggered on demand; concurrent triggers share one sweep.
type Watchdog struct {
	spec  string
	uc    usecase.WatchdogUseCase
	cron  *scheduler.Scheduler
	group singleflight.Group
	log   *zerolog.Logger
}

func NewWatchdog(spec string, uc usecase.WatchdogUseCase, cron *scheduler.Scheduler, logger *zerolog.Logger) *Watchdog {
	compLog := logger.With().Str("component", "Watchdog").Logger()
	return &Watchdog{spec: spec, uc: uc, cron: cron, log: &compLog}
}

// Run registers the sweep and blocks until ctx is done.
func (w *Watchdog) Run(ctx context.Context) error {
	if err := w.cron.Add(w.spec, "watchdog", func() { _, _ = w.Sweep(ctx) }); err != nil {
		return err
	}
	w.cron.Start(ctx)
	<-ctx.Done()
	w.cron.Stop()
	return ctx.Err()
}

// Sweep runs one pass and returns the ids of the jobs it failed.
func (w *Watchdog) Sweep(ctx context.Context) ([]string, error) {
	v, err, _ := w.group.Do("sweep", func() (interface{}, error) {
		ids, err := w.uc.Sweep(ctx)
		if err != nil {
			if ctx.Err() == nil {
				w.log.Error().Err(err).Msg("watchdog sweep failed")
			}
			return nil, err
		}
		if len(ids) > 0 {
			metrics.AddJobsExpired(len(ids))
			w.log.Warn().Int("count", len(ids)).Msg("expired stale claims")
		}
		return ids, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}
