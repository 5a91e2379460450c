package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"video-generation-service/internal/usecase"
)

// JobDispatcher polls the pending queue on a fixed interval.
type JobDispatcher struct {
	interval time.Duration
	uc       usecase.DispatchUseCase
	log      *zerolog.Logger
}

func NewJobDispatcher(interval time.Duration, uc usecase.DispatchUseCase, logger *zerolog.Logger) *JobDispatcher {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	compLog := logger.With().Str("component", "JobDispatcher").Logger()
	return &JobDispatcher{interval: interval, uc: uc, log: &compLog}
}

func (w *JobDispatcher) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("Starting job dispatcher")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.tick(ctx)
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping job dispatcher")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *JobDispatcher) tick(ctx context.Context) {
	stats, err := w.uc.Tick(ctx)
	if err != nil && ctx.Err() == nil {
		w.log.Error().Err(err).Msg("dispatch tick failed")
	}
	if stats.Claimed > 0 || stats.Released > 0 || stats.Conflicts > 0 {
		w.log.Debug().
			Int("claimed", stats.Claimed).
			Int("conflicts", stats.Conflicts).
			Int("skipped", stats.Skipped).
			Int("released", stats.Released).
			Msg("dispatch tick")
	}
}
