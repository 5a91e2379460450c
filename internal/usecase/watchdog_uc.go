package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"video-generation-service/internal/domain/ports/repository"
	"video-generation-service/internal/infra/logging"
)

// Compile-time check
var _ WatchdogUseCase = (*watchdogUC)(nil)

type WatchdogUseCase interface {
	// Sweep fails every job held in processing longer than the claim TTL and
	// returns their ids. A crashed worker's job never stays processing forever.
	Sweep(ctx context.Context) ([]string, error)
}

type watchdogUC struct {
	jobs     repository.JobRepository
	claimTTL time.Duration
	now      func() time.Time
	log      *zerolog.Logger
}

func NewWatchdogUseCase(jobs repository.JobRepository, claimTTL time.Duration, logger *zerolog.Logger) *watchdogUC {
	return &watchdogUC{jobs: jobs, claimTTL: claimTTL, now: time.Now, log: logger}
}

func (w *watchdogUC) Sweep(ctx context.Context) ([]string, error) {
	defer logging.TraceDuration(w.log, "WatchdogUC.Sweep")()

	cutoff := w.now().UTC().Add(-w.claimTTL)
	ids, err := w.jobs.FailStale(ctx, cutoff, fmt.Sprintf("claim expired: no terminal write within %s", w.claimTTL))
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		w.log.Warn().Str("job_id", id).Time("claimed_before", cutoff).Msg("stale job failed")
	}
	return ids, nil
}
