package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"video-generation-service/internal/domain"
	"video-generation-service/internal/domain/model"
	"video-generation-service/internal/domain/ports/adapter"
	"video-generation-service/internal/domain/ports/repository"
	"video-generation-service/internal/infra/logging"
	"video-generation-service/internal/infra/metrics"
)

// Compile-time check
var _ DispatchUseCase = (*dispatchUC)(nil)

// DispatchStats summarizes one poll of the pending queue.
type DispatchStats struct {
	Listed    int
	Claimed   int
	Conflicts int
	Skipped   int // provider unavailable, left pending
	Released  int // claimed but not admitted by the runner
}

type DispatchUseCase interface {
	// Tick claims up to min(batch, free workers) pending jobs and hands each to
	// the runner. Only the poller that wins the claim runs a job.
	Tick(ctx context.Context) (DispatchStats, error)
}

type DispatchConfig struct {
	BatchSize       int
	ProviderTimeout time.Duration
}

type dispatchUC struct {
	jobs    repository.JobRepository
	gateway adapter.ProviderGateway
	runner  TaskRunner
	cfg     DispatchConfig
	log     *zerolog.Logger
}

func NewDispatchUseCase(jobs repository.JobRepository, gateway adapter.ProviderGateway, runner TaskRunner, cfg DispatchConfig, logger *zerolog.Logger) *dispatchUC {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = 10 * time.Minute
	}
	return &dispatchUC{jobs: jobs, gateway: gateway, runner: runner, cfg: cfg, log: logger}
}

func (d *dispatchUC) Tick(ctx context.Context) (DispatchStats, error) {
	defer logging.TraceDuration(d.log, "DispatchUC.Tick")()

	var stats DispatchStats
	limit := min(d.cfg.BatchSize, d.runner.Free())
	if limit <= 0 {
		return stats, nil
	}

	pending, err := d.jobs.ListPending(ctx, limit)
	if err != nil {
		return stats, err
	}
	stats.Listed = len(pending)

	for _, job := range pending {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		provider := d.gateway.Resolve(job.Provider)
		if !d.gateway.Available(provider) {
			stats.Skipped++
			continue
		}

		ok, err := d.jobs.Claim(ctx, job.ID)
		if err != nil {
			d.log.Warn().Err(err).Str("job_id", job.ID).Msg("claim failed; job stays pending")
			continue
		}
		if !ok {
			stats.Conflicts++
			metrics.IncClaimConflict()
			continue
		}
		stats.Claimed++
		metrics.IncJobClaimed(provider)

		j := job
		err = d.runner.Submit(func(poolCtx context.Context) error {
			return d.run(poolCtx, j, provider)
		})
		if err == nil {
			continue
		}

		// Not admitted: hand the job back before any provider call happened.
		stats.Claimed--
		if _, rerr := d.jobs.Release(ctx, job.ID); rerr != nil {
			d.log.Error().Err(rerr).Str("job_id", job.ID).Msg("release after rejected submit failed")
			continue
		}
		stats.Released++
		metrics.IncJobReleased()
		if errors.Is(err, domain.ErrQueueFull) {
			// every worker is busy; the rest of the batch waits for the next tick
			break
		}
	}
	return stats, nil
}

// run performs the provider call of a claimed job and writes exactly one
// terminal state. poolCtx is cancelled when the service shuts down.
func (d *dispatchUC) run(poolCtx context.Context, job *model.Job, provider string) error {
	ctx := logging.WithJobID(poolCtx, job.ID)
	if job.ProjectID != "" {
		ctx = logging.WithProjectID(ctx, job.ProjectID)
	}
	log := logging.With(ctx, d.log)

	callCtx, cancel := context.WithTimeout(ctx, d.cfg.ProviderTimeout)
	defer cancel()

	var res *adapter.GenerateResult
	err := poolCtx.Err()
	if err == nil {
		res, err = d.gateway.Generate(callCtx, adapter.GenerateRequest{
			RequestID:  uuid.NewString(),
			JobID:      job.ID,
			Provider:   provider,
			SceneIndex: -1,
			Prompt:     job.Input.Prompt(),
			Input:      job.Input,
			Progress: func(p int) {
				d.progress(callCtx, log, job.ID, p)
			},
		})
	}

	writeCtx, cancelWrite := detached(ctx)
	defer cancelWrite()

	if err != nil {
		msg := d.failureMessage(poolCtx, err)
		ferr := d.writeTerminal(writeCtx, log, "fail", func(ctx context.Context) error {
			return d.jobs.Fail(ctx, job.ID, msg)
		})
		if ferr != nil {
			return d.terminalWriteError(log, ferr, "fail")
		}
		metrics.IncJobFinished(provider, string(model.JobStatusFailed))
		log.Warn().Err(err).Str("provider", provider).Msg("job failed")
		return nil
	}

	cerr := d.writeTerminal(writeCtx, log, "complete", func(ctx context.Context) error {
		return d.jobs.Complete(ctx, job.ID, res.URL)
	})
	if cerr != nil {
		return d.terminalWriteError(log, cerr, "complete")
	}
	metrics.IncJobFinished(provider, string(model.JobStatusCompleted))
	log.Info().Str("provider", provider).Str("output_url", res.URL).Msg("job completed")
	return nil
}

func (d *dispatchUC) progress(ctx context.Context, log *zerolog.Logger, jobID string, p int) {
	applied, err := d.jobs.UpdateProgress(ctx, jobID, model.ClampProgress(p))
	if err != nil {
		log.Debug().Err(err).Int("progress", p).Msg("progress update dropped")
		return
	}
	metrics.IncProgressUpdate(applied)
}

func (d *dispatchUC) failureMessage(poolCtx context.Context, err error) string {
	switch {
	case poolCtx.Err() != nil:
		return "interrupted: service shutting down"
	case errors.Is(err, domain.ErrProviderTimeout), errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("provider timeout after %s", d.cfg.ProviderTimeout)
	default:
		return err.Error()
	}
}

// writeTerminal retries a terminal write through short store outages until ctx
// expires. A job that already left processing is not retried.
func (d *dispatchUC) writeTerminal(ctx context.Context, log *zerolog.Logger, op string, write func(context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = terminalRetryInterval
	b.MaxInterval = 2 * time.Second
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := write(ctx)
		if errors.Is(err, domain.ErrJobNotProcessing) || errors.Is(err, domain.ErrNotFound) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn().Err(err).Str("op", op).Dur("retry_in", next).Msg("terminal write failed; retrying")
		}),
	)
	return err
}

// terminalWriteError tolerates losing the terminal write to the watchdog.
func (d *dispatchUC) terminalWriteError(log *zerolog.Logger, err error, op string) error {
	if errors.Is(err, domain.ErrJobNotProcessing) {
		log.Warn().Str("op", op).Msg("job left processing before the terminal write; result discarded")
		return nil
	}
	return fmt.Errorf("%s job: %w", op, err)
}
