package sched

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"video-generation-service/internal/domain"
	"video-generation-service/internal/domain/ports/repository"
	"video-generation-service/internal/infra/metrics"
	"video-generation-service/internal/usecase"
)

const reconcileLeaseKey = "project-reconcile"

// ProjectReconciler drives the project orchestration loop. When a Locker is
// configured only one instance runs a tick at a time; without it every
// instance ticks and the store's conditional writes keep them consistent.
type ProjectReconciler struct {
	interval time.Duration
	lease    time.Duration
	uc       usecase.ProjectUseCase
	locker   repository.Locker
	log      *zerolog.Logger
}

func NewProjectReconciler(interval, lease time.Duration, uc usecase.ProjectUseCase, locker repository.Locker, logger *zerolog.Logger) *ProjectReconciler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if lease <= 0 {
		lease = interval
	}
	compLog := logger.With().Str("component", "ProjectReconciler").Logger()
	return &ProjectReconciler{interval: interval, lease: lease, uc: uc, locker: locker, log: &compLog}
}

func (w *ProjectReconciler) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Bool("lease", w.locker != nil).Msg("Starting project reconciler")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.tick(ctx)
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping project reconciler")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *ProjectReconciler) tick(ctx context.Context) {
	if w.locker != nil {
		token, err := w.locker.TryLock(ctx, reconcileLeaseKey, w.lease)
		switch {
		case errors.Is(err, domain.ErrLeaseHeld):
			metrics.IncReconcileTick("skipped")
			return
		case err != nil:
			// the lease is an optimization; carry on without it
			w.log.Warn().Err(err).Msg("reconcile lease unavailable")
		default:
			defer func() {
				if err := w.locker.Unlock(context.WithoutCancel(ctx), reconcileLeaseKey, token); err != nil {
					w.log.Debug().Err(err).Msg("release reconcile lease")
				}
			}()
		}
	}

	stats, err := w.uc.Tick(ctx)
	if err != nil {
		metrics.IncReconcileTick("error")
		if ctx.Err() == nil {
			w.log.Error().Err(err).Msg("reconcile tick failed")
		}
		return
	}
	metrics.IncReconcileTick("ok")
	if stats.JobsEnqueued > 0 || stats.StatusChanges > 0 {
		w.log.Info().
			Int("renders", stats.RendersClaimed).
			Int("jobs_enqueued", stats.JobsEnqueued).
			Int("reconciled", stats.Reconciled).
			Int("status_changes", stats.StatusChanges).
			Msg("reconcile tick")
	}
}
