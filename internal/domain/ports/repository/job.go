package repository

import (
	"context"
	"time"

	"video-generation-service/internal/domain/model"
)

// JobRepository is the job half of the Job Store. Every status transition is a
// single-row conditional update; it is the only mutual exclusion between
// pollers, instances and the watchdog.
type JobRepository interface {
	Create(ctx context.Context, tx Tx, job *model.Job) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Job, error)
	ListByProject(ctx context.Context, tx Tx, projectID string) ([]*model.Job, error)

	// ListPending returns up to limit pending jobs, oldest first.
	ListPending(ctx context.Context, limit int) ([]*model.Job, error)

	// Claim atomically moves a job from pending to processing. It returns false
	// without error when the job is no longer pending.
	Claim(ctx context.Context, id string) (bool, error)

	// Release moves a claimed job back to pending before any provider call.
	Release(ctx context.Context, id string) (bool, error)

	// UpdateProgress raises progress while the job is processing. Values at or
	// below the stored progress are dropped and reported as false.
	UpdateProgress(ctx context.Context, id string, progress int) (bool, error)

	// Complete and Fail are terminal writes. Both return domain.ErrJobNotProcessing
	// when the job already left the processing state.
	Complete(ctx context.Context, id, outputURL string) error
	Fail(ctx context.Context, id, errorMessage string) error

	// FailStale fails every processing job claimed before cutoff.
	FailStale(ctx context.Context, claimedBefore time.Time, errorMessage string) ([]string, error)
}
