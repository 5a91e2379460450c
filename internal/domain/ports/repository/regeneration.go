package repository

import (
	"context"

	"video-generation-service/internal/domain/model"
)

// RegenerationRepository stores the append-only scene regeneration history.
type RegenerationRepository interface {
	// Append inserts the record and fills its ID.
	Append(ctx context.Context, record *model.RegenerationRecord) error
	// ListByJob returns the history of a job ordered by creation time.
	ListByJob(ctx context.Context, jobID string) ([]*model.RegenerationRecord, error)
}
