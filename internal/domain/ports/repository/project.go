package repository

import (
	"context"
	"time"

	"video-generation-service/internal/domain/model"
)

type ProjectRepository interface {
	Save(ctx context.Context, tx Tx, project *model.Project) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Project, error)

	// ListForReconcile returns projects with a job changed after the project was
	// last written, or whose processing status disagrees with the in-flight jobs.
	ListForReconcile(ctx context.Context, limit int) ([]*model.Project, error)
	SetStatus(ctx context.Context, id string, status model.ProjectStatus) error
	// UpdateData rewrites project_data without touching status or timestamps.
	UpdateData(ctx context.Context, id string, data model.Payload) error

	// RequestRender stamps the project so the orchestration loop enqueues jobs.
	RequestRender(ctx context.Context, id string, at time.Time) error
	ListRenderRequested(ctx context.Context, limit int) ([]*model.Project, error)
	// ClaimRenderRequest clears the stamp only if it still equals requestedAt.
	ClaimRenderRequest(ctx context.Context, tx Tx, id string, requestedAt time.Time) (bool, error)
}
