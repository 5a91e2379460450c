package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"video-generation-service/internal/domain"
	"video-generation-service/internal/domain/model"
	"video-generation-service/internal/domain/ports/repository"
)

// Compile-time check
var _ JobUseCase = (*jobUC)(nil)

type CreateJobInput struct {
	UserID    string
	ProjectID string
	Provider  string
	Input     model.Payload
}

// JobUseCase is the read and create surface over jobs. Status transitions
// belong to the dispatch loop and the watchdog only.
type JobUseCase interface {
	Create(ctx context.Context, in CreateJobInput) (*model.Job, error)
	Get(ctx context.Context, id string) (*model.Job, error)
}

type jobUC struct {
	jobs     repository.JobRepository
	projects repository.ProjectRepository
	log      *zerolog.Logger
}

func NewJobUseCase(jobs repository.JobRepository, projects repository.ProjectRepository, logger *zerolog.Logger) *jobUC {
	return &jobUC{jobs: jobs, projects: projects, log: logger}
}

func (u *jobUC) Create(ctx context.Context, in CreateJobInput) (*model.Job, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return nil, fmt.Errorf("%w: user_id is required", domain.ErrInvalidArgument)
	}
	if in.Input.IsZero() {
		return nil, fmt.Errorf("%w: input is required", domain.ErrInvalidArgument)
	}
	if strings.TrimSpace(in.ProjectID) == "" {
		return nil, fmt.Errorf("%w: project_id is required", domain.ErrInvalidArgument)
	}
	if _, err := u.projects.FindByID(ctx, repository.NoTX, in.ProjectID); err != nil {
		return nil, err
	}
	job := model.NewJob(in.UserID, in.ProjectID, in.Provider, in.Input)
	if err := u.jobs.Create(ctx, repository.NoTX, job); err != nil {
		return nil, err
	}
	u.log.Info().Str("job_id", job.ID).Str("provider", job.Provider).Msg("job created")
	return job, nil
}

func (u *jobUC) Get(ctx context.Context, id string) (*model.Job, error) {
	return u.jobs.FindByID(ctx, repository.NoTX, id)
}
