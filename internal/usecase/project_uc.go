package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"video-generation-service/internal/domain"
	"video-generation-service/internal/domain/model"
	"video-generation-service/internal/domain/ports/repository"
	"video-generation-service/internal/infra/logging"
	"video-generation-service/internal/infra/metrics"
)

// Compile-time check
var _ ProjectUseCase = (*projectUC)(nil)

// ProjectTickStats summarizes one orchestration pass.
type ProjectTickStats struct {
	RendersClaimed int
	JobsEnqueued   int
	Reconciled     int
	StatusChanges  int
}

// ProjectView is a project together with its jobs.
type ProjectView struct {
	Project *model.Project
	Jobs    []*model.Job
}

type CreateProjectInput struct {
	UserID        string
	Title         string
	Description   string
	Data          model.Payload
	OutputFormats []string
}

type ProjectUseCase interface {
	Create(ctx context.Context, in CreateProjectInput) (*model.Project, error)
	Get(ctx context.Context, id string) (*ProjectView, error)
	// RequestRender marks the project for rendering. provider may be empty.
	RequestRender(ctx context.Context, id, provider string) error
	// Tick enqueues jobs for render requests, then re-derives project statuses.
	Tick(ctx context.Context) (ProjectTickStats, error)
	// Reconcile re-derives one project's status from its jobs.
	Reconcile(ctx context.Context, project *model.Project) (model.ProjectStatus, bool, error)
}

type projectUC struct {
	projects  repository.ProjectRepository
	jobs      repository.JobRepository
	tm        repository.TransactionManager
	batchSize int
	log       *zerolog.Logger
}

func NewProjectUseCase(projects repository.ProjectRepository, jobs repository.JobRepository, tm repository.TransactionManager, batchSize int, logger *zerolog.Logger) *projectUC {
	if batchSize <= 0 {
		batchSize = 10
	}
	return &projectUC{projects: projects, jobs: jobs, tm: tm, batchSize: batchSize, log: logger}
}

func (p *projectUC) Create(ctx context.Context, in CreateProjectInput) (*model.Project, error) {
	defer logging.TraceDuration(p.log, "ProjectUC.Create")()

	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", domain.ErrInvalidArgument)
	}
	if strings.TrimSpace(in.UserID) == "" {
		return nil, fmt.Errorf("%w: user_id is required", domain.ErrInvalidArgument)
	}
	if !in.Data.IsZero() {
		if _, err := in.Data.Scenes(); err != nil {
			return nil, err
		}
	}
	project := model.NewProject(in.UserID, title, in.Data, in.OutputFormats)
	project.Description = in.Description
	if err := p.projects.Save(ctx, repository.NoTX, project); err != nil {
		return nil, err
	}
	return project, nil
}

func (p *projectUC) Get(ctx context.Context, id string) (*ProjectView, error) {
	project, err := p.projects.FindByID(ctx, repository.NoTX, id)
	if err != nil {
		return nil, err
	}
	jobs, err := p.jobs.ListByProject(ctx, repository.NoTX, id)
	if err != nil {
		return nil, err
	}
	return &ProjectView{Project: project, Jobs: jobs}, nil
}

func (p *projectUC) RequestRender(ctx context.Context, id, provider string) error {
	defer logging.TraceDuration(p.log, "ProjectUC.RequestRender")()

	project, err := p.projects.FindByID(ctx, repository.NoTX, id)
	if err != nil {
		return err
	}
	if provider = strings.TrimSpace(provider); provider != "" && provider != project.Data.Field("provider") {
		data, err := project.Data.With("provider", provider)
		if err != nil {
			return err
		}
		if err := p.projects.UpdateData(ctx, id, data); err != nil {
			return err
		}
	}
	return p.projects.RequestRender(ctx, id, time.Now().UTC())
}

func (p *projectUC) Tick(ctx context.Context) (ProjectTickStats, error) {
	defer logging.TraceDuration(p.log, "ProjectUC.Tick")()

	var stats ProjectTickStats
	var errs []error

	requested, err := p.projects.ListRenderRequested(ctx, p.batchSize)
	if err != nil {
		errs = append(errs, fmt.Errorf("list render requests: %w", err))
	}
	for _, project := range requested {
		n, err := p.enqueue(ctx, project)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if n > 0 {
			stats.RendersClaimed++
			stats.JobsEnqueued += n
		}
	}
	if stats.JobsEnqueued > 0 {
		metrics.AddRenderJobsEnqueued(stats.JobsEnqueued)
	}

	candidates, err := p.projects.ListForReconcile(ctx, p.batchSize)
	if err != nil {
		errs = append(errs, fmt.Errorf("list projects for reconcile: %w", err))
	}
	for _, project := range candidates {
		if ctx.Err() != nil {
			break
		}
		_, changed, err := p.Reconcile(ctx, project)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		stats.Reconciled++
		if changed {
			stats.StatusChanges++
		}
	}
	return stats, errors.Join(errs...)
}

// enqueue consumes one render request and creates one job per output format
// in the same transaction. It returns 0 when another instance won the request.
func (p *projectUC) enqueue(ctx context.Context, project *model.Project) (int, error) {
	if project.RenderRequestedAt == nil {
		return 0, nil
	}
	requestedAt := *project.RenderRequestedAt
	provider := project.Data.Field("provider")

	created := 0
	err := p.tm.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		created = 0
		ok, err := p.projects.ClaimRenderRequest(ctx, tx, project.ID, requestedAt)
		if err != nil || !ok {
			return err
		}
		for _, format := range project.Formats() {
			input, err := project.Data.With("output_format", format)
			if err != nil {
				return err
			}
			job := model.NewJob(project.UserID, project.ID, provider, input)
			if err := p.jobs.Create(ctx, tx, job); err != nil {
				return err
			}
			created++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("enqueue render for project %s: %w", project.ID, err)
	}
	if created > 0 {
		p.log.Info().Str("project_id", project.ID).Int("jobs", created).Msg("render jobs enqueued")
	}
	return created, nil
}

func (p *projectUC) Reconcile(ctx context.Context, project *model.Project) (model.ProjectStatus, bool, error) {
	jobs, err := p.jobs.ListByProject(ctx, repository.NoTX, project.ID)
	if err != nil {
		return project.Status, false, fmt.Errorf("list jobs of project %s: %w", project.ID, err)
	}
	derived := model.DeriveProjectStatus(model.JobStatuses(jobs))
	changed := derived != project.Status
	// Rewriting an unchanged status marks the job changes as seen, which drops
	// the project from the reconcile list until a job moves again.
	if !changed && !jobChangedSince(jobs, project.UpdatedAt) {
		return derived, false, nil
	}
	if err := p.projects.SetStatus(ctx, project.ID, derived); err != nil {
		return project.Status, false, fmt.Errorf("set status of project %s: %w", project.ID, err)
	}
	if !changed {
		return derived, false, nil
	}
	metrics.IncProjectStatusChange(string(derived))
	p.log.Info().
		Str("project_id", project.ID).
		Str("from", string(project.Status)).
		Str("to", string(derived)).
		Msg("project status changed")
	return derived, true, nil
}

func jobChangedSince(jobs []*model.Job, t time.Time) bool {
	for _, j := range jobs {
		if j.UpdatedAt.After(t) {
			return true
		}
	}
	return false
}
