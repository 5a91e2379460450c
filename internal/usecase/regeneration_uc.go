package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

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
var _ RegenerationUseCase = (*regenerationUC)(nil)

type RegenerateSceneInput struct {
	JobID      string
	SceneIndex int
	Reason     string
	Provider   string // optional override of the job's provider
}

type RegenerationUseCase interface {
	// RegenerateScene re-runs one scene of a terminal job and appends exactly one
	// history record, whether the provider call succeeds or fails. The job row
	// is never modified. Cancelling ctx does not stop the provider call.
	RegenerateScene(ctx context.Context, in RegenerateSceneInput) (*model.RegenerationRecord, error)
	// SubmitRegeneration validates the request and runs it on the worker pool.
	SubmitRegeneration(ctx context.Context, in RegenerateSceneInput) error
	History(ctx context.Context, jobID string) ([]*model.RegenerationRecord, error)
}

type regenerationUC struct {
	jobs    repository.JobRepository
	history repository.RegenerationRepository
	gateway adapter.ProviderGateway
	refiner adapter.PromptRefiner
	runner  TaskRunner
	timeout time.Duration
	log     *zerolog.Logger
}

func NewRegenerationUseCase(
	jobs repository.JobRepository,
	history repository.RegenerationRepository,
	gateway adapter.ProviderGateway,
	refiner adapter.PromptRefiner,
	runner TaskRunner,
	providerTimeout time.Duration,
	logger *zerolog.Logger,
) *regenerationUC {
	if providerTimeout <= 0 {
		providerTimeout = 10 * time.Minute
	}
	return &regenerationUC{
		jobs:    jobs,
		history: history,
		gateway: gateway,
		refiner: refiner,
		runner:  runner,
		timeout: providerTimeout,
		log:     logger,
	}
}

// regenerationPlan is a validated request.
type regenerationPlan struct {
	job      *model.Job
	in       RegenerateSceneInput
	provider string
	slice    model.Payload
}

func (r *regenerationUC) prepare(ctx context.Context, in RegenerateSceneInput) (*regenerationPlan, error) {
	in.Reason = strings.TrimSpace(in.Reason)
	job, err := r.jobs.FindByID(ctx, repository.NoTX, in.JobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: job %s does not exist", domain.ErrInvalidRegeneration, in.JobID)
		}
		return nil, err
	}
	if !job.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: job %s is %s", domain.ErrInvalidRegeneration, job.ID, job.Status)
	}
	slice, err := job.Input.SceneSlice(in.SceneIndex)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidRegeneration, err)
	}
	if in.Reason != "" {
		if slice, err = slice.With("regeneration_reason", in.Reason); err != nil {
			return nil, err
		}
	}
	provider := in.Provider
	if strings.TrimSpace(provider) == "" {
		provider = job.Provider
	}
	return &regenerationPlan{job: job, in: in, provider: r.gateway.Resolve(provider), slice: slice}, nil
}

func (r *regenerationUC) RegenerateScene(ctx context.Context, in RegenerateSceneInput) (*model.RegenerationRecord, error) {
	defer logging.TraceDuration(r.log, "RegenerationUC.RegenerateScene")()

	plan, err := r.prepare(ctx, in)
	if err != nil {
		return nil, err
	}
	// The attempt is bounded by the provider timeout only; a caller that gives
	// up early must not turn a running generation into a failed record.
	return r.execute(context.WithoutCancel(ctx), plan)
}

func (r *regenerationUC) SubmitRegeneration(ctx context.Context, in RegenerateSceneInput) error {
	plan, err := r.prepare(ctx, in)
	if err != nil {
		return err
	}
	return r.runner.Submit(func(poolCtx context.Context) error {
		_, err := r.execute(poolCtx, plan)
		if errors.Is(err, domain.ErrProviderFailure) {
			// recorded in the history already
			return nil
		}
		return err
	})
}

func (r *regenerationUC) execute(ctx context.Context, plan *regenerationPlan) (*model.RegenerationRecord, error) {
	ctx = logging.WithJobID(ctx, plan.job.ID)
	log := logging.With(ctx, r.log).With().Int("scene_index", plan.in.SceneIndex).Str("provider", plan.provider).Logger()

	refineCtx, cancelRefine := context.WithTimeout(ctx, r.timeout)
	prompt, err := r.refiner.Refine(refineCtx, plan.slice.Prompt(), plan.in.Reason)
	cancelRefine()
	if err != nil {
		return nil, fmt.Errorf("refine prompt: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	res, genErr := r.gateway.Generate(callCtx, adapter.GenerateRequest{
		RequestID:  uuid.NewString(),
		JobID:      plan.job.ID,
		Provider:   plan.provider,
		SceneIndex: plan.in.SceneIndex,
		Prompt:     prompt,
		Input:      plan.slice,
	})

	result := model.RegenerationResult{Status: model.RegenerationSucceeded}
	if genErr != nil {
		result.Status = model.RegenerationFailed
		result.Error = genErr.Error()
		if errors.Is(genErr, domain.ErrProviderTimeout) {
			result.Error = fmt.Sprintf("provider timeout after %s", r.timeout)
		}
	} else {
		result.OutputURL = res.URL
		result.Metadata = res.Metadata
		if res.DurationSeconds > 0 {
			if result.Metadata == nil {
				result.Metadata = map[string]any{}
			}
			result.Metadata["duration_seconds"] = res.DurationSeconds
		}
	}

	record, err := model.NewRegenerationRecord(plan.job.ID, plan.in.SceneIndex, plan.provider, plan.in.Reason, result)
	if err != nil {
		return nil, err
	}
	writeCtx, cancelWrite := detached(ctx)
	defer cancelWrite()
	if err := r.history.Append(writeCtx, record); err != nil {
		log.Error().Err(err).Msg("append regeneration record failed")
		return nil, err
	}
	metrics.IncRegeneration(plan.provider, string(result.Status))

	if genErr != nil {
		log.Warn().Err(genErr).Int64("record_id", record.ID).Msg("scene regeneration failed")
		return record, genErr
	}
	log.Info().Int64("record_id", record.ID).Str("output_url", result.OutputURL).Msg("scene regenerated")
	return record, nil
}

func (r *regenerationUC) History(ctx context.Context, jobID string) ([]*model.RegenerationRecord, error) {
	if _, err := r.jobs.FindByID(ctx, repository.NoTX, jobID); err != nil {
		return nil, err
	}
	return r.history.ListByJob(ctx, jobID)
}
