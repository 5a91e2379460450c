package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"video-generation-service/internal/domain"
	"video-generation-service/internal/domain/model"
	"video-generation-service/internal/domain/ports/repository"
)

var _ repository.JobRepository = (*jobRepo)(nil)

const jobColumns = `id, user_id, project_id, status, provider, input, COALESCE(output_url, ''), progress,
COALESCE(error_message, ''), created_at, updated_at, claimed_at, completed_at`

type jobRepo struct {
	pool *pgxpool.Pool
}

func NewJobRepo(pool *pgxpool.Pool) *jobRepo {
	return &jobRepo{pool: pool}
}

func (r *jobRepo) Create(ctx context.Context, tx repository.Tx, job *model.Job) error {
	if job.ID == "" {
		job.ID = model.NewID()
	}
	if job.Status == "" {
		job.Status = model.JobStatusPending
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	input, err := job.Input.Bytes()
	if err != nil {
		return err
	}
	const q = `
INSERT INTO jobs (id, user_id, project_id, status, provider, input, progress, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);`
	_, err = execSQL(ctx, r.pool, tx, q,
		job.ID, job.UserID, job.ProjectID, string(job.Status), job.Provider, input,
		model.ClampProgress(job.Progress), job.CreatedAt, job.UpdatedAt)
	return err
}

func (r *jobRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	return scanJob(row)
}

func (r *jobRepo) ListByProject(ctx context.Context, tx repository.Tx, projectID string) ([]*model.Job, error) {
	rows, err := queryRows(ctx, r.pool, tx,
		`SELECT `+jobColumns+` FROM jobs WHERE project_id = $1 ORDER BY created_at, id`, projectID)
	if err != nil {
		return nil, err
	}
	return collectJobs(rows)
}

func (r *jobRepo) ListPending(ctx context.Context, limit int) ([]*model.Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := queryRows(ctx, r.pool, nil,
		`SELECT `+jobColumns+` FROM jobs WHERE status = 'pending' ORDER BY created_at, id LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return collectJobs(rows)
}

func (r *jobRepo) Claim(ctx context.Context, id string) (bool, error) {
	const q = `
UPDATE jobs SET status = 'processing', claimed_at = now(), updated_at = now()
WHERE id = $1 AND status = 'pending';`
	tag, err := execSQL(ctx, r.pool, nil, q, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *jobRepo) Release(ctx context.Context, id string) (bool, error) {
	const q = `
UPDATE jobs SET status = 'pending', claimed_at = NULL, progress = 0, updated_at = now()
WHERE id = $1 AND status = 'processing';`
	tag, err := execSQL(ctx, r.pool, nil, q, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *jobRepo) UpdateProgress(ctx context.Context, id string, progress int) (bool, error) {
	const q = `
UPDATE jobs SET progress = $2, updated_at = now()
WHERE id = $1 AND status = 'processing' AND progress < $2;`
	tag, err := execSQL(ctx, r.pool, nil, q, id, model.ClampProgress(progress))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *jobRepo) Complete(ctx context.Context, id, outputURL string) error {
	if outputURL == "" {
		return fmt.Errorf("%w: empty output url", domain.ErrInvalidArgument)
	}
	const q = `
UPDATE jobs SET status = 'completed', output_url = $2, progress = 100,
  completed_at = now(), updated_at = now()
WHERE id = $1 AND status = 'processing';`
	tag, err := execSQL(ctx, r.pool, nil, q, id, outputURL)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.notProcessing(ctx, id)
	}
	return nil
}

func (r *jobRepo) Fail(ctx context.Context, id, errorMessage string) error {
	if errorMessage == "" {
		errorMessage = "unknown error"
	}
	const q = `
UPDATE jobs SET status = 'failed', error_message = $2, completed_at = now(), updated_at = now()
WHERE id = $1 AND status = 'processing';`
	tag, err := execSQL(ctx, r.pool, nil, q, id, errorMessage)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.notProcessing(ctx, id)
	}
	return nil
}

func (r *jobRepo) FailStale(ctx context.Context, claimedBefore time.Time, errorMessage string) ([]string, error) {
	const q = `
UPDATE jobs SET status = 'failed', error_message = $2, completed_at = now(), updated_at = now()
WHERE status = 'processing' AND claimed_at < $1
RETURNING id;`
	rows, err := queryRows(ctx, r.pool, nil, q, claimedBefore.UTC(), errorMessage)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		ids = append(ids, id)
	}
	return ids, storeErr(rows.Err())
}

// notProcessing distinguishes a missing job from one that already left processing.
func (r *jobRepo) notProcessing(ctx context.Context, id string) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1)`, id).Scan(&exists); err != nil {
		return storeErr(err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	return domain.ErrJobNotProcessing
}

func scanJob(row pgx.Row) (*model.Job, error) {
	var (
		j      model.Job
		status string
		input  []byte
	)
	err := row.Scan(&j.ID, &j.UserID, &j.ProjectID, &status, &j.Provider, &input, &j.OutputURL,
		&j.Progress, &j.ErrorMessage, &j.CreatedAt, &j.UpdatedAt, &j.ClaimedAt, &j.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, storeErr(err)
	}
	j.Status = model.JobStatus(status)
	if j.Input, err = model.ParsePayload(input); err != nil {
		return nil, err
	}
	return &j, nil
}

func collectJobs(rows pgx.Rows) ([]*model.Job, error) {
	defer rows.Close()
	var out []*model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, storeErr(rows.Err())
}
