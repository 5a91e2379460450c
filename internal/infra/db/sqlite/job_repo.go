package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"video-generation-service/internal/domain"
	"video-generation-service/internal/domain/model"
	"video-generation-service/internal/domain/ports/repository"
)

var _ repository.JobRepository = (*JobRepo)(nil)

const jobColumns = `id, user_id, project_id, status, provider, input, COALESCE(output_url, ''), progress,
COALESCE(error_message, ''), created_at, updated_at, claimed_at, completed_at`

type JobRepo struct {
	s *Store
}

func NewJobRepo(s *Store) *JobRepo {
	return &JobRepo{s: s}
}

func (r *JobRepo) Create(ctx context.Context, tx repository.Tx, job *model.Job) error {
	ex, err := r.s.executor(tx)
	if err != nil {
		return err
	}
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
	_, err = ex.ExecContext(ctx, `
INSERT INTO jobs (id, user_id, project_id, status, provider, input, progress, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.UserID, job.ProjectID, string(job.Status), job.Provider, input,
		model.ClampProgress(job.Progress), toNanos(job.CreatedAt), toNanos(job.UpdatedAt))
	return storeErr(err)
}

func (r *JobRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	ex, err := r.s.executor(tx)
	if err != nil {
		return nil, err
	}
	return scanJob(ex.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
}

func (r *JobRepo) ListByProject(ctx context.Context, tx repository.Tx, projectID string) ([]*model.Job, error) {
	ex, err := r.s.executor(tx)
	if err != nil {
		return nil, err
	}
	rows, err := ex.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE project_id = ? ORDER BY created_at, id`, projectID)
	if err != nil {
		return nil, storeErr(err)
	}
	return collectJobs(rows)
}

func (r *JobRepo) ListPending(ctx context.Context, limit int) ([]*model.Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := r.s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = 'pending' ORDER BY created_at, id LIMIT ?`, limit)
	if err != nil {
		return nil, storeErr(err)
	}
	return collectJobs(rows)
}

func (r *JobRepo) Claim(ctx context.Context, id string) (bool, error) {
	now := toNanos(time.Now())
	return r.affected(ctx, `
UPDATE jobs SET status = 'processing', claimed_at = ?, updated_at = ?
WHERE id = ? AND status = 'pending'`, now, now, id)
}

func (r *JobRepo) Release(ctx context.Context, id string) (bool, error) {
	return r.affected(ctx, `
UPDATE jobs SET status = 'pending', claimed_at = NULL, progress = 0, updated_at = ?
WHERE id = ? AND status = 'processing'`, toNanos(time.Now()), id)
}

func (r *JobRepo) UpdateProgress(ctx context.Context, id string, progress int) (bool, error) {
	p := model.ClampProgress(progress)
	return r.affected(ctx, `
UPDATE jobs SET progress = ?, updated_at = ?
WHERE id = ? AND status = 'processing' AND progress < ?`, p, toNanos(time.Now()), id, p)
}

func (r *JobRepo) Complete(ctx context.Context, id, outputURL string) error {
	if outputURL == "" {
		return fmt.Errorf("%w: empty output url", domain.ErrInvalidArgument)
	}
	now := toNanos(time.Now())
	ok, err := r.affected(ctx, `
UPDATE jobs SET status = 'completed', output_url = ?, progress = 100, completed_at = ?, updated_at = ?
WHERE id = ? AND status = 'processing'`, outputURL, now, now, id)
	if err != nil {
		return err
	}
	if !ok {
		return r.notProcessing(ctx, id)
	}
	return nil
}

func (r *JobRepo) Fail(ctx context.Context, id, errorMessage string) error {
	if errorMessage == "" {
		errorMessage = "unknown error"
	}
	now := toNanos(time.Now())
	ok, err := r.affected(ctx, `
UPDATE jobs SET status = 'failed', error_message = ?, completed_at = ?, updated_at = ?
WHERE id = ? AND status = 'processing'`, errorMessage, now, now, id)
	if err != nil {
		return err
	}
	if !ok {
		return r.notProcessing(ctx, id)
	}
	return nil
}

func (r *JobRepo) FailStale(ctx context.Context, claimedBefore time.Time, errorMessage string) ([]string, error) {
	now := toNanos(time.Now())
	rows, err := r.s.db.QueryContext(ctx, `
UPDATE jobs SET status = 'failed', error_message = ?, completed_at = ?, updated_at = ?
WHERE status = 'processing' AND claimed_at < ?
RETURNING id`, errorMessage, now, now, toNanos(claimedBefore))
	if err != nil {
		return nil, storeErr(err)
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

func (r *JobRepo) affected(ctx context.Context, q string, args ...any) (bool, error) {
	res, err := r.s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, storeErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeErr(err)
	}
	return n == 1, nil
}

func (r *JobRepo) notProcessing(ctx context.Context, id string) error {
	var n int
	if err := r.s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE id = ?`, id).Scan(&n); err != nil {
		return storeErr(err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return domain.ErrJobNotProcessing
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*model.Job, error) {
	var (
		j                      model.Job
		status                 string
		input                  []byte
		created, updated       int64
		claimedAt, completedAt sql.NullInt64
	)
	err := row.Scan(&j.ID, &j.UserID, &j.ProjectID, &status, &j.Provider, &input, &j.OutputURL,
		&j.Progress, &j.ErrorMessage, &created, &updated, &claimedAt, &completedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, storeErr(err)
	}
	j.Status = model.JobStatus(status)
	j.CreatedAt = fromNanos(created)
	j.UpdatedAt = fromNanos(updated)
	j.ClaimedAt = timePtr(claimedAt)
	j.CompletedAt = timePtr(completedAt)
	if j.Input, err = model.ParsePayload(input); err != nil {
		return nil, err
	}
	return &j, nil
}

func collectJobs(rows *sql.Rows) ([]*model.Job, error) {
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
