package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"video-generation-service/internal/domain"
	"video-generation-service/internal/domain/model"
	"video-generation-service/internal/domain/ports/repository"
)

var _ repository.RegenerationRepository = (*regenerationRepo)(nil)

type regenerationRepo struct {
	pool *pgxpool.Pool
}

func NewRegenerationRepo(pool *pgxpool.Pool) *regenerationRepo {
	return &regenerationRepo{pool: pool}
}

func (r *regenerationRepo) Append(ctx context.Context, rec *model.RegenerationRecord) error {
	if rec.SceneIndex < 0 {
		return domain.ErrInvalidArgument
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	result, err := rec.Result.Bytes()
	if err != nil {
		return err
	}
	const q = `
INSERT INTO scene_regenerations (job_id, scene_index, provider, reason, result, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id;`
	row, err := pickRow(ctx, r.pool, nil, q, rec.JobID, rec.SceneIndex, rec.Provider, rec.Reason, result, rec.CreatedAt)
	if err != nil {
		return err
	}
	return storeErr(row.Scan(&rec.ID))
}

func (r *regenerationRepo) ListByJob(ctx context.Context, jobID string) ([]*model.RegenerationRecord, error) {
	rows, err := queryRows(ctx, r.pool, nil, `
SELECT id, job_id, scene_index, provider, reason, result, created_at
FROM scene_regenerations
WHERE job_id = $1
ORDER BY created_at, id;`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.RegenerationRecord
	for rows.Next() {
		var (
			rec    model.RegenerationRecord
			result []byte
		)
		if err := rows.Scan(&rec.ID, &rec.JobID, &rec.SceneIndex, &rec.Provider, &rec.Reason, &result, &rec.CreatedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		if rec.Result, err = model.ParsePayload(result); err != nil {
			return nil, err
		}
		out = append(out, &rec)
	}
	return out, storeErr(rows.Err())
}
