package sqlite

import (
	"context"
	"time"

	"video-generation-service/internal/domain"
	"video-generation-service/internal/domain/model"
	"video-generation-service/internal/domain/ports/repository"
)

var _ repository.RegenerationRepository = (*RegenerationRepo)(nil)

type RegenerationRepo struct {
	s *Store
}

func NewRegenerationRepo(s *Store) *RegenerationRepo {
	return &RegenerationRepo{s: s}
}

func (r *RegenerationRepo) Append(ctx context.Context, rec *model.RegenerationRecord) error {
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
	res, err := r.s.db.ExecContext(ctx, `
INSERT INTO scene_regenerations (job_id, scene_index, provider, reason, result, created_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		rec.JobID, rec.SceneIndex, rec.Provider, rec.Reason, result, toNanos(rec.CreatedAt))
	if err != nil {
		return storeErr(err)
	}
	rec.ID, err = res.LastInsertId()
	return storeErr(err)
}

func (r *RegenerationRepo) ListByJob(ctx context.Context, jobID string) ([]*model.RegenerationRecord, error) {
	rows, err := r.s.db.QueryContext(ctx, `
SELECT id, job_id, scene_index, provider, reason, result, created_at
FROM scene_regenerations
WHERE job_id = ?
ORDER BY created_at, id`, jobID)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	var out []*model.RegenerationRecord
	for rows.Next() {
		var (
			rec     model.RegenerationRecord
			result  []byte
			created int64
		)
		if err := rows.Scan(&rec.ID, &rec.JobID, &rec.SceneIndex, &rec.Provider, &rec.Reason, &result, &created); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		rec.CreatedAt = fromNanos(created)
		if rec.Result, err = model.ParsePayload(result); err != nil {
			return nil, err
		}
		out = append(out, &rec)
	}
	return out, storeErr(rows.Err())
}
