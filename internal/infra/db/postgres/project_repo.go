package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"video-generation-service/internal/domain"
	"video-generation-service/internal/domain/model"
	"video-generation-service/internal/domain/ports/repository"
)

var _ repository.ProjectRepository = (*projectRepo)(nil)

const projectColumns = `p.id, p.user_id, p.title, p.description, p.project_data, p.status, p.output_formats,
p.render_requested_at, p.created_at, p.updated_at`

type projectRepo struct {
	pool *pgxpool.Pool
}

func NewProjectRepo(pool *pgxpool.Pool) *projectRepo {
	return &projectRepo{pool: pool}
}

func (r *projectRepo) Save(ctx context.Context, tx repository.Tx, p *model.Project) error {
	if p.ID == "" {
		p.ID = model.NewID()
	}
	if p.Status == "" {
		p.Status = model.ProjectStatusDraft
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if p.OutputFormats == nil {
		p.OutputFormats = []string{}
	}

	data, err := p.Data.Bytes()
	if err != nil {
		return err
	}
	const q = `
INSERT INTO projects (id, user_id, title, description, project_data, status, output_formats,
  render_requested_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (id) DO UPDATE SET
  title = EXCLUDED.title,
  description = EXCLUDED.description,
  project_data = EXCLUDED.project_data,
  status = EXCLUDED.status,
  output_formats = EXCLUDED.output_formats,
  render_requested_at = EXCLUDED.render_requested_at,
  updated_at = EXCLUDED.updated_at;`
	_, err = execSQL(ctx, r.pool, tx, q,
		p.ID, p.UserID, p.Title, p.Description, data, string(p.Status), p.OutputFormats,
		p.RenderRequestedAt, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r *projectRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Project, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+projectColumns+` FROM projects p WHERE p.id = $1`, id)
	if err != nil {
		return nil, err
	}
	return scanProject(row)
}

func (r *projectRepo) ListForReconcile(ctx context.Context, limit int) ([]*model.Project, error) {
	const q = `
SELECT ` + projectColumns + `
FROM projects p
WHERE (p.status <> 'processing' AND EXISTS (
        SELECT 1 FROM jobs j WHERE j.project_id = p.id AND j.status IN ('pending', 'processing')))
   OR EXISTS (
        SELECT 1 FROM jobs j WHERE j.project_id = p.id AND j.updated_at > p.updated_at)
   OR (p.status = 'processing' AND NOT EXISTS (
        SELECT 1 FROM jobs j WHERE j.project_id = p.id AND j.status IN ('pending', 'processing')))
ORDER BY p.updated_at, p.id
LIMIT $1;`
	rows, err := queryRows(ctx, r.pool, nil, q, limit)
	if err != nil {
		return nil, err
	}
	return collectProjects(rows)
}

func (r *projectRepo) SetStatus(ctx context.Context, id string, status model.ProjectStatus) error {
	tag, err := execSQL(ctx, r.pool, nil,
		`UPDATE projects SET status = $2, updated_at = now() WHERE id = $1`, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *projectRepo) RequestRender(ctx context.Context, id string, at time.Time) error {
	tag, err := execSQL(ctx, r.pool, nil,
		`UPDATE projects SET render_requested_at = $2 WHERE id = $1`, id, at.UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *projectRepo) UpdateData(ctx context.Context, id string, data model.Payload) error {
	raw, err := data.Bytes()
	if err != nil {
		return err
	}
	tag, err := execSQL(ctx, r.pool, nil, `UPDATE projects SET project_data = $2 WHERE id = $1`, id, raw)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *projectRepo) ListRenderRequested(ctx context.Context, limit int) ([]*model.Project, error) {
	rows, err := queryRows(ctx, r.pool, nil, `
SELECT `+projectColumns+` FROM projects p
WHERE p.render_requested_at IS NOT NULL
ORDER BY p.render_requested_at, p.id
LIMIT $1;`, limit)
	if err != nil {
		return nil, err
	}
	return collectProjects(rows)
}

func (r *projectRepo) ClaimRenderRequest(ctx context.Context, tx repository.Tx, id string, requestedAt time.Time) (bool, error) {
	tag, err := execSQL(ctx, r.pool, tx,
		`UPDATE projects SET render_requested_at = NULL WHERE id = $1 AND render_requested_at = $2`,
		id, requestedAt.UTC())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func scanProject(row pgx.Row) (*model.Project, error) {
	var (
		p      model.Project
		data   []byte
		status string
	)
	err := row.Scan(&p.ID, &p.UserID, &p.Title, &p.Description, &data, &status, &p.OutputFormats,
		&p.RenderRequestedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, storeErr(err)
	}
	p.Status = model.ProjectStatus(status)
	if p.Data, err = model.ParsePayload(data); err != nil {
		return nil, err
	}
	return &p, nil
}

func collectProjects(rows pgx.Rows) ([]*model.Project, error) {
	defer rows.Close()
	var out []*model.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, storeErr(rows.Err())
}
