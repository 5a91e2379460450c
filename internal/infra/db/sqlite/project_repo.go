package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"video-generation-service/internal/domain"
	"video-generation-service/internal/domain/model"
	"video-generation-service/internal/domain/ports/repository"
)

var _ repository.ProjectRepository = (*ProjectRepo)(nil)

const projectColumns = `p.id, p.user_id, p.title, p.description, p.project_data, p.status, p.output_formats,
p.render_requested_at, p.created_at, p.updated_at`

type ProjectRepo struct {
	s *Store
}

func NewProjectRepo(s *Store) *ProjectRepo {
	return &ProjectRepo{s: s}
}

func (r *ProjectRepo) Save(ctx context.Context, tx repository.Tx, p *model.Project) error {
	ex, err := r.s.executor(tx)
	if err != nil {
		return err
	}
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

	data, err := p.Data.Bytes()
	if err != nil {
		return err
	}
	formats := p.OutputFormats
	if formats == nil {
		formats = []string{}
	}
	formatsJSON, err := json.Marshal(formats)
	if err != nil {
		return err
	}
	_, err = ex.ExecContext(ctx, `
INSERT INTO projects (id, user_id, title, description, project_data, status, output_formats,
  render_requested_at, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
  title = excluded.title,
  description = excluded.description,
  project_data = excluded.project_data,
  status = excluded.status,
  output_formats = excluded.output_formats,
  render_requested_at = excluded.render_requested_at,
  updated_at = excluded.updated_at`,
		p.ID, p.UserID, p.Title, p.Description, data, string(p.Status), string(formatsJSON),
		nullNanos(p.RenderRequestedAt), toNanos(p.CreatedAt), toNanos(p.UpdatedAt))
	return storeErr(err)
}

func (r *ProjectRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Project, error) {
	ex, err := r.s.executor(tx)
	if err != nil {
		return nil, err
	}
	return scanProject(ex.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects p WHERE p.id = ?`, id))
}

// ListForReconcile returns projects whose stored status may be stale: a job
// moved since the project row was last written, or the in-flight set and the
// processing status disagree.
func (r *ProjectRepo) ListForReconcile(ctx context.Context, limit int) ([]*model.Project, error) {
	return r.list(ctx, `
SELECT `+projectColumns+`
FROM projects p
WHERE (p.status <> 'processing' AND EXISTS (
        SELECT 1 FROM jobs j WHERE j.project_id = p.id AND j.status IN ('pending', 'processing')))
   OR EXISTS (
        SELECT 1 FROM jobs j WHERE j.project_id = p.id AND j.updated_at > p.updated_at)
   OR (p.status = 'processing' AND NOT EXISTS (
        SELECT 1 FROM jobs j WHERE j.project_id = p.id AND j.status IN ('pending', 'processing')))
ORDER BY p.updated_at, p.id
LIMIT ?`, limit)
}

func (r *ProjectRepo) SetStatus(ctx context.Context, id string, status model.ProjectStatus) error {
	res, err := r.s.db.ExecContext(ctx, `UPDATE projects SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), toNanos(time.Now()), id)
	if err != nil {
		return storeErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *ProjectRepo) RequestRender(ctx context.Context, id string, at time.Time) error {
	res, err := r.s.db.ExecContext(ctx, `UPDATE projects SET render_requested_at = ? WHERE id = ?`, toNanos(at), id)
	if err != nil {
		return storeErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateData rewrites project_data only; status and render_requested_at are
// owned by the reconcile and render paths.
func (r *ProjectRepo) UpdateData(ctx context.Context, id string, data model.Payload) error {
	raw, err := data.Bytes()
	if err != nil {
		return err
	}
	res, err := r.s.db.ExecContext(ctx, `UPDATE projects SET project_data = ? WHERE id = ?`, raw, id)
	if err != nil {
		return storeErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *ProjectRepo) ListRenderRequested(ctx context.Context, limit int) ([]*model.Project, error) {
	return r.list(ctx, `
SELECT `+projectColumns+` FROM projects p
WHERE p.render_requested_at IS NOT NULL
ORDER BY p.render_requested_at, p.id
LIMIT ?`, limit)
}

func (r *ProjectRepo) ClaimRenderRequest(ctx context.Context, tx repository.Tx, id string, requestedAt time.Time) (bool, error) {
	ex, err := r.s.executor(tx)
	if err != nil {
		return false, err
	}
	res, err := ex.ExecContext(ctx,
		`UPDATE projects SET render_requested_at = NULL WHERE id = ? AND render_requested_at = ?`,
		id, toNanos(requestedAt))
	if err != nil {
		return false, storeErr(err)
	}
	n, err := res.RowsAffected()
	return n == 1, storeErr(err)
}

func (r *ProjectRepo) list(ctx context.Context, q string, args ...any) ([]*model.Project, error) {
	rows, err := r.s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, storeErr(err)
	}
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

func scanProject(row rowScanner) (*model.Project, error) {
	var (
		p                model.Project
		data             []byte
		status, formats  string
		requested        sql.NullInt64
		created, updated int64
	)
	err := row.Scan(&p.ID, &p.UserID, &p.Title, &p.Description, &data, &status, &formats,
		&requested, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, storeErr(err)
	}
	p.Status = model.ProjectStatus(status)
	p.RenderRequestedAt = timePtr(requested)
	p.CreatedAt = fromNanos(created)
	p.UpdatedAt = fromNanos(updated)
	if err := json.Unmarshal([]byte(formats), &p.OutputFormats); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	if p.Data, err = model.ParsePayload(data); err != nil {
		return nil, err
	}
	return &p, nil
}
