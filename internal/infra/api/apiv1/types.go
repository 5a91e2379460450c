package apiv1

import (
	"encoding/json"
	"time"

	"video-generation-service/internal/domain/model"
)

type Job struct {
	ID           string          `json:"id"`
	UserID       string          `json:"user_id"`
	ProjectID    string          `json:"project_id,omitempty"`
	Status       string          `json:"status"`
	Provider     string          `json:"provider"`
	Input        json.RawMessage `json:"input,omitempty"`
	OutputURL    string          `json:"output_url,omitempty"`
	Progress     int             `json:"progress"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	ClaimedAt    *time.Time      `json:"claimed_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

type Project struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	Title           string          `json:"title"`
	Description     string          `json:"description,omitempty"`
	Status          string          `json:"status"`
	Data            json.RawMessage `json:"data,omitempty"`
	OutputFormats   []string        `json:"output_formats"`
	RenderRequested bool            `json:"render_requested"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	Jobs            []Job           `json:"jobs"`
}

type Regeneration struct {
	ID         int64                    `json:"id"`
	JobID      string                   `json:"job_id"`
	SceneIndex int                      `json:"scene_index"`
	Provider   string                   `json:"provider"`
	Reason     string                   `json:"reason,omitempty"`
	Result     model.RegenerationResult `json:"result"`
	CreatedAt  time.Time                `json:"created_at"`
}

type createJobRequest struct {
	UserID    string          `json:"user_id"`
	ProjectID string          `json:"project_id"`
	Provider  string          `json:"provider"`
	Input     json.RawMessage `json:"input"`
}

type createProjectRequest struct {
	UserID        string          `json:"user_id"`
	Title         string          `json:"title"`
	Description   string          `json:"description"`
	Data          json.RawMessage `json:"data"`
	OutputFormats []string        `json:"output_formats"`
}

type renderRequest struct {
	Provider string `json:"provider"`
}

type regenerateRequest struct {
	Reason   string `json:"reason"`
	Provider string `json:"provider"`
	// Wait runs the regeneration inside the request instead of on the pool.
	Wait bool `json:"wait"`
}

func toJob(j *model.Job) Job {
	return Job{
		ID:           j.ID,
		UserID:       j.UserID,
		ProjectID:    j.ProjectID,
		Status:       string(j.Status),
		Provider:     j.Provider,
		Input:        j.Input.Data,
		OutputURL:    j.OutputURL,
		Progress:     j.Progress,
		ErrorMessage: j.ErrorMessage,
		CreatedAt:    j.CreatedAt,
		UpdatedAt:    j.UpdatedAt,
		ClaimedAt:    j.ClaimedAt,
		CompletedAt:  j.CompletedAt,
	}
}

func toProject(p *model.Project, jobs []*model.Job) Project {
	out := Project{
		ID:              p.ID,
		UserID:          p.UserID,
		Title:           p.Title,
		Description:     p.Description,
		Status:          string(p.Status),
		Data:            p.Data.Data,
		OutputFormats:   p.Formats(),
		RenderRequested: p.RenderRequestedAt != nil,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
		Jobs:            make([]Job, 0, len(jobs)),
	}
	for _, j := range jobs {
		out.Jobs = append(out.Jobs, toJob(j))
	}
	return out
}

func toRegeneration(r *model.RegenerationRecord) Regeneration {
	res, _ := r.Outcome()
	return Regeneration{
		ID:         r.ID,
		JobID:      r.JobID,
		SceneIndex: r.SceneIndex,
		Provider:   r.Provider,
		Reason:     r.Reason,
		Result:     res,
		CreatedAt:  r.CreatedAt,
	}
}
