package model

import "time"

type ProjectStatus string

const (
	ProjectStatusDraft      ProjectStatus = "draft"
	ProjectStatusProcessing ProjectStatus = "processing"
	ProjectStatusReady      ProjectStatus = "ready"
	ProjectStatusFailed     ProjectStatus = "failed"
)

// DefaultOutputFormat is used when a project does not list any output format.
const DefaultOutputFormat = "mp4"

// Project is a user's video assembly. Its Status is derived from its jobs.
type Project struct {
	ID                string
	UserID            string
	Title             string
	Description       string
	Data              Payload
	Status            ProjectStatus
	OutputFormats     []string
	RenderRequestedAt *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func NewProject(userID, title string, data Payload, formats []string) *Project {
	now := time.Now().UTC()
	return &Project{
		ID:            NewID(),
		UserID:        userID,
		Title:         title,
		Data:          data,
		Status:        ProjectStatusDraft,
		OutputFormats: formats,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Formats returns the output formats to render, never empty.
func (p *Project) Formats() []string {
	out := make([]string, 0, len(p.OutputFormats))
	seen := make(map[string]struct{}, len(p.OutputFormats))
	for _, f := range p.OutputFormats {
		if f == "" {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	if len(out) == 0 {
		out = append(out, DefaultOutputFormat)
	}
	return out
}

// DeriveProjectStatus is a pure function of the multiset of job statuses.
//
//	any pending/processing          -> processing
//	all completed                   -> ready
//	some failed, none non-terminal  -> failed
//	no jobs                         -> draft
func DeriveProjectStatus(statuses []JobStatus) ProjectStatus {
	if len(statuses) == 0 {
		return ProjectStatusDraft
	}
	failed := false
	for _, s := range statuses {
		switch s {
		case JobStatusPending, JobStatusProcessing:
			return ProjectStatusProcessing
		case JobStatusFailed:
			failed = true
		}
	}
	if failed {
		return ProjectStatusFailed
	}
	return ProjectStatusReady
}

// JobStatuses collects the statuses of jobs, in order.
func JobStatuses(jobs []*Job) []JobStatus {
	out := make([]JobStatus, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.Status)
	}
	return out
}
