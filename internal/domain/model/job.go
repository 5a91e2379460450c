package model

import (
	"fmt"
	"time"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transition may leave s.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// Job is one unit of asynchronous video generation tied to a provider call.
type Job struct {
	ID           string
	UserID       string
	ProjectID    string
	Status       JobStatus
	Provider     string
	Input        Payload
	OutputURL    string
	Progress     int
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ClaimedAt    *time.Time
	CompletedAt  *time.Time
}

// NewJob builds a pending job ready to be inserted.
func NewJob(userID, projectID, provider string, input Payload) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:        NewID(),
		UserID:    userID,
		ProjectID: projectID,
		Status:    JobStatusPending,
		Provider:  provider,
		Input:     input,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ClampProgress bounds p to the 0..100 range.
func ClampProgress(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}

// CheckInvariants validates the relationships between status and the
// terminal-only columns.
func (j *Job) CheckInvariants() error {
	if !j.Status.Valid() {
		return fmt.Errorf("job %s: unknown status %q", j.ID, j.Status)
	}
	if j.Status.IsTerminal() != (j.CompletedAt != nil) {
		return fmt.Errorf("job %s: completed_at set=%t with status %s", j.ID, j.CompletedAt != nil, j.Status)
	}
	if (j.Status == JobStatusCompleted) != (j.OutputURL != "") {
		return fmt.Errorf("job %s: output_url set=%t with status %s", j.ID, j.OutputURL != "", j.Status)
	}
	if j.Status == JobStatusCompleted && j.Progress != 100 {
		return fmt.Errorf("job %s: completed with progress %d", j.ID, j.Progress)
	}
	if j.Status == JobStatusFailed && j.ErrorMessage == "" {
		return fmt.Errorf("job %s: failed without error message", j.ID)
	}
	if j.Progress < 0 || j.Progress > 100 {
		return fmt.Errorf("job %s: progress %d out of range", j.ID, j.Progress)
	}
	return nil
}
