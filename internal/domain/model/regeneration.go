package model

import (
	"time"
)

type RegenerationOutcome string

const (
	RegenerationSucceeded RegenerationOutcome = "succeeded"
	RegenerationFailed    RegenerationOutcome = "failed"
)

// RegenerationResult is the result payload stored with each attempt.
type RegenerationResult struct {
	Status    RegenerationOutcome `json:"status"`
	OutputURL string              `json:"output_url,omitempty"`
	Error     string              `json:"error,omitempty"`
	Metadata  map[string]any      `json:"metadata,omitempty"`
}

// RegenerationRecord is an immutable history entry of one scene regeneration
// attempt. Records are append-only; the latest successful record per scene
// index wins when a project is assembled.
type RegenerationRecord struct {
	ID         int64
	JobID      string
	SceneIndex int
	Provider   string
	Reason     string
	Result     Payload
	CreatedAt  time.Time
}

func NewRegenerationRecord(jobID string, sceneIndex int, provider, reason string, res RegenerationResult) (*RegenerationRecord, error) {
	payload, err := NewPayload(res)
	if err != nil {
		return nil, err
	}
	return &RegenerationRecord{
		JobID:      jobID,
		SceneIndex: sceneIndex,
		Provider:   provider,
		Reason:     reason,
		Result:     payload,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// Outcome decodes the stored result.
func (r *RegenerationRecord) Outcome() (RegenerationResult, error) {
	var res RegenerationResult
	err := r.Result.Decode(&res)
	return res, err
}

// Succeeded reports whether the attempt produced an output.
func (r *RegenerationRecord) Succeeded() bool {
	res, err := r.Outcome()
	return err == nil && res.Status == RegenerationSucceeded && res.OutputURL != ""
}

// LatestSuccessfulByScene resolves "latest wins" per scene index: records are
// compared by creation time, then by id.
func LatestSuccessfulByScene(records []*RegenerationRecord) map[int]*RegenerationRecord {
	out := make(map[int]*RegenerationRecord)
	for _, r := range records {
		if r == nil || !r.Succeeded() {
			continue
		}
		cur, ok := out[r.SceneIndex]
		if !ok || newer(r, cur) {
			out[r.SceneIndex] = r
		}
	}
	return out
}

func newer(a, b *RegenerationRecord) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}
