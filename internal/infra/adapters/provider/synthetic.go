package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"video-generation-service/internal/domain/ports/adapter"
)

var _ adapter.VideoProvider = (*Synthetic)(nil)

// Synthetic is a local provider for development and tests. It sleeps for the
// configured delay while reporting progress and returns a deterministic URL.
// An input field "simulate_failure" makes the call fail with that message.
type Synthetic struct {
	delay   time.Duration
	baseURL string
	steps   int
}

func NewSynthetic(delay time.Duration, baseURL string) *Synthetic {
	if baseURL == "" {
		baseURL = "https://cdn.example.com"
	}
	return &Synthetic{delay: delay, baseURL: strings.TrimRight(baseURL, "/"), steps: 4}
}

func (s *Synthetic) Name() string { return "synthetic" }

func (s *Synthetic) Generate(ctx context.Context, req adapter.GenerateRequest) (*adapter.GenerateResult, error) {
	if msg := req.Input.Field("simulate_failure"); msg != "" {
		return nil, errors.New(msg)
	}

	step := s.delay / time.Duration(s.steps)
	for i := 1; i <= s.steps; i++ {
		if step > 0 {
			t := time.NewTimer(step)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			case <-t.C:
			}
		} else if err := ctx.Err(); err != nil {
			return nil, err
		}
		if req.Progress != nil && i < s.steps {
			req.Progress(i * 100 / s.steps)
		}
	}

	name := req.JobID
	if req.SceneIndex >= 0 {
		name = fmt.Sprintf("%s-scene-%02d", req.JobID, req.SceneIndex)
	}
	return &adapter.GenerateResult{
		URL:             fmt.Sprintf("%s/%s/%s.mp4", s.baseURL, s.Name(), name),
		MIMEType:        "video/mp4",
		DurationSeconds: 8,
		Metadata:        map[string]any{"prompt": req.Prompt},
	}, nil
}
