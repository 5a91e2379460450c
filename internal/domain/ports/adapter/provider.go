package adapter

import (
	"context"
	"fmt"

	"video-generation-service/internal/domain"
	"video-generation-service/internal/domain/model"
)

// ProgressFunc receives advisory progress (0..100) while a generation runs.
type ProgressFunc func(percent int)

// GenerateRequest describes one generation call. SceneIndex is -1 for a whole
// job and the scene position for a scene regeneration.
type GenerateRequest struct {
	RequestID  string
	JobID      string
	Provider   string
	SceneIndex int
	Prompt     string
	Input      model.Payload
	Progress   ProgressFunc
}

// GenerateResult is what a provider produced. Either URL or Data is set.
type GenerateResult struct {
	URL             string
	Data            []byte
	MIMEType        string
	DurationSeconds int
	Metadata        map[string]any
}

// VideoProvider is a single external generation capability.
type VideoProvider interface {
	Name() string
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error)
}

// ProviderGateway routes requests to the provider configured per job.
type ProviderGateway interface {
	// Resolve maps a requested provider name to the one that will serve it.
	Resolve(provider string) string
	// Available reports whether provider currently accepts calls.
	Available(provider string) bool
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error)
}

// ProviderError wraps any non-success provider outcome. It matches
// domain.ErrProviderFailure and its cause under errors.Is.
type ProviderError struct {
	Provider string
	Err      error
}

func NewProviderError(provider string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Err: err}
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() []error {
	return []error{domain.ErrProviderFailure, e.Err}
}
