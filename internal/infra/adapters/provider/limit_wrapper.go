package provider

import (
	"context"

	"video-generation-service/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.VideoProvider = (*limitedProvider)(nil)

// limitedProvider bounds concurrent calls to one provider. Waiting for a slot
// respects the caller's deadline.
type limitedProvider struct {
	inner adapter.VideoProvider
	sem   chan struct{}
}

func NewLimited(inner adapter.VideoProvider, maxConcurrent int) adapter.VideoProvider {
	if maxConcurrent <= 0 {
		return inner
	}
	return &limitedProvider{
		inner: inner,
		sem:   make(chan struct{}, maxConcurrent),
	}
}

func (l *limitedProvider) Name() string { return l.inner.Name() }

func (l *limitedProvider) Generate(ctx context.Context, req adapter.GenerateRequest) (*adapter.GenerateResult, error) {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-l.sem }()
	return l.inner.Generate(ctx, req)
}
