package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/genai"

	"video-generation-service/internal/domain/ports/adapter"
)

var _ adapter.VideoProvider = (*Veo)(nil)

// Veo generates videos through the Gemini API. A generation is a long running
// operation polled every pollInterval until done or ctx expires.
type Veo struct {
	client       *genai.Client
	model        string
	pollInterval time.Duration
	// expected is the typical generation time used to scale progress reports.
	expected time.Duration
}

func NewVeo(ctx context.Context, apiKey, baseURL, model string, pollInterval time.Duration) (*Veo, error) {
	if apiKey == "" {
		return nil, errors.New("veo: empty api key")
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: baseURL,
		},
	})
	if err != nil {
		return nil, err
	}
	if pollInterval <= 0 {
		pollInterval = 10 * time.Second
	}
	return &Veo{client: c, model: model, pollInterval: pollInterval, expected: 2 * time.Minute}, nil
}

func (v *Veo) Name() string { return "veo" }

func (v *Veo) Generate(ctx context.Context, req adapter.GenerateRequest) (*adapter.GenerateResult, error) {
	if req.Prompt == "" {
		return nil, errors.New("veo: empty prompt")
	}
	cfg := &genai.GenerateVideosConfig{
		AspectRatio:    req.Input.Field("aspect_ratio"),
		NegativePrompt: req.Input.Field("negative_prompt"),
	}
	op, err := v.client.Models.GenerateVideos(ctx, v.model, req.Prompt, nil, cfg)
	if err != nil {
		return nil, fmt.Errorf("veo: start generation: %w", err)
	}

	start := time.Now()
	t := time.NewTicker(v.pollInterval)
	defer t.Stop()
	for !op.Done {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
		next, err := v.client.Operations.GetVideosOperation(ctx, op, nil)
		if err != nil {
			return nil, fmt.Errorf("veo: poll %s: %w", op.Name, err)
		}
		op = next
		if req.Progress != nil && !op.Done {
			req.Progress(estimateProgress(time.Since(start), v.expected))
		}
	}

	if len(op.Error) > 0 {
		return nil, fmt.Errorf("veo: operation failed: %v", op.Error["message"])
	}
	if op.Response == nil || len(op.Response.GeneratedVideos) == 0 || op.Response.GeneratedVideos[0].Video == nil {
		if op.Response != nil && len(op.Response.RAIMediaFilteredReasons) > 0 {
			return nil, fmt.Errorf("veo: filtered: %v", op.Response.RAIMediaFilteredReasons)
		}
		return nil, errors.New("veo: no video in response")
	}

	video := op.Response.GeneratedVideos[0].Video
	mime := video.MIMEType
	if mime == "" {
		mime = "video/mp4"
	}
	return &adapter.GenerateResult{
		URL:      video.URI,
		Data:     video.VideoBytes,
		MIMEType: mime,
		Metadata: map[string]any{"operation": op.Name, "model": v.model},
	}, nil
}

// estimateProgress maps elapsed time onto 5..95 so that the terminal write is
// the only one reaching 100.
func estimateProgress(elapsed, expected time.Duration) int {
	if expected <= 0 {
		return 5
	}
	p := 5 + int(90*elapsed/expected)
	if p > 95 {
		p = 95
	}
	return p
}
