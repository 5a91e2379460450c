package refiner

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog"

	"video-generation-service/internal/domain/ports/adapter"
)

var _ adapter.PromptRefiner = (*OpenAI)(nil)

const systemPrompt = `You rewrite prompts for a text-to-video model. You receive the current scene
prompt and a reviewer's reason for regenerating it. Reply with the revised prompt only.`

// OpenAI asks a chat model to rewrite the scene prompt. Any failure falls back
// to the template refiner so that a regeneration never fails on refinement.
type OpenAI struct {
	client    openai.Client
	model     string
	maxTokens int
	enc       *tiktoken.Tiktoken
	fallback  Template
	log       *zerolog.Logger
}

// NewOpenAI builds the refiner. opts are passed to the OpenAI client, for
// example option.WithBaseURL for a compatible gateway.
func NewOpenAI(apiKey, model string, maxPromptTokens int, logger *zerolog.Logger, opts ...option.RequestOption) (*OpenAI, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key empty")
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	l := logger.With().Str("component", "openai_refiner").Logger()
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
	}
	if err != nil {
		// Without an encoder prompts are sent untrimmed.
		l.Warn().Err(err).Msg("tiktoken encoding unavailable")
		enc = nil
	}
	return &OpenAI{
		client:    openai.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...),
		model:     model,
		maxTokens: maxPromptTokens,
		enc:       enc,
		log:       &l,
	}, nil
}

func (o *OpenAI) Refine(ctx context.Context, prompt, reason string) (string, error) {
	if strings.TrimSpace(reason) == "" {
		return o.fallback.Refine(ctx, prompt, reason)
	}
	prompt = o.clip(prompt)

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(fmt.Sprintf("Prompt:\n%s\n\nReason:\n%s", prompt, reason)),
		},
	}
	if o.maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(o.maxTokens))
	}
	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err == nil && len(resp.Choices) > 0 {
		if out := strings.TrimSpace(resp.Choices[0].Message.Content); out != "" {
			return out, nil
		}
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	o.log.Warn().Err(err).Msg("prompt refinement failed; using template")
	return o.fallback.Refine(ctx, prompt, reason)
}

// clip keeps the prompt within the configured token budget.
func (o *OpenAI) clip(prompt string) string {
	if o.enc == nil || o.maxTokens <= 0 {
		return prompt
	}
	tokens := o.enc.Encode(prompt, nil, nil)
	if len(tokens) <= o.maxTokens {
		return prompt
	}
	return o.enc.Decode(tokens[:o.maxTokens])
}
