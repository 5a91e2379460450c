package refiner

import (
	"context"
	"strings"

	"video-generation-service/internal/domain/ports/adapter"
)

var _ adapter.PromptRefiner = Template{}

// Template folds the reason into the prompt without any external call.
type Template struct{}

func (Template) Refine(_ context.Context, prompt, reason string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	reason = strings.TrimSpace(reason)
	switch {
	case reason == "":
		return prompt, nil
	case prompt == "":
		return reason, nil
	}
	return prompt + "\n\nRevise this scene: " + reason, nil
}
