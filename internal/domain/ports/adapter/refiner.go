package adapter

import "context"

// PromptRefiner folds a human regeneration reason ("bad lighting") into the
// prompt of the scene being regenerated.
type PromptRefiner interface {
	Refine(ctx context.Context, prompt, reason string) (string, error)
}
