package engine

import "context"

// Engine abstracts the model-serving backend. The chat service only needs
// Generate; the remaining methods back the startup readiness check and the
// health endpoint.
type Engine interface {
	// Generate runs prompt through model and returns the full decoded text:
	// the prompt followed by the completion.
	Generate(ctx context.Context, model, prompt string, s Sampling) (string, error)

	// IsRunning reports whether the inference backend is reachable.
	IsRunning(ctx context.Context) bool

	// ListModels returns the names of all locally available models.
	ListModels(ctx context.Context) ([]string, error)

	// HasModel reports whether the given model name is available locally.
	HasModel(ctx context.Context, name string) bool

	// PullModel downloads a model. The optional callback receives progress updates.
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}
