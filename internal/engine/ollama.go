package engine

import (
	"context"

	"github.com/kalambet/medchat/internal/ollama"
)

// OllamaEngine adapts the internal/ollama.Client to the Engine interface.
type OllamaEngine struct {
	client *ollama.Client
}

// NewOllamaEngine creates an OllamaEngine backed by an Ollama server at baseURL.
func NewOllamaEngine(baseURL string) *OllamaEngine {
	return &OllamaEngine{client: ollama.New(baseURL)}
}

// Generate sends prompt in raw mode and returns prompt+completion, the same
// shape a tokenizer decode of the whole output sequence would produce.
func (e *OllamaEngine) Generate(ctx context.Context, model, prompt string, s Sampling) (string, error) {
	opts := ollama.Options{
		NumPredict:  s.MaxNewTokens,
		Temperature: s.Temperature,
		TopP:        s.TopP,
	}
	if !s.DoSample {
		// Ollama decodes greedily at temperature 0.
		opts.Temperature = 0
	}
	completion, err := e.client.Generate(ctx, model, prompt, opts)
	if err != nil {
		return "", err
	}
	return prompt + completion, nil
}

func (e *OllamaEngine) IsRunning(ctx context.Context) bool {
	return e.client.IsRunning(ctx)
}

func (e *OllamaEngine) ListModels(ctx context.Context) ([]string, error) {
	return e.client.ListModels(ctx)
}

func (e *OllamaEngine) HasModel(ctx context.Context, name string) bool {
	return e.client.HasModel(ctx, name)
}

func (e *OllamaEngine) PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error {
	var cb func(ollama.PullProgress)
	if onProgress != nil {
		cb = func(p ollama.PullProgress) {
			onProgress(PullProgress{
				Status:    p.Status,
				Total:     p.Total,
				Completed: p.Completed,
			})
		}
	}
	return e.client.PullModel(ctx, name, cb)
}
