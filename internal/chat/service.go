package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/kalambet/medchat/internal/engine"
	"github.com/kalambet/medchat/internal/storage"
)

// ErrNotLoaded is returned by Complete when the model was never loaded in
// this process.
var ErrNotLoaded = errors.New("model is not loaded in this process")

// Generator produces the full decoded text (prompt followed by completion)
// for a prompt. engine.Engine satisfies it.
type Generator interface {
	Generate(ctx context.Context, model, prompt string, s engine.Sampling) (string, error)
}

// Journal persists completed exchanges. storage.Store satisfies it.
type Journal interface {
	SaveExchange(ex storage.Exchange) error
}

// DefaultSampling is the fixed generation configuration used for every request.
func DefaultSampling() engine.Sampling {
	return engine.Sampling{
		MaxNewTokens: 200,
		Temperature:  0.7,
		TopP:         0.9,
		DoSample:     true,
	}
}

// Service is the process-wide handle on the model. It is created once at
// startup and shared by every request handler.
type Service struct {
	gen      Generator
	model    string
	sampling engine.Sampling
	slots    *semaphore.Weighted
	journal  Journal

	loadOnce sync.Once
	loadErr  error
	loaded   atomic.Bool
}

// Option configures a Service.
type Option func(*Service)

// WithMaxInFlight bounds how many generations may run at once. Values below
// one are treated as one.
func WithMaxInFlight(n int) Option {
	return func(s *Service) {
		if n < 1 {
			n = 1
		}
		s.slots = semaphore.NewWeighted(int64(n))
	}
}

// WithJournal records every exchange to j. Journal failures are logged and
// never surface to the caller.
func WithJournal(j Journal) Option {
	return func(s *Service) {
		s.journal = j
	}
}

// NewService creates a Service that generates with gen using the named model.
// Generations are serialized unless WithMaxInFlight says otherwise.
func NewService(gen Generator, model string, opts ...Option) *Service {
	s := &Service{
		gen:      gen,
		model:    model,
		sampling: DefaultSampling(),
		slots:    semaphore.NewWeighted(1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Model returns the model name requests are sent to.
func (s *Service) Model() string {
	return s.model
}

// Load runs load exactly once for the lifetime of the Service. Later calls
// return the first call's result without running load again.
func (s *Service) Load(ctx context.Context, load func(ctx context.Context) error) error {
	s.loadOnce.Do(func() {
		s.loadErr = load(ctx)
		if s.loadErr == nil {
			s.loaded.Store(true)
		}
	})
	return s.loadErr
}

// Loaded reports whether Load completed successfully.
func (s *Service) Loaded() bool {
	return s.loaded.Load()
}

// Complete answers message with the model's completion. It returns
// ErrNoInput for an empty message and an *InferenceError for anything that
// goes wrong after that. Cancelling ctx abandons the wait for an inference
// slot but never interrupts a generation that has already started.
func (s *Service) Complete(ctx context.Context, message string) (string, error) {
	if message == "" {
		return "", ErrNoInput
	}

	start := time.Now()
	out, err := s.complete(ctx, message)
	s.record(message, out, err, time.Since(start))
	return out, err
}

func (s *Service) complete(ctx context.Context, message string) (out string, err error) {
	if !s.loaded.Load() {
		return "", &InferenceError{Err: ErrNotLoaded}
	}

	if err := s.slots.Acquire(ctx, 1); err != nil {
		return "", &InferenceError{Err: err}
	}
	defer s.slots.Release(1)

	defer func() {
		if r := recover(); r != nil {
			slog.Error("generator panicked", "panic", r)
			out, err = "", &InferenceError{Err: fmt.Errorf("%v", r)}
		}
	}()

	decoded, err := s.gen.Generate(context.WithoutCancel(ctx), s.model, FormatPrompt(message), s.sampling)
	if err != nil {
		return "", &InferenceError{Err: err}
	}

	text, err := ExtractResponse(decoded)
	if err != nil {
		return "", &InferenceError{Err: err}
	}
	return text, nil
}

func (s *Service) record(message, response string, err error, took time.Duration) {
	if s.journal == nil {
		return
	}
	ex := storage.Exchange{
		ID:         uuid.New().String(),
		CreatedAt:  time.Now().UTC(),
		Model:      s.model,
		Message:    message,
		Response:   response,
		DurationMs: took.Milliseconds(),
	}
	if err != nil {
		ex.Error = err.Error()
	}
	if jerr := s.journal.SaveExchange(ex); jerr != nil {
		slog.Warn("failed to journal exchange", "id", ex.ID, "error", jerr)
	}
}
