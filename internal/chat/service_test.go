package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/medchat/internal/engine"
	"github.com/kalambet/medchat/internal/storage"
)

// stubGenerator returns whatever fn produces and records the last call.
type stubGenerator struct {
	mu         sync.Mutex
	fn         func(ctx context.Context, prompt string) (string, error)
	lastModel  string
	lastPrompt string
	lastSample engine.Sampling
}

func (g *stubGenerator) Generate(ctx context.Context, model, prompt string, s engine.Sampling) (string, error) {
	g.mu.Lock()
	g.lastModel, g.lastPrompt, g.lastSample = model, prompt, s
	g.mu.Unlock()
	return g.fn(ctx, prompt)
}

func echoGenerator() *stubGenerator {
	return &stubGenerator{fn: func(_ context.Context, prompt string) (string, error) {
		msg := strings.TrimSuffix(strings.TrimPrefix(prompt, "### Instruction:\n"), "\n\n### Response:")
		return "### Instruction:\n" + msg + "\n\n### Response:\nECHO:" + msg, nil
	}}
}

func loadedService(t *testing.T, gen Generator, opts ...Option) *Service {
	t.Helper()
	svc := NewService(gen, "medllama2", opts...)
	if err := svc.Load(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return svc
}

func TestComplete_Echo(t *testing.T) {
	gen := echoGenerator()
	svc := loadedService(t, gen)

	got, err := svc.Complete(context.Background(), "What is aspirin used for?")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "ECHO:What is aspirin used for?" {
		t.Errorf("got %q", got)
	}
	if gen.lastModel != "medllama2" {
		t.Errorf("model = %q, want medllama2", gen.lastModel)
	}
	if gen.lastPrompt != FormatPrompt("What is aspirin used for?") {
		t.Errorf("prompt = %q", gen.lastPrompt)
	}
}

func TestComplete_FixedSampling(t *testing.T) {
	gen := echoGenerator()
	svc := loadedService(t, gen)

	if _, err := svc.Complete(context.Background(), "hi"); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	want := engine.Sampling{MaxNewTokens: 200, Temperature: 0.7, TopP: 0.9, DoSample: true}
	if gen.lastSample != want {
		t.Errorf("sampling = %+v, want %+v", gen.lastSample, want)
	}
}

func TestComplete_EmptyMessage(t *testing.T) {
	svc := loadedService(t, echoGenerator())
	if _, err := svc.Complete(context.Background(), ""); !errors.Is(err, ErrNoInput) {
		t.Errorf("err = %v, want ErrNoInput", err)
	}
}

func TestComplete_GeneratorFailureKeepsText(t *testing.T) {
	gen := &stubGenerator{fn: func(context.Context, string) (string, error) {
		return "", errors.New("CUDA out of memory")
	}}
	svc := loadedService(t, gen)

	_, err := svc.Complete(context.Background(), "hi")
	var ie *InferenceError
	if !errors.As(err, &ie) {
		t.Fatalf("err = %T %v, want *InferenceError", err, err)
	}
	if err.Error() != "CUDA out of memory" {
		t.Errorf("Error() = %q, want the raw failure text", err.Error())
	}
}

func TestComplete_FailureDoesNotPoisonLaterCalls(t *testing.T) {
	var calls atomic.Int32
	gen := &stubGenerator{fn: func(_ context.Context, prompt string) (string, error) {
		if calls.Add(1) == 1 {
			return "", errors.New("transient")
		}
		return prompt + " fine", nil
	}}
	svc := loadedService(t, gen)

	if _, err := svc.Complete(context.Background(), "one"); err == nil {
		t.Fatal("expected first call to fail")
	}
	got, err := svc.Complete(context.Background(), "two")
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if got != "fine" {
		t.Errorf("got %q, want %q", got, "fine")
	}
}

func TestComplete_PanicBecomesInferenceError(t *testing.T) {
	gen := &stubGenerator{fn: func(context.Context, string) (string, error) {
		panic("tensor shape mismatch")
	}}
	svc := loadedService(t, gen)

	_, err := svc.Complete(context.Background(), "hi")
	var ie *InferenceError
	if !errors.As(err, &ie) {
		t.Fatalf("err = %v, want *InferenceError", err)
	}
	if err.Error() != "tensor shape mismatch" {
		t.Errorf("Error() = %q", err.Error())
	}

	// The slot must have been released.
	gen.fn = func(_ context.Context, prompt string) (string, error) { return prompt + "ok", nil }
	if _, err := svc.Complete(context.Background(), "again"); err != nil {
		t.Errorf("call after panic: %v", err)
	}
}

func TestComplete_MissingMarkerIsAnError(t *testing.T) {
	gen := &stubGenerator{fn: func(context.Context, string) (string, error) {
		return "no marker here", nil
	}}
	svc := loadedService(t, gen)

	_, err := svc.Complete(context.Background(), "hi")
	if !errors.Is(err, ErrMissingMarker) {
		t.Errorf("err = %v, want ErrMissingMarker", err)
	}
}

func TestComplete_NotLoaded(t *testing.T) {
	svc := NewService(echoGenerator(), "medllama2")
	_, err := svc.Complete(context.Background(), "hi")
	if !errors.Is(err, ErrNotLoaded) {
		t.Errorf("err = %v, want ErrNotLoaded", err)
	}
}

func TestLoad_RunsOnce(t *testing.T) {
	svc := NewService(echoGenerator(), "medllama2")
	var n int
	load := func(context.Context) error {
		n++
		return errors.New("weights missing")
	}

	err1 := svc.Load(context.Background(), load)
	err2 := svc.Load(context.Background(), load)
	if n != 1 {
		t.Errorf("loader ran %d times, want 1", n)
	}
	if err1 == nil || err2 == nil || err1.Error() != err2.Error() {
		t.Errorf("errors = %v, %v; want the same load error twice", err1, err2)
	}
	if svc.Loaded() {
		t.Error("Loaded() = true after failed load")
	}
}

func TestComplete_SerializesGenerations(t *testing.T) {
	var inFlight, peak atomic.Int32
	gen := &stubGenerator{fn: func(_ context.Context, prompt string) (string, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return prompt + "x", nil
	}}
	svc := loadedService(t, gen)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Complete(context.Background(), "q"); err != nil {
				t.Errorf("Complete: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := peak.Load(); got != 1 {
		t.Errorf("peak concurrent generations = %d, want 1", got)
	}
}

func TestComplete_CallerCancelDoesNotInterruptGeneration(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var sawCancel atomic.Bool
	gen := &stubGenerator{fn: func(ctx context.Context, prompt string) (string, error) {
		close(started)
		<-release
		if ctx.Err() != nil {
			sawCancel.Store(true)
		}
		return prompt + "done", nil
	}}
	svc := loadedService(t, gen)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := svc.Complete(ctx, "q")
		done <- err
	}()

	<-started
	cancel()
	close(release)

	if err := <-done; err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if sawCancel.Load() {
		t.Error("generator observed caller cancellation")
	}
}

type memJournal struct {
	mu  sync.Mutex
	got []storage.Exchange
	err error
}

func (j *memJournal) SaveExchange(ex storage.Exchange) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.got = append(j.got, ex)
	return j.err
}

func TestComplete_Journal(t *testing.T) {
	j := &memJournal{}
	gen := echoGenerator()
	svc := loadedService(t, gen, WithJournal(j))

	if _, err := svc.Complete(context.Background(), "hi"); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	gen.fn = func(context.Context, string) (string, error) { return "", errors.New("boom") }
	svc.Complete(context.Background(), "again")

	if len(j.got) != 2 {
		t.Fatalf("journaled %d exchanges, want 2", len(j.got))
	}
	if j.got[0].Response != "ECHO:hi" || j.got[0].Error != "" {
		t.Errorf("first exchange = %+v", j.got[0])
	}
	if j.got[1].Error != "boom" {
		t.Errorf("second exchange error = %q, want boom", j.got[1].Error)
	}
	if j.got[0].ID == "" || j.got[0].Model != "medllama2" {
		t.Errorf("first exchange missing id/model: %+v", j.got[0])
	}
}

func TestComplete_JournalFailureIsIgnored(t *testing.T) {
	j := &memJournal{err: errors.New("database is locked")}
	svc := loadedService(t, echoGenerator(), WithJournal(j))

	got, err := svc.Complete(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "ECHO:hi" {
		t.Errorf("got %q", got)
	}
}
