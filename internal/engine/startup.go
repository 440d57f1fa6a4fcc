package engine

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/schollz/progressbar/v3"
)

const warmUpTimeout = 30 * time.Second

// EnsureReady checks that the Engine is reachable and model is available,
// pulling it with progress written to w when missing. It then warms the model
// with a one-token generation so the first real request does not pay the
// cold-load penalty. A failed warm-up is reported but not fatal.
func EnsureReady(ctx context.Context, e Engine, model string, w io.Writer) error {
	if !e.IsRunning(ctx) {
		return fmt.Errorf("model service is not running; start it with: ollama serve")
	}

	if e.HasModel(ctx, model) {
		fmt.Fprintf(w, "model %s: ready\n", model)
	} else {
		fmt.Fprintf(w, "model %s: pulling...\n", model)
		pr := newPullRenderer(w)
		err := e.PullModel(ctx, model, pr.update)
		pr.finish()
		if err != nil {
			return fmt.Errorf("pulling model %s: %w", model, err)
		}
		fmt.Fprintf(w, "model %s: ready\n", model)
	}

	fmt.Fprintf(w, "model %s: warming up...\n", model)
	warmCtx, cancel := context.WithTimeout(ctx, warmUpTimeout)
	defer cancel()
	_, err := e.Generate(warmCtx, model, "ping", Sampling{MaxNewTokens: 1})
	if err != nil {
		fmt.Fprintf(w, "model %s: warm-up failed (non-fatal): %v\n", model, err)
	} else {
		fmt.Fprintf(w, "model %s: warm\n", model)
	}

	return nil
}

// pullRenderer draws one progress bar per pulled layer. Ollama streams a new
// total whenever it moves on to the next blob.
type pullRenderer struct {
	w     io.Writer
	bar   *progressbar.ProgressBar
	total int64
}

func newPullRenderer(w io.Writer) *pullRenderer {
	return &pullRenderer{w: w}
}

func (r *pullRenderer) update(p PullProgress) {
	if p.Total <= 0 {
		r.finish()
		fmt.Fprintf(r.w, "  %s\n", p.Status)
		return
	}
	if r.bar == nil || p.Total != r.total {
		r.finish()
		r.total = p.Total
		r.bar = progressbar.NewOptions64(p.Total,
			progressbar.OptionSetWriter(r.w),
			progressbar.OptionSetDescription("  "+p.Status),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "=",
				SaucerHead:    ">",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
		)
	}
	_ = r.bar.Set64(p.Completed)
}

func (r *pullRenderer) finish() {
	if r.bar == nil {
		return
	}
	_ = r.bar.Finish()
	fmt.Fprintln(r.w)
	r.bar = nil
	r.total = 0
}
