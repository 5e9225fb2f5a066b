/*
Package completion sends a composed prompt to a text-generation backend.

Backends are interchangeable implementations of Client: a locally hosted model
(Ollama) and hosted APIs (OpenAI-compatible chat completions, Gemini). Every
failure comes back as a typed *Failure inside the Result, never as a panic.
No backend retries on its own; WithRetry is the caller's opt-in.
*/
package completion

import (
	"context"
	"time"
)

// Request is one generation call.
type Request struct {
	Model       string
	System      string // system instruction; local backends prepend nothing if empty
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// Result is either generated text or a Failure.
type Result struct {
	Text     string
	Model    string
	Failure  *Failure
	Duration time.Duration
}

// OK reports whether the call produced text.
func (r Result) OK() bool { return r.Failure == nil }

// Err returns the failure as an error, or nil.
func (r Result) Err() error {
	if r.Failure == nil {
		return nil
	}
	return r.Failure
}

// Failed wraps a failure in a Result.
func Failed(f *Failure) Result { return Result{Failure: f} }

// Client is the capability every backend provides.
type Client interface {
	Complete(ctx context.Context, req Request) Result
}

// Streamer is implemented by backends that can deliver text incrementally.
// onDelta receives each fragment in order; the final Result holds the full text.
type Streamer interface {
	Stream(ctx context.Context, req Request, onDelta func(delta string)) Result
}

// Func adapts a plain function to Client.
type Func func(ctx context.Context, req Request) Result

func (f Func) Complete(ctx context.Context, req Request) Result { return f(ctx, req) }

// Backend names accepted by New.
const (
	BackendOllama = "ollama"
	BackendOpenAI = "openai"
	BackendGemini = "gemini"
)
