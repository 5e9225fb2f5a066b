/*
Package planner runs one plan request end to end: it renders the prompt from the
current profile and conversation, calls the completion backend, and records the
exchange in memory.

Per request the pipeline moves Idle -> Composing -> AwaitingBackend -> Done | Failed.
Only a successful request touches memory, and it appends the user turn and the
assistant turn together, so the log never holds a question without its answer.
A failed, rejected or abandoned request leaves memory exactly as it was.
*/
package planner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"NutriPlan/internal/completion"
	"NutriPlan/internal/memory"
	"NutriPlan/internal/profile"
	"NutriPlan/internal/prompt"
	"github.com/rs/zerolog"
)

// State is a pipeline state.
type State int

const (
	StateIdle State = iota
	StateComposing
	StateAwaitingBackend
	StateDone
	StateFailed
)

var stateNames = [...]string{"idle", "composing", "awaiting_backend", "done", "failed"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// MarshalText renders the state by name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown pipeline state %q", b)
}

// Outcome is the terminal result of one request: Done with Text, or Failed with Failure.
type Outcome struct {
	State   State
	Text    string
	Failure *completion.Failure
	Prompt  string
}

// Message is the text to show the user: the plan, or the failure explanation.
func (o Outcome) Message() string {
	if o.Failure != nil {
		return o.Failure.UserMessage()
	}
	return o.Text
}

// Settings are the fixed generation parameters of a deployment.
type Settings struct {
	Model       string
	Temperature float64
	MaxTokens   int
	// Timeout bounds the backend call. Zero means no bound beyond the caller's context.
	Timeout time.Duration
}

// Pipeline serves a single session. It accepts one request at a time.
type Pipeline struct {
	variant  prompt.Variant
	memory   *memory.Memory
	client   completion.Client
	settings Settings
	history  memory.Renderer

	inflight sync.Mutex   // held for the whole of one request
	memMu    sync.RWMutex // guards memory against readers outside a request

	mu    sync.RWMutex // guards state
	state State
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithHistoryRenderer sets how memory is rendered into the prompt. Default: the full log.
func WithHistoryRenderer(r memory.Renderer) Option {
	return func(p *Pipeline) { p.history = r }
}

// New creates a pipeline that owns mem for the lifetime of the session.
func New(variant prompt.Variant, mem *memory.Memory, client completion.Client, settings Settings, opts ...Option) *Pipeline {
	p := &Pipeline{
		variant:  variant,
		memory:   mem,
		client:   client,
		settings: settings,
		history:  memory.Full{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State reports the current state. Between requests it is Idle.
func (p *Pipeline) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

func (p *Pipeline) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// Variant returns the prompt variant the pipeline renders.
func (p *Pipeline) Variant() prompt.Variant { return p.variant }

// Handle runs one blocking request.
func (p *Pipeline) Handle(ctx context.Context, prof profile.Data, userInput string) Outcome {
	return p.run(ctx, prof, userInput, nil)
}

// HandleStream runs one request, forwarding text fragments to onDelta as they arrive
// when the backend can stream. The partial text is only committed to memory once the
// backend finishes successfully.
func (p *Pipeline) HandleStream(ctx context.Context, prof profile.Data, userInput string, onDelta func(string)) Outcome {
	return p.run(ctx, prof, userInput, onDelta)
}

func (p *Pipeline) run(ctx context.Context, prof profile.Data, userInput string, onDelta func(string)) Outcome {
	log := zerolog.Ctx(ctx)

	if !p.inflight.TryLock() {
		log.Warn().Msg("Rejected plan request: another request is in flight")
		return Outcome{State: StateFailed, Failure: completion.NewFailure(completion.KindBusy, "request already in flight", nil)}
	}
	defer p.inflight.Unlock()
	defer p.setState(StateIdle)

	start := time.Now()
	out := p.execute(ctx, prof, userInput, onDelta)

	ev := log.Info()
	if out.Failure != nil {
		ev = log.Warn().Err(out.Failure).Str("kind", out.Failure.Kind.String())
	}
	ev.Str("state", out.State.String()).
		Dur("duration", time.Since(start)).
		Int("turns", p.TurnCount()).
		Msg("Plan request finished")

	return out
}

func (p *Pipeline) execute(ctx context.Context, prof profile.Data, userInput string, onDelta func(string)) Outcome {
	// 1. Composing
	p.setState(StateComposing)
	p.memMu.RLock()
	history := p.history.Render(p.memory)
	p.memMu.RUnlock()

	rendered, err := p.variant.Template.Render(prof, history, userInput)
	if err != nil {
		return failed(missingSlotFailure(err))
	}

	// 2. AwaitingBackend
	p.setState(StateAwaitingBackend)
	callCtx := ctx
	if p.settings.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, p.settings.Timeout)
		defer cancel()
	}

	req := completion.Request{
		Model:       p.settings.Model,
		System:      p.variant.System,
		Prompt:      rendered,
		Temperature: p.settings.Temperature,
		MaxTokens:   p.settings.MaxTokens,
	}

	var (
		res     completion.Result
		partial strings.Builder
	)
	if s, ok := p.client.(completion.Streamer); ok && onDelta != nil {
		res = s.Stream(callCtx, req, func(d string) {
			partial.WriteString(d)
			onDelta(d)
		})
	} else {
		res = p.client.Complete(callCtx, req)
		if res.OK() && onDelta != nil && res.Text != "" {
			onDelta(res.Text)
		}
	}

	// The caller walked away: nothing from this request may reach memory.
	if errors.Is(ctx.Err(), context.Canceled) {
		return failed(completion.NewFailure(completion.KindCanceled, "request abandoned by caller", ctx.Err()))
	}
	if !res.OK() {
		out := failed(res.Failure)
		out.Prompt = rendered
		return out
	}

	// 3. Done: commit both turns together.
	text := res.Text
	if text == "" && partial.Len() > 0 {
		text = partial.String()
	}
	if strings.TrimSpace(text) == "" {
		out := failed(completion.NewFailure(completion.KindBackend, "backend returned an empty reply", nil))
		out.Prompt = rendered
		return out
	}
	p.memMu.Lock()
	p.memory.Append(memory.RoleUser, userInput)
	p.memory.Append(memory.RoleAssistant, text)
	p.memMu.Unlock()

	return Outcome{State: StateDone, Text: text, Prompt: rendered}
}

/* =================================================================================
							SESSION ACCESS
	Memory is owned by the pipeline; everything outside a request goes through
	these so it never races with a commit.
=================================================================================*/

// Turns returns a copy of the conversation log.
func (p *Pipeline) Turns() []memory.Turn {
	p.memMu.RLock()
	defer p.memMu.RUnlock()
	return p.memory.Turns()
}

// TurnCount returns the number of turns in the log.
func (p *Pipeline) TurnCount() int {
	p.memMu.RLock()
	defer p.memMu.RUnlock()
	return p.memory.Len()
}

// Reset clears the conversation. It is refused while a request is in flight.
func (p *Pipeline) Reset() *completion.Failure {
	return p.exclusive(func() { p.memory.Clear() })
}

// Restore replaces the conversation with turns, as loaded from storage.
// It is refused while a request is in flight.
func (p *Pipeline) Restore(turns []memory.Turn) *completion.Failure {
	return p.exclusive(func() { p.memory.Replace(turns) })
}

func (p *Pipeline) exclusive(fn func()) *completion.Failure {
	if !p.inflight.TryLock() {
		return completion.NewFailure(completion.KindBusy, "request already in flight", nil)
	}
	defer p.inflight.Unlock()

	p.memMu.Lock()
	defer p.memMu.Unlock()
	fn()
	return nil
}

func failed(f *completion.Failure) Outcome {
	return Outcome{State: StateFailed, Failure: f}
}

func missingSlotFailure(err error) *completion.Failure {
	f := completion.NewFailure(completion.KindMissingSlot, "profile incomplete", err)
	var missing *prompt.MissingSlotError
	if errors.As(err, &missing) {
		f.Slot = missing.Slot
	}
	return f
}
