package completion

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// --- OpenAI Configuration ---
const (
	defaultOpenAIURL   = "https://api.openai.com/v1"
	defaultOpenAIModel = "gpt-4-turbo-preview"
)

// OpenAIConfig configures the OpenAI-compatible chat completions backend.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// OpenAI frames the conversation as one system message plus one user message.
type OpenAI struct {
	config     OpenAIConfig
	httpClient *http.Client
}

// --- Structs for chat completions Request/Response ---

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

type chatStreamChunk struct {
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// NewOpenAI creates a hosted chat completions client.
func NewOpenAI(config OpenAIConfig) *OpenAI {
	if config.BaseURL == "" {
		config.BaseURL = defaultOpenAIURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Model == "" {
		config.Model = defaultOpenAIModel
	}
	return &OpenAI{config: config, httpClient: &http.Client{}}
}

func (c *OpenAI) payload(req Request, stream bool) chatRequest {
	model := req.Model
	if model == "" {
		model = c.config.Model
	}
	var messages []chatMessage
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	return chatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	}
}

func (c *OpenAI) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.config.APIKey}
}

func (c *OpenAI) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || c.config.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.config.Timeout)
}

// Complete sends one chat completion request.
func (c *OpenAI) Complete(ctx context.Context, req Request) Result {
	log := zerolog.Ctx(ctx)
	start := time.Now()

	if c.config.APIKey == "" {
		log.Error().Msg("OpenAI API key is not configured")
		return Failed(NewFailure(KindAuthentication, "API key not configured", nil))
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	payload := c.payload(req, false)
	log.Debug().Str("model", payload.Model).Int("prompt_len", len(req.Prompt)).Msg("Calling chat completions API...")

	resp, err := postJSON(ctx, c.httpClient, c.config.BaseURL+"/chat/completions", c.headers(), payload)
	if err != nil {
		f := remoteTransportFailure(err)
		log.Warn().Err(f).Msg("Chat completions request failed")
		return Failed(f)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		f := remoteStatusFailure(resp)
		log.Warn().Err(f).Int("status", resp.StatusCode).Msg("Chat completions API returned an error")
		return Failed(f)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Failed(NewFailure(KindBackend, "failed to decode response", err))
	}
	if len(out.Choices) == 0 {
		return Failed(NewFailure(KindBackend, "no choices found in response", nil))
	}
	choice := out.Choices[0]
	if choice.Message.Content == "" {
		f := NewFailure(KindBackend, "empty completion", nil)
		if choice.FinishReason != "" {
			f.Detail = "finish_reason: " + choice.FinishReason
		}
		log.Warn().Err(f).Msg("Chat completions API returned no text")
		return Failed(f)
	}

	return Result{Text: choice.Message.Content, Model: out.Model, Duration: time.Since(start)}
}

// Stream sends a streaming chat completion request and reads the SSE deltas.
func (c *OpenAI) Stream(ctx context.Context, req Request, onDelta func(string)) Result {
	start := time.Now()

	if c.config.APIKey == "" {
		return Failed(NewFailure(KindAuthentication, "API key not configured", nil))
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := postJSON(ctx, c.httpClient, c.config.BaseURL+"/chat/completions", c.headers(), c.payload(req, true))
	if err != nil {
		return Failed(remoteTransportFailure(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Failed(remoteStatusFailure(resp))
	}

	var (
		text     strings.Builder
		model    string
		finished bool
	)
	err = readSSE(ctx, resp.Body, func(_, data string) error {
		if data == "[DONE]" {
			finished = true
			return errStopStream
		}
		var chunk chatStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return err
		}
		if chunk.Model != "" {
			model = chunk.Model
		}
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			delta := chunk.Choices[0].Delta.Content
			text.WriteString(delta)
			if onDelta != nil {
				onDelta(delta)
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopStream) {
		return Failed(streamFailure(err))
	}
	if !finished {
		return Failed(NewFailure(KindNetwork, "stream ended before completion", nil))
	}
	if text.Len() == 0 {
		return Failed(NewFailure(KindBackend, "empty completion", nil))
	}

	return Result{Text: text.String(), Model: model, Duration: time.Since(start)}
}

// streamFailure classifies an error raised while reading a hosted stream.
func streamFailure(err error) *Failure {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return NewFailure(KindBackend, "malformed stream chunk", err)
	}
	return remoteTransportFailure(err)
}
