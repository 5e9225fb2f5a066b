package completion

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// --- Ollama Configuration ---
const (
	defaultOllamaURL   = "http://127.0.0.1:11434"
	defaultOllamaModel = "llama2"
)

// OllamaConfig configures the local-model backend.
type OllamaConfig struct {
	// BaseURL of the Ollama server (default: http://127.0.0.1:11434)
	BaseURL string
	// Model used when the request names none (default: llama2)
	Model string
	// Timeout caps each call when the context carries no deadline. Zero means no cap.
	Timeout time.Duration
}

// Ollama talks to a locally hosted model through Ollama's /api/generate.
// Every failure surfaces as KindBackendUnavailable.
type Ollama struct {
	config     OllamaConfig
	httpClient *http.Client
}

// --- Structs for Ollama API Request/Response ---

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Options *ollamaOptions `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// NewOllama creates a local-model client, filling zero config values with defaults.
func NewOllama(config OllamaConfig) *Ollama {
	if config.BaseURL == "" {
		config.BaseURL = defaultOllamaURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Model == "" {
		config.Model = defaultOllamaModel
	}
	return &Ollama{
		config:     config,
		httpClient: &http.Client{},
	}
}

func (o *Ollama) payload(req Request, stream bool) ollamaGenerateRequest {
	model := req.Model
	if model == "" {
		model = o.config.Model
	}
	return ollamaGenerateRequest{
		Model:  model,
		Prompt: req.Prompt,
		System: req.System,
		Stream: stream,
		Options: &ollamaOptions{
			Temperature: req.Temperature,
			NumPredict:  req.MaxTokens,
		},
	}
}

func (o *Ollama) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || o.config.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.config.Timeout)
}

func unavailable(message string, cause error) *Failure {
	if errors.Is(cause, context.Canceled) {
		return NewFailure(KindCanceled, "request cancelled", cause)
	}
	return NewFailure(KindBackendUnavailable, message, cause)
}

// Complete runs a blocking, non-streaming generation.
func (o *Ollama) Complete(ctx context.Context, req Request) Result {
	log := zerolog.Ctx(ctx)
	start := time.Now()

	ctx, cancel := o.withTimeout(ctx)
	defer cancel()

	payload := o.payload(req, false)
	log.Debug().Str("model", payload.Model).Int("prompt_len", len(req.Prompt)).Msg("Calling local model...")

	resp, err := postJSON(ctx, o.httpClient, o.config.BaseURL+"/api/generate", nil, payload)
	if err != nil {
		return Failed(unavailable("local model request failed", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		f := unavailable("local model returned "+resp.Status, nil)
		f.Detail = readAPIErrorDetail(resp.Body)
		f.Status = resp.StatusCode
		return Failed(f)
	}

	var out ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Failed(unavailable("failed to decode local model response", err))
	}
	if out.Error != "" {
		f := unavailable("local model reported an error", nil)
		f.Detail = out.Error
		return Failed(f)
	}
	if out.Response == "" {
		return Failed(unavailable("local model returned no text", nil))
	}

	return Result{Text: out.Response, Model: out.Model, Duration: time.Since(start)}
}

// Stream runs a streaming generation, reading Ollama's newline-delimited JSON chunks.
func (o *Ollama) Stream(ctx context.Context, req Request, onDelta func(string)) Result {
	start := time.Now()

	ctx, cancel := o.withTimeout(ctx)
	defer cancel()

	resp, err := postJSON(ctx, o.httpClient, o.config.BaseURL+"/api/generate", nil, o.payload(req, true))
	if err != nil {
		return Failed(unavailable("local model request failed", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		f := unavailable("local model returned "+resp.Status, nil)
		f.Detail = readAPIErrorDetail(resp.Body)
		f.Status = resp.StatusCode
		return Failed(f)
	}

	var (
		text  strings.Builder
		model string
		done  bool
	)
	reader := bufio.NewReader(resp.Body)
	for !done {
		if err := ctx.Err(); err != nil {
			return Failed(unavailable("local model stream interrupted", err))
		}

		line, err := reader.ReadBytes('\n')
		if len(strings.TrimSpace(string(line))) > 0 {
			var chunk ollamaGenerateResponse
			if jerr := json.Unmarshal(line, &chunk); jerr != nil {
				return Failed(unavailable("malformed stream chunk", jerr))
			}
			if chunk.Error != "" {
				f := unavailable("local model reported an error", nil)
				f.Detail = chunk.Error
				return Failed(f)
			}
			if chunk.Model != "" {
				model = chunk.Model
			}
			if chunk.Response != "" {
				text.WriteString(chunk.Response)
				if onDelta != nil {
					onDelta(chunk.Response)
				}
			}
			done = chunk.Done
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return Failed(unavailable("local model stream interrupted", err))
		}
	}

	if !done {
		return Failed(unavailable("local model stream ended early", fmt.Errorf("no done marker")))
	}
	if text.Len() == 0 {
		return Failed(unavailable("local model returned no text", nil))
	}
	return Result{Text: text.String(), Model: model, Duration: time.Since(start)}
}
