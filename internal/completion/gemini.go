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

// --- Gemini API Configuration ---
const (
	defaultGeminiURL   = "https://generativelanguage.googleapis.com/v1beta"
	defaultGeminiModel = "gemini-2.5-flash"
)

// GeminiConfig configures the Gemini generateContent backend.
type GeminiConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Gemini sends the system instruction and one user content to generateContent.
type Gemini struct {
	config     GeminiConfig
	httpClient *http.Client
}

// --- Structs for Gemini API Request/Response ---

type GeminiPayload struct {
	Contents          []GeminiContent   `json:"contents"`
	SystemInstruction *GeminiContent    `json:"systemInstruction,omitempty"`
	GenerationConfig  *GenerationConfig `json:"generationConfig,omitempty"`
}

type GeminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []GeminiPart `json:"parts"`
}

type GeminiPart struct {
	Text string `json:"text,omitempty"`
}

type GenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type GeminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
	ModelVersion string `json:"modelVersion"`
}

// text concatenates the parts of the first candidate.
func (r GeminiResponse) text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

// NewGemini creates a Gemini client.
func NewGemini(config GeminiConfig) *Gemini {
	if config.BaseURL == "" {
		config.BaseURL = defaultGeminiURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Model == "" {
		config.Model = defaultGeminiModel
	}
	return &Gemini{config: config, httpClient: &http.Client{}}
}

func (g *Gemini) model(req Request) string {
	if req.Model != "" {
		return req.Model
	}
	return g.config.Model
}

func (g *Gemini) payload(req Request) GeminiPayload {
	payload := GeminiPayload{
		Contents: []GeminiContent{
			{Role: "user", Parts: []GeminiPart{{Text: req.Prompt}}},
		},
		GenerationConfig: &GenerationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
		},
	}
	if req.System != "" {
		payload.SystemInstruction = &GeminiContent{Parts: []GeminiPart{{Text: req.System}}}
	}
	return payload
}

func (g *Gemini) headers() map[string]string {
	return map[string]string{"x-goog-api-key": g.config.APIKey}
}

func (g *Gemini) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || g.config.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.config.Timeout)
}

// Complete calls generateContent once.
func (g *Gemini) Complete(ctx context.Context, req Request) Result {
	log := zerolog.Ctx(ctx)
	start := time.Now()

	if g.config.APIKey == "" {
		log.Error().Msg("GEMINI_API_KEY is not configured")
		return Failed(NewFailure(KindAuthentication, "API key not configured", nil))
	}

	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	model := g.model(req)
	url := g.config.BaseURL + "/models/" + model + ":generateContent"
	log.Debug().Str("model", model).Int("prompt_len", len(req.Prompt)).Msg("Calling Gemini API...")

	resp, err := postJSON(ctx, g.httpClient, url, g.headers(), g.payload(req))
	if err != nil {
		f := remoteTransportFailure(err)
		log.Warn().Err(f).Msg("Gemini request failed")
		return Failed(f)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		f := remoteStatusFailure(resp)
		log.Warn().Err(f).Int("status", resp.StatusCode).Msg("Gemini API returned an error")
		return Failed(f)
	}

	var geminiResp GeminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&geminiResp); err != nil {
		return Failed(NewFailure(KindBackend, "failed to decode response", err))
	}
	if f := emptyGeminiFailure(geminiResp); f != nil {
		return Failed(f)
	}

	return Result{Text: geminiResp.text(), Model: model, Duration: time.Since(start)}
}

// Stream calls streamGenerateContent with alt=sse and forwards each text fragment.
func (g *Gemini) Stream(ctx context.Context, req Request, onDelta func(string)) Result {
	start := time.Now()

	if g.config.APIKey == "" {
		return Failed(NewFailure(KindAuthentication, "API key not configured", nil))
	}

	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	model := g.model(req)
	url := g.config.BaseURL + "/models/" + model + ":streamGenerateContent?alt=sse"

	resp, err := postJSON(ctx, g.httpClient, url, g.headers(), g.payload(req))
	if err != nil {
		return Failed(remoteTransportFailure(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Failed(remoteStatusFailure(resp))
	}

	var (
		text         strings.Builder
		finishReason string
	)
	err = readSSE(ctx, resp.Body, func(_, data string) error {
		var chunk GeminiResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return err
		}
		if chunk.PromptFeedback != nil && chunk.PromptFeedback.BlockReason != "" {
			return emptyGeminiFailure(chunk)
		}
		if len(chunk.Candidates) > 0 && chunk.Candidates[0].FinishReason != "" {
			finishReason = chunk.Candidates[0].FinishReason
		}
		if delta := chunk.text(); delta != "" {
			text.WriteString(delta)
			if onDelta != nil {
				onDelta(delta)
			}
		}
		return nil
	})
	if err != nil {
		var f *Failure
		if errors.As(err, &f) {
			return Failed(f)
		}
		return Failed(streamFailure(err))
	}
	// Only the final chunk carries a finish reason.
	if finishReason == "" {
		return Failed(NewFailure(KindNetwork, "stream ended before completion", nil))
	}
	if text.Len() == 0 {
		f := NewFailure(KindBackend, "no content found in Gemini stream", nil)
		f.Detail = "finishReason: " + finishReason
		return Failed(f)
	}

	return Result{Text: text.String(), Model: model, Duration: time.Since(start)}
}

// emptyGeminiFailure explains a 200 response that carries no usable text.
func emptyGeminiFailure(r GeminiResponse) *Failure {
	if r.PromptFeedback != nil && r.PromptFeedback.BlockReason != "" {
		f := NewFailure(KindBackend, "prompt was blocked", nil)
		f.Detail = r.PromptFeedback.BlockReason
		return f
	}
	if r.text() == "" {
		return NewFailure(KindBackend, "no content found in Gemini response", nil)
	}
	return nil
}
