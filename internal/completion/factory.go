package completion

import (
	"fmt"
	"time"
)

// Options selects and configures a backend.
type Options struct {
	Backend string
	BaseURL string
	Model   string
	APIKey  string
	Timeout time.Duration
	Retry   RetryPolicy
}

// New builds the backend named by opts.Backend, wrapped in the retry policy.
func New(opts Options) (Client, error) {
	var c Client
	switch opts.Backend {
	case BackendOllama:
		c = NewOllama(OllamaConfig{BaseURL: opts.BaseURL, Model: opts.Model, Timeout: opts.Timeout})
	case BackendOpenAI:
		c = NewOpenAI(OpenAIConfig{APIKey: opts.APIKey, BaseURL: opts.BaseURL, Model: opts.Model, Timeout: opts.Timeout})
	case BackendGemini:
		c = NewGemini(GeminiConfig{APIKey: opts.APIKey, BaseURL: opts.BaseURL, Model: opts.Model, Timeout: opts.Timeout})
	default:
		return nil, fmt.Errorf("unknown completion backend %q", opts.Backend)
	}
	return WithRetry(c, opts.Retry), nil
}

