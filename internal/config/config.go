/*
Package config reads the deployment settings from the environment.

A .env file in the working directory is loaded first when present. Generation
parameters are fixed per deployment and are never taken from a request.
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"NutriPlan/internal/completion"
	"NutriPlan/internal/database"
	"NutriPlan/internal/profile"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// ErrMissingCredential means a hosted backend was selected without its API key.
	ErrMissingCredential = errors.New("API key not found")
	// ErrUnknownBackend means LLM_BACKEND or TRANSCRIPT_BACKEND names nothing we support.
	ErrUnknownBackend = errors.New("unknown backend")
)

// Transcript backends.
const (
	TranscriptFile     = "file"
	TranscriptPostgres = "postgres"
)

// Config holds every setting the service reads at start-up.
type Config struct {
	Port     int
	AppEnv   string
	LogLevel zerolog.Level

	PromptVariant string

	Backend      string
	Model        string
	BaseURL      string
	APIKey       string
	Temperature  float64
	MaxTokens    int
	Timeout      time.Duration
	MaxRetries   int
	MemoryWindow int

	TranscriptBackend string
	TranscriptPath    string
	SessionName       string
	DatabaseURL       string

	RateLimit float64
}

// IsDevelopment reports whether APP_ENV selects developer-friendly output.
func (c Config) IsDevelopment() bool {
	return c.AppEnv == "" || c.AppEnv == "development" || c.AppEnv == "local"
}

// Load reads .env (if any) and the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found, reading process environment")
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function. Load uses os.Getenv.
func FromEnv(getenv func(string) string) (Config, error) {
	p := parser{getenv: getenv}

	cfg := Config{
		Port:              p.integer("PORT", 8080),
		AppEnv:            p.str("APP_ENV", "development"),
		PromptVariant:     strings.ToLower(p.str("PROMPT_VARIANT", profile.VariantBasic)),
		Backend:           strings.ToLower(p.str("LLM_BACKEND", completion.BackendOllama)),
		Model:             p.str("LLM_MODEL", ""),
		BaseURL:           p.str("LLM_BASE_URL", ""),
		Temperature:       p.number("LLM_TEMPERATURE", 0.7),
		MaxTokens:         p.integer("LLM_MAX_TOKENS", 2000),
		Timeout:           p.duration("COMPLETION_TIMEOUT", 60*time.Second),
		MaxRetries:        p.integer("COMPLETION_MAX_RETRIES", 0),
		MemoryWindow:      p.integer("MEMORY_WINDOW_TURNS", 0),
		TranscriptBackend: strings.ToLower(p.str("TRANSCRIPT_BACKEND", TranscriptFile)),
		TranscriptPath:    p.str("TRANSCRIPT_PATH", "chat_history.json"),
		SessionName:       p.str("SESSION_NAME", "default"),
		DatabaseURL:       p.str("DATABASE_URL", ""),
		RateLimit:         p.number("RATE_LIMIT", 1),
	}

	level, err := zerolog.ParseLevel(strings.ToLower(p.str("LOG_LEVEL", "info")))
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}
	cfg.LogLevel = level

	if err := errors.Join(p.errs...); err != nil {
		return Config{}, err
	}

	switch cfg.PromptVariant {
	case profile.VariantBasic, profile.VariantComprehensive:
	default:
		return Config{}, fmt.Errorf("PROMPT_VARIANT %q: unknown variant", cfg.PromptVariant)
	}

	switch cfg.Backend {
	case completion.BackendOllama:
	case completion.BackendOpenAI:
		cfg.APIKey = getenv("OPENAI_API_KEY")
		if cfg.APIKey == "" {
			return Config{}, fmt.Errorf("OPENAI_API_KEY: %w", ErrMissingCredential)
		}
	case completion.BackendGemini:
		cfg.APIKey = getenv("GEMINI_API_KEY")
		if cfg.APIKey == "" {
			return Config{}, fmt.Errorf("GEMINI_API_KEY: %w", ErrMissingCredential)
		}
	default:
		return Config{}, fmt.Errorf("LLM_BACKEND %q: %w", cfg.Backend, ErrUnknownBackend)
	}

	switch cfg.TranscriptBackend {
	case TranscriptFile:
	case TranscriptPostgres:
		if cfg.DatabaseURL == "" {
			cfg.DatabaseURL = database.Params{
				Host:     getenv("BLUEPRINT_DB_HOST"),
				Port:     p.str("BLUEPRINT_DB_PORT", "5432"),
				Database: getenv("BLUEPRINT_DB_DATABASE"),
				Username: getenv("BLUEPRINT_DB_USERNAME"),
				Password: getenv("BLUEPRINT_DB_PASSWORD"),
				Schema:   getenv("BLUEPRINT_DB_SCHEMA"),
			}.ConnString()
		}
	default:
		return Config{}, fmt.Errorf("TRANSCRIPT_BACKEND %q: %w", cfg.TranscriptBackend, ErrUnknownBackend)
	}

	return cfg, nil
}

// CompletionOptions maps the config onto the backend factory.
func (c Config) CompletionOptions() completion.Options {
	return completion.Options{
		Backend: c.Backend,
		BaseURL: c.BaseURL,
		Model:   c.Model,
		APIKey:  c.APIKey,
		Timeout: c.Timeout,
		Retry:   completion.RetryPolicy{MaxRetries: c.MaxRetries},
	}
}

// parser collects every malformed variable instead of stopping at the first.
type parser struct {
	getenv func(string) string
	errs   []error
}

func (p *parser) str(key, def string) string {
	if v := strings.TrimSpace(p.getenv(key)); v != "" {
		return v
	}
	return def
}

func (p *parser) integer(key string, def int) int {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid non-negative integer %q", key, v))
		return def
	}
	return n
}

func (p *parser) number(key string, def float64) float64 {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid number %q", key, v))
		return def
	}
	return f
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	// Bare numbers are seconds.
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	p.errs = append(p.errs, fmt.Errorf("%s: invalid duration %q", key, v))
	return def
}
