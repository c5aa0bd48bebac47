// Package llm provides the text-generation collaborator used to produce
// message responses. The protocol only ever calls Generate.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Generator produces text from a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Stub is a deterministic local generator. It echoes a bounded prefix of
// the prompt and never fails unless the context is done.
type Stub struct {
	// Prefix is prepended to every response. Default: "Acknowledged: "
	Prefix string

	// MaxEcho bounds the echoed prompt, in runes. Default: 200
	MaxEcho int
}

// Generate implements Generator.
func (s Stub) Generate(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	prefix := s.Prefix
	if prefix == "" {
		prefix = "Acknowledged: "
	}
	maxEcho := s.MaxEcho
	if maxEcho <= 0 {
		maxEcho = 200
	}
	body := strings.Join(strings.Fields(prompt), " ")
	if utf8.RuneCountInString(body) > maxEcho {
		body = string([]rune(body)[:maxEcho]) + "..."
	}
	return prefix + body, nil
}

// Config selects and configures a Generator.
type Config struct {
	// Provider is one of "stub", "anthropic", "openai", "google".
	Provider  string
	Model     string
	APIKey    string
	BaseURL   string
	MaxTokens int
	Timeout   time.Duration
	Retry     RetryConfig
}

// New builds the generator named by cfg.Provider.
func New(cfg Config) (Generator, error) {
	var (
		g   Generator
		err error
	)
	switch strings.ToLower(cfg.Provider) {
	case "", "stub":
		return Stub{}, nil
	case "anthropic":
		g, err = NewAnthropic(cfg)
	case "openai":
		g, err = NewOpenAI(cfg)
	case "google", "gemini":
		g, err = NewGoogle(context.Background(), cfg)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return WithTracing(withTimeout(g, cfg.Timeout), strings.ToLower(cfg.Provider)), nil
}

func withTimeout(g Generator, d time.Duration) Generator {
	if d <= 0 {
		return g
	}
	return GeneratorFunc(func(ctx context.Context, prompt string) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return g.Generate(ctx, prompt)
	})
}

func requireModel(provider string, cfg Config) error {
	if cfg.APIKey == "" {
		return fmt.Errorf("api_key is required for %s", provider)
	}
	if cfg.Model == "" {
		return fmt.Errorf("model is required for %s", provider)
	}
	return nil
}

func maxTokens(cfg Config) int {
	if cfg.MaxTokens > 0 {
		return cfg.MaxTokens
	}
	return 1024
}
