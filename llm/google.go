package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Google generates responses with the Gemini API.
type Google struct {
	client *genai.Client
	model  *genai.GenerativeModel
	retry  RetryConfig
}

// NewGoogle creates a Gemini generator.
func NewGoogle(ctx context.Context, cfg Config) (*Google, error) {
	if err := requireModel("google", cfg); err != nil {
		return nil, err
	}

	opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithEndpoint(cfg.BaseURL))
	}
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create google client: %w", err)
	}

	model := client.GenerativeModel(cfg.Model)
	n := int32(maxTokens(cfg))
	model.MaxOutputTokens = &n

	return &Google{client: client, model: model, retry: cfg.Retry}, nil
}

// Generate implements Generator.
func (g *Google) Generate(ctx context.Context, prompt string) (string, error) {
	return g.retry.do(ctx, func() (string, error) {
		resp, err := g.model.GenerateContent(ctx, genai.Text(prompt))
		if err != nil {
			return "", fmt.Errorf("google: %w", err)
		}

		var sb strings.Builder
		for _, cand := range resp.Candidates {
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				if t, ok := part.(genai.Text); ok {
					sb.WriteString(string(t))
				}
			}
			break
		}
		return sb.String(), nil
	})
}

// Close releases the underlying client.
func (g *Google) Close() error {
	return g.client.Close()
}
