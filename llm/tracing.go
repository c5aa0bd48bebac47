package llm

import (
	"context"

	"github.com/ArnBdev/OneAgent-sub002/telemetry"
)

type tracingGenerator struct {
	gen      Generator
	provider string
}

// WithTracing wraps a generator so every call produces an llm.generate span.
func WithTracing(g Generator, provider string) Generator {
	return &tracingGenerator{gen: g, provider: provider}
}

func (t *tracingGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	tracer := telemetry.GetTracer()
	ctx, span := tracer.StartGenerationSpan(ctx)

	out, err := t.gen.Generate(ctx, prompt)

	tracer.EndGenerationSpan(span, telemetry.GenerationSpanOptions{
		Provider: t.provider,
		Prompt:   prompt,
		Response: out,
	}, err)
	return out, err
}
