package llm

import "context"

// Limiter gates generation calls per resource. *ratelimit.Limiter and
// *ratelimit.Shared satisfy it.
type Limiter interface {
	Acquire(ctx context.Context, resource string) error
	Reduce(resource, reason string)
}

// Throttle makes every Generate call take a token for resource first.
// Rate-limit failures from the provider reduce the resource's capacity.
func Throttle(g Generator, l Limiter, resource string) Generator {
	if l == nil {
		return g
	}
	return GeneratorFunc(func(ctx context.Context, prompt string) (string, error) {
		if err := l.Acquire(ctx, resource); err != nil {
			return "", err
		}
		out, err := g.Generate(ctx, prompt)
		if err != nil && isRateLimitError(err) {
			l.Reduce(resource, err.Error())
		}
		return out, err
	})
}
