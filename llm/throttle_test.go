package llm

import (
	"context"
	"errors"
	"testing"
)

type recordingLimiter struct {
	acquired []string
	reduced  []string
	deny     error
}

func (r *recordingLimiter) Acquire(ctx context.Context, resource string) error {
	r.acquired = append(r.acquired, resource)
	return r.deny
}

func (r *recordingLimiter) Reduce(resource, reason string) {
	r.reduced = append(r.reduced, resource)
}

func TestThrottle(t *testing.T) {
	tests := []struct {
		name        string
		genErr      error
		deny        error
		wantCalls   int
		wantReduced int
	}{
		{"ok", nil, nil, 1, 0},
		{"rate limited", errors.New("429 Too Many Requests"), nil, 1, 1},
		{"server error", errors.New("503 service unavailable"), nil, 1, 0},
		{"denied", nil, context.Canceled, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			g := GeneratorFunc(func(ctx context.Context, prompt string) (string, error) {
				calls++
				return "out", tt.genErr
			})
			l := &recordingLimiter{deny: tt.deny}

			_, err := Throttle(g, l, "anthropic").Generate(context.Background(), "hi")
			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
			if len(l.reduced) != tt.wantReduced {
				t.Errorf("reduced = %v, want %d", l.reduced, tt.wantReduced)
			}
			if len(l.acquired) != 1 || l.acquired[0] != "anthropic" {
				t.Errorf("acquired = %v", l.acquired)
			}
			if tt.deny != nil && !errors.Is(err, tt.deny) {
				t.Errorf("err = %v, want %v", err, tt.deny)
			}
		})
	}
}

func TestThrottle_NilLimiter(t *testing.T) {
	g := Stub{}
	if _, ok := Throttle(g, nil, "x").(Stub); !ok {
		t.Error("Throttle with nil limiter should return the generator unchanged")
	}
}
