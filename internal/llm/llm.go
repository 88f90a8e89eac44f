// Package llm wraps language-model completion services behind a small
// interface whose calls never fail with a bare error: every outcome is a
// Result.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zulandar/junction/internal/config"
)

// Result is the outcome of one completion: either text or a failure reason.
type Result struct {
	Text string
	Err  error
}

// Ok wraps a successful completion.
func Ok(text string) Result { return Result{Text: text} }

// Fail wraps a failed completion.
func Fail(err error) Result { return Result{Err: err} }

// OK reports whether the completion succeeded.
func (r Result) OK() bool { return r.Err == nil }

// Completer generates reply text for a prompt.
type Completer interface {
	Complete(ctx context.Context, prompt, system string) Result
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, prompt, system string) Result

func (f CompleterFunc) Complete(ctx context.Context, prompt, system string) Result {
	return f(ctx, prompt, system)
}

// ErrEmpty is returned when a provider answers with no text.
var ErrEmpty = errors.New("llm: empty completion")

// New builds the completer named in cfg. It returns nil, nil for provider
// "none".
func New(cfg config.LLMConfig) (Completer, error) {
	switch cfg.Provider {
	case "", "none":
		return nil, nil
	case "anthropic":
		return NewAnthropic(AnthropicOpts{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
			BaseURL:   cfg.BaseURL,
		})
	case "openai":
		return NewOpenAI(OpenAIOpts{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
			BaseURL:   cfg.BaseURL,
		})
	default:
		return nil, fmt.Errorf("llm: provider %q is not supported", cfg.Provider)
	}
}

// guard converts a panic inside a provider SDK into a failed Result.
func guard(r *Result) {
	if p := recover(); p != nil {
		*r = Fail(fmt.Errorf("llm: provider panic: %v", p))
	}
}

func textOrEmpty(s string) Result {
	s = strings.TrimSpace(s)
	if s == "" {
		return Fail(ErrEmpty)
	}
	return Ok(s)
}
