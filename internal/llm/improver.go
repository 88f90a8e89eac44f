package llm

import (
	"context"
	"fmt"
)

const improveSystem = "Rewrite the user's message so it is clear and polite for another agent. " +
	"Keep its meaning. Reply with the rewritten message only."

// Improver rewrites outbound message bodies with a completer.
type Improver struct {
	c      Completer
	system string
}

// NewImprover returns an Improver. An empty system prompt uses a default.
func NewImprover(c Completer, system string) (*Improver, error) {
	if c == nil {
		return nil, fmt.Errorf("llm: improver: completer is required")
	}
	if system == "" {
		system = improveSystem
	}
	return &Improver{c: c, system: system}, nil
}

// Improve returns the rewritten text, or the original text together with an
// error when the completer fails.
func (i *Improver) Improve(ctx context.Context, text string) (string, error) {
	res := i.c.Complete(ctx, text, i.system)
	if !res.OK() {
		return text, fmt.Errorf("llm: improve: %w", res.Err)
	}
	return res.Text, nil
}
