package vision

import (
	"context"

	"illustrated_answer/generator"
)

// Answerer is satisfied by *Invoker.
type Answerer interface {
	Invoke(ctx context.Context, req Request, opts Options) (string, error)
}

// TermClient lets the term generator share the answer model and its
// per-run strategy.
type TermClient struct {
	Invoker Answerer
	Options Options
}

func (c TermClient) Complete(ctx context.Context, prompt generator.Prompt) (string, error) {
	return c.Invoker.Invoke(ctx, Request{System: prompt.System, Prompt: prompt.User}, c.Options)
}
