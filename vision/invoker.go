// Package vision obtains the illustrated answer from a vision model, trying a
// credential-free relay before the caller-credentialed API.
package vision

import (
	"context"
	"errors"
	"strings"

	"illustrated_answer/apperr"
	"illustrated_answer/logger"
)

// Endpoint is one way of reaching the model.
type Endpoint interface {
	Name() string
	Generate(ctx context.Context, req Request, apiKey string) (string, error)
}

type Strategy int

const (
	// RelayFirst tries the relay and falls back to the direct path on any failure.
	RelayFirst Strategy = iota
	// DirectOnly skips the relay; a credential is mandatory.
	DirectOnly
)

func (s Strategy) String() string {
	if s == DirectOnly {
		return "direct_only"
	}
	return "relay_first"
}

// Options are chosen per run.
type Options struct {
	Strategy Strategy
	APIKey   string
}

type Invoker struct {
	relay  Endpoint
	direct Endpoint
	log    *logger.Logger
}

// NewInvoker accepts a nil relay, which behaves like a relay that always fails.
func NewInvoker(relay, direct Endpoint, log *logger.Logger) *Invoker {
	if log == nil {
		log = logger.Nop()
	}
	return &Invoker{relay: relay, direct: direct, log: log}
}

// Invoke returns the raw model text. Failures are *apperr.Error values of kind
// CredentialRequired or ModelCall.
func (i *Invoker) Invoke(ctx context.Context, req Request, opts Options) (string, error) {
	var lastErr error
	if opts.Strategy == RelayFirst && i.relay != nil {
		text, err := i.relay.Generate(ctx, req, "")
		if err == nil {
			return text, nil
		}
		i.log.Warn("relay call failed, falling back to direct", "endpoint", i.relay.Name(), "error", err)
		lastErr = err
		if ctx.Err() != nil {
			return "", apperr.ModelCall("model call failed", ctx.Err())
		}
	}

	if strings.TrimSpace(opts.APIKey) == "" {
		if lastErr == nil {
			lastErr = errors.New("no api key supplied")
		}
		return "", apperr.CredentialRequired("an API key is required for the direct model call", lastErr)
	}
	if i.direct == nil {
		return "", apperr.ModelCall("model call failed", errors.New("direct endpoint not configured"))
	}
	text, err := i.direct.Generate(ctx, req, opts.APIKey)
	if err != nil {
		i.log.Error("direct call failed", "endpoint", i.direct.Name(), "error", err)
		return "", apperr.ModelCall("model call failed", err)
	}
	return text, nil
}
