// Package hooks defines the command-hook interface a Proxy Connection calls
// into before forwarding a client message and after an API call's outcome
// is known, letting an embedding application intercept in-band commands
// without the proxy core knowing anything about their grammar.
package hooks

import (
	"context"

	"github.com/botshepherd/wsproxy/pkg/onebot"
)

// Outcome is what a CommandHook decided to do with an incoming client
// message.
type Outcome struct {
	// Handled reports whether the hook fully consumed the message: when
	// true, the original event must not be forwarded to any target.
	Handled bool
	// Response, if non-nil, is delivered back to the client via the
	// target-0 path instead of being sent to any real target.
	Response *onebot.Envelope
}

// CommandHook lets an embedding application recognize and answer in-band
// commands carried inside ordinary client message events (e.g. "#auth
// <key>"), and observe the outcome of API calls the proxy forwards.
type CommandHook interface {
	// Preprocess inspects a decoded client message event before it is
	// forwarded to any target. It returns the (possibly unchanged) event
	// to forward and an Outcome describing whether the hook handled it
	// itself.
	Preprocess(ctx context.Context, connectionID string, env *onebot.Envelope) (*onebot.Envelope, Outcome, error)

	// ObserveAPICall is called after an API-call envelope was sent to a
	// target and its response (if any) is known, so the hook can track
	// side effects (e.g. failed-attempt counters) without participating in
	// the forwarding path itself.
	ObserveAPICall(ctx context.Context, connectionID string, action string, success bool)
}

// NoopHook is a CommandHook that forwards everything unchanged, used when
// no command hook is configured for a connection.
type NoopHook struct{}

func (NoopHook) Preprocess(ctx context.Context, connectionID string, env *onebot.Envelope) (*onebot.Envelope, Outcome, error) {
	return env, Outcome{}, nil
}

func (NoopHook) ObserveAPICall(ctx context.Context, connectionID string, action string, success bool) {
}
