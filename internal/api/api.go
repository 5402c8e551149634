// Package api defines the model invocation capability consumed by the
// coordination layer, and provides the Anthropic-backed implementation.
package api

import (
	"context"
	"errors"
)

// ErrAdapterNotFound indicates no adapter is registered for a
// provider/model pair.
var ErrAdapterNotFound = errors.New("no adapter registered")

// Message is a single reply message from a model.
type Message struct {
	// Content is the text of the reply.
	Content string
}

// Response is the reply to a model invocation: an ordered, possibly-empty
// sequence of messages. Callers take the first element or handle emptiness
// explicitly.
type Response struct {
	// Messages are the reply messages in order.
	Messages []Message
	// InputTokens is the prompt token count reported by the provider.
	InputTokens int64
	// OutputTokens is the completion token count reported by the provider.
	OutputTokens int64
}

// First returns the first reply message and whether one exists.
func (r *Response) First() (Message, bool) {
	if r == nil || len(r.Messages) == 0 {
		return Message{}, false
	}
	return r.Messages[0], true
}

// Options tunes a single invocation.
type Options struct {
	// MaxTokens caps the completion length. Zero means the adapter default.
	MaxTokens int64
	// System is an optional system prompt.
	System string
}

// Invoker invokes a model endpoint with a prompt and returns its reply.
type Invoker interface {
	Invoke(ctx context.Context, prompt string, opts Options) (*Response, error)
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, prompt string, opts Options) (*Response, error)

// Invoke calls the wrapped function.
func (f InvokerFunc) Invoke(ctx context.Context, prompt string, opts Options) (*Response, error) {
	return f(ctx, prompt, opts)
}
