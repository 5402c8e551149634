// Package fallback tries a fixed sequence of provider/model pairs until one
// returns a usable reply, shielding each pair with a circuit breaker.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/drover-ai/drover/internal/api"
)

// ErrEmptyResponse marks a model call that succeeded at the transport level
// but carried no text to hand back.
var ErrEmptyResponse = errors.New("model returned an empty response")

// ErrChainExhausted is wrapped into the error returned when every entry in
// the chain has failed.
var ErrChainExhausted = errors.New("all models failed")

// Entry identifies one provider/model pair in the chain.
type Entry struct {
	Provider string
	Model    string
}

func (e Entry) key() string {
	return e.Provider + "/" + e.Model
}

// Chain invokes provider/model pairs in order until one succeeds.
// Each pair has its own circuit breaker so a flapping provider is skipped
// quickly instead of being retried on every call.
type Chain struct {
	entries  []Entry
	registry *api.Registry
	breakers map[string]*gobreaker.CircuitBreaker

	mu               sync.Mutex
	lastUsedProvider string
	lastError        error
}

// NewChain creates a chain over the given entries, resolving adapters
// through the registry at call time.
func NewChain(registry *api.Registry, entries []Entry) *Chain {
	c := &Chain{
		entries:  append([]Entry(nil), entries...),
		registry: registry,
		breakers: make(map[string]*gobreaker.CircuitBreaker, len(entries)),
	}
	for _, e := range c.entries {
		key := e.key()
		if _, ok := c.breakers[key]; ok {
			continue
		}
		c.breakers[key] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        key,
			MaxRequests: 3,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			IsSuccessful: func(err error) bool {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return true
				}
				return err == nil
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Printf("[fallback] breaker %s: %s -> %s", name, from, to)
			},
		})
	}
	return c
}

// Entries returns the configured chain order.
func (c *Chain) Entries() []Entry {
	return append([]Entry(nil), c.entries...)
}

// LastUsedProvider returns the provider of the most recent successful call,
// or the empty string before any success.
func (c *Chain) LastUsedProvider() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUsedProvider
}

// LastError returns the error from the most recent failed entry, or nil when
// the last call succeeded on its first entry.
func (c *Chain) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

// Call tries each entry in order and returns the first non-empty reply.
// An empty reply counts as a failure for that entry and the chain moves on.
// When every entry fails, the returned error lists each provider/model pair
// with its failure so the caller can see the whole cascade.
func (c *Chain) Call(ctx context.Context, prompt string, opts api.Options) (string, error) {
	var failures []string
	var lastErr error

	for _, entry := range c.entries {
		content, err := c.callEntry(ctx, entry, prompt, opts)
		if err == nil {
			c.mu.Lock()
			c.lastUsedProvider = entry.Provider
			c.lastError = lastErr
			c.mu.Unlock()
			return content, nil
		}

		lastErr = err
		failures = append(failures, fmt.Sprintf("%s: %v", entry.key(), err))
		log.Printf("[fallback] %s failed: %v", entry.key(), err)
	}

	c.mu.Lock()
	c.lastError = lastErr
	c.mu.Unlock()

	if len(failures) == 0 {
		return "", fmt.Errorf("%w: chain has no entries", ErrChainExhausted)
	}
	return "", fmt.Errorf("%w: %s", ErrChainExhausted, strings.Join(failures, "; "))
}

func (c *Chain) callEntry(ctx context.Context, entry Entry, prompt string, opts api.Options) (string, error) {
	adapter, err := c.registry.Resolve(entry.Provider, entry.Model)
	if err != nil {
		return "", err
	}

	breaker := c.breakers[entry.key()]
	result, err := breaker.Execute(func() (interface{}, error) {
		resp, err := adapter.Invoke(ctx, prompt, opts)
		if err != nil {
			return nil, err
		}
		msg, ok := resp.First()
		if !ok {
			return nil, ErrEmptyResponse
		}
		return msg.Content, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}
