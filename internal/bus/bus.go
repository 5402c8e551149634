// Package bus routes messages between named agents, including correlated
// request/response exchanges.
package bus

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/drover-ai/drover/pkg/models"
)

// ErrRequestTimeout indicates no response arrived within the request timeout.
var ErrRequestTimeout = errors.New("request timed out")

// DefaultRequestTimeout is used when Request is called with a non-positive timeout.
const DefaultRequestTimeout = 30 * time.Second

// Handler processes a message delivered to a subscribed agent.
// A handler error is logged and never propagates to the sender.
type Handler func(ctx context.Context, msg *models.AgentMessage) error

// MessageBus delivers messages to subscribed handlers and correlates
// responses back to pending requesters.
//
// Handlers for one recipient are invoked in subscription order, each fully
// before the next. The pending-response registry is the only shared state a
// responder touches; a correlation ID resolves at most once, first writer
// wins, and the slot is removed on every exit path.
type MessageBus struct {
	mu sync.RWMutex
	// subscribers maps agent ID to its ordered handler list.
	subscribers map[string][]Handler
	// pending maps correlation ID to the one-shot response slot.
	pending map[string]chan *models.AgentMessage
}

// New creates an empty message bus.
func New() *MessageBus {
	return &MessageBus{
		subscribers: make(map[string][]Handler),
		pending:     make(map[string]chan *models.AgentMessage),
	}
}

// Subscribe appends a handler to the agent's handler list.
func (b *MessageBus) Subscribe(agentID string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[agentID] = append(b.subscribers[agentID], handler)
}

// Unsubscribe removes every handler registered for the agent.
func (b *MessageBus) Unsubscribe(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, agentID)
}

// Send delivers the message to every handler registered for its recipient.
// A recipient of models.BroadcastRecipient fans out like Broadcast.
// Handler failures are logged and swallowed; they stop neither delivery to
// subsequent handlers nor the caller.
func (b *MessageBus) Send(ctx context.Context, msg *models.AgentMessage) {
	if msg.Recipient == models.BroadcastRecipient {
		b.Broadcast(ctx, msg)
		return
	}

	b.mu.RLock()
	handlers := append([]Handler(nil), b.subscribers[msg.Recipient]...)
	b.mu.RUnlock()

	b.deliver(ctx, msg.Recipient, handlers, msg)
}

// Broadcast delivers the message to every subscribed agent except the sender.
func (b *MessageBus) Broadcast(ctx context.Context, msg *models.AgentMessage) {
	b.mu.RLock()
	targets := make(map[string][]Handler, len(b.subscribers))
	for agentID, handlers := range b.subscribers {
		if agentID == msg.Sender {
			continue
		}
		targets[agentID] = append([]Handler(nil), handlers...)
	}
	b.mu.RUnlock()

	for agentID, handlers := range targets {
		b.deliver(ctx, agentID, handlers, msg)
	}
}

// Request attaches a fresh correlation ID to the message, sends it, and
// waits until a matching Respond call resolves it or the timeout elapses.
// The pending slot is removed on every exit path, so a late response after
// timeout is a silent no-op rather than a leak.
func (b *MessageBus) Request(ctx context.Context, msg *models.AgentMessage, timeout time.Duration) (*models.AgentMessage, error) {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	correlationID := uuid.NewString()
	msg.CorrelationID = correlationID

	slot := make(chan *models.AgentMessage, 1)
	b.mu.Lock()
	b.pending[correlationID] = slot
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, correlationID)
		b.mu.Unlock()
	}()

	b.Send(ctx, msg)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case response := <-slot:
		return response, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w after %s waiting for %s", ErrRequestTimeout, timeout, msg.Recipient)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Respond resolves the pending request matching the original message's
// correlation ID with a response whose sender and recipient are swapped.
// Responding to an absent or already-resolved correlation ID is a no-op.
func (b *MessageBus) Respond(original *models.AgentMessage, responseContent string) {
	if original.CorrelationID == "" {
		return
	}

	b.mu.Lock()
	slot, ok := b.pending[original.CorrelationID]
	if ok {
		// Claim the slot so a second responder finds nothing.
		delete(b.pending, original.CorrelationID)
	}
	b.mu.Unlock()

	if !ok {
		return
	}

	response := models.NewMessage(original.Recipient, original.Sender, models.MessageTypeResponse, responseContent)
	response.CorrelationID = original.CorrelationID
	slot <- response
}

// deliver invokes each handler in order with per-handler failure isolation.
func (b *MessageBus) deliver(ctx context.Context, agentID string, handlers []Handler, msg *models.AgentMessage) {
	for i, handler := range handlers {
		b.invoke(ctx, agentID, i, handler, msg)
	}
}

// invoke runs a single handler, containing both returned errors and panics.
func (b *MessageBus) invoke(ctx context.Context, agentID string, idx int, handler Handler, msg *models.AgentMessage) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[bus] handler %d for %s panicked on %s message from %s: %v",
				idx, agentID, msg.Type, msg.Sender, r)
		}
	}()

	if err := handler(ctx, msg); err != nil {
		log.Printf("[bus] handler %d for %s failed on %s message from %s: %v",
			idx, agentID, msg.Type, msg.Sender, err)
	}
}
