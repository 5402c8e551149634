package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/drover-ai/drover/pkg/models"
)

func TestSendDeliversToSubscriber(t *testing.T) {
	b := New()
	var got []*models.AgentMessage
	b.Subscribe("browser_agent", func(ctx context.Context, msg *models.AgentMessage) error {
		got = append(got, msg)
		return nil
	})

	msg := models.NewMessage("orchestrator", "browser_agent", models.MessageTypeInfo,
		"Please find the API documentation for pandas")
	b.Send(context.Background(), msg)

	if len(got) != 1 {
		t.Fatalf("expected exactly one delivery, got %d", len(got))
	}
	if got[0].Content != "Please find the API documentation for pandas" {
		t.Errorf("content changed in transit: %q", got[0].Content)
	}
}

func TestSendNoSubscribersIsNoOp(t *testing.T) {
	b := New()
	// Should not panic or block.
	b.Send(context.Background(), models.NewMessage("a", "nobody", models.MessageTypeInfo, "hi"))
}

func TestSendMultipleHandlersInOrder(t *testing.T) {
	b := New()
	var order []int
	b.Subscribe("agent", func(ctx context.Context, msg *models.AgentMessage) error {
		order = append(order, 1)
		return nil
	})
	b.Subscribe("agent", func(ctx context.Context, msg *models.AgentMessage) error {
		order = append(order, 2)
		return nil
	})

	b.Send(context.Background(), models.NewMessage("x", "agent", models.MessageTypeInfo, "m"))

	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("expected subscription-order delivery, got %v", order)
	}
}

func TestHandlerFailureDoesNotStopDelivery(t *testing.T) {
	b := New()
	delivered := false
	b.Subscribe("agent", func(ctx context.Context, msg *models.AgentMessage) error {
		return errors.New("broken subscriber")
	})
	b.Subscribe("agent", func(ctx context.Context, msg *models.AgentMessage) error {
		panic("really broken subscriber")
	})
	b.Subscribe("agent", func(ctx context.Context, msg *models.AgentMessage) error {
		delivered = true
		return nil
	})

	// Must not panic.
	b.Send(context.Background(), models.NewMessage("x", "agent", models.MessageTypeInfo, "m"))

	if !delivered {
		t.Error("third handler should still receive the message")
	}
}

func TestBroadcastSkipsSender(t *testing.T) {
	b := New()
	var mu sync.Mutex
	received := make(map[string]int)
	subscribe := func(id string) {
		b.Subscribe(id, func(ctx context.Context, msg *models.AgentMessage) error {
			mu.Lock()
			received[id]++
			mu.Unlock()
			return nil
		})
	}
	subscribe("orchestrator")
	subscribe("agent_a")
	subscribe("agent_b")

	b.Broadcast(context.Background(), models.NewMessage("orchestrator", models.BroadcastRecipient, models.MessageTypeInfo, "hello"))

	if received["agent_a"] != 1 || received["agent_b"] != 1 {
		t.Errorf("expected both agents to receive broadcast, got %v", received)
	}
	if received["orchestrator"] != 0 {
		t.Error("broadcast must never loop back to the sender")
	}
}

func TestSendToWildcardRecipientBroadcasts(t *testing.T) {
	b := New()
	count := 0
	b.Subscribe("agent_a", func(ctx context.Context, msg *models.AgentMessage) error {
		count++
		return nil
	})

	b.Send(context.Background(), models.NewMessage("sender", models.BroadcastRecipient, models.MessageTypeInfo, "m"))

	if count != 1 {
		t.Errorf("expected wildcard send to reach subscriber, got %d deliveries", count)
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	count := 0
	b.Subscribe("agent", func(ctx context.Context, msg *models.AgentMessage) error {
		count++
		return nil
	})
	b.Unsubscribe("agent")

	b.Send(context.Background(), models.NewMessage("x", "agent", models.MessageTypeInfo, "m"))

	if count != 0 {
		t.Errorf("expected no deliveries after unsubscribe, got %d", count)
	}
}

func TestRequestResponse(t *testing.T) {
	b := New()
	b.Subscribe("responder", func(ctx context.Context, msg *models.AgentMessage) error {
		b.Respond(msg, "Echo: "+msg.Content)
		return nil
	})

	req := models.NewMessage("requester", "responder", models.MessageTypeRequest, "Hello")
	resp, err := b.Request(context.Background(), req, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resp.Sender != "responder" {
		t.Errorf("expected sender responder, got %q", resp.Sender)
	}
	if resp.Recipient != "requester" {
		t.Errorf("expected recipient requester, got %q", resp.Recipient)
	}
	if resp.Content != "Echo: Hello" {
		t.Errorf("expected echoed content, got %q", resp.Content)
	}
	if resp.Type != models.MessageTypeResponse {
		t.Errorf("expected response type, got %s", resp.Type)
	}
	if resp.CorrelationID == "" || resp.CorrelationID != req.CorrelationID {
		t.Errorf("correlation id mismatch: req=%q resp=%q", req.CorrelationID, resp.CorrelationID)
	}
}

func TestRequestTimeout(t *testing.T) {
	b := New()
	b.Subscribe("silent", func(ctx context.Context, msg *models.AgentMessage) error {
		return nil // never responds
	})

	req := models.NewMessage("requester", "silent", models.MessageTypeRequest, "anyone there?")
	_, err := b.Request(context.Background(), req, 20*time.Millisecond)
	if !errors.Is(err, ErrRequestTimeout) {
		t.Fatalf("expected ErrRequestTimeout, got %v", err)
	}

	// The slot must be gone; a late respond is a silent no-op.
	b.Respond(req, "too late")
}

func TestRespondResolvesAtMostOnce(t *testing.T) {
	b := New()
	responses := 0
	b.Subscribe("responder", func(ctx context.Context, msg *models.AgentMessage) error {
		b.Respond(msg, "first")
		b.Respond(msg, "second")
		return nil
	})

	resp, err := b.Request(context.Background(), models.NewMessage("requester", "responder", models.MessageTypeRequest, "q"), time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	responses++

	if resp.Content != "first" {
		t.Errorf("first responder must win, got %q", resp.Content)
	}
	if responses != 1 {
		t.Errorf("expected one response, got %d", responses)
	}
}

func TestRespondWithoutCorrelationIDIsNoOp(t *testing.T) {
	b := New()
	b.Respond(models.NewMessage("a", "b", models.MessageTypeInfo, "no correlation"), "resp")
}

func TestRequestContextCancelled(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Request(ctx, models.NewMessage("requester", "silent", models.MessageTypeRequest, "q"), time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestConcurrentRequests(t *testing.T) {
	b := New()
	b.Subscribe("responder", func(ctx context.Context, msg *models.AgentMessage) error {
		b.Respond(msg, "re: "+msg.Content)
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			content := string(rune('a' + n))
			resp, err := b.Request(context.Background(),
				models.NewMessage("requester", "responder", models.MessageTypeRequest, content), time.Second)
			if err != nil {
				t.Errorf("request %d failed: %v", n, err)
				return
			}
			if resp.Content != "re: "+content {
				t.Errorf("request %d got cross-wired response %q", n, resp.Content)
			}
		}(i)
	}
	wg.Wait()
}
