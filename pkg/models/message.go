package models

import "time"

// MessageType classifies a message exchanged between agents.
type MessageType string

const (
	// MessageTypeRequest expects a correlated response.
	MessageTypeRequest MessageType = "request"
	// MessageTypeResponse answers a prior request.
	MessageTypeResponse MessageType = "response"
	// MessageTypeInfo carries information with no reply expected.
	MessageTypeInfo MessageType = "info"
	// MessageTypeError reports a failure to the recipient.
	MessageTypeError MessageType = "error"
)

// BroadcastRecipient is the wildcard recipient meaning "every subscriber
// except the sender".
const BroadcastRecipient = "*"

// AgentMessage is a message routed between named agents on the bus.
type AgentMessage struct {
	// Sender is the agent identifier of the originator.
	Sender string `json:"sender"`
	// Recipient is the agent identifier of the destination, or
	// BroadcastRecipient for fan-out delivery.
	Recipient string `json:"recipient"`
	// Type classifies the message.
	Type MessageType `json:"message_type"`
	// Content is the text payload.
	Content string `json:"content"`
	// CorrelationID links a response to its request. Empty outside
	// request/response exchanges; assigned by the bus at request time.
	CorrelationID string `json:"correlation_id,omitempty"`
	// Timestamp is when the message was created.
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage creates a message with the timestamp set to now.
func NewMessage(sender, recipient string, msgType MessageType, content string) *AgentMessage {
	return &AgentMessage{
		Sender:    sender,
		Recipient: recipient,
		Type:      msgType,
		Content:   content,
		Timestamp: time.Now(),
	}
}
