package channel

import (
	"fmt"
	"time"
)

// Type identifies a messaging platform.
type Type string

const (
	TypeWhatsApp  Type = "whatsapp"
	TypeMessenger Type = "messenger"
	TypeTelegram  Type = "telegram"
	TypeDiscord   Type = "discord"
)

func (t Type) String() string {
	return string(t)
}

// InboundMessage is a normalized message produced by the webhook gateway from a
// platform-specific payload. Identity is (Channel, ID); the struct is never
// mutated after creation.
type InboundMessage struct {
	ID         string            `json:"id"`
	Channel    Type              `json:"channel"`
	SenderID   string            `json:"sender_id"`
	SenderName string            `json:"sender_name,omitempty"`
	Text       string            `json:"text"`
	Timestamp  time.Time         `json:"timestamp"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// QueueItem is the unit of work handed from the gateway to the worker. Owned by
// the queue between enqueue and the single successful dequeue.
type QueueItem struct {
	Region     string         `json:"region"`
	Channel    Type           `json:"channel"`
	Message    InboundMessage `json:"message"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
}

// QuickReply is a tap-to-send suggestion attached to an outbound message.
type QuickReply struct {
	Title   string `json:"title"`
	Payload string `json:"payload"`
}

// Button is an interactive button attached to an outbound message.
type Button struct {
	Title   string `json:"title"`
	Payload string `json:"payload"`
}

// DeliveryError reports a failed send through a channel API. Callers decide
// whether to retry, fall back, or only log.
type DeliveryError struct {
	Channel Type
	Code    string
	Err     error
}

func (e *DeliveryError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s delivery failed (%s): %v", e.Channel, e.Code, e.Err)
	}
	return fmt.Sprintf("%s delivery failed: %v", e.Channel, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}
