//go:generate go run go.uber.org/mock/mockgen -source=publisher.go -destination=../mocks/mock_publisher.go -package=mocks
package events

import (
	"context"
	"time"

	"github.com/fathima-sithara/messaging-service/internal/domain"
)

const (
	TypeMessageSent         = "message.sent"
	TypeConversationCreated = "conversation.created"
)

// Event is published for downstream consumers such as the notification service.
type Event struct {
	Type           string          `json:"type"`
	ConversationID string          `json:"conversation_id"`
	Participants   []string        `json:"participants"`
	Sender         string          `json:"sender,omitempty"`
	Message        *domain.Message `json:"message,omitempty"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, key string, evt Event) error
	Close() error
}

// Noop is used when kafka is disabled.
type Noop struct{}

func (Noop) Publish(context.Context, string, Event) error { return nil }
func (Noop) Close() error                                  { return nil }
