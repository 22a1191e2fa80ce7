package repository

import (
	"context"

	"github.com/fathima-sithara/messaging-service/internal/domain"
)

// ConversationRepository is the Conversation Store. Messages are only ever
// appended; a conversation is never replaced as a whole.
type ConversationRepository interface {
	FindByPair(ctx context.Context, a, b string) (*domain.Conversation, error)
	Create(ctx context.Context, conv *domain.Conversation) error
	GetByID(ctx context.Context, id string) (*domain.Conversation, error)
	Exists(ctx context.Context, id string) (bool, error)
	ListByIDs(ctx context.Context, ids []string) ([]*domain.Conversation, error)
	AppendMessage(ctx context.Context, id string, m domain.Message) error
}

// UserRepository is the User Directory. Username lookups are case-insensitive
// and the set mutations are commutative.
type UserRepository interface {
	FindByUsername(ctx context.Context, username string) (*domain.User, error)
	Insert(ctx context.Context, u *domain.User) error
	AddChat(ctx context.Context, username, conversationID string) error
	AddUnread(ctx context.Context, username, conversationID string) error
	RemoveUnread(ctx context.Context, username, conversationID string) error
}
