//go:generate go run go.uber.org/mock/mockgen -source=unread.go -destination=../mocks/mock_signaler.go -package=mocks
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fathima-sithara/messaging-service/internal/domain"
	"github.com/fathima-sithara/messaging-service/internal/repository"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Signaler delivers the "unread changed" signal for a user. Delivery is best effort.
type Signaler interface {
	UnreadChanged(username string)
}

type UnreadNotifier struct {
	users  repository.UserRepository
	signal Signaler
	log    *zap.SugaredLogger
}

func NewUnreadNotifier(users repository.UserRepository, signal Signaler, log *zap.SugaredLogger) *UnreadNotifier {
	return &UnreadNotifier{users: users, signal: signal, log: log}
}

// SetSignaler wires the gateway in after construction; the gateway itself
// depends on the services.
func (n *UnreadNotifier) SetSignaler(s Signaler) { n.signal = s }

// MessageSent marks conv unread for every participant except sender.
func (n *UnreadNotifier) MessageSent(ctx context.Context, conv *domain.Conversation, sender string) error {
	recipients := lo.Filter(conv.Users, func(u string, _ int) bool {
		return !domain.SameUser(u, sender)
	})

	var errs []error
	for _, r := range recipients {
		if err := n.users.AddUnread(ctx, r, conv.ID); err != nil {
			errs = append(errs, fmt.Errorf("mark unread for %s: %w", r, err))
			continue
		}
		n.notify(r)
	}
	if len(errs) > 0 {
		return storeErr("mark unread", errors.Join(errs...))
	}
	return nil
}

// MarkRead removes conversationID from the user's unread set.
func (n *UnreadNotifier) MarkRead(ctx context.Context, conversationID, username string) error {
	if strings.TrimSpace(conversationID) == "" || strings.TrimSpace(username) == "" {
		return invalid("id and username are required")
	}
	if err := n.users.RemoveUnread(ctx, username, conversationID); err != nil {
		return storeErr("mark read", err)
	}
	n.notify(username)
	return nil
}

func (n *UnreadNotifier) Unread(ctx context.Context, username string) ([]string, error) {
	u, err := n.users.FindByUsername(ctx, username)
	if err != nil {
		return nil, storeErr("find user", err)
	}
	return u.Unread, nil
}

func (n *UnreadNotifier) notify(username string) {
	if n.signal == nil {
		return
	}
	n.signal.UnreadChanged(username)
}
