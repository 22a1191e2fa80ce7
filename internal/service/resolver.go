package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/fathima-sithara/messaging-service/internal/domain"
	"github.com/fathima-sithara/messaging-service/internal/events"
	"github.com/fathima-sithara/messaging-service/internal/policy"
	"github.com/fathima-sithara/messaging-service/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Resolver maps an unordered pair of usernames to its single conversation.
type Resolver struct {
	convs   repository.ConversationRepository
	users   repository.UserRepository
	policy  policy.Policy
	events  events.Publisher
	log     *zap.SugaredLogger
	retries int

	publishTimeout time.Duration
}

func NewResolver(convs repository.ConversationRepository, users repository.UserRepository, pol policy.Policy, pub events.Publisher, log *zap.SugaredLogger, retries int) *Resolver {
	if retries <= 0 {
		retries = 3
	}
	if pub == nil {
		pub = events.Noop{}
	}
	return &Resolver{convs: convs, users: users, policy: pol, events: pub, log: log, retries: retries, publishTimeout: 2 * time.Second}
}

// WithPublishTimeout bounds how long Resolve waits on the event publisher.
func (r *Resolver) WithPublishTimeout(d time.Duration) *Resolver {
	if d > 0 {
		r.publishTimeout = d
	}
	return r
}

// Resolve returns the id of the conversation between acting and other,
// creating it when the pair has never talked. Calls with the pair in either
// order, concurrent or repeated, yield the same id.
func (r *Resolver) Resolve(ctx context.Context, acting, other string) (string, error) {
	acting, other = strings.TrimSpace(acting), strings.TrimSpace(other)
	if acting == "" || other == "" {
		return "", invalid("both usernames are required")
	}
	if domain.SameUser(acting, other) {
		return "", invalid("cannot open a conversation with yourself")
	}

	self, err := r.users.FindByUsername(ctx, acting)
	if err != nil {
		return "", storeErr("find user "+acting, err)
	}
	peer, err := r.users.FindByUsername(ctx, other)
	if err != nil {
		return "", storeErr("find user "+other, err)
	}

	conv, err := r.convs.FindByPair(ctx, self.Username, peer.Username)
	switch {
	case err == nil:
		r.repairChats(ctx, conv.ID, self, peer)
		return conv.ID, nil
	case !errors.Is(err, domain.ErrNotFound):
		return "", storeErr("find conversation", err)
	}

	if err := r.policy.Authorize(self.Username, peer.Username); err != nil {
		return "", err
	}

	for attempt := 0; attempt < r.retries; attempt++ {
		conv = &domain.Conversation{
			ID:        uuid.NewString(),
			Users:     []string{self.Username, peer.Username},
			PairKey:   domain.NewPairKey(self.Username, peer.Username),
			Messages:  []domain.Message{},
			CreatedAt: time.Now().UTC(),
		}
		err = r.convs.Create(ctx, conv)
		if err == nil {
			break
		}
		if !errors.Is(err, domain.ErrDuplicate) {
			return "", storeErr("create conversation", err)
		}

		// another connection created the pair first
		existing, ferr := r.convs.FindByPair(ctx, self.Username, peer.Username)
		if ferr == nil {
			r.repairChats(ctx, existing.ID, self, peer)
			return existing.ID, nil
		}
		if !errors.Is(ferr, domain.ErrNotFound) {
			return "", storeErr("find conversation", ferr)
		}
		r.log.Warnw("duplicate conversation without a visible winner, retrying", "pair", conv.PairKey, "attempt", attempt+1)
	}
	if err != nil {
		return "", storeErr("create conversation", err)
	}

	for _, u := range conv.Users {
		if err := r.users.AddChat(ctx, u, conv.ID); err != nil {
			return "", storeErr("add chat", err)
		}
	}

	r.publish(ctx, events.Event{
		Type:           events.TypeConversationCreated,
		ConversationID: conv.ID,
		Participants:   conv.Users,
		Sender:         self.Username,
		OccurredAt:     conv.CreatedAt,
	})
	r.log.Infow("conversation created", "id", conv.ID, "users", conv.Users)
	return conv.ID, nil
}

// repairChats adds the id to a participant's chats when an earlier creation
// stopped before updating the directory.
func (r *Resolver) repairChats(ctx context.Context, id string, users ...*domain.User) {
	for _, u := range users {
		if u.HasChat(id) {
			continue
		}
		if err := r.users.AddChat(ctx, u.Username, id); err != nil {
			r.log.Warnw("repair chats failed", "username", u.Username, "id", id, "error", err)
		}
	}
}

func (r *Resolver) publish(ctx context.Context, evt events.Event) {
	ctx, cancel := context.WithTimeout(ctx, r.publishTimeout)
	defer cancel()
	if err := r.events.Publish(ctx, evt.ConversationID, evt); err != nil {
		r.log.Warnw("publish event failed", "type", evt.Type, "id", evt.ConversationID, "error", err)
	}
}
