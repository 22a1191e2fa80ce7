package service

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/fathima-sithara/messaging-service/internal/domain"
	"github.com/fathima-sithara/messaging-service/internal/events"
	"github.com/fathima-sithara/messaging-service/internal/policy"
	"github.com/fathima-sithara/messaging-service/internal/repository"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// SendLimiter throttles sends per user across gateway instances.
type SendLimiter interface {
	AllowSend(ctx context.Context, username string) (bool, error)
}

type SendRequest struct {
	ConversationID string `json:"id" validate:"required"`
	Sender         string `json:"sender" validate:"required"`
	Receiver       string `json:"receiver"`
	Body           string `json:"message" validate:"required_without=Attachment"`
	Attachment     string `json:"attachment" validate:"required_without=Body"`
}

type MessengerOptions struct {
	MaxBodyLength  int
	ClearOnLoad    bool
	PublishTimeout time.Duration
}

type Messenger struct {
	convs   repository.ConversationRepository
	users   repository.UserRepository
	policy  policy.Policy
	unread  *UnreadNotifier
	events  events.Publisher
	limiter SendLimiter
	log     *zap.SugaredLogger
	opts    MessengerOptions
}

func NewMessenger(convs repository.ConversationRepository, users repository.UserRepository, pol policy.Policy, unread *UnreadNotifier, pub events.Publisher, log *zap.SugaredLogger, opts MessengerOptions) *Messenger {
	if pub == nil {
		pub = events.Noop{}
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 2 * time.Second
	}
	return &Messenger{convs: convs, users: users, policy: pol, unread: unread, events: pub, log: log, opts: opts}
}

// WithLimiter enables the per-user send limit.
func (m *Messenger) WithLimiter(l SendLimiter) *Messenger {
	m.limiter = l
	return m
}

// Load returns the conversation with its full, ordered history.
func (m *Messenger) Load(ctx context.Context, id, reader string) (*domain.Conversation, error) {
	if strings.TrimSpace(id) == "" {
		return nil, invalid("id is required")
	}
	conv, err := m.convs.GetByID(ctx, id)
	if err != nil {
		return nil, storeErr("load conversation", err)
	}
	if m.opts.ClearOnLoad && reader != "" && conv.HasParticipant(reader) {
		if err := m.unread.MarkRead(ctx, conv.ID, reader); err != nil {
			m.log.Warnw("clear unread on load failed", "id", conv.ID, "username", reader, "error", err)
		}
	}
	return conv, nil
}

// Exists reports whether id names a stored conversation.
func (m *Messenger) Exists(ctx context.Context, id string) (bool, error) {
	if strings.TrimSpace(id) == "" {
		return false, invalid("id is required")
	}
	ok, err := m.convs.Exists(ctx, id)
	if err != nil {
		return false, storeErr("check conversation", err)
	}
	return ok, nil
}

// Send appends one message. Nothing is signalled unless the append succeeded.
func (m *Messenger) Send(ctx context.Context, req SendRequest) (*domain.Message, *domain.Conversation, error) {
	if err := validateStruct(req); err != nil {
		return nil, nil, err
	}
	if strings.TrimSpace(req.Body) == "" && strings.TrimSpace(req.Attachment) == "" {
		return nil, nil, invalid("message or attachment is required")
	}
	if m.opts.MaxBodyLength > 0 && utf8.RuneCountInString(req.Body) > m.opts.MaxBodyLength {
		return nil, nil, invalid("message is longer than %d characters", m.opts.MaxBodyLength)
	}

	conv, err := m.convs.GetByID(ctx, req.ConversationID)
	if err != nil {
		return nil, nil, storeErr("load conversation", err)
	}
	sender, ok := lo.Find(conv.Users, func(u string) bool { return domain.SameUser(u, req.Sender) })
	if !ok {
		return nil, nil, invalid("sender is not part of this conversation")
	}
	receiver := conv.Other(sender)
	if req.Receiver != "" && !domain.SameUser(req.Receiver, receiver) {
		return nil, nil, invalid("receiver is not part of this conversation")
	}

	if err := m.policy.Authorize(sender, receiver); err != nil {
		return nil, nil, err
	}

	if m.limiter != nil {
		allowed, err := m.limiter.AllowSend(ctx, sender)
		if err != nil {
			m.log.Warnw("send limiter unavailable, allowing", "username", sender, "error", err)
		} else if !allowed {
			return nil, nil, domain.ErrRateLimited
		}
	}

	msg := domain.Message{
		Sender:     sender,
		Body:       req.Body,
		Attachment: strings.TrimSpace(req.Attachment),
		SentAt:     time.Now().UTC(),
	}
	if err := m.convs.AppendMessage(ctx, conv.ID, msg); err != nil {
		return nil, nil, storeErr("append message", err)
	}
	conv.Messages = append(conv.Messages, msg)
	conv.UpdatedAt = msg.SentAt

	// the message is durable from here on; unread bookkeeping is reported, not fatal
	if err := m.unread.MessageSent(ctx, conv, sender); err != nil {
		m.log.Errorw("mark unread failed", "id", conv.ID, "sender", sender, "error", err)
	}

	pctx, cancel := context.WithTimeout(ctx, m.opts.PublishTimeout)
	defer cancel()
	evt := events.Event{
		Type:           events.TypeMessageSent,
		ConversationID: conv.ID,
		Participants:   conv.Users,
		Sender:         sender,
		Message:        &msg,
		OccurredAt:     msg.SentAt,
	}
	if err := m.events.Publish(pctx, conv.ID, evt); err != nil {
		m.log.Warnw("publish event failed", "type", evt.Type, "id", conv.ID, "error", err)
	}

	return &msg, conv, nil
}

// InboxEntry summarizes one conversation for a user's inbox.
type InboxEntry struct {
	ID          string          `json:"id"`
	With        string          `json:"with"`
	Users       []string        `json:"users"`
	LastMessage *domain.Message `json:"last_message,omitempty"`
	Unread      bool            `json:"unread"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Inbox lists the user's conversations, most recently active first.
func (m *Messenger) Inbox(ctx context.Context, username string) ([]InboxEntry, error) {
	u, err := m.users.FindByUsername(ctx, username)
	if err != nil {
		return nil, storeErr("find user", err)
	}
	convs, err := m.convs.ListByIDs(ctx, u.Chats)
	if err != nil {
		return nil, storeErr("list conversations", err)
	}
	return lo.Map(convs, func(c *domain.Conversation, _ int) InboxEntry {
		e := InboxEntry{
			ID:        c.ID,
			With:      c.Other(u.Username),
			Users:     c.Users,
			Unread:    u.HasUnread(c.ID),
			UpdatedAt: c.UpdatedAt,
		}
		if last, ok := c.LastMessage(); ok {
			e.LastMessage = &last
		}
		return e
	}), nil
}
