package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fathima-sithara/messaging-service/internal/domain"
	"github.com/fathima-sithara/messaging-service/internal/metrics"
	"github.com/fathima-sithara/messaging-service/internal/profile"
	"github.com/fathima-sithara/messaging-service/internal/service"
	"go.uber.org/zap"
)

const (
	codeValidation   = "validation"
	codeNotFound     = "not_found"
	codeRateLimited  = "rate_limited"
	codeStore        = "store"
	codeUnknownEvent = "unknown_event"
)

// ProfileLookup adds display data to loaded conversations. Missing entries
// are fine.
type ProfileLookup interface {
	Lookup(ctx context.Context, usernames []string) map[string]profile.Profile
}

type Router struct {
	hub       *Hub
	resolver  *service.Resolver
	messenger *service.Messenger
	unread    *service.UnreadNotifier
	profiles  ProfileLookup
	timeout   time.Duration
	log       *zap.SugaredLogger

	// profile data is decoration; history must not wait on the user service
	profileTimeout time.Duration
}

func NewRouter(hub *Hub, resolver *service.Resolver, messenger *service.Messenger, unread *service.UnreadNotifier, log *zap.SugaredLogger) *Router {
	return &Router{
		hub:       hub,
		resolver:  resolver,
		messenger: messenger,
		unread:    unread,
		timeout:   10 * time.Second,
		log:       log,

		profileTimeout: 300 * time.Millisecond,
	}
}

// WithProfiles enables display data on allMessages. Lookups that take longer
// than timeout (300ms when zero) are abandoned.
func (r *Router) WithProfiles(p ProfileLookup, timeout time.Duration) *Router {
	r.profiles = p
	if timeout > 0 {
		r.profileTimeout = timeout
	}
	return r
}

// Dispatch handles one inbound event. Failures are reported to c only.
func (r *Router) Dispatch(ctx context.Context, c *Client, env Envelope) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var err error
	switch env.Type {
	case EventJoinRoom:
		err = r.join(ctx, c, env.Payload)
	case EventLeaveRoom:
		err = r.leave(c, env.Payload)
	case EventLoad:
		err = r.load(ctx, c, env.Payload)
	case EventSendMessage:
		err = r.sendMessage(ctx, c, env.Payload)
	case EventGetOpen:
		err = r.getOpen(ctx, c, env.Payload)
	case EventClearUnread:
		err = r.clearUnread(ctx, c, env.Payload)
	default:
		metrics.Events.WithLabelValues("unknown", "rejected").Inc()
		c.Emit(errorEnvelope(codeUnknownEvent, fmt.Sprintf("unknown event %q", env.Type), env.Type))
		return
	}

	if err != nil {
		metrics.Events.WithLabelValues(env.Type, "error").Inc()
		r.fail(c, env.Type, err)
		return
	}
	metrics.Events.WithLabelValues(env.Type, "ok").Inc()
}

func (r *Router) join(ctx context.Context, c *Client, raw json.RawMessage) error {
	id, err := decodeID(raw)
	if err != nil {
		return err
	}
	ok, err := r.messenger.Exists(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		c.Emit(mustEnvelope(EventAllMessages, emptyHistory()))
		return nil
	}
	r.hub.Join(c, id)
	return nil
}

func (r *Router) leave(c *Client, raw json.RawMessage) error {
	id, err := decodeID(raw)
	if err != nil {
		return err
	}
	r.hub.Leave(c, id)
	return nil
}

func (r *Router) load(ctx context.Context, c *Client, raw json.RawMessage) error {
	id, err := decodeID(raw)
	if err != nil {
		return err
	}
	conv, err := r.messenger.Load(ctx, id, c.Username())
	if errors.Is(err, domain.ErrNotFound) {
		c.Emit(mustEnvelope(EventAllMessages, emptyHistory()))
		return nil
	}
	if err != nil {
		return err
	}

	payload := AllMessagesPayload{Messages: conv.Messages, Users: conv.Users, Found: true}
	if payload.Messages == nil {
		payload.Messages = []domain.Message{}
	}
	if r.profiles != nil {
		pctx, cancel := context.WithTimeout(ctx, r.profileTimeout)
		payload.Profiles = r.profiles.Lookup(pctx, conv.Users)
		cancel()
	}
	c.Emit(mustEnvelope(EventAllMessages, payload))
	return nil
}

func (r *Router) sendMessage(ctx context.Context, c *Client, raw json.RawMessage) error {
	var req service.SendRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return badPayload(EventSendMessage, err)
	}
	switch {
	case strings.TrimSpace(req.Sender) == "":
		req.Sender = c.Username()
	case !domain.SameUser(req.Sender, c.Username()):
		return fmt.Errorf("%w: sender must be the connected user", domain.ErrValidation)
	}

	_, conv, err := r.messenger.Send(ctx, req)
	if err != nil {
		return err
	}
	metrics.MessagesSent.Inc()
	r.hub.EmitToRoom(conv.ID, mustEnvelope(EventReceiveMessage, conv.ID))
	return nil
}

func (r *Router) getOpen(ctx context.Context, c *Client, raw json.RawMessage) error {
	var pair []string
	if err := json.Unmarshal(raw, &pair); err != nil {
		return badPayload(EventGetOpen, err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("%w: get-open expects exactly two usernames", domain.ErrValidation)
	}

	var other string
	switch me := c.Username(); {
	case domain.SameUser(pair[0], me):
		other = pair[1]
	case domain.SameUser(pair[1], me):
		other = pair[0]
	default:
		return fmt.Errorf("%w: the connected user must be part of the pair", domain.ErrValidation)
	}

	id, err := r.resolver.Resolve(ctx, c.Username(), other)
	if err != nil {
		return err
	}
	c.Emit(mustEnvelope(EventMessageNavigate, id))
	return nil
}

func (r *Router) clearUnread(ctx context.Context, c *Client, raw json.RawMessage) error {
	var p ClearUnreadPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return badPayload(EventClearUnread, err)
	}
	switch {
	case strings.TrimSpace(p.Username) == "":
		p.Username = c.Username()
	case !domain.SameUser(p.Username, c.Username()):
		return fmt.Errorf("%w: can only clear your own unread state", domain.ErrValidation)
	}
	return r.unread.MarkRead(ctx, p.ID, p.Username)
}

func (r *Router) fail(c *Client, event string, err error) {
	var denied *domain.AccessDeniedError
	switch {
	case errors.As(err, &denied):
		metrics.Blocked.WithLabelValues(denied.Reason).Inc()
		c.Emit(mustEnvelope(EventMessageBlocked, BlockedPayload{Error: denied.Message, Reason: denied.Reason}))
	case errors.Is(err, domain.ErrAccessDenied):
		metrics.Blocked.WithLabelValues("unspecified").Inc()
		c.Emit(mustEnvelope(EventMessageBlocked, BlockedPayload{Error: "this action is not allowed", Reason: "unspecified"}))
	case errors.Is(err, domain.ErrValidation):
		msg := strings.TrimPrefix(err.Error(), domain.ErrValidation.Error()+": ")
		c.Emit(errorEnvelope(codeValidation, msg, event))
	case errors.Is(err, domain.ErrNotFound):
		c.Emit(errorEnvelope(codeNotFound, "conversation or user not found", event))
	case errors.Is(err, domain.ErrRateLimited):
		c.Emit(errorEnvelope(codeRateLimited, "you are sending messages too quickly", event))
	default:
		r.log.Errorw("event failed", "event", event, "username", c.Username(), "error", err)
		c.Emit(errorEnvelope(codeStore, "please try again", event))
	}
}

// decodeID accepts a bare JSON string or {"id": "..."}.
func decodeID(raw json.RawMessage) (string, error) {
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		var obj struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return "", fmt.Errorf("%w: expected a conversation id", domain.ErrValidation)
		}
		id = obj.ID
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("%w: id is required", domain.ErrValidation)
	}
	return id, nil
}

func badPayload(event string, err error) error {
	return fmt.Errorf("%w: bad %s payload: %v", domain.ErrValidation, event, err)
}

func emptyHistory() AllMessagesPayload {
	return AllMessagesPayload{Messages: []domain.Message{}, Users: []string{}, Found: false}
}

func errorEnvelope(code, message, event string) Envelope {
	return mustEnvelope(EventError, ErrorPayload{Code: code, Message: message, Event: event})
}
