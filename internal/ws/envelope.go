package ws

import (
	"encoding/json"

	"github.com/fathima-sithara/messaging-service/internal/domain"
	"github.com/fathima-sithara/messaging-service/internal/profile"
)

// inbound
const (
	EventJoinRoom    = "join-room"
	EventLeaveRoom   = "leave-room"
	EventLoad        = "load"
	EventSendMessage = "send-message"
	EventGetOpen     = "get-open"
	EventClearUnread = "clear-unread"
)

// outbound
const (
	EventAllMessages     = "allMessages"
	EventReceiveMessage  = "receive-message"
	EventMessageNavigate = "message-navigate"
	EventUnread          = "unread"
	EventMessageBlocked  = "message-blocked"
	EventError           = "error"
)

// Envelope is the wire format for ws frames in both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload into an envelope of the given type.
func NewEnvelope(typ string, payload interface{}) (Envelope, error) {
	if payload == nil {
		return Envelope{Type: typ}, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: typ, Payload: b}, nil
}

func mustEnvelope(typ string, payload interface{}) Envelope {
	env, err := NewEnvelope(typ, payload)
	if err != nil {
		// payloads are package-local structs and strings
		panic(err)
	}
	return env
}

type AllMessagesPayload struct {
	Messages []domain.Message           `json:"messages"`
	Users    []string                   `json:"users"`
	Found    bool                       `json:"found"`
	Profiles map[string]profile.Profile `json:"profiles,omitempty"`
}

type UnreadPayload struct {
	Username string `json:"username"`
}

type BlockedPayload struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Event   string `json:"event,omitempty"`
}

type ClearUnreadPayload struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}
