package domain

import (
	"sort"
	"strings"
	"time"
)

// Message is embedded in a Conversation and is never edited once appended.
type Message struct {
	Sender     string    `bson:"sender" json:"sender"`
	Body       string    `bson:"message" json:"message"`
	Attachment string    `bson:"attachment,omitempty" json:"attachment,omitempty"`
	SentAt     time.Time `bson:"sent_at" json:"sent_at"`
}

// Conversation is a 1:1 thread. Users keeps the order the conversation was
// created with; PairKey is order-free and unique per pair.
type Conversation struct {
	ID        string    `bson:"_id" json:"id"`
	Users     []string  `bson:"users" json:"users"`
	PairKey   string    `bson:"pair_key" json:"-"`
	Messages  []Message `bson:"messages" json:"messages"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// NewPairKey returns the normalized key for an unordered pair of usernames.
func NewPairKey(a, b string) string {
	pair := []string{strings.ToLower(a), strings.ToLower(b)}
	sort.Strings(pair)
	return pair[0] + ":" + pair[1]
}

// HasParticipant reports whether username takes part in the conversation.
func (c *Conversation) HasParticipant(username string) bool {
	for _, u := range c.Users {
		if strings.EqualFold(u, username) {
			return true
		}
	}
	return false
}

// Other returns the participant that is not username, or "" if username is
// not a participant.
func (c *Conversation) Other(username string) string {
	if !c.HasParticipant(username) {
		return ""
	}
	for _, u := range c.Users {
		if !strings.EqualFold(u, username) {
			return u
		}
	}
	return ""
}

// LastMessage returns the most recent message, if any.
func (c *Conversation) LastMessage() (Message, bool) {
	if len(c.Messages) == 0 {
		return Message{}, false
	}
	return c.Messages[len(c.Messages)-1], true
}
