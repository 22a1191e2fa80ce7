package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fathima-sithara/messaging-service/internal/domain"
)

var (
	_ ConversationRepository = (*Memory)(nil)
	_ UserRepository         = (*Memory)(nil)
	_ ConversationRepository = (*MongoConversationRepo)(nil)
	_ UserRepository         = (*MongoUserRepo)(nil)
)

// Memory implements both repositories in process. It backs the "memory"
// store driver and the tests, with the same uniqueness and set semantics
// as the Mongo repositories.
type Memory struct {
	mu     sync.RWMutex
	convs  map[string]*domain.Conversation // id -> conversation
	byPair map[string]string               // pair key -> id
	users  map[string]*domain.User         // lower(username) -> user
}

func NewMemory() *Memory {
	return &Memory{
		convs:  make(map[string]*domain.Conversation),
		byPair: make(map[string]string),
		users:  make(map[string]*domain.User),
	}
}

func (m *Memory) FindByPair(_ context.Context, a, b string) (*domain.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byPair[domain.NewPairKey(a, b)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneConv(m.convs[id]), nil
}

func (m *Memory) Create(_ context.Context, conv *domain.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if conv.PairKey == "" && len(conv.Users) == 2 {
		conv.PairKey = domain.NewPairKey(conv.Users[0], conv.Users[1])
	}
	if _, dup := m.byPair[conv.PairKey]; dup {
		return domain.ErrDuplicate
	}
	if _, dup := m.convs[conv.ID]; dup {
		return domain.ErrDuplicate
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now().UTC()
	}
	conv.UpdatedAt = conv.CreatedAt
	if conv.Messages == nil {
		conv.Messages = []domain.Message{}
	}
	m.convs[conv.ID] = cloneConv(conv)
	m.byPair[conv.PairKey] = conv.ID
	return nil
}

func (m *Memory) GetByID(_ context.Context, id string) (*domain.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.convs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneConv(c), nil
}

func (m *Memory) Exists(_ context.Context, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.convs[id]
	return ok, nil
}

func (m *Memory) ListByIDs(_ context.Context, ids []string) ([]*domain.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*domain.Conversation{}
	for _, id := range ids {
		if c, ok := m.convs[id]; ok {
			out = append(out, cloneConv(c))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (m *Memory) AppendMessage(_ context.Context, id string, msg domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}
	c.Messages = append(c.Messages, msg)
	c.UpdatedAt = msg.SentAt
	return nil
}

func (m *Memory) FindByUsername(_ context.Context, username string) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[strings.ToLower(username)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneUser(u), nil
}

func (m *Memory) Insert(_ context.Context, u *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.ToLower(u.Username)
	if _, dup := m.users[key]; dup {
		return domain.ErrDuplicate
	}
	if u.Unread == nil {
		u.Unread = []string{}
	}
	if u.Chats == nil {
		u.Chats = []string{}
	}
	m.users[key] = cloneUser(u)
	return nil
}

func (m *Memory) AddChat(_ context.Context, username, conversationID string) error {
	return m.mutateUser(username, func(u *domain.User) {
		if !u.HasChat(conversationID) {
			u.Chats = append(u.Chats, conversationID)
		}
	})
}

func (m *Memory) AddUnread(_ context.Context, username, conversationID string) error {
	return m.mutateUser(username, func(u *domain.User) {
		if !u.HasUnread(conversationID) {
			u.Unread = append(u.Unread, conversationID)
		}
	})
}

func (m *Memory) RemoveUnread(_ context.Context, username, conversationID string) error {
	return m.mutateUser(username, func(u *domain.User) {
		kept := u.Unread[:0]
		for _, id := range u.Unread {
			if id != conversationID {
				kept = append(kept, id)
			}
		}
		u.Unread = kept
	})
}

func (m *Memory) mutateUser(username string, fn func(u *domain.User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[strings.ToLower(username)]
	if !ok {
		return domain.ErrNotFound
	}
	fn(u)
	return nil
}

func cloneConv(c *domain.Conversation) *domain.Conversation {
	out := *c
	out.Users = append([]string{}, c.Users...)
	out.Messages = append([]domain.Message{}, c.Messages...)
	return &out
}

func cloneUser(u *domain.User) *domain.User {
	out := *u
	out.Unread = append([]string{}, u.Unread...)
	out.Chats = append([]string{}, u.Chats...)
	return &out
}
