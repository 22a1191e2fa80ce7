package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/fathima-sithara/messaging-service/internal/domain"
	"github.com/fathima-sithara/messaging-service/internal/policy"
	"github.com/fathima-sithara/messaging-service/internal/repository"
	"github.com/fathima-sithara/messaging-service/internal/service"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingSignaler struct {
	mu    sync.Mutex
	users []string
}

func (r *recordingSignaler) UnreadChanged(username string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = append(r.users, username)
}

func (r *recordingSignaler) Signalled() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.users...)
}

// brokenAppends fails every append, as a store outage would.
type brokenAppends struct {
	*repository.Memory
}

func (brokenAppends) AppendMessage(context.Context, string, domain.Message) error {
	return errors.New("connection reset by peer")
}

type fixture struct {
	store    *repository.Memory
	signals  *recordingSignaler
	unread   *service.UnreadNotifier
	resolver *service.Resolver
	msgr     *service.Messenger
}

func newFixture(t *testing.T, usernames ...string) *fixture {
	t.Helper()
	if len(usernames) == 0 {
		usernames = []string{"alice", "bob", "carol", "demo", "franklindesk"}
	}
	store := repository.NewMemory()
	for _, u := range usernames {
		require.NoError(t, store.Insert(context.Background(), &domain.User{Username: u}))
	}
	log := zap.NewNop().Sugar()
	pol := policy.Demo([]string{"demo"}, "franklindesk")
	signals := &recordingSignaler{}
	unread := service.NewUnreadNotifier(store, signals, log)
	return &fixture{
		store:    store,
		signals:  signals,
		unread:   unread,
		resolver: service.NewResolver(store, store, pol, nil, log, 3),
		msgr:     service.NewMessenger(store, store, pol, unread, nil, log, service.MessengerOptions{MaxBodyLength: 40}),
	}
}

func (f *fixture) user(t *testing.T, username string) *domain.User {
	t.Helper()
	u, err := f.store.FindByUsername(context.Background(), username)
	require.NoError(t, err)
	return u
}
