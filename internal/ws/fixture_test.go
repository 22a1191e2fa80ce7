package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fathima-sithara/messaging-service/internal/domain"
	"github.com/fathima-sithara/messaging-service/internal/policy"
	"github.com/fathima-sithara/messaging-service/internal/repository"
	"github.com/fathima-sithara/messaging-service/internal/service"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type failingAppends struct {
	*repository.Memory
}

func (failingAppends) AppendMessage(context.Context, string, domain.Message) error {
	return errors.New("write concern timeout")
}

type gateway struct {
	store  *repository.Memory
	hub    *Hub
	router *Router
	msgr   *service.Messenger
}

type gatewayOption func(*gatewayConfig)

type gatewayConfig struct {
	mode  string
	convs func(*repository.Memory) repository.ConversationRepository
}

func withMode(mode string) gatewayOption { return func(c *gatewayConfig) { c.mode = mode } }

// withConversations swaps the conversation store, typically for a wrapper
// around the shared memory store.
func withConversations(wrap func(*repository.Memory) repository.ConversationRepository) gatewayOption {
	return func(c *gatewayConfig) { c.convs = wrap }
}

func newGateway(t *testing.T, opts ...gatewayOption) *gateway {
	t.Helper()
	store := repository.NewMemory()
	for _, u := range []string{"alice", "bob", "carol", "demo", "franklindesk"} {
		require.NoError(t, store.Insert(context.Background(), &domain.User{Username: u}))
	}
	cfg := gatewayConfig{mode: ModeTargeted}
	for _, o := range opts {
		o(&cfg)
	}
	var convs repository.ConversationRepository = store
	if cfg.convs != nil {
		convs = cfg.convs(store)
	}

	log := zap.NewNop().Sugar()
	hub := NewHub(log, HubOptions{NodeID: "test-node", UnreadMode: cfg.mode})
	t.Cleanup(hub.Shutdown)

	pol := policy.Demo([]string{"demo"}, "franklindesk")
	unread := service.NewUnreadNotifier(store, hub, log)
	resolver := service.NewResolver(convs, store, pol, nil, log, 3)
	msgr := service.NewMessenger(convs, store, pol, unread, nil, log, service.MessengerOptions{MaxBodyLength: 200})
	return &gateway{
		store:  store,
		hub:    hub,
		router: NewRouter(hub, resolver, msgr, unread, log),
		msgr:   msgr,
	}
}

// connect registers a client without a socket; frames are read from its
// send buffer.
func (g *gateway) connect(username string) *Client {
	c := NewClient(nil, username, g.hub, 0)
	g.hub.Register(c)
	return c
}

func (g *gateway) dispatch(t *testing.T, c *Client, typ string, payload interface{}) {
	t.Helper()
	env, err := NewEnvelope(typ, payload)
	require.NoError(t, err)
	g.router.Dispatch(context.Background(), c, env)
}

func (g *gateway) open(t *testing.T, c *Client, other string) string {
	t.Helper()
	g.dispatch(t, c, EventGetOpen, []string{c.Username(), other})
	env := nextFrame(t, c)
	require.Equal(t, EventMessageNavigate, env.Type, string(env.Payload))
	var id string
	require.NoError(t, json.Unmarshal(env.Payload, &id))
	return id
}

func nextFrame(t *testing.T, c *Client) Envelope {
	t.Helper()
	select {
	case b, ok := <-c.send:
		require.True(t, ok, "send channel closed")
		var env Envelope
		require.NoError(t, json.Unmarshal(b, &env))
		return env
	case <-time.After(time.Second):
		t.Fatalf("no frame for %s", c.Username())
		return Envelope{}
	}
}

func requireNoFrame(t *testing.T, c *Client) {
	t.Helper()
	select {
	case b, ok := <-c.send:
		if ok {
			t.Fatalf("unexpected frame for %s: %s", c.Username(), b)
		}
	default:
	}
}

func decode[T any](t *testing.T, env Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Payload, &v))
	return v
}

// memoryBus is an in-process Relay shared by several hubs.
type memoryBus struct {
	mu       sync.Mutex
	handlers []func([]byte)
}

func (b *memoryBus) Publish(_ context.Context, payload []byte) error {
	b.mu.Lock()
	handlers := append([]func([]byte){}, b.handlers...)
	b.mu.Unlock()
	for _, h := range handlers {
		h(payload)
	}
	return nil
}

func (b *memoryBus) Subscribe(ctx context.Context, handle func([]byte)) error {
	b.mu.Lock()
	b.handlers = append(b.handlers, handle)
	b.mu.Unlock()
	<-ctx.Done()
	return ctx.Err()
}

func (b *memoryBus) subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers)
}
