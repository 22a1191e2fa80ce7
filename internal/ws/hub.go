package ws

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fathima-sithara/messaging-service/internal/metrics"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const (
	ModeTargeted = "targeted"
	ModeGlobal   = "global"
)

const (
	scopeRoom = "room"
	scopeUser = "user"
	scopeAll  = "all"

	sideEffectTimeout = 2 * time.Second
)

// Relay carries frames between gateway instances. Subscribe blocks until ctx
// is done.
type Relay interface {
	Publish(ctx context.Context, payload []byte) error
	Subscribe(ctx context.Context, handle func(payload []byte)) error
}

// Presence records which users hold at least one live connection.
type Presence interface {
	Connect(ctx context.Context, username string) error
	Disconnect(ctx context.Context, username string) error
}

type relayFrame struct {
	Origin string          `json:"origin"`
	Scope  string          `json:"scope"`
	Target string          `json:"target,omitempty"`
	Frame  json.RawMessage `json:"frame"`
}

type HubOptions struct {
	NodeID     string
	UnreadMode string
	Relay      Relay
	Presence   Presence
}

// Hub tracks live connections by conversation room and by username.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[*Client]struct{}
	users  map[string]map[*Client]struct{}
	joined map[*Client]map[string]struct{}

	nodeID   string
	mode     string
	relay    Relay
	presence Presence
	log      *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewHub(log *zap.SugaredLogger, opts HubOptions) *Hub {
	if opts.NodeID == "" {
		opts.NodeID = uuid.NewString()
	}
	if opts.UnreadMode == "" {
		opts.UnreadMode = ModeTargeted
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		rooms:    make(map[string]map[*Client]struct{}),
		users:    make(map[string]map[*Client]struct{}),
		joined:   make(map[*Client]map[string]struct{}),
		nodeID:   opts.NodeID,
		mode:     opts.UnreadMode,
		relay:    opts.Relay,
		presence: opts.Presence,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
	}
	if h.relay != nil {
		h.wg.Add(1)
		go h.listen()
	}
	return h
}

func (h *Hub) NodeID() string { return h.nodeID }

// listen keeps a relay subscription open until Shutdown.
func (h *Hub) listen() {
	defer h.wg.Done()
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0
	b.MaxInterval = 30 * time.Second

	op := func() error {
		err := h.relay.Subscribe(h.ctx, h.onRelay)
		if h.ctx.Err() != nil {
			return backoff.Permanent(h.ctx.Err())
		}
		if err == nil {
			err = errors.New("subscription closed")
		}
		return err
	}
	err := backoff.RetryNotify(op, backoff.WithContext(b, h.ctx), func(err error, wait time.Duration) {
		h.log.Warnw("relay subscription lost, retrying", "node", h.nodeID, "wait", wait, "error", err)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		h.log.Errorw("relay subscription ended", "node", h.nodeID, "error", err)
	}
}

func (h *Hub) onRelay(payload []byte) {
	var f relayFrame
	if err := json.Unmarshal(payload, &f); err != nil {
		h.log.Warnw("bad relay frame", "error", err)
		return
	}
	if f.Origin == h.nodeID {
		return
	}
	h.deliver(f.Scope, f.Target, f.Frame)
}

// Register adds a connection to the user registry.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if _, ok := h.joined[c]; ok {
		h.mu.Unlock()
		return
	}
	h.joined[c] = make(map[string]struct{})
	addTo(h.users, userKey(c.username), c)
	h.mu.Unlock()

	metrics.Connections.Inc()
	if h.presence != nil {
		ctx, cancel := context.WithTimeout(h.ctx, sideEffectTimeout)
		defer cancel()
		if err := h.presence.Connect(ctx, c.username); err != nil {
			h.log.Warnw("presence connect failed", "username", c.username, "error", err)
		}
	}
}

// Unregister removes the connection from every room and from the user
// registry. Calling it again is a no-op.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	rooms, ok := h.joined[c]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.joined, c)
	for room := range rooms {
		removeFrom(h.rooms, room, c)
	}
	removeFrom(h.users, userKey(c.username), c)
	h.mu.Unlock()

	metrics.Connections.Dec()
	if h.presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
		defer cancel()
		if err := h.presence.Disconnect(ctx, c.username); err != nil {
			h.log.Warnw("presence disconnect failed", "username", c.username, "error", err)
		}
	}
}

// Join adds c to room. It reports false when c was already a member or is
// not registered.
func (h *Hub) Join(c *Client, room string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	rooms, ok := h.joined[c]
	if !ok {
		return false
	}
	if _, dup := rooms[room]; dup {
		return false
	}
	rooms[room] = struct{}{}
	addTo(h.rooms, room, c)
	return true
}

func (h *Hub) Leave(c *Client, room string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	rooms, ok := h.joined[c]
	if !ok {
		return false
	}
	if _, member := rooms[room]; !member {
		return false
	}
	delete(rooms, room)
	removeFrom(h.rooms, room, c)
	return true
}

func (h *Hub) EmitToRoom(room string, env Envelope) { h.emit(scopeRoom, room, env) }

func (h *Hub) EmitToUser(username string, env Envelope) { h.emit(scopeUser, userKey(username), env) }

func (h *Hub) EmitAll(env Envelope) { h.emit(scopeAll, "", env) }

// UnreadChanged implements service.Signaler. In global mode every connection
// gets a bare signal, so the frame does not name the user.
func (h *Hub) UnreadChanged(username string) {
	if h.mode == ModeGlobal {
		h.EmitAll(mustEnvelope(EventUnread, nil))
		return
	}
	h.EmitToUser(username, mustEnvelope(EventUnread, UnreadPayload{Username: username}))
}

func (h *Hub) emit(scope, target string, env Envelope) {
	b, err := json.Marshal(env)
	if err != nil {
		h.log.Errorw("encode frame", "type", env.Type, "error", err)
		return
	}
	h.deliver(scope, target, b)

	if h.relay == nil {
		return
	}
	frame, err := json.Marshal(relayFrame{Origin: h.nodeID, Scope: scope, Target: target, Frame: b})
	if err != nil {
		h.log.Errorw("encode relay frame", "type", env.Type, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(h.ctx, sideEffectTimeout)
	defer cancel()
	if err := h.relay.Publish(ctx, frame); err != nil {
		h.log.Warnw("relay publish failed", "type", env.Type, "scope", scope, "error", err)
	}
}

// deliver writes b to local connections only.
func (h *Hub) deliver(scope, target string, b []byte) {
	h.mu.RLock()
	var targets []*Client
	switch scope {
	case scopeRoom:
		targets = lo.Keys(h.rooms[target])
	case scopeUser:
		targets = lo.Keys(h.users[target])
	case scopeAll:
		targets = lo.Keys(h.joined)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if !c.enqueue(b) {
			h.drop(c)
		}
	}
}

// drop disconnects a client whose send buffer is full.
func (h *Hub) drop(c *Client) {
	metrics.DroppedClients.Inc()
	h.log.Warnw("dropping slow client", "client", c.id, "username", c.username)
	h.Unregister(c)
	c.close()
}

// Online reports whether username has a connection on this instance.
func (h *Hub) Online(username string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userKey(username)]) > 0
}

func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.joined)
}

// Shutdown stops the relay subscription and closes every connection.
func (h *Hub) Shutdown() {
	h.cancel()
	h.wg.Wait()

	h.mu.RLock()
	clients := lo.Keys(h.joined)
	h.mu.RUnlock()
	for _, c := range clients {
		h.Unregister(c)
		c.close()
	}
}

func userKey(username string) string { return strings.ToLower(username) }

func addTo(m map[string]map[*Client]struct{}, key string, c *Client) {
	set, ok := m[key]
	if !ok {
		set = make(map[*Client]struct{})
		m[key] = set
	}
	set[c] = struct{}{}
}

func removeFrom(m map[string]map[*Client]struct{}, key string, c *Client) {
	set, ok := m[key]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(m, key)
	}
}
