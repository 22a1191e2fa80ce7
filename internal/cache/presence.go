package cache

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Presence counts live connections per user across every gateway instance.
// A user is online while the count is above zero.
type Presence struct {
	c *Client
}

type PresenceInfo struct {
	Username string    `json:"username"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"last_seen,omitempty"`
}

var disconnectScript = redis.NewScript(`
local n = redis.call('DECR', KEYS[1])
if n <= 0 then
  redis.call('DEL', KEYS[1])
  redis.call('SREM', KEYS[2], ARGV[1])
end
redis.call('HSET', KEYS[3], ARGV[1], ARGV[2])
return n
`)

func NewPresence(c *Client) *Presence {
	return &Presence{c: c}
}

func (p *Presence) connKey(username string) string { return p.c.key("conn", username) }
func (p *Presence) onlineKey() string              { return p.c.key("online") }
func (p *Presence) lastSeenKey() string            { return p.c.key("last_seen") }

func (p *Presence) Connect(ctx context.Context, username string) error {
	u := strings.ToLower(username)
	_, err := p.c.cli.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, p.connKey(u))
		pipe.SAdd(ctx, p.onlineKey(), u)
		return nil
	})
	return err
}

func (p *Presence) Disconnect(ctx context.Context, username string) error {
	u := strings.ToLower(username)
	now := strconv.FormatInt(time.Now().Unix(), 10)
	return disconnectScript.Run(ctx, p.c.cli,
		[]string{p.connKey(u), p.onlineKey(), p.lastSeenKey()}, u, now).Err()
}

func (p *Presence) Online(ctx context.Context, username string) (bool, error) {
	return p.c.cli.SIsMember(ctx, p.onlineKey(), strings.ToLower(username)).Result()
}

// Get reports the online flag and, for users that have disconnected at
// least once, the last time they did.
func (p *Presence) Get(ctx context.Context, username string) (PresenceInfo, error) {
	u := strings.ToLower(username)
	info := PresenceInfo{Username: username}
	online, err := p.Online(ctx, u)
	if err != nil {
		return info, err
	}
	info.Online = online

	ts, err := p.c.cli.HGet(ctx, p.lastSeenKey(), u).Int64()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return info, err
	default:
		info.LastSeen = time.Unix(ts, 0).UTC()
	}
	return info, nil
}
