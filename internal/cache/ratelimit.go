package cache

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var fixedWindowScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// SendLimiter allows limit sends per user in each fixed window, shared by
// all gateway instances.
type SendLimiter struct {
	c      *Client
	limit  int
	window time.Duration
}

func NewSendLimiter(c *Client, limit int, window time.Duration) *SendLimiter {
	if window <= 0 {
		window = 10 * time.Second
	}
	return &SendLimiter{c: c, limit: limit, window: window}
}

// AllowSend implements service.SendLimiter. A limit <= 0 disables it.
func (l *SendLimiter) AllowSend(ctx context.Context, username string) (bool, error) {
	if l.limit <= 0 {
		return true, nil
	}
	key := l.c.key("send", strings.ToLower(username))
	n, err := fixedWindowScript.Run(ctx, l.c.cli, []string{key}, l.window.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return n <= int64(l.limit), nil
}
