package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Client struct {
	cli    *redis.Client
	prefix string
}

// NewRedis connects and pings. prefix namespaces every key.
func NewRedis(ctx context.Context, addr, password string, db int, prefix string) (*Client, error) {
	r := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.Ping(ctx).Err(); err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return Wrap(r, prefix), nil
}

// Wrap uses an existing client.
func Wrap(r *redis.Client, prefix string) *Client {
	if prefix == "" {
		prefix = "messaging"
	}
	return &Client{cli: r, prefix: prefix}
}

func (c *Client) Close() error {
	return c.cli.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.cli.Ping(ctx).Err()
}

func (c *Client) key(parts ...string) string {
	k := c.prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}
