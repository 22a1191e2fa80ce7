package cache

import (
	"context"
)

// Relay fans gateway frames out to every instance over a pub/sub channel.
type Relay struct {
	c       *Client
	channel string
}

func NewRelay(c *Client, channel string) *Relay {
	if channel == "" {
		channel = c.key("events")
	}
	return &Relay{c: c, channel: channel}
}

func (r *Relay) Publish(ctx context.Context, payload []byte) error {
	return r.c.cli.Publish(ctx, r.channel, payload).Err()
}

// Subscribe calls handle for every frame until ctx is done.
func (r *Relay) Subscribe(ctx context.Context, handle func(payload []byte)) error {
	sub := r.c.cli.Subscribe(ctx, r.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			handle([]byte(msg.Payload))
		}
	}
}
