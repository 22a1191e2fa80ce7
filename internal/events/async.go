package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fathima-sithara/messaging-service/internal/metrics"
	"go.uber.org/zap"
)

var (
	ErrQueueFull = errors.New("event queue full")
	ErrClosed    = errors.New("event publisher closed")
)

type queued struct {
	key string
	evt Event
}

// Async hands events to a single background writer so callers never wait on
// the broker. A single writer keeps per-key order. When the queue is full the
// event is dropped and counted.
type Async struct {
	next    Publisher
	queue   chan queued
	timeout time.Duration
	log     *zap.SugaredLogger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewAsync(next Publisher, log *zap.SugaredLogger, size int, timeout time.Duration) *Async {
	if size <= 0 {
		size = 1024
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	a := &Async{
		next:    next,
		queue:   make(chan queued, size),
		timeout: timeout,
		log:     log,
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

// Publish enqueues evt and returns at once. ctx is not used by the write.
func (a *Async) Publish(_ context.Context, key string, evt Event) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	select {
	case a.queue <- queued{key: key, evt: evt}:
		return nil
	default:
		metrics.EventsDropped.Inc()
		return ErrQueueFull
	}
}

func (a *Async) run() {
	defer close(a.done)
	for q := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		err := a.next.Publish(ctx, q.key, q.evt)
		cancel()
		if err != nil {
			metrics.EventsDropped.Inc()
			a.log.Warnw("publish event failed", "type", q.evt.Type, "key", q.key, "error", err)
		}
	}
}

// Close stops accepting events, drains the queue and closes the wrapped
// publisher.
func (a *Async) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	<-a.done
	return a.next.Close()
}
