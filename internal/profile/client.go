package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrNoProfile means the user service has no profile for the username.
var ErrNoProfile = errors.New("profile not found")

// Profile is the display data the user service keeps for an account.
type Profile struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

type Options struct {
	Service     string
	Timeout     time.Duration
	MaxFailures uint32
	OpenTimeout time.Duration
	Retries     uint64
}

// Client fetches profiles from the user service through a circuit breaker.
type Client struct {
	disc Discovery
	http *http.Client
	cb   *gobreaker.CircuitBreaker
	log  *zap.Logger
	opts Options
}

func NewClient(disc Discovery, logger *zap.Logger, opts Options) *Client {
	if opts.Service == "" {
		opts.Service = "user"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	if opts.MaxFailures == 0 {
		opts.MaxFailures = 5
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 30 * time.Second
	}
	st := gobreaker.Settings{
		Name:        "profile",
		MaxRequests: 1,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.MaxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNoProfile)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("circuit breaker state", zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}
	return &Client{
		disc: disc,
		http: &http.Client{Timeout: opts.Timeout},
		cb:   gobreaker.NewCircuitBreaker(st),
		log:  logger,
		opts: opts,
	}
}

// Get fetches one profile. Transport errors and 5xx are retried with backoff.
func (c *Client) Get(ctx context.Context, username string) (Profile, error) {
	res, err := c.cb.Execute(func() (interface{}, error) {
		var p Profile
		op := func() error {
			got, err := c.fetch(ctx, username)
			if err != nil {
				return err
			}
			p = got
			return nil
		}
		b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.opts.Retries), ctx)
		if err := backoff.Retry(op, b); err != nil {
			return nil, err
		}
		return p, nil
	})
	if err != nil {
		return Profile{}, err
	}
	return res.(Profile), nil
}

func (c *Client) fetch(ctx context.Context, username string) (Profile, error) {
	base, err := c.disc.Lookup(c.opts.Service)
	if err != nil {
		return Profile{}, backoff.Permanent(fmt.Errorf("discover %s: %w", c.opts.Service, err))
	}
	endpoint := fmt.Sprintf("%s/api/users/%s/profile", base, url.PathEscape(username))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Profile{}, backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Profile{}, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Profile{}, backoff.Permanent(ErrNoProfile)
	case resp.StatusCode >= 500:
		_, _ = io.Copy(io.Discard, resp.Body)
		return Profile{}, fmt.Errorf("upstream status %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return Profile{}, backoff.Permanent(fmt.Errorf("upstream status %d", resp.StatusCode))
	}

	var body struct {
		Data Profile `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Profile{}, backoff.Permanent(fmt.Errorf("decode profile: %w", err))
	}
	if body.Data.Username == "" {
		body.Data.Username = username
	}
	return body.Data, nil
}

// Lookup fetches profiles concurrently and leaves out the ones that failed.
func (c *Client) Lookup(ctx context.Context, usernames []string) map[string]Profile {
	out := make(map[string]Profile, len(usernames))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, u := range usernames {
		wg.Add(1)
		go func(username string) {
			defer wg.Done()
			p, err := c.Get(ctx, username)
			if err != nil {
				if !errors.Is(err, ErrNoProfile) {
					c.log.Debug("profile lookup failed", zap.String("username", username), zap.Error(err))
				}
				return
			}
			mu.Lock()
			out[username] = p
			mu.Unlock()
		}(u)
	}
	wg.Wait()
	return out
}
