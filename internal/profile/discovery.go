package profile

import (
	"fmt"
	"strings"
	"sync"
	"time"

	consulapi "github.com/hashicorp/consul/api"
	"go.uber.org/zap"
)

// Discovery resolves a service name to a base URL.
type Discovery interface {
	Lookup(service string) (string, error)
}

type staticDiscovery struct {
	baseURL string
}

// Static always answers with baseURL.
func Static(baseURL string) Discovery {
	return &staticDiscovery{baseURL: strings.TrimRight(baseURL, "/")}
}

func (s *staticDiscovery) Lookup(string) (string, error) {
	if s.baseURL == "" {
		return "", fmt.Errorf("no base url configured")
	}
	return s.baseURL, nil
}

type cachedAddrs struct {
	urls    []string
	fetched time.Time
}

type consulDiscovery struct {
	client *consulapi.Client
	ttl    time.Duration
	mu     sync.RWMutex
	cache  map[string]cachedAddrs
	next   map[string]int
	logger *zap.Logger
}

// Consul looks up healthy instances and rotates between them. Results are
// cached for ttl.
func Consul(addr string, ttl time.Duration, logger *zap.Logger) (Discovery, error) {
	cfg := consulapi.DefaultConfig()
	cfg.Address = addr
	client, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &consulDiscovery{
		client: client,
		ttl:    ttl,
		cache:  map[string]cachedAddrs{},
		next:   map[string]int{},
		logger: logger,
	}, nil
}

func (c *consulDiscovery) Lookup(service string) (string, error) {
	c.mu.RLock()
	entry, ok := c.cache[service]
	c.mu.RUnlock()
	if !ok || time.Since(entry.fetched) > c.ttl {
		urls, err := c.fetch(service)
		if err != nil {
			if ok && len(entry.urls) > 0 {
				c.logger.Warn("consul lookup failed, using stale instances", zap.String("service", service), zap.Error(err))
				return c.pick(service, entry.urls), nil
			}
			return "", err
		}
		entry = cachedAddrs{urls: urls, fetched: time.Now()}
		c.mu.Lock()
		c.cache[service] = entry
		c.mu.Unlock()
	}
	return c.pick(service, entry.urls), nil
}

func (c *consulDiscovery) fetch(service string) ([]string, error) {
	entries, _, err := c.client.Health().Service(service, "", true, nil)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("no healthy instances for %s", service)
	}
	urls := make([]string, 0, len(entries))
	for _, e := range entries {
		addr := e.Service.Address
		if addr == "" {
			addr = e.Node.Address
		}
		urls = append(urls, fmt.Sprintf("http://%s:%d", addr, e.Service.Port))
	}
	return urls, nil
}

func (c *consulDiscovery) pick(service string, urls []string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.next[service] % len(urls)
	c.next[service] = i + 1
	return urls[i]
}
