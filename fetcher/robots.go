package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/temoto/robotstxt"
)

// RobotsGate fetches and caches robots.txt rules per host. The first request
// to a host triggers the robots fetch; a host whose robots.txt cannot be
// retrieved is treated as fully allowed (conventional crawler behavior).
type RobotsGate struct {
	client    *http.Client
	userAgent string

	mu    sync.Mutex
	hosts map[string]*robotstxt.Group
}

func NewRobotsGate(client *http.Client, userAgent string) *RobotsGate {
	return &RobotsGate{
		client:    client,
		userAgent: userAgent,
		hosts:     make(map[string]*robotstxt.Group),
	}
}

// Allowed reports whether the target URL may be fetched under the host's
// robots rules.
func (g *RobotsGate) Allowed(ctx context.Context, target string) (bool, error) {
	u, err := url.Parse(target)
	if err != nil {
		return false, fmt.Errorf("parse url: %w", err)
	}

	g.mu.Lock()
	group, ok := g.hosts[u.Host]
	g.mu.Unlock()

	if !ok {
		group = g.fetchGroup(ctx, u)
		g.mu.Lock()
		g.hosts[u.Host] = group
		g.mu.Unlock()
	}

	if group == nil {
		return true, nil
	}
	return group.Test(u.Path), nil
}

func (g *RobotsGate) fetchGroup(ctx context.Context, u *url.URL) *robotstxt.Group {
	robotsURL := u.Scheme + "://" + u.Host + "/robots.txt"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", g.userAgent)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil
	}
	robots, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil
	}
	return robots.FindGroup(g.userAgent)
}
