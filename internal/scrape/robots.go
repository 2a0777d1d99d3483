package scrape

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

// Robots answers robots.txt exclusion questions with a per-host cache.
type Robots struct {
	client *http.Client
	agent  string

	mu    sync.Mutex
	hosts map[string]*robotstxt.RobotsData
}

// NewRobots creates a robots checker identifying as agent.
func NewRobots(agent string, timeout time.Duration) *Robots {
	if agent == "" {
		agent = DefaultUserAgent
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Robots{
		client: &http.Client{Timeout: timeout},
		agent:  agent,
		hosts:  make(map[string]*robotstxt.RobotsData),
	}
}

// Allowed reports whether agent may fetch rawURL. A robots.txt that cannot
// be fetched or parsed allows everything.
func (r *Robots) Allowed(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}
	data := r.load(ctx, u.Scheme+"://"+u.Host)
	if data == nil {
		return true
	}
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	return data.TestAgent(p, r.agent)
}

func (r *Robots) load(ctx context.Context, origin string) *robotstxt.RobotsData {
	r.mu.Lock()
	data, ok := r.hosts[origin]
	r.mu.Unlock()
	if ok {
		return data
	}

	data, final := r.fetch(ctx, origin)
	if !final || ctx.Err() != nil {
		return data
	}

	r.mu.Lock()
	r.hosts[origin] = data
	r.mu.Unlock()
	return data
}

// fetch reads origin's robots.txt. final is false when the outcome is
// transient and must not be cached.
func (r *Robots) fetch(ctx context.Context, origin string) (data *robotstxt.RobotsData, final bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return nil, true
	}
	req.Header.Set("User-Agent", r.agent)

	resp, err := r.client.Do(req)
	if err != nil {
		zap.L().Debug("scrape: robots.txt unavailable", zap.String("origin", origin), zap.Error(err))
		return nil, false
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 256*1024))
	if err != nil {
		return nil, false
	}
	final = resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests
	data, err = robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		zap.L().Debug("scrape: robots.txt unparseable", zap.String("origin", origin), zap.Error(err))
		return nil, final
	}
	return data, final
}
