package scrape

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/discovery-cli/internal/model"
)

var (
	// ErrDomainDenied is returned for hosts outside the entity's domain policy.
	ErrDomainDenied = eris.New("scrape: domain not allowed")
	// ErrRobotsDisallowed is returned when robots.txt excludes the URL.
	ErrRobotsDisallowed = eris.New("scrape: disallowed by robots.txt")
	// ErrPathExcluded is returned for URLs that never carry contact details.
	ErrPathExcluded = eris.New("scrape: path excluded")
)

// Fetcher fetches one page on behalf of an entity run.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Page, error)
}

// VisitRecorder receives one record per attempted page fetch.
type VisitRecorder interface {
	RecordVisit(v model.VisitedSite)
}

// Session is an entity-scoped Fetcher that applies the domain policy and
// robots exclusion, then logs every visit.
type Session struct {
	chain    *Chain
	policy   *DomainPolicy
	robots   *Robots
	matcher  *PathMatcher
	recorder VisitRecorder
	now      func() time.Time
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithRobots enables robots.txt checks.
func WithRobots(r *Robots) SessionOption {
	return func(s *Session) { s.robots = r }
}

// WithPathMatcher sets the excluded path patterns.
func WithPathMatcher(m *PathMatcher) SessionOption {
	return func(s *Session) { s.matcher = m }
}

// WithRecorder sets where visits are logged.
func WithRecorder(r VisitRecorder) SessionOption {
	return func(s *Session) { s.recorder = r }
}

// NewSession creates a Session over chain. A nil policy allows every host.
func NewSession(chain *Chain, policy *DomainPolicy, opts ...SessionOption) *Session {
	if policy == nil {
		policy = NewDomainPolicy(nil, nil)
	}
	s := &Session{
		chain:   chain,
		policy:  policy,
		matcher: NewPathMatcher(nil),
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Fetch fetches targetURL through the chain.
func (s *Session) Fetch(ctx context.Context, targetURL string) (*Page, error) {
	if !s.policy.AllowedURL(targetURL) {
		return nil, eris.Wrap(ErrDomainDenied, targetURL)
	}
	if s.matcher.IsExcluded(targetURL) {
		return nil, eris.Wrap(ErrPathExcluded, targetURL)
	}

	visit := model.VisitedSite{URL: targetURL, StartedAt: s.now()}
	if s.robots != nil {
		visit.RobotsHonored = true
		if !s.robots.Allowed(ctx, targetURL) {
			visit.CompletedAt = s.now()
			visit.Error = ErrRobotsDisallowed.Error()
			s.record(visit)
			return nil, eris.Wrap(ErrRobotsDisallowed, targetURL)
		}
	}

	result, err := s.chain.Scrape(ctx, targetURL)
	visit.CompletedAt = s.now()
	if err != nil {
		visit.Error = err.Error()
		s.record(visit)
		return nil, err
	}
	visit.Success = true
	visit.Fetcher = result.Source
	s.record(visit)

	zap.L().Debug("scrape: fetched page",
		zap.String("url", targetURL),
		zap.String("fetcher", result.Source),
		zap.Int("bytes", len(result.Page.Content())),
	)
	page := result.Page
	return &page, nil
}

func (s *Session) record(v model.VisitedSite) {
	if s.recorder != nil {
		s.recorder.RecordVisit(v)
	}
}

// FetchAll fetches urls with at most maxConcurrent in flight. Failed URLs
// are skipped; pages come back in input order.
func FetchAll(ctx context.Context, f Fetcher, urls []string, maxConcurrent int) []Page {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	pages := make([]*Page, len(urls))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrent)
	for i, u := range urls {
		g.Go(func() error {
			p, err := f.Fetch(gCtx, u)
			if err != nil {
				zap.L().Debug("scrape: fetch failed", zap.String("url", u), zap.Error(err))
				return nil
			}
			pages[i] = p
			return nil
		})
	}
	_ = g.Wait()

	out := make([]Page, 0, len(urls))
	for _, p := range pages {
		if p != nil {
			out = append(out, *p)
		}
	}
	return out
}
