package scrape

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChain_FirstSuccessWins(t *testing.T) {
	s1 := &mockScraper{name: "primary", supports: true, result: &Result{Page: Page{URL: "https://acme.example"}, Source: "primary"}}
	s2 := &mockScraper{name: "fallback", supports: true}

	result, err := NewChain(s1, s2).Scrape(context.Background(), "https://acme.example")
	require.NoError(t, err)
	assert.Equal(t, "primary", result.Source)
	assert.Equal(t, 0, s2.calls)
}

func TestChain_FallsThroughOnError(t *testing.T) {
	s1 := &mockScraper{name: "primary", supports: true, err: errors.New("blocked")}
	s2 := &mockScraper{name: "fallback", supports: true, result: &Result{Source: "fallback"}}

	result, err := NewChain(s1, s2).Scrape(context.Background(), "https://acme.example")
	require.NoError(t, err)
	assert.Equal(t, "fallback", result.Source)
}

func TestChain_SkipsUnsupported(t *testing.T) {
	s1 := &mockScraper{name: "off", supports: false, result: &Result{Source: "off"}}
	s2 := &mockScraper{name: "on", supports: true, result: &Result{Source: "on"}}

	result, err := NewChain(s1, s2).Scrape(context.Background(), "https://acme.example")
	require.NoError(t, err)
	assert.Equal(t, "on", result.Source)
	assert.Equal(t, 0, s1.calls)
	assert.Equal(t, []string{"off", "on"}, NewChain(s1, s2).Names())
}

func TestChain_AllFail(t *testing.T) {
	s1 := &mockScraper{name: "a", supports: true, err: errors.New("first")}
	s2 := &mockScraper{name: "b", supports: true, err: errors.New("second")}

	_, err := NewChain(s1, s2).Scrape(context.Background(), "https://acme.example")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "second")

	_, err = NewChain().Scrape(context.Background(), "https://acme.example")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no suitable scraper")
}

func TestChain_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s1 := &mockScraper{name: "a", supports: true, result: &Result{}}

	_, err := NewChain(s1).Scrape(ctx, "https://acme.example")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, s1.calls)
}

func TestSession_RecordsVisits(t *testing.T) {
	ok := &mockScraper{name: "local_http", supports: true, result: &Result{Page: Page{URL: "https://acme.example/contact", Text: "hi"}, Source: "local_http"}}
	log := &visitLog{}
	sess := NewSession(NewChain(ok), nil, WithRecorder(log))

	page, err := sess.Fetch(context.Background(), "https://acme.example/contact")
	require.NoError(t, err)
	assert.Equal(t, "hi", page.Text)

	require.Len(t, log.visits, 1)
	v := log.visits[0]
	assert.True(t, v.Success)
	assert.Equal(t, "local_http", v.Fetcher)
	assert.False(t, v.RobotsHonored)
	assert.False(t, v.CompletedAt.Before(v.StartedAt))
}

func TestSession_FailedVisitLogged(t *testing.T) {
	bad := &mockScraper{name: "local_http", supports: true, err: errors.New("timeout")}
	log := &visitLog{}
	sess := NewSession(NewChain(bad), nil, WithRecorder(log))

	_, err := sess.Fetch(context.Background(), "https://acme.example")
	require.Error(t, err)
	require.Len(t, log.visits, 1)
	assert.False(t, log.visits[0].Success)
	assert.Contains(t, log.visits[0].Error, "timeout")
}

func TestSession_DomainPolicy(t *testing.T) {
	s := &mockScraper{name: "local_http", supports: true, result: &Result{}}
	log := &visitLog{}
	policy := NewDomainPolicy([]string{"yelp.com"}, []string{"spam.example"}).Always("https://acme.example")
	sess := NewSession(NewChain(s), policy, WithRecorder(log))

	_, err := sess.Fetch(context.Background(), "https://spam.example/page")
	assert.ErrorIs(t, err, ErrDomainDenied)
	_, err = sess.Fetch(context.Background(), "https://other.example/page")
	assert.ErrorIs(t, err, ErrDomainDenied)

	_, err = sess.Fetch(context.Background(), "https://www.yelp.com/biz/acme")
	assert.NoError(t, err)
	_, err = sess.Fetch(context.Background(), "https://acme.example/contact")
	assert.NoError(t, err)

	assert.Len(t, log.visits, 2)
}

func TestSession_PathExcluded(t *testing.T) {
	s := &mockScraper{name: "local_http", supports: true, result: &Result{}}
	sess := NewSession(NewChain(s), nil)

	_, err := sess.Fetch(context.Background(), "https://acme.example/files/brochure.pdf")
	assert.ErrorIs(t, err, ErrPathExcluded)
	assert.Equal(t, 0, s.calls)
}

func TestSession_RobotsDisallowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			_, _ = fmt.Fprint(w, "User-agent: *\nDisallow: /private\n")
			return
		}
		_, _ = w.Write([]byte(contactPage))
	}))
	defer srv.Close()

	log := &visitLog{}
	sess := NewSession(NewChain(NewLocalScraper()), nil,
		WithRobots(NewRobots("test-agent", 0)),
		WithRecorder(log),
	)

	_, err := sess.Fetch(context.Background(), srv.URL+"/private/contact")
	assert.ErrorIs(t, err, ErrRobotsDisallowed)

	page, err := sess.Fetch(context.Background(), srv.URL+"/contact")
	require.NoError(t, err)
	assert.Contains(t, page.HTML, "office@acme.example")

	require.Len(t, log.visits, 2)
	assert.True(t, log.visits[0].RobotsHonored)
	assert.False(t, log.visits[0].Success)
	assert.True(t, log.visits[1].Success)
}

func TestFetchAll_SkipsFailuresKeepsOrder(t *testing.T) {
	f := fetchFunc(func(_ context.Context, u string) (*Page, error) {
		if u == "https://b.example" {
			return nil, errors.New("down")
		}
		return &Page{URL: u}, nil
	})

	pages := FetchAll(context.Background(), f, []string{"https://a.example", "https://b.example", "https://c.example"}, 2)
	require.Len(t, pages, 2)
	assert.Equal(t, "https://a.example", pages[0].URL)
	assert.Equal(t, "https://c.example", pages[1].URL)
}

type fetchFunc func(ctx context.Context, url string) (*Page, error)

func (f fetchFunc) Fetch(ctx context.Context, url string) (*Page, error) { return f(ctx, url) }
