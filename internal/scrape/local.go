package scrape

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/sells-group/discovery-cli/internal/resilience"
)

// DefaultUserAgent identifies the fetcher to remote sites and robots.txt.
const DefaultUserAgent = "Mozilla/5.0 (compatible; ContractorDiscoveryBot/1.0)"

// ErrDynamicContent marks a page that only renders client-side.
var ErrDynamicContent = eris.New("local_http: page requires javascript rendering")

// LocalScraper fetches HTML via net/http. It is free and handles most
// contractor sites; blocked or client-rendered pages fall through to the
// next scraper in the chain.
type LocalScraper struct {
	client    *http.Client
	userAgent string
	maxBody   int64
	now       func() time.Time
}

// LocalOption configures a LocalScraper.
type LocalOption func(*LocalScraper)

// WithTimeout sets the per-page timeout.
func WithTimeout(d time.Duration) LocalOption {
	return func(l *LocalScraper) {
		if d > 0 {
			l.client.Timeout = d
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) LocalOption {
	return func(l *LocalScraper) {
		if ua != "" {
			l.userAgent = ua
		}
	}
}

// WithMaxBodyKB caps how much of each response is read.
func WithMaxBodyKB(kb int) LocalOption {
	return func(l *LocalScraper) {
		if kb > 0 {
			l.maxBody = int64(kb) * 1024
		}
	}
}

// NewLocalScraper creates a LocalScraper with a 30s page timeout.
func NewLocalScraper(opts ...LocalOption) *LocalScraper {
	l := &LocalScraper{
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		userAgent: DefaultUserAgent,
		maxBody:   512 * 1024,
		now:       time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *LocalScraper) Name() string           { return "local_http" }
func (l *LocalScraper) Supports(_ string) bool { return true }

// Scrape fetches a URL, rejects blocked and JS-only pages, and keeps both
// the raw HTML and its visible text.
func (l *LocalScraper) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "local_http: create request")
	}
	req.Header.Set("User-Agent", l.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, resilience.NewFetchError(l.Name(), targetURL, err, 0)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, l.maxBody))
	if err != nil {
		return nil, resilience.NewFetchError(l.Name(), targetURL, err, resp.StatusCode)
	}

	switch block := DetectBlock(resp, body); block {
	case BlockNone:
	case BlockJSShell:
		return nil, resilience.NewFetchError(l.Name(), targetURL, ErrDynamicContent, resp.StatusCode)
	default:
		return nil, resilience.NewFetchError(l.Name(), targetURL, eris.Errorf("blocked (%s)", block), resp.StatusCode)
	}

	if resp.StatusCode >= 400 {
		return nil, resilience.NewFetchError(l.Name(), targetURL, eris.New("bad status"), resp.StatusCode)
	}

	title, text := extractText(body)
	return &Result{
		Page: Page{
			URL:        resp.Request.URL.String(),
			Title:      title,
			HTML:       string(body),
			Text:       text,
			StatusCode: resp.StatusCode,
			FetchedAt:  l.now(),
		},
		Source: l.Name(),
	}, nil
}

var spaceRe = regexp.MustCompile(`[ \t\r]+`)
var blankLinesRe = regexp.MustCompile(`\n{3,}`)

// extractText returns the document title and visible body text with
// script and style content removed.
func extractText(body []byte) (string, string) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", ""
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())
	doc.Find("script, style, noscript, svg").Remove()

	text := doc.Find("body").Text()
	if text == "" {
		text = doc.Text()
	}
	text = spaceRe.ReplaceAllString(text, " ")
	text = blankLinesRe.ReplaceAllString(text, "\n\n")
	return title, strings.TrimSpace(text)
}
