package scrape

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/discovery-cli/internal/resilience"
	"github.com/sells-group/discovery-cli/pkg/jina"
)

// DefaultDynamicWait is the increment added to the reader's render wait on
// each attempt at a client-rendered page.
const DefaultDynamicWait = 2 * time.Second

// maxRenderAttempts bounds the incremental waits for one page.
const maxRenderAttempts = 3

var challengeSignatures = []string{
	"checking your browser",
	"enable javascript",
	"please enable cookies",
	"access denied",
	"403 forbidden",
	"just a moment",
	"attention required",
}

// JinaAdapter renders pages through the Jina reader. It is the fallback for
// pages the local fetcher cannot render.
type JinaAdapter struct {
	client      jina.Client
	breaker     *resilience.Breaker
	dynamicWait time.Duration
	now         func() time.Time
}

// NewJinaAdapter wraps a Jina client. dynamicWait <= 0 uses DefaultDynamicWait.
func NewJinaAdapter(client jina.Client, dynamicWait time.Duration) *JinaAdapter {
	if dynamicWait <= 0 {
		dynamicWait = DefaultDynamicWait
	}
	return &JinaAdapter{
		client:      client,
		breaker:     resilience.NewBreaker("jina", resilience.BreakerConfig{FailureThreshold: 3, Cooldown: time.Minute}),
		dynamicWait: dynamicWait,
		now:         time.Now,
	}
}

func (j *JinaAdapter) Name() string { return "jina" }

// Supports returns false while the breaker is open so the chain skips it.
func (j *JinaAdapter) Supports(_ string) bool {
	return j.breaker.State() != resilience.StateOpen
}

// Scrape reads a URL through Jina. A page that comes back empty is read
// again with a longer render wait, up to maxRenderAttempts times.
func (j *JinaAdapter) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	if err := j.breaker.Allow(); err != nil {
		return nil, err
	}

	var resp *jina.ReadResponse
	var err error
	for attempt := 1; attempt <= maxRenderAttempts; attempt++ {
		wait := time.Duration(attempt) * j.dynamicWait
		resp, err = j.client.Read(ctx, targetURL, jina.WithWaitTimeout(wait))
		if err != nil {
			err = resilience.NewFetchError(j.Name(), targetURL, err, jina.StatusCode(err))
			break
		}
		if !needsRender(resp) {
			break
		}
		if attempt == maxRenderAttempts {
			err = resilience.NewFetchError(j.Name(), targetURL, eris.New("no usable content"), resp.Code)
			break
		}
		zap.L().Debug("scrape: waiting for dynamic content",
			zap.String("url", targetURL),
			zap.Duration("wait", wait+j.dynamicWait),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(j.dynamicWait):
		}
	}
	j.breaker.Record(err)
	if err != nil {
		return nil, err
	}

	u := resp.Data.URL
	if u == "" {
		u = targetURL
	}
	return &Result{
		Page: Page{
			URL:        u,
			Title:      resp.Data.Title,
			Text:       resp.Data.Content,
			StatusCode: 200,
			FetchedAt:  j.now(),
		},
		Source: j.Name(),
	}, nil
}

// needsRender reports whether a reader response lacks usable content.
func needsRender(resp *jina.ReadResponse) bool {
	if resp == nil {
		return true
	}
	if resp.Code != 0 && resp.Code != 200 {
		return true
	}
	content := strings.TrimSpace(resp.Data.Content)
	if len(content) < 100 {
		return true
	}
	if len(content) < 1000 {
		lower := strings.ToLower(content)
		if containsAny(lower, challengeSignatures) {
			return true
		}
	}
	return false
}
