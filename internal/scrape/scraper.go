// Package scrape fetches pages for registry lookup, search, and email
// discovery through an ordered chain of scrapers.
package scrape

import (
	"context"
	"time"
)

// Page is one fetched document. HTML is empty when the page came back as
// rendered text (for example from the Jina reader).
type Page struct {
	URL        string    `json:"url"`
	Title      string    `json:"title"`
	HTML       string    `json:"-"`
	Text       string    `json:"text"`
	StatusCode int       `json:"status_code"`
	FetchedAt  time.Time `json:"fetched_at"`
}

// Content returns the richest body available for pattern matching.
func (p Page) Content() string {
	if p.HTML != "" {
		return p.HTML
	}
	return p.Text
}

// Result holds a scraped page with the scraper that produced it.
type Result struct {
	Page   Page
	Source string
}

// Scraper fetches a single URL and returns its content.
type Scraper interface {
	Scrape(ctx context.Context, url string) (*Result, error)
	Name() string
	Supports(url string) bool
}
