package model

import "time"

// EvidenceKind classifies an evidence record.
type EvidenceKind string

const (
	EvidenceRegistryRecord EvidenceKind = "registry_record"
	EvidenceSearchResult   EvidenceKind = "search_result"
	EvidencePageContent    EvidenceKind = "page_content"
	EvidenceReasoning      EvidenceKind = "reasoning"
	EvidenceValidation     EvidenceKind = "validation"
)

// Evidence is an immutable provenance record attached to a step's output.
type Evidence struct {
	ID         string       `json:"id"`
	Kind       EvidenceKind `json:"kind"`
	Source     string       `json:"source"`
	Content    string       `json:"content"`
	URL        string       `json:"url,omitempty"`
	CapturedAt time.Time    `json:"captured_at"`
}

// VisitedSite records one externally fetched page.
type VisitedSite struct {
	URL           string    `json:"url"`
	StartedAt     time.Time `json:"started_at"`
	CompletedAt   time.Time `json:"completed_at"`
	Success       bool      `json:"success"`
	Error         string    `json:"error,omitempty"`
	RobotsHonored bool      `json:"robots_honored"`
	Fetcher       string    `json:"fetcher,omitempty"`
}

// CostCategory classifies a billable action.
type CostCategory string

const (
	CostSearch     CostCategory = "search"
	CostScrape     CostCategory = "scrape"
	CostValidation CostCategory = "validation"
	CostEnrichment CostCategory = "enrichment"
	CostReasoning  CostCategory = "reasoning"
)

// CostLineItem is one billable or attributable action.
type CostLineItem struct {
	Category    CostCategory `json:"category"`
	Description string       `json:"description,omitempty"`
	UnitCost    float64      `json:"unit_cost"`
	Quantity    int          `json:"quantity"`
	TotalCost   float64      `json:"total_cost"`
	Currency    string       `json:"currency"`
	Timestamp   time.Time    `json:"timestamp"`
}
