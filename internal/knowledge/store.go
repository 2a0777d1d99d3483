// Package knowledge is the durable cache of captured contractor records and
// discovered emails.
package knowledge

import (
	"context"
	"strings"
	"time"

	"github.com/sells-group/discovery-cli/internal/model"
)

// DefaultStaleAfter is the age beyond which a contractor record must be
// re-verified against the live registry.
const DefaultStaleAfter = 30 * 24 * time.Hour

// DefaultMinEmailConfidence is the floor below which emails are not stored.
const DefaultMinEmailConfidence = 30

// ContractorRecord is a cached Entity.
type ContractorRecord struct {
	Entity        model.Entity `json:"entity"`
	CaptureSource string       `json:"capture_source"`
	LastVerified  time.Time    `json:"last_verified"`
}

// Fresh reports whether the record can be used without re-verification.
func (r ContractorRecord) Fresh(now time.Time, staleAfter time.Duration) bool {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return now.Sub(r.LastVerified) < staleAfter
}

// EmailRecord is a cached EmailCandidate keyed by (email, registry number).
type EmailRecord struct {
	Email          string               `json:"email"`
	RegistryNumber string               `json:"registry_number"`
	Source         model.SourceCategory `json:"source"`
	SourceURL      string               `json:"source_url,omitempty"`
	Confidence     int                  `json:"confidence"`
	Rationale      string               `json:"rationale,omitempty"`
	LastVerified   time.Time            `json:"last_verified"`
}

// EmailRecordFromCandidate builds a storable record from a validated candidate.
func EmailRecordFromCandidate(registryNumber string, c model.EmailCandidate) EmailRecord {
	return EmailRecord{
		Email:          c.Email,
		RegistryNumber: registryNumber,
		Source:         c.Source,
		SourceURL:      c.SourceURL,
		Confidence:     c.Confidence,
		Rationale:      c.Rationale,
	}
}

// Store defines persistence for the knowledge cache. Get methods return
// (nil, nil) when nothing is stored.
type Store interface {
	GetContractor(ctx context.Context, registryNumber string) (*ContractorRecord, error)
	// UpsertContractor returns false without writing when the record lacks
	// both a name and every enrichment field.
	UpsertContractor(ctx context.Context, rec ContractorRecord) (bool, error)

	// GetEmails returns stored emails ordered by confidence then recency.
	GetEmails(ctx context.Context, registryNumber string) ([]EmailRecord, error)
	// UpsertEmail writes only when the confidence strictly exceeds any
	// stored value for the same pair. It reports whether a row changed.
	UpsertEmail(ctx context.Context, rec EmailRecord) (bool, error)

	// DeleteStale removes contractor records last verified before cutoff.
	DeleteStale(ctx context.Context, cutoff time.Time) (int, error)

	Migrate(ctx context.Context) error
	Close() error
}

// Option configures a store implementation.
type Option func(*options)

type options struct {
	now           func() time.Time
	minConfidence int
}

func defaultOptions() options {
	return options{now: time.Now, minConfidence: DefaultMinEmailConfidence}
}

// WithClock overrides the time source used for lastVerified stamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithMinConfidence sets the minimum confidence for stored emails.
func WithMinConfidence(n int) Option {
	return func(o *options) { o.minConfidence = n }
}

func normalizeRegistry(n string) string {
	return strings.TrimSpace(n)
}

func contractorStorable(e model.Entity) bool {
	return strings.TrimSpace(e.Name) != "" || e.HasEnrichment()
}

func emailStorable(rec EmailRecord, minConfidence int) bool {
	return model.ValidEmailSyntax(rec.Email) && rec.Confidence >= minConfidence
}
