package model

// SourceCategory classifies where a search result or email came from.
type SourceCategory string

const (
	SourceOfficialWebsite SourceCategory = "official_website"
	SourceRegistry        SourceCategory = "registry"
	SourceWebSearch       SourceCategory = "web_search"
	SourceSocial          SourceCategory = "social"
	SourceDirectory       SourceCategory = "directory"
	SourceKnowledge       SourceCategory = "knowledge_store"
)

// Authoritative reports whether the category is an authoritative source for
// contact data about the entity.
func (c SourceCategory) Authoritative() bool {
	switch c {
	case SourceOfficialWebsite, SourceRegistry:
		return true
	default:
		return false
	}
}

// SMTPResult is the outcome of an optional SMTP mailbox probe.
type SMTPResult string

const (
	SMTPUnknown  SMTPResult = "unknown"
	SMTPAccepted SMTPResult = "accepted"
	SMTPRejected SMTPResult = "rejected"
)

// ValidationSignals holds the individual checks behind a confidence score.
type ValidationSignals struct {
	FormatValid          bool       `json:"format_valid"`
	DomainValid          bool       `json:"domain_valid"`
	HasMX                bool       `json:"has_mx"`
	SMTP                 SMTPResult `json:"smtp"`
	AuthoritativeSource  bool       `json:"authoritative_source"`
	MultiSource          bool       `json:"multi_source"`
	SourceCount          int        `json:"source_count"`
	DomainMatchesWebsite bool       `json:"domain_matches_website"`
	FreeMail             bool       `json:"free_mail"`
}

// Sighting is one place a raw email string was observed.
type Sighting struct {
	Category SourceCategory `json:"category"`
	URL      string         `json:"url"`
}

// RawEmail is an unvalidated email-shaped string with every place it was seen.
type RawEmail struct {
	Email     string     `json:"email"`
	Sightings []Sighting `json:"sightings"`
}

// EmailCandidate is a discovered, scored email with provenance.
type EmailCandidate struct {
	Email      string            `json:"email"`
	Source     SourceCategory    `json:"source"`
	SourceURL  string            `json:"source_url"`
	SourceURLs []string          `json:"source_urls,omitempty"`
	Confidence int               `json:"confidence"`
	Rationale  string            `json:"rationale"`
	Signals    ValidationSignals `json:"signals"`
}

// ConfidenceBucket groups candidates for summaries.
type ConfidenceBucket string

const (
	BucketHigh   ConfidenceBucket = "high"
	BucketMedium ConfidenceBucket = "medium"
	BucketLow    ConfidenceBucket = "low"
)

// Bucket returns the confidence bucket for a score in [0,100].
func Bucket(confidence int) ConfidenceBucket {
	switch {
	case confidence >= 80:
		return BucketHigh
	case confidence >= 50:
		return BucketMedium
	default:
		return BucketLow
	}
}

// Bucket returns the candidate's confidence bucket.
func (c EmailCandidate) Bucket() ConfidenceBucket {
	return Bucket(c.Confidence)
}
