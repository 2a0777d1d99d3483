package model

// Approach tags the overall shape of a discovery strategy.
type Approach string

const (
	ApproachRegistryFirst Approach = "registry-first"
	ApproachSearchFirst   Approach = "search-first"
	ApproachHybrid        Approach = "hybrid"
	ApproachRegistryOnly  Approach = "registry-only"
)

// Valid reports whether a is a known approach.
func (a Approach) Valid() bool {
	switch a {
	case ApproachRegistryFirst, ApproachSearchFirst, ApproachHybrid, ApproachRegistryOnly:
		return true
	default:
		return false
	}
}

// ScrapesWebsite reports whether the approach visits the official website.
func (a Approach) ScrapesWebsite() bool {
	return a == ApproachRegistryFirst || a == ApproachRegistryOnly || a == ApproachHybrid
}

// Searches reports whether the approach runs search queries. Registry-first
// stays on the registry record and the official website.
func (a Approach) Searches() bool {
	return a == ApproachSearchFirst || a == ApproachHybrid
}

// Reasoning backends that can produce a strategy or interpretation.
const (
	DecidedByRules = "rules"
	DecidedByLLM   = "llm"
)

// DiscoveryStrategy is the plan chosen for one entity.
type DiscoveryStrategy struct {
	Approach       Approach         `json:"approach"`
	SearchQueries  []string         `json:"search_queries"`
	MaxURLs        int              `json:"max_urls"`
	SourcePriority []SourceCategory `json:"source_priority"`
	Rationale      string           `json:"rationale"`
	Confidence     int              `json:"confidence"`
	DecidedBy      string           `json:"decided_by"`
}

// Interpretation is the human-readable explanation of a run's results.
type Interpretation struct {
	Summary               string   `json:"summary"`
	KeyFindings           []string `json:"key_findings"`
	Recommendations       []string `json:"recommendations"`
	ConfidenceExplanation string   `json:"confidence_explanation"`
	DecidedBy             string   `json:"decided_by"`
}
