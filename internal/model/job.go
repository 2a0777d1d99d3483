package model

import (
	"strings"
	"time"
)

// Strictness controls the minimum confidence kept in final candidates.
type Strictness string

const (
	StrictnessLenient  Strictness = "lenient"
	StrictnessStandard Strictness = "standard"
	StrictnessStrict   Strictness = "strict"
)

// MinConfidence returns the floor applied to final candidates.
func (s Strictness) MinConfidence() int {
	switch s {
	case StrictnessLenient:
		return 0
	case StrictnessStrict:
		return 50
	default:
		return 30
	}
}

// Preferences are the caller-supplied knobs for a job.
type Preferences struct {
	UseLLM       bool       `json:"use_llm" yaml:"use_llm"`
	AllowDomains []string   `json:"allow_domains,omitempty" yaml:"allow_domains"`
	DenyDomains  []string   `json:"deny_domains,omitempty" yaml:"deny_domains"`
	BudgetCap    float64    `json:"budget_cap,omitempty" yaml:"budget_cap"`
	Strictness   Strictness `json:"strictness,omitempty" yaml:"strictness"`
}

// JobStatus is the lifecycle state of a submitted job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobCancelled JobStatus = "cancelled"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether the job has stopped.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobCancelled || s == JobFailed
}

// EntityResult is the terminal output of one entity's pipeline run.
type EntityResult struct {
	Input          ContractorInput    `json:"input"`
	Entity         *Entity            `json:"entity,omitempty"`
	Strategy       *DiscoveryStrategy `json:"strategy,omitempty"`
	Candidates     []EmailCandidate   `json:"candidates"`
	Interpretation *Interpretation    `json:"interpretation,omitempty"`
	Evidence       []Evidence         `json:"evidence,omitempty"`
	Visits         []VisitedSite      `json:"visits,omitempty"`
	Costs          []CostLineItem     `json:"costs,omitempty"`
	TotalCost      float64            `json:"total_cost"`
	Stage          Stage              `json:"stage"`
	Error          string             `json:"error,omitempty"`
	Duration       time.Duration      `json:"duration"`
}

// Failed reports whether the entity ended in the Failed state.
func (r EntityResult) Failed() bool {
	return r.Stage == StageFailed
}

// EvidenceSources returns the distinct evidence sources, semicolon-joined.
func (r EntityResult) EvidenceSources() string {
	seen := make(map[string]bool)
	var out []string
	for _, ev := range r.Evidence {
		src := ev.Source
		if ev.URL != "" {
			src = ev.URL
		}
		if src == "" || seen[src] {
			continue
		}
		seen[src] = true
		out = append(out, src)
	}
	return strings.Join(out, ";")
}

// Job is a submitted batch of contractors and its progress.
type Job struct {
	ID          string            `json:"id"`
	Status      JobStatus         `json:"status"`
	Inputs      []ContractorInput `json:"inputs"`
	Preferences Preferences       `json:"preferences"`
	Results     []EntityResult    `json:"results,omitempty"`
	Processed   int               `json:"processed"`
	Failed      int               `json:"failed"`
	TotalCost   float64           `json:"total_cost"`
	Error       string            `json:"error,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}
