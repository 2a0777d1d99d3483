package model

import "time"

// Severity of a progress event.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
	SeveritySuccess Severity = "success"
)

// ProgressEvent is one stage-transition notice on the progress feed.
type ProgressEvent struct {
	Timestamp      time.Time      `json:"timestamp"`
	Severity       Severity       `json:"severity"`
	Component      string         `json:"component"`
	Summary        string         `json:"summary"`
	Detail         map[string]any `json:"detail,omitempty"`
	JobID          string         `json:"job_id,omitempty"`
	RegistryNumber string         `json:"registry_number,omitempty"`
	Stage          Stage          `json:"stage,omitempty"`
}

// Stage is a state of the per-entity pipeline.
type Stage string

const (
	StageStart            Stage = "start"
	StageRegistryLookup   Stage = "registry_lookup"
	StageStrategyDecision Stage = "strategy_decision"
	StageExecution        Stage = "execution"
	StageValidation       Stage = "validation"
	StageInterpretation   Stage = "interpretation"
	StageDone             Stage = "done"
	StageFailed           Stage = "failed"
)

// Terminal reports whether no further transition is possible from s.
func (s Stage) Terminal() bool {
	return s == StageDone || s == StageFailed
}
