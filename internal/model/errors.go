package model

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when the registry has no record for an entity.
var ErrNotFound = errors.New("registry: entity not found")

// Budget scopes.
const (
	BudgetScopeEntity = "entity"
	BudgetScopeJob    = "job"
)

// BudgetStats summarizes a ledger entry.
type BudgetStats struct {
	Total        int     `json:"total"`
	Remaining    int     `json:"remaining"`
	Max          int     `json:"max"`
	AvgResults   float64 `json:"avg_results"`
	SuccessCount int     `json:"success_count"`
}

// BudgetExceededError is returned when a metered call is refused.
type BudgetExceededError struct {
	Scope string
	Key   string
	Stats BudgetStats
	Spent float64
	Cap   float64
}

func (e *BudgetExceededError) Error() string {
	if e.Scope == BudgetScopeJob {
		return fmt.Sprintf("budget exceeded: job spend %.4f reached cap %.4f", e.Spent, e.Cap)
	}
	return fmt.Sprintf("budget exceeded: entity %s used %d of %d calls", e.Key, e.Stats.Total, e.Stats.Max)
}

// IsBudgetExceeded reports whether err is a BudgetExceededError.
func IsBudgetExceeded(err error) bool {
	var be *BudgetExceededError
	return errors.As(err, &be)
}

// ReasoningError wraps a failed or malformed LLM reasoning call.
type ReasoningError struct {
	Op  string
	Err error
}

func (e *ReasoningError) Error() string {
	return fmt.Sprintf("reasoning %s: %v", e.Op, e.Err)
}

func (e *ReasoningError) Unwrap() error { return e.Err }

// PersistenceError wraps a knowledge store write failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
