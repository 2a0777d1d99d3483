// Package resilience classifies pipeline errors and guards external sources
// with circuit breakers and bounded retries.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"

	"github.com/sells-group/discovery-cli/internal/model"
)

// TransientError is a fetch failure (timeout, DNS, bad status, malformed
// page) that is recovered from by moving to the next source or variant.
type TransientError struct {
	Err        error
	StatusCode int
	Source     string
	URL        string
}

func (e *TransientError) Error() string {
	switch {
	case e.URL != "" && e.StatusCode > 0:
		return fmt.Sprintf("%s: fetch %s: status %d: %v", e.Source, e.URL, e.StatusCode, e.Err)
	case e.URL != "":
		return fmt.Sprintf("%s: fetch %s: %v", e.Source, e.URL, e.Err)
	default:
		return e.Err.Error()
	}
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// NewFetchError wraps a page fetch failure for a source and URL.
func NewFetchError(source, url string, err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode, Source: source, URL: url}
}

var transientPatterns = []string{
	"connection reset by peer",
	"broken pipe",
	"temporary failure in name resolution",
	"no such host",
	"tls handshake timeout",
	"i/o timeout",
	"server closed idle connection",
	"transport connection broken",
}

// IsTransient reports whether err is a TransientError or a recognizable
// network-level failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// IsTransientHTTPStatus reports whether a status code is worth trying again
// against a different source or later.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// Kind is a pipeline error category.
type Kind string

const (
	KindNone           Kind = ""
	KindNotFound       Kind = "not_found"
	KindBudgetExceeded Kind = "budget_exceeded"
	KindTransientFetch Kind = "transient_fetch"
	KindReasoning      Kind = "reasoning"
	KindPersistence    Kind = "persistence"
	KindCancelled      Kind = "cancelled"
	KindUnknown        Kind = "unknown"
)

// Classify maps err onto the pipeline error taxonomy.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}
	var (
		be *model.BudgetExceededError
		re *model.ReasoningError
		pe *model.PersistenceError
	)
	switch {
	case errors.Is(err, model.ErrNotFound):
		return KindNotFound
	case errors.As(err, &be):
		return KindBudgetExceeded
	case errors.As(err, &re):
		return KindReasoning
	case errors.As(err, &pe):
		return KindPersistence
	case isCancelled(err):
		return KindCancelled
	case IsTransient(err), errors.Is(err, ErrCircuitOpen):
		return KindTransientFetch
	default:
		return KindUnknown
	}
}

// Fatal reports whether err must end the entity's run. Only an unresolved
// registry lookup is fatal.
func Fatal(err error) bool {
	return Classify(err) == KindNotFound
}

func isCancelled(err error) bool {
	return errors.Is(err, context.Canceled)
}
