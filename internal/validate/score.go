// Package validate checks raw email strings and scores them into
// EmailCandidates.
package validate

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/discovery-cli/internal/model"
)

// Weights are the confidence points each signal contributes. Scores are
// clamped to [0,100].
type Weights struct {
	Format        int `yaml:"format" mapstructure:"format"`
	Domain        int `yaml:"domain" mapstructure:"domain"`
	MX            int `yaml:"mx" mapstructure:"mx"`
	SMTPAccepted  int `yaml:"smtp_accepted" mapstructure:"smtp_accepted"`
	SMTPRejected  int `yaml:"smtp_rejected" mapstructure:"smtp_rejected"`
	Authoritative int `yaml:"authoritative" mapstructure:"authoritative"`
	// PerExtraSource is added for each independent source beyond the
	// first, up to MaxCorroboration.
	PerExtraSource   int `yaml:"per_extra_source" mapstructure:"per_extra_source"`
	MaxCorroboration int `yaml:"max_corroboration" mapstructure:"max_corroboration"`
	DomainMatch      int `yaml:"domain_match" mapstructure:"domain_match"`
	FreeMail         int `yaml:"free_mail" mapstructure:"free_mail"`
}

// DefaultWeights returns the default signal weights.
func DefaultWeights() Weights {
	return Weights{
		Format:           10,
		Domain:           10,
		MX:               25,
		SMTPAccepted:     10,
		SMTPRejected:     -40,
		Authoritative:    25,
		PerExtraSource:   10,
		MaxCorroboration: 20,
		DomainMatch:      15,
		FreeMail:         -15,
	}
}

// singleSourceMax is the best score reachable without corroboration.
func (w Weights) singleSourceMax() int {
	return w.Format + w.Domain + w.MX + w.SMTPAccepted + w.Authoritative + w.DomainMatch
}

// Validate checks that the weights keep the required orderings: MX and
// authority add points, corroboration always adds points, and a fully
// signalled single-source candidate stays below the clamp so corroboration
// can still raise it.
func (w Weights) Validate() error {
	var errs []string
	if w.Format <= 0 {
		errs = append(errs, "format must be > 0")
	}
	if w.MX <= 0 || w.Authoritative <= 0 || w.Domain < 0 {
		errs = append(errs, "mx and authoritative must be > 0, domain >= 0")
	}
	if w.PerExtraSource <= 0 || w.MaxCorroboration < w.PerExtraSource {
		errs = append(errs, "per_extra_source must be > 0 and <= max_corroboration")
	}
	if w.singleSourceMax() >= 100 {
		errs = append(errs, fmt.Sprintf("single-source maximum %d must stay below 100", w.singleSourceMax()))
	}
	if w.FreeMail > 0 || w.SMTPRejected > 0 {
		errs = append(errs, "free_mail and smtp_rejected must be <= 0")
	}
	if len(errs) > 0 {
		return eris.Errorf("validate: invalid weights: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Score combines signals into a confidence in [0,100].
func (w Weights) Score(s model.ValidationSignals) int {
	if !s.FormatValid {
		return 0
	}
	score := w.Format
	if s.DomainValid {
		score += w.Domain
	}
	if s.HasMX {
		score += w.MX
	}
	switch s.SMTP {
	case model.SMTPAccepted:
		score += w.SMTPAccepted
	case model.SMTPRejected:
		score += w.SMTPRejected
	}
	if s.AuthoritativeSource {
		score += w.Authoritative
	}
	if s.SourceCount > 1 {
		score += min((s.SourceCount-1)*w.PerExtraSource, w.MaxCorroboration)
	}
	if s.DomainMatchesWebsite {
		score += w.DomainMatch
	}
	if s.FreeMail {
		score += w.FreeMail
	}
	return max(0, min(100, score))
}

// Rationale describes the signals behind a score.
func Rationale(s model.ValidationSignals) string {
	var parts []string
	if !s.FormatValid {
		return "invalid format"
	}
	parts = append(parts, "valid format")
	if s.DomainValid {
		parts = append(parts, "domain resolves")
	}
	if s.HasMX {
		parts = append(parts, "MX record present")
	}
	if s.SMTP != "" && s.SMTP != model.SMTPUnknown {
		parts = append(parts, "SMTP "+string(s.SMTP))
	}
	if s.AuthoritativeSource {
		parts = append(parts, "authoritative source")
	}
	if s.MultiSource {
		parts = append(parts, fmt.Sprintf("seen on %d independent sources", s.SourceCount))
	}
	if s.DomainMatchesWebsite {
		parts = append(parts, "domain matches website")
	}
	if s.FreeMail {
		parts = append(parts, "free-mail provider")
	}
	return strings.Join(parts, ", ")
}
