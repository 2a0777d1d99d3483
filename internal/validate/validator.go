package validate

import (
	"context"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/discovery-cli/internal/model"
	"github.com/sells-group/discovery-cli/internal/scrape"
)

// Resolver is the DNS surface used for domain checks. *net.Resolver
// satisfies it.
type Resolver interface {
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Prober checks whether a mailbox is accepted by the domain's MX.
type Prober interface {
	Probe(ctx context.Context, email, mxHost string) (model.SMTPResult, error)
}

// Meter charges validation lookups against the job's spend.
type Meter interface {
	Charge(category model.CostCategory, source, description string, quantity int) error
}

// Config tunes validation.
type Config struct {
	MXCheck   bool
	SMTPProbe bool
	Timeout   time.Duration
	Weights   Weights
}

// DefaultConfig enables MX checks with default weights.
func DefaultConfig() Config {
	return Config{MXCheck: true, Timeout: 5 * time.Second, Weights: DefaultWeights()}
}

var freeMailDomains = map[string]bool{
	"gmail.com":      true,
	"googlemail.com": true,
	"yahoo.com":      true,
	"ymail.com":      true,
	"hotmail.com":    true,
	"outlook.com":    true,
	"live.com":       true,
	"msn.com":        true,
	"aol.com":        true,
	"icloud.com":     true,
	"me.com":         true,
	"mac.com":        true,
	"comcast.net":    true,
	"att.net":        true,
	"sbcglobal.net":  true,
	"cox.net":        true,
	"protonmail.com": true,
	"proton.me":      true,
	"gmx.com":        true,
	"mail.com":       true,
}

// IsFreeMail reports whether domain is a consumer mail provider.
func IsFreeMail(domain string) bool {
	return freeMailDomains[strings.ToLower(domain)]
}

type domainInfo struct {
	valid  bool
	hasMX  bool
	mxHost string
}

// Validator scores raw emails. Domain lookups are cached for the life of
// the Validator.
type Validator struct {
	resolver Resolver
	prober   Prober
	cfg      Config

	mu      sync.Mutex
	domains map[string]domainInfo
}

// New creates a Validator. resolver and prober may be nil to skip DNS and
// SMTP checks.
func New(resolver Resolver, prober Prober, cfg Config) *Validator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.Weights == (Weights{}) {
		cfg.Weights = DefaultWeights()
	}
	return &Validator{
		resolver: resolver,
		prober:   prober,
		cfg:      cfg,
		domains:  make(map[string]domainInfo),
	}
}

// Validate scores every raw email for entity and returns candidates
// ordered by confidence, highest first. meter may be nil.
func (v *Validator) Validate(ctx context.Context, raws []model.RawEmail, entity model.Entity, meter Meter) []model.EmailCandidate {
	websiteHost := ""
	if entity.HasWebsite() {
		websiteHost = scrape.HostOf(entity.Website)
	}

	out := make([]model.EmailCandidate, 0, len(raws))
	for _, raw := range raws {
		if ctx.Err() != nil {
			break
		}
		out = append(out, v.candidate(ctx, raw, websiteHost, meter))
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Email < out[j].Email
	})
	return out
}

func (v *Validator) candidate(ctx context.Context, raw model.RawEmail, websiteHost string, meter Meter) model.EmailCandidate {
	email := model.NormalizeEmail(raw.Email)
	domain := model.EmailDomain(email)

	s := model.ValidationSignals{
		FormatValid: model.ValidEmailSyntax(email),
		SMTP:        model.SMTPUnknown,
		FreeMail:    IsFreeMail(domain),
	}
	if websiteHost != "" && domain != "" {
		s.DomainMatchesWebsite = scrape.SameSite(domain, websiteHost)
	}

	if s.FormatValid {
		info := v.domain(ctx, domain, meter)
		s.DomainValid = info.valid
		s.HasMX = info.hasMX
		if v.cfg.SMTPProbe && v.prober != nil && info.mxHost != "" && charge(meter, "smtp", email) {
			s.SMTP = v.probe(ctx, email, info.mxHost)
		}
	}

	best, urls, count := provenance(raw.Sightings)
	s.SourceCount = count
	s.MultiSource = count >= 2
	for _, sg := range raw.Sightings {
		if sg.Category.Authoritative() {
			s.AuthoritativeSource = true
			break
		}
	}

	return model.EmailCandidate{
		Email:      email,
		Source:     best.Category,
		SourceURL:  best.URL,
		SourceURLs: urls,
		Confidence: v.cfg.Weights.Score(s),
		Rationale:  Rationale(s),
		Signals:    s,
	}
}

func (v *Validator) domain(ctx context.Context, domain string, meter Meter) domainInfo {
	if !v.cfg.MXCheck || v.resolver == nil {
		return domainInfo{valid: domain != ""}
	}

	v.mu.Lock()
	info, ok := v.domains[domain]
	v.mu.Unlock()
	if ok {
		return info
	}
	if !charge(meter, "mx", domain) {
		return domainInfo{}
	}

	lookupCtx, cancel := context.WithTimeout(ctx, v.cfg.Timeout)
	defer cancel()

	mx, err := v.resolver.LookupMX(lookupCtx, domain)
	if err == nil && len(mx) > 0 {
		sort.Slice(mx, func(i, j int) bool { return mx[i].Pref < mx[j].Pref })
		host := strings.TrimSuffix(mx[0].Host, ".")
		// A null MX (RFC 7505) means the domain accepts no mail.
		if host != "" {
			info = domainInfo{valid: true, hasMX: true, mxHost: host}
		} else {
			info = domainInfo{valid: true}
		}
	} else if addrs, herr := v.resolver.LookupHost(lookupCtx, domain); herr == nil && len(addrs) > 0 {
		info = domainInfo{valid: true}
	}
	if lookupCtx.Err() != nil && ctx.Err() != nil {
		return info
	}

	v.mu.Lock()
	v.domains[domain] = info
	v.mu.Unlock()
	return info
}

func (v *Validator) probe(ctx context.Context, email, mxHost string) model.SMTPResult {
	probeCtx, cancel := context.WithTimeout(ctx, v.cfg.Timeout)
	defer cancel()
	res, err := v.prober.Probe(probeCtx, email, mxHost)
	if err != nil {
		zap.L().Debug("validate: smtp probe failed", zap.String("email", email), zap.Error(err))
		return model.SMTPUnknown
	}
	return res
}

// charge reports whether the lookup may proceed.
func charge(meter Meter, source, desc string) bool {
	if meter == nil {
		return true
	}
	if err := meter.Charge(model.CostValidation, source, desc, 1); err != nil {
		zap.L().Debug("validate: lookup not charged", zap.String("source", source), zap.Error(err))
		return false
	}
	return true
}

var categoryRank = map[model.SourceCategory]int{
	model.SourceOfficialWebsite: 0,
	model.SourceRegistry:        1,
	model.SourceDirectory:       2,
	model.SourceSocial:          3,
	model.SourceWebSearch:       4,
	model.SourceKnowledge:       5,
}

// provenance picks the most authoritative sighting and counts independent
// sources by host. A knowledge-store sighting only contributes the host of
// its stored URL, never a source of its own.
func provenance(sightings []model.Sighting) (model.Sighting, []string, int) {
	if len(sightings) == 0 {
		return model.Sighting{Category: model.SourceWebSearch}, nil, 1
	}
	best := sightings[0]
	hosts := make(map[string]bool)
	var urls []string
	for _, sg := range sightings {
		r, ok := categoryRank[sg.Category]
		if !ok {
			r = len(categoryRank)
		}
		if br, ok := categoryRank[best.Category]; !ok || r < br {
			best = sg
		}
		if sg.URL != "" {
			urls = append(urls, sg.URL)
		}
		key := scrape.HostOf(sg.URL)
		if key == "" {
			if sg.Category == model.SourceKnowledge {
				continue
			}
			key = "category:" + string(sg.Category)
		}
		hosts[key] = true
	}
	return best, urls, max(len(hosts), 1)
}

// Filter keeps candidates at or above the strictness floor.
func Filter(cands []model.EmailCandidate, strictness model.Strictness) []model.EmailCandidate {
	floor := strictness.MinConfidence()
	out := make([]model.EmailCandidate, 0, len(cands))
	for _, c := range cands {
		if c.Confidence >= floor {
			out = append(out, c)
		}
	}
	return out
}
