package scrape

import (
	"net/url"
	"strings"
)

// DomainPolicy decides which hosts may be fetched for one entity. Denied
// domains always lose; a non-empty allow list restricts everything not on
// it except hosts added with Always.
type DomainPolicy struct {
	allow  []string
	deny   []string
	always map[string]bool
}

// NewDomainPolicy builds a policy from allow and deny lists.
func NewDomainPolicy(allow, deny []string) *DomainPolicy {
	return &DomainPolicy{
		allow:  normalizeDomains(allow),
		deny:   normalizeDomains(deny),
		always: make(map[string]bool),
	}
}

// Always exempts the host of rawURL from the allow list.
func (p *DomainPolicy) Always(rawURL string) *DomainPolicy {
	if h := HostOf(rawURL); h != "" {
		p.always[h] = true
	}
	return p
}

// AllowedURL reports whether rawURL may be fetched.
func (p *DomainPolicy) AllowedURL(rawURL string) bool {
	h := HostOf(rawURL)
	if h == "" {
		return false
	}
	return p.AllowedHost(h)
}

// AllowedHost reports whether host may be fetched.
func (p *DomainPolicy) AllowedHost(host string) bool {
	host = trimHost(host)
	if p.Denied(host) {
		return false
	}
	if len(p.allow) == 0 || p.always[host] {
		return true
	}
	return matchesAny(host, p.allow)
}

// Denied reports whether host (or an email domain) is on the deny list.
func (p *DomainPolicy) Denied(host string) bool {
	if p == nil {
		return false
	}
	return matchesAny(trimHost(host), p.deny)
}

// HostOf returns the lowercased host of rawURL without a leading "www.".
func HostOf(rawURL string) string {
	if !strings.Contains(rawURL, "://") {
		rawURL = "https://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return trimHost(u.Hostname())
}

// SameSite reports whether two hosts share a registrable suffix, treating
// "www.acme.example" and "shop.acme.example" as the same site.
func SameSite(a, b string) bool {
	a, b = trimHost(a), trimHost(b)
	if a == "" || b == "" {
		return false
	}
	return a == b || strings.HasSuffix(a, "."+b) || strings.HasSuffix(b, "."+a)
}

func matchesAny(host string, domains []string) bool {
	for _, d := range domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func trimHost(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.TrimSuffix(h, ".")
	return strings.TrimPrefix(h, "www.")
}

func normalizeDomains(in []string) []string {
	out := make([]string, 0, len(in))
	for _, d := range in {
		if strings.Contains(d, "/") {
			d = HostOf(d)
		}
		if d = trimHost(d); d != "" {
			out = append(out, d)
		}
	}
	return out
}
