package scrape

import (
	"net/url"
	"path"
	"strings"
)

// defaultExcludePatterns skip assets and pages that never carry contact
// details.
var defaultExcludePatterns = []string{
	"/*.pdf",
	"/*.jpg",
	"/*.jpeg",
	"/*.png",
	"/*.gif",
	"/*.zip",
	"/wp-content/uploads/*",
	"/cart/*",
	"/checkout/*",
	"/login",
}

// PathMatcher filters URLs by glob-style path patterns. A pattern ending in
// "/*" also matches deeper paths.
type PathMatcher struct {
	patterns []string
}

// NewPathMatcher creates a PathMatcher, falling back to the default
// patterns when none are given.
func NewPathMatcher(patterns []string) *PathMatcher {
	if len(patterns) == 0 {
		patterns = defaultExcludePatterns
	}
	lower := make([]string, len(patterns))
	for i, p := range patterns {
		lower[i] = strings.ToLower(p)
	}
	return &PathMatcher{patterns: lower}
}

// IsExcluded reports whether rawURL matches any pattern. Unparseable URLs
// are excluded.
func (m *PathMatcher) IsExcluded(rawURL string) bool {
	if m == nil {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	p := strings.ToLower(u.Path)
	for _, pattern := range m.patterns {
		if matchPath(pattern, p) {
			return true
		}
	}
	return false
}

func matchPath(pattern, urlPath string) bool {
	if ok, _ := path.Match(pattern, urlPath); ok {
		return true
	}
	// "/*.pdf" should match "/docs/brochure.pdf" too.
	if strings.HasPrefix(pattern, "/*.") {
		return strings.HasSuffix(urlPath, strings.TrimPrefix(pattern, "/*"))
	}
	if strings.HasSuffix(pattern, "/*") {
		prefix := strings.TrimSuffix(pattern, "/*")
		return urlPath == prefix || strings.HasPrefix(urlPath, prefix+"/")
	}
	return false
}
