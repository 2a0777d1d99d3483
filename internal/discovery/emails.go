package discovery

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/sells-group/discovery-cli/internal/model"
	"github.com/sells-group/discovery-cli/internal/scrape"
)

var (
	plainEmail = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9](?:[a-z0-9\-]*[a-z0-9])?(?:\.[a-z0-9](?:[a-z0-9\-]*[a-z0-9])?)*\.[a-z]{2,}`)

	// name [at] domain [dot] com, name(at)domain.com, name {at} domain {dot} com
	obfuscatedEmail = regexp.MustCompile(`(?i)([a-z0-9._%+\-]+)\s*[\[\(\{<]\s*at\s*[\]\)\}>]\s*([a-z0-9\-]+(?:\s*(?:\.|[\[\(\{<]\s*dot\s*[\]\)\}>])\s*[a-z0-9\-]+)+)`)
	obfuscatedDot   = regexp.MustCompile(`(?i)\s*[\[\(\{<]\s*dot\s*[\]\)\}>]\s*`)

	imageSuffix = regexp.MustCompile(`(?i)\.(png|jpe?g|gif|svg|webp|bmp|ico|tiff?)$`)
)

// placeholderDomains never belong to a real contractor.
var placeholderDomains = []string{
	"example.com",
	"example.org",
	"example.net",
	"sentry.io",
	"wixpress.com",
	"domain.com",
	"yourdomain.com",
	"email.com",
	"mysite.com",
}

// ExtractEmails returns the distinct email addresses found on a page, in
// order of first appearance.
func ExtractEmails(page scrape.Page) []string {
	var found []string
	if strings.TrimSpace(page.HTML) != "" {
		found = append(found, mailtoAddresses(page.HTML)...)
	}
	text := page.Text
	if strings.TrimSpace(text) == "" {
		text = page.HTML
	}
	found = append(found, ExtractEmailsFromText(text)...)
	return uniqueStrings(found)
}

// ExtractEmailsFromText finds plain and obfuscated addresses in free text.
func ExtractEmailsFromText(text string) []string {
	if text == "" {
		return nil
	}
	var out []string
	for _, m := range obfuscatedEmail.FindAllStringSubmatch(text, -1) {
		domain := obfuscatedDot.ReplaceAllString(m[2], ".")
		domain = strings.Join(strings.Fields(domain), "")
		if e, ok := CleanEmail(m[1] + "@" + domain); ok {
			out = append(out, e)
		}
	}
	for _, m := range plainEmail.FindAllString(text, -1) {
		if e, ok := CleanEmail(m); ok {
			out = append(out, e)
		}
	}
	return uniqueStrings(out)
}

func mailtoAddresses(html string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	var out []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if !strings.HasPrefix(strings.ToLower(href), "mailto:") {
			return
		}
		addr := href[len("mailto:"):]
		if i := strings.IndexByte(addr, '?'); i >= 0 {
			addr = addr[:i]
		}
		if un, err := url.PathUnescape(addr); err == nil {
			addr = un
		}
		for _, part := range strings.Split(addr, ",") {
			if e, ok := CleanEmail(part); ok {
				out = append(out, e)
			}
		}
	})
	return out
}

// CleanEmail normalizes a raw match and rejects false positives such as
// image names and placeholder domains.
func CleanEmail(raw string) (string, bool) {
	e := model.NormalizeEmail(raw)
	e = strings.TrimPrefix(e, "mailto:")
	e = strings.Trim(e, ".,;:!?()[]{}<>\"'`|*_")
	if !model.ValidEmailSyntax(e) {
		return "", false
	}
	if imageSuffix.MatchString(e) {
		return "", false
	}
	domain := model.EmailDomain(e)
	for _, p := range placeholderDomains {
		if domain == p || strings.HasSuffix(domain, "."+p) {
			return "", false
		}
	}
	return e, true
}

// contactKeywords mark same-site links worth following from a homepage.
var contactKeywords = []string{"contact", "about", "team", "staff", "reach", "connect"}

// ContactLinks returns same-site links whose URL or anchor text suggests a
// contact page, up to limit.
func ContactLinks(page scrape.Page, limit int) []string {
	if strings.TrimSpace(page.HTML) == "" || limit <= 0 {
		return nil
	}
	base, err := url.Parse(page.URL)
	if err != nil || base.Host == "" {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err != nil {
		return nil
	}

	seen := map[string]bool{normalizeLink(base): true}
	var out []string
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		if strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(strings.ToLower(href), "mailto:") {
			return true
		}
		ref, err := url.Parse(href)
		if err != nil {
			return true
		}
		abs := base.ResolveReference(ref)
		if !scrape.SameSite(abs.Hostname(), base.Hostname()) {
			return true
		}
		key := normalizeLink(abs)
		if seen[key] {
			return true
		}
		hay := strings.ToLower(abs.Path + " " + s.Text())
		for _, kw := range contactKeywords {
			if strings.Contains(hay, kw) {
				seen[key] = true
				out = append(out, key)
				break
			}
		}
		return len(out) < limit
	})
	return out
}

func normalizeLink(u *url.URL) string {
	cp := *u
	cp.Fragment = ""
	if cp.Path == "" {
		cp.Path = "/"
	}
	return cp.String()
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
