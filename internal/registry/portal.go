package registry

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/discovery-cli/internal/model"
	"github.com/sells-group/discovery-cli/internal/scrape"
)

// PortalExtractor captures an entity from a live registry portal. Markup
// drift is contained behind this interface; callers only see an Entity or
// model.ErrNotFound.
type PortalExtractor interface {
	Name() string
	Extract(ctx context.Context, registryNumber, name string) (*model.Entity, error)
}

// Portal URL placeholders.
const (
	RegistryPlaceholder = "{registry}"
	NamePlaceholder     = "{name}"
)

// HTMLPortal fetches a portal detail page and reads label/value pairs out
// of it with a layered set of extraction strategies.
type HTMLPortal struct {
	fetcher  scrape.Fetcher
	template string
}

// NewHTMLPortal creates a portal extractor. template is a URL containing
// {registry} and optionally {name}.
func NewHTMLPortal(fetcher scrape.Fetcher, template string) *HTMLPortal {
	return &HTMLPortal{fetcher: fetcher, template: template}
}

// Name implements PortalExtractor.
func (p *HTMLPortal) Name() string { return "portal" }

// Extract implements PortalExtractor.
func (p *HTMLPortal) Extract(ctx context.Context, registryNumber, name string) (*model.Entity, error) {
	target := strings.NewReplacer(
		RegistryPlaceholder, url.QueryEscape(strings.TrimSpace(registryNumber)),
		NamePlaceholder, url.QueryEscape(strings.TrimSpace(name)),
	).Replace(p.template)

	page, err := p.fetcher.Fetch(ctx, target)
	if err != nil {
		return nil, eris.Wrapf(err, "registry: fetch portal %s", registryNumber)
	}

	fields := ExtractFields(*page)
	if notFoundPattern.MatchString(page.Text) || len(fields) == 0 {
		return nil, eris.Wrapf(model.ErrNotFound, "registry: portal has no record for %s", registryNumber)
	}

	e := entityFromFields(fields)
	if e.RegistryNumber == "" {
		e.RegistryNumber = strings.TrimSpace(registryNumber)
	}
	if !sameNumber(e.RegistryNumber, registryNumber) {
		zap.L().Warn("registry: portal returned a different license",
			zap.String("requested", registryNumber),
			zap.String("returned", e.RegistryNumber),
		)
		return nil, eris.Wrapf(model.ErrNotFound, "registry: portal returned %s for %s", e.RegistryNumber, registryNumber)
	}
	e.Source = model.EntitySourcePortal
	return &e, nil
}

var notFoundPattern = regexp.MustCompile(`(?i)\bno (records?|results?|matches?) (were )?found\b`)

// Entity field keys recognized on portal pages.
const (
	fieldRegistry       = "registry_number"
	fieldName           = "name"
	fieldBusinessName   = "business_name"
	fieldAddress        = "address"
	fieldCity           = "city"
	fieldPhone          = "phone"
	fieldClassification = "classification"
	fieldStatus         = "status"
	fieldWebsite        = "website"
)

// labelRules map a normalized label to a field. More specific labels come
// first.
var labelRules = []struct {
	contains string
	field    string
}{
	{"doing business as", fieldBusinessName},
	{"dba", fieldBusinessName},
	{"business name", fieldBusinessName},
	{"license number", fieldRegistry},
	{"license #", fieldRegistry},
	{"license no", fieldRegistry},
	{"registration number", fieldRegistry},
	{"roc #", fieldRegistry},
	{"roc no", fieldRegistry},
	{"license status", fieldStatus},
	{"status", fieldStatus},
	{"license type", fieldClassification},
	{"classification", fieldClassification},
	{"class", fieldClassification},
	{"web site", fieldWebsite},
	{"website", fieldWebsite},
	{"telephone", fieldPhone},
	{"phone", fieldPhone},
	{"city", fieldCity},
	{"address", fieldAddress},
	{"licensee", fieldName},
	{"contractor name", fieldName},
	{"legal name", fieldName},
	{"name", fieldName},
}

func fieldForLabel(label string) string {
	l := strings.ToLower(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(label), ":")))
	if l == "" || len(l) > 40 {
		return ""
	}
	for _, r := range labelRules {
		if strings.Contains(l, r.contains) {
			return r.field
		}
	}
	return ""
}

type fieldStrategy func(doc *goquery.Document, set func(label, value string))

// fieldStrategies are tried in order; earlier strategies win per field.
var fieldStrategies = []fieldStrategy{
	tableRows,
	definitionLists,
	labelledElements,
}

// ExtractFields pulls label/value pairs from a portal page. Text-only
// pages fall back to "Label: value" lines.
func ExtractFields(page scrape.Page) map[string]string {
	fields := make(map[string]string)
	set := func(label, value string) {
		f := fieldForLabel(label)
		value = squash(value)
		if f == "" || value == "" {
			return
		}
		if _, ok := fields[f]; !ok {
			fields[f] = value
		}
	}

	if strings.TrimSpace(page.HTML) != "" {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
		if err == nil {
			for _, s := range fieldStrategies {
				s(doc, set)
			}
		}
	}
	if len(fields) == 0 {
		textLines(page.Text, set)
	}
	return fields
}

func tableRows(doc *goquery.Document, set func(label, value string)) {
	doc.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		if th := tr.Find("th"); th.Length() > 0 {
			set(th.First().Text(), tr.Find("td").First().Text())
			return
		}
		tds := tr.Find("td")
		if tds.Length() >= 2 {
			set(tds.Eq(0).Text(), tds.Eq(1).Text())
		}
	})
}

func definitionLists(doc *goquery.Document, set func(label, value string)) {
	doc.Find("dt").Each(func(_ int, dt *goquery.Selection) {
		set(dt.Text(), dt.NextFiltered("dd").Text())
	})
}

func labelledElements(doc *goquery.Document, set func(label, value string)) {
	doc.Find(".label, .field-label, [class*='label']").Each(func(_ int, s *goquery.Selection) {
		if v := s.NextFiltered(".value, .field-value, [class*='value']"); v.Length() > 0 {
			set(s.Text(), v.Text())
			return
		}
		if v := s.Next(); v.Length() > 0 {
			set(s.Text(), v.Text())
		}
	})
	doc.Find("label[for]").Each(func(_ int, s *goquery.Selection) {
		id, _ := s.Attr("for")
		if id == "" {
			return
		}
		target := doc.Find("#" + id)
		if v, ok := target.Attr("value"); ok {
			set(s.Text(), v)
			return
		}
		set(s.Text(), target.Text())
	})
}

func textLines(text string, set func(label, value string)) {
	for _, line := range strings.Split(text, "\n") {
		line = strings.Trim(strings.TrimSpace(line), "*|-")
		label, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		set(strings.Trim(label, " *_"), strings.Trim(value, " *_"))
	}
}

func entityFromFields(f map[string]string) model.Entity {
	return model.Entity{
		RegistryNumber: f[fieldRegistry],
		Name:           f[fieldName],
		BusinessName:   f[fieldBusinessName],
		Address:        f[fieldAddress],
		City:           f[fieldCity],
		Phone:          f[fieldPhone],
		Classification: f[fieldClassification],
		Status:         f[fieldStatus],
		Website:        f[fieldWebsite],
	}
}

// sameNumber compares license numbers by their digits, so "ROC 123456"
// matches "123456".
func sameNumber(a, b string) bool {
	da, db := digits(a), digits(b)
	if da != "" && db != "" {
		return da == db
	}
	return normalizeNumber(a) == normalizeNumber(b)
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func squash(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
