// Package cost prices external calls and keeps the per-entity cost,
// evidence, and visited-site trail along with the job-wide running total.
package cost

import "github.com/sells-group/discovery-cli/internal/model"

// DefaultCurrency is used when no currency is configured.
const DefaultCurrency = "USD"

// Rates holds per-provider pricing configuration.
type Rates struct {
	Currency   string               `yaml:"currency" mapstructure:"currency"`
	Anthropic  map[string]ModelRate `yaml:"anthropic" mapstructure:"anthropic"`
	Gemini     map[string]ModelRate `yaml:"gemini" mapstructure:"gemini"`
	Search     SearchRate           `yaml:"search" mapstructure:"search"`
	Scrape     map[string]float64   `yaml:"scrape" mapstructure:"scrape"`
	Validation ValidationRate       `yaml:"validation" mapstructure:"validation"`
}

// ModelRate holds per-model token pricing (per million tokens).
type ModelRate struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// SearchRate holds per-query search pricing by backend. Unlisted backends
// use Default.
type SearchRate struct {
	Default  float64            `yaml:"default" mapstructure:"default"`
	Backends map[string]float64 `yaml:"backends" mapstructure:"backends"`
}

// ValidationRate holds per-check validation pricing.
type ValidationRate struct {
	MXLookup  float64 `yaml:"mx_lookup" mapstructure:"mx_lookup"`
	SMTPProbe float64 `yaml:"smtp_probe" mapstructure:"smtp_probe"`
}

// Calculator computes costs for API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	if rates.Currency == "" {
		rates.Currency = DefaultCurrency
	}
	return &Calculator{rates: rates}
}

// Currency returns the configured currency code.
func (c *Calculator) Currency() string {
	return c.rates.Currency
}

// Claude computes the cost for a Claude API call.
func (c *Calculator) Claude(model string, input, output int) float64 {
	return tokenCost(c.rates.Anthropic[model], input, output)
}

// Gemini computes the cost for a Gemini API call.
func (c *Calculator) Gemini(model string, input, output int) float64 {
	return tokenCost(c.rates.Gemini[model], input, output)
}

// Reasoning prices an LLM call by provider name.
func (c *Calculator) Reasoning(provider, model string, input, output int) float64 {
	switch provider {
	case "gemini":
		return c.Gemini(model, input, output)
	default:
		return c.Claude(model, input, output)
	}
}

func tokenCost(rate ModelRate, input, output int) float64 {
	return (float64(input)/1e6)*rate.Input + (float64(output)/1e6)*rate.Output
}

// SearchQuery returns the flat cost of one query on backend.
func (c *Calculator) SearchQuery(backend string) float64 {
	if v, ok := c.rates.Search.Backends[backend]; ok {
		return v
	}
	return c.rates.Search.Default
}

// PageFetch returns the cost of one page fetch through fetcher.
func (c *Calculator) PageFetch(fetcher string) float64 {
	return c.rates.Scrape[fetcher]
}

// Unit returns the unit price of a metered action in category. The
// source names the backend or check within the category.
func (c *Calculator) Unit(category model.CostCategory, source string) float64 {
	switch category {
	case model.CostSearch:
		return c.SearchQuery(source)
	case model.CostScrape:
		return c.PageFetch(source)
	case model.CostValidation:
		if source == "smtp" {
			return c.rates.Validation.SMTPProbe
		}
		return c.rates.Validation.MXLookup
	default:
		return 0
	}
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		Currency: DefaultCurrency,
		Anthropic: map[string]ModelRate{
			"claude-haiku-4-5-20251001":  {Input: 0.80, Output: 4.00},
			"claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00},
		},
		Gemini: map[string]ModelRate{
			"gemini-2.5-flash": {Input: 0.30, Output: 2.50},
		},
		Search: SearchRate{
			Default:  0.001,
			Backends: map[string]float64{"jina": 0.002},
		},
		Scrape: map[string]float64{
			"local_http": 0,
			"jina":       0.0004,
		},
		Validation: ValidationRate{MXLookup: 0, SMTPProbe: 0},
	}
}
