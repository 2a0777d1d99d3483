package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/discovery-cli/internal/model"
	"github.com/sells-group/discovery-cli/internal/scrape"
)

const tablePortalHTML = `<html><body>
<table class="license-detail">
  <tr><th>License Number:</th><td>ROC 123456</td></tr>
  <tr><th>Business Name</th><td>Acme Plumbing</td></tr>
  <tr><td>Licensee</td><td>Acme Plumbing LLC</td></tr>
  <tr><td>Address</td><td>100 N Main St
      Phoenix, AZ 85001</td></tr>
  <tr><td>Phone</td><td>(602) 555-0100</td></tr>
  <tr><td>License Status</td><td>Active</td></tr>
  <tr><td>Classification</td><td>CR-37 Plumbing</td></tr>
</table>
</body></html>`

const dlPortalHTML = `<html><body>
<dl>
  <dt>DBA</dt><dd>Desert Air</dd>
  <dt>Name</dt><dd>Desert Air Conditioning Inc</dd>
  <dt>Status</dt><dd>Suspended</dd>
</dl>
<div><span class="field-label">Website</span><span class="field-value">https://desertair.example</span></div>
</body></html>`

func TestExtractFields_Table(t *testing.T) {
	f := ExtractFields(scrape.Page{HTML: tablePortalHTML})

	assert.Equal(t, "ROC 123456", f[fieldRegistry])
	assert.Equal(t, "Acme Plumbing", f[fieldBusinessName])
	assert.Equal(t, "Acme Plumbing LLC", f[fieldName])
	assert.Equal(t, "100 N Main St Phoenix, AZ 85001", f[fieldAddress])
	assert.Equal(t, "(602) 555-0100", f[fieldPhone])
	assert.Equal(t, "Active", f[fieldStatus])
	assert.Equal(t, "CR-37 Plumbing", f[fieldClassification])
}

func TestExtractFields_DefinitionListAndLabels(t *testing.T) {
	f := ExtractFields(scrape.Page{HTML: dlPortalHTML})

	assert.Equal(t, "Desert Air", f[fieldBusinessName])
	assert.Equal(t, "Desert Air Conditioning Inc", f[fieldName])
	assert.Equal(t, "Suspended", f[fieldStatus])
	assert.Equal(t, "https://desertair.example", f[fieldWebsite])
}

func TestExtractFields_TextOnly(t *testing.T) {
	f := ExtractFields(scrape.Page{Text: "**Business Name:** Acme Plumbing\nPhone: 602-555-0100\nrandom line"})
	assert.Equal(t, "Acme Plumbing", f[fieldBusinessName])
	assert.Equal(t, "602-555-0100", f[fieldPhone])
}

func TestHTMLPortal_Extract(t *testing.T) {
	var requested string
	fetch := fetchFunc(func(_ context.Context, url string) (*scrape.Page, error) {
		requested = url
		return &scrape.Page{URL: url, HTML: tablePortalHTML, Text: "License Number ROC 123456"}, nil
	})

	p := NewHTMLPortal(fetch, "https://portal.example/lookup?license={registry}&q={name}")
	e, err := p.Extract(context.Background(), "123456", "Acme Plumbing")
	require.NoError(t, err)

	assert.Equal(t, "https://portal.example/lookup?license=123456&q=Acme+Plumbing", requested)
	assert.Equal(t, "Acme Plumbing", e.BusinessName)
	assert.Equal(t, model.EntitySourcePortal, e.Source)
}

func TestHTMLPortal_NotFound(t *testing.T) {
	tests := []struct {
		name string
		page scrape.Page
	}{
		{name: "no_records_text", page: scrape.Page{HTML: "<p>No records found</p>", Text: "No records found"}},
		{name: "no_fields", page: scrape.Page{HTML: "<div>Welcome</div>", Text: "Welcome"}},
		{name: "other_license", page: scrape.Page{HTML: tablePortalHTML, Text: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := tt.page
			p := NewHTMLPortal(fetchFunc(func(context.Context, string) (*scrape.Page, error) { return &page, nil }), "https://portal.example/{registry}")
			_, err := p.Extract(context.Background(), "555", "")
			require.Error(t, err)
			assert.ErrorIs(t, err, model.ErrNotFound)
		})
	}
}

func TestHTMLPortal_FetchError(t *testing.T) {
	boom := errors.New("connection reset")
	p := NewHTMLPortal(fetchFunc(func(context.Context, string) (*scrape.Page, error) { return nil, boom }), "https://portal.example/{registry}")
	_, err := p.Extract(context.Background(), "1", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, model.ErrNotFound)
}
