package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/discovery-cli/internal/scrape"
)

func TestExtractEmailsFromText(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{name: "plain", text: "Email us at Info@Acme.example today.", want: []string{"info@acme.example"}},
		{name: "bracket_obfuscation", text: "office [at] acme [dot] example", want: []string{"office@acme.example"}},
		{name: "paren_obfuscation", text: "sales(at)acme.example", want: []string{"sales@acme.example"}},
		{name: "image_false_positive", text: "<img src=logo@2x.png>", want: []string{}},
		{name: "placeholder_domains", text: "you@example.com abc123@o1.ingest.sentry.io x@sentry-next.wixpress.com", want: []string{}},
		{name: "duplicates", text: "a@acme.example, A@ACME.EXAMPLE; a@acme.example.", want: []string{"a@acme.example"}},
		{name: "empty", text: "", want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractEmailsFromText(tt.text)
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.ElementsMatch(t, tt.want, got)
		})
	}
}

func TestExtractEmails_Mailto(t *testing.T) {
	page := scrape.Page{
		URL: "https://acme.example/contact",
		HTML: `<html><body>
			<a href="mailto:Owner@Acme.example?subject=Quote">Write to us</a>
			<a href="MAILTO:billing%40acme.example">Billing</a>
		</body></html>`,
		Text: "Write to us Billing",
	}
	assert.ElementsMatch(t, []string{"owner@acme.example", "billing@acme.example"}, ExtractEmails(page))
}

func TestExtractEmails_MailtoMixedCase(t *testing.T) {
	page := scrape.Page{
		URL: "https://acme.example/contact",
		HTML: `<html><body>
			<a href="Mailto:sales@acme.example">Sales</a>
			<a href=" mailTo:jobs@acme.example">Careers</a>
			<a href="/contact">Contact</a>
		</body></html>`,
		Text: "Sales Careers Contact",
	}
	assert.ElementsMatch(t, []string{"sales@acme.example", "jobs@acme.example"}, ExtractEmails(page))
}

func TestCleanEmail(t *testing.T) {
	e, ok := CleanEmail(" mailto:Bob@Acme.Example). ")
	assert.True(t, ok)
	assert.Equal(t, "bob@acme.example", e)

	_, ok = CleanEmail("not-an-email")
	assert.False(t, ok)
}

func TestContactLinks(t *testing.T) {
	page := scrape.Page{
		URL: "https://www.acme.example/",
		HTML: `<html><body>
			<a href="/">Home</a>
			<a href="/services">Services</a>
			<a href="/contact-us#form">Contact</a>
			<a href="about.html">Our story</a>
			<a href="https://facebook.com/acme">Contact on Facebook</a>
			<a href="mailto:info@acme.example">Email</a>
			<a href="/team">Meet the staff</a>
		</body></html>`,
	}

	got := ContactLinks(page, 2)
	assert.Equal(t, []string{"https://www.acme.example/contact-us", "https://www.acme.example/about.html"}, got)

	assert.Empty(t, ContactLinks(scrape.Page{URL: "https://acme.example", Text: "no html"}, 3))
}
