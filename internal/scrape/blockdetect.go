package scrape

import (
	"net/http"
	"strings"
)

// BlockType describes the kind of block detected.
type BlockType string

const (
	BlockNone       BlockType = ""
	BlockCloudflare BlockType = "cloudflare"
	BlockCaptcha    BlockType = "captcha"
	BlockJSShell    BlockType = "js_shell"
)

// jsShellLimit is the body size under which a noscript page is treated as
// a client-rendered shell with no server-side content.
const jsShellLimit = 2000

var (
	cloudflareMarkers = []string{"checking your browser", "cf-browser-verification", "cf-chl-"}
	captchaMarkers    = []string{"captcha", "recaptcha", "hcaptcha"}
)

// DetectBlock inspects a response for anti-bot walls and JS-only shells.
func DetectBlock(resp *http.Response, body []byte) BlockType {
	if resp == nil {
		return BlockNone
	}

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusServiceUnavailable {
		if resp.Header.Get("Cf-Ray") != "" || strings.EqualFold(resp.Header.Get("Server"), "cloudflare") {
			return BlockCloudflare
		}
	}

	lower := strings.ToLower(string(body))
	if containsAny(lower, cloudflareMarkers) {
		return BlockCloudflare
	}
	if containsAny(lower, captchaMarkers) {
		return BlockCaptcha
	}
	if IsJSShell(body) {
		return BlockJSShell
	}
	return BlockNone
}

// IsJSShell reports whether body is an empty client-rendered page.
func IsJSShell(body []byte) bool {
	if len(strings.TrimSpace(string(body))) == 0 {
		return true
	}
	if len(body) >= jsShellLimit {
		return false
	}
	lower := strings.ToLower(string(body))
	if strings.Contains(lower, "<noscript") && strings.Contains(lower, "javascript") {
		return true
	}
	return strings.Contains(lower, `http-equiv="refresh"`)
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
