package config

import (
	"strings"

	"golang.org/x/net/publicsuffix"
)

// HTTPConfig contains HTTP server configuration.
type HTTPConfig struct {
	// Addr is the address to bind the HTTP server to.
	Addr string `env:"HTTP_ADDR" envDefault:":8080"`

	// BaseURL is the base URL of the application (e.g., "https://app.example.com").
	// Used for generating absolute URLs such as the OAuth redirect.
	BaseURL string `env:"APP_BASE_URL" envDefault:"http://localhost:8080"`

	// CookieDomain is the domain for auth cookies.
	// Leave empty to use the request domain.
	CookieDomain string `env:"APP_COOKIE_DOMAIN" envDefault:""`

	// CookieSecure marks auth cookies Secure. Disable only for local HTTP.
	CookieSecure bool `env:"APP_COOKIE_SECURE" envDefault:"true"`
}

// Sanitize applies guardrails to HTTP configuration values.
// A CookieDomain that is a bare public suffix (e.g. "com" or "github.io")
// would be rejected by browsers, so it falls back to host-only cookies.
func (c *HTTPConfig) Sanitize() {
	domain := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(c.CookieDomain)), ".")
	if domain == "" {
		c.CookieDomain = ""
		return
	}
	if suffix, _ := publicsuffix.PublicSuffix(domain); suffix == domain {
		c.CookieDomain = ""
		return
	}
	c.CookieDomain = domain
}
