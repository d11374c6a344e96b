package config

import (
	"strings"
	"time"
)

// SessionConfig controls the session bootstrap subsystem: the bounded
// identity poll, pending-intent staleness, and post-auth routing.
type SessionConfig struct {
	// PollMaxAttempts caps how many times the identity wait loop samples the
	// session manager before falling back to the provider.
	PollMaxAttempts int `env:"SESSION_POLL_MAX_ATTEMPTS" envDefault:"50"`

	// PollMaxWait caps the wall-clock time of the identity wait loop.
	PollMaxWait time.Duration `env:"SESSION_POLL_MAX_WAIT" envDefault:"10s"`

	// PollBaseDelay is the backoff before the first retry.
	PollBaseDelay time.Duration `env:"SESSION_POLL_BASE_DELAY" envDefault:"100ms"`

	// PollDelayStep is added to the backoff per attempt.
	PollDelayStep time.Duration `env:"SESSION_POLL_DELAY_STEP" envDefault:"10ms"`

	// PollMaxDelay caps the per-attempt backoff.
	PollMaxDelay time.Duration `env:"SESSION_POLL_MAX_DELAY" envDefault:"500ms"`

	// IntentTTL bounds how old a captured pending intent may be before it is
	// discarded instead of replayed.
	IntentTTL time.Duration `env:"SESSION_INTENT_TTL" envDefault:"10m"`

	// Post-authentication landing routes.
	HostHomeRoute     string `env:"SESSION_ROUTE_HOST_HOME"     envDefault:"/host"`
	AttendeeHomeRoute string `env:"SESSION_ROUTE_ATTENDEE_HOME" envDefault:"/home"`
	SignInRoute       string `env:"SESSION_ROUTE_SIGN_IN"       envDefault:"/signin"`
	EventBaseRoute    string `env:"SESSION_ROUTE_EVENT_BASE"    envDefault:"/events"`
}

// Sanitize applies guardrails to session configuration values.
func (s *SessionConfig) Sanitize() {
	if s.PollMaxAttempts <= 0 {
		s.PollMaxAttempts = 50
	}
	if s.PollMaxWait <= 0 {
		s.PollMaxWait = 10 * time.Second
	}
	if s.PollBaseDelay <= 0 {
		s.PollBaseDelay = 100 * time.Millisecond
	}
	if s.PollDelayStep < 0 {
		s.PollDelayStep = 0
	}
	if s.PollMaxDelay < s.PollBaseDelay {
		s.PollMaxDelay = s.PollBaseDelay
	}
	if s.IntentTTL <= 0 {
		s.IntentTTL = 10 * time.Minute
	}

	s.HostHomeRoute = sanitizeRoute(s.HostHomeRoute, "/host")
	s.AttendeeHomeRoute = sanitizeRoute(s.AttendeeHomeRoute, "/home")
	s.SignInRoute = sanitizeRoute(s.SignInRoute, "/signin")
	s.EventBaseRoute = sanitizeRoute(s.EventBaseRoute, "/events")
}

// sanitizeRoute keeps routes absolute; anything else falls back.
func sanitizeRoute(route, fallback string) string {
	route = strings.TrimSpace(route)
	if route == "" || !strings.HasPrefix(route, "/") {
		return fallback
	}
	return strings.TrimSuffix(route, "/")
}
