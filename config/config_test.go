package config

import (
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadConfig(t *testing.T) *AppConfig {
	t.Helper()
	cfg := &AppConfig{}
	require.NoError(t, env.Parse(cfg))
	cfg.Sanitize()
	return cfg
}

func TestAppConfig_Defaults(t *testing.T) {
	cfg := loadConfig(t)

	assert.False(t, cfg.IsDev)
	assert.Equal(t, AuthModeOAuth, cfg.Auth.Mode)
	assert.Equal(t, "sb-auth.", cfg.Auth.ArtifactPrefix)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "localhost", cfg.Postgres.Host)
	assert.Equal(t, 5432, cfg.Postgres.Port)
	assert.Equal(t, "localhost:6379", cfg.Redis.URI)
	assert.False(t, cfg.Redis.UseSentinel)
}

func TestAppConfig_SessionDefaults(t *testing.T) {
	cfg := loadConfig(t)

	assert.Equal(t, 50, cfg.Session.PollMaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.Session.PollMaxWait)
	assert.Equal(t, 100*time.Millisecond, cfg.Session.PollBaseDelay)
	assert.Equal(t, 10*time.Millisecond, cfg.Session.PollDelayStep)
	assert.Equal(t, 500*time.Millisecond, cfg.Session.PollMaxDelay)
	assert.Equal(t, 10*time.Minute, cfg.Session.IntentTTL)
	assert.Equal(t, "/host", cfg.Session.HostHomeRoute)
	assert.Equal(t, "/home", cfg.Session.AttendeeHomeRoute)
	assert.Equal(t, "/signin", cfg.Session.SignInRoute)
	assert.Equal(t, "/events", cfg.Session.EventBaseRoute)
}

func TestAppConfig_EnvOverrides(t *testing.T) {
	t.Setenv("AUTH_MODE", "mock")
	t.Setenv("DEV_AUTH_ROLE", "host")
	t.Setenv("SESSION_POLL_MAX_ATTEMPTS", "5")
	t.Setenv("SESSION_INTENT_TTL", "2m")
	t.Setenv("OAUTH_SIGNUP_URL", "https://idp.example.com/signup")

	cfg := loadConfig(t)

	assert.Equal(t, AuthModeMock, cfg.Auth.Mode)
	assert.Equal(t, "host", cfg.Auth.DevAuth.Role)
	assert.Equal(t, 5, cfg.Session.PollMaxAttempts)
	assert.Equal(t, 2*time.Minute, cfg.Session.IntentTTL)
	assert.Equal(t, "https://idp.example.com/signup", cfg.Auth.OAuth.SignUpURL)
}

func TestAuthMode_UnmarshalText(t *testing.T) {
	var m AuthMode
	require.NoError(t, m.UnmarshalText([]byte("OAuth")))
	assert.Equal(t, AuthModeOAuth, m)

	require.NoError(t, m.UnmarshalText([]byte("mock")))
	assert.Equal(t, AuthModeMock, m)

	assert.Error(t, m.UnmarshalText([]byte("ldap")))
}

func TestAppConfig_DevModeFromNodeEnv(t *testing.T) {
	t.Setenv("NODE_ENV", "development")

	cfg := loadConfig(t)
	assert.True(t, cfg.IsDev)
}

func TestSessionConfig_SanitizeClampsBadValues(t *testing.T) {
	s := SessionConfig{
		PollMaxAttempts: -1,
		PollMaxWait:     -time.Second,
		PollBaseDelay:   0,
		PollDelayStep:   -time.Millisecond,
		PollMaxDelay:    time.Millisecond,
		IntentTTL:       0,
		HostHomeRoute:   "no-slash",
		SignInRoute:     "  ",
	}
	s.Sanitize()

	assert.Equal(t, 50, s.PollMaxAttempts)
	assert.Equal(t, 10*time.Second, s.PollMaxWait)
	assert.Equal(t, 100*time.Millisecond, s.PollBaseDelay)
	assert.Equal(t, time.Duration(0), s.PollDelayStep)
	assert.Equal(t, s.PollBaseDelay, s.PollMaxDelay)
	assert.Equal(t, 10*time.Minute, s.IntentTTL)
	assert.Equal(t, "/host", s.HostHomeRoute)
	assert.Equal(t, "/signin", s.SignInRoute)
}

func TestObservabilityConfig_Sanitize(t *testing.T) {
	c := ObservabilityConfig{
		Metrics: ObservabilityMetricsConfig{Enabled: true, StatsdAddress: "  "},
		Notifications: ObservabilityNotificationsConfig{
			Enabled: true,
			Slack:   SlackNotificationConfig{Enabled: true},
			PagerDuty: PagerDutyNotificationConfig{
				Enabled:    true,
				RoutingKey: "key-1",
			},
		},
	}
	c.Sanitize()

	assert.False(t, c.Metrics.IsEnabled())
	// Slack lacks a webhook URL and is disabled; PagerDuty keeps its key.
	assert.False(t, c.Notifications.Slack.Enabled)
	assert.True(t, c.Notifications.PagerDuty.Enabled)
	assert.Equal(t, "gather", c.Notifications.Slack.Username)
}

func TestHTTPConfig_SanitizeCookieDomain(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty stays empty", in: "", want: ""},
		{name: "normal domain kept", in: "app.example.com", want: "app.example.com"},
		{name: "leading dot stripped", in: ".example.com", want: "example.com"},
		{name: "uppercase normalized", in: "App.Example.COM", want: "app.example.com"},
		{name: "bare tld cleared", in: "com", want: ""},
		{name: "multi label public suffix cleared", in: "github.io", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := HTTPConfig{CookieDomain: tt.in}
			cfg.Sanitize()
			assert.Equal(t, tt.want, cfg.CookieDomain)
		})
	}
}
