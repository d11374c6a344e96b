package bootstrap

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/gatherhq/gather-ui-api/config"
	"github.com/gatherhq/gather-ui-api/internal/adapters/claims"
	"github.com/gatherhq/gather-ui-api/internal/adapters/devauth"
	"github.com/gatherhq/gather-ui-api/internal/adapters/memscope"
	"github.com/gatherhq/gather-ui-api/internal/adapters/oidc"
	"github.com/gatherhq/gather-ui-api/internal/adapters/postgres"
	redisadapter "github.com/gatherhq/gather-ui-api/internal/adapters/redis"
	"github.com/gatherhq/gather-ui-api/internal/observability/notify"
	"github.com/gatherhq/gather-ui-api/internal/observability/notify/pagerduty"
	"github.com/gatherhq/gather-ui-api/internal/observability/notify/slack"
	"github.com/gatherhq/gather-ui-api/internal/observability/statsd"
	"github.com/gatherhq/gather-ui-api/internal/ports"
	"github.com/gatherhq/gather-ui-api/internal/service"
	"github.com/gatherhq/gather-ui-api/internal/service/incidentnotifier"
)

// SessionStackConfig carries everything needed to assemble the session
// bootstrap services.
type SessionStackConfig struct {
	Config      config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Metrics     statsd.Sink
	Logger      *slog.Logger
}

// SessionStack bundles the assembled session services.
type SessionStack struct {
	Manager  *service.SessionManager
	Resolver *service.ProfileResolver
	Router   *service.RedirectRouter
	Intents  *service.IntentStore
}

// BuildSessionStack wires the identity provider, intent scopes, resolver,
// session manager, and redirect router from configuration.
func BuildSessionStack(cfg SessionStackConfig) (*SessionStack, error) {
	if cfg.DB == nil {
		return nil, errors.New("database connection is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	provider, err := buildIdentityProvider(cfg.Config.Auth, logger)
	if err != nil {
		return nil, err
	}

	intents, err := buildIntentStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	profiles := postgres.NewProfileRepo(cfg.DB)

	resolver, err := service.NewProfileResolver(service.ProfileResolverOptions{
		Provider: provider,
		Profiles: profiles,
		Mapper:   claims.MustDefault(),
		Intents:  intents,
		Poll:     pollConfig(cfg.Config.Session),
		Logger:   logger,
		Metrics:  cfg.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("build profile resolver: %w", err)
	}

	manager, err := service.NewSessionManager(service.SessionManagerOptions{
		Provider:   provider,
		Resolver:   resolver,
		Profiles:   profiles,
		Intents:    intents,
		AuthPrefix: cfg.Config.Auth.ArtifactPrefix,
		Logger:     logger,
		Notifier:   buildIncidentNotifier(cfg.Config.Observability.Notifications, logger),
	})
	if err != nil {
		return nil, fmt.Errorf("build session manager: %w", err)
	}

	router, err := service.NewRedirectRouter(service.RedirectRouterOptions{
		Intents: intents,
		Joiner:  postgres.NewAttendanceRepo(cfg.DB),
		Routes: service.RouteConfig{
			HostHome:     cfg.Config.Session.HostHomeRoute,
			AttendeeHome: cfg.Config.Session.AttendeeHomeRoute,
			SignIn:       cfg.Config.Session.SignInRoute,
			EventBase:    cfg.Config.Session.EventBaseRoute,
		},
		Logger:  logger,
		Metrics: cfg.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("build redirect router: %w", err)
	}

	return &SessionStack{
		Manager:  manager,
		Resolver: resolver,
		Router:   router,
		Intents:  intents,
	}, nil
}

//nolint:ireturn // the provider is selected by configured auth mode at runtime.
func buildIdentityProvider(cfg config.AuthConfig, logger *slog.Logger) (ports.IdentityProvider, error) {
	switch cfg.Mode {
	case config.AuthModeMock:
		prov, err := devauth.NewProvider(devauth.Config{
			UserID: cfg.DevAuth.UserID,
			Email:  cfg.DevAuth.Email,
			Metadata: map[string]any{
				"full_name": cfg.DevAuth.DisplayName,
				"role":      cfg.DevAuth.Role,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("build dev auth provider: %w", err)
		}
		logger.Warn("dev auth mode active; all sessions resolve to the configured dev user",
			"user_id", cfg.DevAuth.UserID)
		return prov, nil

	case config.AuthModeOAuth:
		oauth := cfg.OAuth
		if oauth.DiscoveryURL == "" || oauth.ClientID == "" || oauth.ClientSecret == "" {
			return nil, errors.New("oauth mode requires discovery URL, client id, and client secret")
		}
		prov, err := oidc.NewProvider(oidc.ProviderConfig{
			ClientID:     oauth.ClientID,
			ClientSecret: oauth.ClientSecret,
			RedirectURL:  oauth.RedirectURL,
			Scope:        oauth.Scope,
			DiscoveryURL: oauth.DiscoveryURL,
			SignUpURL:    oauth.SignUpURL,
			LogoutURL:    oauth.LogoutURL,
		})
		if err != nil {
			return nil, fmt.Errorf("build OIDC provider: %w", err)
		}
		return prov, nil

	default:
		return nil, fmt.Errorf("unknown auth mode %q", cfg.Mode)
	}
}

func buildIntentStore(cfg SessionStackConfig, logger *slog.Logger) (*service.IntentStore, error) {
	// The durable scope must survive process restarts, so it lives in Redis
	// when one is configured. The short-lived scope is in-process by design.
	var durable ports.IntentScope
	if cfg.RedisClient != nil {
		durable = redisadapter.NewIntentScope(cfg.RedisClient)
	} else {
		logger.Warn("redis not configured; durable intent scope degraded to in-memory")
		durable = memscope.New()
	}

	intents, err := service.NewIntentStore(service.IntentStoreOptions{
		ShortLived: memscope.New(),
		Durable:    durable,
		TTL:        cfg.Config.Session.IntentTTL,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build intent store: %w", err)
	}
	return intents, nil
}

func pollConfig(cfg config.SessionConfig) service.PollConfig {
	return service.PollConfig{
		MaxAttempts: cfg.PollMaxAttempts,
		MaxWait:     cfg.PollMaxWait,
		BaseDelay:   cfg.PollBaseDelay,
		DelayStep:   cfg.PollDelayStep,
		MaxDelay:    cfg.PollMaxDelay,
	}
}

// buildIncidentNotifier assembles the auth incident fan-out from configured
// sinks. Returns nil when notifications are disabled so callers can skip
// delivery entirely.
//
//nolint:ireturn // notify.Sink hides which concrete sinks are active.
func buildIncidentNotifier(cfg config.ObservabilityNotificationsConfig, logger *slog.Logger) notify.Sink {
	if !cfg.Enabled {
		return nil
	}

	var sinks []incidentnotifier.SinkRegistration

	if cfg.Slack.Enabled {
		client, err := slack.NewClient(slack.Config{
			WebhookURL:    cfg.Slack.WebhookURL,
			Channel:       cfg.Slack.Channel,
			Username:      cfg.Slack.Username,
			Timeout:       cfg.Timeout,
			RetryLimit:    cfg.RetryLimit,
			UserURLPrefix: cfg.Slack.UserURLPrefix,
		})
		if err != nil {
			logger.Warn("slack notifications disabled", "error", err)
		} else {
			sinks = append(sinks, incidentnotifier.SinkRegistration{Name: "slack", Sink: client})
		}
	}

	if cfg.PagerDuty.Enabled {
		client, err := pagerduty.NewClient(pagerduty.Config{
			RoutingKey: cfg.PagerDuty.RoutingKey,
			Source:     cfg.PagerDuty.Source,
			Component:  cfg.PagerDuty.Component,
			Timeout:    cfg.Timeout,
			RetryLimit: cfg.RetryLimit,
		})
		if err != nil {
			logger.Warn("pagerduty notifications disabled", "error", err)
		} else {
			sinks = append(sinks, incidentnotifier.SinkRegistration{Name: "pagerduty", Sink: client})
		}
	}

	if len(sinks) == 0 {
		return nil
	}

	return incidentnotifier.NewService(incidentnotifier.Options{
		Logger: logger,
		Sinks:  sinks,
	})
}
