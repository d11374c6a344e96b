package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/gatherhq/gather-ui-api/internal/domain/identity"
	"github.com/gatherhq/gather-ui-api/internal/domain/intent"
	"github.com/gatherhq/gather-ui-api/internal/observability/metrics"
	"github.com/gatherhq/gather-ui-api/internal/observability/statsd"
	"github.com/gatherhq/gather-ui-api/internal/ports"
)

// RouteConfig names the landing destinations the router chooses between.
type RouteConfig struct {
	HostHome     string
	AttendeeHome string
	SignIn       string
	EventBase    string
}

// DefaultRouteConfig returns the standard application routes.
func DefaultRouteConfig() RouteConfig {
	return RouteConfig{
		HostHome:     "/host",
		AttendeeHome: "/home",
		SignIn:       "/signin",
		EventBase:    "/events",
	}
}

// RedirectRouterOptions groups dependencies for RedirectRouter.
type RedirectRouterOptions struct {
	Intents *IntentStore      // Required
	Joiner  ports.EventJoiner // Required
	Routes  RouteConfig       // Optional: defaults to DefaultRouteConfig
	Logger  *slog.Logger      // Optional
	Metrics statsd.Sink       // Optional
}

// RedirectRouter picks the post-authentication destination. Precedence is
// fixed: resume-purchase path, then a pending join-event intent, then the
// role's home route. An unauthenticated caller routes to sign-in with all
// pending intents left untouched for the next attempt.
type RedirectRouter struct {
	intents *IntentStore
	joiner  ports.EventJoiner
	routes  RouteConfig
	logger  *slog.Logger
	sink    statsd.Sink
}

// NewRedirectRouter constructs a RedirectRouter.
func NewRedirectRouter(opts RedirectRouterOptions) (*RedirectRouter, error) {
	if opts.Intents == nil {
		return nil, errors.New("intent store is required")
	}
	if opts.Joiner == nil {
		return nil, errors.New("event joiner is required")
	}

	routes := opts.Routes
	if routes.SignIn == "" {
		routes = DefaultRouteConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &RedirectRouter{
		intents: opts.Intents,
		joiner:  opts.Joiner,
		routes:  routes,
		logger:  logger.With("component", "redirect_router"),
		sink:    opts.Metrics,
	}, nil
}

// Route resolves the destination for id after authentication settles. The
// query carries parameters mirrored back from the OAuth redirect, consulted
// as the last-resort intent source.
func (r *RedirectRouter) Route(ctx context.Context, id *identity.ResolvedIdentity, query url.Values) (string, error) {
	if id == nil {
		// Terminal negative. Intents stay staged so a successful retry can
		// still replay them.
		return r.routes.SignIn, nil
	}

	if path, err := r.intents.TakeResumePurchase(ctx); err != nil {
		r.logger.WarnContext(ctx, "resume-purchase read failed", "error", err)
	} else if path != "" {
		metrics.EmitIntentConsumed(r.sink, string(intent.KindResumePurchase), string(intent.SourceDurable))
		// A join intent staged alongside loses the precedence contest and is
		// discarded; leaving it staged would replay it on the next navigation.
		if dropped, cerr := r.intents.Consume(ctx, query); cerr != nil {
			r.logger.WarnContext(ctx, "losing join-intent discard failed", "error", cerr)
		} else if dropped != nil {
			r.logger.InfoContext(ctx, "discarding join intent superseded by resume purchase",
				"user_id", id.ID, "event_code", dropped.Code)
		}
		return path, nil
	}

	pending, err := r.intents.Consume(ctx, query)
	if err != nil {
		r.logger.WarnContext(ctx, "intent consume failed", "error", err)
	}
	if pending != nil {
		if dest, ok := r.routeJoinIntent(ctx, id, pending); ok {
			return dest, nil
		}
	}

	return r.roleHome(id), nil
}

// routeJoinIntent replays a consumed join-event intent. Hosts never auto-join
// their own audience flow, so the intent is discarded for them; it was
// already erased from storage by the consume.
func (r *RedirectRouter) routeJoinIntent(ctx context.Context, id *identity.ResolvedIdentity, pending *intent.PendingIntent) (string, bool) {
	if id.IsHost() {
		r.logger.InfoContext(ctx, "discarding join intent for host",
			"user_id", id.ID, "event_code", pending.Code)
		return "", false
	}

	metrics.EmitIntentConsumed(r.sink, string(pending.Kind), string(pending.Source))

	joined := true
	if err := r.joiner.Join(ctx, id.ID, pending.Code); err != nil {
		r.logger.WarnContext(ctx, "event join failed",
			"user_id", id.ID, "event_code", pending.Code, "error", err)
		joined = false
	}

	return fmt.Sprintf("%s/%s?joined=%t", r.routes.EventBase, pending.Code, joined), true
}

func (r *RedirectRouter) roleHome(id *identity.ResolvedIdentity) string {
	if id.IsHost() {
		return r.routes.HostHome
	}
	return r.routes.AttendeeHome
}
