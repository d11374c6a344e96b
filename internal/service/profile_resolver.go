package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/gatherhq/gather-ui-api/internal/errors"

	"github.com/gatherhq/gather-ui-api/internal/domain/identity"
	"github.com/gatherhq/gather-ui-api/internal/observability/metrics"
	"github.com/gatherhq/gather-ui-api/internal/observability/statsd"
	"github.com/gatherhq/gather-ui-api/internal/ports"
)

// PollConfig bounds the identity wait loop. Both the attempt budget and the
// wall-clock budget apply; whichever exhausts first ends the loop.
type PollConfig struct {
	MaxAttempts int
	MaxWait     time.Duration
	BaseDelay   time.Duration
	DelayStep   time.Duration
	MaxDelay    time.Duration
}

// DefaultPollConfig returns the standard poll bounds.
func DefaultPollConfig() PollConfig {
	return PollConfig{
		MaxAttempts: 50,
		MaxWait:     10 * time.Second,
		BaseDelay:   100 * time.Millisecond,
		DelayStep:   10 * time.Millisecond,
		MaxDelay:    500 * time.Millisecond,
	}
}

// Delay returns the backoff before the given zero-based attempt.
func (c PollConfig) Delay(attempt int) time.Duration {
	d := c.BaseDelay + time.Duration(attempt)*c.DelayStep
	if d > c.MaxDelay {
		d = c.MaxDelay
	}
	return d
}

// ManagerView is the read-only slice of the session manager the resolver
// polls while waiting for identity. Kept minimal to break the dependency
// cycle between the manager and the resolver.
type ManagerView interface {
	Snapshot() identity.Snapshot
}

// ProfileResolverOptions groups dependencies for ProfileResolver.
type ProfileResolverOptions struct {
	Provider ports.IdentityProvider                           // Required
	Profiles ports.ProfileStore                               // Required
	Mapper   ports.MetadataMapper                             // Required
	Intents  *IntentStore                                     // Required: pending-role slot
	Poll     PollConfig                                       // Optional: defaults to DefaultPollConfig
	Logger   *slog.Logger                                     // Optional
	Metrics  statsd.Sink                                      // Optional
	Now      func() time.Time                                 // Optional: clock override for tests
	Sleep    func(ctx context.Context, d time.Duration) error // Optional
}

// ProfileResolver turns a provider session into a ResolvedIdentity. Profile
// rows are created by a server-side trigger with unknown delay, so absence is
// an expected intermediate state handled by synthesizing the row client-side.
type ProfileResolver struct {
	provider ports.IdentityProvider
	profiles ports.ProfileStore
	mapper   ports.MetadataMapper
	intents  *IntentStore
	poll     PollConfig
	logger   *slog.Logger
	sink     statsd.Sink
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewProfileResolver constructs a ProfileResolver.
func NewProfileResolver(opts ProfileResolverOptions) (*ProfileResolver, error) {
	if opts.Provider == nil {
		return nil, errors.New("identity provider is required")
	}
	if opts.Profiles == nil {
		return nil, errors.New("profile store is required")
	}
	if opts.Mapper == nil {
		return nil, errors.New("metadata mapper is required")
	}
	if opts.Intents == nil {
		return nil, errors.New("intent store is required")
	}

	poll := opts.Poll
	if poll.MaxAttempts == 0 {
		poll = DefaultPollConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	return &ProfileResolver{
		provider: opts.Provider,
		profiles: opts.Profiles,
		mapper:   opts.Mapper,
		intents:  opts.Intents,
		poll:     poll,
		logger:   logger.With("component", "profile_resolver"),
		sink:     opts.Metrics,
		now:      now,
		sleep:    sleep,
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Resolve maps a session to an identity: read the profile row, or synthesize
// and insert one when the trigger has not materialized it yet. A failed
// insert degrades to a best-effort in-memory identity rather than failing
// the whole login.
func (r *ProfileResolver) Resolve(ctx context.Context, sess *identity.Session) (*identity.ResolvedIdentity, error) {
	if sess == nil {
		return nil, apperrors.ErrNoSession
	}

	start := r.now()

	row, err := r.profiles.GetByID(ctx, sess.UserID)
	if err == nil {
		id := row.Identity()
		metrics.EmitResolve(r.sink, metrics.ResolveMetric{
			Result: metrics.ResultSuccess, Source: "row", Duration: r.now().Sub(start),
		})
		return &id, nil
	}
	if !apperrors.IsNotFound(err) {
		metrics.EmitResolve(r.sink, metrics.ResolveMetric{
			Result: metrics.ResultError, Source: "row", Err: err,
		})
		return nil, fmt.Errorf("read profile %s: %w", sess.UserID, err)
	}

	id, source, err := r.synthesize(ctx, sess)
	if err != nil {
		metrics.EmitResolve(r.sink, metrics.ResolveMetric{
			Result: metrics.ResultError, Source: source, Err: err,
		})
		return nil, err
	}
	metrics.EmitResolve(r.sink, metrics.ResolveMetric{
		Result: metrics.ResultSuccess, Source: source, Duration: r.now().Sub(start),
	})
	return id, nil
}

// synthesize builds a profile row from provider metadata and the pending
// role slot, inserts it, and reconciles with any row the trigger created
// concurrently.
func (r *ProfileResolver) synthesize(ctx context.Context, sess *identity.Session) (*identity.ResolvedIdentity, string, error) {
	user, err := r.provider.User(ctx)
	if err != nil {
		return nil, "synthesized", fmt.Errorf("fetch provider user: %w", err)
	}

	role, explicit := r.requestedRole(ctx, user.Metadata)

	row := identity.ProfileRow{
		ID:          sess.UserID,
		DisplayName: r.mapper.DisplayName(user.Metadata),
		Email:       sess.Email,
		AvatarURL:   r.mapper.AvatarURL(user.Metadata),
		Role:        role,
	}
	if row.Email == "" {
		row.Email = user.Email
	}
	if row.DisplayName == "" {
		row.DisplayName = row.Email
	}

	err = r.profiles.Insert(ctx, row)
	switch {
	case err == nil:
		id := row.Identity()
		return &id, "synthesized", nil

	case apperrors.IsConflict(err):
		// The trigger won the race. Re-read and correct the role if the
		// trigger's default disagrees with an explicitly requested one.
		existing, readErr := r.profiles.GetByID(ctx, sess.UserID)
		if readErr != nil {
			return nil, "synthesized", fmt.Errorf("re-read profile after conflict: %w", readErr)
		}
		if explicit && existing.Role != role {
			patch := identity.ProfilePatch{Role: &role}
			if updErr := r.profiles.Update(ctx, sess.UserID, patch); updErr != nil {
				r.logger.WarnContext(ctx, "role correction failed",
					"user_id", sess.UserID, "error", updErr)
			} else {
				existing.Role = role
			}
		}
		id := existing.Identity()
		return &id, "synthesized", nil

	default:
		// Could not persist. Keep the user signed in with a best-effort
		// identity; the row can still materialize on a later visit.
		r.logger.WarnContext(ctx, "profile insert failed, using best-effort identity",
			"user_id", sess.UserID, "error", err)
		id := row.Identity()
		id.Persisted = false
		return &id, "best_effort", nil
	}
}

// requestedRole decides the role a new profile row should carry: the pending
// role staged during registration wins, then provider metadata, then the
// attendee default. The second return reports whether the role was an
// explicit request rather than the default.
func (r *ProfileResolver) requestedRole(ctx context.Context, metadata map[string]any) (identity.Role, bool) {
	if role, ok, err := r.intents.TakePendingRole(ctx); err != nil {
		r.logger.WarnContext(ctx, "pending role read failed", "error", err)
	} else if ok {
		return role, true
	}
	if role, ok := r.mapper.Role(metadata); ok {
		return role, true
	}
	return identity.RoleAttendee, false
}

// AwaitIdentity polls the manager's snapshot until identity resolves, the
// manager reports a terminal negative, or both poll budgets exhaust. On
// exhaustion it asks the provider directly once before giving up, since the
// manager's pipeline can stall while a session quietly exists.
func (r *ProfileResolver) AwaitIdentity(ctx context.Context, view ManagerView) (*identity.ResolvedIdentity, error) {
	start := r.now()

	for attempt := 0; attempt < r.poll.MaxAttempts; attempt++ {
		snap := view.Snapshot()
		switch snap.Status {
		case identity.StatusAuthenticated:
			if snap.Identity != nil {
				metrics.EmitAwait(r.sink, metrics.AwaitMetric{
					Result: metrics.ResultSuccess, Attempts: attempt, Duration: r.now().Sub(start),
				})
				return snap.Identity, nil
			}
		case identity.StatusUnauthenticated:
			metrics.EmitAwait(r.sink, metrics.AwaitMetric{
				Result: metrics.ResultNoop, Attempts: attempt, Duration: r.now().Sub(start),
			})
			return nil, apperrors.ErrNoSession
		}

		if r.now().Sub(start) >= r.poll.MaxWait {
			break
		}
		if err := r.sleep(ctx, r.poll.Delay(attempt)); err != nil {
			return nil, err
		}
	}

	// Budgets exhausted. One direct provider check before declaring timeout.
	sess, err := r.provider.Session(ctx)
	if err != nil {
		if apperrors.IsUnauthenticated(err) {
			metrics.EmitAwait(r.sink, metrics.AwaitMetric{
				Result: metrics.ResultNoop, Attempts: r.poll.MaxAttempts, Duration: r.now().Sub(start),
			})
			return nil, apperrors.ErrNoSession
		}
		metrics.EmitAwait(r.sink, metrics.AwaitMetric{
			Result: metrics.ResultTimeout, Attempts: r.poll.MaxAttempts, Duration: r.now().Sub(start),
		})
		return nil, apperrors.ErrResolveTimeout
	}

	id, err := r.Resolve(ctx, sess)
	if err != nil {
		metrics.EmitAwait(r.sink, metrics.AwaitMetric{
			Result: metrics.ResultTimeout, Attempts: r.poll.MaxAttempts, Duration: r.now().Sub(start),
		})
		return nil, apperrors.ErrResolveTimeout
	}

	r.logger.InfoContext(ctx, "identity resolved via provider fallback", "user_id", id.ID)
	metrics.EmitAwait(r.sink, metrics.AwaitMetric{
		Result: metrics.ResultFallback, Attempts: r.poll.MaxAttempts, Duration: r.now().Sub(start),
	})
	return id, nil
}
