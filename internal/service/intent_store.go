package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/gatherhq/gather-ui-api/internal/domain/identity"
	"github.com/gatherhq/gather-ui-api/internal/domain/intent"
	apperrors "github.com/gatherhq/gather-ui-api/internal/errors"
	"github.com/gatherhq/gather-ui-api/internal/ports"
)

// Storage keys for pending-intent values. The same keys are used in both
// scopes; which scope holds a given key is part of the read protocol below.
const (
	KeyEventCode          = "pending.eventCode"
	KeyRole               = "pending.role"
	KeyEventPayload       = "pending.eventPayload"
	KeyResumePurchasePath = "pending.resumePurchasePath"
)

// QueryParamEventCode is the OAuth redirect query parameter mirrored from
// the outbound request, consulted as the last-resort read source.
const QueryParamEventCode = "eventCode"

// IntentStoreOptions groups dependencies for IntentStore.
type IntentStoreOptions struct {
	ShortLived ports.IntentScope // Required: scope cleared with the browsing context
	Durable    ports.IntentScope // Required: scope surviving context closes
	TTL        time.Duration     // Optional: staleness bound, defaults to intent.DefaultTTL
	Logger     *slog.Logger      // Optional: structured logger
	Now        func() time.Time  // Optional: clock override for tests
}

// IntentStore is the write-once-read-once ledger for pre-authentication
// intents. Values are written redundantly across both scopes because some
// OAuth providers bounce through an intermediate browsing context that drops
// short-lived storage; reads reconcile the scopes with fixed precedence.
type IntentStore struct {
	short   ports.IntentScope
	durable ports.IntentScope
	ttl     time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// NewIntentStore constructs an IntentStore.
func NewIntentStore(opts IntentStoreOptions) (*IntentStore, error) {
	if opts.ShortLived == nil {
		return nil, errors.New("short-lived scope is required")
	}
	if opts.Durable == nil {
		return nil, errors.New("durable scope is required")
	}

	ttl := opts.TTL
	if ttl == 0 {
		ttl = intent.DefaultTTL
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger != nil {
		logger = logger.With("component", "intent_store")
	}

	return &IntentStore{
		short:   opts.ShortLived,
		durable: opts.Durable,
		ttl:     ttl,
		logger:  logger,
		now:     now,
	}, nil
}

// StageJoinEvent records a join-event intent in both scopes plus the durable
// companion payload. Last writer wins per scope.
func (s *IntentStore) StageJoinEvent(ctx context.Context, code string) error {
	if !intent.ValidEventCode(code) {
		return apperrors.ValidationField("code", fmt.Sprintf("invalid event code %q", code))
	}

	capturedAt := s.now()
	payload, err := intent.EncodePayload(code, capturedAt)
	if err != nil {
		return err
	}

	if err = s.short.Set(ctx, KeyEventCode, code, s.ttl); err != nil {
		return fmt.Errorf("stage event code (short-lived): %w", err)
	}
	if err = s.durable.Set(ctx, KeyEventCode, code, s.ttl); err != nil {
		return fmt.Errorf("stage event code (durable): %w", err)
	}
	if err = s.durable.Set(ctx, KeyEventPayload, payload, s.ttl); err != nil {
		return fmt.Errorf("stage event payload: %w", err)
	}
	return nil
}

// StageResumePurchase records a resume-purchase path in the durable scope.
func (s *IntentStore) StageResumePurchase(ctx context.Context, path string) error {
	p := intent.PendingIntent{Kind: intent.KindResumePurchase, Path: path}
	if err := p.Validate(); err != nil {
		return apperrors.ValidationField("path", err.Error())
	}
	if err := s.durable.Set(ctx, KeyResumePurchasePath, path, s.ttl); err != nil {
		return fmt.Errorf("stage resume purchase: %w", err)
	}
	return nil
}

// SetPendingRole records the role the user chose before authentication
// completed. The profile-store trigger may assign a default role first; this
// slot is used to correct the row after creation.
func (s *IntentStore) SetPendingRole(ctx context.Context, role identity.Role) error {
	if err := s.durable.Set(ctx, KeyRole, string(role), s.ttl); err != nil {
		return fmt.Errorf("set pending role: %w", err)
	}
	return nil
}

// TakePendingRole reads and clears the pending-role slot.
func (s *IntentStore) TakePendingRole(ctx context.Context) (identity.Role, bool, error) {
	raw, err := s.durable.Get(ctx, KeyRole)
	if err != nil {
		return "", false, fmt.Errorf("read pending role: %w", err)
	}
	if raw == "" {
		return "", false, nil
	}
	if err = s.durable.Delete(ctx, KeyRole); err != nil {
		return "", false, fmt.Errorf("clear pending role: %w", err)
	}
	return identity.ParseRole(raw), true, nil
}

// ClearPendingRole erases the pending-role slot regardless of content.
func (s *IntentStore) ClearPendingRole(ctx context.Context) error {
	return s.durable.Delete(ctx, KeyRole)
}

// TakeResumePurchase reads and clears the durable resume-purchase path.
func (s *IntentStore) TakeResumePurchase(ctx context.Context) (string, error) {
	path, err := s.durable.Get(ctx, KeyResumePurchasePath)
	if err != nil {
		return "", fmt.Errorf("read resume purchase: %w", err)
	}
	if path == "" {
		return "", nil
	}
	if err = s.durable.Delete(ctx, KeyResumePurchasePath); err != nil {
		return "", fmt.Errorf("clear resume purchase: %w", err)
	}
	return path, nil
}

// Consume performs the single ranked read of a join-event intent: short-lived
// scope, durable scope, durable companion payload (staleness-checked), then
// the redirect query parameters. The first non-empty, non-stale hit wins and
// the rest are discarded. Every storage location is erased unconditionally —
// partial cleanup would re-trigger the intent on the next unrelated
// navigation.
func (s *IntentStore) Consume(ctx context.Context, query url.Values) (*intent.PendingIntent, error) {
	found, readErr := s.rankedRead(ctx, query)

	// Erase all locations even when the read produced nothing or failed
	// part-way; a leftover value in any scope re-arms the intent.
	if clearErr := s.clearJoinLocations(ctx); clearErr != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "intent cleanup incomplete", "error", clearErr)
		}
		if readErr == nil {
			readErr = clearErr
		}
	}

	if readErr != nil {
		return nil, readErr
	}
	return found, nil
}

func (s *IntentStore) rankedRead(ctx context.Context, query url.Values) (*intent.PendingIntent, error) {
	if code, err := s.short.Get(ctx, KeyEventCode); err != nil {
		return nil, fmt.Errorf("read short-lived event code: %w", err)
	} else if intent.ValidEventCode(code) {
		return &intent.PendingIntent{Kind: intent.KindJoinEvent, Code: code, Source: intent.SourceShortLived}, nil
	}

	if code, err := s.durable.Get(ctx, KeyEventCode); err != nil {
		return nil, fmt.Errorf("read durable event code: %w", err)
	} else if intent.ValidEventCode(code) {
		return &intent.PendingIntent{Kind: intent.KindJoinEvent, Code: code, Source: intent.SourceDurable}, nil
	}

	if raw, err := s.durable.Get(ctx, KeyEventPayload); err != nil {
		return nil, fmt.Errorf("read event payload: %w", err)
	} else if raw != "" {
		payload, decodeErr := intent.DecodePayload(raw)
		if decodeErr != nil {
			if s.logger != nil {
				s.logger.WarnContext(ctx, "discarding malformed intent payload", "error", decodeErr)
			}
		} else if intent.ValidEventCode(payload.Code) {
			candidate := intent.PendingIntent{
				Kind:       intent.KindJoinEvent,
				Code:       payload.Code,
				CapturedAt: payload.CapturedTime(),
				Source:     intent.SourcePayload,
			}
			if candidate.Stale(s.now(), s.ttl) {
				if s.logger != nil {
					s.logger.InfoContext(ctx, "discarding stale intent payload",
						"captured_at", candidate.CapturedAt)
				}
			} else {
				return &candidate, nil
			}
		}
	}

	if code := query.Get(QueryParamEventCode); intent.ValidEventCode(code) {
		return &intent.PendingIntent{Kind: intent.KindJoinEvent, Code: code, Source: intent.SourceQuery}, nil
	}

	return nil, nil
}

func (s *IntentStore) clearJoinLocations(ctx context.Context) error {
	var errs []error
	if err := s.short.Delete(ctx, KeyEventCode); err != nil {
		errs = append(errs, fmt.Errorf("clear short-lived event code: %w", err))
	}
	if err := s.durable.Delete(ctx, KeyEventCode); err != nil {
		errs = append(errs, fmt.Errorf("clear durable event code: %w", err))
	}
	if err := s.durable.Delete(ctx, KeyEventPayload); err != nil {
		errs = append(errs, fmt.Errorf("clear event payload: %w", err))
	}
	return errors.Join(errs...)
}

// ScrubAuthArtifacts erases provider auth artifacts (by namespace prefix)
// and this subsystem's own pending-role slot from both scopes. Called before
// a fresh login/registration and during sign-out, always before any provider
// network call.
func (s *IntentStore) ScrubAuthArtifacts(ctx context.Context, authPrefix string) error {
	var errs []error
	if authPrefix != "" {
		if err := s.short.ClearPrefix(ctx, authPrefix); err != nil {
			errs = append(errs, fmt.Errorf("scrub short-lived auth artifacts: %w", err))
		}
		if err := s.durable.ClearPrefix(ctx, authPrefix); err != nil {
			errs = append(errs, fmt.Errorf("scrub durable auth artifacts: %w", err))
		}
	}
	if err := s.durable.Delete(ctx, KeyRole); err != nil {
		errs = append(errs, fmt.Errorf("scrub pending role: %w", err))
	}
	return errors.Join(errs...)
}
