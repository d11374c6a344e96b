package intent

// Package intent contains the domain model for pending intents: deferred
// user actions captured before an authentication redirect and replayed once
// identity resolves.

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"
)

// Kind discriminates the pending-intent union.
type Kind string

const (
	// KindJoinEvent defers "join event <code>" across the redirect.
	KindJoinEvent Kind = "join_event"
	// KindResumePurchase defers a ticket-purchase flow by absolute path.
	KindResumePurchase Kind = "resume_purchase"
)

// Source identifies which storage scope produced an intent on read.
type Source string

const (
	SourceShortLived Source = "short_lived"
	SourceDurable    Source = "durable"
	SourcePayload    Source = "payload"
	SourceQuery      Source = "query"
)

// DefaultTTL bounds how old a captured intent may be before it is discarded.
const DefaultTTL = 10 * time.Minute

var eventCodeRe = regexp.MustCompile(`^[0-9]{6}$`)

// ValidEventCode reports whether code is a 6-digit numeric event code.
func ValidEventCode(code string) bool { return eventCodeRe.MatchString(code) }

// PendingIntent is a tagged union over join-event and resume-purchase
// actions. At most one intent is active at a time; scope precedence resolves
// conflicts at read time.
type PendingIntent struct {
	Kind       Kind
	Code       string // 6-digit numeric, KindJoinEvent only
	Path       string // absolute path, KindResumePurchase only
	CapturedAt time.Time
	Source     Source
}

// Stale reports whether the intent was captured more than ttl before now.
// A zero CapturedAt means the producing scope carries no timestamp and the
// intent is treated as fresh; only the companion payload records capture time.
func (p PendingIntent) Stale(now time.Time, ttl time.Duration) bool {
	if p.CapturedAt.IsZero() {
		return false
	}
	return now.Sub(p.CapturedAt) > ttl
}

// Validate checks structural invariants of the union.
func (p PendingIntent) Validate() error {
	switch p.Kind {
	case KindJoinEvent:
		if !ValidEventCode(p.Code) {
			return fmt.Errorf("invalid event code %q", p.Code)
		}
	case KindResumePurchase:
		if p.Path == "" || p.Path[0] != '/' {
			return fmt.Errorf("resume path must be absolute, got %q", p.Path)
		}
	default:
		return fmt.Errorf("unknown intent kind %q", p.Kind)
	}
	return nil
}

// Payload is the durable companion record carrying a capture timestamp
// alongside the event code. It survives federated redirects that drop the
// plain storage scopes.
type Payload struct {
	Code      string `json:"code"`
	Timestamp int64  `json:"timestamp"` // unix milliseconds
}

// EncodePayload serializes a companion payload for the durable scope.
func EncodePayload(code string, capturedAt time.Time) (string, error) {
	b, err := json.Marshal(Payload{Code: code, Timestamp: capturedAt.UnixMilli()})
	if err != nil {
		return "", fmt.Errorf("marshal intent payload: %w", err)
	}
	return string(b), nil
}

// DecodePayload parses a companion payload value.
func DecodePayload(raw string) (Payload, error) {
	var p Payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return Payload{}, fmt.Errorf("unmarshal intent payload: %w", err)
	}
	return p, nil
}

// CapturedTime converts the payload timestamp back to a time.Time.
func (p Payload) CapturedTime() time.Time { return time.UnixMilli(p.Timestamp) }
