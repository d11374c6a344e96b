package notify

import (
	"context"
	"time"
)

// Severity constants recognised by downstream sinks.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
)

// Flow constants naming the auth flow an incident occurred in.
const (
	FlowBootstrap = "bootstrap"
	FlowSignOut   = "signout"
	FlowOAuth     = "oauth"
)

// AuthIncidentPayload captures the canonical data we emit for auth incident notifications.
type AuthIncidentPayload struct {
	Flow       string
	UserID     string
	UserEmail  string
	Provider   string
	Error      string
	ErrorClass string
	Severity   string
	OccurredAt time.Time
	Metadata   map[string]string
}

// Sink describes a destination capable of consuming auth incident notifications.
type Sink interface {
	SendAuthIncident(ctx context.Context, payload AuthIncidentPayload) error
}

// SinkFunc adapts a function to the Sink interface (useful for tests).
type SinkFunc func(ctx context.Context, payload AuthIncidentPayload) error

// SendAuthIncident implements the Sink interface.
func (f SinkFunc) SendAuthIncident(ctx context.Context, payload AuthIncidentPayload) error {
	if f == nil {
		return nil
	}
	return f(ctx, payload)
}
