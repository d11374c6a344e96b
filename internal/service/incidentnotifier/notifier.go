package incidentnotifier

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gatherhq/gather-ui-api/internal/observability/notify"
)

// SinkRegistration pairs a sink implementation with a human-readable name for logging.
type SinkRegistration struct {
	Name string
	Sink notify.Sink
}

// Options configures the incident notifier service.
type Options struct {
	Logger *slog.Logger
	Sinks  []SinkRegistration
}

// Service dispatches auth incidents to all registered sinks.
type Service struct {
	logger *slog.Logger
	sinks  []SinkRegistration
}

var _ notify.Sink = (*Service)(nil)

// NewService constructs an incident notifier.
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default().With("component", "incident_notifier")
	}

	var sinks []SinkRegistration
	for _, entry := range opts.Sinks {
		if entry.Sink == nil {
			continue
		}
		name := entry.Name
		if name == "" {
			name = "sink"
		}
		sinks = append(sinks, SinkRegistration{
			Name: name,
			Sink: entry.Sink,
		})
	}

	return &Service{
		logger: logger,
		sinks:  sinks,
	}
}

// SendAuthIncident fan-outs the payload to all sinks. Delivery failures are
// logged per sink and never propagated; alerting must not break auth flows.
func (s *Service) SendAuthIncident(ctx context.Context, payload notify.AuthIncidentPayload) error {
	if len(s.sinks) == 0 {
		return nil
	}

	if payload.Severity == "" {
		payload.Severity = notify.SeverityWarning
	}

	var wg sync.WaitGroup
	for _, entry := range s.sinks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := entry.Sink.SendAuthIncident(ctx, payload); err != nil {
				s.logger.Error("incident notifier delivery error",
					"sink", entry.Name,
					"flow", payload.Flow,
					"user_id", payload.UserID,
					"error", err,
				)
			}
		}()
	}
	wg.Wait()
	return nil
}

// Enabled reports whether the notifier has any active sinks.
func (s *Service) Enabled() bool {
	return len(s.sinks) > 0
}
