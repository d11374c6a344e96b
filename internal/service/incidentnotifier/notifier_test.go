package incidentnotifier

import (
	"context"
	"errors"
	"testing"

	"github.com/gatherhq/gather-ui-api/internal/observability/notify"
)

func TestServiceSendAuthIncident(t *testing.T) {
	ctx := context.Background()

	var received []notify.AuthIncidentPayload
	svc := NewService(Options{
		Sinks: []SinkRegistration{
			{
				Name: "capture",
				Sink: notify.SinkFunc(func(ctx context.Context, payload notify.AuthIncidentPayload) error {
					received = append(received, payload)
					return nil
				}),
			},
		},
	})

	if err := svc.SendAuthIncident(ctx, notify.AuthIncidentPayload{
		Flow:   notify.FlowSignOut,
		UserID: "u1",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(received) != 1 {
		t.Fatalf("expected 1 payload, got %d", len(received))
	}
	if received[0].Severity != notify.SeverityWarning {
		t.Fatalf("expected severity to default to warning, got %s", received[0].Severity)
	}
}

func TestServiceDisabled(t *testing.T) {
	svc := NewService(Options{})
	if svc.Enabled() {
		t.Fatal("expected Enabled() to be false when no sinks registered")
	}
}

func TestServiceSwallowsSinkErrors(t *testing.T) {
	svc := NewService(Options{
		Sinks: []SinkRegistration{
			{
				Name: "fail",
				Sink: notify.SinkFunc(func(ctx context.Context, payload notify.AuthIncidentPayload) error {
					return errors.New("boom")
				}),
			},
		},
	})

	if err := svc.SendAuthIncident(context.Background(), notify.AuthIncidentPayload{Flow: notify.FlowBootstrap}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
