package pagerduty

import (
	"testing"
	"time"

	"github.com/gatherhq/gather-ui-api/internal/observability/notify"
)

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatal("expected error when routing key missing")
	}
}

func TestBuildEventShape(t *testing.T) {
	client, err := NewClient(Config{
		RoutingKey: "key-123",
		Source:     "gather-api",
		Component:  "session",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	event := client.buildEvent(notify.AuthIncidentPayload{
		Flow:       notify.FlowSignOut,
		UserID:     "user-1",
		UserEmail:  "user@example.com",
		Provider:   "google",
		Error:      "revocation endpoint down",
		ErrorClass: "errors_apperror",
		Severity:   "WARNING",
		OccurredAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Metadata:   map[string]string{"region": "us-east"},
	})

	if event["routing_key"] != "key-123" {
		t.Fatalf("expected routing key, got %v", event["routing_key"])
	}
	if event["dedup_key"] != "signout:user-1" {
		t.Fatalf("expected dedup key signout:user-1, got %v", event["dedup_key"])
	}

	payload, ok := event["payload"].(map[string]any)
	if !ok {
		t.Fatal("expected payload map")
	}
	if payload["severity"] != "warning" {
		t.Fatalf("expected lowercased severity, got %v", payload["severity"])
	}
	if payload["source"] != "gather-api" {
		t.Fatalf("expected source, got %v", payload["source"])
	}

	custom, ok := payload["custom_details"].(map[string]any)
	if !ok {
		t.Fatal("expected custom details map")
	}
	if custom["provider"] != "google" {
		t.Fatalf("expected provider detail, got %v", custom["provider"])
	}
	if custom["region"] != "us-east" {
		t.Fatalf("expected metadata merged into details, got %v", custom["region"])
	}
}

func TestBuildEventDefaults(t *testing.T) {
	client, err := NewClient(Config{RoutingKey: "key-123"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	event := client.buildEvent(notify.AuthIncidentPayload{})

	payload, ok := event["payload"].(map[string]any)
	if !ok {
		t.Fatal("expected payload map")
	}
	if payload["severity"] != notify.SeverityCritical {
		t.Fatalf("expected critical default severity, got %v", payload["severity"])
	}
	if payload["source"] != "gather" {
		t.Fatalf("expected default source, got %v", payload["source"])
	}
}
