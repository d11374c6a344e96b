package intent

import (
	"testing"
	"time"
)

func TestValidEventCode(t *testing.T) {
	valid := []string{"482913", "000000", "999999"}
	for _, c := range valid {
		if !ValidEventCode(c) {
			t.Fatalf("expected %q to be valid", c)
		}
	}
	invalid := []string{"", "12345", "1234567", "12a456", " 482913"}
	for _, c := range invalid {
		if ValidEventCode(c) {
			t.Fatalf("expected %q to be invalid", c)
		}
	}
}

func TestPendingIntent_Validate(t *testing.T) {
	ok := PendingIntent{Kind: KindJoinEvent, Code: "482913"}
	if err := ok.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bad := PendingIntent{Kind: KindJoinEvent, Code: "nope"}
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}

	purchase := PendingIntent{Kind: KindResumePurchase, Path: "/buy-tickets/expo42"}
	if err := purchase.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	relative := PendingIntent{Kind: KindResumePurchase, Path: "buy-tickets"}
	if err := relative.Validate(); err == nil {
		t.Fatalf("expected validation error for relative path")
	}
}

func TestPendingIntent_Stale(t *testing.T) {
	now := time.Now()

	fresh := PendingIntent{CapturedAt: now.Add(-9 * time.Minute)}
	if fresh.Stale(now, DefaultTTL) {
		t.Fatalf("9 minute old intent should not be stale")
	}

	old := PendingIntent{CapturedAt: now.Add(-11 * time.Minute)}
	if !old.Stale(now, DefaultTTL) {
		t.Fatalf("11 minute old intent should be stale")
	}

	// No timestamp means the source cannot express staleness.
	untimed := PendingIntent{}
	if untimed.Stale(now, DefaultTTL) {
		t.Fatalf("untimed intent should never be stale")
	}
}

func TestPayload_RoundTrip(t *testing.T) {
	capturedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	raw, err := EncodePayload("482913", capturedAt)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	p, err := DecodePayload(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Code != "482913" {
		t.Fatalf("unexpected code %q", p.Code)
	}
	if !p.CapturedTime().Equal(capturedAt) {
		t.Fatalf("unexpected captured time %v", p.CapturedTime())
	}

	if _, decodeErr := DecodePayload("{not json"); decodeErr == nil {
		t.Fatalf("expected decode error")
	}
}
