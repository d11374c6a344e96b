package identity

import (
	"testing"
	"time"
)

func TestParseRole(t *testing.T) {
	if ParseRole("host") != RoleHost {
		t.Fatalf("expected host")
	}
	if ParseRole("attendee") != RoleAttendee {
		t.Fatalf("expected attendee")
	}
	if ParseRole("") != RoleAttendee {
		t.Fatalf("empty role should default to attendee")
	}
	if ParseRole("admin") != RoleAttendee {
		t.Fatalf("unknown role should default to attendee")
	}
}

func TestProfileRow_Identity(t *testing.T) {
	row := ProfileRow{
		ID:              "u1",
		DisplayName:     "Ada",
		Email:           "ada@example.com",
		Role:            RoleHost,
		ProfileComplete: true,
		CreatedAt:       time.Now(),
	}
	id := row.Identity()
	if id.ID != "u1" || id.Role != RoleHost || !id.Persisted {
		t.Fatalf("unexpected identity: %+v", id)
	}
	if !id.IsHost() {
		t.Fatalf("expected host identity")
	}
}
