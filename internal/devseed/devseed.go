// Package devseed populates a development database with a predictable set of
// profiles and event attendance so local frontends have accounts to sign in
// with. Seeding is idempotent and safe to run on every boot.
package devseed

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/gatherhq/gather-ui-api/internal/adapters/postgres"
	"github.com/gatherhq/gather-ui-api/internal/domain/identity"
	apperrors "github.com/gatherhq/gather-ui-api/internal/errors"
)

// DevEventCode is the event every seeded attendee has already joined.
const DevEventCode = "111111"

// Services bundles the dependencies needed for development seeding.
type Services struct {
	DB       *sql.DB
	profiles *postgres.ProfileRepo
	joiner   *postgres.AttendanceRepo
}

// NewServices constructs the repositories used for seeding from the provided DB.
func NewServices(db *sql.DB) Services {
	return Services{
		DB:       db,
		profiles: postgres.NewProfileRepo(db),
		joiner:   postgres.NewAttendanceRepo(db),
	}
}

// Run executes the development seeding workflow against the provided DB.
func Run(ctx context.Context, svcs Services, logger *slog.Logger) error {
	failures := seedProfiles(ctx, svcs.profiles, logger)
	failures += seedAttendance(ctx, svcs.joiner, logger)
	if failures > 0 {
		return fmt.Errorf("%d seed errors; check logs", failures)
	}
	return nil
}

func seedProfiles(ctx context.Context, profiles *postgres.ProfileRepo, logger *slog.Logger) int {
	rows := []identity.ProfileRow{
		{
			ID:              "dev-host-1",
			DisplayName:     "Dev Host",
			Email:           "host@gather.dev",
			Role:            identity.RoleHost,
			ProfileComplete: true,
		},
		{
			ID:              "dev-attendee-1",
			DisplayName:     "Dev Attendee",
			Email:           "attendee@gather.dev",
			Role:            identity.RoleAttendee,
			ProfileComplete: true,
		},
		{
			ID:          "dev-attendee-2",
			DisplayName: "",
			Email:       "newcomer@gather.dev",
			Role:        identity.RoleAttendee,
		},
	}

	failures := 0
	for _, row := range rows {
		err := profiles.Insert(ctx, row)
		switch {
		case err == nil:
			if logger != nil {
				logger.InfoContext(ctx, "seeded profile", "id", row.ID, "role", row.Role)
			}
		case apperrors.IsConflict(err):
			// Already seeded on a previous boot.
		default:
			failures++
			if logger != nil {
				logger.WarnContext(ctx, "profile seed failed", "id", row.ID, "error", err)
			}
		}
	}
	return failures
}

func seedAttendance(ctx context.Context, joiner *postgres.AttendanceRepo, logger *slog.Logger) int {
	// Join is an idempotent upsert, so repeat boots are no-ops.
	if err := joiner.Join(ctx, "dev-attendee-1", DevEventCode); err != nil {
		if logger != nil {
			logger.WarnContext(ctx, "attendance seed failed", "event_code", DevEventCode, "error", err)
		}
		return 1
	}
	return 0
}
