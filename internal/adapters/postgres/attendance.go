package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/gatherhq/gather-ui-api/internal/domain/intent"
	apperrors "github.com/gatherhq/gather-ui-api/internal/errors"
	"github.com/gatherhq/gather-ui-api/internal/ports"
)

var _ ports.EventJoiner = (*AttendanceRepo)(nil)

// AttendanceRepo records event joins replayed from pending intents.
type AttendanceRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewAttendanceRepo creates a new AttendanceRepo with a real time provider.
func NewAttendanceRepo(db *sql.DB) *AttendanceRepo {
	return &AttendanceRepo{DB: db, timeProvider: RealTimeProvider{}}
}

// NewAttendanceRepoWithTimeProvider creates an AttendanceRepo with a custom time provider (useful for tests).
func NewAttendanceRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *AttendanceRepo {
	return &AttendanceRepo{DB: db, timeProvider: tp}
}

// Join records that userID joined the event identified by code. Joining the
// same event twice is a no-op, so a replayed intent never duplicates the row.
func (r *AttendanceRepo) Join(ctx context.Context, userID, code string) error {
	if userID == "" {
		return apperrors.Validation("user id is required")
	}
	if !intent.ValidEventCode(code) {
		return apperrors.ValidationField("code", fmt.Sprintf("invalid event code %q", code))
	}

	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO event_attendance (id, user_id, event_code, joined_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, event_code) DO NOTHING`,
		uuid.NewString(),
		userID,
		code,
		r.timeProvider.Now().UTC(),
	)
	if err != nil {
		return apperrors.MapDBError(fmt.Errorf("record event join: %w", err))
	}
	return nil
}
