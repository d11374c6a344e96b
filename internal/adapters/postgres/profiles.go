package postgres

// Package postgres implements the profile store port over the application's
// Postgres database. Rows are keyed by the identity provider's user id.

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	// Register pgx driver for database/sql.
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/gatherhq/gather-ui-api/internal/domain/identity"
	apperrors "github.com/gatherhq/gather-ui-api/internal/errors"
	"github.com/gatherhq/gather-ui-api/internal/ports"
)

var _ ports.ProfileStore = (*ProfileRepo)(nil)

// TimeProvider abstracts the clock for deterministic tests.
type TimeProvider interface {
	Now() time.Time
}

// RealTimeProvider returns the wall clock.
type RealTimeProvider struct{}

func (RealTimeProvider) Now() time.Time { return time.Now() }

// ProfileRepo provides database operations for profile rows.
type ProfileRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewProfileRepo creates a new ProfileRepo with a real time provider.
func NewProfileRepo(db *sql.DB) *ProfileRepo {
	return &ProfileRepo{DB: db, timeProvider: RealTimeProvider{}}
}

// NewProfileRepoWithTimeProvider creates a ProfileRepo with a custom time provider (useful for tests).
func NewProfileRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *ProfileRepo {
	return &ProfileRepo{DB: db, timeProvider: tp}
}

const profileColumns = `id, display_name, email, avatar_url, role, profile_complete, created_at, updated_at`

// GetByID retrieves a profile row by the provider user id. Absence maps to a
// not-found AppError: the trigger that creates rows runs with unknown delay,
// so callers treat this as an expected state.
func (r *ProfileRepo) GetByID(ctx context.Context, id string) (*identity.ProfileRow, error) {
	if id == "" {
		return nil, apperrors.Validation("profile id is required")
	}

	row := r.DB.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE id = $1`, id)

	var (
		p    identity.ProfileRow
		role string
	)
	err := row.Scan(&p.ID, &p.DisplayName, &p.Email, &p.AvatarURL, &role, &p.ProfileComplete, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFoundf("profile %s not found", id)
		}
		return nil, apperrors.MapDBError(fmt.Errorf("get profile by id: %w", err))
	}
	p.Role = identity.ParseRole(role)
	return &p, nil
}

// Insert creates a profile row. A concurrent trigger-created row surfaces as
// a conflict AppError, which callers resolve by re-reading.
func (r *ProfileRepo) Insert(ctx context.Context, row identity.ProfileRow) error {
	if row.ID == "" {
		return apperrors.Validation("profile id is required")
	}

	now := r.timeProvider.Now().UTC()
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO profiles (id, display_name, email, avatar_url, role, profile_complete, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		row.ID,
		strings.TrimSpace(row.DisplayName),
		row.Email,
		row.AvatarURL,
		string(row.Role),
		row.ProfileComplete,
		now,
	)
	if err != nil {
		return apperrors.MapDBError(fmt.Errorf("insert profile: %w", err))
	}
	return nil
}

// Update applies a partial patch to an existing row. Nil patch fields are
// left untouched.
func (r *ProfileRepo) Update(ctx context.Context, id string, patch identity.ProfilePatch) error {
	if id == "" {
		return apperrors.Validation("profile id is required")
	}

	sets := make([]string, 0, 5)
	args := make([]any, 0, 6)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if patch.DisplayName != nil {
		sets = append(sets, "display_name = "+arg(strings.TrimSpace(*patch.DisplayName)))
	}
	if patch.AvatarURL != nil {
		sets = append(sets, "avatar_url = "+arg(*patch.AvatarURL))
	}
	if patch.Role != nil {
		sets = append(sets, "role = "+arg(string(*patch.Role)))
	}
	if patch.ProfileComplete != nil {
		sets = append(sets, "profile_complete = "+arg(*patch.ProfileComplete))
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = "+arg(r.timeProvider.Now().UTC()))

	query := "UPDATE profiles SET " + strings.Join(sets, ", ") + " WHERE id = " + arg(id)
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return apperrors.MapDBError(fmt.Errorf("update profile: %w", err))
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return apperrors.MapDBError(fmt.Errorf("update profile rows affected: %w", err))
	}
	if affected == 0 {
		return apperrors.NotFoundf("profile %s not found", id)
	}
	return nil
}
