package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/gatherhq/gather-ui-api/internal/adapters/postgres"
	redisadapter "github.com/gatherhq/gather-ui-api/internal/adapters/redis"
	"github.com/gatherhq/gather-ui-api/internal/devseed"
	"github.com/gatherhq/gather-ui-api/internal/domain/identity"
	"github.com/gatherhq/gather-ui-api/internal/domain/intent"
)

const defaultQueryTimeout = 30 * time.Second

type listProfilesOptions struct {
	Role  string
	Limit int
}

func parseListProfilesFlags(args []string) (listProfilesOptions, error) {
	fs := flag.NewFlagSet("list-profiles", flag.ContinueOnError)
	opts := listProfilesOptions{}
	fs.StringVar(&opts.Role, "role", "", "filter by role (host or attendee)")
	fs.IntVar(&opts.Limit, "limit", 100, "maximum rows to print")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	return opts, nil
}

func runListProfiles(cmdCtx *commandContext, args []string) error {
	opts, err := parseListProfilesFlags(args)
	if err != nil {
		return err
	}

	inf, err := connectInfra(cmdCtx, infraOptions{WantDB: true})
	if err != nil {
		return err
	}
	defer closeInfra(cmdCtx, inf)

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultQueryTimeout)
	defer cancel()

	query := `SELECT id, email, display_name, role, profile_complete, updated_at
		FROM profiles`
	queryArgs := []any{}
	if opts.Role != "" {
		query += ` WHERE role = $1`
		queryArgs = append(queryArgs, opts.Role)
	}
	query += fmt.Sprintf(` ORDER BY updated_at DESC LIMIT %d`, opts.Limit)

	rows, err := inf.DB.QueryContext(ctx, query, queryArgs...)
	if err != nil {
		return fmt.Errorf("query profiles: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			cmdCtx.Logger.Warn("rows close failed", "error", closeErr)
		}
	}()

	var profiles []identity.ProfileRow
	for rows.Next() {
		var p identity.ProfileRow
		if err = rows.Scan(&p.ID, &p.Email, &p.DisplayName, &p.Role, &p.ProfileComplete, &p.UpdatedAt); err != nil {
			return fmt.Errorf("scan profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	if err = rows.Err(); err != nil {
		return fmt.Errorf("iterate profiles: %w", err)
	}

	return printProfiles(os.Stdout, profiles)
}

func printProfiles(w io.Writer, profiles []identity.ProfileRow) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if err := writef(tw, "ID\tEMAIL\tDISPLAY NAME\tROLE\tCOMPLETE\tUPDATED\n"); err != nil {
		return err
	}
	for _, p := range profiles {
		if err := writef(tw, "%s\t%s\t%s\t%s\t%t\t%s\n",
			p.ID, p.Email, p.DisplayName, p.Role, p.ProfileComplete,
			p.UpdatedAt.Format(time.RFC3339)); err != nil {
			return err
		}
	}
	return tw.Flush()
}

type setRoleOptions struct {
	UserID string
	Role   string
}

func parseSetRoleFlags(args []string) (setRoleOptions, error) {
	fs := flag.NewFlagSet("set-role", flag.ContinueOnError)
	opts := setRoleOptions{}
	fs.StringVar(&opts.UserID, "user", "", "profile id to update (required)")
	fs.StringVar(&opts.Role, "role", "", "role to set, host or attendee (required)")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if opts.UserID == "" {
		return opts, fmt.Errorf("-user is required")
	}
	if opts.Role != string(identity.RoleHost) && opts.Role != string(identity.RoleAttendee) {
		return opts, fmt.Errorf("-role must be %q or %q", identity.RoleHost, identity.RoleAttendee)
	}
	return opts, nil
}

func runSetRole(cmdCtx *commandContext, args []string) error {
	opts, err := parseSetRoleFlags(args)
	if err != nil {
		return err
	}

	inf, err := connectInfra(cmdCtx, infraOptions{WantDB: true})
	if err != nil {
		return err
	}
	defer closeInfra(cmdCtx, inf)

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultQueryTimeout)
	defer cancel()

	repo := postgres.NewProfileRepo(inf.DB)
	role := identity.ParseRole(opts.Role)
	if err = repo.Update(ctx, opts.UserID, identity.ProfilePatch{Role: &role}); err != nil {
		return fmt.Errorf("update role: %w", err)
	}

	cmdCtx.Logger.Info("role updated", "user_id", opts.UserID, "role", role)
	return nil
}

type listAttendanceOptions struct {
	EventCode string
}

func parseListAttendanceFlags(args []string) (listAttendanceOptions, error) {
	fs := flag.NewFlagSet("list-attendance", flag.ContinueOnError)
	opts := listAttendanceOptions{}
	fs.StringVar(&opts.EventCode, "event", "", "six digit event code (required)")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if !intent.ValidEventCode(opts.EventCode) {
		return opts, fmt.Errorf("-event must be a six digit code")
	}
	return opts, nil
}

type attendanceRow struct {
	UserID    string
	Email     string
	JoinedAt  time.Time
	EventCode string
}

func runListAttendance(cmdCtx *commandContext, args []string) error {
	opts, err := parseListAttendanceFlags(args)
	if err != nil {
		return err
	}

	inf, err := connectInfra(cmdCtx, infraOptions{WantDB: true})
	if err != nil {
		return err
	}
	defer closeInfra(cmdCtx, inf)

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultQueryTimeout)
	defer cancel()

	rows, err := inf.DB.QueryContext(ctx, `SELECT a.user_id, p.email, a.event_code, a.joined_at
		FROM event_attendance a
		JOIN profiles p ON p.id = a.user_id
		WHERE a.event_code = $1
		ORDER BY a.joined_at ASC`, opts.EventCode)
	if err != nil {
		return fmt.Errorf("query attendance: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			cmdCtx.Logger.Warn("rows close failed", "error", closeErr)
		}
	}()

	var attendance []attendanceRow
	for rows.Next() {
		var a attendanceRow
		if err = rows.Scan(&a.UserID, &a.Email, &a.EventCode, &a.JoinedAt); err != nil {
			return fmt.Errorf("scan attendance: %w", err)
		}
		attendance = append(attendance, a)
	}
	if err = rows.Err(); err != nil {
		return fmt.Errorf("iterate attendance: %w", err)
	}

	return printAttendance(os.Stdout, attendance)
}

func printAttendance(w io.Writer, attendance []attendanceRow) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if err := writef(tw, "USER ID\tEMAIL\tEVENT\tJOINED\n"); err != nil {
		return err
	}
	for _, a := range attendance {
		if err := writef(tw, "%s\t%s\t%s\t%s\n",
			a.UserID, a.Email, a.EventCode, a.JoinedAt.Format(time.RFC3339)); err != nil {
			return err
		}
	}
	return tw.Flush()
}

type clearIntentsOptions struct {
	Prefix string
}

func parseClearIntentsFlags(args []string) (clearIntentsOptions, error) {
	fs := flag.NewFlagSet("clear-intents", flag.ContinueOnError)
	opts := clearIntentsOptions{}
	fs.StringVar(&opts.Prefix, "prefix", "", "only clear keys under this sub-prefix, empty clears all staged intents")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	return opts, nil
}

func runSeedDev(cmdCtx *commandContext, _ []string) error {
	if !cmdCtx.Config.IsDev {
		return fmt.Errorf("seed-dev refuses to run outside a dev environment")
	}

	inf, err := connectInfra(cmdCtx, infraOptions{WantDB: true})
	if err != nil {
		return err
	}
	defer closeInfra(cmdCtx, inf)

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultQueryTimeout)
	defer cancel()

	return devseed.Run(ctx, devseed.NewServices(inf.DB), cmdCtx.Logger)
}

func runClearIntents(cmdCtx *commandContext, args []string) error {
	opts, err := parseClearIntentsFlags(args)
	if err != nil {
		return err
	}

	inf, err := connectInfra(cmdCtx, infraOptions{WantRedis: true})
	if err != nil {
		return err
	}
	defer closeInfra(cmdCtx, inf)

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultQueryTimeout)
	defer cancel()

	scope := redisadapter.NewIntentScope(inf.Redis)
	if err = scope.ClearPrefix(ctx, opts.Prefix); err != nil {
		return fmt.Errorf("clear intents: %w", err)
	}

	cmdCtx.Logger.Info("intents cleared", "prefix", opts.Prefix)
	return nil
}
