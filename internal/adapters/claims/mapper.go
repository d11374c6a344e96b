package claims

// Package claims extracts profile fields from the identity provider's
// metadata bag. Different providers name the same fields differently
// (full_name vs name, avatar_url vs picture), so the expressions are
// JMESPath and configurable rather than hard-coded key lookups.

import (
	"fmt"

	jmespath "github.com/jmespath-community/go-jmespath"

	"github.com/gatherhq/gather-ui-api/internal/domain/identity"
	"github.com/gatherhq/gather-ui-api/internal/ports"
)

var _ ports.MetadataMapper = (*Mapper)(nil)

// Config holds the JMESPath expressions used to pull profile fields out of
// provider metadata.
type Config struct {
	DisplayNameExpr string
	AvatarURLExpr   string
	RoleExpr        string
}

// DefaultConfig covers the common OAuth provider shapes.
func DefaultConfig() Config {
	return Config{
		DisplayNameExpr: "full_name || name || preferred_username",
		AvatarURLExpr:   "avatar_url || picture",
		RoleExpr:        "role",
	}
}

// Mapper evaluates configured JMESPath expressions over a metadata bag.
type Mapper struct {
	cfg Config
}

// NewMapper validates the configured expressions and returns a Mapper.
func NewMapper(cfg Config) (*Mapper, error) {
	for name, expr := range map[string]string{
		"display name": cfg.DisplayNameExpr,
		"avatar url":   cfg.AvatarURLExpr,
		"role":         cfg.RoleExpr,
	} {
		if expr == "" {
			return nil, fmt.Errorf("%s expression is required", name)
		}
		if _, err := jmespath.Compile(expr); err != nil {
			return nil, fmt.Errorf("compile %s expression: %w", name, err)
		}
	}
	return &Mapper{cfg: cfg}, nil
}

// MustDefault returns a Mapper with the default expressions.
// The defaults are known-valid, so construction cannot fail.
func MustDefault() *Mapper {
	m, err := NewMapper(DefaultConfig())
	if err != nil {
		panic(err)
	}
	return m
}

func (m *Mapper) DisplayName(metadata map[string]any) string {
	return searchString(m.cfg.DisplayNameExpr, metadata)
}

func (m *Mapper) AvatarURL(metadata map[string]any) string {
	return searchString(m.cfg.AvatarURLExpr, metadata)
}

// Role returns the role expressed in metadata and whether one was present.
// Unknown role strings normalize to Attendee via identity.ParseRole.
func (m *Mapper) Role(metadata map[string]any) (identity.Role, bool) {
	raw := searchString(m.cfg.RoleExpr, metadata)
	if raw == "" {
		return "", false
	}
	return identity.ParseRole(raw), true
}

// searchString evaluates expr over data and coerces the result to a string.
// Evaluation errors and non-string results read as absent.
func searchString(expr string, data map[string]any) string {
	if len(data) == 0 {
		return ""
	}
	out, err := jmespath.Search(expr, data)
	if err != nil {
		return ""
	}
	s, ok := out.(string)
	if !ok {
		return ""
	}
	return s
}
