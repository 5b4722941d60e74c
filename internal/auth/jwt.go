package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"storefront/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

// Claims is the payload of an access token
type Claims struct {
	ID       interface{} `json:"id"`
	Email    string      `json:"email,omitempty"`
	Username string      `json:"username,omitempty"`
	Role     string      `json:"role,omitempty"`
	RoleID   *int64      `json:"role_id,omitempty"`
	jwt.RegisteredClaims
}

// Principal is the authenticated caller
type Principal struct {
	UserID   int64
	Email    string
	Username string
	Role     string
}

// HasRole reports whether the principal holds one of roles
func (p *Principal) HasRole(roles ...string) bool {
	for _, r := range roles {
		if p.Role == r {
			return true
		}
	}
	return false
}

// RoleResolver looks up a role name for tokens that only carry role_id
type RoleResolver interface {
	RoleName(ctx context.Context, roleID int64) (string, error)
}

// Verifier checks HS256 bearer tokens and the caller's role
type Verifier struct {
	secret []byte
	roles  RoleResolver
	parser *jwt.Parser
}

// NewVerifier creates a verifier for tokens signed with secret. roles may be nil.
func NewVerifier(secret string, roles RoleResolver) *Verifier {
	return &Verifier{
		secret: []byte(secret),
		roles:  roles,
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}
}

// Authorize verifies the Authorization header value and, when allowed is not
// empty, that the caller holds one of the allowed roles.
func (v *Verifier) Authorize(ctx context.Context, header string, allowed ...string) (*Principal, error) {
	token := strings.TrimSpace(header)
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	if token == "" {
		return nil, fmt.Errorf("%w: missing token", ErrUnauthorized)
	}

	claims := &Claims{}
	_, err := v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	userID, err := parseUserID(claims.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	p := &Principal{
		UserID:   userID,
		Email:    claims.Email,
		Username: claims.Username,
		Role:     claims.Role,
	}
	if p.Role == "" && claims.RoleID != nil && v.roles != nil {
		name, err := v.roles.RoleName(ctx, *claims.RoleID)
		switch {
		case errors.Is(err, models.ErrNotFound):
			// unknown role ids hold no role
		case err != nil:
			return nil, fmt.Errorf("failed to resolve role %d: %w", *claims.RoleID, err)
		default:
			p.Role = name
		}
	}

	if len(allowed) > 0 && !p.HasRole(allowed...) {
		return nil, fmt.Errorf("%w: role %q not allowed", ErrForbidden, p.Role)
	}
	return p, nil
}

func parseUserID(raw interface{}) (int64, error) {
	switch id := raw.(type) {
	case float64:
		return int64(id), nil
	case string:
		return strconv.ParseInt(id, 10, 64)
	case nil:
		return 0, errors.New("token has no id")
	default:
		return 0, fmt.Errorf("unsupported id type %T", raw)
	}
}

type principalKey struct{}

// WithPrincipal returns a context carrying p
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored in ctx, if any
func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok
}
