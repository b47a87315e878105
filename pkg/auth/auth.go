// Package auth verifies bearer tokens and carries the acting user through
// request contexts. Token issuance belongs to the identity service; IssueToken
// exists for operator tooling and tests.
package auth

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pesio-ai/be-exp-expenses/pkg/errors"
)

// Roles understood by the access guard.
const (
	RoleAdmin    = "admin"
	RoleApprover = "approver"
	RoleUser     = "user"
)

// UserContext is the authenticated principal attached to a request.
type UserContext struct {
	UserID int64
	Name   string
	Role   string
}

// IsAdmin reports whether the user holds the admin role.
func (u *UserContext) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// HasAnyRole reports whether the user holds one of roles.
func (u *UserContext) HasAnyRole(roles ...string) bool {
	if u == nil {
		return false
	}
	for _, r := range roles {
		if u.Role == r {
			return true
		}
	}
	return false
}

type userContextKey struct{}

// WithUserContext returns a copy of ctx carrying uc.
func WithUserContext(ctx context.Context, uc *UserContext) context.Context {
	return context.WithValue(ctx, userContextKey{}, uc)
}

// GetUserContext returns the authenticated user or an UNAUTHORIZED error.
func GetUserContext(ctx context.Context) (*UserContext, error) {
	uc, ok := ctx.Value(userContextKey{}).(*UserContext)
	if !ok || uc == nil {
		return nil, errors.New(errors.ErrCodeUnauthorized, "authentication required")
	}
	return uc, nil
}

// UserLoader resolves a token subject to an active user. It returns nil
// without error when the user does not exist or is inactive.
type UserLoader func(ctx context.Context, userID int64) (*UserContext, error)

// Verifier validates HS256 tokens signed with a shared secret.
type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewVerifier creates a Verifier for secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
		),
	}
}

// Verify parses token and returns the user id from its "id" claim.
func (v *Verifier) Verify(token string) (int64, error) {
	claims := jwt.MapClaims{}
	parsed, err := v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return 0, errors.Wrap(err, errors.ErrCodeUnauthorized, "invalid token")
	}

	switch id := claims["id"].(type) {
	case float64:
		if id > 0 && id == float64(int64(id)) {
			return int64(id), nil
		}
	case string:
		if n, err := strconv.ParseInt(id, 10, 64); err == nil && n > 0 {
			return n, nil
		}
	}
	return 0, errors.New(errors.ErrCodeUnauthorized, "token has no user id")
}

// IssueToken signs a token for userID valid for ttl.
func IssueToken(secret string, userID int64, ttl time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":  userID,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(ttl).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Authenticate resolves a raw Authorization value ("Bearer <token>") to a
// user context.
func (v *Verifier) Authenticate(ctx context.Context, header string, load UserLoader) (*UserContext, error) {
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return nil, errors.New(errors.ErrCodeUnauthorized, "missing or invalid Authorization header")
	}
	userID, err := v.Verify(strings.TrimSpace(token))
	if err != nil {
		return nil, err
	}
	uc, err := load(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to load user")
	}
	if uc == nil {
		return nil, errors.New(errors.ErrCodeUnauthorized, "user is not active")
	}
	return uc, nil
}
