// Package auth issues and verifies the bearer credentials accepted by
// the API: locally issued JWTs for interactive users and static service
// tokens for automation.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/madfam-io/madlab/internal/app/domain/user"
)

// ErrInvalidToken is returned for any token that fails verification.
var ErrInvalidToken = errors.New("invalid or expired token")

// Identity is the authenticated principal attached to a request.
type Identity struct {
	UserID  string
	Email   string
	Role    user.Role
	Service bool
}

// Claims is the JWT payload for interactive sessions.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// Manager signs session tokens and verifies presented credentials.
type Manager struct {
	secret       []byte
	tokenTTL     time.Duration
	staticTokens map[string]string // token -> service name
}

// New creates a manager. staticTokens maps raw bearer tokens to the
// service names they identify.
func New(secret string, tokenTTL time.Duration, staticTokens map[string]string) (*Manager, error) {
	if secret == "" {
		return nil, fmt.Errorf("auth secret is required")
	}
	if tokenTTL <= 0 {
		tokenTTL = 12 * time.Hour
	}
	tokens := make(map[string]string, len(staticTokens))
	for token, name := range staticTokens {
		if token != "" {
			tokens[token] = name
		}
	}
	return &Manager{secret: []byte(secret), tokenTTL: tokenTTL, staticTokens: tokens}, nil
}

// Issue signs a session token for the user.
func (m *Manager) Issue(u user.User) (string, time.Time, error) {
	now := time.Now()
	expires := now.Add(m.tokenTTL)
	claims := Claims{
		Email: u.Email,
		Role:  string(u.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

// Verify resolves a bearer token to an identity. Static service tokens
// are checked before JWT parsing.
func (m *Manager) Verify(token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrInvalidToken
	}
	if name, ok := m.staticTokens[token]; ok {
		return Identity{UserID: name, Role: user.RoleAdmin, Service: true}, nil
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Identity{}, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return Identity{}, ErrInvalidToken
	}
	role := user.Role(claims.Role)
	if !role.Valid() {
		role = user.RoleMember
	}
	return Identity{UserID: claims.Subject, Email: claims.Email, Role: role}, nil
}
