// Package auth signs and checks the bearer tokens that guard the state
// changing admin endpoints.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	Issuer     = "btscan"
	ScopeAdmin = "admin"
)

var (
	ErrAuthNotConfigured       = errors.New("admin auth not configured")
	ErrUnexpectedSigningMethod = errors.New("unexpected signing method")
	ErrInvalidToken            = errors.New("invalid token")
	ErrSubjectRequired         = errors.New("token subject required")
)

// Claims represents JWT claims.
type Claims struct {
	jwt.RegisteredClaims

	Scope string `json:"scope"`
}

// Service issues and validates HS256 admin tokens with one shared key.
type Service struct {
	secret []byte
}

// NewService returns a service for key. A nil key disables it: every token is rejected.
func NewService(key []byte) *Service {
	return &Service{secret: key}
}

// Enabled reports whether a signing key is configured.
func (s *Service) Enabled() bool {
	return s != nil && len(s.secret) > 0
}

// IssueToken signs an admin token for subject. A zero ttl issues a token
// that never expires.
func (s *Service) IssueToken(subject string, ttl time.Duration) (string, error) {
	if !s.Enabled() {
		return "", ErrAuthNotConfigured
	}

	if subject == "" {
		return "", ErrSubjectRequired
	}

	now := time.Now()

	claims := &Claims{
		Scope: ScopeAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    Issuer,
			Subject:   subject,
		},
	}

	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	return token.SignedString(s.secret)
}

// ValidateToken validates a JWT token and returns the claims.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	if !s.Enabled() {
		return nil, ErrAuthNotConfigured
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: %v", ErrUnexpectedSigningMethod, token.Header["alg"])
		}

		return s.secret, nil
	}, jwt.WithIssuer(Issuer))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Scope != ScopeAdmin {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
