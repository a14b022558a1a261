package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/skalene/maestro/pkg/models"
)

// Auth errors.
var (
	ErrAuthDisabled = errors.New("auth disabled")
	ErrInvalidToken = errors.New("invalid token")
)

// TokenService signs and verifies API bearer tokens. An empty secret
// disables authentication entirely.
type TokenService struct {
	secret []byte
	expiry time.Duration
}

// NewTokenService builds a token helper with the given secret and
// expiry. A zero expiry issues non-expiring tokens.
func NewTokenService(secret string, expiry time.Duration) *TokenService {
	return &TokenService{secret: []byte(secret), expiry: expiry}
}

// Enabled reports whether requests must carry a token.
func (s *TokenService) Enabled() bool {
	return s != nil && len(s.secret) > 0
}

type tokenClaims struct {
	Scopes []string `json:"scopes,omitempty"`
	jwt.RegisteredClaims
}

// Generate issues a signed token for the subject.
func (s *TokenService) Generate(subject string, scopes []string) (string, error) {
	if !s.Enabled() {
		return "", ErrAuthDisabled
	}
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("subject required")
	}

	claims := tokenClaims{
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.expiry)),
		},
	}
	if s.expiry == 0 {
		claims.ExpiresAt = nil
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Validate parses a token and returns the identity embedded in it.
func (s *TokenService) Validate(token string) (*models.Identity, error) {
	if !s.Enabled() {
		return nil, ErrAuthDisabled
	}

	parsed, err := jwt.ParseWithClaims(token, &tokenClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return &models.Identity{Subject: claims.Subject, Scopes: claims.Scopes}, nil
}

type identityKey struct{}

// IdentityFrom returns the authenticated identity, or nil when auth is
// disabled.
func IdentityFrom(ctx context.Context) *models.Identity {
	id, _ := ctx.Value(identityKey{}).(*models.Identity)
	return id
}

// requireAuth rejects requests without a valid bearer token. With auth
// disabled it passes everything through.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.tokens.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		identity, err := s.tokens.Validate(strings.TrimSpace(token))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, identity)))
	})
}
