// Package auth issues and validates player bearer tokens.
//
// Players are owned by the operator platform; the RGS only needs to know
// which user a request plays for. A token carries the user ID as its subject.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/alexbotov/slotify-rgs/internal/config"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// Claims are the claims of a player token
type Claims struct {
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// UserID returns the player the token was issued for
func (c *Claims) UserID() string {
	return c.Subject
}

// Service provides token functionality
type Service struct {
	secret []byte
	expiry time.Duration
	issuer string
	now    func() time.Time
}

// New creates a new auth service
func New(cfg *config.AuthConfig) *Service {
	return &Service{
		secret: []byte(cfg.JWTSecret),
		expiry: cfg.TokenExpiry,
		issuer: cfg.Issuer,
		now:    time.Now,
	}
}

// SetClock replaces the time source (for testing)
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Issue signs a token for userID
func (s *Service) Issue(userID, username string) (string, time.Time, error) {
	if userID == "" {
		return "", time.Time{}, fmt.Errorf("%w: empty subject", ErrInvalidToken)
	}
	now := s.now().UTC()
	expires := now.Add(s.expiry)
	claims := Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   userID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expires, nil
}

// Validate parses a token and returns its claims
func (s *Service) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
