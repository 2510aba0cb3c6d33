// SPDX-License-Identifier: MIT

// Package auth issues and validates the bearer tokens of the web tier.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/flockd/internal/store/users"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Common errors for token operations.
var (
	ErrInvalidToken        = errors.New("invalid token")
	ErrExpiredToken        = errors.New("token has expired")
	ErrTokenSigningFailed  = errors.New("failed to sign token")
	ErrInvalidSecretLength = errors.New("JWT secret must be at least 32 characters")
)

// Claims carried by every issued token.
type Claims struct {
	jwt.RegisteredClaims
	UserID int64  `json:"userId"`
	Phone  string `json:"phone"`
}

// Config holds token issuance parameters.
type Config struct {
	// Secret is the HMAC signing key. Must be at least 32 characters.
	Secret string

	// Issuer is the token issuer claim. Default: "flockd".
	Issuer string

	// TokenDuration is the token lifetime. Default: 24 hours.
	TokenDuration time.Duration
}

// Service signs and validates tokens.
type Service struct {
	config Config
}

// Token is the login response payload.
type Token struct {
	AccessToken string    `json:"accessToken"`
	TokenType   string    `json:"tokenType"` // always "Bearer"
	ExpiresIn   int64     `json:"expiresIn"` // seconds
	ExpiresAt   time.Time `json:"expiresAt"`
}

// NewService creates a token service with the given configuration.
func NewService(config Config) (*Service, error) {
	if len(config.Secret) < 32 {
		return nil, ErrInvalidSecretLength
	}
	if config.Issuer == "" {
		config.Issuer = "flockd"
	}
	if config.TokenDuration == 0 {
		config.TokenDuration = 24 * time.Hour
	}
	return &Service{config: config}, nil
}

// Issue signs a token for the account.
func (s *Service) Issue(acct *users.Account) (*Token, error) {
	now := time.Now()
	expiresAt := now.Add(s.config.TokenDuration)

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.config.Issuer,
			Subject:   fmt.Sprintf("%d", acct.UserID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		UserID: acct.UserID,
		Phone:  acct.Phone,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.config.Secret))
	if err != nil {
		return nil, ErrTokenSigningFailed
	}

	return &Token{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.config.TokenDuration.Seconds()),
		ExpiresAt:   expiresAt,
	}, nil
}

// Validate parses and verifies a token string and returns its claims.
func (s *Service) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.Secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
