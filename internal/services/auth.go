// Package services contains token and naming logic shared by the HTTP layer.
package services

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role represents what a token holder may do on the relay.
type Role string

const (
	RoleSubscriber Role = "subscriber" // May open a hub session or event stream
)

const tokenIssuer = "funky-firehose"

// Claims represents the JWT payload for subscriber tokens.
type Claims struct {
	Subscriber string `json:"sub_name"`
	Role       Role   `json:"role"`
	jwt.RegisteredClaims
}

// AuthService issues and validates subscriber tokens.
type AuthService struct {
	secret        []byte
	tokenDuration time.Duration
}

// NewAuthService creates an AuthService with the given signing secret and token lifetime.
func NewAuthService(secret string, tokenDuration time.Duration) *AuthService {
	return &AuthService{
		secret:        []byte(secret),
		tokenDuration: tokenDuration,
	}
}

// GenerateToken creates a signed JWT for the named subscriber and returns it with its expiry.
func (s *AuthService) GenerateToken(subscriber string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(s.tokenDuration)

	claims := Claims{
		Subscriber: subscriber,
		Role:       RoleSubscriber,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ValidateToken verifies the JWT signature, issuer and expiry, returning the claims if valid.
func (s *AuthService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	}, jwt.WithIssuer(tokenIssuer))

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid && claims.Role == RoleSubscriber {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}
