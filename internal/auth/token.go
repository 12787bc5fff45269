package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenKind distinguishes access tokens from refresh tokens.
type TokenKind string

const (
	AccessToken  TokenKind = "access"
	RefreshToken TokenKind = "refresh"
)

// Claims are the JWT claims of both token kinds. The subject is the user id.
type Claims struct {
	jwt.RegisteredClaims
	Type TokenKind `json:"typ"`
}

// TokenPair is the result of a login or refresh.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	ExpiresAt        time.Time `json:"expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// TokenService issues and parses HS256 tokens.
type TokenService struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenService creates a TokenService.
func NewTokenService(secret string, accessTTL, refreshTTL time.Duration) (*TokenService, error) {
	if secret == "" {
		return nil, errors.New("jwt secret cannot be empty")
	}
	if accessTTL <= 0 || refreshTTL <= 0 {
		return nil, errors.New("token lifetimes must be positive")
	}
	return &TokenService{secret: []byte(secret), accessTTL: accessTTL, refreshTTL: refreshTTL, now: time.Now}, nil
}

// IssuePair creates a fresh access and refresh token for userID.
func (s *TokenService) IssuePair(userID string) (TokenPair, error) {
	now := s.now()
	access, accessExp, err := s.issue(userID, AccessToken, now, s.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, refreshExp, err := s.issue(userID, RefreshToken, now, s.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        "bearer",
		ExpiresAt:        accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (s *TokenService) issue(userID string, kind TokenKind, now time.Time, ttl time.Duration) (string, time.Time, error) {
	exp := now.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Type: kind,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign %s token: %w", kind, err)
	}
	return signed, exp, nil
}

// Parse verifies token and checks that it is of the expected kind.
func (s *TokenService) Parse(token string, kind TokenKind) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Type != kind {
		return nil, fmt.Errorf("%w: expected %s token, got %q", ErrInvalidToken, kind, claims.Type)
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, fmt.Errorf("%w: missing subject or id", ErrInvalidToken)
	}
	return claims, nil
}
