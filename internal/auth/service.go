// Package auth handles account registration, password login and JWT session
// tokens with revocation.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nexasecurity/nexasec/internal/data/db"
	"github.com/nexasecurity/nexasec/internal/data/model"
	"github.com/nexasecurity/nexasec/internal/log"
)

// MinPasswordLength is the shortest password Register accepts.
const MinPasswordLength = 8

// Service implements the account operations on top of a UserStore.
type Service struct {
	users     db.UserStore
	hasher    PasswordHasher
	tokens    *TokenService
	blacklist Blacklist
}

// NewService creates a Service.
func NewService(users db.UserStore, hasher PasswordHasher, tokens *TokenService, blacklist Blacklist) (*Service, error) {
	if users == nil {
		return nil, errors.New("user store cannot be nil")
	}
	if hasher == nil {
		return nil, errors.New("password hasher cannot be nil")
	}
	if tokens == nil {
		return nil, errors.New("token service cannot be nil")
	}
	if blacklist == nil {
		return nil, errors.New("blacklist cannot be nil")
	}
	return &Service{users: users, hasher: hasher, tokens: tokens, blacklist: blacklist}, nil
}

// Register creates an active account.
func (s *Service) Register(ctx context.Context, email, password, fullName string) (*model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: email is not a valid address", ErrInvalidInput)
	}
	if len(password) < MinPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, MinPasswordLength)
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}
	user := &model.User{
		ID:           uuid.NewString(),
		Email:        email,
		FullName:     strings.TrimSpace(fullName),
		PasswordHash: hash,
		IsActive:     true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	log.NewLogger(ctx).Info("user registered", zap.String("user_id", user.ID))
	return user, nil
}

// Login verifies the credentials and issues a token pair.
func (s *Service) Login(ctx context.Context, email, password string) (*model.User, TokenPair, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, db.ErrNotFound) {
		return nil, TokenPair{}, ErrInvalidCredentials
	}
	if err != nil {
		return nil, TokenPair{}, err
	}
	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		return nil, TokenPair{}, err
	}
	if !user.IsActive {
		return nil, TokenPair{}, ErrInvalidCredentials
	}
	pair, err := s.tokens.IssuePair(user.ID)
	if err != nil {
		return nil, TokenPair{}, err
	}
	return user, pair, nil
}

// Refresh exchanges a refresh token for a new pair. The used refresh token is
// revoked so it cannot be replayed.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := s.valid(ctx, refreshToken, RefreshToken)
	if err != nil {
		return TokenPair{}, err
	}
	if _, err := s.activeUser(ctx, claims.Subject); err != nil {
		return TokenPair{}, err
	}
	if err := s.blacklist.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return TokenPair{}, err
	}
	return s.tokens.IssuePair(claims.Subject)
}

// Logout revokes the access token and, when given, the refresh token.
// Invalid tokens are ignored.
func (s *Service) Logout(ctx context.Context, accessToken, refreshToken string) error {
	for _, t := range []struct {
		token string
		kind  TokenKind
	}{{accessToken, AccessToken}, {refreshToken, RefreshToken}} {
		if t.token == "" {
			continue
		}
		claims, err := s.tokens.Parse(t.token, t.kind)
		if err != nil {
			continue
		}
		if err := s.blacklist.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
			return err
		}
	}
	return nil
}

// Authenticate resolves an access token to its active user.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (*model.User, error) {
	claims, err := s.valid(ctx, accessToken, AccessToken)
	if err != nil {
		return nil, err
	}
	return s.activeUser(ctx, claims.Subject)
}

func (s *Service) valid(ctx context.Context, token string, kind TokenKind) (*Claims, error) {
	claims, err := s.tokens.Parse(token, kind)
	if err != nil {
		return nil, err
	}
	revoked, err := s.blacklist.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, ErrTokenRevoked
	}
	return claims, nil
}

func (s *Service) activeUser(ctx context.Context, id string) (*model.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrInvalidToken
	}
	return user, nil
}

