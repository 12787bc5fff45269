package auth

import "errors"

var (
	// ErrInvalidCredentials is returned for an unknown email, a wrong password or a disabled account.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrEmailTaken is returned when registering an email that already has an account.
	ErrEmailTaken = errors.New("email already registered")
	// ErrInvalidToken is returned for malformed, expired or wrongly typed tokens.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenRevoked is returned for tokens revoked by logout or refresh.
	ErrTokenRevoked = errors.New("token has been revoked")
	// ErrInvalidInput is returned when registration fields are malformed.
	ErrInvalidInput = errors.New("invalid registration")
)
