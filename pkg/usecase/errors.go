package usecase

import "errors"

// Sentinel errors for use case layer
var (
	ErrNoSession           = errors.New("no session for user")
	ErrInvalidState        = errors.New("invalid or expired state")
	ErrInvalidSignature    = errors.New("state signature mismatch")
	ErrTokenExchangeFailed = errors.New("token exchange failed")
	ErrRefreshFailed       = errors.New("token refresh failed")
)
