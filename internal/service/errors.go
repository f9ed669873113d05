package service

import "errors"

var (
	ErrValidation         = errors.New("validation error")
	ErrDuplicateEmail     = errors.New("email already registered")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrAlreadyPending     = errors.New("request already pending")
	ErrUnverified         = errors.New("email not verified")
	ErrEmailNotVerified   = errors.New("verify email first")
	ErrSamePassword       = errors.New("new password must differ from the current one")
	ErrRateLimited        = errors.New("rate limited")
)
