package repository

import "errors"

var (
	ErrNotFound            = errors.New("record not found")
	ErrDuplicateEmail      = errors.New("email already registered")
	ErrTokenAlreadyPending = errors.New("verification token already pending")
)
