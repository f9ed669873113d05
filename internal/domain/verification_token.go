package domain

import "time"

// TokenPurpose es el uso unico para el que se firmo un token.
type TokenPurpose string

const (
	PurposeEmailVerification TokenPurpose = "email_verification"
	PurposePasswordReset     TokenPurpose = "password_reset"
	PurposeLogin             TokenPurpose = "login"
)

func (p TokenPurpose) Valid() bool {
	switch p {
	case PurposeEmailVerification, PurposePasswordReset, PurposeLogin:
		return true
	}
	return false
}

// VerificationToken es una credencial de un solo uso ligada a un usuario.
type VerificationToken struct {
	ID         string       `json:"id"`
	UserID     string       `json:"user_id"`
	TokenValue string       `json:"token"`
	Purpose    TokenPurpose `json:"purpose"`
	CreatedAt  time.Time    `json:"created_at"`
	ExpiresAt  time.Time    `json:"expires_at"`
}

func (t VerificationToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
